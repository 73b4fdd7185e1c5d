package handler

import (
	"github.com/farmacia/farmacia-backend/pkg/httputil"
	"github.com/farmacia/farmacia-backend/pkg/permissions"
	"github.com/go-chi/chi/v5"
)

// Handlers groups the inventory endpoints for mounting.
type Handlers struct {
	Medications *MedicationHandler
	Requests    *RequestHandler
	Movements   *MovementHandler
}

// Mount registers every endpoint on r. Callers mount r under /api/v1 after
// httputil.ActorMiddleware so the permission checks can see the actor.
func (h Handlers) Mount(r chi.Router) {
	require := httputil.RequirePermission

	r.Route("/medications", func(r chi.Router) {
		r.With(require(permissions.InventoryRead)).Group(func(r chi.Router) {
			r.Get("/", h.Medications.List)
			r.Get("/low-stock", h.Medications.LowStock)
			r.Get("/expiring", h.Medications.Expiring)
			r.Get("/{id}", h.Medications.Get)
		})
		r.With(require(permissions.InventoryWrite)).Group(func(r chi.Router) {
			r.Post("/", h.Medications.Create)
			r.Post("/{id}/batches", h.Medications.AddBatch)
			r.Put("/{id}", h.Medications.Update)
			r.Delete("/{id}", h.Medications.Deactivate)
		})
	})

	r.Route("/requests", func(r chi.Router) {
		r.With(require(permissions.RequestsCreate)).Post("/", h.Requests.Create)
		r.With(require(permissions.RequestsRead)).Group(func(r chi.Router) {
			r.Get("/", h.Requests.List)
			r.Get("/{id}", h.Requests.Get)
			r.Get("/{id}/delivery", h.Requests.Delivery)
		})
		r.With(require(permissions.RequestsDecide)).Patch("/{id}/status", h.Requests.SetStatus)
		r.With(require(permissions.RequestsDeliver)).Group(func(r chi.Router) {
			r.Post("/{id}/deliver", h.Requests.Deliver)
			r.Post("/{id}/approve-and-deliver", h.Requests.ApproveAndDeliver)
		})
	})

	r.Route("/movements", func(r chi.Router) {
		r.With(require(permissions.MovementsRead)).Get("/", h.Movements.List)
		r.With(require(permissions.MovementsExport)).Get("/export", h.Movements.Export)
	})
}
