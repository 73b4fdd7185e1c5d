package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/farmacia/farmacia-backend/internal/inventory/domain"
	"github.com/farmacia/farmacia-backend/pkg/actor"
	"github.com/farmacia/farmacia-backend/pkg/httputil"
	"github.com/farmacia/farmacia-backend/pkg/logger"
	"github.com/go-chi/chi/v5"
)

// HeaderIdempotencyKey lets a client retry a delivery safely.
const HeaderIdempotencyKey = "Idempotency-Key"

// RequestService is the part of the inventory service the request and
// delivery endpoints need.
type RequestService interface {
	CreateRequest(ctx context.Context, a *actor.Actor, items []domain.RequestItem, notes *string) (*domain.Request, error)
	SetRequestStatus(ctx context.Context, a *actor.Actor, id string, status domain.RequestStatus) (*domain.Request, error)
	GetRequest(ctx context.Context, id string) (*domain.Request, error)
	ListRequests(ctx context.Context, filter domain.RequestFilter) ([]*domain.Request, error)
	FulfillRequest(ctx context.Context, a *actor.Actor, requestID, idempotencyKey string) (*domain.Delivery, error)
	ApproveAndDeliver(ctx context.Context, a *actor.Actor, requestID, idempotencyKey string) (*domain.Delivery, error)
	GetDeliveryByRequest(ctx context.Context, requestID string) (*domain.Delivery, error)
}

// RequestHandler handles stock request endpoints
type RequestHandler struct {
	service RequestService
	logger  *logger.Logger
}

// NewRequestHandler creates a new request handler
func NewRequestHandler(svc RequestService, log *logger.Logger) *RequestHandler {
	return &RequestHandler{
		service: svc,
		logger:  log,
	}
}

type requestItemInput struct {
	MedicationID string `json:"medication_id" validate:"required,uuid"`
	Quantity     int    `json:"quantity" validate:"min=1"`
}

type createRequestRequest struct {
	Items []requestItemInput `json:"items" validate:"required,min=1,dive"`
	Notes *string            `json:"notes" validate:"omitempty,max=1000"`
}

type setStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

// Create opens a PENDING request for the calling actor
func (h *RequestHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRequestRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, r, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, r, err)
		return
	}

	items := make([]domain.RequestItem, len(req.Items))
	for i, it := range req.Items {
		items[i] = domain.RequestItem{MedicationID: it.MedicationID, Quantity: it.Quantity}
	}

	created, err := h.service.CreateRequest(r.Context(), actor.FromContext(r.Context()), items, req.Notes)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.Created(w, created)
}

// List lists requests, optionally filtered by requester and status
func (h *RequestHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.RequestFilter{
		RequesterID: q.Get("requester_id"),
		Status:      domain.RequestStatus(strings.ToUpper(q.Get("status"))),
	}

	reqs, err := h.service.ListRequests(r.Context(), filter)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, reqs)
}

// Get gets a request by ID
func (h *RequestHandler) Get(w http.ResponseWriter, r *http.Request) {
	req, err := h.service.GetRequest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, req)
}

// SetStatus approves or rejects a pending request
func (h *RequestHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	var body setStatusRequest
	if err := httputil.DecodeJSON(r, &body); err != nil {
		httputil.Error(w, r, err)
		return
	}
	if err := httputil.Validate(body); err != nil {
		httputil.Error(w, r, err)
		return
	}

	status := domain.RequestStatus(strings.ToUpper(strings.TrimSpace(body.Status)))
	updated, err := h.service.SetRequestStatus(r.Context(), actor.FromContext(r.Context()), chi.URLParam(r, "id"), status)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, updated)
}

// Deliver fulfils an approved request
func (h *RequestHandler) Deliver(w http.ResponseWriter, r *http.Request) {
	delivery, err := h.service.FulfillRequest(r.Context(), actor.FromContext(r.Context()), chi.URLParam(r, "id"), idempotencyKey(r))
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, delivery)
}

// ApproveAndDeliver approves a pending request and fulfils it. A failed
// fulfilment leaves the request APPROVED, so the call can be repeated.
func (h *RequestHandler) ApproveAndDeliver(w http.ResponseWriter, r *http.Request) {
	delivery, err := h.service.ApproveAndDeliver(r.Context(), actor.FromContext(r.Context()), chi.URLParam(r, "id"), idempotencyKey(r))
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, delivery)
}

// Delivery returns the delivery recorded for a request
func (h *RequestHandler) Delivery(w http.ResponseWriter, r *http.Request) {
	delivery, err := h.service.GetDeliveryByRequest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, delivery)
}

func idempotencyKey(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
}
