package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/farmacia/farmacia-backend/internal/inventory/domain"
	"github.com/farmacia/farmacia-backend/internal/inventory/service"
	"github.com/farmacia/farmacia-backend/pkg/actor"
	"github.com/farmacia/farmacia-backend/pkg/httputil"
	"github.com/farmacia/farmacia-backend/pkg/logger"
	"github.com/go-chi/chi/v5"
)

// MedicationService is the part of the inventory service the medication
// endpoints need.
type MedicationService interface {
	CreateMedication(ctx context.Context, a *actor.Actor, in service.CreateMedicationInput) (*domain.Medication, error)
	AddBatch(ctx context.Context, a *actor.Actor, medicationID string, b domain.Batch) (*domain.Medication, error)
	UpdateMedication(ctx context.Context, a *actor.Actor, id string, in service.UpdateMedicationInput) (*domain.Medication, error)
	DeactivateMedication(ctx context.Context, a *actor.Actor, id string) (*domain.Medication, error)
	GetMedication(ctx context.Context, id string) (*domain.Medication, error)
	ListMedications(ctx context.Context, includeInactive bool) ([]*domain.Medication, error)
	ListLowStock(ctx context.Context) ([]*domain.Medication, error)
	ListExpiring(ctx context.Context, days int) ([]service.ExpiringMedication, error)
}

// MedicationHandler handles medication and batch endpoints
type MedicationHandler struct {
	service      MedicationService
	expiringDays int
	logger       *logger.Logger
}

// NewMedicationHandler creates a new medication handler. expiringDays is the
// window used when /medications/expiring is called without ?days.
func NewMedicationHandler(svc MedicationService, expiringDays int, log *logger.Logger) *MedicationHandler {
	if expiringDays <= 0 {
		expiringDays = 30
	}
	return &MedicationHandler{
		service:      svc,
		expiringDays: expiringDays,
		logger:       log,
	}
}

type batchInput struct {
	Code       string    `json:"code" validate:"required,max=64"`
	Quantity   int       `json:"quantity" validate:"min=0"`
	IngestedAt time.Time `json:"ingested_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

func (b batchInput) toDomain() domain.Batch {
	return domain.Batch{
		Code:       b.Code,
		Quantity:   b.Quantity,
		IngestedAt: b.IngestedAt,
		ExpiresAt:  b.ExpiresAt,
	}
}

func toBatches(in []batchInput) []domain.Batch {
	out := make([]domain.Batch, len(in))
	for i, b := range in {
		out[i] = b.toDomain()
	}
	return out
}

type createMedicationRequest struct {
	Name              string       `json:"name" validate:"required,max=200"`
	SupplierID        string       `json:"supplier_id" validate:"required,uuid"`
	LowStockThreshold *int         `json:"low_stock_threshold" validate:"omitempty,min=0"`
	Batches           []batchInput `json:"batches" validate:"dive"`
}

type batchPatchInput struct {
	Code       string     `json:"code" validate:"required"`
	Quantity   *int       `json:"quantity" validate:"omitempty,min=0"`
	IngestedAt *time.Time `json:"ingested_at"`
	ExpiresAt  *time.Time `json:"expires_at"`
}

type updateMedicationRequest struct {
	Name              *string           `json:"name" validate:"omitempty,min=1,max=200"`
	SupplierID        *string           `json:"supplier_id" validate:"omitempty,uuid"`
	LowStockThreshold *int              `json:"low_stock_threshold" validate:"omitempty,min=0"`
	RemoveBatches     []string          `json:"remove_batches" validate:"dive,required"`
	ModifyBatches     []batchPatchInput `json:"modify_batches" validate:"dive"`
	AddBatches        []batchInput      `json:"add_batches" validate:"dive"`
}

// List returns medications sorted by name. ?include_inactive=true also
// returns deactivated ones.
func (h *MedicationHandler) List(w http.ResponseWriter, r *http.Request) {
	includeInactive, _ := strconv.ParseBool(r.URL.Query().Get("include_inactive"))

	meds, err := h.service.ListMedications(r.Context(), includeInactive)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, meds)
}

// LowStock returns active medications under their threshold
func (h *MedicationHandler) LowStock(w http.ResponseWriter, r *http.Request) {
	meds, err := h.service.ListLowStock(r.Context())
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, meds)
}

// Expiring returns medications with stock expiring within ?days
func (h *MedicationHandler) Expiring(w http.ResponseWriter, r *http.Request) {
	days, err := httputil.QueryInt(r, "days", h.expiringDays)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	meds, err := h.service.ListExpiring(r.Context(), days)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, meds)
}

// Get gets a medication by ID
func (h *MedicationHandler) Get(w http.ResponseWriter, r *http.Request) {
	med, err := h.service.GetMedication(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, med)
}

// Create creates a medication with its opening batches
func (h *MedicationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createMedicationRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, r, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, r, err)
		return
	}

	med, err := h.service.CreateMedication(r.Context(), actor.FromContext(r.Context()), service.CreateMedicationInput{
		Name:              req.Name,
		SupplierID:        req.SupplierID,
		LowStockThreshold: req.LowStockThreshold,
		Batches:           toBatches(req.Batches),
	})
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.Created(w, med)
}

// AddBatch adds a batch, merging into an existing batch with the same code
func (h *MedicationHandler) AddBatch(w http.ResponseWriter, r *http.Request) {
	var req batchInput
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, r, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, r, err)
		return
	}

	med, err := h.service.AddBatch(r.Context(), actor.FromContext(r.Context()), chi.URLParam(r, "id"), req.toDomain())
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.Created(w, med)
}

// Update patches a medication and its batches
func (h *MedicationHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateMedicationRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, r, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, r, err)
		return
	}

	in := service.UpdateMedicationInput{
		Name:              req.Name,
		SupplierID:        req.SupplierID,
		LowStockThreshold: req.LowStockThreshold,
		RemoveBatches:     req.RemoveBatches,
		AddBatches:        toBatches(req.AddBatches),
	}
	for _, p := range req.ModifyBatches {
		in.ModifyBatches = append(in.ModifyBatches, service.BatchModification{
			Code: p.Code,
			BatchPatch: domain.BatchPatch{
				Quantity:   p.Quantity,
				IngestedAt: p.IngestedAt,
				ExpiresAt:  p.ExpiresAt,
			},
		})
	}

	med, err := h.service.UpdateMedication(r.Context(), actor.FromContext(r.Context()), chi.URLParam(r, "id"), in)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, med)
}

// Deactivate deactivates a medication and writes off its remaining stock
func (h *MedicationHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	med, err := h.service.DeactivateMedication(r.Context(), actor.FromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, med)
}
