package handler

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/farmacia/farmacia-backend/internal/inventory/domain"
	"github.com/farmacia/farmacia-backend/internal/inventory/export"
	"github.com/farmacia/farmacia-backend/pkg/errors"
	"github.com/farmacia/farmacia-backend/pkg/httputil"
	"github.com/farmacia/farmacia-backend/pkg/logger"
)

// MovementService is the part of the inventory service the movement
// endpoints need.
type MovementService interface {
	ListMovements(ctx context.Context, filter domain.MovementFilter) ([]domain.MovementView, int, error)
	ExportMovements(ctx context.Context, filter domain.MovementFilter) ([]domain.MovementView, error)
}

// MovementHandler handles movement log endpoints
type MovementHandler struct {
	service MovementService
	logger  *logger.Logger
}

// NewMovementHandler creates a new movement handler
func NewMovementHandler(svc MovementService, log *logger.Logger) *MovementHandler {
	return &MovementHandler{
		service: svc,
		logger:  log,
	}
}

// List returns one page of movements, newest first
func (h *MovementHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, err := movementFilter(r)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}
	if filter.Page, err = httputil.QueryInt(r, "page", 1); err != nil {
		httputil.Error(w, r, err)
		return
	}
	if filter.PerPage, err = httputil.QueryInt(r, "per_page", domain.DefaultPerPage); err != nil {
		httputil.Error(w, r, err)
		return
	}
	filter.Normalize()

	movements, total, err := h.service.ListMovements(r.Context(), filter)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSONWithMeta(w, http.StatusOK, movements, httputil.NewMeta(filter.Page, filter.PerPage, int64(total)))
}

// Export serves the filtered movement log as an XLSX workbook
func (h *MovementHandler) Export(w http.ResponseWriter, r *http.Request) {
	filter, err := movementFilter(r)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	movements, err := h.service.ExportMovements(r.Context(), filter)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := export.Movements(r.Context(), &buf, movements); err != nil {
		h.logger.Error().Err(err).Int("rows", len(movements)).Msg("failed to render movements workbook")
		httputil.Error(w, r, errors.Internal("failed to generate export"))
		return
	}

	filename := fmt.Sprintf("movements-%s.xlsx", time.Now().Format("2006-01-02"))
	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", fmt.Sprintf("%d", buf.Len()))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// movementFilter reads medication_id, type, from and to. Dates are RFC 3339
// or plain YYYY-MM-DD; a plain "to" date includes the whole day.
func movementFilter(r *http.Request) (domain.MovementFilter, error) {
	q := r.URL.Query()
	filter := domain.MovementFilter{
		MedicationID: q.Get("medication_id"),
		Type:         domain.MovementType(strings.ToUpper(q.Get("type"))),
	}

	from, err := parseTime(q.Get("from"), false)
	if err != nil {
		return filter, errors.ValidationField("from", "must be an RFC 3339 timestamp or YYYY-MM-DD date")
	}
	to, err := parseTime(q.Get("to"), true)
	if err != nil {
		return filter, errors.ValidationField("to", "must be an RFC 3339 timestamp or YYYY-MM-DD date")
	}
	filter.From, filter.To = from, to

	return filter, nil
}

func parseTime(raw string, endOfDay bool) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}
