package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/farmacia/farmacia-backend/pkg/errors"
)

// Batch is a dated quantity of one medication. Its code is unique within the
// medication; a batch at quantity 0 stays listed as history.
type Batch struct {
	Code       string    `json:"code" db:"code"`
	Quantity   int       `json:"quantity" db:"quantity"`
	IngestedAt time.Time `json:"ingested_at" db:"ingested_at"`
	ExpiresAt  time.Time `json:"expires_at" db:"expires_at"`
}

// Validate checks the batch's own fields.
func (b Batch) Validate() error {
	details := map[string]string{}
	if strings.TrimSpace(b.Code) == "" {
		details["code"] = "is required"
	}
	if b.Quantity < 0 {
		details["quantity"] = "must not be negative"
	}
	if b.IngestedAt.IsZero() {
		details["ingested_at"] = "is required"
	}
	if b.ExpiresAt.IsZero() {
		details["expires_at"] = "is required"
	} else if !b.IngestedAt.IsZero() && !b.ExpiresAt.After(b.IngestedAt) {
		details["expires_at"] = "must be after ingested_at"
	}
	if len(details) > 0 {
		return errors.Validation(details)
	}
	return nil
}

// Medication is the stock unit. Batches are owned exclusively by their
// medication and StockTotal is always derived from them.
type Medication struct {
	ID                string    `json:"id" db:"id"`
	Name              string    `json:"name" db:"name"`
	SupplierID        string    `json:"supplier_id" db:"supplier_id"`
	SupplierName      *string   `json:"supplier_name,omitempty" db:"supplier_name"`
	Batches           []Batch   `json:"batches" db:"-"`
	StockTotal        int       `json:"stock_total" db:"stock_total"`
	LowStockThreshold int       `json:"low_stock_threshold" db:"low_stock_threshold"`
	IsActive          bool      `json:"is_active" db:"is_active"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
}

// RecomputeStock sets StockTotal to the sum of batch quantities.
func (m *Medication) RecomputeStock() {
	total := 0
	for _, b := range m.Batches {
		total += b.Quantity
	}
	m.StockTotal = total
}

// IsLowStock reports whether stock is below the threshold.
func (m *Medication) IsLowStock() bool {
	return m.StockTotal < m.LowStockThreshold
}

func (m *Medication) batchIndex(code string) int {
	for i := range m.Batches {
		if m.Batches[i].Code == code {
			return i
		}
	}
	return -1
}

// Batch returns the batch with the given code.
func (m *Medication) Batch(code string) (Batch, bool) {
	if i := m.batchIndex(code); i >= 0 {
		return m.Batches[i], true
	}
	return Batch{}, false
}

// AddBatch merges b into the batch list. A batch whose code already exists
// has its quantity increased and keeps its original dates; otherwise b is
// appended. The returned delta is the quantity added.
func (m *Medication) AddBatch(b Batch) (delta int, err error) {
	if err := b.Validate(); err != nil {
		return 0, err
	}

	if i := m.batchIndex(b.Code); i >= 0 {
		m.Batches[i].Quantity += b.Quantity
	} else {
		m.Batches = append(m.Batches, b)
	}

	m.RecomputeStock()
	return b.Quantity, nil
}

// BatchPatch changes selected fields of an existing batch.
type BatchPatch struct {
	Quantity   *int
	IngestedAt *time.Time
	ExpiresAt  *time.Time
}

// ModifyBatch applies patch to the batch with the given code and returns the
// signed quantity delta (new minus old).
func (m *Medication) ModifyBatch(code string, patch BatchPatch) (delta int, err error) {
	i := m.batchIndex(code)
	if i < 0 {
		return 0, errors.NotFound("batch")
	}

	updated := m.Batches[i]
	if patch.Quantity != nil {
		updated.Quantity = *patch.Quantity
	}
	if patch.IngestedAt != nil {
		updated.IngestedAt = *patch.IngestedAt
	}
	if patch.ExpiresAt != nil {
		updated.ExpiresAt = *patch.ExpiresAt
	}
	if err := updated.Validate(); err != nil {
		return 0, err
	}

	delta = updated.Quantity - m.Batches[i].Quantity
	m.Batches[i] = updated
	m.RecomputeStock()
	return delta, nil
}

// RemoveBatch deletes the batch and returns the quantity it still held.
func (m *Medication) RemoveBatch(code string) (removed int, err error) {
	i := m.batchIndex(code)
	if i < 0 {
		return 0, errors.NotFound("batch")
	}

	removed = m.Batches[i].Quantity
	m.Batches = append(m.Batches[:i], m.Batches[i+1:]...)
	m.RecomputeStock()
	return removed, nil
}

// Withdraw takes qty units for a delivery. The remaining stock must stay at
// or above the low-stock threshold, and the whole quantity must come from
// the first batch, in stored order, that holds at least qty. Quantities are
// never split across batches. On error the medication is unchanged.
func (m *Medication) Withdraw(qty int) (batchCode string, err error) {
	if qty <= 0 {
		return "", errors.ValidationField("quantity", "must be greater than 0")
	}
	if !m.IsActive {
		return "", errors.BusinessRule(fmt.Sprintf("medication %q is inactive", m.Name))
	}

	if remaining := m.StockTotal - qty; remaining < m.LowStockThreshold {
		return "", errors.BusinessRule(fmt.Sprintf(
			"delivering %d of %q would leave %d units, below its low-stock threshold of %d",
			qty, m.Name, remaining, m.LowStockThreshold,
		)).WithDetails(map[string]string{
			"medication_id":       m.ID,
			"low_stock_threshold": fmt.Sprint(m.LowStockThreshold),
		})
	}

	for i := range m.Batches {
		if m.Batches[i].Quantity >= qty {
			m.Batches[i].Quantity -= qty
			m.RecomputeStock()
			return m.Batches[i].Code, nil
		}
	}

	return "", errors.BusinessRule(fmt.Sprintf("insufficient stock: no single batch of %q holds %d units", m.Name, qty)).
		WithDetails(map[string]string{"medication_id": m.ID})
}

// ExpiringBatches returns batches with stock whose expiry falls in [from, until].
func (m *Medication) ExpiringBatches(from, until time.Time) []Batch {
	var out []Batch
	for _, b := range m.Batches {
		if b.Quantity > 0 && !b.ExpiresAt.Before(from) && !b.ExpiresAt.After(until) {
			out = append(out, b)
		}
	}
	return out
}

// Supplier is read-only here; suppliers are managed elsewhere.
type Supplier struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
