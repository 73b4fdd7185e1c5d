package domain

import (
	"testing"
	"time"

	"github.com/farmacia/farmacia-backend/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestStatus_CanTransitionTo(t *testing.T) {
	all := []RequestStatus{StatusPending, StatusApproved, StatusRejected, StatusDelivered}
	allowed := map[[2]RequestStatus]bool{
		{StatusPending, StatusApproved}:   true,
		{StatusPending, StatusRejected}:   true,
		{StatusApproved, StatusDelivered}: true,
	}

	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[[2]RequestStatus{from, to}], from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}

	assert.True(t, StatusRejected.IsTerminal())
	assert.True(t, StatusDelivered.IsTerminal())
	assert.False(t, StatusPending.IsTerminal())
}

func TestNewRequest(t *testing.T) {
	tests := []struct {
		name   string
		items  []RequestItem
		fields []string
	}{
		{"valid", []RequestItem{{MedicationID: "m1", Quantity: 2}}, nil},
		{"no items", nil, []string{"items"}},
		{"zero quantity", []RequestItem{{MedicationID: "m1", Quantity: 0}}, []string{"items[0].quantity"}},
		{"missing medication", []RequestItem{{Quantity: 1}, {MedicationID: "m2", Quantity: -3}}, []string{"items[0].medication_id", "items[1].quantity"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := NewRequest("user-1", tt.items, nil)
			if tt.fields == nil {
				require.NoError(t, err)
				assert.Equal(t, StatusPending, req.Status)
				assert.Equal(t, tt.items, req.Items)
				return
			}
			var appErr *errors.AppError
			require.True(t, errors.As(err, &appErr))
			assert.True(t, errors.IsValidation(err))
			for _, f := range tt.fields {
				assert.Contains(t, appErr.Details, f)
			}
		})
	}
}

func TestRequest_Decide(t *testing.T) {
	tests := []struct {
		name    string
		from    RequestStatus
		to      RequestStatus
		wantErr bool
	}{
		{"approve pending", StatusPending, StatusApproved, false},
		{"reject pending", StatusPending, StatusRejected, false},
		{"deliver through decide", StatusApproved, StatusDelivered, true},
		{"pending target", StatusPending, StatusPending, true},
		{"approve approved", StatusApproved, StatusApproved, true},
		{"reject approved", StatusApproved, StatusRejected, true},
		{"approve rejected", StatusRejected, StatusApproved, true},
		{"reject delivered", StatusDelivered, StatusRejected, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := &Request{Status: tt.from}
			err := req.Decide(tt.to)
			if tt.wantErr {
				assert.True(t, errors.IsValidation(err))
				assert.Equal(t, tt.from, req.Status)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.to, req.Status)
		})
	}
}

func TestNewMovement(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Minute)
	code := "L1"

	m, err := NewMovement(MovementOutbound, "med-1", &code, 4, "user-1", nil, now)
	require.NoError(t, err)
	assert.Equal(t, now, m.OccurredAt)

	m, err = NewMovement(MovementInbound, "med-1", nil, 4, "user-1", &past, now)
	require.NoError(t, err)
	assert.Equal(t, past, m.OccurredAt)

	_, err = NewMovement(MovementInbound, "med-1", nil, 4, "user-1", &future, now)
	assert.True(t, errors.IsValidation(err))

	_, err = NewMovement(MovementInbound, "med-1", nil, 0, "user-1", nil, now)
	assert.True(t, errors.IsValidation(err))

	_, err = NewMovement("SIDEWAYS", "med-1", nil, 1, "user-1", nil, now)
	assert.True(t, errors.IsValidation(err))
}

func TestMovementForDelta(t *testing.T) {
	typ, qty, ok := MovementForDelta(5)
	assert.Equal(t, MovementInbound, typ)
	assert.Equal(t, 5, qty)
	assert.True(t, ok)

	typ, qty, ok = MovementForDelta(-3)
	assert.Equal(t, MovementOutbound, typ)
	assert.Equal(t, 3, qty)
	assert.True(t, ok)

	_, _, ok = MovementForDelta(0)
	assert.False(t, ok)
}

func TestMovementFilter_Normalize(t *testing.T) {
	f := MovementFilter{}
	f.Normalize()
	assert.Equal(t, 1, f.Page)
	assert.Equal(t, DefaultPerPage, f.PerPage)
	assert.Zero(t, f.Offset())

	f = MovementFilter{Page: 3, PerPage: 10_000}
	f.Normalize()
	assert.Equal(t, MaxPerPage, f.PerPage)
	assert.Equal(t, 2*MaxPerPage, f.Offset())
}

func TestDelivery_MatchesKey(t *testing.T) {
	key := "abc"
	d := &Delivery{IdempotencyKey: &key}

	assert.True(t, d.MatchesKey("abc"))
	assert.False(t, d.MatchesKey("other"))
	assert.False(t, d.MatchesKey(""))
	assert.False(t, (&Delivery{}).MatchesKey("abc"))
}
