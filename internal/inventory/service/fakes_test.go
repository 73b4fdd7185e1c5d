package service_test

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/farmacia/farmacia-backend/internal/inventory/domain"
	"github.com/farmacia/farmacia-backend/internal/inventory/service"
	"github.com/farmacia/farmacia-backend/pkg/cache"
	"github.com/farmacia/farmacia-backend/pkg/errors"
	"github.com/google/uuid"
)

// memStore is an in-memory implementation of every store. WithinTx
// snapshots the whole state and restores it when fn fails, which is what
// the PostgreSQL transaction gives the real repositories.
type memStore struct {
	mu          sync.Mutex
	suppliers   map[string]domain.Supplier
	medications map[string]domain.Medication
	movements   []domain.Movement
	requests    map[string]domain.Request
	deliveries  map[string]domain.Delivery

	failMovementCreate bool
	// lockedMedications lists GetForUpdate calls in the order they arrived.
	lockedMedications []string
}

func newMemStore() *memStore {
	return &memStore{
		suppliers:   map[string]domain.Supplier{},
		medications: map[string]domain.Medication{},
		requests:    map[string]domain.Request{},
		deliveries:  map[string]domain.Delivery{},
	}
}

func (s *memStore) stores() service.Stores {
	return service.Stores{
		Medications: medicationStore{s},
		Suppliers:   supplierStore{s},
		Movements:   movementStore{s},
		Requests:    requestStore{s},
		Deliveries:  deliveryStore{s},
	}
}

type snapshot struct {
	medications map[string]domain.Medication
	movements   []domain.Movement
	requests    map[string]domain.Request
	deliveries  map[string]domain.Delivery
}

func (s *memStore) WithinTx(ctx context.Context, fn func(context.Context) error) error {
	s.mu.Lock()
	snap := snapshot{
		medications: map[string]domain.Medication{},
		movements:   append([]domain.Movement(nil), s.movements...),
		requests:    map[string]domain.Request{},
		deliveries:  map[string]domain.Delivery{},
	}
	for k, v := range s.medications {
		snap.medications[k] = cloneMedication(v)
	}
	for k, v := range s.requests {
		snap.requests[k] = v
	}
	for k, v := range s.deliveries {
		snap.deliveries[k] = v
	}
	s.mu.Unlock()

	if err := fn(ctx); err != nil {
		s.mu.Lock()
		s.medications = snap.medications
		s.movements = snap.movements
		s.requests = snap.requests
		s.deliveries = snap.deliveries
		s.mu.Unlock()
		return err
	}
	return nil
}

func cloneMedication(m domain.Medication) domain.Medication {
	m.Batches = append([]domain.Batch{}, m.Batches...)
	return m
}

func (s *memStore) addSupplier(name string) domain.Supplier {
	sup := domain.Supplier{ID: uuid.New().String(), Name: name, CreatedAt: time.Now()}
	s.suppliers[sup.ID] = sup
	return sup
}

func (s *memStore) putMedication(m domain.Medication) *domain.Medication {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	m.RecomputeStock()
	s.medications[m.ID] = cloneMedication(m)
	return &m
}

func (s *memStore) putRequest(r domain.Request) *domain.Request {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	s.requests[r.ID] = r
	return &r
}

func (s *memStore) medication(id string) domain.Medication {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneMedication(s.medications[id])
}

func (s *memStore) allMovements() []domain.Movement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Movement(nil), s.movements...)
}

type medicationStore struct{ s *memStore }

func (r medicationStore) Create(_ context.Context, m *domain.Medication) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.suppliers[m.SupplierID]; !ok {
		return errors.NotFound("supplier")
	}
	m.ID = uuid.New().String()
	m.CreatedAt, m.UpdatedAt = time.Now(), time.Now()
	r.s.medications[m.ID] = cloneMedication(*m)
	return nil
}

func (r medicationStore) GetByID(_ context.Context, id string) (*domain.Medication, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.medications[id]
	if !ok {
		return nil, errors.NotFound("medication")
	}
	c := cloneMedication(m)
	return &c, nil
}

func (r medicationStore) GetForUpdate(ctx context.Context, id string) (*domain.Medication, error) {
	r.s.mu.Lock()
	r.s.lockedMedications = append(r.s.lockedMedications, id)
	r.s.mu.Unlock()
	return r.GetByID(ctx, id)
}

func (r medicationStore) Update(_ context.Context, m *domain.Medication) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.medications[m.ID]; !ok {
		return errors.NotFound("medication")
	}
	for _, b := range m.Batches {
		if b.Quantity < 0 {
			return errors.ValidationField("quantity", "must not be negative")
		}
	}
	m.UpdatedAt = time.Now()
	r.s.medications[m.ID] = cloneMedication(*m)
	return nil
}

func (r medicationStore) list(keep func(domain.Medication) bool) []*domain.Medication {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []*domain.Medication{}
	for _, m := range r.s.medications {
		if keep(m) {
			c := cloneMedication(m)
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r medicationStore) List(_ context.Context, includeInactive bool) ([]*domain.Medication, error) {
	return r.list(func(m domain.Medication) bool { return includeInactive || m.IsActive }), nil
}

func (r medicationStore) ListLowStock(context.Context) ([]*domain.Medication, error) {
	return r.list(func(m domain.Medication) bool { return m.IsActive && m.IsLowStock() }), nil
}

func (r medicationStore) ListExpiring(_ context.Context, from, until time.Time) ([]*domain.Medication, error) {
	return r.list(func(m domain.Medication) bool {
		return m.IsActive && len(m.ExpiringBatches(from, until)) > 0
	}), nil
}

type supplierStore struct{ s *memStore }

func (r supplierStore) GetByID(_ context.Context, id string) (*domain.Supplier, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sup, ok := r.s.suppliers[id]
	if !ok {
		return nil, errors.NotFound("supplier")
	}
	return &sup, nil
}

type movementStore struct{ s *memStore }

func (r movementStore) Create(_ context.Context, m *domain.Movement) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failMovementCreate {
		return errors.Internal("movement store unavailable")
	}
	m.ID = uuid.New().String()
	m.CreatedAt = time.Now()
	r.s.movements = append(r.s.movements, *m)
	return nil
}

func (r movementStore) filtered(filter domain.MovementFilter) []domain.MovementView {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []domain.MovementView{}
	for i := len(r.s.movements) - 1; i >= 0; i-- {
		m := r.s.movements[i]
		if filter.MedicationID != "" && m.MedicationID != filter.MedicationID {
			continue
		}
		if filter.Type != "" && m.Type != filter.Type {
			continue
		}
		out = append(out, domain.MovementView{Movement: m, MedicationName: r.s.medications[m.MedicationID].Name})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.After(out[j].OccurredAt) })
	return out
}

func (r movementStore) List(_ context.Context, filter domain.MovementFilter) ([]domain.MovementView, int, error) {
	all := r.filtered(filter)
	start := filter.Offset()
	if start > len(all) {
		start = len(all)
	}
	end := start + filter.PerPage
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], len(all), nil
}

func (r movementStore) ListForExport(_ context.Context, filter domain.MovementFilter) ([]domain.MovementView, error) {
	return r.filtered(filter), nil
}

type requestStore struct{ s *memStore }

func (r requestStore) Create(_ context.Context, req *domain.Request) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	req.ID = uuid.New().String()
	req.CreatedAt, req.UpdatedAt = time.Now(), time.Now()
	r.s.requests[req.ID] = *req
	return nil
}

func (r requestStore) GetByID(_ context.Context, id string) (*domain.Request, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	req, ok := r.s.requests[id]
	if !ok {
		return nil, errors.NotFound("request")
	}
	return &req, nil
}

func (r requestStore) GetForUpdate(ctx context.Context, id string) (*domain.Request, error) {
	return r.GetByID(ctx, id)
}

func (r requestStore) UpdateStatus(_ context.Context, req *domain.Request) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.requests[req.ID]
	if !ok {
		return errors.NotFound("request")
	}
	stored.Status = req.Status
	stored.UpdatedAt = time.Now()
	r.s.requests[req.ID] = stored
	return nil
}

func (r requestStore) List(_ context.Context, filter domain.RequestFilter) ([]*domain.Request, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []*domain.Request{}
	for _, req := range r.s.requests {
		if filter.RequesterID != "" && req.RequesterID != filter.RequesterID {
			continue
		}
		if filter.Status != "" && req.Status != filter.Status {
			continue
		}
		c := req
		out = append(out, &c)
	}
	return out, nil
}

type deliveryStore struct{ s *memStore }

func (r deliveryStore) Create(_ context.Context, d *domain.Delivery) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.deliveries {
		if existing.RequestID == d.RequestID {
			return errors.Conflict("request already has a delivery")
		}
	}
	d.ID = uuid.New().String()
	r.s.deliveries[d.ID] = *d
	return nil
}

func (r deliveryStore) GetByID(_ context.Context, id string) (*domain.Delivery, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.deliveries[id]
	if !ok {
		return nil, errors.NotFound("delivery")
	}
	return &d, nil
}

func (r deliveryStore) GetByRequestID(_ context.Context, requestID string) (*domain.Delivery, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, d := range r.s.deliveries {
		if d.RequestID == requestID {
			c := d
			return &c, nil
		}
	}
	return nil, errors.NotFound("delivery")
}

// recordingPublisher captures published events by name.
type recordingPublisher struct {
	mu            sync.Mutex
	events        []string
	statusChanges []domain.Request
}

func (p *recordingPublisher) add(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, name)
}

func (p *recordingPublisher) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

func (p *recordingPublisher) MovementRecorded(context.Context, *domain.Movement) {
	p.add("movement")
}
func (p *recordingPublisher) MedicationCreated(context.Context, *domain.Medication) {
	p.add("medication.created")
}
func (p *recordingPublisher) MedicationDeactivated(context.Context, *domain.Medication, int, string) {
	p.add("medication.deactivated")
}
func (p *recordingPublisher) RequestCreated(context.Context, *domain.Request) {
	p.add("request.created")
}
func (p *recordingPublisher) RequestStatusChanged(_ context.Context, req *domain.Request, _ domain.RequestStatus, _ string) {
	p.mu.Lock()
	p.statusChanges = append(p.statusChanges, *req)
	p.mu.Unlock()
	p.add("request.status")
}

func (p *recordingPublisher) requestStatusChanges() []domain.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.Request(nil), p.statusChanges...)
}
func (p *recordingPublisher) RequestDelivered(context.Context, *domain.Delivery) {
	p.add("request.delivered")
}

// memGuard is an in-process FulfillmentGuard.
type memGuard struct {
	mu     sync.Mutex
	held   map[string]bool
	values map[string]string
}

func newMemGuard() *memGuard {
	return &memGuard{held: map[string]bool{}, values: map[string]string{}}
}

func (g *memGuard) Lock(_ context.Context, name string) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held[name] {
		return nil, cache.ErrLocked
	}
	g.held[name] = true
	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		delete(g.held, name)
	}, nil
}

func (g *memGuard) Get(_ context.Context, key string) (string, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	v, ok := g.values[key]
	return v, ok, nil
}

func (g *memGuard) Set(_ context.Context, key, value string, _ time.Duration) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.values[key] = value
	return nil
}
