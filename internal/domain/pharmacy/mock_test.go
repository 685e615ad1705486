package pharmacy

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/emr/emr/internal/platform/apperr"
)

// store holds every table the mocks share so the fake transaction can
// snapshot and restore them together.
type store struct {
	mu            sync.Mutex
	drugs         map[uuid.UUID]Drug
	stock         map[uuid.UUID]Stock
	dispensations map[uuid.UUID]Dispensation
	credits       map[uuid.UUID]decimal.Decimal
}

func newStore() *store {
	return &store{
		drugs:         make(map[uuid.UUID]Drug),
		stock:         make(map[uuid.UUID]Stock),
		dispensations: make(map[uuid.UUID]Dispensation),
		credits:       make(map[uuid.UUID]decimal.Decimal),
	}
}

func (s *store) snapshot() *store {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := newStore()
	for k, v := range s.drugs {
		cp.drugs[k] = v
	}
	for k, v := range s.stock {
		cp.stock[k] = v
	}
	for k, v := range s.dispensations {
		cp.dispensations[k] = v
	}
	for k, v := range s.credits {
		cp.credits[k] = v
	}
	return cp
}

func (s *store) restore(from *store) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drugs = from.drugs
	s.stock = from.stock
	s.dispensations = from.dispensations
	s.credits = from.credits
}

// rollbackTx restores the store when fn fails, the way a database
// transaction would.
type rollbackTx struct {
	st *store
	mu sync.Mutex
}

func (t *rollbackTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap := t.st.snapshot()
	if err := fn(ctx); err != nil {
		t.st.restore(snap)
		return err
	}
	return nil
}

// -- Mock Repositories --

type mockDrugRepo struct{ st *store }

func (m *mockDrugRepo) withStock(d Drug) *Drug {
	if s, ok := m.st.stock[d.ID]; ok {
		d.TotalStock = s.Quantity
	}
	return &d
}

func (m *mockDrugRepo) Create(_ context.Context, d *Drug) error {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	for _, existing := range m.st.drugs {
		if strings.EqualFold(existing.Name, d.Name) {
			return apperr.ErrDuplicate
		}
	}
	d.ID = uuid.New()
	d.CreatedAt = time.Now()
	d.UpdatedAt = d.CreatedAt
	m.st.drugs[d.ID] = *d
	return nil
}

func (m *mockDrugRepo) GetByID(_ context.Context, id uuid.UUID) (*Drug, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	d, ok := m.st.drugs[id]
	if !ok {
		return nil, apperr.NotFound("drug", id)
	}
	return m.withStock(d), nil
}

func (m *mockDrugRepo) GetMany(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]*Drug, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	out := make(map[uuid.UUID]*Drug)
	for _, id := range ids {
		if d, ok := m.st.drugs[id]; ok {
			out[id] = m.withStock(d)
		}
	}
	return out, nil
}

func (m *mockDrugRepo) Update(_ context.Context, d *Drug) error {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	if _, ok := m.st.drugs[d.ID]; !ok {
		return apperr.NotFound("drug", d.ID)
	}
	for id, existing := range m.st.drugs {
		if id != d.ID && strings.EqualFold(existing.Name, d.Name) {
			return apperr.ErrDuplicate
		}
	}
	d.UpdatedAt = time.Now()
	m.st.drugs[d.ID] = *d
	return nil
}

func (m *mockDrugRepo) Delete(_ context.Context, id uuid.UUID) error {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	if _, ok := m.st.drugs[id]; !ok {
		return apperr.NotFound("drug", id)
	}
	delete(m.st.drugs, id)
	delete(m.st.stock, id)
	return nil
}

func (m *mockDrugRepo) List(_ context.Context, f DrugFilter, limit, offset int) ([]*Drug, int, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	var all []*Drug
	for _, d := range m.st.drugs {
		if f.Name != "" && !strings.Contains(strings.ToLower(d.Name), strings.ToLower(f.Name)) {
			continue
		}
		if f.ActiveOnly && !d.IsActive {
			continue
		}
		all = append(all, m.withStock(d))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	total := len(all)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

type mockStockRepo struct{ st *store }

func (m *mockStockRepo) Create(_ context.Context, drugID uuid.UUID, at time.Time) (*Stock, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	s := Stock{ID: uuid.New(), DrugID: drugID, LastUpdated: at}
	m.st.stock[drugID] = s
	return &s, nil
}

func (m *mockStockRepo) GetByDrug(_ context.Context, drugID uuid.UUID) (*Stock, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	s, ok := m.st.stock[drugID]
	if !ok {
		return nil, apperr.NotFound("stock for drug", drugID)
	}
	return &s, nil
}

func (m *mockStockRepo) GetManyForUpdate(_ context.Context, drugIDs []uuid.UUID) (map[uuid.UUID]*Stock, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	out := make(map[uuid.UUID]*Stock)
	for _, id := range drugIDs {
		if s, ok := m.st.stock[id]; ok {
			cp := s
			out[id] = &cp
		}
	}
	return out, nil
}

func (m *mockStockRepo) Adjust(_ context.Context, drugID uuid.UUID, delta int, at time.Time) (*Stock, bool, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	s, ok := m.st.stock[drugID]
	if !ok {
		return nil, false, apperr.NotFound("stock for drug", drugID)
	}
	if s.Quantity+delta < 0 {
		return &s, false, nil
	}
	s.Quantity += delta
	s.LastUpdated = at
	m.st.stock[drugID] = s
	return &s, true, nil
}

type mockDispensationRepo struct{ st *store }

func (m *mockDispensationRepo) Create(_ context.Context, d *Dispensation) error {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	d.ID = uuid.New()
	d.CreatedAt = time.Now()
	d.UpdatedAt = d.CreatedAt
	m.st.dispensations[d.ID] = *d
	return nil
}

func (m *mockDispensationRepo) GetByID(_ context.Context, id uuid.UUID) (*Dispensation, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	d, ok := m.st.dispensations[id]
	if !ok {
		return nil, apperr.NotFound("dispensation", id)
	}
	return &d, nil
}

func (m *mockDispensationRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*Dispensation, error) {
	return m.GetByID(ctx, id)
}

func (m *mockDispensationRepo) Update(_ context.Context, d *Dispensation) error {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	cur, ok := m.st.dispensations[d.ID]
	if !ok {
		return apperr.NotFound("dispensation", d.ID)
	}
	next := *d
	next.DrugOrders = cur.DrugOrders
	next.TotalCost = cur.TotalCost
	next.UpdatedAt = time.Now()
	m.st.dispensations[d.ID] = next
	return nil
}

func (m *mockDispensationRepo) Delete(_ context.Context, id uuid.UUID) error {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	if _, ok := m.st.dispensations[id]; !ok {
		return apperr.NotFound("dispensation", id)
	}
	delete(m.st.dispensations, id)
	return nil
}

func (m *mockDispensationRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*Dispensation, int, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	var all []*Dispensation
	for _, d := range m.st.dispensations {
		if d.PatientID == patientID {
			cp := d
			all = append(all, &cp)
		}
	}
	total := len(all)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

// mockLedger stands in for the billing service. Credits land in the shared
// store so they roll back with everything else.
type mockLedger struct {
	st       *store
	owners   map[uuid.UUID]uuid.UUID
	paid     map[uuid.UUID]bool
	failNext error
}

func (l *mockLedger) CreditDispensation(_ context.Context, billingID, patientID uuid.UUID, amount decimal.Decimal) error {
	if l.failNext != nil {
		err := l.failNext
		l.failNext = nil
		return err
	}
	owner, ok := l.owners[billingID]
	if !ok {
		return apperr.NotFound("billing", billingID)
	}
	if owner != patientID {
		return apperr.Validation("billing %s does not belong to patient %s", billingID, patientID)
	}
	if l.paid[billingID] {
		return apperr.InvalidState("billing %s is paid", billingID)
	}
	l.st.mu.Lock()
	defer l.st.mu.Unlock()
	l.st.credits[billingID] = l.st.credits[billingID].Add(amount)
	return nil
}

type mockPatients map[uuid.UUID]string

func (p mockPatients) PatientName(_ context.Context, id uuid.UUID) (string, error) {
	name, ok := p[id]
	if !ok {
		return "", apperr.NotFound("patient", id)
	}
	return name, nil
}

type testEnv struct {
	svc     *Service
	st      *store
	ledger  *mockLedger
	patient uuid.UUID
	billing uuid.UUID
}

var testNow = time.Date(2026, 3, 18, 10, 30, 0, 0, time.UTC)

func newTestEnv() *testEnv {
	st := newStore()
	env := &testEnv{st: st, patient: uuid.New(), billing: uuid.New()}
	env.ledger = &mockLedger{
		st:     st,
		owners: map[uuid.UUID]uuid.UUID{env.billing: env.patient},
		paid:   map[uuid.UUID]bool{},
	}
	env.svc = NewService(&mockDrugRepo{st}, &mockStockRepo{st}, &mockDispensationRepo{st}, &rollbackTx{st: st}, env.ledger, zerolog.Nop())
	env.svc.nowFn = func() time.Time { return testNow }
	env.svc.SetPatientDirectory(mockPatients{env.patient: "Ada Obi"})
	return env
}

func (env *testEnv) quantity(drugID uuid.UUID) int {
	env.st.mu.Lock()
	defer env.st.mu.Unlock()
	return env.st.stock[drugID].Quantity
}

func (env *testEnv) credited() decimal.Decimal {
	env.st.mu.Lock()
	defer env.st.mu.Unlock()
	return env.st.credits[env.billing]
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func strPtr(s string) *string { return &s }
