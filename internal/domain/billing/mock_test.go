package billing

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

// -- Mock Repositories --

type mockBillingRepo struct {
	mu       sync.Mutex
	items    map[uuid.UUID]*Billing
	fees     map[uuid.UUID][]Fee
	invoices map[string]uuid.UUID
	// referenced marks billings that payments or dispensations point at.
	referenced map[uuid.UUID]bool
}

func newMockBillingRepo() *mockBillingRepo {
	return &mockBillingRepo{
		items:      make(map[uuid.UUID]*Billing),
		fees:       make(map[uuid.UUID][]Fee),
		invoices:   make(map[string]uuid.UUID),
		referenced: make(map[uuid.UUID]bool),
	}
}

func cloneBilling(b *Billing) *Billing {
	c := *b
	c.Fees = nil
	return &c
}

func (m *mockBillingRepo) Create(_ context.Context, b *Billing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b.ID = uuid.New()
	b.CreatedAt = time.Now()
	b.UpdatedAt = b.CreatedAt
	m.items[b.ID] = cloneBilling(b)
	return nil
}

func (m *mockBillingRepo) GetByID(_ context.Context, id uuid.UUID) (*Billing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.items[id]
	if !ok {
		return nil, apperr.NotFound("billing", id)
	}
	return cloneBilling(b), nil
}

func (m *mockBillingRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*Billing, error) {
	return m.GetByID(ctx, id)
}

func (m *mockBillingRepo) Update(_ context.Context, b *Billing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.items[b.ID]
	if !ok {
		return apperr.NotFound("billing", b.ID)
	}
	b.UpdatedAt = time.Now()
	next := cloneBilling(b)
	// Columns Update does not write.
	next.Amount = cur.Amount
	next.InvoiceNumber = cur.InvoiceNumber
	next.InvoiceDate = cur.InvoiceDate
	m.items[b.ID] = next
	return nil
}

func (m *mockBillingRepo) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return apperr.NotFound("billing", id)
	}
	if m.referenced[id] {
		return apperr.InvalidState("billing is referenced")
	}
	delete(m.items, id)
	delete(m.fees, id)
	return nil
}

func (m *mockBillingRepo) AssignInvoiceNumber(_ context.Context, id uuid.UUID, number string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.invoices[number]; taken {
		return false, apperr.ErrDuplicate
	}
	b, ok := m.items[id]
	if !ok || b.InvoiceNumber != nil || b.IsPaid() {
		return false, nil
	}
	n := number
	b.InvoiceNumber = &n
	b.InvoiceDate = &at
	b.InvoiceStatus = InvoiceGenerated
	m.invoices[number] = id
	return true, nil
}

func (m *mockBillingRepo) AddAmount(_ context.Context, id uuid.UUID, delta decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.items[id]
	if !ok {
		return apperr.NotFound("billing", id)
	}
	b.Amount = b.Amount.Add(delta)
	return nil
}

func (m *mockBillingRepo) filter(keep func(*Billing) bool, limit, offset int) ([]*Billing, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*Billing
	for _, b := range m.items {
		if keep(b) {
			all = append(all, cloneBilling(b))
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := len(all)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total
}

func (m *mockBillingRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*Billing, int, error) {
	items, total := m.filter(func(b *Billing) bool { return b.PatientID == patientID }, limit, offset)
	return items, total, nil
}

func (m *mockBillingRepo) Search(_ context.Context, p SearchParams, limit, offset int) ([]*Billing, int, error) {
	items, total := m.filter(func(b *Billing) bool {
		if p.PatientID != uuid.Nil && b.PatientID != p.PatientID {
			return false
		}
		if p.ClinicianID != uuid.Nil && b.ClinicianID != p.ClinicianID {
			return false
		}
		if p.Status != "" && b.Status != p.Status {
			return false
		}
		if p.InvoiceStatus != "" && b.InvoiceStatus != p.InvoiceStatus {
			return false
		}
		if p.InvoiceNumber != "" && (b.InvoiceNumber == nil || !strings.Contains(*b.InvoiceNumber, p.InvoiceNumber)) {
			return false
		}
		return true
	}, limit, offset)
	return items, total, nil
}

func (m *mockBillingRepo) RevenueByClinician(_ context.Context, q RevenueQuery) ([]RevenueRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byClinician := map[uuid.UUID]*RevenueRow{}
	for _, b := range m.items {
		if !b.IsPaid() || b.InvoiceDate == nil {
			continue
		}
		if q.From != nil && b.InvoiceDate.Before(*q.From) {
			continue
		}
		if q.To != nil && !b.InvoiceDate.Before(*q.To) {
			continue
		}
		if q.ClinicianID != uuid.Nil && b.ClinicianID != q.ClinicianID {
			continue
		}
		row, ok := byClinician[b.ClinicianID]
		if !ok {
			row = &RevenueRow{ClinicianID: b.ClinicianID, TotalRevenue: decimal.Zero}
			byClinician[b.ClinicianID] = row
		}
		row.TotalRevenue = row.TotalRevenue.Add(b.TotalBill)
		row.BillingCount++
	}
	var out []RevenueRow
	for _, r := range byClinician {
		out = append(out, *r)
	}
	return out, nil
}

func (m *mockBillingRepo) ReplaceFees(_ context.Context, billingID uuid.UUID, fees []Fee) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := make([]Fee, len(fees))
	for i := range fees {
		fees[i].ID = uuid.New()
		fees[i].BillingID = billingID
		stored[i] = fees[i]
	}
	m.fees[billingID] = stored
	return nil
}

func (m *mockBillingRepo) ListFees(_ context.Context, billingIDs ...uuid.UUID) (map[uuid.UUID][]Fee, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[uuid.UUID][]Fee, len(billingIDs))
	for _, id := range billingIDs {
		out[id] = append([]Fee(nil), m.fees[id]...)
	}
	return out, nil
}

type mockPaymentRepo struct {
	mu       sync.Mutex
	items    []*Payment
	receipts map[string]bool
	billings *mockBillingRepo
}

func newMockPaymentRepo(billings *mockBillingRepo) *mockPaymentRepo {
	return &mockPaymentRepo{receipts: make(map[string]bool), billings: billings}
}

func (m *mockPaymentRepo) Create(_ context.Context, p *Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.receipts[p.ReceiptNumber] {
		return apperr.ErrDuplicate
	}
	p.ID = uuid.New()
	m.receipts[p.ReceiptNumber] = true
	cp := *p
	m.items = append(m.items, &cp)
	m.billings.mu.Lock()
	m.billings.referenced[p.BillingID] = true
	m.billings.mu.Unlock()
	return nil
}

func (m *mockPaymentRepo) ListByBilling(_ context.Context, billingID uuid.UUID) ([]*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Payment
	for _, p := range m.items {
		if p.BillingID == billingID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

// passthroughTx runs fn directly; the mocks have no transactions to roll
// back, so tests that need atomicity check for absent writes instead.
type passthroughTx struct{}

func (passthroughTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type mockDirectory struct {
	patients   map[uuid.UUID]string
	clinicians map[uuid.UUID]string
}

func (d *mockDirectory) PatientName(_ context.Context, id uuid.UUID) (string, error) {
	name, ok := d.patients[id]
	if !ok {
		return "", apperr.NotFound("patient", id)
	}
	return name, nil
}

func (d *mockDirectory) ClinicianName(_ context.Context, id uuid.UUID) (string, error) {
	name, ok := d.clinicians[id]
	if !ok {
		return "", apperr.NotFound("clinician", id)
	}
	return name, nil
}

type testEnv struct {
	svc      *Service
	billings *mockBillingRepo
	payments *mockPaymentRepo
	dir      *mockDirectory
	patient  uuid.UUID
	doctor   uuid.UUID
}

var testNow = time.Date(2026, 3, 18, 10, 30, 0, 0, time.UTC)

func newTestEnv() *testEnv {
	billings := newMockBillingRepo()
	payments := newMockPaymentRepo(billings)
	svc := NewService(billings, payments, passthroughTx{}, zerolog.Nop())
	svc.nowFn = func() time.Time { return testNow }

	env := &testEnv{
		svc:      svc,
		billings: billings,
		payments: payments,
		patient:  uuid.New(),
		doctor:   uuid.New(),
	}
	env.dir = &mockDirectory{
		patients:   map[uuid.UUID]string{env.patient: "Ada Obi"},
		clinicians: map[uuid.UUID]string{env.doctor: "Dr. Bello"},
	}
	svc.SetDirectory(env.dir)
	return env
}

func newTestService() *Service {
	return newTestEnv().svc
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}
