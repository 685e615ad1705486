package identity

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/emr/emr/internal/platform/apperr"
)

// -- Mock Patient Repository --

type mockPatientRepo struct {
	mu       sync.Mutex
	patients map[uuid.UUID]*Patient
}

func newMockPatientRepo() *mockPatientRepo {
	return &mockPatientRepo{patients: make(map[uuid.UUID]*Patient)}
}

func (m *mockPatientRepo) Create(_ context.Context, p *Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.patients {
		if other.PatientNumber == p.PatientNumber || other.RegistrationNumber == p.RegistrationNumber {
			return apperr.ErrDuplicate
		}
	}
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	cp := *p
	m.patients[p.ID] = &cp
	return nil
}

func (m *mockPatientRepo) GetByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[id]
	if !ok {
		return nil, apperr.NotFound("patient", id)
	}
	cp := *p
	return &cp, nil
}

func (m *mockPatientRepo) GetByNumber(_ context.Context, number string) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.patients {
		if p.PatientNumber == number {
			cp := *p
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("patient", number)
}

func (m *mockPatientRepo) Search(_ context.Context, f PatientFilter, limit, offset int) ([]*Patient, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := strings.ToLower(f.Query)
	var out []*Patient
	for _, p := range m.patients {
		if q != "" &&
			!strings.Contains(strings.ToLower(p.Surname), q) &&
			!strings.Contains(strings.ToLower(p.OtherNames), q) &&
			!strings.Contains(strings.ToLower(p.PatientNumber), q) {
			continue
		}
		if f.RegistrationNumber != "" && p.RegistrationNumber != f.RegistrationNumber {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	return page(out, limit, offset), len(out), nil
}

// -- Mock Clinician Repository --

type mockClinicianRepo struct {
	mu         sync.Mutex
	clinicians map[uuid.UUID]*Clinician
}

func newMockClinicianRepo() *mockClinicianRepo {
	return &mockClinicianRepo{clinicians: make(map[uuid.UUID]*Clinician)}
}

func (m *mockClinicianRepo) Create(_ context.Context, c *Clinician) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.clinicians {
		if strings.EqualFold(other.FullName, c.FullName) {
			return apperr.ErrDuplicate
		}
	}
	c.ID = uuid.New()
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	cp := *c
	m.clinicians[c.ID] = &cp
	return nil
}

func (m *mockClinicianRepo) GetByID(_ context.Context, id uuid.UUID) (*Clinician, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clinicians[id]
	if !ok {
		return nil, apperr.NotFound("clinician", id)
	}
	cp := *c
	return &cp, nil
}

func (m *mockClinicianRepo) List(_ context.Context, activeOnly bool, limit, offset int) ([]*Clinician, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Clinician
	for _, c := range m.clinicians {
		if activeOnly && !c.IsActive {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	return page(out, limit, offset), len(out), nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

var testNow = time.Date(2026, 3, 18, 10, 30, 0, 0, time.UTC)

func newTestService() (*Service, *mockPatientRepo, *mockClinicianRepo) {
	patients := newMockPatientRepo()
	clinicians := newMockClinicianRepo()
	svc := NewService(patients, clinicians, zerolog.Nop())
	svc.nowFn = func() time.Time { return testNow }
	return svc, patients, clinicians
}

func strPtr(s string) *string { return &s }
