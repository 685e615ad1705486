package identity

import (
	"context"

	"github.com/google/uuid"
)

type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetByNumber(ctx context.Context, patientNumber string) (*Patient, error)
	Search(ctx context.Context, f PatientFilter, limit, offset int) ([]*Patient, int, error)
}

type ClinicianRepository interface {
	Create(ctx context.Context, c *Clinician) error
	GetByID(ctx context.Context, id uuid.UUID) (*Clinician, error)
	List(ctx context.Context, activeOnly bool, limit, offset int) ([]*Clinician, int, error)
}
