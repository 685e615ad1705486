package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type BillingRepository interface {
	Create(ctx context.Context, b *Billing) error
	GetByID(ctx context.Context, id uuid.UUID) (*Billing, error)
	// GetForUpdate locks the row until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Billing, error)
	Update(ctx context.Context, b *Billing) error
	Delete(ctx context.Context, id uuid.UUID) error
	// AssignInvoiceNumber sets the invoice number on an unpaid billing that has
	// none. It reports false when the billing no longer qualifies and returns
	// apperr.ErrDuplicate when number is taken.
	AssignInvoiceNumber(ctx context.Context, id uuid.UUID, number string, at time.Time) (bool, error)
	AddAmount(ctx context.Context, id uuid.UUID, delta decimal.Decimal) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Billing, int, error)
	Search(ctx context.Context, params SearchParams, limit, offset int) ([]*Billing, int, error)
	RevenueByClinician(ctx context.Context, q RevenueQuery) ([]RevenueRow, error)
	// Fees
	ReplaceFees(ctx context.Context, billingID uuid.UUID, fees []Fee) error
	ListFees(ctx context.Context, billingIDs ...uuid.UUID) (map[uuid.UUID][]Fee, error)
}

type PaymentRepository interface {
	// Create returns apperr.ErrDuplicate when the receipt number is taken.
	Create(ctx context.Context, p *Payment) error
	ListByBilling(ctx context.Context, billingID uuid.UUID) ([]*Payment, error)
}

// RevenueQuery bounds a revenue report. Nil bounds are open.
type RevenueQuery struct {
	From        *time.Time
	To          *time.Time
	ClinicianID uuid.UUID
}

// Directory resolves the people a billing refers to.
type Directory interface {
	PatientName(ctx context.Context, id uuid.UUID) (string, error)
	ClinicianName(ctx context.Context, id uuid.UUID) (string, error)
}
