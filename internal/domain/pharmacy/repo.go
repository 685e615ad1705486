package pharmacy

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type DrugRepository interface {
	Create(ctx context.Context, d *Drug) error
	GetByID(ctx context.Context, id uuid.UUID) (*Drug, error)
	// GetMany returns the drugs found among ids; missing ids are absent from
	// the map.
	GetMany(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*Drug, error)
	Update(ctx context.Context, d *Drug) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f DrugFilter, limit, offset int) ([]*Drug, int, error)
}

type StockRepository interface {
	// Create opens a zero-quantity ledger row for a new drug.
	Create(ctx context.Context, drugID uuid.UUID, at time.Time) (*Stock, error)
	GetByDrug(ctx context.Context, drugID uuid.UUID) (*Stock, error)
	// GetManyForUpdate locks the stock rows of drugIDs.
	GetManyForUpdate(ctx context.Context, drugIDs []uuid.UUID) (map[uuid.UUID]*Stock, error)
	// Adjust adds delta to the quantity only when the result stays at or above
	// zero. When it would not, the row is left alone and returned with
	// applied=false.
	Adjust(ctx context.Context, drugID uuid.UUID, delta int, at time.Time) (s *Stock, applied bool, err error)
}

type DispensationRepository interface {
	Create(ctx context.Context, d *Dispensation) error
	GetByID(ctx context.Context, id uuid.UUID) (*Dispensation, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Dispensation, error)
	Update(ctx context.Context, d *Dispensation) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Dispensation, int, error)
}

// BillingLedger receives the order total of a dispensation. It must join the
// transaction carried by ctx.
type BillingLedger interface {
	CreditDispensation(ctx context.Context, billingID, patientID uuid.UUID, amount decimal.Decimal) error
}

// PatientDirectory resolves patients for dispensations and receipts.
type PatientDirectory interface {
	PatientName(ctx context.Context, id uuid.UUID) (string, error)
}
