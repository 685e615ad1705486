package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/emr/emr/internal/platform/apperr"
	"github.com/emr/emr/internal/platform/db"
)

type Service struct {
	billings BillingRepository
	payments PaymentRepository
	tx       db.TxRunner
	dir      Directory
	logger   zerolog.Logger
	currency string
	nowFn    func() time.Time
	suffixFn func() int
}

func NewService(billings BillingRepository, payments PaymentRepository, tx db.TxRunner, logger zerolog.Logger) *Service {
	return &Service{
		billings: billings,
		payments: payments,
		tx:       tx,
		logger:   logger.With().Str("component", "billing").Logger(),
		currency: "NGN",
		nowFn:    time.Now,
		suffixFn: randomSuffix,
	}
}

// SetDirectory enables patient and clinician checks on create and names on
// receipts and reports.
func (s *Service) SetDirectory(d Directory) {
	s.dir = d
}

func (s *Service) SetCurrency(code string) {
	s.currency = code
}

func (s *Service) now() time.Time {
	return s.nowFn().UTC()
}

// CreateInput is the payload of createBilling.
type CreateInput struct {
	PatientID   uuid.UUID  `json:"patient_id" validate:"required"`
	ClinicianID uuid.UUID  `json:"clinician_id" validate:"required"`
	Fees        []FeeInput `json:"fees" validate:"dive"`
	Discount
}

func (s *Service) checkParties(ctx context.Context, patientID, clinicianID uuid.UUID) error {
	if s.dir == nil {
		return nil
	}
	if patientID != uuid.Nil {
		if _, err := s.dir.PatientName(ctx, patientID); err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				return apperr.NotFound("patient", patientID)
			}
			return err
		}
	}
	if clinicianID != uuid.Nil {
		if _, err := s.dir.ClinicianName(ctx, clinicianID); err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				return apperr.NotFound("clinician", clinicianID)
			}
			return err
		}
	}
	return nil
}

// Create opens an unpaid billing with its fees and a computed total. The
// invoice is left ungenerated.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Billing, error) {
	if in.PatientID == uuid.Nil {
		return nil, apperr.Validation("patient_id is required")
	}
	if in.ClinicianID == uuid.Nil {
		return nil, apperr.Validation("clinician_id is required")
	}
	if err := CheckDiscount(in.Discount); err != nil {
		return nil, err
	}
	fees, err := buildFees(uuid.Nil, in.Fees)
	if err != nil {
		return nil, err
	}
	totals, err := CalculateTotal(fees, in.Discount)
	if err != nil {
		return nil, err
	}
	if err := s.checkParties(ctx, in.PatientID, in.ClinicianID); err != nil {
		return nil, err
	}

	b := &Billing{
		PatientID:          in.PatientID,
		ClinicianID:        in.ClinicianID,
		Amount:             decimal.Zero,
		DiscountPercentage: in.Percentage,
		DiscountAmount:     in.Amount,
		TotalBill:          totals.TotalBill,
		Status:             StatusUnpaid,
		InvoiceStatus:      InvoiceNotGenerated,
	}
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.billings.Create(ctx, b); err != nil {
			return err
		}
		for i := range fees {
			fees[i].BillingID = b.ID
		}
		return s.billings.ReplaceFees(ctx, b.ID, fees)
	})
	if err != nil {
		return nil, err
	}
	b.Fees = fees

	s.logger.Info().Str("billing_id", b.ID.String()).Str("total_bill", b.TotalBill.StringFixed(2)).Msg("billing created")
	return b, nil
}

func (s *Service) withFees(ctx context.Context, items ...*Billing) error {
	if len(items) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(items))
	for i, b := range items {
		ids[i] = b.ID
	}
	fees, err := s.billings.ListFees(ctx, ids...)
	if err != nil {
		return err
	}
	for _, b := range items {
		b.Fees = fees[b.ID]
		if b.Fees == nil {
			b.Fees = []Fee{}
		}
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Billing, error) {
	b, err := s.billings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.withFees(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// lockUnpaid loads the billing for update and refuses to continue once it
// is paid.
func (s *Service) lockUnpaid(ctx context.Context, id uuid.UUID, action string) (*Billing, error) {
	b, err := s.billings.GetForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.IsPaid() {
		return nil, apperr.InvalidState("cannot %s billing %s: billing is paid", action, id)
	}
	return b, nil
}

// Update applies patch and recomputes the total.
func (s *Service) Update(ctx context.Context, id uuid.UUID, patch BillingPatch) (*Billing, error) {
	var out *Billing
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		b, err := s.lockUnpaid(ctx, id, "update")
		if err != nil {
			return err
		}
		if patch.ClinicianID != nil {
			if err := s.checkParties(ctx, uuid.Nil, *patch.ClinicianID); err != nil {
				return err
			}
		}
		if err := s.withFees(ctx, b); err != nil {
			return err
		}
		newFees, err := patch.Apply(b)
		if err != nil {
			return err
		}
		totals, err := CalculateTotal(b.Fees, b.discount())
		if err != nil {
			return err
		}
		b.TotalBill = totals.TotalBill

		if newFees != nil {
			if err := s.billings.ReplaceFees(ctx, b.ID, newFees); err != nil {
				return err
			}
		}
		if err := s.billings.Update(ctx, b); err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes an unpaid billing and its fees. Billings still referenced
// by payments or dispensations cannot be removed.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := s.lockUnpaid(ctx, id, "delete"); err != nil {
			return err
		}
		return s.billings.Delete(ctx, id)
	})
}

// CalculateTotal recomputes and stores total_bill. It is idempotent; on a
// paid billing the stored total is returned unchanged.
func (s *Service) CalculateTotal(ctx context.Context, id uuid.UUID) (*Billing, Totals, error) {
	var (
		out    *Billing
		totals Totals
	)
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		b, err := s.billings.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := s.withFees(ctx, b); err != nil {
			return err
		}
		totals, err = CalculateTotal(b.Fees, b.discount())
		if err != nil {
			return err
		}
		out = b
		if b.IsPaid() {
			totals.TotalBill = b.TotalBill
			return nil
		}
		if b.TotalBill.Equal(totals.TotalBill) {
			return nil
		}
		b.TotalBill = totals.TotalBill
		return s.billings.Update(ctx, b)
	})
	if err != nil {
		return nil, Totals{}, err
	}
	return out, totals, nil
}

// GenerateInvoice assigns an invoice number once. A billing that already has
// one is returned unchanged.
func (s *Service) GenerateInvoice(ctx context.Context, id uuid.UUID) (*Billing, error) {
	b, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.InvoiceNumber != nil {
		return b, nil
	}
	if b.IsPaid() {
		return nil, apperr.InvalidState("cannot generate invoice for billing %s: billing is paid", id)
	}

	at := s.now()
	for attempt := 0; attempt < maxNumberAttempts; attempt++ {
		number := documentNumber(invoicePrefix, at, attempt, s.suffixFn)
		ok, err := s.billings.AssignInvoiceNumber(ctx, id, number, at)
		if errors.Is(err, apperr.ErrDuplicate) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !ok {
			// Lost a race: someone else numbered or settled it first.
			return s.reloadAfterInvoiceRace(ctx, id)
		}
		s.logger.Info().Str("billing_id", id.String()).Str("invoice_number", number).Msg("invoice generated")
		return s.Get(ctx, id)
	}
	return nil, fmt.Errorf("generate invoice number for billing %s: %d collisions", id, maxNumberAttempts)
}

func (s *Service) reloadAfterInvoiceRace(ctx context.Context, id uuid.UUID) (*Billing, error) {
	b, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.InvoiceNumber != nil {
		return b, nil
	}
	return nil, apperr.InvalidState("cannot generate invoice for billing %s: billing is paid", id)
}

// SendInvoice moves a generated invoice to sent.
func (s *Service) SendInvoice(ctx context.Context, id uuid.UUID) (*Billing, error) {
	var out *Billing
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		b, err := s.lockUnpaid(ctx, id, "send invoice for")
		if err != nil {
			return err
		}
		if b.InvoiceStatus != InvoiceGenerated {
			return apperr.InvalidState("invoice for billing %s is %s, expected %s", id, b.InvoiceStatus, InvoiceGenerated)
		}
		b.InvoiceStatus = InvoiceSent
		if err := s.billings.Update(ctx, b); err != nil {
			return err
		}
		out = b
		return s.withFees(ctx, b)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MarkPaid is the one-way transition to Paid. Payments never trigger it.
func (s *Service) MarkPaid(ctx context.Context, id uuid.UUID) (*Billing, error) {
	var out *Billing
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		b, err := s.billings.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if b.IsPaid() {
			return apperr.AlreadyPaid("billing", id)
		}
		b.Status = StatusPaid
		if err := s.billings.Update(ctx, b); err != nil {
			return err
		}
		out = b
		return s.withFees(ctx, b)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("billing_id", id.String()).Msg("billing marked paid")
	return out, nil
}

// PaymentInput is the payload of recordPayment.
type PaymentInput struct {
	AmountPaid    decimal.Decimal `json:"amount_paid" validate:"gt=0"`
	PaymentMethod PaymentMethod   `json:"payment_method" validate:"required"`
}

// RecordPayment appends a payment with a fresh receipt number. The billing's
// status is not changed.
func (s *Service) RecordPayment(ctx context.Context, billingID uuid.UUID, in PaymentInput) (*Payment, error) {
	if !in.AmountPaid.IsPositive() {
		return nil, apperr.Validation("amount_paid must be positive")
	}
	if !in.PaymentMethod.Valid() {
		return nil, apperr.Validation("unknown payment method %q", in.PaymentMethod)
	}
	if _, err := s.billings.GetByID(ctx, billingID); err != nil {
		return nil, err
	}

	at := s.now()
	for attempt := 0; attempt < maxNumberAttempts; attempt++ {
		p := &Payment{
			BillingID:     billingID,
			AmountPaid:    in.AmountPaid.Round(2),
			PaymentMethod: in.PaymentMethod,
			PaymentDate:   at,
			ReceiptNumber: documentNumber(receiptPrefix, at, attempt, s.suffixFn),
		}
		err := s.payments.Create(ctx, p)
		if errors.Is(err, apperr.ErrDuplicate) {
			continue
		}
		if err != nil {
			return nil, err
		}
		s.logger.Info().
			Str("billing_id", billingID.String()).
			Str("receipt_number", p.ReceiptNumber).
			Str("amount_paid", p.AmountPaid.StringFixed(2)).
			Msg("payment recorded")
		return p, nil
	}
	return nil, fmt.Errorf("generate receipt number for billing %s: %d collisions", billingID, maxNumberAttempts)
}

// Payments returns the payment history of a billing and its summary.
func (s *Service) Payments(ctx context.Context, billingID uuid.UUID) ([]*Payment, PaymentSummary, error) {
	b, err := s.billings.GetByID(ctx, billingID)
	if err != nil {
		return nil, PaymentSummary{}, err
	}
	payments, err := s.payments.ListByBilling(ctx, billingID)
	if err != nil {
		return nil, PaymentSummary{}, err
	}
	if payments == nil {
		payments = []*Payment{}
	}
	return payments, summarize(b, payments), nil
}

// Receipt renders the receipt of a paid billing.
func (s *Service) Receipt(ctx context.Context, id uuid.UUID) (*Receipt, error) {
	b, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !b.IsPaid() {
		return nil, apperr.InvalidState("billing %s is not paid", id)
	}
	payments, summary, err := s.Payments(ctx, id)
	if err != nil {
		return nil, err
	}
	totals, err := CalculateTotal(b.Fees, b.discount())
	if err != nil {
		return nil, err
	}
	totals.TotalBill = b.TotalBill

	r := &Receipt{
		BillingID:   b.ID,
		PatientID:   b.PatientID,
		ClinicianID: b.ClinicianID,
		InvoiceDate: b.InvoiceDate,
		Fees:        b.Fees,
		Totals:      totals,
		Amount:      b.Amount,
		Payments:    payments,
		Summary:     summary,
		Currency:    s.currency,
		IssuedAt:    s.now(),
	}
	if b.InvoiceNumber != nil {
		r.InvoiceNumber = *b.InvoiceNumber
	}
	if s.dir != nil {
		r.PatientName, _ = s.dir.PatientName(ctx, b.PatientID)
		r.ClinicianName, _ = s.dir.ClinicianName(ctx, b.ClinicianID)
	}
	return r, nil
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Billing, int, error) {
	items, total, err := s.billings.ListByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	if err := s.withFees(ctx, items...); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (s *Service) Search(ctx context.Context, params SearchParams, limit, offset int) ([]*Billing, int, error) {
	if params.Status != "" && params.Status != StatusPaid && params.Status != StatusUnpaid {
		return nil, 0, apperr.Validation("invalid status %q", params.Status)
	}
	items, total, err := s.billings.Search(ctx, params, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	if err := s.withFees(ctx, items...); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// CreditDispensation adds a pharmacy order total to the billing's running
// amount. It joins the caller's transaction.
func (s *Service) CreditDispensation(ctx context.Context, billingID, patientID uuid.UUID, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return apperr.Validation("credit amount must not be negative")
	}
	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		b, err := s.billings.GetForUpdate(ctx, billingID)
		if err != nil {
			return err
		}
		if b.PatientID != patientID {
			return apperr.Validation("billing %s does not belong to patient %s", billingID, patientID)
		}
		if b.IsPaid() {
			return apperr.InvalidState("cannot add dispensation to billing %s: billing is paid", billingID)
		}
		return s.billings.AddAmount(ctx, billingID, amount)
	})
}
