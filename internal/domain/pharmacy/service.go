package pharmacy

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/emr/emr/internal/platform/apperr"
	"github.com/emr/emr/internal/platform/db"
)

type Service struct {
	drugs         DrugRepository
	stock         StockRepository
	dispensations DispensationRepository
	tx            db.TxRunner
	billing       BillingLedger
	patients      PatientDirectory
	logger        zerolog.Logger
	currency      string
	nowFn         func() time.Time
}

func NewService(drugs DrugRepository, stock StockRepository, dispensations DispensationRepository, tx db.TxRunner, billing BillingLedger, logger zerolog.Logger) *Service {
	return &Service{
		drugs:         drugs,
		stock:         stock,
		dispensations: dispensations,
		tx:            tx,
		billing:       billing,
		logger:        logger.With().Str("component", "pharmacy").Logger(),
		currency:      "NGN",
		nowFn:         time.Now,
	}
}

// SetPatientDirectory enables patient checks on dispensation and names on
// receipts.
func (s *Service) SetPatientDirectory(p PatientDirectory) {
	s.patients = p
}

func (s *Service) SetCurrency(code string) {
	s.currency = code
}

func (s *Service) now() time.Time {
	return s.nowFn().UTC()
}

func (s *Service) today() time.Time {
	y, m, d := s.now().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// -- Drugs --

// CreateDrug adds a catalogue entry together with its empty stock row.
func (s *Service) CreateDrug(ctx context.Context, in DrugInput) (*Drug, error) {
	d, err := in.toDrug(s.today())
	if err != nil {
		return nil, err
	}
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.drugs.Create(ctx, d); err != nil {
			if errors.Is(err, apperr.ErrDuplicate) {
				return apperr.Validation("a drug named %q already exists", d.Name)
			}
			return err
		}
		_, err := s.stock.Create(ctx, d.ID, s.now())
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("drug_id", d.ID.String()).Str("name", d.Name).Msg("drug created")
	return d, nil
}

func (s *Service) GetDrug(ctx context.Context, id uuid.UUID) (*Drug, error) {
	return s.drugs.GetByID(ctx, id)
}

func (s *Service) ListDrugs(ctx context.Context, f DrugFilter, limit, offset int) ([]*Drug, int, error) {
	return s.drugs.List(ctx, f, limit, offset)
}

func (s *Service) UpdateDrug(ctx context.Context, id uuid.UUID, patch DrugPatch) (*Drug, error) {
	var out *Drug
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		d, err := s.drugs.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := patch.Apply(d, s.today()); err != nil {
			return err
		}
		if err := s.drugs.Update(ctx, d); err != nil {
			if errors.Is(err, apperr.ErrDuplicate) {
				return apperr.Validation("a drug named %q already exists", d.Name)
			}
			return err
		}
		out = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteDrug removes a drug and its stock row. Past dispensations keep their
// snapshotted lines.
func (s *Service) DeleteDrug(ctx context.Context, id uuid.UUID) error {
	return s.drugs.Delete(ctx, id)
}

// -- Stock --

// StockStatus reports the stock of a drug and whether it covers requested.
func (s *Service) StockStatus(ctx context.Context, drugID uuid.UUID, requested int) (*StockStatus, error) {
	if requested < 0 {
		return nil, apperr.Validation("quantity must not be negative")
	}
	st, err := s.stock.GetByDrug(ctx, drugID)
	if err != nil {
		return nil, err
	}
	return &StockStatus{Stock: *st, Requested: requested, Available: st.IsAvailable(requested)}, nil
}

// IsAvailable reports whether the stock of drugID covers requested.
func (s *Service) IsAvailable(ctx context.Context, drugID uuid.UUID, requested int) (bool, error) {
	st, err := s.StockStatus(ctx, drugID, requested)
	if err != nil {
		return false, err
	}
	return st.Available, nil
}

// AdjustStock applies delta to the stock of drugID. A delta that would take
// the quantity below zero fails and leaves the quantity unchanged.
func (s *Service) AdjustStock(ctx context.Context, drugID uuid.UUID, delta int) (*Stock, error) {
	var out *Stock
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		d, err := s.drugs.GetByID(ctx, drugID)
		if err != nil {
			return err
		}
		st, applied, err := s.stock.Adjust(ctx, drugID, delta, s.now())
		if err != nil {
			return err
		}
		if !applied {
			return s.shortfall(d, st.Quantity, -delta)
		}
		out = st
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("drug_id", drugID.String()).Int("delta", delta).Int("quantity", out.Quantity).Msg("stock adjusted")
	return out, nil
}

// Sell removes quantity units of a drug from stock.
func (s *Service) Sell(ctx context.Context, drugID uuid.UUID, quantity int) (*Stock, error) {
	if quantity <= 0 {
		return nil, apperr.Validation("quantity must be positive")
	}
	return s.AdjustStock(ctx, drugID, -quantity)
}

func (s *Service) shortfall(d *Drug, available, requested int) error {
	s.logger.Warn().
		Str("drug_id", d.ID.String()).
		Str("drug_name", d.Name).
		Int("available", available).
		Int("requested", requested).
		Msg("insufficient stock")
	return &apperr.InsufficientStockError{DrugID: d.ID, DrugName: d.Name, Available: available, Requested: requested}
}

// loadDrugs resolves every drug named by lines, failing on the first unknown
// or inactive one.
func (s *Service) loadDrugs(ctx context.Context, lines []OrderLine) (map[uuid.UUID]*Drug, error) {
	ids := make([]uuid.UUID, 0, len(lines))
	seen := make(map[uuid.UUID]bool, len(lines))
	for _, l := range lines {
		if !seen[l.DrugID] {
			seen[l.DrugID] = true
			ids = append(ids, l.DrugID)
		}
	}
	drugs, err := s.drugs.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, l := range lines {
		d, ok := drugs[l.DrugID]
		if !ok {
			return nil, apperr.NotFound("drug", l.DrugID)
		}
		if !d.IsActive {
			return nil, apperr.Validation("drug %s is inactive", d.Name)
		}
	}
	return drugs, nil
}

// debitLines checks every line against locked stock and only then debits.
// It must run inside a transaction.
func (s *Service) debitLines(ctx context.Context, lines []OrderLine, drugs map[uuid.UUID]*Drug) error {
	requested := requestedByDrug(lines)
	ids := make([]uuid.UUID, 0, len(requested))
	for id := range requested {
		ids = append(ids, id)
	}
	// Lock rows in id order.
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	stock, err := s.stock.GetManyForUpdate(ctx, ids)
	if err != nil {
		return err
	}
	for _, l := range lines {
		st, ok := stock[l.DrugID]
		if !ok {
			return apperr.NotFound("stock for drug", l.DrugID)
		}
		if !st.IsAvailable(requested[l.DrugID]) {
			return s.shortfall(drugs[l.DrugID], st.Quantity, requested[l.DrugID])
		}
	}

	at := s.now()
	for _, l := range lines {
		st, applied, err := s.stock.Adjust(ctx, l.DrugID, -l.Quantity, at)
		if err != nil {
			return err
		}
		if !applied {
			return s.shortfall(drugs[l.DrugID], st.Quantity, l.Quantity)
		}
	}
	return nil
}

// -- Dispensations --

// CreateDispensation debits stock for every line, records the priced order
// and credits its total to the billing, all in one transaction. Any failure
// leaves stock, billing and records untouched.
func (s *Service) CreateDispensation(ctx context.Context, patientID uuid.UUID, in DispensationInput) (*Dispensation, error) {
	if patientID == uuid.Nil {
		return nil, apperr.Validation("patient_id is required")
	}
	if in.BillingID == uuid.Nil {
		return nil, apperr.Validation("billing_id is required")
	}
	if err := checkLines(in.DrugOrders); err != nil {
		return nil, err
	}
	dispensed, err := parseDate("dispensation_date", in.DispensationDate)
	if err != nil {
		return nil, err
	}
	if s.patients != nil {
		if _, err := s.patients.PatientName(ctx, patientID); err != nil {
			return nil, err
		}
	}

	var out *Dispensation
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		drugs, err := s.loadDrugs(ctx, in.DrugOrders)
		if err != nil {
			return err
		}
		if err := s.debitLines(ctx, in.DrugOrders, drugs); err != nil {
			return err
		}
		orders, total := priceLines(in.DrugOrders, drugs)

		d := &Dispensation{
			PatientID:                      patientID,
			BillingID:                      in.BillingID,
			MedicationName:                 in.MedicationName,
			DosageAndRoute:                 in.DosageAndRoute,
			Frequency:                      in.Frequency,
			DispensationDate:               dispensed,
			ScreeningForInteractions:       in.ScreeningForInteractions,
			MonitoringForAdverseEffects:    in.MonitoringForAdverseEffects,
			MedicationsReviewedOnAdmission: in.MedicationsReviewedOnAdmission,
			MedicationsReviewedOnDischarge: in.MedicationsReviewedOnDischarge,
			Prescriptions:                  in.Prescriptions,
			DrugOrders:                     orders,
			TotalCost:                      total,
		}
		if err := s.dispensations.Create(ctx, d); err != nil {
			return err
		}
		if err := s.billing.CreditDispensation(ctx, in.BillingID, patientID, total); err != nil {
			return err
		}
		out = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("dispensation_id", out.ID.String()).
		Str("billing_id", out.BillingID.String()).
		Int("lines", len(out.DrugOrders)).
		Str("total_cost", out.TotalCost.StringFixed(2)).
		Msg("dispensation created")
	return out, nil
}

func (s *Service) GetDispensation(ctx context.Context, id uuid.UUID) (*Dispensation, error) {
	return s.dispensations.GetByID(ctx, id)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Dispensation, int, error) {
	return s.dispensations.ListByPatient(ctx, patientID, limit, offset)
}

// UpdateDispensation applies the clinical-notes whitelist. Drug orders are
// never changed.
func (s *Service) UpdateDispensation(ctx context.Context, id uuid.UUID, patch DispensationPatch) (*Dispensation, error) {
	if patch.Empty() {
		return nil, apperr.Validation("no updatable fields supplied")
	}
	var out *Dispensation
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		d, err := s.dispensations.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := patch.Apply(d); err != nil {
			return err
		}
		if err := s.dispensations.Update(ctx, d); err != nil {
			return err
		}
		out = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteDispensation removes an unpaid record. Stock and the billing amount
// are not restored.
func (s *Service) DeleteDispensation(ctx context.Context, id uuid.UUID) error {
	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		d, err := s.dispensations.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if d.IsPaid {
			return apperr.InvalidState("cannot delete dispensation %s: dispensation is paid", id)
		}
		return s.dispensations.Delete(ctx, id)
	})
}

// MarkPaid is the one-way transition of a dispensation to paid.
func (s *Service) MarkPaid(ctx context.Context, id uuid.UUID) (*Dispensation, error) {
	var out *Dispensation
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		d, err := s.dispensations.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if d.IsPaid {
			return apperr.AlreadyPaid("dispensation", id)
		}
		d.IsPaid = true
		if err := s.dispensations.Update(ctx, d); err != nil {
			return err
		}
		out = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("dispensation_id", id.String()).Msg("dispensation marked paid")
	return out, nil
}

func (s *Service) Receipt(ctx context.Context, id uuid.UUID) (*DispensationReceipt, error) {
	d, err := s.dispensations.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !d.IsPaid {
		return nil, apperr.InvalidState("dispensation %s is not paid", id)
	}
	r := &DispensationReceipt{Dispensation: d, Currency: s.currency, IssuedAt: s.now()}
	if s.patients != nil {
		r.PatientName, _ = s.patients.PatientName(ctx, d.PatientID)
	}
	return r, nil
}

// -- Walk-in sales --

// WalkInSale sells drugs to a customer without a patient record. Stock is
// checked and debited all-or-nothing; no record or billing is written.
func (s *Service) WalkInSale(ctx context.Context, in WalkInInput) (*WalkInSale, error) {
	if in.CustomerName == "" {
		return nil, apperr.Validation("customer_name is required")
	}
	if err := checkLines(in.DrugOrders); err != nil {
		return nil, err
	}

	var (
		orders []DrugOrder
		total  decimal.Decimal
	)
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		drugs, err := s.loadDrugs(ctx, in.DrugOrders)
		if err != nil {
			return err
		}
		if err := s.debitLines(ctx, in.DrugOrders, drugs); err != nil {
			return err
		}
		orders, total = priceLines(in.DrugOrders, drugs)
		return nil
	})
	if err != nil {
		return nil, err
	}

	at := s.now()
	saleNo, invoiceNo := walkInNumbers(at)
	s.logger.Info().Str("sale_number", saleNo).Str("total", total.StringFixed(2)).Msg("walk-in sale")
	return &WalkInSale{
		SaleNumber:    saleNo,
		InvoiceNumber: invoiceNo,
		CustomerName:  in.CustomerName,
		Items:         orders,
		Total:         total,
		Currency:      s.currency,
		SoldAt:        at,
	}, nil
}
