package pharmacy

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/emr/emr/internal/platform/apperr"
)

const dateLayout = "2006-01-02"

// Drug is a catalogue entry. Its stock lives in a separate ledger row created
// alongside it.
type Drug struct {
	ID             uuid.UUID       `json:"id"`
	Name           string          `json:"name"`
	Description    *string         `json:"description,omitempty"`
	Dosage         *string         `json:"dosage,omitempty"`
	Instructions   *string         `json:"instructions,omitempty"`
	PrescribedDate *time.Time      `json:"prescribed_date,omitempty"`
	Price          decimal.Decimal `json:"price"`
	IsActive       bool            `json:"is_active"`
	ExpirationDate *time.Time      `json:"expiration_date,omitempty"`
	TotalStock     int             `json:"total_stock"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// DrugInput is the payload of createDrug.
type DrugInput struct {
	Name           string          `json:"name" validate:"required,max=255"`
	Description    *string         `json:"description"`
	Dosage         *string         `json:"dosage"`
	Instructions   *string         `json:"instructions"`
	PrescribedDate *string         `json:"prescribed_date" validate:"omitempty,datetime=2006-01-02"`
	Price          decimal.Decimal `json:"price" validate:"gte=0"`
	IsActive       *bool           `json:"is_active"`
	ExpirationDate *string         `json:"expiration_date" validate:"omitempty,datetime=2006-01-02"`
}

func parseDate(field string, raw *string) (*time.Time, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, *raw)
	if err != nil {
		return nil, apperr.Validation("invalid %s %q, use YYYY-MM-DD", field, *raw)
	}
	return &t, nil
}

func checkExpiration(exp *time.Time, today time.Time) error {
	if exp != nil && exp.Before(today) {
		return apperr.Validation("expiration_date cannot be in the past")
	}
	return nil
}

// toDrug builds a drug from in, rejecting expiration dates before today.
func (in DrugInput) toDrug(today time.Time) (*Drug, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apperr.Validation("name is required")
	}
	if in.Price.IsNegative() {
		return nil, apperr.Validation("price must not be negative")
	}
	prescribed, err := parseDate("prescribed_date", in.PrescribedDate)
	if err != nil {
		return nil, err
	}
	exp, err := parseDate("expiration_date", in.ExpirationDate)
	if err != nil {
		return nil, err
	}
	if err := checkExpiration(exp, today); err != nil {
		return nil, err
	}
	active := true
	if in.IsActive != nil {
		active = *in.IsActive
	}
	return &Drug{
		Name:           name,
		Description:    in.Description,
		Dosage:         in.Dosage,
		Instructions:   in.Instructions,
		PrescribedDate: prescribed,
		Price:          in.Price.Round(2),
		IsActive:       active,
		ExpirationDate: exp,
	}, nil
}

// DrugPatch lists the catalogue fields an update may change.
type DrugPatch struct {
	Name           *string          `json:"name" validate:"omitempty,max=255"`
	Description    *string          `json:"description"`
	Dosage         *string          `json:"dosage"`
	Instructions   *string          `json:"instructions"`
	PrescribedDate *string          `json:"prescribed_date" validate:"omitempty,datetime=2006-01-02"`
	Price          *decimal.Decimal `json:"price" validate:"omitempty,gte=0"`
	IsActive       *bool            `json:"is_active"`
	ExpirationDate *string          `json:"expiration_date" validate:"omitempty,datetime=2006-01-02"`
}

func (p DrugPatch) Apply(d *Drug, today time.Time) error {
	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if name == "" {
			return apperr.Validation("name must not be empty")
		}
		d.Name = name
	}
	if p.Description != nil {
		d.Description = p.Description
	}
	if p.Dosage != nil {
		d.Dosage = p.Dosage
	}
	if p.Instructions != nil {
		d.Instructions = p.Instructions
	}
	if p.PrescribedDate != nil {
		t, err := parseDate("prescribed_date", p.PrescribedDate)
		if err != nil {
			return err
		}
		d.PrescribedDate = t
	}
	if p.Price != nil {
		if p.Price.IsNegative() {
			return apperr.Validation("price must not be negative")
		}
		d.Price = p.Price.Round(2)
	}
	if p.IsActive != nil {
		d.IsActive = *p.IsActive
	}
	if p.ExpirationDate != nil {
		t, err := parseDate("expiration_date", p.ExpirationDate)
		if err != nil {
			return err
		}
		if err := checkExpiration(t, today); err != nil {
			return err
		}
		d.ExpirationDate = t
	}
	return nil
}

// DrugFilter narrows catalogue listings.
type DrugFilter struct {
	Name       string
	ActiveOnly bool
}

// Stock is the on-hand quantity of one drug. Quantity never goes below zero.
type Stock struct {
	ID          uuid.UUID `json:"id"`
	DrugID      uuid.UUID `json:"drug_id"`
	Quantity    int       `json:"quantity"`
	LastUpdated time.Time `json:"last_updated"`
}

func (s *Stock) IsAvailable(requested int) bool {
	return s.Quantity >= requested
}

// StockStatus answers an availability query for a requested quantity.
type StockStatus struct {
	Stock
	Requested int  `json:"requested"`
	Available bool `json:"available"`
}

// OrderLine is one requested drug in a dispensation or walk-in sale. Price,
// when set, overrides the catalogue price.
type OrderLine struct {
	DrugID   uuid.UUID        `json:"drug_id" validate:"required"`
	Quantity int              `json:"quantity" validate:"gt=0"`
	Price    *decimal.Decimal `json:"price" validate:"omitempty,gte=0"`
}

// DrugOrder is a priced line as snapshotted on the record.
type DrugOrder struct {
	DrugID    uuid.UUID       `json:"drug_id"`
	DrugName  string          `json:"drug_name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

func checkLines(lines []OrderLine) error {
	if len(lines) == 0 {
		return apperr.Validation("drug_orders must contain at least one line")
	}
	for i, l := range lines {
		if l.DrugID == uuid.Nil {
			return apperr.Validation("drug_orders[%d]: drug_id is required", i)
		}
		if l.Quantity <= 0 {
			return apperr.Validation("drug_orders[%d]: quantity must be positive", i)
		}
		if l.Price != nil && l.Price.IsNegative() {
			return apperr.Validation("drug_orders[%d]: price must not be negative", i)
		}
	}
	return nil
}

// requestedByDrug sums the quantities asked of each drug across lines.
func requestedByDrug(lines []OrderLine) map[uuid.UUID]int {
	out := make(map[uuid.UUID]int, len(lines))
	for _, l := range lines {
		out[l.DrugID] += l.Quantity
	}
	return out
}

// priceLines snapshots each line against the catalogue. line_total is
// rounded to cents before summing.
func priceLines(lines []OrderLine, drugs map[uuid.UUID]*Drug) ([]DrugOrder, decimal.Decimal) {
	orders := make([]DrugOrder, 0, len(lines))
	total := decimal.Zero
	for _, l := range lines {
		d := drugs[l.DrugID]
		price := d.Price
		if l.Price != nil {
			price = *l.Price
		}
		lineTotal := price.Mul(decimal.NewFromInt(int64(l.Quantity))).Round(2)
		orders = append(orders, DrugOrder{
			DrugID:    l.DrugID,
			DrugName:  d.Name,
			Quantity:  l.Quantity,
			UnitPrice: price,
			LineTotal: lineTotal,
		})
		total = total.Add(lineTotal)
	}
	return orders, total
}

// Dispensation is a pharmacy order for a patient, charged to one billing.
// DrugOrders is immutable once created.
type Dispensation struct {
	ID                             uuid.UUID       `json:"id"`
	PatientID                      uuid.UUID       `json:"patient_id"`
	BillingID                      uuid.UUID       `json:"billing_id"`
	MedicationName                 *string         `json:"medication_name,omitempty"`
	DosageAndRoute                 *string         `json:"dosage_and_route,omitempty"`
	Frequency                      *string         `json:"frequency,omitempty"`
	DispensationDate               *time.Time      `json:"dispensation_date,omitempty"`
	ScreeningForInteractions       *string         `json:"screening_for_interactions,omitempty"`
	MonitoringForAdverseEffects    *string         `json:"monitoring_for_adverse_effects,omitempty"`
	MedicationsReviewedOnAdmission *string         `json:"medications_reviewed_on_admission,omitempty"`
	MedicationsReviewedOnDischarge *string         `json:"medications_reviewed_on_discharge,omitempty"`
	Prescriptions                  *string         `json:"prescriptions,omitempty"`
	DrugOrders                     []DrugOrder     `json:"drug_orders"`
	TotalCost                      decimal.Decimal `json:"total_cost"`
	IsPaid                         bool            `json:"is_paid"`
	CreatedAt                      time.Time       `json:"created_at"`
	UpdatedAt                      time.Time       `json:"updated_at"`
}

// ClinicalNotes are the free-text fields shared by create and update.
type ClinicalNotes struct {
	MedicationName                 *string `json:"medication_name"`
	DosageAndRoute                 *string `json:"dosage_and_route"`
	Frequency                      *string `json:"frequency"`
	DispensationDate               *string `json:"dispensation_date" validate:"omitempty,datetime=2006-01-02"`
	ScreeningForInteractions       *string `json:"screening_for_interactions"`
	MonitoringForAdverseEffects    *string `json:"monitoring_for_adverse_effects"`
	MedicationsReviewedOnAdmission *string `json:"medications_reviewed_on_admission"`
	MedicationsReviewedOnDischarge *string `json:"medications_reviewed_on_discharge"`
	Prescriptions                  *string `json:"prescriptions"`
}

func (n ClinicalNotes) empty() bool {
	return n.MedicationName == nil && n.DosageAndRoute == nil && n.Frequency == nil &&
		n.DispensationDate == nil && n.ScreeningForInteractions == nil &&
		n.MonitoringForAdverseEffects == nil && n.MedicationsReviewedOnAdmission == nil &&
		n.MedicationsReviewedOnDischarge == nil && n.Prescriptions == nil
}

// DispensationInput is the payload of createDispensation.
type DispensationInput struct {
	BillingID  uuid.UUID   `json:"billing_id" validate:"required"`
	DrugOrders []OrderLine `json:"drug_orders" validate:"required,min=1,dive"`
	ClinicalNotes
}

// DispensationPatch is the update whitelist. Drug orders, the patient, the
// billing and the paid flag cannot be changed.
type DispensationPatch struct {
	ClinicalNotes
}

func (p DispensationPatch) Empty() bool { return p.ClinicalNotes.empty() }

// Apply copies every set field of the patch onto d.
func (p DispensationPatch) Apply(d *Dispensation) error {
	if p.DispensationDate != nil {
		t, err := parseDate("dispensation_date", p.DispensationDate)
		if err != nil {
			return err
		}
		d.DispensationDate = t
	}
	set := func(dst **string, v *string) {
		if v != nil {
			*dst = v
		}
	}
	set(&d.MedicationName, p.MedicationName)
	set(&d.DosageAndRoute, p.DosageAndRoute)
	set(&d.Frequency, p.Frequency)
	set(&d.ScreeningForInteractions, p.ScreeningForInteractions)
	set(&d.MonitoringForAdverseEffects, p.MonitoringForAdverseEffects)
	set(&d.MedicationsReviewedOnAdmission, p.MedicationsReviewedOnAdmission)
	set(&d.MedicationsReviewedOnDischarge, p.MedicationsReviewedOnDischarge)
	set(&d.Prescriptions, p.Prescriptions)
	return nil
}

// DispensationReceipt is the printable summary of a paid dispensation.
type DispensationReceipt struct {
	Dispensation *Dispensation `json:"dispensation"`
	PatientName  string        `json:"patient_name,omitempty"`
	Currency     string        `json:"currency"`
	IssuedAt     time.Time     `json:"issued_at"`
}

// WalkInInput is a stock-only sale to a customer without a patient record.
type WalkInInput struct {
	CustomerName string      `json:"customer_name" validate:"required"`
	DrugOrders   []OrderLine `json:"drug_orders" validate:"required,min=1,dive"`
}

// WalkInSale is the receipt of a completed walk-in sale.
type WalkInSale struct {
	SaleNumber    string          `json:"sale_number"`
	InvoiceNumber string          `json:"invoice_number"`
	CustomerName  string          `json:"customer_name"`
	Items         []DrugOrder     `json:"items"`
	Total         decimal.Decimal `json:"total"`
	Currency      string          `json:"currency"`
	SoldAt        time.Time       `json:"sold_at"`
}
