package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/emr/emr/internal/platform/apperr"
)

type FeeType string

const (
	FeeConsultation            FeeType = "consultation"
	FeeAssessment              FeeType = "assessment"
	FeeMedicalReport           FeeType = "medical_report"
	FeeLaboratory              FeeType = "laboratory"
	FeeOccupationTherapy       FeeType = "occupation_therapy"
	FeeSocialWelfare           FeeType = "social_welfare"
	FeeUtility                 FeeType = "utility"
	FeeOther                   FeeType = "other_fees"
	FeePharmacyBilling         FeeType = "pharmacy_billing"
	FeeDrugOrders              FeeType = "drug_orders"
	FeeCard                    FeeType = "card_fee"
	FeeAdmission               FeeType = "admission_fee"
	FeeForensic                FeeType = "forensic_fee"
	FeeNursingServices         FeeType = "nursing_services_fee"
	FeeDoctors                 FeeType = "doctors_fee"
	FeePsychology              FeeType = "psychology_fee"
	FeeFamilyTherapy           FeeType = "family_therapy_fee"
	FeeSurgical                FeeType = "surgical_fee"
	FeeConsumables             FeeType = "consumables_fee"
	FeeWard                    FeeType = "ward_fees"
	FeeMedicalRequest          FeeType = "medical_request_fee"
	FeePsychologicalAssessment FeeType = "psychological_assessment_fee"
	FeeOthersMedicalReport     FeeType = "others_medical_report_fee"
	FeeDrugs                   FeeType = "drugs"
	FeeDRF                     FeeType = "drf"
	FeeLRF                     FeeType = "lrf"
	FeePrescriptions           FeeType = "prescriptions"
)

var validFeeTypes = map[FeeType]bool{
	FeeConsultation: true, FeeAssessment: true, FeeMedicalReport: true, FeeLaboratory: true,
	FeeOccupationTherapy: true, FeeSocialWelfare: true, FeeUtility: true, FeeOther: true,
	FeePharmacyBilling: true, FeeDrugOrders: true, FeeCard: true, FeeAdmission: true,
	FeeForensic: true, FeeNursingServices: true, FeeDoctors: true, FeePsychology: true,
	FeeFamilyTherapy: true, FeeSurgical: true, FeeConsumables: true, FeeWard: true,
	FeeMedicalRequest: true, FeePsychologicalAssessment: true, FeeOthersMedicalReport: true,
	FeeDrugs: true, FeeDRF: true, FeeLRF: true, FeePrescriptions: true,
}

func (f FeeType) Valid() bool { return validFeeTypes[f] }

type Status string

const (
	StatusUnpaid Status = "Unpaid"
	StatusPaid   Status = "Paid"
)

type InvoiceStatus string

const (
	InvoiceNotGenerated InvoiceStatus = "not_generated"
	InvoiceGenerated    InvoiceStatus = "generated"
	InvoiceSent         InvoiceStatus = "sent"
)

type PaymentMethod string

const (
	MethodCash     PaymentMethod = "Cash"
	MethodCard     PaymentMethod = "Card"
	MethodTransfer PaymentMethod = "Transfer"
)

var validPaymentMethods = map[PaymentMethod]bool{
	MethodCash: true, MethodCard: true, MethodTransfer: true,
}

func (m PaymentMethod) Valid() bool { return validPaymentMethods[m] }

// Fee is one billable line owned by a billing. Fees are only ever replaced
// as a whole set.
type Fee struct {
	ID        uuid.UUID       `json:"id"`
	BillingID uuid.UUID       `json:"billing_id"`
	FeeType   FeeType         `json:"fee_type"`
	Amount    decimal.Decimal `json:"amount"`
}

// FeeInput is a fee line as supplied by a caller.
type FeeInput struct {
	FeeType FeeType         `json:"fee_type" validate:"required"`
	Amount  decimal.Decimal `json:"amount" validate:"gte=0"`
}

// Discount carries the two mutually exclusive discount forms. A nil field
// means no discount of that kind.
type Discount struct {
	Percentage *decimal.Decimal `json:"discount_percentage" validate:"omitempty,gte=0,lte=100"`
	Amount     *decimal.Decimal `json:"discount_amount" validate:"omitempty,gte=0"`
}

// Billing is the aggregate root tying fees, discount, invoice and payments
// together for one patient encounter.
type Billing struct {
	ID                 uuid.UUID        `json:"id"`
	PatientID          uuid.UUID        `json:"patient_id"`
	ClinicianID        uuid.UUID        `json:"clinician_id"`
	Fees               []Fee            `json:"fees"`
	Amount             decimal.Decimal  `json:"amount"`
	DiscountPercentage *decimal.Decimal `json:"discount_percentage,omitempty"`
	DiscountAmount     *decimal.Decimal `json:"discount_amount,omitempty"`
	TotalBill          decimal.Decimal  `json:"total_bill"`
	Status             Status           `json:"status"`
	InvoiceNumber      *string          `json:"invoice_number,omitempty"`
	InvoiceStatus      InvoiceStatus    `json:"invoice_status"`
	InvoiceDate        *time.Time       `json:"invoice_date,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

func (b *Billing) IsPaid() bool { return b.Status == StatusPaid }

func (b *Billing) discount() Discount {
	return Discount{Percentage: b.DiscountPercentage, Amount: b.DiscountAmount}
}

// Payment is an append-only ledger entry against a billing.
type Payment struct {
	ID            uuid.UUID       `json:"id"`
	BillingID     uuid.UUID       `json:"billing_id"`
	AmountPaid    decimal.Decimal `json:"amount_paid"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	PaymentDate   time.Time       `json:"payment_date"`
	ReceiptNumber string          `json:"receipt_number"`
}

// PaymentSummary aggregates the payments recorded against a billing.
type PaymentSummary struct {
	TotalBill decimal.Decimal `json:"total_bill"`
	Amount    decimal.Decimal `json:"amount"`
	TotalPaid decimal.Decimal `json:"total_paid"`
	Balance   decimal.Decimal `json:"balance"`
	Status    Status          `json:"status"`
}

func summarize(b *Billing, payments []*Payment) PaymentSummary {
	paid := decimal.Zero
	for _, p := range payments {
		paid = paid.Add(p.AmountPaid)
	}
	balance := b.TotalBill.Add(b.Amount).Sub(paid)
	if balance.IsNegative() {
		balance = decimal.Zero
	}
	return PaymentSummary{
		TotalBill: b.TotalBill,
		Amount:    b.Amount,
		TotalPaid: paid,
		Balance:   balance,
		Status:    b.Status,
	}
}

// CheckDiscount rejects negative values, percentages above 100, and both
// discount kinds being positive at once.
func CheckDiscount(d Discount) error {
	if d.Percentage != nil {
		if d.Percentage.IsNegative() || d.Percentage.GreaterThan(decimal.NewFromInt(100)) {
			return apperr.Validation("discount_percentage must be between 0 and 100")
		}
	}
	if d.Amount != nil && d.Amount.IsNegative() {
		return apperr.Validation("discount_amount must not be negative")
	}
	if d.Percentage != nil && d.Percentage.IsPositive() && d.Amount != nil && d.Amount.IsPositive() {
		return apperr.ConflictingDiscount()
	}
	return nil
}

// Totals is the result of pricing a billing.
type Totals struct {
	Subtotal  decimal.Decimal `json:"subtotal"`
	Discount  decimal.Decimal `json:"discount"`
	TotalBill decimal.Decimal `json:"total_bill"`
}

// CalculateTotal prices fees under d. A percentage discount takes precedence
// over a fixed amount; the total never goes below zero.
func CalculateTotal(fees []Fee, d Discount) (Totals, error) {
	if err := CheckDiscount(d); err != nil {
		return Totals{}, err
	}

	subtotal := decimal.Zero
	for _, f := range fees {
		subtotal = subtotal.Add(f.Amount)
	}

	discount := decimal.Zero
	switch {
	case d.Percentage != nil && d.Percentage.IsPositive():
		discount = subtotal.Mul(*d.Percentage).Div(decimal.NewFromInt(100))
	case d.Amount != nil && d.Amount.IsPositive():
		discount = *d.Amount
	}

	total := subtotal.Sub(discount)
	if total.IsNegative() {
		total = decimal.Zero
	}
	return Totals{Subtotal: subtotal, Discount: discount, TotalBill: total.Round(2)}, nil
}

func buildFees(billingID uuid.UUID, in []FeeInput) ([]Fee, error) {
	fees := make([]Fee, 0, len(in))
	for i, f := range in {
		if !f.FeeType.Valid() {
			return nil, apperr.Validation("fees[%d]: unknown fee type %q", i, f.FeeType)
		}
		if f.Amount.IsNegative() {
			return nil, apperr.Validation("fees[%d]: amount must not be negative", i)
		}
		fees = append(fees, Fee{BillingID: billingID, FeeType: f.FeeType, Amount: f.Amount})
	}
	return fees, nil
}

// BillingPatch lists the fields an update may change. Nil fields are left
// untouched; Fees, when set, replaces the whole fee set.
type BillingPatch struct {
	ClinicianID *uuid.UUID  `json:"clinician_id"`
	Fees        *[]FeeInput `json:"fees" validate:"omitempty,dive"`
	Discount    *Discount   `json:"discount"`
}

func (p BillingPatch) Empty() bool {
	return p.ClinicianID == nil && p.Fees == nil && p.Discount == nil
}

// Apply merges the patch into b and returns the replacement fee set when
// the patch carries one.
func (p BillingPatch) Apply(b *Billing) ([]Fee, error) {
	if p.ClinicianID != nil {
		if *p.ClinicianID == uuid.Nil {
			return nil, apperr.Validation("clinician_id must not be empty")
		}
		b.ClinicianID = *p.ClinicianID
	}
	if p.Discount != nil {
		if err := CheckDiscount(*p.Discount); err != nil {
			return nil, err
		}
		b.DiscountPercentage = p.Discount.Percentage
		b.DiscountAmount = p.Discount.Amount
	}
	if p.Fees == nil {
		return nil, nil
	}
	fees, err := buildFees(b.ID, *p.Fees)
	if err != nil {
		return nil, err
	}
	b.Fees = fees
	return fees, nil
}

// SearchParams filters billing listings. Zero values are ignored.
type SearchParams struct {
	PatientID     uuid.UUID
	ClinicianID   uuid.UUID
	InvoiceNumber string
	Status        Status
	InvoiceStatus InvoiceStatus
}

// Receipt is the printable summary of a settled billing.
type Receipt struct {
	BillingID     uuid.UUID       `json:"billing_id"`
	PatientID     uuid.UUID       `json:"patient_id"`
	PatientName   string          `json:"patient_name,omitempty"`
	ClinicianID   uuid.UUID       `json:"clinician_id"`
	ClinicianName string          `json:"clinician_name,omitempty"`
	InvoiceNumber string          `json:"invoice_number,omitempty"`
	InvoiceDate   *time.Time      `json:"invoice_date,omitempty"`
	Fees          []Fee           `json:"fees"`
	Totals        Totals          `json:"totals"`
	Amount        decimal.Decimal `json:"amount"`
	Payments      []*Payment      `json:"payments"`
	Summary       PaymentSummary  `json:"summary"`
	Currency      string          `json:"currency"`
	IssuedAt      time.Time       `json:"issued_at"`
}

// RevenueRow is the settled revenue attributed to one clinician.
type RevenueRow struct {
	ClinicianID   uuid.UUID       `json:"clinician_id"`
	ClinicianName string          `json:"clinician_name"`
	TotalRevenue  decimal.Decimal `json:"total_revenue"`
	BillingCount  int             `json:"billing_count"`
}

// RevenueReport wraps rows with the window they cover.
type RevenueReport struct {
	TimeFrame string       `json:"time_frame"`
	From      *time.Time   `json:"from,omitempty"`
	To        *time.Time   `json:"to,omitempty"`
	Rows      []RevenueRow `json:"rows"`
	Currency  string       `json:"currency"`
}
