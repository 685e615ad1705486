package billing

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/emr/emr/internal/platform/apperr"
)

func (env *testEnv) createStandard(t *testing.T) *Billing {
	t.Helper()
	b, err := env.svc.Create(context.Background(), CreateInput{
		PatientID:   env.patient,
		ClinicianID: env.doctor,
		Fees: []FeeInput{
			{FeeType: FeeConsultation, Amount: dec("50.00")},
			{FeeType: FeeLaboratory, Amount: dec("30.00")},
		},
		Discount: Discount{Percentage: decPtr("10")},
	})
	if err != nil {
		t.Fatalf("create billing: %v", err)
	}
	return b
}

func TestService_Create(t *testing.T) {
	env := newTestEnv()
	b := env.createStandard(t)

	if !b.TotalBill.Equal(dec("72.00")) {
		t.Errorf("total = %s, want 72.00", b.TotalBill)
	}
	if b.Status != StatusUnpaid || b.InvoiceStatus != InvoiceNotGenerated {
		t.Errorf("unexpected initial state %s/%s", b.Status, b.InvoiceStatus)
	}
	if b.InvoiceNumber != nil {
		t.Error("expected no invoice number on create")
	}
	if len(b.Fees) != 2 || b.Fees[0].BillingID != b.ID {
		t.Errorf("unexpected fees %+v", b.Fees)
	}
}

func TestService_CreateValidation(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	tests := []struct {
		name string
		in   CreateInput
		want error
	}{
		{"missing patient", CreateInput{ClinicianID: env.doctor}, apperr.ErrValidation},
		{"missing clinician", CreateInput{PatientID: env.patient}, apperr.ErrValidation},
		{"unknown patient", CreateInput{PatientID: uuid.New(), ClinicianID: env.doctor}, apperr.ErrNotFound},
		{"unknown clinician", CreateInput{PatientID: env.patient, ClinicianID: uuid.New()}, apperr.ErrNotFound},
		{"unknown fee type", CreateInput{PatientID: env.patient, ClinicianID: env.doctor,
			Fees: []FeeInput{{FeeType: "gift_shop", Amount: dec("1")}}}, apperr.ErrValidation},
		{"conflicting discount", CreateInput{PatientID: env.patient, ClinicianID: env.doctor,
			Discount: Discount{Percentage: decPtr("10"), Amount: decPtr("5")}}, apperr.ErrConflictingDiscount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := env.svc.Create(ctx, tt.in); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
	if len(env.billings.items) != 0 {
		t.Errorf("expected nothing stored, got %d billings", len(env.billings.items))
	}
}

func TestService_Lifecycle(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	b := env.createStandard(t)

	inv, err := env.svc.GenerateInvoice(ctx, b.ID)
	if err != nil {
		t.Fatalf("generate invoice: %v", err)
	}
	if inv.InvoiceNumber == nil || *inv.InvoiceNumber != "INV-20260318103000" {
		t.Fatalf("unexpected invoice number %v", inv.InvoiceNumber)
	}
	if inv.InvoiceStatus != InvoiceGenerated || inv.InvoiceDate == nil {
		t.Errorf("expected generated invoice with a date, got %+v", inv)
	}

	p, err := env.svc.RecordPayment(ctx, b.ID, PaymentInput{AmountPaid: dec("72.00"), PaymentMethod: MethodCash})
	if err != nil {
		t.Fatalf("record payment: %v", err)
	}
	if !strings.HasPrefix(p.ReceiptNumber, "REC-") {
		t.Errorf("unexpected receipt number %s", p.ReceiptNumber)
	}

	got, _ := env.svc.Get(ctx, b.ID)
	if got.Status != StatusUnpaid {
		t.Fatal("a payment must not change billing status")
	}

	paid, err := env.svc.MarkPaid(ctx, b.ID)
	if err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	if paid.Status != StatusPaid {
		t.Errorf("status = %s, want Paid", paid.Status)
	}

	if _, err := env.svc.MarkPaid(ctx, b.ID); !errors.Is(err, apperr.ErrAlreadyPaid) {
		t.Errorf("expected ErrAlreadyPaid, got %v", err)
	}
	if _, err := env.svc.Update(ctx, b.ID, BillingPatch{Discount: &Discount{}}); !errors.Is(err, apperr.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState on update, got %v", err)
	}
	if err := env.svc.Delete(ctx, b.ID); !errors.Is(err, apperr.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState on delete, got %v", err)
	}
	if _, err := env.svc.SendInvoice(ctx, b.ID); !errors.Is(err, apperr.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState on send, got %v", err)
	}

	// Paid billings still accept payments.
	if _, err := env.svc.RecordPayment(ctx, b.ID, PaymentInput{AmountPaid: dec("1"), PaymentMethod: MethodCard}); err != nil {
		t.Errorf("expected payment on paid billing to succeed, got %v", err)
	}

	r, err := env.svc.Receipt(ctx, b.ID)
	if err != nil {
		t.Fatalf("receipt: %v", err)
	}
	if r.PatientName != "Ada Obi" || r.ClinicianName != "Dr. Bello" {
		t.Errorf("unexpected receipt names %q/%q", r.PatientName, r.ClinicianName)
	}
	if r.InvoiceNumber != "INV-20260318103000" || len(r.Payments) != 2 || r.Currency != "NGN" {
		t.Errorf("unexpected receipt %+v", r)
	}
	if !r.Totals.Subtotal.Equal(dec("80")) || !r.Totals.TotalBill.Equal(dec("72")) {
		t.Errorf("unexpected receipt totals %+v", r.Totals)
	}
}

func TestService_GenerateInvoiceIdempotent(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	b := env.createStandard(t)

	first, err := env.svc.GenerateInvoice(ctx, b.ID)
	if err != nil {
		t.Fatalf("first generate: %v", err)
	}
	env.svc.nowFn = func() time.Time { return testNow.Add(time.Hour) }
	second, err := env.svc.GenerateInvoice(ctx, b.ID)
	if err != nil {
		t.Fatalf("second generate: %v", err)
	}
	if *first.InvoiceNumber != *second.InvoiceNumber {
		t.Errorf("invoice number changed: %s -> %s", *first.InvoiceNumber, *second.InvoiceNumber)
	}
}

func TestService_GenerateInvoiceCollision(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	a := env.createStandard(t)
	b := env.createStandard(t)
	env.svc.suffixFn = func() int { return 4242 }

	invA, err := env.svc.GenerateInvoice(ctx, a.ID)
	if err != nil {
		t.Fatalf("generate a: %v", err)
	}
	invB, err := env.svc.GenerateInvoice(ctx, b.ID)
	if err != nil {
		t.Fatalf("generate b: %v", err)
	}
	if *invA.InvoiceNumber == *invB.InvoiceNumber {
		t.Fatal("expected distinct invoice numbers")
	}
	if *invB.InvoiceNumber != "INV-20260318103000-4242" {
		t.Errorf("unexpected retry number %s", *invB.InvoiceNumber)
	}
}

func TestService_GenerateInvoiceExhausted(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	a := env.createStandard(t)
	b := env.createStandard(t)
	c := env.createStandard(t)
	env.svc.suffixFn = func() int { return 1111 }

	if _, err := env.svc.GenerateInvoice(ctx, a.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := env.svc.GenerateInvoice(ctx, b.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := env.svc.GenerateInvoice(ctx, c.ID); err == nil {
		t.Fatal("expected error once every candidate number is taken")
	}
}

func TestService_GenerateInvoiceOnPaidBilling(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	b := env.createStandard(t)
	if _, err := env.svc.MarkPaid(ctx, b.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := env.svc.GenerateInvoice(ctx, b.ID); !errors.Is(err, apperr.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestService_SendInvoice(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	b := env.createStandard(t)

	if _, err := env.svc.SendInvoice(ctx, b.ID); !errors.Is(err, apperr.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState before generation, got %v", err)
	}
	if _, err := env.svc.GenerateInvoice(ctx, b.ID); err != nil {
		t.Fatal(err)
	}
	sent, err := env.svc.SendInvoice(ctx, b.ID)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if sent.InvoiceStatus != InvoiceSent {
		t.Errorf("invoice status = %s, want sent", sent.InvoiceStatus)
	}
	got, _ := env.svc.Get(ctx, b.ID)
	if got.InvoiceNumber == nil {
		t.Error("sending must keep the invoice number")
	}
	if _, err := env.svc.SendInvoice(ctx, b.ID); !errors.Is(err, apperr.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState on second send, got %v", err)
	}
}

func TestService_Update(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	b := env.createStandard(t)

	newFees := []FeeInput{{FeeType: FeeWard, Amount: dec("200")}}
	updated, err := env.svc.Update(ctx, b.ID, BillingPatch{
		Fees:     &newFees,
		Discount: &Discount{Amount: decPtr("25")},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !updated.TotalBill.Equal(dec("175")) {
		t.Errorf("total = %s, want 175", updated.TotalBill)
	}
	got, _ := env.svc.Get(ctx, b.ID)
	if len(got.Fees) != 1 || got.Fees[0].FeeType != FeeWard {
		t.Errorf("expected fees replaced, got %+v", got.Fees)
	}
	if got.DiscountPercentage != nil {
		t.Error("expected percentage discount cleared")
	}
}

func TestService_UpdateRejects(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	b := env.createStandard(t)

	stranger := uuid.New()
	if _, err := env.svc.Update(ctx, b.ID, BillingPatch{ClinicianID: &stranger}); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown clinician, got %v", err)
	}
	if _, err := env.svc.Update(ctx, b.ID, BillingPatch{Discount: &Discount{Percentage: decPtr("5"), Amount: decPtr("5")}}); !errors.Is(err, apperr.ErrConflictingDiscount) {
		t.Errorf("expected ErrConflictingDiscount, got %v", err)
	}
	if _, err := env.svc.Update(ctx, uuid.New(), BillingPatch{Discount: &Discount{}}); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	got, _ := env.svc.Get(ctx, b.ID)
	if !got.TotalBill.Equal(dec("72")) {
		t.Errorf("rejected updates must not change the total, got %s", got.TotalBill)
	}
}

func TestService_Delete(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	free := env.createStandard(t)
	if err := env.svc.Delete(ctx, free.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := env.svc.Get(ctx, free.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}

	paidFor := env.createStandard(t)
	if _, err := env.svc.RecordPayment(ctx, paidFor.ID, PaymentInput{AmountPaid: dec("10"), PaymentMethod: MethodTransfer}); err != nil {
		t.Fatal(err)
	}
	if err := env.svc.Delete(ctx, paidFor.ID); !errors.Is(err, apperr.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState for referenced billing, got %v", err)
	}
}

func TestService_CalculateTotal(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	b := env.createStandard(t)

	_, first, err := env.svc.CalculateTotal(ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	_, second, err := env.svc.CalculateTotal(ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !first.TotalBill.Equal(dec("72")) || !second.TotalBill.Equal(first.TotalBill) {
		t.Errorf("expected stable 72.00, got %s then %s", first.TotalBill, second.TotalBill)
	}
	if !first.Subtotal.Equal(dec("80")) || !first.Discount.Equal(dec("8")) {
		t.Errorf("unexpected breakdown %+v", first)
	}
}

func TestService_CalculateTotalPaidKeepsStoredTotal(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	b := env.createStandard(t)
	if _, err := env.svc.MarkPaid(ctx, b.ID); err != nil {
		t.Fatal(err)
	}
	// Simulate a fee row changed behind the service's back.
	env.billings.fees[b.ID][0].Amount = dec("500")

	got, totals, err := env.svc.CalculateTotal(ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !totals.TotalBill.Equal(dec("72")) || !got.TotalBill.Equal(dec("72")) {
		t.Errorf("paid billing total must not change, got %s", totals.TotalBill)
	}
}

func TestService_RecordPaymentValidation(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	b := env.createStandard(t)

	tests := []struct {
		name string
		id   uuid.UUID
		in   PaymentInput
		want error
	}{
		{"zero amount", b.ID, PaymentInput{AmountPaid: dec("0"), PaymentMethod: MethodCash}, apperr.ErrValidation},
		{"negative amount", b.ID, PaymentInput{AmountPaid: dec("-5"), PaymentMethod: MethodCash}, apperr.ErrValidation},
		{"unknown method", b.ID, PaymentInput{AmountPaid: dec("5"), PaymentMethod: "Cheque"}, apperr.ErrValidation},
		{"unknown billing", uuid.New(), PaymentInput{AmountPaid: dec("5"), PaymentMethod: MethodCash}, apperr.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := env.svc.RecordPayment(ctx, tt.id, tt.in); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestService_RecordPaymentConcurrentReceipts(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	b := env.createStandard(t)

	const n = 20
	var wg sync.WaitGroup
	receipts := make(chan string, n)
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := env.svc.RecordPayment(ctx, b.ID, PaymentInput{AmountPaid: dec("1"), PaymentMethod: MethodCash})
			if err != nil {
				errs <- err
				return
			}
			receipts <- p.ReceiptNumber
		}()
	}
	wg.Wait()
	close(receipts)
	close(errs)

	for err := range errs {
		t.Fatalf("record payment: %v", err)
	}
	seen := map[string]bool{}
	for r := range receipts {
		if seen[r] {
			t.Fatalf("duplicate receipt number %s", r)
		}
		seen[r] = true
	}
	if len(seen) != n {
		t.Errorf("expected %d receipts, got %d", n, len(seen))
	}
}

func TestService_Payments(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	b := env.createStandard(t)

	payments, summary, err := env.svc.Payments(ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if payments == nil || len(payments) != 0 || !summary.Balance.Equal(dec("72")) {
		t.Errorf("unexpected empty history %v %+v", payments, summary)
	}

	_, _ = env.svc.RecordPayment(ctx, b.ID, PaymentInput{AmountPaid: dec("30"), PaymentMethod: MethodCash})
	_, summary, _ = env.svc.Payments(ctx, b.ID)
	if !summary.TotalPaid.Equal(dec("30")) || !summary.Balance.Equal(dec("42")) {
		t.Errorf("unexpected summary %+v", summary)
	}
}

func TestService_ReceiptRequiresPaid(t *testing.T) {
	env := newTestEnv()
	b := env.createStandard(t)
	if _, err := env.svc.Receipt(context.Background(), b.ID); !errors.Is(err, apperr.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestService_Search(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	a := env.createStandard(t)
	env.createStandard(t)
	if _, err := env.svc.MarkPaid(ctx, a.ID); err != nil {
		t.Fatal(err)
	}

	items, total, err := env.svc.Search(ctx, SearchParams{Status: StatusPaid}, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || items[0].ID != a.ID || len(items[0].Fees) != 2 {
		t.Errorf("unexpected search result total=%d items=%+v", total, items)
	}

	if _, _, err := env.svc.Search(ctx, SearchParams{Status: "Overdue"}, 10, 0); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected ErrValidation for bad status, got %v", err)
	}

	_, total, _ = env.svc.ListByPatient(ctx, env.patient, 10, 0)
	if total != 2 {
		t.Errorf("expected 2 billings for patient, got %d", total)
	}
}

func TestService_CreditDispensation(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	b := env.createStandard(t)

	if err := env.svc.CreditDispensation(ctx, b.ID, env.patient, dec("150.50")); err != nil {
		t.Fatalf("credit: %v", err)
	}
	got, _ := env.svc.Get(ctx, b.ID)
	if !got.Amount.Equal(dec("150.50")) {
		t.Errorf("amount = %s, want 150.50", got.Amount)
	}
	if !got.TotalBill.Equal(dec("72")) {
		t.Error("a dispensation credit must not change total_bill")
	}

	_, summary, _ := env.svc.Payments(ctx, b.ID)
	if !summary.Balance.Equal(dec("222.50")) {
		t.Errorf("balance = %s, want 222.50", summary.Balance)
	}

	if err := env.svc.CreditDispensation(ctx, b.ID, uuid.New(), dec("1")); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected ErrValidation for another patient's billing, got %v", err)
	}
	if err := env.svc.CreditDispensation(ctx, uuid.New(), env.patient, dec("1")); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing billing, got %v", err)
	}
	if _, err := env.svc.MarkPaid(ctx, b.ID); err != nil {
		t.Fatal(err)
	}
	if err := env.svc.CreditDispensation(ctx, b.ID, env.patient, dec("1")); !errors.Is(err, apperr.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState for paid billing, got %v", err)
	}
}

func TestRevenueWindow(t *testing.T) {
	// Wednesday.
	now := time.Date(2026, 3, 18, 15, 0, 0, 0, time.UTC)
	day := func(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

	tests := []struct {
		name      string
		req       RevenueRequest
		wantFrame string
		wantFrom  time.Time
		wantTo    time.Time
	}{
		{"day", RevenueRequest{TimeFrame: "day"}, "day", day(2026, 3, 18), day(2026, 3, 19)},
		{"week starts monday", RevenueRequest{TimeFrame: "week"}, "week", day(2026, 3, 16), day(2026, 3, 19)},
		{"month", RevenueRequest{TimeFrame: "month"}, "month", day(2026, 3, 1), day(2026, 3, 19)},
		{"year", RevenueRequest{TimeFrame: "year"}, "year", day(2026, 1, 1), day(2026, 3, 19)},
		{"custom overrides frame", RevenueRequest{TimeFrame: "day", StartDate: "2026-02-01", EndDate: "2026-02-28"},
			"custom", day(2026, 2, 1), day(2026, 3, 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, from, to, err := revenueWindow(now, tt.req)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if frame != tt.wantFrame {
				t.Errorf("frame = %s, want %s", frame, tt.wantFrame)
			}
			if from == nil || !from.Equal(tt.wantFrom) {
				t.Errorf("from = %v, want %v", from, tt.wantFrom)
			}
			if to == nil || !to.Equal(tt.wantTo) {
				t.Errorf("to = %v, want %v", to, tt.wantTo)
			}
		})
	}
}

func TestRevenueWindow_SundayWeek(t *testing.T) {
	sunday := time.Date(2026, 3, 22, 9, 0, 0, 0, time.UTC)
	_, from, _, err := revenueWindow(sunday, RevenueRequest{TimeFrame: "week"})
	if err != nil {
		t.Fatal(err)
	}
	if !from.Equal(time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("week of a Sunday should start the previous Monday, got %v", from)
	}
}

func TestRevenueWindow_Total(t *testing.T) {
	frame, from, to, err := revenueWindow(time.Now(), RevenueRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if frame != "total" || from != nil || to != nil {
		t.Errorf("expected unbounded total, got %s %v %v", frame, from, to)
	}
}

func TestRevenueWindow_Invalid(t *testing.T) {
	tests := []RevenueRequest{
		{TimeFrame: "fortnight"},
		{StartDate: "2026-03-01"},
		{EndDate: "2026-03-01"},
		{StartDate: "03/01/2026", EndDate: "2026-03-05"},
		{StartDate: "2026-03-05", EndDate: "2026-03-01"},
	}
	for _, req := range tests {
		if _, _, _, err := revenueWindow(time.Now(), req); !errors.Is(err, apperr.ErrValidation) {
			t.Errorf("%+v: expected ErrValidation, got %v", req, err)
		}
	}
}

func TestService_RevenueByClinician(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	paid := env.createStandard(t)
	env.createStandard(t)
	if _, err := env.svc.GenerateInvoice(ctx, paid.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := env.svc.MarkPaid(ctx, paid.ID); err != nil {
		t.Fatal(err)
	}

	report, err := env.svc.RevenueByClinician(ctx, RevenueRequest{TimeFrame: "day"})
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(report.Rows))
	}
	row := report.Rows[0]
	if row.ClinicianID != env.doctor || row.BillingCount != 1 || !row.TotalRevenue.Equal(dec("72")) {
		t.Errorf("unexpected row %+v", row)
	}

	empty, err := env.svc.RevenueByClinician(ctx, RevenueRequest{StartDate: "2025-01-01", EndDate: "2025-01-31"})
	if err != nil {
		t.Fatal(err)
	}
	if empty.Rows == nil || len(empty.Rows) != 0 || empty.TimeFrame != "custom" {
		t.Errorf("expected empty custom report, got %+v", empty)
	}
}
