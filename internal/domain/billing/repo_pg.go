package billing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/emr/emr/internal/platform/apperr"
	"github.com/emr/emr/internal/platform/db"
)

// =========== Billing Repository ===========

type billingRepoPG struct{ pool *pgxpool.Pool }

func NewBillingRepoPG(pool *pgxpool.Pool) BillingRepository { return &billingRepoPG{pool: pool} }

func (r *billingRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const billingCols = `id, patient_id, clinician_id, amount, discount_percentage, discount_amount,
	total_bill, status, invoice_number, invoice_status, invoice_date, created_at, updated_at`

func (r *billingRepoPG) scanBilling(row pgx.Row) (*Billing, error) {
	var b Billing
	err := row.Scan(&b.ID, &b.PatientID, &b.ClinicianID, &b.Amount, &b.DiscountPercentage, &b.DiscountAmount,
		&b.TotalBill, &b.Status, &b.InvoiceNumber, &b.InvoiceStatus, &b.InvoiceDate, &b.CreatedAt, &b.UpdatedAt)
	return &b, err
}

func (r *billingRepoPG) get(ctx context.Context, id uuid.UUID, suffix string) (*Billing, error) {
	b, err := r.scanBilling(r.conn(ctx).QueryRow(ctx, `SELECT `+billingCols+` FROM billings WHERE id = $1`+suffix, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("billing", id)
	}
	if err != nil {
		return nil, db.TranslateError(err, "billing")
	}
	return b, nil
}

func (r *billingRepoPG) Create(ctx context.Context, b *Billing) error {
	b.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO billings (id, patient_id, clinician_id, amount, discount_percentage, discount_amount,
			total_bill, status, invoice_number, invoice_status, invoice_date)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at, updated_at`,
		b.ID, b.PatientID, b.ClinicianID, b.Amount, b.DiscountPercentage, b.DiscountAmount,
		b.TotalBill, b.Status, b.InvoiceNumber, b.InvoiceStatus, b.InvoiceDate,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	return db.TranslateError(err, "billing")
}

func (r *billingRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Billing, error) {
	return r.get(ctx, id, "")
}

func (r *billingRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Billing, error) {
	return r.get(ctx, id, " FOR UPDATE")
}

func (r *billingRepoPG) Update(ctx context.Context, b *Billing) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE billings SET clinician_id=$2, discount_percentage=$3, discount_amount=$4,
			total_bill=$5, status=$6, invoice_status=$7, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		b.ID, b.ClinicianID, b.DiscountPercentage, b.DiscountAmount,
		b.TotalBill, b.Status, b.InvoiceStatus,
	).Scan(&b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("billing", b.ID)
	}
	return db.TranslateError(err, "billing")
}

func (r *billingRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM billings WHERE id = $1`, id)
	if err != nil {
		return db.TranslateError(err, "billing")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("billing", id)
	}
	return nil
}

func (r *billingRepoPG) AssignInvoiceNumber(ctx context.Context, id uuid.UUID, number string, at time.Time) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE billings SET invoice_number=$2, invoice_date=$3, invoice_status=$4, updated_at=NOW()
		WHERE id = $1 AND invoice_number IS NULL AND status = $5`,
		id, number, at, InvoiceGenerated, StatusUnpaid)
	if err != nil {
		return false, db.TranslateError(err, "invoice number")
	}
	return tag.RowsAffected() == 1, nil
}

func (r *billingRepoPG) AddAmount(ctx context.Context, id uuid.UUID, delta decimal.Decimal) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE billings SET amount = amount + $2, updated_at = NOW() WHERE id = $1`, id, delta)
	if err != nil {
		return db.TranslateError(err, "billing")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("billing", id)
	}
	return nil
}

func (r *billingRepoPG) list(ctx context.Context, q *db.SearchQuery, limit, offset int) ([]*Billing, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, q.CountSQL(), q.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, db.TranslateError(err, "billing")
	}
	rows, err := r.conn(ctx).Query(ctx, q.DataSQL(), q.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, db.TranslateError(err, "billing")
	}
	defer rows.Close()
	items := []*Billing{}
	for rows.Next() {
		b, err := r.scanBilling(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, b)
	}
	return items, total, rows.Err()
}

func (r *billingRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Billing, int, error) {
	q := db.NewSearchQuery("billings", billingCols)
	q.Eq("patient_id", patientID)
	q.OrderBy("created_at DESC")
	return r.list(ctx, q, limit, offset)
}

func (r *billingRepoPG) Search(ctx context.Context, p SearchParams, limit, offset int) ([]*Billing, int, error) {
	q := db.NewSearchQuery("billings", billingCols)
	if p.PatientID != uuid.Nil {
		q.Eq("patient_id", p.PatientID)
	}
	if p.ClinicianID != uuid.Nil {
		q.Eq("clinician_id", p.ClinicianID)
	}
	if p.InvoiceNumber != "" {
		q.Contains("invoice_number", p.InvoiceNumber)
	}
	if p.Status != "" {
		q.Eq("status", p.Status)
	}
	if p.InvoiceStatus != "" {
		q.Eq("invoice_status", p.InvoiceStatus)
	}
	q.OrderBy("created_at DESC")
	return r.list(ctx, q, limit, offset)
}

func (r *billingRepoPG) RevenueByClinician(ctx context.Context, rq RevenueQuery) ([]RevenueRow, error) {
	q := db.NewSearchQuery("billings b", "")
	q.Eq("b.status", StatusPaid)
	if rq.From != nil {
		q.Add("b.invoice_date >= ?", *rq.From)
	}
	if rq.To != nil {
		q.Add("b.invoice_date < ?", *rq.To)
	}
	if rq.ClinicianID != uuid.Nil {
		q.Eq("b.clinician_id", rq.ClinicianID)
	}
	where, args := q.Where()

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT b.clinician_id, COALESCE(c.full_name, ''), COALESCE(SUM(b.total_bill), 0), COUNT(*)
		FROM billings b LEFT JOIN clinicians c ON c.id = b.clinician_id`+where+`
		GROUP BY b.clinician_id, c.full_name
		ORDER BY 3 DESC`, args...)
	if err != nil {
		return nil, db.TranslateError(err, "revenue")
	}
	defer rows.Close()
	var out []RevenueRow
	for rows.Next() {
		var row RevenueRow
		if err := rows.Scan(&row.ClinicianID, &row.ClinicianName, &row.TotalRevenue, &row.BillingCount); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// -- Fees --

func (r *billingRepoPG) ReplaceFees(ctx context.Context, billingID uuid.UUID, fees []Fee) error {
	if _, err := r.conn(ctx).Exec(ctx, `DELETE FROM fees WHERE billing_id = $1`, billingID); err != nil {
		return db.TranslateError(err, "fee")
	}
	if len(fees) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for i := range fees {
		fees[i].ID = uuid.New()
		fees[i].BillingID = billingID
		batch.Queue(`INSERT INTO fees (id, billing_id, fee_type, amount, position) VALUES ($1, $2, $3, $4, $5)`,
			fees[i].ID, billingID, fees[i].FeeType, fees[i].Amount, i)
	}
	br := r.conn(ctx).SendBatch(ctx, batch)
	defer br.Close()
	for range fees {
		if _, err := br.Exec(); err != nil {
			return db.TranslateError(err, "fee")
		}
	}
	return nil
}

func (r *billingRepoPG) ListFees(ctx context.Context, billingIDs ...uuid.UUID) (map[uuid.UUID][]Fee, error) {
	out := make(map[uuid.UUID][]Fee, len(billingIDs))
	if len(billingIDs) == 0 {
		return out, nil
	}
	ids := make([]string, len(billingIDs))
	for i, id := range billingIDs {
		ids[i] = id.String()
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, billing_id, fee_type, amount FROM fees
		WHERE billing_id = ANY($1::uuid[])
		ORDER BY billing_id, position`, ids)
	if err != nil {
		return nil, db.TranslateError(err, "fee")
	}
	defer rows.Close()
	for rows.Next() {
		var f Fee
		if err := rows.Scan(&f.ID, &f.BillingID, &f.FeeType, &f.Amount); err != nil {
			return nil, err
		}
		out[f.BillingID] = append(out[f.BillingID], f)
	}
	return out, rows.Err()
}

// =========== Payment Repository ===========

type paymentRepoPG struct{ pool *pgxpool.Pool }

func NewPaymentRepoPG(pool *pgxpool.Pool) PaymentRepository { return &paymentRepoPG{pool: pool} }

func (r *paymentRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const paymentCols = `id, billing_id, amount_paid, payment_method, payment_date, receipt_number`

func (r *paymentRepoPG) Create(ctx context.Context, p *Payment) error {
	p.ID = uuid.New()
	// ON CONFLICT keeps a receipt collision from aborting an enclosing
	// transaction.
	var id uuid.UUID
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO payments (`+paymentCols+`)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (receipt_number) DO NOTHING
		RETURNING id`,
		p.ID, p.BillingID, p.AmountPaid, p.PaymentMethod, p.PaymentDate, p.ReceiptNumber,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.ErrDuplicate
	}
	if err != nil {
		if errors.Is(db.TranslateError(err, "payment"), apperr.ErrInvalidState) {
			return apperr.NotFound("billing", p.BillingID)
		}
		return db.TranslateError(err, "payment")
	}
	return nil
}

func (r *paymentRepoPG) ListByBilling(ctx context.Context, billingID uuid.UUID) ([]*Payment, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+paymentCols+` FROM payments WHERE billing_id = $1 ORDER BY payment_date, receipt_number`, billingID)
	if err != nil {
		return nil, db.TranslateError(err, "payment")
	}
	defer rows.Close()
	items := []*Payment{}
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.BillingID, &p.AmountPaid, &p.PaymentMethod, &p.PaymentDate, &p.ReceiptNumber); err != nil {
			return nil, err
		}
		items = append(items, &p)
	}
	return items, rows.Err()
}
