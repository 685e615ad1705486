package pharmacy

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/emr/emr/internal/platform/apperr"
	"github.com/emr/emr/internal/platform/db"
)

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

// =========== Drug Repository ===========

type drugRepoPG struct{ pool *pgxpool.Pool }

func NewDrugRepoPG(pool *pgxpool.Pool) DrugRepository { return &drugRepoPG{pool: pool} }

func (r *drugRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const drugFrom = `drugs d LEFT JOIN stock s ON s.drug_id = d.id`

const drugCols = `d.id, d.name, d.description, d.dosage, d.instructions, d.prescribed_date, d.price,
	d.is_active, d.expiration_date, COALESCE(s.quantity, 0), d.created_at, d.updated_at`

func (r *drugRepoPG) scanDrug(row pgx.Row) (*Drug, error) {
	var d Drug
	err := row.Scan(&d.ID, &d.Name, &d.Description, &d.Dosage, &d.Instructions, &d.PrescribedDate, &d.Price,
		&d.IsActive, &d.ExpirationDate, &d.TotalStock, &d.CreatedAt, &d.UpdatedAt)
	return &d, err
}

func (r *drugRepoPG) Create(ctx context.Context, d *Drug) error {
	d.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO drugs (id, name, description, dosage, instructions, prescribed_date, price, is_active, expiration_date)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at, updated_at`,
		d.ID, d.Name, d.Description, d.Dosage, d.Instructions, d.PrescribedDate, d.Price, d.IsActive, d.ExpirationDate,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
	return db.TranslateError(err, "drug")
}

func (r *drugRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Drug, error) {
	d, err := r.scanDrug(r.conn(ctx).QueryRow(ctx, `SELECT `+drugCols+` FROM `+drugFrom+` WHERE d.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("drug", id)
	}
	if err != nil {
		return nil, db.TranslateError(err, "drug")
	}
	return d, nil
}

func (r *drugRepoPG) GetMany(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*Drug, error) {
	out := make(map[uuid.UUID]*Drug, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+drugCols+` FROM `+drugFrom+` WHERE d.id = ANY($1::uuid[])`, uuidStrings(ids))
	if err != nil {
		return nil, db.TranslateError(err, "drug")
	}
	defer rows.Close()
	for rows.Next() {
		d, err := r.scanDrug(rows)
		if err != nil {
			return nil, err
		}
		out[d.ID] = d
	}
	return out, rows.Err()
}

func (r *drugRepoPG) Update(ctx context.Context, d *Drug) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE drugs SET name=$2, description=$3, dosage=$4, instructions=$5, prescribed_date=$6,
			price=$7, is_active=$8, expiration_date=$9, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		d.ID, d.Name, d.Description, d.Dosage, d.Instructions, d.PrescribedDate,
		d.Price, d.IsActive, d.ExpirationDate,
	).Scan(&d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("drug", d.ID)
	}
	return db.TranslateError(err, "drug")
}

func (r *drugRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM drugs WHERE id = $1`, id)
	if err != nil {
		return db.TranslateError(err, "drug")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("drug", id)
	}
	return nil
}

func (r *drugRepoPG) List(ctx context.Context, f DrugFilter, limit, offset int) ([]*Drug, int, error) {
	q := db.NewSearchQuery(drugFrom, drugCols)
	if f.Name != "" {
		q.Contains("d.name", f.Name)
	}
	if f.ActiveOnly {
		q.Eq("d.is_active", true)
	}
	q.OrderBy("d.name")

	var total int
	if err := r.conn(ctx).QueryRow(ctx, q.CountSQL(), q.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, db.TranslateError(err, "drug")
	}
	rows, err := r.conn(ctx).Query(ctx, q.DataSQL(), q.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, db.TranslateError(err, "drug")
	}
	defer rows.Close()
	items := []*Drug{}
	for rows.Next() {
		d, err := r.scanDrug(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, d)
	}
	return items, total, rows.Err()
}

// =========== Stock Repository ===========

type stockRepoPG struct{ pool *pgxpool.Pool }

func NewStockRepoPG(pool *pgxpool.Pool) StockRepository { return &stockRepoPG{pool: pool} }

func (r *stockRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const stockCols = `id, drug_id, quantity, last_updated`

func scanStock(row pgx.Row) (*Stock, error) {
	var s Stock
	err := row.Scan(&s.ID, &s.DrugID, &s.Quantity, &s.LastUpdated)
	return &s, err
}

func (r *stockRepoPG) Create(ctx context.Context, drugID uuid.UUID, at time.Time) (*Stock, error) {
	s := &Stock{ID: uuid.New(), DrugID: drugID, LastUpdated: at}
	_, err := r.conn(ctx).Exec(ctx,
		`INSERT INTO stock (`+stockCols+`) VALUES ($1, $2, 0, $3)`, s.ID, drugID, at)
	if err != nil {
		return nil, db.TranslateError(err, "stock")
	}
	return s, nil
}

func (r *stockRepoPG) GetByDrug(ctx context.Context, drugID uuid.UUID) (*Stock, error) {
	s, err := scanStock(r.conn(ctx).QueryRow(ctx, `SELECT `+stockCols+` FROM stock WHERE drug_id = $1`, drugID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("stock for drug", drugID)
	}
	if err != nil {
		return nil, db.TranslateError(err, "stock")
	}
	return s, nil
}

func (r *stockRepoPG) GetManyForUpdate(ctx context.Context, drugIDs []uuid.UUID) (map[uuid.UUID]*Stock, error) {
	out := make(map[uuid.UUID]*Stock, len(drugIDs))
	if len(drugIDs) == 0 {
		return out, nil
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+stockCols+` FROM stock
		WHERE drug_id = ANY($1::uuid[])
		ORDER BY drug_id
		FOR UPDATE`, uuidStrings(drugIDs))
	if err != nil {
		return nil, db.TranslateError(err, "stock")
	}
	defer rows.Close()
	for rows.Next() {
		s, err := scanStock(rows)
		if err != nil {
			return nil, err
		}
		out[s.DrugID] = s
	}
	return out, rows.Err()
}

func (r *stockRepoPG) Adjust(ctx context.Context, drugID uuid.UUID, delta int, at time.Time) (*Stock, bool, error) {
	s, err := scanStock(r.conn(ctx).QueryRow(ctx, `
		UPDATE stock SET quantity = quantity + $2, last_updated = $3
		WHERE drug_id = $1 AND quantity + $2 >= 0
		RETURNING `+stockCols, drugID, delta, at))
	if err == nil {
		return s, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, db.TranslateError(err, "stock")
	}
	// Either the row is missing or the guard refused the change.
	cur, err := r.GetByDrug(ctx, drugID)
	if err != nil {
		return nil, false, err
	}
	return cur, false, nil
}

// =========== Dispensation Repository ===========

type dispensationRepoPG struct{ pool *pgxpool.Pool }

func NewDispensationRepoPG(pool *pgxpool.Pool) DispensationRepository {
	return &dispensationRepoPG{pool: pool}
}

func (r *dispensationRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const dispensationCols = `id, patient_id, billing_id, medication_name, dosage_and_route, frequency,
	dispensation_date, screening_for_interactions, monitoring_for_adverse_effects,
	medications_reviewed_on_admission, medications_reviewed_on_discharge, prescriptions,
	drug_orders, total_cost, is_paid, created_at, updated_at`

func (r *dispensationRepoPG) scanDispensation(row pgx.Row) (*Dispensation, error) {
	var d Dispensation
	err := row.Scan(&d.ID, &d.PatientID, &d.BillingID, &d.MedicationName, &d.DosageAndRoute, &d.Frequency,
		&d.DispensationDate, &d.ScreeningForInteractions, &d.MonitoringForAdverseEffects,
		&d.MedicationsReviewedOnAdmission, &d.MedicationsReviewedOnDischarge, &d.Prescriptions,
		&d.DrugOrders, &d.TotalCost, &d.IsPaid, &d.CreatedAt, &d.UpdatedAt)
	if d.DrugOrders == nil {
		d.DrugOrders = []DrugOrder{}
	}
	return &d, err
}

func (r *dispensationRepoPG) get(ctx context.Context, id uuid.UUID, suffix string) (*Dispensation, error) {
	d, err := r.scanDispensation(r.conn(ctx).QueryRow(ctx,
		`SELECT `+dispensationCols+` FROM dispensations WHERE id = $1`+suffix, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("dispensation", id)
	}
	if err != nil {
		return nil, db.TranslateError(err, "dispensation")
	}
	return d, nil
}

func (r *dispensationRepoPG) Create(ctx context.Context, d *Dispensation) error {
	d.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO dispensations (id, patient_id, billing_id, medication_name, dosage_and_route, frequency,
			dispensation_date, screening_for_interactions, monitoring_for_adverse_effects,
			medications_reviewed_on_admission, medications_reviewed_on_discharge, prescriptions,
			drug_orders, total_cost, is_paid)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		RETURNING created_at, updated_at`,
		d.ID, d.PatientID, d.BillingID, d.MedicationName, d.DosageAndRoute, d.Frequency,
		d.DispensationDate, d.ScreeningForInteractions, d.MonitoringForAdverseEffects,
		d.MedicationsReviewedOnAdmission, d.MedicationsReviewedOnDischarge, d.Prescriptions,
		d.DrugOrders, d.TotalCost, d.IsPaid,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			if strings.Contains(pgErr.ConstraintName, "patient") {
				return apperr.NotFound("patient", d.PatientID)
			}
			return apperr.NotFound("billing", d.BillingID)
		}
		return db.TranslateError(err, "dispensation")
	}
	return nil
}

func (r *dispensationRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Dispensation, error) {
	return r.get(ctx, id, "")
}

func (r *dispensationRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Dispensation, error) {
	return r.get(ctx, id, " FOR UPDATE")
}

// Update writes the clinical notes and the paid flag. Drug orders and totals
// are immutable.
func (r *dispensationRepoPG) Update(ctx context.Context, d *Dispensation) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE dispensations SET medication_name=$2, dosage_and_route=$3, frequency=$4,
			dispensation_date=$5, screening_for_interactions=$6, monitoring_for_adverse_effects=$7,
			medications_reviewed_on_admission=$8, medications_reviewed_on_discharge=$9,
			prescriptions=$10, is_paid=$11, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		d.ID, d.MedicationName, d.DosageAndRoute, d.Frequency,
		d.DispensationDate, d.ScreeningForInteractions, d.MonitoringForAdverseEffects,
		d.MedicationsReviewedOnAdmission, d.MedicationsReviewedOnDischarge,
		d.Prescriptions, d.IsPaid,
	).Scan(&d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("dispensation", d.ID)
	}
	return db.TranslateError(err, "dispensation")
}

func (r *dispensationRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM dispensations WHERE id = $1`, id)
	if err != nil {
		return db.TranslateError(err, "dispensation")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("dispensation", id)
	}
	return nil
}

func (r *dispensationRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Dispensation, int, error) {
	q := db.NewSearchQuery("dispensations", dispensationCols)
	q.Eq("patient_id", patientID)
	q.OrderBy("created_at DESC")

	var total int
	if err := r.conn(ctx).QueryRow(ctx, q.CountSQL(), q.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, db.TranslateError(err, "dispensation")
	}
	rows, err := r.conn(ctx).Query(ctx, q.DataSQL(), q.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, db.TranslateError(err, "dispensation")
	}
	defer rows.Close()
	items := []*Dispensation{}
	for rows.Next() {
		d, err := r.scanDispensation(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, d)
	}
	return items, total, rows.Err()
}
