package identity

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/emr/emr/internal/platform/apperr"
	"github.com/emr/emr/internal/platform/db"
)

// =========== Patient Repository ===========

type patientRepoPG struct{ pool *pgxpool.Pool }

func NewPatientRepoPG(pool *pgxpool.Pool) PatientRepository { return &patientRepoPG{pool: pool} }

func (r *patientRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const patientCols = `id, patient_number, registration_number, surname, other_names, sex, date_of_birth,
	phone, email, address, next_of_kin, next_of_kin_phone, created_at, updated_at`

func (r *patientRepoPG) scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.PatientNumber, &p.RegistrationNumber, &p.Surname, &p.OtherNames, &p.Sex, &p.DateOfBirth,
		&p.Phone, &p.Email, &p.Address, &p.NextOfKin, &p.NextOfKinPhone, &p.CreatedAt, &p.UpdatedAt)
	return &p, err
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patients (id, patient_number, registration_number, surname, other_names, sex, date_of_birth,
			phone, email, address, next_of_kin, next_of_kin_phone)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING created_at, updated_at`,
		p.ID, p.PatientNumber, p.RegistrationNumber, p.Surname, p.OtherNames, p.Sex, p.DateOfBirth,
		p.Phone, p.Email, p.Address, p.NextOfKin, p.NextOfKinPhone,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	return db.TranslateError(err, "patient")
}

func (r *patientRepoPG) get(ctx context.Context, where string, arg interface{}) (*Patient, error) {
	p, err := r.scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patients WHERE `+where+` = $1`, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("patient", arg)
	}
	if err != nil {
		return nil, db.TranslateError(err, "patient")
	}
	return p, nil
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return r.get(ctx, "id", id)
}

func (r *patientRepoPG) GetByNumber(ctx context.Context, patientNumber string) (*Patient, error) {
	return r.get(ctx, "patient_number", patientNumber)
}

func (r *patientRepoPG) Search(ctx context.Context, f PatientFilter, limit, offset int) ([]*Patient, int, error) {
	q := db.NewSearchQuery("patients", patientCols)
	if f.Query != "" {
		like := "%" + f.Query + "%"
		q.Add("(surname ILIKE ? OR other_names ILIKE ? OR patient_number ILIKE ?)", like, like, like)
	}
	if f.RegistrationNumber != "" {
		q.Eq("registration_number", f.RegistrationNumber)
	}
	q.OrderBy("surname, other_names, created_at")

	var total int
	if err := r.conn(ctx).QueryRow(ctx, q.CountSQL(), q.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, db.TranslateError(err, "patient")
	}
	rows, err := r.conn(ctx).Query(ctx, q.DataSQL(), q.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, db.TranslateError(err, "patient")
	}
	defer rows.Close()
	items := []*Patient{}
	for rows.Next() {
		p, err := r.scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

// =========== Clinician Repository ===========

type clinicianRepoPG struct{ pool *pgxpool.Pool }

func NewClinicianRepoPG(pool *pgxpool.Pool) ClinicianRepository { return &clinicianRepoPG{pool: pool} }

func (r *clinicianRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const clinicianCols = `id, full_name, specialty, email, phone, is_active, created_at, updated_at`

func (r *clinicianRepoPG) scanClinician(row pgx.Row) (*Clinician, error) {
	var c Clinician
	err := row.Scan(&c.ID, &c.FullName, &c.Specialty, &c.Email, &c.Phone, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	return &c, err
}

func (r *clinicianRepoPG) Create(ctx context.Context, c *Clinician) error {
	c.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO clinicians (id, full_name, specialty, email, phone, is_active)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at, updated_at`,
		c.ID, c.FullName, c.Specialty, c.Email, c.Phone, c.IsActive,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	return db.TranslateError(err, "clinician")
}

func (r *clinicianRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Clinician, error) {
	c, err := r.scanClinician(r.conn(ctx).QueryRow(ctx, `SELECT `+clinicianCols+` FROM clinicians WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("clinician", id)
	}
	if err != nil {
		return nil, db.TranslateError(err, "clinician")
	}
	return c, nil
}

func (r *clinicianRepoPG) List(ctx context.Context, activeOnly bool, limit, offset int) ([]*Clinician, int, error) {
	q := db.NewSearchQuery("clinicians", clinicianCols)
	if activeOnly {
		q.Eq("is_active", true)
	}
	q.OrderBy("full_name")

	var total int
	if err := r.conn(ctx).QueryRow(ctx, q.CountSQL(), q.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, db.TranslateError(err, "clinician")
	}
	rows, err := r.conn(ctx).Query(ctx, q.DataSQL(), q.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, db.TranslateError(err, "clinician")
	}
	defer rows.Close()
	items := []*Clinician{}
	for rows.Next() {
		c, err := r.scanClinician(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, rows.Err()
}
