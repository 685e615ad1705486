package identity

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/emr/emr/internal/platform/apperr"
)

const dateLayout = "2006-01-02"

// Patient is the minimal registration record billings and dispensations
// point to.
type Patient struct {
	ID                 uuid.UUID  `json:"id"`
	PatientNumber      string     `json:"patient_number"`
	RegistrationNumber string     `json:"registration_number"`
	Surname            string     `json:"surname"`
	OtherNames         string     `json:"other_names"`
	Sex                string     `json:"sex"`
	DateOfBirth        *time.Time `json:"date_of_birth,omitempty"`
	Phone              *string    `json:"phone,omitempty"`
	Email              *string    `json:"email,omitempty"`
	Address            *string    `json:"address,omitempty"`
	NextOfKin          *string    `json:"next_of_kin,omitempty"`
	NextOfKinPhone     *string    `json:"next_of_kin_phone,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// FullName renders the patient the way receipts print it.
func (p *Patient) FullName() string {
	return strings.TrimSpace(p.OtherNames + " " + p.Surname)
}

// Age in whole years on the given day, or -1 without a date of birth.
func (p *Patient) Age(on time.Time) int {
	if p.DateOfBirth == nil {
		return -1
	}
	dob := *p.DateOfBirth
	years := on.Year() - dob.Year()
	if on.Month() < dob.Month() || (on.Month() == dob.Month() && on.Day() < dob.Day()) {
		years--
	}
	return years
}

type PatientInput struct {
	Surname        string  `json:"surname" validate:"required,max=100"`
	OtherNames     string  `json:"other_names" validate:"required,max=150"`
	Sex            string  `json:"sex" validate:"required,oneof=male female other"`
	DateOfBirth    *string `json:"date_of_birth" validate:"omitempty,datetime=2006-01-02"`
	Phone          *string `json:"phone" validate:"omitempty,max=30"`
	Email          *string `json:"email" validate:"omitempty,email"`
	Address        *string `json:"address"`
	NextOfKin      *string `json:"next_of_kin"`
	NextOfKinPhone *string `json:"next_of_kin_phone" validate:"omitempty,max=30"`
}

var sexes = map[string]bool{"male": true, "female": true, "other": true}

func (in PatientInput) toPatient(today time.Time) (*Patient, error) {
	surname := strings.TrimSpace(in.Surname)
	others := strings.TrimSpace(in.OtherNames)
	if surname == "" || others == "" {
		return nil, apperr.Validation("surname and other_names are required")
	}
	sex := strings.ToLower(strings.TrimSpace(in.Sex))
	if !sexes[sex] {
		return nil, apperr.Validation("sex must be one of male, female, other")
	}
	p := &Patient{
		Surname:        surname,
		OtherNames:     others,
		Sex:            sex,
		Phone:          in.Phone,
		Email:          in.Email,
		Address:        in.Address,
		NextOfKin:      in.NextOfKin,
		NextOfKinPhone: in.NextOfKinPhone,
	}
	if in.DateOfBirth != nil && *in.DateOfBirth != "" {
		dob, err := time.Parse(dateLayout, *in.DateOfBirth)
		if err != nil {
			return nil, apperr.Validation("invalid date_of_birth %q, use YYYY-MM-DD", *in.DateOfBirth)
		}
		if dob.After(today) {
			return nil, apperr.Validation("date_of_birth cannot be in the future")
		}
		p.DateOfBirth = &dob
	}
	return p, nil
}

// PatientFilter narrows a patient search. Query matches either name or the
// patient number.
type PatientFilter struct {
	Query              string
	RegistrationNumber string
}

// Clinician is a doctor billings are attributed to.
type Clinician struct {
	ID        uuid.UUID `json:"id"`
	FullName  string    `json:"full_name"`
	Specialty *string   `json:"specialty,omitempty"`
	Email     *string   `json:"email,omitempty"`
	Phone     *string   `json:"phone,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ClinicianInput struct {
	FullName  string  `json:"full_name" validate:"required,max=100"`
	Specialty *string `json:"specialty" validate:"omitempty,max=100"`
	Email     *string `json:"email" validate:"omitempty,email"`
	Phone     *string `json:"phone" validate:"omitempty,max=30"`
}

func (in ClinicianInput) toClinician() (*Clinician, error) {
	name := strings.TrimSpace(in.FullName)
	if name == "" {
		return nil, apperr.Validation("full_name is required")
	}
	return &Clinician{
		FullName:  name,
		Specialty: in.Specialty,
		Email:     in.Email,
		Phone:     in.Phone,
		IsActive:  true,
	}, nil
}
