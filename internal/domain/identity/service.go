package identity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/emr/emr/internal/platform/apperr"
)

// numberAttempts bounds retries when a generated patient or registration
// number is already taken.
const numberAttempts = 5

type Service struct {
	patients   PatientRepository
	clinicians ClinicianRepository
	logger     zerolog.Logger
	nowFn      func() time.Time
	patientNo  func() string
	regNo      func() string
}

func NewService(patients PatientRepository, clinicians ClinicianRepository, logger zerolog.Logger) *Service {
	return &Service{
		patients:   patients,
		clinicians: clinicians,
		logger:     logger.With().Str("component", "identity").Logger(),
		nowFn:      time.Now,
		patientNo:  patientNumber,
		regNo:      registrationNumber,
	}
}

func (s *Service) today() time.Time {
	y, m, d := s.nowFn().UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// -- Patient --

// CreatePatient registers a patient and assigns both numbers.
func (s *Service) CreatePatient(ctx context.Context, in PatientInput) (*Patient, error) {
	p, err := in.toPatient(s.today())
	if err != nil {
		return nil, err
	}
	for attempt := 1; attempt <= numberAttempts; attempt++ {
		p.PatientNumber = s.patientNo()
		p.RegistrationNumber = s.regNo()
		err = s.patients.Create(ctx, p)
		if !errors.Is(err, apperr.ErrDuplicate) {
			break
		}
		s.logger.Debug().Int("attempt", attempt).Msg("patient number collision")
	}
	if err != nil {
		if errors.Is(err, apperr.ErrDuplicate) {
			return nil, apperr.InvalidState("could not allocate a unique patient number")
		}
		return nil, err
	}
	s.logger.Info().
		Str("patient_id", p.ID.String()).
		Str("patient_number", p.PatientNumber).
		Msg("patient registered")
	return p, nil
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.patients.GetByID(ctx, id)
}

func (s *Service) GetPatientByNumber(ctx context.Context, number string) (*Patient, error) {
	return s.patients.GetByNumber(ctx, number)
}

func (s *Service) SearchPatients(ctx context.Context, f PatientFilter, limit, offset int) ([]*Patient, int, error) {
	return s.patients.Search(ctx, f, limit, offset)
}

// -- Clinician --

func (s *Service) CreateClinician(ctx context.Context, in ClinicianInput) (*Clinician, error) {
	c, err := in.toClinician()
	if err != nil {
		return nil, err
	}
	if err := s.clinicians.Create(ctx, c); err != nil {
		if errors.Is(err, apperr.ErrDuplicate) {
			return nil, apperr.Validation("a clinician named %q already exists", c.FullName)
		}
		return nil, err
	}
	return c, nil
}

func (s *Service) GetClinician(ctx context.Context, id uuid.UUID) (*Clinician, error) {
	return s.clinicians.GetByID(ctx, id)
}

func (s *Service) ListClinicians(ctx context.Context, activeOnly bool, limit, offset int) ([]*Clinician, int, error) {
	return s.clinicians.List(ctx, activeOnly, limit, offset)
}

// Directory resolves display names for the billing and pharmacy services.
type Directory struct {
	svc *Service
}

func NewDirectory(svc *Service) *Directory {
	return &Directory{svc: svc}
}

func (d *Directory) PatientName(ctx context.Context, id uuid.UUID) (string, error) {
	p, err := d.svc.GetPatient(ctx, id)
	if err != nil {
		return "", err
	}
	return p.FullName(), nil
}

func (d *Directory) ClinicianName(ctx context.Context, id uuid.UUID) (string, error) {
	c, err := d.svc.GetClinician(ctx, id)
	if err != nil {
		return "", err
	}
	return c.FullName, nil
}
