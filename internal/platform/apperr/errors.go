// Package apperr defines the error kinds surfaced by the billing and pharmacy
// services and their mapping onto HTTP responses.
package apperr

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Error kinds. Services wrap one of these so callers can test with errors.Is.
var (
	ErrValidation          = errors.New("validation error")
	ErrConflictingDiscount = errors.New("conflicting discount")
	ErrInvalidState        = errors.New("invalid state")
	ErrAlreadyPaid         = errors.New("already paid")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrNotFound            = errors.New("not found")
	ErrDuplicate           = errors.New("duplicate")
)

// Validation wraps ErrValidation with a formatted message.
func Validation(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// InvalidState wraps ErrInvalidState with a formatted message.
func InvalidState(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
}

// AlreadyPaid reports a repeated terminal transition on the named resource.
func AlreadyPaid(resource string, id uuid.UUID) error {
	return fmt.Errorf("%w: %s %s", ErrAlreadyPaid, resource, id)
}

// NotFound reports a missing resource.
func NotFound(resource string, id interface{}) error {
	return fmt.Errorf("%w: %s %v", ErrNotFound, resource, id)
}

// ConflictingDiscount is returned when both discount kinds are positive.
func ConflictingDiscount() error {
	return fmt.Errorf("%w: provide either a percentage discount or a fixed amount discount, not both", ErrConflictingDiscount)
}

// InsufficientStockError identifies the first drug whose stock could not
// cover the requested quantity.
type InsufficientStockError struct {
	DrugID    uuid.UUID
	DrugName  string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	name := e.DrugName
	if name == "" {
		name = e.DrugID.String()
	}
	return fmt.Sprintf("insufficient stock for drug %s: available %d, requested %d", name, e.Available, e.Requested)
}

// Is lets errors.Is(err, ErrInsufficientStock) match the structured error.
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}
