package apperr

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

// StatusCode returns the HTTP status for err's kind, or 500 when err carries
// no known kind.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrConflictingDiscount):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidState),
		errors.Is(err, ErrAlreadyPaid),
		errors.Is(err, ErrInsufficientStock),
		errors.Is(err, ErrDuplicate):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// HTTPError converts a service error into an echo error. Unknown errors are
// reported as a bare 500 so driver details never reach the client; the
// original error is kept as Internal for the request logger.
func HTTPError(err error) *echo.HTTPError {
	status := StatusCode(err)
	if status == http.StatusInternalServerError {
		return echo.NewHTTPError(status, "internal server error").SetInternal(err)
	}
	he := echo.NewHTTPError(status, err.Error())
	var stockErr *InsufficientStockError
	if errors.As(err, &stockErr) {
		he.Message = map[string]interface{}{
			"message":   stockErr.Error(),
			"drug_id":   stockErr.DrugID,
			"drug_name": stockErr.DrugName,
			"available": stockErr.Available,
			"requested": stockErr.Requested,
		}
	}
	return he
}
