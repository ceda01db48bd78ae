// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// RetryAfterSeconds is advertised on concurrency conflicts.
const RetryAfterSeconds = "1"

// RespondError maps domain errors to HTTP responses using RFC7807. Errors
// matching one of conflicts are reported as 409.
func RespondError(w http.ResponseWriter, err error, conflicts ...error) {
	var (
		tracking   *shared.TrackingValidationError
		validation *shared.ValidationError
		invalid    *RequestError
	)
	switch {
	case errors.As(err, &invalid):
		WriteProblem(w, ProblemDetail{
			Type:   problemType("bad-request"),
			Title:  "Bad Request",
			Status: http.StatusBadRequest,
			Detail: invalid.Error(),
			Errors: invalid.Fields,
		})
	case errors.As(err, &tracking):
		WriteProblem(w, ProblemDetail{
			Type:     problemType("tracking"),
			Title:    "Tracking Validation Failed",
			Status:   http.StatusUnprocessableEntity,
			Detail:   tracking.Error(),
			Tracking: trackingDetail(tracking),
		})
	case errors.As(err, &validation):
		problem := ProblemDetail{
			Type:   problemType("validation"),
			Title:  "Validation Failed",
			Status: http.StatusUnprocessableEntity,
			Detail: validation.Error(),
		}
		if validation.Field != "" {
			problem.Errors = []FieldError{{Field: validation.Field, Reason: validation.Reason}}
		}
		WriteProblem(w, problem)
	case errors.Is(err, shared.ErrValidation), errors.Is(err, shared.ErrTracking):
		Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrConcurrencyConflict):
		w.Header().Set("Retry-After", RetryAfterSeconds)
		Problem(w, http.StatusConflict, "Concurrency Conflict", err.Error())
	case matchesAny(err, conflicts):
		Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func matchesAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func trackingDetail(err *shared.TrackingValidationError) *TrackingDetail {
	return &TrackingDetail{
		LineID:     err.LineID,
		ItemID:     err.ItemID,
		Reason:     err.Reason,
		Duplicates: err.Duplicates,
		Expected:   err.Expected,
		Got:        err.Got,
	}
}

func problemType(slug string) string {
	return "https://odyssey-erp.dev/problems/" + slug
}
