package httpx

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// DateLayout is the wire format of business dates.
const DateLayout = "2006-01-02"

func paramError(name, reason string) error {
	return &RequestError{Message: "invalid parameter", Fields: []FieldError{{Field: name, Reason: reason}}}
}

// PathInt64 parses a positive integer URL parameter.
func PathInt64(r *http.Request, name string) (int64, error) {
	v, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || v <= 0 {
		return 0, paramError(name, "must be a positive integer")
	}
	return v, nil
}

// PathUUID parses a UUID URL parameter.
func PathUUID(r *http.Request, name string) (uuid.UUID, error) {
	v, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, paramError(name, "must be a UUID")
	}
	return v, nil
}

// QueryInt64 parses an optional integer query parameter. Absent yields zero.
func QueryInt64(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, paramError(name, "must be a non-negative integer")
	}
	return v, nil
}

// QueryDate parses an optional business date query parameter.
func QueryDate(r *http.Request, name string) (time.Time, error) {
	return ParseDate(name, r.URL.Query().Get(name))
}

// ParseDate parses a business date. Empty yields the zero time.
func ParseDate(field, raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(DateLayout, raw)
	if err != nil {
		return time.Time{}, paramError(field, fmt.Sprintf("must match %s", DateLayout))
	}
	return t, nil
}
