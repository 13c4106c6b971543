package scheduling

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrProviderNotFound    = errors.New("provider not found")
	ErrServiceTypeNotFound = errors.New("service type not found")
	ErrAppointmentNotFound = errors.New("appointment not found")

	// ErrVersionConflict means an optimistic update lost the race and the
	// enclosing transaction must abort.
	ErrVersionConflict = errors.New("appointment was modified concurrently")

	// ErrTxUnavailable means the transactional scope could not be acquired
	// or completed. Callers may retry with backoff; business errors never
	// wrap it.
	ErrTxUnavailable = errors.New("transactional scope unavailable")

	// ErrBookingContended means another process holds the booking lock for
	// the same provider and day.
	ErrBookingContended = errors.New("provider schedule is being modified, please retry")
)

// ValidationError is a caller mistake: missing or malformed input.
// Never retried.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// ConfigurationError is a data-integrity problem in provider or service
// type configuration (bad timezone, malformed working hours). Deterministic,
// never retried.
type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string { return e.Msg }

func configurationf(format string, args ...any) error {
	return &ConfigurationError{Msg: fmt.Sprintf(format, args...)}
}

// ConflictError means the requested interval overlaps an existing
// appointment. Expected under load; the caller should re-query
// availability rather than retry the same request.
type ConflictError struct {
	Msg               string
	ConflictingApptID uuid.UUID
}

func (e *ConflictError) Error() string { return e.Msg }

// NotFoundError wraps the not-found sentinels with the resource identity.
type NotFoundError struct {
	Resource string
	ID       uuid.UUID
	Sentinel error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error { return e.Sentinel }

func notFound(resource string, id uuid.UUID, sentinel error) error {
	return &NotFoundError{Resource: resource, ID: id, Sentinel: sentinel}
}
