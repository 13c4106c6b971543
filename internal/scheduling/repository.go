package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store contains all persistence interactions needed by the service.
//
// WithTx runs fn against a Store view scoped to one atomic transaction:
// either every write inside fn becomes visible, or none do. All coordinator
// mutations go through WithTx; there is no non-transactional write path.
type Store interface {
	GetProviderByID(ctx context.Context, id uuid.UUID) (*Provider, error)
	GetServiceTypeByID(ctx context.Context, id uuid.UUID) (*ServiceType, error)
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// ListProviderAppointments returns a provider's appointments whose
	// scheduled span intersects [from, to), ordered by start time. The
	// window is the day bracket around a proposal so conflict checks never
	// scan a provider's full history.
	ListProviderAppointments(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]Appointment, error)

	InsertAppointment(ctx context.Context, appt *Appointment) error

	// UpdateAppointment persists appt with an optimistic check against
	// appt.Version and increments it. Returns ErrVersionConflict when the
	// stored row has moved on.
	UpdateAppointment(ctx context.Context, appt *Appointment) error

	CountAppointmentsByStatus(ctx context.Context, providerID uuid.UUID, from, to time.Time) (map[AppointmentStatus]int, error)

	WithTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}
