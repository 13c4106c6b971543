package scheduling

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Conflict describes the first existing appointment found to overlap a
// proposed interval. Only existence matters for admission control, so the
// scan stops at the first match.
type Conflict struct {
	AppointmentID uuid.UUID
	Interval      Interval // buffer-adjusted span of the conflicting appointment
	Reason        string
}

// bufferLookup resolves the pre/post buffers for an existing appointment
// from its stored service type. Detached from the store so the detector
// stays pure.
type bufferLookup func(serviceTypeID uuid.UUID) (before, after int, err error)

// findConflict tests a proposed effective interval against a provider's
// existing appointments. Cancelled and no-show appointments never block.
// excludeID skips one appointment, used when a reschedule is checked
// against the appointment being moved.
func findConflict(proposed Interval, existing []Appointment, excludeID uuid.UUID, buffers bufferLookup) (*Conflict, error) {
	for i := range existing {
		appt := &existing[i]
		if appt.ID == excludeID {
			continue
		}
		if appt.Status == StatusCancelled || appt.Status == StatusNoShow {
			continue
		}

		before, after, err := buffers(appt.ServiceTypeID)
		if err != nil {
			return nil, fmt.Errorf("resolve buffers for appointment %s: %w", appt.ID, err)
		}

		occupied := EffectiveInterval(appt.ScheduledStart, appt.ScheduledEnd, before, after)
		if proposed.Overlaps(occupied) {
			return &Conflict{
				AppointmentID: appt.ID,
				Interval:      occupied,
				Reason: fmt.Sprintf("overlaps appointment %s occupying %s to %s",
					appt.ID,
					occupied.Start.Format(time.RFC3339),
					occupied.End.Format(time.RFC3339)),
			}, nil
		}
	}
	return nil, nil
}
