package scheduling

import (
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultGranularityMin is the step between candidate slot starts.
	DefaultGranularityMin = 15

	// DefaultMaxSlotSteps caps the walk so a tiny duration over a huge
	// window cannot burn unbounded work. Hitting the cap yields a correct
	// but partial result.
	DefaultMaxSlotSteps = 200
)

// SlotOptions tune one availability query.
type SlotOptions struct {
	// Window clamps the resolved working window for partial-day queries.
	// Zero values leave the corresponding bound untouched.
	Window Interval

	// GranularityMin overrides DefaultGranularityMin when > 0.
	GranularityMin int

	// ExcludeAppointmentID skips one appointment during conflict checks,
	// for finding an alternative slot while rescheduling it.
	ExcludeAppointmentID uuid.UUID

	// MaxSteps overrides DefaultMaxSlotSteps when > 0.
	MaxSteps int
}

// generateSlots walks the provider's working window for one date in fixed
// granularity steps and emits every candidate whose effective interval is
// conflict-free against the given appointments. The result is ordered by
// start time and deterministic for identical inputs.
func generateSlots(p *Provider, svc *ServiceType, date Date, existing []Appointment, opts SlotOptions, buffers bufferLookup) ([]Slot, error) {
	window, ok, err := ResolveWorkingWindow(p, date)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	if !opts.Window.Start.IsZero() && opts.Window.Start.After(window.Start) {
		window.Start = opts.Window.Start
	}
	if !opts.Window.End.IsZero() && opts.Window.End.Before(window.End) {
		window.End = opts.Window.End
	}
	if !window.IsValid() {
		return nil, nil
	}

	granularity := opts.GranularityMin
	if granularity <= 0 {
		granularity = DefaultGranularityMin
	}
	maxSteps := opts.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSlotSteps
	}

	duration := time.Duration(svc.DurationMin) * time.Minute
	step := time.Duration(granularity) * time.Minute
	before, after := ResolveBuffers(svc, p)

	var slots []Slot
	cursor := window.Start
	for steps := 0; steps < maxSteps; steps++ {
		slotEnd := cursor.Add(duration)
		occupied := EffectiveInterval(cursor, slotEnd, before, after)

		// The effective end must fit inside the working window. The pre
		// buffer may reach before opening; it only pads against an earlier
		// appointment, which the conflict check already covers.
		if occupied.End.After(window.End) {
			break
		}

		conflict, err := findConflict(occupied, existing, opts.ExcludeAppointmentID, buffers)
		if err != nil {
			return nil, err
		}
		if conflict == nil {
			slots = append(slots, Slot{Start: cursor, End: slotEnd, ProviderID: p.ID})
		}

		cursor = cursor.Add(step)
	}

	return slots, nil
}
