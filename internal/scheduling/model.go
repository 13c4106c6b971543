package scheduling

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusScheduled  AppointmentStatus = "scheduled"
	StatusConfirmed  AppointmentStatus = "confirmed"
	StatusCheckedIn  AppointmentStatus = "checked_in"
	StatusInProgress AppointmentStatus = "in_progress"
	StatusCompleted  AppointmentStatus = "completed"
	StatusCancelled  AppointmentStatus = "cancelled"
	StatusNoShow     AppointmentStatus = "no_show"
)

// IsTerminal reports whether no further time or status mutation is allowed.
func (s AppointmentStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Valid reports whether s is one of the known statuses.
func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusScheduled, StatusConfirmed, StatusCheckedIn, StatusInProgress,
		StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

type Priority string

const (
	PriorityRoutine   Priority = "routine"
	PriorityUrgent    Priority = "urgent"
	PriorityEmergency Priority = "emergency"
)

type RescheduleActor string

const (
	RescheduleByPatient RescheduleActor = "patient"
	RescheduleByClinic  RescheduleActor = "clinic"
)

// BlockingStatuses are the statuses whose appointments occupy provider time.
// Cancelled and no-show appointments free their slot.
var BlockingStatuses = []AppointmentStatus{
	StatusScheduled, StatusConfirmed, StatusCheckedIn, StatusInProgress, StatusCompleted,
}

// WorkingDay is one weekday entry of a provider's weekly schedule.
// Start and End are wall-clock "HH:MM" strings in the provider's zone.
type WorkingDay struct {
	Start     string `json:"start"`
	End       string `json:"end"`
	IsWorking bool   `json:"isWorking"`
}

// WorkingHours maps lowercase weekday names ("monday".."sunday") to windows.
type WorkingHours map[string]WorkingDay

type Provider struct {
	ID           uuid.UUID
	ClinicID     uuid.UUID
	Name         string
	IsActive     bool
	TimeZone     string // IANA name, e.g. America/Sao_Paulo
	WorkingHours WorkingHours
	BufferBefore int // default pre-appointment buffer, minutes
	BufferAfter  int // default post-appointment buffer, minutes
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type ServiceType struct {
	ID               uuid.UUID
	ClinicID         uuid.UUID
	Name             string
	DurationMin      int
	BufferBefore     *int // overrides provider default when set
	BufferAfter      *int
	RequiresApproval bool
	IsActive         bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// RescheduleEntry is one row of an appointment's append-only reschedule ledger.
type RescheduleEntry struct {
	OldStart        time.Time       `json:"old_start"`
	NewStart        time.Time       `json:"new_start"`
	Reason          string          `json:"reason"`
	RescheduleBy    RescheduleActor `json:"reschedule_by"`
	Timestamp       time.Time       `json:"timestamp"`
	RescheduleCount int             `json:"reschedule_count"`
}

type Appointment struct {
	ID                 uuid.UUID
	ClinicID           uuid.UUID
	PatientID          uuid.UUID
	ProviderID         uuid.UUID
	ServiceTypeID      uuid.UUID
	ScheduledStart     time.Time // UTC
	ScheduledEnd       time.Time // UTC
	Status             AppointmentStatus
	Priority           Priority
	Notes              string
	CancellationReason string
	RescheduleHistory  []RescheduleEntry
	Version            int // optimistic concurrency token
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Slot is a candidate bookable interval, conflict-free at generation time.
type Slot struct {
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	ProviderID uuid.UUID `json:"provider_id"`
}
