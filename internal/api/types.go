package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/topsmile/appointment-scheduling/internal/scheduling"
)

type CreateAppointmentRequest struct {
	ClinicID       string `json:"clinic_id" validate:"required,uuid4"`
	PatientID      string `json:"patient_id" validate:"required,uuid4"`
	ProviderID     string `json:"provider_id" validate:"required,uuid4"`
	ServiceTypeID  string `json:"service_type_id" validate:"required,uuid4"`
	ScheduledStart string `json:"scheduled_start" validate:"required"` // RFC 3339
	Priority       string `json:"priority" validate:"omitempty,oneof=routine urgent emergency"`
	Notes          string `json:"notes" validate:"omitempty,max=1000"`
}

type RescheduleAppointmentRequest struct {
	NewStart     string `json:"new_start" validate:"required"` // RFC 3339
	Reason       string `json:"reason" validate:"omitempty,max=500"`
	RescheduleBy string `json:"reschedule_by" validate:"omitempty,oneof=patient clinic"`
}

type CancelAppointmentRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type BatchStatusRequest struct {
	IDs    []string `json:"ids" validate:"required,min=1,dive,uuid4"`
	Status string   `json:"status" validate:"required"`
}

type AppointmentResponse struct {
	ID                 uuid.UUID                    `json:"id"`
	ClinicID           uuid.UUID                    `json:"clinic_id"`
	PatientID          uuid.UUID                    `json:"patient_id"`
	ProviderID         uuid.UUID                    `json:"provider_id"`
	ServiceTypeID      uuid.UUID                    `json:"service_type_id"`
	ScheduledStart     time.Time                    `json:"scheduled_start"`
	ScheduledEnd       time.Time                    `json:"scheduled_end"`
	Status             string                       `json:"status"`
	Priority           string                       `json:"priority"`
	Notes              string                       `json:"notes,omitempty"`
	CancellationReason string                       `json:"cancellation_reason,omitempty"`
	RescheduleHistory  []scheduling.RescheduleEntry `json:"reschedule_history,omitempty"`
}

func toAppointmentResponse(a *scheduling.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:                 a.ID,
		ClinicID:           a.ClinicID,
		PatientID:          a.PatientID,
		ProviderID:         a.ProviderID,
		ServiceTypeID:      a.ServiceTypeID,
		ScheduledStart:     a.ScheduledStart,
		ScheduledEnd:       a.ScheduledEnd,
		Status:             string(a.Status),
		Priority:           string(a.Priority),
		Notes:              a.Notes,
		CancellationReason: a.CancellationReason,
		RescheduleHistory:  a.RescheduleHistory,
	}
}

type SlotsResponse struct {
	Slots []scheduling.Slot `json:"slots"`
}

type BatchResultItem struct {
	ID    uuid.UUID `json:"id"`
	OK    bool      `json:"ok"`
	Error string    `json:"error,omitempty"`
}

type BatchStatusResponse struct {
	Results []BatchResultItem `json:"results"`
}

type ConflictCheckResponse struct {
	Conflict      bool      `json:"conflict"`
	AppointmentID uuid.UUID `json:"appointment_id,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	OccupiedStart time.Time `json:"occupied_start,omitempty"`
	OccupiedEnd   time.Time `json:"occupied_end,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
