package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	redisclient "github.com/topsmile/appointment-scheduling/internal/redis"
	"github.com/topsmile/appointment-scheduling/internal/scheduling"
)

var validate = validator.New()

func availableSlotsHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_provider_id", "id must be a valid UUID")
			return
		}

		serviceTypeID, err := uuid.Parse(r.URL.Query().Get("service_type"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_service_type", "service_type must be a valid UUID")
			return
		}

		date, err := scheduling.ParseDate(r.URL.Query().Get("date"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		var opts scheduling.SlotOptions
		if v := r.URL.Query().Get("from"); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_from", "from must be RFC 3339")
				return
			}
			opts.Window.Start = t
		}
		if v := r.URL.Query().Get("to"); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_to", "to must be RFC 3339")
				return
			}
			opts.Window.End = t
		}
		if v := r.URL.Query().Get("granularity"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				writeError(w, http.StatusBadRequest, "invalid_granularity", "granularity must be a positive integer of minutes")
				return
			}
			opts.GranularityMin = n
		}

		slots, err := svc.GetAvailableSlots(r.Context(), providerID, serviceTypeID, date, opts)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		if slots == nil {
			slots = []scheduling.Slot{}
		}

		writeJSON(w, http.StatusOK, SlotsResponse{Slots: slots})
	}
}

func createAppointmentHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}

		start, err := time.Parse(time.RFC3339, req.ScheduledStart)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_scheduled_start", "scheduled_start must be RFC 3339")
			return
		}

		in := scheduling.CreateAppointmentInput{
			ClinicID:       uuid.MustParse(req.ClinicID),
			PatientID:      uuid.MustParse(req.PatientID),
			ProviderID:     uuid.MustParse(req.ProviderID),
			ServiceTypeID:  uuid.MustParse(req.ServiceTypeID),
			ScheduledStart: start,
			Priority:       scheduling.Priority(req.Priority),
			Notes:          req.Notes,
		}

		appt, err := svc.CreateAppointment(r.Context(), in)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func getAppointmentHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		appt, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func listAppointmentsHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, err := uuid.Parse(r.URL.Query().Get("provider_id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_provider_id", "provider_id must be a valid UUID")
			return
		}

		from, err := time.Parse(time.RFC3339, r.URL.Query().Get("from"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_from", "from must be RFC 3339")
			return
		}
		to, err := time.Parse(time.RFC3339, r.URL.Query().Get("to"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_to", "to must be RFC 3339")
			return
		}

		var statuses []scheduling.AppointmentStatus
		for _, s := range r.URL.Query()["status"] {
			st := scheduling.AppointmentStatus(s)
			if !st.Valid() {
				writeError(w, http.StatusBadRequest, "invalid_status", "unknown status "+s)
				return
			}
			statuses = append(statuses, st)
		}

		appts, err := svc.ListAppointments(r.Context(), providerID, from, to, statuses)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		resp := make([]AppointmentResponse, 0, len(appts))
		for i := range appts {
			resp = append(resp, toAppointmentResponse(&appts[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func rescheduleAppointmentHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		var req RescheduleAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}

		newStart, err := time.Parse(time.RFC3339, req.NewStart)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_new_start", "new_start must be RFC 3339")
			return
		}

		appt, err := svc.RescheduleAppointment(r.Context(), id, newStart, req.Reason, scheduling.RescheduleActor(req.RescheduleBy))
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func cancelAppointmentHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		var req CancelAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}

		appt, err := svc.CancelAppointment(r.Context(), id, req.Reason)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func batchStatusHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BatchStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}

		ids := make([]uuid.UUID, 0, len(req.IDs))
		for _, raw := range req.IDs {
			ids = append(ids, uuid.MustParse(raw))
		}

		results, err := svc.BatchUpdateStatus(r.Context(), ids, scheduling.AppointmentStatus(req.Status))
		if err != nil {
			handleServiceError(w, err)
			return
		}

		resp := BatchStatusResponse{Results: make([]BatchResultItem, 0, len(results))}
		for _, res := range results {
			item := BatchResultItem{ID: res.ID, OK: res.Err == nil}
			if res.Err != nil {
				item.Error = res.Err.Error()
			}
			resp.Results = append(resp.Results, item)
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func checkConflictHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_provider_id", "id must be a valid UUID")
			return
		}

		start, err := time.Parse(time.RFC3339, r.URL.Query().Get("start"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_start", "start must be RFC 3339")
			return
		}
		end, err := time.Parse(time.RFC3339, r.URL.Query().Get("end"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_end", "end must be RFC 3339")
			return
		}

		serviceTypeID := uuid.Nil
		if v := r.URL.Query().Get("service_type"); v != "" {
			serviceTypeID, err = uuid.Parse(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_service_type", "service_type must be a valid UUID")
				return
			}
		}

		excludeID := uuid.Nil
		if v := r.URL.Query().Get("exclude"); v != "" {
			excludeID, err = uuid.Parse(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_exclude", "exclude must be a valid UUID")
				return
			}
		}

		conflict, err := svc.CheckConflict(r.Context(), providerID, scheduling.Interval{Start: start, End: end}, serviceTypeID, excludeID)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		resp := ConflictCheckResponse{Conflict: conflict != nil}
		if conflict != nil {
			resp.AppointmentID = conflict.AppointmentID
			resp.Reason = conflict.Reason
			resp.OccupiedStart = conflict.Interval.Start
			resp.OccupiedEnd = conflict.Interval.End
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func providerStatsHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_provider_id", "id must be a valid UUID")
			return
		}

		from, err := time.Parse(time.RFC3339, r.URL.Query().Get("from"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_from", "from must be RFC 3339")
			return
		}
		to, err := time.Parse(time.RFC3339, r.URL.Query().Get("to"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_to", "to must be RFC 3339")
			return
		}

		counts, err := svc.AppointmentStats(r.Context(), providerID, from, to)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, counts)
	}
}

// handleServiceError maps the scheduling error taxonomy onto HTTP statuses.
func handleServiceError(w http.ResponseWriter, err error) {
	var (
		validationErr    *scheduling.ValidationError
		configurationErr *scheduling.ConfigurationError
		conflictErr      *scheduling.ConflictError
		notFoundErr      *scheduling.NotFoundError
	)

	switch {
	case errors.As(err, &validationErr):
		writeError(w, http.StatusBadRequest, "validation_error", validationErr.Msg)
	case errors.As(err, &notFoundErr):
		writeError(w, http.StatusNotFound, "not_found", notFoundErr.Error())
	case errors.As(err, &conflictErr):
		writeError(w, http.StatusConflict, "slot_conflict", conflictErr.Msg)
	case errors.Is(err, scheduling.ErrBookingContended),
		errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "booking_contended", "provider schedule is being modified, please retry shortly")
	case errors.As(err, &configurationErr):
		writeError(w, http.StatusInternalServerError, "configuration_error", configurationErr.Msg)
	case errors.Is(err, scheduling.ErrTxUnavailable):
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "could not complete the transaction, please retry")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
