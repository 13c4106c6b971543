package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	redisclient "github.com/topsmile/appointment-scheduling/internal/redis"
)

// conflictScanPad widens the day bracket fetched for conflict checks.
// Stored buffers are capped at 60 minutes per side, so two hours covers
// any effective interval leaking in from a neighboring day.
const conflictScanPad = 2 * time.Hour

// Options carry the scheduling knobs from configuration.
type Options struct {
	GranularityMin int // default slot step, minutes
	MaxSlotSteps   int // cap on generated candidate steps per query
}

type Service struct {
	store  Store
	locker redisclient.Locker
	opts   Options
	now    func() time.Time
}

func NewService(store Store, locker redisclient.Locker, opts Options) *Service {
	if opts.GranularityMin <= 0 {
		opts.GranularityMin = DefaultGranularityMin
	}
	if opts.MaxSlotSteps <= 0 {
		opts.MaxSlotSteps = DefaultMaxSlotSteps
	}
	return &Service{
		store:  store,
		locker: locker,
		opts:   opts,
		now:    time.Now,
	}
}

type CreateAppointmentInput struct {
	ClinicID       uuid.UUID
	PatientID      uuid.UUID
	ProviderID     uuid.UUID
	ServiceTypeID  uuid.UUID
	ScheduledStart time.Time
	Priority       Priority
	Notes          string
}

// BatchResult reports the outcome for one appointment in a batch operation.
type BatchResult struct {
	ID  uuid.UUID
	Err error
}

// GetAvailableSlots enumerates conflict-free bookable slots for one
// provider, service type and calendar date. Read-only and idempotent:
// identical inputs with no intervening writes yield identical output.
func (s *Service) GetAvailableSlots(ctx context.Context, providerID, serviceTypeID uuid.UUID, date Date, opts SlotOptions) ([]Slot, error) {
	provider, err := s.store.GetProviderByID(ctx, providerID)
	if err != nil {
		if errors.Is(err, ErrProviderNotFound) {
			return nil, notFound("provider", providerID, ErrProviderNotFound)
		}
		return nil, fmt.Errorf("load provider: %w", err)
	}
	if !provider.IsActive {
		return nil, nil
	}

	svc, err := s.store.GetServiceTypeByID(ctx, serviceTypeID)
	if err != nil {
		if errors.Is(err, ErrServiceTypeNotFound) {
			return nil, notFound("service type", serviceTypeID, ErrServiceTypeNotFound)
		}
		return nil, fmt.Errorf("load service type: %w", err)
	}
	if svc.DurationMin <= 0 {
		return nil, configurationf("service type %s has invalid duration %d", svc.ID, svc.DurationMin)
	}

	if opts.GranularityMin <= 0 {
		opts.GranularityMin = s.opts.GranularityMin
	}
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = s.opts.MaxSlotSteps
	}

	from, to, err := dayBracket(provider, date)
	if err != nil {
		return nil, err
	}
	existing, err := s.store.ListProviderAppointments(ctx, providerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}

	return generateSlots(provider, svc, date, existing, opts, s.bufferLookup(ctx, s.store, provider))
}

// CreateAppointment validates, re-checks conflicts against committed state
// inside the transaction, and persists a new appointment. The in-transaction
// re-check is what closes the gap between the availability query a caller
// saw and the booking it commits.
func (s *Service) CreateAppointment(ctx context.Context, in CreateAppointmentInput) (*Appointment, error) {
	if err := s.validateCreate(in); err != nil {
		return nil, err
	}
	if in.Priority == "" {
		in.Priority = PriorityRoutine
	}

	// Resolve the effective interval up front so the lock covers every UTC
	// day it touches. The transaction reloads everything authoritatively.
	provider, svc, err := s.loadActors(ctx, s.store, in.ProviderID, in.ServiceTypeID)
	if err != nil {
		return nil, err
	}
	lockStart := in.ScheduledStart.UTC()
	lockEnd := lockStart.Add(time.Duration(svc.DurationMin) * time.Minute)
	before, after := ResolveBuffers(svc, provider)
	days := lockDays(EffectiveInterval(lockStart, lockEnd, before, after))

	var created *Appointment

	err = s.locker.WithProviderLock(ctx, in.ProviderID, days, func(lockCtx context.Context) error {
		return s.store.WithTx(lockCtx, func(txCtx context.Context, tx Store) error {
			provider, svc, err := s.loadActors(txCtx, tx, in.ProviderID, in.ServiceTypeID)
			if err != nil {
				return err
			}
			if !provider.IsActive {
				return validationf("provider %s is not active", provider.ID)
			}

			start := in.ScheduledStart.UTC()
			end := start.Add(time.Duration(svc.DurationMin) * time.Minute)

			if err := s.ensureFree(txCtx, tx, provider, Interval{Start: start, End: end}, svc, uuid.Nil); err != nil {
				return err
			}

			status := StatusConfirmed
			if svc.RequiresApproval {
				status = StatusScheduled
			}

			appt := &Appointment{
				ID:             uuid.New(),
				ClinicID:       in.ClinicID,
				PatientID:      in.PatientID,
				ProviderID:     in.ProviderID,
				ServiceTypeID:  in.ServiceTypeID,
				ScheduledStart: start,
				ScheduledEnd:   end,
				Status:         status,
				Priority:       in.Priority,
				Notes:          in.Notes,
			}
			if err := tx.InsertAppointment(txCtx, appt); err != nil {
				return fmt.Errorf("insert appointment: %w", err)
			}

			created = appt
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrBookingContended
		}
		return nil, err
	}

	return created, nil
}

// RescheduleAppointment moves an appointment to a new start, appending to
// its reschedule ledger. The status drops back to scheduled so downstream
// collaborators re-confirm.
func (s *Service) RescheduleAppointment(ctx context.Context, id uuid.UUID, newStart time.Time, reason string, by RescheduleActor) (*Appointment, error) {
	if id == uuid.Nil {
		return nil, validationf("appointment id is required")
	}
	if newStart.IsZero() {
		return nil, validationf("new start time is required")
	}
	if newStart.Before(s.now()) {
		return nil, validationf("cannot reschedule an appointment into the past")
	}
	if by == "" {
		by = RescheduleByClinic
	}
	if by != RescheduleByPatient && by != RescheduleByClinic {
		return nil, validationf("invalid reschedule actor %q", by)
	}

	// Resolve the owning provider and the target interval before locking.
	// A failed lookup fails the call; locking on a guessed key would not
	// serialize against other writers for the same provider.
	current, err := s.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	provider, svc, err := s.loadActors(ctx, s.store, current.ProviderID, current.ServiceTypeID)
	if err != nil {
		return nil, err
	}
	lockStart := newStart.UTC()
	lockEnd := lockStart.Add(time.Duration(svc.DurationMin) * time.Minute)
	before, after := ResolveBuffers(svc, provider)
	days := lockDays(EffectiveInterval(lockStart, lockEnd, before, after))

	var updated *Appointment

	lockErr := s.locker.WithProviderLock(ctx, current.ProviderID, days, func(lockCtx context.Context) error {
		return s.store.WithTx(lockCtx, func(txCtx context.Context, tx Store) error {
			appt, err := tx.GetAppointmentByID(txCtx, id)
			if err != nil {
				if errors.Is(err, ErrAppointmentNotFound) {
					return notFound("appointment", id, ErrAppointmentNotFound)
				}
				return fmt.Errorf("load appointment: %w", err)
			}
			if appt.Status.IsTerminal() {
				return validationf("cannot reschedule a %s appointment", appt.Status)
			}

			provider, svc, err := s.loadActors(txCtx, tx, appt.ProviderID, appt.ServiceTypeID)
			if err != nil {
				return err
			}

			start := newStart.UTC()
			end := start.Add(time.Duration(svc.DurationMin) * time.Minute)

			if err := s.ensureFree(txCtx, tx, provider, Interval{Start: start, End: end}, svc, appt.ID); err != nil {
				return err
			}

			appt.RescheduleHistory = append(appt.RescheduleHistory, RescheduleEntry{
				OldStart:        appt.ScheduledStart,
				NewStart:        start,
				Reason:          reason,
				RescheduleBy:    by,
				Timestamp:       s.now().UTC(),
				RescheduleCount: len(appt.RescheduleHistory) + 1,
			})
			appt.ScheduledStart = start
			appt.ScheduledEnd = end
			appt.Status = StatusScheduled

			if err := tx.UpdateAppointment(txCtx, appt); err != nil {
				return fmt.Errorf("update appointment: %w", err)
			}

			updated = appt
			return nil
		})
	})
	if lockErr != nil {
		if errors.Is(lockErr, redisclient.ErrLockNotAcquired) {
			return nil, ErrBookingContended
		}
		return nil, lockErr
	}

	return updated, nil
}

// CancelAppointment marks an appointment cancelled. Cancellation only frees
// capacity, so no conflict re-check is needed, but the write still runs in
// a transaction.
func (s *Service) CancelAppointment(ctx context.Context, id uuid.UUID, reason string) (*Appointment, error) {
	if id == uuid.Nil {
		return nil, validationf("appointment id is required")
	}
	if reason == "" {
		return nil, validationf("cancellation reason is required")
	}

	var updated *Appointment

	err := s.store.WithTx(ctx, func(txCtx context.Context, tx Store) error {
		appt, err := tx.GetAppointmentByID(txCtx, id)
		if err != nil {
			if errors.Is(err, ErrAppointmentNotFound) {
				return notFound("appointment", id, ErrAppointmentNotFound)
			}
			return fmt.Errorf("load appointment: %w", err)
		}
		if appt.Status.IsTerminal() {
			return validationf("cannot cancel a %s appointment", appt.Status)
		}

		appt.Status = StatusCancelled
		appt.CancellationReason = reason

		if err := tx.UpdateAppointment(txCtx, appt); err != nil {
			return fmt.Errorf("update appointment: %w", err)
		}

		updated = appt
		return nil
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

// BatchUpdateStatus applies one status transition to many appointments in
// a single transaction. Semantics are best-effort with a per-id failure
// report: an id that is missing or terminal is reported, not fatal.
func (s *Service) BatchUpdateStatus(ctx context.Context, ids []uuid.UUID, status AppointmentStatus) ([]BatchResult, error) {
	if len(ids) == 0 {
		return nil, validationf("at least one appointment id is required")
	}
	if !status.Valid() {
		return nil, validationf("invalid status %q", status)
	}

	results := make([]BatchResult, 0, len(ids))

	err := s.store.WithTx(ctx, func(txCtx context.Context, tx Store) error {
		for _, id := range ids {
			results = append(results, BatchResult{ID: id, Err: s.updateOneStatus(txCtx, tx, id, status)})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return results, nil
}

func (s *Service) updateOneStatus(ctx context.Context, tx Store, id uuid.UUID, status AppointmentStatus) error {
	appt, err := tx.GetAppointmentByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return notFound("appointment", id, ErrAppointmentNotFound)
		}
		return fmt.Errorf("load appointment: %w", err)
	}
	if appt.Status.IsTerminal() {
		return validationf("cannot change status of a %s appointment", appt.Status)
	}

	appt.Status = status
	if err := tx.UpdateAppointment(ctx, appt); err != nil {
		return fmt.Errorf("update appointment: %w", err)
	}
	return nil
}

// CheckConflict tests a raw interval against a provider's committed
// appointments, widening it by the service type's buffers when one is
// given. Returns nil when the interval is free.
func (s *Service) CheckConflict(ctx context.Context, providerID uuid.UUID, interval Interval, serviceTypeID, excludeID uuid.UUID) (*Conflict, error) {
	if !interval.IsValid() {
		return nil, validationf("interval end must be after start")
	}

	provider, err := s.store.GetProviderByID(ctx, providerID)
	if err != nil {
		if errors.Is(err, ErrProviderNotFound) {
			return nil, notFound("provider", providerID, ErrProviderNotFound)
		}
		return nil, fmt.Errorf("load provider: %w", err)
	}

	proposed := interval
	if serviceTypeID != uuid.Nil {
		svc, err := s.store.GetServiceTypeByID(ctx, serviceTypeID)
		if err != nil {
			if errors.Is(err, ErrServiceTypeNotFound) {
				return nil, notFound("service type", serviceTypeID, ErrServiceTypeNotFound)
			}
			return nil, fmt.Errorf("load service type: %w", err)
		}
		before, after := ResolveBuffers(svc, provider)
		proposed = EffectiveInterval(interval.Start, interval.End, before, after)
	}

	existing, err := s.store.ListProviderAppointments(ctx, providerID,
		proposed.Start.Add(-conflictScanPad), proposed.End.Add(conflictScanPad))
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}

	return findConflict(proposed, existing, excludeID, s.bufferLookup(ctx, s.store, provider))
}

// GetAppointment retrieves one appointment by id.
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.store.GetAppointmentByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, notFound("appointment", id, ErrAppointmentNotFound)
		}
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	return appt, nil
}

// ListAppointments returns a provider's appointments intersecting
// [from, to), optionally filtered to a status set.
func (s *Service) ListAppointments(ctx context.Context, providerID uuid.UUID, from, to time.Time, statuses []AppointmentStatus) ([]Appointment, error) {
	if !to.After(from) {
		return nil, validationf("window end must be after start")
	}

	appts, err := s.store.ListProviderAppointments(ctx, providerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	if len(statuses) == 0 {
		return appts, nil
	}

	allowed := make(map[AppointmentStatus]bool, len(statuses))
	for _, st := range statuses {
		allowed[st] = true
	}

	filtered := appts[:0]
	for _, a := range appts {
		if allowed[a.Status] {
			filtered = append(filtered, a)
		}
	}
	return filtered, nil
}

// AppointmentStats reports per-status counts for a provider window.
func (s *Service) AppointmentStats(ctx context.Context, providerID uuid.UUID, from, to time.Time) (map[AppointmentStatus]int, error) {
	if !to.After(from) {
		return nil, validationf("window end must be after start")
	}
	counts, err := s.store.CountAppointmentsByStatus(ctx, providerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("count appointments: %w", err)
	}
	return counts, nil
}

// Internal helpers

func (s *Service) validateCreate(in CreateAppointmentInput) error {
	switch {
	case in.ClinicID == uuid.Nil:
		return validationf("clinic id is required")
	case in.PatientID == uuid.Nil:
		return validationf("patient id is required")
	case in.ProviderID == uuid.Nil:
		return validationf("provider id is required")
	case in.ServiceTypeID == uuid.Nil:
		return validationf("service type id is required")
	case in.ScheduledStart.IsZero():
		return validationf("scheduled start is required")
	case in.ScheduledStart.Before(s.now()):
		return validationf("cannot schedule an appointment in the past")
	}
	if in.Priority != "" && in.Priority != PriorityRoutine && in.Priority != PriorityUrgent && in.Priority != PriorityEmergency {
		return validationf("invalid priority %q", in.Priority)
	}
	return nil
}

func (s *Service) loadActors(ctx context.Context, tx Store, providerID, serviceTypeID uuid.UUID) (*Provider, *ServiceType, error) {
	provider, err := tx.GetProviderByID(ctx, providerID)
	if err != nil {
		if errors.Is(err, ErrProviderNotFound) {
			return nil, nil, notFound("provider", providerID, ErrProviderNotFound)
		}
		return nil, nil, fmt.Errorf("load provider: %w", err)
	}

	svc, err := tx.GetServiceTypeByID(ctx, serviceTypeID)
	if err != nil {
		if errors.Is(err, ErrServiceTypeNotFound) {
			return nil, nil, notFound("service type", serviceTypeID, ErrServiceTypeNotFound)
		}
		return nil, nil, fmt.Errorf("load service type: %w", err)
	}
	if svc.DurationMin <= 0 {
		return nil, nil, configurationf("service type %s has invalid duration %d", svc.ID, svc.DurationMin)
	}

	return provider, svc, nil
}

// ensureFree re-checks the no-overlap invariant against current committed
// state and returns a ConflictError when the buffer-adjusted interval is
// taken.
func (s *Service) ensureFree(ctx context.Context, tx Store, provider *Provider, raw Interval, svc *ServiceType, excludeID uuid.UUID) error {
	before, after := ResolveBuffers(svc, provider)
	proposed := EffectiveInterval(raw.Start, raw.End, before, after)

	existing, err := tx.ListProviderAppointments(ctx, provider.ID,
		proposed.Start.Add(-conflictScanPad), proposed.End.Add(conflictScanPad))
	if err != nil {
		return fmt.Errorf("list appointments: %w", err)
	}

	conflict, err := findConflict(proposed, existing, excludeID, s.bufferLookup(ctx, tx, provider))
	if err != nil {
		return err
	}
	if conflict != nil {
		return &ConflictError{
			Msg:               "slot is no longer available: " + conflict.Reason,
			ConflictingApptID: conflict.AppointmentID,
		}
	}
	return nil
}

// bufferLookup resolves buffers for existing appointments, memoizing
// service types within one call.
func (s *Service) bufferLookup(ctx context.Context, store Store, provider *Provider) bufferLookup {
	cache := make(map[uuid.UUID]*ServiceType)
	return func(serviceTypeID uuid.UUID) (int, int, error) {
		svc, ok := cache[serviceTypeID]
		if !ok {
			loaded, err := store.GetServiceTypeByID(ctx, serviceTypeID)
			if err != nil {
				return 0, 0, err
			}
			cache[serviceTypeID] = loaded
			svc = loaded
		}
		before, after := ResolveBuffers(svc, provider)
		return before, after, nil
	}
}

// lockDays lists every UTC calendar day a buffer-adjusted interval touches.
// An interval crossing midnight yields both days, so concurrent writers on
// either side of the boundary contend on a shared lock key. The interval is
// closed-open: an end exactly at midnight does not touch the next day.
func lockDays(iv Interval) []string {
	start := iv.Start.UTC().Truncate(24 * time.Hour)
	days := []string{start.Format("2006-01-02")}
	for d := start.AddDate(0, 0, 1); d.Before(iv.End.UTC()); d = d.AddDate(0, 0, 1) {
		days = append(days, d.Format("2006-01-02"))
	}
	return days
}

// dayBracket computes the UTC span covering one calendar date in the
// provider's zone, padded for buffer overhang, for day-indexed appointment
// fetches.
func dayBracket(p *Provider, date Date) (from, to time.Time, err error) {
	if p.TimeZone == "" {
		return time.Time{}, time.Time{}, configurationf("provider %s has no timezone configured", p.ID)
	}
	loc, err := time.LoadLocation(p.TimeZone)
	if err != nil {
		return time.Time{}, time.Time{}, configurationf("provider %s has invalid timezone %q", p.ID, p.TimeZone)
	}

	from = date.In(loc, 0, 0).UTC().Add(-conflictScanPad)
	to = date.AddDays(1).In(loc, 0, 0).UTC().Add(conflictScanPad)
	return from, to, nil
}
