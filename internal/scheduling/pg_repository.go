package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgxQuerier is satisfied by both *pgxpool.Pool and pgx.Tx so the same
// queries run inside and outside a transaction.
type pgxQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PgStore struct {
	db   pgxQuerier
	pool *pgxpool.Pool // nil when this store is a transaction view
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{db: pool, pool: pool}
}

// WithTx runs fn inside a repeatable-read transaction. A store that is
// already a transaction view just reuses its transaction.
func (r *PgStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	if r.pool == nil {
		return fn(ctx, r)
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrTxUnavailable, err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(ctx, &PgStore{db: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrTxUnavailable, err)
	}
	return nil
}

// Scan helpers

func scanProvider(row pgx.Row) (*Provider, error) {
	var p Provider
	var workingHours []byte

	err := row.Scan(
		&p.ID,
		&p.ClinicID,
		&p.Name,
		&p.IsActive,
		&p.TimeZone,
		&workingHours,
		&p.BufferBefore,
		&p.BufferAfter,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProviderNotFound
		}
		return nil, err
	}

	if len(workingHours) > 0 {
		if err := json.Unmarshal(workingHours, &p.WorkingHours); err != nil {
			return nil, fmt.Errorf("decode working hours for provider %s: %w", p.ID, err)
		}
	}
	return &p, nil
}

func scanServiceType(row pgx.Row) (*ServiceType, error) {
	var s ServiceType

	err := row.Scan(
		&s.ID,
		&s.ClinicID,
		&s.Name,
		&s.DurationMin,
		&s.BufferBefore,
		&s.BufferAfter,
		&s.RequiresApproval,
		&s.IsActive,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrServiceTypeNotFound
		}
		return nil, err
	}

	return &s, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var history []byte
	var cancellationReason, notes *string

	err := row.Scan(
		&a.ID,
		&a.ClinicID,
		&a.PatientID,
		&a.ProviderID,
		&a.ServiceTypeID,
		&a.ScheduledStart,
		&a.ScheduledEnd,
		&a.Status,
		&a.Priority,
		&notes,
		&cancellationReason,
		&history,
		&a.Version,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	if notes != nil {
		a.Notes = *notes
	}
	if cancellationReason != nil {
		a.CancellationReason = *cancellationReason
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &a.RescheduleHistory); err != nil {
			return nil, fmt.Errorf("decode reschedule history for appointment %s: %w", a.ID, err)
		}
	}
	return &a, nil
}

const appointmentColumns = `
	id, clinic_id, patient_id, provider_id, service_type_id,
	scheduled_start, scheduled_end, status, priority, notes,
	cancellation_reason, reschedule_history, version, created_at, updated_at`

// Interface methods

func (r *PgStore) GetProviderByID(ctx context.Context, id uuid.UUID) (*Provider, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, clinic_id, name, is_active, time_zone, working_hours,
		       buffer_before_min, buffer_after_min, created_at, updated_at
		FROM providers
		WHERE id = $1
	`, id)
	return scanProvider(row)
}

func (r *PgStore) GetServiceTypeByID(ctx context.Context, id uuid.UUID) (*ServiceType, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, clinic_id, name, duration_min, buffer_before_min, buffer_after_min,
		       requires_approval, is_active, created_at, updated_at
		FROM service_types
		WHERE id = $1
	`, id)
	return scanServiceType(row)
}

func (r *PgStore) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgStore) ListProviderAppointments(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE provider_id = $1
		  AND scheduled_start < $3
		  AND scheduled_end > $2
		ORDER BY scheduled_start
	`, providerID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgStore) InsertAppointment(ctx context.Context, appt *Appointment) error {
	history, err := json.Marshal(appt.RescheduleHistory)
	if err != nil {
		return fmt.Errorf("encode reschedule history: %w", err)
	}

	row := r.db.QueryRow(ctx, `
		INSERT INTO appointments (
			id, clinic_id, patient_id, provider_id, service_type_id,
			scheduled_start, scheduled_end, status, priority, notes,
			cancellation_reason, reschedule_history, version, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 1, now(), now())
		RETURNING `+appointmentColumns+`
	`, appt.ID, appt.ClinicID, appt.PatientID, appt.ProviderID, appt.ServiceTypeID,
		appt.ScheduledStart, appt.ScheduledEnd, appt.Status, appt.Priority,
		nullableString(appt.Notes), nullableString(appt.CancellationReason), history)

	stored, err := scanAppointment(row)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	*appt = *stored
	return nil
}

func (r *PgStore) UpdateAppointment(ctx context.Context, appt *Appointment) error {
	history, err := json.Marshal(appt.RescheduleHistory)
	if err != nil {
		return fmt.Errorf("encode reschedule history: %w", err)
	}

	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET scheduled_start = $2,
		    scheduled_end = $3,
		    status = $4,
		    notes = $5,
		    cancellation_reason = $6,
		    reschedule_history = $7,
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1
		  AND version = $8
		RETURNING `+appointmentColumns+`
	`, appt.ID, appt.ScheduledStart, appt.ScheduledEnd, appt.Status,
		nullableString(appt.Notes), nullableString(appt.CancellationReason),
		history, appt.Version)

	stored, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// Row exists with a newer version, or not at all. Disambiguate.
			if _, lookupErr := r.GetAppointmentByID(ctx, appt.ID); lookupErr == nil {
				return ErrVersionConflict
			}
			return ErrAppointmentNotFound
		}
		return fmt.Errorf("update appointment: %w", err)
	}
	*appt = *stored
	return nil
}

func (r *PgStore) CountAppointmentsByStatus(ctx context.Context, providerID uuid.UUID, from, to time.Time) (map[AppointmentStatus]int, error) {
	rows, err := r.db.Query(ctx, `
		SELECT status, count(*)
		FROM appointments
		WHERE provider_id = $1
		  AND scheduled_start < $3
		  AND scheduled_end > $2
		GROUP BY status
	`, providerID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[AppointmentStatus]int)
	for rows.Next() {
		var status AppointmentStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return counts, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
