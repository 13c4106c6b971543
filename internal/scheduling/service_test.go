package scheduling

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redisclient "github.com/topsmile/appointment-scheduling/internal/redis"
)

// testNow is the frozen clock for service tests: well before the monday
// fixture date so future-start validation passes.
var testNow = time.Date(2026, time.September, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc      *Service
	store    *MemoryStore
	provider Provider
	clinicID uuid.UUID
	whiten   ServiceType // 60 min, no buffers, no approval
	surgery  ServiceType // 90 min, 15/15 buffers, requires approval
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := NewMemoryStore()
	clinicID := uuid.New()

	provider := *saoPauloProvider()
	provider.ClinicID = clinicID
	store.PutProvider(provider)

	whiten := ServiceType{ID: uuid.New(), ClinicID: clinicID, Name: "Whitening", DurationMin: 60, IsActive: true}
	store.PutServiceType(whiten)

	fifteen := 15
	surgery := ServiceType{
		ID: uuid.New(), ClinicID: clinicID, Name: "Oral Surgery", DurationMin: 90,
		BufferBefore: &fifteen, BufferAfter: &fifteen, RequiresApproval: true, IsActive: true,
	}
	store.PutServiceType(surgery)

	svc := NewService(store, redisclient.NoopLocker{}, Options{})
	svc.now = func() time.Time { return testNow }

	return &fixture{
		svc:      svc,
		store:    store,
		provider: provider,
		clinicID: clinicID,
		whiten:   whiten,
		surgery:  surgery,
	}
}

func (f *fixture) createInput(start time.Time) CreateAppointmentInput {
	return CreateAppointmentInput{
		ClinicID:       f.clinicID,
		PatientID:      uuid.New(),
		ProviderID:     f.provider.ID,
		ServiceTypeID:  f.whiten.ID,
		ScheduledStart: start,
	}
}

// mondayAt returns a UTC instant inside the monday working window.
func mondayAt(hour, minute int) time.Time {
	return time.Date(2026, time.September, 7, hour, minute, 0, 0, time.UTC)
}

func TestCreateAppointment(t *testing.T) {
	ctx := context.Background()

	t.Run("creates a confirmed appointment with computed end", func(t *testing.T) {
		f := newFixture(t)

		appt, err := f.svc.CreateAppointment(ctx, f.createInput(mondayAt(14, 0)))
		require.NoError(t, err)

		assert.Equal(t, StatusConfirmed, appt.Status)
		assert.Equal(t, mondayAt(14, 0), appt.ScheduledStart)
		assert.Equal(t, mondayAt(15, 0), appt.ScheduledEnd)
		assert.Equal(t, PriorityRoutine, appt.Priority)
		assert.Equal(t, 1, appt.Version)
	})

	t.Run("approval-required service starts as scheduled", func(t *testing.T) {
		f := newFixture(t)
		in := f.createInput(mondayAt(14, 0))
		in.ServiceTypeID = f.surgery.ID

		appt, err := f.svc.CreateAppointment(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, StatusScheduled, appt.Status)
		assert.Equal(t, mondayAt(15, 30), appt.ScheduledEnd)
	})

	t.Run("rejects missing required fields", func(t *testing.T) {
		f := newFixture(t)
		in := f.createInput(mondayAt(14, 0))
		in.PatientID = uuid.Nil

		_, err := f.svc.CreateAppointment(ctx, in)
		var valErr *ValidationError
		assert.ErrorAs(t, err, &valErr)
	})

	t.Run("rejects booking in the past", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.svc.CreateAppointment(ctx, f.createInput(testNow.Add(-time.Hour)))
		var valErr *ValidationError
		require.ErrorAs(t, err, &valErr)
		assert.Contains(t, valErr.Msg, "past")
	})

	t.Run("rejects inactive provider", func(t *testing.T) {
		f := newFixture(t)
		inactive := f.provider
		inactive.ID = uuid.New()
		inactive.IsActive = false
		f.store.PutProvider(inactive)

		in := f.createInput(mondayAt(14, 0))
		in.ProviderID = inactive.ID

		_, err := f.svc.CreateAppointment(ctx, in)
		var valErr *ValidationError
		assert.ErrorAs(t, err, &valErr)
	})

	t.Run("unknown provider is not found", func(t *testing.T) {
		f := newFixture(t)
		in := f.createInput(mondayAt(14, 0))
		in.ProviderID = uuid.New()

		_, err := f.svc.CreateAppointment(ctx, in)
		var nfErr *NotFoundError
		require.ErrorAs(t, err, &nfErr)
		assert.ErrorIs(t, err, ErrProviderNotFound)
	})

	t.Run("overlapping booking conflicts, back-to-back succeeds", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.svc.CreateAppointment(ctx, f.createInput(mondayAt(13, 0))) // 13:00-14:00
		require.NoError(t, err)

		_, err = f.svc.CreateAppointment(ctx, f.createInput(mondayAt(13, 30)))
		var conflictErr *ConflictError
		require.ErrorAs(t, err, &conflictErr)
		assert.NotEqual(t, uuid.Nil, conflictErr.ConflictingApptID)

		_, err = f.svc.CreateAppointment(ctx, f.createInput(mondayAt(14, 0)))
		assert.NoError(t, err, "back-to-back appointment must not conflict")
	})

	t.Run("failed create leaves no observable writes", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.svc.CreateAppointment(ctx, f.createInput(mondayAt(13, 0)))
		require.NoError(t, err)
		_, err = f.svc.CreateAppointment(ctx, f.createInput(mondayAt(13, 30)))
		require.Error(t, err)

		appts, err := f.store.ListProviderAppointments(ctx, f.provider.ID, mondayAt(0, 0), mondayAt(23, 59))
		require.NoError(t, err)
		assert.Len(t, appts, 1)
	})

	t.Run("concurrent bookings for the same slot admit exactly one", func(t *testing.T) {
		f := newFixture(t)

		const racers = 8
		var wg sync.WaitGroup
		errs := make([]error, racers)

		for i := 0; i < racers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = f.svc.CreateAppointment(ctx, f.createInput(mondayAt(16, 0)))
			}(i)
		}
		wg.Wait()

		var created, conflicted int
		for _, err := range errs {
			if err == nil {
				created++
				continue
			}
			var conflictErr *ConflictError
			require.ErrorAs(t, err, &conflictErr)
			conflicted++
		}
		assert.Equal(t, 1, created)
		assert.Equal(t, racers-1, conflicted)
	})
}

// recordingLocker captures the day sets each booking asked to lock.
type recordingLocker struct {
	mu    sync.Mutex
	calls [][]string
}

func (l *recordingLocker) WithProviderLock(ctx context.Context, providerID uuid.UUID, days []string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	l.calls = append(l.calls, append([]string(nil), days...))
	l.mu.Unlock()
	return fn(ctx)
}

func (l *recordingLocker) last() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[len(l.calls)-1]
}

func TestBookingLockScope(t *testing.T) {
	ctx := context.Background()

	t.Run("interval crossing UTC midnight locks both days", func(t *testing.T) {
		f := newFixture(t)
		locker := &recordingLocker{}
		f.svc.locker = locker

		_, err := f.svc.CreateAppointment(ctx, f.createInput(mondayAt(23, 30)))
		require.NoError(t, err)
		assert.Equal(t, []string{"2026-09-07", "2026-09-08"}, locker.last())
	})

	t.Run("interval ending exactly at midnight locks one day", func(t *testing.T) {
		f := newFixture(t)
		locker := &recordingLocker{}
		f.svc.locker = locker

		_, err := f.svc.CreateAppointment(ctx, f.createInput(mondayAt(23, 0)))
		require.NoError(t, err)
		assert.Equal(t, []string{"2026-09-07"}, locker.last())
	})

	t.Run("buffers extend the locked days across midnight", func(t *testing.T) {
		f := newFixture(t)
		locker := &recordingLocker{}
		f.svc.locker = locker

		// Surgery is 90 minutes with 15-minute buffers: 22:30 raw start ends
		// exactly at midnight, the post buffer reaches 00:15 the next day.
		in := f.createInput(mondayAt(22, 30))
		in.ServiceTypeID = f.surgery.ID

		_, err := f.svc.CreateAppointment(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, []string{"2026-09-07", "2026-09-08"}, locker.last())
	})

	t.Run("overlapping bookings across midnight share a lock day", func(t *testing.T) {
		f := newFixture(t)
		locker := &recordingLocker{}
		f.svc.locker = locker

		_, err := f.svc.CreateAppointment(ctx, f.createInput(mondayAt(23, 30)))
		require.NoError(t, err)

		tuesdayMidnight := time.Date(2026, time.September, 8, 0, 0, 0, 0, time.UTC)
		_, err = f.svc.CreateAppointment(ctx, f.createInput(tuesdayMidnight))
		var conflictErr *ConflictError
		require.ErrorAs(t, err, &conflictErr)

		require.Len(t, locker.calls, 2)
		assert.Contains(t, locker.calls[0], "2026-09-08")
		assert.Contains(t, locker.calls[1], "2026-09-08")
	})

	t.Run("reschedule locks the days of the target interval", func(t *testing.T) {
		f := newFixture(t)
		appt, err := f.svc.CreateAppointment(ctx, f.createInput(mondayAt(13, 0)))
		require.NoError(t, err)

		locker := &recordingLocker{}
		f.svc.locker = locker

		_, err = f.svc.RescheduleAppointment(ctx, appt.ID, mondayAt(23, 30), "late shift", RescheduleByClinic)
		require.NoError(t, err)
		assert.Equal(t, []string{"2026-09-07", "2026-09-08"}, locker.last())
	})

	t.Run("unknown appointment fails before any lock is taken", func(t *testing.T) {
		f := newFixture(t)
		locker := &recordingLocker{}
		f.svc.locker = locker

		_, err := f.svc.RescheduleAppointment(ctx, uuid.New(), mondayAt(15, 0), "", RescheduleByClinic)
		require.ErrorIs(t, err, ErrAppointmentNotFound)
		assert.Empty(t, locker.calls)
	})
}

func TestRescheduleAppointment(t *testing.T) {
	ctx := context.Background()

	t.Run("moves the appointment and appends to the ledger", func(t *testing.T) {
		f := newFixture(t)

		appt, err := f.svc.CreateAppointment(ctx, f.createInput(mondayAt(13, 0)))
		require.NoError(t, err)
		require.Equal(t, StatusConfirmed, appt.Status)

		moved, err := f.svc.RescheduleAppointment(ctx, appt.ID, mondayAt(15, 0), "patient request", RescheduleByPatient)
		require.NoError(t, err)

		assert.Equal(t, mondayAt(15, 0), moved.ScheduledStart)
		assert.Equal(t, mondayAt(16, 0), moved.ScheduledEnd)
		assert.Equal(t, StatusScheduled, moved.Status, "reschedule resets confirmation")

		require.Len(t, moved.RescheduleHistory, 1)
		entry := moved.RescheduleHistory[0]
		assert.Equal(t, mondayAt(13, 0), entry.OldStart)
		assert.Equal(t, mondayAt(15, 0), entry.NewStart)
		assert.Equal(t, "patient request", entry.Reason)
		assert.Equal(t, RescheduleByPatient, entry.RescheduleBy)
		assert.Equal(t, 1, entry.RescheduleCount)
	})

	t.Run("each reschedule grows the ledger by exactly one", func(t *testing.T) {
		f := newFixture(t)

		appt, err := f.svc.CreateAppointment(ctx, f.createInput(mondayAt(11, 0)))
		require.NoError(t, err)

		starts := []time.Time{mondayAt(12, 30), mondayAt(14, 0), mondayAt(17, 0)}
		for i, start := range starts {
			moved, err := f.svc.RescheduleAppointment(ctx, appt.ID, start, "shuffle", RescheduleByClinic)
			require.NoError(t, err)
			require.Len(t, moved.RescheduleHistory, i+1)
			assert.Equal(t, i+1, moved.RescheduleHistory[i].RescheduleCount)
		}
	})

	t.Run("new interval may reuse the appointment's own old time", func(t *testing.T) {
		f := newFixture(t)

		appt, err := f.svc.CreateAppointment(ctx, f.createInput(mondayAt(13, 0)))
		require.NoError(t, err)

		// Shift by 30 minutes: overlaps itself, which must not count.
		moved, err := f.svc.RescheduleAppointment(ctx, appt.ID, mondayAt(13, 30), "slide", RescheduleByClinic)
		require.NoError(t, err)
		assert.Equal(t, mondayAt(13, 30), moved.ScheduledStart)
	})

	t.Run("conflicting target is rejected without writes", func(t *testing.T) {
		f := newFixture(t)

		blocker, err := f.svc.CreateAppointment(ctx, f.createInput(mondayAt(15, 0)))
		require.NoError(t, err)
		appt, err := f.svc.CreateAppointment(ctx, f.createInput(mondayAt(13, 0)))
		require.NoError(t, err)

		_, err = f.svc.RescheduleAppointment(ctx, appt.ID, mondayAt(15, 30), "clash", RescheduleByClinic)
		var conflictErr *ConflictError
		require.ErrorAs(t, err, &conflictErr)
		assert.Equal(t, blocker.ID, conflictErr.ConflictingApptID)

		unchanged, err := f.svc.GetAppointment(ctx, appt.ID)
		require.NoError(t, err)
		assert.Equal(t, mondayAt(13, 0), unchanged.ScheduledStart)
		assert.Empty(t, unchanged.RescheduleHistory)
	})

	t.Run("rejects moving into the past", func(t *testing.T) {
		f := newFixture(t)

		appt, err := f.svc.CreateAppointment(ctx, f.createInput(mondayAt(13, 0)))
		require.NoError(t, err)

		_, err = f.svc.RescheduleAppointment(ctx, appt.ID, testNow.Add(-time.Hour), "backdate", RescheduleByClinic)
		var valErr *ValidationError
		require.ErrorAs(t, err, &valErr)
		assert.Contains(t, valErr.Msg, "past")
	})

	t.Run("terminal appointments cannot be rescheduled", func(t *testing.T) {
		f := newFixture(t)

		appt, err := f.svc.CreateAppointment(ctx, f.createInput(mondayAt(13, 0)))
		require.NoError(t, err)
		_, err = f.svc.CancelAppointment(ctx, appt.ID, "patient moved away")
		require.NoError(t, err)

		_, err = f.svc.RescheduleAppointment(ctx, appt.ID, mondayAt(15, 0), "too late", RescheduleByClinic)
		var valErr *ValidationError
		require.ErrorAs(t, err, &valErr)
		assert.Contains(t, valErr.Msg, "cancelled")
	})

	t.Run("unknown appointment is not found", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.svc.RescheduleAppointment(ctx, uuid.New(), mondayAt(15, 0), "", RescheduleByClinic)
		assert.ErrorIs(t, err, ErrAppointmentNotFound)
	})
}

func TestCancelAppointment(t *testing.T) {
	ctx := context.Background()

	t.Run("records the reason and frees the slot", func(t *testing.T) {
		f := newFixture(t)

		appt, err := f.svc.CreateAppointment(ctx, f.createInput(mondayAt(13, 0)))
		require.NoError(t, err)

		cancelled, err := f.svc.CancelAppointment(ctx, appt.ID, "insurance lapsed")
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, cancelled.Status)
		assert.Equal(t, "insurance lapsed", cancelled.CancellationReason)

		// The freed interval is bookable again.
		_, err = f.svc.CreateAppointment(ctx, f.createInput(mondayAt(13, 0)))
		assert.NoError(t, err)
	})

	t.Run("requires a reason", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.svc.CancelAppointment(ctx, uuid.New(), "")
		var valErr *ValidationError
		assert.ErrorAs(t, err, &valErr)
	})

	t.Run("completed and cancelled appointments are immutable", func(t *testing.T) {
		f := newFixture(t)

		appt, err := f.svc.CreateAppointment(ctx, f.createInput(mondayAt(13, 0)))
		require.NoError(t, err)

		results, err := f.svc.BatchUpdateStatus(ctx, []uuid.UUID{appt.ID}, StatusCompleted)
		require.NoError(t, err)
		require.NoError(t, results[0].Err)

		_, err = f.svc.CancelAppointment(ctx, appt.ID, "changed mind")
		var valErr *ValidationError
		require.ErrorAs(t, err, &valErr)
		assert.Contains(t, valErr.Msg, "completed")

		other, err := f.svc.CreateAppointment(ctx, f.createInput(mondayAt(15, 0)))
		require.NoError(t, err)
		_, err = f.svc.CancelAppointment(ctx, other.ID, "first")
		require.NoError(t, err)
		_, err = f.svc.CancelAppointment(ctx, other.ID, "second")
		assert.ErrorAs(t, err, &valErr)
	})
}

func TestBatchUpdateStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("reports per-id outcomes without aborting the batch", func(t *testing.T) {
		f := newFixture(t)

		first, err := f.svc.CreateAppointment(ctx, f.createInput(mondayAt(11, 0)))
		require.NoError(t, err)
		second, err := f.svc.CreateAppointment(ctx, f.createInput(mondayAt(13, 0)))
		require.NoError(t, err)
		missing := uuid.New()

		results, err := f.svc.BatchUpdateStatus(ctx, []uuid.UUID{first.ID, missing, second.ID}, StatusCheckedIn)
		require.NoError(t, err)
		require.Len(t, results, 3)

		assert.NoError(t, results[0].Err)
		assert.ErrorIs(t, results[1].Err, ErrAppointmentNotFound)
		assert.NoError(t, results[2].Err)

		got, err := f.svc.GetAppointment(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCheckedIn, got.Status)
	})

	t.Run("terminal appointments are reported, not mutated", func(t *testing.T) {
		f := newFixture(t)

		appt, err := f.svc.CreateAppointment(ctx, f.createInput(mondayAt(11, 0)))
		require.NoError(t, err)
		_, err = f.svc.CancelAppointment(ctx, appt.ID, "gone")
		require.NoError(t, err)

		results, err := f.svc.BatchUpdateStatus(ctx, []uuid.UUID{appt.ID}, StatusConfirmed)
		require.NoError(t, err)
		require.Len(t, results, 1)

		var valErr *ValidationError
		assert.ErrorAs(t, results[0].Err, &valErr)

		got, err := f.svc.GetAppointment(ctx, appt.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, got.Status)
	})

	t.Run("rejects unknown status values", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.svc.BatchUpdateStatus(ctx, []uuid.UUID{uuid.New()}, "vanished")
		var valErr *ValidationError
		assert.ErrorAs(t, err, &valErr)
	})
}

func TestServiceAvailability(t *testing.T) {
	ctx := context.Background()

	t.Run("booked appointments remove their slots", func(t *testing.T) {
		f := newFixture(t)

		before, err := f.svc.GetAvailableSlots(ctx, f.provider.ID, f.whiten.ID, monday, SlotOptions{})
		require.NoError(t, err)
		require.Len(t, before, 37)

		_, err = f.svc.CreateAppointment(ctx, f.createInput(mondayAt(14, 0)))
		require.NoError(t, err)

		after, err := f.svc.GetAvailableSlots(ctx, f.provider.ID, f.whiten.ID, monday, SlotOptions{})
		require.NoError(t, err)
		assert.Len(t, after, 37-7)
	})

	t.Run("identical queries return identical slices", func(t *testing.T) {
		f := newFixture(t)

		first, err := f.svc.GetAvailableSlots(ctx, f.provider.ID, f.whiten.ID, monday, SlotOptions{})
		require.NoError(t, err)
		second, err := f.svc.GetAvailableSlots(ctx, f.provider.ID, f.whiten.ID, monday, SlotOptions{})
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("inactive provider offers nothing", func(t *testing.T) {
		f := newFixture(t)
		inactive := f.provider
		inactive.ID = uuid.New()
		inactive.IsActive = false
		f.store.PutProvider(inactive)

		slots, err := f.svc.GetAvailableSlots(ctx, inactive.ID, f.whiten.ID, monday, SlotOptions{})
		require.NoError(t, err)
		assert.Empty(t, slots)
	})

	t.Run("excluding an appointment frees its slots for rescheduling", func(t *testing.T) {
		f := newFixture(t)

		appt, err := f.svc.CreateAppointment(ctx, f.createInput(mondayAt(14, 0)))
		require.NoError(t, err)

		slots, err := f.svc.GetAvailableSlots(ctx, f.provider.ID, f.whiten.ID, monday,
			SlotOptions{ExcludeAppointmentID: appt.ID})
		require.NoError(t, err)
		assert.Len(t, slots, 37)
	})
}

func TestCheckConflict(t *testing.T) {
	ctx := context.Background()

	t.Run("reports the conflicting appointment", func(t *testing.T) {
		f := newFixture(t)

		appt, err := f.svc.CreateAppointment(ctx, f.createInput(mondayAt(14, 0)))
		require.NoError(t, err)

		conflict, err := f.svc.CheckConflict(ctx, f.provider.ID,
			Interval{Start: mondayAt(14, 30), End: mondayAt(15, 30)}, uuid.Nil, uuid.Nil)
		require.NoError(t, err)
		require.NotNil(t, conflict)
		assert.Equal(t, appt.ID, conflict.AppointmentID)

		free, err := f.svc.CheckConflict(ctx, f.provider.ID,
			Interval{Start: mondayAt(15, 0), End: mondayAt(16, 0)}, uuid.Nil, uuid.Nil)
		require.NoError(t, err)
		assert.Nil(t, free)
	})

	t.Run("rejects inverted intervals", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.svc.CheckConflict(ctx, f.provider.ID,
			Interval{Start: mondayAt(15, 0), End: mondayAt(14, 0)}, uuid.Nil, uuid.Nil)
		var valErr *ValidationError
		assert.ErrorAs(t, err, &valErr)
	})
}

func TestListAndStats(t *testing.T) {
	ctx := context.Background()

	t.Run("status filter narrows the listing", func(t *testing.T) {
		f := newFixture(t)

		kept, err := f.svc.CreateAppointment(ctx, f.createInput(mondayAt(11, 0)))
		require.NoError(t, err)
		dropped, err := f.svc.CreateAppointment(ctx, f.createInput(mondayAt(13, 0)))
		require.NoError(t, err)
		_, err = f.svc.CancelAppointment(ctx, dropped.ID, "no show risk")
		require.NoError(t, err)

		appts, err := f.svc.ListAppointments(ctx, f.provider.ID, mondayAt(0, 0), mondayAt(23, 59),
			[]AppointmentStatus{StatusConfirmed})
		require.NoError(t, err)
		require.Len(t, appts, 1)
		assert.Equal(t, kept.ID, appts[0].ID)
	})

	t.Run("stats count per status", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.svc.CreateAppointment(ctx, f.createInput(mondayAt(11, 0)))
		require.NoError(t, err)
		cancelled, err := f.svc.CreateAppointment(ctx, f.createInput(mondayAt(13, 0)))
		require.NoError(t, err)
		_, err = f.svc.CancelAppointment(ctx, cancelled.ID, "moved")
		require.NoError(t, err)

		counts, err := f.svc.AppointmentStats(ctx, f.provider.ID, mondayAt(0, 0), mondayAt(23, 59))
		require.NoError(t, err)
		assert.Equal(t, 1, counts[StatusConfirmed])
		assert.Equal(t, 1, counts[StatusCancelled])
	})
}
