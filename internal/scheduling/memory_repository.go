package scheduling

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store used by tests and local runs. One
// mutex serializes transactions, which gives WithTx a genuinely atomic
// scope: fn works on a copy of the data and the copy replaces the live
// maps only when fn succeeds.
type MemoryStore struct {
	mu           sync.Mutex
	providers    map[uuid.UUID]Provider
	serviceTypes map[uuid.UUID]ServiceType
	appointments map[uuid.UUID]Appointment
	inTx         bool
	now          func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		providers:    make(map[uuid.UUID]Provider),
		serviceTypes: make(map[uuid.UUID]ServiceType),
		appointments: make(map[uuid.UUID]Appointment),
		now:          time.Now,
	}
}

func (m *MemoryStore) PutProvider(p Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[p.ID] = p
}

func (m *MemoryStore) PutServiceType(s ServiceType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.serviceTypes[s.ID] = s
}

func (m *MemoryStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	if m.inTx {
		return fn(ctx, m)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &MemoryStore{
		providers:    m.providers,
		serviceTypes: m.serviceTypes,
		appointments: cloneAppointments(m.appointments),
		inTx:         true,
		now:          m.now,
	}

	if err := fn(ctx, tx); err != nil {
		return err
	}

	m.appointments = tx.appointments
	return nil
}

func cloneAppointments(src map[uuid.UUID]Appointment) map[uuid.UUID]Appointment {
	dst := make(map[uuid.UUID]Appointment, len(src))
	for id, a := range src {
		a.RescheduleHistory = append([]RescheduleEntry(nil), a.RescheduleHistory...)
		dst[id] = a
	}
	return dst
}

func (m *MemoryStore) lock() func() {
	if m.inTx {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

func (m *MemoryStore) GetProviderByID(ctx context.Context, id uuid.UUID) (*Provider, error) {
	defer m.lock()()
	p, ok := m.providers[id]
	if !ok {
		return nil, ErrProviderNotFound
	}
	return &p, nil
}

func (m *MemoryStore) GetServiceTypeByID(ctx context.Context, id uuid.UUID) (*ServiceType, error) {
	defer m.lock()()
	s, ok := m.serviceTypes[id]
	if !ok {
		return nil, ErrServiceTypeNotFound
	}
	return &s, nil
}

func (m *MemoryStore) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	defer m.lock()()
	a, ok := m.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	a.RescheduleHistory = append([]RescheduleEntry(nil), a.RescheduleHistory...)
	return &a, nil
}

func (m *MemoryStore) ListProviderAppointments(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	defer m.lock()()

	var result []Appointment
	for _, a := range m.appointments {
		if a.ProviderID != providerID {
			continue
		}
		if !a.ScheduledStart.Before(to) || !a.ScheduledEnd.After(from) {
			continue
		}
		a.RescheduleHistory = append([]RescheduleEntry(nil), a.RescheduleHistory...)
		result = append(result, a)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ScheduledStart.Before(result[j].ScheduledStart)
	})
	return result, nil
}

func (m *MemoryStore) InsertAppointment(ctx context.Context, appt *Appointment) error {
	defer m.lock()()

	now := m.now()
	appt.Version = 1
	appt.CreatedAt = now
	appt.UpdatedAt = now
	m.appointments[appt.ID] = *appt
	return nil
}

func (m *MemoryStore) UpdateAppointment(ctx context.Context, appt *Appointment) error {
	defer m.lock()()

	stored, ok := m.appointments[appt.ID]
	if !ok {
		return ErrAppointmentNotFound
	}
	if stored.Version != appt.Version {
		return ErrVersionConflict
	}

	appt.Version++
	appt.UpdatedAt = m.now()
	m.appointments[appt.ID] = *appt
	return nil
}

func (m *MemoryStore) CountAppointmentsByStatus(ctx context.Context, providerID uuid.UUID, from, to time.Time) (map[AppointmentStatus]int, error) {
	appts, err := m.ListProviderAppointments(ctx, providerID, from, to)
	if err != nil {
		return nil, err
	}

	counts := make(map[AppointmentStatus]int)
	for _, a := range appts {
		counts[a.Status]++
	}
	return counts, nil
}
