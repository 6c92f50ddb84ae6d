package scheduling

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryUnitOfWork keeps all state in process. Transactions are fully
// serialized and work on a private copy that replaces the committed state
// only when fn succeeds.
type MemoryUnitOfWork struct {
	mu    sync.Mutex
	state *memoryState
}

func NewMemoryUnitOfWork() *MemoryUnitOfWork {
	return &MemoryUnitOfWork{state: newMemoryState()}
}

func (u *MemoryUnitOfWork) Transaction(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	work := u.state.clone()
	if err := fn(ctx, work.repositories()); err != nil {
		return err
	}
	u.state = work
	return nil
}

// Events returns a copy of the committed event log.
func (u *MemoryUnitOfWork) Events() []Event {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]Event(nil), u.state.events...)
}

type memoryState struct {
	availabilities map[uuid.UUID]*Availability
	slotOwner      map[uuid.UUID]uuid.UUID
	appointments   map[uuid.UUID]*Appointment
	consultations  map[uuid.UUID]*Consultation // by appointment id
	events         []Event
}

func newMemoryState() *memoryState {
	return &memoryState{
		availabilities: make(map[uuid.UUID]*Availability),
		slotOwner:      make(map[uuid.UUID]uuid.UUID),
		appointments:   make(map[uuid.UUID]*Appointment),
		consultations:  make(map[uuid.UUID]*Consultation),
	}
}

func (s *memoryState) clone() *memoryState {
	c := newMemoryState()
	for id, a := range s.availabilities {
		c.availabilities[id] = copyAvailability(a)
	}
	for slotID, availabilityID := range s.slotOwner {
		c.slotOwner[slotID] = availabilityID
	}
	for id, a := range s.appointments {
		c.appointments[id] = copyAppointment(a)
	}
	for id, cons := range s.consultations {
		cp := *cons
		c.consultations[id] = &cp
	}
	c.events = append([]Event(nil), s.events...)
	return c
}

func (s *memoryState) repositories() Repositories {
	return Repositories{
		Availabilities: memoryAvailabilities{s},
		Appointments:   memoryAppointments{s},
		Consultations:  memoryConsultations{s},
		Events:         memoryEvents{s},
	}
}

func copyAvailability(a *Availability) *Availability {
	cp := *a
	cp.slots = make([]*Slot, len(a.slots))
	for i, sl := range a.slots {
		s := *sl
		cp.slots[i] = &s
	}
	return &cp
}

func copyAppointment(a *Appointment) *Appointment {
	cp := *a
	if a.telemedicineLink != nil {
		link := *a.telemedicineLink
		cp.telemedicineLink = &link
	}
	return &cp
}

type memoryAvailabilities struct{ s *memoryState }

// LockDoctor is a no-op: memory transactions are already serialized.
func (r memoryAvailabilities) LockDoctor(context.Context, uuid.UUID) error { return nil }

func (r memoryAvailabilities) FindByDoctorID(_ context.Context, doctorID uuid.UUID) ([]*Availability, error) {
	var out []*Availability
	for _, a := range r.s.availabilities {
		if a.doctorID == doctorID {
			out = append(out, copyAvailability(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].start.Before(out[j].start) })
	return out, nil
}

func (r memoryAvailabilities) FindBySlotID(_ context.Context, slotID uuid.UUID) (*Availability, error) {
	id, ok := r.s.slotOwner[slotID]
	if !ok {
		return nil, ErrAvailabilityNotFound
	}
	return copyAvailability(r.s.availabilities[id]), nil
}

// FindBySlotIDForRead matches FindBySlotID: memory reads take no locks.
func (r memoryAvailabilities) FindBySlotIDForRead(ctx context.Context, slotID uuid.UUID) (*Availability, error) {
	return r.FindBySlotID(ctx, slotID)
}

func (r memoryAvailabilities) Save(_ context.Context, a *Availability) error {
	if _, exists := r.s.availabilities[a.id]; exists {
		return fmt.Errorf("%w: availability %s already exists", ErrConflict, a.id)
	}
	a.version = 1
	r.s.availabilities[a.id] = copyAvailability(a)
	for _, sl := range a.slots {
		r.s.slotOwner[sl.id] = a.id
	}
	return nil
}

func (r memoryAvailabilities) Update(_ context.Context, a *Availability) error {
	stored, ok := r.s.availabilities[a.id]
	if !ok {
		return ErrAvailabilityNotFound
	}
	if stored.version != a.version {
		return ErrStaleAvailability
	}
	a.version++
	r.s.availabilities[a.id] = copyAvailability(a)
	return nil
}

func (r memoryAvailabilities) FindOrphanedBookedSlots(_ context.Context, limit int) ([]uuid.UUID, error) {
	held := make(map[uuid.UUID]bool)
	for _, appt := range r.s.appointments {
		if appt.status == StatusScheduled || appt.status == StatusCompleted {
			held[appt.slotID] = true
		}
	}

	var booked []*Slot
	for _, a := range r.s.availabilities {
		for _, sl := range a.slots {
			if sl.status == SlotBooked && !held[sl.id] {
				booked = append(booked, sl)
			}
		}
	}
	sort.Slice(booked, func(i, j int) bool { return booked[i].start.Before(booked[j].start) })

	var out []uuid.UUID
	for _, sl := range booked {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, sl.id)
	}
	return out, nil
}

type memoryAppointments struct{ s *memoryState }

func (r memoryAppointments) FindByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	a, ok := r.s.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return copyAppointment(a), nil
}

func (r memoryAppointments) FindByPatientID(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, error) {
	var all []*Appointment
	for _, a := range r.s.appointments {
		if a.patientID == patientID {
			all = append(all, copyAppointment(a))
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].createdAt.After(all[j].createdAt) })

	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (r memoryAppointments) Save(_ context.Context, a *Appointment) error {
	if _, exists := r.s.appointments[a.id]; exists {
		return fmt.Errorf("%w: appointment %s already exists", ErrConflict, a.id)
	}
	if a.status == StatusScheduled {
		for _, other := range r.s.appointments {
			if other.slotID == a.slotID && other.status == StatusScheduled {
				return ErrSlotAlreadyBooked
			}
		}
	}
	a.version = 1
	r.s.appointments[a.id] = copyAppointment(a)
	return nil
}

func (r memoryAppointments) Update(_ context.Context, a *Appointment) error {
	stored, ok := r.s.appointments[a.id]
	if !ok {
		return ErrAppointmentNotFound
	}
	if stored.version != a.version {
		return ErrStaleAppointment
	}
	a.version++
	r.s.appointments[a.id] = copyAppointment(a)
	return nil
}

type memoryConsultations struct{ s *memoryState }

func (r memoryConsultations) Save(_ context.Context, c *Consultation) error {
	if _, exists := r.s.consultations[c.appointmentID]; exists {
		return ErrConsultationExists
	}
	cp := *c
	r.s.consultations[c.appointmentID] = &cp
	return nil
}

func (r memoryConsultations) FindByAppointmentID(_ context.Context, appointmentID uuid.UUID) (*Consultation, error) {
	c, ok := r.s.consultations[appointmentID]
	if !ok {
		return nil, fmt.Errorf("%w: consultation", ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

type memoryEvents struct{ s *memoryState }

func (r memoryEvents) Insert(_ context.Context, ev Event) error {
	ev.ID = int64(len(r.s.events) + 1)
	r.s.events = append(r.s.events, ev)
	return nil
}
