package scheduling

import (
	"context"

	"github.com/google/uuid"
)

type AvailabilityRepository interface {
	// LockDoctor serializes availability registration for one doctor until
	// the surrounding transaction ends.
	LockDoctor(ctx context.Context, doctorID uuid.UUID) error

	FindByDoctorID(ctx context.Context, doctorID uuid.UUID) ([]*Availability, error)

	// FindBySlotID returns the availability owning the slot, locked for
	// update. ErrAvailabilityNotFound when no availability owns it.
	FindBySlotID(ctx context.Context, slotID uuid.UUID) (*Availability, error)

	// FindBySlotIDForRead is FindBySlotID without the row lock, for callers
	// that never write the availability back.
	FindBySlotIDForRead(ctx context.Context, slotID uuid.UUID) (*Availability, error)

	// Save and Update persist the full slot status sequence. Update fails
	// with ErrStaleAvailability if the stored version moved on.
	Save(ctx context.Context, a *Availability) error
	Update(ctx context.Context, a *Availability) error

	// For the reconcile sweep
	FindOrphanedBookedSlots(ctx context.Context, limit int) ([]uuid.UUID, error)
}

type AppointmentRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	FindByPatientID(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, error)

	Save(ctx context.Context, a *Appointment) error
	Update(ctx context.Context, a *Appointment) error
}

type ConsultationRepository interface {
	Save(ctx context.Context, c *Consultation) error
	FindByAppointmentID(ctx context.Context, appointmentID uuid.UUID) (*Consultation, error)
}

type EventRepository interface {
	Insert(ctx context.Context, ev Event) error
}

// Repositories is the set of repositories bound to one transaction.
type Repositories struct {
	Availabilities AvailabilityRepository
	Appointments   AppointmentRepository
	Consultations  ConsultationRepository
	Events         EventRepository
}

// UnitOfWork runs fn inside one atomic transaction. Every write made
// through repos is rolled back if fn returns an error or panics.
type UnitOfWork interface {
	Transaction(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
}

// ConferenceLinkGenerator issues meeting links for telemedicine.
type ConferenceLinkGenerator interface {
	Generate(appointmentID uuid.UUID) (string, error)
}
