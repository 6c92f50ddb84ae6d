package scheduling

import (
	"time"

	"github.com/google/uuid"
)

// SlotDuration is the fixed length of every bookable slot.
const SlotDuration = 30 * time.Minute

type SlotStatus string

const (
	SlotAvailable SlotStatus = "AVAILABLE"
	SlotBooked    SlotStatus = "BOOKED"
	SlotCancelled SlotStatus = "CANCELLED"
)

type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "SCHEDULED"
	StatusCompleted AppointmentStatus = "COMPLETED"
	StatusCancelled AppointmentStatus = "CANCELLED"
)

type Modality string

const (
	ModalityInPerson     Modality = "IN_PERSON"
	ModalityTelemedicine Modality = "TELEMEDICINE"
)

func (m Modality) Valid() bool {
	return m == ModalityInPerson || m == ModalityTelemedicine
}

type Role string

const (
	RoleAdmin   Role = "ADMIN"
	RoleDoctor  Role = "DOCTOR"
	RolePatient Role = "PATIENT"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleDoctor, RolePatient:
		return true
	}
	return false
}

// Actor is the authenticated caller of a use case. For doctors and
// patients ID is the doctor or patient id itself.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

func (a Actor) is(role Role, id uuid.UUID) bool {
	return a.Role == role && a.ID == id
}

const (
	EventAvailabilityRegistered = "AVAILABILITY_REGISTERED"
	EventAppointmentBooked      = "APPOINTMENT_BOOKED"
	EventAppointmentCancelled   = "APPOINTMENT_CANCELLED"
	EventConsultationRegistered = "CONSULTATION_REGISTERED"
	EventSlotReconciled         = "SLOT_RECONCILED"
)

// Event is a row of the event log, written in the same transaction as the
// state change it describes.
type Event struct {
	ID          int64
	EventType   string
	AggregateID uuid.UUID
	Payload     []byte
	CreatedAt   time.Time
}
