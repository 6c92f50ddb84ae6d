package scheduling

import (
	"time"

	"github.com/google/uuid"
)

// Consultation is the clinical record of a completed appointment. Each
// clinical field is independently optional.
type Consultation struct {
	id            uuid.UUID
	appointmentID uuid.UUID
	notes         *string
	diagnosis     *string
	prescription  *string
	referral      *string
	createdAt     time.Time
}

type ConsultationDetails struct {
	Notes        *string
	Diagnosis    *string
	Prescription *string
	Referral     *string
}

func NewConsultation(appointmentID uuid.UUID, d ConsultationDetails) *Consultation {
	return &Consultation{
		id:            uuid.New(),
		appointmentID: appointmentID,
		notes:         d.Notes,
		diagnosis:     d.Diagnosis,
		prescription:  d.Prescription,
		referral:      d.Referral,
		createdAt:     time.Now().UTC(),
	}
}

func RestoreConsultation(id, appointmentID uuid.UUID, d ConsultationDetails, createdAt time.Time) *Consultation {
	return &Consultation{
		id:            id,
		appointmentID: appointmentID,
		notes:         d.Notes,
		diagnosis:     d.Diagnosis,
		prescription:  d.Prescription,
		referral:      d.Referral,
		createdAt:     createdAt.UTC(),
	}
}

func (c *Consultation) ID() uuid.UUID            { return c.id }
func (c *Consultation) AppointmentID() uuid.UUID { return c.appointmentID }
func (c *Consultation) Notes() *string           { return c.notes }
func (c *Consultation) Diagnosis() *string       { return c.diagnosis }
func (c *Consultation) Prescription() *string    { return c.prescription }
func (c *Consultation) Referral() *string        { return c.referral }
func (c *Consultation) CreatedAt() time.Time     { return c.createdAt }

func (c *Consultation) Details() ConsultationDetails {
	return ConsultationDetails{
		Notes:        c.notes,
		Diagnosis:    c.diagnosis,
		Prescription: c.prescription,
		Referral:     c.referral,
	}
}
