package scheduling

import (
	"time"

	"github.com/google/uuid"
)

// Appointment books one slot for one patient. It references the slot by id
// only; keeping slot status consistent is the Service's job.
type Appointment struct {
	id               uuid.UUID
	slotID           uuid.UUID
	patientID        uuid.UUID
	status           AppointmentStatus
	modality         Modality
	telemedicineLink *string
	createdAt        time.Time
	version          int
}

type NewAppointmentParams struct {
	ID               uuid.UUID // generated when zero
	SlotID           uuid.UUID
	PatientID        uuid.UUID
	Modality         Modality
	TelemedicineLink string
}

// NewAppointment creates a SCHEDULED appointment. The conference link is
// kept only for TELEMEDICINE and is required there.
func NewAppointment(p NewAppointmentParams) (*Appointment, error) {
	if p.SlotID == uuid.Nil {
		return nil, ErrMissingSlot
	}
	if p.PatientID == uuid.Nil {
		return nil, ErrMissingPatient
	}
	if !p.Modality.Valid() {
		return nil, ErrInvalidModality
	}

	id := p.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	appt := &Appointment{
		id:        id,
		slotID:    p.SlotID,
		patientID: p.PatientID,
		status:    StatusScheduled,
		modality:  p.Modality,
		createdAt: time.Now().UTC(),
	}

	if p.Modality == ModalityTelemedicine {
		if p.TelemedicineLink == "" {
			return nil, ErrMissingConferenceLink
		}
		link := p.TelemedicineLink
		appt.telemedicineLink = &link
	}

	return appt, nil
}

func NewInPersonAppointment(slotID, patientID uuid.UUID) (*Appointment, error) {
	return NewAppointment(NewAppointmentParams{
		SlotID:    slotID,
		PatientID: patientID,
		Modality:  ModalityInPerson,
	})
}

// RestoreAppointment rebuilds an appointment from persisted state.
func RestoreAppointment(
	id, slotID, patientID uuid.UUID,
	status AppointmentStatus,
	modality Modality,
	telemedicineLink *string,
	createdAt time.Time,
	version int,
) *Appointment {
	return &Appointment{
		id:               id,
		slotID:           slotID,
		patientID:        patientID,
		status:           status,
		modality:         modality,
		telemedicineLink: telemedicineLink,
		createdAt:        createdAt.UTC(),
		version:          version,
	}
}

func (a *Appointment) ID() uuid.UUID             { return a.id }
func (a *Appointment) SlotID() uuid.UUID         { return a.slotID }
func (a *Appointment) PatientID() uuid.UUID      { return a.patientID }
func (a *Appointment) Status() AppointmentStatus { return a.status }
func (a *Appointment) Modality() Modality        { return a.modality }
func (a *Appointment) TelemedicineLink() *string { return a.telemedicineLink }
func (a *Appointment) CreatedAt() time.Time      { return a.createdAt }
func (a *Appointment) Version() int              { return a.version }

// Cancel moves a SCHEDULED appointment to CANCELLED.
func (a *Appointment) Cancel() error {
	return a.transition(StatusCancelled)
}

// Complete moves a SCHEDULED appointment to COMPLETED.
func (a *Appointment) Complete() error {
	return a.transition(StatusCompleted)
}

func (a *Appointment) transition(to AppointmentStatus) error {
	if a.status != StatusScheduled {
		return ErrInvalidStatusTransition
	}
	a.status = to
	return nil
}
