package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/metrics"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
)

type Service struct {
	uow     UnitOfWork
	locker  redisclient.Locker
	links   ConferenceLinkGenerator
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewService(uow UnitOfWork, locker redisclient.Locker, links ConferenceLinkGenerator, m *metrics.Metrics, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		uow:     uow,
		locker:  locker,
		links:   links,
		metrics: m,
		logger:  logger,
	}
}

type RegisterAvailabilityInput struct {
	DoctorID      uuid.UUID
	StartDateTime time.Time
	EndDateTime   time.Time
}

// RegisterAvailability creates a window for a doctor and its slots. The
// overlap check and the insert run under a per-doctor lock in one
// transaction, so two concurrent registrations cannot both pass the check.
func (s *Service) RegisterAvailability(ctx context.Context, actor Actor, in RegisterAvailabilityInput) (*Availability, error) {
	defer s.metrics.Since("register_availability", time.Now())

	if !actor.IsAdmin() && !actor.is(RoleDoctor, in.DoctorID) {
		return nil, fmt.Errorf("%w: doctors may only publish their own availability", ErrForbidden)
	}

	candidate, err := NewAvailability(in.DoctorID, in.StartDateTime, in.EndDateTime)
	if err != nil {
		return nil, err
	}

	err = s.uow.Transaction(ctx, func(ctx context.Context, repos Repositories) error {
		if err := repos.Availabilities.LockDoctor(ctx, in.DoctorID); err != nil {
			return fmt.Errorf("lock doctor: %w", err)
		}

		existing, err := repos.Availabilities.FindByDoctorID(ctx, in.DoctorID)
		if err != nil {
			return fmt.Errorf("load availabilities: %w", err)
		}
		for _, other := range existing {
			if candidate.OverlapsWith(other) {
				return fmt.Errorf("%w (%s)", ErrAvailabilityOverlap, other.ID())
			}
		}

		if err := repos.Availabilities.Save(ctx, candidate); err != nil {
			return fmt.Errorf("save availability: %w", err)
		}

		return s.logEvent(ctx, repos, candidate.ID(), EventAvailabilityRegistered, map[string]any{
			"doctor_id":       in.DoctorID.String(),
			"start_date_time": candidate.Start(),
			"end_date_time":   candidate.End(),
			"slots":           len(candidate.slots),
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncAvailabilities()
	return candidate, nil
}

type RegisterAppointmentInput struct {
	SlotID    uuid.UUID
	PatientID uuid.UUID
	Modality  Modality
}

type BookingResult struct {
	Appointment *Appointment
	DoctorID    uuid.UUID
}

// RegisterAppointment books a free slot for a patient. Slot booking and
// appointment creation commit together or not at all. A short per-slot
// lock sheds concurrent attempts before they reach the database.
func (s *Service) RegisterAppointment(ctx context.Context, actor Actor, in RegisterAppointmentInput) (*BookingResult, error) {
	defer s.metrics.Since("register_appointment", time.Now())

	if !actor.IsAdmin() && !actor.is(RolePatient, in.PatientID) {
		return nil, fmt.Errorf("%w: patients may only book for themselves", ErrForbidden)
	}

	params := NewAppointmentParams{
		ID:        uuid.New(),
		SlotID:    in.SlotID,
		PatientID: in.PatientID,
		Modality:  in.Modality,
	}
	if in.Modality == ModalityTelemedicine {
		link, err := s.links.Generate(params.ID)
		if err != nil {
			return nil, fmt.Errorf("generate conference link: %w", err)
		}
		params.TelemedicineLink = link
	}

	appt, err := NewAppointment(params)
	if err != nil {
		return nil, err
	}

	var doctorID uuid.UUID
	err = s.locker.WithLock(ctx, "slot:"+in.SlotID.String(), func(ctx context.Context) error {
		return s.uow.Transaction(ctx, func(ctx context.Context, repos Repositories) error {
			availability, err := repos.Availabilities.FindBySlotID(ctx, in.SlotID)
			if err != nil {
				if errors.Is(err, ErrAvailabilityNotFound) {
					return fmt.Errorf("%w %s", ErrSlotNotFound, in.SlotID)
				}
				return fmt.Errorf("load availability: %w", err)
			}

			if err := availability.BookSlot(in.SlotID); err != nil {
				return err
			}
			if err := repos.Availabilities.Update(ctx, availability); err != nil {
				return fmt.Errorf("update availability: %w", err)
			}
			if err := repos.Appointments.Save(ctx, appt); err != nil {
				return fmt.Errorf("save appointment: %w", err)
			}

			doctorID = availability.DoctorID()

			return s.logEvent(ctx, repos, appt.ID(), EventAppointmentBooked, map[string]any{
				"slot_id":    in.SlotID.String(),
				"patient_id": in.PatientID.String(),
				"doctor_id":  doctorID.String(),
				"modality":   string(in.Modality),
			})
		})
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			err = ErrSlotBeingBooked
		}
		if errors.Is(err, ErrConflict) {
			s.metrics.ObserveBooking(metrics.ResultConflict)
		} else {
			s.metrics.ObserveBooking(metrics.ResultError)
		}
		return nil, err
	}

	s.metrics.ObserveBooking(metrics.ResultBooked)
	return &BookingResult{Appointment: appt, DoctorID: doctorID}, nil
}

// CancelAppointment cancels a scheduled appointment and releases its slot.
// A missing owning availability is an integrity anomaly: it is logged and
// the appointment is cancelled anyway.
func (s *Service) CancelAppointment(ctx context.Context, actor Actor, appointmentID uuid.UUID) (*Appointment, error) {
	defer s.metrics.Since("cancel_appointment", time.Now())

	var appt *Appointment
	err := s.uow.Transaction(ctx, func(ctx context.Context, repos Repositories) error {
		var err error
		appt, err = repos.Appointments.FindByID(ctx, appointmentID)
		if err != nil {
			return err
		}

		if !actor.IsAdmin() && !actor.is(RolePatient, appt.PatientID()) {
			return fmt.Errorf("%w: only the patient or an admin may cancel", ErrForbidden)
		}

		if err := appt.Cancel(); err != nil {
			return err
		}

		availability, err := repos.Availabilities.FindBySlotID(ctx, appt.SlotID())
		switch {
		case errors.Is(err, ErrAvailabilityNotFound):
			s.logger.Warn("cancelled appointment has no owning availability, slot not released",
				zap.String("appointment_id", appt.ID().String()),
				zap.String("slot_id", appt.SlotID().String()),
			)
		case err != nil:
			return fmt.Errorf("load availability: %w", err)
		default:
			if err := availability.MakeSlotAvailable(appt.SlotID()); err != nil {
				return err
			}
			if err := repos.Availabilities.Update(ctx, availability); err != nil {
				return fmt.Errorf("update availability: %w", err)
			}
		}

		if err := repos.Appointments.Update(ctx, appt); err != nil {
			return fmt.Errorf("update appointment: %w", err)
		}

		return s.logEvent(ctx, repos, appt.ID(), EventAppointmentCancelled, map[string]any{
			"slot_id":      appt.SlotID().String(),
			"cancelled_by": actor.ID.String(),
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncCancellations()
	return appt, nil
}

type RegisterConsultationInput struct {
	AppointmentID uuid.UUID
	Details       ConsultationDetails
}

// RegisterConsultation records the clinical outcome of a scheduled
// appointment and completes it.
func (s *Service) RegisterConsultation(ctx context.Context, actor Actor, in RegisterConsultationInput) (*Consultation, error) {
	defer s.metrics.Since("register_consultation", time.Now())

	var consultation *Consultation
	err := s.uow.Transaction(ctx, func(ctx context.Context, repos Repositories) error {
		appt, err := repos.Appointments.FindByID(ctx, in.AppointmentID)
		if err != nil {
			return err
		}

		if err := s.authorizeDoctor(ctx, repos, actor, appt); err != nil {
			return err
		}

		if err := appt.Complete(); err != nil {
			return err
		}

		consultation = NewConsultation(appt.ID(), in.Details)
		if err := repos.Consultations.Save(ctx, consultation); err != nil {
			return fmt.Errorf("save consultation: %w", err)
		}
		if err := repos.Appointments.Update(ctx, appt); err != nil {
			return fmt.Errorf("update appointment: %w", err)
		}

		return s.logEvent(ctx, repos, appt.ID(), EventConsultationRegistered, map[string]any{
			"consultation_id": consultation.ID().String(),
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncConsultations()
	return consultation, nil
}

// authorizeDoctor lets admins through and doctors only for appointments
// booked on their own slots.
func (s *Service) authorizeDoctor(ctx context.Context, repos Repositories, actor Actor, appt *Appointment) error {
	if actor.IsAdmin() {
		return nil
	}
	if actor.Role != RoleDoctor {
		return fmt.Errorf("%w: only the attending doctor may register a consultation", ErrForbidden)
	}

	availability, err := repos.Availabilities.FindBySlotIDForRead(ctx, appt.SlotID())
	if err != nil {
		if errors.Is(err, ErrAvailabilityNotFound) {
			return fmt.Errorf("%w: appointment slot has no availability", ErrForbidden)
		}
		return fmt.Errorf("load availability: %w", err)
	}
	if availability.DoctorID() != actor.ID {
		return fmt.Errorf("%w: appointment belongs to another doctor", ErrForbidden)
	}
	return nil
}

func (s *Service) logEvent(ctx context.Context, repos Repositories, aggregateID uuid.UUID, eventType string, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("failed to marshal event payload", zap.String("event_type", eventType), zap.Error(err))
		data = nil
	}

	ev := Event{
		EventType:   eventType,
		AggregateID: aggregateID,
		Payload:     data,
		CreatedAt:   time.Now().UTC(),
	}
	if err := repos.Events.Insert(ctx, ev); err != nil {
		return fmt.Errorf("insert event %s: %w", eventType, err)
	}
	return nil
}
