package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AppointmentDetail is an appointment with the doctor resolved from its slot
// and the consultation, if one was registered.
type AppointmentDetail struct {
	Appointment  *Appointment
	DoctorID     uuid.UUID
	Slot         *Slot
	Consultation *Consultation
}

// GetAppointment retrieves an appointment visible to actor.
func (s *Service) GetAppointment(ctx context.Context, actor Actor, id uuid.UUID) (*AppointmentDetail, error) {
	var detail *AppointmentDetail
	err := s.uow.Transaction(ctx, func(ctx context.Context, repos Repositories) error {
		appt, err := repos.Appointments.FindByID(ctx, id)
		if err != nil {
			return err
		}
		detail = &AppointmentDetail{Appointment: appt}

		availability, err := repos.Availabilities.FindBySlotIDForRead(ctx, appt.SlotID())
		switch {
		case errors.Is(err, ErrAvailabilityNotFound):
		case err != nil:
			return fmt.Errorf("load availability: %w", err)
		default:
			detail.DoctorID = availability.DoctorID()
			if slot, err := availability.FindSlot(appt.SlotID()); err == nil {
				detail.Slot = &slot
			}
		}

		switch {
		case actor.IsAdmin():
		case actor.is(RolePatient, appt.PatientID()):
		case actor.is(RoleDoctor, detail.DoctorID):
		default:
			return fmt.Errorf("%w: appointment belongs to someone else", ErrForbidden)
		}

		c, err := repos.Consultations.FindByAppointmentID(ctx, appt.ID())
		if err != nil && !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("load consultation: %w", err)
		}
		detail.Consultation = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return detail, nil
}

// ListPatientAppointments retrieves a page of a patient's appointments,
// newest first.
func (s *Service) ListPatientAppointments(ctx context.Context, actor Actor, patientID uuid.UUID, limit, offset int) ([]*Appointment, error) {
	if !actor.IsAdmin() && !actor.is(RolePatient, patientID) {
		return nil, fmt.Errorf("%w: patients may only list their own appointments", ErrForbidden)
	}

	if limit <= 0 {
		limit = 20 // default
	}
	if limit > 100 {
		limit = 100 // max
	}
	if offset < 0 {
		offset = 0
	}

	var out []*Appointment
	err := s.uow.Transaction(ctx, func(ctx context.Context, repos Repositories) error {
		var err error
		out, err = repos.Appointments.FindByPatientID(ctx, patientID, limit, offset)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return out, nil
}

// ListDoctorAvailabilities retrieves every availability of a doctor with
// its slots, in chronological order.
func (s *Service) ListDoctorAvailabilities(ctx context.Context, doctorID uuid.UUID) ([]*Availability, error) {
	var out []*Availability
	err := s.uow.Transaction(ctx, func(ctx context.Context, repos Repositories) error {
		var err error
		out, err = repos.Availabilities.FindByDoctorID(ctx, doctorID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list availabilities by doctor: %w", err)
	}
	return out, nil
}

// ReconcileSlots releases up to limit BOOKED slots that no scheduled or
// completed appointment holds. It is intended to be called by the worker
// periodically and returns the number of slots released.
func (s *Service) ReconcileSlots(ctx context.Context, limit int) (int, error) {
	defer s.metrics.Since("reconcile_slots", time.Now())

	released := 0
	err := s.uow.Transaction(ctx, func(ctx context.Context, repos Repositories) error {
		released = 0
		orphans, err := repos.Availabilities.FindOrphanedBookedSlots(ctx, limit)
		if err != nil {
			return fmt.Errorf("find orphaned slots: %w", err)
		}

		for _, slotID := range orphans {
			availability, err := repos.Availabilities.FindBySlotID(ctx, slotID)
			if err != nil {
				return fmt.Errorf("load availability for slot %s: %w", slotID, err)
			}
			if err := availability.MakeSlotAvailable(slotID); err != nil {
				return err
			}
			if err := repos.Availabilities.Update(ctx, availability); err != nil {
				return fmt.Errorf("update availability: %w", err)
			}

			s.logger.Warn("released booked slot without active appointment",
				zap.String("slot_id", slotID.String()),
				zap.String("availability_id", availability.ID().String()),
			)
			if err := s.logEvent(ctx, repos, slotID, EventSlotReconciled, map[string]any{
				"availability_id": availability.ID().String(),
			}); err != nil {
				return err
			}
			released++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.metrics.AddReconciled(released)
	return released, nil
}
