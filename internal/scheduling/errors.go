package scheduling

import (
	"errors"
	"fmt"
)

// Error kinds. Every non-infrastructure error returned by this package
// wraps exactly one of these, so callers classify with errors.Is.
var (
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("conflict")
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("forbidden")
)

var (
	ErrInvalidTimeRange        = fmt.Errorf("%w: start must be before end", ErrValidation)
	ErrAvailabilityTooShort    = fmt.Errorf("%w: availability must last at least 30 minutes", ErrValidation)
	ErrAvailabilityNotAligned  = fmt.Errorf("%w: availability duration must be a multiple of 30 minutes", ErrValidation)
	ErrMissingDoctor           = fmt.Errorf("%w: doctor id is required", ErrValidation)
	ErrMissingPatient          = fmt.Errorf("%w: patient id is required", ErrValidation)
	ErrMissingSlot             = fmt.Errorf("%w: slot id is required", ErrValidation)
	ErrInvalidModality         = fmt.Errorf("%w: unknown modality", ErrValidation)
	ErrMissingConferenceLink   = fmt.Errorf("%w: telemedicine appointment needs a conference link", ErrValidation)
	ErrInvalidStatusTransition = fmt.Errorf("%w: invalid status transition", ErrValidation)
)

var (
	ErrSlotAlreadyBooked   = fmt.Errorf("%w: slot already booked", ErrConflict)
	ErrSlotBeingBooked     = fmt.Errorf("%w: slot is currently being booked, please retry", ErrConflict)
	ErrAvailabilityOverlap = fmt.Errorf("%w: availability overlaps an existing one", ErrConflict)
	ErrStaleAvailability   = fmt.Errorf("%w: availability was modified concurrently", ErrConflict)
	ErrStaleAppointment    = fmt.Errorf("%w: appointment was modified concurrently", ErrConflict)
	ErrConsultationExists  = fmt.Errorf("%w: consultation already registered", ErrConflict)
)

var (
	ErrSlotNotFound         = fmt.Errorf("%w: slot", ErrNotFound)
	ErrAvailabilityNotFound = fmt.Errorf("%w: availability", ErrNotFound)
	ErrAppointmentNotFound  = fmt.Errorf("%w: appointment", ErrNotFound)
	ErrPatientNotFound      = fmt.Errorf("%w: patient", ErrNotFound)
	ErrDoctorNotFound       = fmt.Errorf("%w: doctor", ErrNotFound)
)
