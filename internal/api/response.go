package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// errorCodes are checked in order, so specific errors come before the
// kinds they wrap.
var errorCodes = []struct {
	target error
	status int
	code   string
}{
	{scheduling.ErrSlotBeingBooked, http.StatusConflict, "slot_being_booked"},
	{scheduling.ErrSlotAlreadyBooked, http.StatusConflict, "slot_already_booked"},
	{scheduling.ErrAvailabilityOverlap, http.StatusConflict, "availability_overlap"},
	{scheduling.ErrInvalidStatusTransition, http.StatusBadRequest, "invalid_status_transition"},
	{scheduling.ErrSlotNotFound, http.StatusNotFound, "slot_not_found"},
	{scheduling.ErrAppointmentNotFound, http.StatusNotFound, "appointment_not_found"},
	{scheduling.ErrPatientNotFound, http.StatusNotFound, "patient_not_found"},
	{scheduling.ErrDoctorNotFound, http.StatusNotFound, "doctor_not_found"},
	{scheduling.ErrValidation, http.StatusBadRequest, "validation_error"},
	{scheduling.ErrForbidden, http.StatusForbidden, "forbidden"},
	{scheduling.ErrNotFound, http.StatusNotFound, "not_found"},
	{scheduling.ErrConflict, http.StatusConflict, "conflict"},
}

// writeServiceError maps a scheduling error to its HTTP status. Anything
// unclassified is logged and reported as a bare 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	for _, e := range errorCodes {
		if errors.Is(err, e.target) {
			writeError(w, e.status, e.code, err.Error())
			return
		}
	}

	logger.Error("request failed",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("request_id", GetRequestID(r.Context())),
		zap.Error(err),
	)
	writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
}
