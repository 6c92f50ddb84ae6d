package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/auth"
	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

type handlers struct {
	svc      *scheduling.Service
	validate *validator.Validate
	logger   *zap.Logger
}

func newHandlers(svc *scheduling.Service, logger *zap.Logger) *handlers {
	return &handlers{
		svc:      svc,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

// decode reads a JSON body into dst and validates it. An empty body
// decodes as an empty request. It writes the 400 response itself and
// reports whether the handler may continue.
func (h *handlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			writeError(w, http.StatusBadRequest, "validation_error", verrs[0].Field()+" failed "+verrs[0].Tag())
			return false
		}
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return false
	}
	return true
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// bodyUUIDs parses already validated id fields, writing a 400 naming a
// field uuid.Parse rejects.
func bodyUUIDs(w http.ResponseWriter, fields map[string]string) (map[string]uuid.UUID, bool) {
	ids := make(map[string]uuid.UUID, len(fields))
	for name, raw := range fields {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a valid UUID")
			return nil, false
		}
		ids[name] = id
	}
	return ids, true
}

func actor(r *http.Request) scheduling.Actor {
	// routes are mounted behind auth.Middleware; a zero actor has no role
	a, _ := auth.ActorFromContext(r.Context())
	return a
}

func (h *handlers) createAvailability(w http.ResponseWriter, r *http.Request) {
	var req CreateAvailabilityRequest
	if !h.decode(w, r, &req) {
		return
	}
	ids, ok := bodyUUIDs(w, map[string]string{"doctor_id": req.DoctorID})
	if !ok {
		return
	}

	a, err := h.svc.RegisterAvailability(r.Context(), actor(r), scheduling.RegisterAvailabilityInput{
		DoctorID:      ids["doctor_id"],
		StartDateTime: req.StartDateTime,
		EndDateTime:   req.EndDateTime,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, toAvailabilityResponse(a))
}

func (h *handlers) listDoctorAvailabilities(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	list, err := h.svc.ListDoctorAvailabilities(r.Context(), doctorID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	resp := make([]AvailabilityResponse, 0, len(list))
	for _, a := range list {
		resp = append(resp, toAvailabilityResponse(a))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) createAppointment(w http.ResponseWriter, r *http.Request) {
	var req CreateAppointmentRequest
	if !h.decode(w, r, &req) {
		return
	}
	ids, ok := bodyUUIDs(w, map[string]string{"slot_id": req.SlotID, "patient_id": req.PatientID})
	if !ok {
		return
	}

	res, err := h.svc.RegisterAppointment(r.Context(), actor(r), scheduling.RegisterAppointmentInput{
		SlotID:    ids["slot_id"],
		PatientID: ids["patient_id"],
		Modality:  scheduling.Modality(req.Modality),
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	resp := toAppointmentResponse(res.Appointment)
	resp.DoctorID = &res.DoctorID
	writeJSON(w, http.StatusCreated, resp)
}

func (h *handlers) getAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	detail, err := h.svc.GetAppointment(r.Context(), actor(r), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	resp := toAppointmentResponse(detail.Appointment)
	if detail.DoctorID != uuid.Nil {
		resp.DoctorID = &detail.DoctorID
	}
	if detail.Slot != nil {
		slot := toSlotResponse(*detail.Slot)
		resp.Slot = &slot
	}
	if detail.Consultation != nil {
		resp.Consultation = toConsultationResponse(detail.Consultation)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) listPatientAppointments(w http.ResponseWriter, r *http.Request) {
	patientID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be an integer")
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_offset", "offset must be an integer")
		return
	}

	list, err := h.svc.ListPatientAppointments(r.Context(), actor(r), patientID, limit, offset)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	resp := make([]AppointmentResponse, 0, len(list))
	for _, a := range list {
		resp = append(resp, toAppointmentResponse(a))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) cancelAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	appt, err := h.svc.CancelAppointment(r.Context(), actor(r), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *handlers) registerConsultation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req RegisterConsultationRequest
	if !h.decode(w, r, &req) {
		return
	}

	c, err := h.svc.RegisterConsultation(r.Context(), actor(r), scheduling.RegisterConsultationInput{
		AppointmentID: id,
		Details: scheduling.ConsultationDetails{
			Notes:        req.Notes,
			Diagnosis:    req.Diagnosis,
			Prescription: req.Prescription,
			Referral:     req.Referral,
		},
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, toConsultationResponse(c))
}

func queryInt(r *http.Request, key string) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}
