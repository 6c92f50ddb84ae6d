package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/auth"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

type stubLinks struct{}

func (stubLinks) Generate(id uuid.UUID) (string, error) {
	return "https://meet.test/clinic-" + id.String(), nil
}

type testServer struct {
	handler http.Handler
	tokens  *auth.TokenManager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	reg := prometheus.NewRegistry()
	svc := scheduling.NewService(
		scheduling.NewMemoryUnitOfWork(),
		redisclient.NewLocalLocker(),
		stubLinks{},
		metrics.New(reg),
		nil,
	)
	tokens := auth.NewTokenManager("test-secret", time.Hour)
	return &testServer{
		handler: NewRouter(RouterConfig{Service: svc, Tokens: tokens, Gatherer: reg, Env: "test"}),
		tokens:  tokens,
	}
}

func (s *testServer) token(t *testing.T, id uuid.UUID, role scheduling.Role) string {
	t.Helper()
	tok, err := s.tokens.Issue(scheduling.Actor{ID: id, Role: role})
	require.NoError(t, err)
	return tok
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func (s *testServer) publish(t *testing.T, doctorID uuid.UUID) AvailabilityResponse {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/availabilities", s.token(t, doctorID, scheduling.RoleDoctor), map[string]string{
		"doctor_id":       doctorID.String(),
		"start_date_time": "2024-07-10T09:00:00Z",
		"end_date_time":   "2024-07-10T11:00:00Z",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[AvailabilityResponse](t, rec)
}

func TestCreateAvailability(t *testing.T) {
	srv := newTestServer(t)
	doctor := uuid.New()

	a := srv.publish(t, doctor)

	assert.Equal(t, doctor, a.DoctorID)
	require.Len(t, a.Slots, 4)
	for _, s := range a.Slots {
		assert.Equal(t, "AVAILABLE", s.Status)
		assert.Equal(t, 30*time.Minute, s.EndDateTime.Sub(s.StartDateTime))
	}

	rec := srv.do(t, http.MethodGet, "/doctors/"+doctor.String()+"/availabilities", srv.token(t, uuid.New(), scheduling.RolePatient), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[[]AvailabilityResponse](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, a.ID, list[0].ID)
}

func TestCreateAvailability_Errors(t *testing.T) {
	srv := newTestServer(t)
	doctor := uuid.New()
	tok := srv.token(t, doctor, scheduling.RoleDoctor)

	tests := []struct {
		name   string
		token  string
		body   any
		status int
		code   string
	}{
		{
			name:   "missing token",
			body:   map[string]string{},
			status: http.StatusUnauthorized,
			code:   "unauthorized",
		},
		{
			name:   "malformed json",
			token:  tok,
			body:   "{",
			status: http.StatusBadRequest,
			code:   "invalid_request_body",
		},
		{
			name:   "missing doctor id",
			token:  tok,
			body:   map[string]string{"start_date_time": "2024-07-10T09:00:00Z", "end_date_time": "2024-07-10T10:00:00Z"},
			status: http.StatusBadRequest,
			code:   "validation_error",
		},
		{
			name:   "not aligned",
			token:  tok,
			body:   map[string]string{"doctor_id": doctor.String(), "start_date_time": "2024-07-10T09:00:00Z", "end_date_time": "2024-07-10T09:35:00Z"},
			status: http.StatusBadRequest,
			code:   "validation_error",
		},
		{
			name:   "other doctor",
			token:  srv.token(t, uuid.New(), scheduling.RoleDoctor),
			body:   map[string]string{"doctor_id": doctor.String(), "start_date_time": "2024-07-10T09:00:00Z", "end_date_time": "2024-07-10T10:00:00Z"},
			status: http.StatusForbidden,
			code:   "forbidden",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := srv.do(t, http.MethodPost, "/availabilities", tt.token, tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decodeBody[ErrorResponse](t, rec).Error)
		})
	}
}

func TestCreateAvailability_Overlap(t *testing.T) {
	srv := newTestServer(t)
	doctor := uuid.New()
	srv.publish(t, doctor)

	rec := srv.do(t, http.MethodPost, "/availabilities", srv.token(t, doctor, scheduling.RoleDoctor), map[string]string{
		"doctor_id":       doctor.String(),
		"start_date_time": "2024-07-10T10:30:00Z",
		"end_date_time":   "2024-07-10T12:00:00Z",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "availability_overlap", decodeBody[ErrorResponse](t, rec).Error)
}

func TestAppointmentLifecycle(t *testing.T) {
	srv := newTestServer(t)
	doctor, patient := uuid.New(), uuid.New()
	a := srv.publish(t, doctor)
	patientTok := srv.token(t, patient, scheduling.RolePatient)

	rec := srv.do(t, http.MethodPost, "/appointments", patientTok, map[string]string{
		"slot_id":    a.Slots[0].ID.String(),
		"patient_id": patient.String(),
		"modality":   "TELEMEDICINE",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	appt := decodeBody[AppointmentResponse](t, rec)
	assert.Equal(t, "SCHEDULED", appt.Status)
	require.NotNil(t, appt.DoctorID)
	assert.Equal(t, doctor, *appt.DoctorID)
	require.NotNil(t, appt.TelemedicineLink)
	assert.True(t, strings.HasSuffix(*appt.TelemedicineLink, appt.ID.String()))

	rec = srv.do(t, http.MethodPost, "/appointments", srv.token(t, uuid.New(), scheduling.RoleAdmin), map[string]string{
		"slot_id":    a.Slots[0].ID.String(),
		"patient_id": uuid.NewString(),
		"modality":   "IN_PERSON",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "slot_already_booked", decodeBody[ErrorResponse](t, rec).Error)

	rec = srv.do(t, http.MethodGet, "/appointments/"+appt.ID.String(), srv.token(t, uuid.New(), scheduling.RolePatient), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	diagnosis := "healthy"
	rec = srv.do(t, http.MethodPost, "/appointments/"+appt.ID.String()+"/consultation", srv.token(t, doctor, scheduling.RoleDoctor), RegisterConsultationRequest{Diagnosis: &diagnosis})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = srv.do(t, http.MethodGet, "/appointments/"+appt.ID.String(), patientTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[AppointmentResponse](t, rec)
	assert.Equal(t, "COMPLETED", got.Status)
	require.NotNil(t, got.Slot)
	assert.Equal(t, "BOOKED", got.Slot.Status)
	require.NotNil(t, got.Consultation)
	require.NotNil(t, got.Consultation.Diagnosis)
	assert.Equal(t, "healthy", *got.Consultation.Diagnosis)
	assert.Nil(t, got.Consultation.Notes)

	rec = srv.do(t, http.MethodPost, "/appointments/"+appt.ID.String()+"/cancel", patientTok, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_status_transition", decodeBody[ErrorResponse](t, rec).Error)
}

func TestCancelAppointment(t *testing.T) {
	srv := newTestServer(t)
	doctor, patient := uuid.New(), uuid.New()
	a := srv.publish(t, doctor)
	patientTok := srv.token(t, patient, scheduling.RolePatient)

	rec := srv.do(t, http.MethodPost, "/appointments", patientTok, map[string]string{
		"slot_id":    a.Slots[1].ID.String(),
		"patient_id": patient.String(),
		"modality":   "IN_PERSON",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	appt := decodeBody[AppointmentResponse](t, rec)

	rec = srv.do(t, http.MethodPost, "/appointments/"+appt.ID.String()+"/cancel", patientTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "CANCELLED", decodeBody[AppointmentResponse](t, rec).Status)

	rec = srv.do(t, http.MethodGet, "/doctors/"+doctor.String()+"/availabilities", patientTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[[]AvailabilityResponse](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, "AVAILABLE", list[0].Slots[1].Status)

	rec = srv.do(t, http.MethodGet, "/patients/"+patient.String()+"/appointments?limit=10", patientTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]AppointmentResponse](t, rec), 1)
}

func TestAppointmentRequests_BadInput(t *testing.T) {
	srv := newTestServer(t)
	tok := srv.token(t, uuid.New(), scheduling.RoleAdmin)

	rec := srv.do(t, http.MethodGet, "/appointments/not-a-uuid", tok, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_id", decodeBody[ErrorResponse](t, rec).Error)

	rec = srv.do(t, http.MethodGet, "/appointments/"+uuid.NewString(), tok, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "appointment_not_found", decodeBody[ErrorResponse](t, rec).Error)

	rec = srv.do(t, http.MethodPost, "/appointments", tok, map[string]string{
		"slot_id":    uuid.NewString(),
		"patient_id": uuid.NewString(),
		"modality":   "CARRIER_PIGEON",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(t, http.MethodPost, "/appointments", tok, map[string]string{
		"slot_id":    uuid.NewString(),
		"patient_id": uuid.NewString(),
		"modality":   "IN_PERSON",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "slot_not_found", decodeBody[ErrorResponse](t, rec).Error)

	rec = srv.do(t, http.MethodGet, "/patients/"+uuid.NewString()+"/appointments?limit=abc", tok, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = srv.do(t, http.MethodGet, "/health/ready", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ready := decodeBody[ReadinessResponse](t, rec)
	assert.Equal(t, "ok", ready.Status)
	assert.Equal(t, "disabled", ready.Dependencies["postgres"])
	assert.Equal(t, "disabled", ready.Dependencies["redis"])

	srv.publish(t, uuid.New())
	rec = srv.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "clinic_scheduling_availabilities_registered_total 1")
}

func TestRateLimitAndCORS(t *testing.T) {
	svc := scheduling.NewService(scheduling.NewMemoryUnitOfWork(), redisclient.NewLocalLocker(), stubLinks{}, nil, nil)
	tokens := auth.NewTokenManager("test-secret", time.Hour)
	handler := NewRouter(RouterConfig{
		Service:        svc,
		Tokens:         tokens,
		AllowedOrigins: []string{"https://clinic.example"},
		RateLimit:      2,
	})
	srv := &testServer{handler: handler, tokens: tokens}
	tok := srv.token(t, uuid.New(), scheduling.RoleAdmin)
	path := "/doctors/" + uuid.NewString() + "/availabilities"

	statuses := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		statuses = append(statuses, srv.do(t, http.MethodGet, path, tok, nil).Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, statuses)

	req := httptest.NewRequest(http.MethodOptions, "/appointments", nil)
	req.Header.Set("Origin", "https://clinic.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "https://clinic.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRegisterConsultation_EmptyBody(t *testing.T) {
	srv := newTestServer(t)
	doctor, patient := uuid.New(), uuid.New()
	a := srv.publish(t, doctor)

	rec := srv.do(t, http.MethodPost, "/appointments", srv.token(t, patient, scheduling.RolePatient), map[string]string{
		"slot_id":    a.Slots[0].ID.String(),
		"patient_id": patient.String(),
		"modality":   "IN_PERSON",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	appt := decodeBody[AppointmentResponse](t, rec)

	rec = srv.do(t, http.MethodPost, "/appointments/"+appt.ID.String()+"/consultation", srv.token(t, doctor, scheduling.RoleDoctor), nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	c := decodeBody[ConsultationResponse](t, rec)
	assert.Equal(t, appt.ID, c.AppointmentID)
	assert.Nil(t, c.Notes)
	assert.Nil(t, c.Diagnosis)
	assert.Nil(t, c.Prescription)
	assert.Nil(t, c.Referral)

	// an empty body still has to pass validation where fields are required
	rec = srv.do(t, http.MethodPost, "/availabilities", srv.token(t, doctor, scheduling.RoleDoctor), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", decodeBody[ErrorResponse](t, rec).Error)
}

func TestBodyUUIDs(t *testing.T) {
	rec := httptest.NewRecorder()
	slotID := uuid.New()

	ids, ok := bodyUUIDs(rec, map[string]string{"slot_id": slotID.String()})
	require.True(t, ok)
	assert.Equal(t, slotID, ids["slot_id"])

	ids, ok = bodyUUIDs(rec, map[string]string{"slot_id": "{not-a-uuid}"})
	assert.False(t, ok)
	assert.Nil(t, ids)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_slot_id", decodeBody[ErrorResponse](t, rec).Error)
}
