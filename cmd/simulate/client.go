package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/api"
	"github.com/hackgods/clinic-scheduling/internal/auth"
	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

// pageSize is the largest page the list endpoints serve.
const pageSize = 100

type apiError struct {
	Status  int
	Code    string
	Details string
}

func (e *apiError) Error() string {
	if e.Details == "" {
		return fmt.Sprintf("api %d: %s", e.Status, e.Code)
	}
	return fmt.Sprintf("api %d: %s: %s", e.Status, e.Code, e.Details)
}

// apiClient talks to the api-server with tokens minted from the shared
// JWT secret: one per patient, plus an admin token for audit reads.
type apiClient struct {
	base          string
	http          *http.Client
	tokens        *auth.TokenManager
	admin         string
	retryThrottle bool

	mu       *sync.Mutex
	patients map[uuid.UUID]string
}

func newAPIClient(base string, tokens *auth.TokenManager) (*apiClient, error) {
	admin, err := tokens.Issue(scheduling.Actor{ID: uuid.New(), Role: scheduling.RoleAdmin})
	if err != nil {
		return nil, err
	}
	return &apiClient{
		base:     strings.TrimRight(base, "/"),
		http:     &http.Client{Timeout: 10 * time.Second},
		tokens:   tokens,
		admin:    admin,
		mu:       &sync.Mutex{},
		patients: make(map[uuid.UUID]string),
	}, nil
}

// withThrottleRetry returns a client that waits out 429s instead of
// reporting them.
func (c *apiClient) withThrottleRetry() *apiClient {
	cp := *c
	cp.retryThrottle = true
	return &cp
}

func (c *apiClient) patientToken(id uuid.UUID) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tok, ok := c.patients[id]; ok {
		return tok, nil
	}
	tok, err := c.tokens.Issue(scheduling.Actor{ID: id, Role: scheduling.RolePatient})
	if err != nil {
		return "", err
	}
	c.patients[id] = tok
	return tok, nil
}

// call sends one request and decodes a 2xx body into out. Transport
// failures report status 0.
func (c *apiClient) call(ctx context.Context, method, path, token string, body, out any) (int, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return 0, err
		}
	}

	for attempt := 1; ; attempt++ {
		status, err := c.send(ctx, method, path, token, payload, out)
		if status != http.StatusTooManyRequests || !c.retryThrottle || attempt == 10 {
			return status, err
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(time.Duration(attempt) * 200 * time.Millisecond):
		}
	}
}

func (c *apiClient) send(ctx context.Context, method, path, token string, payload []byte, out any) (int, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var e api.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return resp.StatusCode, &apiError{Status: resp.StatusCode, Code: e.Error, Details: e.Details}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	return resp.StatusCode, nil
}

func (c *apiClient) doctorAvailabilities(ctx context.Context, doctorID uuid.UUID) ([]api.AvailabilityResponse, error) {
	var out []api.AvailabilityResponse
	_, err := c.call(ctx, http.MethodGet, "/doctors/"+doctorID.String()+"/availabilities", c.admin, nil, &out)
	return out, err
}

func (c *apiClient) book(ctx context.Context, patientID, slotID uuid.UUID, modality scheduling.Modality) (int, *api.AppointmentResponse, error) {
	tok, err := c.patientToken(patientID)
	if err != nil {
		return 0, nil, err
	}
	req := api.CreateAppointmentRequest{
		SlotID:    slotID.String(),
		PatientID: patientID.String(),
		Modality:  string(modality),
	}
	var out api.AppointmentResponse
	status, err := c.call(ctx, http.MethodPost, "/appointments", tok, req, &out)
	if err != nil {
		return status, nil, err
	}
	return status, &out, nil
}

func (c *apiClient) cancel(ctx context.Context, patientID, appointmentID uuid.UUID) (int, error) {
	tok, err := c.patientToken(patientID)
	if err != nil {
		return 0, err
	}
	return c.call(ctx, http.MethodPost, "/appointments/"+appointmentID.String()+"/cancel", tok, nil, nil)
}

// ownAppointments reads the first page of a patient's appointments as
// that patient.
func (c *apiClient) ownAppointments(ctx context.Context, patientID uuid.UUID) (int, error) {
	tok, err := c.patientToken(patientID)
	if err != nil {
		return 0, err
	}
	var out []api.AppointmentResponse
	return c.call(ctx, http.MethodGet, "/patients/"+patientID.String()+"/appointments?limit=20", tok, nil, &out)
}

// patientAppointments pages through every appointment of a patient.
func (c *apiClient) patientAppointments(ctx context.Context, patientID uuid.UUID) ([]api.AppointmentResponse, error) {
	var all []api.AppointmentResponse
	for offset := 0; ; offset += pageSize {
		var page []api.AppointmentResponse
		path := fmt.Sprintf("/patients/%s/appointments?limit=%d&offset=%d", patientID, pageSize, offset)
		if _, err := c.call(ctx, http.MethodGet, path, c.admin, nil, &page); err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < pageSize {
			return all, nil
		}
	}
}
