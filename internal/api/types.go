package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

type CreateAvailabilityRequest struct {
	DoctorID      string    `json:"doctor_id" validate:"required,uuid"`
	StartDateTime time.Time `json:"start_date_time" validate:"required"`
	EndDateTime   time.Time `json:"end_date_time" validate:"required"`
}

type CreateAppointmentRequest struct {
	SlotID    string `json:"slot_id" validate:"required,uuid"`
	PatientID string `json:"patient_id" validate:"required,uuid"`
	Modality  string `json:"modality" validate:"required,oneof=IN_PERSON TELEMEDICINE"`
}

type RegisterConsultationRequest struct {
	Notes        *string `json:"notes,omitempty"`
	Diagnosis    *string `json:"diagnosis,omitempty"`
	Prescription *string `json:"prescription,omitempty"`
	Referral     *string `json:"referral,omitempty"`
}

type SlotResponse struct {
	ID            uuid.UUID `json:"id"`
	StartDateTime time.Time `json:"start_date_time"`
	EndDateTime   time.Time `json:"end_date_time"`
	Status        string    `json:"status"`
}

type AvailabilityResponse struct {
	ID            uuid.UUID      `json:"id"`
	DoctorID      uuid.UUID      `json:"doctor_id"`
	StartDateTime time.Time      `json:"start_date_time"`
	EndDateTime   time.Time      `json:"end_date_time"`
	Slots         []SlotResponse `json:"slots"`
}

type AppointmentResponse struct {
	ID               uuid.UUID             `json:"id"`
	SlotID           uuid.UUID             `json:"slot_id"`
	PatientID        uuid.UUID             `json:"patient_id"`
	DoctorID         *uuid.UUID            `json:"doctor_id,omitempty"`
	Status           string                `json:"status"`
	Modality         string                `json:"modality"`
	TelemedicineLink *string               `json:"telemedicine_link,omitempty"`
	CreatedAt        time.Time             `json:"created_at"`
	Slot             *SlotResponse         `json:"slot,omitempty"`
	Consultation     *ConsultationResponse `json:"consultation,omitempty"`
}

type ConsultationResponse struct {
	ID            uuid.UUID `json:"id"`
	AppointmentID uuid.UUID `json:"appointment_id"`
	Notes         *string   `json:"notes"`
	Diagnosis     *string   `json:"diagnosis"`
	Prescription  *string   `json:"prescription"`
	Referral      *string   `json:"referral"`
	CreatedAt     time.Time `json:"created_at"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toSlotResponse(s scheduling.Slot) SlotResponse {
	return SlotResponse{
		ID:            s.ID(),
		StartDateTime: s.Start(),
		EndDateTime:   s.End(),
		Status:        string(s.Status()),
	}
}

func toAvailabilityResponse(a *scheduling.Availability) AvailabilityResponse {
	slots := a.Slots()
	resp := AvailabilityResponse{
		ID:            a.ID(),
		DoctorID:      a.DoctorID(),
		StartDateTime: a.Start(),
		EndDateTime:   a.End(),
		Slots:         make([]SlotResponse, 0, len(slots)),
	}
	for _, s := range slots {
		resp.Slots = append(resp.Slots, toSlotResponse(s))
	}
	return resp
}

func toAppointmentResponse(a *scheduling.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:               a.ID(),
		SlotID:           a.SlotID(),
		PatientID:        a.PatientID(),
		Status:           string(a.Status()),
		Modality:         string(a.Modality()),
		TelemedicineLink: a.TelemedicineLink(),
		CreatedAt:        a.CreatedAt(),
	}
}

func toConsultationResponse(c *scheduling.Consultation) *ConsultationResponse {
	return &ConsultationResponse{
		ID:            c.ID(),
		AppointmentID: c.AppointmentID(),
		Notes:         c.Notes(),
		Diagnosis:     c.Diagnosis(),
		Prescription:  c.Prescription(),
		Referral:      c.Referral(),
		CreatedAt:     c.CreatedAt(),
	}
}
