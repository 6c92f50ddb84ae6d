package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/api"
	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

type target struct {
	SlotID   uuid.UUID
	DoctorID uuid.UUID
}

const (
	violationDoubleBooking = "double_booking"
	violationOrphanBooked  = "booked_slot_without_appointment"
	violationFreeSlotHeld  = "appointment_on_available_slot"
)

type violation struct {
	Kind    string
	SlotID  uuid.UUID
	Details string
}

// audit reads the final state of the target slots and every appointment
// of the storm's patients through the API.
func audit(ctx context.Context, client *apiClient, targets []target, patients []uuid.UUID) ([]violation, error) {
	wanted := make(map[uuid.UUID]bool, len(targets))
	doctors := make(map[uuid.UUID]bool)
	for _, t := range targets {
		wanted[t.SlotID] = true
		doctors[t.DoctorID] = true
	}

	slots := make(map[uuid.UUID]string, len(targets))
	for doctorID := range doctors {
		list, err := client.doctorAvailabilities(ctx, doctorID)
		if err != nil {
			return nil, fmt.Errorf("doctor %s availabilities: %w", doctorID, err)
		}
		for _, a := range list {
			for _, s := range a.Slots {
				if wanted[s.ID] {
					slots[s.ID] = s.Status
				}
			}
		}
	}
	for id := range wanted {
		if _, ok := slots[id]; !ok {
			return nil, fmt.Errorf("slot %s no longer listed", id)
		}
	}

	var appointments []api.AppointmentResponse
	for _, patientID := range patients {
		list, err := client.patientAppointments(ctx, patientID)
		if err != nil {
			return nil, fmt.Errorf("patient %s appointments: %w", patientID, err)
		}
		appointments = append(appointments, list...)
	}

	return checkSlots(slots, appointments), nil
}

// checkSlots matches slot statuses against the appointments holding them.
// A slot may be held by at most one SCHEDULED or COMPLETED appointment, and
// is BOOKED exactly when one holds it.
func checkSlots(slots map[uuid.UUID]string, appointments []api.AppointmentResponse) []violation {
	held := make(map[uuid.UUID][]uuid.UUID)
	for _, a := range appointments {
		if _, ok := slots[a.SlotID]; !ok {
			continue
		}
		if a.Status == string(scheduling.StatusScheduled) || a.Status == string(scheduling.StatusCompleted) {
			held[a.SlotID] = append(held[a.SlotID], a.ID)
		}
	}

	ids := make([]uuid.UUID, 0, len(slots))
	for id := range slots {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	var out []violation
	for _, id := range ids {
		status, holders := slots[id], held[id]
		switch {
		case len(holders) > 1:
			out = append(out, violation{
				Kind:    violationDoubleBooking,
				SlotID:  id,
				Details: fmt.Sprintf("%d active appointments %v on a %s slot", len(holders), holders, status),
			})
		case status == string(scheduling.SlotBooked) && len(holders) == 0:
			out = append(out, violation{
				Kind:    violationOrphanBooked,
				SlotID:  id,
				Details: "slot is BOOKED but no active appointment holds it",
			})
		case status != string(scheduling.SlotBooked) && len(holders) == 1:
			out = append(out, violation{
				Kind:    violationFreeSlotHeld,
				SlotID:  id,
				Details: fmt.Sprintf("appointment %s holds a %s slot", holders[0], status),
			})
		}
	}
	return out
}
