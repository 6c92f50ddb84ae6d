package scheduling

import (
	"time"

	"github.com/google/uuid"
)

// Slot is one bookable unit of an Availability. It is only ever created
// by NewAvailability or restored from storage.
type Slot struct {
	id             uuid.UUID
	availabilityID uuid.UUID
	start          time.Time
	end            time.Time
	status         SlotStatus
}

// RestoreSlot rebuilds a slot from persisted state.
func RestoreSlot(id, availabilityID uuid.UUID, start, end time.Time, status SlotStatus) *Slot {
	return &Slot{
		id:             id,
		availabilityID: availabilityID,
		start:          start.UTC(),
		end:            end.UTC(),
		status:         status,
	}
}

func (s *Slot) ID() uuid.UUID             { return s.id }
func (s *Slot) AvailabilityID() uuid.UUID { return s.availabilityID }
func (s *Slot) Start() time.Time          { return s.start }
func (s *Slot) End() time.Time            { return s.end }
func (s *Slot) Status() SlotStatus        { return s.status }

// Book moves the slot from AVAILABLE to BOOKED.
func (s *Slot) Book() error {
	if s.status != SlotAvailable {
		return ErrSlotAlreadyBooked
	}
	s.status = SlotBooked
	return nil
}

// MakeAvailable releases a booked slot. Releasing an available slot is a
// no-op; a cancelled slot can never come back.
func (s *Slot) MakeAvailable() error {
	switch s.status {
	case SlotAvailable:
		return nil
	case SlotBooked:
		s.status = SlotAvailable
		return nil
	default:
		return ErrInvalidStatusTransition
	}
}

// Cancel withdraws the slot. CANCELLED is terminal.
func (s *Slot) Cancel() {
	s.status = SlotCancelled
}
