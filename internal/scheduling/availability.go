package scheduling

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Availability is a doctor's working window, partitioned into contiguous
// 30 minute slots. It owns its slots; they change only through it.
type Availability struct {
	id       uuid.UUID
	doctorID uuid.UUID
	start    time.Time
	end      time.Time
	slots    []*Slot
	version  int
}

// NewAvailability validates the window and generates its slots. The
// window must be at least SlotDuration long and an exact multiple of it.
func NewAvailability(doctorID uuid.UUID, start, end time.Time) (*Availability, error) {
	if doctorID == uuid.Nil {
		return nil, ErrMissingDoctor
	}
	start, end = start.UTC(), end.UTC()
	if !start.Before(end) {
		return nil, ErrInvalidTimeRange
	}

	d := end.Sub(start)
	if d < SlotDuration {
		return nil, ErrAvailabilityTooShort
	}
	if d%SlotDuration != 0 {
		return nil, ErrAvailabilityNotAligned
	}

	a := &Availability{
		id:       uuid.New(),
		doctorID: doctorID,
		start:    start,
		end:      end,
		slots:    make([]*Slot, 0, int(d/SlotDuration)),
	}
	for cur := start; cur.Before(end); cur = cur.Add(SlotDuration) {
		a.slots = append(a.slots, &Slot{
			id:             uuid.New(),
			availabilityID: a.id,
			start:          cur,
			end:            cur.Add(SlotDuration),
			status:         SlotAvailable,
		})
	}

	return a, nil
}

// RestoreAvailability rebuilds an availability from persisted state. Slots
// are attached as loaded, in chronological order.
func RestoreAvailability(id, doctorID uuid.UUID, start, end time.Time, version int, slots []*Slot) *Availability {
	return &Availability{
		id:       id,
		doctorID: doctorID,
		start:    start.UTC(),
		end:      end.UTC(),
		slots:    slots,
		version:  version,
	}
}

func (a *Availability) ID() uuid.UUID       { return a.id }
func (a *Availability) DoctorID() uuid.UUID { return a.doctorID }
func (a *Availability) Start() time.Time    { return a.start }
func (a *Availability) End() time.Time      { return a.end }
func (a *Availability) Version() int        { return a.version }

// Slots returns a copy of the slot sequence.
func (a *Availability) Slots() []Slot {
	out := make([]Slot, len(a.slots))
	for i, s := range a.slots {
		out[i] = *s
	}
	return out
}

// OverlapsWith compares the two windows as half-open intervals, so windows
// that only touch at a boundary do not overlap.
func (a *Availability) OverlapsWith(other *Availability) bool {
	return a.start.Before(other.end) && other.start.Before(a.end)
}

// FindSlot returns a copy of the named slot.
func (a *Availability) FindSlot(slotID uuid.UUID) (Slot, error) {
	s, err := a.slot(slotID)
	if err != nil {
		return Slot{}, err
	}
	return *s, nil
}

func (a *Availability) BookSlot(slotID uuid.UUID) error {
	s, err := a.slot(slotID)
	if err != nil {
		return err
	}
	return s.Book()
}

func (a *Availability) MakeSlotAvailable(slotID uuid.UUID) error {
	s, err := a.slot(slotID)
	if err != nil {
		return err
	}
	return s.MakeAvailable()
}

func (a *Availability) slot(slotID uuid.UUID) (*Slot, error) {
	for _, s := range a.slots {
		if s.id == slotID {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w %s in availability %s", ErrSlotNotFound, slotID, a.id)
}
