package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hackgods/clinic-scheduling/internal/db"
)

// queryable is satisfied by both pgx.Tx and *pgxpool.Pool.
type queryable interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

func newPgRepositories(q queryable) Repositories {
	return Repositories{
		Availabilities: &pgAvailabilityRepository{q: q},
		Appointments:   &pgAppointmentRepository{q: q},
		Consultations:  &pgConsultationRepository{q: q},
		Events:         &pgEventRepository{q: q},
	}
}

// Helpers

func scanSlot(row pgx.Row) (*Slot, error) {
	var (
		s      Slot
		status string
	)
	if err := row.Scan(&s.id, &s.availabilityID, &s.start, &s.end, &status); err != nil {
		return nil, err
	}
	s.start, s.end = s.start.UTC(), s.end.UTC()
	s.status = SlotStatus(status)
	return &s, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var (
		id, slotID, patientID uuid.UUID
		status, modality      string
		link                  *string
		createdAt             time.Time
		version               int
	)

	err := row.Scan(&id, &slotID, &patientID, &status, &modality, &link, &createdAt, &version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return RestoreAppointment(id, slotID, patientID, AppointmentStatus(status), Modality(modality), link, createdAt, version), nil
}

const appointmentCols = `id, slot_id, patient_id, status, modality, telemedicine_link, created_at, version`

// =========== Availability Repository ===========

type pgAvailabilityRepository struct{ q queryable }

func (r *pgAvailabilityRepository) LockDoctor(ctx context.Context, doctorID uuid.UUID) error {
	_, err := r.q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`, doctorID.String())
	return err
}

func (r *pgAvailabilityRepository) FindByDoctorID(ctx context.Context, doctorID uuid.UUID) ([]*Availability, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, doctor_id, start_time, end_time, version
		FROM availabilities
		WHERE doctor_id = $1
		ORDER BY start_time
	`, doctorID)
	if err != nil {
		return nil, err
	}

	var (
		result []*Availability
		ids    []uuid.UUID
		byID   = make(map[uuid.UUID]*Availability)
	)
	for rows.Next() {
		a := &Availability{}
		if err := rows.Scan(&a.id, &a.doctorID, &a.start, &a.end, &a.version); err != nil {
			rows.Close()
			return nil, err
		}
		a.start, a.end = a.start.UTC(), a.end.UTC()
		result = append(result, a)
		ids = append(ids, a.id)
		byID[a.id] = a
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	slotRows, err := r.q.Query(ctx, `
		SELECT id, availability_id, start_time, end_time, status
		FROM slots
		WHERE availability_id = ANY($1)
		ORDER BY availability_id, start_time
	`, ids)
	if err != nil {
		return nil, err
	}
	defer slotRows.Close()

	for slotRows.Next() {
		s, err := scanSlot(slotRows)
		if err != nil {
			return nil, err
		}
		owner := byID[s.availabilityID]
		owner.slots = append(owner.slots, s)
	}
	if err := slotRows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

const selectAvailabilityBySlot = `
	SELECT a.id, a.doctor_id, a.start_time, a.end_time, a.version
	FROM availabilities a
	JOIN slots s ON s.availability_id = a.id
	WHERE s.id = $1
`

func (r *pgAvailabilityRepository) FindBySlotID(ctx context.Context, slotID uuid.UUID) (*Availability, error) {
	return r.findBySlotID(ctx, selectAvailabilityBySlot+"FOR UPDATE OF a", slotID)
}

func (r *pgAvailabilityRepository) FindBySlotIDForRead(ctx context.Context, slotID uuid.UUID) (*Availability, error) {
	return r.findBySlotID(ctx, selectAvailabilityBySlot, slotID)
}

func (r *pgAvailabilityRepository) findBySlotID(ctx context.Context, query string, slotID uuid.UUID) (*Availability, error) {
	a := &Availability{}
	err := r.q.QueryRow(ctx, query, slotID).Scan(&a.id, &a.doctorID, &a.start, &a.end, &a.version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAvailabilityNotFound
		}
		return nil, err
	}
	a.start, a.end = a.start.UTC(), a.end.UTC()

	rows, err := r.q.Query(ctx, `
		SELECT id, availability_id, start_time, end_time, status
		FROM slots
		WHERE availability_id = $1
		ORDER BY start_time
	`, a.id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		a.slots = append(a.slots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return a, nil
}

func (r *pgAvailabilityRepository) Save(ctx context.Context, a *Availability) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO availabilities (id, doctor_id, start_time, end_time, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 1, now(), now())
	`, a.id, a.doctorID, a.start, a.end)
	if err != nil {
		if _, ok := db.ForeignKeyViolation(err); ok {
			return fmt.Errorf("%w %s", ErrDoctorNotFound, a.doctorID)
		}
		return err
	}

	batch := &pgx.Batch{}
	for _, s := range a.slots {
		batch.Queue(`
			INSERT INTO slots (id, availability_id, start_time, end_time, status, updated_at)
			VALUES ($1, $2, $3, $4, $5, now())
		`, s.id, s.availabilityID, s.start, s.end, string(s.status))
	}
	if err := r.q.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert slots: %w", err)
	}

	a.version = 1
	return nil
}

func (r *pgAvailabilityRepository) Update(ctx context.Context, a *Availability) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE availabilities
		SET version = version + 1,
		    updated_at = now()
		WHERE id = $1
		  AND version = $2
	`, a.id, a.version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleAvailability
	}

	batch := &pgx.Batch{}
	for _, s := range a.slots {
		batch.Queue(`
			UPDATE slots
			SET status = $2,
			    updated_at = now()
			WHERE id = $1
			  AND status <> $2
		`, s.id, string(s.status))
	}
	if err := r.q.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("update slots: %w", err)
	}

	a.version++
	return nil
}

func (r *pgAvailabilityRepository) FindOrphanedBookedSlots(ctx context.Context, limit int) ([]uuid.UUID, error) {
	rows, err := r.q.Query(ctx, `
		SELECT s.id
		FROM slots s
		WHERE s.status = 'BOOKED'
		  AND NOT EXISTS (
		      SELECT 1 FROM appointments ap
		      WHERE ap.slot_id = s.id
		        AND ap.status IN ('SCHEDULED', 'COMPLETED')
		  )
		ORDER BY s.start_time
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		result = append(result, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// =========== Appointment Repository ===========

type pgAppointmentRepository struct{ q queryable }

func (r *pgAppointmentRepository) FindByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.q.QueryRow(ctx, `SELECT `+appointmentCols+` FROM appointments WHERE id = $1`, id)
	return scanAppointment(row)
}

func (r *pgAppointmentRepository) FindByPatientID(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *pgAppointmentRepository) Save(ctx context.Context, a *Appointment) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO appointments (id, slot_id, patient_id, status, modality, telemedicine_link, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 1, $7, now())
	`, a.id, a.slotID, a.patientID, string(a.status), string(a.modality), a.telemedicineLink, a.createdAt)
	if err != nil {
		if _, ok := db.UniqueViolation(err); ok {
			return ErrSlotAlreadyBooked
		}
		if constraint, ok := db.ForeignKeyViolation(err); ok {
			if constraint == "appointments_patient_id_fkey" {
				return fmt.Errorf("%w %s", ErrPatientNotFound, a.patientID)
			}
			return fmt.Errorf("%w %s", ErrSlotNotFound, a.slotID)
		}
		return err
	}

	a.version = 1
	return nil
}

func (r *pgAppointmentRepository) Update(ctx context.Context, a *Appointment) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE appointments
		SET status = $2,
		    telemedicine_link = $3,
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1
		  AND version = $4
	`, a.id, string(a.status), a.telemedicineLink, a.version)
	if err != nil {
		if _, ok := db.UniqueViolation(err); ok {
			return ErrSlotAlreadyBooked
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleAppointment
	}

	a.version++
	return nil
}

// =========== Consultation Repository ===========

type pgConsultationRepository struct{ q queryable }

func (r *pgConsultationRepository) Save(ctx context.Context, c *Consultation) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO consultations (id, appointment_id, notes, diagnosis, prescription, referral, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, c.id, c.appointmentID, c.notes, c.diagnosis, c.prescription, c.referral, c.createdAt)
	if err != nil {
		if _, ok := db.UniqueViolation(err); ok {
			return ErrConsultationExists
		}
		return err
	}
	return nil
}

func (r *pgConsultationRepository) FindByAppointmentID(ctx context.Context, appointmentID uuid.UUID) (*Consultation, error) {
	var (
		id        uuid.UUID
		d         ConsultationDetails
		createdAt time.Time
	)
	err := r.q.QueryRow(ctx, `
		SELECT id, notes, diagnosis, prescription, referral, created_at
		FROM consultations
		WHERE appointment_id = $1
	`, appointmentID).Scan(&id, &d.Notes, &d.Diagnosis, &d.Prescription, &d.Referral, &createdAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: consultation", ErrNotFound)
		}
		return nil, err
	}
	return RestoreConsultation(id, appointmentID, d, createdAt), nil
}

// =========== Event Repository ===========

type pgEventRepository struct{ q queryable }

func (r *pgEventRepository) Insert(ctx context.Context, ev Event) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO event_logs (event_type, aggregate_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AggregateID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
