package scheduling

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hackgods/clinic-scheduling/internal/metrics"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
)

var admin = Actor{ID: uuid.New(), Role: RoleAdmin}

type fakeLinks struct{}

func (fakeLinks) Generate(id uuid.UUID) (string, error) {
	return "https://meet.test/clinic-" + id.String(), nil
}

type testEnv struct {
	svc     *Service
	uow     *MemoryUnitOfWork
	metrics *metrics.Metrics
	logs    *observer.ObservedLogs
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	core, logs := observer.New(zapcore.WarnLevel)
	uow := NewMemoryUnitOfWork()
	m := metrics.New(prometheus.NewRegistry())
	svc := NewService(uow, redisclient.NewLocalLocker(), fakeLinks{}, m, zap.New(core))
	return &testEnv{svc: svc, uow: uow, metrics: m, logs: logs}
}

func (e *testEnv) availability(t *testing.T, doctorID uuid.UUID, from, to string) *Availability {
	t.Helper()
	a, err := e.svc.RegisterAvailability(context.Background(), admin, RegisterAvailabilityInput{
		DoctorID:      doctorID,
		StartDateTime: at(t, "2024-07-10T"+from+":00Z"),
		EndDateTime:   at(t, "2024-07-10T"+to+":00Z"),
	})
	require.NoError(t, err)
	return a
}

func (e *testEnv) book(t *testing.T, slotID, patientID uuid.UUID) *BookingResult {
	t.Helper()
	res, err := e.svc.RegisterAppointment(context.Background(), admin, RegisterAppointmentInput{
		SlotID:    slotID,
		PatientID: patientID,
		Modality:  ModalityInPerson,
	})
	require.NoError(t, err)
	return res
}

func (e *testEnv) slotStatus(t *testing.T, doctorID, slotID uuid.UUID) SlotStatus {
	t.Helper()
	list, err := e.svc.ListDoctorAvailabilities(context.Background(), doctorID)
	require.NoError(t, err)
	for _, a := range list {
		if s, err := a.FindSlot(slotID); err == nil {
			return s.Status()
		}
	}
	t.Fatalf("slot %s not found", slotID)
	return ""
}

func TestRegisterAppointment_SuccessfulBooking(t *testing.T) {
	env := newTestEnv(t)
	doctor, patient := uuid.New(), uuid.New()

	a := env.availability(t, doctor, "09:00", "11:00")
	slots := a.Slots()
	require.Len(t, slots, 4)

	res := env.book(t, slots[0].ID(), patient)

	assert.Equal(t, doctor, res.DoctorID)
	assert.Equal(t, StatusScheduled, res.Appointment.Status())
	assert.Equal(t, ModalityInPerson, res.Appointment.Modality())
	assert.Nil(t, res.Appointment.TelemedicineLink())
	assert.Equal(t, SlotBooked, env.slotStatus(t, doctor, slots[0].ID()))
	for _, s := range slots[1:] {
		assert.Equal(t, SlotAvailable, env.slotStatus(t, doctor, s.ID()))
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.Bookings.WithLabelValues(metrics.ResultBooked)))
}

func TestRegisterAppointment_Telemedicine(t *testing.T) {
	env := newTestEnv(t)
	a := env.availability(t, uuid.New(), "09:00", "10:00")
	patient := uuid.New()

	res, err := env.svc.RegisterAppointment(context.Background(), Actor{ID: patient, Role: RolePatient}, RegisterAppointmentInput{
		SlotID:    a.Slots()[0].ID(),
		PatientID: patient,
		Modality:  ModalityTelemedicine,
	})
	require.NoError(t, err)
	require.NotNil(t, res.Appointment.TelemedicineLink())
	assert.Equal(t, "https://meet.test/clinic-"+res.Appointment.ID().String(), *res.Appointment.TelemedicineLink())
}

func TestRegisterAppointment_DoubleBookingRejected(t *testing.T) {
	env := newTestEnv(t)
	doctor := uuid.New()
	a := env.availability(t, doctor, "09:00", "10:00")
	target := a.Slots()[0].ID()

	env.book(t, target, uuid.New())

	_, err := env.svc.RegisterAppointment(context.Background(), admin, RegisterAppointmentInput{
		SlotID:    target,
		PatientID: uuid.New(),
		Modality:  ModalityInPerson,
	})
	assert.ErrorIs(t, err, ErrSlotAlreadyBooked)
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, SlotAvailable, env.slotStatus(t, doctor, a.Slots()[1].ID()))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.Bookings.WithLabelValues(metrics.ResultConflict)))
}

func TestRegisterAppointment_UnknownSlot(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.RegisterAppointment(context.Background(), admin, RegisterAppointmentInput{
		SlotID:    uuid.New(),
		PatientID: uuid.New(),
		Modality:  ModalityInPerson,
	})
	assert.ErrorIs(t, err, ErrSlotNotFound)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegisterAppointment_ConcurrentBookingsSingleWinner(t *testing.T) {
	env := newTestEnv(t)
	a := env.availability(t, uuid.New(), "09:00", "10:00")
	target := a.Slots()[0].ID()

	const attempts = 25
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		failures  []error
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.RegisterAppointment(context.Background(), admin, RegisterAppointmentInput{
				SlotID:    target,
				PatientID: uuid.New(),
				Modality:  ModalityInPerson,
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			failures = append(failures, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	for _, err := range failures {
		assert.ErrorIs(t, err, ErrConflict)
	}
}

// failingAppointments makes every appointment insert fail after the slot
// has already been booked in the same transaction.
type failingAppointments struct {
	AppointmentRepository
}

var errDiskFull = errors.New("disk full")

func (failingAppointments) Save(context.Context, *Appointment) error { return errDiskFull }

type failingUnitOfWork struct{ inner UnitOfWork }

func (u failingUnitOfWork) Transaction(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error {
	return u.inner.Transaction(ctx, func(ctx context.Context, repos Repositories) error {
		repos.Appointments = failingAppointments{repos.Appointments}
		return fn(ctx, repos)
	})
}

func TestRegisterAppointment_RollsBackSlotWhenAppointmentSaveFails(t *testing.T) {
	env := newTestEnv(t)
	doctor := uuid.New()
	a := env.availability(t, doctor, "09:00", "10:00")
	target := a.Slots()[0].ID()

	failing := NewService(failingUnitOfWork{env.uow}, redisclient.NewLocalLocker(), fakeLinks{}, nil, nil)
	_, err := failing.RegisterAppointment(context.Background(), admin, RegisterAppointmentInput{
		SlotID:    target,
		PatientID: uuid.New(),
		Modality:  ModalityInPerson,
	})
	require.ErrorIs(t, err, errDiskFull)

	assert.Equal(t, SlotAvailable, env.slotStatus(t, doctor, target))
	env.book(t, target, uuid.New())
}

func TestRegisterAvailability_OverlapRejected(t *testing.T) {
	env := newTestEnv(t)
	doctor := uuid.New()
	existing := env.availability(t, doctor, "09:00", "11:00")

	_, err := env.svc.RegisterAvailability(context.Background(), admin, RegisterAvailabilityInput{
		DoctorID:      doctor,
		StartDateTime: at(t, "2024-07-10T10:00:00Z"),
		EndDateTime:   at(t, "2024-07-10T12:00:00Z"),
	})
	assert.ErrorIs(t, err, ErrAvailabilityOverlap)
	assert.ErrorIs(t, err, ErrConflict)

	list, err := env.svc.ListDoctorAvailabilities(context.Background(), doctor)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, existing.ID(), list[0].ID())
	assert.True(t, list[0].End().Equal(at(t, "2024-07-10T11:00:00Z")))
	assert.Equal(t, existing.Slots(), list[0].Slots())
}

func TestRegisterAvailability_AdjacentAndOtherDoctorsAllowed(t *testing.T) {
	env := newTestEnv(t)
	doctor := uuid.New()
	env.availability(t, doctor, "09:00", "11:00")
	env.availability(t, doctor, "11:00", "12:00")
	env.availability(t, uuid.New(), "09:00", "11:00")

	list, err := env.svc.ListDoctorAvailabilities(context.Background(), doctor)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.True(t, list[0].Start().Before(list[1].Start()))
}

func TestRegisterAvailability_InvalidDurationsNotPersisted(t *testing.T) {
	env := newTestEnv(t)
	doctor := uuid.New()
	start := at(t, "2024-07-10T09:00:00Z")

	for _, end := range []time.Time{start.Add(20 * time.Minute), start.Add(35 * time.Minute), start.Add(-time.Hour)} {
		_, err := env.svc.RegisterAvailability(context.Background(), admin, RegisterAvailabilityInput{
			DoctorID:      doctor,
			StartDateTime: start,
			EndDateTime:   end,
		})
		assert.ErrorIs(t, err, ErrValidation)
	}

	list, err := env.svc.ListDoctorAvailabilities(context.Background(), doctor)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Empty(t, env.uow.Events())
}

func TestCancelAppointment_ReleasesSlot(t *testing.T) {
	env := newTestEnv(t)
	doctor, patient := uuid.New(), uuid.New()
	a := env.availability(t, doctor, "09:00", "10:00")
	target := a.Slots()[0].ID()
	res := env.book(t, target, patient)

	cancelled, err := env.svc.CancelAppointment(context.Background(), Actor{ID: patient, Role: RolePatient}, res.Appointment.ID())
	require.NoError(t, err)

	assert.Equal(t, StatusCancelled, cancelled.Status())
	assert.Equal(t, SlotAvailable, env.slotStatus(t, doctor, target))

	_, err = env.svc.CancelAppointment(context.Background(), admin, res.Appointment.ID())
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)
}

func TestCancelThenRebook(t *testing.T) {
	env := newTestEnv(t)
	doctor, patient := uuid.New(), uuid.New()
	a := env.availability(t, doctor, "09:00", "10:00")
	target := a.Slots()[0].ID()

	first := env.book(t, target, patient)
	_, err := env.svc.CancelAppointment(context.Background(), admin, first.Appointment.ID())
	require.NoError(t, err)
	second := env.book(t, target, patient)

	list, err := env.svc.ListPatientAppointments(context.Background(), admin, patient, 0, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)

	active := 0
	for _, appt := range list {
		if appt.SlotID() == target && appt.Status() != StatusCancelled {
			active++
			assert.Equal(t, second.Appointment.ID(), appt.ID())
		}
	}
	assert.Equal(t, 1, active)
	assert.Equal(t, SlotBooked, env.slotStatus(t, doctor, target))
}

func TestCancelAppointment_MissingAvailabilityStillCancels(t *testing.T) {
	env := newTestEnv(t)
	orphan, err := NewInPersonAppointment(uuid.New(), uuid.New())
	require.NoError(t, err)
	require.NoError(t, env.uow.Transaction(context.Background(), func(ctx context.Context, repos Repositories) error {
		return repos.Appointments.Save(ctx, orphan)
	}))

	got, err := env.svc.CancelAppointment(context.Background(), admin, orphan.ID())
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status())

	warnings := env.logs.FilterMessageSnippet("no owning availability").All()
	require.Len(t, warnings, 1)
	assert.Equal(t, orphan.SlotID().String(), warnings[0].ContextMap()["slot_id"])
}

func TestCancelAppointment_NotFoundAndForbidden(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.CancelAppointment(context.Background(), admin, uuid.New())
	assert.ErrorIs(t, err, ErrAppointmentNotFound)

	a := env.availability(t, uuid.New(), "09:00", "10:00")
	res := env.book(t, a.Slots()[0].ID(), uuid.New())

	_, err = env.svc.CancelAppointment(context.Background(), Actor{ID: uuid.New(), Role: RolePatient}, res.Appointment.ID())
	assert.ErrorIs(t, err, ErrForbidden)
}

func strPtr(s string) *string { return &s }

func TestRegisterConsultation_CompletesAppointment(t *testing.T) {
	env := newTestEnv(t)
	doctor := uuid.New()
	a := env.availability(t, doctor, "09:00", "10:00")
	res := env.book(t, a.Slots()[0].ID(), uuid.New())

	c, err := env.svc.RegisterConsultation(context.Background(), Actor{ID: doctor, Role: RoleDoctor}, RegisterConsultationInput{
		AppointmentID: res.Appointment.ID(),
		Details: ConsultationDetails{
			Diagnosis:    strPtr("J06.9 acute upper respiratory infection"),
			Prescription: strPtr("rest, fluids"),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, res.Appointment.ID(), c.AppointmentID())

	detail, err := env.svc.GetAppointment(context.Background(), admin, res.Appointment.ID())
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, detail.Appointment.Status())
	require.NotNil(t, detail.Consultation)
	assert.Equal(t, "J06.9 acute upper respiratory infection", *detail.Consultation.Diagnosis())
	assert.Equal(t, "rest, fluids", *detail.Consultation.Prescription())
	assert.Nil(t, detail.Consultation.Notes())
	assert.Nil(t, detail.Consultation.Referral())

	_, err = env.svc.RegisterConsultation(context.Background(), admin, RegisterConsultationInput{AppointmentID: res.Appointment.ID()})
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)

	_, err = env.svc.CancelAppointment(context.Background(), admin, res.Appointment.ID())
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)
}

func TestRegisterConsultation_Authorization(t *testing.T) {
	env := newTestEnv(t)
	doctor, patient := uuid.New(), uuid.New()
	a := env.availability(t, doctor, "09:00", "10:00")
	res := env.book(t, a.Slots()[0].ID(), patient)

	in := RegisterConsultationInput{AppointmentID: res.Appointment.ID()}
	_, err := env.svc.RegisterConsultation(context.Background(), Actor{ID: uuid.New(), Role: RoleDoctor}, in)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = env.svc.RegisterConsultation(context.Background(), Actor{ID: patient, Role: RolePatient}, in)
	assert.ErrorIs(t, err, ErrForbidden)

	detail, err := env.svc.GetAppointment(context.Background(), admin, res.Appointment.ID())
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, detail.Appointment.Status())
}

func TestAuthorization_OwnershipRules(t *testing.T) {
	env := newTestEnv(t)
	doctor, patient := uuid.New(), uuid.New()
	ctx := context.Background()

	_, err := env.svc.RegisterAvailability(ctx, Actor{ID: uuid.New(), Role: RoleDoctor}, RegisterAvailabilityInput{
		DoctorID:      doctor,
		StartDateTime: at(t, "2024-07-10T09:00:00Z"),
		EndDateTime:   at(t, "2024-07-10T10:00:00Z"),
	})
	assert.ErrorIs(t, err, ErrForbidden)

	a, err := env.svc.RegisterAvailability(ctx, Actor{ID: doctor, Role: RoleDoctor}, RegisterAvailabilityInput{
		DoctorID:      doctor,
		StartDateTime: at(t, "2024-07-10T09:00:00Z"),
		EndDateTime:   at(t, "2024-07-10T10:00:00Z"),
	})
	require.NoError(t, err)

	_, err = env.svc.RegisterAppointment(ctx, Actor{ID: uuid.New(), Role: RolePatient}, RegisterAppointmentInput{
		SlotID:    a.Slots()[0].ID(),
		PatientID: patient,
		Modality:  ModalityInPerson,
	})
	assert.ErrorIs(t, err, ErrForbidden)

	res := env.book(t, a.Slots()[0].ID(), patient)

	_, err = env.svc.GetAppointment(ctx, Actor{ID: patient, Role: RolePatient}, res.Appointment.ID())
	assert.NoError(t, err)
	_, err = env.svc.GetAppointment(ctx, Actor{ID: doctor, Role: RoleDoctor}, res.Appointment.ID())
	assert.NoError(t, err)
	_, err = env.svc.GetAppointment(ctx, Actor{ID: uuid.New(), Role: RolePatient}, res.Appointment.ID())
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = env.svc.ListPatientAppointments(ctx, Actor{ID: uuid.New(), Role: RolePatient}, patient, 10, 0)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestListPatientAppointments_Paging(t *testing.T) {
	env := newTestEnv(t)
	patient := uuid.New()
	a := env.availability(t, uuid.New(), "09:00", "11:00")
	for _, s := range a.Slots() {
		env.book(t, s.ID(), patient)
	}

	actor := Actor{ID: patient, Role: RolePatient}
	page, err := env.svc.ListPatientAppointments(context.Background(), actor, patient, 3, 0)
	require.NoError(t, err)
	assert.Len(t, page, 3)

	page, err = env.svc.ListPatientAppointments(context.Background(), actor, patient, 3, 3)
	require.NoError(t, err)
	assert.Len(t, page, 1)

	page, err = env.svc.ListPatientAppointments(context.Background(), actor, patient, 3, 10)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestReconcileSlots_ReleasesOrphanedBookings(t *testing.T) {
	env := newTestEnv(t)
	doctor := uuid.New()
	a := env.availability(t, doctor, "09:00", "10:00")
	slots := a.Slots()
	kept := env.book(t, slots[0].ID(), uuid.New())
	orphaned := env.book(t, slots[1].ID(), uuid.New())

	// cancel behind the service's back so the slot stays booked
	require.NoError(t, env.uow.Transaction(context.Background(), func(ctx context.Context, repos Repositories) error {
		appt, err := repos.Appointments.FindByID(ctx, orphaned.Appointment.ID())
		if err != nil {
			return err
		}
		if err := appt.Cancel(); err != nil {
			return err
		}
		return repos.Appointments.Update(ctx, appt)
	}))

	n, err := env.svc.ReconcileSlots(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, SlotAvailable, env.slotStatus(t, doctor, slots[1].ID()))
	assert.Equal(t, SlotBooked, env.slotStatus(t, doctor, kept.Appointment.SlotID()))

	n, err = env.svc.ReconcileSlots(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.SlotsReconciled))
}

func TestUseCases_WriteEventLog(t *testing.T) {
	env := newTestEnv(t)
	doctor := uuid.New()
	a := env.availability(t, doctor, "09:00", "10:00")
	res := env.book(t, a.Slots()[0].ID(), uuid.New())
	_, err := env.svc.CancelAppointment(context.Background(), admin, res.Appointment.ID())
	require.NoError(t, err)

	var types []string
	for _, ev := range env.uow.Events() {
		types = append(types, ev.EventType)
	}
	assert.Equal(t, []string{EventAvailabilityRegistered, EventAppointmentBooked, EventAppointmentCancelled}, types)
}
