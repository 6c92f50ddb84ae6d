package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "clinic"

// Booking result labels
const (
	ResultBooked   = "booked"
	ResultConflict = "conflict"
	ResultError    = "error"
)

// Metrics holds the booking engine collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	AvailabilitiesRegistered prometheus.Counter
	Bookings                 *prometheus.CounterVec
	Cancellations            prometheus.Counter
	Consultations            prometheus.Counter
	SlotsReconciled          prometheus.Counter
	UseCaseLatency           *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AvailabilitiesRegistered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduling",
			Name:      "availabilities_registered_total",
			Help:      "Total number of availabilities registered",
		}),
		Bookings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduling",
			Name:      "bookings_total",
			Help:      "Appointment booking attempts by result",
		}, []string{"result"}),
		Cancellations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduling",
			Name:      "cancellations_total",
			Help:      "Total number of cancelled appointments",
		}),
		Consultations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduling",
			Name:      "consultations_total",
			Help:      "Total number of registered consultations",
		}),
		SlotsReconciled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduling",
			Name:      "slots_reconciled_total",
			Help:      "Booked slots released because no active appointment held them",
		}),
		UseCaseLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduling",
			Name:      "use_case_duration_seconds",
			Help:      "Duration of scheduling use cases",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"use_case"}),
	}

	reg.MustRegister(
		m.AvailabilitiesRegistered,
		m.Bookings,
		m.Cancellations,
		m.Consultations,
		m.SlotsReconciled,
		m.UseCaseLatency,
	)

	return m
}

func (m *Metrics) ObserveBooking(result string) {
	if m == nil {
		return
	}
	m.Bookings.WithLabelValues(result).Inc()
}

func (m *Metrics) IncAvailabilities() {
	if m == nil {
		return
	}
	m.AvailabilitiesRegistered.Inc()
}

func (m *Metrics) IncCancellations() {
	if m == nil {
		return
	}
	m.Cancellations.Inc()
}

func (m *Metrics) IncConsultations() {
	if m == nil {
		return
	}
	m.Consultations.Inc()
}

func (m *Metrics) AddReconciled(n int) {
	if m == nil {
		return
	}
	m.SlotsReconciled.Add(float64(n))
}

// Since records the time elapsed since start for the named use case.
func (m *Metrics) Since(useCase string, start time.Time) {
	if m == nil {
		return
	}
	m.UseCaseLatency.WithLabelValues(useCase).Observe(time.Since(start).Seconds())
}
