package main

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

const (
	opBook   = "book"
	opCancel = "cancel"
	opRead   = "read"
)

// outcome classifies one request by how the API answered it.
func outcome(status int, err error) string {
	switch {
	case status == 0 && err != nil:
		return "transport_error"
	case status/100 == 2:
		return "ok"
	case status == http.StatusConflict:
		return "conflict"
	case status == http.StatusTooManyRequests:
		return "throttled"
	case status >= 500:
		return "server_error"
	default:
		return "rejected"
	}
}

type booking struct {
	patientID     uuid.UUID
	appointmentID uuid.UUID
}

type storm struct {
	client   *apiClient
	targets  []target
	patients []uuid.UUID
	settings settings
	logger   *zap.Logger

	registry *prometheus.Registry
	requests *prometheus.CounterVec
	latency  *prometheus.SummaryVec

	mu   sync.Mutex
	live []booking // bookings the storm may still cancel
}

func newStorm(client *apiClient, targets []target, patients []uuid.UUID, s settings, logger *zap.Logger) *storm {
	st := &storm{
		client:   client,
		targets:  targets,
		patients: patients,
		settings: s,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sim_requests_total",
			Help: "Storm requests by operation and outcome.",
		}, []string{"op", "outcome"}),
		latency: prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Name:       "sim_request_duration_seconds",
			Help:       "Storm request latency by operation.",
			Objectives: map[float64]float64{0.5: 0.05, 0.95: 0.01, 0.99: 0.001},
		}, []string{"op"}),
	}
	st.registry.MustRegister(st.requests, st.latency)
	return st
}

// run drives the workers until ctx ends. In-flight requests are detached
// from ctx so every booking the server commits is also seen by the storm.
func (st *storm) run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < st.settings.Workers; i++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			reqCtx := context.WithoutCancel(ctx)
			for ctx.Err() == nil {
				st.step(reqCtx, rng)
			}
		}(time.Now().UnixNano() + int64(i))
	}
	wg.Wait()
}

func (st *storm) step(ctx context.Context, rng *rand.Rand) {
	r := rng.Float64()
	switch {
	case r < st.settings.CancelRatio:
		st.cancelOne(ctx, rng)
	case r < st.settings.CancelRatio+st.settings.ReadRatio:
		st.readOne(ctx, rng)
	default:
		st.bookOne(ctx, rng)
	}
}

func (st *storm) observe(op string, start time.Time, status int, err error) {
	st.requests.WithLabelValues(op, outcome(status, err)).Inc()
	st.latency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if status == 0 || status >= 500 {
		st.logger.Debug("request failed", zap.String("op", op), zap.Int("status", status), zap.Error(err))
	}
}

func (st *storm) bookOne(ctx context.Context, rng *rand.Rand) {
	slot := st.targets[rng.Intn(len(st.targets))]
	patientID := st.patients[rng.Intn(len(st.patients))]
	modality := scheduling.ModalityInPerson
	if rng.Intn(4) == 0 {
		modality = scheduling.ModalityTelemedicine
	}

	start := time.Now()
	status, appt, err := st.client.book(ctx, patientID, slot.SlotID, modality)
	st.observe(opBook, start, status, err)
	if err != nil {
		return
	}

	st.mu.Lock()
	st.live = append(st.live, booking{patientID: patientID, appointmentID: appt.ID})
	st.mu.Unlock()
}

// cancelOne cancels a random live booking, freeing its slot for the next
// booking attempt.
func (st *storm) cancelOne(ctx context.Context, rng *rand.Rand) {
	st.mu.Lock()
	if len(st.live) == 0 {
		st.mu.Unlock()
		return
	}
	i := rng.Intn(len(st.live))
	b := st.live[i]
	st.live[i] = st.live[len(st.live)-1]
	st.live = st.live[:len(st.live)-1]
	st.mu.Unlock()

	start := time.Now()
	status, err := st.client.cancel(ctx, b.patientID, b.appointmentID)
	st.observe(opCancel, start, status, err)
}

func (st *storm) readOne(ctx context.Context, rng *rand.Rand) {
	patientID := st.patients[rng.Intn(len(st.patients))]
	start := time.Now()
	status, err := st.client.ownAppointments(ctx, patientID)
	st.observe(opRead, start, status, err)
}

// report prints one row per operation from the storm's registry.
func (st *storm) report(w io.Writer) error {
	families, err := st.registry.Gather()
	if err != nil {
		return err
	}

	counts := make(map[string]map[string]float64)
	quantiles := make(map[string]map[float64]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			labels := make(map[string]string)
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			op := labels["op"]
			switch mf.GetName() {
			case "sim_requests_total":
				if counts[op] == nil {
					counts[op] = make(map[string]float64)
				}
				counts[op][labels["outcome"]] = m.GetCounter().GetValue()
			case "sim_request_duration_seconds":
				q := make(map[float64]float64)
				for _, qv := range m.GetSummary().GetQuantile() {
					q[qv.GetQuantile()] = qv.GetValue()
				}
				quantiles[op] = q
			}
		}
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "OP\tTOTAL\tOK\tCONFLICT\tREJECTED\tTHROTTLED\tERRORS\tP50\tP95\tP99")
	for _, op := range []string{opBook, opCancel, opRead} {
		c := counts[op]
		var total float64
		for _, v := range c {
			total += v
		}
		if total == 0 {
			continue
		}
		q := quantiles[op]
		fmt.Fprintf(tw, "%s\t%.0f\t%.0f\t%.0f\t%.0f\t%.0f\t%.0f\t%s\t%s\t%s\n",
			op, total, c["ok"], c["conflict"], c["rejected"], c["throttled"],
			c["server_error"]+c["transport_error"],
			seconds(q[0.5]), seconds(q[0.95]), seconds(q[0.99]))
	}
	return tw.Flush()
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second)).Round(time.Millisecond)
}
