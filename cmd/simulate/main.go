// Command simulate runs a booking storm against a running api-server:
// many patients race for a small set of hot slots while others cancel and
// read. Afterwards it audits every hot slot through the API and exits
// non-zero if any slot is double booked or left BOOKED without an
// appointment holding it.
package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/auth"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

type settings struct {
	APIBaseURL  string
	Duration    time.Duration
	Workers     int
	HotSlots    int     // slots the storm competes for
	CancelRatio float64 // share of steps that cancel a live booking
	ReadRatio   float64 // share of steps that list a patient's appointments
	Patients    int
	Doctors     int
}

func loadSettings() settings {
	return settings{
		APIBaseURL:  config.GetEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:    config.GetDuration("SIM_DURATION", 30*time.Second),
		Workers:     config.GetInt("SIM_WORKERS", 16),
		HotSlots:    config.GetInt("SIM_HOT_SLOTS", 20),
		CancelRatio: config.GetFloat("SIM_CANCEL_RATIO", 0.25),
		ReadRatio:   config.GetFloat("SIM_READ_RATIO", 0.15),
		Patients:    config.GetInt("SIM_PATIENTS", 200),
		Doctors:     config.GetInt("SIM_DOCTORS", 10),
	}
}

func (s settings) validate() error {
	switch {
	case s.Workers <= 0:
		return errors.New("SIM_WORKERS must be > 0")
	case s.Duration <= 0:
		return errors.New("SIM_DURATION must be > 0")
	case s.HotSlots <= 0:
		return errors.New("SIM_HOT_SLOTS must be > 0")
	case s.Patients <= 0 || s.Doctors <= 0:
		return errors.New("SIM_PATIENTS and SIM_DOCTORS must be > 0")
	case s.CancelRatio < 0 || s.ReadRatio < 0 || s.CancelRatio+s.ReadRatio >= 1:
		return errors.New("SIM_CANCEL_RATIO + SIM_READ_RATIO must be within [0, 1)")
	}
	return nil
}

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		return 2
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		return 2
	}
	defer func() { _ = logger.Sync() }()

	sim := loadSettings()
	if err := sim.validate(); err != nil {
		logger.Error("invalid simulation settings", zap.Error(err))
		return 2
	}
	if cfg.Storage != config.StoragePostgres {
		logger.Error("simulate reads doctor and patient ids from postgres, set STORAGE=postgres")
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	doctors, patients, err := loadPeople(ctx, cfg, sim)
	if err != nil {
		logger.Error("load doctors and patients", zap.Error(err))
		return 2
	}

	client, err := newAPIClient(sim.APIBaseURL, auth.NewTokenManager(cfg.JWTSecret, sim.Duration+time.Hour))
	if err != nil {
		logger.Error("issue admin token", zap.Error(err))
		return 2
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	targets, err := discoverSlots(ctx, client, doctors, sim.HotSlots, rng)
	if err != nil {
		logger.Error("discover slots", zap.Error(err))
		return 2
	}
	if len(targets) == 0 {
		logger.Error("no future AVAILABLE slots found, run cmd/seed first")
		return 2
	}

	logger.Info("storm starting",
		zap.Duration("duration", sim.Duration),
		zap.Int("workers", sim.Workers),
		zap.Int("hot_slots", len(targets)),
		zap.Int("patients", len(patients)),
	)

	st := newStorm(client, targets, patients, sim, logger)
	stormCtx, cancel := context.WithTimeout(ctx, sim.Duration)
	st.run(stormCtx)
	cancel()

	if err := st.report(os.Stdout); err != nil {
		logger.Warn("write report", zap.Error(err))
	}

	// the audit gets its own deadline so it still runs after an interrupt
	auditCtx, cancelAudit := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancelAudit()

	violations, err := audit(auditCtx, client.withThrottleRetry(), targets, patients)
	if err != nil {
		logger.Error("audit failed", zap.Error(err))
		return 1
	}
	for _, v := range violations {
		logger.Error("integrity violation",
			zap.String("kind", v.Kind),
			zap.String("slot_id", v.SlotID.String()),
			zap.String("details", v.Details),
		)
	}
	if len(violations) > 0 {
		logger.Error("audit found violations", zap.Int("count", len(violations)))
		return 1
	}

	logger.Info("audit passed", zap.Int("slots", len(targets)), zap.Int("patients", len(patients)))
	return 0
}

func loadPeople(ctx context.Context, cfg config.Config, sim settings) (doctors, patients []uuid.UUID, err error) {
	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{AppName: "clinic-simulate", MaxConns: 2})
	if err != nil {
		return nil, nil, err
	}
	defer pool.Close()

	doctors, err = selectIDs(ctx, pool, `SELECT id FROM doctors ORDER BY created_at LIMIT $1`, sim.Doctors)
	if err != nil {
		return nil, nil, fmt.Errorf("load doctors: %w", err)
	}
	patients, err = selectIDs(ctx, pool, `SELECT id FROM patients ORDER BY random() LIMIT $1`, sim.Patients)
	if err != nil {
		return nil, nil, fmt.Errorf("load patients: %w", err)
	}
	if len(doctors) == 0 || len(patients) == 0 {
		return nil, nil, errors.New("no doctors or patients, run cmd/seed first")
	}
	return doctors, patients, nil
}

func selectIDs(ctx context.Context, pool *pgxpool.Pool, query string, limit int) ([]uuid.UUID, error) {
	rows, err := pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

// discoverSlots picks up to limit future AVAILABLE slots across doctors.
func discoverSlots(ctx context.Context, client *apiClient, doctors []uuid.UUID, limit int, rng *rand.Rand) ([]target, error) {
	now := time.Now()
	var found []target
	for _, doctorID := range doctors {
		list, err := client.doctorAvailabilities(ctx, doctorID)
		if err != nil {
			return nil, fmt.Errorf("doctor %s: %w", doctorID, err)
		}
		for _, a := range list {
			for _, s := range a.Slots {
				if s.Status == string(scheduling.SlotAvailable) && s.StartDateTime.After(now) {
					found = append(found, target{SlotID: s.ID, DoctorID: doctorID})
				}
			}
		}
	}

	rng.Shuffle(len(found), func(i, j int) { found[i], found[j] = found[j], found[i] })
	if len(found) > limit {
		found = found[:limit]
	}
	return found, nil
}
