package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/auth"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}
	if cfg.Storage != config.StoragePostgres {
		log.Fatal("seed requires STORAGE=postgres")
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("seed starting")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{
		AppName:  "clinic-seed",
		MaxConns: cfg.PostgresMaxConns,
	})
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	if err := db.ApplySchema(ctx, pool); err != nil {
		logger.Fatal("apply schema", zap.Error(err))
	}

	doctors, err := seedDoctors(context.Background(), pool, config.GetInt("SEED_DOCTORS", 20), logger)
	if err != nil {
		logger.Fatal("seed doctors", zap.Error(err))
	}
	patients, err := seedPatients(context.Background(), pool, config.GetInt("SEED_PATIENTS", 1000), logger)
	if err != nil {
		logger.Fatal("seed patients", zap.Error(err))
	}

	svc := scheduling.NewService(scheduling.NewPgUnitOfWork(pool), redisclient.NewLocalLocker(), nil, nil, logger)
	if err := seedAvailabilities(context.Background(), svc, doctors, logger); err != nil {
		logger.Fatal("seed availabilities", zap.Error(err))
	}

	if err := printTokens(auth.NewTokenManager(cfg.JWTSecret, cfg.TokenTTL), doctors[0], patients[0]); err != nil {
		logger.Fatal("issue tokens", zap.Error(err))
	}

	logger.Info("seed complete")
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, count int, logger *zap.Logger) ([]uuid.UUID, error) {
	logger.Info("seeding doctors", zap.Int("count", count))

	specialties := []string{
		"Dermatology",
		"Cardiology",
		"General Practice",
		"Orthopedics",
		"Endocrinology",
		"Neurology",
		"Pediatrics",
		"Psychiatry",
		"Ophthalmology",
		"ENT",
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		name := "Dr. " + gofakeit.Name()
		crm := gofakeit.Numerify("CRM-######")
		spec := specialties[gofakeit.Number(0, len(specialties)-1)]

		_, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, name, crm, specialty, created_at, updated_at)
			VALUES ($1, $2, $3, $4, now(), now())
		`, id, name, crm, spec)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	logger.Info("doctors seeded")
	return ids, nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int, logger *zap.Logger) ([]uuid.UUID, error) {
	logger.Info("seeding patients", zap.Int("count", count))

	const batchSize = 500

	ids := make([]uuid.UUID, 0, count)
	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		batch := &pgx.Batch{}
		for i := offset; i < end; i++ {
			id := uuid.New()
			batch.Queue(`
				INSERT INTO patients (id, name, email, document, created_at, updated_at)
				VALUES ($1, $2, $3, $4, now(), now())
			`, id, gofakeit.Name(), gofakeit.Email(), gofakeit.Numerify("###.###.###-##"))
			ids = append(ids, id)
		}

		if err := pool.SendBatch(ctx, batch).Close(); err != nil {
			return nil, err
		}

		logger.Info("patients seeded", zap.Int("done", end), zap.Int("total", count))
	}

	return ids, nil
}

// seedAvailabilities publishes a morning and an afternoon window for
// tomorrow for every doctor.
func seedAvailabilities(ctx context.Context, svc *scheduling.Service, doctors []uuid.UUID, logger *zap.Logger) error {
	admin := scheduling.Actor{ID: uuid.New(), Role: scheduling.RoleAdmin}
	day := time.Now().UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)

	windows := [][2]time.Duration{
		{8 * time.Hour, 12 * time.Hour},
		{13 * time.Hour, 17 * time.Hour},
	}

	slots := 0
	for _, doctorID := range doctors {
		for _, w := range windows {
			a, err := svc.RegisterAvailability(ctx, admin, scheduling.RegisterAvailabilityInput{
				DoctorID:      doctorID,
				StartDateTime: day.Add(w[0]),
				EndDateTime:   day.Add(w[1]),
			})
			if err != nil {
				return fmt.Errorf("doctor %s: %w", doctorID, err)
			}
			slots += len(a.Slots())
		}
	}

	logger.Info("availabilities seeded", zap.Int("doctors", len(doctors)), zap.Int("slots", slots))
	return nil
}

func printTokens(tokens *auth.TokenManager, doctorID, patientID uuid.UUID) error {
	actors := []struct {
		label string
		actor scheduling.Actor
	}{
		{"ADMIN_TOKEN", scheduling.Actor{ID: uuid.New(), Role: scheduling.RoleAdmin}},
		{"DOCTOR_TOKEN", scheduling.Actor{ID: doctorID, Role: scheduling.RoleDoctor}},
		{"PATIENT_TOKEN", scheduling.Actor{ID: patientID, Role: scheduling.RolePatient}},
	}

	for _, a := range actors {
		tok, err := tokens.Issue(a.actor)
		if err != nil {
			return err
		}
		fmt.Printf("# %s id=%s\n%s=%s\n", a.actor.Role, a.actor.ID, a.label, tok)
	}
	return nil
}
