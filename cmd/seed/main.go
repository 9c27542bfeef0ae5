package main

import (
	"context"
	"flag"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/db"
	"github.com/hackgods/clinic-booking/internal/logging"
	"github.com/hackgods/clinic-booking/internal/schedule"
)

func main() {
	doctors := flag.Int("doctors", 10, "number of doctors to create")
	patients := flag.Int("patients", 2000, "number of patients to create")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.New(config.EnvDev, "info", "seed")
		bootLog.Fatal().Err(err).Msg("config load error")
	}
	log := logging.New(cfg.Env, cfg.LogLevel, "seed")
	log.Info().Int("doctors", *doctors).Int("patients", *patients).Msg("seed starting")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	_ = gofakeit.Seed(time.Now().UnixNano())

	ids, err := seedDoctors(ctx, pool, *doctors, log)
	if err != nil {
		log.Fatal().Err(err).Msg("seed doctors")
	}
	if err := seedPatients(ctx, pool, *patients, log); err != nil {
		log.Fatal().Err(err).Msg("seed patients")
	}

	if len(ids) > 0 {
		log.Info().Str("DEFAULT_DOCTOR_ID", ids[0].String()).Msg("seed complete")
	}
}

var specialties = []string{
	"General Practice",
	"Cardiology",
	"Dermatology",
	"Endocrinology",
	"Pediatrics",
	"Orthopedics",
	"Psychiatry",
}

// seedDoctors creates doctors with a weekday schedule each. Hours go through
// the same store the API uses so they pass its validation.
func seedDoctors(ctx context.Context, pool *pgxpool.Pool, count int, log zerolog.Logger) ([]uuid.UUID, error) {
	hours := schedule.NewPgHoursStore()
	durations := []int{20, 30, 30, 45, 60}

	var ids []uuid.UUID
	err := db.NewTxRunner(pool).InTx(ctx, func(ctx context.Context, q db.Querier) error {
		for i := 0; i < count; i++ {
			id := uuid.New()
			_, err := q.Exec(ctx, `
				INSERT INTO doctors (id, name, specialty, created_at, updated_at)
				VALUES ($1, $2, $3, now(), now())
			`, id, "Dr. "+gofakeit.Name(), specialties[gofakeit.Number(0, len(specialties)-1)])
			if err != nil {
				return err
			}

			start := gofakeit.Number(7, 9) * 60
			end := gofakeit.Number(16, 19) * 60
			bh := schedule.BusinessHours{
				DoctorID:            id,
				StartTime:           schedule.ClockTime(start),
				EndTime:             schedule.ClockTime(end),
				LunchBreakEnabled:   gofakeit.Bool(),
				LunchStartTime:      schedule.MustClock("12:00"),
				LunchEndTime:        schedule.MustClock("13:00"),
				Weekdays:            [7]bool{false, true, true, true, true, true, gofakeit.Bool()},
				AppointmentDuration: durations[gofakeit.Number(0, len(durations)-1)],
			}
			if _, err := hours.Upsert(ctx, q, bh); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Info().Int("count", len(ids)).Msg("doctors seeded")
	return ids, nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int, log zerolog.Logger) error {
	const batchSize = 500
	columns := []string{"id", "name", "email", "phone"}

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		rows := make([][]any, 0, end-offset)
		for i := offset; i < end; i++ {
			rows = append(rows, []any{uuid.New(), gofakeit.Name(), gofakeit.Email(), gofakeit.Phone()})
		}
		if _, err := pool.CopyFrom(ctx, pgx.Identifier{"patients"}, columns, pgx.CopyFromRows(rows)); err != nil {
			return err
		}
		log.Info().Int("done", end).Int("total", count).Msg("patients seeded")
	}
	return nil
}
