package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hackgods/clinic-booking/internal/db"
)

// PgHoursStore reads and writes the business_hours table.
type PgHoursStore struct{}

func NewPgHoursStore() *PgHoursStore {
	return &PgHoursStore{}
}

const selectHours = `
	SELECT doctor_id,
	       to_char(start_time, 'HH24:MI'),
	       to_char(end_time, 'HH24:MI'),
	       lunch_break_enabled,
	       COALESCE(to_char(lunch_start_time, 'HH24:MI'), ''),
	       COALESCE(to_char(lunch_end_time, 'HH24:MI'), ''),
	       sunday, monday, tuesday, wednesday, thursday, friday, saturday,
	       appointment_duration,
	       updated_at
	FROM business_hours
`

func scanHours(row pgx.Row) (*BusinessHours, error) {
	var (
		bh                   BusinessHours
		start, end           string
		lunchStart, lunchEnd string
	)

	err := row.Scan(
		&bh.DoctorID,
		&start,
		&end,
		&bh.LunchBreakEnabled,
		&lunchStart,
		&lunchEnd,
		&bh.Weekdays[time.Sunday],
		&bh.Weekdays[time.Monday],
		&bh.Weekdays[time.Tuesday],
		&bh.Weekdays[time.Wednesday],
		&bh.Weekdays[time.Thursday],
		&bh.Weekdays[time.Friday],
		&bh.Weekdays[time.Saturday],
		&bh.AppointmentDuration,
		&bh.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBusinessHoursNotFound
		}
		return nil, err
	}

	if bh.StartTime, err = ParseClock(start); err != nil {
		return nil, fmt.Errorf("stored start_time: %w", err)
	}
	if bh.EndTime, err = ParseClock(end); err != nil {
		return nil, fmt.Errorf("stored end_time: %w", err)
	}
	if bh.LunchBreakEnabled {
		if bh.LunchStartTime, err = ParseClock(lunchStart); err != nil {
			return nil, fmt.Errorf("stored lunch_start_time: %w", err)
		}
		if bh.LunchEndTime, err = ParseClock(lunchEnd); err != nil {
			return nil, fmt.Errorf("stored lunch_end_time: %w", err)
		}
	}
	return &bh, nil
}

func (s *PgHoursStore) Get(ctx context.Context, q db.Querier, doctorID uuid.UUID) (*BusinessHours, error) {
	row := q.QueryRow(ctx, selectHours+` WHERE doctor_id = $1`, doctorID)
	return scanHours(row)
}

// Upsert replaces a doctor's configuration after validating its invariants.
func (s *PgHoursStore) Upsert(ctx context.Context, q db.Querier, bh BusinessHours) (*BusinessHours, error) {
	if err := bh.Validate(); err != nil {
		return nil, err
	}

	var lunchStart, lunchEnd *string
	if lunch, ok := bh.Lunch(); ok {
		ls, le := lunch.Start.String(), lunch.End.String()
		lunchStart, lunchEnd = &ls, &le
	}

	row := q.QueryRow(ctx, `
		INSERT INTO business_hours (
			doctor_id, start_time, end_time, lunch_break_enabled, lunch_start_time, lunch_end_time,
			sunday, monday, tuesday, wednesday, thursday, friday, saturday,
			appointment_duration, updated_at
		)
		VALUES ($1, $2::time, $3::time, $4, $5::time, $6::time, $7, $8, $9, $10, $11, $12, $13, $14, now())
		ON CONFLICT (doctor_id) DO UPDATE SET
			start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time,
			lunch_break_enabled = EXCLUDED.lunch_break_enabled,
			lunch_start_time = EXCLUDED.lunch_start_time,
			lunch_end_time = EXCLUDED.lunch_end_time,
			sunday = EXCLUDED.sunday,
			monday = EXCLUDED.monday,
			tuesday = EXCLUDED.tuesday,
			wednesday = EXCLUDED.wednesday,
			thursday = EXCLUDED.thursday,
			friday = EXCLUDED.friday,
			saturday = EXCLUDED.saturday,
			appointment_duration = EXCLUDED.appointment_duration,
			updated_at = now()
		RETURNING doctor_id,
		          to_char(start_time, 'HH24:MI'),
		          to_char(end_time, 'HH24:MI'),
		          lunch_break_enabled,
		          COALESCE(to_char(lunch_start_time, 'HH24:MI'), ''),
		          COALESCE(to_char(lunch_end_time, 'HH24:MI'), ''),
		          sunday, monday, tuesday, wednesday, thursday, friday, saturday,
		          appointment_duration,
		          updated_at
	`,
		bh.DoctorID, bh.StartTime.String(), bh.EndTime.String(), bh.LunchBreakEnabled, lunchStart, lunchEnd,
		bh.Weekdays[time.Sunday], bh.Weekdays[time.Monday], bh.Weekdays[time.Tuesday], bh.Weekdays[time.Wednesday],
		bh.Weekdays[time.Thursday], bh.Weekdays[time.Friday], bh.Weekdays[time.Saturday],
		bh.AppointmentDuration,
	)
	return scanHours(row)
}
