package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hackgods/clinic-booking/internal/db"
	"github.com/hackgods/clinic-booking/internal/schedule"
)

type PgRepository struct{}

func NewPgRepository() *PgRepository {
	return &PgRepository{}
}

var _ Repository = (*PgRepository)(nil)

const appointmentColumns = `
	id, user_id, doctor_id, appointment_date,
	to_char(start_time, 'HH24:MI'), to_char(end_time, 'HH24:MI'),
	type, status, patient_name, patient_email, patient_phone, notes,
	created_at, updated_at`

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var start, end, typ, status string

	err := row.Scan(
		&a.ID,
		&a.UserID,
		&a.DoctorID,
		&a.Date,
		&start,
		&end,
		&typ,
		&status,
		&a.PatientName,
		&a.PatientEmail,
		&a.PatientPhone,
		&a.Notes,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	if a.StartTime, err = schedule.ParseClock(start); err != nil {
		return nil, fmt.Errorf("appointment %s start_time: %w", a.ID, err)
	}
	if a.EndTime, err = schedule.ParseClock(end); err != nil {
		return nil, fmt.Errorf("appointment %s end_time: %w", a.ID, err)
	}
	a.Type = AppointmentType(typ)
	a.Status = AppointmentStatus(status)
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	out := []Appointment{}
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// Interface methods

func (r *PgRepository) Create(ctx context.Context, q db.Querier, a *Appointment) (*Appointment, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	row := q.QueryRow(ctx, `
		INSERT INTO appointments (
			id, user_id, doctor_id, appointment_date, start_time, end_time,
			type, status, patient_name, patient_email, patient_phone, notes
		)
		VALUES ($1, $2, $3, $4, $5::time, $6::time, $7, $8, $9, $10, $11, $12)
		RETURNING `+appointmentColumns,
		a.ID, a.UserID, a.DoctorID, a.Date, a.StartTime.String(), a.EndTime.String(),
		string(a.Type), string(a.Status), a.PatientName, a.PatientEmail, a.PatientPhone, a.Notes,
	)
	return scanAppointment(row)
}

func (r *PgRepository) Get(ctx context.Context, q db.Querier, id uuid.UUID) (*Appointment, error) {
	row := q.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id)
	return scanAppointment(row)
}

func (r *PgRepository) GetForUpdate(ctx context.Context, q db.Querier, id uuid.UUID) (*Appointment, error) {
	row := q.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1 FOR UPDATE`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListByUser(ctx context.Context, q db.Querier, userID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE user_id = $1
		ORDER BY appointment_date DESC, start_time DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by user: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) Update(ctx context.Context, q db.Querier, a *Appointment) (*Appointment, error) {
	row := q.QueryRow(ctx, `
		UPDATE appointments
		SET appointment_date = $2,
		    start_time = $3::time,
		    end_time = $4::time,
		    type = $5,
		    patient_name = $6,
		    patient_email = $7,
		    patient_phone = $8,
		    notes = $9,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+appointmentColumns,
		a.ID, a.Date, a.StartTime.String(), a.EndTime.String(), string(a.Type),
		a.PatientName, a.PatientEmail, a.PatientPhone, a.Notes,
	)
	return scanAppointment(row)
}

func (r *PgRepository) UpdateStatus(ctx context.Context, q db.Querier, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	row := q.QueryRow(ctx, `
		UPDATE appointments
		SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2
		RETURNING `+appointmentColumns,
		id, string(from), string(to),
	)
	a, err := scanAppointment(row)
	if errors.Is(err, ErrAppointmentNotFound) {
		return nil, ErrInvalidStatusTransition
	}
	return a, err
}

func (r *PgRepository) FindOverlapping(ctx context.Context, q db.Querier, doctorID uuid.UUID, day time.Time, excludeID *uuid.UUID) ([]Appointment, error) {
	rows, err := q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND appointment_date = $2
		  AND status IN ('PENDING', 'CONFIRMED', 'COMPLETED')
		  AND ($3::uuid IS NULL OR id <> $3::uuid)
		ORDER BY start_time
	`, doctorID, day, excludeID)
	if err != nil {
		return nil, fmt.Errorf("find overlapping appointments: %w", err)
	}
	return collectAppointments(rows)
}

// BookedIntervals satisfies schedule.OccupancySource.
func (r *PgRepository) BookedIntervals(ctx context.Context, q db.Querier, doctorID uuid.UUID, day time.Time, excludeID *uuid.UUID) ([]schedule.Interval, error) {
	appts, err := r.FindOverlapping(ctx, q, doctorID, day, excludeID)
	if err != nil {
		return nil, err
	}
	out := make([]schedule.Interval, 0, len(appts))
	for _, a := range appts {
		out = append(out, a.Interval())
	}
	return out, nil
}

// FindStalePending returns PENDING appointments created before the cutoff
// whose payment has not been approved or put in process.
func (r *PgRepository) FindStalePending(ctx context.Context, q db.Querier, createdBefore time.Time, limit int) ([]Appointment, error) {
	rows, err := q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'PENDING'
		  AND created_at < $1
		  AND NOT EXISTS (
			SELECT 1 FROM payments p
			WHERE p.appointment_id = appointments.id
			  AND p.status IN ('APPROVED', 'CONFIRMED', 'IN_PROCESS')
		  )
		ORDER BY created_at
		LIMIT $2
	`, createdBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("find stale pending appointments: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) InsertHistory(ctx context.Context, q db.Querier, h History) error {
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	_, err := q.Exec(ctx, `
		INSERT INTO appointment_history (
			id, appointment_id, user_id, doctor_id, appointment_date, start_time, end_time,
			final_status, reason, note, amount, currency
		)
		VALUES ($1, $2, $3, $4, $5, $6::time, $7::time, $8, $9, $10, $11, $12)
	`,
		h.ID, h.AppointmentID, h.UserID, h.DoctorID, h.Date, h.StartTime.String(), h.EndTime.String(),
		string(h.FinalStatus), string(h.Reason), h.Note, h.Amount, h.Currency,
	)
	if err != nil {
		return fmt.Errorf("insert appointment history: %w", err)
	}
	return nil
}

func (r *PgRepository) LockDoctorDay(ctx context.Context, q db.Querier, doctorID uuid.UUID, day time.Time) error {
	key := doctorID.String() + ":" + day.Format(time.DateOnly)
	if _, err := q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
		return fmt.Errorf("lock doctor day: %w", err)
	}
	return nil
}
