package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/db"
	"github.com/hackgods/clinic-booking/internal/payment"
	"github.com/hackgods/clinic-booking/internal/schedule"
)

var (
	ErrAppointmentNotFound     = errors.New("appointment not found")
	ErrAlreadyCancelled        = errors.New("appointment is already cancelled")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
)

// Repository is the appointment ledger. Every method runs on the Querier it
// is given; writes that must be atomic share one transaction.
type Repository interface {
	schedule.OccupancySource

	Create(ctx context.Context, q db.Querier, a *Appointment) (*Appointment, error)
	Get(ctx context.Context, q db.Querier, id uuid.UUID) (*Appointment, error)
	GetForUpdate(ctx context.Context, q db.Querier, id uuid.UUID) (*Appointment, error)
	ListByUser(ctx context.Context, q db.Querier, userID uuid.UUID, limit, offset int) ([]Appointment, error)

	// Update writes the editable fields of a (schedule, type, patient data).
	Update(ctx context.Context, q db.Querier, a *Appointment) (*Appointment, error)
	// UpdateStatus is a compare-and-set; it returns ErrInvalidStatusTransition
	// when the row is no longer in status from.
	UpdateStatus(ctx context.Context, q db.Querier, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error)

	FindOverlapping(ctx context.Context, q db.Querier, doctorID uuid.UUID, day time.Time, excludeID *uuid.UUID) ([]Appointment, error)
	FindStalePending(ctx context.Context, q db.Querier, createdBefore time.Time, limit int) ([]Appointment, error)

	InsertHistory(ctx context.Context, q db.Querier, h History) error
	// LockDoctorDay serializes bookings of one doctor and day until the
	// surrounding transaction ends.
	LockDoctorDay(ctx context.Context, q db.Querier, doctorID uuid.UUID, day time.Time) error
}

// PaymentStore is the slice of the payment repository the ledger writes to.
type PaymentStore interface {
	Create(ctx context.Context, q db.Querier, p *payment.Payment) (*payment.Payment, error)
	GetByAppointmentID(ctx context.Context, q db.Querier, appointmentID uuid.UUID, lock bool) (*payment.Payment, error)
	UpdateStatus(ctx context.Context, q db.Querier, id uuid.UUID, status payment.Status, paidAt *time.Time, gatewayID *string) (*payment.Payment, error)
	SetPreference(ctx context.Context, q db.Querier, id uuid.UUID, preferenceID string) error
}
