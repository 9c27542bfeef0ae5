package appointment

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/schedule"
)

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "PENDING"
	StatusConfirmed AppointmentStatus = "CONFIRMED"
	StatusCompleted AppointmentStatus = "COMPLETED"
	StatusCancelled AppointmentStatus = "CANCELLED"
)

func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled:
		return true
	default:
		return false
	}
}

// Occupies reports whether an appointment in this status holds its slot.
func (s AppointmentStatus) Occupies() bool {
	return s != StatusCancelled
}

type AppointmentType string

const (
	TypeGeneral  AppointmentType = "GENERAL"
	TypeUrgent   AppointmentType = "URGENT"
	TypeFollowUp AppointmentType = "FOLLOWUP"
)

func ParseType(s string) (AppointmentType, error) {
	t := AppointmentType(s)
	switch t {
	case TypeGeneral, TypeUrgent, TypeFollowUp:
		return t, nil
	default:
		return "", fmt.Errorf("unknown appointment type %q", s)
	}
}

// HistoryReason tags why an appointment left the active ledger.
type HistoryReason string

const (
	ReasonManualPatient      HistoryReason = "MANUAL_PATIENT"
	ReasonManualAdmin        HistoryReason = "MANUAL_ADMIN"
	ReasonManualDoctor       HistoryReason = "MANUAL_DOCTOR"
	ReasonTimeoutPayment     HistoryReason = "TIMEOUT_PAYMENT"
	ReasonRefundReview       HistoryReason = "REFUND_REVIEW"
	ReasonPaymentRejected    HistoryReason = "PAYMENT_REJECTED"
	ReasonPaymentSetupFailed HistoryReason = "PAYMENT_SETUP_FAILED"
	ReasonCompleted          HistoryReason = "COMPLETED"
)

func (r HistoryReason) Valid() bool {
	switch r {
	case ReasonManualPatient, ReasonManualAdmin, ReasonManualDoctor, ReasonTimeoutPayment,
		ReasonRefundReview, ReasonPaymentRejected, ReasonPaymentSetupFailed, ReasonCompleted:
		return true
	default:
		return false
	}
}

type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

func ParseRole(s string) (Role, error) {
	r := Role(s)
	switch r {
	case RolePatient, RoleDoctor, RoleAdmin:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

func (r Role) IsStaff() bool {
	return r == RoleDoctor || r == RoleAdmin
}

// CancelReason is the history tag for a manual cancellation by r.
func (r Role) CancelReason() HistoryReason {
	switch r {
	case RoleDoctor:
		return ReasonManualDoctor
	case RoleAdmin:
		return ReasonManualAdmin
	default:
		return ReasonManualPatient
	}
}

// Actor is the authenticated caller.
type Actor struct {
	UserID uuid.UUID
	Role   Role
}

func (a Actor) CanAccess(appt *Appointment) bool {
	return a.Role.IsStaff() || appt.UserID == a.UserID
}

type Appointment struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	DoctorID     uuid.UUID
	Date         time.Time
	StartTime    schedule.ClockTime
	EndTime      schedule.ClockTime
	Type         AppointmentType
	Status       AppointmentStatus
	PatientName  string
	PatientEmail *string
	PatientPhone *string
	Notes        *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (a Appointment) Interval() schedule.Interval {
	return schedule.Interval{Start: a.StartTime, End: a.EndTime}
}

func (a Appointment) StartsAt(loc *time.Location) time.Time {
	return a.StartTime.On(a.Date, loc)
}

func (a Appointment) EndsAt(loc *time.Location) time.Time {
	return a.EndTime.On(a.Date, loc)
}

// History is an immutable archival row.
type History struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	UserID        uuid.UUID
	DoctorID      uuid.UUID
	Date          time.Time
	StartTime     schedule.ClockTime
	EndTime       schedule.ClockTime
	FinalStatus   AppointmentStatus
	Reason        HistoryReason
	Note          *string
	Amount        *float64
	Currency      *string
	CreatedAt     time.Time
}
