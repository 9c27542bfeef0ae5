package payment

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrSubscriptionActive   = errors.New("user already has an active subscription")
)

// Status is the internal payment lifecycle.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusInProcess Status = "IN_PROCESS"
	StatusApproved  Status = "APPROVED"
	StatusConfirmed Status = "CONFIRMED"
	StatusRejected  Status = "REJECTED"
	StatusCancelled Status = "CANCELLED"
	StatusRefunded  Status = "REFUNDED"
)

func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if _, err := st.rank(); err != nil {
		return "", err
	}
	return st, nil
}

// rank orders statuses so that stale gateway notifications cannot move a
// payment backwards. Terminal states share the top rank.
func (s Status) rank() (int, error) {
	switch s {
	case StatusPending:
		return 0, nil
	case StatusInProcess:
		return 1, nil
	case StatusApproved:
		return 2, nil
	case StatusConfirmed, StatusRejected, StatusCancelled, StatusRefunded:
		return 3, nil
	default:
		return 0, fmt.Errorf("unknown payment status %q", string(s))
	}
}

func (s Status) IsTerminal() bool {
	r, err := s.rank()
	return err == nil && r == 3
}

// IsPaid reports whether funds were captured or authorized.
func (s Status) IsPaid() bool {
	return s == StatusApproved || s == StatusConfirmed
}

// CanTransition reports whether moving from s to next is a forward move.
// The only move out of a terminal state is CONFIRMED -> REFUNDED.
func (s Status) CanTransition(next Status) bool {
	if s == next {
		return false
	}
	if s == StatusConfirmed && next == StatusRefunded {
		return true
	}
	from, err := s.rank()
	if err != nil {
		return false
	}
	to, err := next.rank()
	if err != nil {
		return false
	}
	return to > from
}

// CanCancel reports whether cancelling the linked appointment also cancels
// the payment. A CONFIRMED payment is cancelled too; refunds are settled
// outside the booking flow.
func (s Status) CanCancel() bool {
	switch s {
	case StatusPending, StatusInProcess, StatusApproved, StatusConfirmed:
		return true
	default:
		return false
	}
}

// FromGatewayStatus maps Mercado Pago payment status strings.
func FromGatewayStatus(gateway string) (Status, bool) {
	switch gateway {
	case "approved":
		return StatusConfirmed, true
	case "authorized":
		return StatusApproved, true
	case "pending":
		return StatusPending, true
	case "in_process", "in_mediation":
		return StatusInProcess, true
	case "rejected":
		return StatusRejected, true
	case "cancelled":
		return StatusCancelled, true
	case "refunded", "charged_back":
		return StatusRefunded, true
	default:
		return "", false
	}
}

type Payment struct {
	ID             uuid.UUID
	AppointmentID  *uuid.UUID
	SubscriptionID *uuid.UUID
	Amount         float64
	Currency       string
	Status         Status
	MercadoPagoID  *string
	PreferenceID   *string
	PayerName      *string
	PayerEmail     *string
	PayerPhone     *string
	Description    *string
	PaidAt         *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SubscriptionStatus is the internal subscription lifecycle.
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "ACTIVE"
	SubscriptionInactive  SubscriptionStatus = "INACTIVE"
	SubscriptionCancelled SubscriptionStatus = "CANCELLED"
)

func (s SubscriptionStatus) Valid() bool {
	switch s {
	case SubscriptionActive, SubscriptionInactive, SubscriptionCancelled:
		return true
	default:
		return false
	}
}

// FromPreapprovalStatus maps Mercado Pago preapproval status strings.
func FromPreapprovalStatus(gateway string) (SubscriptionStatus, bool) {
	switch gateway {
	case "authorized":
		return SubscriptionActive, true
	case "paused", "pending":
		return SubscriptionInactive, true
	case "cancelled":
		return SubscriptionCancelled, true
	default:
		return "", false
	}
}

type Subscription struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	PreapprovalID *string
	PlanName      string
	Amount        float64
	Currency      string
	Status        SubscriptionStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
