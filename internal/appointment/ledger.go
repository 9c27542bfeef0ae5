package appointment

import (
	"context"
	"errors"
	"fmt"

	"github.com/hackgods/clinic-booking/internal/db"
	"github.com/hackgods/clinic-booking/internal/payment"
)

// Ledger groups the appointment writes that always travel with a payment
// update and a history row. Callers run it inside their transaction and
// hold the appointment row lock.
type Ledger struct {
	appts    Repository
	payments PaymentStore
}

func NewLedger(appts Repository, payments PaymentStore) *Ledger {
	return &Ledger{appts: appts, payments: payments}
}

// Cancel moves appt to CANCELLED, cancels pay unless it already settled as
// rejected, cancelled or refunded and
// records a history row tagged with reason. pay may be nil.
func (l *Ledger) Cancel(ctx context.Context, q db.Querier, appt *Appointment, pay *payment.Payment, reason HistoryReason, note *string) (*Appointment, error) {
	switch appt.Status {
	case StatusCancelled:
		return nil, ErrAlreadyCancelled
	case StatusCompleted:
		return nil, ErrInvalidStatusTransition
	case StatusPending, StatusConfirmed:
	default:
		return nil, fmt.Errorf("cancel: unknown status %q", appt.Status)
	}
	if !reason.Valid() {
		return nil, fmt.Errorf("cancel: unknown reason %q", reason)
	}

	updated, err := l.appts.UpdateStatus(ctx, q, appt.ID, appt.Status, StatusCancelled)
	if err != nil {
		return nil, fmt.Errorf("cancel appointment: %w", err)
	}

	if pay != nil && pay.Status.CanCancel() {
		if _, err := l.payments.UpdateStatus(ctx, q, pay.ID, payment.StatusCancelled, nil, nil); err != nil {
			return nil, fmt.Errorf("cancel payment: %w", err)
		}
	}

	if err := l.appts.InsertHistory(ctx, q, historyFor(updated, pay, reason, note)); err != nil {
		return nil, err
	}
	return updated, nil
}

// Complete moves a CONFIRMED appointment to COMPLETED.
func (l *Ledger) Complete(ctx context.Context, q db.Querier, appt *Appointment, pay *payment.Payment) (*Appointment, error) {
	switch appt.Status {
	case StatusConfirmed:
	case StatusCancelled:
		return nil, ErrAlreadyCancelled
	default:
		return nil, ErrInvalidStatusTransition
	}

	updated, err := l.appts.UpdateStatus(ctx, q, appt.ID, StatusConfirmed, StatusCompleted)
	if err != nil {
		return nil, fmt.Errorf("complete appointment: %w", err)
	}
	if err := l.appts.InsertHistory(ctx, q, historyFor(updated, pay, ReasonCompleted, nil)); err != nil {
		return nil, err
	}
	return updated, nil
}

// PaymentFor loads and locks the payment linked to appointmentID. A missing
// payment is not an error.
func (l *Ledger) PaymentFor(ctx context.Context, q db.Querier, appt *Appointment) (*payment.Payment, error) {
	pay, err := l.payments.GetByAppointmentID(ctx, q, appt.ID, true)
	if err != nil {
		if errors.Is(err, payment.ErrPaymentNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load payment: %w", err)
	}
	return pay, nil
}

func historyFor(a *Appointment, pay *payment.Payment, reason HistoryReason, note *string) History {
	h := History{
		AppointmentID: a.ID,
		UserID:        a.UserID,
		DoctorID:      a.DoctorID,
		Date:          a.Date,
		StartTime:     a.StartTime,
		EndTime:       a.EndTime,
		FinalStatus:   a.Status,
		Reason:        reason,
		Note:          note,
	}
	if pay != nil {
		amount, currency := pay.Amount, pay.Currency
		h.Amount = &amount
		h.Currency = &currency
	}
	return h
}
