package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/db"
	"github.com/hackgods/clinic-booking/internal/payment"
)

// Result says what applying a gateway resource did.
type Result int

const (
	// ResultApplied means local state now reflects the gateway.
	ResultApplied Result = iota
	// ResultStale means the notification was older than local state.
	ResultStale
	// ResultUnmatched means no local entity could be found for it.
	ResultUnmatched
	// ResultNotApplicable means the status or topic is not one we act on.
	ResultNotApplicable
)

func (r Result) String() string {
	switch r {
	case ResultApplied:
		return "applied"
	case ResultStale:
		return "stale"
	case ResultUnmatched:
		return "unmatched"
	case ResultNotApplicable:
		return "not_applicable"
	default:
		return fmt.Sprintf("result(%d)", int(r))
	}
}

// Terminal reports whether the ledger row may be marked processed.
func (r Result) Terminal() bool {
	return r == ResultApplied || r == ResultStale
}

// Resource is a gateway object fetched for a notification.
type Resource struct {
	Kind        EventKind
	Payment     *payment.GatewayPayment
	Preapproval *payment.Preapproval
}

type PaymentRepository interface {
	Create(ctx context.Context, q db.Querier, p *payment.Payment) (*payment.Payment, error)
	GetByGatewayID(ctx context.Context, q db.Querier, gatewayID string, lock bool) (*payment.Payment, error)
	GetByAppointmentID(ctx context.Context, q db.Querier, appointmentID uuid.UUID, lock bool) (*payment.Payment, error)
	UpdateStatus(ctx context.Context, q db.Querier, id uuid.UUID, status payment.Status, paidAt *time.Time, gatewayID *string) (*payment.Payment, error)
}

type SubscriptionRepository interface {
	GetSubscriptionByPreapproval(ctx context.Context, q db.Querier, preapprovalID string, lock bool) (*payment.Subscription, error)
	UpdateSubscriptionStatus(ctx context.Context, q db.Querier, id uuid.UUID, status payment.SubscriptionStatus) (*payment.Subscription, error)
}

// Reconciler maps gateway state onto payments, appointments and
// subscriptions.
type Reconciler struct {
	gateway  payment.Gateway
	tx       db.TxRunner
	payments PaymentRepository
	subs     SubscriptionRepository
	appts    appointment.Repository
	ledger   *appointment.Ledger
	log      zerolog.Logger
	now      func() time.Time
}

type ReconcilerDeps struct {
	Gateway       payment.Gateway
	Tx            db.TxRunner
	Payments      PaymentRepository
	Subscriptions SubscriptionRepository
	Appointments  appointment.Repository
	Ledger        *appointment.Ledger
	Logger        zerolog.Logger
}

func NewReconciler(d ReconcilerDeps) *Reconciler {
	return &Reconciler{
		gateway:  d.Gateway,
		tx:       d.Tx,
		payments: d.Payments,
		subs:     d.Subscriptions,
		appts:    d.Appointments,
		ledger:   d.Ledger,
		log:      d.Logger.With().Str("component", "reconciler").Logger(),
		now:      time.Now,
	}
}

// Fetch loads the resource a notification points at.
func (r *Reconciler) Fetch(ctx context.Context, kind EventKind, id string) (Resource, error) {
	res := Resource{Kind: kind}
	switch kind {
	case KindPayment:
		gp, err := r.gateway.GetPayment(ctx, id)
		if err != nil {
			return res, fmt.Errorf("fetch payment %s: %w", id, err)
		}
		res.Payment = &gp
	case KindAuthorizedPayment:
		gp, err := r.gateway.GetAuthorizedPayment(ctx, id)
		if err != nil {
			return res, fmt.Errorf("fetch authorized payment %s: %w", id, err)
		}
		res.Payment = &gp
	case KindPreapproval:
		pre, err := r.gateway.GetPreapproval(ctx, id)
		if err != nil {
			return res, fmt.Errorf("fetch preapproval %s: %w", id, err)
		}
		res.Preapproval = &pre
	case KindUnknown:
		return res, fmt.Errorf("fetch: unsupported event kind %q", kind)
	default:
		return res, fmt.Errorf("fetch: unknown event kind %q", kind)
	}
	return res, nil
}

// Apply writes res inside the caller's transaction.
func (r *Reconciler) Apply(ctx context.Context, q db.Querier, res Resource) (Result, error) {
	switch {
	case res.Payment != nil:
		return r.applyPayment(ctx, q, *res.Payment)
	case res.Preapproval != nil:
		return r.applyPreapproval(ctx, q, *res.Preapproval)
	default:
		return ResultNotApplicable, nil
	}
}

// ApplyCharge applies a direct card charge result in its own transaction.
func (r *Reconciler) ApplyCharge(ctx context.Context, gp payment.GatewayPayment) error {
	return r.tx.InTx(ctx, func(ctx context.Context, q db.Querier) error {
		res, err := r.applyPayment(ctx, q, gp)
		if err != nil {
			return err
		}
		if res == ResultUnmatched {
			return fmt.Errorf("charge %s matched no local payment", gp.ID)
		}
		return nil
	})
}

func (r *Reconciler) findPayment(ctx context.Context, q db.Querier, gp payment.GatewayPayment) (*payment.Payment, error) {
	if gp.ID != "" {
		p, err := r.payments.GetByGatewayID(ctx, q, gp.ID, true)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, payment.ErrPaymentNotFound) {
			return nil, err
		}
	}
	apptID, err := uuid.Parse(gp.ExternalReference)
	if err != nil {
		return nil, payment.ErrPaymentNotFound
	}
	return r.payments.GetByAppointmentID(ctx, q, apptID, true)
}

func (r *Reconciler) applyPayment(ctx context.Context, q db.Querier, gp payment.GatewayPayment) (Result, error) {
	status, ok := payment.FromGatewayStatus(gp.Status)
	if !ok {
		r.log.Info().Str("gateway_payment_id", gp.ID).Str("gateway_status", gp.Status).Msg("payment status not handled")
		return ResultNotApplicable, nil
	}

	local, err := r.findPayment(ctx, q, gp)
	if errors.Is(err, payment.ErrPaymentNotFound) {
		if gp.PreapprovalID != "" {
			return r.createSubscriptionCharge(ctx, q, gp, status)
		}
		r.log.Error().Bool("alert", true).
			Str("gateway_payment_id", gp.ID).
			Str("external_reference", gp.ExternalReference).
			Msg("payment notification matched no local payment")
		return ResultUnmatched, nil
	}
	if err != nil {
		return 0, fmt.Errorf("find payment: %w", err)
	}

	if !local.Status.CanTransition(status) {
		r.log.Info().
			Str("payment_id", local.ID.String()).
			Str("current", string(local.Status)).
			Str("reported", string(status)).
			Msg("stale payment notification")
		return ResultStale, nil
	}

	var paidAt *time.Time
	if status.IsPaid() {
		t := r.now()
		if gp.ApprovedAt != nil {
			t = *gp.ApprovedAt
		}
		paidAt = &t
	}
	var gatewayID *string
	if gp.ID != "" {
		gatewayID = &gp.ID
	}
	updated, err := r.payments.UpdateStatus(ctx, q, local.ID, status, paidAt, gatewayID)
	if err != nil {
		return 0, fmt.Errorf("update payment: %w", err)
	}

	if updated.AppointmentID != nil {
		if err := r.cascade(ctx, q, *updated.AppointmentID, updated); err != nil {
			return 0, err
		}
	}
	return ResultApplied, nil
}

// cascade moves the linked appointment after a payment transition.
func (r *Reconciler) cascade(ctx context.Context, q db.Querier, appointmentID uuid.UUID, pay *payment.Payment) error {
	appt, err := r.appts.GetForUpdate(ctx, q, appointmentID)
	if err != nil {
		return fmt.Errorf("load appointment: %w", err)
	}

	switch pay.Status {
	case payment.StatusConfirmed:
		switch appt.Status {
		case appointment.StatusPending:
			if _, err := r.appts.UpdateStatus(ctx, q, appt.ID, appointment.StatusPending, appointment.StatusConfirmed); err != nil {
				return fmt.Errorf("confirm appointment: %w", err)
			}
		case appointment.StatusCancelled:
			r.log.Error().Bool("alert", true).
				Str("appointment_id", appt.ID.String()).
				Str("payment_id", pay.ID.String()).
				Msg("payment approved for cancelled appointment, manual refund needed")
		case appointment.StatusConfirmed, appointment.StatusCompleted:
		default:
			return fmt.Errorf("cascade: unknown appointment status %q", appt.Status)
		}
	case payment.StatusRejected, payment.StatusCancelled:
		switch appt.Status {
		case appointment.StatusPending, appointment.StatusConfirmed:
			if _, err := r.ledger.Cancel(ctx, q, appt, pay, appointment.ReasonPaymentRejected, nil); err != nil {
				return fmt.Errorf("cancel appointment: %w", err)
			}
		case appointment.StatusCancelled, appointment.StatusCompleted:
		default:
			return fmt.Errorf("cascade: unknown appointment status %q", appt.Status)
		}
	case payment.StatusRefunded:
		r.log.Warn().Str("appointment_id", appt.ID.String()).Str("payment_id", pay.ID.String()).Msg("payment refunded")
	case payment.StatusPending, payment.StatusInProcess, payment.StatusApproved:
	default:
		return fmt.Errorf("cascade: unknown payment status %q", pay.Status)
	}
	return nil
}

// createSubscriptionCharge records an approved recurring charge that has no
// local payment yet.
func (r *Reconciler) createSubscriptionCharge(ctx context.Context, q db.Querier, gp payment.GatewayPayment, status payment.Status) (Result, error) {
	if status != payment.StatusConfirmed {
		return ResultNotApplicable, nil
	}
	sub, err := r.subs.GetSubscriptionByPreapproval(ctx, q, gp.PreapprovalID, true)
	if errors.Is(err, payment.ErrSubscriptionNotFound) {
		r.log.Error().Bool("alert", true).
			Str("gateway_payment_id", gp.ID).
			Str("preapproval_id", gp.PreapprovalID).
			Msg("subscription charge matched no local subscription")
		return ResultUnmatched, nil
	}
	if err != nil {
		return 0, fmt.Errorf("find subscription: %w", err)
	}

	paidAt := r.now()
	if gp.ApprovedAt != nil {
		paidAt = *gp.ApprovedAt
	}
	amount, currency := gp.Amount, gp.Currency
	if amount <= 0 {
		amount = sub.Amount
	}
	if currency == "" {
		currency = sub.Currency
	}
	gatewayID := gp.ID
	if _, err := r.payments.Create(ctx, q, &payment.Payment{
		SubscriptionID: &sub.ID,
		Amount:         amount,
		Currency:       currency,
		Status:         payment.StatusConfirmed,
		MercadoPagoID:  &gatewayID,
		Description:    &sub.PlanName,
		PaidAt:         &paidAt,
	}); err != nil {
		return 0, fmt.Errorf("create subscription payment: %w", err)
	}
	return ResultApplied, nil
}

func (r *Reconciler) applyPreapproval(ctx context.Context, q db.Querier, pre payment.Preapproval) (Result, error) {
	status, ok := payment.FromPreapprovalStatus(pre.Status)
	if !ok {
		r.log.Info().Str("preapproval_id", pre.ID).Str("gateway_status", pre.Status).Msg("preapproval status not handled")
		return ResultNotApplicable, nil
	}

	sub, err := r.subs.GetSubscriptionByPreapproval(ctx, q, pre.ID, true)
	if errors.Is(err, payment.ErrSubscriptionNotFound) {
		r.log.Error().Bool("alert", true).Str("preapproval_id", pre.ID).Msg("preapproval matched no local subscription")
		return ResultUnmatched, nil
	}
	if err != nil {
		return 0, fmt.Errorf("find subscription: %w", err)
	}
	// status comes from the gateway fetch, not the event, so a late delivery
	// still writes the current state.
	if sub.Status == status {
		return ResultStale, nil
	}
	if _, err := r.subs.UpdateSubscriptionStatus(ctx, q, sub.ID, status); err != nil {
		return 0, fmt.Errorf("update subscription: %w", err)
	}
	return ResultApplied, nil
}
