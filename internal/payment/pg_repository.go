package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hackgods/clinic-booking/internal/db"
)

// PgRepository persists payments and subscriptions. Every method runs on the
// Querier it is handed so callers can enlist it in their transaction.
type PgRepository struct{}

func NewPgRepository() *PgRepository {
	return &PgRepository{}
}

const paymentColumns = `
	id, appointment_id, subscription_id, amount, currency, status,
	mercado_pago_id, preference_id, payer_name, payer_email, payer_phone,
	description, paid_at, created_at, updated_at`

const subscriptionColumns = `
	id, user_id, preapproval_id, plan_name, amount, currency, status, created_at, updated_at`

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	var status string

	err := row.Scan(
		&p.ID,
		&p.AppointmentID,
		&p.SubscriptionID,
		&p.Amount,
		&p.Currency,
		&status,
		&p.MercadoPagoID,
		&p.PreferenceID,
		&p.PayerName,
		&p.PayerEmail,
		&p.PayerPhone,
		&p.Description,
		&p.PaidAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}

	p.Status = Status(status)
	return &p, nil
}

func scanSubscription(row pgx.Row) (*Subscription, error) {
	var s Subscription
	var status string

	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.PreapprovalID,
		&s.PlanName,
		&s.Amount,
		&s.Currency,
		&status,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}

	s.Status = SubscriptionStatus(status)
	return &s, nil
}

func lockSuffix(lock bool) string {
	if lock {
		return " FOR UPDATE"
	}
	return ""
}

// Payments

func (r *PgRepository) Create(ctx context.Context, q db.Querier, p *Payment) (*Payment, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	row := q.QueryRow(ctx, `
		INSERT INTO payments (
			id, appointment_id, subscription_id, amount, currency, status,
			mercado_pago_id, preference_id, payer_name, payer_email, payer_phone,
			description, paid_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING `+paymentColumns,
		p.ID, p.AppointmentID, p.SubscriptionID, p.Amount, p.Currency, string(p.Status),
		p.MercadoPagoID, p.PreferenceID, p.PayerName, p.PayerEmail, p.PayerPhone,
		p.Description, p.PaidAt,
	)
	created, err := scanPayment(row)
	if err != nil {
		return nil, fmt.Errorf("insert payment: %w", err)
	}
	return created, nil
}

func (r *PgRepository) GetByID(ctx context.Context, q db.Querier, id uuid.UUID, lock bool) (*Payment, error) {
	row := q.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`+lockSuffix(lock), id)
	return scanPayment(row)
}

// GetByGatewayID looks a payment up by its Mercado Pago id.
func (r *PgRepository) GetByGatewayID(ctx context.Context, q db.Querier, gatewayID string, lock bool) (*Payment, error) {
	row := q.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE mercado_pago_id = $1`+lockSuffix(lock), gatewayID)
	return scanPayment(row)
}

func (r *PgRepository) GetByAppointmentID(ctx context.Context, q db.Querier, appointmentID uuid.UUID, lock bool) (*Payment, error) {
	row := q.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE appointment_id = $1`+lockSuffix(lock), appointmentID)
	return scanPayment(row)
}

// UpdateStatus writes the new status. paidAt and gatewayID only overwrite
// when non-nil.
func (r *PgRepository) UpdateStatus(ctx context.Context, q db.Querier, id uuid.UUID, status Status, paidAt *time.Time, gatewayID *string) (*Payment, error) {
	row := q.QueryRow(ctx, `
		UPDATE payments
		SET status = $2,
		    paid_at = COALESCE($3, paid_at),
		    mercado_pago_id = COALESCE($4, mercado_pago_id),
		    updated_at = now()
		WHERE id = $1
		RETURNING `+paymentColumns,
		id, string(status), paidAt, gatewayID,
	)
	return scanPayment(row)
}

func (r *PgRepository) SetPreference(ctx context.Context, q db.Querier, id uuid.UUID, preferenceID string) error {
	tag, err := q.Exec(ctx, `
		UPDATE payments SET preference_id = $2, updated_at = now() WHERE id = $1
	`, id, preferenceID)
	if err != nil {
		return fmt.Errorf("set preference: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

// Subscriptions

// UpsertSubscription creates the user's subscription or restarts one that is
// not ACTIVE. An ACTIVE subscription yields ErrSubscriptionActive.
func (r *PgRepository) UpsertSubscription(ctx context.Context, q db.Querier, s *Subscription) (*Subscription, error) {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	row := q.QueryRow(ctx, `
		INSERT INTO subscriptions (id, user_id, preapproval_id, plan_name, amount, currency, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO UPDATE
		SET preapproval_id = EXCLUDED.preapproval_id,
		    plan_name = EXCLUDED.plan_name,
		    amount = EXCLUDED.amount,
		    currency = EXCLUDED.currency,
		    status = EXCLUDED.status,
		    updated_at = now()
		WHERE subscriptions.status <> 'ACTIVE'
		RETURNING `+subscriptionColumns,
		s.ID, s.UserID, s.PreapprovalID, s.PlanName, s.Amount, s.Currency, string(s.Status),
	)
	saved, err := scanSubscription(row)
	if errors.Is(err, ErrSubscriptionNotFound) {
		return nil, ErrSubscriptionActive
	}
	return saved, err
}

func (r *PgRepository) GetSubscriptionByUser(ctx context.Context, q db.Querier, userID uuid.UUID) (*Subscription, error) {
	row := q.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE user_id = $1`, userID)
	return scanSubscription(row)
}

func (r *PgRepository) GetSubscriptionByPreapproval(ctx context.Context, q db.Querier, preapprovalID string, lock bool) (*Subscription, error) {
	row := q.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE preapproval_id = $1`+lockSuffix(lock), preapprovalID)
	return scanSubscription(row)
}

func (r *PgRepository) UpdateSubscriptionStatus(ctx context.Context, q db.Querier, id uuid.UUID, status SubscriptionStatus) (*Subscription, error) {
	row := q.QueryRow(ctx, `
		UPDATE subscriptions SET status = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+subscriptionColumns,
		id, string(status),
	)
	return scanSubscription(row)
}
