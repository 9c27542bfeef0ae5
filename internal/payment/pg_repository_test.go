package payment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var paymentCols = []string{
	"id", "appointment_id", "subscription_id", "amount", "currency", "status",
	"mercado_pago_id", "preference_id", "payer_name", "payer_email", "payer_phone",
	"description", "paid_at", "created_at", "updated_at",
}

var subscriptionCols = []string{
	"id", "user_id", "preapproval_id", "plan_name", "amount", "currency", "status", "created_at", "updated_at",
}

func strPtr(s string) *string { return &s }

func TestGetByGatewayIDForUpdate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id, apptID := uuid.New(), uuid.New()
	now := time.Now()
	mock.ExpectQuery(`WHERE mercado_pago_id = \$1 FOR UPDATE`).
		WithArgs("mp-1").
		WillReturnRows(pgxmock.NewRows(paymentCols).AddRow(
			id, &apptID, (*uuid.UUID)(nil), 150.0, "BRL", "PENDING",
			strPtr("mp-1"), strPtr("pref-1"), (*string)(nil), (*string)(nil), (*string)(nil),
			(*string)(nil), (*time.Time)(nil), now, now,
		))

	p, err := NewPgRepository().GetByGatewayID(context.Background(), mock, "mp-1", true)
	require.NoError(t, err)
	assert.Equal(t, id, p.ID)
	assert.Equal(t, StatusPending, p.Status)
	require.NotNil(t, p.AppointmentID)
	assert.Equal(t, apptID, *p.AppointmentID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByAppointmentIDMissing(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	apptID := uuid.New()
	mock.ExpectQuery(`WHERE appointment_id = \$1`).WithArgs(apptID).WillReturnError(pgx.ErrNoRows)

	_, err = NewPgRepository().GetByAppointmentID(context.Background(), mock, apptID, false)
	assert.ErrorIs(t, err, ErrPaymentNotFound)
}

func TestUpsertSubscriptionRefusesActive(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	userID := uuid.New()
	mock.ExpectQuery("INSERT INTO subscriptions").
		WithArgs(pgxmock.AnyArg(), userID, strPtr("pre-1"), "Monthly", 89.9, "BRL", "INACTIVE").
		WillReturnError(pgx.ErrNoRows)

	_, err = NewPgRepository().UpsertSubscription(context.Background(), mock, &Subscription{
		UserID:        userID,
		PreapprovalID: strPtr("pre-1"),
		PlanName:      "Monthly",
		Amount:        89.9,
		Currency:      "BRL",
		Status:        SubscriptionInactive,
	})
	assert.ErrorIs(t, err, ErrSubscriptionActive)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateSubscriptionStatus(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id, userID := uuid.New(), uuid.New()
	now := time.Now()
	mock.ExpectQuery("UPDATE subscriptions SET status").
		WithArgs(id, "ACTIVE").
		WillReturnRows(pgxmock.NewRows(subscriptionCols).AddRow(
			id, userID, strPtr("pre-1"), "Monthly", 89.9, "BRL", "ACTIVE", now, now,
		))

	s, err := NewPgRepository().UpdateSubscriptionStatus(context.Background(), mock, id, SubscriptionActive)
	require.NoError(t, err)
	assert.Equal(t, SubscriptionActive, s.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetPreferenceMissingRow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	mock.ExpectExec("UPDATE payments SET preference_id").
		WithArgs(id, "pref-9").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = NewPgRepository().SetPreference(context.Background(), mock, id, "pref-9")
	assert.ErrorIs(t, err, ErrPaymentNotFound)
}
