package payment_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-booking/internal/memstore"
	"github.com/hackgods/clinic-booking/internal/payment"
	"github.com/hackgods/clinic-booking/internal/payment/paymenttest"
)

func newSubscriptionService() (*payment.SubscriptionService, *memstore.Store, *paymenttest.Gateway) {
	store := memstore.New()
	gw := paymenttest.New()
	return payment.NewSubscriptionService(nil, store.Payments(), gw, zerolog.Nop()), store, gw
}

func TestSubscribeCreatesInactiveSubscription(t *testing.T) {
	svc, store, gw := newSubscriptionService()
	userID := uuid.New()

	got, err := svc.Subscribe(context.Background(), userID, payment.SubscribeInput{
		PlanName:   "Monthly care",
		Amount:     89.9,
		PayerEmail: "ana@example.com",
	})
	require.NoError(t, err)

	assert.Equal(t, payment.SubscriptionInactive, got.Subscription.Status)
	assert.Equal(t, "BRL", got.Subscription.Currency)
	require.NotNil(t, got.Subscription.PreapprovalID)
	assert.NotEmpty(t, got.InitPoint)

	require.Len(t, gw.Created, 1)
	assert.Equal(t, got.Subscription.ID.String(), gw.Created[0].ExternalReference)

	mine, err := svc.Mine(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, got.Subscription.ID, mine.ID)

	_, ok := store.Subscription(got.Subscription.ID)
	assert.True(t, ok)
}

func TestSubscribeRefusesActiveSubscription(t *testing.T) {
	svc, store, gw := newSubscriptionService()
	userID := uuid.New()
	store.PutSubscription(payment.Subscription{UserID: userID, PlanName: "Monthly care", Amount: 89.9, Currency: "BRL", Status: payment.SubscriptionActive})

	_, err := svc.Subscribe(context.Background(), userID, payment.SubscribeInput{PlanName: "Yearly", Amount: 900, PayerEmail: "ana@example.com"})
	require.ErrorIs(t, err, payment.ErrSubscriptionActive)
	assert.Empty(t, gw.Created)
}

func TestSubscribeRestartsCancelledSubscription(t *testing.T) {
	svc, store, _ := newSubscriptionService()
	userID := uuid.New()
	old := payment.Subscription{ID: uuid.New(), UserID: userID, PlanName: "Monthly care", Amount: 89.9, Currency: "BRL", Status: payment.SubscriptionCancelled}
	store.PutSubscription(old)

	got, err := svc.Subscribe(context.Background(), userID, payment.SubscribeInput{PlanName: "Yearly", Amount: 900, PayerEmail: "ana@example.com"})
	require.NoError(t, err)
	assert.Equal(t, old.ID, got.Subscription.ID)
	assert.Equal(t, "Yearly", got.Subscription.PlanName)
	assert.Equal(t, payment.SubscriptionInactive, got.Subscription.Status)
}

func TestSubscribeValidatesInput(t *testing.T) {
	svc, _, _ := newSubscriptionService()

	for _, in := range []payment.SubscribeInput{
		{Amount: 10, PayerEmail: "a@b.c"},
		{PlanName: "Plan", PayerEmail: "a@b.c"},
		{PlanName: "Plan", Amount: 10},
	} {
		_, err := svc.Subscribe(context.Background(), uuid.New(), in)
		assert.ErrorIs(t, err, payment.ErrInvalidSubscription)
	}
}

func TestMineWithoutSubscription(t *testing.T) {
	svc, _, _ := newSubscriptionService()
	_, err := svc.Mine(context.Background(), uuid.New())
	assert.ErrorIs(t, err, payment.ErrSubscriptionNotFound)
}
