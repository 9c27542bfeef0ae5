package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/db"
)

var ErrInvalidSubscription = errors.New("invalid subscription request")

// SubscriptionStore is the subscription half of the payment repository.
type SubscriptionStore interface {
	UpsertSubscription(ctx context.Context, q db.Querier, s *Subscription) (*Subscription, error)
	GetSubscriptionByUser(ctx context.Context, q db.Querier, userID uuid.UUID) (*Subscription, error)
}

type SubscribeInput struct {
	PlanName   string
	Amount     float64
	Currency   string
	PayerEmail string
	BackURL    string
}

// Enrollment is a subscription waiting for the payer to authorize it at
// InitPoint.
type Enrollment struct {
	Subscription *Subscription
	InitPoint    string
}

// SubscriptionService starts recurring plans. Activation arrives later as a
// preapproval notification.
type SubscriptionService struct {
	db      db.Querier
	store   SubscriptionStore
	gateway Gateway
	log     zerolog.Logger
}

func NewSubscriptionService(q db.Querier, store SubscriptionStore, gateway Gateway, log zerolog.Logger) *SubscriptionService {
	return &SubscriptionService{
		db:      q,
		store:   store,
		gateway: gateway,
		log:     log.With().Str("component", "subscription").Logger(),
	}
}

func (s *SubscriptionService) Subscribe(ctx context.Context, userID uuid.UUID, in SubscribeInput) (*Enrollment, error) {
	plan := strings.TrimSpace(in.PlanName)
	switch {
	case plan == "":
		return nil, fmt.Errorf("%w: planName is required", ErrInvalidSubscription)
	case in.Amount <= 0:
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidSubscription)
	case strings.TrimSpace(in.PayerEmail) == "":
		return nil, fmt.Errorf("%w: payerEmail is required", ErrInvalidSubscription)
	}
	currency := in.Currency
	if currency == "" {
		currency = "BRL"
	}

	current, err := s.store.GetSubscriptionByUser(ctx, s.db, userID)
	switch {
	case err == nil && current.Status == SubscriptionActive:
		return nil, ErrSubscriptionActive
	case err != nil && !errors.Is(err, ErrSubscriptionNotFound):
		return nil, fmt.Errorf("load subscription: %w", err)
	}

	id := uuid.New()
	pre, err := s.gateway.CreatePreapproval(ctx, PreapprovalRequest{
		ExternalReference: id.String(),
		PlanName:          plan,
		Amount:            in.Amount,
		Currency:          currency,
		PayerEmail:        in.PayerEmail,
		BackURL:           in.BackURL,
	})
	if err != nil {
		return nil, fmt.Errorf("create preapproval: %w", err)
	}

	saved, err := s.store.UpsertSubscription(ctx, s.db, &Subscription{
		ID:            id,
		UserID:        userID,
		PreapprovalID: &pre.ID,
		PlanName:      plan,
		Amount:        in.Amount,
		Currency:      currency,
		Status:        SubscriptionInactive,
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("subscription_id", saved.ID.String()).
		Str("preapproval_id", pre.ID).
		Msg("subscription awaiting authorization")
	return &Enrollment{Subscription: saved, InitPoint: pre.InitPoint}, nil
}

func (s *SubscriptionService) Mine(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	return s.store.GetSubscriptionByUser(ctx, s.db, userID)
}
