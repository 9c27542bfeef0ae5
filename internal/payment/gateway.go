package payment

import (
	"context"
	"errors"
	"time"
)

var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

// Gateway is the boundary to the external payment processor.
type Gateway interface {
	CreatePreference(ctx context.Context, req PreferenceRequest) (Preference, error)
	ChargeCard(ctx context.Context, req CardChargeRequest) (GatewayPayment, error)
	GetPayment(ctx context.Context, id string) (GatewayPayment, error)
	// GetAuthorizedPayment resolves a recurring charge of a preapproval.
	GetAuthorizedPayment(ctx context.Context, id string) (GatewayPayment, error)
	CreatePreapproval(ctx context.Context, req PreapprovalRequest) (Preapproval, error)
	GetPreapproval(ctx context.Context, id string) (Preapproval, error)
}

type Payer struct {
	Name  string
	Email string
	Phone string
}

type PreferenceRequest struct {
	ExternalReference string
	Title             string
	Amount            float64
	Currency          string
	Payer             Payer
}

type Preference struct {
	ID        string
	InitPoint string
}

type CardChargeRequest struct {
	ExternalReference string
	IdempotencyKey    string
	Token             string
	PaymentMethodID   string
	Installments      int
	Description       string
	Amount            float64
	Payer             Payer
}

// GatewayPayment is the processor's view of a payment.
type GatewayPayment struct {
	ID                string
	Status            string
	StatusDetail      string
	ExternalReference string
	PreapprovalID     string
	Amount            float64
	Currency          string
	ApprovedAt        *time.Time
}

type PreapprovalRequest struct {
	ExternalReference string
	PlanName          string
	Amount            float64
	Currency          string
	PayerEmail        string
	BackURL           string
}

type Preapproval struct {
	ID                string
	Status            string
	ExternalReference string
	InitPoint         string
	PlanName          string
	Amount            float64
	Currency          string
}
