// Package paymenttest provides a scriptable payment.Gateway for tests.
package paymenttest

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/hackgods/clinic-booking/internal/payment"
)

// Gateway records calls and serves canned gateway objects. Unset objects
// are reported as payment.ErrGatewayUnavailable.
type Gateway struct {
	mu sync.Mutex

	PreferenceErr  error
	ChargeErr      error
	ChargeStatus   string
	PreapprovalErr error

	payments     map[string]payment.GatewayPayment
	authorized   map[string]payment.GatewayPayment
	preapprovals map[string]payment.Preapproval

	Preferences []payment.PreferenceRequest
	Charges     []payment.CardChargeRequest
	Created     []payment.PreapprovalRequest
	Fetches     int
	seq         int
}

func New() *Gateway {
	return &Gateway{
		ChargeStatus: "approved",
		payments:     map[string]payment.GatewayPayment{},
		authorized:   map[string]payment.GatewayPayment{},
		preapprovals: map[string]payment.Preapproval{},
	}
}

var _ payment.Gateway = (*Gateway)(nil)

func (g *Gateway) PutPayment(p payment.GatewayPayment) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.payments[p.ID] = p
}

func (g *Gateway) PutAuthorizedPayment(id string, p payment.GatewayPayment) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.authorized[id] = p
}

func (g *Gateway) PutPreapproval(p payment.Preapproval) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.preapprovals[p.ID] = p
}

func (g *Gateway) nextID() string {
	g.seq++
	return strconv.Itoa(1000 + g.seq)
}

func (g *Gateway) CreatePreference(_ context.Context, req payment.PreferenceRequest) (payment.Preference, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Preferences = append(g.Preferences, req)
	if g.PreferenceErr != nil {
		return payment.Preference{}, g.PreferenceErr
	}
	id := "pref-" + g.nextID()
	return payment.Preference{ID: id, InitPoint: "https://checkout.test/" + id}, nil
}

func (g *Gateway) ChargeCard(_ context.Context, req payment.CardChargeRequest) (payment.GatewayPayment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Charges = append(g.Charges, req)
	if g.ChargeErr != nil {
		return payment.GatewayPayment{}, g.ChargeErr
	}
	gp := payment.GatewayPayment{
		ID:                g.nextID(),
		Status:            g.ChargeStatus,
		ExternalReference: req.ExternalReference,
		Amount:            req.Amount,
	}
	g.payments[gp.ID] = gp
	return gp, nil
}

func (g *Gateway) GetPayment(_ context.Context, id string) (payment.GatewayPayment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Fetches++
	gp, ok := g.payments[id]
	if !ok {
		return payment.GatewayPayment{}, fmt.Errorf("%w: payment %s", payment.ErrGatewayUnavailable, id)
	}
	return gp, nil
}

func (g *Gateway) GetAuthorizedPayment(_ context.Context, id string) (payment.GatewayPayment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Fetches++
	gp, ok := g.authorized[id]
	if !ok {
		return payment.GatewayPayment{}, fmt.Errorf("%w: authorized payment %s", payment.ErrGatewayUnavailable, id)
	}
	return gp, nil
}

func (g *Gateway) CreatePreapproval(_ context.Context, req payment.PreapprovalRequest) (payment.Preapproval, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Created = append(g.Created, req)
	if g.PreapprovalErr != nil {
		return payment.Preapproval{}, g.PreapprovalErr
	}
	pre := payment.Preapproval{
		ID:                "pre-" + g.nextID(),
		Status:            "pending",
		ExternalReference: req.ExternalReference,
		InitPoint:         "https://checkout.test/subscriptions/" + req.ExternalReference,
		PlanName:          req.PlanName,
		Amount:            req.Amount,
		Currency:          req.Currency,
	}
	g.preapprovals[pre.ID] = pre
	return pre, nil
}

func (g *Gateway) GetPreapproval(_ context.Context, id string) (payment.Preapproval, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Fetches++
	pre, ok := g.preapprovals[id]
	if !ok {
		return payment.Preapproval{}, fmt.Errorf("%w: preapproval %s", payment.ErrGatewayUnavailable, id)
	}
	return pre, nil
}
