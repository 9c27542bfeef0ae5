// Package mercadopago is the REST adapter for the Mercado Pago API.
package mercadopago

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/hackgods/clinic-booking/internal/payment"
)

const (
	DefaultBaseURL = "https://api.mercadopago.com"
	defaultTimeout = 10 * time.Second
)

// APIError is a non-2xx answer from the API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mercadopago: status %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether the call may succeed if retried.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

type Client struct {
	baseURL         string
	accessToken     string
	notificationURL string
	maxTries        uint
	httpClient      *http.Client
	newBackOff      func() backoff.BackOff
}

type Options struct {
	BaseURL         string
	AccessToken     string
	NotificationURL string
	MaxRetries      int
	HTTPClient      *http.Client
}

func NewClient(opts Options) *Client {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	tries := uint(1)
	if opts.MaxRetries > 0 {
		tries += uint(opts.MaxRetries)
	}
	return &Client{
		baseURL:         base,
		accessToken:     opts.AccessToken,
		notificationURL: opts.NotificationURL,
		maxTries:        tries,
		httpClient:      httpClient,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		},
	}
}

var _ payment.Gateway = (*Client)(nil)

// flexID accepts ids the API sends either as JSON numbers or strings.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

type payerJSON struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone *struct {
		Number string `json:"number"`
	} `json:"phone,omitempty"`
}

func toPayer(p payment.Payer) *payerJSON {
	if p.Name == "" && p.Email == "" && p.Phone == "" {
		return nil
	}
	out := &payerJSON{Name: p.Name, Email: p.Email}
	if p.Phone != "" {
		out.Phone = &struct {
			Number string `json:"number"`
		}{Number: p.Phone}
	}
	return out
}

type paymentJSON struct {
	ID                flexID     `json:"id"`
	Status            string     `json:"status"`
	StatusDetail      string     `json:"status_detail"`
	ExternalReference string     `json:"external_reference"`
	TransactionAmount float64    `json:"transaction_amount"`
	CurrencyID        string     `json:"currency_id"`
	DateApproved      *time.Time `json:"date_approved"`
	Metadata          struct {
		PreapprovalID string `json:"preapproval_id"`
	} `json:"metadata"`
}

func (p paymentJSON) toDomain() payment.GatewayPayment {
	return payment.GatewayPayment{
		ID:                string(p.ID),
		Status:            p.Status,
		StatusDetail:      p.StatusDetail,
		ExternalReference: p.ExternalReference,
		PreapprovalID:     p.Metadata.PreapprovalID,
		Amount:            p.TransactionAmount,
		Currency:          p.CurrencyID,
		ApprovedAt:        p.DateApproved,
	}
}

type preapprovalJSON struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	ExternalReference string `json:"external_reference"`
	InitPoint         string `json:"init_point"`
	Reason            string `json:"reason"`
	AutoRecurring     struct {
		TransactionAmount float64 `json:"transaction_amount"`
		CurrencyID        string  `json:"currency_id"`
	} `json:"auto_recurring"`
}

func (p preapprovalJSON) toDomain() payment.Preapproval {
	return payment.Preapproval{
		ID:                p.ID,
		Status:            p.Status,
		ExternalReference: p.ExternalReference,
		InitPoint:         p.InitPoint,
		PlanName:          p.Reason,
		Amount:            p.AutoRecurring.TransactionAmount,
		Currency:          p.AutoRecurring.CurrencyID,
	}
}

func (c *Client) CreatePreference(ctx context.Context, req payment.PreferenceRequest) (payment.Preference, error) {
	body := map[string]any{
		"items": []map[string]any{{
			"id":          req.ExternalReference,
			"title":       req.Title,
			"quantity":    1,
			"unit_price":  req.Amount,
			"currency_id": req.Currency,
		}},
		"external_reference": req.ExternalReference,
	}
	if p := toPayer(req.Payer); p != nil {
		body["payer"] = p
	}
	if c.notificationURL != "" {
		body["notification_url"] = c.notificationURL
	}

	var out struct {
		ID        string `json:"id"`
		InitPoint string `json:"init_point"`
	}
	if err := c.do(ctx, http.MethodPost, "/checkout/preferences", body, nil, &out); err != nil {
		return payment.Preference{}, err
	}
	return payment.Preference{ID: out.ID, InitPoint: out.InitPoint}, nil
}

func (c *Client) ChargeCard(ctx context.Context, req payment.CardChargeRequest) (payment.GatewayPayment, error) {
	installments := req.Installments
	if installments <= 0 {
		installments = 1
	}
	body := map[string]any{
		"transaction_amount": req.Amount,
		"token":              req.Token,
		"description":        req.Description,
		"installments":       installments,
		"external_reference": req.ExternalReference,
		"payer":              map[string]any{"email": req.Payer.Email},
	}
	if req.PaymentMethodID != "" {
		body["payment_method_id"] = req.PaymentMethodID
	}
	if c.notificationURL != "" {
		body["notification_url"] = c.notificationURL
	}
	headers := map[string]string{}
	if req.IdempotencyKey != "" {
		headers["X-Idempotency-Key"] = req.IdempotencyKey
	}

	var out paymentJSON
	if err := c.do(ctx, http.MethodPost, "/v1/payments", body, headers, &out); err != nil {
		return payment.GatewayPayment{}, err
	}
	return out.toDomain(), nil
}

func (c *Client) GetPayment(ctx context.Context, id string) (payment.GatewayPayment, error) {
	var out paymentJSON
	if err := c.do(ctx, http.MethodGet, "/v1/payments/"+id, nil, nil, &out); err != nil {
		return payment.GatewayPayment{}, err
	}
	return out.toDomain(), nil
}

type authorizedPaymentJSON struct {
	ID                flexID  `json:"id"`
	PreapprovalID     string  `json:"preapproval_id"`
	ExternalReference string  `json:"external_reference"`
	TransactionAmount float64 `json:"transaction_amount"`
	CurrencyID        string  `json:"currency_id"`
	Payment           struct {
		ID           flexID `json:"id"`
		Status       string `json:"status"`
		StatusDetail string `json:"status_detail"`
	} `json:"payment"`
}

// GetAuthorizedPayment returns the payment behind a subscription charge. The
// result carries the payment id, not the authorized payment id.
func (c *Client) GetAuthorizedPayment(ctx context.Context, id string) (payment.GatewayPayment, error) {
	var out authorizedPaymentJSON
	if err := c.do(ctx, http.MethodGet, "/authorized_payments/"+id, nil, nil, &out); err != nil {
		return payment.GatewayPayment{}, err
	}
	return payment.GatewayPayment{
		ID:                string(out.Payment.ID),
		Status:            out.Payment.Status,
		StatusDetail:      out.Payment.StatusDetail,
		ExternalReference: out.ExternalReference,
		PreapprovalID:     out.PreapprovalID,
		Amount:            out.TransactionAmount,
		Currency:          out.CurrencyID,
	}, nil
}

func (c *Client) CreatePreapproval(ctx context.Context, req payment.PreapprovalRequest) (payment.Preapproval, error) {
	body := map[string]any{
		"reason":             req.PlanName,
		"external_reference": req.ExternalReference,
		"payer_email":        req.PayerEmail,
		"status":             "pending",
		"auto_recurring": map[string]any{
			"frequency":          1,
			"frequency_type":     "months",
			"transaction_amount": req.Amount,
			"currency_id":        req.Currency,
		},
	}
	if req.BackURL != "" {
		body["back_url"] = req.BackURL
	}

	var out preapprovalJSON
	if err := c.do(ctx, http.MethodPost, "/preapproval", body, nil, &out); err != nil {
		return payment.Preapproval{}, err
	}
	return out.toDomain(), nil
}

func (c *Client) GetPreapproval(ctx context.Context, id string) (payment.Preapproval, error) {
	var out preapprovalJSON
	if err := c.do(ctx, http.MethodGet, "/preapproval/"+id, nil, nil, &out); err != nil {
		return payment.Preapproval{}, err
	}
	return out.toDomain(), nil
}

// do sends one API call, retrying transport errors, 429 and 5xx answers.
// Other 4xx answers fail immediately.
func (c *Client) do(ctx context.Context, method, path string, in any, headers map[string]string, out any) error {
	var payload []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("mercadopago: encode %s: %w", path, err)
		}
		payload = b
	}

	op := func() (struct{}, error) {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return struct{}{}, backoff.Permanent(fmt.Errorf("mercadopago: request: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return struct{}{}, fmt.Errorf("%w: %v", payment.ErrGatewayUnavailable, err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return struct{}{}, fmt.Errorf("%w: read body: %v", payment.ErrGatewayUnavailable, err)
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			apiErr := &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
			if !apiErr.Temporary() {
				return struct{}{}, backoff.Permanent(apiErr)
			}
			if secs, convErr := strconv.Atoi(resp.Header.Get("Retry-After")); convErr == nil && secs > 0 {
				return struct{}{}, backoff.RetryAfter(secs)
			}
			return struct{}{}, apiErr
		}

		if out != nil && len(raw) > 0 {
			if err := json.Unmarshal(raw, out); err != nil {
				return struct{}{}, backoff.Permanent(fmt.Errorf("mercadopago: decode %s: %w", path, err))
			}
		}
		return struct{}{}, nil
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(c.maxTries),
	)
	return err
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
