package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/metrics"
	"github.com/hackgods/clinic-booking/internal/webhook"
)

// Ingestor consumes authenticated gateway notifications.
type Ingestor interface {
	Ingest(ctx context.Context, env webhook.Envelope) (webhook.Outcome, error)
}

type WebhookHandler struct {
	verifier   *webhook.Verifier
	ingestor   Ingestor
	production bool
	metrics    *metrics.Metrics
	log        zerolog.Logger
}

func NewWebhookHandler(verifier *webhook.Verifier, ingestor Ingestor, production bool, m *metrics.Metrics, log zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{
		verifier:   verifier,
		ingestor:   ingestor,
		production: production,
		metrics:    m,
		log:        log.With().Str("component", "webhook_http").Logger(),
	}
}

// MercadoPago authenticates the request before the body is trusted, then
// hands the envelope to the ingestor. Only internal faults are reported as
// 5xx so the gateway retries them.
func (h *WebhookHandler) MercadoPago(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	log := h.log.With().Str("request_id", GetRequestID(r.Context())).Logger()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", nil)
		return
	}

	queryID := r.URL.Query().Get("data.id")
	dataID := queryID
	if dataID == "" {
		dataID = webhook.PeekDataID(body)
	}

	switch {
	case h.verifier == nil || !h.verifier.Enabled():
		if h.production {
			log.Error().Bool("alert", true).Msg("webhook secret not configured")
			writeError(w, http.StatusServiceUnavailable, "webhook_not_configured", nil)
			return
		}
		log.Warn().Msg("webhook signature verification disabled, no secret configured")
	default:
		err := h.verifier.Verify(r.Header.Get("x-signature"), r.Header.Get("x-request-id"), dataID)
		if err != nil {
			h.metrics.ObserveWebhook(string(webhook.KindUnknown), "unauthorized", time.Since(start).Seconds())
			log.Warn().Err(err).Msg("webhook signature rejected")
			code := "invalid_signature"
			if errors.Is(err, webhook.ErrMissingSignature) {
				code = "missing_signature"
			}
			writeError(w, http.StatusUnauthorized, code, nil)
			return
		}
	}

	env, err := webhook.DecodeEnvelope(body)
	if err != nil {
		log.Warn().Err(err).Msg("malformed webhook envelope")
		writeError(w, http.StatusBadRequest, "invalid_envelope", nil)
		return
	}
	// The signature covers the query id, so the body must name the same resource.
	if queryID != "" && !strings.EqualFold(queryID, env.DataID()) {
		h.metrics.ObserveWebhook(string(env.Kind()), "unauthorized", time.Since(start).Seconds())
		log.Warn().Str("query_data_id", queryID).Str("body_data_id", env.DataID()).Msg("webhook data id mismatch")
		writeError(w, http.StatusUnauthorized, "data_id_mismatch", nil)
		return
	}

	outcome, err := h.ingestor.Ingest(r.Context(), env)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "webhook_processing_failed", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(outcome)})
}
