package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/memstore"
	"github.com/hackgods/clinic-booking/internal/metrics"
	"github.com/hackgods/clinic-booking/internal/payment"
	"github.com/hackgods/clinic-booking/internal/payment/paymenttest"
	"github.com/hackgods/clinic-booking/internal/schedule"
	"github.com/hackgods/clinic-booking/internal/webhook"
)

const webhookSecret = "whsec-test"

type testServer struct {
	handler  http.Handler
	store    *memstore.Store
	gateway  *paymenttest.Gateway
	doctorID uuid.UUID
	userID   uuid.UUID
}

type serverOptions struct {
	secret     string
	production bool
	rateLimit  float64
	rateBurst  int
}

func newTestServer(t *testing.T, opts serverOptions) *testServer {
	t.Helper()

	store := memstore.New()
	doctorID := uuid.New()
	store.PutHours(schedule.BusinessHours{
		DoctorID:            doctorID,
		StartTime:           schedule.MustClock("08:00"),
		EndTime:             schedule.MustClock("18:00"),
		LunchBreakEnabled:   true,
		LunchStartTime:      schedule.MustClock("12:00"),
		LunchEndTime:        schedule.MustClock("13:00"),
		Weekdays:            [7]bool{false, true, true, true, true, true, false},
		AppointmentDuration: 30,
	})

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	gw := paymenttest.New()
	log := zerolog.Nop()

	svc := appointment.NewService(appointment.Deps{
		Tx:        store,
		Repo:      store.Appointments(),
		Payments:  store.Payments(),
		Validator: schedule.NewValidator(store.Hours(), store.Appointments()),
		Gateway:   gw,
		Metrics:   m,
		Logger:    log,
	}, config.Config{
		PaymentTimeout:     10 * time.Minute,
		CancellationCutoff: 24 * time.Hour,
		ClinicLocation:     time.UTC,
		DefaultDoctorID:    doctorID,
	})
	reconciler := webhook.NewReconciler(webhook.ReconcilerDeps{
		Gateway:       gw,
		Tx:            store,
		Payments:      store.Payments(),
		Subscriptions: store.Payments(),
		Appointments:  store.Appointments(),
		Ledger:        svc.Ledger(),
		Logger:        log,
	})
	ingestor := webhook.NewIngestor(webhook.IngestorDeps{
		Tx:      store,
		Ledger:  store.Events(),
		Applier: reconciler,
		Metrics: m,
		Logger:  log,
	})

	handler := NewRouter(RouterConfig{
		Appointments:     svc,
		Subscriptions:    payment.NewSubscriptionService(nil, store.Payments(), gw, log),
		Hours:            store.Hours(),
		DefaultDoctor:    doctorID,
		Webhooks:         NewWebhookHandler(webhook.NewVerifier(opts.secret, 0), ingestor, opts.production, m, log),
		WebhookRateLimit: opts.rateLimit,
		WebhookRateBurst: opts.rateBurst,
		Health: NewHealthHandler(
			func(context.Context) error { return nil },
			func(context.Context) error { return errors.New("redis down") },
			"test", "v0.0.1",
		),
		Gatherer: reg,
		Logger:   log,
	})

	return &testServer{handler: handler, store: store, gateway: gw, doctorID: doctorID, userID: uuid.New()}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) as(role string) map[string]string {
	return map[string]string{"X-User-ID": s.userID.String(), "X-User-Role": role}
}

func bookBody(start, end string) map[string]any {
	return map[string]any{
		"date":        "2026-03-02",
		"startTime":   start,
		"endTime":     end,
		"type":        "GENERAL",
		"patientName": "Ana Souza",
		"amount":      150,
	}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestCreateAppointmentRequiresIdentity(t *testing.T) {
	s := newTestServer(t, serverOptions{})

	rec := s.do(t, http.MethodPost, "/appointments", bookBody("09:00", "09:30"), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/appointments", bookBody("09:00", "09:30"),
		map[string]string{"X-User-ID": uuid.NewString(), "X-User-Role": "superuser"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateAppointment(t *testing.T) {
	s := newTestServer(t, serverOptions{})

	rec := s.do(t, http.MethodPost, "/appointments", bookBody("09:00", "09:30"), s.as("patient"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	resp := decode[BookingResponse](t, rec)
	assert.Equal(t, "PENDING", resp.Appointment.Status)
	assert.Equal(t, "2026-03-02", resp.Appointment.Date)
	assert.Equal(t, schedule.MustClock("09:00"), resp.Appointment.StartTime)
	require.NotNil(t, resp.Payment)
	assert.Equal(t, "PENDING", resp.Payment.Status)
	assert.NotEmpty(t, resp.CheckoutURL)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestCreateAppointmentRejections(t *testing.T) {
	s := newTestServer(t, serverOptions{})
	rec := s.do(t, http.MethodPost, "/appointments", bookBody("09:00", "09:30"), s.as("patient"))
	require.Equal(t, http.StatusCreated, rec.Code)

	unknownDoctor := bookBody("09:00", "09:30")
	unknownDoctor["doctorId"] = uuid.NewString()
	badDate := bookBody("09:00", "09:30")
	badDate["date"] = "02/03/2026"
	sunday := bookBody("09:00", "09:30")
	sunday["date"] = "2026-03-01"

	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{"overlap", bookBody("09:15", "09:45"), http.StatusConflict, "time_unavailable"},
		{"lunch", bookBody("12:30", "13:00"), http.StatusConflict, "lunch_conflict"},
		{"outside hours", bookBody("18:00", "18:30"), http.StatusConflict, "outside_operating_hours"},
		{"disabled weekday", sunday, http.StatusConflict, "day_unavailable"},
		{"duration", bookBody("10:00", "11:00"), http.StatusBadRequest, "duration_mismatch"},
		{"bad date", badDate, http.StatusBadRequest, "invalid_date"},
		{"bad time", bookBody("9h", "09:30"), http.StatusBadRequest, "invalid_time"},
		{"no business hours", unknownDoctor, http.StatusServiceUnavailable, "business_hours_unavailable"},
		{"malformed body", `{"date":`, http.StatusBadRequest, "invalid_request_body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/appointments", tt.body, s.as("patient"))
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decode[ErrorResponse](t, rec).Error)
		})
	}

	rec = s.do(t, http.MethodPost, "/appointments", bookBody("10:00", "11:00"), s.as("patient"))
	details := decode[ErrorResponse](t, rec).Details.(map[string]any)
	assert.EqualValues(t, 30, details["expectedDuration"])
}

func TestCancelAndUpdateAppointment(t *testing.T) {
	s := newTestServer(t, serverOptions{})
	rec := s.do(t, http.MethodPost, "/appointments", bookBody("09:00", "09:30"), s.as("patient"))
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode[BookingResponse](t, rec).Appointment.ID
	path := "/appointments/" + id.String()

	rec = s.do(t, http.MethodPut, path, map[string]string{"startTime": "09:30", "endTime": "10:00"}, s.as("patient"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, schedule.MustClock("09:30"), decode[AppointmentResponse](t, rec).StartTime)

	other := map[string]string{"X-User-ID": uuid.NewString(), "X-User-Role": "patient"}
	rec = s.do(t, http.MethodDelete, path, nil, other)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodDelete, path, map[string]string{"note": "travel"}, s.as("patient"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "CANCELLED", decode[AppointmentResponse](t, rec).Status)

	rec = s.do(t, http.MethodDelete, path, nil, s.as("patient"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, s.store.History(), 1)

	rec = s.do(t, http.MethodPut, path, map[string]string{"notes": "x"}, s.as("patient"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "already_cancelled", decode[ErrorResponse](t, rec).Error)

	rec = s.do(t, http.MethodGet, "/appointments/"+uuid.NewString(), nil, s.as("patient"))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/appointments/not-a-uuid", nil, s.as("patient"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListAndCompleteAppointments(t *testing.T) {
	s := newTestServer(t, serverOptions{})
	rec := s.do(t, http.MethodPost, "/appointments", bookBody("09:00", "09:30"), s.as("patient"))
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode[BookingResponse](t, rec).Appointment.ID

	rec = s.do(t, http.MethodGet, "/appointments?limit=5", nil, s.as("patient"))
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[AppointmentListResponse](t, rec)
	require.Len(t, list.Appointments, 1)
	assert.Equal(t, 5, list.Limit)

	rec = s.do(t, http.MethodGet, "/appointments?limit=-1", nil, s.as("patient"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/appointments/"+id.String()+"/complete", nil, s.as("patient"))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPost, "/appointments/"+id.String()+"/complete", nil, s.as("doctor"))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_status_transition", decode[ErrorResponse](t, rec).Error)
}

func TestPaymentSetupFailureIsBadGateway(t *testing.T) {
	s := newTestServer(t, serverOptions{})
	s.gateway.PreferenceErr = payment.ErrGatewayUnavailable

	rec := s.do(t, http.MethodPost, "/appointments", bookBody("09:00", "09:30"), s.as("patient"))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "payment_setup_failed", decode[ErrorResponse](t, rec).Error)
}

func TestAvailableSlots(t *testing.T) {
	s := newTestServer(t, serverOptions{})
	rec := s.do(t, http.MethodPost, "/appointments", bookBody("08:00", "08:30"), s.as("patient"))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(t, http.MethodGet, "/business-hours/available-slots?date=2026-03-02", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[AvailableSlotsResponse](t, rec)
	require.Len(t, resp.Slots, 17)
	assert.Equal(t, schedule.MustClock("08:30"), resp.Slots[0])
	assert.NotContains(t, resp.Slots, schedule.MustClock("12:00"))

	rec = s.do(t, http.MethodGet, "/business-hours/available-slots?date=2026-03-02&doctorId=nope", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBusinessHoursEndpoints(t *testing.T) {
	s := newTestServer(t, serverOptions{})

	rec := s.do(t, http.MethodGet, "/business-hours?doctorId="+s.doctorID.String(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[BusinessHoursResponse](t, rec)
	assert.True(t, got.Monday)
	assert.False(t, got.Sunday)
	assert.Equal(t, 30, got.AppointmentDuration)

	body := map[string]any{
		"startTime":           "09:00",
		"endTime":             "17:00",
		"saturday":            true,
		"appointmentDuration": 60,
	}
	rec = s.do(t, http.MethodPut, "/business-hours", body, s.as("patient"))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPut, "/business-hours", body, s.as("admin"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got = decode[BusinessHoursResponse](t, rec)
	assert.True(t, got.Saturday)
	assert.False(t, got.Monday)
	assert.Equal(t, s.doctorID, got.DoctorID)

	body["endTime"] = "08:00"
	rec = s.do(t, http.MethodPut, "/business-hours", body, s.as("doctor"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_business_hours", decode[ErrorResponse](t, rec).Error)

	rec = s.do(t, http.MethodGet, "/business-hours?doctorId="+uuid.NewString(), nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubscriptionEndpoints(t *testing.T) {
	s := newTestServer(t, serverOptions{})

	rec := s.do(t, http.MethodGet, "/subscriptions/me", nil, s.as("patient"))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/subscriptions", map[string]any{
		"planName":   "Monthly care",
		"amount":     89.9,
		"payerEmail": "ana@example.com",
	}, s.as("patient"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[SubscriptionResponse](t, rec)
	assert.Equal(t, "INACTIVE", created.Status)
	assert.NotEmpty(t, created.InitPoint)

	rec = s.do(t, http.MethodGet, "/subscriptions/me", nil, s.as("patient"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, created.ID, decode[SubscriptionResponse](t, rec).ID)

	rec = s.do(t, http.MethodPost, "/subscriptions", map[string]any{"planName": "x"}, s.as("patient"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func signedWebhook(secret, dataID, requestID string) map[string]string {
	return map[string]string{
		"x-signature":  webhook.SignatureHeader(secret, dataID, requestID, time.Now().Unix()),
		"x-request-id": requestID,
		"Content-Type": "application/json",
	}
}

func TestWebhookAppliesSignedNotification(t *testing.T) {
	s := newTestServer(t, serverOptions{secret: webhookSecret})
	rec := s.do(t, http.MethodPost, "/appointments", bookBody("09:00", "09:30"), s.as("patient"))
	require.Equal(t, http.StatusCreated, rec.Code)
	booked := decode[BookingResponse](t, rec)
	s.gateway.PutPayment(payment.GatewayPayment{ID: "777", Status: "approved", ExternalReference: booked.Appointment.ID.String()})

	body := `{"id":"evt_1","type":"payment","action":"payment.updated","data":{"id":"777"}}`
	rec = s.do(t, http.MethodPost, "/webhooks/mercado-pago?data.id=777&type=payment", body, signedWebhook(webhookSecret, "777", "req-1"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "applied", decode[map[string]string](t, rec)["status"])

	appt, ok := s.store.Appointment(booked.Appointment.ID)
	require.True(t, ok)
	assert.Equal(t, appointment.StatusConfirmed, appt.Status)

	rec = s.do(t, http.MethodPost, "/webhooks/mercado-pago", body, signedWebhook(webhookSecret, "777", "req-2"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "duplicate", decode[map[string]string](t, rec)["status"])
}

func TestWebhookRejectsBadSignatureWithoutLedgerRow(t *testing.T) {
	s := newTestServer(t, serverOptions{secret: webhookSecret})
	body := `{"id":"evt_1","type":"payment","action":"payment.updated","data":{"id":"777"}}`

	rec := s.do(t, http.MethodPost, "/webhooks/mercado-pago", body, signedWebhook("wrong-secret", "777", "req-1"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_signature", decode[ErrorResponse](t, rec).Error)

	rec = s.do(t, http.MethodPost, "/webhooks/mercado-pago", body, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "missing_signature", decode[ErrorResponse](t, rec).Error)

	assert.Zero(t, s.store.EventCount())
}

func TestWebhookRejectsBodyForDifferentResource(t *testing.T) {
	s := newTestServer(t, serverOptions{secret: webhookSecret})
	rec := s.do(t, http.MethodPost, "/appointments", bookBody("09:00", "09:30"), s.as("patient"))
	require.Equal(t, http.StatusCreated, rec.Code)
	booked := decode[BookingResponse](t, rec)
	s.gateway.PutPayment(payment.GatewayPayment{ID: "999", Status: "approved", ExternalReference: booked.Appointment.ID.String()})

	// Signed for 111, but the body points at 999.
	body := `{"id":"evt_x","type":"payment","action":"payment.updated","data":{"id":"999"}}`
	rec = s.do(t, http.MethodPost, "/webhooks/mercado-pago?data.id=111&type=payment", body, signedWebhook(webhookSecret, "111", "req-1"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "data_id_mismatch", decode[ErrorResponse](t, rec).Error)

	appt, ok := s.store.Appointment(booked.Appointment.ID)
	require.True(t, ok)
	assert.Equal(t, appointment.StatusPending, appt.Status)
	assert.Zero(t, s.store.EventCount())

	body = `{"id":"evt_y","type":"payment","action":"payment.updated","data":{"id":"ABC"}}`
	s.gateway.PutPayment(payment.GatewayPayment{ID: "ABC", Status: "pending", ExternalReference: booked.Appointment.ID.String()})
	rec = s.do(t, http.MethodPost, "/webhooks/mercado-pago?data.id=abc&type=payment", body, signedWebhook(webhookSecret, "abc", "req-2"))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestWebhookWithoutSecret(t *testing.T) {
	body := `{"id":"evt_9","type":"merchant_order","action":"created","data":{"id":"1"}}`

	prod := newTestServer(t, serverOptions{production: true})
	rec := prod.do(t, http.MethodPost, "/webhooks/mercado-pago", body, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "webhook_not_configured", decode[ErrorResponse](t, rec).Error)
	assert.Zero(t, prod.store.EventCount())

	dev := newTestServer(t, serverOptions{})
	rec = dev.do(t, http.MethodPost, "/webhooks/mercado-pago", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ignored", decode[map[string]string](t, rec)["status"])
}

func TestWebhookGatewayFailureIsRetriable(t *testing.T) {
	s := newTestServer(t, serverOptions{secret: webhookSecret})
	body := `{"id":"evt_2","type":"payment","action":"payment.updated","data":{"id":"404"}}`

	rec := s.do(t, http.MethodPost, "/webhooks/mercado-pago", body, signedWebhook(webhookSecret, "404", "req-1"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	ev, ok := s.store.Event("evt_2")
	require.True(t, ok)
	assert.Equal(t, 1, ev.Attempts)
	require.NotNil(t, ev.LastError)
}

func TestWebhookMalformedEnvelope(t *testing.T) {
	s := newTestServer(t, serverOptions{})
	rec := s.do(t, http.MethodPost, "/webhooks/mercado-pago", `{"action":"x"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, s.store.EventCount())
}

func TestWebhookRateLimit(t *testing.T) {
	s := newTestServer(t, serverOptions{rateLimit: 0.001, rateBurst: 1})
	body := `{"id":"evt_3","type":"merchant_order","action":"created","data":{"id":"1"}}`

	rec := s.do(t, http.MethodPost, "/webhooks/mercado-pago", body, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(t, http.MethodPost, "/webhooks/mercado-pago", body, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, serverOptions{})

	rec := s.do(t, http.MethodGet, "/health/live", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/health/ready", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ready := decode[ReadinessResponse](t, rec)
	assert.Equal(t, "degraded", ready.Status)
	assert.Equal(t, "down", ready.Dependencies["redis"])

	s.do(t, http.MethodPost, "/appointments", bookBody("09:00", "09:30"), s.as("patient"))
	rec = s.do(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `clinic_booking_attempts_total{result="accepted"} 1`)
}

func TestReadinessFailsWithoutPostgres(t *testing.T) {
	h := NewHealthHandler(func(context.Context) error { return errors.New("down") }, nil, "test", "")
	rec := httptest.NewRecorder()
	h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	_, hasRedis := decode[ReadinessResponse](t, rec).Dependencies["redis"]
	assert.False(t, hasRedis)
}
