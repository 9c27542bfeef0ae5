package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/db"
	"github.com/hackgods/clinic-booking/internal/payment"
)

type RouterConfig struct {
	Appointments  *appointment.Service
	Subscriptions *payment.SubscriptionService
	Hours         HoursStore
	DB            db.Querier
	DefaultDoctor uuid.UUID

	Webhooks         *WebhookHandler
	WebhookRateLimit float64
	WebhookRateBurst int

	Health   *HealthHandler
	Gatherer prometheus.Gatherer

	CORSAllowedOrigins []string
	Logger             zerolog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	log := cfg.Logger

	origins := cfg.CORSAllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID", "X-User-ID", "X-User-Role"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(log))

	if cfg.Health != nil {
		r.Get("/health/live", cfg.Health.Liveness)
		r.Get("/health/ready", cfg.Health.Readiness)
	}
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	if cfg.Webhooks != nil {
		r.With(RateLimitMiddleware(cfg.WebhookRateLimit, cfg.WebhookRateBurst)).
			Post("/webhooks/mercado-pago", cfg.Webhooks.MercadoPago)
	}

	r.Route("/business-hours", func(r chi.Router) {
		r.Get("/available-slots", availableSlotsHandler(cfg.Appointments, log))
		if cfg.Hours != nil {
			r.Get("/", getBusinessHoursHandler(cfg.Hours, cfg.DB, cfg.DefaultDoctor, log))
			r.With(IdentityMiddleware, RequireStaff).
				Put("/", putBusinessHoursHandler(cfg.Hours, cfg.DB, cfg.DefaultDoctor, log))
		}
	})

	r.Route("/appointments", func(r chi.Router) {
		r.Use(IdentityMiddleware)
		r.Post("/", createAppointmentHandler(cfg.Appointments, log))
		r.Get("/", listAppointmentsHandler(cfg.Appointments, log))
		r.Get("/{id}", getAppointmentHandler(cfg.Appointments, log))
		r.Put("/{id}", updateAppointmentHandler(cfg.Appointments, log))
		r.Delete("/{id}", cancelAppointmentHandler(cfg.Appointments, log))
		r.Post("/{id}/complete", completeAppointmentHandler(cfg.Appointments, log))
	})

	if cfg.Subscriptions != nil {
		r.Route("/subscriptions", func(r chi.Router) {
			r.Use(IdentityMiddleware)
			r.Post("/", subscribeHandler(cfg.Subscriptions, log))
			r.Get("/me", mySubscriptionHandler(cfg.Subscriptions, log))
		})
	}

	return r
}
