package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hackgods/clinic-booking/internal/api"
	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/db"
	"github.com/hackgods/clinic-booking/internal/logging"
	"github.com/hackgods/clinic-booking/internal/metrics"
	"github.com/hackgods/clinic-booking/internal/payment"
	"github.com/hackgods/clinic-booking/internal/payment/mercadopago"
	redisclient "github.com/hackgods/clinic-booking/internal/redis"
	"github.com/hackgods/clinic-booking/internal/schedule"
	"github.com/hackgods/clinic-booking/internal/webhook"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.New(config.EnvDev, "info", "api-server")
		bootLog.Fatal().Err(err).Msg("config load error")
	}
	log := logging.New(cfg.Env, cfg.LogLevel, "api-server")
	log.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Str("version", version).Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	log.Info().Msg("connected to Postgres")

	// Redis only narrows contention, so the server still starts without it.
	var locker redisclient.Locker = redisclient.NoopLocker{}
	var redisCheck api.Check
	rdb, err := redisclient.NewRedisClient(rootCtx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		log.Warn().Err(err).Msg("redis unavailable, booking locks disabled")
	} else {
		defer func() {
			if err := rdb.Close(); err != nil {
				log.Error().Err(err).Msg("error closing redis")
			}
		}()
		locker = redisclient.NewRedisDoctorDayLocker(rdb, cfg.LockTTL, redisclient.WithWait(cfg.LockWait))
		redisCheck = redisclient.Ping(rdb)
		log.Info().Msg("connected to Redis")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	if cfg.MercadoPago.AccessToken == "" {
		log.Warn().Msg("MP_ACCESS_TOKEN not set, payment gateway calls will be rejected")
	}
	gateway := mercadopago.NewClient(mercadopago.Options{
		BaseURL:         cfg.MercadoPago.BaseURL,
		AccessToken:     cfg.MercadoPago.AccessToken,
		NotificationURL: cfg.MercadoPago.NotificationURL,
		MaxRetries:      cfg.MercadoPago.MaxRetries,
	})

	txRunner := db.NewTxRunner(pgPool)
	apptRepo := appointment.NewPgRepository()
	payRepo := payment.NewPgRepository()
	hours := schedule.NewPgHoursStore()

	svc := appointment.NewService(appointment.Deps{
		DB:        pgPool,
		Tx:        txRunner,
		Repo:      apptRepo,
		Payments:  payRepo,
		Validator: schedule.NewValidator(hours, apptRepo),
		Locker:    locker,
		Gateway:   gateway,
		Metrics:   m,
		Logger:    log,
	}, cfg)

	reconciler := webhook.NewReconciler(webhook.ReconcilerDeps{
		Gateway:       gateway,
		Tx:            txRunner,
		Payments:      payRepo,
		Subscriptions: payRepo,
		Appointments:  apptRepo,
		Ledger:        svc.Ledger(),
		Logger:        log,
	})
	svc.SetCharges(reconciler)

	ingestor := webhook.NewIngestor(webhook.IngestorDeps{
		DB:          pgPool,
		Tx:          txRunner,
		Ledger:      webhook.NewPgLedger(),
		Applier:     reconciler,
		MaxAttempts: cfg.Webhook.MaxAttempts,
		Metrics:     m,
		Logger:      log,
	})
	if cfg.Webhook.Secret == "" {
		log.Warn().Msg("MP_WEBHOOK_SECRET not set, webhook signatures are not verified")
	}

	router := api.NewRouter(api.RouterConfig{
		Appointments:     svc,
		Subscriptions:    payment.NewSubscriptionService(pgPool, payRepo, gateway, log),
		Hours:            hours,
		DB:               pgPool,
		DefaultDoctor:    cfg.DefaultDoctorID,
		Webhooks:         api.NewWebhookHandler(webhook.NewVerifier(cfg.Webhook.Secret, cfg.Webhook.SignatureTolerance), ingestor, cfg.IsProduction(), m, log),
		WebhookRateLimit: cfg.Webhook.RateLimit,
		WebhookRateBurst: cfg.Webhook.RateBurst,
		Health: api.NewHealthHandler(
			func(ctx context.Context) error { return pgPool.Ping(ctx) },
			redisCheck,
			cfg.Env, version,
		),
		Gatherer:           registry,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		Logger:             log,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-rootCtx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("http server error")
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
		os.Exit(1)
	}
	log.Info().Msg("api-server stopped")
}
