package main

import (
	"context"
	"database/sql"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/dwellos/ssobridge/pkg/auth"
	"github.com/dwellos/ssobridge/pkg/config"
	"github.com/dwellos/ssobridge/pkg/middleware"
	"github.com/dwellos/ssobridge/pkg/observability"
	"github.com/dwellos/ssobridge/pkg/sso"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		observability.NewLogger(observability.ErrorLevel, os.Stderr).
			WithError(err).Error("failed to load configuration")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, os.Stdout)

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		logger.WithError(err).Error("failed to open database")
		os.Exit(1)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		logger.WithError(err).Error("failed to reach database")
		os.Exit(1)
	}

	issuer, err := auth.NewSessionIssuer([]byte(cfg.Auth.SessionSecret))
	if err != nil {
		logger.WithError(err).Error("failed to create session issuer")
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	handlers := sso.NewHandlers(db, issuer, sso.HandlerOptions{
		EntityID:           cfg.SSO.EntityID,
		DefaultRedirectURL: cfg.SSO.DefaultRedirectURL,
		Strategy: sso.StrategyOptions{
			EntityID:        cfg.SSO.EntityID,
			ExchangeTimeout: cfg.SSO.ExchangeTimeout,
		},
		Metrics: metrics,
	})

	health := observability.NewHealthChecker(db)

	router := mux.NewRouter()
	handlers.RegisterRoutes(router)
	router.HandleFunc("/healthz", health.Liveness).Methods(http.MethodGet)
	router.HandleFunc("/readyz", health.Readiness).Methods(http.MethodGet)
	if cfg.MetricsEnabled {
		router.Handle("/metrics", observability.MetricsHandler(registry)).Methods(http.MethodGet)
	}

	var handler http.Handler = router
	handler = middleware.NewAuthMiddleware(issuer).Handler(handler)
	if metrics != nil {
		handler = observability.HTTPMetricsMiddleware(metrics)(handler)
	}
	handler = middleware.RequestLogging(logger)(handler)

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if metrics != nil {
		scheduler := cron.New()
		if _, err := scheduler.AddFunc("@every 15s", func() { metrics.CollectDBStats(db) }); err != nil {
			logger.WithError(err).Error("failed to schedule db stats collection")
			os.Exit(1)
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", server.Addr).Info("sso bridge listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		logger.WithError(err).Error("server stopped")
		os.Exit(1)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("graceful shutdown failed")
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
