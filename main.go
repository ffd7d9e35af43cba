package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"infomail/config"
	"infomail/database"
	"infomail/handlers"
	"infomail/livelog"
	"infomail/mailer"
	"infomail/secret"
	"infomail/services"
	"infomail/utils"
)

func main() {
	zl, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Error creating logger: %v", err)
	}
	defer zl.Sync()
	logger := zl.Sugar()

	// Load configuration from .env
	cfg, err := config.LoadConfig(logger)
	if err != nil {
		logger.Fatalw("Error loading configuration", "error", err)
	}

	dsn := database.WithTimeZone(cfg.DatabaseURL, cfg.Location.String())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	db, err := database.InitDB(ctx, dsn, logger)
	cancel()
	if err != nil {
		logger.Fatalw("Error connecting to database", "error", err)
	}
	defer db.Close()

	if err := database.ApplyMigrations(dsn, cfg.MigrationsPath, logger); err != nil {
		logger.Fatalw("Error applying database migrations", "error", err)
	}

	box, err := secret.NewBox(cfg.CredentialKey)
	if err != nil {
		logger.Fatalw("Error initializing credential encryption", "error", err)
	}

	store := database.NewStore(db)
	credentialStore := database.NewCredentialStore(store, box)
	transport := mailer.NewSMTPTransport(cfg, logger)
	hub := livelog.NewHub(logger)

	credentials := services.NewCredentialService(credentialStore, transport, logger)
	assignments := services.NewAssignmentService(store, logger)
	quota := services.NewQuotaService(store, cfg.Location, logger)
	dispatch := services.NewDispatchService(store, credentials, assignments, quota, transport, hub, services.DispatchOptions{
		MaxAttachmentBytes: cfg.MaxAttachmentBytes,
		EnforceQuota:       cfg.QuotaEnforce,
		Location:           cfg.Location,
	}, logger)

	sendLimiter := utils.NewRateLimiter(utils.RateLimiterConfig{
		Rate:  cfg.SendRatePerSecond,
		Burst: cfg.SendRateBurst,
	})
	defer sendLimiter.Stop()

	router := handlers.NewRouter(handlers.Dependencies{
		Dispatch:    dispatch,
		Quota:       quota,
		Credentials: credentials,
		Targets:     assignments,
		Stats:       utils.NewStats(db, cfg.Location),
		Hub:         hub,
		SendLimiter: sendLimiter,
		JWTSecret:   cfg.JWTSecret,
		KeepAlive:   cfg.StreamKeepAlive,
		Ping:        db.PingContext,
		Logger:      logger,
	})

	// Canceled on shutdown so open live log streams end.
	baseCtx, stopStreams := context.WithCancel(context.Background())
	defer stopStreams()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infow("Server starting", "port", cfg.Port, "timezone", cfg.Location.String())
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("Shutting down server...")
		stopStreams()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Errorw("Server shutdown failed", "error", err)
		}
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalw("Server failed", "error", err)
		}
	}
}
