package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carelog/authcore/internal/auth"
	"github.com/carelog/authcore/internal/config"
	"github.com/carelog/authcore/internal/database"
	"github.com/carelog/authcore/internal/handler"
	"github.com/carelog/authcore/internal/logger"
	"github.com/carelog/authcore/internal/metrics"
	"github.com/carelog/authcore/internal/middleware"
	"github.com/carelog/authcore/internal/repository"
	"github.com/carelog/authcore/internal/router"
	"github.com/carelog/authcore/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	log.Info().Str("version", handler.Version).Msg("starting authcore server")

	// Connect to PostgreSQL
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("connected to PostgreSQL")

	// Connect to Redis
	rdb, err := database.NewRedis(cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	defer rdb.Close()
	log.Info().Msg("connected to Redis")

	m := metrics.New()

	// Initialize repositories
	userRepo := repository.NewUserRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	var denylist auth.Denylist
	if cfg.Security.Revocation.Enabled {
		denylist = repository.NewRevocationRepository(rdb)
	} else {
		log.Warn().Msg("token revocation disabled; logout will not invalidate access tokens")
	}

	tokenSvc, err := auth.NewTokenService(cfg.Security.Tokens)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize token service")
	}
	log.Info().
		Dur("access_ttl", tokenSvc.AccessTokenTTL()).
		Dur("inactivity_timeout", tokenSvc.InactivityTimeout()).
		Msg("token service initialized")

	signer, err := auth.NewAuditSigner(cfg.Audit.Secret)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize audit signer")
	}
	hasher := auth.NewPasswordHasher(cfg.Security.Password)

	// Initialize services
	auditSvc := service.NewAuditService(auditRepo, signer, cfg.Audit, m, log)
	sessionSvc := service.NewSessionService(userRepo, tokenSvc, hasher, auditSvc, denylist, rdb, m, log)

	h := handler.New(db, rdb, log, cfg, sessionSvc, auditSvc, m)
	mw := middleware.New(rdb, log, cfg)
	r := router.New(h, mw, sessionSvc, m)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Bool("tls", cfg.Server.TLS.Enabled).Msg("HTTP server listening")
		var err error
		if cfg.Server.TLS.Enabled {
			err = srv.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
