package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"talkcart-calls/internal/admission"
	"talkcart-calls/internal/audit"
	"talkcart-calls/internal/auth"
	"talkcart-calls/internal/call"
	"talkcart-calls/internal/config"
	"talkcart-calls/internal/gateway/ws"
	"talkcart-calls/internal/history"
	"talkcart-calls/internal/httpapi"
	"talkcart-calls/internal/registry"
	"talkcart-calls/internal/relay"
	"talkcart-calls/pkg/logger"
	"talkcart-calls/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	// Call stack wiring: ws hub delivers, history archives, registry owns
	// live state, relay forwards signaling, coordinator fronts admission.
	hub := ws.NewHub(log)
	defer hub.Close()

	archiver := history.NewService(history.NewPostgresRepo(db))

	pol := call.Policy{
		RingTimeout:     cfg.Call.RingTimeout,
		TransferTimeout: cfg.Call.TransferTimeout,
		AnyoneMayEnd:    cfg.Call.EndPolicy == "any",
	}
	calls := registry.New(log, pol, hub, archiver)
	// TODO: swap the trail to a Postgres repo once call_audit_events ships.
	calls.SetTrail(audit.NewService(audit.NewMemoryRepo()))
	go calls.Run(rootCtx, cfg.Call.SweepInterval, cfg.Call.Retention)

	signals := relay.New(log, calls, hub)
	defer signals.Close()
	// Settled calls release their pair queues in the relay.
	calls.SetOnTerminal(signals.Drop)

	coord := admission.NewCoordinator(log, calls, admission.NewRedisStore(rdb))

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	h := httpapi.Handlers{
		Auth:    authManager,
		Coord:   coord,
		Calls:   calls,
		Relay:   signals,
		History: archiver,
	}
	registerRoutes(r, h, hub, auth.RequireAccessToken(authManager))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
