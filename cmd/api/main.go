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

	"bizphone/internal/auth"
	"bizphone/internal/config"
	"bizphone/internal/routing"
	"bizphone/pkg/logger"

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
	rootCtx = logger.With(rootCtx, log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	b, err := openBackends(rootCtx, cfg)
	if err != nil {
		log.Error("backend init failed", "err", err)
		os.Exit(1)
	}
	defer b.Close()

	engine := routing.New(b.Catalog, b.State, b.Audit, nil, routing.Options{
		MaxHops:            cfg.Routing.MaxHops,
		DefaultRingTimeout: int(cfg.Routing.DefaultRingTimeout / time.Second),
		VoicemailGreeting:  cfg.Routing.VoicemailGreeting,
		AIStreamURL:        cfg.Routing.AIStreamURL,
		ParkTimeout:        cfg.Routing.DefaultParkTimeout,
	})

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, cfg, routeDeps{
		Auth:     authManager,
		Engine:   engine,
		Backends: b,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening",
			"addr", srv.Addr,
			"env", cfg.App.Env,
			"catalog", cfg.Routing.CatalogBackend,
			"state", cfg.Routing.StateBackend,
		)
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
