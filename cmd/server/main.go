package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/anonto42/nano-midea/notifier/internal/router"
	"github.com/anonto42/nano-midea/notifier/internal/validators"
	"github.com/anonto42/nano-midea/notifier/pkg/config"
	"github.com/anonto42/nano-midea/notifier/pkg/firebase"
	"github.com/anonto42/nano-midea/notifier/pkg/logger"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("notifier: %v", err)
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv("NOTIFIER_CONFIG"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	zl, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = zl.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := config.InitDB(cfg.Database, zl)
	if err != nil {
		return fmt.Errorf("init databases: %w", err)
	}
	defer db.CloseDB()

	rdb, err := config.InitRedis(cfg.Redis, zl)
	if err != nil {
		return fmt.Errorf("init redis: %w", err)
	}
	defer func() { _ = rdb.Close() }()

	deps := router.Dependencies{
		Config:   cfg,
		Postgres: db.Postgres,
		Mongo:    db.Mongo,
		Redis:    rdb,
		Logger:   zl,
	}
	if cfg.Firebase.CredentialsPath != "" {
		app, err := firebase.InitFirebase(ctx, cfg.Firebase.CredentialsPath, zl)
		if err != nil {
			return fmt.Errorf("init firebase: %w", err)
		}
		deps.FirebaseAuth = app.AuthClient
	} else {
		zl.Info("firebase not configured, accepting local tokens only")
	}

	e := echo.New()
	e.HideBanner = true
	e.Validator = validators.NewValidator()
	config.SetupMiddleware(e, zl)

	rt, err := router.SetupRoutes(e, deps)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return rt.Emitter.Run(gctx)
	})
	if rt.Fanout != nil {
		g.Go(func() error {
			return rt.Fanout.Run(gctx)
		})
	}
	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		zl.Info("starting server", zap.String("addr", addr), zap.String("env", cfg.Server.Env))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		zl.Info("shutting down server")
		return e.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
