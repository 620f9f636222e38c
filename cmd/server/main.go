package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/david/dispatch/internal/api"
	"github.com/david/dispatch/internal/auth"
	"github.com/david/dispatch/internal/config"
	"github.com/david/dispatch/internal/db"
	"github.com/david/dispatch/internal/notify"
	"github.com/david/dispatch/internal/submission"
)

func main() {
	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err := db.ApplyMigrations(ctx, pool, logger.Named("migrate")); err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}
	store := db.NewStore(pool)

	authService, err := auth.NewService(store, cfg.JWTSecret, logger.Named("auth"))
	if err != nil {
		logger.Fatal("failed to set up auth", zap.Error(err))
	}

	mailer := notify.NewMailer(notify.NewLogSender(logger.Named("mail")), store, notify.Config{
		SiteName: cfg.SiteName,
		BaseURL:  cfg.BaseURL,
	}, logger.Named("notify"))

	srv := api.NewServer(api.Deps{
		Store:    store,
		Auth:     authService,
		Notifier: mailer,
		Adapters: submission.NewDefaultRegistry(submission.Options{ScreendoorBaseURL: cfg.ScreendoorBaseURL}),
		Clock:    time.Now,
		Log:      logger,
	})

	go func() {
		logger.Info("server starting", zap.String("port", cfg.Port))
		if err := srv.Start(cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server stopped", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", zap.Error(err))
	}
}
