// Package main Quote of the Day API
//
// @title           Quote of the Day API
// @version         1.0
// @description     API подписок, аутентификации и аналитики сервиса Quote of the Day

// @host      localhost:8000
// @BasePath  /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/magabrotheeeer/quote-of-the-day/internal/app/qotd"
	"github.com/magabrotheeeer/quote-of-the-day/internal/config"
	"github.com/magabrotheeeer/quote-of-the-day/internal/lib/logger"
	"github.com/magabrotheeeer/quote-of-the-day/internal/lib/sl"
)

func main() {
	cfg := config.MustLoad()
	log := logger.Setup(cfg.Env, cfg.LogLevel)

	log.Info("starting quote-of-the-day api", slog.String("env", cfg.Env), slog.String("version", cfg.Version))
	log.Debug("config loaded", slog.String("config", cfg.String()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := qotd.New(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize app", sl.Err(err))
		os.Exit(1)
	}

	if err := app.Run(ctx); err != nil {
		log.Error("app stopped with error", sl.Err(err))
		os.Exit(1)
	}

	log.Info("quote-of-the-day api stopped gracefully")
}
