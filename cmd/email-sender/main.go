package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/magabrotheeeer/quote-of-the-day/internal/app/emailsender"
	"github.com/magabrotheeeer/quote-of-the-day/internal/config"
	"github.com/magabrotheeeer/quote-of-the-day/internal/lib/logger"
	"github.com/magabrotheeeer/quote-of-the-day/internal/lib/sl"
)

func main() {
	cfg := config.MustLoad()
	log := logger.Setup(cfg.Env, cfg.LogLevel)

	log.Info("starting email sender", slog.String("env", cfg.Env))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := emailsender.New(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize email sender", sl.Err(err))
		os.Exit(1)
	}

	if err := app.Run(ctx); err != nil {
		log.Error("email sender stopped with error", sl.Err(err))
		os.Exit(1)
	}

	log.Info("email sender stopped gracefully")
}
