// Package logger настраивает slog в зависимости от окружения.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"

	"github.com/magabrotheeeer/quote-of-the-day/internal/config"
)

// Setup возвращает логгер: цветной tint-вывод для local/development,
// JSON для production и staging.
func Setup(env, level string) *slog.Logger {
	return New(os.Stdout, env, level)
}

// New то же, что Setup, но с произвольным writer.
func New(w io.Writer, env, level string) *slog.Logger {
	lvl := ParseLevel(level)

	switch env {
	case config.EnvLocal, config.EnvDevelopment:
		return slog.New(tint.NewHandler(w, &tint.Options{
			Level:      lvl,
			TimeFormat: time.Kitchen,
			AddSource:  true,
		}))
	case config.EnvProduction, config.EnvStaging:
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
	default:
		return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
	}
}

// ParseLevel переводит LOG_LEVEL в slog.Level, по умолчанию info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "critical":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Discard логгер, который ничего не пишет. Используется в тестах и воркерах без вывода.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}
