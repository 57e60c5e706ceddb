// Package cache предоставляет key-value кеш поверх Redis или памяти процесса.
package cache

import (
	"bytes"
	"context"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/quote-of-the-day/internal/config"
)

// Store операции кеша, которыми пользуются сервисы и ограничитель запросов.
type Store interface {
	// Get читает значение в dest. false без ошибки, если ключа нет.
	Get(ctx context.Context, key string, dest any) (bool, error)
	// Set сохраняет значение. ttl <= 0 означает хранение без срока.
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// Incr увеличивает счётчик. ttl выставляется при создании ключа.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Exists(ctx context.Context, key string) (bool, error)
	Ping(ctx context.Context) error
	Close() error
}

// New возвращает Redis-кеш, если задан REDIS_URL, иначе кеш в памяти.
func New(ctx context.Context, cfg config.Redis, log *slog.Logger) (Store, error) {
	if cfg.RedisURL == "" {
		log.Info("REDIS_URL is empty, using in-memory cache")
		return NewMemory(time.Minute), nil
	}
	return NewRedis(ctx, cfg)
}

// gobPrefix помечает значения, которые не удалось сериализовать в JSON.
var gobPrefix = []byte("\x00gob:")

func encode(value any) ([]byte, error) {
	const op = "cache.encode"

	data, jsonErr := json.Marshal(value)
	if jsonErr == nil {
		return data, nil
	}

	var buf bytes.Buffer
	buf.Write(gobPrefix)
	if err := gob.NewEncoder(&buf).Encode(value); err != nil {
		return nil, fmt.Errorf("%s: %w", op, errors.Join(jsonErr, err))
	}
	return buf.Bytes(), nil
}

func decode(data []byte, dest any) error {
	const op = "cache.decode"

	if bytes.HasPrefix(data, gobPrefix) {
		if err := gob.NewDecoder(bytes.NewReader(data[len(gobPrefix):])).Decode(dest); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
