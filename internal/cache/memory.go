package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Memory кеш в памяти процесса. Значения хранятся сериализованными, как в
// Redis, поэтому изменения исходного значения после Set не видны в кеше.
type Memory struct {
	c *gocache.Cache
}

// NewMemory создаёт кеш с периодической очисткой просроченных ключей.
func NewMemory(cleanupInterval time.Duration) *Memory {
	return &Memory{c: gocache.New(gocache.NoExpiration, cleanupInterval)}
}

func expiration(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return gocache.NoExpiration
	}
	return ttl
}

func (m *Memory) Get(_ context.Context, key string, dest any) (bool, error) {
	const op = "cache.Memory.Get"
	v, ok := m.c.Get(key)
	if !ok {
		return false, nil
	}
	data, ok := v.([]byte)
	if !ok {
		// счётчики Incr хранятся числом
		var err error
		if data, err = json.Marshal(v); err != nil {
			return false, fmt.Errorf("%s: %w", op, err)
		}
	}
	if err := decode(data, dest); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return true, nil
}

func (m *Memory) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	const op = "cache.Memory.Set"
	data, err := encode(value)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	m.c.Set(key, data, expiration(ttl))
	return nil
}

func (m *Memory) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		m.c.Delete(k)
	}
	return nil
}

func (m *Memory) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	const op = "cache.Memory.Incr"
	if err := m.c.Add(key, int64(1), expiration(ttl)); err == nil {
		return 1, nil
	}
	n, err := m.c.IncrementInt64(key, 1)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

func (m *Memory) Exists(_ context.Context, key string) (bool, error) {
	_, ok := m.c.Get(key)
	return ok, nil
}

func (m *Memory) Ping(context.Context) error {
	return nil
}

func (m *Memory) Close() error {
	m.c.Flush()
	return nil
}
