// Package session holds the credentials used to call upstream services and
// the sign-in redirect requested after an authentication failure.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the hash holding credentials when the vault is backed by Redis.
const DefaultRedisKey = "agrodata:session:credentials"

// Vault stores named credentials.
type Vault interface {
	// Get returns the credential stored under name.
	Get(ctx context.Context, name string) (string, bool)
	// Set stores a credential. Empty values are ignored.
	Set(ctx context.Context, name, value string) error
	// Clear drops every credential.
	Clear(ctx context.Context) error
	Close() error
}

// MemoryVault is a process-local Vault.
type MemoryVault struct {
	mu    sync.RWMutex
	creds map[string]string
}

// NewMemoryVault creates an empty in-memory vault.
func NewMemoryVault() *MemoryVault {
	return &MemoryVault{creds: make(map[string]string)}
}

func (v *MemoryVault) Get(_ context.Context, name string) (string, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	value, ok := v.creds[name]
	return value, ok
}

func (v *MemoryVault) Set(_ context.Context, name, value string) error {
	if value == "" {
		return nil
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.creds[name] = value
	return nil
}

func (v *MemoryVault) Clear(context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	clear(v.creds)
	return nil
}

func (v *MemoryVault) Close() error { return nil }

// RedisVault keeps credentials in a Redis hash so every instance sees the
// same session state.
type RedisVault struct {
	client *redis.Client
	key    string
	logger *slog.Logger
}

// NewRedisVault connects to Redis and verifies the connection.
func NewRedisVault(url, key string, logger *slog.Logger) (*RedisVault, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisVaultWithClient(client, key, logger), nil
}

// NewRedisVaultWithClient wraps an existing client.
func NewRedisVaultWithClient(client *redis.Client, key string, logger *slog.Logger) *RedisVault {
	if key == "" {
		key = DefaultRedisKey
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisVault{client: client, key: key, logger: logger}
}

func (v *RedisVault) Get(ctx context.Context, name string) (string, bool) {
	value, err := v.client.HGet(ctx, v.key, name).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			v.logger.Warn("credential lookup failed", "name", name, "error", err)
		}
		return "", false
	}
	return value, true
}

func (v *RedisVault) Set(ctx context.Context, name, value string) error {
	if value == "" {
		return nil
	}
	return v.client.HSet(ctx, v.key, name, value).Err()
}

func (v *RedisVault) Clear(ctx context.Context) error {
	return v.client.Del(ctx, v.key).Err()
}

func (v *RedisVault) Close() error {
	if v.client != nil {
		return v.client.Close()
	}
	return nil
}

// Seed stores every non-empty credential in creds.
func Seed(ctx context.Context, v Vault, creds map[string]string) error {
	for name, value := range creds {
		if err := v.Set(ctx, name, value); err != nil {
			return fmt.Errorf("failed to seed credential %q: %w", name, err)
		}
	}
	return nil
}
