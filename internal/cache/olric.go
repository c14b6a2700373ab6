package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/olric-data/olric"
)

// DefaultOlricDMap is the distributed map used when none is configured.
const DefaultOlricDMap = "agrodata-cache"

// OlricConfig holds Olric cluster client configuration.
type OlricConfig struct {
	// Servers is a list of Olric server addresses (defaults to ["localhost:3320"])
	Servers []string

	// DMap is the distributed map holding the entries
	DMap string
}

// OlricStore implements Store on an Olric distributed map.
type OlricStore struct {
	client *olric.ClusterClient
	dmap   olric.DMap
	name   string
	logger *slog.Logger
}

// NewOlricStore connects to an Olric cluster.
func NewOlricStore(cfg OlricConfig, logger *slog.Logger) (*OlricStore, error) {
	servers := cfg.Servers
	if len(servers) == 0 {
		servers = []string{"localhost:3320"}
	}
	name := cfg.DMap
	if name == "" {
		name = DefaultOlricDMap
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := olric.NewClusterClient(servers)
	if err != nil {
		return nil, fmt.Errorf("failed to create olric cluster client: %w", err)
	}

	dm, err := client.NewDMap(name)
	if err != nil {
		_ = client.Close(context.Background())
		return nil, fmt.Errorf("failed to create olric dmap %q: %w", name, err)
	}

	logger.Info("olric cache connected", "servers", servers, "dmap", name)

	return &OlricStore{client: client, dmap: dm, name: name, logger: logger}, nil
}

// Get retrieves a value from the distributed map.
func (s *OlricStore) Get(ctx context.Context, key string) ([]byte, bool) {
	gr, err := s.dmap.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, olric.ErrKeyNotFound) {
			s.logger.Warn("olric cache get failed", "key", key, "error", err)
		}
		return nil, false
	}
	value, err := gr.Byte()
	if err != nil {
		s.logger.Warn("olric cache value decode failed", "key", key, "error", err)
		return nil, false
	}
	return value, true
}

// Set stores a value with an expiry.
func (s *OlricStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		s.Delete(ctx, key)
		return
	}
	if err := s.dmap.Put(ctx, key, value, olric.EX(ttl)); err != nil {
		s.logger.Warn("olric cache put failed", "key", key, "error", err)
	}
}

// Delete removes a key from the distributed map.
func (s *OlricStore) Delete(ctx context.Context, key string) {
	if _, err := s.dmap.Delete(ctx, key); err != nil && !errors.Is(err, olric.ErrKeyNotFound) {
		s.logger.Warn("olric cache delete failed", "key", key, "error", err)
	}
}

// Clear destroys the distributed map; it is recreated on the next write.
func (s *OlricStore) Clear(ctx context.Context) {
	if err := s.dmap.Destroy(ctx); err != nil {
		s.logger.Warn("olric cache clear failed", "dmap", s.name, "error", err)
	}
}

// Close closes the cluster client.
func (s *OlricStore) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close(context.Background())
}
