package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/giantswarm/analytics-oauth/instrumentation"
	"github.com/giantswarm/analytics-oauth/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Redis keys
	DefaultKeyPrefix = "analytics:"

	backendName = "redis"

	connectionVerifyTimeout = 5 * time.Second
)

var incrementBelow = goredis.NewScript(storage.IncrementBelowScript)

// Store is a Redis-backed storage.Store.
type Store struct {
	client goredis.UniversalClient
	prefix string
	logger *slog.Logger
	obs    *storage.Observer
}

var (
	_ storage.Store      = (*Store)(nil)
	_ storage.GetDeleter = (*Store)(nil)
	_ storage.Counter    = (*Store)(nil)
)

// NewFromURL connects to the server named by a redis:// or rediss:// URL and
// verifies the connection.
func NewFromURL(ctx context.Context, redisURL, prefix string) (*Store, error) {
	opt, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := goredis.NewClient(opt)

	ctx, cancel := context.WithTimeout(ctx, connectionVerifyTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	s := New(client, prefix)
	s.logger.Info("Connected to Redis storage", "address", opt.Addr, "db", opt.DB, "prefix", s.prefix)
	return s, nil
}

// New wraps an existing client. An empty prefix uses DefaultKeyPrefix.
func New(client goredis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Store{
		client: client,
		prefix: prefix,
		logger: slog.Default(),
	}
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

// SetLogger sets a custom logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetInstrumentation enables spans and metrics for every operation.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.obs = storage.NewObserver(backendName, inst)
}

func (s *Store) key(k string) string {
	return s.prefix + k
}

// Get returns the value at key.
func (s *Store) Get(ctx context.Context, key string) (value string, err error) {
	ctx, done := s.obs.Start(ctx, "get")
	defer func() { done(err) }()

	value, err = s.client.Get(ctx, s.key(key)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return "", storage.ErrNotFound
		}
		return "", fmt.Errorf("failed to get %s: %w", key, err)
	}
	return value, nil
}

// Set stores value at key. A zero ttl stores it without expiry.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) (err error) {
	ctx, done := s.obs.Start(ctx, "set")
	defer func() { done(err) }()

	if ttl < 0 {
		ttl = 0
	}
	if err = s.client.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) (err error) {
	ctx, done := s.obs.Start(ctx, "delete")
	defer func() { done(err) }()

	if err = s.client.Del(ctx, s.key(key)).Err(); err != nil && !errors.Is(err, goredis.Nil) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// GetDelete returns and removes the value at key with GETDEL.
func (s *Store) GetDelete(ctx context.Context, key string) (value string, err error) {
	ctx, done := s.obs.Start(ctx, "getdel")
	defer func() { done(err) }()

	value, err = s.client.GetDel(ctx, s.key(key)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return "", storage.ErrNotFound
		}
		return "", fmt.Errorf("failed to getdel %s: %w", key, err)
	}
	return value, nil
}

// IncrementBelow implements storage.Counter with a server-side script.
func (s *Store) IncrementBelow(ctx context.Context, key, field string, ceiling int64, ttl time.Duration, meta map[string]string) (value int64, incremented bool, err error) {
	ctx, done := s.obs.Start(ctx, "increment")
	defer func() { done(err) }()

	argv := storage.IncrementBelowArgs(field, ceiling, ttl, meta)
	args := make([]any, len(argv))
	for i, a := range argv {
		args[i] = a
	}

	reply, err := incrementBelow.Run(ctx, s.client, []string{s.key(key)}, args...).Int64Slice()
	if err != nil {
		return 0, false, fmt.Errorf("failed to increment %s: %w", key, err)
	}

	value, incremented, err = storage.ParseIncrementResult(reply)
	if err != nil {
		return 0, false, fmt.Errorf("failed to increment %s: %w", key, err)
	}
	return value, incremented, nil
}

// Fields returns the hash at key.
func (s *Store) Fields(ctx context.Context, key string) (fields map[string]string, err error) {
	ctx, done := s.obs.Start(ctx, "fields")
	defer func() { done(err) }()

	fields, err = s.client.HGetAll(ctx, s.key(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if len(fields) == 0 {
		return nil, storage.ErrNotFound
	}
	return fields, nil
}
