package valkey

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/giantswarm/analytics-oauth/instrumentation"
	"github.com/giantswarm/analytics-oauth/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Valkey keys
	DefaultKeyPrefix = "analytics:"

	backendName = "valkey"

	// connectionVerifyTimeout is the timeout for initial connection verification
	connectionVerifyTimeout = 5 * time.Second
)

// Config holds configuration for the Valkey storage backend.
type Config struct {
	// Address is the Valkey server address (required), e.g., "localhost:6379"
	Address string

	// Password is the optional password for Valkey authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "analytics:")
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// Store is a Valkey-backed storage.Store.
type Store struct {
	client valkeygo.Client
	prefix string
	logger *slog.Logger
	obs    *storage.Observer
}

var (
	_ storage.Store      = (*Store)(nil)
	_ storage.GetDeleter = (*Store)(nil)
	_ storage.Counter    = (*Store)(nil)
)

// New creates a new Valkey-backed storage instance.
// Returns an error if the connection cannot be established.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.TLS != nil {
		opts.TLSConfig = cfg.TLS
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	logger.Info("Connected to Valkey storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", prefix)

	return &Store{
		client: client,
		prefix: prefix,
		logger: logger,
	}, nil
}

// Close closes the Valkey client connection.
func (s *Store) Close() {
	s.client.Close()
	s.logger.Info("Valkey storage connection closed")
}

// SetLogger sets a custom logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	s.logger = logger
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

	value, err = s.client.Do(ctx, s.client.B().Get().Key(s.key(key)).Build()).ToString()
	if err != nil {
		if isNilError(err) {
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

	cmd := s.client.B().Set().Key(s.key(key)).Value(value)
	if ttl > 0 {
		err = s.client.Do(ctx, cmd.Ex(ttl).Build()).Error()
	} else {
		err = s.client.Do(ctx, cmd.Build()).Error()
	}
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) (err error) {
	ctx, done := s.obs.Start(ctx, "delete")
	defer func() { done(err) }()

	if err = s.client.Do(ctx, s.client.B().Del().Key(s.key(key)).Build()).Error(); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// GetDelete returns and removes the value at key with GETDEL.
func (s *Store) GetDelete(ctx context.Context, key string) (value string, err error) {
	ctx, done := s.obs.Start(ctx, "getdel")
	defer func() { done(err) }()

	value, err = s.client.Do(ctx, s.client.B().Getdel().Key(s.key(key)).Build()).ToString()
	if err != nil {
		if isNilError(err) {
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

	reply, err := s.client.Do(ctx,
		s.client.B().Eval().Script(storage.IncrementBelowScript).
			Numkeys(1).
			Key(s.key(key)).
			Arg(storage.IncrementBelowArgs(field, ceiling, ttl, meta)...).
			Build(),
	).AsIntSlice()
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

	fields, err = s.client.Do(ctx, s.client.B().Hgetall().Key(s.key(key)).Build()).AsStrMap()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if len(fields) == 0 {
		return nil, storage.ErrNotFound
	}
	return fields, nil
}

// isNilError checks if the error is a Valkey nil response (key not found)
func isNilError(err error) bool {
	return valkeygo.IsValkeyNil(err)
}
