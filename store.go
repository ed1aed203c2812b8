package oauth

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/giantswarm/analytics-oauth/instrumentation"
	"github.com/giantswarm/analytics-oauth/providers/google"
	"github.com/giantswarm/analytics-oauth/storage"
	"github.com/giantswarm/analytics-oauth/storage/memory"
	"github.com/giantswarm/analytics-oauth/storage/postgres"
	"github.com/giantswarm/analytics-oauth/storage/redis"
	"github.com/giantswarm/analytics-oauth/storage/rest"
	"github.com/giantswarm/analytics-oauth/storage/valkey"
)

// OpenStore connects the backend selected by cfg.Store. The returned close
// function releases the connection. Postgres schemas are migrated on open.
func OpenStore(ctx context.Context, cfg *Config, inst *instrumentation.Instrumentation) (storage.Store, func(), error) {
	cfg = applySecureDefaults(cfg)
	logger := cfg.Logger
	sc := cfg.Store

	switch sc.Backend {
	case StoreBackendREST:
		client, err := rest.New(rest.Config{
			BaseURL:    sc.URL,
			Token:      sc.Token,
			Timeout:    cfg.Token.StoreTimeout,
			HTTPClient: cfg.HTTPClient,
			Logger:     logger,
		})
		if err != nil {
			return nil, nil, err
		}
		if inst != nil {
			client.SetInstrumentation(inst)
		}
		return client, func() {}, nil

	case StoreBackendValkey:
		store, err := valkey.New(valkey.Config{
			Address:   sc.ValkeyAddr,
			KeyPrefix: sc.KeyPrefix,
			Logger:    logger,
		})
		if err != nil {
			return nil, nil, err
		}
		if inst != nil {
			store.SetInstrumentation(inst)
		}
		return store, store.Close, nil

	case StoreBackendRedis:
		store, err := redis.NewFromURL(ctx, sc.RedisURL, sc.KeyPrefix)
		if err != nil {
			return nil, nil, err
		}
		store.SetLogger(logger)
		if inst != nil {
			store.SetInstrumentation(inst)
		}
		return store, closeLogged(logger, "redis", store.Close), nil

	case StoreBackendPostgres:
		store, err := postgres.Open(ctx, sc.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		store.SetLogger(logger)
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, nil, err
		}
		if inst != nil {
			store.SetInstrumentation(inst)
		}
		return store, closeLogged(logger, "postgres", store.Close), nil

	case StoreBackendMemory:
		logger.Warn("Using in-memory store; state is lost on restart and not shared between instances")
		store := memory.New()
		store.SetLogger(logger)
		if inst != nil {
			store.SetInstrumentation(inst)
		}
		return store, store.Stop, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", sc.Backend)
	}
}

func closeLogged(logger *slog.Logger, backend string, closeFn func() error) func() {
	return func() {
		if err := closeFn(); err != nil {
			logger.Warn("Failed to close store", "backend", backend, "error", err)
		}
	}
}

// NewGoogleProvider creates the Google provider from cfg.GoogleAuth with the
// read-only analytics scope.
func NewGoogleProvider(cfg *Config, inst *instrumentation.Instrumentation) (*google.Provider, error) {
	provider, err := google.NewProvider(&google.Config{
		ClientID:     cfg.GoogleAuth.ClientID,
		ClientSecret: cfg.GoogleAuth.ClientSecret,
		RedirectURL:  cfg.GoogleAuth.RedirectURL,
		HTTPClient:   cfg.HTTPClient,
	})
	if err != nil {
		return nil, err
	}
	if inst != nil {
		provider.SetInstrumentation(inst)
	}
	return provider, nil
}
