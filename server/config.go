package server

import (
	"log/slog"
	"time"

	"github.com/giantswarm/analytics-oauth/security"
)

const (
	// DefaultChallengeTTL bounds how long a connect flow may take.
	DefaultChallengeTTL = 10 * time.Minute

	// DefaultProviderTimeout bounds each token endpoint call.
	DefaultProviderTimeout = 15 * time.Second

	// DefaultStoreTimeout bounds each key/value store call.
	DefaultStoreTimeout = 10 * time.Second
)

// Config holds token lifecycle configuration
type Config struct {
	// ChallengeTTL is how long a PKCE verifier and state nonce stay redeemable
	ChallengeTTL time.Duration // default: 10m

	// RefreshSkew is how long before expiry an access token is refreshed
	RefreshSkew time.Duration // default: 60s

	// ProviderTimeout bounds code exchange, refresh and revocation calls
	ProviderTimeout time.Duration // default: 15s

	// StoreTimeout bounds store calls made on behalf of a request.
	// Store calls are detached from request cancellation so a disconnecting
	// client cannot leave a flow half written.
	StoreTimeout time.Duration // default: 10s
}

func applyDefaults(config *Config, logger *slog.Logger) *Config {
	c := *config
	if c.ChallengeTTL <= 0 {
		c.ChallengeTTL = DefaultChallengeTTL
	}
	if c.RefreshSkew < 0 {
		logger.Warn("Negative refresh skew ignored", "refresh_skew", c.RefreshSkew)
		c.RefreshSkew = security.DefaultRefreshSkew
	}
	if c.RefreshSkew == 0 {
		c.RefreshSkew = security.DefaultRefreshSkew
	}
	if c.ProviderTimeout <= 0 {
		c.ProviderTimeout = DefaultProviderTimeout
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = DefaultStoreTimeout
	}
	return &c
}
