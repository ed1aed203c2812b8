package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/coder/quartz"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/analytics-oauth/instrumentation"
	"github.com/giantswarm/analytics-oauth/security"
	"github.com/giantswarm/analytics-oauth/storage"
)

const tokenKeyPrefix = "token:"

// TokenRecord is the provider credential held for one identity.
// Times are Unix seconds.
type TokenRecord struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Expiry       int64  `json:"expiry"`
	CreatedAt    int64  `json:"created_at"`
}

// ExpiresAt returns the access token expiry.
func (r *TokenRecord) ExpiresAt() time.Time {
	return time.Unix(r.Expiry, 0)
}

// Terminal reports whether the record can never be refreshed.
func (r *TokenRecord) Terminal() bool {
	return r.RefreshToken == ""
}

// storedRecord is the on-store form. When Sealed is set both token fields
// are vault tokens.
type storedRecord struct {
	TokenRecord
	Sealed bool `json:"sealed,omitempty"`
}

// Refresher redeems refresh tokens. FlowController implements it.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*TokenRecord, error)
	Revoke(ctx context.Context, token string) error
}

// TokenManager stores token records and hands out bearer credentials,
// refreshing them shortly before they expire.
type TokenManager struct {
	store     storage.Store
	refresher Refresher
	vault     *security.Vault
	clock     quartz.Clock
	config    *Config
	logger    *slog.Logger
	auditor   *security.Auditor
	metrics   *instrumentation.Metrics
	tracer    trace.Tracer
}

// NewTokenManager creates a token manager.
func NewTokenManager(store storage.Store, refresher Refresher, config *Config, logger *slog.Logger) *TokenManager {
	if logger == nil {
		logger = slog.Default()
	}
	if config == nil {
		config = &Config{}
	}
	return &TokenManager{
		store:     store,
		refresher: refresher,
		clock:     quartz.NewReal(),
		config:    applyDefaults(config, logger),
		logger:    logger,
	}
}

func (m *TokenManager) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), m.config.StoreTimeout)
}

func (m *TokenManager) recordBearer(ctx context.Context, outcome string) {
	instrumentation.SetSpanAttributes(trace.SpanFromContext(ctx), attribute.String(instrumentation.AttrBearerSource, outcome))
	if m.metrics != nil {
		m.metrics.RecordBearer(ctx, outcome)
	}
}

// Load returns the stored record for identity, or ErrAuthRequired.
func (m *TokenManager) Load(ctx context.Context, identity string) (*TokenRecord, error) {
	if identity == "" {
		return nil, ErrAuthRequired
	}

	ctx, cancel := m.storeContext(ctx)
	defer cancel()

	raw, err := m.store.Get(ctx, tokenKeyPrefix+identity)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrAuthRequired
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load token record: %w", err)
	}

	var stored storedRecord
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		m.logger.Warn("Discarding unreadable token record", "identity_hash", security.HashForLogging(identity), "error", err)
		return nil, ErrAuthRequired
	}

	if stored.Sealed {
		if err := m.open(ctx, &stored.TokenRecord); err != nil {
			m.logger.Warn("Discarding token record that failed to open", "identity_hash", security.HashForLogging(identity), "error", err)
			return nil, ErrAuthRequired
		}
	}

	record := stored.TokenRecord
	return &record, nil
}

// Save persists record for identity. Records do not expire in the store;
// they are removed by Disconnect.
func (m *TokenManager) Save(ctx context.Context, identity string, record *TokenRecord) error {
	if identity == "" {
		return fmt.Errorf("identity is required")
	}
	if record == nil || record.AccessToken == "" {
		return fmt.Errorf("token record has no access token")
	}

	ctx, cancel := m.storeContext(ctx)
	defer cancel()

	stored := storedRecord{TokenRecord: *record}
	if m.vault != nil {
		if err := m.seal(ctx, &stored.TokenRecord); err != nil {
			return err
		}
		stored.Sealed = true
	}

	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to marshal token record: %w", err)
	}
	if err := m.store.Set(ctx, tokenKeyPrefix+identity, string(data), 0); err != nil {
		return fmt.Errorf("failed to store token record: %w", err)
	}
	return nil
}

func (m *TokenManager) seal(ctx context.Context, r *TokenRecord) (err error) {
	defer func() {
		if m.metrics != nil {
			m.metrics.RecordVaultOperation(ctx, "seal", err == nil)
		}
	}()

	if r.AccessToken, err = m.vault.Seal(r.AccessToken); err != nil {
		return fmt.Errorf("failed to seal access token: %w", err)
	}
	if r.RefreshToken != "" {
		if r.RefreshToken, err = m.vault.Seal(r.RefreshToken); err != nil {
			return fmt.Errorf("failed to seal refresh token: %w", err)
		}
	}
	return nil
}

func (m *TokenManager) open(ctx context.Context, r *TokenRecord) (err error) {
	defer func() {
		if m.metrics != nil {
			m.metrics.RecordVaultOperation(ctx, "open", err == nil)
		}
	}()

	if m.vault == nil {
		return fmt.Errorf("record is sealed but no vault is configured")
	}
	if r.AccessToken, err = m.vault.Open(r.AccessToken); err != nil {
		return err
	}
	if r.RefreshToken != "" {
		if r.RefreshToken, err = m.vault.Open(r.RefreshToken); err != nil {
			return err
		}
	}
	return nil
}

// Bearer returns an access token for identity that is valid for at least
// RefreshSkew. An expiring token is refreshed once; a failed refresh leaves
// the stored record untouched and returns ErrAuthRequired wrapping the cause.
func (m *TokenManager) Bearer(ctx context.Context, identity string) (bearer string, err error) {
	if m.tracer != nil {
		var span trace.Span
		ctx, span = m.tracer.Start(ctx, "oauth.bearer")
		instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrIdentityHash, security.HashForLogging(identity)))
		defer func() { endSpan(span, err) }()
	}

	record, err := m.Load(ctx, identity)
	if errors.Is(err, ErrAuthRequired) {
		m.recordBearer(ctx, instrumentation.BearerMissing)
		return "", ErrAuthRequired
	}
	if err != nil {
		return "", err
	}

	now := m.clock.Now()
	if !security.NeedsRefresh(record.ExpiresAt(), now, m.config.RefreshSkew) {
		m.recordBearer(ctx, instrumentation.BearerCached)
		return record.AccessToken, nil
	}

	if record.Terminal() {
		m.recordBearer(ctx, instrumentation.BearerTerminal)
		m.logger.Debug("Token record has no refresh token",
			"identity_hash", security.HashForLogging(identity),
			"expired", security.IsExpired(record.ExpiresAt(), now))
		return "", ErrAuthRequired
	}

	fresh, err := m.refresher.Refresh(ctx, record.RefreshToken)
	if err != nil {
		m.recordBearer(ctx, instrumentation.BearerRefreshFail)
		m.logger.Warn("Token refresh failed", "identity_hash", security.HashForLogging(identity), "error", err)
		m.auditor.LogEvent(security.Event{
			Type:     security.EventTokenRefreshFailed,
			Identity: identity,
			Details:  map[string]any{"error": ErrorCode(err)},
		})
		return "", fmt.Errorf("%w: %w", ErrAuthRequired, err)
	}
	fresh.CreatedAt = record.CreatedAt

	if *fresh != *record {
		if err := m.Save(ctx, identity, fresh); err != nil {
			// The refreshed token is still valid; the next call refreshes again.
			m.logger.Error("Failed to persist refreshed token", "identity_hash", security.HashForLogging(identity), "error", err)
		}
	}

	m.recordBearer(ctx, instrumentation.BearerRefreshed)
	m.auditor.LogEvent(security.Event{
		Type:     security.EventTokenRefreshed,
		Identity: identity,
		Details: map[string]any{
			"rotated": fresh.RefreshToken != record.RefreshToken,
		},
	})
	return fresh.AccessToken, nil
}

// Disconnect deletes the record for identity and revokes it at the provider.
// Revocation is best effort; the local record is removed regardless.
func (m *TokenManager) Disconnect(ctx context.Context, identity string) error {
	record, err := m.Load(ctx, identity)
	if err != nil && !errors.Is(err, ErrAuthRequired) {
		return err
	}

	storeCtx, cancel := m.storeContext(ctx)
	defer cancel()
	if err := m.store.Delete(storeCtx, tokenKeyPrefix+identity); err != nil {
		return fmt.Errorf("failed to delete token record: %w", err)
	}

	m.auditor.LogEvent(security.Event{
		Type:     security.EventDisconnected,
		Identity: identity,
	})

	if record == nil || m.refresher == nil {
		return nil
	}

	token := record.RefreshToken
	if token == "" {
		token = record.AccessToken
	}
	if err := m.refresher.Revoke(ctx, token); err != nil {
		m.logger.Warn("Provider revocation failed", "identity_hash", security.HashForLogging(identity), "error", err)
		return nil
	}
	m.auditor.LogEvent(security.Event{
		Type:     security.EventTokenRevoked,
		Identity: identity,
	})
	return nil
}
