package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/coder/quartz"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"github.com/giantswarm/analytics-oauth/instrumentation"
	"github.com/giantswarm/analytics-oauth/providers"
	"github.com/giantswarm/analytics-oauth/security"
)

// stateBytes is the entropy of the state nonce.
const stateBytes = 32

// TokenWriter persists the record issued by a successful callback.
type TokenWriter interface {
	Save(ctx context.Context, identity string, record *TokenRecord) error
}

// FlowController runs the authorization code flow with PKCE against the
// provider: it starts connect flows, completes callbacks and refreshes tokens.
type FlowController struct {
	provider   providers.Provider
	challenges *ChallengeStore
	tokens     TokenWriter
	clock      quartz.Clock
	config     *Config
	logger     *slog.Logger
	auditor    *security.Auditor
	metrics    *instrumentation.Metrics
	tracer     trace.Tracer
}

// NewFlowController creates a flow controller.
func NewFlowController(provider providers.Provider, challenges *ChallengeStore, tokens TokenWriter, config *Config, logger *slog.Logger) *FlowController {
	if logger == nil {
		logger = slog.Default()
	}
	if config == nil {
		config = &Config{}
	}
	return &FlowController{
		provider:   provider,
		challenges: challenges,
		tokens:     tokens,
		clock:      quartz.NewReal(),
		config:     applyDefaults(config, logger),
		logger:     logger,
	}
}

func (f *FlowController) startSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if f.tracer == nil {
		return ctx, nil
	}
	ctx, span := f.tracer.Start(ctx, "oauth."+operation)
	instrumentation.AddProviderAttributes(span, f.provider.Name(), operation)
	return ctx, span
}

func endSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrError, ErrorCode(err)))
		var perr *ProviderError
		if errors.As(err, &perr) && perr.StatusCode != 0 {
			instrumentation.SetSpanAttributes(span, attribute.Int(instrumentation.AttrProviderStatus, perr.StatusCode))
		}
		instrumentation.RecordError(span, err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}
	span.End()
}

func (f *FlowController) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), f.config.StoreTimeout)
}

func (f *FlowController) providerContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), f.config.ProviderTimeout)
}

// Start begins a connect flow for sessionID. It stores a fresh PKCE verifier
// and state nonce, replacing any from an earlier attempt, and returns the
// provider consent URL.
func (f *FlowController) Start(ctx context.Context, sessionID string) (authURL string, err error) {
	ctx, span := f.startSpan(ctx, "authorize")
	defer func() { endSpan(span, err) }()
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrIdentityHash, security.HashForLogging(sessionID)))

	if sessionID == "" {
		return "", ErrAuthRequired
	}

	verifier := oauth2.GenerateVerifier()
	challenge := oauth2.S256ChallengeFromVerifier(verifier)
	state, err := security.RandomToken(stateBytes)
	if err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}

	storeCtx, cancel := f.storeContext(ctx)
	defer cancel()

	if err := f.challenges.SaveVerifier(storeCtx, sessionID, verifier); err != nil {
		return "", err
	}
	if err := f.challenges.SaveState(storeCtx, sessionID, state); err != nil {
		return "", err
	}

	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrPKCEMethod, providers.PKCEMethodS256))
	if f.metrics != nil {
		f.metrics.RecordAuthorizationStarted(ctx, f.provider.Name())
	}
	f.auditor.LogEvent(security.Event{
		Type:     security.EventAuthorizationStarted,
		Identity: sessionID,
		Details:  map[string]any{"provider": f.provider.Name()},
	})

	return f.provider.AuthorizationURL(state, challenge, providers.PKCEMethodS256), nil
}

// Callback completes a connect flow. The checks run in a fixed order:
// parameters, session, state, verifier, then the code exchange. The state
// and verifier are consumed even when a later step fails, so a callback can
// never be replayed.
func (f *FlowController) Callback(ctx context.Context, sessionID, code, state string) (record *TokenRecord, err error) {
	ctx, span := f.startSpan(ctx, "callback")
	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrIdentityHash, security.HashForLogging(sessionID)),
		attribute.String(instrumentation.AttrGrantType, "authorization_code"))
	defer func() {
		endSpan(span, err)
		result := "success"
		if err != nil {
			result = ErrorCode(err)
		}
		if f.metrics != nil {
			f.metrics.RecordCallbackProcessed(ctx, f.provider.Name(), result)
		}
	}()

	if code == "" || state == "" {
		return nil, ErrMissingParameter
	}
	if sessionID == "" {
		return nil, ErrAuthRequired
	}

	storeCtx, cancel := f.storeContext(ctx)
	defer cancel()

	if err := f.challenges.ConsumeState(storeCtx, sessionID, state); err != nil {
		if errors.Is(err, ErrInvalidState) {
			f.auditor.LogEvent(security.Event{
				Type:     security.EventProviderStateMismatch,
				Identity: sessionID,
			})
		}
		return nil, err
	}

	verifier, err := f.challenges.PopVerifier(storeCtx, sessionID)
	if err != nil {
		if errors.Is(err, ErrMissingPKCEVerifier) {
			f.auditor.LogEvent(security.Event{
				Type:     security.EventPKCEVerifierMissing,
				Identity: sessionID,
			})
		}
		return nil, err
	}

	exchangeCtx, cancelExchange := f.providerContext(ctx)
	defer cancelExchange()

	token, err := f.provider.ExchangeCode(exchangeCtx, code, verifier)
	if err != nil {
		perr := newProviderError("exchange", err)
		f.logger.Warn("Code exchange failed", "provider", f.provider.Name(), "status", perr.StatusCode, "error_code", perr.Code)
		f.auditor.LogEvent(security.Event{
			Type:     security.EventProviderCodeExchangeFailed,
			Identity: sessionID,
			Details:  map[string]any{"status": perr.StatusCode, "error_code": perr.Code},
		})
		return nil, fmt.Errorf("%w: %w", ErrTokenExchangeFailed, perr)
	}

	if token.AccessToken == "" || token.RefreshToken == "" {
		// Without a refresh token every connection dies within the hour;
		// this usually means the consent request lacks offline access.
		f.logger.Error("Provider response is missing tokens",
			"provider", f.provider.Name(),
			"has_access_token", token.AccessToken != "",
			"has_refresh_token", token.RefreshToken != "")
		return nil, fmt.Errorf("%w: provider did not return both access and refresh tokens", ErrTokenExchangeFailed)
	}

	record = f.recordFromToken(token, "")
	if err := f.tokens.Save(ctx, sessionID, record); err != nil {
		return nil, err
	}

	f.auditor.LogEvent(security.Event{
		Type:     security.EventTokenIssued,
		Identity: sessionID,
		Details:  map[string]any{"provider": f.provider.Name()},
	})
	return record, nil
}

// Refresh redeems refreshToken once, without retry. The returned record keeps
// refreshToken when the provider does not rotate it.
func (f *FlowController) Refresh(ctx context.Context, refreshToken string) (record *TokenRecord, err error) {
	ctx, span := f.startSpan(ctx, "refresh")
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrGrantType, "refresh_token"))
	defer func() {
		endSpan(span, err)
		if f.metrics != nil {
			f.metrics.RecordTokenRefresh(ctx, f.provider.Name(), err == nil)
		}
	}()

	if refreshToken == "" {
		return nil, ErrAuthRequired
	}

	refreshCtx, cancel := f.providerContext(ctx)
	defer cancel()

	token, err := f.provider.RefreshToken(refreshCtx, refreshToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRefreshFailed, newProviderError("refresh", err))
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("%w: provider returned no access token", ErrRefreshFailed)
	}

	record = f.recordFromToken(token, refreshToken)
	instrumentation.SetSpanAttributes(span, attribute.Bool(instrumentation.AttrTokenRotated, record.RefreshToken != refreshToken))
	return record, nil
}

// Revoke revokes token at the provider.
func (f *FlowController) Revoke(ctx context.Context, token string) (err error) {
	ctx, span := f.startSpan(ctx, "revoke")
	defer func() {
		endSpan(span, err)
		if f.metrics != nil {
			f.metrics.RecordTokenRevocation(ctx, f.provider.Name(), err == nil)
		}
	}()

	revokeCtx, cancel := f.providerContext(ctx)
	defer cancel()

	if err := f.provider.RevokeToken(revokeCtx, token); err != nil {
		return newProviderError("revoke", err)
	}
	return nil
}

// recordFromToken computes the expiry from the local clock. A token without
// expires_in falls back to its absolute expiry, then to now, which forces a
// refresh on first use.
func (f *FlowController) recordFromToken(token *oauth2.Token, previousRefresh string) *TokenRecord {
	now := f.clock.Now()

	expiry := now
	switch {
	case token.ExpiresIn > 0:
		expiry = now.Add(time.Duration(token.ExpiresIn) * time.Second)
	case !token.Expiry.IsZero():
		expiry = token.Expiry
	}

	refresh := token.RefreshToken
	if refresh == "" {
		refresh = previousRefresh
	}

	return &TokenRecord{
		AccessToken:  token.AccessToken,
		RefreshToken: refresh,
		Expiry:       expiry.Unix(),
		CreatedAt:    now.Unix(),
	}
}
