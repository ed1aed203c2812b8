package session

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/giantswarm/analytics-oauth/security"
)

const (
	// DefaultCookieName is the session cookie name used when none is configured.
	DefaultCookieName = "sid"

	// DefaultMaxAge is the default cookie lifetime.
	DefaultMaxAge = 60 * 24 * time.Hour

	// MinMaxAge and MaxMaxAge bound the configurable cookie lifetime.
	MinMaxAge = 30 * 24 * time.Hour
	MaxMaxAge = 90 * 24 * time.Hour

	// IDBytes is the entropy of a session identifier.
	IDBytes = 32

	// minEncodedIDLength rejects opened cookies carrying fewer than 24 bytes of entropy.
	minEncodedIDLength = 32
)

// Config configures a Binder.
type Config struct {
	// CookieName defaults to DefaultCookieName
	CookieName string

	// Domain is the optional cookie Domain attribute. Empty means host-only.
	Domain string

	// MaxAge is the cookie lifetime, between MinMaxAge and MaxMaxAge (default DefaultMaxAge)
	MaxAge time.Duration

	// AllowInsecureCookie drops the Secure attribute. Only for local development over plain HTTP.
	AllowInsecureCookie bool
}

// Binder resolves and mints session identifiers carried in a sealed cookie.
type Binder struct {
	vault   *security.Vault
	cfg     Config
	logger  *slog.Logger
	auditor *security.Auditor
}

// New creates a Binder. The vault is required.
func New(vault *security.Vault, cfg Config, logger *slog.Logger) (*Binder, error) {
	if vault == nil {
		return nil, fmt.Errorf("session vault is required")
	}
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultCookieName
	}
	if cfg.MaxAge == 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	if cfg.MaxAge < MinMaxAge || cfg.MaxAge > MaxMaxAge {
		return nil, fmt.Errorf("session max age must be between %s and %s, got %s", MinMaxAge, MaxMaxAge, cfg.MaxAge)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.AllowInsecureCookie {
		logger.Warn("Session cookie Secure attribute disabled; use only for local development")
	}
	return &Binder{vault: vault, cfg: cfg, logger: logger}, nil
}

// SetAuditor enables audit events for minted and rejected sessions.
func (b *Binder) SetAuditor(a *security.Auditor) {
	b.auditor = a
}

// CookieName returns the configured cookie name.
func (b *Binder) CookieName() string {
	return b.cfg.CookieName
}

// NewID returns a fresh session identifier.
func NewID() (string, error) {
	return security.RandomToken(IDBytes)
}

// Resolve returns the session identifier carried by r, if its cookie opens.
func (b *Binder) Resolve(r *http.Request) (string, bool) {
	c, err := r.Cookie(b.cfg.CookieName)
	if err != nil || c.Value == "" {
		return "", false
	}

	id, err := b.vault.Open(c.Value)
	if err != nil || len(id) < minEncodedIDLength {
		b.logger.Debug("Rejected session cookie", "error", err)
		b.auditor.LogEvent(security.Event{
			Type:      security.EventSessionCookieRejected,
			IPAddress: security.GetClientIP(r, false, 0),
		})
		return "", false
	}
	return id, true
}

// Ensure returns the session identifier for r, minting one and setting the
// cookie on w when r carries none.
func (b *Binder) Ensure(w http.ResponseWriter, r *http.Request) (string, error) {
	if id, ok := b.Resolve(r); ok {
		return id, nil
	}

	id, err := NewID()
	if err != nil {
		return "", fmt.Errorf("failed to mint session: %w", err)
	}
	if err := b.Extend(w, id); err != nil {
		return "", err
	}

	b.auditor.LogEvent(security.Event{
		Type:      security.EventSessionCreated,
		Identity:  id,
		IPAddress: security.GetClientIP(r, false, 0),
	})
	return id, nil
}

// Extend writes a fresh cookie for id, restarting its lifetime.
func (b *Binder) Extend(w http.ResponseWriter, id string) error {
	sealed, err := b.vault.Seal(id)
	if err != nil {
		return fmt.Errorf("failed to seal session: %w", err)
	}
	http.SetCookie(w, b.cookie(sealed, int(b.cfg.MaxAge/time.Second)))
	return nil
}

// Clear expires the session cookie.
func (b *Binder) Clear(w http.ResponseWriter) {
	http.SetCookie(w, b.cookie("", -1))
}

func (b *Binder) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     b.cfg.CookieName,
		Value:    value,
		Path:     "/",
		Domain:   b.cfg.Domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   !b.cfg.AllowInsecureCookie,
		SameSite: http.SameSiteLaxMode,
	}
}

type contextKey struct{}

// WithID returns a context carrying the session identifier.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// IDFromContext returns the session identifier stored by WithID.
func IDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(contextKey{}).(string)
	return id, ok && id != ""
}
