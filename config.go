package oauth

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/giantswarm/analytics-oauth/quota"
	"github.com/giantswarm/analytics-oauth/server"
	"github.com/giantswarm/analytics-oauth/session"
)

// Config holds the analytics access configuration
// Structured using composition for better organization and maintainability
type Config struct {
	// Google OAuth credentials and settings
	GoogleAuth GoogleAuthConfig

	// Session cookie and vault settings
	Session SessionConfig

	// Store selects and addresses the key/value backend
	Store StoreConfig

	// Plans configures plan limits and plan resolution
	Plans PlansConfig

	// Links are the pages users are sent to after a flow or rejection
	Links LinksConfig

	// Rate limiting configuration for the connect and callback endpoints
	RateLimit RateLimitConfig

	// Security settings (secure by default)
	Security SecurityConfig

	// Token holds flow and token lifecycle timeouts
	Token server.Config

	// Instrumentation configures OpenTelemetry
	Instrumentation InstrumentationConfig

	// Logger for structured logging (optional, uses default if not provided)
	Logger *slog.Logger

	// HTTPClient is a custom HTTP client for provider and REST store requests
	HTTPClient *http.Client
}

// GoogleAuthConfig holds Google OAuth client configuration
type GoogleAuthConfig struct {
	// ClientID is the Google OAuth Client ID (required).
	ClientID string

	// ClientSecret is the Google OAuth Client Secret (required).
	ClientSecret string

	// RedirectURL is where Google redirects after consent (required).
	RedirectURL string
}

// SessionConfig holds session cookie settings
type SessionConfig struct {
	// Secret keys the vault that seals session cookies and tokens at rest.
	// At least 32 bytes (required).
	Secret string

	// Salt is the HKDF salt. Default: security.DefaultSalt
	Salt string

	// CookieName defaults to session.DefaultCookieName
	CookieName string

	// CookieDomain is the optional cookie Domain attribute
	CookieDomain string

	// MaxAge is the cookie lifetime, 30 to 90 days. Default: 60 days
	MaxAge time.Duration

	// AllowInsecureCookie drops the Secure attribute.
	// WARNING: Only for local development over plain HTTP.
	AllowInsecureCookie bool
}

// Store backends.
const (
	StoreBackendREST     = "rest"
	StoreBackendValkey   = "valkey"
	StoreBackendRedis    = "redis"
	StoreBackendPostgres = "postgres"
	StoreBackendMemory   = "memory"
)

// StoreConfig selects the key/value backend. Only the fields of the selected
// backend are read.
type StoreConfig struct {
	// Backend is one of the StoreBackend constants. Default: "rest"
	Backend string

	// URL and Token address the REST key/value service
	URL   string
	Token string

	// ValkeyAddr is the Valkey server address
	ValkeyAddr string

	// RedisURL is a redis:// or rediss:// URL
	RedisURL string

	// PostgresDSN is a PostgreSQL connection string
	PostgresDSN string

	// KeyPrefix namespaces keys on Valkey and Redis. Default: "analytics:"
	KeyPrefix string
}

// PlansConfig holds plan limits and resolution settings
type PlansConfig struct {
	// Table holds the limits of every plan. Default: quota.DefaultPlanTable()
	Table *quota.PlanTable

	// DefaultPlan applies to identities without a plan record. Default: free
	DefaultPlan quota.Plan

	// Override makes every identity resolve to one plan.
	// WARNING: For QA environments only. Every use is audited.
	Override quota.Plan
}

// LinksConfig holds the URLs the HTTP surface points users to
type LinksConfig struct {
	// UpgradeURL is included in quota and entitlement rejections. Default: "/pricing"
	UpgradeURL string

	// ReconnectURL restarts the connect flow. Default: "/oauth/connect"
	ReconnectURL string

	// SuccessRedirectURL is where a completed connect flow lands. Default: "/"
	SuccessRedirectURL string
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	// Rate is requests per second allowed per IP. Zero disables limiting.
	Rate int

	// Burst is the maximum burst size allowed per IP.
	Burst int

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers.
	// Only enable behind a trusted reverse proxy.
	TrustProxy bool

	// TrustedProxyCount is the number of proxies in front of the service. Default: 1
	TrustedProxyCount int
}

// SecurityConfig holds security settings (secure by default)
type SecurityConfig struct {
	// DisableTokenEncryption stores provider tokens in plain text.
	// WARNING: Anyone with store access can then call the analytics API.
	DisableTokenEncryption bool

	// EnableAuditLogging enables security audit logging (identities hashed).
	EnableAuditLogging bool
}

// InstrumentationConfig holds OpenTelemetry configuration
type InstrumentationConfig struct {
	// Enabled turns on metrics and tracing
	Enabled bool

	// ServiceName defaults to "analytics-oauth"
	ServiceName string

	// ServiceVersion defaults to "dev"
	ServiceVersion string

	// MetricsExporter is "prometheus" or "none"
	MetricsExporter string

	// TracesExporter is "stdout" or "none"
	TracesExporter string
}

// Default values applied by applySecureDefaults.
const (
	DefaultUpgradeURL         = "/pricing"
	DefaultReconnectURL       = "/oauth/connect"
	DefaultSuccessRedirectURL = "/"
	DefaultServiceName        = "analytics-oauth"
)

// applySecureDefaults fills unset fields. It never weakens an explicit setting.
func applySecureDefaults(cfg *Config) *Config {
	c := *cfg
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Store.Backend == "" {
		c.Store.Backend = StoreBackendREST
	}
	if c.Plans.Table == nil {
		table := quota.DefaultPlanTable()
		c.Plans.Table = &table
	}
	if c.Plans.DefaultPlan == "" {
		c.Plans.DefaultPlan = quota.PlanFree
	}
	if c.Session.CookieName == "" {
		c.Session.CookieName = session.DefaultCookieName
	}
	if c.Session.MaxAge == 0 {
		c.Session.MaxAge = session.DefaultMaxAge
	}
	if c.Links.UpgradeURL == "" {
		c.Links.UpgradeURL = DefaultUpgradeURL
	}
	if c.Links.ReconnectURL == "" {
		c.Links.ReconnectURL = DefaultReconnectURL
	}
	if c.Links.SuccessRedirectURL == "" {
		c.Links.SuccessRedirectURL = DefaultSuccessRedirectURL
	}
	if c.RateLimit.TrustProxy && c.RateLimit.TrustedProxyCount <= 0 {
		c.RateLimit.TrustedProxyCount = 1
	}
	if c.Instrumentation.ServiceName == "" {
		c.Instrumentation.ServiceName = DefaultServiceName
	}
	if c.Instrumentation.ServiceVersion == "" {
		c.Instrumentation.ServiceVersion = "dev"
	}

	if c.Security.DisableTokenEncryption {
		c.Logger.Warn("Token encryption at rest is disabled")
	}
	if c.Plans.Override != "" {
		c.Logger.Warn("Plan override configured", "plan", c.Plans.Override)
	}
	return &c
}

// Validate checks the configuration after defaults are applied.
func (c *Config) Validate() error {
	if c.GoogleAuth.ClientID == "" || c.GoogleAuth.ClientSecret == "" {
		return fmt.Errorf("google client id and secret are required")
	}
	if c.GoogleAuth.RedirectURL == "" {
		return fmt.Errorf("google redirect url is required")
	}
	u, err := url.Parse(c.GoogleAuth.RedirectURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("google redirect url must be absolute: %q", c.GoogleAuth.RedirectURL)
	}
	if u.Scheme != "https" && !c.Session.AllowInsecureCookie {
		return fmt.Errorf("google redirect url must use https unless insecure cookies are allowed")
	}

	if c.Session.Secret == "" {
		return fmt.Errorf("session secret is required")
	}

	switch c.Store.Backend {
	case StoreBackendREST:
		if c.Store.URL == "" || c.Store.Token == "" {
			return fmt.Errorf("rest store requires url and token")
		}
	case StoreBackendValkey:
		if c.Store.ValkeyAddr == "" {
			return fmt.Errorf("valkey store requires an address")
		}
	case StoreBackendRedis:
		if c.Store.RedisURL == "" {
			return fmt.Errorf("redis store requires a url")
		}
	case StoreBackendPostgres:
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("postgres store requires a dsn")
		}
	case StoreBackendMemory:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}

	if c.Plans.Table != nil {
		if err := c.Plans.Table.Validate(); err != nil {
			return err
		}
	}
	if c.Plans.DefaultPlan != "" {
		if _, err := quota.ParsePlan(string(c.Plans.DefaultPlan)); err != nil {
			return fmt.Errorf("default plan: %w", err)
		}
	}
	if c.Plans.Override != "" {
		if _, err := quota.ParsePlan(string(c.Plans.Override)); err != nil {
			return fmt.Errorf("plan override: %w", err)
		}
	}

	if c.RateLimit.Rate < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate limit values must not be negative")
	}
	return nil
}

// secureTransport reports whether the service is reached over HTTPS.
func (c *Config) secureTransport() bool {
	u, err := url.Parse(c.GoogleAuth.RedirectURL)
	return err == nil && u.Scheme == "https"
}
