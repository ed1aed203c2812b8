package google

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/giantswarm/analytics-oauth/instrumentation"
	"github.com/giantswarm/analytics-oauth/providers"
)

const (
	// AnalyticsReadOnlyScope grants read access to Google Analytics data.
	AnalyticsReadOnlyScope = "https://www.googleapis.com/auth/analytics.readonly"

	// DefaultRevokeURL is Google's token revocation endpoint.
	DefaultRevokeURL = "https://oauth2.googleapis.com/revoke"

	// DefaultTimeout bounds every provider round trip.
	DefaultTimeout = 15 * time.Second

	providerName = "google"
)

// Provider implements the providers.Provider interface for Google OAuth.
type Provider struct {
	config     *oauth2.Config
	revokeURL  string
	httpClient *http.Client
	metrics    *instrumentation.Metrics
}

var _ providers.Provider = (*Provider)(nil)

// Config holds Google OAuth configuration
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string     // Defaults to AnalyticsReadOnlyScope
	HTTPClient   *http.Client // Optional custom HTTP client

	// Endpoint overrides google.Endpoint (tests, proxies)
	Endpoint *oauth2.Endpoint

	// RevokeURL overrides DefaultRevokeURL
	RevokeURL string
}

// NewProvider creates a new Google OAuth provider
func NewProvider(cfg *Config) (*Provider, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}
	if cfg.ClientSecret == "" {
		return nil, fmt.Errorf("client secret is required")
	}
	if cfg.RedirectURL == "" {
		return nil, fmt.Errorf("redirect URL is required")
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{AnalyticsReadOnlyScope}
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: DefaultTimeout,
		}
	}

	endpoint := google.Endpoint
	if cfg.Endpoint != nil {
		endpoint = *cfg.Endpoint
	}
	endpoint.AuthStyle = oauth2.AuthStyleInParams

	revokeURL := cfg.RevokeURL
	if revokeURL == "" {
		revokeURL = DefaultRevokeURL
	}

	return &Provider{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint:     endpoint,
		},
		revokeURL:  revokeURL,
		httpClient: httpClient,
	}, nil
}

// SetInstrumentation records provider call metrics.
func (p *Provider) SetInstrumentation(inst *instrumentation.Instrumentation) {
	if inst != nil {
		p.metrics = inst.Metrics()
	}
}

// Name returns the provider name
func (p *Provider) Name() string {
	return providerName
}

// AuthorizationURL generates the Google OAuth authorization URL
func (p *Provider) AuthorizationURL(state, codeChallenge, codeChallengeMethod string) string {
	opts := []oauth2.AuthCodeOption{
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
		oauth2.SetAuthURLParam("include_granted_scopes", "true"),
	}

	if codeChallenge != "" {
		opts = append(opts,
			oauth2.SetAuthURLParam("code_challenge", codeChallenge),
			oauth2.SetAuthURLParam("code_challenge_method", codeChallengeMethod),
		)
	}

	return p.config.AuthCodeURL(state, opts...)
}

// ExchangeCode exchanges an authorization code for tokens
func (p *Provider) ExchangeCode(ctx context.Context, code, codeVerifier string) (*oauth2.Token, error) {
	start := time.Now()
	token, err := providers.ExchangeCodeWithPKCE(ctx, p.config, p.httpClient, code, codeVerifier)
	p.record(ctx, "exchange", start, err)
	return token, err
}

// RefreshToken redeems a refresh token. The oauth2 library keeps the old
// refresh token on the result when Google omits it.
func (p *Provider) RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	start := time.Now()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	tokenSource := p.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})

	newToken, err := tokenSource.Token()
	p.record(ctx, "refresh", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}
	return newToken, nil
}

// RevokeToken revokes a token at Google's revocation endpoint
func (p *Provider) RevokeToken(ctx context.Context, token string) (err error) {
	start := time.Now()
	status := 0
	defer func() {
		if p.metrics != nil {
			p.metrics.RecordProviderAPICall(ctx, providerName, "revoke", status, msSince(start), err)
		}
	}()

	data := url.Values{}
	data.Set("token", token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.revokeURL, strings.NewReader(data.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build revocation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	status = resp.StatusCode
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("token revocation failed with status %d", resp.StatusCode)
	}

	return nil
}

func (p *Provider) record(ctx context.Context, operation string, start time.Time, err error) {
	if p.metrics == nil {
		return
	}
	status := http.StatusOK
	if err != nil {
		status = providers.StatusCode(err)
	}
	p.metrics.RecordProviderAPICall(ctx, providerName, operation, status, msSince(start), err)
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}
