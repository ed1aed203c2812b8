// Package providers defines the interface for the OAuth provider that issues
// analytics credentials.
package providers

import (
	"context"

	"golang.org/x/oauth2"
)

// PKCEMethodS256 is the only code challenge method this module sends.
const PKCEMethodS256 = "S256"

// Provider defines the interface for an OAuth authorization server.
// Tokens are standard oauth2.Token values.
type Provider interface {
	// Name returns the provider name (e.g., "google")
	Name() string

	// AuthorizationURL generates the URL to redirect users for consent.
	// codeChallenge and codeChallengeMethod carry the PKCE challenge.
	AuthorizationURL(state string, codeChallenge string, codeChallengeMethod string) string

	// ExchangeCode exchanges an authorization code and its PKCE verifier for tokens
	ExchangeCode(ctx context.Context, code string, codeVerifier string) (*oauth2.Token, error)

	// RefreshToken redeems a refresh token for a new access token.
	// Implementations must not retry.
	RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error)

	// RevokeToken revokes a token at the provider
	RevokeToken(ctx context.Context, token string) error
}
