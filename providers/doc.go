// Package providers defines the OAuth provider interface used by the
// authorization flow.
//
// Implementations are provided in subpackages:
//   - providers/google: Google OAuth 2.0 with offline access for the
//     Analytics Data API
//   - providers/mock: Mock provider for testing
//
// Provider implementations handle:
//   - Authorization URL generation with PKCE (S256)
//   - Authorization code exchange
//   - Token refresh
//   - Token revocation
//
// Example usage:
//
//	provider, err := google.NewProvider(&google.Config{
//	    ClientID:     "your-client-id",
//	    ClientSecret: "your-client-secret",
//	    RedirectURL:  "https://app.example.com/oauth/callback",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	flows, _ := server.NewFlowController(provider, challenges, tokens, config, logger)
package providers
