// Package google provides the Google OAuth 2.0 provider used to obtain
// offline access to the Google Analytics Data API.
//
// Authorization requests ask for the read-only analytics scope with
// access_type=offline and prompt=consent, so Google issues a refresh token
// even when the user has consented before, plus include_granted_scopes=true
// and a PKCE S256 challenge. Client credentials are sent in the token request
// body.
//
// Example usage:
//
//	provider, err := google.NewProvider(&google.Config{
//	    ClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
//	    ClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
//	    RedirectURL:  "https://app.example.com/oauth/callback",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
package google
