// Package server implements the provider side of the analytics connection:
// the PKCE authorization code flow and the lifecycle of the stored token.
//
// A connect flow stores a verifier under "pkce:{session}" and a state nonce
// under "oauth_state:{session}", both single use with a ten minute lifetime.
// A successful callback stores a TokenRecord under "token:{identity}".
//
// TokenManager.Bearer is the only way request handling obtains an access
// token. It serves the cached token while it has more than RefreshSkew left,
// otherwise refreshes it exactly once:
//
//	token, err := srv.Tokens.Bearer(ctx, identity)
//	if errors.Is(err, server.ErrAuthRequired) {
//		// send the user through the connect flow
//	}
//
// A record without a refresh token is terminal. A rejected refresh never
// deletes the record; the user reconnects to replace it.
package server
