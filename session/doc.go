// Package session binds browser requests to server-side session identifiers.
//
// A session identifier is 32 random bytes, base64url encoded. It never leaves
// the server in clear text: the cookie carries the identifier sealed by a
// security.Vault, so the cookie is a pointer to server-side state rather than
// the state itself. Identifiers key the PKCE challenge, the OAuth state and,
// in deployments without a stable user key, the token record.
package session
