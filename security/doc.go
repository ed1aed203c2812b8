// Package security provides the vault, audit logging, rate limiting and
// HTTP hardening shared by the session, flow and quota packages.
//
// # Vault
//
// Vault seals session identifiers for cookie transport and, optionally,
// OAuth tokens at rest. The AES-256 key is derived with HKDF-SHA256 from a
// secret and salt; the same pair always yields the same key, and changing
// either invalidates every outstanding cookie. Sealed values are
//
//	base64url_nopad(nonce[12] || tag[16] || ciphertext)
//
// and Open fails closed with ErrInvalidToken on anything it cannot
// authenticate.
//
// # Rate Limiting
//
// RateLimiter is a per-IP token bucket with LRU eviction used in front of
// the connect and callback endpoints:
//
//	limiter := security.NewRateLimiter(10, 20, logger)
//	defer limiter.Stop()
//	r.Use(limiter.Middleware(security.ClientIPFunc(false, 0), nil))
//
// # Audit
//
// Auditor emits "security_audit" log records. Identities are hashed with
// HashForLogging before they reach the log.
package security
