// Package storage defines the key/value contract every piece of durable state
// in analytics-oauth goes through: token records, PKCE verifiers, OAuth state,
// usage counters and property links.
//
// Backends are provided in subpackages and are interchangeable:
//   - storage/rest: the HTTP key/value protocol (GET /get, POST /set, POST /del)
//   - storage/valkey: Valkey via valkey-go
//   - storage/redis: Redis via go-redis
//   - storage/postgres: PostgreSQL via pgx
//   - storage/memory: in-process store for tests and single-instance development
//
// Two optional capabilities refine the basic contract. GetDeleter provides an
// atomic destructive read; Counter provides a conditional increment used by the
// usage meter. Callers type-assert for them and fall back to plain
// Get/Set/Delete when a backend lacks them.
package storage
