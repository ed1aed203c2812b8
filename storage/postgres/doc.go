// Package postgres provides a PostgreSQL storage backend for analytics-oauth.
//
// Plain values live in the kv table; usage counters live in kv_hash, one row
// per field. Expired rows are invisible to reads and removed by Cleanup.
// The schema is managed with goose migrations embedded in the binary.
package postgres
