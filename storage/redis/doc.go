// Package redis provides a Redis storage backend for analytics-oauth built on
// go-redis. It accepts any redis.UniversalClient, so single nodes, Sentinel
// and Cluster deployments share one implementation.
//
// The key schema and semantics match the valkey package: GETDEL backs the
// single-use reads and the usage counter runs as a Lua script.
package redis
