// Package valkey provides a Valkey storage backend for analytics-oauth.
//
// Valkey is wire-compatible with Redis. The Store type implements
// [storage.Store], [storage.GetDeleter] and [storage.Counter]:
//
//   - Get/Set/Delete map to GET, SET (with EX when a TTL is given) and DEL
//   - GetDelete maps to GETDEL, so PKCE verifiers and OAuth state are single-use
//     even under concurrent callbacks
//   - IncrementBelow runs a Lua script that checks the ceiling and increments
//     the usage hash in one server-side step
//
// # Key Schema
//
// All keys use a configurable prefix (default "analytics:") to avoid conflicts
// with other applications sharing the same Valkey instance:
//
//	{prefix}token:{identity}          -> sealed JSON token record
//	{prefix}pkce:{session}            -> JSON verifier record (10 minute TTL)
//	{prefix}oauth_state:{session}     -> state nonce (10 minute TTL)
//	{prefix}usage:{identity}:{YYYY-MM} -> hash of counters plus plan/period
//	{prefix}properties:{identity}     -> JSON property links
//	{prefix}plan:{identity}           -> plan name
//
// # Usage
//
//	store, err := valkey.New(valkey.Config{
//	    Address:   "localhost:6379",
//	    KeyPrefix: "analytics:",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
// # Testing
//
// Tests run against a live server and are skipped when none is reachable.
// Point VALKEY_TEST_ADDR at a server to run them.
package valkey
