package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get and GetDelete when the key does not exist or has expired.
var ErrNotFound = errors.New("key not found")

var errMalformedReply = errors.New("malformed counter reply")

// Store is a key/value store with optional per-key expiry.
//
// A ttl of zero stores the value without expiry. Delete of a missing key is
// not an error. Implementations must be safe for concurrent use.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// GetDeleter is implemented by stores that can read and remove a key in one
// atomic step. Single-use values (PKCE verifiers, OAuth state) prefer it.
type GetDeleter interface {
	GetDelete(ctx context.Context, key string) (string, error)
}

// Counter is implemented by stores that can conditionally increment a field of
// a hash-like record in a single round trip.
type Counter interface {
	// IncrementBelow adds one to field at key unless the current value is
	// already >= ceiling. meta fields are written alongside a successful
	// increment. ttl is applied only when the key has no expiry yet.
	// It returns the value after the operation and whether it incremented.
	IncrementBelow(ctx context.Context, key, field string, ceiling int64, ttl time.Duration, meta map[string]string) (int64, bool, error)

	// Fields returns all fields of the record at key, or ErrNotFound.
	Fields(ctx context.Context, key string) (map[string]string, error)
}

// GetDelete reads and removes key, atomically when s implements GetDeleter.
// The fallback is a Get followed by a Delete; a failed Delete is reported so
// a single-use value is never handed out while it is still redeemable.
func GetDelete(ctx context.Context, s Store, key string) (string, error) {
	if gd, ok := s.(GetDeleter); ok {
		return gd.GetDelete(ctx, key)
	}

	value, err := s.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if err := s.Delete(ctx, key); err != nil {
		return "", err
	}
	return value, nil
}
