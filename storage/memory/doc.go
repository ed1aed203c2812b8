// Package memory provides an in-process implementation of storage.Store,
// storage.GetDeleter and storage.Counter.
//
// Entries expire lazily on read and are swept by a background loop. Time is
// taken from a quartz.Clock so tests can drive expiry deterministically:
//
//	clock := quartz.NewMock(t)
//	store := memory.NewWithClock(clock, -1) // no background sweep
//	defer store.Stop()
//
// State is lost on restart. Use it for development and tests; production
// deployments use the rest, valkey, redis or postgres backends.
package memory
