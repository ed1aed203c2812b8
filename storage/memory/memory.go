package memory

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/quartz"

	"github.com/giantswarm/analytics-oauth/instrumentation"
	"github.com/giantswarm/analytics-oauth/storage"
)

const backendName = "memory"

// ErrWrongType is returned when a string operation targets a hash record or vice versa.
var ErrWrongType = errors.New("operation against a key holding the wrong kind of value")

type entry struct {
	value     string
	fields    map[string]string
	expiresAt time.Time // zero means no expiry
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Store is an in-memory key/value store with TTLs.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry

	clock  quartz.Clock
	logger *slog.Logger
	obs    *storage.Observer

	size atomic.Int64

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
}

var (
	_ storage.Store      = (*Store)(nil)
	_ storage.GetDeleter = (*Store)(nil)
	_ storage.Counter    = (*Store)(nil)
)

// New creates a store with a one minute cleanup interval.
func New() *Store {
	return NewWithClock(quartz.NewReal(), time.Minute)
}

// NewWithClock creates a store driven by clock. A zero interval defaults to
// one minute; a negative interval disables background cleanup, leaving expired
// entries invisible but resident until Cleanup is called.
func NewWithClock(clock quartz.Clock, cleanupInterval time.Duration) *Store {
	if cleanupInterval == 0 {
		cleanupInterval = time.Minute
	}
	s := &Store{
		entries:         make(map[string]*entry),
		clock:           clock,
		logger:          slog.Default(),
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
	}

	if cleanupInterval > 0 {
		go s.cleanupLoop()
	}

	return s
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetInstrumentation enables spans, metrics and the entry count gauge.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.obs = storage.NewObserver(backendName, inst)
	if inst == nil {
		return
	}
	if err := inst.RegisterStorageSizeCallback(backendName, s.size.Load); err != nil {
		s.logger.Warn("Failed to register storage size callback", "error", err)
	}
}

// lookup returns a live entry. Must be called with mu held.
func (s *Store) lookup(key string, now time.Time) (*entry, bool) {
	e, ok := s.entries[key]
	if !ok || e.expired(now) {
		return nil, false
	}
	return e, true
}

func (s *Store) expiry(ttl time.Duration, now time.Time) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

// Get returns the value at key.
func (s *Store) Get(ctx context.Context, key string) (value string, err error) {
	_, done := s.obs.Start(ctx, "get")
	defer func() { done(err) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.lookup(key, s.clock.Now())
	if !ok {
		return "", storage.ErrNotFound
	}
	if e.fields != nil {
		return "", ErrWrongType
	}
	return e.value, nil
}

// Set stores value at key, replacing any previous record.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) (err error) {
	_, done := s.obs.Start(ctx, "set")
	defer func() { done(err) }()

	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[key]; !ok {
		s.size.Add(1)
	}
	s.entries[key] = &entry{value: value, expiresAt: s.expiry(ttl, now)}
	return nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) (err error) {
	_, done := s.obs.Start(ctx, "delete")
	defer func() { done(err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.remove(key)
	return nil
}

// Must be called with mu held.
func (s *Store) remove(key string) {
	if _, ok := s.entries[key]; ok {
		delete(s.entries, key)
		s.size.Add(-1)
	}
}

// GetDelete returns and removes the value at key under one lock.
func (s *Store) GetDelete(ctx context.Context, key string) (value string, err error) {
	_, done := s.obs.Start(ctx, "getdel")
	defer func() { done(err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(key, s.clock.Now())
	if !ok {
		return "", storage.ErrNotFound
	}
	if e.fields != nil {
		return "", ErrWrongType
	}
	s.remove(key)
	return e.value, nil
}

// IncrementBelow implements storage.Counter.
func (s *Store) IncrementBelow(ctx context.Context, key, field string, ceiling int64, ttl time.Duration, meta map[string]string) (value int64, incremented bool, err error) {
	_, done := s.obs.Start(ctx, "increment")
	defer func() { done(err) }()

	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(key, now)
	if ok && e.fields == nil {
		return 0, false, ErrWrongType
	}

	var current int64
	if ok {
		current, _ = strconv.ParseInt(e.fields[field], 10, 64)
	}
	if current >= ceiling {
		return current, false, nil
	}

	if !ok {
		if _, stale := s.entries[key]; !stale {
			s.size.Add(1)
		}
		e = &entry{fields: make(map[string]string)}
		s.entries[key] = e
	}

	current++
	e.fields[field] = strconv.FormatInt(current, 10)
	for k, v := range meta {
		e.fields[k] = v
	}
	if e.expiresAt.IsZero() {
		e.expiresAt = s.expiry(ttl, now)
	}
	return current, true, nil
}

// Fields implements storage.Counter.
func (s *Store) Fields(ctx context.Context, key string) (fields map[string]string, err error) {
	_, done := s.obs.Start(ctx, "fields")
	defer func() { done(err) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.lookup(key, s.clock.Now())
	if !ok {
		return nil, storage.ErrNotFound
	}
	if e.fields == nil {
		return nil, ErrWrongType
	}

	out := make(map[string]string, len(e.fields))
	for k, v := range e.fields {
		out[k] = v
	}
	return out, nil
}

// TTL returns the remaining lifetime of key, zero when it has none.
func (s *Store) TTL(key string) (time.Duration, bool) {
	now := s.clock.Now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.lookup(key, now)
	if !ok {
		return 0, false
	}
	if e.expiresAt.IsZero() {
		return 0, true
	}
	return e.expiresAt.Sub(now), true
}

// Len returns the number of stored entries, including expired ones not yet swept.
func (s *Store) Len() int {
	return int(s.size.Load())
}

func (s *Store) cleanupLoop() {
	ticker := s.clock.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Cleanup()
		case <-s.stopCleanup:
			return
		}
	}
}

// Cleanup removes expired entries and returns how many were removed.
func (s *Store) Cleanup() int {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, key)
			removed++
		}
	}
	s.size.Add(int64(-removed))

	if removed > 0 {
		s.logger.Debug("Cleaned up expired entries", "removed", removed, "remaining", len(s.entries))
	}
	return removed
}

// Stop stops the background cleanup goroutine. It is safe to call more than once.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
}
