package testutil

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/coder/quartz"

	"github.com/giantswarm/analytics-oauth/storage"
)

// Logger returns a logger that discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Clock returns a mock clock set to now.
func Clock(t testing.TB, now time.Time) *quartz.Mock {
	t.Helper()
	clock := quartz.NewMock(t)
	clock.Set(now)
	return clock
}

// FailingStore returns Err from every call. Optional interfaces of the
// embedded Store are not exposed.
type FailingStore struct {
	storage.Store
	Err error
}

func (f FailingStore) Get(context.Context, string) (string, error) { return "", f.Err }

func (f FailingStore) Set(context.Context, string, string, time.Duration) error { return f.Err }

func (f FailingStore) Delete(context.Context, string) error { return f.Err }
