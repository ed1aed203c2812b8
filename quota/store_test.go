package quota

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/giantswarm/analytics-oauth/internal/testutil"
	"github.com/giantswarm/analytics-oauth/storage"
	"github.com/giantswarm/analytics-oauth/storage/memory"
)

var errNoDeadline = errors.New("store call without deadline")

// contextStore fails every call whose context is done or unbounded, like a
// network backend would.
type contextStore struct {
	inner *memory.Store
}

func (c contextStore) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := ctx.Deadline(); !ok {
		return errNoDeadline
	}
	return nil
}

func (c contextStore) Get(ctx context.Context, key string) (string, error) {
	if err := c.check(ctx); err != nil {
		return "", err
	}
	return c.inner.Get(ctx, key)
}

func (c contextStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.check(ctx); err != nil {
		return err
	}
	return c.inner.Set(ctx, key, value, ttl)
}

func (c contextStore) Delete(ctx context.Context, key string) error {
	if err := c.check(ctx); err != nil {
		return err
	}
	return c.inner.Delete(ctx, key)
}

func (c contextStore) IncrementBelow(ctx context.Context, key, field string, ceiling int64, ttl time.Duration, meta map[string]string) (int64, bool, error) {
	if err := c.check(ctx); err != nil {
		return 0, false, err
	}
	return c.inner.IncrementBelow(ctx, key, field, ceiling, ttl, meta)
}

func (c contextStore) Fields(ctx context.Context, key string) (map[string]string, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	return c.inner.Fields(ctx, key)
}

var _ storage.Counter = contextStore{}

func cancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

func TestMeter_StoreCallsOutliveRequest(t *testing.T) {
	cases := []storeCase{
		{name: "counter", wrap: func(s *memory.Store) storage.Store { return contextStore{inner: s} }},
		{name: "read-modify-write", wrap: func(s *memory.Store) storage.Store { return plainStore{inner: contextStore{inner: s}} }},
	}
	for _, sc := range cases {
		t.Run(sc.name, func(t *testing.T) {
			m, _, _ := newTestMeter(t, sc.wrap, DefaultPlanTable())
			ctx := cancelledContext()

			u, err := m.CheckAndIncrement(ctx, "user-1", PlanFree, KindReports)
			if err != nil {
				t.Fatalf("CheckAndIncrement() error = %v", err)
			}
			if u.Used != 1 {
				t.Errorf("Used = %d, want 1", u.Used)
			}

			usage, err := m.Usage(ctx, "user-1", PlanFree)
			if err != nil {
				t.Fatalf("Usage() error = %v", err)
			}
			if usage[0].Used != 1 {
				t.Errorf("Usage()[0].Used = %d, want 1", usage[0].Used)
			}
		})
	}
}

func TestGuard_StoreCallsOutliveRequest(t *testing.T) {
	clock := testutil.Clock(t, time.Date(2025, 3, 31, 15, 30, 0, 0, time.UTC))
	mem := memory.NewWithClock(clock, -1)
	t.Cleanup(mem.Stop)

	g := NewGuard(contextStore{inner: mem}, DefaultPlanTable(), testutil.Logger())
	g.SetClock(clock)
	ctx := cancelledContext()

	if err := g.AssertResourceLink(ctx, "u", PlanFree, Property{ID: "p1"}); err != nil {
		t.Fatalf("AssertResourceLink() error = %v", err)
	}
	props, err := g.Properties(ctx, "u")
	if err != nil {
		t.Fatalf("Properties() error = %v", err)
	}
	if len(props) != 1 || props[0].ID != "p1" {
		t.Errorf("Properties() = %+v, want p1", props)
	}
	if err := g.UnlinkProperty(ctx, "u", "p1"); err != nil {
		t.Errorf("UnlinkProperty() error = %v", err)
	}
}

func TestStorePlanResolver_StoreCallsOutliveRequest(t *testing.T) {
	mem := memory.New()
	t.Cleanup(mem.Stop)

	r, err := NewStorePlanResolver(contextStore{inner: mem}, PlanFree, testutil.Logger())
	if err != nil {
		t.Fatalf("NewStorePlanResolver() error = %v", err)
	}
	ctx := cancelledContext()

	if err := r.SetPlan(ctx, "u", PlanPro); err != nil {
		t.Fatalf("SetPlan() error = %v", err)
	}
	plan, err := r.Resolve(ctx, "u")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if plan != PlanPro {
		t.Errorf("Resolve() = %q, want %q", plan, PlanPro)
	}
}

func TestStoreContext_Timeout(t *testing.T) {
	ctx, cancel := storeContext(cancelledContext(), 0)
	defer cancel()

	if ctx.Err() != nil {
		t.Errorf("Err() = %v, want nil", ctx.Err())
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		t.Fatal("Deadline() not set")
	}
	if d := time.Until(deadline); d <= 0 || d > DefaultStoreTimeout {
		t.Errorf("deadline in %v, want within %v", d, DefaultStoreTimeout)
	}
}
