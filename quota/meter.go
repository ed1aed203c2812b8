package quota

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/coder/quartz"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/analytics-oauth/instrumentation"
	"github.com/giantswarm/analytics-oauth/security"
	"github.com/giantswarm/analytics-oauth/storage"
)

const (
	usageKeyPrefix = "usage:"
	periodLayout   = "2006-01"

	// DefaultUsageTTL outlives the current and the previous period.
	DefaultUsageTTL = 45 * 24 * time.Hour

	fieldPlan   = "plan"
	fieldPeriod = "period"
)

// Period returns the calendar month of t in UTC as "YYYY-MM".
func Period(t time.Time) string {
	return t.UTC().Format(periodLayout)
}

// UsageKey returns the store key of identity's counters for period.
func UsageKey(identity, period string) string {
	return usageKeyPrefix + identity + ":" + period
}

// UsageRecord is the stored form of one identity's counters for one period
// on stores without the Counter primitive.
type UsageRecord struct {
	Period   string         `json:"period"`
	Key      string         `json:"key"`
	Plan     Plan           `json:"plan"`
	Counters map[Kind]int64 `json:"counters"`
}

// Usage is the state of one counter.
type Usage struct {
	Plan   Plan
	Kind   Kind
	Period string
	Used   int64
	Limit  int64
}

// Remaining returns how many calls are left in the period.
func (u Usage) Remaining() int64 {
	if u.Used >= u.Limit {
		return 0
	}
	return u.Limit - u.Used
}

// Meter counts metered calls per identity and calendar month.
//
// On stores implementing storage.Counter the check and the increment are one
// atomic step and the ceiling is exact. Other stores get a read-modify-write
// without locking: concurrent calls may both pass and overshoot the ceiling by
// a few calls.
type Meter struct {
	store        storage.Store
	table        PlanTable
	ttl          time.Duration
	storeTimeout time.Duration
	clock        quartz.Clock
	logger       *slog.Logger

	auditor *security.Auditor
	metrics *instrumentation.Metrics
	tracer  trace.Tracer
}

// NewMeter creates a meter over store.
func NewMeter(store storage.Store, table PlanTable, logger *slog.Logger) *Meter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Meter{
		store:        store,
		table:        table,
		ttl:          DefaultUsageTTL,
		storeTimeout: DefaultStoreTimeout,
		clock:        quartz.NewReal(),
		logger:       logger,
	}
}

// SetStoreTimeout bounds each store call. Non-positive values are ignored.
func (m *Meter) SetStoreTimeout(d time.Duration) {
	if d > 0 {
		m.storeTimeout = d
	}
}

// SetClock replaces the clock that decides the current period.
func (m *Meter) SetClock(clock quartz.Clock) {
	if clock != nil {
		m.clock = clock
	}
}

// SetAuditor sets the security auditor
func (m *Meter) SetAuditor(aud *security.Auditor) {
	m.auditor = aud
}

// SetInstrumentation enables spans and usage decision metrics.
func (m *Meter) SetInstrumentation(inst *instrumentation.Instrumentation) {
	if inst == nil {
		return
	}
	m.tracer = inst.Tracer("quota")
	m.metrics = inst.Metrics()
}

// CheckAndIncrement counts one call of kind for identity under plan. At or
// above the ceiling it returns a *RateLimitError and counts nothing. Store
// failures are returned as errors; the call must not proceed.
func (m *Meter) CheckAndIncrement(ctx context.Context, identity string, plan Plan, kind Kind) (usage *Usage, err error) {
	limits, err := m.table.Limits(plan)
	if err != nil {
		return nil, err
	}
	ceiling, err := limits.Ceiling(kind)
	if err != nil {
		return nil, err
	}

	period := Period(m.clock.Now())
	key := UsageKey(identity, period)

	var span trace.Span
	if m.tracer != nil {
		ctx, span = m.tracer.Start(ctx, "quota.check_and_increment")
		instrumentation.AddQuotaAttributes(span, string(plan), string(kind), period)
		instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrIdentityHash, security.HashForLogging(identity)))
		defer func() {
			if err != nil && !errors.Is(err, ErrRateLimited) {
				instrumentation.RecordError(span, err)
			} else {
				instrumentation.SetSpanSuccess(span)
			}
			span.End()
		}()
	}

	storeCtx, cancel := storeContext(ctx, m.storeTimeout)
	defer cancel()

	var (
		used    int64
		counted bool
	)
	if c, ok := m.store.(storage.Counter); ok {
		meta := map[string]string{fieldPlan: string(plan), fieldPeriod: period}
		used, counted, err = c.IncrementBelow(storeCtx, key, string(kind), ceiling, m.ttl, meta)
	} else {
		used, counted, err = m.incrementSoft(storeCtx, key, identity, plan, kind, period, ceiling)
	}
	if err != nil {
		m.logger.Error("Usage check failed", "identity_hash", security.HashForLogging(identity), "kind", kind, "error", err)
		return nil, fmt.Errorf("failed to update usage: %w", err)
	}

	instrumentation.SetSpanAttributes(span, attribute.Bool(instrumentation.AttrAllowed, counted))
	if m.metrics != nil {
		m.metrics.RecordUsageDecision(ctx, string(plan), string(kind), counted)
	}

	if !counted {
		m.auditor.LogEvent(security.Event{
			Type:     security.EventQuotaExceeded,
			Identity: identity,
			Details: map[string]any{
				"plan":   string(plan),
				"kind":   string(kind),
				"limit":  ceiling,
				"period": period,
			},
		})
		return nil, &RateLimitError{Plan: plan, Kind: kind, Limit: ceiling, Used: used, Period: period}
	}

	return &Usage{Plan: plan, Kind: kind, Period: period, Used: used, Limit: ceiling}, nil
}

func (m *Meter) incrementSoft(ctx context.Context, key, identity string, plan Plan, kind Kind, period string, ceiling int64) (int64, bool, error) {
	record, err := m.loadRecord(ctx, key)
	if err != nil {
		return 0, false, err
	}

	current := record.Counters[kind]
	if current >= ceiling {
		return current, false, nil
	}

	record.Counters[kind] = current + 1
	record.Plan = plan
	record.Period = period
	record.Key = identity

	data, err := json.Marshal(record)
	if err != nil {
		return 0, false, fmt.Errorf("failed to marshal usage record: %w", err)
	}
	if err := m.store.Set(ctx, key, string(data), m.ttl); err != nil {
		return 0, false, err
	}
	return current + 1, true, nil
}

func (m *Meter) loadRecord(ctx context.Context, key string) (*UsageRecord, error) {
	record := &UsageRecord{Counters: make(map[Kind]int64)}

	raw, err := m.store.Get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return record, nil
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(raw), record); err != nil {
		m.logger.Warn("Resetting unreadable usage record", "error", err)
		return &UsageRecord{Counters: make(map[Kind]int64)}, nil
	}
	if record.Counters == nil {
		record.Counters = make(map[Kind]int64)
	}
	return record, nil
}

// Usage returns identity's counters for the current period, one entry per
// kind in Kinds order. It does not count anything.
func (m *Meter) Usage(ctx context.Context, identity string, plan Plan) ([]Usage, error) {
	limits, err := m.table.Limits(plan)
	if err != nil {
		return nil, err
	}

	period := Period(m.clock.Now())
	key := UsageKey(identity, period)

	ctx, cancel := storeContext(ctx, m.storeTimeout)
	defer cancel()

	counters := make(map[Kind]int64, len(Kinds))
	if c, ok := m.store.(storage.Counter); ok {
		fields, err := c.Fields(ctx, key)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("failed to read usage: %w", err)
		}
		for _, kind := range Kinds {
			if v, ok := fields[string(kind)]; ok {
				counters[kind], _ = strconv.ParseInt(v, 10, 64)
			}
		}
	} else {
		record, err := m.loadRecord(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to read usage: %w", err)
		}
		counters = record.Counters
	}

	out := make([]Usage, 0, len(Kinds))
	for _, kind := range Kinds {
		ceiling, _ := limits.Ceiling(kind)
		out = append(out, Usage{
			Plan:   plan,
			Kind:   kind,
			Period: period,
			Used:   counters[kind],
			Limit:  ceiling,
		})
	}
	return out, nil
}
