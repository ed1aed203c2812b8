package quota

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/coder/quartz"

	"github.com/giantswarm/analytics-oauth/instrumentation"
	"github.com/giantswarm/analytics-oauth/security"
	"github.com/giantswarm/analytics-oauth/storage"
)

const propertiesKeyPrefix = "properties:"

// Entitlement checks recorded in metrics.
const (
	CheckResourceLink = "resource_link"
	CheckLookback     = "lookback"
)

// Property identifies an analytics property a request reads from.
type Property struct {
	ID   string
	Name string
}

// LinkedProperty is one entry of a LinkRecord. AddedAt is Unix seconds.
type LinkedProperty struct {
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	AddedAt int64  `json:"added_at"`
}

// LinkRecord is the list of properties linked to an identity.
type LinkRecord struct {
	Properties []LinkedProperty `json:"properties"`
}

func (r *LinkRecord) contains(id string) bool {
	for _, p := range r.Properties {
		if p.ID == id {
			return true
		}
	}
	return false
}

// Guard enforces entitlements that are not counted per call: the number of
// linked properties and the history window.
type Guard struct {
	store        storage.Store
	table        PlanTable
	storeTimeout time.Duration
	clock        quartz.Clock
	logger       *slog.Logger

	auditor *security.Auditor
	metrics *instrumentation.Metrics
}

// NewGuard creates a guard over store.
func NewGuard(store storage.Store, table PlanTable, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{
		store:        store,
		table:        table,
		storeTimeout: DefaultStoreTimeout,
		clock:        quartz.NewReal(),
		logger:       logger,
	}
}

// SetStoreTimeout bounds each store call. Non-positive values are ignored.
func (g *Guard) SetStoreTimeout(d time.Duration) {
	if d > 0 {
		g.storeTimeout = d
	}
}

// SetClock replaces the clock that decides today's date.
func (g *Guard) SetClock(clock quartz.Clock) {
	if clock != nil {
		g.clock = clock
	}
}

// SetAuditor sets the security auditor
func (g *Guard) SetAuditor(aud *security.Auditor) {
	g.auditor = aud
}

// SetInstrumentation enables entitlement decision metrics.
func (g *Guard) SetInstrumentation(inst *instrumentation.Instrumentation) {
	if inst != nil {
		g.metrics = inst.Metrics()
	}
}

func (g *Guard) record(ctx context.Context, plan Plan, check string, allowed bool) {
	if g.metrics != nil {
		g.metrics.RecordEntitlementDecision(ctx, string(plan), check, allowed)
	}
}

// AssertResourceLink allows a request against property and links it when
// needed. It is CheckResourceLink followed by LinkProperty.
func (g *Guard) AssertResourceLink(ctx context.Context, identity string, plan Plan, property Property) error {
	needsLink, err := g.CheckResourceLink(ctx, identity, plan, property)
	if err != nil || !needsLink {
		return err
	}
	return g.LinkProperty(ctx, identity, plan, property)
}

// CheckResourceLink decides whether a request against property may proceed
// without changing the link record. An already linked property passes. The
// first property of an identity with none linked passes whatever the plan.
// Otherwise the plan must have room, or a *ResourceLimitError is returned.
// needsLink reports that the property must be linked with LinkProperty once
// the request has succeeded.
func (g *Guard) CheckResourceLink(ctx context.Context, identity string, plan Plan, property Property) (needsLink bool, err error) {
	limits, record, err := g.prepare(ctx, identity, plan, property)
	if err != nil {
		return false, err
	}

	switch {
	case record.contains(property.ID):
		g.record(ctx, plan, CheckResourceLink, true)
		return false, nil
	case len(record.Properties) == 0, len(record.Properties) < limits.Properties:
		g.record(ctx, plan, CheckResourceLink, true)
		return true, nil
	default:
		g.record(ctx, plan, CheckResourceLink, false)
		return false, g.limitReached(identity, plan, limits)
	}
}

// LinkProperty links property to identity. The limit is checked again against
// the current record, so a slot taken since CheckResourceLink is not
// exceeded. Linking an already linked property does nothing.
func (g *Guard) LinkProperty(ctx context.Context, identity string, plan Plan, property Property) error {
	limits, record, err := g.prepare(ctx, identity, plan, property)
	if err != nil {
		return err
	}
	if record.contains(property.ID) {
		return nil
	}

	first := len(record.Properties) == 0
	if !first && len(record.Properties) >= limits.Properties {
		return g.limitReached(identity, plan, limits)
	}

	record.Properties = append(record.Properties, LinkedProperty{
		ID:      property.ID,
		Name:    property.Name,
		AddedAt: g.clock.Now().Unix(),
	})
	if err := g.save(ctx, identity, record); err != nil {
		return err
	}

	if first {
		g.logger.Info("Linked first property implicitly", "identity_hash", security.HashForLogging(identity), "plan", plan)
		g.auditor.LogEvent(security.Event{
			Type:     security.EventResourceAutoLinked,
			Identity: identity,
			Details:  map[string]any{"plan": string(plan)},
		})
	}
	return nil
}

func (g *Guard) prepare(ctx context.Context, identity string, plan Plan, property Property) (Limits, *LinkRecord, error) {
	limits, err := g.table.Limits(plan)
	if err != nil {
		return Limits{}, nil, err
	}
	if property.ID == "" {
		return Limits{}, nil, fmt.Errorf("property id is required")
	}
	record, err := g.load(ctx, identity)
	if err != nil {
		return Limits{}, nil, err
	}
	return limits, record, nil
}

func (g *Guard) limitReached(identity string, plan Plan, limits Limits) error {
	g.auditor.LogEvent(security.Event{
		Type:     security.EventResourceLimitReached,
		Identity: identity,
		Details:  map[string]any{"plan": string(plan), "limit": limits.Properties},
	})
	return &ResourceLimitError{Plan: plan, Limit: limits.Properties}
}

// AssertLookback allows a date range starting at start. Plans with a finite
// window reject a start earlier than today - (window - 1) days, compared as
// UTC calendar dates.
func (g *Guard) AssertLookback(ctx context.Context, identity string, plan Plan, start time.Time) error {
	limits, err := g.table.Limits(plan)
	if err != nil {
		return err
	}
	if limits.UnlimitedLookback() {
		g.record(ctx, plan, CheckLookback, true)
		return nil
	}

	earliest := EarliestStart(g.clock.Now(), limits.LookbackDays)
	if truncateDay(start).Before(earliest) {
		g.record(ctx, plan, CheckLookback, false)
		g.auditor.LogEvent(security.Event{
			Type:     security.EventLookbackExceeded,
			Identity: identity,
			Details: map[string]any{
				"plan":        string(plan),
				"window_days": limits.LookbackDays,
			},
		})
		return &LookbackError{Plan: plan, WindowDays: limits.LookbackDays, Earliest: earliest}
	}

	g.record(ctx, plan, CheckLookback, true)
	return nil
}

// EarliestStart returns the first date a window of days covers at now.
func EarliestStart(now time.Time, days int) time.Time {
	return truncateDay(now).AddDate(0, 0, -(days - 1))
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Properties returns the properties linked to identity.
func (g *Guard) Properties(ctx context.Context, identity string) ([]LinkedProperty, error) {
	record, err := g.load(ctx, identity)
	if err != nil {
		return nil, err
	}
	return record.Properties, nil
}

// UnlinkProperty removes id from identity's linked properties. Removing a
// property that is not linked is not an error.
func (g *Guard) UnlinkProperty(ctx context.Context, identity, id string) error {
	record, err := g.load(ctx, identity)
	if err != nil {
		return err
	}

	kept := record.Properties[:0]
	for _, p := range record.Properties {
		if p.ID != id {
			kept = append(kept, p)
		}
	}
	if len(kept) == len(record.Properties) {
		return nil
	}
	record.Properties = kept
	return g.save(ctx, identity, record)
}

func (g *Guard) load(ctx context.Context, identity string) (*LinkRecord, error) {
	record := &LinkRecord{}

	ctx, cancel := storeContext(ctx, g.storeTimeout)
	defer cancel()

	raw, err := g.store.Get(ctx, propertiesKeyPrefix+identity)
	if errors.Is(err, storage.ErrNotFound) {
		return record, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load linked properties: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), record); err != nil {
		return nil, fmt.Errorf("failed to decode linked properties: %w", err)
	}
	return record, nil
}

func (g *Guard) save(ctx context.Context, identity string, record *LinkRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal linked properties: %w", err)
	}

	ctx, cancel := storeContext(ctx, g.storeTimeout)
	defer cancel()

	if err := g.store.Set(ctx, propertiesKeyPrefix+identity, string(data), 0); err != nil {
		return fmt.Errorf("failed to store linked properties: %w", err)
	}
	return nil
}
