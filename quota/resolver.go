package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/giantswarm/analytics-oauth/security"
	"github.com/giantswarm/analytics-oauth/storage"
)

const planKeyPrefix = "plan:"

// PlanResolver returns the plan an identity is subscribed to.
type PlanResolver interface {
	Resolve(ctx context.Context, identity string) (Plan, error)
}

// StorePlanResolver reads plans written to "plan:{identity}" by the billing
// system. Identities without a plan record get the default plan.
type StorePlanResolver struct {
	store        storage.Store
	storeTimeout time.Duration
	defaultPlan  Plan
	override     Plan
	logger       *slog.Logger
	auditor      *security.Auditor
}

var _ PlanResolver = (*StorePlanResolver)(nil)

// NewStorePlanResolver creates a resolver. An empty defaultPlan means PlanFree.
func NewStorePlanResolver(store storage.Store, defaultPlan Plan, logger *slog.Logger) (*StorePlanResolver, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if defaultPlan == "" {
		defaultPlan = PlanFree
	}
	if _, err := ParsePlan(string(defaultPlan)); err != nil {
		return nil, fmt.Errorf("invalid default plan: %w", err)
	}
	return &StorePlanResolver{
		store:        store,
		storeTimeout: DefaultStoreTimeout,
		defaultPlan:  defaultPlan,
		logger:       logger,
	}, nil
}

// SetStoreTimeout bounds each store call. Non-positive values are ignored.
func (r *StorePlanResolver) SetStoreTimeout(d time.Duration) {
	if d > 0 {
		r.storeTimeout = d
	}
}

// SetOverride makes every identity resolve to plan, whatever is stored.
// Meant for QA environments. An empty plan removes the override.
func (r *StorePlanResolver) SetOverride(plan Plan) error {
	if plan == "" {
		r.override = ""
		return nil
	}
	if _, err := ParsePlan(string(plan)); err != nil {
		return fmt.Errorf("invalid plan override: %w", err)
	}
	r.override = plan
	r.logger.Warn("Plan override enabled, stored plans are ignored", "plan", plan)
	return nil
}

// SetAuditor sets the security auditor
func (r *StorePlanResolver) SetAuditor(aud *security.Auditor) {
	r.auditor = aud
}

// SetPlan records plan for identity.
func (r *StorePlanResolver) SetPlan(ctx context.Context, identity string, plan Plan) error {
	if _, err := ParsePlan(string(plan)); err != nil {
		return err
	}

	ctx, cancel := storeContext(ctx, r.storeTimeout)
	defer cancel()

	if err := r.store.Set(ctx, planKeyPrefix+identity, string(plan), 0); err != nil {
		return fmt.Errorf("failed to store plan: %w", err)
	}
	return nil
}

// Resolve returns identity's plan.
func (r *StorePlanResolver) Resolve(ctx context.Context, identity string) (Plan, error) {
	if r.override != "" {
		r.auditor.LogEvent(security.Event{
			Type:     security.EventPlanOverrideApplied,
			Identity: identity,
			Details:  map[string]any{"plan": string(r.override)},
		})
		return r.override, nil
	}

	ctx, cancel := storeContext(ctx, r.storeTimeout)
	defer cancel()

	raw, err := r.store.Get(ctx, planKeyPrefix+identity)
	if errors.Is(err, storage.ErrNotFound) {
		r.logger.Debug("No plan record, using default plan", "identity_hash", security.HashForLogging(identity), "plan", r.defaultPlan)
		return r.defaultPlan, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load plan: %w", err)
	}

	plan, err := ParsePlan(raw)
	if err != nil {
		return "", err
	}
	return plan, nil
}
