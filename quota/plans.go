package quota

import (
	"errors"
	"fmt"
	"strings"
)

// Plan is a subscription tier.
type Plan string

const (
	PlanFree   Plan = "free"
	PlanPro    Plan = "pro"
	PlanAgency Plan = "agency"
)

// Plans lists every tier in ascending order.
var Plans = []Plan{PlanFree, PlanPro, PlanAgency}

// ErrUnknownPlan is returned for a plan name outside Plans.
var ErrUnknownPlan = errors.New("unknown plan")

// ErrUnknownKind is returned for a usage kind outside Kinds.
var ErrUnknownKind = errors.New("unknown usage kind")

// ParsePlan parses a plan name. Matching is case-insensitive.
func ParsePlan(s string) (Plan, error) {
	switch p := Plan(strings.ToLower(strings.TrimSpace(s))); p {
	case PlanFree, PlanPro, PlanAgency:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPlan, s)
	}
}

// Kind is a metered operation.
type Kind string

const (
	// KindReports counts analytics report queries.
	KindReports Kind = "reports"

	// KindSummaries counts generated summaries of report data.
	KindSummaries Kind = "summaries"
)

// Kinds lists every metered kind.
var Kinds = []Kind{KindReports, KindSummaries}

// ParseKind parses a usage kind name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindReports, KindSummaries:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// Limits are the ceilings of one plan.
type Limits struct {
	ReportsPerMonth   int64
	SummariesPerMonth int64

	// Properties is the number of analytics properties that may be linked.
	Properties int

	// LookbackDays is the history window in days. Zero means unlimited.
	LookbackDays int
}

// Ceiling returns the monthly ceiling for kind.
func (l Limits) Ceiling(kind Kind) (int64, error) {
	switch kind {
	case KindReports:
		return l.ReportsPerMonth, nil
	case KindSummaries:
		return l.SummariesPerMonth, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

// UnlimitedLookback reports whether the plan has no history window.
func (l Limits) UnlimitedLookback() bool {
	return l.LookbackDays == 0
}

func (l Limits) validate() error {
	if l.ReportsPerMonth < 0 || l.SummariesPerMonth < 0 {
		return fmt.Errorf("monthly ceilings must not be negative")
	}
	if l.Properties < 1 {
		return fmt.Errorf("at least one property must be linkable")
	}
	if l.LookbackDays < 0 {
		return fmt.Errorf("lookback days must not be negative")
	}
	return nil
}

// PlanTable holds the limits of every plan.
type PlanTable struct {
	Free   Limits
	Pro    Limits
	Agency Limits
}

// DefaultPlanTable returns the built-in limits.
func DefaultPlanTable() PlanTable {
	return PlanTable{
		Free: Limits{
			ReportsPerMonth:   25,
			SummariesPerMonth: 5,
			Properties:        1,
			LookbackDays:      90,
		},
		Pro: Limits{
			ReportsPerMonth:   1000,
			SummariesPerMonth: 100,
			Properties:        3,
		},
		Agency: Limits{
			ReportsPerMonth:   5000,
			SummariesPerMonth: 500,
			Properties:        25,
		},
	}
}

// Limits returns the limits of plan.
func (t PlanTable) Limits(plan Plan) (Limits, error) {
	switch plan {
	case PlanFree:
		return t.Free, nil
	case PlanPro:
		return t.Pro, nil
	case PlanAgency:
		return t.Agency, nil
	default:
		return Limits{}, fmt.Errorf("%w: %q", ErrUnknownPlan, plan)
	}
}

// Set replaces the limits of plan.
func (t *PlanTable) Set(plan Plan, limits Limits) error {
	switch plan {
	case PlanFree:
		t.Free = limits
	case PlanPro:
		t.Pro = limits
	case PlanAgency:
		t.Agency = limits
	default:
		return fmt.Errorf("%w: %q", ErrUnknownPlan, plan)
	}
	return nil
}

// Validate checks every plan's limits.
func (t PlanTable) Validate() error {
	for _, p := range Plans {
		l, _ := t.Limits(p)
		if err := l.validate(); err != nil {
			return fmt.Errorf("plan %s: %w", p, err)
		}
	}
	return nil
}
