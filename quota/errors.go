package quota

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRateLimited matches every *RateLimitError.
	ErrRateLimited = errors.New("monthly usage limit reached")

	// ErrResourceLimitReached matches every *ResourceLimitError.
	ErrResourceLimitReached = errors.New("linked property limit reached")

	// ErrLookbackExceeded matches every *LookbackError.
	ErrLookbackExceeded = errors.New("date range outside plan lookback window")
)

// RateLimitError is returned when a metered call would exceed the plan's
// monthly ceiling. Nothing is counted for a rejected call.
type RateLimitError struct {
	Plan   Plan
	Kind   Kind
	Limit  int64
	Used   int64
	Period string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s plan allows %d %s per month, %d used in %s", e.Plan, e.Limit, e.Kind, e.Used, e.Period)
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// ResourceLimitError is returned when linking another property would exceed
// the plan's property limit.
type ResourceLimitError struct {
	Plan  Plan
	Limit int
}

func (e *ResourceLimitError) Error() string {
	return fmt.Sprintf("%s plan allows %d linked properties", e.Plan, e.Limit)
}

func (e *ResourceLimitError) Is(target error) bool {
	return target == ErrResourceLimitReached
}

// LookbackError is returned when a date range starts before Earliest.
type LookbackError struct {
	Plan       Plan
	WindowDays int
	Earliest   time.Time
}

func (e *LookbackError) Error() string {
	return fmt.Sprintf("%s plan covers the last %d days, earliest start date is %s", e.Plan, e.WindowDays, e.Earliest.Format(time.DateOnly))
}

func (e *LookbackError) Is(target error) bool {
	return target == ErrLookbackExceeded
}
