// Package quota meters analytics calls against subscription plans and
// enforces plan entitlements.
//
// Plans and their limits live in one PlanTable. Every lookup goes through an
// exhaustive switch, so an unknown plan or kind is an error rather than a
// silent fallback to a default tier.
//
// Meter keeps one record per identity and calendar month under
// "usage:{identity}:{YYYY-MM}". Counters reset by moving to the next month's
// key; old records expire after DefaultUsageTTL.
//
// Guard keeps the linked properties of an identity under
// "properties:{identity}" and checks date ranges against the plan's lookback
// window.
package quota
