package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments
type Metrics struct {
	// HTTP layer
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// OAuth flow
	AuthorizationStarted metric.Int64Counter
	CallbackProcessed    metric.Int64Counter
	TokenRefreshed       metric.Int64Counter
	TokenRevoked         metric.Int64Counter
	BearerRequests       metric.Int64Counter

	// Usage and entitlements
	UsageDecisions       metric.Int64Counter
	EntitlementDecisions metric.Int64Counter

	// Security
	RateLimitExceeded metric.Int64Counter
	VaultOperations   metric.Int64Counter

	// Storage
	StorageOperationTotal    metric.Int64Counter
	StorageOperationDuration metric.Float64Histogram
	StorageEntries           metric.Int64ObservableGauge

	// Provider
	ProviderAPICallsTotal metric.Int64Counter
	ProviderAPIDuration   metric.Float64Histogram
	ProviderAPIErrors     metric.Int64Counter
}

type counterSpec struct {
	dst   *metric.Int64Counter
	meter metric.Meter
	name  string
	desc  string
	unit  string
}

type histogramSpec struct {
	dst   *metric.Float64Histogram
	meter metric.Meter
	name  string
	desc  string
}

func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}

	httpMeter := inst.Meter("http")
	serverMeter := inst.Meter("server")
	quotaMeter := inst.Meter("quota")
	securityMeter := inst.Meter("security")
	storageMeter := inst.Meter("storage")
	providerMeter := inst.Meter("provider")

	counters := []counterSpec{
		{&m.HTTPRequestsTotal, httpMeter, "oauth.http.requests.total", "Total number of HTTP requests", "{request}"},
		{&m.AuthorizationStarted, serverMeter, "oauth.authorization.started", "Number of connect flows started", "{flow}"},
		{&m.CallbackProcessed, serverMeter, "oauth.callback.processed", "Number of provider callbacks processed", "{callback}"},
		{&m.TokenRefreshed, serverMeter, "oauth.token.refreshed", "Number of access token refresh attempts", "{refresh}"},
		{&m.TokenRevoked, serverMeter, "oauth.token.revoked", "Number of tokens revoked at the provider", "{revocation}"},
		{&m.BearerRequests, serverMeter, "oauth.bearer.requests", "Number of bearer credential lookups by outcome", "{lookup}"},
		{&m.UsageDecisions, quotaMeter, "quota.usage.decisions", "Number of metered call decisions", "{decision}"},
		{&m.EntitlementDecisions, quotaMeter, "quota.entitlement.decisions", "Number of entitlement checks", "{decision}"},
		{&m.RateLimitExceeded, securityMeter, "oauth.rate_limit.exceeded", "Number of per-IP rate limit violations", "{violation}"},
		{&m.VaultOperations, securityMeter, "oauth.vault.operations", "Number of vault seal/open operations", "{operation}"},
		{&m.StorageOperationTotal, storageMeter, "storage.operation.total", "Total number of storage operations", "{operation}"},
		{&m.ProviderAPICallsTotal, providerMeter, "provider.api.calls.total", "Total number of provider API calls", "{call}"},
		{&m.ProviderAPIErrors, providerMeter, "provider.api.errors.total", "Total number of provider API errors", "{error}"},
	}
	for _, c := range counters {
		inst, err := c.meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit(c.unit))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
		*c.dst = inst
	}

	histograms := []histogramSpec{
		{&m.HTTPRequestDuration, httpMeter, "oauth.http.request.duration", "HTTP request duration in milliseconds"},
		{&m.StorageOperationDuration, storageMeter, "storage.operation.duration", "Storage operation duration in milliseconds"},
		{&m.ProviderAPIDuration, providerMeter, "provider.api.duration", "Provider API call duration in milliseconds"},
	}
	for _, h := range histograms {
		inst, err := h.meter.Float64Histogram(h.name, metric.WithDescription(h.desc), metric.WithUnit("ms"))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s histogram: %w", h.name, err)
		}
		*h.dst = inst
	}

	var err error
	m.StorageEntries, err = storageMeter.Int64ObservableGauge(
		"storage.entries",
		metric.WithDescription("Number of entries held by in-process stores"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.entries gauge: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request metric
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, endpoint string, statusCode int, durationMs float64) {
	m.HTTPRequestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("endpoint", endpoint),
		attribute.Int("status", statusCode),
	))
	m.HTTPRequestDuration.Record(ctx, durationMs, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

// RecordAuthorizationStarted records a connect flow start
func (m *Metrics) RecordAuthorizationStarted(ctx context.Context, provider string) {
	m.AuthorizationStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", provider)))
}

// RecordCallbackProcessed records a provider callback with its result
// ("success" or the error code it was rejected with).
func (m *Metrics) RecordCallbackProcessed(ctx context.Context, provider, result string) {
	m.CallbackProcessed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("result", result),
	))
}

// RecordTokenRefresh records a refresh attempt
func (m *Metrics) RecordTokenRefresh(ctx context.Context, provider string, success bool) {
	m.TokenRefreshed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.Bool("success", success),
	))
}

// RecordTokenRevocation records a revocation at the provider
func (m *Metrics) RecordTokenRevocation(ctx context.Context, provider string, success bool) {
	m.TokenRevoked.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.Bool("success", success),
	))
}

// Bearer lookup outcomes.
const (
	BearerCached      = "cached"
	BearerRefreshed   = "refreshed"
	BearerMissing     = "missing"
	BearerTerminal    = "terminal"
	BearerRefreshFail = "refresh_failed"
)

// RecordBearer records how a bearer lookup was satisfied
func (m *Metrics) RecordBearer(ctx context.Context, outcome string) {
	m.BearerRequests.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordUsageDecision records a metered call decision
func (m *Metrics) RecordUsageDecision(ctx context.Context, plan, kind string, allowed bool) {
	m.UsageDecisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("plan", plan),
		attribute.String("kind", kind),
		attribute.Bool("allowed", allowed),
	))
}

// RecordEntitlementDecision records a property-link or lookback check
func (m *Metrics) RecordEntitlementDecision(ctx context.Context, plan, check string, allowed bool) {
	m.EntitlementDecisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("plan", plan),
		attribute.String("check", check),
		attribute.Bool("allowed", allowed),
	))
}

// RecordRateLimitExceeded records a rate limit violation
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context, endpoint string) {
	m.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

// RecordVaultOperation records a seal or open
func (m *Metrics) RecordVaultOperation(ctx context.Context, operation string, success bool) {
	m.VaultOperations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.Bool("success", success),
	))
}

// RecordStorageOperation records a storage operation
func (m *Metrics) RecordStorageOperation(ctx context.Context, backend, operation, result string, durationMs float64) {
	m.StorageOperationTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("operation", operation),
		attribute.String("result", result),
	))
	m.StorageOperationDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("operation", operation),
	))
}

// RecordProviderAPICall records a provider API call
func (m *Metrics) RecordProviderAPICall(ctx context.Context, provider, operation string, statusCode int, durationMs float64, err error) {
	m.ProviderAPICallsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("operation", operation),
		attribute.Int("status", statusCode),
	))
	m.ProviderAPIDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("operation", operation),
	))

	if err != nil {
		errorType := "unknown"
		if statusCode >= 400 && statusCode < 500 {
			errorType = "client_error"
		} else if statusCode >= 500 {
			errorType = "server_error"
		}

		m.ProviderAPIErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("operation", operation),
			attribute.String("error_type", errorType),
		))
	}
}
