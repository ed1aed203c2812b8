// Package instrumentation provides OpenTelemetry metrics and traces for
// analytics-oauth.
//
// Instrumentation is created once and passed to the server, the token
// manager, the quota meter and every storage backend. When disabled, no-op
// providers are used and recording costs nothing.
//
// # Prometheus Metrics
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		ServiceName:     "analytics-oauth",
//		ServiceVersion:  version,
//		Enabled:         true,
//		MetricsExporter: instrumentation.ExporterPrometheus,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
//
//	http.Handle("/metrics", promhttp.Handler())
//
// # Stdout Traces
//
// Set TracesExporter to ExporterStdout to print finished spans, which is
// mostly useful during development.
//
// # Metric Names
//
//   - oauth.http.requests.total, oauth.http.request.duration
//   - oauth.authorization.started, oauth.callback.processed
//   - oauth.token.refreshed, oauth.token.revoked, oauth.bearer.requests
//   - quota.usage.decisions, quota.entitlement.decisions
//   - oauth.rate_limit.exceeded, oauth.vault.operations
//   - storage.operation.total, storage.operation.duration, storage.entries
//   - provider.api.calls.total, provider.api.duration, provider.api.errors.total
//
// Attributes never carry credentials; identities are hashed first.
package instrumentation
