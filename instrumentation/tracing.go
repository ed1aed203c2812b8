package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys.
//
// Never put credential values (access tokens, refresh tokens, codes, verifiers,
// session identifiers) in attributes. Identities are recorded hashed.
const (
	AttrIdentityHash = "oauth.identity_hash"
	AttrProvider     = "oauth.provider"
	AttrPKCEMethod   = "oauth.pkce.method"
	AttrGrantType    = "oauth.grant_type"
	AttrTokenRotated = "oauth.token.rotated" //nolint:gosec // attribute name
	AttrBearerSource = "oauth.bearer.source"
	AttrError        = "oauth.error"

	AttrPlan      = "quota.plan"
	AttrUsageKind = "quota.kind"
	AttrPeriod    = "quota.period"
	AttrAllowed   = "quota.allowed"

	AttrStorageOperation = "storage.operation"
	AttrStorageResult    = "storage.result"
	AttrStorageBackend   = "storage.backend"

	AttrProviderOperation = "provider.operation"
	AttrProviderStatus    = "provider.status"

	AttrHTTPEndpoint   = "http.endpoint"
	AttrHTTPMethod     = "http.method"
	AttrHTTPStatusCode = "http.status_code"
)

// AttrBackend is the storage backend attribute.
func AttrBackend(name string) attribute.KeyValue {
	return attribute.String(AttrStorageBackend, name)
}

// RecordError records an error on a span with proper status codes (nil-safe)
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks a span as successful (nil-safe)
func SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// SetSpanAttributes sets attributes on a span (nil-safe)
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}

// AddStorageAttributes adds storage operation attributes to a span (nil-safe)
func AddStorageAttributes(span trace.Span, operation, backend string) {
	SetSpanAttributes(span,
		attribute.String(AttrStorageOperation, operation),
		attribute.String(AttrStorageBackend, backend),
	)
}

// AddProviderAttributes adds provider attributes to a span (nil-safe)
func AddProviderAttributes(span trace.Span, provider, operation string) {
	SetSpanAttributes(span,
		attribute.String(AttrProvider, provider),
		attribute.String(AttrProviderOperation, operation),
	)
}

// AddQuotaAttributes adds plan and usage kind to a span (nil-safe)
func AddQuotaAttributes(span trace.Span, plan, kind, period string) {
	SetSpanAttributes(span,
		attribute.String(AttrPlan, plan),
		attribute.String(AttrUsageKind, kind),
		attribute.String(AttrPeriod, period),
	)
}

// AddHTTPAttributes adds HTTP request attributes to a span (nil-safe)
func AddHTTPAttributes(span trace.Span, method, endpoint string, statusCode int) {
	SetSpanAttributes(span,
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPEndpoint, endpoint),
		attribute.Int(AttrHTTPStatusCode, statusCode),
	)
}
