package storage

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/analytics-oauth/instrumentation"
)

// Storage operation results recorded in metrics.
const (
	ResultSuccess  = "success"
	ResultNotFound = "not_found"
	ResultRejected = "rejected"
	ResultError    = "error"
)

// Observer records spans and metrics for a backend. The zero value and a nil
// *Observer are valid and record nothing.
type Observer struct {
	backend string
	tracer  trace.Tracer
	metrics *instrumentation.Metrics
}

// NewObserver creates an observer for backend. inst may be nil.
func NewObserver(backend string, inst *instrumentation.Instrumentation) *Observer {
	o := &Observer{backend: backend}
	if inst != nil {
		o.tracer = inst.Tracer("storage")
		o.metrics = inst.Metrics()
	}
	return o
}

// Backend returns the backend name.
func (o *Observer) Backend() string {
	if o == nil {
		return ""
	}
	return o.backend
}

// Start opens a span for operation. The returned function must be called with
// the operation's error; ErrNotFound is recorded as a result, not a failure.
func (o *Observer) Start(ctx context.Context, operation string) (context.Context, func(error)) {
	if o == nil || o.tracer == nil {
		return ctx, func(error) {}
	}

	start := time.Now()
	ctx, span := o.tracer.Start(ctx, "storage."+operation)
	instrumentation.AddStorageAttributes(span, operation, o.backend)

	return ctx, func(err error) {
		result := ResultSuccess
		switch {
		case err == nil:
			instrumentation.SetSpanSuccess(span)
		case errors.Is(err, ErrNotFound):
			result = ResultNotFound
			instrumentation.SetSpanSuccess(span)
		default:
			result = ResultError
			instrumentation.RecordError(span, err)
		}
		span.SetAttributes(attribute.String(instrumentation.AttrStorageResult, result))
		span.End()

		if o.metrics != nil {
			o.metrics.RecordStorageOperation(ctx, o.backend, operation, result, float64(time.Since(start).Microseconds())/1000)
		}
	}
}
