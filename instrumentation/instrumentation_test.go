package instrumentation

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"disabled", Config{}, false},
		{"enabled without exporters", Config{Enabled: true, ServiceName: "svc", ServiceVersion: "1.0.0"}, false},
		{"prometheus", Config{Enabled: true, MetricsExporter: ExporterPrometheus, PrometheusRegisterer: prometheus.NewRegistry()}, false},
		{"stdout traces", Config{Enabled: true, TracesExporter: ExporterStdout, TraceWriter: &bytes.Buffer{}}, false},
		{"unknown metrics exporter", Config{Enabled: true, MetricsExporter: "statsd"}, true},
		{"unknown traces exporter", Config{Enabled: true, TracesExporter: "zipkin"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst, err := New(tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			defer func() { _ = inst.Shutdown(context.Background()) }()

			if inst.Metrics() == nil {
				t.Error("Metrics() returned nil")
			}
			if inst.Meter("http") == nil || inst.Tracer("server") == nil {
				t.Error("Meter()/Tracer() returned nil")
			}
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	inst, err := New(Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if inst.config.ServiceName != DefaultServiceName {
		t.Errorf("ServiceName = %q, want %q", inst.config.ServiceName, DefaultServiceName)
	}
	if inst.config.ServiceVersion != DefaultServiceVersion {
		t.Errorf("ServiceVersion = %q, want %q", inst.config.ServiceVersion, DefaultServiceVersion)
	}
}

func TestPrometheusExporter(t *testing.T) {
	reg := prometheus.NewRegistry()
	inst, err := New(Config{
		Enabled:              true,
		MetricsExporter:      ExporterPrometheus,
		PrometheusRegisterer: reg,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	ctx := context.Background()
	m := inst.Metrics()
	m.RecordUsageDecision(ctx, "free", "reports", true)
	m.RecordUsageDecision(ctx, "free", "reports", false)
	m.RecordStorageOperation(ctx, "memory", "get", "success", 0.4)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"quota.usage.decisions_total",
		"storage.operation_total",
		"storage.operation.duration_milliseconds",
	} {
		if !names[want] {
			t.Errorf("gathered metrics %v missing %q", names, want)
		}
	}
}

func TestStdoutTraces(t *testing.T) {
	var buf bytes.Buffer
	inst, err := New(Config{
		Enabled:        true,
		TracesExporter: ExporterStdout,
		TraceWriter:    &buf,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, span := inst.Tracer("server").Start(context.Background(), "oauth.callback")
	RecordError(span, errors.New("invalid_state"))
	span.End()

	if err := inst.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if !strings.Contains(buf.String(), "oauth.callback") {
		t.Errorf("stdout exporter output missing span name: %s", buf.String())
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	inst, err := New(Config{Enabled: true, MetricsExporter: ExporterPrometheus, PrometheusRegisterer: prometheus.NewRegistry()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := inst.Shutdown(context.Background()); err != nil {
		t.Errorf("first Shutdown() error = %v", err)
	}
	if err := inst.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown() error = %v", err)
	}
}

func TestMetrics_RecordAll(t *testing.T) {
	ctx := context.Background()
	m := Noop().Metrics()

	// None of these may panic on no-op instruments.
	m.RecordHTTPRequest(ctx, "GET", "/oauth/connect", 302, 12.5)
	m.RecordAuthorizationStarted(ctx, "google")
	m.RecordCallbackProcessed(ctx, "google", "success")
	m.RecordCallbackProcessed(ctx, "google", "invalid_state")
	m.RecordTokenRefresh(ctx, "google", true)
	m.RecordTokenRevocation(ctx, "google", false)
	m.RecordBearer(ctx, BearerCached)
	m.RecordEntitlementDecision(ctx, "pro", "lookback", true)
	m.RecordRateLimitExceeded(ctx, "/oauth/callback")
	m.RecordVaultOperation(ctx, "open", false)
	m.RecordProviderAPICall(ctx, "google", "exchange", 400, 120, errors.New("invalid_grant"))
	m.RecordProviderAPICall(ctx, "google", "refresh", 503, 80, errors.New("unavailable"))
	m.RecordProviderAPICall(ctx, "google", "refresh", 200, 80, nil)
}

func TestRegisterStorageSizeCallback(t *testing.T) {
	inst, err := New(Config{Enabled: true, MetricsExporter: ExporterPrometheus, PrometheusRegisterer: prometheus.NewRegistry()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	if err := inst.RegisterStorageSizeCallback("memory", func() int64 { return 3 }); err != nil {
		t.Errorf("RegisterStorageSizeCallback() error = %v", err)
	}
	if err := inst.RegisterStorageSizeCallback("memory", nil); err != nil {
		t.Errorf("RegisterStorageSizeCallback(nil) error = %v", err)
	}
}

func TestSpanHelpers_NilSafe(t *testing.T) {
	RecordError(nil, errors.New("x"))
	SetSpanSuccess(nil)
	SetSpanAttributes(nil)
	AddStorageAttributes(nil, "get", "memory")
	AddProviderAttributes(nil, "google", "refresh")
	AddQuotaAttributes(nil, "free", "reports", "2025-03")
	AddHTTPAttributes(nil, "GET", "/", 200)
}
