package security

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/coder/quartz"
)

func TestNewAuditor(t *testing.T) {
	tests := []struct {
		name    string
		logger  *slog.Logger
		enabled bool
	}{
		{"enabled with logger", slog.Default(), true},
		{"disabled with logger", slog.Default(), false},
		{"enabled with nil logger", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auditor := NewAuditor(tt.logger, tt.enabled)
			if auditor == nil {
				t.Fatal("NewAuditor() returned nil")
			}
			if auditor.enabled != tt.enabled {
				t.Errorf("enabled = %v, want %v", auditor.enabled, tt.enabled)
			}
			if auditor.logger == nil {
				t.Error("logger should not be nil")
			}
		})
	}
}

func TestAuditor_LogEvent(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	tests := []struct {
		name    string
		enabled bool
		wantLog bool
	}{
		{"enabled", true, true},
		{"disabled", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			auditor := NewAuditor(logger, tt.enabled)

			auditor.LogEvent(Event{
				Type:      EventTokenIssued,
				Identity:  "session-123",
				IPAddress: "192.168.1.1",
				Details:   map[string]any{"key": "value"},
			})

			if hasLog := buf.Len() > 0; hasLog != tt.wantLog {
				t.Errorf("LogEvent() logged = %v, want %v", hasLog, tt.wantLog)
			}
		})
	}
}

func TestAuditor_NeverLogsIdentity(t *testing.T) {
	var buf bytes.Buffer
	auditor := NewAuditor(slog.New(slog.NewTextHandler(&buf, nil)), true)

	auditor.LogAuthFailure("very-secret-session-id", "10.0.0.1", "refresh_failed")

	out := buf.String()
	if strings.Contains(out, "very-secret-session-id") {
		t.Errorf("audit output contains raw identity: %s", out)
	}
	if !strings.Contains(out, HashForLogging("very-secret-session-id")) {
		t.Errorf("audit output missing identity hash: %s", out)
	}
	if !strings.Contains(out, EventAuthFailure) {
		t.Errorf("audit output missing event type: %s", out)
	}
}

func TestAuditor_UsesClock(t *testing.T) {
	var buf bytes.Buffer
	auditor := NewAuditor(slog.New(slog.NewJSONHandler(&buf, nil)), true)

	clock := quartz.NewMock(t)
	clock.Set(time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC))
	auditor.SetClock(clock)

	auditor.LogRateLimitExceeded("10.0.0.1", "/oauth/connect")

	if !strings.Contains(buf.String(), "2025-03-14T09:26:53Z") {
		t.Errorf("audit output missing mock timestamp: %s", buf.String())
	}
}

func TestAuditor_NilSafe(t *testing.T) {
	var auditor *Auditor
	auditor.LogEvent(Event{Type: EventTokenIssued})
}

func TestHashForLogging(t *testing.T) {
	if got := HashForLogging(""); got != "<empty>" {
		t.Errorf("HashForLogging(\"\") = %q, want <empty>", got)
	}

	got := HashForLogging("sensitive-data")
	if len(got) != 16 {
		t.Errorf("HashForLogging() length = %d, want 16", len(got))
	}
	if got != HashForLogging("sensitive-data") {
		t.Error("HashForLogging() should be deterministic")
	}
	if got == HashForLogging("other-data") {
		t.Error("HashForLogging() should differ for different inputs")
	}
}
