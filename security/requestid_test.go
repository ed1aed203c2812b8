package security

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGenerateRequestID(t *testing.T) {
	id1 := GenerateRequestID()
	id2 := GenerateRequestID()

	if id1 == id2 {
		t.Error("GenerateRequestID() returned duplicate IDs")
	}
	if len(id1) != 22 {
		t.Errorf("len(GenerateRequestID()) = %d, want 22", len(id1))
	}
}

func TestRequestIDContext(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-123")
	if got := GetRequestID(ctx); got != "req-123" {
		t.Errorf("GetRequestID() = %q, want %q", got, "req-123")
	}
	if got := GetRequestID(context.Background()); got != "" {
		t.Errorf("GetRequestID() on empty context = %q, want empty", got)
	}
}

func TestLoggerFor(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	LoggerFor(WithRequestID(context.Background(), "req-abc"), logger).Info("hello")
	if !strings.Contains(buf.String(), "request_id=req-abc") {
		t.Errorf("log output missing request_id: %s", buf.String())
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	tests := []struct {
		name      string
		upstream  string
		expectNew bool
	}{
		{"generates new ID when not present", "", true},
		{"preserves valid upstream ID", "upstream-request-id-xyz", false},
		{"rejects CRLF injection", "id\r\nX-Injected: evil", true},
		{"rejects spaces", "id with spaces", true},
		{"rejects excessively long ID", strings.Repeat("a", 129), true},
		{"rejects markup", "<script>alert(1)</script>", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var captured string
			handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				captured = GetRequestID(r.Context())
			}))

			req := httptest.NewRequest("GET", "/oauth/connect", nil)
			if tt.upstream != "" {
				req.Header.Set(RequestIDHeader, tt.upstream)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			responseID := rec.Header().Get(RequestIDHeader)
			if responseID == "" || responseID != captured {
				t.Errorf("response ID %q does not match context ID %q", responseID, captured)
			}
			if tt.expectNew {
				if captured == tt.upstream || len(captured) != 22 {
					t.Errorf("expected a freshly generated ID, got %q", captured)
				}
			} else if captured != tt.upstream {
				t.Errorf("GetRequestID() = %q, want %q", captured, tt.upstream)
			}
		})
	}
}
