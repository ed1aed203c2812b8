package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSetSecurityHeaders(t *testing.T) {
	tests := []struct {
		name     string
		https    bool
		wantHSTS bool
	}{
		{"HTTPS", true, true},
		{"HTTP", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			SetSecurityHeaders(w, tt.https)

			want := map[string]string{
				"X-Frame-Options":         "DENY",
				"X-Content-Type-Options":  "nosniff",
				"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
				"Referrer-Policy":         "no-referrer",
				"Cache-Control":           "no-store, no-cache, must-revalidate, private",
				"Pragma":                  "no-cache",
			}
			for k, v := range want {
				if got := w.Header().Get(k); got != v {
					t.Errorf("%s = %q, want %q", k, got, v)
				}
			}

			hsts := w.Header().Get("Strict-Transport-Security")
			if (hsts != "") != tt.wantHSTS {
				t.Errorf("Strict-Transport-Security = %q, wantHSTS %v", hsts, tt.wantHSTS)
			}
		})
	}
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	h := SecurityHeaders(true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oauth/connect", nil))

	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("middleware did not set security headers")
	}
	if rec.Header().Get("Strict-Transport-Security") == "" {
		t.Error("middleware did not set HSTS for https")
	}
}
