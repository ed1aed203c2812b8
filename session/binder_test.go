package session

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/giantswarm/analytics-oauth/security"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestBinder(t *testing.T, cfg Config) *Binder {
	t.Helper()
	vault, err := security.NewVault(testSecret, "")
	if err != nil {
		t.Fatalf("NewVault() error = %v", err)
	}
	b, err := New(vault, cfg, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return b
}

// requestWith copies the cookies set on rec into a new request.
func requestWith(rec *httptest.ResponseRecorder) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range rec.Result().Cookies() {
		r.AddCookie(c)
	}
	return r
}

func TestNew_Validation(t *testing.T) {
	vault, _ := security.NewVault(testSecret, "")

	if _, err := New(nil, Config{}, nil); err == nil {
		t.Error("New() without vault should fail")
	}

	tests := []struct {
		name    string
		maxAge  time.Duration
		wantErr bool
	}{
		{"default", 0, false},
		{"30 days", 30 * 24 * time.Hour, false},
		{"90 days", 90 * 24 * time.Hour, false},
		{"too short", 7 * 24 * time.Hour, true},
		{"too long", 365 * 24 * time.Hour, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(vault, Config{MaxAge: tt.maxAge}, nil)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEnsure_MintsSealedCookie(t *testing.T) {
	b := newTestBinder(t, Config{})
	rec := httptest.NewRecorder()

	id, err := b.Ensure(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if len(id) < minEncodedIDLength {
		t.Errorf("session id %q too short", id)
	}

	header := rec.Header().Get("Set-Cookie")
	for _, want := range []string{"sid=", "Path=/", "Max-Age=5184000", "HttpOnly", "Secure", "SameSite=Lax"} {
		if !strings.Contains(header, want) {
			t.Errorf("Set-Cookie %q missing %q", header, want)
		}
	}
	if strings.Contains(header, "Domain=") {
		t.Errorf("Set-Cookie %q should be host-only", header)
	}
	if strings.Contains(header, id) {
		t.Error("cookie must not carry the raw session id")
	}
}

func TestResolve_RoundTrip(t *testing.T) {
	b := newTestBinder(t, Config{})
	rec := httptest.NewRecorder()
	id, _ := b.Ensure(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	got, ok := b.Resolve(requestWith(rec))
	if !ok || got != id {
		t.Errorf("Resolve() = %q, %v; want %q, true", got, ok, id)
	}
}

func TestEnsure_ReusesExistingSession(t *testing.T) {
	b := newTestBinder(t, Config{})
	first := httptest.NewRecorder()
	id, _ := b.Ensure(first, httptest.NewRequest(http.MethodGet, "/", nil))

	second := httptest.NewRecorder()
	got, err := b.Ensure(second, requestWith(first))
	if err != nil || got != id {
		t.Fatalf("Ensure() = %q, %v; want %q", got, err, id)
	}
	if second.Header().Get("Set-Cookie") != "" {
		t.Error("Ensure() should not rewrite a valid cookie")
	}
}

func TestResolve_Rejects(t *testing.T) {
	b := newTestBinder(t, Config{})
	vault, _ := security.NewVault(testSecret, "")
	other, _ := security.NewVault("ffffffffffffffffffffffffffffffff", "")

	shortID, _ := vault.Seal("short")
	foreign, _ := other.Seal(strings.Repeat("a", 43))

	tests := []struct {
		name  string
		value string
	}{
		{"garbage", "not-a-token"},
		{"short identifier", shortID},
		{"different secret", foreign},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.AddCookie(&http.Cookie{Name: "sid", Value: tt.value})
			if id, ok := b.Resolve(r); ok {
				t.Errorf("Resolve() = %q, true; want rejection", id)
			}
		})
	}

	if _, ok := b.Resolve(httptest.NewRequest(http.MethodGet, "/", nil)); ok {
		t.Error("Resolve() without cookie should fail")
	}
}

func TestCookieOptions(t *testing.T) {
	b := newTestBinder(t, Config{
		CookieName:          "ga_sess",
		Domain:              "example.com",
		MaxAge:              30 * 24 * time.Hour,
		AllowInsecureCookie: true,
	})
	rec := httptest.NewRecorder()
	if err := b.Extend(rec, strings.Repeat("x", 43)); err != nil {
		t.Fatalf("Extend() error = %v", err)
	}

	c := rec.Result().Cookies()[0]
	if c.Name != "ga_sess" || c.Domain != "example.com" || c.MaxAge != 2592000 || c.Secure {
		t.Errorf("cookie = %+v", c)
	}
	if b.CookieName() != "ga_sess" {
		t.Errorf("CookieName() = %q", b.CookieName())
	}
}

func TestClear(t *testing.T) {
	b := newTestBinder(t, Config{})
	rec := httptest.NewRecorder()
	b.Clear(rec)

	c := rec.Result().Cookies()[0]
	if c.Name != "sid" || c.MaxAge >= 0 || c.Value != "" {
		t.Errorf("Clear() cookie = %+v", c)
	}
}

func TestAuditEvents(t *testing.T) {
	var buf bytes.Buffer
	b := newTestBinder(t, Config{})
	b.SetAuditor(security.NewAuditor(slog.New(slog.NewTextHandler(&buf, nil)), true))

	rec := httptest.NewRecorder()
	id, _ := b.Ensure(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: "sid", Value: "tampered"})
	b.Resolve(r)

	out := buf.String()
	if !strings.Contains(out, security.EventSessionCreated) || !strings.Contains(out, security.EventSessionCookieRejected) {
		t.Errorf("audit log missing events: %s", out)
	}
	if strings.Contains(out, id) {
		t.Error("audit log must not contain the raw session id")
	}
}

func TestContext(t *testing.T) {
	ctx := WithID(context.Background(), "abc")
	if id, ok := IDFromContext(ctx); !ok || id != "abc" {
		t.Errorf("IDFromContext() = %q, %v", id, ok)
	}
	if _, ok := IDFromContext(context.Background()); ok {
		t.Error("IDFromContext() on empty context should fail")
	}
}

func TestNewID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := NewID()
		if err != nil {
			t.Fatalf("NewID() error = %v", err)
		}
		if seen[id] {
			t.Fatal("NewID() returned a duplicate")
		}
		seen[id] = true
	}
}
