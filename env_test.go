package oauth

import (
	"strings"
	"testing"
	"time"

	"github.com/giantswarm/analytics-oauth/quota"
)

func lookupFrom(env map[string]string) lookupFunc {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestConfigFromLookup(t *testing.T) {
	cfg, err := configFromLookup(lookupFrom(map[string]string{
		"GOOGLE_CLIENT_ID":              "id",
		"GOOGLE_CLIENT_SECRET":          "secret",
		"GOOGLE_REDIRECT_URL":           "https://app.example.com/oauth/callback",
		"SESSION_SECRET":                testSecret,
		"SESSION_COOKIE_NAME":           "ga",
		"SESSION_COOKIE_DOMAIN":         "example.com",
		"SESSION_MAX_AGE_DAYS":          "30",
		"STORE_BACKEND":                 "valkey",
		"VALKEY_ADDR":                   "localhost:6379",
		"DEFAULT_PLAN":                  "pro",
		"PLAN_FREE_REPORTS":             "10",
		"PLAN_FREE_LOOKBACK_DAYS":       "30",
		"PLAN_PRO_LOOKBACK_DAYS":        "365",
		"PLAN_AGENCY_PROPERTIES":        "50",
		"RATE_LIMIT_RPS":                "5",
		"TRUST_PROXY":                   "true",
		"ENCRYPT_TOKENS_AT_REST":        "false",
		"METRICS_EXPORTER":              "prometheus",
		"SESSION_ALLOW_INSECURE_COOKIE": "",
	}))
	if err != nil {
		t.Fatalf("configFromLookup() error = %v", err)
	}

	if cfg.GoogleAuth.ClientID != "id" || cfg.Session.Secret != testSecret {
		t.Errorf("credentials not read: %+v", cfg.GoogleAuth)
	}
	if cfg.Session.CookieName != "ga" || cfg.Session.CookieDomain != "example.com" || cfg.Session.MaxAge != 30*24*time.Hour {
		t.Errorf("Session = %+v", cfg.Session)
	}
	if cfg.Session.AllowInsecureCookie {
		t.Error("empty variable should keep the default")
	}
	if cfg.Store.Backend != StoreBackendValkey || cfg.Store.ValkeyAddr != "localhost:6379" {
		t.Errorf("Store = %+v", cfg.Store)
	}
	if cfg.Plans.DefaultPlan != quota.PlanPro {
		t.Errorf("DefaultPlan = %q", cfg.Plans.DefaultPlan)
	}

	table := cfg.Plans.Table
	if table.Free.ReportsPerMonth != 10 || table.Free.LookbackDays != 30 || table.Free.SummariesPerMonth != 5 {
		t.Errorf("Free = %+v", table.Free)
	}
	if table.Pro.LookbackDays != 365 || table.Agency.Properties != 50 {
		t.Errorf("Pro = %+v, Agency = %+v", table.Pro, table.Agency)
	}

	if cfg.RateLimit.Rate != 5 || !cfg.RateLimit.TrustProxy {
		t.Errorf("RateLimit = %+v", cfg.RateLimit)
	}
	if !cfg.Security.DisableTokenEncryption || !cfg.Security.EnableAuditLogging {
		t.Errorf("Security = %+v", cfg.Security)
	}
	if !cfg.Instrumentation.Enabled || cfg.Instrumentation.TracesExporter != "none" {
		t.Errorf("Instrumentation = %+v", cfg.Instrumentation)
	}

	if err := applySecureDefaults(cfg).Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestConfigFromLookup_Defaults(t *testing.T) {
	cfg, err := configFromLookup(lookupFrom(nil))
	if err != nil {
		t.Fatalf("configFromLookup() error = %v", err)
	}
	if cfg.Store.Backend != StoreBackendREST {
		t.Errorf("Store.Backend = %q, want rest", cfg.Store.Backend)
	}
	if *cfg.Plans.Table != quota.DefaultPlanTable() {
		t.Errorf("Plans.Table = %+v, want defaults", *cfg.Plans.Table)
	}
	if cfg.Security.DisableTokenEncryption || !cfg.Security.EnableAuditLogging {
		t.Errorf("Security = %+v, want secure defaults", cfg.Security)
	}
	if cfg.Instrumentation.Enabled {
		t.Error("Instrumentation should be off by default")
	}
}

func TestConfigFromLookup_UnlimitedLookback(t *testing.T) {
	cfg, err := configFromLookup(lookupFrom(map[string]string{"PLAN_FREE_LOOKBACK_DAYS": "Unlimited"}))
	if err != nil {
		t.Fatalf("configFromLookup() error = %v", err)
	}
	if !cfg.Plans.Table.Free.UnlimitedLookback() {
		t.Errorf("Free.LookbackDays = %d, want unlimited", cfg.Plans.Table.Free.LookbackDays)
	}
}

func TestConfigFromLookup_ReportsEveryBadValue(t *testing.T) {
	_, err := configFromLookup(lookupFrom(map[string]string{
		"RATE_LIMIT_RPS":     "fast",
		"TRUST_PROXY":        "maybe",
		"PLAN_PRO_SUMMARIES": "1e3",
	}))
	if err == nil {
		t.Fatal("configFromLookup() should fail")
	}
	for _, key := range []string{"RATE_LIMIT_RPS", "TRUST_PROXY", "PLAN_PRO_SUMMARIES"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error %q does not mention %s", err, key)
		}
	}
}
