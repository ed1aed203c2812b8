package oauth

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/giantswarm/analytics-oauth/quota"
)

// ConfigFromEnv reads the configuration from environment variables.
// Missing required values are reported by Validate, not here.
func ConfigFromEnv() (*Config, error) {
	return configFromLookup(os.LookupEnv)
}

type lookupFunc func(string) (string, bool)

func configFromLookup(lookup lookupFunc) (*Config, error) {
	env := envReader{lookup: lookup}

	cfg := &Config{
		GoogleAuth: GoogleAuthConfig{
			ClientID:     env.getString("GOOGLE_CLIENT_ID", ""),
			ClientSecret: env.getString("GOOGLE_CLIENT_SECRET", ""),
			RedirectURL:  env.getString("GOOGLE_REDIRECT_URL", ""),
		},
		Session: SessionConfig{
			Secret:              env.getString("SESSION_SECRET", ""),
			Salt:                env.getString("SESSION_SALT", ""),
			CookieName:          env.getString("SESSION_COOKIE_NAME", ""),
			CookieDomain:        env.getString("SESSION_COOKIE_DOMAIN", ""),
			MaxAge:              time.Duration(env.getInt("SESSION_MAX_AGE_DAYS", 0)) * 24 * time.Hour,
			AllowInsecureCookie: env.getBool("SESSION_ALLOW_INSECURE_COOKIE", false),
		},
		Store: StoreConfig{
			Backend:     env.getString("STORE_BACKEND", StoreBackendREST),
			URL:         env.getString("STORE_URL", ""),
			Token:       env.getString("STORE_TOKEN", ""),
			ValkeyAddr:  env.getString("VALKEY_ADDR", ""),
			RedisURL:    env.getString("REDIS_URL", ""),
			PostgresDSN: env.getString("POSTGRES_DSN", ""),
			KeyPrefix:   env.getString("STORE_KEY_PREFIX", ""),
		},
		Plans: PlansConfig{
			DefaultPlan: quota.Plan(env.getString("DEFAULT_PLAN", "")),
			Override:    quota.Plan(env.getString("PLAN_OVERRIDE", "")),
		},
		Links: LinksConfig{
			UpgradeURL:         env.getString("UPGRADE_URL", ""),
			ReconnectURL:       env.getString("RECONNECT_URL", ""),
			SuccessRedirectURL: env.getString("SUCCESS_REDIRECT_URL", ""),
		},
		RateLimit: RateLimitConfig{
			Rate:              env.getInt("RATE_LIMIT_RPS", 0),
			Burst:             env.getInt("RATE_LIMIT_BURST", 0),
			TrustProxy:        env.getBool("TRUST_PROXY", false),
			TrustedProxyCount: env.getInt("TRUSTED_PROXY_COUNT", 0),
		},
		Security: SecurityConfig{
			DisableTokenEncryption: !env.getBool("ENCRYPT_TOKENS_AT_REST", true),
			EnableAuditLogging:     env.getBool("AUDIT_LOGGING", true),
		},
		Instrumentation: InstrumentationConfig{
			MetricsExporter: env.getString("METRICS_EXPORTER", "none"),
			TracesExporter:  env.getString("TRACES_EXPORTER", "none"),
		},
	}
	cfg.Instrumentation.Enabled = cfg.Instrumentation.MetricsExporter != "none" || cfg.Instrumentation.TracesExporter != "none"

	table := quota.DefaultPlanTable()
	for _, plan := range quota.Plans {
		limits, _ := table.Limits(plan)
		prefix := "PLAN_" + strings.ToUpper(string(plan)) + "_"

		limits.ReportsPerMonth = env.getInt64(prefix+"REPORTS", limits.ReportsPerMonth)
		limits.SummariesPerMonth = env.getInt64(prefix+"SUMMARIES", limits.SummariesPerMonth)
		limits.Properties = env.getInt(prefix+"PROPERTIES", limits.Properties)
		limits.LookbackDays = env.getLookback(prefix+"LOOKBACK_DAYS", limits.LookbackDays)

		_ = table.Set(plan, limits)
	}
	cfg.Plans.Table = &table

	if err := env.err(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envReader collects parse errors so every bad variable is reported at once.
type envReader struct {
	lookup lookupFunc
	errs   []string
}

func (e *envReader) getString(key, def string) string {
	if v, ok := e.lookup(key); ok && v != "" {
		return v
	}
	return def
}

func (e *envReader) getInt(key string, def int) int {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Sprintf("%s: %q is not an integer", key, v))
		return def
	}
	return n
}

func (e *envReader) getInt64(key string, def int64) int64 {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Sprintf("%s: %q is not an integer", key, v))
		return def
	}
	return n
}

func (e *envReader) getBool(key string, def bool) bool {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Sprintf("%s: %q is not a boolean", key, v))
		return def
	}
	return b
}

// getLookback accepts a day count or "unlimited".
func (e *envReader) getLookback(key string, def int) int {
	v, ok := e.lookup(key)
	if ok && strings.EqualFold(v, "unlimited") {
		return 0
	}
	return e.getInt(key, def)
}

func (e *envReader) err() error {
	if len(e.errs) == 0 {
		return nil
	}
	return fmt.Errorf("invalid environment: %s", strings.Join(e.errs, "; "))
}
