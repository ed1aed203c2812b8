package server

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/giantswarm/analytics-oauth/instrumentation"
	"github.com/giantswarm/analytics-oauth/security"
)

func newTracedEnv(t *testing.T) (*testEnv, *bytes.Buffer, *instrumentation.Instrumentation) {
	t.Helper()

	var buf bytes.Buffer
	inst, err := instrumentation.New(instrumentation.Config{
		Enabled:        true,
		TracesExporter: instrumentation.ExporterStdout,
		TraceWriter:    &buf,
	})
	if err != nil {
		t.Fatalf("instrumentation.New() error = %v", err)
	}
	t.Cleanup(func() { _ = inst.Shutdown(context.Background()) })

	env := newTestEnv(t)
	env.srv.SetInstrumentation(inst)
	return env, &buf, inst
}

func assertSpanAttributes(t *testing.T, out string, want ...string) {
	t.Helper()
	for _, w := range want {
		if !strings.Contains(out, `"`+w+`"`) {
			t.Errorf("trace output missing %q:\n%s", w, out)
		}
	}
}

func TestTracing_CallbackProviderFailure(t *testing.T) {
	env, buf, inst := newTracedEnv(t)
	ctx := context.Background()

	env.provider.ExchangeCodeFunc = func(context.Context, string, string) (*oauth2.Token, error) {
		return nil, &oauth2.RetrieveError{
			Response:  &http.Response{StatusCode: http.StatusBadRequest},
			ErrorCode: "invalid_grant",
		}
	}

	state, _ := startFlow(t, env, "sid")
	if _, err := env.srv.Flows.Callback(ctx, "sid", "code", state); !errors.Is(err, ErrTokenExchangeFailed) {
		t.Fatalf("Callback() error = %v, want ErrTokenExchangeFailed", err)
	}
	if err := inst.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	assertSpanAttributes(t, buf.String(),
		instrumentation.AttrIdentityHash,
		security.HashForLogging("sid"),
		instrumentation.AttrGrantType,
		"authorization_code",
		instrumentation.AttrError,
		CodeExchangeFailed,
		instrumentation.AttrProviderStatus,
	)
}

func TestTracing_BearerSource(t *testing.T) {
	env, buf, inst := newTracedEnv(t)
	ctx := context.Background()

	err := env.srv.Tokens.Save(ctx, "sid", &TokenRecord{
		AccessToken:  "at",
		RefreshToken: "rt",
		Expiry:       testNow.Add(10 * time.Minute).Unix(),
		CreatedAt:    testNow.Unix(),
	})
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, err := env.srv.Tokens.Bearer(ctx, "sid"); err != nil {
		t.Fatalf("Bearer() error = %v", err)
	}
	if _, err := env.srv.Tokens.Bearer(ctx, "nobody"); !errors.Is(err, ErrAuthRequired) {
		t.Fatalf("Bearer(nobody) error = %v, want ErrAuthRequired", err)
	}
	if err := inst.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	assertSpanAttributes(t, buf.String(),
		"oauth.bearer",
		instrumentation.AttrBearerSource,
		instrumentation.BearerCached,
		instrumentation.BearerMissing,
		CodeAuthRequired,
	)
}

func TestTracing_RefreshGrantType(t *testing.T) {
	env, buf, inst := newTracedEnv(t)
	ctx := context.Background()

	if _, err := env.srv.Flows.Refresh(ctx, "rt"); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if err := inst.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	assertSpanAttributes(t, buf.String(),
		"oauth.refresh",
		instrumentation.AttrGrantType,
		"refresh_token",
	)
}
