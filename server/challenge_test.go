package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/giantswarm/analytics-oauth/internal/testutil"
	"github.com/giantswarm/analytics-oauth/storage"
)

func TestChallengeStore_VerifierSingleUse(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.srv.Challenges

	if err := c.SaveVerifier(ctx, "sid", "verifier-1"); err != nil {
		t.Fatalf("SaveVerifier() error = %v", err)
	}

	got, err := c.PopVerifier(ctx, "sid")
	if err != nil || got != "verifier-1" {
		t.Fatalf("PopVerifier() = %q, %v; want verifier-1, nil", got, err)
	}
	if _, err := c.PopVerifier(ctx, "sid"); !errors.Is(err, ErrMissingPKCEVerifier) {
		t.Errorf("second PopVerifier() error = %v, want ErrMissingPKCEVerifier", err)
	}
}

func TestChallengeStore_VerifierReplaced(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.srv.Challenges

	_ = c.SaveVerifier(ctx, "sid", "first")
	_ = c.SaveVerifier(ctx, "sid", "second")

	if got, _ := c.PopVerifier(ctx, "sid"); got != "second" {
		t.Errorf("PopVerifier() = %q, want second", got)
	}
}

func TestChallengeStore_VerifierExpires(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.srv.Challenges

	_ = c.SaveVerifier(ctx, "sid", "v")
	if ttl, ok := env.store.TTL(pkceKeyPrefix + "sid"); !ok || ttl != DefaultChallengeTTL {
		t.Errorf("TTL() = %v, %v; want %v", ttl, ok, DefaultChallengeTTL)
	}

	env.clock.Advance(DefaultChallengeTTL)
	if _, err := c.PopVerifier(ctx, "sid"); !errors.Is(err, ErrMissingPKCEVerifier) {
		t.Errorf("PopVerifier() after TTL error = %v, want ErrMissingPKCEVerifier", err)
	}
}

func TestChallengeStore_VerifierRecordFormat(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_ = env.srv.Challenges.SaveVerifier(ctx, "sid", "v")

	raw, err := env.store.Get(ctx, pkceKeyPrefix+"sid")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	want := `{"verifier":"v","created_at":1741953600}`
	if raw != want {
		t.Errorf("stored record = %s, want %s", raw, want)
	}
}

func TestChallengeStore_CorruptVerifier(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_ = env.store.Set(ctx, pkceKeyPrefix+"sid", "not json", time.Minute)
	if _, err := env.srv.Challenges.PopVerifier(ctx, "sid"); !errors.Is(err, ErrMissingPKCEVerifier) {
		t.Errorf("PopVerifier() error = %v, want ErrMissingPKCEVerifier", err)
	}
}

func TestChallengeStore_ConsumeState(t *testing.T) {
	tests := []struct {
		name      string
		stored    string
		presented string
		wantErr   error
	}{
		{name: "match", stored: "nonce", presented: "nonce"},
		{name: "mismatch", stored: "nonce", presented: "other", wantErr: ErrInvalidState},
		{name: "empty presented", stored: "nonce", presented: "", wantErr: ErrInvalidState},
		{name: "nothing stored", presented: "nonce", wantErr: ErrInvalidState},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			ctx := context.Background()
			c := env.srv.Challenges

			if tt.stored != "" {
				_ = c.SaveState(ctx, "sid", tt.stored)
			}

			err := c.ConsumeState(ctx, "sid", tt.presented)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ConsumeState() error = %v, want %v", err, tt.wantErr)
			}

			if _, err := env.store.Get(ctx, stateKeyPrefix+"sid"); !errors.Is(err, storage.ErrNotFound) {
				t.Errorf("state still stored after ConsumeState(), Get() error = %v", err)
			}
		})
	}
}

func TestChallengeStore_StateBoundToSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.srv.Challenges

	_ = c.SaveState(ctx, "victim", "nonce")

	if err := c.ConsumeState(ctx, "attacker", "nonce"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("ConsumeState() for other session error = %v, want ErrInvalidState", err)
	}
	if err := c.ConsumeState(ctx, "victim", "nonce"); err != nil {
		t.Errorf("ConsumeState() for owning session error = %v", err)
	}
}

func TestChallengeStore_StoreFailure(t *testing.T) {
	boom := errors.New("connection refused")
	c := NewChallengeStore(testutil.FailingStore{Err: boom}, 0)
	ctx := context.Background()

	if err := c.SaveVerifier(ctx, "sid", "v"); !errors.Is(err, boom) {
		t.Errorf("SaveVerifier() error = %v, want wrapped store error", err)
	}
	if _, err := c.PopVerifier(ctx, "sid"); !errors.Is(err, boom) || errors.Is(err, ErrMissingPKCEVerifier) {
		t.Errorf("PopVerifier() error = %v, want wrapped store error", err)
	}
	if err := c.ConsumeState(ctx, "sid", "n"); !errors.Is(err, boom) || errors.Is(err, ErrInvalidState) {
		t.Errorf("ConsumeState() error = %v, want wrapped store error", err)
	}
}
