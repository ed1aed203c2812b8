package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/coder/quartz"

	"github.com/giantswarm/analytics-oauth/storage"
)

const (
	pkceKeyPrefix  = "pkce:"
	stateKeyPrefix = "oauth_state:"
)

// PKCEChallenge is the stored half of a PKCE pair.
type PKCEChallenge struct {
	Verifier  string `json:"verifier"`
	CreatedAt int64  `json:"created_at"`
}

// ChallengeStore keeps per-session PKCE verifiers and state nonces. Both are
// single use: reading one removes it.
type ChallengeStore struct {
	store storage.Store
	ttl   time.Duration
	clock quartz.Clock
}

// NewChallengeStore creates a challenge store. A non-positive ttl uses
// DefaultChallengeTTL.
func NewChallengeStore(store storage.Store, ttl time.Duration) *ChallengeStore {
	if ttl <= 0 {
		ttl = DefaultChallengeTTL
	}
	return &ChallengeStore{
		store: store,
		ttl:   ttl,
		clock: quartz.NewReal(),
	}
}

// SetClock replaces the clock used to timestamp verifiers.
func (c *ChallengeStore) SetClock(clock quartz.Clock) {
	if clock != nil {
		c.clock = clock
	}
}

// SaveVerifier stores verifier for sessionID, replacing any earlier one.
func (c *ChallengeStore) SaveVerifier(ctx context.Context, sessionID, verifier string) error {
	data, err := json.Marshal(PKCEChallenge{
		Verifier:  verifier,
		CreatedAt: c.clock.Now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal pkce challenge: %w", err)
	}
	if err := c.store.Set(ctx, pkceKeyPrefix+sessionID, string(data), c.ttl); err != nil {
		return fmt.Errorf("failed to store pkce verifier: %w", err)
	}
	return nil
}

// PopVerifier returns and removes the verifier for sessionID.
func (c *ChallengeStore) PopVerifier(ctx context.Context, sessionID string) (string, error) {
	raw, err := storage.GetDelete(ctx, c.store, pkceKeyPrefix+sessionID)
	if errors.Is(err, storage.ErrNotFound) {
		return "", ErrMissingPKCEVerifier
	}
	if err != nil {
		return "", fmt.Errorf("failed to load pkce verifier: %w", err)
	}

	var challenge PKCEChallenge
	if err := json.Unmarshal([]byte(raw), &challenge); err != nil || challenge.Verifier == "" {
		return "", ErrMissingPKCEVerifier
	}
	return challenge.Verifier, nil
}

// SaveState stores the state nonce for sessionID, replacing any earlier one.
func (c *ChallengeStore) SaveState(ctx context.Context, sessionID, state string) error {
	if err := c.store.Set(ctx, stateKeyPrefix+sessionID, state, c.ttl); err != nil {
		return fmt.Errorf("failed to store oauth state: %w", err)
	}
	return nil
}

// ConsumeState removes the state nonce for sessionID and checks it against
// presented. The stored nonce is gone afterwards whether or not it matched.
func (c *ChallengeStore) ConsumeState(ctx context.Context, sessionID, presented string) error {
	stored, err := storage.GetDelete(ctx, c.store, stateKeyPrefix+sessionID)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrInvalidState
	}
	if err != nil {
		return fmt.Errorf("failed to load oauth state: %w", err)
	}

	if presented == "" || subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) != 1 {
		return ErrInvalidState
	}
	return nil
}
