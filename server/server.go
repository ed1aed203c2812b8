package server

import (
	"fmt"
	"log/slog"

	"github.com/coder/quartz"

	"github.com/giantswarm/analytics-oauth/instrumentation"
	"github.com/giantswarm/analytics-oauth/providers"
	"github.com/giantswarm/analytics-oauth/security"
	"github.com/giantswarm/analytics-oauth/storage"
)

// Server ties the challenge store, flow controller and token manager to one
// provider and one store.
type Server struct {
	Challenges *ChallengeStore
	Flows      *FlowController
	Tokens     *TokenManager

	Provider providers.Provider
	Auditor  *security.Auditor
	Logger   *slog.Logger
	Config   *Config
}

// New creates a new OAuth token server
func New(provider providers.Provider, store storage.Store, config *Config, logger *slog.Logger) (*Server, error) {
	if provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	config = applyDefaults(config, logger)

	challenges := NewChallengeStore(store, config.ChallengeTTL)
	tokens := NewTokenManager(store, nil, config, logger)
	flows := NewFlowController(provider, challenges, tokens, config, logger)
	tokens.refresher = flows

	return &Server{
		Challenges: challenges,
		Flows:      flows,
		Tokens:     tokens,
		Provider:   provider,
		Logger:     logger,
		Config:     config,
	}, nil
}

// SetVault enables sealing of token records at rest.
func (s *Server) SetVault(vault *security.Vault) {
	s.Tokens.vault = vault
}

// SetAuditor sets the security auditor
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.Auditor = aud
	s.Flows.auditor = aud
	s.Tokens.auditor = aud
}

// SetInstrumentation enables spans and metrics for flows and token lookups.
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	if inst == nil {
		return
	}
	s.Flows.tracer = inst.Tracer("server")
	s.Flows.metrics = inst.Metrics()
	s.Tokens.tracer = inst.Tracer("server")
	s.Tokens.metrics = inst.Metrics()
}

// SetClock replaces the clock used for expiry decisions.
func (s *Server) SetClock(clock quartz.Clock) {
	if clock == nil {
		return
	}
	s.Challenges.SetClock(clock)
	s.Flows.clock = clock
	s.Tokens.clock = clock
}
