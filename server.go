package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/coder/quartz"

	"github.com/giantswarm/analytics-oauth/instrumentation"
	"github.com/giantswarm/analytics-oauth/providers"
	"github.com/giantswarm/analytics-oauth/quota"
	"github.com/giantswarm/analytics-oauth/security"
	"github.com/giantswarm/analytics-oauth/server"
	"github.com/giantswarm/analytics-oauth/session"
	"github.com/giantswarm/analytics-oauth/storage"
)

// ErrAuthRequired is returned when the identity must run the connect flow.
var ErrAuthRequired = server.ErrAuthRequired

// Server wires sessions, the OAuth flow, token lifecycle, usage metering and
// entitlements over one provider and one store.
type Server struct {
	OAuth    *server.Server
	Sessions *session.Binder
	Meter    *quota.Meter
	Guard    *quota.Guard
	Plans    quota.PlanResolver

	Vault   *security.Vault
	Auditor *security.Auditor
	Logger  *slog.Logger
	Config  *Config

	store           storage.Store
	instrumentation *instrumentation.Instrumentation
}

// NewServer creates a server. cfg is defaulted but not validated; callers
// reading external configuration should call Validate first.
func NewServer(provider providers.Provider, store storage.Store, cfg *Config) (*Server, error) {
	if provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	cfg = applySecureDefaults(cfg)
	logger := cfg.Logger

	vault, err := security.NewVault(cfg.Session.Secret, cfg.Session.Salt)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault: %w", err)
	}

	sessions, err := session.New(vault, session.Config{
		CookieName:          cfg.Session.CookieName,
		Domain:              cfg.Session.CookieDomain,
		MaxAge:              cfg.Session.MaxAge,
		AllowInsecureCookie: cfg.Session.AllowInsecureCookie,
	}, logger)
	if err != nil {
		return nil, err
	}

	core, err := server.New(provider, store, &cfg.Token, logger)
	if err != nil {
		return nil, err
	}
	if !cfg.Security.DisableTokenEncryption {
		core.SetVault(vault)
	}

	plans, err := quota.NewStorePlanResolver(store, cfg.Plans.DefaultPlan, logger)
	if err != nil {
		return nil, err
	}
	if err := plans.SetOverride(cfg.Plans.Override); err != nil {
		return nil, err
	}
	plans.SetStoreTimeout(core.Config.StoreTimeout)

	meter := quota.NewMeter(store, *cfg.Plans.Table, logger)
	meter.SetStoreTimeout(core.Config.StoreTimeout)
	guard := quota.NewGuard(store, *cfg.Plans.Table, logger)
	guard.SetStoreTimeout(core.Config.StoreTimeout)

	s := &Server{
		OAuth:    core,
		Sessions: sessions,
		Meter:    meter,
		Guard:    guard,
		Plans:    plans,
		Vault:    vault,
		Logger:   logger,
		Config:   cfg,
		store:    store,
	}

	auditor := security.NewAuditor(logger, cfg.Security.EnableAuditLogging)
	s.SetAuditor(auditor)

	return s, nil
}

// SetAuditor sets the security auditor on every component
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.Auditor = aud
	s.OAuth.SetAuditor(aud)
	s.Sessions.SetAuditor(aud)
	s.Meter.SetAuditor(aud)
	s.Guard.SetAuditor(aud)
	if r, ok := s.Plans.(*quota.StorePlanResolver); ok {
		r.SetAuditor(aud)
	}
}

// SetInstrumentation enables metrics and tracing on every component
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.instrumentation = inst
	s.OAuth.SetInstrumentation(inst)
	s.Meter.SetInstrumentation(inst)
	s.Guard.SetInstrumentation(inst)
}

// SetClock replaces the clock on every time-dependent component.
func (s *Server) SetClock(clock quartz.Clock) {
	s.OAuth.SetClock(clock)
	s.Meter.SetClock(clock)
	s.Guard.SetClock(clock)
	if s.Auditor != nil {
		s.Auditor.SetClock(clock)
	}
}

// Store returns the backing store.
func (s *Server) Store() storage.Store {
	return s.store
}

// Request describes a metered analytics call.
type Request struct {
	// Kind is the metered operation (required)
	Kind quota.Kind

	// Property is the analytics property read. Nil skips the link check.
	Property *quota.Property

	// StartDate is the first day of the requested range. Zero skips the
	// lookback check.
	StartDate time.Time
}

// Grant is an approved call: the bearer to send and the usage it consumed.
type Grant struct {
	AccessToken string
	Plan        quota.Plan
	Usage       *quota.Usage
}

// Authorize approves one analytics call for identity. Checks run in a fixed
// order: bearer credential, plan, lookback window, property link, then the
// usage meter, so a call rejected by any earlier check is never counted. A new
// property is linked only after the meter has accepted the call.
func (s *Server) Authorize(ctx context.Context, identity string, req Request) (*Grant, error) {
	if _, err := quota.ParseKind(string(req.Kind)); err != nil {
		return nil, err
	}

	token, err := s.OAuth.Tokens.Bearer(ctx, identity)
	if err != nil {
		return nil, err
	}

	plan, err := s.Plans.Resolve(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve plan: %w", err)
	}

	if !req.StartDate.IsZero() {
		if err := s.Guard.AssertLookback(ctx, identity, plan, req.StartDate); err != nil {
			return nil, err
		}
	}

	linkProperty := false
	if req.Property != nil {
		linkProperty, err = s.Guard.CheckResourceLink(ctx, identity, plan, *req.Property)
		if err != nil {
			return nil, err
		}
	}

	usage, err := s.Meter.CheckAndIncrement(ctx, identity, plan, req.Kind)
	if err != nil {
		return nil, err
	}

	// The property is linked only once the call has been counted.
	if linkProperty {
		if err := s.Guard.LinkProperty(ctx, identity, plan, *req.Property); err != nil {
			return nil, err
		}
	}

	return &Grant{AccessToken: token, Plan: plan, Usage: usage}, nil
}

// UsageSummary is the current period's usage and linked properties.
type UsageSummary struct {
	Plan       quota.Plan
	Usage      []quota.Usage
	Properties []quota.LinkedProperty
	Connected  bool
}

// Summary reports identity's plan, usage and linked properties.
func (s *Server) Summary(ctx context.Context, identity string) (*UsageSummary, error) {
	plan, err := s.Plans.Resolve(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve plan: %w", err)
	}
	usage, err := s.Meter.Usage(ctx, identity, plan)
	if err != nil {
		return nil, err
	}
	props, err := s.Guard.Properties(ctx, identity)
	if err != nil {
		return nil, err
	}

	_, err = s.OAuth.Tokens.Load(ctx, identity)
	if err != nil && !errors.Is(err, server.ErrAuthRequired) {
		return nil, err
	}

	return &UsageSummary{
		Plan:       plan,
		Usage:      usage,
		Properties: props,
		Connected:  err == nil,
	}, nil
}
