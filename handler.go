package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/analytics-oauth/instrumentation"
	"github.com/giantswarm/analytics-oauth/quota"
	"github.com/giantswarm/analytics-oauth/security"
	"github.com/giantswarm/analytics-oauth/server"
	"github.com/giantswarm/analytics-oauth/session"
)

// Route paths served by Handler.Routes.
const (
	PathConnect    = "/oauth/connect"
	PathCallback   = "/oauth/callback"
	PathDisconnect = "/oauth/disconnect"
	PathUsage      = "/usage"
)

// Handler is the HTTP surface of the analytics access core
type Handler struct {
	server      *Server
	logger      *slog.Logger
	https       bool
	clientIP    func(*http.Request) string
	rateLimiter *security.RateLimiter
}

// NewHandler creates a new HTTP handler. Call Close to stop the rate limiter.
func NewHandler(s *Server, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = s.Logger
	}
	cfg := s.Config

	h := &Handler{
		server:   s,
		logger:   logger,
		https:    cfg.secureTransport(),
		clientIP: security.ClientIPFunc(cfg.RateLimit.TrustProxy, cfg.RateLimit.TrustedProxyCount),
	}
	if cfg.RateLimit.Rate > 0 {
		burst := cfg.RateLimit.Burst
		if burst <= 0 {
			burst = cfg.RateLimit.Rate
		}
		h.rateLimiter = security.NewRateLimiter(cfg.RateLimit.Rate, burst, logger)
	}
	return h
}

// Close releases background resources.
func (h *Handler) Close() {
	if h.rateLimiter != nil {
		h.rateLimiter.Stop()
	}
}

// Routes returns a router serving the connect, callback, disconnect and
// usage endpoints. Mount it at the application root.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(security.RequestIDMiddleware)
	r.Use(security.SecurityHeaders(h.https))

	r.Group(func(r chi.Router) {
		if h.rateLimiter != nil {
			r.Use(h.rateLimiter.Middleware(h.clientIP, h.onRateLimited))
		}
		r.Get(PathConnect, h.ServeConnect)
		r.Get(PathCallback, h.ServeCallback)
	})
	r.Post(PathDisconnect, h.ServeDisconnect)
	r.Get(PathUsage, h.ServeUsage)
	return r
}

func (h *Handler) onRateLimited(w http.ResponseWriter, r *http.Request, ip string) {
	h.server.Auditor.LogRateLimitExceeded(ip, r.URL.Path)
	if m := h.metrics(); m != nil {
		m.RecordRateLimitExceeded(r.Context(), r.URL.Path)
	}
	h.writeError(w, http.StatusTooManyRequests, errorResponse{
		Code:        ErrorCodeRateLimited,
		Description: "Too many requests, try again shortly",
	})
}

// ServeConnect starts the connect flow: it ensures a session cookie and
// redirects to the provider's consent page.
func (h *Handler) ServeConnect(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx, span := h.startSpan(r.Context(), "oauth.http.connect")
	defer span.End()
	logger := security.LoggerFor(ctx, h.logger)

	sid, err := h.server.Sessions.Ensure(w, r)
	if err != nil {
		logger.Error("Failed to establish session", "error", err)
		instrumentation.RecordError(span, err)
		h.recordHTTPMetrics(ctx, "connect", r.Method, http.StatusInternalServerError, startTime)
		h.writeError(w, http.StatusInternalServerError, errorResponse{Code: ErrorCodeServerError, Description: "Internal server error"})
		return
	}

	authURL, err := h.server.OAuth.Flows.Start(ctx, sid)
	if err != nil {
		logger.Error("Failed to start authorization", "error", err)
		instrumentation.RecordError(span, err)
		h.recordHTTPMetrics(ctx, "connect", r.Method, http.StatusInternalServerError, startTime)
		h.writeError(w, http.StatusInternalServerError, errorResponse{Code: ErrorCodeServerError, Description: "Internal server error"})
		return
	}

	instrumentation.SetSpanSuccess(span)
	h.recordHTTPMetrics(ctx, "connect", r.Method, http.StatusFound, startTime)
	http.Redirect(w, r, authURL, http.StatusFound)
}

// ServeCallback completes the connect flow. Flow failures send the user back
// to the reconnect entry with an error code; store outages are 500s.
func (h *Handler) ServeCallback(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx, span := h.startSpan(r.Context(), "oauth.http.callback")
	defer span.End()
	logger := security.LoggerFor(ctx, h.logger)
	query := r.URL.Query()

	sid, _ := h.server.Sessions.Resolve(r)

	if providerErr := query.Get("error"); providerErr != "" {
		logger.Warn("Provider returned error", "error", providerErr, "description", query.Get("error_description"))
		h.server.Auditor.LogEvent(security.Event{
			Type:      security.EventProviderDeniedConsent,
			Identity:  sid,
			IPAddress: h.clientIP(r),
			Details:   map[string]any{"error": providerErr},
		})
		instrumentation.RecordError(span, fmt.Errorf("provider returned %s", providerErr))
		h.recordHTTPMetrics(ctx, "callback", r.Method, http.StatusFound, startTime)
		http.Redirect(w, r, h.reconnectURL(ErrorCodeAccessDenied), http.StatusFound)
		return
	}

	_, err := h.server.OAuth.Flows.Callback(ctx, sid, query.Get("code"), query.Get("state"))
	if err != nil {
		code := server.ErrorCode(err)
		instrumentation.RecordError(span, err)
		if code == server.CodeServerError {
			logger.Error("Failed to complete authorization", "error", err)
			h.recordHTTPMetrics(ctx, "callback", r.Method, http.StatusInternalServerError, startTime)
			h.writeError(w, http.StatusInternalServerError, errorResponse{Code: ErrorCodeServerError, Description: "Internal server error"})
			return
		}
		logger.Warn("Authorization callback rejected", "code", code, "error", err)
		h.recordHTTPMetrics(ctx, "callback", r.Method, http.StatusFound, startTime)
		http.Redirect(w, r, h.reconnectURL(code), http.StatusFound)
		return
	}

	if err := h.server.Sessions.Extend(w, sid); err != nil {
		logger.Warn("Failed to extend session cookie", "error", err)
	}

	instrumentation.SetSpanSuccess(span)
	h.recordHTTPMetrics(ctx, "callback", r.Method, http.StatusFound, startTime)
	http.Redirect(w, r, h.server.Config.Links.SuccessRedirectURL, http.StatusFound)
}

// ServeDisconnect forgets the stored credential, revokes it at the provider
// and clears the session cookie.
func (h *Handler) ServeDisconnect(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx, span := h.startSpan(r.Context(), "oauth.http.disconnect")
	defer span.End()

	if sid, ok := h.server.Sessions.Resolve(r); ok {
		err := h.server.OAuth.Tokens.Disconnect(ctx, sid)
		if err != nil && !errors.Is(err, server.ErrAuthRequired) {
			security.LoggerFor(ctx, h.logger).Error("Failed to disconnect", "error", err)
			instrumentation.RecordError(span, err)
			h.recordHTTPMetrics(ctx, "disconnect", r.Method, http.StatusInternalServerError, startTime)
			h.writeError(w, http.StatusInternalServerError, errorResponse{Code: ErrorCodeServerError, Description: "Internal server error"})
			return
		}
	}

	h.server.Sessions.Clear(w)
	instrumentation.SetSpanSuccess(span)
	h.recordHTTPMetrics(ctx, "disconnect", r.Method, http.StatusNoContent, startTime)
	w.WriteHeader(http.StatusNoContent)
}

type usageEntry struct {
	Kind      quota.Kind `json:"kind"`
	Used      int64      `json:"used"`
	Limit     int64      `json:"limit"`
	Remaining int64      `json:"remaining"`
}

type usageResponse struct {
	Plan         quota.Plan             `json:"plan"`
	Period       string                 `json:"period"`
	Connected    bool                   `json:"connected"`
	Usage        []usageEntry           `json:"usage"`
	Properties   []quota.LinkedProperty `json:"properties"`
	UpgradeURL   string                 `json:"upgrade_url,omitempty"`
	ReconnectURL string                 `json:"reconnect_url,omitempty"`
}

// ServeUsage reports the caller's plan, current period usage and linked
// properties. Requests without a session get a 401 with the reconnect link.
func (h *Handler) ServeUsage(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx, span := h.startSpan(r.Context(), "oauth.http.usage")
	defer span.End()

	sid, ok := h.server.Sessions.Resolve(r)
	if !ok {
		h.recordHTTPMetrics(ctx, "usage", r.Method, http.StatusUnauthorized, startTime)
		status, body := h.classify(server.ErrAuthRequired)
		h.writeError(w, status, body)
		return
	}

	summary, err := h.server.Summary(ctx, sid)
	if err != nil {
		security.LoggerFor(ctx, h.logger).Error("Failed to load usage", "error", err)
		instrumentation.RecordError(span, err)
		h.recordHTTPMetrics(ctx, "usage", r.Method, http.StatusInternalServerError, startTime)
		h.writeError(w, http.StatusInternalServerError, errorResponse{Code: ErrorCodeServerError, Description: "Internal server error"})
		return
	}

	resp := usageResponse{
		Plan:       summary.Plan,
		Connected:  summary.Connected,
		Usage:      make([]usageEntry, 0, len(summary.Usage)),
		Properties: summary.Properties,
		UpgradeURL: h.server.Config.Links.UpgradeURL,
	}
	for _, u := range summary.Usage {
		resp.Period = u.Period
		resp.Usage = append(resp.Usage, usageEntry{Kind: u.Kind, Used: u.Used, Limit: u.Limit, Remaining: u.Remaining()})
	}
	if resp.Properties == nil {
		resp.Properties = []quota.LinkedProperty{}
	}
	if !summary.Connected {
		resp.ReconnectURL = h.server.Config.Links.ReconnectURL
	}

	instrumentation.SetSpanSuccess(span)
	h.recordHTTPMetrics(ctx, "usage", r.Method, http.StatusOK, startTime)
	h.writeJSON(w, http.StatusOK, resp)
}

// RequestFunc extracts the property and date range of a metered request.
// Kind is filled in by Metered. Return an error wrapping ErrInvalidRequest
// for malformed input.
type RequestFunc func(r *http.Request) (Request, error)

// QueryRequest reads property_id and start_date (YYYY-MM-DD) from the query string.
func QueryRequest(r *http.Request) (Request, error) {
	var req Request
	q := r.URL.Query()

	if id := q.Get("property_id"); id != "" {
		req.Property = &quota.Property{ID: id, Name: q.Get("property_name")}
	}
	if s := q.Get("start_date"); s != "" {
		start, err := time.Parse(time.DateOnly, s)
		if err != nil {
			return Request{}, fmt.Errorf("%w: start_date must be YYYY-MM-DD", ErrInvalidRequest)
		}
		req.StartDate = start
	}
	return req, nil
}

type grantKey struct{}

// GrantFromContext returns the grant Metered attached to the request context.
func GrantFromContext(ctx context.Context) (*Grant, bool) {
	g, ok := ctx.Value(grantKey{}).(*Grant)
	return g, ok
}

// ContextWithGrant attaches g to ctx.
func ContextWithGrant(ctx context.Context, g *Grant) context.Context {
	return context.WithValue(ctx, grantKey{}, g)
}

// Metered wraps an analytics endpoint. Each request is authorized and counted
// as one call of kind; the wrapped handler reads the bearer from
// GrantFromContext. A nil extract uses QueryRequest.
//
// Rejections are JSON: 401 with reconnect_url when no credential is stored,
// 429 or 403 with upgrade_url when the plan does not allow the call.
func (h *Handler) Metered(kind quota.Kind, extract RequestFunc) func(http.Handler) http.Handler {
	if extract == nil {
		extract = QueryRequest
	}
	endpoint := "metered_" + string(kind)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			startTime := time.Now()
			ctx, span := h.startSpan(r.Context(), "oauth.http.metered")
			defer span.End()

			sid, ok := h.server.Sessions.Resolve(r)
			if !ok {
				h.server.Auditor.LogAuthFailure("", h.clientIP(r), "no session")
				h.reject(ctx, w, r, endpoint, startTime, span, server.ErrAuthRequired)
				return
			}

			req, err := extract(r)
			if err != nil {
				h.reject(ctx, w, r, endpoint, startTime, span, err)
				return
			}
			req.Kind = kind

			grant, err := h.server.Authorize(ctx, sid, req)
			if err != nil {
				h.reject(ctx, w, r, endpoint, startTime, span, err)
				return
			}

			instrumentation.SetSpanSuccess(span)
			h.recordHTTPMetrics(ctx, endpoint, r.Method, http.StatusOK, startTime)
			ctx = ContextWithGrant(session.WithID(ctx, sid), grant)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (h *Handler) reject(ctx context.Context, w http.ResponseWriter, r *http.Request, endpoint string, startTime time.Time, span trace.Span, err error) {
	status, body := h.classify(err)
	if status == http.StatusInternalServerError {
		security.LoggerFor(ctx, h.logger).Error("Failed to authorize analytics call", "error", err)
		instrumentation.RecordError(span, err)
	}
	h.recordHTTPMetrics(ctx, endpoint, r.Method, status, startTime)
	h.writeError(w, status, body)
}

func (h *Handler) metrics() *instrumentation.Metrics {
	if h.server.instrumentation == nil {
		return nil
	}
	return h.server.instrumentation.Metrics()
}

// startSpan returns a span for the request; a no-op span when tracing is off.
func (h *Handler) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if h.server.instrumentation == nil {
		return ctx, trace.SpanFromContext(context.Background())
	}
	return h.server.instrumentation.Tracer("http").Start(ctx, name)
}

func (h *Handler) recordHTTPMetrics(ctx context.Context, endpoint, method string, status int, startTime time.Time) {
	instrumentation.AddHTTPAttributes(trace.SpanFromContext(ctx), method, endpoint, status)

	m := h.metrics()
	if m == nil {
		return
	}
	duration := time.Since(startTime).Seconds() * 1000
	m.RecordHTTPRequest(ctx, method, endpoint, status, duration)
}
