package oauth

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/giantswarm/analytics-oauth/quota"
	"github.com/giantswarm/analytics-oauth/security"
	"github.com/giantswarm/analytics-oauth/server"
)

// Error codes returned in JSON error bodies
const (
	ErrorCodeAuthRequired     = server.CodeAuthRequired
	ErrorCodeInvalidRequest   = "invalid_request"
	ErrorCodeQuotaExceeded    = "quota_exceeded"
	ErrorCodePropertyLimit    = "property_limit_reached"
	ErrorCodeLookbackExceeded = "lookback_exceeded"
	ErrorCodeRateLimited      = "rate_limit_exceeded"
	ErrorCodeServerError      = server.CodeServerError
	ErrorCodeAccessDenied     = "access_denied"
)

// errorResponse is the JSON body of every error written by the handler.
type errorResponse struct {
	Code         string `json:"error"`
	Description  string `json:"error_description"`
	UpgradeURL   string `json:"upgrade_url,omitempty"`
	ReconnectURL string `json:"reconnect_url,omitempty"`
}

// classify maps an Authorize error to an HTTP status and response body.
// Unknown errors are reported as server errors without their message.
func (h *Handler) classify(err error) (int, errorResponse) {
	links := h.server.Config.Links

	var rle *quota.RateLimitError
	switch {
	case errors.Is(err, server.ErrAuthRequired):
		return http.StatusUnauthorized, errorResponse{
			Code:         ErrorCodeAuthRequired,
			Description:  "Connect your analytics account to continue",
			ReconnectURL: links.ReconnectURL,
		}
	case errors.As(err, &rle):
		return http.StatusTooManyRequests, errorResponse{
			Code:        ErrorCodeQuotaExceeded,
			Description: rle.Error(),
			UpgradeURL:  links.UpgradeURL,
		}
	case errors.Is(err, quota.ErrResourceLimitReached):
		return http.StatusForbidden, errorResponse{
			Code:        ErrorCodePropertyLimit,
			Description: err.Error(),
			UpgradeURL:  links.UpgradeURL,
		}
	case errors.Is(err, quota.ErrLookbackExceeded):
		return http.StatusForbidden, errorResponse{
			Code:        ErrorCodeLookbackExceeded,
			Description: err.Error(),
			UpgradeURL:  links.UpgradeURL,
		}
	case errors.Is(err, quota.ErrUnknownKind), errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest, errorResponse{
			Code:        ErrorCodeInvalidRequest,
			Description: err.Error(),
		}
	default:
		return http.StatusInternalServerError, errorResponse{
			Code:        ErrorCodeServerError,
			Description: "Internal server error",
		}
	}
}

// ErrInvalidRequest marks a request a RequestFunc could not parse.
var ErrInvalidRequest = errors.New("invalid request")

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	security.SetSecurityHeaders(w, h.https)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, body errorResponse) {
	h.writeJSON(w, status, body)
}

// reconnectURL appends the failure code to the configured reconnect link so
// the landing page can explain what happened.
func (h *Handler) reconnectURL(code string) string {
	u, err := url.Parse(h.server.Config.Links.ReconnectURL)
	if err != nil {
		return h.server.Config.Links.ReconnectURL
	}
	q := u.Query()
	q.Set("error", code)
	u.RawQuery = q.Encode()
	return u.String()
}
