package security

// Event type constants for security audit logging.
const (
	// Session events

	// EventSessionCreated is logged when a new session identifier is minted
	EventSessionCreated = "session_created"

	// EventSessionCookieRejected is logged when a session cookie fails to open
	EventSessionCookieRejected = "session_cookie_rejected"

	// EventDisconnected is logged when a user disconnects their analytics account
	EventDisconnected = "disconnected"

	// Authorization flow events

	// EventAuthorizationStarted is logged when a connect flow redirects to the provider
	EventAuthorizationStarted = "authorization_started"

	// EventProviderStateMismatch is logged when a callback presents an unknown or consumed state
	EventProviderStateMismatch = "provider_state_mismatch"

	// EventPKCEVerifierMissing is logged when a callback finds no verifier for its session
	EventPKCEVerifierMissing = "pkce_verifier_missing"

	// EventProviderCodeExchangeFailed is logged when the provider rejects a code exchange
	EventProviderCodeExchangeFailed = "provider_code_exchange_failed"

	// EventProviderDeniedConsent is logged when the provider redirects back with an error
	EventProviderDeniedConsent = "provider_denied_consent"

	// Token lifecycle events

	// EventTokenIssued is logged when the initial exchange stores a token record
	EventTokenIssued = "token_issued"

	// EventTokenRefreshed is logged when an expiring access token is refreshed
	EventTokenRefreshed = "token_refreshed"

	// EventTokenRefreshFailed is logged when the provider rejects a refresh
	EventTokenRefreshFailed = "token_refresh_failed" //nolint:gosec // event name

	// EventTokenRevoked is logged when a token is revoked at the provider
	EventTokenRevoked = "token_revoked"

	// Entitlement events

	// EventQuotaExceeded is logged when a metered call is rejected
	EventQuotaExceeded = "quota_exceeded"

	// EventResourceLimitReached is logged when a property link is rejected
	EventResourceLimitReached = "resource_limit_reached"

	// EventLookbackExceeded is logged when a date range starts outside the plan window
	EventLookbackExceeded = "lookback_exceeded"

	// EventResourceAutoLinked is logged when the first property is linked implicitly
	EventResourceAutoLinked = "resource_auto_linked"

	// EventPlanOverrideApplied is logged when the QA plan override replaces a stored plan
	EventPlanOverrideApplied = "plan_override_applied"

	// Security violation events

	// EventAuthFailure is logged when a request carries no usable credential
	EventAuthFailure = "auth_failure"

	// EventRateLimitExceeded is logged when a per-IP rate limit is exceeded
	EventRateLimitExceeded = "rate_limit_exceeded"
)
