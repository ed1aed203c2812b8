package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"

	"github.com/coder/quartz"
)

// Auditor writes security events with hashed identities.
type Auditor struct {
	logger  *slog.Logger
	clock   quartz.Clock
	enabled bool
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		clock:   quartz.NewReal(),
		enabled: enabled,
	}
}

// SetClock replaces the clock used to timestamp events.
func (a *Auditor) SetClock(clock quartz.Clock) {
	if clock != nil {
		a.clock = clock
	}
}

// Event represents a security audit event
type Event struct {
	Type      string
	Identity  string
	IPAddress string
	Details   map[string]any
}

// LogEvent logs a security event. The identity is never written in clear text.
func (a *Auditor) LogEvent(event Event) {
	if a == nil || !a.enabled {
		return
	}

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"identity_hash", HashForLogging(event.Identity),
		"ip_address", event.IPAddress,
		"details", event.Details,
		"timestamp", a.clock.Now(),
	)
}

// LogAuthFailure logs a rejected callback or an unusable credential.
func (a *Auditor) LogAuthFailure(identity, ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      EventAuthFailure,
		Identity:  identity,
		IPAddress: ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogRateLimitExceeded logs a per-IP rate limit violation
func (a *Auditor) LogRateLimitExceeded(ipAddress, endpoint string) {
	a.LogEvent(Event{
		Type:      EventRateLimitExceeded,
		IPAddress: ipAddress,
		Details: map[string]any{
			"endpoint": endpoint,
		},
	})
}

// HashForLogging returns a short SHA-256 prefix suitable for correlating log lines.
func HashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
