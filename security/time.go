package security

import "time"

// DefaultRefreshSkew is how long before expiry an access token is treated as
// unusable and refreshed.
const DefaultRefreshSkew = 60 * time.Second

// NeedsRefresh reports whether a token expiring at expiresAt should be
// refreshed at now. A token is only served from cache while
// expiresAt - skew is strictly after now.
func NeedsRefresh(expiresAt, now time.Time, skew time.Duration) bool {
	return !expiresAt.Add(-skew).After(now)
}

// IsExpired reports whether expiresAt has passed at now.
func IsExpired(expiresAt, now time.Time) bool {
	return !expiresAt.After(now)
}
