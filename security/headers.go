package security

import "net/http"

// SetSecurityHeaders sets the response headers used on every OAuth and
// usage endpoint. HSTS is only sent when the service is reached over HTTPS.
func SetSecurityHeaders(w http.ResponseWriter, https bool) {
	h := w.Header()
	h.Set("X-Frame-Options", "DENY")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
	h.Set("Referrer-Policy", "no-referrer")
	if https {
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}
	// Token-bearing redirects and usage responses must never be cached.
	h.Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
	h.Set("Pragma", "no-cache")
}

// SecurityHeaders is middleware applying SetSecurityHeaders.
func SecurityHeaders(https bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			SetSecurityHeaders(w, https)
			next.ServeHTTP(w, r)
		})
	}
}
