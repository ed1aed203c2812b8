package security

import (
	"net"
	"net/http"
	"strings"
)

// GetClientIP returns the caller's IP address.
//
// Forwarding headers are only honored when trustProxy is set. trustedProxyCount
// is the number of proxies we operate, counted from the right of
// X-Forwarded-For; zero means one.
func GetClientIP(r *http.Request, trustProxy bool, trustedProxyCount int) string {
	if trustProxy {
		if ip := fromForwardedFor(r.Header.Get("X-Forwarded-For"), trustedProxyCount); ip != "" {
			return ip
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(ip) != nil {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ClientIPFunc binds the proxy settings for use as a rate limiter key.
func ClientIPFunc(trustProxy bool, trustedProxyCount int) func(*http.Request) string {
	return func(r *http.Request) string {
		return GetClientIP(r, trustProxy, trustedProxyCount)
	}
}

func fromForwardedFor(xff string, trustedProxyCount int) string {
	if xff == "" {
		return ""
	}
	if trustedProxyCount <= 0 {
		trustedProxyCount = 1
	}

	ips := strings.Split(xff, ",")
	idx := len(ips) - trustedProxyCount - 1
	if idx < 0 {
		idx = 0
	}

	ip := strings.TrimSpace(ips[idx])
	if net.ParseIP(ip) == nil {
		return ""
	}
	return ip
}
