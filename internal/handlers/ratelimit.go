package handlers

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// RateLimiter is the minimal interface required to guard sensitive endpoints.
type RateLimiter interface {
	Allow(key string) bool
}

// allowRequest keys the limiter on the authenticated profile when one is
// known, falling back to the caller's IP for unauthenticated traffic.
func allowRequest(limiter RateLimiter, r *http.Request, scope, profileID string) bool {
	if limiter == nil {
		return true
	}

	key := profileID
	if key == "" {
		key = clientIP(r)
	}
	if scope != "" {
		key = fmt.Sprintf("%s:%s", scope, key)
	}
	return limiter.Allow(key)
}

func clientIP(r *http.Request) string {
	if forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}

	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}
