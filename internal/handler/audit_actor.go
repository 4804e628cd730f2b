package handler

import (
	"net"
	"net/http"
	"strings"

	"go-audit-trail/internal/middleware"
)

// actorIDFromRequest returns the actor resolved by the auth middleware.
func actorIDFromRequest(r *http.Request) (int64, bool) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok || claims.ActorID <= 0 {
		return 0, false
	}
	return claims.ActorID, true
}

func hasRole(r *http.Request, roles ...string) bool {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		return false
	}
	for _, role := range roles {
		if strings.EqualFold(claims.Role, role) {
			return true
		}
	}
	return false
}

func clientIP(r *http.Request) string {
	xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For"))
	if xff != "" {
		parts := strings.Split(xff, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}

	xri := strings.TrimSpace(r.Header.Get("X-Real-IP"))
	if xri != "" {
		return xri
	}

	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		return host
	}

	return strings.TrimSpace(r.RemoteAddr)
}
