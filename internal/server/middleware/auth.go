package middleware

import (
	"net"
	"net/http"
	"strings"

	"session-control-plane/internal/security"
	"session-control-plane/internal/server/respond"
)

const bearerPrefix = "bearer "

// RequireAuth validates the Bearer access token on protected routes and sets
// user_id, org_id, and role in the request context. Every failure collapses
// to one Unauthenticated response.
func RequireAuth(tokens *security.TokenProvider) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearer(r)
			if token == "" {
				respond.Error(w, http.StatusUnauthorized, "Unauthenticated", "missing or invalid authorization")
				return
			}
			claims, err := tokens.ValidateAccess(token)
			if err != nil {
				respond.Error(w, http.StatusUnauthorized, "Unauthenticated", "missing or invalid authorization")
				return
			}
			ctx := WithIdentity(r.Context(), claims.Subject, claims.OrgID, claims.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientIP records the request's client IP in context for audit and rate
// limiting. The first X-Forwarded-For hop wins when present.
func ClientIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		next.ServeHTTP(w, r.WithContext(WithClientIP(r.Context(), ip)))
	})
}

// extractBearer returns the Bearer token from the Authorization header, or ""
// if missing or malformed.
func extractBearer(r *http.Request) string {
	v := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
