package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"udstportal/portal-service/internal/models"
	"udstportal/portal-service/internal/store"
)

type authContextKey struct{}

type SessionLookup interface {
	GetSession(ctx context.Context, key string) (models.Session, error)
}

func AuthMiddleware(sessions SessionLookup, cookies *SessionCookies, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicEndpoint(r) {
			next.ServeHTTP(w, r)
			return
		}
		sessionID := sessionIDFromRequest(r, cookies)
		if sessionID == "" {
			writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "missing session")
			return
		}
		session, err := sessions.GetSession(r.Context(), sessionID)
		if err != nil {
			if errors.Is(err, store.ErrSessionNotFound) {
				writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "invalid session")
				return
			}
			status, code, message := mapError(err)
			writeError(w, requestIDFromRequest(r), status, code, message)
			return
		}
		if strings.HasPrefix(r.URL.Path, "/api/admin/") && !session.IsAdmin() {
			writeError(w, requestIDFromRequest(r), http.StatusForbidden, "access_denied", "administrator role required")
			return
		}
		ctx := context.WithValue(r.Context(), authContextKey{}, session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionFromContext(ctx context.Context) (models.Session, bool) {
	session, ok := ctx.Value(authContextKey{}).(models.Session)
	return session, ok
}

func sessionIDFromRequest(r *http.Request, cookies *SessionCookies) string {
	if token := bearerToken(r.Header.Get("Authorization")); token != "" {
		return token
	}
	if id := strings.TrimSpace(r.Header.Get("X-Session-ID")); id != "" {
		return id
	}
	if cookies != nil {
		return cookies.Read(r)
	}
	return ""
}

func requestIDFromRequest(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Request-ID"))
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return parts[1]
}

// isPublicEndpoint matches on path only; the handlers reject wrong methods.
func isPublicEndpoint(r *http.Request) bool {
	switch r.URL.Path {
	case "/healthz",
		"/api/auth/login",
		"/api/auth/register",
		"/api/auth/forgot-password",
		"/api/auth/verify",
		"/api/auth/reset-password",
		"/verify",
		"/resetPassword":
		return true
	default:
		return r.Method == http.MethodOptions
	}
}
