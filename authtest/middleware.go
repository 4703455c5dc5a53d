package authtest

import (
	"context"
	"net/http"
	"strings"

	"github.com/jrsteele09/go-session-client/auth"
	"github.com/jrsteele09/go-session-client/sessionmodel"
	"github.com/jrsteele09/go-session-client/token"
)

// Codes only the fake service emits.
const (
	codeMissingToken       sessionmodel.ErrorCode = "MISSING_TOKEN"
	codeInvalidTokenFormat sessionmodel.ErrorCode = "INVALID_TOKEN_FORMAT"
	codeInternal           sessionmodel.ErrorCode = "INTERNAL_ERROR"
)

// allowedWhenLocked are the routes a locked session may still call.
var allowedWhenLocked = []string{
	auth.PathUnlock,
	auth.PathCheckSession,
	auth.PathLogout,
	auth.PathEvents,
}

type claimsKey struct{}

func claimsFrom(ctx context.Context) *token.Claims {
	claims, _ := ctx.Value(claimsKey{}).(*token.Claims)
	return claims
}

// ChainMiddleware wraps routeFunction so the first middleware runs first.
func ChainMiddleware(routeFunction http.HandlerFunc, mw ...func(http.HandlerFunc) http.HandlerFunc) http.HandlerFunc {
	chainedHandler := routeFunction
	for i := len(mw) - 1; i >= 0; i-- {
		chainedHandler = mw[i](chainedHandler)
	}
	return chainedHandler
}

func (s *Server) publicMiddleware() []func(http.HandlerFunc) http.HandlerFunc {
	return []func(http.HandlerFunc) http.HandlerFunc{
		s.loggingMiddleware,
		s.forcedResponseMiddleware,
	}
}

func (s *Server) sessionMiddleware() []func(http.HandlerFunc) http.HandlerFunc {
	return append(s.publicMiddleware(), s.requireSession)
}

func (s *Server) loggingMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.logger.Debug().Str("method", r.Method).Str("path", r.URL.Path).Msg("request")
		next(w, r)
	}
}

// forcedResponseMiddleware counts the call and answers with a queued failure, if any.
func (s *Server) forcedResponseMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, APIPrefix)
		if forced, ok := s.takeForced(path); ok {
			writeError(w, forced.status, forced.code, forced.message)
			return
		}
		next(w, r)
	}
}

// requireSession authenticates the bearer token, then gates locked sessions: only the
// allowlisted routes pass, and a lock older than the timeout ends the session.
func (s *Server) requireSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, http.StatusUnauthorized, codeMissingToken, "Authorization token is required")
			return
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			writeError(w, http.StatusUnauthorized, codeInvalidTokenFormat, "Authorization token format is invalid")
			return
		}

		claims, err := s.creator.Verify(parts[1])
		if err != nil || !s.sessions.AccessLive(parts[1]) {
			writeError(w, http.StatusUnauthorized, sessionmodel.CodeInvalidOrExpiredToken, "Authorization token is invalid or expired")
			return
		}

		sess, ok := s.sessions.Get(claims.UserID)
		if !ok {
			writeError(w, http.StatusUnauthorized, sessionmodel.CodeSessionNotFound, "User session not found or has expired")
			return
		}

		path := strings.TrimPrefix(r.URL.Path, APIPrefix)
		if sess.Locked && !isAllowedWhenLocked(path) {
			if s.clock.Now().Sub(sess.LockedAt) > s.lockTimeout {
				s.sessions.Delete(claims.UserID)
				writeError(w, http.StatusUnauthorized, sessionmodel.CodeLockTimeout, "Session expire due to inactivity. Please login again.")
				return
			}
			writeError(w, http.StatusForbidden, sessionmodel.CodeSessionLocked, "User session is locked. Please unlock to continue.")
			return
		}

		next(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
	}
}

func isAllowedWhenLocked(path string) bool {
	for _, allowed := range allowedWhenLocked {
		if strings.HasSuffix(path, allowed) {
			return true
		}
	}
	return false
}
