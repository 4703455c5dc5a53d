package authtest

import (
	"encoding/json"
	"net/http"

	"github.com/jrsteele09/go-session-client/auth"
	"github.com/jrsteele09/go-session-client/sessionmodel"
)

func (s *Server) initRoutes() {
	s.registerRouteFunc("POST "+APIPrefix+auth.PathLogin, ChainMiddleware(s.LoginHandler(), s.publicMiddleware()...))
	s.registerRouteFunc("POST "+APIPrefix+auth.PathRefreshToken, ChainMiddleware(s.RefreshTokenHandler(), s.publicMiddleware()...))

	s.registerRouteFunc("POST "+APIPrefix+auth.PathLogout, ChainMiddleware(s.LogoutHandler(), s.sessionMiddleware()...))
	s.registerRouteFunc("GET "+APIPrefix+auth.PathProfile, ChainMiddleware(s.ProfileHandler(), s.sessionMiddleware()...))
	s.registerRouteFunc("GET "+APIPrefix+auth.PathCheckSession, ChainMiddleware(s.CheckSessionHandler(), s.sessionMiddleware()...))
	s.registerRouteFunc("POST "+APIPrefix+auth.PathLock, ChainMiddleware(s.LockHandler(), s.sessionMiddleware()...))
	s.registerRouteFunc("POST "+APIPrefix+auth.PathUnlock, ChainMiddleware(s.UnlockHandler(), s.sessionMiddleware()...))
	s.registerRouteFunc("GET "+APIPrefix+auth.PathEvents, ChainMiddleware(s.EventsHandler(), s.sessionMiddleware()...))
}

type loginUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type loginResponse struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	User         loginUser `json:"user"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req auth.LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, sessionmodel.CodeInvalidRequest, "Invalid request body")
			return
		}
		if req.Username == "" || req.Password == "" {
			writeError(w, http.StatusBadRequest, sessionmodel.CodeMissingCredentials, "Username and password are required")
			return
		}

		user, ok := s.users.GetByUsername(req.Username)
		if !ok || !CheckPasswordHash(req.Password, user.PasswordHash) {
			writeError(w, http.StatusUnauthorized, sessionmodel.CodeInvalidCredentials, "Invalid username or password")
			return
		}

		sessionUser := sessionmodel.SessionUser{UserID: user.ID, Username: user.Username}
		accessToken, err := s.creator.CreateAccessToken(sessionUser)
		if err != nil {
			writeError(w, http.StatusInternalServerError, codeInternal, "Failed to generate tokens")
			return
		}
		refreshToken, refreshID, err := s.creator.CreateRefreshToken(sessionUser)
		if err != nil {
			writeError(w, http.StatusInternalServerError, codeInternal, "Failed to generate tokens")
			return
		}

		s.sessions.Start(user.ID, session{Username: user.Username, LoginTime: s.clock.Now()}, accessToken, refreshID)
		s.logger.Debug().Str("user", user.Username).Msg("session started")
		writeJSON(w, http.StatusOK, loginResponse{
			AccessToken:  accessToken,
			RefreshToken: refreshToken,
			User:         loginUser{ID: user.ID, Username: user.Username},
		})
	}
}

func (s *Server) RefreshTokenHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req auth.RefreshRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
			writeError(w, http.StatusBadRequest, sessionmodel.CodeMissingCredentials, "Refresh token is required")
			return
		}

		claims, err := s.creator.Verify(req.RefreshToken)
		if err != nil || !s.sessions.HasRefresh(claims.UserID, claims.ID) {
			writeError(w, http.StatusUnauthorized, sessionmodel.CodeInvalidOrExpiredToken, "Refresh token is invalid or expired")
			return
		}

		sess, ok := s.sessions.Get(claims.UserID)
		if !ok {
			writeError(w, http.StatusUnauthorized, sessionmodel.CodeSessionNotFound, "User session not found or has expired")
			return
		}
		if sess.Locked && s.clock.Now().Sub(sess.LockedAt) > s.lockTimeout {
			s.sessions.Delete(claims.UserID)
			writeError(w, http.StatusUnauthorized, sessionmodel.CodeLockTimeout, "Session expire due to inactivity. Please login again.")
			return
		}

		accessToken, err := s.creator.CreateAccessToken(claims.User())
		if err != nil {
			writeError(w, http.StatusInternalServerError, codeInternal, "Failed to generate tokens")
			return
		}
		s.sessions.AddAccess(claims.UserID, accessToken)
		writeJSON(w, http.StatusOK, auth.RefreshResponse{AccessToken: accessToken})
	}
}

func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := claimsFrom(r.Context())
		s.sessions.Delete(claims.UserID)
		writeJSON(w, http.StatusOK, messageResponse{Message: "Logged out successfully"})
	}
}

func (s *Server) ProfileHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := claimsFrom(r.Context())
		writeJSON(w, http.StatusOK, auth.ProfileResponse{User: auth.WireUser(claims.User())})
	}
}

func (s *Server) CheckSessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := claimsFrom(r.Context())
		sess, _ := s.sessions.Get(claims.UserID)
		resp := auth.CheckSessionResponse{Locked: sess.Locked}
		if sess.Locked {
			resp.LockedAt = sess.LockedAt.Unix()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) LockHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := claimsFrom(r.Context())
		lockedAt, ok := s.lockSession(claims.UserID)
		if !ok {
			writeError(w, http.StatusUnauthorized, sessionmodel.CodeSessionNotFound, "User session not found or has expired")
			return
		}
		s.hub.Publish(claims.UserID, lockedEvent(lockedAt))
		writeJSON(w, http.StatusOK, auth.LockResponse{LockedAt: lockedAt.Unix()})
	}
}

func (s *Server) UnlockHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := claimsFrom(r.Context())
		var req auth.UnlockRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Password == "" {
			writeError(w, http.StatusBadRequest, sessionmodel.CodeMissingCredentials, "Password is required")
			return
		}

		user, ok := s.users.GetByID(claims.UserID)
		if !ok || !CheckPasswordHash(req.Password, user.PasswordHash) {
			writeError(w, http.StatusUnauthorized, sessionmodel.CodeInvalidPassword, "Invalid password")
			return
		}

		s.sessions.Update(claims.UserID, func(sess *session) {
			sess.Locked = false
		})
		s.hub.Publish(claims.UserID, auth.Event{Type: auth.EventSessionUnlocked})
		writeJSON(w, http.StatusOK, messageResponse{Message: "Session unlocked"})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code sessionmodel.ErrorCode, message string) {
	writeJSON(w, status, auth.ErrorBody{ErrorCode: code, Message: message})
}
