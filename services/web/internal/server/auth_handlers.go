package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"sokogo/pkg/domain"
	"sokogo/services/web/internal/apiclient"
	"sokogo/services/web/internal/authstate"
)

const maxJSONBody = 1 << 20

// authResponse is returned by login, register, signup, and logout. Redirect
// names the page the browser should load next.
type authResponse struct {
	Session  authstate.Snapshot `json:"session"`
	Redirect string             `json:"redirect,omitempty"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type googleSignupRequest struct {
	IDToken     string          `json:"idToken"`
	PhoneNumber string          `json:"phoneNumber"`
	Password    string          `json:"password"`
	Role        domain.UserRole `json:"role"`
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, sessionFrom(r).state.Snapshot())
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.allowRate(w, r, s.loginLimiter, "too many login attempts") {
		s.audit(r, "web.login", "rate_limited")
		return
	}
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		s.audit(r, "web.login", "invalid_request")
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		s.audit(r, "web.login", "invalid_request")
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}
	sess := sessionFrom(r)
	snap, err := sess.state.Login(r.Context(), email, req.Password)
	if err != nil {
		s.audit(r, "web.login", "failed", "email", email, "status", apiclient.StatusOf(err))
		writeAPIError(w, r, err)
		return
	}
	s.audit(r, "web.login", "success", "user_id", snap.User.ID, "role", string(snap.User.Role))
	writeJSON(w, http.StatusOK, authResponse{Session: snap, Redirect: sess.nav.Last()})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !s.allowRate(w, r, s.registerLimiter, "too many signup attempts") {
		s.audit(r, "web.register", "rate_limited")
		return
	}
	var req apiclient.RegisterRequest
	if !decodeJSON(w, r, &req) {
		s.audit(r, "web.register", "invalid_request")
		return
	}
	sess := sessionFrom(r)
	snap, err := sess.state.Register(r.Context(), req)
	if err != nil {
		s.audit(r, "web.register", "failed", "status", apiclient.StatusOf(err))
		writeAPIError(w, r, err)
		return
	}
	attrs := []any{}
	if snap.User != nil {
		attrs = append(attrs, "user_id", snap.User.ID, "role", string(snap.User.Role))
	}
	s.audit(r, "web.register", "success", attrs...)
	writeJSON(w, http.StatusCreated, authResponse{Session: snap, Redirect: sess.nav.Last()})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	var userID string
	if u := sess.state.Snapshot().User; u != nil {
		userID = u.ID
	}
	snap := sess.state.Logout()
	s.uploads.Close(sess.id)
	if err := s.sessions.Drop(sess.id); err != nil {
		s.audit(r, "web.logout", "storage_error", "user_id", userID, "err", err.Error())
	} else {
		s.audit(r, "web.logout", "success", "user_id", userID)
	}
	http.SetCookie(w, s.cookie(s.cookieName, "", -1))
	http.SetCookie(w, s.cookie(s.providerCookie, "", -1))
	writeJSON(w, http.StatusOK, authResponse{Session: snap, Redirect: sess.nav.Last()})
}

// handleGoogleSignup completes an account for a verified provider identity.
// The chosen password is kept sealed in session storage so later provider
// sessions can sign in to the backend.
func (s *Server) handleGoogleSignup(w http.ResponseWriter, r *http.Request) {
	if s.provider == nil {
		writeError(w, http.StatusNotFound, "provider sign-in is not configured")
		return
	}
	if !s.allowRate(w, r, s.registerLimiter, "too many signup attempts") {
		s.audit(r, "web.signup_google", "rate_limited")
		return
	}
	var req googleSignupRequest
	if !decodeJSON(w, r, &req) {
		s.audit(r, "web.signup_google", "invalid_request")
		return
	}
	identity, err := s.provider.Verify(req.IDToken)
	if err != nil {
		s.audit(r, "web.signup_google", "invalid_token")
		writeError(w, http.StatusUnauthorized, "invalid provider token")
		return
	}

	sess := sessionFrom(r)
	ctx := r.Context()
	if _, err := sess.client.GetUserByEmail(ctx, identity.Email); err == nil {
		s.audit(r, "web.signup_google", "conflict", "email", identity.Email)
		writeError(w, http.StatusConflict, "an account with this email already exists")
		return
	} else if apiclient.StatusOf(err) != http.StatusNotFound {
		writeAPIError(w, r, err)
		return
	}

	first, last := splitName(identity.Name)
	reg := apiclient.RegisterRequest{
		FirstName:   first,
		LastName:    last,
		Email:       identity.Email,
		PhoneNumber: req.PhoneNumber,
		Password:    req.Password,
		Role:        req.Role,
	}
	resp, err := sess.client.Register(ctx, reg)
	if err != nil {
		s.audit(r, "web.signup_google", "failed", "email", identity.Email, "status", apiclient.StatusOf(err))
		writeAPIError(w, r, err)
		return
	}
	user := resp.User
	if !apiclient.ValidID(user.ID) {
		login, err := sess.client.Login(ctx, identity.Email, req.Password)
		if err != nil {
			writeAPIError(w, r, err)
			return
		}
		user = login.User
	}
	snap, err := sess.state.SetUserAfterGoogleSignup(user, req.Password)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	http.SetCookie(w, s.cookie(s.providerCookie, req.IDToken, int(s.sessionTTL.Seconds())))
	s.audit(r, "web.signup_google", "success", "user_id", user.ID, "role", string(user.Role))
	writeJSON(w, http.StatusCreated, authResponse{Session: snap, Redirect: sess.nav.Last()})
}

func (s *Server) handleVerifySession(w http.ResponseWriter, r *http.Request, sess *session) {
	check, err := sess.auth.CheckAuthenticationWithSession(r.Context())
	if !check.Authenticated {
		s.audit(r, "web.session_verify", "rejected")
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "session is no longer valid", "redirect": authstate.LoginPath})
		return
	}
	body := map[string]any{"user": check.User, "verified": check.Verified}
	if err != nil {
		body["warning"] = "backend unavailable, using cached session"
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request, sess *session) {
	var update apiclient.ProfileUpdate
	if !decodeJSON(w, r, &update) {
		return
	}
	user, err := sess.client.UpdateProfile(r.Context(), update)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user.Public()})
}

func splitName(name string) (string, string) {
	parts := strings.Fields(name)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], parts[0]
	default:
		return parts[0], strings.Join(parts[1:], " ")
	}
}
