package guard

import (
	"context"
	"log/slog"
	"net/http"
	"slices"

	"sokogo/pkg/domain"
	"sokogo/services/web/internal/apiclient"
)

// EnhancedAuth offers a fast storage-only check and a backend-verified one.
type EnhancedAuth struct {
	client *apiclient.Client
	logger *slog.Logger
}

// NewEnhancedAuth wraps the session's client.
func NewEnhancedAuth(client *apiclient.Client, logger *slog.Logger) *EnhancedAuth {
	if logger == nil {
		logger = slog.Default()
	}
	return &EnhancedAuth{client: client, logger: logger}
}

// CheckAuthenticationSync trusts session storage and never calls the backend.
func (e *EnhancedAuth) CheckAuthenticationSync() bool {
	if !e.client.IsAuthenticated() {
		return false
	}
	return e.client.ValidateSession().IsValid
}

// HasRole reports whether the cached user holds one of roles.
func (e *EnhancedAuth) HasRole(roles ...domain.UserRole) bool {
	state := e.client.ValidateSession()
	return state.IsValid && state.User != nil && slices.Contains(roles, state.User.Role)
}

// SessionCheck is the outcome of CheckAuthenticationWithSession.
type SessionCheck struct {
	Authenticated bool
	User          *domain.User
	// Verified is true when the backend confirmed the user.
	Verified bool
}

// CheckAuthenticationWithSession validates locally, then confirms the user
// with the backend. Only a 401 or 404 from the backend ends the session;
// connectivity and server errors keep the locally valid one.
func (e *EnhancedAuth) CheckAuthenticationWithSession(ctx context.Context) (SessionCheck, error) {
	state := e.client.ValidateSession()
	if !state.IsValid {
		return SessionCheck{}, nil
	}
	id := e.client.GetCurrentUserID()
	user, err := e.client.GetUserByID(ctx, id)
	if err == nil {
		return SessionCheck{Authenticated: true, User: &user, Verified: true}, nil
	}
	switch apiclient.StatusOf(err) {
	case http.StatusUnauthorized, http.StatusNotFound:
		e.logger.Warn("backend rejected cached session", "user_id", id, "err", err)
		return SessionCheck{}, nil
	}
	e.logger.Warn("session verification unavailable, keeping local session", "user_id", id, "err", err)
	return SessionCheck{Authenticated: true, User: state.User}, err
}
