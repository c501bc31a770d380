package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/mail"
	"strings"

	"sokogo/pkg/auth"
	"sokogo/pkg/domain"
	"sokogo/pkg/store"
)

// AuthResponse is the backend reply to login and register.
type AuthResponse struct {
	Message string      `json:"message,omitempty"`
	Token   string      `json:"token,omitempty"`
	User    domain.User `json:"user"`
}

// RegisterRequest carries the sign-up form.
type RegisterRequest struct {
	FirstName   string          `json:"firstName"`
	LastName    string          `json:"lastName"`
	Email       string          `json:"email"`
	PhoneNumber string          `json:"phoneNumber"`
	Password    string          `json:"password"`
	Role        domain.UserRole `json:"role"`
}

// Validate checks required fields and the password policy.
func (r RegisterRequest) Validate() error {
	var problems []string
	if strings.TrimSpace(r.FirstName) == "" {
		problems = append(problems, "first name is required")
	}
	if strings.TrimSpace(r.LastName) == "" {
		problems = append(problems, "last name is required")
	}
	if _, err := mail.ParseAddress(strings.TrimSpace(r.Email)); err != nil {
		problems = append(problems, "a valid email is required")
	}
	if strings.TrimSpace(r.PhoneNumber) == "" {
		problems = append(problems, "phone number is required")
	}
	if err := auth.ValidatePassword(r.Password); err != nil {
		problems = append(problems, err.Error())
	}
	if _, ok := domain.ParseRole(string(r.Role)); !ok {
		problems = append(problems, "role must be buyer, seller or admin")
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// ProfileUpdate carries editable profile fields. Empty fields are left as is.
type ProfileUpdate struct {
	FirstName   string `json:"firstName,omitempty"`
	LastName    string `json:"lastName,omitempty"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
}

// SessionState is the outcome of ValidateSession.
type SessionState struct {
	IsValid bool
	User    *domain.User
	// Error describes a missing session or an inconsistency that was tolerated.
	Error string
}

// Login authenticates and stores the session on success.
func (c *Client) Login(ctx context.Context, email, password string) (AuthResponse, error) {
	payload := map[string]string{
		"email":    strings.TrimSpace(email),
		"password": password,
	}
	var resp AuthResponse
	if err := c.doJSON(ctx, http.MethodPost, "/auth/login", payload, &resp); err != nil {
		return AuthResponse{}, fmt.Errorf("login: %w", err)
	}
	if !ValidID(resp.User.ID) {
		return AuthResponse{}, fmt.Errorf("login: %w", &APIError{Status: http.StatusBadGateway, Message: "login response has no user id"})
	}
	c.StoreSession(resp.User)
	c.storeToken(resp.Token)
	return resp, nil
}

// Register creates an account. When the backend returns a user id the
// session is stored as well.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (AuthResponse, error) {
	if req.Role == "" {
		req.Role = domain.RoleBuyer
	}
	if err := req.Validate(); err != nil {
		return AuthResponse{}, err
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	var resp AuthResponse
	if err := c.doJSON(ctx, http.MethodPost, "/auth/register", req, &resp); err != nil {
		return AuthResponse{}, fmt.Errorf("register: %w", err)
	}
	if ValidID(resp.User.ID) {
		c.StoreSession(resp.User)
		c.storeToken(resp.Token)
	}
	return resp, nil
}

// UpdateProfile saves profile changes and refreshes the cached user.
func (c *Client) UpdateProfile(ctx context.Context, update ProfileUpdate) (domain.User, error) {
	if err := c.ensureAuthenticated(); err != nil {
		return domain.User{}, err
	}
	var resp struct {
		User domain.User `json:"user"`
	}
	if err := c.doJSON(ctx, http.MethodPut, "/auth/profile", update, &resp); err != nil {
		return domain.User{}, fmt.Errorf("update profile: %w", err)
	}
	if ValidID(resp.User.ID) {
		c.storeUser(resp.User)
	}
	return resp.User, nil
}

// ValidateSession checks the cached identity without calling the backend.
// Inconsistent caches stay valid so a stale field never logs a user out.
func (c *Client) ValidateSession() SessionState {
	id := c.GetCurrentUserID()
	user, userErr := c.CachedUser()

	if !ValidID(id) {
		if user != nil && ValidID(user.ID) {
			c.logger.Warn("session repaired from cached user", "user_id", user.ID)
			c.SetUserID(user.ID)
			return SessionState{IsValid: true, User: user, Error: "user id was missing and has been restored"}
		}
		return SessionState{Error: "no active session"}
	}
	if user == nil {
		msg := "user data missing for session"
		if userErr != nil {
			msg = "user data unreadable: " + userErr.Error()
		}
		c.logger.Warn("session inconsistent", "user_id", id, "problem", msg)
		return SessionState{IsValid: true, User: &domain.User{ID: id}, Error: msg}
	}
	if user.ID != id {
		msg := fmt.Sprintf("cached user %q does not match session id %q", user.ID, id)
		c.logger.Warn("session inconsistent", "user_id", id, "problem", msg)
		return SessionState{IsValid: true, User: user, Error: msg}
	}
	return SessionState{IsValid: true, User: user}
}

// CachedUser returns the user stored for this session, if any.
func (c *Client) CachedUser() (*domain.User, error) {
	raw, ok, err := c.storage.Get(store.KeyUser)
	if err != nil {
		return nil, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var user domain.User
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Logout clears the session. It does not call the backend and is idempotent.
func (c *Client) Logout() {
	c.mu.Lock()
	c.userID = ""
	c.mu.Unlock()
	if err := c.storage.Remove(store.KeyUserID, store.KeyUser, store.KeyProviderSyncedEmail, store.KeyProviderPassword, store.KeyAuthToken, store.KeyBackendCookies); err != nil {
		c.logger.Warn("clear session storage failed", "err", err)
	}
}

// StoreSession adopts user as this session's identity.
func (c *Client) StoreSession(user domain.User) {
	c.SetUserID(user.ID)
	c.storeUser(user)
}

func (c *Client) storeToken(token string) {
	if token = strings.TrimSpace(token); token == "" {
		return
	}
	if err := c.storage.Set(store.KeyAuthToken, token); err != nil {
		c.logger.Warn("persist auth token failed", "err", err)
	}
}

func (c *Client) storeUser(user domain.User) {
	data, err := json.Marshal(user.Public())
	if err != nil {
		c.logger.Warn("encode user failed", "err", err)
		return
	}
	if err := c.storage.Set(store.KeyUser, string(data)); err != nil {
		c.logger.Warn("persist user failed", "err", err)
	}
}
