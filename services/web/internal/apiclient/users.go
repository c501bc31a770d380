package apiclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"sokogo/pkg/domain"
)

type userEnvelope struct {
	User domain.User `json:"user"`
}

// GetUserByID loads a user profile.
func (c *Client) GetUserByID(ctx context.Context, id string) (domain.User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.User{}, &ValidationError{Problems: []string{"user id is required"}}
	}
	var resp userEnvelope
	if err := c.doJSON(ctx, http.MethodGet, "/auth/users/"+url.PathEscape(id), nil, &resp); err != nil {
		return domain.User{}, fmt.Errorf("get user %s: %w", id, err)
	}
	return resp.User, nil
}

// GetUserByEmail looks a user up by email, used to reconcile provider sign-ins.
func (c *Client) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return domain.User{}, &ValidationError{Problems: []string{"email is required"}}
	}
	var resp userEnvelope
	if err := c.doJSON(ctx, http.MethodGet, "/auth/users/email/"+url.PathEscape(email), nil, &resp); err != nil {
		return domain.User{}, fmt.Errorf("get user by email: %w", err)
	}
	return resp.User, nil
}

// GetUsersByRole returns one page of users with the given role.
func (c *Client) GetUsersByRole(ctx context.Context, role domain.UserRole, page int) (domain.UserPage, error) {
	if err := c.ensureAuthenticated(); err != nil {
		return domain.UserPage{}, err
	}
	if page < 1 {
		page = 1
	}
	q := url.Values{}
	q.Set("role", string(role))
	q.Set("page", strconv.Itoa(page))
	var resp domain.UserPage
	if err := c.doJSON(ctx, http.MethodGet, "/auth/users?"+q.Encode(), nil, &resp); err != nil {
		return domain.UserPage{}, fmt.Errorf("get %s users: %w", role, err)
	}
	if resp.Pagination.CurrentPage == 0 {
		resp.Pagination.CurrentPage = page
	}
	return resp, nil
}
