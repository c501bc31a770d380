// Package guard gates pages on the session's auth state and role.
package guard

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"

	"sokogo/internal/util"
	"sokogo/pkg/domain"
	"sokogo/services/web/internal/authstate"
)

// Decision is the outcome of a guard check.
type Decision int

const (
	Render Decision = iota
	Wait
	RedirectLogin
	RedirectFallback
)

func (d Decision) String() string {
	switch d {
	case Render:
		return "render"
	case Wait:
		return "wait"
	case RedirectLogin:
		return "redirect_login"
	case RedirectFallback:
		return "redirect_fallback"
	default:
		return "unknown"
	}
}

// Result pairs a decision with the page to redirect to, if any.
type Result struct {
	Decision Decision
	Location string
}

// Evaluate checks snap against the permitted roles. An empty role list
// admits any authenticated user. An empty fallback sends the user to their
// own dashboard.
func Evaluate(snap authstate.Snapshot, roles []domain.UserRole, fallback string) Result {
	if snap.IsLoading {
		return Result{Decision: Wait}
	}
	if !snap.IsAuthenticated || snap.User == nil {
		return Result{Decision: RedirectLogin, Location: authstate.LoginPath}
	}
	if len(roles) > 0 && !slices.Contains(roles, snap.User.Role) {
		if fallback == "" {
			fallback = authstate.DashboardFor(snap.User.Role)
		}
		return Result{Decision: RedirectFallback, Location: fallback}
	}
	return Result{Decision: Render}
}

type snapshotKey struct{}

// WithSnapshot stores the hydrated session view in ctx.
func WithSnapshot(ctx context.Context, snap authstate.Snapshot) context.Context {
	return context.WithValue(ctx, snapshotKey{}, snap)
}

// SnapshotFromContext returns the session view stored by WithSnapshot. A
// missing view reads as still loading.
func SnapshotFromContext(ctx context.Context) authstate.Snapshot {
	if snap, ok := ctx.Value(snapshotKey{}).(authstate.Snapshot); ok {
		return snap
	}
	return authstate.Snapshot{IsLoading: true, Phase: "unresolved"}
}

// Protected admits any authenticated session.
func Protected(next http.Handler) http.Handler {
	return RoleProtected(nil, "", next)
}

// RoleProtected admits sessions whose user holds one of roles.
func RoleProtected(roles []domain.UserRole, fallback string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snap := SnapshotFromContext(r.Context())
		res := Evaluate(snap, roles, fallback)
		logDecision(r, snap, res)
		switch res.Decision {
		case Render:
			next.ServeHTTP(w, r)
		case Wait:
			w.Header().Set("Retry-After", "1")
			writeGuardJSON(w, http.StatusServiceUnavailable, "session is still loading", "")
		case RedirectLogin:
			redirect(w, r, res.Location, http.StatusUnauthorized, "authentication required")
		case RedirectFallback:
			redirect(w, r, res.Location, http.StatusForbidden, "forbidden")
		}
	})
}

// Page navigations get a real redirect; API calls get a JSON error that
// names the redirect target.
func redirect(w http.ResponseWriter, r *http.Request, location string, status int, msg string) {
	if r.Method == http.MethodGet && r.Header.Get("Accept") != "application/json" {
		http.Redirect(w, r, location, http.StatusSeeOther)
		return
	}
	writeGuardJSON(w, status, msg, location)
}

func writeGuardJSON(w http.ResponseWriter, status int, msg, location string) {
	body := map[string]string{"error": msg}
	if location != "" {
		body["redirect"] = location
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func logDecision(r *http.Request, snap authstate.Snapshot, res Result) {
	attrs := []any{
		"event", "web.guard",
		"outcome", res.Decision.String(),
		"path", r.URL.Path,
		"method", r.Method,
	}
	if snap.User != nil {
		attrs = append(attrs, "user_id", snap.User.ID, "role", string(snap.User.Role))
	}
	logger := util.LoggerFromContext(r.Context())
	level := slog.LevelInfo
	if res.Decision != Render {
		level = slog.LevelWarn
	}
	logger.Log(r.Context(), level, "security_event", attrs...)
}
