// Package authstate holds the reconciled identity of one browser session.
//
// A Store has a single writer and moves through
// Unresolved -> ProviderPending -> Hydrated -> Ready. The identity provider
// and session storage are inputs to those transitions only.
package authstate

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"sokogo/pkg/auth"
	"sokogo/pkg/domain"
	"sokogo/pkg/store"
	"sokogo/services/web/internal/apiclient"
)

// Phase is the hydration state of a Store.
type Phase int

const (
	PhaseUnresolved Phase = iota
	PhaseProviderPending
	PhaseHydrated
	PhaseReady
)

func (p Phase) String() string {
	switch p {
	case PhaseUnresolved:
		return "unresolved"
	case PhaseProviderPending:
		return "provider_pending"
	case PhaseHydrated:
		return "hydrated"
	case PhaseReady:
		return "ready"
	default:
		return "unknown"
	}
}

const (
	HomePath            = "/"
	LoginPath           = "/login"
	AdminDashboardPath  = "/admin/dashboard"
	SellerDashboardPath = "/seller/dashboard"
	BuyerDashboardPath  = "/buyer/dashboard"
)

// DashboardFor returns the landing page for role.
func DashboardFor(role domain.UserRole) string {
	switch role {
	case domain.RoleAdmin:
		return AdminDashboardPath
	case domain.RoleSeller:
		return SellerDashboardPath
	default:
		return BuyerDashboardPath
	}
}

// Navigator performs full-page redirects.
type Navigator interface {
	Navigate(path string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(path string)

func (f NavigatorFunc) Navigate(path string) { f(path) }

// ProviderSession is a verified identity-provider session.
type ProviderSession struct {
	Email string
	Name  string
}

// Snapshot is the read-only view handed to pages and guards.
type Snapshot struct {
	User            *domain.User `json:"user"`
	IsAuthenticated bool         `json:"isAuthenticated"`
	IsLoading       bool         `json:"isLoading"`
	IsAdmin         bool         `json:"isAdmin"`
	IsSeller        bool         `json:"isSeller"`
	IsBuyer         bool         `json:"isBuyer"`
	Phase           string       `json:"phase"`
}

// HasRole reports whether the snapshot user holds one of roles.
func (s Snapshot) HasRole(roles ...domain.UserRole) bool {
	if s.User == nil {
		return false
	}
	for _, r := range roles {
		if s.User.Role == r {
			return true
		}
	}
	return false
}

// Config wires a Store.
type Config struct {
	Client  *apiclient.Client
	Storage store.Storage
	// Sealer protects the cached provider password. Provider sign-in sync is
	// disabled without one.
	Sealer    *auth.Sealer
	Navigator Navigator
	Logger    *slog.Logger
	// Hydrations collapses concurrent hydrations of one browser session
	// across Stores, keyed by SessionID. A private group is used when nil.
	Hydrations *singleflight.Group
	SessionID  string
}

// Store reconciles the identity of one browser session.
type Store struct {
	client  *apiclient.Client
	storage store.Storage
	sealer  *auth.Sealer
	nav     Navigator
	logger  *slog.Logger
	group   *singleflight.Group
	key     string

	mu     sync.RWMutex
	phase  Phase
	user   *domain.User
	subs   map[int]func(Snapshot)
	nextID int
}

// New returns a Store in the Unresolved phase.
func New(cfg Config) (*Store, error) {
	if cfg.Client == nil {
		return nil, errors.New("authstate: client is required")
	}
	if cfg.Storage == nil {
		return nil, errors.New("authstate: storage is required")
	}
	nav := cfg.Navigator
	if nav == nil {
		nav = NavigatorFunc(func(string) {})
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	group := cfg.Hydrations
	if group == nil {
		group = &singleflight.Group{}
	}
	return &Store{
		client:  cfg.Client,
		storage: cfg.Storage,
		sealer:  cfg.Sealer,
		nav:     nav,
		logger:  logger,
		group:   group,
		key:     "hydrate:" + cfg.SessionID,
		subs:    make(map[int]func(Snapshot)),
	}, nil
}

// Snapshot returns the current view.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{
		IsLoading: s.phase != PhaseReady,
		Phase:     s.phase.String(),
	}
	if s.user != nil {
		u := *s.user
		snap.User = &u
		snap.IsAuthenticated = true
		snap.IsAdmin = u.Role == domain.RoleAdmin
		snap.IsSeller = u.Role == domain.RoleSeller
		snap.IsBuyer = u.Role == domain.RoleBuyer
	}
	return snap
}

// Subscribe registers fn for every transition and returns a cancel func.
func (s *Store) Subscribe(fn func(Snapshot)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *Store) transition(phase Phase, user *domain.User) Snapshot {
	s.mu.Lock()
	s.phase = phase
	if user != nil {
		u := user.Public()
		s.user = &u
	} else {
		s.user = nil
	}
	snap := s.snapshotLocked()
	subs := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
	return snap
}

func (s *Store) currentUser() *domain.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// Hydrate resolves the session from the provider session (when it has not
// been reconciled yet) and otherwise from storage, without validating
// against the backend. Failures never clear a user the Store already holds.
// Concurrent calls for one session share one hydration; callers that joined
// another Store's hydration adopt its user.
func (s *Store) Hydrate(ctx context.Context, provider *ProviderSession) Snapshot {
	ran := false
	v, _, _ := s.group.Do(s.key, func() (any, error) {
		ran = true
		s.hydrate(ctx, provider)
		return s.currentUser(), nil
	})
	if !ran {
		user, _ := v.(*domain.User)
		if user == nil {
			user = s.currentUser()
		}
		s.transition(PhaseHydrated, user)
		s.transition(PhaseReady, user)
	}
	return s.Snapshot()
}

func (s *Store) hydrate(ctx context.Context, provider *ProviderSession) {
	held := s.currentUser()

	if provider != nil && strings.TrimSpace(provider.Email) != "" && !s.providerSynced(provider.Email) {
		s.transition(PhaseProviderPending, held)
		if user, ok := s.loginWithProvider(ctx, provider.Email); ok {
			s.transition(PhaseHydrated, user)
			s.transition(PhaseReady, user)
			return
		}
	}

	state := s.client.ValidateSession()
	user := held
	if state.IsValid {
		user = state.User
		if state.Error != "" {
			s.logger.Warn("hydrated degraded session", "user_id", user.ID, "problem", state.Error)
		}
	}
	s.transition(PhaseHydrated, user)
	s.transition(PhaseReady, user)
}

func (s *Store) providerSynced(email string) bool {
	synced, ok, err := s.storage.Get(store.KeyProviderSyncedEmail)
	if err != nil {
		s.logger.Warn("read provider sync marker failed", "err", err)
		return false
	}
	return ok && strings.EqualFold(strings.TrimSpace(synced), strings.TrimSpace(email))
}

func (s *Store) loginWithProvider(ctx context.Context, email string) (*domain.User, bool) {
	if s.sealer == nil {
		return nil, false
	}
	sealed, ok, err := s.storage.Get(store.KeyProviderPassword)
	if err != nil || !ok || sealed == "" {
		return nil, false
	}
	password, err := s.sealer.Open(sealed)
	if err != nil {
		s.logger.Warn("cached provider password unreadable", "err", err)
		return nil, false
	}
	resp, err := s.client.Login(ctx, email, password)
	if err != nil {
		s.logger.Warn("provider session login failed", "err", err)
		return nil, false
	}
	if err := s.storage.Set(store.KeyProviderSyncedEmail, strings.ToLower(strings.TrimSpace(email))); err != nil {
		s.logger.Warn("persist provider sync marker failed", "err", err)
	}
	return &resp.User, true
}

// Login authenticates, moves to Ready and redirects to the role's dashboard.
// On failure the state is left as it was.
func (s *Store) Login(ctx context.Context, email, password string) (Snapshot, error) {
	resp, err := s.client.Login(ctx, email, password)
	if err != nil {
		return s.Snapshot(), err
	}
	return s.adopt(&resp.User), nil
}

// Register creates an account. When the backend opens a session right away
// the Store moves to Ready and redirects; otherwise it sends the user to login.
func (s *Store) Register(ctx context.Context, req apiclient.RegisterRequest) (Snapshot, error) {
	resp, err := s.client.Register(ctx, req)
	if err != nil {
		return s.Snapshot(), err
	}
	if !apiclient.ValidID(resp.User.ID) {
		s.nav.Navigate(LoginPath)
		return s.Snapshot(), nil
	}
	return s.adopt(&resp.User), nil
}

// SetUserAfterGoogleSignup adopts a user created through provider sign-up.
// The password is sealed into storage so later provider sessions can log in.
func (s *Store) SetUserAfterGoogleSignup(user domain.User, password string) (Snapshot, error) {
	if !apiclient.ValidID(user.ID) {
		return s.Snapshot(), errors.New("authstate: signed-up user has no id")
	}
	s.client.StoreSession(user)
	if s.sealer != nil && password != "" {
		sealed, err := s.sealer.Seal(password)
		if err != nil {
			return s.Snapshot(), err
		}
		if err := s.storage.Set(store.KeyProviderPassword, sealed); err != nil {
			s.logger.Warn("persist provider password failed", "err", err)
		}
	}
	if email := strings.ToLower(strings.TrimSpace(user.Email)); email != "" {
		if err := s.storage.Set(store.KeyProviderSyncedEmail, email); err != nil {
			s.logger.Warn("persist provider sync marker failed", "err", err)
		}
	}
	return s.adopt(&user), nil
}

func (s *Store) adopt(user *domain.User) Snapshot {
	snap := s.transition(PhaseReady, user)
	s.nav.Navigate(DashboardFor(user.Role))
	return snap
}

// Logout clears the session and redirects home.
func (s *Store) Logout() Snapshot {
	s.client.Logout()
	snap := s.transition(PhaseReady, nil)
	s.nav.Navigate(HomePath)
	return snap
}
