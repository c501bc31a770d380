package authstate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"golang.org/x/sync/singleflight"

	"sokogo/pkg/auth"
	"sokogo/pkg/domain"
	"sokogo/pkg/store"
	"sokogo/services/web/internal/apiclient"
)

type recorder struct {
	mu    sync.Mutex
	paths []string
}

func (r *recorder) Navigate(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
}

func (r *recorder) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.paths) == 0 {
		return ""
	}
	return r.paths[len(r.paths)-1]
}

type fixture struct {
	baseURL string
	store   *Store
	storage *store.MemoryStorage
	client  *apiclient.Client
	nav     *recorder
	sealer  *auth.Sealer
	logins  *atomic.Int32
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	var logins atomic.Int32
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/login" {
			http.NotFound(w, r)
			return
		}
		logins.Add(1)
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		users := map[string]map[string]any{
			"seller@example.com": {"id": "u1", "email": "seller@example.com", "role": "seller"},
			"admin@example.com":  {"id": "a1", "email": "admin@example.com", "role": "admin"},
			"buyer@example.com":  {"id": "b1", "email": "buyer@example.com", "role": "buyer"},
		}
		user, ok := users[body["email"]]
		if !ok || body["password"] != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"message": "Invalid email or password"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"user": user})
	}))
	t.Cleanup(backend.Close)

	storage := store.NewMemoryStorage()
	client, err := apiclient.New(apiclient.Config{BaseURL: backend.URL}, storage)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	sealer, err := auth.NewSealer("test-secret")
	if err != nil {
		t.Fatalf("new sealer: %v", err)
	}
	nav := &recorder{}
	s, err := New(Config{Client: client, Storage: storage, Sealer: sealer, Navigator: nav})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return &fixture{baseURL: backend.URL, store: s, storage: storage, client: client, nav: nav, sealer: sealer, logins: &logins}
}

func TestLoginSellerRedirectsToSellerDashboard(t *testing.T) {
	f := newFixture(t)
	snap, err := f.store.Login(context.Background(), "seller@example.com", "secret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !snap.IsSeller || snap.IsAdmin || snap.IsBuyer || !snap.IsAuthenticated || snap.IsLoading {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if snap.User == nil || snap.User.ID != "u1" {
		t.Fatalf("unexpected user %+v", snap.User)
	}
	if got := f.nav.last(); got != SellerDashboardPath {
		t.Fatalf("redirect = %q, want %q", got, SellerDashboardPath)
	}
	if f.client.GetCurrentUserID() != "u1" {
		t.Fatalf("client cache not updated")
	}
}

func TestLoginRedirectByRole(t *testing.T) {
	for email, want := range map[string]string{
		"admin@example.com": AdminDashboardPath,
		"buyer@example.com": BuyerDashboardPath,
	} {
		f := newFixture(t)
		if _, err := f.store.Login(context.Background(), email, "secret"); err != nil {
			t.Fatalf("login %s: %v", email, err)
		}
		if got := f.nav.last(); got != want {
			t.Fatalf("%s redirect = %q, want %q", email, got, want)
		}
	}
}

func TestLoginFailureKeepsState(t *testing.T) {
	f := newFixture(t)
	f.store.Hydrate(context.Background(), nil)
	snap, err := f.store.Login(context.Background(), "seller@example.com", "wrong")
	if err == nil {
		t.Fatalf("expected login error")
	}
	if snap.IsAuthenticated || snap.IsLoading || f.nav.last() != "" {
		t.Fatalf("failed login changed state: %+v nav=%q", snap, f.nav.last())
	}
}

func TestHydrateFromStorageWithoutBackend(t *testing.T) {
	f := newFixture(t)
	if snap := f.store.Snapshot(); !snap.IsLoading || snap.Phase != "unresolved" {
		t.Fatalf("new store should be loading, got %+v", snap)
	}
	_ = f.storage.Set(store.KeyUserID, "u1")
	_ = f.storage.Set(store.KeyUser, `{"id":"u1","role":"seller"}`)

	var phases []string
	f.store.Subscribe(func(s Snapshot) { phases = append(phases, s.Phase) })

	snap := f.store.Hydrate(context.Background(), nil)
	if !snap.IsAuthenticated || !snap.IsSeller || snap.IsLoading {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if f.logins.Load() != 0 {
		t.Fatalf("storage hydration must not call the backend")
	}
	if len(phases) != 2 || phases[0] != "hydrated" || phases[1] != "ready" {
		t.Fatalf("unexpected phases %v", phases)
	}
}

func TestHydrateEmptyStorageIsAnonymous(t *testing.T) {
	f := newFixture(t)
	snap := f.store.Hydrate(context.Background(), nil)
	if snap.IsLoading || snap.IsAuthenticated || snap.User != nil {
		t.Fatalf("expected ready anonymous snapshot, got %+v", snap)
	}
}

func TestHydrateKeepsHeldUserWhenStorageEmpties(t *testing.T) {
	f := newFixture(t)
	if _, err := f.store.Login(context.Background(), "buyer@example.com", "secret"); err != nil {
		t.Fatalf("login: %v", err)
	}
	_ = f.storage.Remove(store.KeyUserID, store.KeyUser)

	snap := f.store.Hydrate(context.Background(), nil)
	if !snap.IsAuthenticated || snap.User.ID != "b1" {
		t.Fatalf("hydration failure should keep the held user, got %+v", snap)
	}
}

func TestHydrateProviderSessionLogsInOnce(t *testing.T) {
	f := newFixture(t)
	sealed, err := f.sealer.Seal("secret")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	_ = f.storage.Set(store.KeyProviderPassword, sealed)
	provider := &ProviderSession{Email: "seller@example.com"}

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.store.Hydrate(context.Background(), provider)
		}()
	}
	wg.Wait()

	snap := f.store.Snapshot()
	if !snap.IsSeller || snap.User.ID != "u1" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if got := f.logins.Load(); got != 1 {
		t.Fatalf("expected exactly one provider login, got %d", got)
	}
	synced, _, _ := f.storage.Get(store.KeyProviderSyncedEmail)
	if synced != "seller@example.com" {
		t.Fatalf("provider sync marker = %q", synced)
	}

	f.store.Hydrate(context.Background(), provider)
	if got := f.logins.Load(); got != 1 {
		t.Fatalf("reconciled provider session must not log in again, got %d", got)
	}
}

func TestHydrateSharedAcrossStoresLogsInOnce(t *testing.T) {
	f := newFixture(t)
	sealed, err := f.sealer.Seal("secret")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	_ = f.storage.Set(store.KeyProviderPassword, sealed)
	provider := &ProviderSession{Email: "seller@example.com"}

	// One Store per request over the same browser storage.
	var group singleflight.Group
	stores := make([]*Store, 5)
	for i := range stores {
		client, err := apiclient.New(apiclient.Config{BaseURL: f.baseURL}, f.storage)
		if err != nil {
			t.Fatalf("new client: %v", err)
		}
		stores[i], err = New(Config{
			Client:     client,
			Storage:    f.storage,
			Sealer:     f.sealer,
			Hydrations: &group,
			SessionID:  "sid-1",
		})
		if err != nil {
			t.Fatalf("new store: %v", err)
		}
	}

	var wg sync.WaitGroup
	for _, st := range stores {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st.Hydrate(context.Background(), provider)
		}()
	}
	wg.Wait()

	if got := f.logins.Load(); got != 1 {
		t.Fatalf("backend logins for one browser session = %d, want 1", got)
	}
	for i, st := range stores {
		snap := st.Snapshot()
		if !snap.IsSeller || snap.IsLoading || snap.User.ID != "u1" {
			t.Fatalf("store %d snapshot = %+v", i, snap)
		}
	}
}

func TestHydrateProviderFailureFallsBackToStorage(t *testing.T) {
	f := newFixture(t)
	sealed, _ := f.sealer.Seal("not-the-password")
	_ = f.storage.Set(store.KeyProviderPassword, sealed)
	_ = f.storage.Set(store.KeyUserID, "b1")
	_ = f.storage.Set(store.KeyUser, `{"id":"b1","role":"buyer"}`)

	snap := f.store.Hydrate(context.Background(), &ProviderSession{Email: "buyer@example.com"})
	if !snap.IsBuyer || snap.User.ID != "b1" || snap.IsLoading {
		t.Fatalf("expected storage fallback, got %+v", snap)
	}
	if f.logins.Load() != 1 {
		t.Fatalf("expected one failed provider login attempt, got %d", f.logins.Load())
	}
}

func TestSetUserAfterGoogleSignup(t *testing.T) {
	f := newFixture(t)
	user := domain.User{ID: "g1", Email: "New.Seller@Example.com", Role: domain.RoleSeller, Password: "hash"}
	snap, err := f.store.SetUserAfterGoogleSignup(user, "secret9")
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	if !snap.IsSeller || snap.User.Password != "" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if f.nav.last() != SellerDashboardPath {
		t.Fatalf("redirect = %q", f.nav.last())
	}
	sealed, ok, _ := f.storage.Get(store.KeyProviderPassword)
	if !ok {
		t.Fatalf("expected sealed password in storage")
	}
	if plain, err := f.sealer.Open(sealed); err != nil || plain != "secret9" {
		t.Fatalf("sealed password round trip = %q %v", plain, err)
	}
	if f.client.GetCurrentUserID() != "g1" {
		t.Fatalf("client cache not updated")
	}
}

func TestLogoutClearsAndRedirectsHome(t *testing.T) {
	f := newFixture(t)
	if _, err := f.store.Login(context.Background(), "seller@example.com", "secret"); err != nil {
		t.Fatalf("login: %v", err)
	}
	snap := f.store.Logout()
	if snap.User != nil || snap.IsAuthenticated || snap.IsLoading {
		t.Fatalf("unexpected snapshot after logout %+v", snap)
	}
	if f.nav.last() != HomePath {
		t.Fatalf("redirect = %q, want %q", f.nav.last(), HomePath)
	}
	if f.client.IsAuthenticated() {
		t.Fatalf("client should be logged out")
	}
}

func TestSubscribeCancel(t *testing.T) {
	f := newFixture(t)
	var calls int
	cancel := f.store.Subscribe(func(Snapshot) { calls++ })
	f.store.Hydrate(context.Background(), nil)
	cancel()
	f.store.Logout()
	if calls != 2 {
		t.Fatalf("expected 2 notifications before cancel, got %d", calls)
	}
}
