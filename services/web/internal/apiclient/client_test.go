package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"sokogo/pkg/domain"
	"sokogo/pkg/store"
)

func newTestClient(t *testing.T, baseURL string, storage store.Storage) *Client {
	t.Helper()
	if storage == nil {
		storage = store.NewMemoryStorage()
	}
	c, err := New(Config{BaseURL: baseURL, UploadURL: baseURL + "/api/upload"}, storage)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestSetUserIDPersistsValidIDs(t *testing.T) {
	storage := store.NewMemoryStorage()
	c := newTestClient(t, "http://backend.invalid", storage)

	for _, id := range []string{"u1", "64f0c2a9e1", "  padded  ", "temp-id-2"} {
		c.SetUserID(id)
		if got := c.GetCurrentUserID(); got != id {
			t.Fatalf("GetCurrentUserID() = %q, want %q", got, id)
		}
		stored, ok, err := storage.Get(store.KeyUserID)
		if err != nil || !ok || stored != id {
			t.Fatalf("storage userId = %q ok=%v err=%v, want %q", stored, ok, err, id)
		}
	}
}

func TestSetUserIDIgnoresInvalidIDs(t *testing.T) {
	storage := store.NewMemoryStorage()
	c := newTestClient(t, "http://backend.invalid", storage)
	c.SetUserID("u1")

	for _, id := range []string{"", "   ", "\t\n", SentinelID} {
		c.SetUserID(id)
		if got := c.GetCurrentUserID(); got != "u1" {
			t.Fatalf("after SetUserID(%q) id = %q, want u1", id, got)
		}
	}
}

func TestIsAuthenticatedTracksCurrentID(t *testing.T) {
	storage := store.NewMemoryStorage()
	c := newTestClient(t, "http://backend.invalid", storage)

	check := func(step string) {
		t.Helper()
		id := c.GetCurrentUserID()
		want := id != "" && strings.TrimSpace(id) != "" && id != SentinelID
		if got := c.IsAuthenticated(); got != want {
			t.Fatalf("%s: IsAuthenticated() = %v with id %q", step, got, id)
		}
	}

	check("fresh")
	c.SetUserID("u1")
	check("after set")
	c.Logout()
	check("after logout")
	c.SetUserID(SentinelID)
	check("after sentinel")

	// An external write to storage is observed without an explicit refresh.
	if err := storage.Set(store.KeyUserID, "u2"); err != nil {
		t.Fatalf("set storage: %v", err)
	}
	check("after external write")
	if !c.IsAuthenticated() {
		t.Fatalf("expected external login to be observed")
	}
	if err := storage.Set(store.KeyUserID, SentinelID); err != nil {
		t.Fatalf("set storage: %v", err)
	}
	check("after external sentinel")
	if c.IsAuthenticated() {
		t.Fatalf("sentinel in storage must not authenticate")
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	storage := store.NewMemoryStorage()
	c := newTestClient(t, "http://backend.invalid", storage)
	c.SetUserID("u1")
	_ = storage.Set(store.KeyUser, `{"id":"u1","role":"seller"}`)

	snapshot := func() (string, bool, bool) {
		_, hasID, _ := storage.Get(store.KeyUserID)
		_, hasUser, _ := storage.Get(store.KeyUser)
		return c.GetCurrentUserID(), hasID, hasUser
	}

	c.Logout()
	id1, hasID1, hasUser1 := snapshot()
	c.Logout()
	id2, hasID2, hasUser2 := snapshot()

	if id1 != "" || hasID1 || hasUser1 {
		t.Fatalf("first logout left state: id=%q hasID=%v hasUser=%v", id1, hasID1, hasUser1)
	}
	if id1 != id2 || hasID1 != hasID2 || hasUser1 != hasUser2 {
		t.Fatalf("second logout changed state")
	}
}

func TestCreateItemRequiresSessionWithoutRequest(t *testing.T) {
	var calls atomic.Int32
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusCreated)
	}))
	defer backend.Close()

	c := newTestClient(t, backend.URL, nil)
	_, err := c.CreateItem(context.Background(), CreateItemRequest{
		Title:       "Toyota RAV4 2018",
		Description: "Clean, one owner",
		Price:       18500000,
		Category:    "cars",
		Location:    domain.Location{District: "Gasabo"},
	})
	if !errors.Is(err, ErrAuthRequired) {
		t.Fatalf("expected ErrAuthRequired, got %v", err)
	}
	if !strings.Contains(err.Error(), "log in") {
		t.Fatalf("error should say login is required: %q", err.Error())
	}
	if calls.Load() != 0 {
		t.Fatalf("expected no backend request, got %d", calls.Load())
	}
}

func TestGetUsersByRoleReturnsPage(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/users" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("role") != "seller" || r.URL.Query().Get("page") != "2" {
			t.Errorf("unexpected query %q", r.URL.RawQuery)
		}
		if r.Header.Get("userid") != "admin-1" || r.Header.Get("x-seller-id") != "admin-1" {
			t.Errorf("identity headers missing: %v", r.Header)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"users": []map[string]any{{"_id": "s3", "firstName": "Eric", "role": "seller"}},
			"pagination": map[string]any{
				"currentPage": 2, "totalPages": 3, "totalUsers": 25,
				"hasNextPage": true, "hasPrevPage": true,
			},
		})
	}))
	defer backend.Close()

	c := newTestClient(t, backend.URL, nil)
	c.SetUserID("admin-1")
	page, err := c.GetUsersByRole(context.Background(), domain.RoleSeller, 2)
	if err != nil {
		t.Fatalf("get users by role: %v", err)
	}
	if page.Pagination.CurrentPage != 2 || page.Pagination.TotalPages != 3 {
		t.Fatalf("unexpected pagination %+v", page.Pagination)
	}
	if len(page.Users) != 1 || page.Users[0].ID != "s3" {
		t.Fatalf("unexpected users %+v", page.Users)
	}
}

func TestLoginStoresSession(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["email"] != "seller@example.com" || body["password"] != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"message": "Invalid credentials"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"message": "Login successful",
			"user":    map[string]any{"id": "u1", "email": "seller@example.com", "role": "seller", "password": "hash"},
		})
	}))
	defer backend.Close()

	storage := store.NewMemoryStorage()
	c := newTestClient(t, backend.URL, storage)

	if _, err := c.Login(context.Background(), "seller@example.com", "wrong"); StatusOf(err) != http.StatusUnauthorized || !strings.Contains(err.Error(), "Invalid credentials") {
		t.Fatalf("expected backend message, got %v", err)
	}
	if c.IsAuthenticated() {
		t.Fatalf("failed login must not create a session")
	}

	resp, err := c.Login(context.Background(), "seller@example.com", "secret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if resp.User.Role != domain.RoleSeller || c.GetCurrentUserID() != "u1" {
		t.Fatalf("unexpected login state %+v id=%q", resp.User, c.GetCurrentUserID())
	}
	raw, ok, _ := storage.Get(store.KeyUser)
	if !ok || strings.Contains(raw, "hash") {
		t.Fatalf("cached user missing or leaks password: %q", raw)
	}
	if state := c.ValidateSession(); !state.IsValid || state.Error != "" || state.User.ID != "u1" {
		t.Fatalf("unexpected session state %+v", state)
	}
}

func TestValidateSessionToleratesInconsistency(t *testing.T) {
	tests := []struct {
		name      string
		userID    string
		user      string
		wantValid bool
		wantID    string
		wantError bool
	}{
		{name: "empty", wantValid: false, wantError: true},
		{name: "sentinel only", userID: SentinelID, wantValid: false, wantError: true},
		{name: "consistent", userID: "u1", user: `{"id":"u1","role":"buyer"}`, wantValid: true, wantID: "u1"},
		{name: "missing user", userID: "u1", wantValid: true, wantID: "u1", wantError: true},
		{name: "corrupt user", userID: "u1", user: `{not json`, wantValid: true, wantID: "u1", wantError: true},
		{name: "mismatch", userID: "u1", user: `{"id":"u2"}`, wantValid: true, wantID: "u2", wantError: true},
		{name: "repairs id", user: `{"_id":"u5","role":"seller"}`, wantValid: true, wantID: "u5", wantError: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			storage := store.NewMemoryStorage()
			if tc.userID != "" {
				_ = storage.Set(store.KeyUserID, tc.userID)
			}
			if tc.user != "" {
				_ = storage.Set(store.KeyUser, tc.user)
			}
			c := newTestClient(t, "http://backend.invalid", storage)
			state := c.ValidateSession()
			if state.IsValid != tc.wantValid {
				t.Fatalf("IsValid = %v, want %v", state.IsValid, tc.wantValid)
			}
			if (state.Error != "") != tc.wantError {
				t.Fatalf("Error = %q, wantError %v", state.Error, tc.wantError)
			}
			if tc.wantValid && state.User.ID != tc.wantID {
				t.Fatalf("user id = %q, want %q", state.User.ID, tc.wantID)
			}
		})
	}

	storage := store.NewMemoryStorage()
	_ = storage.Set(store.KeyUser, `{"id":"u5"}`)
	c := newTestClient(t, "http://backend.invalid", storage)
	c.ValidateSession()
	if got, _, _ := storage.Get(store.KeyUserID); got != "u5" {
		t.Fatalf("expected repaired userId in storage, got %q", got)
	}
}

func TestRequestErrors(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/items/missing":
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "Item not found"})
		default:
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = io.WriteString(w, "boom")
		}
	}))

	c := newTestClient(t, backend.URL, nil)
	_, err := c.GetItemByID(context.Background(), "missing")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound || apiErr.Message != "Item not found" {
		t.Fatalf("expected 404 api error, got %v", err)
	}
	_, err = c.GetItemByID(context.Background(), "other")
	if !errors.As(err, &apiErr) || apiErr.Message != "HTTP error! status: 500" {
		t.Fatalf("expected generic status message, got %v", err)
	}

	backend.Close()
	_, err = c.GetItemByID(context.Background(), "other")
	if !IsConnection(err) {
		t.Fatalf("expected connection error, got %v", err)
	}
	if !strings.Contains(err.Error(), "cannot connect to server") {
		t.Fatalf("unexpected connection message %q", err.Error())
	}
}

func TestGetAllItemsDecodesSellerShapes(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("sort") != "popular" || r.URL.Query().Get("limit") != "4" {
			t.Errorf("unexpected query %q", r.URL.RawQuery)
		}
		if r.Header.Get("userid") != "" {
			t.Errorf("anonymous request must not carry identity headers")
		}
		_, _ = io.WriteString(w, `{"items":[
			{"_id":"i1","title":"Plot in Kicukiro","seller":"s1","category":"property"},
			{"id":"i2","title":"iPhone 13","seller":{"_id":"s2","firstName":"Grace"},"category":"electronics"}
		],"pagination":{"currentPage":1,"totalPages":1}}`)
	}))
	defer backend.Close()

	c := newTestClient(t, backend.URL, nil)
	items, err := c.GetPopularItems(context.Background(), 4)
	if err != nil {
		t.Fatalf("popular items: %v", err)
	}
	if len(items) != 2 || items[0].ID != "i1" || items[0].Seller.ID != "s1" || items[0].Seller.User != nil {
		t.Fatalf("unexpected first item %+v", items)
	}
	if items[1].Seller.ID != "s2" || items[1].Seller.User == nil || items[1].Seller.User.FirstName != "Grace" {
		t.Fatalf("unexpected embedded seller %+v", items[1].Seller)
	}
}

func TestRegisterValidatesBeforeRequest(t *testing.T) {
	var calls atomic.Int32
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"message":"ok","user":{"id":"b1","role":"buyer"}}`)
	}))
	defer backend.Close()

	c := newTestClient(t, backend.URL, nil)
	_, err := c.Register(context.Background(), RegisterRequest{Email: "nope", Password: "abc"})
	var vErr *ValidationError
	if !errors.As(err, &vErr) || len(vErr.Problems) < 3 {
		t.Fatalf("expected validation problems, got %v", err)
	}
	if calls.Load() != 0 {
		t.Fatalf("invalid registration must not reach backend")
	}

	resp, err := c.Register(context.Background(), RegisterRequest{
		FirstName: "Aline", LastName: "Uwase", Email: "Aline@Example.com",
		PhoneNumber: "+250788000000", Password: "secret1",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if resp.User.ID != "b1" || c.GetCurrentUserID() != "b1" {
		t.Fatalf("register should store session, got %q", c.GetCurrentUserID())
	}
}
