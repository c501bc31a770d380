package apiclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"sokogo/pkg/store"
)

func TestBackendCookiesSurviveAcrossClients(t *testing.T) {
	var (
		mu         sync.Mutex
		seenCookie string
		seenAuth   string
	)
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/login":
			http.SetCookie(w, &http.Cookie{Name: "token", Value: "abc", Path: "/", HttpOnly: true})
			_ = json.NewEncoder(w).Encode(map[string]any{
				"token": "jwt-1",
				"user":  map[string]any{"id": "u1", "role": "seller"},
			})
		case "/items/seller/my-items":
			mu.Lock()
			if c, err := r.Cookie("token"); err == nil {
				seenCookie = c.Value
			}
			seenAuth = r.Header.Get("Authorization")
			mu.Unlock()
			_ = json.NewEncoder(w).Encode(map[string]any{"items": []any{}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer backend.Close()

	storage := store.NewMemoryStorage()
	first := newTestClient(t, backend.URL, storage)
	if _, err := first.Login(context.Background(), "seller@example.com", "secret"); err != nil {
		t.Fatalf("login: %v", err)
	}

	second := newTestClient(t, backend.URL, storage)
	if _, err := second.GetMyItems(context.Background()); err != nil {
		t.Fatalf("get my items: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if seenCookie != "abc" {
		t.Fatalf("cookie on next client = %q, want abc", seenCookie)
	}
	if seenAuth != "Bearer jwt-1" {
		t.Fatalf("authorization = %q, want bearer token", seenAuth)
	}
}

func TestBackendCookieDeletionAndLogout(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/login":
			http.SetCookie(w, &http.Cookie{Name: "token", Value: "abc", Path: "/"})
			http.SetCookie(w, &http.Cookie{Name: "pref", Value: "dark", Path: "/"})
		case "/auth/users/u1":
			http.SetCookie(w, &http.Cookie{Name: "pref", Value: "", Path: "/", MaxAge: -1})
			_ = json.NewEncoder(w).Encode(map[string]any{"user": map[string]any{"id": "u1"}})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"user": map[string]any{"id": "u1", "role": "buyer"}})
	}))
	defer backend.Close()

	storage := store.NewMemoryStorage()
	c := newTestClient(t, backend.URL, storage)
	if _, err := c.Login(context.Background(), "buyer@example.com", "secret"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := c.GetUserByID(context.Background(), "u1"); err != nil {
		t.Fatalf("get user: %v", err)
	}

	var stored map[string][]storedCookie
	raw, ok, _ := storage.Get(store.KeyBackendCookies)
	if !ok {
		t.Fatalf("backend cookies not persisted")
	}
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		t.Fatalf("decode stored cookies: %v", err)
	}
	cookies := stored[backend.URL]
	if len(cookies) != 1 || cookies[0].Name != "token" {
		t.Fatalf("stored cookies = %+v, want only token", cookies)
	}

	c.Logout()
	for _, key := range []string{store.KeyBackendCookies, store.KeyAuthToken} {
		if _, ok, _ := storage.Get(key); ok {
			t.Fatalf("%s survived logout", key)
		}
	}
}
