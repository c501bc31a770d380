package apiclient

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"

	"sokogo/pkg/store"
)

type storedCookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Path     string    `json:"path,omitempty"`
	Domain   string    `json:"domain,omitempty"`
	Expires  time.Time `json:"expires,omitempty"`
	Secure   bool      `json:"secure,omitempty"`
	HttpOnly bool      `json:"httpOnly,omitempty"`
}

// sessionJar is a cookie jar whose contents outlive one Client. Cookies set
// by the backend are mirrored into session storage keyed by origin and
// replayed into a fresh jar when the next Client is built.
type sessionJar struct {
	inner   *cookiejar.Jar
	storage store.Storage
	logger  *slog.Logger
	now     func() time.Time

	mu sync.Mutex
}

func newSessionJar(storage store.Storage, logger *slog.Logger) (*sessionJar, error) {
	inner, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	j := &sessionJar{inner: inner, storage: storage, logger: logger, now: time.Now}
	for origin, cookies := range j.load() {
		u, err := url.Parse(origin)
		if err != nil {
			continue
		}
		restored := make([]*http.Cookie, 0, len(cookies))
		for _, c := range cookies {
			restored = append(restored, c.httpCookie())
		}
		inner.SetCookies(u, restored)
	}
	return j, nil
}

func (j *sessionJar) Cookies(u *url.URL) []*http.Cookie {
	return j.inner.Cookies(u)
}

func (j *sessionJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.inner.SetCookies(u, cookies)

	j.mu.Lock()
	defer j.mu.Unlock()
	all := j.load()
	origin := u.Scheme + "://" + u.Host
	now := j.now()
	kept := all[origin]
	for _, c := range cookies {
		path := c.Path
		if path == "" {
			path = "/"
		}
		next := kept[:0:0]
		for _, old := range kept {
			if old.Name != c.Name || old.Path != path {
				next = append(next, old)
			}
		}
		kept = next
		expires := c.Expires
		if c.MaxAge > 0 {
			expires = now.Add(time.Duration(c.MaxAge) * time.Second)
		}
		if c.MaxAge < 0 || (!expires.IsZero() && !expires.After(now)) {
			continue
		}
		kept = append(kept, storedCookie{
			Name:     c.Name,
			Value:    c.Value,
			Path:     path,
			Domain:   c.Domain,
			Expires:  expires,
			Secure:   c.Secure,
			HttpOnly: c.HttpOnly,
		})
	}
	if len(kept) == 0 {
		delete(all, origin)
	} else {
		all[origin] = kept
	}
	j.save(all)
}

func (j *sessionJar) load() map[string][]storedCookie {
	out := map[string][]storedCookie{}
	raw, ok, err := j.storage.Get(store.KeyBackendCookies)
	if err != nil {
		j.logger.Warn("read backend cookies failed", "err", err)
		return out
	}
	if !ok || raw == "" {
		return out
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		j.logger.Warn("discarding unreadable backend cookies", "err", err)
		return map[string][]storedCookie{}
	}
	return out
}

func (j *sessionJar) save(all map[string][]storedCookie) {
	if len(all) == 0 {
		if err := j.storage.Remove(store.KeyBackendCookies); err != nil {
			j.logger.Warn("clear backend cookies failed", "err", err)
		}
		return
	}
	data, err := json.Marshal(all)
	if err != nil {
		j.logger.Warn("encode backend cookies failed", "err", err)
		return
	}
	if err := j.storage.Set(store.KeyBackendCookies, string(data)); err != nil {
		j.logger.Warn("persist backend cookies failed", "err", err)
	}
}

func (c storedCookie) httpCookie() *http.Cookie {
	return &http.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Path:     c.Path,
		Domain:   c.Domain,
		Expires:  c.Expires,
		Secure:   c.Secure,
		HttpOnly: c.HttpOnly,
	}
}
