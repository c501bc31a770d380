// Package apiclient is the identity-aware client for the SOKOGO REST backend.
//
// A Client is bound to one browser session's storage. The storage is the
// source of truth for the session identity; the in-memory id is refreshed
// from it before every read.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"sokogo/pkg/store"
)

// SentinelID marks a placeholder identity that is not a real session.
const SentinelID = "temp-id"

const defaultTimeout = 15 * time.Second

// Config configures a Client.
type Config struct {
	BaseURL string
	// UploadURL is the file-upload endpoint photos are posted to.
	UploadURL string
	// HTTPClient supplies the transport and timeout. Backend cookies are kept
	// in session storage so they survive across Clients of one session.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks to the backend on behalf of one browser session.
type Client struct {
	baseURL    string
	uploadURL  string
	httpClient *http.Client
	storage    store.Storage
	logger     *slog.Logger

	mu     sync.Mutex
	userID string
}

// New builds a client over the session storage.
func New(cfg Config, storage store.Storage) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("apiclient: base url is required")
	}
	if storage == nil {
		return nil, errors.New("apiclient: storage is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	jar, err := newSessionJar(storage, logger)
	if err != nil {
		return nil, fmt.Errorf("apiclient: cookie jar: %w", err)
	}
	httpClient := &http.Client{Timeout: defaultTimeout, Jar: jar}
	if cfg.HTTPClient != nil {
		httpClient.Transport = cfg.HTTPClient.Transport
		if cfg.HTTPClient.Timeout > 0 {
			httpClient.Timeout = cfg.HTTPClient.Timeout
		}
	}
	uploadURL := strings.TrimSpace(cfg.UploadURL)
	if uploadURL == "" {
		uploadURL = baseURL + "/upload"
	}
	c := &Client{
		baseURL:    baseURL,
		uploadURL:  uploadURL,
		httpClient: httpClient,
		storage:    storage,
		logger:     logger,
	}
	c.refresh()
	return c, nil
}

// ValidID reports whether id names a real session.
func ValidID(id string) bool {
	id = strings.TrimSpace(id)
	return id != "" && id != SentinelID
}

// SetUserID persists id and caches it. Invalid ids are logged and ignored.
func (c *Client) SetUserID(id string) {
	if !ValidID(id) {
		c.logger.Warn("ignoring invalid user id", "user_id", id)
		return
	}
	if err := c.storage.Set(store.KeyUserID, id); err != nil {
		c.logger.Warn("persist user id failed", "err", err)
	}
	c.mu.Lock()
	c.userID = id
	c.mu.Unlock()
}

// GetCurrentUserID returns the session user id, or "" when there is none.
func (c *Client) GetCurrentUserID() string {
	return c.refresh()
}

// IsAuthenticated reports whether a real session id is present.
func (c *Client) IsAuthenticated() bool {
	return ValidID(c.GetCurrentUserID())
}

// refresh re-reads the id from storage. A storage error keeps the cache.
func (c *Client) refresh() string {
	raw, ok, err := c.storage.Get(store.KeyUserID)
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case err != nil:
		c.logger.Warn("read user id failed, using cached id", "err", err)
	case !ok || !ValidID(raw):
		c.userID = ""
	default:
		c.userID = raw
	}
	return c.userID
}

func (c *Client) ensureAuthenticated() error {
	if !c.IsAuthenticated() {
		return ErrAuthRequired
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

// do attaches the identity headers, sends req and decodes a JSON body into out.
func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	if id := c.GetCurrentUserID(); ValidID(id) {
		req.Header.Set("userid", id)
		req.Header.Set("x-seller-id", id)
	}
	if token, ok, err := c.storage.Get(store.KeyAuthToken); err == nil && ok && token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return ctxErr
		}
		return &ConnectionError{BaseURL: c.baseURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errResp struct {
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&errResp)
		msg := strings.TrimSpace(errResp.Message)
		if msg == "" {
			msg = strings.TrimSpace(errResp.Error)
		}
		if msg == "" {
			msg = fmt.Sprintf("HTTP error! status: %d", resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", req.Method, req.URL.Path, err)
	}
	return nil
}
