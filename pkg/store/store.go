package store

import "errors"

// Keys written by the API client and the auth store.
const (
	KeyUserID              = "userId"
	KeyUser                = "user"
	KeyProviderSyncedEmail = "providerSyncedEmail"
	KeyProviderPassword    = "providerPassword"
	KeyAuthToken           = "authToken"
	KeyBackendCookies      = "backendCookies"
)

// ErrSessionRequired is returned when a backend is asked for an unnamed session.
var ErrSessionRequired = errors.New("session id required")

// Storage is the key/value storage of one browser session. It mirrors the
// semantics of browser local storage: string values, missing keys are not errors.
type Storage interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Remove(keys ...string) error
}

// Backend hands out Storage scoped to a browser session.
type Backend interface {
	Session(sessionID string) (Storage, error)
	Drop(sessionID string) error
}
