package util

import "github.com/google/uuid"

// NewID returns a random UUIDv4 string used for browser sessions, previews and requests.
func NewID() string {
	return uuid.NewString()
}

// IsID reports whether raw looks like an id produced by NewID.
func IsID(raw string) bool {
	_, err := uuid.Parse(raw)
	return err == nil
}
