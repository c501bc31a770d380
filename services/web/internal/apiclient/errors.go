package apiclient

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAuthRequired is returned before any request when no session exists.
	ErrAuthRequired = errors.New("authentication required: please log in to continue")
	// ErrNoFiles is returned when an upload is attempted with nothing selected.
	ErrNoFiles = errors.New("no files selected for upload")
	// ErrProductIDRequired is returned when photos are uploaded without a listing.
	ErrProductIDRequired = errors.New("product id is required to upload photos")
)

// ConnectionError reports a transport failure reaching the backend.
type ConnectionError struct {
	BaseURL string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("cannot connect to server at %s: make sure the backend is running (%v)", e.BaseURL, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// APIError represents a non-2xx backend response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

// ValidationError collects client-side problems found before any request.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Problems, "; ")
}

// IsConnection reports whether err is a transport failure.
func IsConnection(err error) bool {
	var connErr *ConnectionError
	return errors.As(err, &connErr)
}

// StatusOf returns the backend status carried by err, or 0.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}
