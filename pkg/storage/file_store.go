package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FileStore saves uploaded photos to disk under a base directory and serves
// them from publicBaseURL.
type FileStore struct {
	basePath      string
	publicBaseURL string
}

// NewFileStore creates the base directory if missing.
func NewFileStore(basePath, publicBaseURL string) (*FileStore, error) {
	if strings.TrimSpace(basePath) == "" {
		return nil, fmt.Errorf("storage base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	base := strings.TrimRight(strings.TrimSpace(publicBaseURL), "/")
	if base == "" {
		base = "/uploads"
	}
	return &FileStore{basePath: basePath, publicBaseURL: base}, nil
}

// Root is the directory served for public reads.
func (f *FileStore) Root() string {
	return f.basePath
}

// Put writes the object under its key, replacing any previous content.
func (f *FileStore) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) (string, error) {
	target, err := f.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("create object dir: %w", err)
	}
	out, err := os.Create(target)
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, r); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return f.publicBaseURL + "/" + filepath.ToSlash(key), nil
}

// Delete removes an object; missing objects are not an error.
func (f *FileStore) Delete(_ context.Context, key string) error {
	target, err := f.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

// KeyFromURL maps a public URL back to its object key.
func (f *FileStore) KeyFromURL(rawURL string) (string, error) {
	return keyUnderBase(f.publicBaseURL, rawURL)
}

func (f *FileStore) path(key string) (string, error) {
	clean := filepath.Clean("/" + filepath.FromSlash(key))
	if clean == string(os.PathSeparator) {
		return "", fmt.Errorf("object key is required")
	}
	return filepath.Join(f.basePath, clean), nil
}
