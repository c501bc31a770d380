// Package upload implements the gated multi-file photo upload workflow.
package upload

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"sokogo/services/web/internal/apiclient"
	"sokogo/services/web/internal/authstate"
)

// DefaultMaxFiles caps how many photos one listing batch may hold.
const DefaultMaxFiles = 10

var (
	// ErrBatchClosed is returned by operations on a closed batch.
	ErrBatchClosed = errors.New("upload batch is closed")
	// ErrUploadInProgress is returned when the batch is already uploading.
	ErrUploadInProgress = errors.New("an upload is already in progress")
)

// PhotoUploader sends photos for a listing and returns their URLs in order.
type PhotoUploader interface {
	UploadProductPhotos(ctx context.Context, productID string, files []apiclient.File) ([]string, error)
}

// Authenticator is the storage-only session check.
type Authenticator interface {
	CheckAuthenticationSync() bool
}

// Deps are the per-request collaborators of a batch.
type Deps struct {
	Uploader  PhotoUploader
	Auth      Authenticator
	Navigator authstate.Navigator
}

// Options configure a batch.
type Options struct {
	MaxFiles int
	// OnAuthRequired replaces the default redirect to the login page.
	OnAuthRequired func()
	OnSuccess      func(urls []string)
	OnError        func(err error)
}

// FileInfo describes a selected file without its contents.
type FileInfo struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

// State is a copy of the batch contents. Files and PreviewURLs pair by index.
type State struct {
	Files        []FileInfo `json:"files"`
	PreviewURLs  []string   `json:"previewUrls"`
	UploadedURLs []string   `json:"uploadedUrls"`
	MaxFiles     int        `json:"maxFiles"`
}

// Batch is the selection of one browser session. selected and previews
// always have the same length and pair by index.
type Batch struct {
	previews *Previews
	opts     Options

	mu       sync.Mutex
	deps     Deps
	selected []apiclient.File
	urls     []string
	uploaded []string
	closed   bool
	touched  time.Time

	// uploading is set while files are sent without the lock held.
	uploading bool
}

// NewBatch creates an empty batch.
func NewBatch(previews *Previews, deps Deps, opts Options) *Batch {
	if opts.MaxFiles <= 0 {
		opts.MaxFiles = DefaultMaxFiles
	}
	return &Batch{previews: previews, deps: deps, opts: opts, touched: time.Now()}
}

// Bind swaps in the collaborators of the current request.
func (b *Batch) Bind(deps Deps) {
	b.mu.Lock()
	b.deps = deps
	b.touched = time.Now()
	b.mu.Unlock()
}

func (b *Batch) requireAuth() error {
	if b.deps.Auth != nil && b.deps.Auth.CheckAuthenticationSync() {
		return nil
	}
	if b.opts.OnAuthRequired != nil {
		b.opts.OnAuthRequired()
	} else if b.deps.Navigator != nil {
		b.deps.Navigator.Navigate(authstate.LoginPath)
	}
	return apiclient.ErrAuthRequired
}

// AddFiles appends files after the session and every file pass validation.
// One bad file rejects the whole call.
func (b *Batch) AddFiles(files []apiclient.File) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBatchClosed
	}
	b.touched = time.Now()
	if err := b.requireAuth(); err != nil {
		return err
	}
	if len(files) == 0 {
		return apiclient.ErrNoFiles
	}
	if err := apiclient.ValidateImages(files, len(b.selected), b.opts.MaxFiles); err != nil {
		return err
	}
	for _, f := range files {
		b.selected = append(b.selected, f)
		b.urls = append(b.urls, b.previews.Create(f))
	}
	return nil
}

// RemoveFile revokes the preview at index and drops the file.
func (b *Batch) RemoveFile(index int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBatchClosed
	}
	if index < 0 || index >= len(b.selected) {
		return fmt.Errorf("no selected file at index %d", index)
	}
	b.touched = time.Now()
	b.previews.Revoke(b.urls[index])
	b.selected = append(b.selected[:index:index], b.selected[index+1:]...)
	b.urls = append(b.urls[:index:index], b.urls[index+1:]...)
	return nil
}

// UploadPhotos uploads the selection for productID, one file at a time.
// Success records the URLs and clears the selection; failure keeps it so
// the user can retry.
func (b *Batch) UploadPhotos(ctx context.Context, productID string) ([]string, error) {
	urls, err := b.upload(ctx, productID)
	if err != nil {
		if b.opts.OnError != nil {
			b.opts.OnError(err)
		}
		return nil, err
	}
	if b.opts.OnSuccess != nil {
		b.opts.OnSuccess(urls)
	}
	return urls, nil
}

func (b *Batch) upload(ctx context.Context, productID string) ([]string, error) {
	files, sent, uploader, err := b.beginUpload(productID)
	if err != nil {
		return nil, err
	}
	urls, err := uploader.UploadProductPhotos(ctx, productID, files)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.uploading = false
	b.touched = time.Now()
	if b.closed {
		return nil, ErrBatchClosed
	}
	if err != nil {
		return nil, err
	}
	b.uploaded = append(b.uploaded, urls...)
	b.releaseLocked(sent)
	return urls, nil
}

// beginUpload checks preconditions and snapshots the selection. The lock is
// not held while files are sent; files added meanwhile stay selected.
func (b *Batch) beginUpload(productID string) ([]apiclient.File, map[string]bool, PhotoUploader, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, nil, nil, ErrBatchClosed
	}
	b.touched = time.Now()
	if err := b.requireAuth(); err != nil {
		return nil, nil, nil, err
	}
	if b.uploading {
		return nil, nil, nil, ErrUploadInProgress
	}
	if len(b.selected) == 0 {
		return nil, nil, nil, apiclient.ErrNoFiles
	}
	if productID == "" {
		return nil, nil, nil, apiclient.ErrProductIDRequired
	}
	if b.deps.Uploader == nil {
		return nil, nil, nil, errors.New("upload batch has no uploader")
	}
	files := append([]apiclient.File(nil), b.selected...)
	sent := make(map[string]bool, len(b.urls))
	for _, u := range b.urls {
		sent[u] = true
	}
	b.uploading = true
	return files, sent, b.deps.Uploader, nil
}

// releaseLocked revokes and drops the selected files whose previews are in sent.
func (b *Batch) releaseLocked(sent map[string]bool) {
	selected := b.selected[:0:0]
	urls := b.urls[:0:0]
	for i, u := range b.urls {
		if sent[u] {
			b.previews.Revoke(u)
			continue
		}
		selected = append(selected, b.selected[i])
		urls = append(urls, u)
	}
	b.selected = selected
	b.urls = urls
}

// State returns a copy of the batch contents.
func (b *Batch) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := State{
		Files:        make([]FileInfo, 0, len(b.selected)),
		PreviewURLs:  append([]string{}, b.urls...),
		UploadedURLs: append([]string{}, b.uploaded...),
		MaxFiles:     b.opts.MaxFiles,
	}
	for _, f := range b.selected {
		st.Files = append(st.Files, FileInfo{Name: f.Name, ContentType: f.ContentType, Size: f.Size()})
	}
	return st
}

// TakeUploaded returns the uploaded URLs and forgets them, for attaching to
// a listing.
func (b *Batch) TakeUploaded() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.uploaded
	b.uploaded = nil
	return out
}

// RestoreUploaded puts back URLs taken by TakeUploaded ahead of any
// uploaded since, when attaching them to a listing failed.
func (b *Batch) RestoreUploaded(urls []string) {
	if len(urls) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.uploaded = append(append([]string{}, urls...), b.uploaded...)
}

// Close revokes every preview. The batch is unusable afterwards.
func (b *Batch) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.revokeAllLocked()
	b.closed = true
}

func (b *Batch) idleSince() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.touched
}

func (b *Batch) revokeAllLocked() {
	for _, u := range b.urls {
		b.previews.Revoke(u)
	}
	b.selected = nil
	b.urls = nil
}
