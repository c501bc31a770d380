package upload

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"sokogo/internal/util"
	"sokogo/services/web/internal/apiclient"
)

const defaultPreviewBase = "/previews/"

type preview struct {
	contentType string
	data        []byte
	created     time.Time
}

// Previews holds selected-but-not-uploaded photos so pages can show them.
// Every URL it hands out stays live until Revoke is called for it.
type Previews struct {
	base string

	mu    sync.RWMutex
	items map[string]preview
}

// NewPreviews serves previews under base, "/previews/" by default.
func NewPreviews(base string) *Previews {
	base = strings.TrimSpace(base)
	if base == "" {
		base = defaultPreviewBase
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return &Previews{base: base, items: make(map[string]preview)}
}

// Create registers f and returns its preview URL.
func (p *Previews) Create(f apiclient.File) string {
	id := util.NewID()
	p.mu.Lock()
	p.items[id] = preview{contentType: f.ContentType, data: f.Data, created: time.Now()}
	p.mu.Unlock()
	return p.base + id
}

// Revoke releases the preview behind url. It reports whether one existed.
func (p *Previews) Revoke(url string) bool {
	id, ok := strings.CutPrefix(url, p.base)
	if !ok {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.items[id]; !exists {
		return false
	}
	delete(p.items, id)
	return true
}

// Len returns the number of live previews.
func (p *Previews) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.items)
}

// ServeHTTP serves GET {base}{id}.
func (p *Previews) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := r.PathValue("id")
	if id == "" {
		id = strings.TrimPrefix(r.URL.Path, p.base)
	}
	p.mu.RLock()
	item, ok := p.items[id]
	p.mu.RUnlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", item.contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(item.data)))
	w.Header().Set("Cache-Control", "private, no-store")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodGet {
		_, _ = w.Write(item.data)
	}
}
