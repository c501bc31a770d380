// Package photos serves the local file-upload endpoint for listing photos.
package photos

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"sokogo/internal/util"
	"sokogo/pkg/storage"
	"sokogo/services/web/internal/apiclient"
)

const formOverhead = 1 << 20

var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

// Handler accepts multipart "file" uploads, with optional "productId" and
// "existingUrl" fields, and stores them in an ObjectStore.
type Handler struct {
	store    storage.ObjectStore
	maxBytes int64
}

// NewHandler limits uploads to maxBytes, 10MB when zero.
func NewHandler(store storage.ObjectStore, maxBytes int64) *Handler {
	if maxBytes <= 0 {
		maxBytes = apiclient.MaxImageBytes
	}
	return &Handler{store: store, maxBytes: maxBytes}
}

type response struct {
	URL string `json:"url"`
	Key string `json:"key"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	logger := util.LoggerFromContext(r.Context())
	if !apiclient.ValidID(r.Header.Get("userid")) {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+formOverhead)
	if err := r.ParseMultipartForm(h.maxBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file is larger than 10MB")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required (field: file)")
		return
	}
	defer file.Close()
	if header.Size > h.maxBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "file is larger than 10MB")
		return
	}

	sniff := make([]byte, 512)
	n, err := io.ReadFull(file, sniff)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "unreadable file")
		return
	}
	detected := http.DetectContentType(sniff[:n])
	declared := header.Header.Get("Content-Type")
	if !apiclient.IsAllowedImageType(declared) || !apiclient.IsAllowedImageType(detected) {
		writeError(w, http.StatusUnsupportedMediaType, "only JPEG, PNG and WebP images are allowed")
		return
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		writeError(w, http.StatusInternalServerError, "unreadable file")
		return
	}

	productID := r.FormValue("productId")
	if existing := strings.TrimSpace(r.FormValue("existingUrl")); existing != "" {
		key, err := h.store.KeyFromURL(existing)
		if err != nil {
			writeError(w, http.StatusBadRequest, "existingUrl does not belong to this store")
			return
		}
		// Replacement is limited to photos of the same listing.
		folder := sanitize(productID)
		if folder == "" {
			writeError(w, http.StatusBadRequest, "productId is required to replace a photo")
			return
		}
		if !strings.HasPrefix(key, "products/"+folder+"/") {
			logger.Warn("security_event", "event", "web.photo_replace", "outcome", "forbidden", "key", key, "user_id", r.Header.Get("userid"))
			writeError(w, http.StatusForbidden, "existingUrl belongs to another listing")
			return
		}
		if err := h.store.Delete(r.Context(), key); err != nil {
			logger.Warn("delete replaced photo failed", "key", key, "err", err)
		}
	}

	key := objectKey(productID, detected)
	url, err := h.store.Put(r.Context(), key, file, header.Size, detected)
	if err != nil {
		logger.Error("store photo failed", "key", key, "err", err)
		writeError(w, http.StatusBadGateway, "photo storage unavailable")
		return
	}
	logger.Info("photo stored", "key", key, "bytes", header.Size, "user_id", r.Header.Get("userid"))
	writeJSON(w, http.StatusCreated, response{URL: url, Key: key})
}

func objectKey(productID, contentType string) string {
	folder := sanitize(productID)
	if folder == "" {
		folder = "unassigned"
	}
	return "products/" + folder + "/" + util.NewID() + extensions[contentType]
}

func sanitize(raw string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		}
		if b.Len() >= 64 {
			break
		}
	}
	return b.String()
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
