package server

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"sokogo/pkg/domain"
	"sokogo/services/web/internal/apiclient"
	"sokogo/services/web/internal/upload"
)

func (s *Server) handleSellerDashboard(w http.ResponseWriter, r *http.Request, sess *session) {
	items, err := sess.client.GetMyItems(r.Context())
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":    sess.state.Snapshot().User,
		"items":   nonNilItems(items),
		"uploads": s.batch(sess).State(),
	})
}

func (s *Server) handleSellerItems(w http.ResponseWriter, r *http.Request, sess *session) {
	items, err := sess.client.GetMyItems(r.Context())
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": nonNilItems(items)})
}

// handleCreateItem publishes a listing. JSON bodies receive the photos the
// session's batch already uploaded; multipart bodies carry their own images.
func (s *Server) handleCreateItem(w http.ResponseWriter, r *http.Request, sess *session) {
	if isMultipart(r) {
		s.createItemMultipart(w, r, sess)
		return
	}
	var req apiclient.CreateItemRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	batch := s.batch(sess)
	pending := batch.TakeUploaded()
	req.Images = append(req.Images, pending...)
	item, err := sess.client.CreateItem(r.Context(), req)
	if err != nil {
		batch.RestoreUploaded(pending)
		writeAPIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"item": item})
}

func (s *Server) createItemMultipart(w http.ResponseWriter, r *http.Request, sess *session) {
	maxFiles := s.batch(sess).State().MaxFiles
	files, ok := s.readFiles(w, r, "images", maxFiles)
	if !ok {
		return
	}
	form := r.MultipartForm.Value
	get := func(key string) string {
		if v := form[key]; len(v) > 0 {
			return strings.TrimSpace(v[0])
		}
		return ""
	}
	price, _ := strconv.ParseFloat(get("price"), 64)
	req := apiclient.CreateItemRequest{
		Title:       get("title"),
		Description: get("description"),
		Price:       price,
		Currency:    get("currency"),
		Category:    get("category"),
		Subcategory: get("subcategory"),
		Location: domain.Location{
			District: get("district"),
			Sector:   get("sector"),
			Address:  get("address"),
		},
	}
	item, err := sess.client.CreateItemWithImages(r.Context(), req, files)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"item": item})
}

func (s *Server) handleAddUploads(w http.ResponseWriter, r *http.Request, sess *session) {
	batch := s.batch(sess)
	files, ok := s.readFiles(w, r, "files", batch.State().MaxFiles)
	if !ok {
		return
	}
	if err := batch.AddFiles(files); err != nil {
		writeAPIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, batch.State())
}

func (s *Server) handleRemoveUpload(w http.ResponseWriter, r *http.Request, sess *session) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "upload index must be a number")
		return
	}
	batch := s.batch(sess)
	if err := batch.RemoveFile(index); err != nil {
		if errors.Is(err, upload.ErrBatchClosed) {
			writeAPIError(w, r, err)
			return
		}
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, batch.State())
}

func (s *Server) handleCommitUploads(w http.ResponseWriter, r *http.Request, sess *session) {
	var req struct {
		ProductID string `json:"productId"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	batch := s.batch(sess)
	urls, err := batch.UploadPhotos(r.Context(), strings.TrimSpace(req.ProductID))
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"urls": urls, "uploads": batch.State()})
}

func isMultipart(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "multipart/form-data"
}

// readFiles parses the multipart body and loads every part of field into
// memory. Each part is read up to one byte past the image limit so
// oversized files still fail validation.
func (s *Server) readFiles(w http.ResponseWriter, r *http.Request, field string, maxFiles int) ([]apiclient.File, bool) {
	if maxFiles <= 0 {
		maxFiles = 1
	}
	limit := int64(maxFiles+1)*(apiclient.MaxImageBytes+1) + maxJSONBody
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return nil, false
	}
	defer r.MultipartForm.RemoveAll()
	headers := r.MultipartForm.File[field]
	files := make([]apiclient.File, 0, len(headers))
	for _, fh := range headers {
		f, err := readPart(fh)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return nil, false
		}
		files = append(files, f)
	}
	return files, true
}

func readPart(fh *multipart.FileHeader) (apiclient.File, error) {
	src, err := fh.Open()
	if err != nil {
		return apiclient.File{}, fmt.Errorf("open %s: %w", fh.Filename, err)
	}
	defer src.Close()
	data, err := io.ReadAll(io.LimitReader(src, apiclient.MaxImageBytes+1))
	if err != nil {
		return apiclient.File{}, fmt.Errorf("read %s: %w", fh.Filename, err)
	}
	contentType := fh.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	return apiclient.File{Name: fh.Filename, ContentType: contentType, Data: data}, nil
}
