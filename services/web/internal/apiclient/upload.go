package apiclient

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
)

// MaxImageBytes is the per-file size ceiling for listing photos.
const MaxImageBytes = 10 << 20

// AllowedImageTypes are the accepted photo MIME types.
var AllowedImageTypes = []string{"image/jpeg", "image/png", "image/webp"}

// File is one selected photo held in memory until it is uploaded.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Size returns the file length in bytes.
func (f File) Size() int64 { return int64(len(f.Data)) }

// IsAllowedImageType reports whether contentType is an accepted photo type.
func IsAllowedImageType(contentType string) bool {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	for _, t := range AllowedImageTypes {
		if t == contentType {
			return true
		}
	}
	return false
}

// ValidateImages checks type and size of every file and, when maxFiles is
// positive, that existing plus the new files stays within it. All problems
// are reported together.
func ValidateImages(files []File, existing, maxFiles int) error {
	var problems []string
	for _, f := range files {
		name := f.Name
		if name == "" {
			name = "unnamed file"
		}
		if !IsAllowedImageType(f.ContentType) {
			problems = append(problems, fmt.Sprintf("%s: only JPEG, PNG and WebP images are allowed", name))
		}
		if f.Size() > MaxImageBytes {
			problems = append(problems, fmt.Sprintf("%s: file is larger than 10MB", name))
		}
		if f.Size() == 0 {
			problems = append(problems, fmt.Sprintf("%s: file is empty", name))
		}
	}
	if maxFiles > 0 && existing+len(files) > maxFiles {
		problems = append(problems, fmt.Sprintf("you can upload at most %d images", maxFiles))
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// UploadResult is the reply of the file-upload endpoint.
type UploadResult struct {
	URL string `json:"url"`
	Key string `json:"key,omitempty"`
}

// UploadProductPhotos validates every file, then uploads them one at a time
// and returns their URLs in input order. The first failure aborts the rest.
func (c *Client) UploadProductPhotos(ctx context.Context, productID string, files []File) ([]string, error) {
	if err := c.ensureAuthenticated(); err != nil {
		return nil, err
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return nil, ErrProductIDRequired
	}
	if len(files) == 0 {
		return nil, ErrNoFiles
	}
	if err := ValidateImages(files, 0, 0); err != nil {
		return nil, err
	}

	urls := make([]string, 0, len(files))
	for i, f := range files {
		url, err := c.uploadOne(ctx, productID, f)
		if err != nil {
			return nil, fmt.Errorf("upload photo %d of %d (%s): %w", i+1, len(files), f.Name, err)
		}
		urls = append(urls, url)
	}
	return urls, nil
}

func (c *Client) uploadOne(ctx context.Context, productID string, f File) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := writeFilePart(mw, "file", f); err != nil {
		return "", err
	}
	if err := mw.WriteField("productId", productID); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.uploadURL, &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	var res UploadResult
	if err := c.do(req, &res); err != nil {
		return "", err
	}
	if strings.TrimSpace(res.URL) == "" {
		return "", &APIError{Status: http.StatusBadGateway, Message: "upload response has no url"}
	}
	return res.URL, nil
}

func writeFilePart(mw *multipart.Writer, field string, f File) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, f.Name))
	h.Set("Content-Type", f.ContentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	_, err = part.Write(f.Data)
	return err
}
