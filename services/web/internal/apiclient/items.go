package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"sokogo/pkg/domain"
)

const defaultPopularLimit = 8

// CreateItemRequest is the new-listing form.
type CreateItemRequest struct {
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Price       float64           `json:"price"`
	Currency    string            `json:"currency"`
	Category    string            `json:"category"`
	Subcategory string            `json:"subcategory,omitempty"`
	Location    domain.Location   `json:"location"`
	Features    map[string]string `json:"features,omitempty"`
	Images      []string          `json:"images,omitempty"`
}

// Validate checks the fields the listing form requires.
func (r *CreateItemRequest) Validate() error {
	var problems []string
	if strings.TrimSpace(r.Title) == "" {
		problems = append(problems, "title is required")
	}
	if strings.TrimSpace(r.Description) == "" {
		problems = append(problems, "description is required")
	}
	if r.Price <= 0 {
		problems = append(problems, "price must be greater than zero")
	}
	if !slices.Contains(domain.Categories, strings.ToLower(strings.TrimSpace(r.Category))) {
		problems = append(problems, "category must be one of "+strings.Join(domain.Categories, ", "))
	}
	if strings.TrimSpace(r.Location.District) == "" {
		problems = append(problems, "district is required")
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	r.Category = strings.ToLower(strings.TrimSpace(r.Category))
	if strings.TrimSpace(r.Currency) == "" {
		r.Currency = "RWF"
	}
	return nil
}

// ItemQuery filters the public listing search.
type ItemQuery struct {
	Category    string
	Subcategory string
	Search      string
	District    string
	MinPrice    float64
	MaxPrice    float64
	Sort        string
	Page        int
	Limit       int
}

func (q ItemQuery) values() url.Values {
	v := url.Values{}
	set := func(key, value string) {
		if value = strings.TrimSpace(value); value != "" {
			v.Set(key, value)
		}
	}
	set("category", q.Category)
	set("subcategory", q.Subcategory)
	set("search", q.Search)
	set("district", q.District)
	set("sort", q.Sort)
	if q.MinPrice > 0 {
		v.Set("minPrice", strconv.FormatFloat(q.MinPrice, 'f', -1, 64))
	}
	if q.MaxPrice > 0 {
		v.Set("maxPrice", strconv.FormatFloat(q.MaxPrice, 'f', -1, 64))
	}
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	return v
}

type itemEnvelope struct {
	Item domain.Item `json:"item"`
}

// CreateItem publishes a listing for the current seller.
func (c *Client) CreateItem(ctx context.Context, req CreateItemRequest) (domain.Item, error) {
	if err := c.ensureAuthenticated(); err != nil {
		return domain.Item{}, err
	}
	if err := req.Validate(); err != nil {
		return domain.Item{}, err
	}
	var resp itemEnvelope
	if err := c.doJSON(ctx, http.MethodPost, "/items", req, &resp); err != nil {
		return domain.Item{}, fmt.Errorf("create item: %w", err)
	}
	return resp.Item, nil
}

// CreateItemWithImages publishes a listing with its photos in one multipart request.
func (c *Client) CreateItemWithImages(ctx context.Context, req CreateItemRequest, files []File) (domain.Item, error) {
	if err := c.ensureAuthenticated(); err != nil {
		return domain.Item{}, err
	}
	if err := req.Validate(); err != nil {
		return domain.Item{}, err
	}
	if err := ValidateImages(files, 0, 0); err != nil {
		return domain.Item{}, err
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fields := map[string]string{
		"title":       req.Title,
		"description": req.Description,
		"price":       strconv.FormatFloat(req.Price, 'f', -1, 64),
		"currency":    req.Currency,
		"category":    req.Category,
		"subcategory": req.Subcategory,
	}
	location, err := json.Marshal(req.Location)
	if err != nil {
		return domain.Item{}, err
	}
	fields["location"] = string(location)
	if len(req.Features) > 0 {
		features, err := json.Marshal(req.Features)
		if err != nil {
			return domain.Item{}, err
		}
		fields["features"] = string(features)
	}
	for key, value := range fields {
		if err := mw.WriteField(key, value); err != nil {
			return domain.Item{}, err
		}
	}
	for _, f := range files {
		if err := writeFilePart(mw, "images", f); err != nil {
			return domain.Item{}, err
		}
	}
	if err := mw.Close(); err != nil {
		return domain.Item{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/items", &buf)
	if err != nil {
		return domain.Item{}, err
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	var resp itemEnvelope
	if err := c.do(httpReq, &resp); err != nil {
		return domain.Item{}, fmt.Errorf("create item with images: %w", err)
	}
	return resp.Item, nil
}

// GetMyItems lists the current seller's listings.
func (c *Client) GetMyItems(ctx context.Context) ([]domain.Item, error) {
	if err := c.ensureAuthenticated(); err != nil {
		return nil, err
	}
	var resp struct {
		Items []domain.Item `json:"items"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/items/seller/my-items", nil, &resp); err != nil {
		return nil, fmt.Errorf("get my items: %w", err)
	}
	return resp.Items, nil
}

// GetPopularItems returns up to limit popular listings for the home page.
func (c *Client) GetPopularItems(ctx context.Context, limit int) ([]domain.Item, error) {
	if limit <= 0 {
		limit = defaultPopularLimit
	}
	page, err := c.GetAllItems(ctx, ItemQuery{Sort: "popular", Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("get popular items: %w", err)
	}
	return page.Items, nil
}

// GetAllItems searches public listings.
func (c *Client) GetAllItems(ctx context.Context, q ItemQuery) (domain.ItemPage, error) {
	path := "/items"
	if enc := q.values().Encode(); enc != "" {
		path += "?" + enc
	}
	var page domain.ItemPage
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &page); err != nil {
		return domain.ItemPage{}, fmt.Errorf("get items: %w", err)
	}
	return page, nil
}

// GetItemByID loads one listing.
func (c *Client) GetItemByID(ctx context.Context, id string) (domain.Item, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Item{}, &ValidationError{Problems: []string{"item id is required"}}
	}
	var resp itemEnvelope
	if err := c.doJSON(ctx, http.MethodGet, "/items/"+url.PathEscape(id), nil, &resp); err != nil {
		return domain.Item{}, fmt.Errorf("get item %s: %w", id, err)
	}
	return resp.Item, nil
}
