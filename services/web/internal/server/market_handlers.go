package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"sokogo/pkg/domain"
	"sokogo/services/web/internal/apiclient"
)

func (s *Server) handleItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := apiclient.ItemQuery{
		Category:    q.Get("category"),
		Subcategory: q.Get("subcategory"),
		Search:      q.Get("search"),
		District:    q.Get("district"),
		Sort:        q.Get("sort"),
		MinPrice:    parseFloat(q.Get("minPrice")),
		MaxPrice:    parseFloat(q.Get("maxPrice")),
		Page:        parseInt(q.Get("page")),
		Limit:       parseInt(q.Get("limit")),
	}
	page, err := sessionFrom(r).client.GetAllItems(r.Context(), query)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	if page.Items == nil {
		page.Items = []domain.Item{}
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handlePopularItems(w http.ResponseWriter, r *http.Request) {
	items, err := sessionFrom(r).client.GetPopularItems(r.Context(), parseInt(r.URL.Query().Get("limit")))
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": nonNilItems(items)})
}

func (s *Server) handleItem(w http.ResponseWriter, r *http.Request) {
	item, err := sessionFrom(r).client.GetItemByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"item": item})
}

func (s *Server) handleBuyerDashboard(w http.ResponseWriter, r *http.Request, sess *session) {
	items, err := sess.client.GetPopularItems(r.Context(), 0)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":         sess.state.Snapshot().User,
		"popularItems": nonNilItems(items),
	})
}

func (s *Server) handleAdminDashboard(w http.ResponseWriter, r *http.Request, sess *session) {
	ctx := r.Context()
	totals := map[string]int{}
	for _, role := range []domain.UserRole{domain.RoleSeller, domain.RoleBuyer} {
		page, err := sess.client.GetUsersByRole(ctx, role, 1)
		if err != nil {
			writeAPIError(w, r, err)
			return
		}
		total := page.Pagination.TotalUsers
		if total == 0 {
			total = len(page.Users)
		}
		totals[string(role)+"s"] = total
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":   sess.state.Snapshot().User,
		"totals": totals,
	})
}

func (s *Server) handleAdminUsers(w http.ResponseWriter, r *http.Request, sess *session) {
	q := r.URL.Query()
	role := domain.RoleSeller
	if raw := strings.TrimSpace(q.Get("role")); raw != "" {
		parsed, ok := domain.ParseRole(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "role must be buyer, seller or admin")
			return
		}
		role = parsed
	}
	page, err := sess.client.GetUsersByRole(r.Context(), role, parseInt(q.Get("page")))
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	users := make([]domain.User, 0, len(page.Users))
	for _, u := range page.Users {
		users = append(users, u.Public())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"role":          role,
		"users":         users,
		"pagination":    page.Pagination,
		"pageIndicator": pageIndicator(page.Pagination),
	})
}

func pageIndicator(p domain.Pagination) string {
	return fmt.Sprintf("Page %d of %d", max(p.CurrentPage, 1), max(p.TotalPages, 1))
}

func nonNilItems(items []domain.Item) []domain.Item {
	if items == nil {
		return []domain.Item{}
	}
	return items
}

func parseInt(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func parseFloat(raw string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || f < 0 {
		return 0
	}
	return f
}
