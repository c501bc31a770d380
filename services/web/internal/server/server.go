package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"sokogo/internal/providertoken"
	"sokogo/internal/ratelimit"
	"sokogo/internal/util"
	"sokogo/pkg/auth"
	"sokogo/pkg/domain"
	"sokogo/pkg/storage"
	"sokogo/pkg/store"
	"sokogo/services/web/internal/apiclient"
	"sokogo/services/web/internal/authstate"
	"sokogo/services/web/internal/guard"
	"sokogo/services/web/internal/photos"
	"sokogo/services/web/internal/upload"
)

// ProviderVerifier checks identity-provider session tokens.
type ProviderVerifier interface {
	Verify(token string) (providertoken.Identity, error)
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	Sessions store.Backend
	API      apiclient.Config
	Sealer   *auth.Sealer
	Provider ProviderVerifier
	Uploads  *upload.Registry
	Photos   storage.ObjectStore
	// UploadDir is served at UploadPath when photos live on local disk.
	UploadDir  string
	UploadPath string

	Redis                      *redis.Client
	LoginRateLimitPerMinute    int
	RegisterRateLimitPerMinute int

	SessionCookieName  string
	ProviderCookieName string
	CookieSecure       bool
	SessionTTL         time.Duration

	CORSOrigins    []string
	ImageOrigins   []string
	TrustedProxies *util.TrustedProxies
}

// Server exposes the web frontend routes.
type Server struct {
	sessions        store.Backend
	api             apiclient.Config
	sealer          *auth.Sealer
	provider        ProviderVerifier
	uploads         *upload.Registry
	photos          *photos.Handler
	uploadDir       string
	uploadPath      string
	loginLimiter    *ratelimit.FixedWindowLimiter
	registerLimiter *ratelimit.FixedWindowLimiter
	cookieName      string
	providerCookie  string
	cookieSecure    bool
	sessionTTL      time.Duration
	corsOrigins     []string
	imageOrigins    []string
	trusted         *util.TrustedProxies
	hydrations      singleflight.Group
	mux             *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.Sessions == nil {
		return nil, errors.New("server: session backend is required")
	}
	if cfg.Uploads == nil {
		return nil, errors.New("server: upload registry is required")
	}
	if cfg.Photos == nil {
		return nil, errors.New("server: photo store is required")
	}
	loginLimit := cfg.LoginRateLimitPerMinute
	if loginLimit <= 0 {
		loginLimit = 10
	}
	registerLimit := cfg.RegisterRateLimitPerMinute
	if registerLimit <= 0 {
		registerLimit = 5
	}
	newLimiter := func(name string, limit int) (*ratelimit.FixedWindowLimiter, error) {
		limiter, err := ratelimit.NewFixedWindowLimiter(cfg.Redis, "sokogo:web:ratelimit:"+name, limit, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init %s limiter: %w", name, err)
		}
		return limiter, nil
	}
	loginLimiter, err := newLimiter("login", loginLimit)
	if err != nil {
		return nil, err
	}
	registerLimiter, err := newLimiter("register", registerLimit)
	if err != nil {
		return nil, err
	}

	s := &Server{
		sessions:        cfg.Sessions,
		api:             cfg.API,
		sealer:          cfg.Sealer,
		provider:        cfg.Provider,
		uploads:         cfg.Uploads,
		photos:          photos.NewHandler(cfg.Photos, apiclient.MaxImageBytes),
		uploadDir:       cfg.UploadDir,
		uploadPath:      normalizePath(cfg.UploadPath, "/uploads/"),
		loginLimiter:    loginLimiter,
		registerLimiter: registerLimiter,
		cookieName:      orDefault(cfg.SessionCookieName, "sokogo_sid"),
		providerCookie:  orDefault(cfg.ProviderCookieName, "sokogo_provider"),
		cookieSecure:    cfg.CookieSecure,
		sessionTTL:      cfg.SessionTTL,
		corsOrigins:     cfg.CORSOrigins,
		imageOrigins:    cfg.ImageOrigins,
		trusted:         cfg.TrustedProxies,
		mux:             http.NewServeMux(),
	}
	if s.sessionTTL <= 0 {
		s.sessionTTL = 7 * 24 * time.Hour
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("web", util.WithSecurityHeaders(s.imageOrigins, util.WithCORS(s.corsOrigins, s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	// auth
	s.mux.Handle("POST /login", s.withSession(http.HandlerFunc(s.handleLogin)))
	s.mux.Handle("POST /register", s.withSession(http.HandlerFunc(s.handleRegister)))
	s.mux.Handle("POST /logout", s.withSession(http.HandlerFunc(s.handleLogout)))
	s.mux.Handle("POST /signup/google", s.withSession(http.HandlerFunc(s.handleGoogleSignup)))
	s.mux.Handle("GET /api/session", s.withSession(http.HandlerFunc(s.handleSession)))
	s.mux.Handle("GET /api/session/verify", s.protected(nil, s.handleVerifySession))
	s.mux.Handle("PUT /api/profile", s.protected(nil, s.handleUpdateProfile))

	// marketplace
	s.mux.Handle("GET /items", s.withSession(http.HandlerFunc(s.handleItems)))
	s.mux.Handle("GET /items/popular", s.withSession(http.HandlerFunc(s.handlePopularItems)))
	s.mux.Handle("GET /items/{id}", s.withSession(http.HandlerFunc(s.handleItem)))

	// seller console
	seller := []domain.UserRole{domain.RoleSeller}
	s.mux.Handle("GET /seller/dashboard", s.protected(seller, s.handleSellerDashboard))
	s.mux.Handle("GET /seller/items", s.protected(seller, s.handleSellerItems))
	s.mux.Handle("POST /seller/items", s.protected(seller, s.handleCreateItem))
	s.mux.Handle("POST /seller/uploads", s.protected(seller, s.handleAddUploads))
	s.mux.Handle("DELETE /seller/uploads/{index}", s.protected(seller, s.handleRemoveUpload))
	s.mux.Handle("POST /seller/uploads/commit", s.protected(seller, s.handleCommitUploads))

	// admin console
	admin := []domain.UserRole{domain.RoleAdmin}
	s.mux.Handle("GET /admin/dashboard", s.protected(admin, s.handleAdminDashboard))
	s.mux.Handle("GET /admin/users", s.protected(admin, s.handleAdminUsers))

	s.mux.Handle("GET /buyer/dashboard", s.protected(nil, s.handleBuyerDashboard))

	// photos
	s.mux.Handle("GET /previews/{id}", s.uploads.Previews())
	s.mux.Handle("POST /api/upload", s.photos)
	if s.uploadDir != "" {
		s.mux.Handle("GET "+s.uploadPath, http.StripPrefix(strings.TrimRight(s.uploadPath, "/"), http.FileServer(http.Dir(s.uploadDir))))
	}
}

// protected hydrates the session and gates h on roles. Nil roles admit any
// authenticated user; the fallback is the user's own dashboard.
func (s *Server) protected(roles []domain.UserRole, h func(http.ResponseWriter, *http.Request, *session)) http.Handler {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h(w, r, sessionFrom(r))
	})
	return s.withSession(guard.RoleProtected(roles, "", inner))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r, s.trusted),
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(r.Context())
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	ok, retryAfter := limiter.Allow(r.Context(), util.ClientIP(r, s.trusted))
	if ok {
		return true
	}
	secs := int(math.Ceil(retryAfter.Seconds()))
	if secs < 1 {
		secs = 60
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

const msgBackendUnreachable = "cannot connect to server: make sure the backend is running"

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeAPIError maps client, validation, and backend errors to responses.
func writeAPIError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation *apiclient.ValidationError
		apiErr     *apiclient.APIError
	)
	switch {
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": validation.Error(), "problems": validation.Problems})
	case errors.Is(err, apiclient.ErrAuthRequired):
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error(), "redirect": authstate.LoginPath})
	case errors.Is(err, apiclient.ErrNoFiles), errors.Is(err, apiclient.ErrProductIDRequired):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, upload.ErrBatchClosed), errors.Is(err, upload.ErrUploadInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &apiErr):
		status := apiErr.Status
		if status < 400 {
			status = http.StatusBadGateway
		}
		writeError(w, status, apiErr.Message)
	case apiclient.IsConnection(err):
		util.LoggerFromContext(r.Context()).Warn("backend unreachable", "err", err)
		writeError(w, http.StatusBadGateway, msgBackendUnreachable)
	default:
		util.LoggerFromContext(r.Context()).Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v == "" {
		return def
	}
	return v
}

func normalizePath(p, def string) string {
	p = orDefault(p, def)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}
