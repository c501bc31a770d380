package server

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"

	"sokogo/internal/util"
	"sokogo/pkg/store"
	"sokogo/services/web/internal/apiclient"
	"sokogo/services/web/internal/authstate"
	"sokogo/services/web/internal/guard"
	"sokogo/services/web/internal/upload"
)

type sessionKey struct{}

// session is the per-request view of one browser session.
type session struct {
	id      string
	storage store.Storage
	client  *apiclient.Client
	state   *authstate.Store
	auth    *guard.EnhancedAuth
	nav     *navRecorder
}

// navRecorder captures the last navigation so handlers can return it.
type navRecorder struct {
	mu   sync.Mutex
	last string
}

func (n *navRecorder) Navigate(path string) {
	n.mu.Lock()
	n.last = path
	n.mu.Unlock()
}

func (n *navRecorder) Last() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.last
}

func sessionFrom(r *http.Request) *session {
	sess, _ := r.Context().Value(sessionKey{}).(*session)
	return sess
}

// withSession resolves the browser session, hydrates its auth state and
// publishes the snapshot for guards.
func (s *Server) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sid := s.sessionID(w, r)
		logger := util.LoggerFromContext(r.Context())

		storage, err := s.sessions.Session(sid)
		if err != nil {
			logger.Error("open session storage failed", "err", err)
			writeError(w, http.StatusServiceUnavailable, "session storage unavailable")
			return
		}
		apiCfg := s.api
		apiCfg.Logger = logger
		client, err := apiclient.New(apiCfg, storage)
		if err != nil {
			logger.Error("build api client failed", "err", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		nav := &navRecorder{}
		state, err := authstate.New(authstate.Config{
			Client:     client,
			Storage:    storage,
			Sealer:     s.sealer,
			Navigator:  nav,
			Logger:     logger,
			Hydrations: &s.hydrations,
			SessionID:  sid,
		})
		if err != nil {
			logger.Error("build auth state failed", "err", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		sess := &session{
			id:      sid,
			storage: storage,
			client:  client,
			state:   state,
			auth:    guard.NewEnhancedAuth(client, logger),
			nav:     nav,
		}

		snap := state.Hydrate(r.Context(), s.providerSession(w, r))
		ctx := context.WithValue(r.Context(), sessionKey{}, sess)
		ctx = guard.WithSnapshot(ctx, snap)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// sessionID returns the browser session id, issuing a new cookie when the
// request has none or carries a malformed one.
func (s *Server) sessionID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(s.cookieName); err == nil {
		if id, err := uuid.Parse(c.Value); err == nil {
			return id.String()
		}
	}
	sid := uuid.NewString()
	http.SetCookie(w, s.cookie(s.cookieName, sid, int(s.sessionTTL.Seconds())))
	return sid
}

// providerSession verifies the identity-provider cookie. Invalid tokens are
// dropped so they are not re-verified on every request.
func (s *Server) providerSession(w http.ResponseWriter, r *http.Request) *authstate.ProviderSession {
	c, err := r.Cookie(s.providerCookie)
	if err != nil || strings.TrimSpace(c.Value) == "" {
		return nil
	}
	if s.provider == nil {
		return nil
	}
	id, err := s.provider.Verify(c.Value)
	if err != nil {
		util.LoggerFromContext(r.Context()).Warn("provider session rejected", "err", err)
		http.SetCookie(w, s.cookie(s.providerCookie, "", -1))
		return nil
	}
	return &authstate.ProviderSession{Email: id.Email, Name: id.Name}
}

func (s *Server) cookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}

func (s *Server) batch(sess *session) *upload.Batch {
	return s.uploads.Batch(sess.id, upload.Deps{
		Uploader:  sess.client,
		Auth:      sess.auth,
		Navigator: sess.nav,
	})
}
