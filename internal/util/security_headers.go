package util

import (
	"net/http"
	"strings"
)

// WithSecurityHeaders adds browser-facing security response headers. Images are
// allowed from self, blob previews and the configured photo origins.
func WithSecurityHeaders(imageOrigins []string, next http.Handler) http.Handler {
	imgSrc := "'self' data: blob:"
	for _, o := range imageOrigins {
		if o = strings.TrimSpace(o); o != "" {
			imgSrc += " " + o
		}
	}
	csp := "default-src 'self'; img-src " + imgSrc + "; frame-ancestors 'none'; base-uri 'self'; form-action 'self'"
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Permissions-Policy", "geolocation=(), camera=(), microphone=()")
		w.Header().Set("Content-Security-Policy", csp)

		// HSTS only over HTTPS, direct or forwarded.
		if r.TLS != nil || strings.EqualFold(strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")), "https") {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}
