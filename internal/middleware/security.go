// internal/middleware/security.go
//
// Response-header middleware for the tenantd JSON API.
//
// Injects headers on every response:
//
//   • Cache-Control            –  health and stats readouts are never cached
//   • X-Content-Type-Options   –  MIME-sniffing defence
//   • X-Frame-Options          –  responses are never framed
//   • Referrer-Policy          –  no Referer leaves the API
//   • Content-Security-Policy  –  nothing to load, so nothing is allowed
//
// Notes
// -----
// • Headers are set before next.ServeHTTP, since handlers call WriteHeader
//   through writeJSON and later additions would be lost.  A handler may still
//   override any of them.
// • tenantd listens on loopback behind a TLS-terminating proxy, so HSTS is
//   left to the proxy.

package middleware

import "net/http"

// Security sets the API security headers for every response.
func Security(next http.Handler) http.Handler {
	const (
		cache = "no-store"
		nosn  = "nosniff"
		xfo   = "DENY"
		refer = "no-referrer"
		csp   = "default-src 'none'; frame-ancestors 'none'"
	)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Cache-Control", cache)
		h.Set("X-Content-Type-Options", nosn)
		h.Set("X-Frame-Options", xfo)
		h.Set("Referrer-Policy", refer)
		h.Set("Content-Security-Policy", csp)

		next.ServeHTTP(w, r)
	})
}
