// internal/requestinfo/middleware.go
//
// HTTP middleware that enriches each request with *RequestInfo.
//
/*
Context
--------
This handler sits high in the chain, before authentication.  For every
request it:

  1. Extracts the left-most client IP from X-Forwarded-For or X-Real-IP,
     falling back to `r.RemoteAddr`.
  2. Summarises the User-Agent header as "Browser/OS" (or the product
     token for CLI clients).
  3. Looks up the country when a GeoLite2 database is configured.

The auth middleware later combines this with the token subject into the
audit.Actor that tags every write made while serving the request.

Notes
-----
  • A nil *GeoDB disables the country lookup.
  • Each invocation logs a DEBUG line, so nothing is printed at info.
*/
package requestinfo

import (
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Enrich returns middleware that attaches *RequestInfo and forwards.
func Enrich(geo *GeoDB) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			client, bot := clientSummary(r.UserAgent())

			info := &RequestInfo{
				IP:         ip,
				UserAgent:  r.UserAgent(),
				Client:     client,
				IsBot:      bot,
				CountryISO: geo.Country(ip),
				Timestamp:  time.Now().UTC(),
			}

			zap.S().Debugw("request info",
				"ip", ip,
				"country", info.CountryISO,
				"client", info.Client,
				"bot", info.IsBot,
				"path", r.URL.Path,
			)

			next.ServeHTTP(w, r.WithContext(WithInfo(r.Context(), info)))
		})
	}
}

// clientIP extracts the left-most address from X-Forwarded-For or
// X-Real-IP, falling back to r.RemoteAddr ("ip:port").
func clientIP(r *http.Request) net.IP {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for _, part := range strings.Split(xff, ",") {
			if ip := net.ParseIP(strings.TrimSpace(part)); ip != nil {
				return ip
			}
		}
	}
	if xrip := r.Header.Get("X-Real-Ip"); xrip != "" {
		if ip := net.ParseIP(strings.TrimSpace(xrip)); ip != nil {
			return ip
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return net.ParseIP(host)
	}
	return nil
}
