// internal/server/timeouts.go
//
// HTTP server helper with explicit timeouts.
//
//   • ReadTimeout   – abort slow-loris headers
//   • WriteTimeout  – cap total response time; provisioning runs inline,
//                     so the default is generous
//   • IdleTimeout   – close keep-alives on idle clients (60 s)
//

package server

import (
	"net/http"
	"time"

	"github.com/yanizio/tenantdb/internal/config"
)

// NewHTTPServer constructs an *http.Server from the http config block.
func NewHTTPServer(c config.HTTP, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              c.ListenAddr,
		Handler:           handler,
		ReadTimeout:       c.ReadTimeout,
		ReadHeaderTimeout: c.ReadTimeout,
		WriteTimeout:      c.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}
}
