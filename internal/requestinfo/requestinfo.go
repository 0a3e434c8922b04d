//
//  internal/requestinfo/requestinfo.go
//
//  Per-request metadata used to attribute audited writes: client IP,
//  user-agent summary, and best-effort country.  The structs are inert and
//  safe to log.
//
//  Dependencies
//  • github.com/avct/uasurfer          (UA parsing)
//  • github.com/oschwald/geoip2-golang (MaxMind lookup)
//

package requestinfo

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/avct/uasurfer"
	"github.com/oschwald/geoip2-golang"

	"github.com/yanizio/tenantdb/internal/audit"
)

// RequestInfo is attached to the request context by Enrich.
type RequestInfo struct {
	IP         net.IP
	UserAgent  string // raw header
	Client     string // "Firefox/macOS", "curl", ...
	IsBot      bool
	CountryISO string // empty when unknown
	Timestamp  time.Time
}

// Actor turns the request metadata into an audit actor for actorID.
func (ri *RequestInfo) Actor(actorID, tenantID string) audit.Actor {
	a := audit.Actor{ID: actorID, TenantID: tenantID}
	if ri == nil {
		return a
	}
	if ri.IP != nil {
		a.IP = ri.IP.String()
	}
	a.UserAgent = ri.UserAgent
	a.Client = ri.Client
	a.Country = ri.CountryISO
	return a
}

//
//  GeoLite2
//

// GeoDB wraps a MaxMind reader.  It is safe for concurrent reads.
type GeoDB struct {
	r *geoip2.Reader
}

// OpenGeo opens a GeoLite2 Country or City database.
func OpenGeo(path string) (*GeoDB, error) {
	r, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open GeoLite2 db: %w", err)
	}
	return &GeoDB{r: r}, nil
}

// Close releases the database.
func (g *GeoDB) Close() error {
	if g == nil {
		return nil
	}
	return g.r.Close()
}

// Country returns the ISO code for ip, or "".
func (g *GeoDB) Country(ip net.IP) string {
	if g == nil || ip == nil {
		return ""
	}
	rec, err := g.r.Country(ip)
	if err != nil {
		return ""
	}
	return rec.Country.IsoCode
}

//
//  Context helpers
//

type ctxKey struct{}

// WithInfo stores ri in ctx.
func WithInfo(ctx context.Context, ri *RequestInfo) context.Context {
	return context.WithValue(ctx, ctxKey{}, ri)
}

// FromContext returns the pointer stored by Enrich, or nil.
func FromContext(ctx context.Context) *RequestInfo {
	v, _ := ctx.Value(ctxKey{}).(*RequestInfo)
	return v
}

//
//  UA summary
//

// clientSummary reduces a User-Agent header to "Browser/OS".  Unknown
// browsers fall back to the product token, which names CLI tools.
func clientSummary(header string) (string, bool) {
	if header == "" {
		return "", false
	}
	u := uasurfer.Parse(header)

	browser := strings.TrimPrefix(u.Browser.Name.String(), "Browser")
	osName := strings.TrimPrefix(u.OS.Name.String(), "OS")
	if osName == "MacOSX" {
		osName = "macOS"
	}

	if browser == "Unknown" || browser == "" {
		product := header
		if i := strings.IndexAny(product, "/ "); i > 0 {
			product = product[:i]
		}
		return product, u.IsBot()
	}
	if osName == "Unknown" || osName == "" {
		return browser, u.IsBot()
	}
	return browser + "/" + osName, u.IsBot()
}
