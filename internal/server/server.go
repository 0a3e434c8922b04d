// internal/server/server.go
//
// tenantd HTTP surface.
//
// Context
// -------
// Read-only status routes are open; operator routes require a bearer token.
//
//	GET  /health/master          master ping
//	GET  /health/tenants/{id}    tenant ping through the pool
//	GET  /stats/pool             {"activeClients", "maxClients"}
//	GET  /metrics                Prometheus
//	POST /tenants/{id}/provision run provisioning for one tenant
//	POST /tenants/migrate-all    re-push the schema to every ACTIVE tenant
//
// Notes
// -----
//   - Concurrent provision requests for one tenant share a single run through
//     a singleflight.Group keyed by tenant id.  The run is detached from the
//     request context so one disconnecting caller does not abort it for the
//     others; actor values are kept.
//   - When no Verifier is configured the operator routes are not mounted.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/yanizio/tenantdb/internal/auth"
	"github.com/yanizio/tenantdb/internal/fleet"
	"github.com/yanizio/tenantdb/internal/health"
	apimw "github.com/yanizio/tenantdb/internal/middleware"
	"github.com/yanizio/tenantdb/internal/requestinfo"
	"github.com/yanizio/tenantdb/internal/tenant"
	"github.com/yanizio/tenantdb/internal/tenant/meta"
)

// Health is the readout surface.  *health.Checker satisfies it.
type Health interface {
	Master(ctx context.Context) health.Status
	Tenant(ctx context.Context, tenantID string) health.Status
	PoolStats() tenant.Stats
}

// Provisioner runs provisioning.  *provision.Service satisfies it.
type Provisioner interface {
	ProvisionTenantDatabase(ctx context.Context, tenantID string) error
}

// Migrator runs migrate-all.  *fleet.Ops satisfies it.
type Migrator interface {
	MigrateAllTenants(ctx context.Context) (fleet.Report, error)
}

// Deps wires the router.
type Deps struct {
	Health      Health
	Provisioner Provisioner
	Migrator    Migrator
	Verifier    *auth.Verifier     // nil leaves operator routes unmounted
	Geo         *requestinfo.GeoDB // nil disables country lookup
	Logger      *zap.SugaredLogger
}

// Server holds the router and its collaborators.
type Server struct {
	router chi.Router
	deps   Deps
	log    *zap.SugaredLogger
	sfg    singleflight.Group
}

// New builds the router.
func New(d Deps) *Server {
	log := d.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Server{router: chi.NewRouter(), deps: d, log: log}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(apimw.Security)
	s.router.Use(requestinfo.Enrich(s.deps.Geo))
	s.router.Use(s.requestLogger)
}

func (s *Server) setupRoutes() {
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Get("/health/master", s.handleMasterHealth)
	s.router.Get("/health/tenants/{id}", s.handleTenantHealth)
	s.router.Get("/stats/pool", s.handlePoolStats)

	if s.deps.Verifier == nil {
		s.log.Warnw("auth.jwt_secret not set, operator routes disabled")
		return
	}
	s.router.Group(func(r chi.Router) {
		r.Use(auth.Middleware(s.deps.Verifier))
		r.Post("/tenants/migrate-all", s.handleMigrateAll)
		r.Post("/tenants/{id}/provision", s.handleProvision)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debugw("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"took", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func statusCode(st health.Status) int {
	if st.Success {
		return http.StatusOK
	}
	return http.StatusServiceUnavailable
}

func (s *Server) handleMasterHealth(w http.ResponseWriter, r *http.Request) {
	st := s.deps.Health.Master(r.Context())
	writeJSON(w, statusCode(st), st)
}

func (s *Server) handleTenantHealth(w http.ResponseWriter, r *http.Request) {
	st := s.deps.Health.Tenant(r.Context(), chi.URLParam(r, "id"))
	writeJSON(w, statusCode(st), st)
}

func (s *Server) handlePoolStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Health.PoolStats())
}

func (s *Server) handleProvision(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := context.WithoutCancel(r.Context())

	_, err, shared := s.sfg.Do(id, func() (any, error) {
		return nil, s.deps.Provisioner.ProvisionTenantDatabase(ctx, id)
	})
	if shared {
		s.log.Infow("provision request joined a running job", "tenant", id)
	}

	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, health.Status{Success: true, Message: "tenant " + id + " provisioned"})
	case errors.Is(err, meta.ErrTenantNotFound):
		writeJSON(w, http.StatusNotFound, health.Status{Message: "tenant not found"})
	default:
		writeJSON(w, http.StatusInternalServerError, health.Status{Message: err.Error()})
	}
}

// migrateResult is one line of the migrate-all response.
type migrateResult struct {
	TenantID string `json:"tenantId"`
	Slug     string `json:"slug"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
	TookMS   int64  `json:"tookMs"`
}

func (s *Server) handleMigrateAll(w http.ResponseWriter, r *http.Request) {
	rep, err := s.deps.Migrator.MigrateAllTenants(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, health.Status{Message: err.Error()})
		return
	}

	out := struct {
		Succeeded int             `json:"succeeded"`
		Failed    int             `json:"failed"`
		Results   []migrateResult `json:"results"`
	}{Results: make([]migrateResult, 0, len(rep.Results))}

	for _, res := range rep.Results {
		mr := migrateResult{
			TenantID: res.TenantID,
			Slug:     res.Slug,
			Success:  res.OK(),
			TookMS:   res.Took.Milliseconds(),
		}
		if res.Err != nil {
			mr.Error = res.Err.Error()
		}
		out.Results = append(out.Results, mr)
	}
	out.Succeeded = rep.Succeeded()
	out.Failed = len(rep.Results) - out.Succeeded

	code := http.StatusOK
	if out.Failed > 0 {
		code = http.StatusMultiStatus
	}
	writeJSON(w, code, out)
}
