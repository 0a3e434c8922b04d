// Package metrics holds Prometheus instruments used across tenantdb.  All
// collectors are registered with the global registry, so importing this
// package is enough to expose them on /metrics.
package metrics

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "tenantdb"

var (
	ActiveTenantClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_tenant_clients",
			Help:      "Number of tenant clients currently held by the pool.",
		})

	TenantClientOpenTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tenant_client_open_total",
			Help:      "Cumulative number of tenant connection pools opened.",
		})

	TenantClientOpenErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tenant_client_open_errors_total",
			Help:      "Cumulative number of failed tenant pool opens.",
		})

	TenantClientEvictTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tenant_client_evict_total",
			Help:      "Cumulative number of tenant clients disposed, by reason.",
		}, []string{"reason"})

	AuditWritesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_writes_total",
			Help:      "Audit entries persisted to the master database.",
		})

	AuditWriteFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_write_failures_total",
			Help:      "Audit entries that could not be persisted.",
		})

	AuditDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_dropped_total",
			Help:      "Audit entries dropped because the queue was full or closed.",
		})

	ProvisionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provision_total",
			Help:      "Tenant provisioning attempts, by result.",
		}, []string{"result"})

	ProvisionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provision_duration_seconds",
			Help:      "Wall time of tenant provisioning attempts.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		})

	FleetMigrationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fleet_migrations_total",
			Help:      "Per-tenant schema pushes run by migrate-all, by result.",
		}, []string{"result"})
)

func init() {
	prometheus.MustRegister(
		ActiveTenantClients,
		TenantClientOpenTotal,
		TenantClientOpenErrorsTotal,
		TenantClientEvictTotal,
		AuditWritesTotal,
		AuditWriteFailuresTotal,
		AuditDroppedTotal,
		ProvisionTotal,
		ProvisionDuration,
		FleetMigrationsTotal,
	)
}

// RegisterMasterDB exposes connection-pool stats of the master database.
// Call once per process.
func RegisterMasterDB(db *sql.DB) error {
	return prometheus.Register(collectors.NewDBStatsCollector(db, "master"))
}
