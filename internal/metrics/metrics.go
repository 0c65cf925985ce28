package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// namespace is the leading part of all published metrics.
const namespace = "clinichub"

// Metrics holds the collectors shared by the auth, cache and provisioning paths.
type Metrics struct {
	// label status = {"hit", "miss", "error"}
	TenantCacheLookups *prometheus.CounterVec
	TenantCacheSwept   prometheus.Counter

	// label state = final provisioning state
	Provisioning         *prometheus.CounterVec
	ProvisioningDuration prometheus.Histogram

	// labels flow = {"login", "refresh", ...}, scope, result
	AuthAttempts *prometheus.CounterVec

	// labels op, result
	SecretStoreCalls *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which tests use to avoid global state.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TenantCacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tenant_cache",
			Name:      "lookups_total",
			Help:      "Tenant resolution lookups by cache status.",
		}, []string{"status"}),
		TenantCacheSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tenant_cache",
			Name:      "swept_total",
			Help:      "Expired tenant cache entries removed by the sweeper.",
		}),
		Provisioning: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provisioning",
			Name:      "outcomes_total",
			Help:      "Tenant provisioning runs by final state.",
		}, []string{"state"}),
		ProvisioningDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "provisioning",
			Name:      "duration_seconds",
			Help:      "Time taken to provision or roll back a tenant.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		AuthAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "attempts_total",
			Help:      "Authentication flows by flow, scope and result.",
		}, []string{"flow", "scope", "result"}),
		SecretStoreCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "secret_store",
			Name:      "calls_total",
			Help:      "Secret store calls by operation and result.",
		}, []string{"op", "result"}),
	}
	if reg != nil {
		reg.MustRegister(m.PrometheusCollectors()...)
	}
	return m
}

// PrometheusCollectors returns every collector owned by m.
func (m *Metrics) PrometheusCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.TenantCacheLookups,
		m.TenantCacheSwept,
		m.Provisioning,
		m.ProvisioningDuration,
		m.AuthAttempts,
		m.SecretStoreCalls,
	}
}

// Result maps an error to the "ok"/"error" label value.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
