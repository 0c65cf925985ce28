package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.TenantCacheLookups.WithLabelValues("hit").Inc()
	m.Provisioning.WithLabelValues("committed").Add(2)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "clinichub_tenant_cache_lookups_total")
	assert.Contains(t, names, "clinichub_provisioning_outcomes_total")
	assert.Equal(t, float64(2), testutil.ToFloat64(m.Provisioning.WithLabelValues("committed")))
}

func TestNew_NilRegisterer(t *testing.T) {
	assert.NotPanics(t, func() {
		New(nil)
		New(nil)
	})
}

func TestResult(t *testing.T) {
	assert.Equal(t, "ok", Result(nil))
	assert.Equal(t, "error", Result(errors.New("boom")))
}
