package metric

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndUnregister(t *testing.T) {
	r := NewRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_counter_total",
		Help: "test",
	})
	require.NoError(t, r.RegisterCounter("search", "test_counter_total", counter))

	// Same component+name must be rejected
	dup := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "other_counter_total",
		Help: "test",
	})
	err := r.RegisterCounter("search", "test_counter_total", dup)
	assert.Error(t, err)

	assert.True(t, r.Unregister("search", "test_counter_total"))
	assert.False(t, r.Unregister("search", "test_counter_total"))
}

func TestRegistry_CoreMetricsUsable(t *testing.T) {
	r := NewRegistry()
	core := r.CoreMetrics()
	require.NotNil(t, core)

	// Recording must not panic and must show up in a gather
	core.RecordRequest("search", "query", "ok")
	core.RecordResolutionError("search", "no_matching_version")
	core.RecordMergeConflict()

	families, err := r.PrometheusRegistry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, fam := range families {
		names[fam.GetName()] = true
	}
	assert.True(t, names["servicekit_dispatch_requests_total"])
	assert.True(t, names["servicekit_schema_resolution_errors_total"])
	assert.True(t, names["servicekit_transport_merge_conflicts_total"])
}

func TestNewServer_Defaults(t *testing.T) {
	s := NewServer(0, "", NewRegistry())
	assert.Equal(t, "http://localhost:9090/metrics", s.Address())
}
