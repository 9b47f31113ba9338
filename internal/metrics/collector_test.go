package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCollector_NilConfig(t *testing.T) {
	collector, err := NewCollector(nil)
	require.NoError(t, err)
	require.NotNil(t, collector)

	// Recording works without an exposition endpoint.
	collector.RecordJob("compress", "success", 100, 40, 50*time.Millisecond)
}

func TestRecordJob(t *testing.T) {
	collector, err := NewCollector(&Config{Path: "/metrics"})
	require.NoError(t, err)

	collector.RecordJob("compress", "success", 1000, 400, 10*time.Millisecond)
	collector.RecordJob("compress", "success", 500, 200, 5*time.Millisecond)
	collector.RecordJob("decompress", "failed", 0, 0, time.Millisecond)

	assert.Equal(t, float64(2),
		testutil.ToFloat64(collector.jobsTotal.WithLabelValues("compress", "success")))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(collector.jobsTotal.WithLabelValues("decompress", "failed")))

	assert.Equal(t, float64(1500),
		testutil.ToFloat64(collector.bytesProcessed.WithLabelValues("compress", "in")))
	assert.Equal(t, float64(600),
		testutil.ToFloat64(collector.bytesProcessed.WithLabelValues("compress", "out")))

	// A failed job with no transfer records no byte series.
	assert.Equal(t, float64(0),
		testutil.ToFloat64(collector.bytesProcessed.WithLabelValues("decompress", "in")))
}

func TestServe_Disabled(t *testing.T) {
	collector, err := NewCollector(&Config{Enabled: false, Path: "/metrics"})
	require.NoError(t, err)

	// Disabled exposition returns immediately; Shutdown with no server is
	// a no-op.
	assert.NoError(t, collector.Serve())
	assert.NoError(t, collector.Shutdown(context.Background()))
}

func TestServe_Shutdown(t *testing.T) {
	// Port 0 binds an ephemeral port so the test cannot collide.
	collector, err := NewCollector(&Config{Enabled: true, Port: 0, Path: "/metrics"})
	require.NoError(t, err)

	served := make(chan error, 1)
	go func() {
		served <- collector.Serve()
	}()

	// Let the listener come up, then stop it.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, collector.Shutdown(context.Background()))

	select {
	case err := <-served:
		assert.NoError(t, err, "a shut-down server is a clean exit")
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Shutdown")
	}
}

func TestRegistry_Gather(t *testing.T) {
	collector, err := NewCollector(&Config{Path: "/metrics"})
	require.NoError(t, err)

	collector.RecordJob("compress", "skipped", 0, 0, time.Millisecond)

	families, err := collector.Registry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, family := range families {
		names[family.GetName()] = true
	}
	assert.True(t, names["packfs_jobs_total"])
	assert.True(t, names["packfs_job_duration_seconds"])
}
