// Package metrics records transform job outcomes as Prometheus metrics.
// One-shot invocations only accumulate in-process; a resident embedding of
// the pipeline can additionally expose the registry over HTTP.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config represents metrics configuration.
type Config struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// Collector tracks transform pipeline metrics.
type Collector struct {
	config   *Config
	registry *prometheus.Registry

	jobsTotal      *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	bytesProcessed *prometheus.CounterVec

	server *http.Server
}

// NewCollector creates a metrics collector. A nil config disables the
// exposition endpoint but still records.
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = &Config{Path: "/metrics"}
	}

	registry := prometheus.NewRegistry()

	collector := &Collector{
		config:   config,
		registry: registry,
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "packfs",
			Name:      "jobs_total",
			Help:      "Transform jobs by action and result status",
		}, []string{"action", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "packfs",
			Name:      "job_duration_seconds",
			Help:      "Transform job duration by action",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"action"}),
		bytesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "packfs",
			Name:      "bytes_processed_total",
			Help:      "Bytes read from and written to the object store",
		}, []string{"action", "direction"}),
	}

	for _, c := range []prometheus.Collector{
		collector.jobsTotal,
		collector.jobDuration,
		collector.bytesProcessed,
	} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}

	return collector, nil
}

// RecordJob records one completed job.
func (c *Collector) RecordJob(action, status string, bytesIn, bytesOut int64, duration time.Duration) {
	c.jobsTotal.WithLabelValues(action, status).Inc()
	c.jobDuration.WithLabelValues(action).Observe(duration.Seconds())
	if bytesIn > 0 {
		c.bytesProcessed.WithLabelValues(action, "in").Add(float64(bytesIn))
	}
	if bytesOut > 0 {
		c.bytesProcessed.WithLabelValues(action, "out").Add(float64(bytesOut))
	}
}

// Registry exposes the underlying registry for tests and embedding.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Serve starts the exposition endpoint when enabled. Blocks until the
// server stops.
func (c *Collector) Serve() error {
	if !c.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))

	c.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", c.config.Port),
		Handler: mux,
	}
	if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the exposition endpoint if running.
func (c *Collector) Shutdown(ctx context.Context) error {
	if c.server == nil {
		return nil
	}
	return c.server.Shutdown(ctx)
}
