// Package telemetry exposes pipeline observability: Prometheus metrics
// for decisions, findings, and stage timing, and OpenTelemetry spans
// per pipeline stage. Both are optional; a nil Metrics or Tracer is a
// no-op so the pipeline never branches on whether observability is on.
package telemetry

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bountyscan/bountyscan/pkg/duration"
)

// Metrics exposes pipeline counters for Prometheus scraping. It runs an
// HTTP server serving metrics at the configured path until Close.
type Metrics struct {
	server   *http.Server
	registry *prometheus.Registry
	opts     MetricsOptions

	decisionsTotal *prometheus.CounterVec
	findingsTotal  *prometheus.CounterVec
	scansTotal     *prometheus.CounterVec
	runsTotal      *prometheus.CounterVec

	stageDurationSeconds *prometheus.HistogramVec

	mu     sync.Mutex
	closed bool
}

// MetricsOptions configures the metrics endpoint.
type MetricsOptions struct {
	// Port for the metrics server (default: 9090).
	Port int

	// Path for the metrics endpoint (default: "/metrics").
	Path string
}

// NewMetrics creates the metric set and starts the scrape endpoint.
func NewMetrics(opts MetricsOptions) (*Metrics, error) {
	if opts.Port == 0 {
		opts.Port = 9090
	}
	if opts.Path == "" {
		opts.Path = "/metrics"
	}

	m := &Metrics{
		// Custom registry; the default one carries process collectors the
		// scrape consumer did not ask for.
		registry: prometheus.NewRegistry(),
		opts:     opts,
	}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}
	m.startServer()
	return m, nil
}

func (m *Metrics) initMetrics() error {
	m.decisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bountyscan_policy_decisions_total",
			Help: "Total policy gate decisions by kind and outcome",
		},
		[]string{"action_kind", "decision"},
	)

	m.findingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bountyscan_findings_total",
			Help: "Total findings produced, by severity and triage outcome",
		},
		[]string{"severity", "triage"},
	)

	m.scansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bountyscan_scans_total",
			Help: "Total per-host scanner invocations by outcome",
		},
		[]string{"scanner", "outcome"},
	)

	m.runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bountyscan_runs_total",
			Help: "Total pipeline runs by terminal status",
		},
		[]string{"status"},
	)

	m.stageDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bountyscan_stage_duration_seconds",
			Help:    "Pipeline stage duration distribution in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		},
		[]string{"stage"},
	)

	collectors := []prometheus.Collector{
		m.decisionsTotal,
		m.findingsTotal,
		m.scansTotal,
		m.runsTotal,
		m.stageDurationSeconds,
	}
	for _, c := range collectors {
		if err := m.registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) startServer() {
	mux := http.NewServeMux()
	mux.Handle(m.opts.Path, promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))

	m.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", m.opts.Port),
		Handler:      mux,
		ReadTimeout:  duration.HTTPProbe,
		WriteTimeout: duration.HTTPCrawl,
	}
	go func() {
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("telemetry: metrics server error: %v", err)
		}
	}()
}

// RecordDecision counts one policy gate decision.
func (m *Metrics) RecordDecision(actionKind, decision string) {
	if m == nil {
		return
	}
	m.decisionsTotal.WithLabelValues(actionKind, decision).Inc()
}

// RecordFinding counts one finding. triage is "kept" or "false_positive".
func (m *Metrics) RecordFinding(severity, triage string) {
	if m == nil {
		return
	}
	m.findingsTotal.WithLabelValues(severity, triage).Inc()
}

// RecordScan counts one scanner invocation outcome.
func (m *Metrics) RecordScan(scanner, outcome string) {
	if m == nil {
		return
	}
	m.scansTotal.WithLabelValues(scanner, outcome).Inc()
}

// RecordRun counts one run reaching a terminal status.
func (m *Metrics) RecordRun(status string) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(status).Inc()
}

// ObserveStage records one stage's wall-clock duration.
func (m *Metrics) ObserveStage(stage string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.stageDurationSeconds.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// Registry exposes the underlying registry, used by tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Addr returns the address where metrics are served.
func (m *Metrics) Addr() string {
	return fmt.Sprintf("http://localhost:%d%s", m.opts.Port, m.opts.Path)
}

// Close shuts down the metrics server.
func (m *Metrics) Close() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	if m.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), duration.HTTPProbe)
		defer cancel()
		return m.server.Shutdown(ctx)
	}
	return nil
}
