// Package metrics exposes daemon counters in Prometheus format.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles Prometheus collectors for the ask daemon.
type Metrics struct {
	registry        *prometheus.Registry
	Requests        *prometheus.CounterVec
	RequestDuration prometheus.Histogram
	Workers         prometheus.Gauge
	Rejected        *prometheus.CounterVec
	Rebinds         prometheus.Counter
}

// New constructs a metrics registry with daemon collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reqs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "askd_requests_total",
		Help: "Completed ask requests by exit code",
	}, []string{"exit_code"})

	dur := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "askd_request_duration_seconds",
		Help:    "Time from request accept to response",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
	})

	workers := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "askd_workers",
		Help: "Session workers currently alive",
	})

	rejected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "askd_rejected_total",
		Help: "Requests rejected before dispatch by reason",
	}, []string{"reason"})

	rebinds := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "askd_rebinds_total",
		Help: "Transcript rebinds after a missing prompt echo",
	})

	reg.MustRegister(reqs, dur, workers, rejected, rebinds)

	return &Metrics{
		registry:        reg,
		Requests:        reqs,
		RequestDuration: dur,
		Workers:         workers,
		Rejected:        rejected,
		Rebinds:         rebinds,
	}
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordRequest records one completed request.
func (m *Metrics) RecordRequest(exitCode int, duration time.Duration) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(strconv.Itoa(exitCode)).Inc()
	m.RequestDuration.Observe(duration.Seconds())
}

// RecordRejected records a request refused before reaching a worker.
func (m *Metrics) RecordRejected(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.Rejected.WithLabelValues(reason).Inc()
}

// RecordRebind records a transcript rebind.
func (m *Metrics) RecordRebind() {
	if m == nil {
		return
	}
	m.Rebinds.Inc()
}

// SetWorkers sets the worker gauge.
func (m *Metrics) SetWorkers(n int) {
	if m == nil {
		return
	}
	m.Workers.Set(float64(n))
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return m.ServeListener(ctx, ln)
}

// ServeListener exposes /metrics on ln until ctx is done.
func (m *Metrics) ServeListener(ctx context.Context, ln net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
