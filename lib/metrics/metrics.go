// Package metrics exposes tunnel counts, usage and operation outcomes to
// Prometheus. A nil *Metrics is valid and records nothing.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-i2p/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/smite-net/smite-node/lib/core"
)

var log = logger.GetGoI2PLogger()

const shutdownTimeout = 5 * time.Second

// Operation results that are not error codes.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Metrics owns a private registry so several instances can coexist in tests.
type Metrics struct {
	registry *prometheus.Registry

	activeTunnels *prometheus.GaugeVec
	usage         *prometheus.GaugeVec
	operations    *prometheus.CounterVec

	mu     sync.Mutex
	server *http.Server
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.activeTunnels = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "smite_tunnels_active",
			Help: "Tunnels currently owned by the node",
		},
		[]string{"backend"},
	)
	m.usage = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "smite_tunnel_usage_megabytes",
			Help: "Cumulative traffic per tunnel in megabytes",
		},
		[]string{"tunnel_id", "backend"},
	)
	m.operations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smite_tunnel_operations_total",
			Help: "Apply and remove operations by outcome",
		},
		[]string{"op", "backend", "result"},
	)

	m.registry.MustRegister(m.activeTunnels, m.usage, m.operations)
	for _, b := range core.Backends() {
		m.activeTunnels.WithLabelValues(b.String()).Set(0)
	}
	return m
}

// Registry returns the registry the collectors live in.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// OperationCompleted counts one apply, remove or reconcile. Failures are
// labelled with their error code when they carry one.
func (m *Metrics) OperationCompleted(op string, backend core.Backend, err error) {
	if m == nil {
		return
	}
	result := ResultOK
	if err != nil {
		result = core.ErrorCode(err)
		if result == "" {
			result = ResultError
		}
	}
	m.operations.WithLabelValues(op, backend.String(), result).Inc()
}

// SetActiveTunnels publishes owned tunnel counts. Backends missing from
// counts are reported as zero.
func (m *Metrics) SetActiveTunnels(counts map[core.Backend]int) {
	if m == nil {
		return
	}
	for _, b := range core.Backends() {
		m.activeTunnels.WithLabelValues(b.String()).Set(float64(counts[b]))
	}
}

// SetUsage publishes the cumulative usage of one tunnel.
func (m *Metrics) SetUsage(id core.TunnelID, backend core.Backend, mb float64) {
	if m == nil {
		return
	}
	m.usage.WithLabelValues(id.String(), backend.String()).Set(mb)
}

// DeleteUsage drops the usage series of a removed tunnel.
func (m *Metrics) DeleteUsage(id core.TunnelID, backend core.Backend) {
	if m == nil {
		return
	}
	m.usage.DeleteLabelValues(id.String(), backend.String())
}

// Start binds addr and serves the registry on path in the background. The
// bind happens synchronously so a busy port is reported to the caller.
func (m *Metrics) Start(addr, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.server != nil {
		return errors.New("metrics server already started")
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())
	m.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func(srv *http.Server) {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).WithField("addr", addr).Error("metrics server stopped")
		}
	}(m.server)

	log.WithFields(logger.Fields{
		"at":   "metrics.Start",
		"addr": ln.Addr().String(),
		"path": path,
	}).Info("metrics server started")
	return nil
}

// Close shuts the HTTP server down. It is a no-op if Start was never called.
func (m *Metrics) Close() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	srv := m.server
	m.server = nil
	m.mu.Unlock()
	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(ctx)
}
