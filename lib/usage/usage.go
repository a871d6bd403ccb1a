// Package usage periodically reports per-tunnel traffic deltas to a sink.
package usage

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/go-i2p/logger"

	"github.com/smite-net/smite-node/lib/core"
	"github.com/smite-net/smite-node/lib/manager"
)

var log = logger.GetGoI2PLogger()

const (
	DefaultInterval = time.Minute
	bytesPerMB      = 1024 * 1024
)

// Report is one usage delta for one tunnel.
type Report struct {
	TunnelID  core.TunnelID `json:"tunnel_id"`
	NodeID    string        `json:"node_id"`
	Backend   core.Backend  `json:"core"`
	BytesUsed int64         `json:"bytes_used"`
	TotalMB   float64       `json:"total_mb"`
}

// Sink receives reports. A failed push is retried with a larger delta on the
// next tick.
type Sink interface {
	Push(ctx context.Context, r Report) error
}

// Source lists tunnels and their cumulative usage. *manager.Manager is one.
type Source interface {
	Tunnels() []manager.Tunnel
	UsageMB(id core.TunnelID) float64
}

// Gauge mirrors usage into metrics. *metrics.Metrics is one.
type Gauge interface {
	SetUsage(id core.TunnelID, backend core.Backend, mb float64)
	DeleteUsage(id core.TunnelID, backend core.Backend)
}

// Config wires a Reporter. Gauge may be nil.
type Config struct {
	Source   Source
	Sink     Sink
	Gauge    Gauge
	NodeID   string
	Interval time.Duration
}

type reported struct {
	backend    core.Backend
	generation uint64
	mb         float64
}

// Reporter turns cumulative usage into deltas.
type Reporter struct {
	cfg Config

	mu   sync.Mutex
	last map[core.TunnelID]reported
}

// NewReporter returns a Reporter. A zero interval selects DefaultInterval.
func NewReporter(cfg Config) *Reporter {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Reporter{cfg: cfg, last: make(map[core.TunnelID]reported)}
}

// Tick samples every tunnel once and pushes positive deltas.
func (r *Reporter) Tick(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[core.TunnelID]bool)
	var errs []error
	for _, t := range r.cfg.Source.Tunnels() {
		seen[t.ID] = true
		total := r.cfg.Source.UsageMB(t.ID)
		if r.cfg.Gauge != nil {
			r.cfg.Gauge.SetUsage(t.ID, t.Backend, total)
		}

		prev, known := r.last[t.ID]
		if known && (prev.backend != t.Backend || prev.generation != t.Generation) {
			// removed and applied again; its counter starts over
			prev = reported{}
		}
		delta := total - prev.mb
		current := reported{backend: t.Backend, generation: t.Generation, mb: total}
		if delta <= 0 {
			if prev.mb == 0 {
				r.last[t.ID] = current
			}
			continue
		}

		report := Report{
			TunnelID:  t.ID,
			NodeID:    r.cfg.NodeID,
			Backend:   t.Backend,
			BytesUsed: int64(math.Round(delta * bytesPerMB)),
			TotalMB:   total,
		}
		if err := r.cfg.Sink.Push(ctx, report); err != nil {
			log.WithError(err).WithFields(logger.Fields{
				"at":        "usage.Tick",
				"reason":    "push_failed",
				"tunnel_id": t.ID.String(),
			}).Warn("usage push failed, will retry")
			errs = append(errs, err)
			continue
		}
		r.last[t.ID] = current
	}

	for id, prev := range r.last {
		if seen[id] {
			continue
		}
		delete(r.last, id)
		if r.cfg.Gauge != nil {
			r.cfg.Gauge.DeleteUsage(id, prev.backend)
		}
	}
	return errors.Join(errs...)
}

// Run ticks every interval until ctx ends, then returns nil.
func (r *Reporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	log.WithField("interval", r.cfg.Interval.String()).Debug("usage reporter started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			_ = r.Tick(ctx)
		}
	}
}

// LogSink writes reports to the node log.
type LogSink struct{}

func (LogSink) Push(_ context.Context, r Report) error {
	log.WithFields(logger.Fields{
		"at":         "usage.LogSink",
		"tunnel_id":  r.TunnelID.String(),
		"node_id":    r.NodeID,
		"core":       r.Backend.String(),
		"bytes_used": r.BytesUsed,
		"total_mb":   r.TotalMB,
	}).Info("tunnel usage")
	return nil
}
