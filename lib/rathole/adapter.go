package rathole

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-i2p/logger"
	"github.com/smite-net/smite-node/lib/core"
	"github.com/smite-net/smite-node/lib/supervisor"
)

// Adapter runs one rathole client process per tunnel.
type Adapter struct {
	opts Options

	mu      sync.Mutex
	tunnels map[core.TunnelID]*tunnel
}

// tunnel is the live state for one id. proc is nil while an Apply is in
// flight, which reserves the id against concurrent applies.
type tunnel struct {
	proc   *supervisor.Process
	output *supervisor.TailBuffer
	meter  *supervisor.UsageMeter
}

var (
	_ core.Adapter    = (*Adapter)(nil)
	_ core.Reconciler = (*Adapter)(nil)
)

// New returns an Adapter. The config directory is created lazily on the first
// Apply.
func New(opts Options) *Adapter {
	opts = opts.withDefaults()
	log.WithFields(logger.Fields{
		"at":         "rathole.New",
		"config_dir": opts.ConfigDir,
		"binary":     opts.Binary,
	}).Debug("rathole adapter initialized")
	return &Adapter{
		opts:    opts,
		tunnels: make(map[core.TunnelID]*tunnel),
	}
}

// Name implements core.Adapter.
func (a *Adapter) Name() core.Backend {
	return core.BackendRathole
}

// ConfigDir returns the directory holding rendered configs.
func (a *Adapter) ConfigDir() string {
	return a.opts.ConfigDir
}

// ConfigPath returns where the config for id is written.
func (a *Adapter) ConfigPath(id core.TunnelID) string {
	return filepath.Join(a.opts.ConfigDir, id.String()+".toml")
}

// Apply implements core.Adapter.
func (a *Adapter) Apply(ctx context.Context, id core.TunnelID, spec core.Spec) error {
	if err := id.Validate(); err != nil {
		return err
	}
	cfg, err := parseSpec(spec)
	if err != nil {
		return err
	}

	t, err := a.reserve(id)
	if err != nil {
		return err
	}

	fields := logger.Fields{"at": "rathole.Apply", "tunnel_id": id.String()}
	path := a.ConfigPath(id)
	if err := supervisor.WriteConfig(path, cfg.Render(id)); err != nil {
		a.release(id, t)
		return err
	}

	t.output = supervisor.NewTailBuffer(supervisor.DefaultTailLength)
	proc, err := supervisor.StartFirst(ctx,
		[]string{a.opts.Binary, BinaryName},
		BinaryName,
		supervisor.StartOptions{
			Args:          []string{"-c", path},
			Stdout:        t.output,
			Stderr:        t.output,
			ConfirmWindow: a.opts.ConfirmWindow,
		})
	if err != nil {
		a.release(id, t)
		_ = supervisor.RemoveFile(path, fields)
		if errors.Is(err, supervisor.ErrExited) {
			out := t.output.String()
			log.WithFields(fields).WithField("output", out).Error("rathole exited during startup")
			return core.NewStartupError(core.BackendRathole, id, out)
		}
		return err
	}

	a.mu.Lock()
	t.proc = proc
	a.mu.Unlock()

	log.WithFields(fields).WithFields(logger.Fields{
		"reason":      "started",
		"pid":         proc.PID(),
		"remote_addr": cfg.RemoteAddr,
		"local_addr":  cfg.LocalAddr,
	}).Info("rathole tunnel started")
	return nil
}

// reserve claims id for an Apply. A previous record whose process has died is
// replaced, carrying its usage meter over.
func (a *Adapter) reserve(id core.TunnelID) (*tunnel, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var meter *supervisor.UsageMeter
	if prev, ok := a.tunnels[id]; ok {
		if prev.proc == nil || prev.proc.Alive() {
			return nil, core.NewAlreadyActiveError(core.BackendRathole, id)
		}
		meter = prev.meter
	}
	if meter == nil {
		meter = supervisor.NewUsageMeter(a.opts.IOCounter, a.opts.SampleInterval)
	}
	t := &tunnel{meter: meter}
	a.tunnels[id] = t
	return t, nil
}

// release drops a reservation that never produced a running process.
func (a *Adapter) release(id core.TunnelID, t *tunnel) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.tunnels[id] == t {
		delete(a.tunnels, id)
	}
}

// Remove implements core.Adapter. Every step is best effort: a failed stop
// still sweeps orphans and deletes the config.
func (a *Adapter) Remove(_ context.Context, id core.TunnelID) error {
	fields := logger.Fields{"at": "rathole.Remove", "tunnel_id": id.String()}

	a.mu.Lock()
	t, ok := a.tunnels[id]
	if ok && t.proc == nil {
		a.mu.Unlock()
		return core.NewAlreadyActiveError(core.BackendRathole, id)
	}
	delete(a.tunnels, id)
	a.mu.Unlock()

	exclude := []int{}
	if ok {
		if err := t.proc.Stop(a.opts.StopTimeout); err != nil {
			log.WithError(err).WithFields(fields).WithField("reason", "stop_failed").Warn("failed to stop rathole process")
		}
		exclude = append(exclude, t.proc.PID())
	}

	if err := id.Validate(); err == nil {
		matcher := supervisor.OrphanMatcher{BinaryName: BinaryName, ConfigName: id.String() + ".toml"}
		if killed, err := a.opts.Sweep(matcher, exclude...); err != nil {
			log.WithError(err).WithFields(fields).WithField("reason", "sweep_failed").Warn("orphan sweep failed")
		} else if len(killed) > 0 {
			log.WithFields(fields).WithField("pids", killed).Info("terminated orphaned rathole processes")
		}
		_ = supervisor.RemoveFile(a.ConfigPath(id), fields)
	}

	if ok {
		log.WithFields(fields).WithField("reason", "removed").Info("rathole tunnel removed")
	}
	return nil
}

// Status implements core.Adapter.
func (a *Adapter) Status(id core.TunnelID) core.Status {
	st := core.Status{Backend: core.BackendRathole}
	if id.Validate() != nil {
		return st
	}
	if _, err := os.Stat(a.ConfigPath(id)); err == nil {
		st.ConfigExists = true
	}

	a.mu.Lock()
	t, ok := a.tunnels[id]
	a.mu.Unlock()
	if ok && t.proc != nil {
		st.ProcessRunning = t.proc.Alive()
		if st.ProcessRunning {
			st.PID = t.proc.PID()
		}
		st.UsageMB = t.meter.Value()
	}
	st.Active = st.ConfigExists && st.ProcessRunning
	return st
}

// UsageMB implements core.Adapter.
func (a *Adapter) UsageMB(id core.TunnelID) float64 {
	a.mu.Lock()
	t, ok := a.tunnels[id]
	a.mu.Unlock()
	if !ok {
		return 0
	}
	if t.proc == nil || !t.proc.Alive() {
		return t.meter.Value()
	}
	return t.meter.Observe(t.proc.PID())
}
