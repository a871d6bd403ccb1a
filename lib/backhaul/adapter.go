package backhaul

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-i2p/logger"
	"github.com/smite-net/smite-node/lib/core"
	"github.com/smite-net/smite-node/lib/supervisor"
)

// Adapter runs one backhaul client per tunnel.
type Adapter struct {
	opts Options

	mu      sync.Mutex
	tunnels map[core.TunnelID]*tunnel
}

type tunnel struct {
	proc    *supervisor.Process // nil while Apply is in flight
	logFile *os.File
	meter   *supervisor.UsageMeter
}

var (
	_ core.Adapter    = (*Adapter)(nil)
	_ core.Reconciler = (*Adapter)(nil)
)

// New returns an Adapter.
func New(opts Options) *Adapter {
	opts = opts.withDefaults()
	log.WithFields(logger.Fields{
		"at":         "backhaul.New",
		"config_dir": opts.ConfigDir,
		"binary":     opts.Binary,
	}).Debug("backhaul adapter initialized")
	return &Adapter{opts: opts, tunnels: make(map[core.TunnelID]*tunnel)}
}

func (a *Adapter) Name() core.Backend {
	return core.BackendBackhaul
}

func (a *Adapter) ConfigDir() string {
	return a.opts.ConfigDir
}

func (a *Adapter) ConfigPath(id core.TunnelID) string {
	return filepath.Join(a.opts.ConfigDir, id.String()+".toml")
}

func (a *Adapter) LogPath(id core.TunnelID) string {
	return filepath.Join(a.opts.ConfigDir, "backhaul_"+id.String()+".log")
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
	rendered := cfg.Render()

	t, err := a.reserve(id)
	if err != nil {
		return err
	}
	fields := logger.Fields{"at": "backhaul.Apply", "tunnel_id": id.String()}

	configPath := a.ConfigPath(id)
	if err := supervisor.WriteConfig(configPath, rendered); err != nil {
		a.release(id, t)
		return err
	}
	fail := func(err error) error {
		a.release(id, t)
		_ = supervisor.RemoveFile(configPath, fields)
		return err
	}

	binary, err := supervisor.ResolveBinary([]string{a.opts.Binary}, BinaryName)
	if err != nil {
		return fail(err)
	}

	logPath := a.LogPath(id)
	logFile, runStart, err := openLog(logPath, id, rendered)
	if err != nil {
		return fail(err)
	}

	proc, err := supervisor.Start(ctx, supervisor.StartOptions{
		Binary:        binary,
		Args:          []string{"-c", configPath},
		Stdout:        logFile,
		Stderr:        logFile,
		ConfirmWindow: a.opts.ConfirmWindow,
	})
	if err != nil {
		logFile.Close()
		if errors.Is(err, supervisor.ErrExited) {
			tail, tailErr := supervisor.TailFileSince(logPath, runStart, supervisor.DefaultTailLength)
			if tailErr != nil {
				log.WithError(tailErr).WithFields(fields).Debug("could not read backhaul log tail")
			}
			log.WithFields(fields).WithFields(logger.Fields{
				"reason": "exited_during_startup",
				"log":    logPath,
			}).Error("backhaul exited during startup")
			return fail(core.NewStartupError(core.BackendBackhaul, id, tail))
		}
		return fail(fmt.Errorf("failed to launch %s: %w", binary, err))
	}

	a.mu.Lock()
	t.proc = proc
	t.logFile = logFile
	a.mu.Unlock()

	log.WithFields(fields).WithFields(logger.Fields{
		"reason":      "started",
		"pid":         proc.PID(),
		"binary":      binary,
		"transport":   cfg.transport,
		"remote_addr": cfg.get("remote_addr"),
	}).Info("backhaul tunnel started")
	return nil
}

// openLog opens the tunnel log for appending and writes the startup banner
// followed by the rendered config. Output of earlier runs is kept. The
// returned offset is where this run's banner starts.
func openLog(path string, id core.TunnelID, rendered []byte) (*os.File, int64, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open backhaul log %q: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("failed to stat backhaul log %q: %w", path, err)
	}
	if _, err := fmt.Fprintf(f, "Starting Backhaul client for tunnel %s\n%s", id, rendered); err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("failed to write backhaul log %q: %w", path, err)
	}
	return f, info.Size(), nil
}

func (a *Adapter) reserve(id core.TunnelID) (*tunnel, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var meter *supervisor.UsageMeter
	if prev, ok := a.tunnels[id]; ok {
		if prev.proc == nil || prev.proc.Alive() {
			return nil, core.NewAlreadyActiveError(core.BackendBackhaul, id)
		}
		if prev.logFile != nil {
			prev.logFile.Close()
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

func (a *Adapter) release(id core.TunnelID, t *tunnel) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.tunnels[id] == t {
		delete(a.tunnels, id)
	}
}

// Remove implements core.Adapter.
func (a *Adapter) Remove(_ context.Context, id core.TunnelID) error {
	fields := logger.Fields{"at": "backhaul.Remove", "tunnel_id": id.String()}

	a.mu.Lock()
	t, ok := a.tunnels[id]
	if ok && t.proc == nil {
		a.mu.Unlock()
		return core.NewAlreadyActiveError(core.BackendBackhaul, id)
	}
	delete(a.tunnels, id)
	a.mu.Unlock()

	var exclude []int
	if ok {
		if err := t.proc.Stop(a.opts.StopTimeout); err != nil {
			log.WithError(err).WithFields(fields).WithField("reason", "stop_failed").Warn("failed to stop backhaul process")
		}
		exclude = append(exclude, t.proc.PID())
		if err := t.logFile.Close(); err != nil {
			log.WithError(err).WithFields(fields).Debug("failed to close backhaul log")
		}
	}

	if id.Validate() != nil {
		return nil
	}
	matcher := supervisor.OrphanMatcher{BinaryName: BinaryName, ConfigName: id.String() + ".toml"}
	if killed, err := a.opts.Sweep(matcher, exclude...); err != nil {
		log.WithError(err).WithFields(fields).WithField("reason", "sweep_failed").Warn("orphan sweep failed")
	} else if len(killed) > 0 {
		log.WithFields(fields).WithField("pids", killed).Info("terminated orphaned backhaul processes")
	}
	_ = supervisor.RemoveFile(a.ConfigPath(id), fields)

	if ok {
		log.WithFields(fields).WithField("reason", "removed").Info("backhaul tunnel removed")
	}
	return nil
}

// Status implements core.Adapter.
func (a *Adapter) Status(id core.TunnelID) core.Status {
	st := core.Status{Backend: core.BackendBackhaul}
	if id.Validate() != nil {
		return st
	}
	_, err := os.Stat(a.ConfigPath(id))
	st.ConfigExists = err == nil

	a.mu.Lock()
	t, ok := a.tunnels[id]
	a.mu.Unlock()
	if ok && t.proc != nil {
		if t.proc.Alive() {
			st.ProcessRunning = true
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
	switch {
	case !ok:
		return 0
	case t.proc == nil || !t.proc.Alive():
		return t.meter.Value()
	}
	return t.meter.Observe(t.proc.PID())
}
