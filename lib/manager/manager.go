package manager

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/smite-net/smite-node/lib/core"
)

const (
	DefaultWorkers          = 4
	DefaultOperationTimeout = 30 * time.Second
)

// Operation names reported to the Observer.
const (
	OpApply     = "apply"
	OpRemove    = "remove"
	OpReconcile = "reconcile"
)

// Observer is notified of completed operations and ownership changes.
type Observer interface {
	OperationCompleted(op string, backend core.Backend, err error)
	SetActiveTunnels(counts map[core.Backend]int)
}

type nopObserver struct{}

func (nopObserver) OperationCompleted(string, core.Backend, error) {}
func (nopObserver) SetActiveTunnels(map[core.Backend]int)          {}

// Config tunes a Manager. Zero values select the defaults.
type Config struct {
	// Workers bounds adapter operations running at once.
	Workers int
	// OperationTimeout bounds one adapter call once it has a worker.
	OperationTimeout time.Duration
	Observer         Observer
}

// Tunnel is one entry of the ownership map.
type Tunnel struct {
	ID      core.TunnelID `json:"tunnel_id"`
	Backend core.Backend  `json:"core"`
	// Generation changes whenever ID is applied after having been removed,
	// which is when its usage starts over from zero.
	Generation uint64 `json:"generation"`
}

// Manager dispatches tunnel operations to adapters.
//
// Design decisions:
// - The adapter registry is fixed at construction
// - Ownership is recorded only after the adapter reports success
// - Removal drops ownership even when the adapter fails, so a broken tunnel
//   never blocks re-provisioning
// - Callers may stop waiting on ctx; the adapter call still runs to completion
//   and its outcome is recorded
type Manager struct {
	adapters map[core.Backend]core.Adapter
	order    []core.Backend

	workers  int
	timeout  time.Duration
	sem      *semaphore.Weighted
	locks    *keyedMutex
	observer Observer

	mu     sync.RWMutex
	owners map[core.TunnelID]core.Backend
	gens   map[core.TunnelID]uint64
	gen    uint64
	usage  map[core.TunnelID]float64
}

// New builds a Manager over adapters. Registering two adapters for the same
// backend is an error.
func New(cfg Config, adapters ...core.Adapter) (*Manager, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = DefaultOperationTimeout
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}

	m := &Manager{
		adapters: make(map[core.Backend]core.Adapter, len(adapters)),
		workers:  cfg.Workers,
		timeout:  cfg.OperationTimeout,
		sem:      semaphore.NewWeighted(int64(cfg.Workers)),
		locks:    newKeyedMutex(),
		observer: cfg.Observer,
		owners:   make(map[core.TunnelID]core.Backend),
		gens:     make(map[core.TunnelID]uint64),
		usage:    make(map[core.TunnelID]float64),
	}
	for _, a := range adapters {
		name := a.Name()
		if _, dup := m.adapters[name]; dup {
			return nil, oops.
				In("manager").
				With("backend", name.String()).
				Errorf("adapter for %s registered twice", name)
		}
		m.adapters[name] = a
		m.order = append(m.order, name)
	}

	log.WithFields(logger.Fields{
		"at":       "manager.New",
		"adapters": m.order,
		"workers":  cfg.Workers,
	}).Debug("adapter manager initialized")
	m.observer.SetActiveTunnels(nil)
	return m, nil
}

// Adapter returns the adapter registered for backend.
func (m *Manager) Adapter(backend core.Backend) (core.Adapter, bool) {
	a, ok := m.adapters[backend]
	return a, ok
}

func (m *Manager) resolve(name string) (core.Backend, core.Adapter, error) {
	backend, err := core.ParseBackend(name)
	if err != nil {
		return "", nil, err
	}
	a, ok := m.adapters[backend]
	if !ok {
		return "", nil, oops.
			Code(core.CodeUnknownBackend).
			In("manager").
			With("backend", name).
			Wrapf(core.ErrUnknownBackend, "tunnel core %q is not registered", backend)
	}
	return backend, a, nil
}

// ApplyTunnel provisions id on the adapter named by backend and records
// ownership on success. Applying an id owned by a different backend fails
// with core.ErrAlreadyActive.
func (m *Manager) ApplyTunnel(ctx context.Context, id core.TunnelID, backend string, spec core.Spec) error {
	b, adapter, err := m.resolve(backend)
	if err != nil {
		log.WithFields(logger.Fields{
			"at":        "manager.ApplyTunnel",
			"reason":    "unknown_backend",
			"tunnel_id": id.String(),
			"backend":   backend,
		}).Warn("rejected tunnel for unknown core")
		return err
	}
	if err := id.Validate(); err != nil {
		return err
	}
	return m.do(ctx, id, func(ctx context.Context) error {
		err := m.apply(ctx, b, adapter, id, spec)
		m.observer.OperationCompleted(OpApply, b, err)
		return err
	})
}

// apply runs under the id lock.
func (m *Manager) apply(ctx context.Context, b core.Backend, adapter core.Adapter, id core.TunnelID, spec core.Spec) error {
	fields := logger.Fields{"at": "manager.apply", "tunnel_id": id.String(), "backend": b.String()}
	if owner, ok := m.owner(id); ok && owner != b {
		log.WithFields(fields).WithField("owner", owner.String()).Warn("tunnel owned by another core")
		return core.NewAlreadyActiveError(owner, id)
	}
	if err := adapter.Apply(ctx, id, spec); err != nil {
		log.WithError(err).WithFields(fields).WithField("code", core.ErrorCode(err)).Error("apply failed")
		return err
	}

	m.mu.Lock()
	if _, owned := m.owners[id]; !owned {
		m.gen++
		m.gens[id] = m.gen
	}
	m.owners[id] = b
	if _, ok := m.usage[id]; !ok {
		m.usage[id] = 0
	}
	m.mu.Unlock()
	m.publishCounts()

	log.WithFields(fields).WithField("reason", "applied").Info("tunnel applied")
	return nil
}

// RemoveTunnel tears down id on its owning adapter. Ownership is dropped even
// when the adapter reports an error. Unknown ids are a no-op.
func (m *Manager) RemoveTunnel(ctx context.Context, id core.TunnelID) error {
	if _, ok := m.owner(id); !ok {
		return nil
	}
	return m.do(ctx, id, func(ctx context.Context) error {
		b, ok := m.owner(id)
		if !ok {
			return nil
		}
		err := m.adapters[b].Remove(ctx, id)
		m.forget(id)
		m.observer.OperationCompleted(OpRemove, b, err)
		if err != nil {
			log.WithError(err).WithFields(logger.Fields{
				"at":        "manager.RemoveTunnel",
				"reason":    "adapter_remove_failed",
				"tunnel_id": id.String(),
				"backend":   b.String(),
			}).Warn("adapter failed to remove tunnel, ownership dropped anyway")
		}
		return err
	})
}

func (m *Manager) forget(id core.TunnelID) {
	m.mu.Lock()
	delete(m.owners, id)
	delete(m.gens, id)
	delete(m.usage, id)
	m.mu.Unlock()
	m.publishCounts()
}

// Status reports the owning adapter's view of id, or an inactive status.
func (m *Manager) Status(id core.TunnelID) core.Status {
	b, ok := m.owner(id)
	if !ok {
		return core.Inactive()
	}
	return m.adapters[b].Status(id)
}

// UsageMB returns the cumulative usage of id, 0 for unknown ids.
func (m *Manager) UsageMB(id core.TunnelID) float64 {
	b, ok := m.owner(id)
	if !ok {
		return 0
	}
	v := m.adapters[b].UsageMB(id)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, owned := m.owners[id]; !owned {
		return v
	}
	if v < m.usage[id] {
		v = m.usage[id]
	}
	m.usage[id] = v
	return v
}

// Tunnels returns the owned tunnels sorted by id.
func (m *Manager) Tunnels() []Tunnel {
	m.mu.RLock()
	out := make([]Tunnel, 0, len(m.owners))
	for id, b := range m.owners {
		out = append(out, Tunnel{ID: id, Backend: b, Generation: m.gens[id]})
	}
	m.mu.RUnlock()
	slices.SortFunc(out, func(a, b Tunnel) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

// Cleanup removes every owned tunnel concurrently. The ownership map is empty
// afterwards whatever the adapters report; the joined errors are for logging.
func (m *Manager) Cleanup(ctx context.Context) error {
	tunnels := m.Tunnels()
	log.WithFields(logger.Fields{
		"at":      "manager.Cleanup",
		"tunnels": len(tunnels),
	}).Info("removing all tunnels")

	var (
		mu   sync.Mutex
		errs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.workers)
	for _, t := range tunnels {
		g.Go(func() error {
			if err := m.RemoveTunnel(gctx, t.ID); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	m.mu.Lock()
	clear(m.owners)
	clear(m.gens)
	clear(m.usage)
	m.mu.Unlock()
	m.publishCounts()
	return errors.Join(errs...)
}

// Reconcile re-adopts tunnels whose configs a previous process left behind.
// For every adapter that implements core.Reconciler, each persisted tunnel not
// already owned is removed (terminating leftover processes and deleting its
// config) and applied again from the decoded spec. It returns the ids adopted;
// failures are joined into the error and their configs are gone.
func (m *Manager) Reconcile(ctx context.Context) ([]core.TunnelID, error) {
	var (
		adopted []core.TunnelID
		errs    []error
	)
	for _, b := range m.order {
		r, ok := m.adapters[b].(core.Reconciler)
		if !ok {
			continue
		}
		persisted, err := r.Persisted()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		ids := make([]core.TunnelID, 0, len(persisted))
		for id := range persisted {
			ids = append(ids, id)
		}
		slices.Sort(ids)

		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return adopted, errors.Join(append(errs, err)...)
			}
			if _, owned := m.owner(id); owned {
				continue
			}
			err := m.do(ctx, id, func(ctx context.Context) error {
				err := m.readopt(ctx, b, r, id, persisted[id])
				m.observer.OperationCompleted(OpReconcile, b, err)
				return err
			})
			if err != nil {
				errs = append(errs, err)
				continue
			}
			adopted = append(adopted, id)
		}
	}
	log.WithFields(logger.Fields{
		"at":      "manager.Reconcile",
		"adopted": len(adopted),
		"failed":  len(errs),
	}).Info("reconciled persisted tunnels")
	return adopted, errors.Join(errs...)
}

func (m *Manager) readopt(ctx context.Context, b core.Backend, r core.Reconciler, id core.TunnelID, spec core.Spec) error {
	if _, owned := m.owner(id); owned {
		return nil
	}
	if err := r.Remove(ctx, id); err != nil {
		log.WithError(err).WithField("tunnel_id", id.String()).Warn("failed to clear leftover tunnel before re-adopting")
	}
	if err := m.apply(ctx, b, r, id, spec); err != nil {
		_ = r.Remove(ctx, id)
		return oops.
			In("manager").
			With("tunnel_id", id.String(), "backend", b.String()).
			Wrapf(err, "re-adopt %s", id)
	}
	return nil
}

func (m *Manager) owner(id core.TunnelID) (core.Backend, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.owners[id]
	return b, ok
}

func (m *Manager) publishCounts() {
	m.mu.RLock()
	counts := make(map[core.Backend]int, len(m.order))
	for _, b := range m.owners {
		counts[b]++
	}
	m.mu.RUnlock()
	m.observer.SetActiveTunnels(counts)
}

// do runs fn holding the lock for id and a worker slot. If ctx ends first the
// caller gets ctx's error while fn keeps running under its own deadline.
func (m *Manager) do(ctx context.Context, id core.TunnelID, fn func(context.Context) error) error {
	key := id.String()
	if err := m.locks.Lock(ctx, key); err != nil {
		return err
	}
	if err := m.sem.Acquire(ctx, 1); err != nil {
		m.locks.Unlock(key)
		return err
	}

	done := make(chan error, 1)
	go func() {
		defer m.locks.Unlock(key)
		defer m.sem.Release(1)
		workCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
		defer cancel()
		done <- fn(workCtx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		log.WithFields(logger.Fields{
			"at":        "manager.do",
			"reason":    "caller_gone",
			"tunnel_id": key,
		}).Warn("caller stopped waiting, operation continues in background")
		return ctx.Err()
	}
}
