package manager

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/smite-net/smite-node/lib/core"
)

// fakeAdapter records calls and keeps tunnels in memory.
type fakeAdapter struct {
	name core.Backend

	mu        sync.Mutex
	running   map[core.TunnelID]core.Spec
	usage     map[core.TunnelID]float64
	persisted map[core.TunnelID]core.Spec
	applies   []core.TunnelID
	removes   []core.TunnelID

	applyErr  error
	removeErr error
	delay     time.Duration
	inFlight  int
	maxFlight int
}

func newFake(name core.Backend) *fakeAdapter {
	return &fakeAdapter{
		name:    name,
		running: make(map[core.TunnelID]core.Spec),
		usage:   make(map[core.TunnelID]float64),
	}
}

func (f *fakeAdapter) Name() core.Backend { return f.name }

func (f *fakeAdapter) enter() {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxFlight {
		f.maxFlight = f.inFlight
	}
	d := f.delay
	f.mu.Unlock()
	if d > 0 {
		time.Sleep(d)
	}
}

func (f *fakeAdapter) leave() {
	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()
}

func (f *fakeAdapter) Apply(_ context.Context, id core.TunnelID, spec core.Spec) error {
	f.enter()
	defer f.leave()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applies = append(f.applies, id)
	if f.applyErr != nil {
		return f.applyErr
	}
	if _, ok := f.running[id]; ok {
		return core.NewAlreadyActiveError(f.name, id)
	}
	f.running[id] = spec
	delete(f.persisted, id)
	return nil
}

func (f *fakeAdapter) Remove(_ context.Context, id core.TunnelID) error {
	f.enter()
	defer f.leave()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removes = append(f.removes, id)
	delete(f.running, id)
	delete(f.persisted, id)
	return f.removeErr
}

func (f *fakeAdapter) Status(id core.TunnelID) core.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.running[id]
	return core.Status{Active: ok, Backend: f.name, ConfigExists: ok, ProcessRunning: ok, UsageMB: f.usage[id]}
}

func (f *fakeAdapter) UsageMB(id core.TunnelID) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.usage[id]
}

func (f *fakeAdapter) setUsage(id core.TunnelID, v float64) {
	f.mu.Lock()
	f.usage[id] = v
	f.mu.Unlock()
}

func (f *fakeAdapter) isRunning(id core.TunnelID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.running[id]
	return ok
}

// reconcilingFake also exposes persisted configs.
type reconcilingFake struct {
	*fakeAdapter
	listErr error
}

func (r reconcilingFake) Persisted() (map[core.TunnelID]core.Spec, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	out := make(map[core.TunnelID]core.Spec, len(r.persisted))
	for id, spec := range r.persisted {
		out[id] = spec
	}
	return out, nil
}

// recordingObserver captures metrics callbacks.
type recordingObserver struct {
	mu     sync.Mutex
	ops    []string
	counts map[core.Backend]int
}

func (o *recordingObserver) OperationCompleted(op string, backend core.Backend, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	result := "ok"
	if err != nil {
		result = "error"
	}
	o.ops = append(o.ops, op+"/"+backend.String()+"/"+result)
}

func (o *recordingObserver) SetActiveTunnels(counts map[core.Backend]int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.counts = counts
}

func (o *recordingObserver) snapshot() ([]string, map[core.Backend]int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.ops...), o.counts
}

var errBoom = errors.New("boom")
