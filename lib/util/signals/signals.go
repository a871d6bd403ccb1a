// Package signals dispatches process signals to registered node handlers:
// SIGHUP reconciles tunnels from disk, SIGINT and SIGTERM drain and stop.
package signals

import (
	"os"
	"sync"
	"time"

	"github.com/go-i2p/logger"
)

var log = logger.GetGoI2PLogger()

// sigChan is buffered so a signal arriving between dispatches is not lost.
var sigChan = make(chan os.Signal, 1)

// Handler is called when a signal is received.
type Handler func()

// HandlerID is returned by registration and used to deregister.
type HandlerID int

type registeredHandler struct {
	id HandlerID
	fn Handler
}

// registry is an ordered, concurrency-safe handler list.
type registry struct {
	name     string
	handlers []registeredHandler
}

const defaultGracefulTimeout = 30 * time.Second

var (
	mu          sync.RWMutex
	nextID      HandlerID
	reloaders   = &registry{name: "reload"}
	drainers    = &registry{name: "drain"}
	interrupter = &registry{name: "interrupt"}
	stopOnce    sync.Once

	gracefulTimeout = defaultGracefulTimeout
)

func (r *registry) add(f Handler) HandlerID {
	if f == nil {
		return -1
	}
	mu.Lock()
	defer mu.Unlock()
	id := nextID
	nextID++
	r.handlers = append(r.handlers, registeredHandler{id: id, fn: f})
	return id
}

func (r *registry) remove(id HandlerID) {
	mu.Lock()
	defer mu.Unlock()
	for i, h := range r.handlers {
		if h.id == id {
			r.handlers = append(r.handlers[:i], r.handlers[i+1:]...)
			return
		}
	}
}

func (r *registry) snapshot() []registeredHandler {
	mu.RLock()
	defer mu.RUnlock()
	return append([]registeredHandler(nil), r.handlers...)
}

// run calls every handler in registration order. A panicking handler is
// logged and does not stop the rest.
func (r *registry) run() {
	for _, h := range r.snapshot() {
		func() {
			defer func() {
				if p := recover(); p != nil {
					log.WithFields(logger.Fields{
						"at":      "signals.run",
						"reason":  "handler_panic",
						"kind":    r.name,
						"handler": int(h.id),
						"panic":   p,
					}).Error("signal handler panicked")
				}
			}()
			h.fn()
		}()
	}
}

// RegisterReloadHandler registers f for SIGHUP. Nil handlers return -1.
func RegisterReloadHandler(f Handler) HandlerID { return reloaders.add(f) }

// DeregisterReloadHandler removes a reload handler.
func DeregisterReloadHandler(id HandlerID) { reloaders.remove(id) }

// RegisterDrainHandler registers f to run on shutdown before any interrupt
// handler, bounded by the graceful timeout. Stop producers here.
func RegisterDrainHandler(f Handler) HandlerID { return drainers.add(f) }

// DeregisterDrainHandler removes a drain handler.
func DeregisterDrainHandler(id HandlerID) { drainers.remove(id) }

// RegisterInterruptHandler registers f for SIGINT and SIGTERM.
func RegisterInterruptHandler(f Handler) HandlerID { return interrupter.add(f) }

// DeregisterInterruptHandler removes an interrupt handler.
func DeregisterInterruptHandler(id HandlerID) { interrupter.remove(id) }

// SetGracefulTimeout bounds the drain phase. Non-positive values restore 30s.
func SetGracefulTimeout(d time.Duration) {
	mu.Lock()
	defer mu.Unlock()
	if d <= 0 {
		d = defaultGracefulTimeout
	}
	gracefulTimeout = d
}

func handleReload() {
	log.WithField("at", "signals.handleReload").Info("reload requested")
	reloaders.run()
}

// drain runs drain handlers and reports whether they finished in time.
func drain() bool {
	mu.RLock()
	timeout := gracefulTimeout
	mu.RUnlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		drainers.run()
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		log.WithFields(logger.Fields{
			"at":      "signals.drain",
			"reason":  "timeout",
			"timeout": timeout.String(),
		}).Warn("drain handlers did not finish, continuing shutdown")
		return false
	}
}

func handleInterrupted() {
	log.WithField("at", "signals.handleInterrupted").Info("shutdown requested")
	drain()
	interrupter.run()
}

// Trigger dispatches sig as if it had been delivered to the process.
func Trigger(sig os.Signal) {
	dispatch(sig)
}

// Handle dispatches signals until StopHandle is called.
func Handle() {
	for sig := range sigChan {
		dispatch(sig)
	}
}

// StopHandle stops delivery and makes Handle return. Safe to call twice.
func StopHandle() {
	stopOnce.Do(func() {
		stop()
		close(sigChan)
	})
}
