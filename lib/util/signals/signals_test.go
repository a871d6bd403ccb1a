package signals

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// reset clears every registry for the duration of a test.
func reset(t *testing.T) {
	t.Helper()
	mu.Lock()
	saved := [3][]registeredHandler{reloaders.handlers, drainers.handlers, interrupter.handlers}
	savedTimeout := gracefulTimeout
	reloaders.handlers, drainers.handlers, interrupter.handlers = nil, nil, nil
	mu.Unlock()
	t.Cleanup(func() {
		mu.Lock()
		reloaders.handlers, drainers.handlers, interrupter.handlers = saved[0], saved[1], saved[2]
		gracefulTimeout = savedTimeout
		mu.Unlock()
	})
}

func TestHangupRunsReloadHandlers(t *testing.T) {
	reset(t)
	var calls []int
	RegisterReloadHandler(func() { calls = append(calls, 1) })
	RegisterReloadHandler(func() { calls = append(calls, 2) })
	RegisterInterruptHandler(func() { t.Error("interrupt handler ran on SIGHUP") })

	Trigger(unix.SIGHUP)
	assert.Equal(t, []int{1, 2}, calls)
}

func TestTerminateDrainsBeforeInterrupt(t *testing.T) {
	reset(t)
	var order []string
	RegisterInterruptHandler(func() { order = append(order, "cleanup") })
	RegisterDrainHandler(func() { order = append(order, "drain") })

	Trigger(unix.SIGTERM)
	assert.Equal(t, []string{"drain", "cleanup"}, order)

	order = nil
	Trigger(unix.SIGINT)
	assert.Equal(t, []string{"drain", "cleanup"}, order)
}

func TestNilHandlerIgnored(t *testing.T) {
	reset(t)
	assert.Equal(t, HandlerID(-1), RegisterReloadHandler(nil))
	assert.Equal(t, HandlerID(-1), RegisterInterruptHandler(nil))
	assert.Empty(t, reloaders.snapshot())
	assert.Empty(t, interrupter.snapshot())
}

func TestDeregister(t *testing.T) {
	reset(t)
	called := false
	id := RegisterReloadHandler(func() { called = true })
	DeregisterReloadHandler(id)
	DeregisterReloadHandler(HandlerID(9999))

	Trigger(unix.SIGHUP)
	assert.False(t, called)
}

func TestPanickingHandlerDoesNotStopOthers(t *testing.T) {
	reset(t)
	ran := false
	RegisterInterruptHandler(func() { panic("boom") })
	RegisterInterruptHandler(func() { ran = true })

	require.NotPanics(t, func() { Trigger(unix.SIGTERM) })
	assert.True(t, ran)
}

func TestDrainTimeout(t *testing.T) {
	reset(t)
	SetGracefulTimeout(20 * time.Millisecond)
	release := make(chan struct{})
	defer close(release)
	RegisterDrainHandler(func() { <-release })

	start := time.Now()
	assert.False(t, drain())
	assert.Less(t, time.Since(start), time.Second)
}

func TestSetGracefulTimeoutDefault(t *testing.T) {
	reset(t)
	SetGracefulTimeout(-time.Second)
	assert.Equal(t, defaultGracefulTimeout, gracefulTimeout)
	SetGracefulTimeout(time.Second)
	assert.Equal(t, time.Second, gracefulTimeout)
}

func TestConcurrentRegistration(t *testing.T) {
	reset(t)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			RegisterReloadHandler(func() {})
		}()
	}
	wg.Wait()

	seen := map[HandlerID]bool{}
	for _, h := range reloaders.snapshot() {
		assert.False(t, seen[h.id], "duplicate id %d", h.id)
		seen[h.id] = true
	}
	assert.Len(t, seen, 50)
}
