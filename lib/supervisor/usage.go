package supervisor

import (
	"sync"
	"time"

	"github.com/go-i2p/logger"
	"github.com/prometheus/procfs"
	"golang.org/x/time/rate"
)

// DefaultSampleInterval is the minimum spacing between /proc reads for one
// meter. Calls in between return the cached value.
const DefaultSampleInterval = time.Second

const bytesPerMB = 1024 * 1024

// IOCounter returns the cumulative bytes a process has read and written.
type IOCounter func(pid int) (uint64, error)

// ProcfsIOCounter reads rchar+wchar from /proc/<pid>/io under fs. Those
// counters include socket traffic, which is what a tunnel process moves.
func ProcfsIOCounter(fs procfs.FS) IOCounter {
	return func(pid int) (uint64, error) {
		p, err := fs.Proc(pid)
		if err != nil {
			return 0, err
		}
		io, err := p.IO()
		if err != nil {
			return 0, err
		}
		return io.RChar + io.WChar, nil
	}
}

var (
	defaultCounterOnce sync.Once
	defaultCounter     IOCounter
)

// DefaultIOCounter reads counters from the host's /proc mount.
func DefaultIOCounter() IOCounter {
	defaultCounterOnce.Do(func() {
		fs, err := procfs.NewDefaultFS()
		if err != nil {
			log.WithError(err).Warn("procfs unavailable, usage accounting disabled")
			defaultCounter = func(int) (uint64, error) { return 0, err }
			return
		}
		defaultCounter = ProcfsIOCounter(fs)
	})
	return defaultCounter
}

// UsageMeter tracks the cumulative traffic of one tunnel in megabytes as a
// high-water mark. When the tunnel's process is replaced (a new pid), the
// mark reached so far becomes the base the new process's counters add onto,
// so the reported value only ever grows.
type UsageMeter struct {
	mu      sync.Mutex
	counter IOCounter
	limiter *rate.Limiter

	pid    int
	baseMB float64
	highMB float64
}

// NewUsageMeter builds a meter reading through counter at most once per
// interval. A non-positive interval disables throttling.
func NewUsageMeter(counter IOCounter, interval time.Duration) *UsageMeter {
	if counter == nil {
		counter = DefaultIOCounter()
	}
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &UsageMeter{
		counter: counter,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Observe samples the counters of pid and returns the updated mark. Read
// failures, a non-positive pid, or a throttled call return the cached mark.
func (m *UsageMeter) Observe(pid int) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if pid <= 0 {
		return m.highMB
	}
	if pid != m.pid {
		m.pid = pid
		m.baseMB = m.highMB
		m.limiter.Allow()
	} else if !m.limiter.Allow() {
		return m.highMB
	}

	total, err := m.counter(pid)
	if err != nil {
		log.WithFields(logger.Fields{
			"at":     "UsageMeter.Observe",
			"reason": "counter_unavailable",
			"pid":    pid,
			"error":  err.Error(),
		}).Debug("using cached usage")
		return m.highMB
	}
	if current := m.baseMB + float64(total)/bytesPerMB; current > m.highMB {
		m.highMB = current
	}
	return m.highMB
}

// Value returns the cached mark without sampling.
func (m *UsageMeter) Value() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.highMB
}
