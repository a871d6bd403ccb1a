package supervisor

import "sync"

// TailBuffer is an io.Writer that keeps only the last Limit bytes written.
// It drains a process's output pipe so the child never blocks on a full pipe,
// while bounding memory for long-lived processes.
type TailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

// NewTailBuffer returns a TailBuffer retaining at most limit bytes.
func NewTailBuffer(limit int) *TailBuffer {
	if limit <= 0 {
		limit = DefaultTailLength
	}
	return &TailBuffer{limit: limit}
}

func (b *TailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(p)
	if n >= b.limit {
		b.buf = append(b.buf[:0], p[n-b.limit:]...)
		return n, nil
	}
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return n, nil
}

// String returns the retained output with any leading partial UTF-8 sequence
// dropped.
func (b *TailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(trimPartialRune(b.buf))
}
