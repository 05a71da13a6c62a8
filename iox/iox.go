// Package iox provides small I/O helpers shared by the channel, bridge and
// session packages.
package iox

import (
	"io"
	"sync"
)

// DiscardClose closes c and discards the error. For defers where a close
// error is unactionable:
//
//	defer iox.DiscardClose(list)
func DiscardClose(c io.Closer) { _ = c.Close() }

// DiscardErr calls fn and discards the returned error.
func DiscardErr(fn func() error) { _ = fn() }

// Tail is a goroutine-safe writer that keeps only the last Max bytes
// written to it. The remote runtime's stderr is captured through one.
type Tail struct {
	mu  sync.Mutex
	buf []byte
	max int
}

// NewTail returns a Tail bounded to max bytes.
func NewTail(max int) *Tail {
	return &Tail{max: max}
}

// Write implements io.Writer. It never fails.
func (t *Tail) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

// Bytes returns a copy of the retained tail.
func (t *Tail) Bytes() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]byte(nil), t.buf...)
}

// Len reports the retained size.
func (t *Tail) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.buf)
}
