package sandbox

import (
	"bytes"
	"fmt"
	"sync"
)

// limitedBuffer keeps the first limit bytes written to it and discards the
// rest. Writes never fail, so the child is never blocked on a full pipe.
type limitedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	limit     int64
	written   int64
	truncated bool
}

func newLimitedBuffer(limit int64) *limitedBuffer {
	return &limitedBuffer{limit: limit}
}

func (w *limitedBuffer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.written += int64(len(p))
	if w.limit <= 0 {
		w.buf.Write(p)
		return len(p), nil
	}
	remaining := w.limit - int64(w.buf.Len())
	if remaining <= 0 {
		w.truncated = true
		return len(p), nil
	}
	if int64(len(p)) > remaining {
		w.buf.Write(p[:remaining])
		w.truncated = true
		return len(p), nil
	}
	w.buf.Write(p)
	return len(p), nil
}

// String returns the captured output followed by a truncation marker when
// output was dropped.
func (w *limitedBuffer) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.truncated {
		return w.buf.String()
	}
	return w.buf.String() + truncationMarker(w.limit, w.written)
}

func (w *limitedBuffer) Truncated() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.truncated
}

func truncationMarker(limit, written int64) string {
	return fmt.Sprintf("\n[output truncated: %d of %d bytes shown]", limit, written)
}
