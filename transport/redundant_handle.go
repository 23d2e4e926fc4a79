package transport

import (
	"fmt"
	"sync"
	"time"
)

// retryBudget bounds how long RedundantHandle will keep rotating
// through its pool on retryable errors before giving up, per spec.md
// §4.2's "subject to a wall-clock retry budget".
const retryBudget = 5 * time.Second

// RedundantHandle pools several Handles and round-robins submissions
// across them on retryable errors. Scatter-gather addressing is
// mandatory for DMA buffers in this mode because any card in the pool
// may service a given submission.
type RedundantHandle struct {
	mu      sync.Mutex
	handles []Handle
	next    int
}

// NewRedundantHandle builds a RedundantHandle over an already-opened
// pool of per-card Handles.
func NewRedundantHandle(handles []Handle) *RedundantHandle {
	return &RedundantHandle{handles: handles}
}

func (r *RedundantHandle) current() Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handles[r.next%len(r.handles)]
}

func (r *RedundantHandle) rotate() {
	r.mu.Lock()
	r.next++
	r.mu.Unlock()
}

func (r *RedundantHandle) withRetry(op func(Handle) error) error {
	deadline := time.Now().Add(retryBudget)
	var lastErr error
	for time.Now().Before(deadline) {
		h := r.current()
		if err := op(h); err != nil {
			lastErr = err
			r.rotate()
			continue
		}
		return nil
	}
	return fmt.Errorf("transport: redundant pool exhausted retry budget: %w", lastErr)
}

func (r *RedundantHandle) SubmitQueueStart(queueBase uintptr, firstSeq uint16, depth int) error {
	return r.withRetry(func(h Handle) error { return h.SubmitQueueStart(queueBase, firstSeq, depth) })
}

func (r *RedundantHandle) SubmitTrigger(seq uint16) error {
	return r.withRetry(func(h Handle) error { return h.SubmitTrigger(seq) })
}

func (r *RedundantHandle) WaitEvent(timeoutMillis int) (Event, error) {
	return r.current().WaitEvent(timeoutMillis)
}

func (r *RedundantHandle) ReadReg(offset uint32) (uint64, error) {
	return r.current().ReadReg(offset)
}

func (r *RedundantHandle) WriteReg(offset uint32, value uint64) error {
	return r.withRetry(func(h Handle) error { return h.WriteReg(offset, value) })
}

func (r *RedundantHandle) Pin(buf []byte) error {
	for _, h := range r.handles {
		if err := h.Pin(buf); err != nil {
			return err
		}
	}
	return nil
}

func (r *RedundantHandle) Unpin(buf []byte) error {
	var lastErr error
	for _, h := range r.handles {
		if err := h.Unpin(buf); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (r *RedundantHandle) DMAAlloc(length int) ([]byte, error) {
	return r.current().DMAAlloc(length)
}

func (r *RedundantHandle) DMAFree(buf []byte) error {
	return r.current().DMAFree(buf)
}

func (r *RedundantHandle) Close() error {
	var lastErr error
	for _, h := range r.handles {
		if err := h.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
