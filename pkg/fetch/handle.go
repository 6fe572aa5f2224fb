package fetch

import (
	"context"
	"sync"
)

// Handle is an awaitable, cancellable view of an asynchronous download.
// Callers may stop waiting at any time and observe the same handle later.
type Handle[T any] struct {
	key    string
	done   chan struct{}
	cancel context.CancelFunc

	mu         sync.Mutex
	onProgress ProgressFunc
	value      T
	err        error
}

func newHandle[T any](key string, cancel context.CancelFunc, onProgress ProgressFunc) *Handle[T] {
	return &Handle[T]{
		key:        key,
		done:       make(chan struct{}),
		cancel:     cancel,
		onProgress: onProgress,
	}
}

// Key returns the request identity of the download.
func (h *Handle[T]) Key() string {
	return h.key
}

// Done is closed once the download finished, failed or was cancelled.
func (h *Handle[T]) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the download completes or ctx is done. Returning on ctx
// does not cancel the download.
func (h *Handle[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.value, h.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Err returns the final error, or nil while the download is still running.
func (h *Handle[T]) Err() error {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.err
	default:
		return nil
	}
}

// Cancel aborts the download. The running-download counter is still
// released by the download goroutine.
func (h *Handle[T]) Cancel() {
	if h.cancel != nil {
		h.cancel()
	}
}

// SetProgressFunc replaces the progress receiver, used when a second caller
// attaches to an in-flight download.
func (h *Handle[T]) SetProgressFunc(fn ProgressFunc) {
	if fn == nil {
		return
	}
	h.mu.Lock()
	h.onProgress = fn
	h.mu.Unlock()
}

func (h *Handle[T]) reportProgress(p Progress) {
	h.mu.Lock()
	fn := h.onProgress
	h.mu.Unlock()
	if fn != nil {
		fn(p)
	}
}

func (h *Handle[T]) finish(v T, err error) {
	h.mu.Lock()
	h.value = v
	h.err = err
	h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
	}
	close(h.done)
}
