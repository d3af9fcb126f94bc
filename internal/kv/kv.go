// Package kv is the device-local key-value store behind the guest cart and
// the cached application-user id. Three implementations share one contract:
// Memory for tests and throwaway sessions, SQLite for a durable single-device
// file, and Redis when several processes share one identity.
package kv

import (
	"context"
	"sync"
)

// Change describes a write to the store.
type Change struct {
	Key     string `json:"key"`
	Value   string `json:"value,omitempty"`
	Removed bool   `json:"removed,omitempty"`
}

// Store is a string key-value store with change notification.
//
// Watch reports every change, including the caller's own writes, and may
// repeat a change; consumers compare against their current value. The
// channel closes when ctx is done or the store is closed.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	Watch(ctx context.Context) <-chan Change
	Close() error
}

// watchBuffer is how many changes a slow watcher may lag before changes are
// dropped for it.
const watchBuffer = 16

// hub fans changes out to watchers without blocking writers.
type hub struct {
	mu       sync.Mutex
	watchers map[chan Change]struct{}
	closed   bool
	done     chan struct{}

	// pending counts subscriber goroutines still waiting to unsubscribe.
	pending sync.WaitGroup
}

func newHub() *hub {
	return &hub{watchers: make(map[chan Change]struct{}), done: make(chan struct{})}
}

// subscribe registers a watcher that is dropped when ctx is done or the hub
// is closed.
func (h *hub) subscribe(ctx context.Context) <-chan Change {
	ch := make(chan Change, watchBuffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch
	}
	h.watchers[ch] = struct{}{}
	h.pending.Add(1)
	h.mu.Unlock()

	go func() {
		defer h.pending.Done()
		select {
		case <-ctx.Done():
			h.unsubscribe(ch)
		case <-h.done:
		}
	}()
	return ch
}

func (h *hub) unsubscribe(ch chan Change) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.watchers[ch]; ok {
		delete(h.watchers, ch)
		close(ch)
	}
}

func (h *hub) publish(c Change) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.watchers {
		select {
		case ch <- c:
		default:
		}
	}
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	close(h.done)
	for ch := range h.watchers {
		delete(h.watchers, ch)
		close(ch)
	}
}
