package client

import (
	"context"
	"sync"
)

// Handle tracks one connection attempt and the session that follows it.
// Callers may ignore it; the Connector keeps its own reference.
type Handle struct {
	ctx       context.Context
	cancel    context.CancelFunc
	connected chan struct{}
	done      chan struct{}

	mu            sync.Mutex
	err           error
	connectedOnce sync.Once
}

func newHandle(parent context.Context) *Handle {
	ctx, cancel := context.WithCancel(parent)
	return &Handle{
		ctx:       ctx,
		cancel:    cancel,
		connected: make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Connected is closed once the websocket handshake succeeded.
func (h *Handle) Connected() <-chan struct{} {
	return h.connected
}

// Done is closed when the attempt failed or the session ended.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err reports why the session ended. It is nil until Done is closed.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Cancel stops the attempt or closes the session.
func (h *Handle) Cancel() {
	h.cancel()
}

func (h *Handle) finished() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

func (h *Handle) markConnected() {
	h.connectedOnce.Do(func() {
		close(h.connected)
	})
}

func (h *Handle) finish(err error) {
	h.mu.Lock()
	h.err = err
	h.mu.Unlock()
	h.cancel()
	close(h.done)
}
