package application

import (
	"context"
	"errors"
	"sync"

	fleet "greenhouse-cloud/internal/fleet/domain"
	"greenhouse-cloud/internal/logging"
	realtimeclient "greenhouse-cloud/internal/realtime/client"
)

var (
	ErrNilRealtime = errors.New("fleet coordinator: nil realtime starter")
	ErrNilLister   = errors.New("fleet coordinator: nil lister")
)

// RealtimeStarter starts the live channel or returns the attempt in flight.
type RealtimeStarter interface {
	EnsureStarted() *realtimeclient.Handle
}

// Coordinator pairs greenhouse fetches with warming the realtime channel.
// The two halves are independent: a realtime failure never fails a fetch.
type Coordinator struct {
	realtime RealtimeStarter
	lister   fleet.Lister
	logger   logging.Logger

	mu      sync.Mutex
	watched *realtimeclient.Handle
}

// NewCoordinator constructs a Coordinator.
func NewCoordinator(realtime RealtimeStarter, lister fleet.Lister, logger logging.Logger) (*Coordinator, error) {
	if realtime == nil {
		return nil, ErrNilRealtime
	}
	if lister == nil {
		return nil, ErrNilLister
	}
	return &Coordinator{
		realtime: realtime,
		lister:   lister,
		logger:   logging.OrDiscard(logger),
	}, nil
}

// EnsureRealtimeStarted returns the current realtime handle without waiting
// on it. Callers may ignore the handle; failures are only logged.
func (c *Coordinator) EnsureRealtimeStarted() *realtimeclient.Handle {
	h := c.realtime.EnsureStarted()

	c.mu.Lock()
	defer c.mu.Unlock()
	if h != c.watched {
		c.watched = h
		go c.watch(h)
	}
	return h
}

// FetchList fetches the greenhouse list.
func (c *Coordinator) FetchList(ctx context.Context) ([]fleet.Greenhouse, error) {
	list, err := c.lister.List(ctx)
	if err != nil {
		c.logger.WithError(err).Warn("greenhouse fetch failed")
		return nil, err
	}
	return list, nil
}

// List warms the realtime channel and fetches the greenhouse list.
func (c *Coordinator) List(ctx context.Context) ([]fleet.Greenhouse, error) {
	c.EnsureRealtimeStarted()
	return c.FetchList(ctx)
}

func (c *Coordinator) watch(h *realtimeclient.Handle) {
	<-h.Done()
	err := h.Err()
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, realtimeclient.ErrClosed):
		c.logger.Debug("realtime session ended")
	case errors.Is(err, realtimeclient.ErrCredentialRevoked):
		c.logger.Info("realtime session closed after logout")
	default:
		c.logger.WithError(err).Warn("realtime unavailable")
	}
}
