package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"greenhouse-cloud/internal/logging"
	"greenhouse-cloud/internal/observability/metrics"
)

const defaultSendBuffer = 64

var ErrEmptyChannel = errors.New("realtime: empty channel")

// Hub fans broadcast messages out to subscribers of a channel. Sends never
// block; a subscriber whose buffer is full misses the message.
type Hub struct {
	logger logging.Logger
	now    func() time.Time
	buffer int

	mu          sync.Mutex
	subscribers map[*Subscriber]struct{}
}

// Subscriber is one connected consumer. Its channel set is guarded by the hub.
type Subscriber struct {
	id       string
	send     chan []byte
	channels map[string]struct{}
}

// ID identifies the subscriber in logs.
func (s *Subscriber) ID() string {
	return s.id
}

// Messages yields encoded Message values. Closed by Hub.Unregister.
func (s *Subscriber) Messages() <-chan []byte {
	return s.send
}

// NewHub constructs a hub.
func NewHub(logger logging.Logger) *Hub {
	return &Hub{
		logger:      logging.OrDiscard(logger),
		now:         time.Now,
		buffer:      defaultSendBuffer,
		subscribers: make(map[*Subscriber]struct{}),
	}
}

// Register adds a subscriber joined to channels.
func (h *Hub) Register(channels ...string) *Subscriber {
	sub := &Subscriber{
		id:       uuid.NewString(),
		send:     make(chan []byte, h.buffer),
		channels: make(map[string]struct{}, len(channels)),
	}
	for _, ch := range channels {
		if ch != "" {
			sub.channels[ch] = struct{}{}
		}
	}

	h.mu.Lock()
	h.subscribers[sub] = struct{}{}
	count := len(h.subscribers)
	h.mu.Unlock()

	metrics.SetRealtimeSubscribers(count)
	h.logger.WithFields(logging.Fields{
		"subscriber":   sub.id,
		"channels":     channels,
		"client_count": count,
	}).Debug("realtime subscriber registered")
	return sub
}

// Unregister removes the subscriber and closes its message channel.
func (h *Hub) Unregister(sub *Subscriber) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	if _, ok := h.subscribers[sub]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.subscribers, sub)
	close(sub.send)
	count := len(h.subscribers)
	h.mu.Unlock()

	metrics.SetRealtimeSubscribers(count)
	h.logger.WithFields(logging.Fields{
		"subscriber":   sub.id,
		"client_count": count,
	}).Debug("realtime subscriber removed")
}

// Join adds channels to a registered subscriber.
func (h *Hub) Join(sub *Subscriber, channels ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscribers[sub]; !ok {
		return
	}
	for _, ch := range channels {
		if ch != "" {
			sub.channels[ch] = struct{}{}
		}
	}
}

// Leave removes channels from a registered subscriber.
func (h *Hub) Leave(sub *Subscriber, channels ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range channels {
		delete(sub.channels, ch)
	}
}

// Channels returns the sorted channel set of sub.
func (h *Hub) Channels(sub *Subscriber) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(sub.channels))
	for ch := range sub.channels {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

// Broadcast sends payload as eventType to every subscriber of channel and
// returns how many subscribers it was queued for.
func (h *Hub) Broadcast(ctx context.Context, channel, eventType string, payload any) (int, error) {
	if channel == "" {
		return 0, ErrEmptyChannel
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("realtime: marshal payload: %w", err)
	}
	encoded, err := json.Marshal(Message{
		Type:      eventType,
		Channel:   channel,
		Data:      data,
		Timestamp: h.now().UTC(),
	})
	if err != nil {
		return 0, fmt.Errorf("realtime: marshal message: %w", err)
	}

	h.mu.Lock()
	targets := make([]*Subscriber, 0, len(h.subscribers))
	for sub := range h.subscribers {
		if _, ok := sub.channels[channel]; ok {
			targets = append(targets, sub)
		}
	}
	delivered := 0
	for _, sub := range targets {
		select {
		case sub.send <- encoded:
			delivered++
		default:
			metrics.IncRealtimeDropped()
			h.logger.WithFields(logging.Fields{
				"subscriber": sub.id,
				"channel":    channel,
				"type":       eventType,
			}).Warn("realtime subscriber buffer full, dropping message")
		}
	}
	h.mu.Unlock()
	return delivered, nil
}

// Stats reports the subscriber count per channel.
func (h *Hub) Stats() map[string]int {
	h.mu.Lock()
	defer h.mu.Unlock()
	stats := make(map[string]int)
	for sub := range h.subscribers {
		for ch := range sub.channels {
			stats[ch]++
		}
	}
	return stats
}

// Len returns the number of registered subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}
