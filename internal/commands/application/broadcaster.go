package application

import (
	"context"
	"errors"

	commandsevents "greenhouse-cloud/internal/commands/application/events"
	commands "greenhouse-cloud/internal/commands/domain"
	"greenhouse-cloud/internal/eventbus"
	"greenhouse-cloud/internal/logging"
	"greenhouse-cloud/internal/observability/metrics"
)

const broadcasterConsumer = "commands.status_broadcaster"

// Broadcaster delivers a payload to the subscribers of a channel.
type Broadcaster interface {
	Broadcast(ctx context.Context, channel, eventType string, payload any) (int, error)
}

// StatusBroadcaster routes CommandStatusChanged events to their realtime channel.
type StatusBroadcaster struct {
	hub    Broadcaster
	logger logging.Logger
}

// NewStatusBroadcaster constructs a broadcaster.
func NewStatusBroadcaster(hub Broadcaster, logger logging.Logger) (*StatusBroadcaster, error) {
	if hub == nil {
		return nil, errors.New("commands: nil broadcaster")
	}
	return &StatusBroadcaster{hub: hub, logger: logging.OrDiscard(logger)}, nil
}

// Register subscribes the broadcaster to bus.
func (b *StatusBroadcaster) Register(bus eventbus.EventBus) {
	eventbus.Subscribe(bus, broadcasterConsumer, b.Handle, b.logger)
}

// Handle broadcasts one status change. Delivery problems are logged and
// counted, never returned, so the reporting node is unaffected.
func (b *StatusBroadcaster) Handle(ctx context.Context, event commandsevents.CommandStatusChanged) error {
	evt := event.Status
	channel := commands.RouteChannel(evt)
	fields := logging.Fields{
		"event_id":   event.EventID,
		"command_id": evt.CommandID.String(),
		"status":     string(evt.Status),
		"channel":    channel,
	}

	if !evt.Status.Known() {
		metrics.IncUnknownStatus()
		b.logger.WithFields(fields).Warn("unrecognised command status, passing through")
	}

	scope := metrics.ScopeZone
	if channel == commands.ChannelGlobal {
		scope = metrics.ScopeGlobal
	}

	delivered, err := b.hub.Broadcast(ctx, channel, commands.EventCommandStatusUpdated, commands.NewStatusPayload(evt))
	metrics.IncStatusBroadcast(scope, err == nil)
	if err != nil {
		b.logger.WithFields(fields).WithError(err).Error("command status broadcast failed")
		return nil
	}
	fields["delivered"] = delivered
	b.logger.WithFields(fields).Debug("command status broadcast")
	return nil
}
