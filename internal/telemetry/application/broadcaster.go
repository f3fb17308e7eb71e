package application

import (
	"context"
	"errors"
	"strconv"

	"greenhouse-cloud/internal/eventbus"
	"greenhouse-cloud/internal/logging"
	telemetryevents "greenhouse-cloud/internal/telemetry/application/events"
	telemetry "greenhouse-cloud/internal/telemetry/domain"
)

const (
	// ChannelPrefix starts every live telemetry channel name.
	ChannelPrefix = "telemetry."
	// EventTelemetryAdmitted is the broadcast event name on telemetry channels.
	EventTelemetryAdmitted = "TelemetryAdmitted"

	broadcasterConsumer = "telemetry.live_broadcaster"
)

// Broadcaster delivers a payload to the subscribers of a channel.
type Broadcaster interface {
	Broadcast(ctx context.Context, channel, eventType string, payload any) (int, error)
}

// ZoneChannel names the live telemetry channel of one zone.
func ZoneChannel(zoneID int64) string {
	return ChannelPrefix + strconv.FormatInt(zoneID, 10)
}

// LivePayload is broadcast with EventTelemetryAdmitted.
type LivePayload struct {
	ZoneID  int64                       `json:"zoneId"`
	Updates []telemetry.TelemetryUpdate `json:"updates"`
}

// LiveBroadcaster pushes admitted telemetry to zone subscribers.
type LiveBroadcaster struct {
	hub    Broadcaster
	logger logging.Logger
}

// NewLiveBroadcaster constructs a broadcaster.
func NewLiveBroadcaster(hub Broadcaster, logger logging.Logger) (*LiveBroadcaster, error) {
	if hub == nil {
		return nil, errors.New("telemetry: nil broadcaster")
	}
	return &LiveBroadcaster{hub: hub, logger: logging.OrDiscard(logger)}, nil
}

// Register subscribes the broadcaster to bus.
func (b *LiveBroadcaster) Register(bus eventbus.EventBus) {
	eventbus.Subscribe(bus, broadcasterConsumer, b.Handle, b.logger)
}

// Handle broadcasts one admitted zone group; failures are logged only.
func (b *LiveBroadcaster) Handle(ctx context.Context, evt telemetryevents.TelemetryAdmitted) error {
	channel := ZoneChannel(evt.ZoneID)
	if _, err := b.hub.Broadcast(ctx, channel, EventTelemetryAdmitted, LivePayload{ZoneID: evt.ZoneID, Updates: evt.Updates}); err != nil {
		b.logger.WithFields(logging.Fields{
			"event_id": evt.EventID,
			"channel":  channel,
		}).WithError(err).Warn("telemetry broadcast failed")
	}
	return nil
}
