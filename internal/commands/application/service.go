package application

import (
	"context"
	"errors"
	"time"

	commandsevents "greenhouse-cloud/internal/commands/application/events"
	commands "greenhouse-cloud/internal/commands/domain"
	"greenhouse-cloud/internal/eventbus"
	"greenhouse-cloud/internal/logging"
)

// StatusService accepts command status reports from edge nodes.
type StatusService struct {
	bus    eventbus.EventBus
	logger logging.Logger
	now    func() time.Time
}

// NewStatusService constructs a status service.
func NewStatusService(bus eventbus.EventBus, logger logging.Logger) (*StatusService, error) {
	if bus == nil {
		return nil, errors.New("commands: nil event bus")
	}
	return &StatusService{bus: bus, logger: logging.OrDiscard(logger), now: time.Now}, nil
}

// Report validates a status event and publishes CommandStatusChanged. It
// returns the channel the event routes to. Delivery to subscribers happens
// downstream and never fails the report.
func (s *StatusService) Report(ctx context.Context, source string, evt commands.StatusEvent) (string, error) {
	if err := evt.Validate(); err != nil {
		return "", err
	}

	eventID := eventbus.NewEventID()
	ctx = eventbus.WithEventID(ctx, eventID)
	changed := commandsevents.CommandStatusChanged{
		EventID:    eventID,
		Status:     evt,
		Source:     source,
		ReceivedAt: s.now().UTC(),
	}
	if err := s.bus.Publish(ctx, changed); err != nil {
		return "", err
	}

	channel := commands.RouteChannel(evt)
	s.logger.WithFields(logging.Fields{
		"event_id":   eventID,
		"command_id": evt.CommandID.String(),
		"status":     string(evt.Status),
		"channel":    channel,
		"source":     source,
	}).Debug("command status reported")
	return channel, nil
}
