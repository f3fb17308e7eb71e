package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	commandsevents "greenhouse-cloud/internal/commands/application/events"
	commands "greenhouse-cloud/internal/commands/domain"
	"greenhouse-cloud/internal/logging"
	"greenhouse-cloud/internal/mqttconn"
)

// Reporter accepts command status reports.
type Reporter interface {
	Report(ctx context.Context, source string, evt commands.StatusEvent) (string, error)
}

// StatusConsumer handles "<prefix>/<node>/commands/status" messages.
type StatusConsumer struct {
	reporter Reporter
	prefix   string
	logger   logging.Logger
}

// NewStatusConsumer constructs a consumer.
func NewStatusConsumer(reporter Reporter, prefix string, logger logging.Logger) (*StatusConsumer, error) {
	if reporter == nil {
		return nil, errors.New("commands mqtt: nil reporter")
	}
	return &StatusConsumer{reporter: reporter, prefix: prefix, logger: logging.OrDiscard(logger)}, nil
}

// Topic is the subscription filter for every node.
func (c *StatusConsumer) Topic() string {
	return mqttconn.Topic(c.prefix, "+", "commands", "status")
}

// Handle decodes and reports one status message.
func (c *StatusConsumer) Handle(ctx context.Context, msg pahomqtt.Message) error {
	node, _ := mqttconn.NodeFromTopic(c.prefix, msg.Topic())
	var evt commands.StatusEvent
	if err := json.Unmarshal(msg.Payload(), &evt); err != nil {
		return fmt.Errorf("commands mqtt: decode from %q: %w", node, err)
	}
	channel, err := c.reporter.Report(ctx, commandsevents.SourceMQTT, evt)
	if err != nil {
		return fmt.Errorf("commands mqtt: report from %q: %w", node, err)
	}
	c.logger.WithFields(logging.Fields{
		"node":       node,
		"command_id": evt.CommandID.String(),
		"channel":    channel,
	}).Debug("command status received over mqtt")
	return nil
}
