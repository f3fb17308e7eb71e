package mqtt

import (
	"context"
	"encoding/json"
	"errors"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"greenhouse-cloud/internal/logging"
	"greenhouse-cloud/internal/mqttconn"
	telemetryapp "greenhouse-cloud/internal/telemetry/application"
	telemetry "greenhouse-cloud/internal/telemetry/domain"
)

// Ingester admits telemetry batches.
type Ingester interface {
	Ingest(ctx context.Context, source string, body []byte) (telemetryapp.Result, error)
}

// Rejection is published back to a node whose batch was refused.
type Rejection struct {
	Error      string              `json:"error"`
	Errors     map[string][]string `json:"errors,omitempty"`
	MaxUpdates int                 `json:"maxUpdates,omitempty"`
}

// IngestConsumer handles "<prefix>/<node>/telemetry" messages.
type IngestConsumer struct {
	ingester  Ingester
	publisher mqttconn.Publisher
	prefix    string
	logger    logging.Logger
}

// NewIngestConsumer constructs a consumer. publisher may be nil to skip rejection feedback.
func NewIngestConsumer(ingester Ingester, publisher mqttconn.Publisher, prefix string, logger logging.Logger) (*IngestConsumer, error) {
	if ingester == nil {
		return nil, errors.New("telemetry mqtt: nil ingester")
	}
	return &IngestConsumer{ingester: ingester, publisher: publisher, prefix: prefix, logger: logging.OrDiscard(logger)}, nil
}

// Topic is the subscription filter for every node.
func (c *IngestConsumer) Topic() string {
	return mqttconn.Topic(c.prefix, "+", "telemetry")
}

// Handle ingests one batch. Validation failures are answered on the node's
// rejection topic and are not treated as handler errors.
func (c *IngestConsumer) Handle(ctx context.Context, msg pahomqtt.Message) error {
	node, _ := mqttconn.NodeFromTopic(c.prefix, msg.Topic())
	_, err := c.ingester.Ingest(ctx, telemetryapp.SourceMQTT, msg.Payload())
	if err == nil {
		return nil
	}
	verr, ok := telemetry.AsValidationError(err)
	if !ok {
		return err
	}
	c.reject(node, verr)
	return nil
}

func (c *IngestConsumer) reject(node string, verr *telemetry.ValidationError) {
	if c.publisher == nil || node == "" {
		return
	}
	rejection := Rejection{Error: string(verr.Kind), MaxUpdates: verr.MaxUpdates}
	if verr.Kind != telemetry.KindBatchTooLarge {
		rejection.MaxUpdates = 0
		rejection.Errors = verr.Fields()
	}
	payload, err := json.Marshal(rejection)
	if err != nil {
		return
	}
	topic := mqttconn.Topic(c.prefix, node, "telemetry", "rejected")
	if err := c.publisher.Publish(topic, payload); err != nil {
		c.logger.WithFields(logging.Fields{"topic": topic}).WithError(err).Warn("telemetry rejection not published")
	}
}
