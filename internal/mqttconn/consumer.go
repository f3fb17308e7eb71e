package mqttconn

import (
	"context"
	"fmt"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"greenhouse-cloud/internal/logging"
)

// Handler processes one message received on a subscription.
type Handler func(ctx context.Context, msg mqtt.Message) error

// Consumer subscribes a handler to one topic filter.
type Consumer struct {
	client mqtt.Client
	topic  string
	qos    byte
	logger logging.Logger
}

// NewConsumer constructs a consumer for topic with at-least-once delivery.
func NewConsumer(client mqtt.Client, topic string, logger logging.Logger) *Consumer {
	return &Consumer{client: client, topic: topic, qos: 1, logger: logging.OrDiscard(logger)}
}

// Run subscribes and blocks until ctx is done, then unsubscribes.
func (c *Consumer) Run(ctx context.Context, handler Handler) error {
	token := c.client.Subscribe(c.topic, c.qos, func(_ mqtt.Client, msg mqtt.Message) {
		if err := handler(ctx, msg); err != nil {
			c.logger.WithFields(logging.Fields{
				"topic": msg.Topic(),
			}).WithError(err).Warn("mqtt message handling failed")
		}
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqttconn: subscribe %s: %w", c.topic, token.Error())
	}
	c.logger.WithField("topic", c.topic).Info("mqtt subscribed")

	<-ctx.Done()
	c.client.Unsubscribe(c.topic).Wait()
	return nil
}

// Publisher sends a payload to a topic.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// ClientPublisher publishes through a connected client at QoS 0.
type ClientPublisher struct {
	Client mqtt.Client
}

func (p ClientPublisher) Publish(topic string, payload []byte) error {
	token := p.Client.Publish(topic, 0, false, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqttconn: publish %s: %w", topic, err)
	}
	return nil
}

// Topic joins a prefix and path segments with "/".
func Topic(prefix string, segments ...string) string {
	parts := make([]string, 0, len(segments)+1)
	if p := strings.Trim(prefix, "/"); p != "" {
		parts = append(parts, p)
	}
	parts = append(parts, segments...)
	return strings.Join(parts, "/")
}

// NodeFromTopic extracts the node segment of "<prefix>/<node>/<suffix...>".
func NodeFromTopic(prefix, topic string) (string, bool) {
	rest := topic
	if p := strings.Trim(prefix, "/"); p != "" {
		var ok bool
		rest, ok = strings.CutPrefix(topic, p+"/")
		if !ok {
			return "", false
		}
	}
	node, _, ok := strings.Cut(rest, "/")
	if !ok || node == "" || node == "+" || node == "#" {
		return "", false
	}
	return node, true
}
