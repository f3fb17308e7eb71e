package mqttconn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"

	"greenhouse-cloud/internal/config"
	"greenhouse-cloud/internal/logging"
)

const (
	maxConnectRetries = 5
	disconnectQuiesce = 250
)

var ErrNoBroker = errors.New("mqttconn: broker is required")

// Connect dials the broker with exponential backoff. The client is
// disconnected when ctx is done.
func Connect(ctx context.Context, cfg config.MQTTConfig, logger logging.Logger) (mqtt.Client, error) {
	if cfg.Broker == "" {
		return nil, ErrNoBroker
	}
	logger = logging.OrDiscard(logger)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.WithError(err).Warn("mqtt connection lost")
	})

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 10 * time.Second

	var client mqtt.Client
	err := backoff.Retry(func() error {
		client = mqtt.NewClient(opts)
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			logger.WithError(token.Error()).WithField("broker", cfg.Broker).Warn("mqtt connect failed")
			return token.Error()
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, maxConnectRetries-1), ctx))
	if err != nil {
		return nil, fmt.Errorf("mqttconn: connect %s: %w", cfg.Broker, err)
	}
	logger.WithField("broker", cfg.Broker).Info("mqtt connected")

	go func() {
		<-ctx.Done()
		client.Disconnect(disconnectQuiesce)
		logger.Info("mqtt connection closed")
	}()
	return client, nil
}
