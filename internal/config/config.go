package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultTelemetryBatchMaxUpdates bounds a telemetry batch when nothing is configured.
	DefaultTelemetryBatchMaxUpdates = 500

	SinkPostgres = "postgres"
	SinkInflux   = "influx"
)

// Config defines server configuration.
type Config struct {
	HTTPAddr    string `yaml:"http_addr"`
	LogLevel    string `yaml:"log_level"`
	DatabaseURL string `yaml:"database_url"`

	TelemetryBatchMaxUpdates int    `yaml:"telemetry_batch_max_updates"`
	TelemetrySink            string `yaml:"telemetry_sink"`

	Influx InfluxConfig `yaml:"influx"`
	MQTT   MQTTConfig   `yaml:"mqtt"`

	JWTSecret         string `yaml:"jwt_secret"`
	IngestSecret      string `yaml:"ingest_secret"`
	IngestSkewSeconds int    `yaml:"ingest_skew_seconds"`

	// RealtimeAllowedOrigins lists browser origins allowed to open a realtime
	// websocket. Empty means same host only.
	RealtimeAllowedOrigins []string `yaml:"realtime_allowed_origins"`
}

// InfluxConfig configures the InfluxDB telemetry sink.
type InfluxConfig struct {
	URL         string `yaml:"url"`
	Token       string `yaml:"token"`
	Org         string `yaml:"org"`
	Bucket      string `yaml:"bucket"`
	Measurement string `yaml:"measurement"`
}

// MQTTConfig configures the edge-node MQTT ingestion path.
type MQTTConfig struct {
	Broker         string        `yaml:"broker"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	ClientID       string        `yaml:"client_id"`
	TopicPrefix    string        `yaml:"topic_prefix"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// Enabled reports whether an MQTT broker is configured.
func (c MQTTConfig) Enabled() bool {
	return strings.TrimSpace(c.Broker) != ""
}

// Load reads configuration from env, then overlays the YAML file named by CONFIG_FILE.
func Load() (Config, error) {
	cfg := FromEnv()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}
	return cfg, cfg.Validate()
}

// FromEnv builds configuration from environment variables with defaults.
func FromEnv() Config {
	return Config{
		HTTPAddr:                 getenvDefault("HTTP_ADDR", ":8080"),
		LogLevel:                 getenvDefault("LOG_LEVEL", "info"),
		DatabaseURL:              getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		TelemetryBatchMaxUpdates: getenvIntDefault("TELEMETRY_BATCH_MAX_UPDATES", DefaultTelemetryBatchMaxUpdates),
		TelemetrySink:            getenvDefault("TELEMETRY_SINK", SinkPostgres),
		Influx: InfluxConfig{
			URL:         os.Getenv("INFLUX_URL"),
			Token:       os.Getenv("INFLUX_TOKEN"),
			Org:         os.Getenv("INFLUX_ORG"),
			Bucket:      os.Getenv("INFLUX_BUCKET"),
			Measurement: getenvDefault("INFLUX_MEASUREMENT", "telemetry"),
		},
		MQTT: MQTTConfig{
			Broker:         os.Getenv("MQTT_BROKER"),
			Username:       os.Getenv("MQTT_USERNAME"),
			Password:       os.Getenv("MQTT_PASSWORD"),
			ClientID:       getenvDefault("MQTT_CLIENT_ID", "greenhouse-cloud"),
			TopicPrefix:    getenvDefault("MQTT_TOPIC_PREFIX", "greenhouse"),
			ConnectTimeout: getenvDuration("MQTT_CONNECT_TIMEOUT", 10*time.Second),
		},
		JWTSecret:         getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		IngestSecret:      os.Getenv("INGEST_HMAC_SECRET"),
		IngestSkewSeconds: getenvIntDefault("INGEST_MAX_SKEW_SECONDS", 300),

		RealtimeAllowedOrigins: splitList(os.Getenv("REALTIME_ALLOWED_ORIGINS")),
	}
}

// Validate checks required settings.
func (c Config) Validate() error {
	if c.TelemetryBatchMaxUpdates <= 0 {
		return errors.New("config: telemetry_batch_max_updates must be positive")
	}
	if c.JWTSecret == "" {
		return errors.New("config: AUTH_JWT_SECRET is required")
	}
	switch c.TelemetrySink {
	case SinkPostgres:
		if c.DatabaseURL == "" {
			return errors.New("config: DATABASE_URL or PG_DSN is required")
		}
	case SinkInflux:
		if c.Influx.URL == "" || c.Influx.Token == "" || c.Influx.Org == "" || c.Influx.Bucket == "" {
			return errors.New("config: influx sink requires url, token, org and bucket")
		}
	default:
		return errors.New("config: unknown telemetry sink " + strconv.Quote(c.TelemetrySink))
	}
	return nil
}

// IngestSkew returns the accepted ingest signature clock skew.
func (c Config) IngestSkew() time.Duration {
	return time.Duration(c.IngestSkewSeconds) * time.Second
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
