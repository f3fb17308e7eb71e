package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ClientConfig configures the fleetwatch operator client.
type ClientConfig struct {
	LogLevel    string   `yaml:"log_level"`
	APIURL      string   `yaml:"api_url"`
	RealtimeURL string   `yaml:"realtime_url"`
	Channels    []string `yaml:"channels"`
	MetricsAddr string   `yaml:"metrics_addr"`

	// Token is stored as the current credential at startup when set.
	Token            string        `yaml:"token"`
	RedisAddr        string        `yaml:"redis_addr"`
	CredentialPrefix string        `yaml:"credential_prefix"`
	GracePeriod      time.Duration `yaml:"grace_period"`

	RefreshInterval time.Duration `yaml:"refresh_interval"`
	BreakerFailures int           `yaml:"breaker_failures"`
	BreakerOpen     time.Duration `yaml:"breaker_open"`
	BreakerInterval time.Duration `yaml:"breaker_interval"`
}

// LoadClient reads client configuration from env, then overlays the YAML
// file named by FLEETWATCH_CONFIG_FILE.
func LoadClient() (ClientConfig, error) {
	cfg := ClientFromEnv()
	if path := os.Getenv("FLEETWATCH_CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}
	if cfg.RealtimeURL == "" {
		cfg.RealtimeURL = RealtimeURLFromAPI(cfg.APIURL)
	}
	return cfg, cfg.Validate()
}

// ClientFromEnv builds client configuration from environment variables.
func ClientFromEnv() ClientConfig {
	return ClientConfig{
		LogLevel:         getenvDefault("LOG_LEVEL", "info"),
		APIURL:           getenvDefault("FLEETWATCH_API_URL", "http://localhost:8080"),
		RealtimeURL:      os.Getenv("FLEETWATCH_REALTIME_URL"),
		Channels:         splitList(getenvDefault("FLEETWATCH_CHANNELS", "commands.global")),
		MetricsAddr:      os.Getenv("FLEETWATCH_METRICS_ADDR"),
		Token:            os.Getenv("FLEETWATCH_TOKEN"),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		CredentialPrefix: getenvDefault("FLEETWATCH_CREDENTIAL_PREFIX", "greenhouse:credential"),
		GracePeriod:      getenvDuration("FLEETWATCH_GRACE_PERIOD", 5*time.Second),
		RefreshInterval:  getenvDuration("FLEETWATCH_REFRESH_INTERVAL", 30*time.Second),
		BreakerFailures:  getenvIntDefault("FLEETWATCH_BREAKER_FAILURES", 3),
		BreakerOpen:      getenvDuration("FLEETWATCH_BREAKER_OPEN", 15*time.Second),
		BreakerInterval:  getenvDuration("FLEETWATCH_BREAKER_INTERVAL", time.Minute),
	}
}

// Validate checks required client settings.
func (c ClientConfig) Validate() error {
	if c.APIURL == "" {
		return errors.New("config: FLEETWATCH_API_URL is required")
	}
	if c.RealtimeURL == "" {
		return errors.New("config: realtime url could not be derived")
	}
	if c.RefreshInterval <= 0 {
		return errors.New("config: refresh_interval must be positive")
	}
	if c.BreakerFailures <= 0 {
		return errors.New("config: breaker_failures must be positive")
	}
	return nil
}

// RealtimeURLFromAPI maps http(s)://host to ws(s)://host/api/v1/realtime/ws.
func RealtimeURLFromAPI(apiURL string) string {
	base := strings.TrimRight(apiURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://") + "/api/v1/realtime/ws"
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://") + "/api/v1/realtime/ws"
	default:
		return ""
	}
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
