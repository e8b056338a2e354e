package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

var knownWeakSecrets = []string{
	"change-me", "dev-secret-change-me", "secret", "admin", "password",
}

// Config is the backend server configuration.
type Config struct {
	Port                  int    `env:"PORT" envDefault:"8080"`
	DatabaseURL           string `env:"DATABASE_URL,required"`
	RedisURL              string `env:"REDIS_URL,required"`
	TokenSecret           string `env:"TOKEN_SECRET,required"`
	PairingCodeTTLSeconds int    `env:"PAIRING_CODE_TTL_SECONDS" envDefault:"600"`
	LogLevel              string `env:"LOG_LEVEL" envDefault:"info"`
	PublicBaseURL         string `env:"PUBLIC_BASE_URL" envDefault:""`
}

func (c *Config) PairingCodeTTL() time.Duration {
	return time.Duration(c.PairingCodeTTLSeconds) * time.Second
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) Validate(isProduction bool) error {
	if c.PairingCodeTTLSeconds <= 0 || c.PairingCodeTTL() > MaxPairingWindow {
		return fmt.Errorf("PAIRING_CODE_TTL_SECONDS must be between 1 and %d", int(MaxPairingWindow.Seconds()))
	}

	if isProduction {
		if err := validateSecret("TOKEN_SECRET", c.TokenSecret); err != nil {
			return err
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
	}

	return nil
}

func validateSecret(name, value string) error {
	if len(value) < 32 {
		return fmt.Errorf("%s must be at least 32 characters in production (generate with: openssl rand -base64 32)", name)
	}
	for _, weak := range knownWeakSecrets {
		if value == weak {
			return fmt.Errorf("%s is a known weak default; set a strong secret in production", name)
		}
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// CompanionConfig configures the companion device agent.
type CompanionConfig struct {
	APIURL                   string  `env:"SENTINELR_API_URL,required"`
	StatePath                string  `env:"SENTINELR_STATE_PATH" envDefault:"sentinelr.db"`
	StateRedisURL            string  `env:"SENTINELR_STATE_REDIS_URL"`
	HeartbeatIntervalSeconds int     `env:"HEARTBEAT_INTERVAL_SECONDS" envDefault:"60"`
	MinDistanceMeters        float64 `env:"LOCATION_MIN_DISTANCE_METERS" envDefault:"50"`
	MinIntervalSeconds       int     `env:"LOCATION_MIN_INTERVAL_SECONDS" envDefault:"60"`
	BatchMaxDistanceMeters   float64 `env:"LOCATION_BATCH_MAX_DISTANCE_METERS" envDefault:"500"`
	BatchMaxSeconds          int     `env:"LOCATION_BATCH_MAX_SECONDS" envDefault:"300"`
	PingRetryQueueSize       int     `env:"PING_RETRY_QUEUE_SIZE" envDefault:"100"`
	DeviceName               string  `env:"DEVICE_NAME"`
	AppVersion               string  `env:"APP_VERSION" envDefault:"dev"`
	LogLevel                 string  `env:"LOG_LEVEL" envDefault:"info"`
}

func (c *CompanionConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalSeconds) * time.Second
}

func (c *CompanionConfig) MinInterval() time.Duration {
	return time.Duration(c.MinIntervalSeconds) * time.Second
}

func (c *CompanionConfig) BatchMaxAge() time.Duration {
	return time.Duration(c.BatchMaxSeconds) * time.Second
}

func LoadCompanion() (*CompanionConfig, error) {
	var cfg CompanionConfig
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse companion config: %w", err)
	}
	if cfg.HeartbeatIntervalSeconds <= 0 {
		return nil, fmt.Errorf("HEARTBEAT_INTERVAL_SECONDS must be positive")
	}
	if cfg.PingRetryQueueSize < 0 {
		return nil, fmt.Errorf("PING_RETRY_QUEUE_SIZE must not be negative")
	}
	return &cfg, nil
}

// DashboardConfig configures the operator-side sync daemon.
type DashboardConfig struct {
	APIURL                       string `env:"SENTINELR_API_URL,required"`
	OperatorToken                string `env:"SENTINELR_OPERATOR_TOKEN,required"`
	LivePollIntervalSeconds      int    `env:"LIVE_POLL_INTERVAL_SECONDS" envDefault:"30"`
	PairingWindowSeconds         int    `env:"PAIRING_WINDOW_SECONDS" envDefault:"600"`
	PairingConnectTimeoutSeconds int    `env:"PAIRING_CONNECT_TIMEOUT_SECONDS" envDefault:"30"`
	LogLevel                     string `env:"LOG_LEVEL" envDefault:"info"`
}

func (c *DashboardConfig) LivePollInterval() time.Duration {
	return time.Duration(c.LivePollIntervalSeconds) * time.Second
}

func (c *DashboardConfig) PairingWindow() time.Duration {
	return time.Duration(c.PairingWindowSeconds) * time.Second
}

func (c *DashboardConfig) PairingConnectTimeout() time.Duration {
	return time.Duration(c.PairingConnectTimeoutSeconds) * time.Second
}

func LoadDashboard() (*DashboardConfig, error) {
	var cfg DashboardConfig
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse dashboard config: %w", err)
	}
	return &cfg, nil
}
