package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"pulseoracle/internal/domain"
	"pulseoracle/internal/feed"
	natsps "pulseoracle/internal/pubsub/nats"
	"pulseoracle/internal/settlement"
	"pulseoracle/internal/twap"
)

type Config struct {
	App        AppConfig         `yaml:"app"`
	Logging    LoggingConfig     `yaml:"logging"`
	Security   SecurityConfig    `yaml:"security"`
	RateLimit  RateLimitConfig   `yaml:"rate_limit"`
	Feed       feed.Config       `yaml:"feed"`
	Assets     []domain.Asset    `yaml:"assets"`
	Twap       twap.Config       `yaml:"twap"`
	Settlement settlement.Config `yaml:"settlement"`
	Bus        BusConfig         `yaml:"bus"`
	Stores     StoresConfig      `yaml:"stores"`
	PubSub     PubSubConfig      `yaml:"pubsub"`
	API        APIConfig         `yaml:"api"`
	Metrics    MetricsConfig     `yaml:"metrics"`
}

type AppConfig struct {
	InstanceID      string        `yaml:"instance_id"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // json|console
}

type JWTConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Alg           string `yaml:"alg"` // RS256
	PublicKeyPath string `yaml:"public_key_path"`
	Audience      string `yaml:"audience"`
	Issuer        string `yaml:"issuer"`
}

type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

type RateLimitConfig struct {
	Enabled bool `yaml:"enabled"`
	ByIP    struct {
		RefillPerSec int `yaml:"refill_per_sec"`
		Burst        int `yaml:"burst"`
	} `yaml:"by_ip"`
}

type BusConfig struct {
	Capacity int `yaml:"capacity"`
}

type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	Prefix       string        `yaml:"prefix"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type ClickHouseWriterConfig struct {
	BatchMaxRows     int           `yaml:"batch_max_rows"`
	BatchMaxInterval time.Duration `yaml:"batch_max_interval"`
	MaxRetries       int           `yaml:"max_retries"`
	RetryBackoff     time.Duration `yaml:"retry_backoff"`
}

type ClickHouseConfig struct {
	Enabled bool                   `yaml:"enabled"`
	DSN     string                 `yaml:"dsn"`
	Writer  ClickHouseWriterConfig `yaml:"writer"`
}

type StoresConfig struct {
	Redis      RedisConfig      `yaml:"redis"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
}

type PubSubConfig struct {
	Enabled bool          `yaml:"enabled"`
	NATS    natsps.Config `yaml:"nats"`
}

type CORSConfig struct {
	Enabled bool     `yaml:"enabled"`
	Origins []string `yaml:"origins"`
	Methods []string `yaml:"methods"`
	Headers []string `yaml:"headers"`
}

type HTTPConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	CORS         CORSConfig    `yaml:"cors"`
}

type WSConfig struct {
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type APIConfig struct {
	HTTP HTTPConfig `yaml:"http"`
	WS   WSConfig   `yaml:"ws"`
}

type PyroscopeConfig struct {
	Enabled   bool   `yaml:"enabled"`
	ServerURL string `yaml:"server_url"`
	AppName   string `yaml:"app_name"`
}

type MetricsConfig struct {
	Pyroscope PyroscopeConfig `yaml:"pyroscope"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err = yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}

	if err = cfg.applyEnv(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyEnv lets deploy tooling override the fields that differ per
// environment without a config file edit.
func (c *Config) applyEnv() error {
	if addr := os.Getenv("ORACLE_BIND_ADDR"); addr != "" {
		c.API.HTTP.Addr = addr
	}

	if hours := os.Getenv("ORACLE_ROUND_HOURS"); hours != "" {
		n, err := strconv.ParseInt(hours, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid ORACLE_ROUND_HOURS %q: %w", hours, err)
		}
		c.Settlement.RoundDurationHours = n
	}

	return nil
}
