package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration settings for the application.
type Config struct {
	Environment string          `mapstructure:"environment"`
	LogLevel    string          `mapstructure:"log_level"`
	Database    DatabaseConfig  `mapstructure:"database"`
	HTTP        HTTPConfig      `mapstructure:"http"`
	Auth        AuthConfig      `mapstructure:"auth"`
	Events      EventsConfig    `mapstructure:"events"`
	Sessions    SessionConfig   `mapstructure:"sessions"`
	Sweeper     SweeperConfig   `mapstructure:"sweeper"`
	Reputation  ReputationConfig `mapstructure:"reputation"`
}

// DatabaseConfig holds database connection settings. An empty URL selects the
// in-memory repository.
type DatabaseConfig struct {
	URL      string        `mapstructure:"url"`
	MaxConns int           `mapstructure:"max_conns"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// HTTPConfig holds the API listener settings.
type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig holds bearer-token verification settings.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

// EventsConfig holds the external event transport settings. Empty values
// disable the corresponding sink.
type EventsConfig struct {
	RedisURL        string   `mapstructure:"redis_url"`
	KafkaBrokers    []string `mapstructure:"kafka_brokers"`
	GenerationTopic string   `mapstructure:"generation_topic"`
}

// SessionConfig holds defaults applied to new sessions.
type SessionConfig struct {
	DefaultMaxSubmissions int `mapstructure:"default_max_submissions"`
}

// SweeperConfig drives the periodic deadline sweep.
type SweeperConfig struct {
	Schedule string `mapstructure:"schedule"`
	Enabled  bool   `mapstructure:"enabled"`
}

// ReputationConfig holds the lifecycle score rewards.
type ReputationConfig struct {
	VoteCastScore           int64 `mapstructure:"vote_cast_score"`
	SubmissionAcceptedScore int64 `mapstructure:"submission_accepted_score"`
	SessionWonScore         int64 `mapstructure:"session_won_score"`
}

// Load reads the configuration file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set default configuration values
	setDefaults(v)

	// Read the config file
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, will rely on defaults and env vars
	}

	// Override with environment variables
	v.SetEnvPrefix("SONGFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Parse the configuration
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr cannot be empty")
	}
	if c.Sessions.DefaultMaxSubmissions <= 0 {
		return fmt.Errorf("sessions.default_max_submissions must be positive")
	}
	if c.Sweeper.Enabled && c.Sweeper.Schedule == "" {
		return fmt.Errorf("sweeper.schedule cannot be empty when the sweeper is enabled")
	}
	if len(c.Events.KafkaBrokers) > 0 && c.Events.GenerationTopic == "" {
		return fmt.Errorf("events.generation_topic required when kafka brokers are set")
	}
	if c.Reputation.VoteCastScore < 0 || c.Reputation.SubmissionAcceptedScore < 0 || c.Reputation.SessionWonScore < 0 {
		return fmt.Errorf("reputation scores cannot be negative")
	}
	return nil
}

// setDefaults sets default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// General defaults
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")

	// Database defaults
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.timeout", "30s")

	// HTTP defaults
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", "10s")
	v.SetDefault("http.write_timeout", "15s")
	v.SetDefault("http.shutdown_timeout", "10s")

	// Auth defaults
	v.SetDefault("auth.issuer", "songforge")

	// Session defaults
	v.SetDefault("sessions.default_max_submissions", 3)

	// Sweeper defaults: every minute, with seconds field
	v.SetDefault("sweeper.enabled", true)
	v.SetDefault("sweeper.schedule", "0 * * * * *")

	// Reputation reward defaults
	v.SetDefault("reputation.vote_cast_score", 5)
	v.SetDefault("reputation.submission_accepted_score", 25)
	v.SetDefault("reputation.session_won_score", 250)
}
