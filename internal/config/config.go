package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Addr          string        `yaml:"addr"`
	JWTSecret     string        `yaml:"jwt_secret"`
	APITimeout    time.Duration `yaml:"timeout"`
	DatabasePath  string        `yaml:"database_path"`
	TokenDuration time.Duration `yaml:"token_duration"`
	QueueConfig   QueueConfig   `yaml:"queue"`
	EngineConfig  EngineConfig  `yaml:"engine"`
	OllamaConfig  OllamaConfig  `yaml:"ollama"`
}

// QueueConfig holds the limits and keys for the AI processing queue.
type QueueConfig struct {
	// MinInterval is the minimum gap between two processing requests per user.
	MinInterval time.Duration `yaml:"min_interval"`
	// MaxPerDay caps completed processing runs per user per UTC calendar day.
	MaxPerDay int `yaml:"max_per_day"`
	// MaxReprocess caps how many times one thought may be reprocessed.
	MaxReprocess int `yaml:"max_reprocess"`
	// SnapshotTTL is how long a cached subscription snapshot stays valid.
	SnapshotTTL time.Duration `yaml:"snapshot_ttl"`
	// OverrideKey, when set and matched, lets anonymous sessions bypass the
	// explicit allow_ai opt-in.
	OverrideKey string `yaml:"override_key"`
}

type EngineConfig struct {
	Model         string         `yaml:"model"`
	Template      PromptTemplate `yaml:"template"`
	Timeout       time.Duration  `yaml:"timeout"`
	SchemaVersion string         `yaml:"schema_version"`
}

type PromptTemplate struct {
	Version  string `yaml:"version"`
	Template string `yaml:"template"`
}

type OllamaConfig struct {
	BaseURL                 string        `yaml:"base_url"`
	DefaultModelNames       []string      `yaml:"models"`
	Timeout                 time.Duration `yaml:"timeout"`
	Retries                 int           `yaml:"retries"`
	Backoff                 time.Duration `yaml:"backoff"`
	CircuitFailureThreshold int           `yaml:"circuit_failure_threshold"`
	CircuitReset            time.Duration `yaml:"circuit_reset"`
}

func LoadConfig(path string) (*Config, error) {
	cfg := &Config{
		Addr:          getEnv("RUMINATE_ADDR", ":8080"),
		JWTSecret:     getEnv("RUMINATE_JWT_SECRET", "supersecretkey"),
		APITimeout:    15 * time.Second,
		DatabasePath:  getEnv("RUMINATE_DATABASE_PATH", "ruminate.db"),
		TokenDuration: 1 * time.Hour,
		QueueConfig:   DefaultQueueConfig(),
	}
	cfg.QueueConfig.OverrideKey = getEnv("RUMINATE_OVERRIDE_KEY", "")

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		dec := yaml.NewDecoder(f)
		if err := dec.Decode(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Validate rejects configurations that are unsafe to run with. The default
// JWT secret is tolerated only when RUMINATE_ENV is development.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr must be set")
	}
	if c.JWTSecret == "" || (c.JWTSecret == "supersecretkey" && getEnv("RUMINATE_ENV", "development") != "development") {
		return fmt.Errorf("jwt_secret must be set to a non-default value outside development")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database_path must be set")
	}
	if c.QueueConfig.MinInterval < 0 {
		return fmt.Errorf("queue.min_interval must not be negative")
	}
	if c.QueueConfig.MaxPerDay <= 0 {
		return fmt.Errorf("queue.max_per_day must be positive")
	}
	if c.QueueConfig.MaxReprocess <= 0 {
		return fmt.Errorf("queue.max_reprocess must be positive")
	}
	return nil
}

// DefaultQueueConfig returns the limits used when no config file overrides them.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		MinInterval:  10 * time.Second,
		MaxPerDay:    50,
		MaxReprocess: 5,
		SnapshotTTL:  60 * time.Second,
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return def
}
