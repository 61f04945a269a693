// Package config loads the convograph configuration from a YAML file,
// environment overrides and defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	yaml "go.yaml.in/yaml/v2"

	"github.com/dshills/convograph/internal/agent"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CONVOGRAPH_"

// Config holds all application configuration.
type Config struct {
	// Environment selects production or development logging.
	Environment string `yaml:"environment" validate:"oneof=development production"`
	LogLevel    string `yaml:"log_level" validate:"oneof=debug info warn error"`

	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Model     ModelConfig     `yaml:"model"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Agent     AgentConfig     `yaml:"agent"`
	Engine    EngineConfig    `yaml:"engine"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Address      string        `yaml:"address" validate:"required"`
	ReadTimeout  time.Duration `yaml:"read_timeout" validate:"gte=0"`
	WriteTimeout time.Duration `yaml:"write_timeout" validate:"gte=0"`
}

// StoreConfig selects and configures the checkpoint store.
type StoreConfig struct {
	Backend string `yaml:"backend" validate:"oneof=memory sqlite mysql redis dynamodb"`

	SQLitePath string `yaml:"sqlite_path" validate:"required_if=Backend sqlite"`
	MySQLDSN   string `yaml:"mysql_dsn" validate:"required_if=Backend mysql"`

	Redis    RedisConfig    `yaml:"redis"`
	DynamoDB DynamoDBConfig `yaml:"dynamodb"`
}

// RedisConfig configures the Redis store.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db" validate:"gte=0"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl" validate:"gte=0"`
}

// DynamoDBConfig configures the DynamoDB store.
type DynamoDBConfig struct {
	Table  string `yaml:"table"`
	Region string `yaml:"region"`
}

// ModelConfig selects the completion provider.
type ModelConfig struct {
	Provider string `yaml:"provider" validate:"oneof=anthropic openai google mock"`

	// Name is the provider model; empty selects the adapter default.
	Name   string `yaml:"name"`
	APIKey string `yaml:"api_key" validate:"required_unless=Provider mock"`

	Retry   RetryConfig   `yaml:"retry"`
	Breaker BreakerConfig `yaml:"breaker"`
}

// RetryConfig configures retries of transient provider failures.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" validate:"gte=1"`
	BaseDelay   time.Duration `yaml:"base_delay" validate:"gte=0"`
	MaxDelay    time.Duration `yaml:"max_delay" validate:"gtefield=BaseDelay"`
}

// BreakerConfig configures the provider circuit breaker.
type BreakerConfig struct {
	MaxRequests      uint32        `yaml:"max_requests" validate:"gte=1"`
	Interval         time.Duration `yaml:"interval" validate:"gte=0"`
	Timeout          time.Duration `yaml:"timeout" validate:"gt=0"`
	FailureThreshold float64       `yaml:"failure_threshold" validate:"gt=0,lte=1"`
	MinRequests      uint32        `yaml:"min_requests" validate:"gte=1"`
}

// CatalogConfig locates the dataset catalog.
type CatalogConfig struct {
	Dir  string `yaml:"dir" validate:"required"`
	TopN int    `yaml:"top_n" validate:"gte=1"`
}

// AgentConfig tunes the conversation graph.
type AgentConfig struct {
	MaxIterations int                 `yaml:"max_iterations" validate:"gte=1"`
	Clarify       agent.ClarifyPolicy `yaml:"clarify"`
}

// EngineConfig tunes the graph engine.
type EngineConfig struct {
	// MaxSteps caps node executions per invocation; 0 disables the cap.
	MaxSteps    int           `yaml:"max_steps" validate:"gte=0"`
	NodeTimeout time.Duration `yaml:"node_timeout" validate:"gte=0"`
}

// TelemetryConfig selects the observability outputs.
type TelemetryConfig struct {
	Metrics bool `yaml:"metrics"`
	Tracing bool `yaml:"tracing"`

	// EventLog writes engine events to stderr as text or json.
	EventLog string `yaml:"event_log" validate:"oneof=none text json"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Environment: "development",
		LogLevel:    "info",
		Server: ServerConfig{
			Address:      ":8080",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 2 * time.Minute,
		},
		Store: StoreConfig{
			Backend:    "memory",
			SQLitePath: "convograph.db",
			Redis:      RedisConfig{Addr: "localhost:6379", Prefix: "convograph:thread:"},
			DynamoDB:   DynamoDBConfig{Table: "convograph"},
		},
		Model: ModelConfig{
			Provider: "mock",
			Retry: RetryConfig{
				MaxAttempts: 3,
				BaseDelay:   500 * time.Millisecond,
				MaxDelay:    8 * time.Second,
			},
			Breaker: BreakerConfig{
				MaxRequests:      5,
				Interval:         30 * time.Second,
				Timeout:          60 * time.Second,
				FailureThreshold: 0.8,
				MinRequests:      5,
			},
		},
		Catalog: CatalogConfig{Dir: "sources", TopN: agent.DefaultTopN},
		Agent: AgentConfig{
			MaxIterations: agent.DefaultMaxIterations,
			Clarify:       agent.DefaultClarifyPolicy(),
		},
		Engine:    EngineConfig{MaxSteps: 100, NodeTimeout: 2 * time.Minute},
		Telemetry: TelemetryConfig{Metrics: true, EventLog: "none"},
	}
}

// Load reads path (optional), applies environment overrides and validates the
// result.
func Load(path string) (*Config, error) {
	return LoadWithEnv(path, os.Getenv)
}

// LoadWithEnv is Load with an explicit environment lookup.
func LoadWithEnv(path string, getenv func(string) string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	str := func(name string, dst *string) {
		if v := getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}
	str("ENV", &cfg.Environment)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("ADDR", &cfg.Server.Address)
	str("STORE", &cfg.Store.Backend)
	str("SQLITE_PATH", &cfg.Store.SQLitePath)
	str("MYSQL_DSN", &cfg.Store.MySQLDSN)
	str("REDIS_ADDR", &cfg.Store.Redis.Addr)
	str("REDIS_PASSWORD", &cfg.Store.Redis.Password)
	str("DYNAMODB_TABLE", &cfg.Store.DynamoDB.Table)
	str("DYNAMODB_REGION", &cfg.Store.DynamoDB.Region)
	str("MODEL_PROVIDER", &cfg.Model.Provider)
	str("MODEL_NAME", &cfg.Model.Name)
	str("MODEL_API_KEY", &cfg.Model.APIKey)
	str("CATALOG_DIR", &cfg.Catalog.Dir)

	if v := getenv(EnvPrefix + "MAX_ITERATIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sMAX_ITERATIONS: %w", EnvPrefix, err)
		}
		cfg.Agent.MaxIterations = n
	}

	if cfg.Model.APIKey == "" {
		if name, ok := providerKeyEnv[cfg.Model.Provider]; ok {
			cfg.Model.APIKey = getenv(name)
		}
	}
	return nil
}

// providerKeyEnv names the conventional API key variable of each provider.
var providerKeyEnv = map[string]string{
	"anthropic": "ANTHROPIC_API_KEY",
	"openai":    "OPENAI_API_KEY",
	"google":    "GOOGLE_API_KEY",
}

var validate = validator.New()

// Validate checks the struct tags of the whole configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}
	return nil
}

func formatValidationError(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msgs = append(msgs, formatFieldError(e))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func formatFieldError(e validator.FieldError) string {
	field := strings.TrimPrefix(e.Namespace(), "Config.")

	switch e.Tag() {
	case "required", "required_if", "required_unless":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "gte", "gt", "lte":
		return fmt.Sprintf("%s must be %s %s", field, e.Tag(), e.Param())
	default:
		return fmt.Sprintf("%s is invalid (%s)", field, e.Tag())
	}
}
