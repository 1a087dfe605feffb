package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Triggerflow Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	API      APIConfig      `yaml:"api"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
	Security SecurityConfig `yaml:"security"`
	LLM      LLMConfig      `yaml:"llm"`
	Tools    ToolsConfig    `yaml:"tools"`
	Engine   EngineConfig   `yaml:"engine"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	Rules    RulesConfig    `yaml:"rules"`
}

// ServiceConfig identifies this deployment.
type ServiceConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"` // seconds
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings, in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host         string           `yaml:"host"`
	Port         int              `yaml:"port"`
	Timeouts     APITimeoutConfig `yaml:"timeouts"`
	MaxBodyBytes int64            `yaml:"max_body_bytes"`
}

// APITimeoutConfig contains HTTP timeout settings, in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"` // seconds
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT verification settings. The subject claim is the user id.
type JWTConfig struct {
	Secret   string `yaml:"secret"`
	Issuer   string `yaml:"issuer"`
	Audience string `yaml:"audience"`
}

// LLMConfig configures the OpenAI-compatible chat endpoint used for
// classification and agent runs.
type LLMConfig struct {
	BaseURL           string        `yaml:"base_url"`
	APIKey            string        `yaml:"api_key"`
	Model             string        `yaml:"model"`
	ClassifierModel   string        `yaml:"classifier_model"`
	Temperature       float64       `yaml:"temperature"`
	MaxTokens         int           `yaml:"max_tokens"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	MaxAgentTurns     int           `yaml:"max_agent_turns"`
}

// ToolsConfig configures the per-user MCP tool server.
type ToolsConfig struct {
	// MCPURL is the streamable HTTP endpoint; "{user}" is replaced with the user id.
	MCPURL string `yaml:"mcp_url"`

	// APIKey, when set, is sent as a bearer token to the tool server.
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// EngineConfig tunes the rule engine.
type EngineConfig struct {
	SessionTTL    time.Duration `yaml:"session_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	IngestWorkers int           `yaml:"ingest_workers"`
	PreviewChars  int           `yaml:"notification_preview_chars"`
}

// WebhookConfig configures webhook output delivery.
type WebhookConfig struct {
	Timeout time.Duration `yaml:"timeout"`
	Secret  string        `yaml:"secret"`
}

// RulesConfig points at an optional YAML file of rules loaded at startup.
type RulesConfig struct {
	SeedFile string `yaml:"seed_file"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: TRIGGERFLOW_SECTION_KEY
// For example: TRIGGERFLOW_DATABASE_PATH, TRIGGERFLOW_LLM_API_KEY
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "triggerflow",
			Environment: "development",
		},
		Database: DatabaseConfig{
			Path:        "./data/triggerflow.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "triggerflow-core",
			},
			QoS:         1,
			TopicPrefix: "triggerflow",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 330, // manual runs may take minutes
				Idle:  60,
			},
			MaxBodyBytes: 1 << 20,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		LLM: LLMConfig{
			BaseURL:           "https://openrouter.ai/api/v1",
			Model:             "openai/gpt-4o-mini",
			Temperature:       0.2,
			MaxTokens:         2048,
			Timeout:           90 * time.Second,
			RequestsPerSecond: 5,
			Burst:             10,
			MaxAgentTurns:     8,
		},
		Tools: ToolsConfig{
			Timeout: 60 * time.Second,
		},
		Engine: EngineConfig{
			SessionTTL:    time.Hour,
			SweepInterval: time.Minute,
			IngestWorkers: 4,
			PreviewChars:  200,
		},
		Webhook: WebhookConfig{
			Timeout: 10 * time.Second,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: TRIGGERFLOW_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	// Database
	setString("TRIGGERFLOW_DATABASE_PATH", &cfg.Database.Path)

	// MQTT
	setString("TRIGGERFLOW_MQTT_HOST", &cfg.MQTT.Broker.Host)
	setString("TRIGGERFLOW_MQTT_USERNAME", &cfg.MQTT.Auth.Username)
	setString("TRIGGERFLOW_MQTT_PASSWORD", &cfg.MQTT.Auth.Password)
	if v := os.Getenv("TRIGGERFLOW_MQTT_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.MQTT.Enabled = b
		}
	}

	// API
	setString("TRIGGERFLOW_API_HOST", &cfg.API.Host)
	if v := os.Getenv("TRIGGERFLOW_API_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = p
		}
	}

	// InfluxDB
	setString("TRIGGERFLOW_INFLUXDB_TOKEN", &cfg.InfluxDB.Token)

	// Logging
	setString("TRIGGERFLOW_LOG_LEVEL", &cfg.Logging.Level)

	// LLM and tools
	setString("TRIGGERFLOW_LLM_BASE_URL", &cfg.LLM.BaseURL)
	setString("TRIGGERFLOW_LLM_API_KEY", &cfg.LLM.APIKey)
	setString("TRIGGERFLOW_LLM_MODEL", &cfg.LLM.Model)
	setString("TRIGGERFLOW_TOOLS_MCP_URL", &cfg.Tools.MCPURL)
	setString("TRIGGERFLOW_TOOLS_API_KEY", &cfg.Tools.APIKey)

	// Secrets
	setString("TRIGGERFLOW_JWT_SECRET", &cfg.Security.JWT.Secret)
	setString("TRIGGERFLOW_WEBHOOK_SECRET", &cfg.Webhook.Secret)
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.TopicPrefix == "" {
		errs = append(errs, "mqtt.topic_prefix is required when mqtt is enabled")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Tokens identify whose rules and tools are used, so a weak secret
	// would let callers act as any user.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set TRIGGERFLOW_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
	}

	if c.LLM.BaseURL == "" {
		errs = append(errs, "llm.base_url is required")
	}
	if c.LLM.Model == "" {
		errs = append(errs, "llm.model is required")
	}
	if c.LLM.MaxAgentTurns < 1 {
		errs = append(errs, "llm.max_agent_turns must be at least 1")
	}
	if c.LLM.RequestsPerSecond < 0 {
		errs = append(errs, "llm.requests_per_second cannot be negative")
	}

	if c.Tools.MCPURL == "" {
		errs = append(errs, "tools.mcp_url is required (set TRIGGERFLOW_TOOLS_MCP_URL)")
	}

	if c.Engine.SessionTTL <= 0 {
		errs = append(errs, "engine.session_ttl must be positive")
	}
	if c.Engine.SweepInterval < time.Second {
		errs = append(errs, "engine.sweep_interval must be at least 1s")
	}
	if c.Engine.IngestWorkers < 1 {
		errs = append(errs, "engine.ingest_workers must be at least 1")
	}

	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "" || c.InfluxDB.Org == "") {
		errs = append(errs, "influxdb.url, influxdb.org and influxdb.bucket are required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
