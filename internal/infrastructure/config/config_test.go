package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validJWTSecret = "test-secret-key-at-least-32-chars!"

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func validConfig() *Config {
	cfg := defaultConfig()
	cfg.Security.JWT.Secret = validJWTSecret
	cfg.Tools.MCPURL = "http://tools.local/mcp/{user}"
	return cfg
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
database:
  path: "/tmp/triggerflow-test.db"
mqtt:
  broker:
    host: "broker.local"
    port: 1884
security:
  jwt:
    secret: "`+validJWTSecret+`"
llm:
  model: "anthropic/claude-3-haiku"
  max_agent_turns: 4
tools:
  mcp_url: "http://tools.local/mcp/{user}"
engine:
  sweep_interval: 30s
  session_ttl: 2h
webhook:
  timeout: 5s
rules:
  seed_file: "configs/rules.yaml"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Path != "/tmp/triggerflow-test.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if cfg.MQTT.Broker.Host != "broker.local" || cfg.MQTT.Broker.Port != 1884 {
		t.Errorf("MQTT.Broker = %+v", cfg.MQTT.Broker)
	}
	if cfg.LLM.Model != "anthropic/claude-3-haiku" || cfg.LLM.MaxAgentTurns != 4 {
		t.Errorf("LLM = %+v", cfg.LLM)
	}
	if cfg.Engine.SweepInterval != 30*time.Second {
		t.Errorf("Engine.SweepInterval = %v, want 30s", cfg.Engine.SweepInterval)
	}
	if cfg.Engine.SessionTTL != 2*time.Hour {
		t.Errorf("Engine.SessionTTL = %v, want 2h", cfg.Engine.SessionTTL)
	}
	if cfg.Webhook.Timeout != 5*time.Second {
		t.Errorf("Webhook.Timeout = %v, want 5s", cfg.Webhook.Timeout)
	}
	if cfg.Rules.SeedFile != "configs/rules.yaml" {
		t.Errorf("Rules.SeedFile = %q", cfg.Rules.SeedFile)
	}

	// Untouched sections keep their defaults.
	if cfg.Engine.IngestWorkers != 4 {
		t.Errorf("Engine.IngestWorkers = %d, want default 4", cfg.Engine.IngestWorkers)
	}
	if cfg.MQTT.TopicPrefix != "triggerflow" {
		t.Errorf("MQTT.TopicPrefix = %q, want default", cfg.MQTT.TopicPrefix)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "llm: [unterminated")
	if _, err := Load(path); err == nil {
		t.Error("Load() expected parse error, got nil")
	}
}

func TestLoad_ValidationError(t *testing.T) {
	path := writeConfig(t, `
security:
  jwt:
    secret: "`+validJWTSecret+`"
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() expected validation error for missing tools.mcp_url, got nil")
	}
	if !strings.Contains(err.Error(), "tools.mcp_url") {
		t.Errorf("error = %v, want mention of tools.mcp_url", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid config", func(c *Config) {}, ""},
		{"missing database path", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"invalid QoS", func(c *Config) { c.MQTT.QoS = 3 }, "mqtt.qos"},
		{"missing topic prefix", func(c *Config) { c.MQTT.TopicPrefix = "" }, "mqtt.topic_prefix"},
		{"topic prefix not needed when disabled", func(c *Config) {
			c.MQTT.Enabled = false
			c.MQTT.TopicPrefix = ""
		}, ""},
		{"invalid port low", func(c *Config) { c.API.Port = 0 }, "api.port"},
		{"invalid port high", func(c *Config) { c.API.Port = 70000 }, "api.port"},
		{"missing JWT secret", func(c *Config) { c.Security.JWT.Secret = "" }, "security.jwt.secret is required"},
		{"JWT secret too short", func(c *Config) { c.Security.JWT.Secret = "short" }, "at least 32"},
		{"missing model", func(c *Config) { c.LLM.Model = "" }, "llm.model"},
		{"zero agent turns", func(c *Config) { c.LLM.MaxAgentTurns = 0 }, "llm.max_agent_turns"},
		{"negative rate", func(c *Config) { c.LLM.RequestsPerSecond = -1 }, "requests_per_second"},
		{"fast sweep", func(c *Config) { c.Engine.SweepInterval = 10 * time.Millisecond }, "sweep_interval"},
		{"no workers", func(c *Config) { c.Engine.IngestWorkers = 0 }, "ingest_workers"},
		{"influx enabled without url", func(c *Config) { c.InfluxDB.Enabled = true }, "influxdb.url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() error = nil, want %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_ValidateCollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Database.Path = ""
	cfg.API.Port = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() error = nil")
	}
	msg := err.Error()
	if !strings.HasPrefix(msg, "configuration errors: ") {
		t.Errorf("error = %q, want configuration errors prefix", msg)
	}
	if !strings.Contains(msg, "database.path") || !strings.Contains(msg, "api.port") {
		t.Errorf("error = %q, want both problems listed", msg)
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
	}

	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}
	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}
	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("TRIGGERFLOW_DATABASE_PATH", "/custom/path.db")
	t.Setenv("TRIGGERFLOW_MQTT_HOST", "mqtt.example.com")
	t.Setenv("TRIGGERFLOW_MQTT_USERNAME", "testuser")
	t.Setenv("TRIGGERFLOW_MQTT_PASSWORD", "testpass")
	t.Setenv("TRIGGERFLOW_MQTT_ENABLED", "false")
	t.Setenv("TRIGGERFLOW_API_PORT", "9090")
	t.Setenv("TRIGGERFLOW_LLM_API_KEY", "sk-test")
	t.Setenv("TRIGGERFLOW_TOOLS_MCP_URL", "http://mcp/{user}")
	t.Setenv("TRIGGERFLOW_TOOLS_API_KEY", "tools-key")
	t.Setenv("TRIGGERFLOW_JWT_SECRET", "jwt-secret")
	t.Setenv("TRIGGERFLOW_WEBHOOK_SECRET", "hook-secret")
	t.Setenv("TRIGGERFLOW_LOG_LEVEL", "debug")

	applyEnvOverrides(cfg)

	checks := []struct {
		field string
		got   string
		want  string
	}{
		{"Database.Path", cfg.Database.Path, "/custom/path.db"},
		{"MQTT.Broker.Host", cfg.MQTT.Broker.Host, "mqtt.example.com"},
		{"MQTT.Auth.Username", cfg.MQTT.Auth.Username, "testuser"},
		{"MQTT.Auth.Password", cfg.MQTT.Auth.Password, "testpass"},
		{"LLM.APIKey", cfg.LLM.APIKey, "sk-test"},
		{"Tools.MCPURL", cfg.Tools.MCPURL, "http://mcp/{user}"},
		{"Tools.APIKey", cfg.Tools.APIKey, "tools-key"},
		{"Security.JWT.Secret", cfg.Security.JWT.Secret, "jwt-secret"},
		{"Webhook.Secret", cfg.Webhook.Secret, "hook-secret"},
		{"Logging.Level", cfg.Logging.Level, "debug"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %q, want %q", c.field, c.got, c.want)
		}
	}
	if cfg.API.Port != 9090 {
		t.Errorf("API.Port = %d, want 9090", cfg.API.Port)
	}
	if cfg.MQTT.Enabled {
		t.Error("MQTT.Enabled = true, want false")
	}
}

func TestApplyEnvOverrides_IgnoresMalformedNumbers(t *testing.T) {
	cfg := defaultConfig()
	t.Setenv("TRIGGERFLOW_API_PORT", "not-a-port")
	applyEnvOverrides(cfg)
	if cfg.API.Port != 8080 {
		t.Errorf("API.Port = %d, want default 8080", cfg.API.Port)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Service.Name != "triggerflow" {
		t.Errorf("defaultConfig Service.Name = %q", cfg.Service.Name)
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.Engine.SessionTTL != time.Hour {
		t.Errorf("defaultConfig Engine.SessionTTL = %v, want 1h", cfg.Engine.SessionTTL)
	}
	if cfg.Engine.SweepInterval != time.Minute {
		t.Errorf("defaultConfig Engine.SweepInterval = %v, want 1m", cfg.Engine.SweepInterval)
	}
	if cfg.Engine.PreviewChars != 200 {
		t.Errorf("defaultConfig Engine.PreviewChars = %d, want 200", cfg.Engine.PreviewChars)
	}
}
