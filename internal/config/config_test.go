package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	config := DefaultConfig()
	config.Auth.Secret = "test-secret"
	return config
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

// FUNCTIONAL VALIDATION TEST: Default configuration provides production-ready settings
func TestConfig_DefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.Database.Path == "" {
		t.Error("Default database path should not be empty")
	}
	if config.HTTP.Port <= 0 {
		t.Error("Default HTTP port should be positive")
	}
	if config.WebSocket.PingInterval >= config.WebSocket.ReadTimeout {
		t.Error("Default ping interval must be shorter than the read timeout")
	}
	if config.Auth.Secret != "" {
		t.Error("There must be no default auth secret")
	}
	if config.Address() != "0.0.0.0:8080" {
		t.Errorf("Unexpected default address %q", config.Address())
	}
}

// FUNCTIONAL VALIDATION TEST: Defaults alone are refused because there is no secret
func TestConfig_ValidateRequiresSecret(t *testing.T) {
	if err := DefaultConfig().Validate(); !errors.Is(err, ErrMissingSecret) {
		t.Errorf("Expected ErrMissingSecret, got %v", err)
	}
	if err := validConfig().Validate(); err != nil {
		t.Errorf("Valid config should pass validation: %v", err)
	}
}

func TestConfig_CompleteValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{"nil section", func(c *Config) { c.Log = nil }, "section is required"},
		{"port too high", func(c *Config) { c.HTTP.Port = 70000 }, "port"},
		{"empty host", func(c *Config) { c.HTTP.Host = "" }, "host"},
		{"zero shutdown timeout", func(c *Config) { c.HTTP.ShutdownTimeout = 0 }, "HTTP timeouts"},
		{"ping not below read timeout", func(c *Config) { c.WebSocket.PingInterval = c.WebSocket.ReadTimeout }, "exceed the ping interval"},
		{"zero buffer", func(c *Config) { c.WebSocket.BufferSize = 0 }, "buffer size"},
		{"zero frame size", func(c *Config) { c.WebSocket.MaxMessageSize = 0 }, "max message size"},
		{"negative leeway", func(c *Config) { c.Auth.Leeway = -time.Second }, "leeway"},
		{"empty database path", func(c *Config) { c.Database.Path = "" }, "database path"},
		{"negative purge interval", func(c *Config) { c.Database.PurgeInterval = -time.Minute }, "purge interval"},
		{"negative rate", func(c *Config) { c.RateLimit.EventsPerSecond = -1 }, "rate limit"},
		{"rate without burst", func(c *Config) { c.RateLimit.Burst = 0 }, "burst"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := validConfig()
			tt.mutate(config)
			err := config.Validate()
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Expected error containing %q, got %q", tt.errMsg, err.Error())
			}
		})
	}
}

func TestConfig_RateLimitDisabled(t *testing.T) {
	config := validConfig()
	config.RateLimit.EventsPerSecond = 0
	config.RateLimit.Burst = 0
	if err := config.Validate(); err != nil {
		t.Errorf("Disabled rate limiting should validate: %v", err)
	}
}

// FUNCTIONAL VALIDATION TEST: Environment variable configuration loading
func TestConfig_LoadFromEnv(t *testing.T) {
	t.Setenv("MEDRELAY_HTTP_PORT", "9090")
	t.Setenv("MEDRELAY_DATABASE_PATH", "/tmp/test.db")
	t.Setenv("MEDRELAY_AUTH_SECRET", "s3cret")
	t.Setenv("MEDRELAY_AUTH_SERVICE_KEY", "svc")
	t.Setenv("MEDRELAY_AUTH_LEEWAY", "5s")
	t.Setenv("MEDRELAY_WEBSOCKET_MAX_MESSAGE_SIZE", "1024")
	t.Setenv("MEDRELAY_RATE_LIMIT_EVENTS_PER_SECOND", "2.5")
	t.Setenv("MEDRELAY_LOG_LEVEL", "debug")

	config := LoadFromEnv()

	if config.HTTP.Port != 9090 {
		t.Errorf("Expected HTTP port 9090, got %d", config.HTTP.Port)
	}
	if config.Database.Path != "/tmp/test.db" {
		t.Errorf("Expected database path /tmp/test.db, got %s", config.Database.Path)
	}
	if config.Auth.Secret != "s3cret" || config.Auth.ServiceKey != "svc" {
		t.Error("Secrets not read from the environment")
	}
	if config.Auth.Leeway != 5*time.Second {
		t.Errorf("Expected leeway 5s, got %v", config.Auth.Leeway)
	}
	if config.WebSocket.MaxMessageSize != 1024 {
		t.Errorf("Expected max message size 1024, got %d", config.WebSocket.MaxMessageSize)
	}
	if config.RateLimit.EventsPerSecond != 2.5 {
		t.Errorf("Expected 2.5 events/s, got %v", config.RateLimit.EventsPerSecond)
	}
	if config.Log.Level != "debug" {
		t.Errorf("Expected debug level, got %s", config.Log.Level)
	}
}

func TestConfig_LoadFromEnvEdgeCases(t *testing.T) {
	t.Setenv("MEDRELAY_HTTP_PORT", "not-a-number")
	t.Setenv("MEDRELAY_DATABASE_TIMEOUT", "forever")

	config := LoadFromEnv()
	defaults := DefaultConfig()

	if config.HTTP.Port != defaults.HTTP.Port {
		t.Errorf("Unparseable port should keep default, got %d", config.HTTP.Port)
	}
	if config.Database.Timeout != defaults.Database.Timeout {
		t.Errorf("Unparseable timeout should keep default, got %v", config.Database.Timeout)
	}
}

// FUNCTIONAL VALIDATION TEST: File-based configuration with duration strings
func TestConfig_LoadFromFile(t *testing.T) {
	path := writeConfigFile(t, `{
		"http": {"port": 9000, "read_timeout": "45s"},
		"websocket": {"ping_interval": "20s", "read_timeout": "50s", "buffer_size": 64},
		"auth": {"issuer": "medrelay-crud", "leeway": "1m"},
		"database": {"path": "/var/lib/medrelay/tokens.db", "purge_interval": "30m"},
		"rate_limit": {"events_per_second": 10, "burst": 40},
		"log": {"level": "warn"}
	}`)

	config, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if config.HTTP.Port != 9000 || config.HTTP.ReadTimeout != 45*time.Second {
		t.Errorf("HTTP section not applied: %+v", config.HTTP)
	}
	if config.HTTP.WriteTimeout != DefaultConfig().HTTP.WriteTimeout {
		t.Error("Unset fields should keep defaults")
	}
	if config.WebSocket.PingInterval != 20*time.Second || config.WebSocket.BufferSize != 64 {
		t.Errorf("WebSocket section not applied: %+v", config.WebSocket)
	}
	if config.Auth.Issuer != "medrelay-crud" || config.Auth.Leeway != time.Minute {
		t.Errorf("Auth section not applied: %+v", config.Auth)
	}
	if config.Database.PurgeInterval != 30*time.Minute {
		t.Errorf("Expected purge interval 30m, got %v", config.Database.PurgeInterval)
	}
	if config.RateLimit.Burst != 40 || config.Log.Level != "warn" {
		t.Error("Rate limit or log section not applied")
	}
}

func TestConfig_LoadFromFileErrors(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("Expected error for missing file")
	}

	if _, err := LoadFromFile(writeConfigFile(t, `{"http": `)); err == nil {
		t.Error("Expected error for invalid JSON")
	}

	_, err := LoadFromFile(writeConfigFile(t, `{"websocket": {"ping_interval": "soon"}}`))
	if err == nil || !strings.Contains(err.Error(), "websocket.ping_interval") {
		t.Errorf("Expected a duration error naming the field, got %v", err)
	}
}

func TestConfig_FileCannotCarrySecret(t *testing.T) {
	config, err := LoadFromFile(writeConfigFile(t, `{"auth": {"secret": "from-disk", "service_key": "k"}}`))
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if config.Auth.Secret != "" || config.Auth.ServiceKey != "" {
		t.Error("Secrets must not be read from files")
	}
}

// FUNCTIONAL VALIDATION TEST: Precedence is environment > file > defaults
func TestConfig_LoadConfigWithPrecedence(t *testing.T) {
	path := writeConfigFile(t, `{"http": {"port": 9000, "host": "127.0.0.1"}}`)
	t.Setenv("MEDRELAY_AUTH_SECRET", "s3cret")
	t.Setenv("MEDRELAY_HTTP_PORT", "9100")

	config, err := LoadConfigWithPrecedence(path)
	if err != nil {
		t.Fatalf("LoadConfigWithPrecedence failed: %v", err)
	}
	if config.HTTP.Port != 9100 {
		t.Errorf("Environment should override the file, got port %d", config.HTTP.Port)
	}
	if config.HTTP.Host != "127.0.0.1" {
		t.Errorf("File should override defaults, got host %s", config.HTTP.Host)
	}
}

func TestConfig_LoadConfigWithPrecedenceErrors(t *testing.T) {
	t.Setenv("MEDRELAY_AUTH_SECRET", "")
	if _, err := LoadConfigWithPrecedence(""); !errors.Is(err, ErrMissingSecret) {
		t.Errorf("Expected ErrMissingSecret, got %v", err)
	}

	t.Setenv("MEDRELAY_AUTH_SECRET", "s3cret")
	if _, err := LoadConfigWithPrecedence(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("An explicitly named file that cannot be read is an error")
	}
	if _, err := LoadConfigWithPrecedence(""); err != nil {
		t.Errorf("Defaults plus secret should load: %v", err)
	}
}
