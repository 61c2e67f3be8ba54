package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// ErrMissingSecret is returned by Validate when no token signing secret is configured
var ErrMissingSecret = errors.New("auth secret is required (set MEDRELAY_AUTH_SECRET)")

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
// Clean separation between configuration management and business logic
type Config struct {
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Auth      *AuthConfig      `json:"auth"`
	Database  *DatabaseConfig  `json:"database"`
	RateLimit *RateLimitConfig `json:"rate_limit"`
	Log       *LogConfig       `json:"log"`
}

type HTTPConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

// FUNCTIONAL DISCOVERY: ReadTimeout doubles as the pong wait, so PingInterval must stay below it
type WebSocketConfig struct {
	PingInterval   time.Duration `json:"ping_interval"`
	ReadTimeout    time.Duration `json:"read_timeout"`
	WriteTimeout   time.Duration `json:"write_timeout"`
	BufferSize     int           `json:"buffer_size"`
	MaxMessageSize int64         `json:"max_message_size"`
}

type AuthConfig struct {
	Secret string        `json:"-"`
	Issuer string        `json:"issuer"`
	Leeway time.Duration `json:"leeway"`
	// ServiceKey guards the revocation endpoint; empty disables it
	ServiceKey string `json:"-"`
}

// Database holds the token revocation list only; chat and appointment state stay in memory
type DatabaseConfig struct {
	Path          string        `json:"path"`
	Timeout       time.Duration `json:"timeout"`
	PurgeInterval time.Duration `json:"purge_interval"`
}

// EventsPerSecond of zero disables inbound message rate limiting
type RateLimitConfig struct {
	EventsPerSecond float64 `json:"events_per_second"`
	Burst           int     `json:"burst"`
}

type LogConfig struct {
	Level string `json:"level"`
}

// DefaultConfig returns production-ready defaults. The auth secret has no default.
func DefaultConfig() *Config {
	return &Config{
		HTTP: &HTTPConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		WebSocket: &WebSocketConfig{
			PingInterval:   30 * time.Second,
			ReadTimeout:    60 * time.Second,
			WriteTimeout:   10 * time.Second,
			BufferSize:     256,
			MaxMessageSize: 64 * 1024,
		},
		Auth: &AuthConfig{
			Leeway: 30 * time.Second,
		},
		Database: &DatabaseConfig{
			Path:          "./data/medrelay.db",
			Timeout:       30 * time.Second,
			PurgeInterval: time.Hour,
		},
		RateLimit: &RateLimitConfig{
			EventsPerSecond: 5,
			Burst:           20,
		},
		Log: &LogConfig{
			Level: "info",
		},
	}
}

// FUNCTIONAL DISCOVERY: Comprehensive validation prevents invalid system configurations
// Critical for preventing runtime failures in production deployment
func (c *Config) Validate() error {
	if c.HTTP == nil || c.WebSocket == nil || c.Auth == nil || c.Database == nil || c.RateLimit == nil || c.Log == nil {
		return fmt.Errorf("every configuration section is required")
	}

	// Port 0 asks the kernel for a free port
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 0 and 65535")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 || c.HTTP.ShutdownTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}

	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}
	if c.WebSocket.MaxMessageSize <= 0 {
		return fmt.Errorf("WebSocket max message size must be positive")
	}

	if c.Auth.Secret == "" {
		return ErrMissingSecret
	}
	if c.Auth.Leeway < 0 {
		return fmt.Errorf("auth leeway cannot be negative")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}
	if c.Database.PurgeInterval < 0 {
		return fmt.Errorf("database purge interval cannot be negative")
	}

	if c.RateLimit.EventsPerSecond < 0 {
		return fmt.Errorf("rate limit cannot be negative")
	}
	if c.RateLimit.EventsPerSecond > 0 && c.RateLimit.Burst <= 0 {
		return fmt.Errorf("rate limit burst must be positive when limiting is enabled")
	}

	return nil
}

// Address returns the HTTP listen address
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

// FUNCTIONAL DISCOVERY: Environment variable configuration enables deployment flexibility
// Supports containerized deployments and configuration management systems
func LoadFromEnv() *Config {
	return applyEnv(DefaultConfig())
}

// applyEnv overrides config with every MEDRELAY_* variable that is set and parses.
// Unparseable values are ignored and the previous value stays.
func applyEnv(config *Config) *Config {
	envString("MEDRELAY_HTTP_HOST", &config.HTTP.Host)
	envInt("MEDRELAY_HTTP_PORT", &config.HTTP.Port)
	envDuration("MEDRELAY_HTTP_READ_TIMEOUT", &config.HTTP.ReadTimeout)
	envDuration("MEDRELAY_HTTP_WRITE_TIMEOUT", &config.HTTP.WriteTimeout)
	envDuration("MEDRELAY_HTTP_SHUTDOWN_TIMEOUT", &config.HTTP.ShutdownTimeout)

	envDuration("MEDRELAY_WEBSOCKET_PING_INTERVAL", &config.WebSocket.PingInterval)
	envDuration("MEDRELAY_WEBSOCKET_READ_TIMEOUT", &config.WebSocket.ReadTimeout)
	envDuration("MEDRELAY_WEBSOCKET_WRITE_TIMEOUT", &config.WebSocket.WriteTimeout)
	envInt("MEDRELAY_WEBSOCKET_BUFFER_SIZE", &config.WebSocket.BufferSize)
	if size := os.Getenv("MEDRELAY_WEBSOCKET_MAX_MESSAGE_SIZE"); size != "" {
		if n, err := strconv.ParseInt(size, 10, 64); err == nil {
			config.WebSocket.MaxMessageSize = n
		}
	}

	envString("MEDRELAY_AUTH_SECRET", &config.Auth.Secret)
	envString("MEDRELAY_AUTH_ISSUER", &config.Auth.Issuer)
	envDuration("MEDRELAY_AUTH_LEEWAY", &config.Auth.Leeway)
	envString("MEDRELAY_AUTH_SERVICE_KEY", &config.Auth.ServiceKey)

	envString("MEDRELAY_DATABASE_PATH", &config.Database.Path)
	envDuration("MEDRELAY_DATABASE_TIMEOUT", &config.Database.Timeout)
	envDuration("MEDRELAY_DATABASE_PURGE_INTERVAL", &config.Database.PurgeInterval)

	if rate := os.Getenv("MEDRELAY_RATE_LIMIT_EVENTS_PER_SECOND"); rate != "" {
		if r, err := strconv.ParseFloat(rate, 64); err == nil {
			config.RateLimit.EventsPerSecond = r
		}
	}
	envInt("MEDRELAY_RATE_LIMIT_BURST", &config.RateLimit.Burst)

	envString("MEDRELAY_LOG_LEVEL", &config.Log.Level)
	return config
}

func envString(name string, target *string) {
	if v := os.Getenv(name); v != "" {
		*target = v
	}
}

func envInt(name string, target *int) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

func envDuration(name string, target *time.Duration) {
	if v := os.Getenv(name); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*target = d
		}
	}
}

// ConfigFile represents the JSON structure for file-based configuration
// FUNCTIONAL DISCOVERY: Separate struct for JSON parsing to handle duration strings.
// Secrets have no file fields.
type ConfigFile struct {
	HTTP      *HTTPConfigFile      `json:"http"`
	WebSocket *WebSocketConfigFile `json:"websocket"`
	Auth      *AuthConfigFile      `json:"auth"`
	Database  *DatabaseConfigFile  `json:"database"`
	RateLimit *RateLimitConfig     `json:"rate_limit"`
	Log       *LogConfig           `json:"log"`
}

type HTTPConfigFile struct {
	Host            string `json:"host"`
	Port            int    `json:"port"`
	ReadTimeout     string `json:"read_timeout"`
	WriteTimeout    string `json:"write_timeout"`
	ShutdownTimeout string `json:"shutdown_timeout"`
}

type WebSocketConfigFile struct {
	PingInterval   string `json:"ping_interval"`
	ReadTimeout    string `json:"read_timeout"`
	WriteTimeout   string `json:"write_timeout"`
	BufferSize     int    `json:"buffer_size"`
	MaxMessageSize int64  `json:"max_message_size"`
}

type AuthConfigFile struct {
	Issuer string `json:"issuer"`
	Leeway string `json:"leeway"`
}

type DatabaseConfigFile struct {
	Path          string `json:"path"`
	Timeout       string `json:"timeout"`
	PurgeInterval string `json:"purge_interval"`
}

// LoadFromFile reads a JSON config file over the defaults. The result carries no
// secret and is not validated; LoadConfigWithPrecedence completes and validates it.
func LoadFromFile(filepath string) (*Config, error) {
	return applyFile(DefaultConfig(), filepath)
}

func applyFile(config *Config, filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var file ConfigFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}

	p := durationParser{}
	if f := file.HTTP; f != nil {
		if f.Host != "" {
			config.HTTP.Host = f.Host
		}
		if f.Port > 0 {
			config.HTTP.Port = f.Port
		}
		p.parse("http.read_timeout", f.ReadTimeout, &config.HTTP.ReadTimeout)
		p.parse("http.write_timeout", f.WriteTimeout, &config.HTTP.WriteTimeout)
		p.parse("http.shutdown_timeout", f.ShutdownTimeout, &config.HTTP.ShutdownTimeout)
	}

	if f := file.WebSocket; f != nil {
		p.parse("websocket.ping_interval", f.PingInterval, &config.WebSocket.PingInterval)
		p.parse("websocket.read_timeout", f.ReadTimeout, &config.WebSocket.ReadTimeout)
		p.parse("websocket.write_timeout", f.WriteTimeout, &config.WebSocket.WriteTimeout)
		if f.BufferSize > 0 {
			config.WebSocket.BufferSize = f.BufferSize
		}
		if f.MaxMessageSize > 0 {
			config.WebSocket.MaxMessageSize = f.MaxMessageSize
		}
	}

	if f := file.Auth; f != nil {
		if f.Issuer != "" {
			config.Auth.Issuer = f.Issuer
		}
		p.parse("auth.leeway", f.Leeway, &config.Auth.Leeway)
	}

	if f := file.Database; f != nil {
		if f.Path != "" {
			config.Database.Path = f.Path
		}
		p.parse("database.timeout", f.Timeout, &config.Database.Timeout)
		p.parse("database.purge_interval", f.PurgeInterval, &config.Database.PurgeInterval)
	}

	if f := file.RateLimit; f != nil {
		if f.EventsPerSecond > 0 {
			config.RateLimit.EventsPerSecond = f.EventsPerSecond
		}
		if f.Burst > 0 {
			config.RateLimit.Burst = f.Burst
		}
	}

	if f := file.Log; f != nil && f.Level != "" {
		config.Log.Level = f.Level
	}

	if p.err != nil {
		return nil, fmt.Errorf("invalid duration in %s: %w", filepath, p.err)
	}
	return config, nil
}

// durationParser keeps the first parse failure so a typo in a file is reported, not ignored
type durationParser struct {
	err error
}

func (p *durationParser) parse(field, raw string, target *time.Duration) {
	if raw == "" || p.err != nil {
		return
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		p.err = fmt.Errorf("%s: %w", field, err)
		return
	}
	*target = d
}

// LoadConfigWithPrecedence layers defaults, then the file (if any), then the environment,
// and validates the result
// FUNCTIONAL DISCOVERY: Precedence is environment > file > defaults; secrets only ever
// come from the environment
func LoadConfigWithPrecedence(filepath string) (*Config, error) {
	config := DefaultConfig()

	if filepath != "" {
		var err error
		if config, err = applyFile(config, filepath); err != nil {
			return nil, err
		}
	}

	config = applyEnv(config)
	// ARCHITECTURAL DISCOVERY: Validate configuration after loading to catch errors early
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}
