package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"chatgate/internal/logger"
)

// Rate limiter backends
const (
	RateLimitMemory = "memory"
	RateLimitRedis  = "redis"
)

// Relay backends
const (
	RelayNone  = "none"
	RelayRedis = "redis"
	RelayNATS  = "nats"
)

// Config is the system-wide settings tree
// ARCHITECTURAL DISCOVERY: Clean separation between configuration management and business logic
type Config struct {
	Database  *DatabaseConfig  `json:"database"`
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	RateLimit *RateLimitConfig `json:"rate_limit"`
	Redis     *RedisConfig     `json:"redis"`
	Relay     *RelayConfig     `json:"relay"`
	Auth      *AuthConfig      `json:"auth"`
	Log       *LogConfig       `json:"log"`
}

// DatabaseConfig configures the SQLite store
type DatabaseConfig struct {
	Path    string        `json:"path"`
	Timeout time.Duration `json:"timeout"`
}

// HTTPConfig configures the HTTP listener
type HTTPConfig struct {
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	Host         string        `json:"host"`
	CORSOrigins  []string      `json:"cors_origins"`
}

// WebSocketConfig configures connection heartbeats and buffers
type WebSocketConfig struct {
	PingInterval   time.Duration `json:"ping_interval"`
	ReadTimeout    time.Duration `json:"read_timeout"`
	WriteTimeout   time.Duration `json:"write_timeout"`
	BufferSize     int           `json:"buffer_size"`
	MaxMessageSize int64         `json:"max_message_size"`
	// AllowedOrigins bounds browser upgrades; empty falls back to HTTP.CORSOrigins
	AllowedOrigins []string `json:"allowed_origins"`
}

// RateLimitConfig configures per (user, channel) send limiting
// FUNCTIONAL DISCOVERY: Max of 0 disables limiting entirely
type RateLimitConfig struct {
	Window  time.Duration `json:"window"`
	Max     int           `json:"max"`
	Backend string        `json:"backend"`
}

// RedisConfig configures the shared Redis client
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// RelayConfig configures cross-process fan-out
type RelayConfig struct {
	Backend string `json:"backend"`
	NATSURL string `json:"nats_url"`
	Subject string `json:"subject"`
}

// AuthConfig configures bearer-token verification
type AuthConfig struct {
	JWTSecret string `json:"jwt_secret"`
}

// LogConfig configures the logger
type LogConfig struct {
	Level string `json:"level"`
}

// DefaultConfig returns defaults for a single-process deployment
func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Path:    "./chatgate.db",
			Timeout: 30 * time.Second,
		},
		HTTP: &HTTPConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			Host:         "0.0.0.0",
			CORSOrigins:  []string{"*"},
		},
		WebSocket: &WebSocketConfig{
			PingInterval:   30 * time.Second,
			ReadTimeout:    60 * time.Second,
			WriteTimeout:   10 * time.Second,
			BufferSize:     256,
			MaxMessageSize: 64 * 1024,
		},
		RateLimit: &RateLimitConfig{
			Window:  3 * time.Second,
			Max:     5,
			Backend: RateLimitMemory,
		},
		Redis: &RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Relay: &RelayConfig{
			Backend: RelayNone,
			NATSURL: "nats://127.0.0.1:4222",
			Subject: "chatgate.rooms",
		},
		Auth: &AuthConfig{
			JWTSecret: "change-me",
		},
		Log: &LogConfig{
			Level: "info",
		},
	}
}

// Validate rejects configurations that would fail at runtime
func (c *Config) Validate() error {
	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}

	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 {
		return fmt.Errorf("HTTP read timeout must be positive")
	}
	if c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP write timeout must be positive")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket read timeout must exceed ping interval")
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

	if c.RateLimit == nil {
		return fmt.Errorf("rate limit configuration is required")
	}
	if c.RateLimit.Max < 0 {
		return fmt.Errorf("rate limit max cannot be negative")
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate limit window must be positive")
	}
	switch c.RateLimit.Backend {
	case RateLimitMemory, RateLimitRedis:
	default:
		return fmt.Errorf("rate limit backend must be %q or %q", RateLimitMemory, RateLimitRedis)
	}

	if c.Relay == nil {
		return fmt.Errorf("relay configuration is required")
	}
	switch c.Relay.Backend {
	case RelayNone, RelayRedis:
	case RelayNATS:
		if c.Relay.NATSURL == "" {
			return fmt.Errorf("NATS URL is required for the nats relay")
		}
	default:
		return fmt.Errorf("relay backend must be one of %q, %q, %q", RelayNone, RelayRedis, RelayNATS)
	}
	if c.Relay.Subject == "" {
		return fmt.Errorf("relay subject cannot be empty")
	}

	if c.NeedsRedis() {
		if c.Redis == nil || c.Redis.Addr == "" {
			return fmt.Errorf("redis address is required when a redis backend is selected")
		}
	}

	if c.Auth == nil || c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT secret cannot be empty")
	}

	if c.Log == nil {
		return fmt.Errorf("log configuration is required")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log level must be debug, info, warn or error")
	}

	return nil
}

// NeedsRedis reports whether any component is backed by Redis
func (c *Config) NeedsRedis() bool {
	return (c.RateLimit != nil && c.RateLimit.Backend == RateLimitRedis) ||
		(c.Relay != nil && c.Relay.Backend == RelayRedis)
}

// LoadFromEnv applies CHATGATE_* environment variables over the defaults
func LoadFromEnv() *Config {
	config := DefaultConfig()
	applyEnv(config)
	return config
}

func applyEnv(config *Config) {
	setInt("CHATGATE_HTTP_PORT", &config.HTTP.Port)
	setString("CHATGATE_HTTP_HOST", &config.HTTP.Host)
	setDuration("CHATGATE_HTTP_READ_TIMEOUT", &config.HTTP.ReadTimeout)
	setDuration("CHATGATE_HTTP_WRITE_TIMEOUT", &config.HTTP.WriteTimeout)
	if origins := os.Getenv("CHATGATE_CORS_ORIGINS"); origins != "" {
		config.HTTP.CORSOrigins = splitList(origins)
	}

	setString("CHATGATE_DATABASE_PATH", &config.Database.Path)
	setDuration("CHATGATE_DATABASE_TIMEOUT", &config.Database.Timeout)

	setDuration("CHATGATE_WEBSOCKET_PING_INTERVAL", &config.WebSocket.PingInterval)
	setDuration("CHATGATE_WEBSOCKET_READ_TIMEOUT", &config.WebSocket.ReadTimeout)
	setDuration("CHATGATE_WEBSOCKET_WRITE_TIMEOUT", &config.WebSocket.WriteTimeout)
	setInt("CHATGATE_WEBSOCKET_BUFFER_SIZE", &config.WebSocket.BufferSize)
	if origins := os.Getenv("CHATGATE_WEBSOCKET_ALLOWED_ORIGINS"); origins != "" {
		config.WebSocket.AllowedOrigins = splitList(origins)
	}

	setDuration("CHATGATE_RATE_LIMIT_WINDOW", &config.RateLimit.Window)
	setInt("CHATGATE_RATE_LIMIT_MAX", &config.RateLimit.Max)
	setString("CHATGATE_RATE_LIMIT_BACKEND", &config.RateLimit.Backend)

	setString("CHATGATE_REDIS_ADDR", &config.Redis.Addr)
	setString("CHATGATE_REDIS_PASSWORD", &config.Redis.Password)
	setInt("CHATGATE_REDIS_DB", &config.Redis.DB)
	setInt("CHATGATE_REDIS_POOL_SIZE", &config.Redis.PoolSize)

	setString("CHATGATE_RELAY_BACKEND", &config.Relay.Backend)
	setString("CHATGATE_NATS_URL", &config.Relay.NATSURL)
	setString("CHATGATE_RELAY_SUBJECT", &config.Relay.Subject)

	setString("CHATGATE_JWT_SECRET", &config.Auth.JWTSecret)
	setString("CHATGATE_LOG_LEVEL", &config.Log.Level)
}

func setString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ConfigFile represents the JSON structure for file-based configuration
// FUNCTIONAL DISCOVERY: Separate struct for JSON parsing to handle duration strings
type ConfigFile struct {
	Database  *DatabaseConfigFile  `json:"database"`
	HTTP      *HTTPConfigFile      `json:"http"`
	WebSocket *WebSocketConfigFile `json:"websocket"`
	RateLimit *RateLimitConfigFile `json:"rate_limit"`
	Redis     *RedisConfig         `json:"redis"`
	Relay     *RelayConfig         `json:"relay"`
	Auth      *AuthConfig          `json:"auth"`
	Log       *LogConfig           `json:"log"`
}

type DatabaseConfigFile struct {
	Path    string `json:"path"`
	Timeout string `json:"timeout"`
}

type HTTPConfigFile struct {
	Port         int      `json:"port"`
	ReadTimeout  string   `json:"read_timeout"`
	WriteTimeout string   `json:"write_timeout"`
	Host         string   `json:"host"`
	CORSOrigins  []string `json:"cors_origins"`
}

type WebSocketConfigFile struct {
	PingInterval   string `json:"ping_interval"`
	ReadTimeout    string `json:"read_timeout"`
	WriteTimeout   string `json:"write_timeout"`
	BufferSize     int      `json:"buffer_size"`
	MaxMessageSize int64    `json:"max_message_size"`
	AllowedOrigins []string `json:"allowed_origins"`
}

type RateLimitConfigFile struct {
	Window  string `json:"window"`
	Max     *int   `json:"max"`
	Backend string `json:"backend"`
}

// LoadFromFile reads a JSON configuration file over the defaults
func LoadFromFile(filepath string) (*Config, error) {
	config := DefaultConfig()
	if err := applyFile(config, filepath); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filepath, err)
	}
	return config, nil
}

func applyFile(config *Config, filepath string) error {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var file ConfigFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}

	if f := file.Database; f != nil {
		if f.Path != "" {
			config.Database.Path = f.Path
		}
		parseDuration(f.Timeout, &config.Database.Timeout)
	}

	if f := file.HTTP; f != nil {
		if f.Port > 0 {
			config.HTTP.Port = f.Port
		}
		if f.Host != "" {
			config.HTTP.Host = f.Host
		}
		if len(f.CORSOrigins) > 0 {
			config.HTTP.CORSOrigins = f.CORSOrigins
		}
		parseDuration(f.ReadTimeout, &config.HTTP.ReadTimeout)
		parseDuration(f.WriteTimeout, &config.HTTP.WriteTimeout)
	}

	if f := file.WebSocket; f != nil {
		if f.BufferSize > 0 {
			config.WebSocket.BufferSize = f.BufferSize
		}
		if f.MaxMessageSize > 0 {
			config.WebSocket.MaxMessageSize = f.MaxMessageSize
		}
		parseDuration(f.PingInterval, &config.WebSocket.PingInterval)
		parseDuration(f.ReadTimeout, &config.WebSocket.ReadTimeout)
		parseDuration(f.WriteTimeout, &config.WebSocket.WriteTimeout)
		if len(f.AllowedOrigins) > 0 {
			config.WebSocket.AllowedOrigins = f.AllowedOrigins
		}
	}

	if f := file.RateLimit; f != nil {
		// Max is a pointer so an explicit 0 (disabled) is distinguishable from absent
		if f.Max != nil {
			config.RateLimit.Max = *f.Max
		}
		if f.Backend != "" {
			config.RateLimit.Backend = f.Backend
		}
		parseDuration(f.Window, &config.RateLimit.Window)
	}

	if f := file.Redis; f != nil {
		if f.Addr != "" {
			config.Redis.Addr = f.Addr
		}
		if f.Password != "" {
			config.Redis.Password = f.Password
		}
		if f.DB > 0 {
			config.Redis.DB = f.DB
		}
		if f.PoolSize > 0 {
			config.Redis.PoolSize = f.PoolSize
		}
	}

	if f := file.Relay; f != nil {
		if f.Backend != "" {
			config.Relay.Backend = f.Backend
		}
		if f.NATSURL != "" {
			config.Relay.NATSURL = f.NATSURL
		}
		if f.Subject != "" {
			config.Relay.Subject = f.Subject
		}
	}

	if f := file.Auth; f != nil && f.JWTSecret != "" {
		config.Auth.JWTSecret = f.JWTSecret
	}

	if f := file.Log; f != nil && f.Level != "" {
		config.Log.Level = f.Level
	}

	return nil
}

func parseDuration(s string, dst *time.Duration) {
	if s == "" {
		return
	}
	if d, err := time.ParseDuration(s); err == nil {
		*dst = d
	}
}

// LoadConfigWithPrecedence builds the configuration: file > environment > defaults
func LoadConfigWithPrecedence(filepath string) *Config {
	config := LoadFromEnv()

	if filepath != "" {
		if err := applyFile(config, filepath); err != nil {
			// Environment and defaults still work
			logger.Warnf("Ignoring config file: %v", err)
		}
	}

	return config
}
