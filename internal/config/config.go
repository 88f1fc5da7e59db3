package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Environment string          `mapstructure:"environment"`
	Server      ServerConfig    `mapstructure:"server"`
	Database    DatabaseConfig  `mapstructure:"database"`
	Redis       RedisConfig     `mapstructure:"redis"`
	MLEngine    MLEngineConfig  `mapstructure:"ml_engine"`
	WebSocket   WebSocketConfig `mapstructure:"websocket"`
	RateLimit   RateLimitConfig `mapstructure:"rate_limit"`
	Security    SecurityConfig  `mapstructure:"security"`
	Logging     LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port           int `mapstructure:"port"`
	ReadTimeout    int `mapstructure:"read_timeout"`
	WriteTimeout   int `mapstructure:"write_timeout"`
	IdleTimeout    int `mapstructure:"idle_timeout"`
	MaxHeaderBytes int `mapstructure:"max_header_bytes"`
}

// DatabaseConfig contains Postgres connection settings
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Name               string `mapstructure:"name"`
	Username           string `mapstructure:"username"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxOpenConnections int    `mapstructure:"max_open_connections"`
	MaxIdleConnections int    `mapstructure:"max_idle_connections"`
	ConnMaxLifetime    int    `mapstructure:"connection_max_lifetime"`
}

// DSN builds the Postgres connection string
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.Username, d.Password, d.Name, d.SSLMode)
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	Database     int    `mapstructure:"database"`
	DialTimeout  int    `mapstructure:"dial_timeout"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
	PoolSize     int    `mapstructure:"pool_size"`
}

// Addr returns the host:port Redis address
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// MLEngineConfig contains the remote inference service settings
type MLEngineConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	TimeoutMs int    `mapstructure:"timeout_ms"`
}

// Addr returns the host:port ML engine address
func (m MLEngineConfig) Addr() string {
	return fmt.Sprintf("%s:%d", m.Host, m.Port)
}

// WebSocketConfig contains realtime hub settings
type WebSocketConfig struct {
	ReadBufferSize   int  `mapstructure:"read_buffer_size"`
	WriteBufferSize  int  `mapstructure:"write_buffer_size"`
	CheckOrigin      bool `mapstructure:"check_origin"`
	DebounceMs       int  `mapstructure:"debounce_ms"`
	StaleAfterSec    int  `mapstructure:"stale_after_sec"`
	SweepIntervalSec int  `mapstructure:"sweep_interval_sec"`
}

// RateLimitConfig contains admission control settings
type RateLimitConfig struct {
	Enabled            bool `mapstructure:"enabled"`
	WindowSec          int  `mapstructure:"window_sec"`
	StandardLimit      int  `mapstructure:"standard_limit"`
	AuthLimit          int  `mapstructure:"auth_limit"`
	PricingLimit       int  `mapstructure:"pricing_limit"`
	AdminLimit         int  `mapstructure:"admin_limit"`
	ViolationThreshold int  `mapstructure:"violation_threshold"`
	BlockDurationSec   int  `mapstructure:"block_duration_sec"`
}

// SecurityConfig contains token verification settings
type SecurityConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads the configuration file and applies environment overrides
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	viper.SetEnvPrefix("GUARDQUOTE")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("environment", "development")

	viper.SetDefault("server.port", 3001)
	viper.SetDefault("server.read_timeout", 30)
	viper.SetDefault("server.write_timeout", 30)
	viper.SetDefault("server.idle_timeout", 120)
	viper.SetDefault("server.max_header_bytes", 1048576)

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.name", "guardquote")
	viper.SetDefault("database.username", "guardquote")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_connections", 25)
	viper.SetDefault("database.max_idle_connections", 10)
	viper.SetDefault("database.connection_max_lifetime", 300)

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.database", 0)
	viper.SetDefault("redis.dial_timeout", 5)
	viper.SetDefault("redis.read_timeout", 2)
	viper.SetDefault("redis.write_timeout", 2)
	viper.SetDefault("redis.pool_size", 10)

	viper.SetDefault("ml_engine.host", "localhost")
	viper.SetDefault("ml_engine.port", 50051)
	viper.SetDefault("ml_engine.timeout_ms", 5000)

	viper.SetDefault("websocket.read_buffer_size", 1024)
	viper.SetDefault("websocket.write_buffer_size", 1024)
	viper.SetDefault("websocket.check_origin", false)
	viper.SetDefault("websocket.debounce_ms", 300)
	viper.SetDefault("websocket.stale_after_sec", 300)
	viper.SetDefault("websocket.sweep_interval_sec", 60)

	viper.SetDefault("rate_limit.enabled", true)
	viper.SetDefault("rate_limit.window_sec", 60)
	viper.SetDefault("rate_limit.standard_limit", 100)
	viper.SetDefault("rate_limit.auth_limit", 10)
	viper.SetDefault("rate_limit.pricing_limit", 30)
	viper.SetDefault("rate_limit.admin_limit", 200)
	viper.SetDefault("rate_limit.violation_threshold", 10)
	viper.SetDefault("rate_limit.block_duration_sec", 3600)

	viper.SetDefault("logging.level", "info")
}
