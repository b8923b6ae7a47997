// Package config loads server configuration from file, environment, and
// defaults via viper. Database settings honor the legacy unprefixed
// environment variables (DB_HOST, DB_USER, ...) used by existing deployments.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures the static configuration of the IM server.
//
// Sources, highest precedence first:
//  1. Environment variables (IM_* plus the legacy DB_* names)
//  2. Configuration file (YAML)
//  3. Defaults
type Config struct {
	// Listen holds the TCP listener settings for the client-facing port.
	Listen ListenConfig `mapstructure:"listen"`

	// Admin configures the HTTP sidecar serving /metrics and /healthz.
	Admin AdminConfig `mapstructure:"admin"`

	// Pool configures the shared worker pool that runs packet handlers.
	Pool PoolConfig `mapstructure:"pool"`

	// Database configures the MySQL backing store.
	Database DatabaseConfig `mapstructure:"database"`

	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging"`

	// ShutdownTimeout bounds graceful shutdown before connections are cut.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type ListenConfig struct {
	// Port is the TCP port clients connect to.
	Port int `mapstructure:"port"`

	// ReadBufferSize is the per-connection read chunk size in bytes.
	ReadBufferSize int `mapstructure:"read_buffer_size"`
}

type AdminConfig struct {
	// Enabled controls whether the admin HTTP server is started.
	Enabled bool `mapstructure:"enabled"`

	// Addr is the listen address of the admin HTTP server.
	Addr string `mapstructure:"addr"`
}

type PoolConfig struct {
	// Workers is the number of goroutines draining the task queue.
	// Zero means runtime.NumCPU.
	Workers int `mapstructure:"workers"`

	// QueueSize is the capacity of the shared task queue.
	QueueSize int `mapstructure:"queue_size"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`

	// MaxOpenConns and MaxIdleConns are passed to database/sql.
	MaxOpenConns int `mapstructure:"max_open_conns"`
	MaxIdleConns int `mapstructure:"max_idle_conns"`

	// GroupCacheTTL controls how long group membership lists are cached
	// before fan-out re-reads them from the database.
	GroupCacheTTL time.Duration `mapstructure:"group_cache_ttl"`
}

// DSN renders the MySQL connection string for the gorm driver.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.User, c.Password, c.Host, c.Port, c.Name)
}

type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `mapstructure:"level"`

	// Format is the log output format: text or json.
	Format string `mapstructure:"format"`
}

// LoadConfig reads the optional config file at path (empty means no file),
// applies environment overrides, and returns the resulting configuration.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("IM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyLegacyEnv(&cfg)

	if cfg.Listen.Port < 1 || cfg.Listen.Port > 65535 {
		return nil, fmt.Errorf("invalid listen port %d", cfg.Listen.Port)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen.port", 8888)
	v.SetDefault("listen.read_buffer_size", 4096)
	v.SetDefault("admin.enabled", true)
	v.SetDefault("admin.addr", ":9100")
	v.SetDefault("pool.workers", 0)
	v.SetDefault("pool.queue_size", 1024)
	v.SetDefault("database.host", "127.0.0.1")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.user", "root")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "im_server")
	v.SetDefault("database.max_open_conns", 16)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.group_cache_ttl", 30*time.Second)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("shutdown_timeout", 10*time.Second)
}

// applyLegacyEnv honors the unprefixed DB_* variables that predate the
// viper-based configuration. They win over file values but lose to IM_*.
func applyLegacyEnv(cfg *Config) {
	if s := os.Getenv("DB_HOST"); s != "" && os.Getenv("IM_DATABASE_HOST") == "" {
		cfg.Database.Host = s
	}
	if s := os.Getenv("DB_USER"); s != "" && os.Getenv("IM_DATABASE_USER") == "" {
		cfg.Database.User = s
	}
	if s, ok := os.LookupEnv("DB_PASSWORD"); ok && os.Getenv("IM_DATABASE_PASSWORD") == "" {
		cfg.Database.Password = s
	}
	if s := os.Getenv("DB_NAME"); s != "" && os.Getenv("IM_DATABASE_NAME") == "" {
		cfg.Database.Name = s
	}
	if s := os.Getenv("DB_PORT"); s != "" && os.Getenv("IM_DATABASE_PORT") == "" {
		var p int
		if _, err := fmt.Sscanf(s, "%d", &p); err == nil && p > 0 {
			cfg.Database.Port = p
		}
	}
}
