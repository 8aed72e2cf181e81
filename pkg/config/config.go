package config

import (
	"fmt"
	"net/url"
	"time"
)

// Config is the root configuration for the data-access layer and its tools.
type Config struct {
	Database   DatabaseConfig   `koanf:"database"`
	Executor   ExecutorConfig   `koanf:"executor"`
	Migrations MigrationsConfig `koanf:"migrations"`
	Backup     BackupConfig     `koanf:"backup"`
	Server     ServerConfig     `koanf:"server"`
	Runtime    RuntimeConfig    `koanf:"runtime"`
}

// DatabaseConfig describes the primary connection opened at startup.
type DatabaseConfig struct {
	ConnectionID      string          `koanf:"connection_id"       env:"DB_CONNECTION_ID"       validate:"required"`
	Name              string          `koanf:"display_name"        env:"DB_DISPLAY_NAME"`
	ConnString        string          `koanf:"conn_string"         env:"DB_CONN_STRING"`
	Host              string          `koanf:"host"                env:"DB_HOST"`
	Port              string          `koanf:"port"                env:"DB_PORT"`
	User              string          `koanf:"user"                env:"DB_USER"`
	Password          SensitiveString `koanf:"password"            env:"DB_PASSWORD"            sensitive:"true"`
	DBName            string          `koanf:"name"                env:"DB_NAME"`
	SSLMode           string          `koanf:"ssl_mode"            env:"DB_SSL_MODE"            validate:"omitempty,oneof=disable allow prefer require verify-ca verify-full"`
	MaxConns          int32           `koanf:"max_conns"           env:"DB_MAX_CONNS"           validate:"min=1"`
	MinConns          int32           `koanf:"min_conns"           env:"DB_MIN_CONNS"           validate:"min=0,ltefield=MaxConns"`
	ConnectTimeout    time.Duration   `koanf:"connect_timeout"     env:"DB_CONNECT_TIMEOUT"     validate:"min=0"`
	HealthCheckPeriod time.Duration   `koanf:"health_check_period" env:"DB_HEALTH_CHECK_PERIOD" validate:"min=0"`
}

// DSN returns ConnString when set, otherwise a URL assembled from the discrete fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnString != "" {
		return c.ConnString
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%s", c.Host, c.Port),
		Path:   "/" + c.DBName,
	}
	if c.User != "" {
		u.User = url.UserPassword(c.User, c.Password.Value())
	}
	if c.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": []string{c.SSLMode}}.Encode()
	}
	return u.String()
}

type ExecutorConfig struct {
	QueryTimeout time.Duration `koanf:"query_timeout" env:"EXECUTOR_QUERY_TIMEOUT" validate:"min=0"`
}

type MigrationsConfig struct {
	AutoApply bool `koanf:"auto_apply" env:"MIGRATIONS_AUTO_APPLY"`
}

type BackupConfig struct {
	Dir string `koanf:"dir" env:"BACKUP_DIR" validate:"required"`
}

type ServerConfig struct {
	Host            string        `koanf:"host"             env:"SERVER_HOST"`
	Port            int           `koanf:"port"             env:"SERVER_PORT"             validate:"min=1,max=65535"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT" validate:"min=0"`
	MetricsEnabled  bool          `koanf:"metrics_enabled"  env:"SERVER_METRICS_ENABLED"`
	MaxPageSize     int           `koanf:"max_page_size"    env:"SERVER_MAX_PAGE_SIZE"    validate:"min=1"`
}

// Address returns host:port for net.Listen.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type RuntimeConfig struct {
	Environment string `koanf:"environment" env:"RUNTIME_ENVIRONMENT" validate:"oneof=development staging production"`
	LogLevel    string `koanf:"log_level"   env:"RUNTIME_LOG_LEVEL"   validate:"oneof=debug info warn error"`
}

// Default returns the configuration used before any source is applied.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			ConnectionID:      "primary",
			Name:              "Primary Database",
			Host:              "localhost",
			Port:              "5432",
			User:              "postgres",
			DBName:            "crm",
			SSLMode:           "disable",
			MaxConns:          20,
			MinConns:          2,
			ConnectTimeout:    5 * time.Second,
			HealthCheckPeriod: 30 * time.Second,
		},
		Executor: ExecutorConfig{
			QueryTimeout: 30 * time.Second,
		},
		Backup: BackupConfig{
			Dir: "backups",
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            5010,
			ShutdownTimeout: 10 * time.Second,
			MetricsEnabled:  true,
			MaxPageSize:     500,
		},
		Runtime: RuntimeConfig{
			Environment: "development",
			LogLevel:    "info",
		},
	}
}
