package conn

import (
	"time"

	"github.com/rapidcrm/crmstore/pkg/config"
)

// Kind names the storage backend behind a connection.
type Kind string

const KindPostgres Kind = "postgresql"

// Config is the immutable configuration of a logical connection.
type Config struct {
	ID                string        `json:"id"   validate:"required,max=64"`
	Name              string        `json:"name"`
	Kind              Kind          `json:"kind" validate:"omitempty,oneof=postgresql"`
	DSN               string        `json:"-"    validate:"required"`
	MaxConns          int32         `json:"maxConnections" validate:"min=0"`
	MinConns          int32         `json:"minConnections" validate:"min=0"`
	ConnectTimeout    time.Duration `json:"connectTimeout"`
	HealthCheckPeriod time.Duration `json:"healthCheckPeriod"`
}

// FromDatabaseConfig converts the application database section.
func FromDatabaseConfig(db *config.DatabaseConfig) Config {
	return Config{
		ID:                db.ConnectionID,
		Name:              db.Name,
		Kind:              KindPostgres,
		DSN:               db.DSN(),
		MaxConns:          db.MaxConns,
		MinConns:          db.MinConns,
		ConnectTimeout:    db.ConnectTimeout,
		HealthCheckPeriod: db.HealthCheckPeriod,
	}
}
