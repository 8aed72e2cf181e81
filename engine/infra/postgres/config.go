package postgres

import "time"

// Config holds the pool settings for one logical connection.
type Config struct {
	// Label identifies the pool in metrics and logs, normally the connection ID.
	Label             string
	DSN               string
	MaxConns          int32
	MinConns          int32
	ConnectTimeout    time.Duration
	HealthCheckPeriod time.Duration
	PingTimeout       time.Duration
}
