package conn

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/rapidcrm/crmstore/engine/core"
	"github.com/rapidcrm/crmstore/engine/infra/postgres"
	"github.com/rapidcrm/crmstore/pkg/logger"
)

const defaultPingTimeout = 2 * time.Second

// Dialer opens the backend for a connection config.
type Dialer func(ctx context.Context, cfg Config) (DB, error)

// PostgresDialer opens a pgx pool through the postgres driver package.
func PostgresDialer(ctx context.Context, cfg Config) (DB, error) {
	return postgres.NewPool(ctx, &postgres.Config{
		Label:             cfg.ID,
		DSN:               cfg.DSN,
		MaxConns:          cfg.MaxConns,
		MinConns:          cfg.MinConns,
		ConnectTimeout:    cfg.ConnectTimeout,
		HealthCheckPeriod: cfg.HealthCheckPeriod,
	})
}

// ConnectionError reports a failed handshake. Connection holds the
// discarded connection so callers can inspect its counters.
type ConnectionError struct {
	ConnectionID string
	Connection   *Connection
	Err          error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect %q: %s", e.ConnectionID, core.RedactError(e.Err))
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

type Option func(*Registry)

func WithDialer(d Dialer) Option {
	return func(r *Registry) { r.dialer = d }
}

func WithPingTimeout(d time.Duration) Option {
	return func(r *Registry) { r.pingTimeout = d }
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// Registry creates and tracks named connections and pools.
type Registry struct {
	dialer      Dialer
	validate    *validator.Validate
	pingTimeout time.Duration
	now         func() time.Time

	mu    sync.RWMutex
	conns map[string]*Connection
	pools map[string]*poolEntry
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		dialer:      PostgresDialer,
		validate:    validator.New(),
		pingTimeout: defaultPingTimeout,
		now:         time.Now,
		conns:       make(map[string]*Connection),
		pools:       make(map[string]*poolEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreateConnection dials cfg and registers the result under cfg.ID,
// replacing and closing any previous connection with the same ID.
func (r *Registry) CreateConnection(ctx context.Context, cfg Config) (*Connection, error) {
	if err := r.validate.Struct(cfg); err != nil {
		return nil, core.NewInvalidInput("connection config", err.Error())
	}
	log := logger.FromContext(ctx).With("connection_id", cfg.ID)
	c := newConnection(cfg, r.now())
	db, err := r.dialer(ctx, cfg)
	if err != nil {
		c.RecordError()
		log.Error("Failed to create connection", "error", core.RedactError(err))
		return nil, &ConnectionError{ConnectionID: cfg.ID, Connection: c, Err: err}
	}
	c.attach(db, r.now())
	r.mu.Lock()
	prev := r.conns[cfg.ID]
	r.conns[cfg.ID] = c
	r.mu.Unlock()
	if prev != nil {
		prev.close()
		log.Warn("Replaced existing connection")
	}
	log.Info("Connection established", "name", c.cfg.Name, "kind", c.cfg.Kind)
	return c, nil
}

func (r *Registry) Connection(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// Connections returns every tracked connection ordered by ID.
func (r *Registry) Connections() []*Connection {
	r.mu.RLock()
	out := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// CloseConnection closes and forgets id. It reports whether id was tracked.
func (r *Registry) CloseConnection(ctx context.Context, id string) bool {
	r.mu.Lock()
	c, ok := r.conns[id]
	delete(r.conns, id)
	r.mu.Unlock()
	if !ok {
		return false
	}
	c.close()
	logger.FromContext(ctx).Info("Connection closed", "connection_id", id)
	return true
}

func (r *Registry) CloseAll(ctx context.Context) {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[string]*Connection)
	r.pools = make(map[string]*poolEntry)
	r.mu.Unlock()
	for _, c := range conns {
		c.close()
	}
	logger.FromContext(ctx).Info("All connections closed", "count", len(conns))
}
