package conn

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the statement surface shared by pools and transactions.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DB is a dialed backend: a pgx pool in production, a pgxmock pool in tests.
type DB interface {
	Querier
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// Connection is a tracked logical connection with usage counters.
// Counters are updated atomically by concurrent statements.
type Connection struct {
	cfg       Config
	db        DB
	createdAt time.Time

	connected  atomic.Bool
	queryCount atomic.Int64
	errorCount atomic.Int64
	totalNanos atomic.Int64

	mu            sync.RWMutex
	lastQuery     string
	lastConnected time.Time
}

func newConnection(cfg Config, now time.Time) *Connection {
	if cfg.Kind == "" {
		cfg.Kind = KindPostgres
	}
	if cfg.Name == "" {
		cfg.Name = cfg.ID
	}
	return &Connection{cfg: cfg, createdAt: now}
}

func (c *Connection) ID() string        { return c.cfg.ID }
func (c *Connection) Config() Config    { return c.cfg }
func (c *Connection) DB() DB            { return c.db }
func (c *Connection) IsConnected() bool { return c.connected.Load() }
func (c *Connection) QueryCount() int64 { return c.queryCount.Load() }
func (c *Connection) ErrorCount() int64 { return c.errorCount.Load() }

// TotalExecutionTime is the summed wall time of successful statements.
func (c *Connection) TotalExecutionTime() time.Duration {
	return time.Duration(c.totalNanos.Load())
}

func (c *Connection) LastQuery() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastQuery
}

func (c *Connection) LastConnected() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastConnected
}

// RecordQuery counts a successful statement.
func (c *Connection) RecordQuery(statement string, elapsed time.Duration) {
	c.queryCount.Add(1)
	c.totalNanos.Add(int64(elapsed))
	c.mu.Lock()
	c.lastQuery = statement
	c.mu.Unlock()
}

// RecordError counts a failed statement, handshake or ping.
func (c *Connection) RecordError() {
	c.errorCount.Add(1)
}

func (c *Connection) attach(db DB, now time.Time) {
	c.db = db
	c.mu.Lock()
	c.lastConnected = now
	c.mu.Unlock()
	c.connected.Store(true)
}

func (c *Connection) close() {
	if c.connected.Swap(false) && c.db != nil {
		c.db.Close()
	}
}

// Info is a point-in-time view of a connection for health reports.
type Info struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Kind          Kind      `json:"type"`
	Connected     bool      `json:"isConnected"`
	QueryCount    int64     `json:"queryCount"`
	ErrorCount    int64     `json:"errorCount"`
	LastQuery     string    `json:"lastQuery,omitempty"`
	LastConnected time.Time `json:"lastConnected"`
}

func (c *Connection) Info() Info {
	return Info{
		ID:            c.cfg.ID,
		Name:          c.cfg.Name,
		Kind:          c.cfg.Kind,
		Connected:     c.IsConnected(),
		QueryCount:    c.QueryCount(),
		ErrorCount:    c.ErrorCount(),
		LastQuery:     c.LastQuery(),
		LastConnected: c.LastConnected(),
	}
}
