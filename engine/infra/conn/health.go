package conn

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rapidcrm/crmstore/pkg/logger"
)

const maxConcurrentPings = 8

type Health struct {
	Healthy bool          `json:"healthy"`
	Details HealthDetails `json:"details"`
}

type HealthDetails struct {
	TotalConnections     int       `json:"totalConnections"`
	HealthyConnections   int       `json:"healthyConnections"`
	UnhealthyConnections int       `json:"unhealthyConnections"`
	LastCheck            time.Time `json:"lastCheck"`
	Connections          []Info    `json:"connections"`
}

// HealthCheck pings every tracked connection and reports healthy when at
// least one is connected afterwards. A failed ping marks the connection
// disconnected and counts an error; a successful one reconnects it.
func (r *Registry) HealthCheck(ctx context.Context) Health {
	conns := r.Connections()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentPings)
	for _, c := range conns {
		g.Go(func() error {
			r.ping(gctx, c)
			return nil
		})
	}
	_ = g.Wait()

	checkedAt := r.now()
	r.touchPools(checkedAt)
	details := HealthDetails{
		TotalConnections: len(conns),
		LastCheck:        checkedAt,
		Connections:      make([]Info, 0, len(conns)),
	}
	for _, c := range conns {
		info := c.Info()
		if info.Connected {
			details.HealthyConnections++
		} else {
			details.UnhealthyConnections++
		}
		details.Connections = append(details.Connections, info)
	}
	return Health{Healthy: details.HealthyConnections > 0, Details: details}
}

func (r *Registry) ping(ctx context.Context, c *Connection) {
	db := c.DB()
	if db == nil {
		return
	}
	pctx, cancel := context.WithTimeout(ctx, r.pingTimeout)
	defer cancel()
	if err := db.Ping(pctx); err != nil {
		c.RecordError()
		if c.connected.Swap(false) {
			logger.FromContext(ctx).Warn("Connection failed health check", "connection_id", c.ID(), "error", err)
		}
		return
	}
	if !c.connected.Swap(true) {
		c.mu.Lock()
		c.lastConnected = r.now()
		c.mu.Unlock()
		logger.FromContext(ctx).Info("Connection recovered", "connection_id", c.ID())
	}
}

func (r *Registry) touchPools(at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, entry := range r.pools {
		entry.lastHealthCheck = at
	}
}

type Stats struct {
	TotalConnections    int           `json:"totalConnections"`
	ActiveConnections   int           `json:"activeConnections"`
	TotalQueries        int64         `json:"totalQueries"`
	TotalErrors         int64         `json:"totalErrors"`
	AverageResponseTime time.Duration `json:"-"`
	AverageResponseMS   float64       `json:"averageResponseTime"`
	ErrorRate           float64       `json:"errorRate"`
}

// Stats aggregates counters across connections. ErrorRate is
// errors/queries*100 and zero when nothing has run.
func (r *Registry) Stats() Stats {
	var s Stats
	var total time.Duration
	for _, c := range r.Connections() {
		s.TotalConnections++
		if c.IsConnected() {
			s.ActiveConnections++
		}
		s.TotalQueries += c.QueryCount()
		s.TotalErrors += c.ErrorCount()
		total += c.TotalExecutionTime()
	}
	if s.TotalQueries > 0 {
		s.AverageResponseTime = total / time.Duration(s.TotalQueries)
		s.AverageResponseMS = float64(s.AverageResponseTime) / float64(time.Millisecond)
		s.ErrorRate = float64(s.TotalErrors) / float64(s.TotalQueries) * 100
	}
	return s
}
