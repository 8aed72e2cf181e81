package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/rapidcrm/crmstore/engine/dataaccess"
	"github.com/rapidcrm/crmstore/engine/infra/conn"
	"github.com/rapidcrm/crmstore/engine/infra/executor"
	"github.com/rapidcrm/crmstore/engine/infra/migrate"
	"github.com/rapidcrm/crmstore/engine/infra/monitoring/metrics"
	"github.com/rapidcrm/crmstore/engine/infra/repository"
	"github.com/rapidcrm/crmstore/pkg/logger"
)

const defaultMaxPageSize = 500

// DataAccess is the slice of the data-access manager the admin routes use.
type DataAccess interface {
	HealthCheck(ctx context.Context) conn.Health
	Stats(ctx context.Context) (*dataaccess.Stats, error)
	MigrationStatus(ctx context.Context) ([]migrate.Status, error)
	RollbackMigration(ctx context.Context, name string) error
	Paginate(ctx context.Context, table string, req repository.PageRequest) (*repository.Page[executor.Row], error)
}

type RouterOptions struct {
	// MaxPageSize caps the limit query parameter of table listings.
	MaxPageSize int
	// Metrics serves /metrics when set.
	Metrics http.Handler
	// Meter records request durations when set.
	Meter metric.Meter
}

// NewRouter builds the admin API. The request logger is taken from base.
func NewRouter(base context.Context, da DataAccess, opts RouterOptions) *gin.Engine {
	if opts.MaxPageSize < 1 {
		opts.MaxPageSize = defaultMaxPageSize
	}
	log := logger.FromContext(base)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log, requestDuration(log, opts.Meter)))
	h := &handlers{da: da, maxPageSize: opts.MaxPageSize}
	r.GET("/healthz", h.health)
	r.GET("/stats", h.stats)
	r.GET("/migrations", h.migrations)
	r.POST("/migrations/:name/rollback", h.rollback)
	r.GET("/tables/:table", h.table)
	if opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(opts.Metrics))
	}
	return r
}

func requestDuration(log logger.Logger, meter metric.Meter) metric.Float64Histogram {
	if meter == nil {
		return nil
	}
	hist, err := meter.Float64Histogram(
		metrics.MetricNameWithSubsystem("http", "request_duration_seconds"),
		metric.WithDescription("Admin API request latency, by route and status"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(metrics.HTTPDurationBuckets...),
	)
	if err != nil {
		log.Warn("HTTP metrics not initialized; continuing without them", "error", err)
		return nil
	}
	return hist
}

// requestLogger attaches log to every request context and records the outcome.
// Unmatched routes are recorded under "unmatched" to bound label cardinality.
func requestLogger(log logger.Logger, hist metric.Float64Histogram) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Request = c.Request.WithContext(logger.ContextWithLogger(c.Request.Context(), log))
		c.Next()
		elapsed := time.Since(start)
		if hist != nil {
			route := c.FullPath()
			if route == "" {
				route = "unmatched"
			}
			hist.Record(c.Request.Context(), elapsed.Seconds(), metric.WithAttributes(
				attribute.String("method", c.Request.Method),
				attribute.String("route", route),
				attribute.Int("status", c.Writer.Status()),
			))
		}
		log.Debug("Request handled",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", elapsed,
		)
	}
}
