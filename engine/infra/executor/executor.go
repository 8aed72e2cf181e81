package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/dbscan"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/rapidcrm/crmstore/engine/infra/conn"
	"github.com/rapidcrm/crmstore/pkg/logger"
)

const DefaultTimeout = 30 * time.Second

type Option func(*Executor)

// WithTimeout bounds every statement. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) { e.timeout = d }
}

func WithMeter(m metric.Meter) Option {
	return func(e *Executor) { e.meter = m }
}

// Executor runs parameterized statements against registry connections and
// reports every outcome through a QueryResult. It never validates statements;
// caller values must travel in params.
type Executor struct {
	registry *conn.Registry
	timeout  time.Duration
	meter    metric.Meter
	scanner  *pgxscan.API
	metrics  *instruments
}

func New(registry *conn.Registry, opts ...Option) (*Executor, error) {
	e := &Executor{
		registry: registry,
		timeout:  DefaultTimeout,
		meter:    noop.NewMeterProvider().Meter("crmstore"),
	}
	for _, opt := range opts {
		opt(e)
	}
	dbscanAPI, err := pgxscan.NewDBScanAPI(dbscan.WithAllowUnknownColumns(true))
	if err != nil {
		return nil, fmt.Errorf("executor: scan api: %w", err)
	}
	e.scanner, err = pgxscan.NewAPI(dbscanAPI)
	if err != nil {
		return nil, fmt.Errorf("executor: scan api: %w", err)
	}
	e.metrics, err = newInstruments(e.meter)
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Executor) Registry() *conn.Registry {
	return e.registry
}

// ExecuteQuery runs a row-returning statement and yields untyped rows.
func (e *Executor) ExecuteQuery(ctx context.Context, connectionID, statement string, params ...any) *QueryResult[Row] {
	return run(ctx, e, connectionID, statement, func(ctx context.Context, q conn.Querier) ([]Row, int, error) {
		rows, err := q.Query(ctx, statement, params...)
		if err != nil {
			return nil, 0, err
		}
		data, err := pgx.CollectRows(rows, pgx.RowToMap)
		if err != nil {
			return nil, 0, err
		}
		return data, len(data), nil
	})
}

// ExecuteCommand runs a statement without a result set. Count is the number
// of affected rows and Data stays empty. Without params the statement may
// hold several semicolon-separated commands.
func (e *Executor) ExecuteCommand(ctx context.Context, connectionID, statement string, params ...any) *QueryResult[Row] {
	return run(ctx, e, connectionID, statement, func(ctx context.Context, q conn.Querier) ([]Row, int, error) {
		tag, err := q.Exec(ctx, statement, params...)
		if err != nil {
			return nil, 0, err
		}
		return nil, int(tag.RowsAffected()), nil
	})
}

// Select runs a row-returning statement and scans rows into T by db tag.
func Select[T any](ctx context.Context, e *Executor, connectionID, statement string, params ...any) *QueryResult[T] {
	return run(ctx, e, connectionID, statement, func(ctx context.Context, q conn.Querier) ([]T, int, error) {
		rows, err := q.Query(ctx, statement, params...)
		if err != nil {
			return nil, 0, err
		}
		var data []T
		if err := e.scanner.ScanAll(&data, rows); err != nil {
			return nil, 0, err
		}
		return data, len(data), nil
	})
}

type outcome[T any] struct {
	data  []T
	count int
	err   error
}

type statementFunc[T any] func(ctx context.Context, q conn.Querier) ([]T, int, error)

func run[T any](ctx context.Context, e *Executor, connectionID, statement string, fn statementFunc[T]) *QueryResult[T] {
	start := time.Now()
	result := &QueryResult[T]{Data: []T{}}
	c, ok := e.registry.Connection(connectionID)
	if !ok {
		result.Error = fmt.Sprintf("connection %s not found", connectionID)
		e.metrics.record(ctx, connectionID, outcomeRejected, 0)
		return result
	}
	if !c.IsConnected() {
		c.RecordError()
		result.Error = fmt.Sprintf("connection %s is not connected", connectionID)
		e.metrics.record(ctx, connectionID, outcomeRejected, 0)
		return result
	}

	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if e.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, e.timeout)
	}
	defer cancel()

	var out outcome[T]
	q, release, err := e.querier(runCtx, c)
	if err != nil {
		out.err = err
	} else {
		done := make(chan outcome[T], 1)
		go func() {
			defer release()
			data, n, err := fn(runCtx, q)
			done <- outcome[T]{data: data, count: n, err: err}
		}()
		select {
		case out = <-done:
		case <-runCtx.Done():
			out.err = runCtx.Err()
		}
	}
	result.ExecutionTime = time.Since(start)

	if out.err != nil {
		c.RecordError()
		result.Error = e.describe(ctx, runCtx, out.err)
		e.metrics.record(ctx, connectionID, outcomeError, result.ExecutionTime)
		logger.FromContext(ctx).Debug("Statement failed",
			"connection_id", connectionID,
			"error", result.Error,
			"duration", result.ExecutionTime,
		)
		return result
	}
	c.RecordQuery(statement, result.ExecutionTime)
	if out.data != nil {
		result.Data = out.data
	}
	result.Count = out.count
	e.metrics.record(ctx, connectionID, outcomeOK, result.ExecutionTime)
	return result
}

func (e *Executor) describe(parent, runCtx context.Context, err error) string {
	if parent.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return fmt.Sprintf("query timed out after %s", e.timeout)
	}
	return err.Error()
}
