package repository

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"

	"github.com/rapidcrm/crmstore/engine/core"
	"github.com/rapidcrm/crmstore/engine/infra/executor"
)

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

// Builder returns a squirrel builder emitting $n placeholders.
func Builder() squirrel.StatementBuilderType {
	return psql
}

type Option func(*options)

type options struct {
	primaryKey string
}

func WithPrimaryKey(column string) Option {
	return func(o *options) { o.primaryKey = column }
}

// Repository is a gateway to one table. Rows scan into T by db tag; writes
// take Values. Envelope failures come back as *executor.QueryError.
type Repository[T any] struct {
	exec         *executor.Executor
	connectionID string
	table        string
	primaryKey   string
}

func New[T any](exec *executor.Executor, connectionID, table string, opts ...Option) (*Repository[T], error) {
	o := options{primaryKey: "id"}
	for _, opt := range opts {
		opt(&o)
	}
	if err := checkIdentifiers("table", table); err != nil {
		return nil, err
	}
	if err := checkIdentifiers("primary key", o.primaryKey); err != nil {
		return nil, err
	}
	return &Repository[T]{exec: exec, connectionID: connectionID, table: table, primaryKey: o.primaryKey}, nil
}

func (r *Repository[T]) Table() string                { return r.table }
func (r *Repository[T]) PrimaryKey() string           { return r.primaryKey }
func (r *Repository[T]) ConnectionID() string         { return r.connectionID }
func (r *Repository[T]) Executor() *executor.Executor { return r.exec }

// Select starts a SELECT * on the bound table.
func (r *Repository[T]) Select() squirrel.SelectBuilder {
	return psql.Select("*").From(r.table)
}

func (r *Repository[T]) FindAll(ctx context.Context) ([]T, error) {
	return r.Query(ctx, r.Select().OrderBy(DefaultOrderBy+" DESC"))
}

// FindByID returns nil when no row has id.
func (r *Repository[T]) FindByID(ctx context.Context, id string) (*T, error) {
	return r.Get(ctx, r.Select().Where(squirrel.Eq{r.primaryKey: id}))
}

func (r *Repository[T]) FindBy(ctx context.Context, field string, value any) ([]T, error) {
	if err := checkIdentifiers("field", field); err != nil {
		return nil, err
	}
	return r.Query(ctx, r.Select().Where(squirrel.Eq{field: value}))
}

// Create inserts the given columns and returns the stored row.
func (r *Repository[T]) Create(ctx context.Context, values Values) (*T, error) {
	var q squirrel.Sqlizer
	if len(values) == 0 {
		q = squirrel.Expr("INSERT INTO " + r.table + " DEFAULT VALUES RETURNING *")
	} else {
		if err := checkIdentifiers("column", values.Columns()...); err != nil {
			return nil, err
		}
		q = psql.Insert(r.table).SetMap(values).Suffix("RETURNING *")
	}
	row, err := r.Get(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", r.table, err)
	}
	return row, nil
}

// Update sets the given columns plus updated_at and returns the new row, or
// nil when id does not exist.
func (r *Repository[T]) Update(ctx context.Context, id string, values Values) (*T, error) {
	if err := checkIdentifiers("column", values.Columns()...); err != nil {
		return nil, err
	}
	ub := psql.Update(r.table)
	for _, col := range values.Columns() {
		ub = ub.Set(col, values[col])
	}
	ub = ub.Set("updated_at", squirrel.Expr("NOW()")).
		Where(squirrel.Eq{r.primaryKey: id}).
		Suffix("RETURNING *")
	row, err := r.Get(ctx, ub)
	if err != nil {
		return nil, fmt.Errorf("updating %s %s: %w", r.table, id, err)
	}
	return row, nil
}

// Delete reports whether a row was removed.
func (r *Repository[T]) Delete(ctx context.Context, id string) (bool, error) {
	n, err := r.Command(ctx, psql.Delete(r.table).Where(squirrel.Eq{r.primaryKey: id}))
	if err != nil {
		return false, fmt.Errorf("deleting %s %s: %w", r.table, id, err)
	}
	return n > 0, nil
}

func (r *Repository[T]) Count(ctx context.Context) (int64, error) {
	return r.CountWhere(ctx)
}

// CountWhere counts rows matching every predicate.
func (r *Repository[T]) CountWhere(ctx context.Context, preds ...squirrel.Sqlizer) (int64, error) {
	sb := psql.Select("COUNT(*) AS count").From(r.table)
	for _, p := range preds {
		sb = sb.Where(p)
	}
	return Scalar[int64](ctx, r, sb, "count")
}

func (r *Repository[T]) Exists(ctx context.Context, id string) (bool, error) {
	sql, args, err := psql.Select("1").From(r.table).Where(squirrel.Eq{r.primaryKey: id}).Limit(1).ToSql()
	if err != nil {
		return false, fmt.Errorf("building query: %w", err)
	}
	res := r.exec.ExecuteQuery(ctx, r.connectionID, sql, args...)
	if err := res.Err(); err != nil {
		return false, err
	}
	return res.Count > 0, nil
}

// Query runs q and scans every row.
func (r *Repository[T]) Query(ctx context.Context, q squirrel.Sqlizer) ([]T, error) {
	return QueryAs[T](ctx, r, q)
}

// Get runs q and returns its first row, or nil when there is none.
func (r *Repository[T]) Get(ctx context.Context, q squirrel.Sqlizer) (*T, error) {
	rows, err := r.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// MustGet is Get that turns an absent row into a NotFoundError.
func (r *Repository[T]) MustGet(ctx context.Context, q squirrel.Sqlizer, key string) (*T, error) {
	row, err := r.Get(ctx, q)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, core.NewNotFound(r.table, key)
	}
	return row, nil
}

// Command runs a statement without a result set and returns affected rows.
func (r *Repository[T]) Command(ctx context.Context, q squirrel.Sqlizer) (int, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("building query: %w", err)
	}
	res := r.exec.ExecuteCommand(ctx, r.connectionID, sql, args...)
	if err := res.Err(); err != nil {
		return 0, err
	}
	return res.Count, nil
}

// WithTransaction runs fn in a transaction on the repository's connection.
func (r *Repository[T]) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.exec.WithTransaction(ctx, r.connectionID, fn)
}

// QueryAs runs q on r's connection and scans rows into R, for joins and
// aggregates whose shape differs from T.
func QueryAs[R, T any](ctx context.Context, r *Repository[T], q squirrel.Sqlizer) ([]R, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	res := executor.Select[R](ctx, r.exec, r.connectionID, sql, args...)
	if err := res.Err(); err != nil {
		return nil, err
	}
	return res.Data, nil
}

// Scalar returns column of the first row of q, or the zero value when q
// yields no rows or NULL.
func Scalar[V, T any](ctx context.Context, r *Repository[T], q squirrel.Sqlizer, column string) (V, error) {
	var zero V
	sql, args, err := q.ToSql()
	if err != nil {
		return zero, fmt.Errorf("building query: %w", err)
	}
	res := r.exec.ExecuteQuery(ctx, r.connectionID, sql, args...)
	if err := res.Err(); err != nil {
		return zero, err
	}
	row, ok := res.First()
	if !ok || row[column] == nil {
		return zero, nil
	}
	v, ok := row[column].(V)
	if !ok {
		return zero, fmt.Errorf("column %s: unexpected type %T", column, row[column])
	}
	return v, nil
}
