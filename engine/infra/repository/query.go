package repository

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"

	"github.com/rapidcrm/crmstore/engine/core"
)

// Search returns rows where any of fields contains term, case
// insensitively. Each field gets its own ILIKE predicate bound to %term%.
func (r *Repository[T]) Search(ctx context.Context, term string, fields []string) ([]T, error) {
	q, err := r.SearchQuery(term, fields)
	if err != nil {
		return nil, err
	}
	return r.Query(ctx, q)
}

// SearchQuery builds the statement Search runs.
func (r *Repository[T]) SearchQuery(term string, fields []string) (squirrel.SelectBuilder, error) {
	if len(fields) == 0 {
		return squirrel.SelectBuilder{}, core.NewInvalidInput("fields", "at least one search field is required")
	}
	if err := checkIdentifiers("field", fields...); err != nil {
		return squirrel.SelectBuilder{}, err
	}
	value := Wildcard(term)
	or := make(squirrel.Or, 0, len(fields))
	for _, f := range fields {
		or = append(or, squirrel.ILike{f: value})
	}
	return r.Select().Where(or).OrderBy(DefaultOrderBy + " DESC"), nil
}

// Paginate returns one page of rows matching preds, plus the total count.
func (r *Repository[T]) Paginate(ctx context.Context, req PageRequest, preds ...squirrel.Sqlizer) (*Page[T], error) {
	count := psql.Select("COUNT(*) AS count").From(r.table)
	sb := r.Select()
	for _, p := range preds {
		count = count.Where(p)
		sb = sb.Where(p)
	}
	return PageOf[T](ctx, r, req, count, sb, "")
}

// PageOf pages through sb, taking the total from count. The order column is
// validated and then prefixed with qualifier, e.g. "d." for an aliased join.
func PageOf[R, T any](
	ctx context.Context,
	r *Repository[T],
	req PageRequest,
	count, sb squirrel.SelectBuilder,
	qualifier string,
) (*Page[R], error) {
	req = req.Normalize()
	if err := checkIdentifiers("orderBy", req.OrderBy); err != nil {
		return nil, err
	}
	total, err := Scalar[int64](ctx, r, count, "count")
	if err != nil {
		return nil, fmt.Errorf("counting %s: %w", r.table, err)
	}
	sb = sb.OrderBy(qualifier+req.OrderBy+" "+req.Direction).Suffix("LIMIT ? OFFSET ?", req.Limit, req.Offset())
	data, err := QueryAs[R](ctx, r, sb)
	if err != nil {
		return nil, fmt.Errorf("paging %s: %w", r.table, err)
	}
	if data == nil {
		data = []R{}
	}
	return &Page[R]{
		Data:       data,
		Total:      total,
		Page:       req.Page,
		Limit:      req.Limit,
		TotalPages: TotalPages(total, req.Limit),
	}, nil
}

// BulkCreate inserts all items with one statement.
func (r *Repository[T]) BulkCreate(ctx context.Context, items []Values) ([]T, error) {
	if len(items) == 0 {
		return []T{}, nil
	}
	sql, args, err := BuildBulkInsert(r.table, items)
	if err != nil {
		return nil, err
	}
	rows, err := r.Query(ctx, squirrel.Expr(sql, args...))
	if err != nil {
		return nil, fmt.Errorf("bulk creating %s: %w", r.table, err)
	}
	return rows, nil
}

// BulkUpdate applies updates one after another. Ids that no longer exist
// are skipped; the first error stops the loop.
func (r *Repository[T]) BulkUpdate(ctx context.Context, updates []Update) ([]T, error) {
	out := make([]T, 0, len(updates))
	for _, u := range updates {
		row, err := r.Update(ctx, u.ID, u.Values)
		if err != nil {
			return out, err
		}
		if row != nil {
			out = append(out, *row)
		}
	}
	return out, nil
}

// BulkDelete removes every listed id with one statement and returns how many
// rows went away.
func (r *Repository[T]) BulkDelete(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	n, err := r.Command(ctx, psql.Delete(r.table).Where(squirrel.Eq{r.primaryKey: ids}))
	if err != nil {
		return 0, fmt.Errorf("bulk deleting %s: %w", r.table, err)
	}
	return n, nil
}
