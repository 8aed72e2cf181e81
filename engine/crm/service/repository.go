package service

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/rapidcrm/crmstore/engine/core"
	"github.com/rapidcrm/crmstore/engine/infra/executor"
	"github.com/rapidcrm/crmstore/engine/infra/repository"
)

var catalogOrder = []string{"category ASC", "name ASC"}

type Repository struct {
	*repository.Repository[Service]
}

func NewRepository(exec *executor.Executor, connectionID string) (*Repository, error) {
	base, err := repository.New[Service](exec, connectionID, Table)
	if err != nil {
		return nil, err
	}
	return &Repository{Repository: base}, nil
}

func (r *Repository) CreateService(ctx context.Context, in Input) (*Service, error) {
	if in.Name == nil {
		return nil, core.NewInvalidInput("name", "is required")
	}
	if in.BasePrice != nil && in.BasePrice.IsNegative() {
		return nil, core.NewInvalidInput("basePrice", "must not be negative")
	}
	if err := repository.Validate(in); err != nil {
		return nil, err
	}
	return r.Create(ctx, in.Values())
}

func (r *Repository) UpdateService(ctx context.Context, id string, in Input) (*Service, error) {
	if in.BasePrice != nil && in.BasePrice.IsNegative() {
		return nil, core.NewInvalidInput("basePrice", "must not be negative")
	}
	if err := repository.Validate(in); err != nil {
		return nil, err
	}
	return r.Update(ctx, id, in.Values())
}

// List returns services matching f in catalog order.
func (r *Repository) List(ctx context.Context, f Filters) ([]Service, error) {
	return r.Query(ctx, f.Filter().Apply(r.Select()).OrderBy(catalogOrder...))
}

func (r *Repository) Paginate(ctx context.Context, req repository.PageRequest, f Filters) (*repository.Page[Service], error) {
	return r.Repository.Paginate(ctx, req, f.Filter().Predicates()...)
}

func (r *Repository) Active(ctx context.Context) ([]Service, error) {
	active := true
	return r.List(ctx, Filters{IsActive: &active})
}

// ByCategory groups active services by category.
func (r *Repository) ByCategory(ctx context.Context) (map[string][]Service, error) {
	rows, err := r.Active(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]Service)
	for _, s := range rows {
		out[s.Category] = append(out[s.Category], s)
	}
	return out, nil
}

// ToggleActive flips is_active and returns the row, or nil when missing.
func (r *Repository) ToggleActive(ctx context.Context, id string) (*Service, error) {
	return r.Update(ctx, id, repository.Values{"is_active": squirrel.Expr("NOT is_active")})
}

type priceSummary struct {
	Active       int64           `db:"active"`
	AveragePrice decimal.Decimal `db:"average_price"`
	TotalValue   decimal.Decimal `db:"total_value"`
}

var priceQuery = repository.Builder().Select(
	"COUNT(*) FILTER (WHERE is_active) AS active",
	"ROUND(COALESCE(AVG(base_price) FILTER (WHERE is_active), 0), 2) AS average_price",
	"COALESCE(SUM(base_price) FILTER (WHERE is_active), 0) AS total_value",
).From(Table)

func (r *Repository) Stats(ctx context.Context) (*Stats, error) {
	var (
		s      Stats
		prices []priceSummary
	)
	g, gc := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		s.Total, err = r.Count(gc)
		return err
	})
	g.Go(func() (err error) {
		prices, err = repository.QueryAs[priceSummary](gc, r.Repository, priceQuery)
		return err
	})
	g.Go(func() (err error) {
		s.ByCategory, err = r.CountBy(gc, "category")
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("service stats: %w", err)
	}
	if len(prices) > 0 {
		s.Active = prices[0].Active
		s.AveragePrice = prices[0].AveragePrice
		s.TotalValue = prices[0].TotalValue
	}
	return &s, nil
}
