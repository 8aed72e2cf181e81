package deal

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/Masterminds/squirrel"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/rapidcrm/crmstore/engine/core"
	"github.com/rapidcrm/crmstore/engine/infra/executor"
	"github.com/rapidcrm/crmstore/engine/infra/repository"
)

var (
	open   = squirrel.NotEq{"stage": []string{StageClosedWon, StageClosedLost}}
	active = squirrel.Eq{"status": StatusActive}
)

type Repository struct {
	*repository.Repository[Deal]
}

func NewRepository(exec *executor.Executor, connectionID string) (*Repository, error) {
	base, err := repository.New[Deal](exec, connectionID, Table)
	if err != nil {
		return nil, err
	}
	return &Repository{Repository: base}, nil
}

func (r *Repository) CreateDeal(ctx context.Context, in Input) (*Deal, error) {
	if in.Title == nil {
		return nil, core.NewInvalidInput("title", "is required")
	}
	if in.Value == nil {
		return nil, core.NewInvalidInput("value", "is required")
	}
	if err := repository.Validate(in); err != nil {
		return nil, err
	}
	return r.Create(ctx, in.Values())
}

// UpdateDeal returns nil when id does not exist.
func (r *Repository) UpdateDeal(ctx context.Context, id string, in Input) (*Deal, error) {
	if err := repository.Validate(in); err != nil {
		return nil, err
	}
	return r.Update(ctx, id, in.Values())
}

func (r *Repository) List(ctx context.Context, f Filters) ([]Deal, error) {
	return r.Query(ctx, f.Filter().Apply(r.Select()).OrderBy("created_at DESC"))
}

func (r *Repository) Paginate(ctx context.Context, req repository.PageRequest, f Filters) (*repository.Page[Deal], error) {
	return r.Repository.Paginate(ctx, req, f.Filter().Predicates()...)
}

func (r *Repository) SearchDeals(ctx context.Context, term string) ([]Deal, error) {
	return r.Search(ctx, term, []string{"title", "description", "source"})
}

// UpdateStage moves a deal and stamps the actual close date when the new
// stage closes it.
func (r *Repository) UpdateStage(ctx context.Context, id, stage string) (*Deal, error) {
	in := Input{Stage: &stage}
	if err := repository.Validate(in); err != nil {
		return nil, err
	}
	values := in.Values()
	if IsClosed(stage) {
		values["actual_close_date"] = squirrel.Expr("CURRENT_DATE")
	}
	return r.Update(ctx, id, values)
}

func (r *Repository) UpdateValue(ctx context.Context, id string, value decimal.Decimal) (*Deal, error) {
	return r.Update(ctx, id, repository.Values{"value": value})
}

func (r *Repository) UpdateProbability(ctx context.Context, id string, probability int) (*Deal, error) {
	return r.UpdateDeal(ctx, id, Input{Probability: &probability})
}

func (r *Repository) AssignOwner(ctx context.Context, id, ownerID string) (*Deal, error) {
	return r.UpdateDeal(ctx, id, Input{OwnerID: &ownerID})
}

// AddTag appends tag unless the deal already carries it. A missing deal
// yields nil.
func (r *Repository) AddTag(ctx context.Context, id, tag string) (*Deal, error) {
	d, err := r.FindByID(ctx, id)
	if err != nil || d == nil {
		return nil, err
	}
	if d.HasTag(tag) {
		return d, nil
	}
	return r.Update(ctx, id, repository.Values{"tags": append(slices.Clone(d.Tags), tag)})
}

func (r *Repository) RemoveTag(ctx context.Context, id, tag string) (*Deal, error) {
	d, err := r.FindByID(ctx, id)
	if err != nil || d == nil {
		return nil, err
	}
	if !d.HasTag(tag) {
		return d, nil
	}
	tags := slices.DeleteFunc(slices.Clone(d.Tags), func(t string) bool { return t == tag })
	return r.Update(ctx, id, repository.Values{"tags": tags})
}

// SetCustomField stores value under key in the deal's custom fields.
func (r *Repository) SetCustomField(ctx context.Context, id, key string, value any) (*Deal, error) {
	d, err := r.FindByID(ctx, id)
	if err != nil || d == nil {
		return nil, err
	}
	fields := make(map[string]any, len(d.CustomFields)+1)
	maps.Copy(fields, d.CustomFields)
	fields[key] = value
	return r.Update(ctx, id, repository.Values{"custom_fields": fields})
}

// HighValue returns active deals worth at least minValue, largest first.
func (r *Repository) HighValue(ctx context.Context, minValue decimal.Decimal) ([]Deal, error) {
	return r.Query(ctx, r.Select().
		Where(squirrel.GtOrEq{"value": minValue}).
		Where(active).
		OrderBy("value DESC"))
}

// ClosingSoon returns open active deals expected to close within days.
func (r *Repository) ClosingSoon(ctx context.Context, days int) ([]Deal, error) {
	return r.Query(ctx, r.Select().
		Where(squirrel.Expr("expected_close_date BETWEEN CURRENT_DATE AND CURRENT_DATE + ?::int", days)).
		Where(open).
		Where(active).
		OrderBy("expected_close_date ASC"))
}

// Overdue returns open active deals whose expected close date has passed.
func (r *Repository) Overdue(ctx context.Context) ([]Deal, error) {
	return r.Query(ctx, r.Select().
		Where(squirrel.Expr("expected_close_date < CURRENT_DATE")).
		Where(open).
		Where(active).
		OrderBy("expected_close_date ASC"))
}

type totals struct {
	TotalCount  int64           `db:"total_count"`
	TotalValue  decimal.Decimal `db:"total_value"`
	WonCount    int64           `db:"won_count"`
	WonValue    decimal.Decimal `db:"won_value"`
	LostCount   int64           `db:"lost_count"`
	LostValue   decimal.Decimal `db:"lost_value"`
	ActiveCount int64           `db:"active_count"`
	ActiveValue decimal.Decimal `db:"active_value"`
}

type group struct {
	Key string `db:"key"`
	Bucket
}

const (
	wonCond    = "stage = '" + StageClosedWon + "'"
	lostCond   = "stage = '" + StageClosedLost + "'"
	activeCond = "stage NOT IN ('" + StageClosedWon + "', '" + StageClosedLost + "')"
)

var totalsQuery = repository.Builder().Select(
	"COUNT(*) AS total_count",
	"COALESCE(SUM(value), 0) AS total_value",
	"COUNT(*) FILTER (WHERE "+wonCond+") AS won_count",
	"COALESCE(SUM(value) FILTER (WHERE "+wonCond+"), 0) AS won_value",
	"COUNT(*) FILTER (WHERE "+lostCond+") AS lost_count",
	"COALESCE(SUM(value) FILTER (WHERE "+lostCond+"), 0) AS lost_value",
	"COUNT(*) FILTER (WHERE "+activeCond+") AS active_count",
	"COALESCE(SUM(value) FILTER (WHERE "+activeCond+"), 0) AS active_value",
).From(Table)

func groupQuery(keyExpr, from, groupBy string) squirrel.SelectBuilder {
	return repository.Builder().
		Select(keyExpr+" AS key", "COUNT(*) AS count", "COALESCE(SUM(value), 0) AS value").
		From(from).
		GroupBy(groupBy)
}

var (
	byStageQuery  = groupQuery("stage", Table, "stage")
	bySourceQuery = groupQuery("COALESCE(source, '"+repository.UnknownGroup+"')", Table, "source")
	byOwnerQuery  = groupQuery("COALESCE(u.name, 'Unknown')", Table+" d LEFT JOIN users u ON u.id = d.owner_id", "u.name")
)

// Stats runs the aggregate queries concurrently and derives the ratios.
func (r *Repository) Stats(ctx context.Context) (*Stats, error) {
	var (
		t                       []totals
		stages, sources, owners []group
	)
	g, gc := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		t, err = repository.QueryAs[totals](gc, r.Repository, totalsQuery)
		return err
	})
	g.Go(func() (err error) {
		stages, err = repository.QueryAs[group](gc, r.Repository, byStageQuery)
		return err
	})
	g.Go(func() (err error) {
		sources, err = repository.QueryAs[group](gc, r.Repository, bySourceQuery)
		return err
	})
	g.Go(func() (err error) {
		owners, err = repository.QueryAs[group](gc, r.Repository, byOwnerQuery)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("deal stats: %w", err)
	}
	s := Stats{
		ByStage:  fold(stages),
		BySource: fold(sources),
		ByOwner:  fold(owners),
	}
	if len(t) > 0 {
		s.Total = Bucket{Count: t[0].TotalCount, Value: t[0].TotalValue}
		s.Won = Bucket{Count: t[0].WonCount, Value: t[0].WonValue}
		s.Lost = Bucket{Count: t[0].LostCount, Value: t[0].LostValue}
		s.Active = Bucket{Count: t[0].ActiveCount, Value: t[0].ActiveValue}
	}
	s.derive()
	return &s, nil
}

func fold(rows []group) map[string]Bucket {
	out := make(map[string]Bucket, len(rows))
	for _, row := range rows {
		b := out[row.Key]
		b.Count += row.Count
		b.Value = b.Value.Add(row.Value)
		out[row.Key] = b
	}
	return out
}
