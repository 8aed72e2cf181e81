package company

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"golang.org/x/sync/errgroup"

	"github.com/rapidcrm/crmstore/engine/core"
	"github.com/rapidcrm/crmstore/engine/infra/executor"
	"github.com/rapidcrm/crmstore/engine/infra/repository"
)

type Repository struct {
	*repository.Repository[Company]
}

func NewRepository(exec *executor.Executor, connectionID string) (*Repository, error) {
	base, err := repository.New[Company](exec, connectionID, Table)
	if err != nil {
		return nil, err
	}
	return &Repository{Repository: base}, nil
}

func (r *Repository) CreateCompany(ctx context.Context, in Input) (*Company, error) {
	if in.Name == nil {
		return nil, core.NewInvalidInput("name", "is required")
	}
	if err := repository.Validate(in); err != nil {
		return nil, err
	}
	return r.Create(ctx, in.Values())
}

// UpdateCompany returns nil when id does not exist.
func (r *Repository) UpdateCompany(ctx context.Context, id string, in Input) (*Company, error) {
	if err := repository.Validate(in); err != nil {
		return nil, err
	}
	return r.Update(ctx, id, in.Values())
}

// List returns companies matching f, newest first.
func (r *Repository) List(ctx context.Context, f Filters) ([]Company, error) {
	return r.Query(ctx, f.Filter().Apply(r.Select()).OrderBy("created_at DESC"))
}

func (r *Repository) Paginate(ctx context.Context, req repository.PageRequest, f Filters) (*repository.Page[Company], error) {
	return r.Repository.Paginate(ctx, req, f.Filter().Predicates()...)
}

// SearchCompanies matches term against name, email, industry, city and the
// regulatory numbers.
func (r *Repository) SearchCompanies(ctx context.Context, term string) ([]Company, error) {
	return r.Search(ctx, term, []string{"name", "email", "industry", "city", "usdot_number", "mc_number"})
}

func (r *Repository) FindByUSDOT(ctx context.Context, number string) (*Company, error) {
	return r.Get(ctx, r.Select().Where(squirrel.Eq{"usdot_number": number}))
}

func (r *Repository) FindByMC(ctx context.Context, number string) (*Company, error) {
	return r.Get(ctx, r.Select().Where(squirrel.Eq{"mc_number": number}))
}

func (r *Repository) FindByIndustry(ctx context.Context, industry string) ([]Company, error) {
	return r.Query(ctx, r.Select().Where(squirrel.Eq{"industry": industry}).OrderBy("name ASC"))
}

func (r *Repository) FindByState(ctx context.Context, state string) ([]Company, error) {
	return r.Query(ctx, r.Select().Where(squirrel.Eq{"state": state}).OrderBy("name ASC"))
}

// Recent returns the newest limit companies.
func (r *Repository) Recent(ctx context.Context, limit int) ([]Company, error) {
	if limit < 1 {
		limit = repository.DefaultLimit
	}
	return r.Query(ctx, r.Select().OrderBy("created_at DESC").Suffix("LIMIT ?", limit))
}

func (r *Repository) UpdateStatus(ctx context.Context, id, status string) (*Company, error) {
	return r.UpdateCompany(ctx, id, Input{Status: &status})
}

func (r *Repository) UpdateUSDOT(ctx context.Context, id, number string) (*Company, error) {
	return r.Update(ctx, id, repository.Values{"usdot_number": number})
}

func (r *Repository) UpdateMC(ctx context.Context, id, number string) (*Company, error) {
	return r.Update(ctx, id, repository.Values{"mc_number": number})
}

// Stats runs the aggregate queries concurrently.
func (r *Repository) Stats(ctx context.Context) (*Stats, error) {
	var s Stats
	g, gc := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		s.Total, err = r.Count(gc)
		return err
	})
	g.Go(func() (err error) {
		s.ByStatus, err = r.CountBy(gc, "status")
		return err
	})
	g.Go(func() (err error) {
		s.WithUSDOT, err = r.CountWhere(gc, squirrel.Expr(hasUSDOT))
		return err
	})
	g.Go(func() (err error) {
		s.ByIndustry, err = r.CountBy(gc, "industry")
		return err
	})
	g.Go(func() (err error) {
		s.ByState, err = r.CountBy(gc, "state")
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("company stats: %w", err)
	}
	s.Active = s.ByStatus[StatusActive]
	s.Prospects = s.ByStatus[StatusProspect]
	s.Customers = s.ByStatus[StatusCustomer]
	return &s, nil
}
