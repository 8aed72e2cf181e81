package contact

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"golang.org/x/sync/errgroup"

	"github.com/rapidcrm/crmstore/engine/core"
	"github.com/rapidcrm/crmstore/engine/infra/executor"
	"github.com/rapidcrm/crmstore/engine/infra/repository"
	"github.com/rapidcrm/crmstore/pkg/logger"
)

const detailFrom = Table + " ct LEFT JOIN companies c ON c.id = ct.company_id"

var (
	detailColumns = []string{"ct.*", "c.name AS company_name"}
	nameOrder     = []string{"ct.last_name ASC", "ct.first_name ASC"}
)

type Repository struct {
	*repository.Repository[Contact]
}

func NewRepository(exec *executor.Executor, connectionID string) (*Repository, error) {
	base, err := repository.New[Contact](exec, connectionID, Table)
	if err != nil {
		return nil, err
	}
	return &Repository{Repository: base}, nil
}

func (r *Repository) details() squirrel.SelectBuilder {
	return repository.Builder().Select(detailColumns...).From(detailFrom)
}

func (r *Repository) FindContact(ctx context.Context, id string) (*Contact, error) {
	return r.Get(ctx, r.details().Where(squirrel.Eq{"ct.id": id}))
}

func (r *Repository) List(ctx context.Context, f Filters) ([]Contact, error) {
	return r.Query(ctx, f.Filter().Apply(r.details()).OrderBy(nameOrder...))
}

func (r *Repository) Paginate(ctx context.Context, req repository.PageRequest, f Filters) (*repository.Page[Contact], error) {
	filter := f.Filter()
	count := filter.Apply(repository.Builder().Select("COUNT(*) AS count").From(detailFrom))
	return repository.PageOf[Contact](ctx, r.Repository, req, count, filter.Apply(r.details()), "ct.")
}

func (r *Repository) CreateContact(ctx context.Context, in Input) (*Contact, error) {
	switch {
	case in.FirstName == nil:
		return nil, core.NewInvalidInput("firstName", "is required")
	case in.LastName == nil:
		return nil, core.NewInvalidInput("lastName", "is required")
	}
	if err := repository.Validate(in); err != nil {
		return nil, err
	}
	return r.Create(ctx, in.Values())
}

func (r *Repository) UpdateContact(ctx context.Context, id string, in Input) (*Contact, error) {
	if err := repository.Validate(in); err != nil {
		return nil, err
	}
	return r.Update(ctx, id, in.Values())
}

// FindByCompany lists a company's contacts, primary contact first.
func (r *Repository) FindByCompany(ctx context.Context, companyID string) ([]Contact, error) {
	return r.Query(ctx, r.details().
		Where(squirrel.Eq{"ct.company_id": companyID}).
		OrderBy(append([]string{"ct.is_primary DESC"}, nameOrder...)...))
}

// FindByEmail matches case-insensitively.
func (r *Repository) FindByEmail(ctx context.Context, email string) (*Contact, error) {
	return r.Get(ctx, r.details().Where(squirrel.Expr("LOWER(ct.email) = LOWER(?)", email)))
}

// SetPrimary makes id the only primary contact of its company. It returns
// nil when the contact does not exist.
func (r *Repository) SetPrimary(ctx context.Context, id string) (*Contact, error) {
	var out *Contact
	err := r.WithTransaction(ctx, func(ctx context.Context) error {
		c, err := r.FindByID(ctx, id)
		if err != nil || c == nil {
			return err
		}
		if c.CompanyID != nil {
			demoted, err := r.Command(ctx, repository.Builder().
				Update(Table).
				Set("is_primary", false).
				Set("updated_at", squirrel.Expr("NOW()")).
				Where(squirrel.Eq{"company_id": *c.CompanyID}).
				Where(squirrel.Eq{"is_primary": true}).
				Where(squirrel.NotEq{"id": id}))
			if err != nil {
				return fmt.Errorf("demoting primary contacts: %w", err)
			}
			logger.FromContext(ctx).Debug("Primary contact replaced", "company_id", *c.CompanyID, "demoted", demoted)
		}
		out, err = r.Update(ctx, id, repository.Values{"is_primary": true})
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

var byCompanyQuery = repository.Builder().
	Select("COALESCE(c.name, '"+repository.UnknownGroup+"') AS key", "COUNT(*) AS count").
	From(detailFrom).
	GroupBy("c.name")

func (r *Repository) Stats(ctx context.Context) (*Stats, error) {
	var s Stats
	g, gc := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		s.Total, err = r.Count(gc)
		return err
	})
	g.Go(func() (err error) {
		s.Primary, err = r.CountWhere(gc, squirrel.Eq{"is_primary": true})
		return err
	})
	g.Go(func() (err error) {
		rows, err := repository.QueryAs[repository.GroupCount](gc, r.Repository, byCompanyQuery)
		s.ByCompany = repository.FoldCounts(rows)
		return err
	})
	g.Go(func() (err error) {
		s.ByStatus, err = r.CountBy(gc, "status")
		return err
	})
	g.Go(func() (err error) {
		s.ByDepartment, err = r.CountBy(gc, "department")
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("contact stats: %w", err)
	}
	return &s, nil
}
