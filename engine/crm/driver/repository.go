package driver

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"golang.org/x/sync/errgroup"

	"github.com/rapidcrm/crmstore/engine/core"
	"github.com/rapidcrm/crmstore/engine/infra/executor"
	"github.com/rapidcrm/crmstore/engine/infra/repository"
	"github.com/rapidcrm/crmstore/pkg/logger"
)

var (
	ErrCreatedNotFound = errors.New("failed to retrieve created driver")
	ErrUpdatedNotFound = errors.New("failed to retrieve updated driver")
)

const detailFrom = Table + " d" +
	" LEFT JOIN companies c ON c.id = d.company_id" +
	" LEFT JOIN LATERAL (SELECT id, license_plate FROM vehicles" +
	" WHERE current_driver_id = d.id ORDER BY updated_at DESC LIMIT 1) v ON TRUE"

var detailColumns = []string{
	"d.*",
	"c.name AS company_name",
	"v.id AS current_vehicle_id",
	"v.license_plate AS current_vehicle_plate",
	validLicense + " AS has_valid_license",
	validMedical + " AS has_valid_medical",
	hazmat + " AS has_hazmat",
}

type Repository struct {
	*repository.Repository[Driver]
}

func NewRepository(exec *executor.Executor, connectionID string) (*Repository, error) {
	base, err := repository.New[Driver](exec, connectionID, Table)
	if err != nil {
		return nil, err
	}
	return &Repository{Repository: base}, nil
}

func (r *Repository) details() squirrel.SelectBuilder {
	return repository.Builder().Select(detailColumns...).From(detailFrom)
}

// FindDriver returns the detail view of one driver, or nil.
func (r *Repository) FindDriver(ctx context.Context, id string) (*Driver, error) {
	return r.Get(ctx, r.details().Where(squirrel.Eq{"d.id": id}))
}

func (r *Repository) List(ctx context.Context, f Filters) ([]Driver, error) {
	return r.Query(ctx, f.Filter().Apply(r.details()).OrderBy("d.last_name ASC", "d.first_name ASC"))
}

func (r *Repository) Paginate(ctx context.Context, req repository.PageRequest, f Filters) (*repository.Page[Driver], error) {
	filter := f.Filter()
	count := filter.Apply(repository.Builder().Select("COUNT(*) AS count").From(detailFrom))
	return repository.PageOf[Driver](ctx, r.Repository, req, count, filter.Apply(r.details()), "d.")
}

func (r *Repository) FindByCompany(ctx context.Context, companyID string) ([]Driver, error) {
	return r.List(ctx, Filters{CompanyID: &companyID})
}

// CreateDriver inserts a driver and returns its detail view.
func (r *Repository) CreateDriver(ctx context.Context, in Input) (*Driver, error) {
	if in.FirstName == nil || in.LastName == nil {
		return nil, core.NewInvalidInput("name", "first and last name are required")
	}
	if err := repository.Validate(in); err != nil {
		return nil, err
	}
	created, err := r.Create(ctx, in.Values())
	if err != nil {
		return nil, err
	}
	if created == nil {
		return nil, ErrCreatedNotFound
	}
	d, err := r.FindDriver(ctx, created.ID)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, ErrCreatedNotFound
	}
	return d, nil
}

// UpdateDriver returns nil when id does not exist.
func (r *Repository) UpdateDriver(ctx context.Context, id string, in Input) (*Driver, error) {
	if err := repository.Validate(in); err != nil {
		return nil, err
	}
	updated, err := r.Update(ctx, id, in.Values())
	if err != nil || updated == nil {
		return nil, err
	}
	d, err := r.FindDriver(ctx, id)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, ErrUpdatedNotFound
	}
	return d, nil
}

// DeleteDriver releases the driver's vehicles and removes the driver in one
// transaction.
func (r *Repository) DeleteDriver(ctx context.Context, id string) (bool, error) {
	var deleted bool
	err := r.WithTransaction(ctx, func(ctx context.Context) error {
		released, err := r.Command(ctx, repository.Builder().
			Update("vehicles").
			Set("current_driver_id", nil).
			Set("updated_at", squirrel.Expr("NOW()")).
			Where(squirrel.Eq{"current_driver_id": id}))
		if err != nil {
			return fmt.Errorf("releasing vehicles: %w", err)
		}
		deleted, err = r.Delete(ctx, id)
		if err != nil {
			return err
		}
		logger.FromContext(ctx).Debug("Driver deleted", "driver_id", id, "vehicles_released", released, "deleted", deleted)
		return nil
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}

// ExpiringDocuments returns active drivers whose license or medical
// certificate lapses within days.
func (r *Repository) ExpiringDocuments(ctx context.Context, days int) ([]Driver, error) {
	window := "BETWEEN CURRENT_DATE AND CURRENT_DATE + ?::int"
	return r.Query(ctx, r.details().
		Where(squirrel.Eq{"d.status": StatusActive}).
		Where(squirrel.Or{
			squirrel.Expr("d.license_expiry "+window, days),
			squirrel.Expr("d.medical_certificate_expiry "+window, days),
		}).
		OrderBy("LEAST(d.license_expiry, d.medical_certificate_expiry) ASC"))
}

var byCompanyQuery = repository.Builder().
	Select("COALESCE(c.name, '"+repository.UnknownGroup+"') AS key", "COUNT(*) AS count").
	From(Table + " d LEFT JOIN companies c ON c.id = d.company_id").
	GroupBy("c.name")

func (r *Repository) Stats(ctx context.Context) (*Stats, error) {
	var s Stats
	countIf := func(cond string) squirrel.SelectBuilder {
		return repository.Builder().Select("COUNT(*) AS count").From(Table + " d").Where(cond)
	}
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
		s.WithValidLicense, err = repository.Scalar[int64](gc, r.Repository, countIf(validLicense), "count")
		return err
	})
	g.Go(func() (err error) {
		s.WithValidMedical, err = repository.Scalar[int64](gc, r.Repository, countIf(validMedical), "count")
		return err
	})
	g.Go(func() (err error) {
		s.WithHazmat, err = repository.Scalar[int64](gc, r.Repository, countIf(hazmat), "count")
		return err
	})
	g.Go(func() (err error) {
		rows, err := repository.QueryAs[repository.GroupCount](gc, r.Repository, byCompanyQuery)
		s.ByCompany = repository.FoldCounts(rows)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("driver stats: %w", err)
	}
	s.Active = s.ByStatus[StatusActive]
	return &s, nil
}
