package vehicle

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"golang.org/x/sync/errgroup"

	"github.com/rapidcrm/crmstore/engine/infra/executor"
	"github.com/rapidcrm/crmstore/engine/infra/repository"
)

const detailFrom = Table + " v" +
	" LEFT JOIN companies c ON c.id = v.company_id" +
	" LEFT JOIN drivers d ON d.id = v.current_driver_id"

var detailColumns = []string{
	"v.*",
	"c.name AS company_name",
	"CASE WHEN d.id IS NULL THEN NULL ELSE d.first_name || ' ' || d.last_name END AS driver_name",
}

var fleetOrder = []string{"v.make ASC", "v.model ASC", "v.year DESC"}

type Repository struct {
	*repository.Repository[Vehicle]
}

func NewRepository(exec *executor.Executor, connectionID string) (*Repository, error) {
	base, err := repository.New[Vehicle](exec, connectionID, Table)
	if err != nil {
		return nil, err
	}
	return &Repository{Repository: base}, nil
}

func (r *Repository) details() squirrel.SelectBuilder {
	return repository.Builder().Select(detailColumns...).From(detailFrom)
}

func (r *Repository) FindVehicle(ctx context.Context, id string) (*Vehicle, error) {
	return r.Get(ctx, r.details().Where(squirrel.Eq{"v.id": id}))
}

func (r *Repository) FindByVIN(ctx context.Context, vin string) (*Vehicle, error) {
	return r.Get(ctx, r.details().Where(squirrel.Eq{"v.vin": vin}))
}

func (r *Repository) FindByDriver(ctx context.Context, driverID string) ([]Vehicle, error) {
	return r.Query(ctx, r.details().Where(squirrel.Eq{"v.current_driver_id": driverID}).OrderBy(fleetOrder...))
}

// List returns vehicles matching f ordered by make, model and newest year.
func (r *Repository) List(ctx context.Context, f Filters) ([]Vehicle, error) {
	return r.Query(ctx, f.Filter().Apply(r.details()).OrderBy(fleetOrder...))
}

func (r *Repository) Paginate(ctx context.Context, req repository.PageRequest, f Filters) (*repository.Page[Vehicle], error) {
	filter := f.Filter()
	count := filter.Apply(repository.Builder().Select("COUNT(*) AS count").From(detailFrom))
	return repository.PageOf[Vehicle](ctx, r.Repository, req, count, filter.Apply(r.details()), "v.")
}

func (r *Repository) CreateVehicle(ctx context.Context, in Input) (*Vehicle, error) {
	if err := repository.Validate(in); err != nil {
		return nil, err
	}
	return r.Create(ctx, in.Values())
}

func (r *Repository) UpdateVehicle(ctx context.Context, id string, in Input) (*Vehicle, error) {
	if err := repository.Validate(in); err != nil {
		return nil, err
	}
	return r.Update(ctx, id, in.Values())
}

// AssignDriver reports whether the vehicle exists.
func (r *Repository) AssignDriver(ctx context.Context, vehicleID, driverID string) (bool, error) {
	return r.setDriver(ctx, vehicleID, driverID)
}

func (r *Repository) UnassignDriver(ctx context.Context, vehicleID string) (bool, error) {
	return r.setDriver(ctx, vehicleID, nil)
}

func (r *Repository) setDriver(ctx context.Context, vehicleID string, driverID any) (bool, error) {
	n, err := r.Command(ctx, repository.Builder().
		Update(Table).
		Set("current_driver_id", driverID).
		Set("updated_at", squirrel.Expr("NOW()")).
		Where(squirrel.Eq{"id": vehicleID}))
	if err != nil {
		return false, fmt.Errorf("setting driver of vehicle %s: %w", vehicleID, err)
	}
	return n > 0, nil
}

var byCompanyQuery = repository.Builder().
	Select("COALESCE(c.name, '"+repository.UnknownGroup+"') AS key", "COUNT(*) AS count").
	From(Table + " v LEFT JOIN companies c ON c.id = v.company_id").
	GroupBy("c.name")

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
		s.Hazmat, err = r.CountWhere(gc, squirrel.Eq{"has_hazmat": true})
		return err
	})
	g.Go(func() (err error) {
		s.ByType, err = r.CountBy(gc, "vehicle_type")
		return err
	})
	g.Go(func() (err error) {
		rows, err := repository.QueryAs[repository.GroupCount](gc, r.Repository, byCompanyQuery)
		s.ByCompany = repository.FoldCounts(rows)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("vehicle stats: %w", err)
	}
	s.Active = s.ByStatus[StatusActive]
	return &s, nil
}
