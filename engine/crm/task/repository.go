package task

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"golang.org/x/sync/errgroup"

	"github.com/rapidcrm/crmstore/engine/core"
	"github.com/rapidcrm/crmstore/engine/infra/executor"
	"github.com/rapidcrm/crmstore/engine/infra/repository"
)

const detailFrom = Table + " t" +
	" LEFT JOIN companies c ON c.id = t.company_id" +
	" LEFT JOIN contacts ct ON ct.id = t.contact_id" +
	" LEFT JOIN users u ON u.id = t.assigned_to"

var detailColumns = []string{
	"t.*",
	"c.name AS company_name",
	"CASE WHEN ct.id IS NULL THEN NULL ELSE ct.first_name || ' ' || ct.last_name END AS contact_name",
	"u.name AS assignee_name",
}

type Repository struct {
	*repository.Repository[Task]
}

func NewRepository(exec *executor.Executor, connectionID string) (*Repository, error) {
	base, err := repository.New[Task](exec, connectionID, Table)
	if err != nil {
		return nil, err
	}
	return &Repository{Repository: base}, nil
}

func (r *Repository) details() squirrel.SelectBuilder {
	return repository.Builder().Select(detailColumns...).From(detailFrom)
}

func (r *Repository) FindTask(ctx context.Context, id string) (*Task, error) {
	return r.Get(ctx, r.details().Where(squirrel.Eq{"t.id": id}))
}

// List returns tasks matching f, most urgent first.
func (r *Repository) List(ctx context.Context, f Filters) ([]Task, error) {
	return r.Query(ctx, f.Filter().Apply(r.details()).OrderBy(priorityOrder...))
}

func (r *Repository) Paginate(ctx context.Context, req repository.PageRequest, f Filters) (*repository.Page[Task], error) {
	filter := f.Filter()
	count := filter.Apply(repository.Builder().Select("COUNT(*) AS count").From(detailFrom))
	return repository.PageOf[Task](ctx, r.Repository, req, count, filter.Apply(r.details()), "t.")
}

func (r *Repository) CreateTask(ctx context.Context, in Input) (*Task, error) {
	if in.Title == nil {
		return nil, core.NewInvalidInput("title", "is required")
	}
	if err := repository.Validate(in); err != nil {
		return nil, err
	}
	return r.Create(ctx, in.Values())
}

func (r *Repository) UpdateTask(ctx context.Context, id string, in Input) (*Task, error) {
	if err := repository.Validate(in); err != nil {
		return nil, err
	}
	return r.Update(ctx, id, in.Values())
}

// Overdue returns open tasks past their due date.
func (r *Repository) Overdue(ctx context.Context) ([]Task, error) {
	return r.Query(ctx, r.details().Where(overdueCond).OrderBy(priorityOrder...))
}

// DueSoon returns open tasks due between today and days from now.
func (r *Repository) DueSoon(ctx context.Context, days int) ([]Task, error) {
	return r.Query(ctx, r.details().
		Where(squirrel.Expr("t.due_date BETWEEN CURRENT_DATE AND CURRENT_DATE + ?::int", days)).
		Where(openCond).
		OrderBy(priorityOrder...))
}

// UpdateStatus stamps completed_at on completion and clears it otherwise.
func (r *Repository) UpdateStatus(ctx context.Context, id, status string) (*Task, error) {
	in := Input{Status: &status}
	if err := repository.Validate(in); err != nil {
		return nil, err
	}
	values := in.Values()
	if status == StatusCompleted {
		values["completed_at"] = squirrel.Expr("NOW()")
	} else {
		values["completed_at"] = nil
	}
	return r.Update(ctx, id, values)
}

func (r *Repository) Assign(ctx context.Context, id, userID string) (*Task, error) {
	return r.UpdateTask(ctx, id, Input{AssignedTo: &userID})
}

var (
	overdueCountQuery = repository.Builder().Select("COUNT(*) AS count").From(Table + " t").Where(overdueCond)
	byAssigneeQuery   = repository.Builder().
				Select("COALESCE(u.name, 'Unassigned') AS key", "COUNT(*) AS count").
				From(Table + " t LEFT JOIN users u ON u.id = t.assigned_to").
				GroupBy("u.name")
)

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
		s.Overdue, err = repository.Scalar[int64](gc, r.Repository, overdueCountQuery, "count")
		return err
	})
	g.Go(func() (err error) {
		s.ByPriority, err = r.CountBy(gc, "priority")
		return err
	})
	g.Go(func() (err error) {
		rows, err := repository.QueryAs[repository.GroupCount](gc, r.Repository, byAssigneeQuery)
		s.ByAssignee = repository.FoldCounts(rows)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("task stats: %w", err)
	}
	s.Pending = s.ByStatus[StatusPending]
	s.InProgress = s.ByStatus[StatusInProgress]
	s.Completed = s.ByStatus[StatusCompleted]
	return &s, nil
}
