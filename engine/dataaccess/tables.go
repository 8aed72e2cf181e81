package dataaccess

import (
	"context"
	"fmt"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/rapidcrm/crmstore/engine/core"
	"github.com/rapidcrm/crmstore/engine/crm/company"
	"github.com/rapidcrm/crmstore/engine/crm/contact"
	"github.com/rapidcrm/crmstore/engine/crm/deal"
	"github.com/rapidcrm/crmstore/engine/crm/driver"
	"github.com/rapidcrm/crmstore/engine/crm/service"
	"github.com/rapidcrm/crmstore/engine/crm/task"
	"github.com/rapidcrm/crmstore/engine/crm/user"
	"github.com/rapidcrm/crmstore/engine/crm/vehicle"
	"github.com/rapidcrm/crmstore/engine/infra/conn"
	"github.com/rapidcrm/crmstore/engine/infra/executor"
	"github.com/rapidcrm/crmstore/engine/infra/repository"
)

// Tables lists the entity tables the table-level helpers accept.
var Tables = []string{
	company.Table,
	contact.Table,
	deal.Table,
	driver.Table,
	service.Table,
	task.Table,
	user.Table,
	vehicle.Table,
}

type tableRepository = repository.Repository[executor.Row]

func newTables(exec *executor.Executor, connectionID string) (map[string]*tableRepository, error) {
	out := make(map[string]*tableRepository, len(Tables))
	for _, name := range Tables {
		r, err := repository.New[executor.Row](exec, connectionID, name)
		if err != nil {
			return nil, err
		}
		out[name] = r
	}
	return out, nil
}

func (m *Manager) table(name string) (*tableRepository, error) {
	r, ok := m.tables[name]
	if !ok {
		return nil, core.NewInvalidInput("table", "unknown table "+name)
	}
	return r, nil
}

// BatchInsert inserts items into table with one multi-row statement.
func (m *Manager) BatchInsert(ctx context.Context, table string, items []repository.Values) ([]executor.Row, error) {
	r, err := m.table(table)
	if err != nil {
		return nil, err
	}
	return r.BulkCreate(ctx, items)
}

// BatchUpdate applies updates in order. Missing ids are skipped.
func (m *Manager) BatchUpdate(ctx context.Context, table string, updates []repository.Update) ([]executor.Row, error) {
	r, err := m.table(table)
	if err != nil {
		return nil, err
	}
	return r.BulkUpdate(ctx, updates)
}

// BatchDelete removes ids from table and returns the number deleted.
func (m *Manager) BatchDelete(ctx context.Context, table string, ids []string) (int, error) {
	r, err := m.table(table)
	if err != nil {
		return 0, err
	}
	return r.BulkDelete(ctx, ids)
}

func (m *Manager) Search(ctx context.Context, table, term string, fields []string) ([]executor.Row, error) {
	r, err := m.table(table)
	if err != nil {
		return nil, err
	}
	return r.Search(ctx, term, fields)
}

func (m *Manager) Paginate(ctx context.Context, table string, req repository.PageRequest) (*repository.Page[executor.Row], error) {
	r, err := m.table(table)
	if err != nil {
		return nil, err
	}
	return r.Paginate(ctx, req)
}

// Stats combines connection counters with a row count per entity table.
type Stats struct {
	Connections conn.Stats       `json:"connections"`
	Tables      map[string]int64 `json:"tables"`
}

func (m *Manager) Stats(ctx context.Context) (*Stats, error) {
	counts := make([]int64, len(Tables))
	g, gc := errgroup.WithContext(ctx)
	for i, name := range Tables {
		r := m.tables[name]
		g.Go(func() (err error) {
			counts[i], err = r.Count(gc)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("data access stats: %w", err)
	}
	s := &Stats{
		Connections: m.ConnectionStats(),
		Tables:      make(map[string]int64, len(Tables)),
	}
	for i, name := range Tables {
		s.Tables[name] = counts[i]
	}
	return s, nil
}

// KnownTable reports whether name is accepted by the table helpers.
func KnownTable(name string) bool {
	return slices.Contains(Tables, name)
}
