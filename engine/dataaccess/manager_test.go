package dataaccess

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/rapidcrm/crmstore/engine/core"
	"github.com/rapidcrm/crmstore/engine/crm/company"
	"github.com/rapidcrm/crmstore/engine/infra/conn"
	"github.com/rapidcrm/crmstore/engine/infra/migrate"
	"github.com/rapidcrm/crmstore/engine/infra/repository"
	"github.com/rapidcrm/crmstore/pkg/config"
	"github.com/rapidcrm/crmstore/test"
)

var widgets = migrate.Migration{
	Name:        "create_widgets_table",
	Version:     "1.0.0",
	SQL:         "CREATE TABLE widgets (id INT)",
	RollbackSQL: "DROP TABLE widgets",
}

func newManager(t *testing.T) (*Manager, *test.MockSetup, afero.Fs) {
	t.Helper()
	setup := test.NewMockSetup(t)
	fs := afero.NewMemMapFs()
	m, err := NewWithExecutor(setup.Executor, test.ConnectionID,
		WithFs(fs),
		WithBackupDir("/var/backups/crm"),
		WithClock(func() time.Time { return test.FixedTime }),
		WithMigrations([]migrate.Migration{widgets}),
	)
	require.NoError(t, err)
	return m, setup, fs
}

func TestNew(t *testing.T) {
	t.Run("Should open the primary connection and apply pending migrations", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS migrations")).
			WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
		mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM migrations WHERE name = $1 LIMIT 1")).
			WithArgs(widgets.Name).
			WillReturnRows(pgxmock.NewRows([]string{"?column?"}))
		mock.ExpectExec(regexp.QuoteMeta(widgets.SQL)).
			WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO migrations (name,version,rollback_sql) VALUES ($1,$2,$3)")).
			WithArgs(widgets.Name, widgets.Version, widgets.RollbackSQL).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		cfg := config.Default()
		cfg.Migrations.AutoApply = true
		var dialed conn.Config
		m, err := New(test.Context(t), cfg,
			WithDialer(func(_ context.Context, c conn.Config) (conn.DB, error) {
				dialed = c
				return mock, nil
			}),
			WithMeter(sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader())).Meter("test")),
			WithMigrations([]migrate.Migration{widgets}),
			WithFs(afero.NewMemMapFs()),
		)
		require.NoError(t, err)
		assert.Equal(t, "primary", dialed.ID)
		assert.Equal(t, "primary", m.PrimaryConnectionID())
		assert.True(t, m.IsHealthy(test.Context(t)))
		for _, r := range []any{
			m.Companies(), m.Deals(), m.Users(), m.Drivers(),
			m.Vehicles(), m.Services(), m.Tasks(), m.Contacts(),
		} {
			assert.NotNil(t, r)
		}
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Should surface a failed handshake as a connection error", func(t *testing.T) {
		_, err := New(test.Context(t), config.Default(),
			WithDialer(func(context.Context, conn.Config) (conn.DB, error) {
				return nil, errors.New("connection refused")
			}),
		)
		var cerr *conn.ConnectionError
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, int64(1), cerr.Connection.ErrorCount())
	})

	t.Run("Should require a configuration", func(t *testing.T) {
		_, err := New(test.Context(t), nil)
		assert.Error(t, err)
	})
}

func TestManager_TableHelpers(t *testing.T) {
	t.Run("Should reject tables outside the entity set", func(t *testing.T) {
		m, _, _ := newManager(t)
		ctx := test.Context(t)
		_, err := m.BatchInsert(ctx, "pg_authid", []repository.Values{{"rolname": "x"}})
		assert.ErrorIs(t, err, core.ErrInvalidInput)
		_, err = m.BatchDelete(ctx, "migrations", []string{"1"})
		assert.ErrorIs(t, err, core.ErrInvalidInput)
		_, err = m.Paginate(ctx, "users; DROP TABLE users", repository.PageRequest{})
		assert.ErrorIs(t, err, core.ErrInvalidInput)
	})

	t.Run("Should delete two of three vehicles with one statement", func(t *testing.T) {
		m, setup, _ := newManager(t)
		setup.Mock.ExpectExec(regexp.QuoteMeta("DELETE FROM vehicles WHERE id IN ($1,$2)")).
			WithArgs("v1", "v2").
			WillReturnResult(pgxmock.NewResult("DELETE", 2))
		setup.Mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM vehicles ORDER BY created_at DESC")).
			WillReturnRows(pgxmock.NewRows([]string{"id", "make", "created_at"}).AddRow("v3", "Volvo", test.FixedTime))

		n, err := m.BatchDelete(test.Context(t), "vehicles", []string{"v1", "v2"})
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		left, err := m.Vehicles().FindAll(test.Context(t))
		require.NoError(t, err)
		require.Len(t, left, 1)
		assert.Equal(t, "v3", left[0].ID)
		setup.ExpectationsWereMet()
	})

	t.Run("Should insert a batch and return untyped rows", func(t *testing.T) {
		m, setup, _ := newManager(t)
		setup.Mock.ExpectQuery(regexp.QuoteMeta(
			"INSERT INTO services (category, name) VALUES ($1, $2), ($3, $4) RETURNING *",
		)).
			WithArgs("Compliance", "IFTA Filing", "Registration", "BOC-3 Filing").
			WillReturnRows(pgxmock.NewRows([]string{"id", "name"}).
				AddRow("s1", "IFTA Filing").
				AddRow("s2", "BOC-3 Filing"))

		rows, err := m.BatchInsert(test.Context(t), "services", []repository.Values{
			{"name": "IFTA Filing", "category": "Compliance"},
			{"name": "BOC-3 Filing", "category": "Registration"},
		})
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, "s2", rows[1]["id"])
		setup.ExpectationsWereMet()
	})

	t.Run("Should update sequentially and skip missing ids", func(t *testing.T) {
		m, setup, _ := newManager(t)
		updateSQL := regexp.QuoteMeta("UPDATE tasks SET status = $1, updated_at = NOW() WHERE id = $2 RETURNING *")
		setup.Mock.ExpectQuery(updateSQL).WithArgs("completed", "t1").
			WillReturnRows(pgxmock.NewRows([]string{"id", "status"}).AddRow("t1", "completed"))
		setup.Mock.ExpectQuery(updateSQL).WithArgs("completed", "gone").
			WillReturnRows(pgxmock.NewRows([]string{"id", "status"}))

		rows, err := m.BatchUpdate(test.Context(t), "tasks", []repository.Update{
			{ID: "t1", Values: repository.Values{"status": "completed"}},
			{ID: "gone", Values: repository.Values{"status": "completed"}},
		})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "t1", rows[0]["id"])
		setup.ExpectationsWereMet()
	})

	t.Run("Should search with one ILIKE per field", func(t *testing.T) {
		m, setup, _ := newManager(t)
		setup.Mock.ExpectQuery(regexp.QuoteMeta(
			"SELECT * FROM companies WHERE (name ILIKE $1 OR email ILIKE $2) ORDER BY created_at DESC",
		)).
			WithArgs("%acme%", "%acme%").
			WillReturnRows(pgxmock.NewRows([]string{"id", "name"}).AddRow("c1", "Acme Co"))

		rows, err := m.Search(test.Context(t), "companies", "acme", []string{"name", "email"})
		require.NoError(t, err)
		assert.Len(t, rows, 1)
		setup.ExpectationsWereMet()
	})
}

func TestManager_WithTransaction(t *testing.T) {
	insertSQL := regexp.QuoteMeta("INSERT INTO companies (name) VALUES ($1) RETURNING *")

	t.Run("Should commit repository writes made inside the callback", func(t *testing.T) {
		m, setup, _ := newManager(t)
		setup.Mock.ExpectBegin()
		setup.Mock.ExpectQuery(insertSQL).WithArgs("Acme Co").
			WillReturnRows(pgxmock.NewRows([]string{"id", "name"}).AddRow("c1", "Acme Co"))
		setup.Mock.ExpectCommit()

		err := m.WithTransaction(test.Context(t), func(ctx context.Context) error {
			_, err := m.Companies().CreateCompany(ctx, company.Input{Name: test.Ptr("Acme Co")})
			return err
		})
		require.NoError(t, err)
		setup.ExpectationsWereMet()
	})

	t.Run("Should roll back when the callback fails", func(t *testing.T) {
		m, setup, _ := newManager(t)
		setup.Mock.ExpectBegin()
		setup.Mock.ExpectQuery(insertSQL).WithArgs("Acme Co").
			WillReturnRows(pgxmock.NewRows([]string{"id", "name"}).AddRow("c1", "Acme Co"))
		setup.Mock.ExpectRollback()

		boom := errors.New("credit check failed")
		err := m.WithTransaction(test.Context(t), func(ctx context.Context) error {
			if _, err := m.Companies().CreateCompany(ctx, company.Input{Name: test.Ptr("Acme Co")}); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)
		setup.ExpectationsWereMet()
	})
}

func TestManager_Migrations(t *testing.T) {
	t.Run("Should report a missing rollback as its own error", func(t *testing.T) {
		m, setup, _ := newManager(t)
		setup.Mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(rollback_sql, '') AS rollback_sql FROM migrations")).
			WithArgs("seed_reference_data").
			WillReturnRows(pgxmock.NewRows([]string{"rollback_sql"}).AddRow(""))

		err := m.RollbackMigration(test.Context(t), "seed_reference_data")
		var noRollback *core.NoRollbackAvailableError
		require.ErrorAs(t, err, &noRollback)
		assert.Equal(t, "seed_reference_data", noRollback.Name)
		setup.ExpectationsWereMet()
	})
}

func TestManager_Stats(t *testing.T) {
	t.Run("Should count every entity table", func(t *testing.T) {
		m, setup, _ := newManager(t)
		setup.Mock.MatchExpectationsInOrder(false)
		for i, table := range Tables {
			setup.Mock.ExpectQuery("^" + regexp.QuoteMeta("SELECT COUNT(*) AS count FROM "+table) + "$").
				WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(i + 1)))
		}

		stats, err := m.Stats(test.Context(t))
		require.NoError(t, err)
		assert.Len(t, stats.Tables, len(Tables))
		assert.Equal(t, int64(1), stats.Tables[Tables[0]])
		assert.Equal(t, 1, stats.Connections.TotalConnections)
		assert.Equal(t, int64(len(Tables)), stats.Connections.TotalQueries)
		setup.ExpectationsWereMet()
	})
}
