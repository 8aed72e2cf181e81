package migrate

import (
	"errors"
	"regexp"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidcrm/crmstore/engine/core"
	"github.com/rapidcrm/crmstore/test"
)

var (
	isAppliedSQL    = regexp.QuoteMeta("SELECT 1 FROM migrations WHERE name = $1 LIMIT 1")
	insertSQL       = regexp.QuoteMeta("INSERT INTO migrations (name,version,rollback_sql) VALUES ($1,$2,$3)")
	rollbackLookup  = regexp.QuoteMeta("SELECT COALESCE(rollback_sql, '') AS rollback_sql FROM migrations WHERE name = $1")
	deleteRecordSQL = regexp.QuoteMeta("DELETE FROM migrations WHERE name = $1")
	createTableSQL  = regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS migrations")
)

var companies = Migration{
	Name:        "create_companies_table",
	Version:     "1.0.0",
	SQL:         "CREATE TABLE IF NOT EXISTS companies (id UUID PRIMARY KEY)",
	RollbackSQL: "DROP TABLE IF EXISTS companies",
}

func newEngine(t *testing.T, migrations ...Migration) (*Engine, *test.MockSetup) {
	t.Helper()
	setup := test.NewMockSetup(t)
	return NewEngine(setup.Executor, test.ConnectionID, migrations), setup
}

func TestEngine_ApplyMigration(t *testing.T) {
	t.Run("Should run the forward statement once and record one tracking row", func(t *testing.T) {
		engine, setup := newEngine(t)
		ctx := test.Context(t)
		setup.Mock.ExpectQuery(isAppliedSQL).WithArgs(companies.Name).
			WillReturnRows(setup.Mock.NewRows([]string{"?column?"}))
		setup.Mock.ExpectExec(regexp.QuoteMeta(companies.SQL)).
			WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
		setup.Mock.ExpectExec(insertSQL).
			WithArgs(companies.Name, "1.0.0", companies.RollbackSQL).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		setup.Mock.ExpectQuery(isAppliedSQL).WithArgs(companies.Name).
			WillReturnRows(setup.Mock.NewRows([]string{"?column?"}).AddRow(1))

		require.NoError(t, engine.ApplyMigration(ctx, companies))
		require.NoError(t, engine.ApplyMigration(ctx, companies))
		setup.ExpectationsWereMet()
	})

	t.Run("Should not record a migration whose forward statement fails", func(t *testing.T) {
		engine, setup := newEngine(t)
		setup.Mock.ExpectQuery(isAppliedSQL).WithArgs(companies.Name).
			WillReturnRows(setup.Mock.NewRows([]string{"?column?"}))
		setup.Mock.ExpectExec(regexp.QuoteMeta(companies.SQL)).
			WillReturnError(errors.New(`syntax error at or near "TABLE"`))

		err := engine.ApplyMigration(test.Context(t), companies)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "applying migration create_companies_table")
		assert.Contains(t, err.Error(), "syntax error")
		setup.ExpectationsWereMet()
	})

	t.Run("Should store NULL when there is no rollback statement", func(t *testing.T) {
		engine, setup := newEngine(t)
		m := Migration{Name: "seed_reference_data", SQL: "INSERT INTO services (name) VALUES ('BOC-3')"}
		setup.Mock.ExpectQuery(isAppliedSQL).WithArgs(m.Name).
			WillReturnRows(setup.Mock.NewRows([]string{"?column?"}))
		setup.Mock.ExpectExec("INSERT INTO services").WillReturnResult(pgxmock.NewResult("INSERT", 1))
		setup.Mock.ExpectExec(insertSQL).
			WithArgs(m.Name, DefaultVersion, nil).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, engine.ApplyMigration(test.Context(t), m))
		setup.ExpectationsWereMet()
	})

	t.Run("Should surface a failed applied check", func(t *testing.T) {
		engine, setup := newEngine(t)
		setup.Mock.ExpectQuery(isAppliedSQL).WillReturnError(errors.New(`relation "migrations" does not exist`))

		err := engine.ApplyMigration(test.Context(t), companies)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "checking migration create_companies_table")
	})
}

func TestEngine_RollbackMigration(t *testing.T) {
	t.Run("Should run the rollback and leave the migration unapplied", func(t *testing.T) {
		engine, setup := newEngine(t)
		ctx := test.Context(t)
		setup.Mock.ExpectQuery(rollbackLookup).WithArgs(companies.Name).
			WillReturnRows(setup.Mock.NewRows([]string{"rollback_sql"}).AddRow(companies.RollbackSQL))
		setup.Mock.ExpectExec(regexp.QuoteMeta(companies.RollbackSQL)).
			WillReturnResult(pgxmock.NewResult("DROP TABLE", 0))
		setup.Mock.ExpectExec(deleteRecordSQL).WithArgs(companies.Name).
			WillReturnResult(pgxmock.NewResult("DELETE", 1))
		setup.Mock.ExpectQuery(isAppliedSQL).WithArgs(companies.Name).
			WillReturnRows(setup.Mock.NewRows([]string{"?column?"}))

		require.NoError(t, engine.RollbackMigration(ctx, companies.Name))
		applied, err := engine.IsMigrationApplied(ctx, companies.Name)
		require.NoError(t, err)
		assert.False(t, applied)
		setup.ExpectationsWereMet()
	})

	t.Run("Should return NotFoundError for an unknown name", func(t *testing.T) {
		engine, setup := newEngine(t)
		setup.Mock.ExpectQuery(rollbackLookup).WithArgs("create_widgets_table").
			WillReturnRows(setup.Mock.NewRows([]string{"rollback_sql"}))

		err := engine.RollbackMigration(test.Context(t), "create_widgets_table")
		assert.ErrorIs(t, err, core.ErrNotFound)
		var nf *core.NotFoundError
		require.ErrorAs(t, err, &nf)
		assert.Equal(t, "create_widgets_table", nf.Key)
	})

	t.Run("Should return NoRollbackAvailableError for an empty rollback", func(t *testing.T) {
		engine, setup := newEngine(t)
		setup.Mock.ExpectQuery(rollbackLookup).WithArgs("seed_reference_data").
			WillReturnRows(setup.Mock.NewRows([]string{"rollback_sql"}).AddRow(""))

		err := engine.RollbackMigration(test.Context(t), "seed_reference_data")
		assert.ErrorIs(t, err, core.ErrNoRollbackAvailable)
		setup.ExpectationsWereMet()
	})

	t.Run("Should keep the tracking row when the rollback fails", func(t *testing.T) {
		engine, setup := newEngine(t)
		setup.Mock.ExpectQuery(rollbackLookup).WithArgs(companies.Name).
			WillReturnRows(setup.Mock.NewRows([]string{"rollback_sql"}).AddRow(companies.RollbackSQL))
		setup.Mock.ExpectExec(regexp.QuoteMeta(companies.RollbackSQL)).
			WillReturnError(errors.New("cannot drop table companies because other objects depend on it"))

		err := engine.RollbackMigration(test.Context(t), companies.Name)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "other objects depend on it")
		setup.ExpectationsWereMet()
	})
}

func TestEngine_RunAllMigrations(t *testing.T) {
	users := Migration{Name: "create_users_table", Version: "1.0.0", SQL: "CREATE TABLE users (id UUID)"}
	deals := Migration{Name: "create_deals_table", Version: "1.0.0", SQL: "CREATE TABLE deals (id UUID)"}

	t.Run("Should apply in order and skip what is already applied", func(t *testing.T) {
		engine, setup := newEngine(t, companies, users)
		setup.Mock.ExpectExec(createTableSQL).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
		setup.Mock.ExpectQuery(isAppliedSQL).WithArgs(companies.Name).
			WillReturnRows(setup.Mock.NewRows([]string{"?column?"}).AddRow(1))
		setup.Mock.ExpectQuery(isAppliedSQL).WithArgs(users.Name).
			WillReturnRows(setup.Mock.NewRows([]string{"?column?"}))
		setup.Mock.ExpectExec(regexp.QuoteMeta(users.SQL)).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
		setup.Mock.ExpectExec(insertSQL).WithArgs(users.Name, "1.0.0", nil).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, engine.RunAllMigrations(test.Context(t)))
		setup.ExpectationsWereMet()
	})

	t.Run("Should stop at the first failing migration", func(t *testing.T) {
		engine, setup := newEngine(t, companies, users, deals)
		setup.Mock.ExpectExec(createTableSQL).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
		setup.Mock.ExpectQuery(isAppliedSQL).WithArgs(companies.Name).
			WillReturnRows(setup.Mock.NewRows([]string{"?column?"}).AddRow(1))
		setup.Mock.ExpectQuery(isAppliedSQL).WithArgs(users.Name).
			WillReturnRows(setup.Mock.NewRows([]string{"?column?"}))
		setup.Mock.ExpectExec(regexp.QuoteMeta(users.SQL)).WillReturnError(errors.New("permission denied"))

		err := engine.RunAllMigrations(test.Context(t))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "create_users_table")
		setup.ExpectationsWereMet()
	})

	t.Run("Should fail when the tracking table cannot be created", func(t *testing.T) {
		engine, setup := newEngine(t, companies)
		setup.Mock.ExpectExec(createTableSQL).WillReturnError(errors.New("read-only transaction"))

		err := engine.RunAllMigrations(test.Context(t))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "creating migrations table")
	})
}

func TestEngine_Status(t *testing.T) {
	t.Run("Should mark applied migrations and append unknown tracked names", func(t *testing.T) {
		users := Migration{Name: "create_users_table", Version: "1.0.0", SQL: "CREATE TABLE users (id UUID)"}
		engine, setup := newEngine(t, companies, users)
		setup.Mock.ExpectExec(createTableSQL).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
		setup.Mock.ExpectQuery("SELECT id, name, version, applied_at").
			WillReturnRows(setup.Mock.NewRows([]string{"id", "name", "version", "applied_at", "rollback_sql"}).
				AddRow(1, companies.Name, "1.0.0", &test.FixedTime, companies.RollbackSQL).
				AddRow(2, "legacy_cleanup", "0.9.0", &test.FixedTime, ""))

		status, err := engine.Status(test.Context(t))
		require.NoError(t, err)
		require.Len(t, status, 3)
		assert.True(t, status[0].Applied)
		assert.Equal(t, test.FixedTime, *status[0].AppliedAt)
		assert.False(t, status[1].Applied)
		assert.Equal(t, "legacy_cleanup", status[2].Name)
		setup.ExpectationsWereMet()
	})
}
