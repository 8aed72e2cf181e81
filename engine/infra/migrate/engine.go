package migrate

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"

	"github.com/rapidcrm/crmstore/engine/core"
	"github.com/rapidcrm/crmstore/engine/infra/executor"
	"github.com/rapidcrm/crmstore/pkg/logger"
)

const trackingTable = "migrations"

const createTrackingTableSQL = `CREATE TABLE IF NOT EXISTS migrations (
    id SERIAL PRIMARY KEY,
    name VARCHAR(255) NOT NULL UNIQUE,
    version VARCHAR(50) NOT NULL,
    applied_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
    rollback_sql TEXT
)`

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

// Engine applies migrations on one connection and records them in the
// migrations table. Each name moves between unapplied and applied only
// through ApplyMigration and RollbackMigration.
type Engine struct {
	exec         *executor.Executor
	connectionID string
	migrations   []Migration
}

// NewEngine binds the ordered migration list used by RunAllMigrations and
// Status.
func NewEngine(exec *executor.Executor, connectionID string, migrations []Migration) *Engine {
	return &Engine{exec: exec, connectionID: connectionID, migrations: migrations}
}

func (e *Engine) Migrations() []Migration {
	return e.migrations
}

func (e *Engine) CreateMigrationsTable(ctx context.Context) error {
	if err := e.exec.ExecuteCommand(ctx, e.connectionID, createTrackingTableSQL).Err(); err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}
	return nil
}

// AppliedMigrations lists tracking rows oldest first.
func (e *Engine) AppliedMigrations(ctx context.Context) ([]Migration, error) {
	sql, args, err := psql.
		Select("id", "name", "version", "applied_at", "COALESCE(rollback_sql, '') AS rollback_sql").
		From(trackingTable).
		OrderBy("applied_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	res := executor.Select[Migration](ctx, e.exec, e.connectionID, sql, args...)
	if err := res.Err(); err != nil {
		return nil, fmt.Errorf("listing applied migrations: %w", err)
	}
	return res.Data, nil
}

func (e *Engine) IsMigrationApplied(ctx context.Context, name string) (bool, error) {
	sql, args, err := psql.Select("1").From(trackingTable).Where(squirrel.Eq{"name": name}).Limit(1).ToSql()
	if err != nil {
		return false, fmt.Errorf("building query: %w", err)
	}
	res := e.exec.ExecuteQuery(ctx, e.connectionID, sql, args...)
	if err := res.Err(); err != nil {
		return false, fmt.Errorf("checking migration %s: %w", name, err)
	}
	return res.Count > 0, nil
}

// ApplyMigration runs m.SQL and records it. An applied migration is skipped.
// When the forward statement fails no tracking row is written; whatever part
// of the statement already ran stays in place.
func (e *Engine) ApplyMigration(ctx context.Context, m Migration) error {
	log := logger.FromContext(ctx).With("migration", m.Name)
	applied, err := e.IsMigrationApplied(ctx, m.Name)
	if err != nil {
		return err
	}
	if applied {
		log.Info("Migration already applied, skipping")
		return nil
	}
	if err := e.exec.ExecuteCommand(ctx, e.connectionID, m.SQL).Err(); err != nil {
		log.Error("Failed to apply migration", "error", err)
		return fmt.Errorf("applying migration %s: %w", m.Name, err)
	}
	version := m.Version
	if version == "" {
		version = DefaultVersion
	}
	var rollback any
	if m.RollbackSQL != "" {
		rollback = m.RollbackSQL
	}
	sql, args, err := psql.Insert(trackingTable).
		Columns("name", "version", "rollback_sql").
		Values(m.Name, version, rollback).
		ToSql()
	if err != nil {
		return fmt.Errorf("building query: %w", err)
	}
	if err := e.exec.ExecuteCommand(ctx, e.connectionID, sql, args...).Err(); err != nil {
		return fmt.Errorf("recording migration %s: %w", m.Name, err)
	}
	log.Info("Migration applied", "version", version)
	return nil
}

// RollbackMigration runs the stored rollback statement for name and removes
// its tracking row.
func (e *Engine) RollbackMigration(ctx context.Context, name string) error {
	log := logger.FromContext(ctx).With("migration", name)
	sql, args, err := psql.Select("COALESCE(rollback_sql, '') AS rollback_sql").
		From(trackingTable).
		Where(squirrel.Eq{"name": name}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building query: %w", err)
	}
	res := e.exec.ExecuteQuery(ctx, e.connectionID, sql, args...)
	if err := res.Err(); err != nil {
		return fmt.Errorf("loading migration %s: %w", name, err)
	}
	row, ok := res.First()
	if !ok {
		return core.NewNotFound("migration", name)
	}
	rollback, _ := row["rollback_sql"].(string)
	if rollback == "" {
		return &core.NoRollbackAvailableError{Name: name}
	}
	if err := e.exec.ExecuteCommand(ctx, e.connectionID, rollback).Err(); err != nil {
		log.Error("Failed to rollback migration", "error", err)
		return fmt.Errorf("rolling back migration %s: %w", name, err)
	}
	sql, args, err = psql.Delete(trackingTable).Where(squirrel.Eq{"name": name}).ToSql()
	if err != nil {
		return fmt.Errorf("building query: %w", err)
	}
	if err := e.exec.ExecuteCommand(ctx, e.connectionID, sql, args...).Err(); err != nil {
		return fmt.Errorf("removing migration record %s: %w", name, err)
	}
	log.Info("Migration rolled back")
	return nil
}

// RunAllMigrations creates the tracking table and applies the bound list in
// order. The first failure stops the run.
func (e *Engine) RunAllMigrations(ctx context.Context) error {
	if err := e.CreateMigrationsTable(ctx); err != nil {
		return err
	}
	for _, m := range e.migrations {
		if err := e.ApplyMigration(ctx, m); err != nil {
			return err
		}
	}
	logger.FromContext(ctx).Info("Migrations complete", "count", len(e.migrations))
	return nil
}

// Status reports every bound migration, followed by tracked names the list
// does not know.
func (e *Engine) Status(ctx context.Context) ([]Status, error) {
	if err := e.CreateMigrationsTable(ctx); err != nil {
		return nil, err
	}
	applied, err := e.AppliedMigrations(ctx)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]Migration, len(applied))
	for _, m := range applied {
		byName[m.Name] = m
	}
	out := make([]Status, 0, len(e.migrations))
	for _, m := range e.migrations {
		st := Status{Name: m.Name, Version: m.Version}
		if rec, ok := byName[m.Name]; ok {
			st.Applied = true
			st.AppliedAt = rec.AppliedAt
			delete(byName, m.Name)
		}
		out = append(out, st)
	}
	for _, rec := range applied {
		if _, orphan := byName[rec.Name]; orphan {
			out = append(out, Status{Name: rec.Name, Version: rec.Version, Applied: true, AppliedAt: rec.AppliedAt})
		}
	}
	return out, nil
}
