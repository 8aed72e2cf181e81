package dataaccess

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/afero"
	"go.opentelemetry.io/otel/metric"

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
	"github.com/rapidcrm/crmstore/engine/infra/migrate"
	"github.com/rapidcrm/crmstore/pkg/config"
	"github.com/rapidcrm/crmstore/pkg/logger"
)

const defaultBackupDir = "backups"

type options struct {
	dialer     conn.Dialer
	meter      metric.Meter
	fs         afero.Fs
	migrations []migrate.Migration
	backupDir  string
	now        func() time.Time
}

type Option func(*options)

// WithDialer replaces the postgres dialer used for new connections.
func WithDialer(d conn.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithMeter records executor and registry metrics on m.
func WithMeter(m metric.Meter) Option {
	return func(o *options) { o.meter = m }
}

// WithFs sets the filesystem backup manifests are written to.
func WithFs(fs afero.Fs) Option {
	return func(o *options) { o.fs = fs }
}

// WithMigrations overrides the embedded schema migrations.
func WithMigrations(ms []migrate.Migration) Option {
	return func(o *options) { o.migrations = ms }
}

func WithBackupDir(dir string) Option {
	return func(o *options) { o.backupDir = dir }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Manager wires the connection registry, executor, migration engine and
// every entity repository around one primary connection.
type Manager struct {
	registry   *conn.Registry
	exec       *executor.Executor
	migrations *migrate.Engine
	primary    string
	fs         afero.Fs
	backupDir  string
	now        func() time.Time

	companies *company.Repository
	deals     *deal.Repository
	users     *user.Repository
	drivers   *driver.Repository
	vehicles  *vehicle.Repository
	services  *service.Repository
	tasks     *task.Repository
	contacts  *contact.Repository
	tables    map[string]*tableRepository
}

// New builds the stack from cfg and opens the primary connection. Pending
// migrations are applied when cfg.Migrations.AutoApply is set.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Manager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("dataaccess: config is required")
	}
	o := &options{backupDir: cfg.Backup.Dir}
	for _, opt := range opts {
		opt(o)
	}
	var registryOpts []conn.Option
	if o.dialer != nil {
		registryOpts = append(registryOpts, conn.WithDialer(o.dialer))
	}
	registry := conn.NewRegistry(registryOpts...)
	execOpts := []executor.Option{executor.WithTimeout(cfg.Executor.QueryTimeout)}
	if o.meter != nil {
		execOpts = append(execOpts, executor.WithMeter(o.meter))
		if err := registry.RegisterMetrics(o.meter); err != nil {
			return nil, fmt.Errorf("dataaccess: registry metrics: %w", err)
		}
	}
	exec, err := executor.New(registry, execOpts...)
	if err != nil {
		return nil, err
	}
	m, err := build(exec, cfg.Database.ConnectionID, o)
	if err != nil {
		return nil, err
	}
	if _, err := registry.CreateConnection(ctx, conn.FromDatabaseConfig(&cfg.Database)); err != nil {
		return nil, err
	}
	if cfg.Migrations.AutoApply {
		if err := m.RunMigrations(ctx); err != nil {
			m.Close(ctx)
			return nil, err
		}
	}
	logger.FromContext(ctx).Info("Data access ready", "connection_id", m.primary, "tables", len(m.tables))
	return m, nil
}

// NewWithExecutor wires a manager around an existing executor whose
// registry already holds connectionID.
func NewWithExecutor(exec *executor.Executor, connectionID string, opts ...Option) (*Manager, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	return build(exec, connectionID, o)
}

func build(exec *executor.Executor, primary string, o *options) (*Manager, error) {
	if o.fs == nil {
		o.fs = afero.NewOsFs()
	}
	if o.backupDir == "" {
		o.backupDir = defaultBackupDir
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.migrations == nil {
		builtin, err := migrate.Builtin()
		if err != nil {
			return nil, err
		}
		o.migrations = builtin
	}
	m := &Manager{
		registry:   exec.Registry(),
		exec:       exec,
		migrations: migrate.NewEngine(exec, primary, o.migrations),
		primary:    primary,
		fs:         o.fs,
		backupDir:  o.backupDir,
		now:        o.now,
	}
	if err := m.buildRepositories(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) buildRepositories() error {
	var err error
	if m.companies, err = company.NewRepository(m.exec, m.primary); err != nil {
		return err
	}
	if m.deals, err = deal.NewRepository(m.exec, m.primary); err != nil {
		return err
	}
	if m.users, err = user.NewRepository(m.exec, m.primary); err != nil {
		return err
	}
	if m.drivers, err = driver.NewRepository(m.exec, m.primary); err != nil {
		return err
	}
	if m.vehicles, err = vehicle.NewRepository(m.exec, m.primary); err != nil {
		return err
	}
	if m.services, err = service.NewRepository(m.exec, m.primary); err != nil {
		return err
	}
	if m.tasks, err = task.NewRepository(m.exec, m.primary); err != nil {
		return err
	}
	if m.contacts, err = contact.NewRepository(m.exec, m.primary); err != nil {
		return err
	}
	m.tables, err = newTables(m.exec, m.primary)
	return err
}

func (m *Manager) Companies() *company.Repository { return m.companies }
func (m *Manager) Deals() *deal.Repository        { return m.deals }
func (m *Manager) Users() *user.Repository        { return m.users }
func (m *Manager) Drivers() *driver.Repository    { return m.drivers }
func (m *Manager) Vehicles() *vehicle.Repository  { return m.vehicles }
func (m *Manager) Services() *service.Repository  { return m.services }
func (m *Manager) Tasks() *task.Repository        { return m.tasks }
func (m *Manager) Contacts() *contact.Repository  { return m.contacts }
func (m *Manager) Registry() *conn.Registry       { return m.registry }
func (m *Manager) Executor() *executor.Executor   { return m.exec }
func (m *Manager) PrimaryConnectionID() string    { return m.primary }

// ExecuteQuery runs a raw parameterized statement. Failures are reported in
// the envelope.
func (m *Manager) ExecuteQuery(
	ctx context.Context,
	connectionID, statement string,
	params ...any,
) *executor.QueryResult[executor.Row] {
	return m.exec.ExecuteQuery(ctx, connectionID, statement, params...)
}

func (m *Manager) CreateConnection(ctx context.Context, cfg conn.Config) (*conn.Connection, error) {
	return m.registry.CreateConnection(ctx, cfg)
}

func (m *Manager) CreatePool(name string, connectionIDs []string) (*conn.Pool, error) {
	return m.registry.CreatePool(name, connectionIDs)
}

func (m *Manager) Connections() []*conn.Connection { return m.registry.Connections() }
func (m *Manager) Pools() []*conn.Pool             { return m.registry.Pools() }

func (m *Manager) ConnectionStats() conn.Stats {
	return m.registry.Stats()
}

func (m *Manager) HealthCheck(ctx context.Context) conn.Health {
	return m.registry.HealthCheck(ctx)
}

func (m *Manager) IsHealthy(ctx context.Context) bool {
	return m.HealthCheck(ctx).Healthy
}

func (m *Manager) RunMigrations(ctx context.Context) error {
	return m.migrations.RunAllMigrations(ctx)
}

func (m *Manager) AppliedMigrations(ctx context.Context) ([]migrate.Migration, error) {
	return m.migrations.AppliedMigrations(ctx)
}

func (m *Manager) RollbackMigration(ctx context.Context, name string) error {
	return m.migrations.RollbackMigration(ctx, name)
}

func (m *Manager) MigrationStatus(ctx context.Context) ([]migrate.Status, error) {
	return m.migrations.Status(ctx)
}

// WithTransaction runs fn in a transaction on the primary connection. Every
// repository call made with the context passed to fn joins it.
func (m *Manager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return m.exec.WithTransaction(ctx, m.primary, fn)
}

// Close closes every connection in the registry.
func (m *Manager) Close(ctx context.Context) {
	m.registry.CloseAll(ctx)
}
