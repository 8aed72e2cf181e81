package test

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/rapidcrm/crmstore/engine/infra/conn"
	"github.com/rapidcrm/crmstore/engine/infra/executor"
	"github.com/rapidcrm/crmstore/pkg/logger"
)

// ConnectionID is the connection every mock setup registers.
const ConnectionID = "primary"

// MockSetup wires a pgxmock pool behind a real registry and executor.
type MockSetup struct {
	Mock     pgxmock.PgxPoolIface
	Registry *conn.Registry
	Executor *executor.Executor
	T        *testing.T
}

// NewMockSetup registers a mock pool as ConnectionID. The mock matches SQL
// with regular expressions, in order.
func NewMockSetup(t *testing.T, opts ...executor.Option) *MockSetup {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	registry := conn.NewRegistry(conn.WithDialer(func(context.Context, conn.Config) (conn.DB, error) {
		return mock, nil
	}))
	_, err = registry.CreateConnection(t.Context(), conn.Config{ID: ConnectionID, DSN: "postgres://mock/crm"})
	require.NoError(t, err)
	exec, err := executor.New(registry, opts...)
	require.NoError(t, err)
	return &MockSetup{Mock: mock, Registry: registry, Executor: exec, T: t}
}

// Context returns a test context carrying a silent logger.
func Context(t *testing.T) context.Context {
	return logger.ContextWithLogger(t.Context(), logger.NewForTests())
}

// ExpectationsWereMet fails the test when an expected statement did not run.
func (m *MockSetup) ExpectationsWereMet() {
	m.T.Helper()
	require.NoError(m.T, m.Mock.ExpectationsWereMet())
}

// Connection returns the registered mock connection.
func (m *MockSetup) Connection() *conn.Connection {
	c, ok := m.Registry.Connection(ConnectionID)
	require.True(m.T, ok)
	return c
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

// FixedTime is a stable timestamp for row fixtures.
var FixedTime = time.Date(2026, 1, 15, 9, 30, 0, 0, time.UTC)
