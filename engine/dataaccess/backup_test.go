package dataaccess

import (
	"encoding/json"
	"errors"
	"regexp"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidcrm/crmstore/test"
)

func expectTableCounts(setup *test.MockSetup) {
	setup.Mock.MatchExpectationsInOrder(false)
	for _, table := range Tables {
		setup.Mock.ExpectQuery("^" + regexp.QuoteMeta("SELECT COUNT(*) AS count FROM "+table) + "$").
			WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(3)))
	}
}

func TestManager_Backup(t *testing.T) {
	t.Run("Should write a manifest with every table count", func(t *testing.T) {
		m, setup, fs := newManager(t)
		expectTableCounts(setup)

		res := m.Backup(test.Context(t), test.ConnectionID)
		require.True(t, res.Success, res.Error)
		assert.Equal(t, "/var/backups/crm/primary_1768469400000.json", res.Path)

		body, err := afero.ReadFile(fs, res.Path)
		require.NoError(t, err)
		var manifest Manifest
		require.NoError(t, json.Unmarshal(body, &manifest))
		assert.Equal(t, test.ConnectionID, manifest.ConnectionID)
		assert.True(t, manifest.CreatedAt.Equal(test.FixedTime))
		assert.Len(t, manifest.Tables, len(Tables))
		assert.Equal(t, int64(3), manifest.Tables["deals"])
		setup.ExpectationsWereMet()
	})

	t.Run("Should fail for an unknown connection", func(t *testing.T) {
		m, _, _ := newManager(t)
		res := m.Backup(test.Context(t), "replica")
		assert.False(t, res.Success)
		assert.Empty(t, res.Path)
		assert.Contains(t, res.Error, `connection "replica" not found`)
	})

	t.Run("Should fail without writing when a count fails", func(t *testing.T) {
		m, setup, fs := newManager(t)
		setup.Mock.MatchExpectationsInOrder(false)
		for _, table := range Tables {
			e := setup.Mock.ExpectQuery("^" + regexp.QuoteMeta("SELECT COUNT(*) AS count FROM "+table) + "$")
			if table == "drivers" {
				e.WillReturnError(errors.New(`permission denied for table drivers`))
				continue
			}
			e.WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(1)))
		}

		res := m.Backup(test.Context(t), test.ConnectionID)
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "permission denied")
		exists, err := afero.DirExists(fs, "/var/backups/crm")
		require.NoError(t, err)
		assert.False(t, exists)
	})
}

func TestManager_Restore(t *testing.T) {
	t.Run("Should accept a manifest taken from the same connection", func(t *testing.T) {
		m, setup, _ := newManager(t)
		expectTableCounts(setup)
		backup := m.Backup(test.Context(t), test.ConnectionID)
		require.True(t, backup.Success, backup.Error)

		res := m.Restore(test.Context(t), test.ConnectionID, backup.Path)
		assert.True(t, res.Success, res.Error)
		assert.Equal(t, backup.Path, res.Path)
	})

	t.Run("Should reject a manifest from another connection", func(t *testing.T) {
		m, _, fs := newManager(t)
		body := []byte(`{"version":1,"connectionId":"replica","createdAt":"2026-01-15T09:30:00Z","tables":{"deals":3}}`)
		require.NoError(t, afero.WriteFile(fs, "/tmp/replica.json", body, 0o644))

		res := m.Restore(test.Context(t), test.ConnectionID, "/tmp/replica.json")
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "taken from connection replica")
	})

	t.Run("Should reject tables outside the entity set", func(t *testing.T) {
		m, _, fs := newManager(t)
		body := []byte(`{"version":1,"connectionId":"primary","tables":{"pg_authid":1}}`)
		require.NoError(t, afero.WriteFile(fs, "/tmp/bad.json", body, 0o644))

		res := m.Restore(test.Context(t), test.ConnectionID, "/tmp/bad.json")
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "unknown table pg_authid")
	})

	t.Run("Should report a missing file", func(t *testing.T) {
		m, _, _ := newManager(t)
		res := m.Restore(test.Context(t), test.ConnectionID, "/nowhere.json")
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "reading manifest")
	})
}
