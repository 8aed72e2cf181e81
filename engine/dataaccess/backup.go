package dataaccess

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/rapidcrm/crmstore/engine/core"
	"github.com/rapidcrm/crmstore/engine/infra/repository"
	"github.com/rapidcrm/crmstore/pkg/logger"
)

const manifestVersion = 1

// BackupResult is the success or failure envelope of Backup and Restore.
type BackupResult struct {
	Success bool   `json:"success"`
	Path    string `json:"backupPath,omitempty"`
	Error   string `json:"error,omitempty"`
}

func failed(err error) BackupResult {
	return BackupResult{Error: err.Error()}
}

// Manifest describes what a backup captured.
type Manifest struct {
	Version      int              `json:"version"`
	ConnectionID string           `json:"connectionId"`
	CreatedAt    time.Time        `json:"createdAt"`
	Tables       map[string]int64 `json:"tables"`
}

func (m *Manager) connected(connectionID string) error {
	c, ok := m.registry.Connection(connectionID)
	if !ok {
		return core.NewNotFound("connection", connectionID)
	}
	if !c.IsConnected() {
		return fmt.Errorf("connection %s is not connected", connectionID)
	}
	return nil
}

// Backup records the row count of every entity table on connectionID in a
// JSON manifest under the backup directory.
func (m *Manager) Backup(ctx context.Context, connectionID string) BackupResult {
	log := logger.FromContext(ctx).With("connection_id", connectionID)
	if err := m.connected(connectionID); err != nil {
		return failed(err)
	}
	tables, err := m.countTables(ctx, connectionID)
	if err != nil {
		log.Error("Backup failed", "error", err)
		return failed(err)
	}
	at := m.now().UTC()
	manifest := Manifest{Version: manifestVersion, ConnectionID: connectionID, CreatedAt: at, Tables: tables}
	body, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return failed(fmt.Errorf("encoding manifest: %w", err))
	}
	if err := m.fs.MkdirAll(m.backupDir, 0o755); err != nil {
		return failed(fmt.Errorf("creating backup dir: %w", err))
	}
	path := filepath.Join(m.backupDir, fmt.Sprintf("%s_%d.json", connectionID, at.UnixMilli()))
	if err := afero.WriteFile(m.fs, path, body, 0o644); err != nil {
		return failed(fmt.Errorf("writing manifest: %w", err))
	}
	log.Info("Backup written", "path", path, "tables", len(tables))
	return BackupResult{Success: true, Path: path}
}

// Restore checks that connectionID is usable and that path holds a manifest
// taken from it.
func (m *Manager) Restore(ctx context.Context, connectionID, path string) BackupResult {
	if err := m.connected(connectionID); err != nil {
		return failed(err)
	}
	body, err := afero.ReadFile(m.fs, path)
	if err != nil {
		return failed(fmt.Errorf("reading manifest: %w", err))
	}
	var manifest Manifest
	if err := json.Unmarshal(body, &manifest); err != nil {
		return failed(fmt.Errorf("decoding manifest: %w", err))
	}
	if manifest.Version != manifestVersion {
		return failed(core.NewInvalidInput("manifest", fmt.Sprintf("unsupported version %d", manifest.Version)))
	}
	if manifest.ConnectionID != connectionID {
		return failed(core.NewInvalidInput("manifest",
			fmt.Sprintf("taken from connection %s, not %s", manifest.ConnectionID, connectionID)))
	}
	for name := range manifest.Tables {
		if !KnownTable(name) {
			return failed(core.NewInvalidInput("manifest", "unknown table "+name))
		}
	}
	logger.FromContext(ctx).Info("Backup verified", "connection_id", connectionID, "path", path,
		"created_at", manifest.CreatedAt)
	return BackupResult{Success: true, Path: path}
}

func (m *Manager) countTables(ctx context.Context, connectionID string) (map[string]int64, error) {
	counts := make([]int64, len(Tables))
	g, gc := errgroup.WithContext(ctx)
	for i, name := range Tables {
		g.Go(func() error {
			sql, args, err := repository.Builder().Select("COUNT(*) AS count").From(name).ToSql()
			if err != nil {
				return fmt.Errorf("building query: %w", err)
			}
			res := m.exec.ExecuteQuery(gc, connectionID, sql, args...)
			if err := res.Err(); err != nil {
				return fmt.Errorf("counting %s: %w", name, err)
			}
			if row, ok := res.First(); ok {
				counts[i], _ = row["count"].(int64)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(Tables))
	for i, name := range Tables {
		out[name] = counts[i]
	}
	return out, nil
}
