package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rapidcrm/crmstore/engine/dataaccess"
)

// ErrUnhealthy is returned by the health command when no connection answers.
var ErrUnhealthy = errors.New("no healthy connection")

func HealthCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Ping every connection and report its state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withManager(cmd, func(ctx context.Context, m *dataaccess.Manager) error {
				health := m.HealthCheck(ctx)
				var err error
				if format == OutputFormatJSON {
					err = writeJSON(cmd.OutOrStdout(), health)
				} else {
					err = writeHealthTable(cmd.OutOrStdout(), health)
				}
				if err != nil {
					return err
				}
				if !health.Healthy {
					return ErrUnhealthy
				}
				return nil
			})
		},
	}
	addFormatFlag(cmd, &format)
	return cmd
}

func StatsCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show connection counters and row counts per table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withManager(cmd, func(ctx context.Context, m *dataaccess.Manager) error {
				stats, err := m.Stats(ctx)
				if err != nil {
					return err
				}
				if format == OutputFormatJSON {
					return writeJSON(cmd.OutOrStdout(), stats)
				}
				return writeStatsTable(cmd.OutOrStdout(), stats)
			})
		},
	}
	addFormatFlag(cmd, &format)
	return cmd
}

func BackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Write a manifest of the primary connection's tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withManager(cmd, func(ctx context.Context, m *dataaccess.Manager) error {
				return reportBackup(cmd, m.Backup(ctx, m.PrimaryConnectionID()))
			})
		},
	}
	cmd.Flags().String("backup-dir", "", "Directory manifests are written to (env: BACKUP_DIR)")
	return cmd
}

func RestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore PATH",
		Short: "Verify a manifest against the primary connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, func(ctx context.Context, m *dataaccess.Manager) error {
				return reportBackup(cmd, m.Restore(ctx, m.PrimaryConnectionID(), args[0]))
			})
		},
	}
}

func reportBackup(cmd *cobra.Command, res dataaccess.BackupResult) error {
	if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("%s failed: %s", cmd.Name(), res.Error)
	}
	return nil
}
