package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rapidcrm/crmstore/engine/dataaccess"
	"github.com/rapidcrm/crmstore/pkg/logger"
)

func MigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply, inspect and roll back schema migrations",
	}
	cmd.AddCommand(migrateUpCmd(), migrateStatusCmd(), migrateRollbackCmd())
	return cmd
}

func migrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration in order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withManager(cmd, func(ctx context.Context, m *dataaccess.Manager) error {
				if err := m.RunMigrations(ctx); err != nil {
					return err
				}
				status, err := m.MigrationStatus(ctx)
				if err != nil {
					return err
				}
				return writeMigrationTable(cmd.OutOrStdout(), status)
			})
		},
	}
}

func migrateStatusCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show which migrations are applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withManager(cmd, func(ctx context.Context, m *dataaccess.Manager) error {
				status, err := m.MigrationStatus(ctx)
				if err != nil {
					return err
				}
				if format == OutputFormatJSON {
					return writeJSON(cmd.OutOrStdout(), status)
				}
				return writeMigrationTable(cmd.OutOrStdout(), status)
			})
		},
	}
	addFormatFlag(cmd, &format)
	return cmd
}

func migrateRollbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rollback NAME",
		Short: "Run the stored rollback statement of an applied migration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			return withManager(cmd, func(ctx context.Context, m *dataaccess.Manager) error {
				if err := m.RollbackMigration(ctx, name); err != nil {
					return err
				}
				logger.FromContext(ctx).Info("Migration rolled back", "migration", name)
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "rolled back %s\n", name)
				return err
			})
		},
	}
}
