package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rapidcrm/crmstore/engine/dataaccess"
	"github.com/rapidcrm/crmstore/pkg/config"
)

// managerFactory is swapped in tests to avoid dialing a database.
var managerFactory = func(ctx context.Context, cfg *config.Config, opts ...dataaccess.Option) (*dataaccess.Manager, error) {
	return dataaccess.New(ctx, cfg, opts...)
}

// withManager opens the data-access manager for the duration of fn.
func withManager(cmd *cobra.Command, fn func(ctx context.Context, m *dataaccess.Manager) error, opts ...dataaccess.Option) error {
	ctx := cmd.Context()
	cfg := config.FromContext(ctx)
	m, err := managerFactory(ctx, cfg, opts...)
	if err != nil {
		return fmt.Errorf("failed to open data access: %w", err)
	}
	defer m.Close(context.WithoutCancel(ctx))
	return fn(ctx, m)
}
