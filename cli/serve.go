package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/rapidcrm/crmstore/engine/dataaccess"
	"github.com/rapidcrm/crmstore/engine/infra/monitoring"
	"github.com/rapidcrm/crmstore/engine/infra/server"
	"github.com/rapidcrm/crmstore/pkg/config"
	"github.com/rapidcrm/crmstore/pkg/logger"
)

func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"start"},
		Short:   "Serve the admin API until interrupted",
		Args:    cobra.NoArgs,
		RunE:    runServe,
	}
	cmd.Flags().String("host", "", "Host to bind (env: SERVER_HOST)")
	cmd.Flags().Int("port", 0, "Port to listen on (env: SERVER_PORT)")
	cmd.Flags().Bool("metrics", true, "Expose /metrics (env: SERVER_METRICS_ENABLED)")
	cmd.Flags().Bool("auto-migrate", false, "Apply pending migrations before serving (env: MIGRATIONS_AUTO_APPLY)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	cfg := config.FromContext(ctx)
	log := logger.FromContext(ctx)
	if cfg.Runtime.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	mon, err := monitoring.NewService(ctx, cfg.Server.MetricsEnabled)
	if err != nil {
		return err
	}
	mon.SetAsGlobal()
	defer func() {
		if err := mon.Shutdown(context.WithoutCancel(ctx)); err != nil {
			log.Warn("Failed to shut down monitoring", "error", err)
		}
	}()

	cmd.SetContext(ctx)
	return withManager(cmd, func(ctx context.Context, m *dataaccess.Manager) error {
		opts := server.RouterOptions{MaxPageSize: cfg.Server.MaxPageSize, Meter: mon.Meter()}
		if mon.IsInitialized() {
			opts.Metrics = mon.ExporterHandler()
		}
		srv := server.NewServer(&cfg.Server, server.NewRouter(ctx, m, opts))
		if err := srv.Run(ctx); err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	}, dataaccess.WithMeter(mon.Meter()))
}
