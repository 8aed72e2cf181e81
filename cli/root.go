package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rapidcrm/crmstore/pkg/config"
	"github.com/rapidcrm/crmstore/pkg/logger"
)

const (
	defaultConfigFile = "crmstore.yaml"
	defaultEnvFile    = ".env"
)

func RootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "crmstore",
		Short:         "CRM data-access toolkit",
		Long:          "Run migrations, inspect connections and serve the admin API of the CRM data layer.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return SetupGlobalConfig(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.String("config", defaultConfigFile, "Path to the config file")
	flags.String("env-file", defaultEnvFile, "Path to the environment file")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.Bool("log-json", false, "Output logs in JSON format")
	flags.Bool("log-source", false, "Include source file and line in logs")
	flags.String("db-conn-string", "", "Database connection string (env: DB_CONN_STRING)")

	root.AddCommand(
		MigrateCmd(),
		HealthCmd(),
		StatsCmd(),
		BackupCmd(),
		RestoreCmd(),
		ServeCmd(),
	)
	return root
}

// SetupGlobalConfig loads the env file, configures the default logger and
// attaches both the logger and the merged configuration to the command
// context. Environment variables win over flags, which win over the YAML file.
func SetupGlobalConfig(cmd *cobra.Command) error {
	if _, err := loadEnvFile(cmd); err != nil {
		return err
	}
	logLevel, logJSON, logSource, err := logger.GetLoggerConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	configFile, err := cmd.Flags().GetString("config")
	if err != nil {
		return fmt.Errorf("failed to get config flag: %w", err)
	}
	flagValues := make(map[string]any)
	extractCLIFlags(cmd, flagValues)
	cfg, err := config.NewLoader().Load(ctx, config.NewYAMLSource(configFile), config.NewMapSource(flagValues))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if logLevel == "" {
		logLevel = cfg.Runtime.LogLevel
	}
	logger.SetupLogger(logLevel, logJSON, logSource)
	ctx = logger.ContextWithLogger(ctx, logger.GetDefault())
	cmd.SetContext(config.ContextWithConfig(ctx, cfg))
	return nil
}
