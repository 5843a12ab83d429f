package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"incubator-portal/portal-backend/internal/config"
	"incubator-portal/portal-backend/internal/funding"
	"incubator-portal/portal-backend/internal/scheduler"
)

var (
	flagConfig   string
	flagEnvFiles []string
)

var rootCmd = &cobra.Command{
	Use:          "portal-api",
	Short:        "Incubator portal funding tracker API",
	SilenceUsage: true,
	RunE:         runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the funding schema and indexes, then exit",
	RunE:  runMigrate,
}

var driftCmd = &cobra.Command{
	Use:   "drift",
	Short: "Scan every tracker once and print aggregate drift as JSON",
	RunE:  runDrift,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "config.json", "Path to a JSON or YAML config file")
	rootCmd.PersistentFlags().StringSliceVar(&flagEnvFiles, "env-file", nil, "Dotenv files to load (default .env)")
	rootCmd.AddCommand(serveCmd, migrateCmd, driftCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// bootstrap loads configuration and builds the logger shared by every command
func bootstrap() (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadConfig(flagConfig, flagEnvFiles...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return cfg, logger, nil
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signalContext(cmd)
	defer stop()

	// opening the repository migrates the schema
	_, closeRepo, err := openRepository(ctx, cfg, logger)
	if err != nil {
		return err
	}
	closeRepo()

	logger.Info("Funding schema is up to date", zap.String("storage", cfg.Storage.Driver))
	return nil
}

func runDrift(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signalContext(cmd)
	defer stop()

	repo, closeRepo, err := openRepository(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeRepo()

	service := funding.NewService(repo, nil, logger.Named("funding"))
	report, err := scheduler.NewDriftReporter(service, "", logger.Named("drift")).RunOnce(ctx)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
