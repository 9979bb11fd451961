// Package cmd defines and implements the CLI commands for the
// emailharvester executable.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/crawlworks/email-harvester/internal/api"
	"github.com/crawlworks/email-harvester/internal/app"
	"github.com/crawlworks/email-harvester/internal/config"
	"github.com/crawlworks/email-harvester/internal/crawler"
	"github.com/crawlworks/email-harvester/internal/logging"
	"github.com/crawlworks/email-harvester/internal/worker"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands use. This allows us
// to inject a mock app during tests.
type App interface {
	Close()
	GetLogger() *zap.Logger
	GetConfig() config.Config
	GetJobStore() crawler.JobStore
	GetBlobStore() crawler.BlobStore
	GetPublisher() crawler.Publisher
	GetOpener() crawler.SourceOpener
	GetScraper() *crawler.Orchestrator
	GetWorker() *worker.Worker
	GetServer() *api.Server
}

// newApp is the application factory. It's a variable so we can replace it
// with a mock factory in our tests.
var newApp = func(ctx context.Context) (App, error) {
	v, err := config.Read(cfgFile)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(v)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return app.NewApp(ctx, cfg, logger)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "emailharvester",
		Short: "Discovers contact emails for companies listed in a spreadsheet.",
		Long: `emailharvester reads company websites from XLSX workbooks and crawls
each site looking for contact email addresses. Results are written back out
as spreadsheets. The serve command runs the HTTP control API together with
the job worker; scrape performs a one-shot local run.`,
		SilenceUsage: true,

		// This hook runs BEFORE the subcommand's RunE. It is the place
		// where the application container is built and injected.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}

			// Store the app instance in the context for subcommands to use.
			ctx := context.WithValue(cmd.Context(), appKey, appInstance)
			cmd.SetContext(ctx)
			return nil
		},

		// This hook ensures services are shut down gracefully.
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./emailharvester.yaml)")

	// Add subcommands. They resolve the app from the command context.
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newWorkerCmd())
	cmd.AddCommand(newScrapeCmd())

	return cmd
}

// resolveApp retrieves the App injected by the root PersistentPreRunE hook.
func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, fmt.Errorf("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the command
// context so long-running subcommands shut down cleanly.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
