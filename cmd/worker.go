package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/crawlworks/email-harvester/internal/metrics"
)

// newWorkerCmd creates and configures the 'worker' subcommand. It runs the
// job worker alone, for deployments where the API and the workers scale
// separately against a shared postgres or redis job store.
func newWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Runs the job worker without the API",
		Long: `Starts only the background job worker. Pending jobs are claimed from the
configured job store, so several worker processes can share a postgres or
redis backend behind one API instance. A minimal HTTP listener exposes
/metrics and /healthz for scraping and probes.`,

		RunE: runWorkerCommand,
	}
	return cmd
}

func runWorkerCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := appInstance.GetLogger()
	cfg := appInstance.GetConfig()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.API.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("metrics server started", zap.Int("port", cfg.API.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()

	logger.Info("running standalone worker", zap.String("job_store", cfg.Storage.JobStore))
	appInstance.GetWorker().Run(cmd.Context())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg.API.ShutdownTimeout))
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}
