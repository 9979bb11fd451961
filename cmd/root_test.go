package cmd

import (
	"context"
	"errors"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/crawlworks/email-harvester/internal/api"
	"github.com/crawlworks/email-harvester/internal/config"
	"github.com/crawlworks/email-harvester/internal/crawler"
	"github.com/crawlworks/email-harvester/internal/worker"
)

// mockApp satisfies the App interface without touching any backend.
type mockApp struct {
	closed bool
}

func (m *mockApp) Close()                            { m.closed = true }
func (m *mockApp) GetLogger() *zap.Logger            { return zap.NewNop() }
func (m *mockApp) GetConfig() config.Config          { return config.Config{} }
func (m *mockApp) GetJobStore() crawler.JobStore     { return nil }
func (m *mockApp) GetBlobStore() crawler.BlobStore   { return nil }
func (m *mockApp) GetPublisher() crawler.Publisher   { return nil }
func (m *mockApp) GetOpener() crawler.SourceOpener   { return nil }
func (m *mockApp) GetScraper() *crawler.Orchestrator { return nil }
func (m *mockApp) GetWorker() *worker.Worker         { return nil }
func (m *mockApp) GetServer() *api.Server            { return nil }

func swapAppFactory(t *testing.T, factory func(ctx context.Context) (App, error)) {
	t.Helper()
	orig := newApp
	newApp = factory
	t.Cleanup(func() { newApp = orig })
}

func TestRootCommand_InjectsAppIntoSubcommands(t *testing.T) {
	mock := &mockApp{}
	swapAppFactory(t, func(ctx context.Context) (App, error) {
		return mock, nil
	})

	var resolved App
	root := newRootCmd()
	root.AddCommand(&cobra.Command{
		Use: "probe",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			resolved, err = resolveApp(cmd.Context())
			return err
		},
	})
	root.SetArgs([]string{"probe"})

	require.NoError(t, root.ExecuteContext(context.Background()))
	require.Same(t, mock, resolved)
	require.True(t, mock.closed, "PersistentPostRun should close the app")
}

func TestRootCommand_FactoryFailureAborts(t *testing.T) {
	swapAppFactory(t, func(ctx context.Context) (App, error) {
		return nil, errors.New("bad config")
	})

	root := newRootCmd()
	root.SilenceErrors = true
	root.AddCommand(&cobra.Command{
		Use:  "probe",
		RunE: func(*cobra.Command, []string) error { return nil },
	})
	root.SetArgs([]string{"probe"})

	err := root.ExecuteContext(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to initialize application services")
}

func TestResolveApp_MissingFromContext(t *testing.T) {
	_, err := resolveApp(context.Background())
	require.Error(t, err)
}
