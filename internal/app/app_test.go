package app_test

import (
	"context"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/crawlworks/email-harvester/internal/app"
	"github.com/crawlworks/email-harvester/internal/config"
)

// testConfig returns the default configuration with in-memory backends so
// NewApp never dials external services.
func testConfig(t *testing.T) config.Config {
	t.Helper()
	v := viper.New()
	config.SetDefaults(v)
	cfg, err := config.Load(v)
	require.NoError(t, err)
	cfg.Storage.JobStore = "memory"
	cfg.Storage.BlobStore = "memory"
	cfg.Publisher.Backend = "none"
	return cfg
}

func TestNewApp_MemoryBackends(t *testing.T) {
	cfg := testConfig(t)

	a, err := app.NewApp(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	require.NotNil(t, a.GetLogger())
	require.NotNil(t, a.GetJobStore())
	require.NotNil(t, a.GetBlobStore())
	require.NotNil(t, a.GetOpener())
	require.NotNil(t, a.GetScraper())
	require.NotNil(t, a.GetWorker())
	require.NotNil(t, a.GetServer())
	require.Nil(t, a.GetPublisher())
	require.Equal(t, "memory", a.GetConfig().Storage.JobStore)
}

func TestNewApp_MemoryPublisher(t *testing.T) {
	cfg := testConfig(t)
	cfg.Publisher.Backend = "memory"

	a, err := app.NewApp(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	require.NotNil(t, a.GetPublisher())
}

func TestNewApp_LocalBlobStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.BlobStore = "local"
	cfg.Storage.LocalDir = t.TempDir()

	a, err := app.NewApp(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	uri, err := a.GetBlobStore().PutObject(context.Background(), "probe.txt", "text/plain", []byte("ok"))
	require.NoError(t, err)
	require.NotEmpty(t, uri)
}

func TestNewApp_UnknownBackends(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{
			name:   "job store",
			mutate: func(c *config.Config) { c.Storage.JobStore = "etcd" },
			want:   "unknown job store backend",
		},
		{
			name:   "blob store",
			mutate: func(c *config.Config) { c.Storage.BlobStore = "ftp" },
			want:   "unknown blob store backend",
		},
		{
			name:   "publisher",
			mutate: func(c *config.Config) { c.Publisher.Backend = "carrier-pigeon" },
			want:   "unknown publisher backend",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig(t)
			tc.mutate(&cfg)

			_, err := app.NewApp(context.Background(), cfg, zap.NewNop())
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.want)
		})
	}
}

// Constructing several Apps in one process must not trip duplicate
// Prometheus registration.
func TestNewApp_RepeatedConstruction(t *testing.T) {
	for i := 0; i < 3; i++ {
		a, err := app.NewApp(context.Background(), testConfig(t), zap.NewNop())
		require.NoError(t, err)
		a.Close()
	}
}
