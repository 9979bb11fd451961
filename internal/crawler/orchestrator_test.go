package crawler

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type panickyFetcher struct{}

func (panickyFetcher) Fetch(context.Context, string) (Page, error) { panic("boom") }

func TestScrapeBatchRowsPerTarget(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.addPage("https://alpha.dev", `<html><body>
		sales@alpha.dev hr@alpha.dev
	</body></html>`)
	fetcher.addPage("https://delta.dev", `<html><body>nothing here</body></html>`)

	blocklist := NewBlocklist([]string{"blocked.dev"})
	o := NewOrchestrator(fetcher, testExtractor(), blocklist, testConfig(), zap.NewNop())

	targets := []CrawlTarget{
		{Company: "Alpha", Website: "alpha.dev", Phone: "(555) 123-4567", Group: "Austin"},
		{Company: "Beta", Website: "", Group: "Austin"},
		{Company: "Gamma", Website: "https://www.blocked.dev", Group: "Boston"},
		{Company: "Delta", Website: "delta.dev", Group: "Boston"},
	}

	records, err := o.ScrapeBatch(context.Background(), targets)
	require.NoError(t, err)
	require.Len(t, records, 5, "two real rows plus one placeholder per remaining target")

	require.Equal(t, "Alpha", records[0].Company)
	require.Equal(t, "hr@alpha.dev", records[0].Email)
	require.Equal(t, "+15551234567", records[0].Phone)
	require.Equal(t, "Austin", records[0].City)
	require.Equal(t, "sales@alpha.dev", records[1].Email)

	require.Equal(t, "Beta", records[2].Company)
	require.Equal(t, SentinelNoWebsite, records[2].Email)

	require.Equal(t, "Gamma", records[3].Company)
	require.Equal(t, SentinelBlocked, records[3].Email)

	require.Equal(t, "Delta", records[4].Company)
	require.Equal(t, SentinelNoEmail, records[4].Email)
}

func TestScrapeBatchBlockedTargetSkipsNetwork(t *testing.T) {
	fetcher := newFakeFetcher()
	blocklist := NewBlocklist([]string{"blocked.dev"})
	o := NewOrchestrator(fetcher, testExtractor(), blocklist, testConfig(), zap.NewNop())

	records, err := o.ScrapeBatch(context.Background(), []CrawlTarget{
		{Company: "Gamma", Website: "blocked.dev"},
	})
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, SentinelBlocked, records[0].Email)
	require.Zero(t, fetcher.fetchCount(), "blocked targets must not reach the fetcher")
}

func TestScrapeBatchPanicBecomesErrorRow(t *testing.T) {
	o := NewOrchestrator(panickyFetcher{}, testExtractor(), nil, testConfig(), zap.NewNop())

	records, err := o.ScrapeBatch(context.Background(), []CrawlTarget{
		{Company: "Alpha", Website: "alpha.dev"},
		{Company: "Beta", Website: "beta.dev"},
	})
	require.NoError(t, err, "a panicking session must not abort the batch")
	require.Len(t, records, 2)
	for _, rec := range records {
		require.True(t, strings.HasPrefix(rec.Email, "Error: "), "email = %q", rec.Email)
		require.Contains(t, rec.Email, "boom")
		require.True(t, IsSentinel(rec.Email))
	}
}

func TestScrapeBatchCancelled(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.addPage("https://alpha.dev", `<html><body>a@alpha.dev</body></html>`)
	o := NewOrchestrator(fetcher, testExtractor(), nil, testConfig(), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	records, err := o.ScrapeBatch(ctx, []CrawlTarget{{Company: "Alpha", Website: "alpha.dev"}})
	require.Error(t, err)
	require.Nil(t, records, "cancelled batches return no rows")
}

func TestScrapeBatchEmpty(t *testing.T) {
	o := NewOrchestrator(newFakeFetcher(), testExtractor(), nil, testConfig(), zap.NewNop())
	records, err := o.ScrapeBatch(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, records)
}
