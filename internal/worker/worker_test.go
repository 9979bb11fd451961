package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/crawlworks/email-harvester/internal/clock/system"
	"github.com/crawlworks/email-harvester/internal/crawler"
	pubmem "github.com/crawlworks/email-harvester/internal/publisher/memory"
	storagemem "github.com/crawlworks/email-harvester/internal/storage/memory"
)

type fakeSheet struct {
	name string
	rows []crawler.SourceRow
	err  error
}

type fakeSource struct {
	mu     sync.Mutex
	sheets []fakeSheet
	closed bool
}

func (s *fakeSource) SheetNames() []string {
	names := make([]string, len(s.sheets))
	for i, sheet := range s.sheets {
		names[i] = sheet.name
	}
	return names
}

func (s *fakeSource) ReadSheet(_ context.Context, index int) ([]crawler.SourceRow, error) {
	sheet := s.sheets[index]
	if sheet.err != nil {
		return nil, sheet.err
	}
	return sheet.rows, nil
}

func (s *fakeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSource) wasClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeOpener struct {
	src *fakeSource
	err error

	mu      sync.Mutex
	lastRef string
}

func (o *fakeOpener) Open(_ context.Context, ref string) (crawler.SheetSource, error) {
	o.mu.Lock()
	o.lastRef = ref
	o.mu.Unlock()
	if o.err != nil {
		return nil, o.err
	}
	return o.src, nil
}

func (o *fakeOpener) openedRef() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastRef
}

// fakeScraper answers every target with an info@ address derived from its
// website. onBatch runs before the records are built, so tests can flip the
// control signal mid-run.
type fakeScraper struct {
	err     error
	onBatch func(batch int, targets []crawler.CrawlTarget)

	mu      sync.Mutex
	batches [][]crawler.CrawlTarget
}

func (s *fakeScraper) ScrapeBatch(ctx context.Context, targets []crawler.CrawlTarget) ([]crawler.EmailRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	batch := len(s.batches)
	s.batches = append(s.batches, targets)
	s.mu.Unlock()
	if s.onBatch != nil {
		s.onBatch(batch, targets)
	}
	if s.err != nil {
		return nil, s.err
	}
	records := make([]crawler.EmailRecord, 0, len(targets))
	for _, target := range targets {
		records = append(records, crawler.EmailRecord{
			Company: target.Company,
			Website: target.Website,
			Phone:   target.Phone,
			Email:   "info@" + target.Website,
			City:    target.Group,
		})
	}
	return records, nil
}

func (s *fakeScraper) batchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

func newTestWorker(
	store crawler.JobStore,
	blobs crawler.BlobStore,
	opener crawler.SourceOpener,
	scraper BatchScraper,
	pub crawler.Publisher,
) *Worker {
	cfg := Config{
		PollInterval:      10 * time.Millisecond,
		ErrorBackoff:      10 * time.Millisecond,
		PausePollInterval: 5 * time.Millisecond,
		BatchSize:         2,
	}
	return New(store, blobs, opener, scraper, pub, system.New(), nil, cfg, zap.NewNop())
}

func newPendingJob(id, source string) crawler.Job {
	return crawler.Job{
		ID:        id,
		Source:    source,
		Status:    crawler.JobStatusPending,
		Control:   crawler.ControlRun,
		CreatedAt: time.Now().UTC(),
	}
}

func leadRows(n int) []crawler.SourceRow {
	all := []crawler.SourceRow{
		{Company: "Acme Estate Sales", Website: "acme-estates.dev", Phone: "555-0101"},
		{Company: "Blue Door Liquidations", Website: "bluedoor.dev", Phone: "555-0102"},
		{Company: "Cedar Hill Auctions", Website: "cedarhill.dev", Phone: "555-0103"},
		{Company: "Dovetail Consignment", Website: "dovetail.dev", Phone: "555-0104"},
	}
	return all[:n]
}

func TestProcessJobCompletes(t *testing.T) {
	ctx := context.Background()
	store := storagemem.NewJobStore()
	blobs := storagemem.NewBlobStore()
	pub := pubmem.New()
	src := &fakeSource{sheets: []fakeSheet{{name: "Estate Sales", rows: leadRows(3)}}}
	opener := &fakeOpener{src: src}
	scraper := &fakeScraper{}
	w := newTestWorker(store, blobs, opener, scraper, pub)

	job := newPendingJob("job-1", "leads.xlsx")
	require.NoError(t, store.CreateJob(ctx, job))

	w.ProcessJob(ctx, job)

	got, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusCompleted, got.Status)
	require.Equal(t, 100.0, got.Progress)
	require.Equal(t, 3, got.TotalRows)
	require.Equal(t, 3, got.TotalEmails)
	require.NotNil(t, got.StartedAt)
	require.NotNil(t, got.CompletedAt)
	require.Len(t, got.Results, 3)
	require.Equal(t, "info@acme-estates.dev", got.Results[0].Email)
	require.Equal(t, "Estate Sales", got.Results[0].City)

	require.Equal(t, "memory://scraped_leads_job-1.xlsx", got.OutputURI)
	data, err := blobs.GetObject(ctx, "scraped_leads_job-1.xlsx")
	require.NoError(t, err)
	require.NotEmpty(t, data)

	events := pub.Events()
	require.Len(t, events, 1)
	require.Equal(t, crawler.JobStatusCompleted, events[0].Status)
	require.Equal(t, got.OutputURI, events[0].OutputURI)
	require.Equal(t, 3, events[0].TotalRows)
	require.Equal(t, 3, events[0].TotalEmails)

	require.True(t, src.wasClosed())
	require.Equal(t, "leads.xlsx", opener.openedRef())
	require.Equal(t, 2, scraper.batchCount())
}

func TestProcessJobPauseAndResume(t *testing.T) {
	ctx := context.Background()
	store := storagemem.NewJobStore()
	blobs := storagemem.NewBlobStore()
	pub := pubmem.New()
	src := &fakeSource{sheets: []fakeSheet{{name: "Estate Sales", rows: leadRows(4)}}}
	scraper := &fakeScraper{}
	scraper.onBatch = func(batch int, _ []crawler.CrawlTarget) {
		if batch == 0 {
			assert.NoError(t, store.SetControl(context.Background(), "job-2", crawler.ControlPause))
		}
	}
	w := newTestWorker(store, blobs, &fakeOpener{src: src}, scraper, pub)

	job := newPendingJob("job-2", "leads.xlsx")
	require.NoError(t, store.CreateJob(ctx, job))

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.ProcessJob(context.Background(), job)
	}()

	require.Eventually(t, func() bool {
		got, err := store.GetJob(ctx, "job-2")
		return err == nil && got.Status == crawler.JobStatusPaused
	}, 2*time.Second, 2*time.Millisecond, "job never reached paused")

	require.NoError(t, store.SetControl(ctx, "job-2", crawler.ControlRun))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not finish after resume")
	}

	got, err := store.GetJob(ctx, "job-2")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusCompleted, got.Status)
	require.Len(t, got.Results, 4)
	require.Equal(t, 4, got.TotalEmails)
	require.Equal(t, 2, scraper.batchCount())
}

func TestProcessJobStopPersistsPartialResults(t *testing.T) {
	ctx := context.Background()
	store := storagemem.NewJobStore()
	blobs := storagemem.NewBlobStore()
	pub := pubmem.New()
	src := &fakeSource{sheets: []fakeSheet{{name: "Estate Sales", rows: leadRows(4)}}}
	scraper := &fakeScraper{}
	scraper.onBatch = func(batch int, _ []crawler.CrawlTarget) {
		if batch == 0 {
			assert.NoError(t, store.SetControl(context.Background(), "job-3", crawler.ControlStop))
		}
	}
	w := newTestWorker(store, blobs, &fakeOpener{src: src}, scraper, pub)

	job := newPendingJob("job-3", "leads.xlsx")
	require.NoError(t, store.CreateJob(ctx, job))

	w.ProcessJob(ctx, job)

	got, err := store.GetJob(ctx, "job-3")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusStopped, got.Status)
	require.Len(t, got.Results, 2, "only the finished batch should be kept")
	require.Equal(t, 2, got.TotalEmails)
	require.Equal(t, 50.0, got.Progress)
	require.NotNil(t, got.CompletedAt)

	require.Equal(t, "memory://partial_leads_job-3.xlsx", got.OutputURI)
	_, err = blobs.GetObject(ctx, "partial_leads_job-3.xlsx")
	require.NoError(t, err)

	require.Equal(t, 1, scraper.batchCount())
	events := pub.Events()
	require.Len(t, events, 1)
	require.Equal(t, crawler.JobStatusStopped, events[0].Status)
}

func TestProcessJobSkipsUnreadableSheets(t *testing.T) {
	ctx := context.Background()
	store := storagemem.NewJobStore()
	blobs := storagemem.NewBlobStore()
	pub := pubmem.New()
	src := &fakeSource{sheets: []fakeSheet{
		{name: "Estate Sales", rows: leadRows(2)},
		{name: "Vendors", err: fmt.Errorf("sheet Vendors: %w", crawler.ErrMissingColumns)},
	}}
	scraper := &fakeScraper{}
	w := newTestWorker(store, blobs, &fakeOpener{src: src}, scraper, pub)

	job := newPendingJob("job-4", "leads.xlsx")
	job.Sheets = []int{0, 5, 1}
	require.NoError(t, store.CreateJob(ctx, job))

	w.ProcessJob(ctx, job)

	got, err := store.GetJob(ctx, "job-4")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusCompleted, got.Status)
	require.Equal(t, 2, got.TotalRows)
	require.Len(t, got.Results, 2)
	require.Equal(t, 1, scraper.batchCount())
}

func TestProcessJobFailsWhenSourceWontOpen(t *testing.T) {
	ctx := context.Background()
	store := storagemem.NewJobStore()
	pub := pubmem.New()
	opener := &fakeOpener{err: errors.New("bucket object missing")}
	w := newTestWorker(store, storagemem.NewBlobStore(), opener, &fakeScraper{}, pub)

	job := newPendingJob("job-5", "leads.xlsx")
	require.NoError(t, store.CreateJob(ctx, job))

	w.ProcessJob(ctx, job)

	got, err := store.GetJob(ctx, "job-5")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusFailed, got.Status)
	require.Contains(t, got.ErrorText, "open source leads.xlsx")
	require.NotNil(t, got.CompletedAt)
	require.Empty(t, got.OutputURI)

	events := pub.Events()
	require.Len(t, events, 1)
	require.Equal(t, crawler.JobStatusFailed, events[0].Status)
	require.Contains(t, events[0].ErrorText, "bucket object missing")
}

func TestProcessJobFailsWhenSheetsProduceNothing(t *testing.T) {
	ctx := context.Background()
	store := storagemem.NewJobStore()
	src := &fakeSource{sheets: []fakeSheet{{name: "Estate Sales"}}}
	w := newTestWorker(store, storagemem.NewBlobStore(), &fakeOpener{src: src}, &fakeScraper{}, pubmem.New())

	job := newPendingJob("job-6", "leads.xlsx")
	require.NoError(t, store.CreateJob(ctx, job))

	w.ProcessJob(ctx, job)

	got, err := store.GetJob(ctx, "job-6")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusFailed, got.Status)
	require.Equal(t, "no results produced", got.ErrorText)
}

func TestProcessJobFailsOnScrapeError(t *testing.T) {
	ctx := context.Background()
	store := storagemem.NewJobStore()
	src := &fakeSource{sheets: []fakeSheet{{name: "Estate Sales", rows: leadRows(2)}}}
	scraper := &fakeScraper{err: errors.New("collector crashed")}
	w := newTestWorker(store, storagemem.NewBlobStore(), &fakeOpener{src: src}, scraper, pubmem.New())

	job := newPendingJob("job-7", "leads.xlsx")
	require.NoError(t, store.CreateJob(ctx, job))

	w.ProcessJob(ctx, job)

	got, err := store.GetJob(ctx, "job-7")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusFailed, got.Status)
	require.Equal(t, "scrape batch: collector crashed", got.ErrorText)
}

// recordingJobStore captures every progress value the worker persists.
type recordingJobStore struct {
	crawler.JobStore

	mu       sync.Mutex
	progress []float64
}

func (s *recordingJobStore) UpdateJob(ctx context.Context, jobID string, update crawler.JobUpdate) error {
	s.mu.Lock()
	if update.Progress != nil {
		s.progress = append(s.progress, *update.Progress)
	}
	s.mu.Unlock()
	return s.JobStore.UpdateJob(ctx, jobID, update)
}

func (s *recordingJobStore) progressValues() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]float64(nil), s.progress...)
}

func TestProcessJobProgressNeverDecreases(t *testing.T) {
	ctx := context.Background()
	rec := &recordingJobStore{JobStore: storagemem.NewJobStore()}
	src := &fakeSource{sheets: []fakeSheet{
		{name: "Estate Sales", rows: leadRows(3)},
		{name: "Liquidators", rows: leadRows(2)},
	}}
	w := newTestWorker(rec, storagemem.NewBlobStore(), &fakeOpener{src: src}, &fakeScraper{}, pubmem.New())

	job := newPendingJob("job-8", "leads.xlsx")
	require.NoError(t, rec.CreateJob(ctx, job))

	w.ProcessJob(ctx, job)

	got, err := rec.GetJob(ctx, "job-8")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusCompleted, got.Status)

	snaps := rec.progressValues()
	require.NotEmpty(t, snaps)
	for i := 1; i < len(snaps); i++ {
		require.GreaterOrEqual(t, snaps[i], snaps[i-1], "progress went backwards at step %d", i)
	}
	require.Equal(t, 100.0, snaps[len(snaps)-1])
}

func TestRunPicksUpPendingJobs(t *testing.T) {
	store := storagemem.NewJobStore()
	src := &fakeSource{sheets: []fakeSheet{{name: "Estate Sales", rows: leadRows(2)}}}
	w := newTestWorker(store, storagemem.NewBlobStore(), &fakeOpener{src: src}, &fakeScraper{}, pubmem.New())

	job := newPendingJob("job-9", "leads.xlsx")
	require.NoError(t, store.CreateJob(context.Background(), job))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		got, err := store.GetJob(context.Background(), "job-9")
		return err == nil && got.Status == crawler.JobStatusCompleted
	}, 2*time.Second, 5*time.Millisecond, "pending job was never processed")

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on context cancellation")
	}
}

func TestProcessJobShutdownKeepsStoredState(t *testing.T) {
	store := storagemem.NewJobStore()
	pub := pubmem.New()
	src := &fakeSource{sheets: []fakeSheet{{name: "Estate Sales", rows: leadRows(4)}}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	scraper := &fakeScraper{}
	scraper.onBatch = func(batch int, _ []crawler.CrawlTarget) {
		if batch == 0 {
			cancel()
		}
	}
	w := newTestWorker(store, storagemem.NewBlobStore(), &fakeOpener{src: src}, scraper, pub)

	job := newPendingJob("job-10", "leads.xlsx")
	require.NoError(t, store.CreateJob(context.Background(), job))

	w.ProcessJob(ctx, job)

	got, err := store.GetJob(context.Background(), "job-10")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusProcessing, got.Status, "shutdown must not force a terminal status")
	require.Nil(t, got.CompletedAt)
	require.Len(t, got.Results, 2, "checkpointed results stay persisted")
	require.Empty(t, pub.Events())
}
