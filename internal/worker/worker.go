// Package worker implements the job polling and execution loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/crawlworks/email-harvester/internal/crawler"
	"github.com/crawlworks/email-harvester/internal/progress"
	"github.com/crawlworks/email-harvester/internal/report"
)

// BatchScraper runs one batch of targets and returns their result rows.
// *crawler.Orchestrator satisfies this interface.
type BatchScraper interface {
	ScrapeBatch(ctx context.Context, targets []crawler.CrawlTarget) ([]crawler.EmailRecord, error)
}

// Config controls Worker behavior.
type Config struct {
	// PollInterval is the delay between pending-job polls.
	PollInterval time.Duration
	// ErrorBackoff is the delay after a job store polling failure.
	ErrorBackoff time.Duration
	// PausePollInterval is the delay between control reads while paused.
	PausePollInterval time.Duration
	// BatchSize is the number of rows scraped between checkpoints.
	BatchSize int
	// BlobPrefix is prepended to result artifact names.
	BlobPrefix string
}

// Worker polls the job store for pending jobs and executes them one at a
// time. It is the sole mutator of job status, progress, and results; the
// control field stays dashboard-owned and is only ever read here.
type Worker struct {
	jobStore  crawler.JobStore
	blobStore crawler.BlobStore
	opener    crawler.SourceOpener
	scraper   BatchScraper
	publisher crawler.Publisher
	clock     crawler.Clock
	emitter   progress.Emitter
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker. The publisher and emitter may be nil.
func New(
	jobStore crawler.JobStore,
	blobStore crawler.BlobStore,
	opener crawler.SourceOpener,
	scraper BatchScraper,
	publisher crawler.Publisher,
	clock crawler.Clock,
	emitter progress.Emitter,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = 10 * time.Second
	}
	if cfg.PausePollInterval <= 0 {
		cfg.PausePollInterval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		jobStore:  jobStore,
		blobStore: blobStore,
		opener:    opener,
		scraper:   scraper,
		publisher: publisher,
		clock:     clock,
		emitter:   emitter,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, polling for pending jobs until the context finishes. Jobs are
// taken oldest first, one at a time.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("worker started",
		zap.Duration("poll_interval", w.cfg.PollInterval),
		zap.Int("batch_size", w.cfg.BatchSize))
	for {
		delay := w.cfg.PollInterval
		pending, err := w.jobStore.ListPending(ctx)
		switch {
		case ctx.Err() != nil:
			w.logger.Info("worker stopped")
			return
		case err != nil:
			w.logger.Error("list pending jobs failed", zap.Error(err))
			delay = w.cfg.ErrorBackoff
		case len(pending) > 0:
			w.ProcessJob(ctx, pending[0])
		}
		if !w.sleep(ctx, delay) {
			w.logger.Info("worker stopped")
			return
		}
	}
}

// ProcessJob executes one job to a terminal state. A context cancellation
// mid-job returns early and leaves the job in its current stored state.
func (w *Worker) ProcessJob(ctx context.Context, job crawler.Job) {
	logger := w.logger.With(zap.String("job_id", job.ID))

	started := w.clock.Now()
	status := crawler.JobStatusProcessing
	if err := w.jobStore.UpdateJob(ctx, job.ID, crawler.JobUpdate{
		Status:    &status,
		StartedAt: &started,
	}); err != nil {
		logger.Error("claim job failed", zap.Error(err))
		return
	}
	job.Status = status
	job.StartedAt = &started
	logger.Info("job claimed", zap.String("source", job.Source), zap.Ints("sheets", job.Sheets))
	w.emit(progress.Event{JobID: job.ID, Stage: progress.StageJobStart})

	src, err := w.opener.Open(ctx, job.Source)
	if err != nil {
		w.failJob(ctx, &job, fmt.Sprintf("open source %s: %v", job.Source, err), logger)
		return
	}
	defer func() {
		if err := src.Close(); err != nil {
			logger.Warn("close source failed", zap.Error(err))
		}
	}()

	results, stopped, err := w.runSheets(ctx, &job, src, logger)
	switch {
	case ctx.Err() != nil:
		logger.Warn("job interrupted by shutdown")
		return
	case err != nil:
		w.failJob(ctx, &job, err.Error(), logger)
		return
	case stopped:
		w.finishJob(ctx, &job, results, true, logger)
		return
	}
	if len(results) == 0 {
		w.failJob(ctx, &job, "no results produced", logger)
		return
	}
	w.finishJob(ctx, &job, results, false, logger)
}

// runSheets iterates the job's selected sheets batch by batch, consulting
// the control signal at every sheet and batch boundary. It returns the rows
// accumulated so far and whether a stop signal ended the run early.
func (w *Worker) runSheets(
	ctx context.Context,
	job *crawler.Job,
	src crawler.SheetSource,
	logger *zap.Logger,
) ([]crawler.EmailRecord, bool, error) {
	names := src.SheetNames()
	selected := job.Sheets
	if len(selected) == 0 {
		selected = make([]int, len(names))
		for i := range names {
			selected[i] = i
		}
	}

	var results []crawler.EmailRecord
	totalRows := 0
	totalSheets := len(selected)
	for ordinal, sheetIdx := range selected {
		if stop, err := w.checkpoint(ctx, job, logger); err != nil || stop {
			return results, stop, err
		}
		if sheetIdx < 0 || sheetIdx >= len(names) {
			logger.Warn("sheet index out of range", zap.Int("sheet", sheetIdx), zap.Int("sheet_count", len(names)))
			w.emit(progress.Event{
				JobID: job.ID,
				Stage: progress.StageSheetSkip,
				Sheet: fmt.Sprintf("#%d", sheetIdx),
				Note:  "index out of range",
			})
			continue
		}

		name := names[sheetIdx]
		rows, err := src.ReadSheet(ctx, sheetIdx)
		if errors.Is(err, crawler.ErrMissingColumns) {
			logger.Warn("sheet skipped", zap.String("sheet", name), zap.Error(err))
			w.emit(progress.Event{
				JobID: job.ID,
				Stage: progress.StageSheetSkip,
				Sheet: name,
				Note:  "missing required columns",
			})
			continue
		}
		if err != nil {
			return results, false, fmt.Errorf("read sheet %s: %w", name, err)
		}

		totalRows += len(rows)
		sheetStart := float64(ordinal) / float64(totalSheets) * 100
		zero := 0
		w.updateJob(ctx, job, crawler.JobUpdate{
			Progress:     &sheetStart,
			CurrentSheet: &name,
			CurrentRow:   &zero,
			TotalRows:    &totalRows,
		}, logger)
		w.emit(progress.Event{JobID: job.ID, Stage: progress.StageSheetStart, Sheet: name, Rows: len(rows)})
		logger.Info("sheet started", zap.String("sheet", name), zap.Int("rows", len(rows)))

		for start := 0; start < len(rows); start += w.cfg.BatchSize {
			if stop, err := w.checkpoint(ctx, job, logger); err != nil || stop {
				return results, stop, err
			}
			end := min(start+w.cfg.BatchSize, len(rows))
			targets := makeTargets(rows[start:end], name)

			began := w.clock.Now()
			records, err := w.scraper.ScrapeBatch(ctx, targets)
			if err != nil {
				return results, false, fmt.Errorf("scrape batch: %w", err)
			}
			results = append(results, records...)

			w.emit(progress.Event{
				JobID:  job.ID,
				Stage:  progress.StageBatchDone,
				Sheet:  name,
				Rows:   end - start,
				Emails: countRealEmails(records),
				Dur:    w.clock.Now().Sub(began),
			})
			w.emitTargets(job.ID, records)

			pct := (float64(ordinal) + float64(end)/float64(len(rows))) / float64(totalSheets) * 100
			w.updateJob(ctx, job, crawler.JobUpdate{
				Progress:   &pct,
				CurrentRow: &end,
				Results:    append([]crawler.EmailRecord(nil), results...),
			}, logger)
		}
	}
	return results, false, nil
}

// checkpoint reads the control signal and blocks while it says pause. It
// reports stop=true when the signal says stop, and returns the context
// error when a shutdown interrupts the wait.
func (w *Worker) checkpoint(ctx context.Context, job *crawler.Job, logger *zap.Logger) (bool, error) {
	for {
		control, err := w.jobStore.GetControl(ctx, job.ID)
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			logger.Error("read control failed", zap.Error(err))
			control = crawler.ControlRun
		}
		switch control {
		case crawler.ControlStop:
			logger.Info("stop requested")
			return true, nil
		case crawler.ControlPause:
			if job.Status != crawler.JobStatusPaused {
				w.setStatus(ctx, job, crawler.JobStatusPaused, logger)
				logger.Info("job paused")
			}
			if !w.sleep(ctx, w.cfg.PausePollInterval) {
				return false, ctx.Err()
			}
		default:
			if job.Status == crawler.JobStatusPaused {
				w.setStatus(ctx, job, crawler.JobStatusProcessing, logger)
				logger.Info("job resumed")
			}
			return false, nil
		}
	}
}

// finishJob renders the result artifact and moves the job to completed, or
// to stopped when partial is set.
func (w *Worker) finishJob(
	ctx context.Context,
	job *crawler.Job,
	results []crawler.EmailRecord,
	partial bool,
	logger *zap.Logger,
) {
	data, err := report.Render(results)
	if err != nil {
		w.failJob(ctx, job, fmt.Sprintf("render report: %v", err), logger)
		return
	}
	path := w.blobPath(report.ArtifactName(job.Source, job.ID, partial))
	uri, err := w.blobStore.PutObject(ctx, path, report.ContentType, data)
	if err != nil {
		w.failJob(ctx, job, fmt.Sprintf("write output: %v", err), logger)
		return
	}

	status := crawler.JobStatusCompleted
	if partial {
		status = crawler.JobStatusStopped
	}
	now := w.clock.Now()
	emails := countRealEmails(results)
	update := crawler.JobUpdate{
		Status:      &status,
		TotalEmails: &emails,
		CompletedAt: &now,
		OutputURI:   &uri,
		Results:     append([]crawler.EmailRecord(nil), results...),
	}
	if !partial {
		full := 100.0
		update.Progress = &full
	}
	w.updateJob(ctx, job, update, logger)

	w.publish(ctx, crawler.CompletionEvent{
		JobID:       job.ID,
		Status:      status,
		OutputURI:   uri,
		TotalRows:   job.TotalRows,
		TotalEmails: emails,
		CompletedAt: &now,
	}, logger)
	w.emit(progress.Event{
		JobID:   job.ID,
		Stage:   progress.StageJobDone,
		Outcome: string(status),
		Rows:    job.TotalRows,
		Emails:  emails,
		Dur:     now.Sub(*job.StartedAt),
	})
	logger.Info("job finished",
		zap.String("status", string(status)),
		zap.String("output_uri", uri),
		zap.Int("total_rows", job.TotalRows),
		zap.Int("total_emails", emails))
}

// failJob moves the job to failed with the captured message. Results already
// persisted at checkpoints stay in the job record; no artifact is written.
func (w *Worker) failJob(ctx context.Context, job *crawler.Job, msg string, logger *zap.Logger) {
	status := crawler.JobStatusFailed
	now := w.clock.Now()
	w.updateJob(ctx, job, crawler.JobUpdate{
		Status:      &status,
		ErrorText:   &msg,
		CompletedAt: &now,
	}, logger)

	w.publish(ctx, crawler.CompletionEvent{
		JobID:       job.ID,
		Status:      status,
		TotalRows:   job.TotalRows,
		TotalEmails: job.TotalEmails,
		ErrorText:   msg,
		CompletedAt: &now,
	}, logger)
	evt := progress.Event{JobID: job.ID, Stage: progress.StageJobError, Note: msg}
	if job.StartedAt != nil {
		evt.Dur = now.Sub(*job.StartedAt)
	}
	w.emit(evt)
	logger.Error("job failed", zap.String("error", msg))
}

// updateJob persists a partial update and mirrors it onto the local copy so
// later steps observe the same record the store holds. Store failures are
// logged and the run continues; the next checkpoint retries persistence.
func (w *Worker) updateJob(ctx context.Context, job *crawler.Job, update crawler.JobUpdate, logger *zap.Logger) {
	if err := w.jobStore.UpdateJob(ctx, job.ID, update); err != nil {
		logger.Error("update job failed", zap.Error(err))
	}
	update.Apply(job)
}

func (w *Worker) setStatus(ctx context.Context, job *crawler.Job, status crawler.JobStatus, logger *zap.Logger) {
	w.updateJob(ctx, job, crawler.JobUpdate{Status: &status}, logger)
}

// publish sends the completion event when a publisher is configured.
// Publish failures are logged, never fatal to the job.
func (w *Worker) publish(ctx context.Context, event crawler.CompletionEvent, logger *zap.Logger) {
	if w.publisher == nil {
		return
	}
	if err := w.publisher.Publish(ctx, event); err != nil {
		logger.Error("publish completion event failed", zap.Error(err))
	}
}

func (w *Worker) emit(evt progress.Event) {
	if w.emitter == nil {
		return
	}
	evt.TS = w.clock.Now()
	w.emitter.Emit(evt)
}

// emitTargets renders one TARGET_DONE event per scraped target. Sentinel
// rows map one to one onto targets; real rows are grouped by their source
// company and website since one target yields one row per address.
func (w *Worker) emitTargets(jobID string, records []crawler.EmailRecord) {
	if w.emitter == nil {
		return
	}
	i := 0
	for i < len(records) {
		rec := records[i]
		if crawler.IsSentinel(rec.Email) {
			w.emit(progress.Event{
				JobID:   jobID,
				Stage:   progress.StageTargetDone,
				Site:    rec.Website,
				Outcome: targetOutcome(rec.Email),
			})
			i++
			continue
		}
		j := i
		for j < len(records) && !crawler.IsSentinel(records[j].Email) &&
			records[j].Company == rec.Company && records[j].Website == rec.Website {
			j++
		}
		w.emit(progress.Event{
			JobID:   jobID,
			Stage:   progress.StageTargetDone,
			Site:    rec.Website,
			Outcome: crawler.OutcomeEmails,
			Emails:  j - i,
		})
		i = j
	}
}

func (w *Worker) blobPath(name string) string {
	prefix := strings.Trim(w.cfg.BlobPrefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

// sleep waits for d unless the context finishes first; it reports whether
// the full duration elapsed.
func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func makeTargets(rows []crawler.SourceRow, sheet string) []crawler.CrawlTarget {
	targets := make([]crawler.CrawlTarget, 0, len(rows))
	for _, row := range rows {
		targets = append(targets, crawler.CrawlTarget{
			Company: row.Company,
			Website: row.Website,
			Phone:   row.Phone,
			Group:   sheet,
		})
	}
	return targets
}

func countRealEmails(records []crawler.EmailRecord) int {
	count := 0
	for _, rec := range records {
		if !crawler.IsSentinel(rec.Email) {
			count++
		}
	}
	return count
}

func targetOutcome(email string) string {
	switch {
	case email == crawler.SentinelNoWebsite:
		return crawler.OutcomeNoWebsite
	case email == crawler.SentinelBlocked:
		return crawler.OutcomeBlocked
	case email == crawler.SentinelNoEmail:
		return crawler.OutcomeNoEmail
	default:
		return crawler.OutcomeError
	}
}
