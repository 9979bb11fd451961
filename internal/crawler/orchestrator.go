package crawler

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Orchestrator fans a batch of targets out to concurrent crawl sessions
// under the global concurrency bound and aggregates their rows. A batch
// never fails because of one target: anything escaping a session is
// rendered as an Error sentinel row and the batch continues.
type Orchestrator struct {
	fetcher   Fetcher
	extractor *EmailExtractor
	blocklist *Blocklist
	cfg       Config
	logger    *zap.Logger
}

// NewOrchestrator wires the orchestrator. The fetcher decides the
// execution style; passing a PoliteFetcher yields the sequential mode.
func NewOrchestrator(fetcher Fetcher, extractor *EmailExtractor, blocklist *Blocklist, cfg Config, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		fetcher:   fetcher,
		extractor: extractor,
		blocklist: blocklist,
		cfg:       cfg,
		logger:    logger,
	}
}

// ScrapeBatch processes one batch of targets and returns at least one row
// per target. Rows are grouped per target in input order even though
// sessions complete out of order; the only error returned is context
// cancellation, in which case no rows are returned.
func (o *Orchestrator) ScrapeBatch(ctx context.Context, targets []CrawlTarget) ([]EmailRecord, error) {
	slots := make([][]EmailRecord, len(targets))

	g, batchCtx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.GlobalConcurrency)
	for i, target := range targets {
		g.Go(func() error {
			slots[i] = o.scrapeTarget(batchCtx, target)
			return batchCtx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("scrape batch: %w", err)
	}

	var records []EmailRecord
	for _, rows := range slots {
		records = append(records, rows...)
	}
	return records, nil
}

// scrapeTarget runs one crawl session and renders its outcome as rows.
// The named return lets the recover path substitute an Error row when a
// session panics.
func (o *Orchestrator) scrapeTarget(ctx context.Context, target CrawlTarget) (rows []EmailRecord) {
	phone := NormalizePhone(target.Phone)
	row := func(email string) EmailRecord {
		return EmailRecord{
			Company: target.Company,
			Website: target.Website,
			Phone:   phone,
			Email:   email,
			City:    target.Group,
		}
	}

	defer func() {
		if rec := recover(); rec != nil {
			o.logger.Error("session panic",
				zap.String("company", target.Company),
				zap.String("website", target.Website),
				zap.Any("panic", rec))
			TotalTargets.WithLabelValues(OutcomeError).Inc()
			rows = []EmailRecord{row(ErrorSentinel(fmt.Sprint(rec)))}
		}
	}()

	canonical, parsed, err := CanonicalTarget(target.Website)
	if err != nil {
		TotalTargets.WithLabelValues(OutcomeNoWebsite).Inc()
		return []EmailRecord{row(SentinelNoWebsite)}
	}
	if o.blocklist.IsBlocked(parsed.Hostname()) {
		TotalTargets.WithLabelValues(OutcomeBlocked).Inc()
		return []EmailRecord{row(SentinelBlocked)}
	}

	session := NewSession(o.fetcher, o.extractor, o.cfg, o.logger)
	emails, err := session.Run(ctx, canonical)
	switch {
	case err != nil:
		TotalTargets.WithLabelValues(OutcomeError).Inc()
		return []EmailRecord{row(ErrorSentinel(err.Error()))}
	case len(emails) == 0:
		TotalTargets.WithLabelValues(OutcomeNoEmail).Inc()
		return []EmailRecord{row(SentinelNoEmail)}
	}

	TotalTargets.WithLabelValues(OutcomeEmails).Inc()
	rows = make([]EmailRecord, 0, len(emails))
	for _, email := range emails {
		rows = append(rows, row(email))
	}
	return rows
}
