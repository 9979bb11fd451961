package crawler

import (
	"context"
	"fmt"
	"net/url"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Session runs one depth-bounded breadth-first traversal of a single
// organization's site. All state is session-local: the visited set, the
// domain budget, and the accumulated email set are discarded when the
// session ends, and nothing is shared with concurrently running sessions.
type Session struct {
	fetcher   Fetcher
	extractor *EmailExtractor
	cfg       Config
	logger    *zap.Logger
}

// NewSession builds a single-use session. Breadth-first traversal bounds
// the blast radius per site twice over, by depth and then by domain
// budget, so one pathological site cannot monopolize a worker.
func NewSession(fetcher Fetcher, extractor *EmailExtractor, cfg Config, logger *zap.Logger) *Session {
	return &Session{
		fetcher:   fetcher,
		extractor: extractor,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run crawls the site rooted at rawURL down to the configured depth and
// returns the sorted set of addresses discovered. Per-page failures are
// logged and skipped; the only error surfaced is context cancellation or
// an unusable root URL.
func (s *Session) Run(ctx context.Context, rawURL string) ([]string, error) {
	canonical, rootURL, err := CanonicalTarget(rawURL)
	if err != nil {
		return nil, fmt.Errorf("canonicalize target: %w", err)
	}
	root, err := NormalizeURL(canonical)
	if err != nil {
		return nil, fmt.Errorf("normalize target: %w", err)
	}
	site := SiteKey(rootURL)

	visited := make(map[string]struct{})
	budget := make(map[string]int)
	emails := make(map[string]struct{})

	frontier := []string{root}
	for depth := 0; depth <= s.cfg.MaxDepth && len(frontier) > 0; depth++ {
		wave := s.takeWave(frontier, visited, budget, site)
		if len(wave) == 0 {
			break
		}
		next, err := s.crawlWave(ctx, wave, depth, site, emails)
		if err != nil {
			return nil, err
		}
		frontier = next
		if budget[site] >= s.cfg.MaxURLsPerDomain {
			s.logger.Debug("domain budget exhausted",
				zap.String("site", site), zap.Int("fetched", budget[site]))
			break
		}
	}

	out := make([]string, 0, len(emails))
	for email := range emails {
		out = append(out, email)
	}
	sort.Strings(out)
	return out, nil
}

// takeWave selects the next depth's fetchable URLs, marking them visited
// and charging the domain budget as they are chosen. URLs left in the
// frontier once the budget is reached are never fetched.
func (s *Session) takeWave(frontier []string, visited map[string]struct{}, budget map[string]int, site string) []string {
	var wave []string
	for _, u := range frontier {
		if budget[site] >= s.cfg.MaxURLsPerDomain {
			break
		}
		if _, seen := visited[u]; seen {
			continue
		}
		visited[u] = struct{}{}
		budget[site]++
		wave = append(wave, u)
	}
	return wave
}

// crawlWave fetches one frontier depth concurrently and returns the next
// frontier. The group wait is the synchronization barrier per depth level.
func (s *Session) crawlWave(ctx context.Context, wave []string, depth int, site string, emails map[string]struct{}) ([]string, error) {
	found := make([][]string, len(wave))
	discovered := make([][]string, len(wave))

	g, waveCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.SiteConcurrency)
	for i, pageURL := range wave {
		g.Go(func() error {
			page, err := s.fetcher.Fetch(waveCtx, pageURL)
			if err != nil {
				if cerr := waveCtx.Err(); cerr != nil {
					return cerr
				}
				s.logger.Debug("page skipped",
					zap.String("url", pageURL),
					zap.String("kind", string(FailureKindOf(err))),
					zap.Error(err))
				return nil
			}
			found[i] = s.extractor.Extract(page.Body)
			if depth < s.cfg.MaxDepth {
				discovered[i] = ExtractLinks(page.Body, pageBase(page), site, s.cfg.SkipExtensions)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var next []string
	for i := range wave {
		for _, email := range found[i] {
			if _, dup := emails[email]; dup {
				continue
			}
			emails[email] = struct{}{}
			TotalEmailsExtracted.Inc()
		}
		next = append(next, discovered[i]...)
	}
	return next, nil
}

// pageBase picks the URL links are resolved against, preferring the final
// URL after redirects.
func pageBase(page Page) *url.URL {
	if u, err := url.Parse(page.FinalURL); err == nil && u.Hostname() != "" {
		return u
	}
	u, err := url.Parse(page.URL)
	if err != nil {
		return nil
	}
	return u
}
