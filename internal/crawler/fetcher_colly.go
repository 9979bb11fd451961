package crawler

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

// CollyFetcher implements the Fetcher interface using the Colly collector.
// It applies the blocklist and robots policy before any network access and
// classifies every failure so sessions can skip bad URLs without guessing.
type CollyFetcher struct {
	baseCollector *colly.Collector
	blocklist     *Blocklist
	robots        RobotsPolicy
	logger        *zap.Logger
}

// NewCollyFetcher constructs a configured Colly-based Fetcher. Robots
// handling is owned by the RobotsPolicy, not Colly, so failures stay
// classified and fail-open semantics apply.
func NewCollyFetcher(cfg Config, blocklist *Blocklist, robots RobotsPolicy, logger *zap.Logger) (*CollyFetcher, error) {
	opts := []colly.CollectorOption{
		colly.Async(true),
		colly.UserAgent(cfg.UserAgent),
		colly.IgnoreRobotsTxt(),
	}
	base := colly.NewCollector(opts...)
	// Visited tracking is session-scoped; the shared collector must not
	// dedupe across sessions.
	base.AllowURLRevisit = true
	base.WithTransport(&http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          128,
		MaxIdleConnsPerHost:   32,
		MaxConnsPerHost:       cfg.SiteConcurrency * 2,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.RequestTimeout,
		ForceAttemptHTTP2:     true,
	})
	base.SetRequestTimeout(cfg.RequestTimeout)

	if err := base.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: cfg.SiteConcurrency,
	}); err != nil {
		return nil, err
	}

	return &CollyFetcher{
		baseCollector: base,
		blocklist:     blocklist,
		robots:        robots,
		logger:        logger,
	}, nil
}

// Fetch retrieves a page via the configured Colly collector, returning a
// *FetchError for every failure path.
func (f *CollyFetcher) Fetch(ctx context.Context, rawURL string) (Page, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return Page{}, &FetchError{Kind: FailureNetwork, URL: rawURL, Err: err}
	}
	if f.blocklist.IsBlocked(parsed.Hostname()) {
		TotalFetchFailures.WithLabelValues(string(FailureBlockedDomain)).Inc()
		return Page{}, &FetchError{Kind: FailureBlockedDomain, URL: rawURL}
	}
	if f.robots != nil && !f.robots.Allowed(ctx, rawURL) {
		TotalFetchFailures.WithLabelValues(string(FailureRobotsDisallow)).Inc()
		return Page{}, &FetchError{Kind: FailureRobotsDisallow, URL: rawURL}
	}

	TotalFetches.Inc()
	collector := f.baseCollector.Clone()
	resultCh := make(chan fetchResult, 1)
	var once sync.Once
	send := func(res fetchResult) {
		once.Do(func() {
			resultCh <- res
		})
	}

	collector.OnResponse(func(r *colly.Response) {
		headers := http.Header{}
		if r.Headers != nil {
			for k, v := range *r.Headers {
				cp := make([]string, len(v))
				copy(cp, v)
				headers[k] = cp
			}
		}
		page := Page{
			URL:        rawURL,
			FinalURL:   r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    headers,
			Body:       append([]byte{}, r.Body...),
		}
		send(fetchResult{page: page})
	})

	collector.OnError(func(r *colly.Response, err error) {
		send(fetchResult{err: f.classify(rawURL, r, err)})
	})

	if err := collector.Visit(rawURL); err != nil {
		return Page{}, f.classify(rawURL, nil, err)
	}
	collector.Wait()

	select {
	case res := <-resultCh:
		if err := ctx.Err(); err != nil {
			return Page{}, err
		}
		return res.page, res.err
	default:
		return Page{}, &FetchError{Kind: FailureNetwork, URL: rawURL, Err: errors.New("colly fetch produced no result")}
	}
}

// classify maps a raw Colly error into the failure taxonomy.
func (f *CollyFetcher) classify(rawURL string, r *colly.Response, err error) error {
	if err == nil {
		err = errors.New("unknown colly error")
	}
	kind := FailureNetwork
	statusCode := 0
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		kind = FailureTimeout
	case r != nil && r.StatusCode >= 300:
		kind = FailureHTTPStatus
		statusCode = r.StatusCode
	}
	TotalFetchFailures.WithLabelValues(string(kind)).Inc()
	return &FetchError{Kind: kind, URL: rawURL, StatusCode: statusCode, Err: err}
}

type fetchResult struct {
	page Page
	err  error
}
