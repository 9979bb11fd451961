package crawler

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const testTimeout = 2 * time.Second

func testConfig() Config {
	return Config{
		UserAgent:         "test-agent",
		RespectRobots:     false,
		MaxDepth:          2,
		MaxURLsPerDomain:  15,
		RequestTimeout:    testTimeout,
		BatchSize:         50,
		GlobalConcurrency: 8,
		SiteConcurrency:   4,
		SkipExtensions:    []string{".pdf", ".jpg", ".png", ".zip"},
	}
}

// fakeFetcher serves canned pages keyed by normalized URL and records the
// order in which URLs were requested.
type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]Page
	errs  map[string]error
	calls []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		pages: make(map[string]Page),
		errs:  make(map[string]error),
	}
}

func (f *fakeFetcher) addPage(rawURL, body string) {
	f.pages[rawURL] = Page{
		URL:        rawURL,
		FinalURL:   rawURL,
		StatusCode: 200,
		Body:       []byte(body),
	}
}

func (f *fakeFetcher) addError(rawURL string, err error) {
	f.errs[rawURL] = err
}

func (f *fakeFetcher) Fetch(ctx context.Context, rawURL string) (Page, error) {
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}
	f.mu.Lock()
	f.calls = append(f.calls, rawURL)
	f.mu.Unlock()
	if err, ok := f.errs[rawURL]; ok {
		return Page{}, err
	}
	page, ok := f.pages[rawURL]
	if !ok {
		return Page{}, &FetchError{Kind: FailureHTTPStatus, URL: rawURL, StatusCode: 404, Err: fmt.Errorf("not found")}
	}
	return page, nil
}

func (f *fakeFetcher) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeFetcher) fetched(rawURL string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.calls {
		if u == rawURL {
			return true
		}
	}
	return false
}
