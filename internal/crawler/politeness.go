package crawler

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// PoliteFetcher wraps another Fetcher for sequential deployments: requests
// are serialized through a mutex and each one is preceded by a randomized
// delay drawn uniformly from [min, max). The blocklist and robots
// short-circuits of the inner fetcher run after the delay, matching the
// one-request-at-a-time footprint.
type PoliteFetcher struct {
	inner Fetcher
	min   time.Duration
	max   time.Duration

	mu    sync.Mutex
	sleep func(ctx context.Context, delay time.Duration)
}

// NewPoliteFetcher builds the sequential-mode decorator around inner.
func NewPoliteFetcher(inner Fetcher, min, max time.Duration) *PoliteFetcher {
	return &PoliteFetcher{
		inner: inner,
		min:   min,
		max:   max,
		sleep: sleepContext,
	}
}

// Fetch implements Fetcher.
func (f *PoliteFetcher) Fetch(ctx context.Context, rawURL string) (Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sleep(ctx, f.delay())
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}
	return f.inner.Fetch(ctx, rawURL)
}

func (f *PoliteFetcher) delay() time.Duration {
	if f.max <= f.min {
		return f.min
	}
	return f.min + time.Duration(rand.Int63n(int64(f.max-f.min)))
}

// sleepContext waits for the delay or the context, whichever ends first.
func sleepContext(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
