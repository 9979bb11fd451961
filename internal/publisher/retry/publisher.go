// Package retry decorates a completion publisher with jittered exponential
// backoff, so transient broker failures do not lose completion events.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/crawlworks/email-harvester/internal/crawler"
)

// Config bounds the retry behavior.
type Config struct {
	// MaxAttempts is the total number of attempts including the first.
	MaxAttempts int
	// BaseDelay is the first backoff step.
	BaseDelay time.Duration
	// MaxDelay caps the backoff growth.
	MaxDelay time.Duration
}

// Publisher wraps an inner publisher and retries failed publishes.
// Context cancellation is never retried.
type Publisher struct {
	inner  crawler.Publisher
	cfg    Config
	logger *zap.Logger
}

// Wrap builds a retrying Publisher around inner.
func Wrap(inner crawler.Publisher, cfg Config, logger *zap.Logger) *Publisher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 250 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{inner: inner, cfg: cfg, logger: logger}
}

// Publish implements crawler.Publisher.
func (p *Publisher) Publish(ctx context.Context, event crawler.CompletionEvent) error {
	var err error
	attempts := 0
	for attempt := 0; attempt < p.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := p.backoff(attempt - 1)
			p.logger.Warn("retrying completion publish",
				zap.String("job_id", event.JobID),
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", delay),
				zap.Error(err),
			)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("publish completion event: %w", ctx.Err())
			case <-timer.C:
			}
		}
		err = p.inner.Publish(ctx, event)
		attempts++
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			break
		}
	}
	return fmt.Errorf("publish completion event after %d attempts: %w", attempts, err)
}

// backoff returns the wait before the next attempt: half deterministic
// exponential growth, half random jitter.
func (p *Publisher) backoff(attempt int) time.Duration {
	delay := float64(p.cfg.BaseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.cfg.MaxDelay) {
		delay = float64(p.cfg.MaxDelay)
	}
	jitter := randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
