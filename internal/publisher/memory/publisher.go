// Package memory contains an in-memory completion publisher for tests.
package memory

import (
	"context"
	"sync"

	"github.com/crawlworks/email-harvester/internal/crawler"
)

// Publisher stores published completion events for inspection.
type Publisher struct {
	mu     sync.RWMutex
	events []crawler.CompletionEvent
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the event.
func (p *Publisher) Publish(_ context.Context, event crawler.CompletionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

// Events returns the recorded events.
func (p *Publisher) Events() []crawler.CompletionEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]crawler.CompletionEvent, len(p.events))
	copy(out, p.events)
	return out
}
