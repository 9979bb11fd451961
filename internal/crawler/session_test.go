package crawler

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"go.uber.org/zap"
)

func newTestSession(fetcher Fetcher, cfg Config) *Session {
	return NewSession(fetcher, testExtractor(), cfg, zap.NewNop())
}

func TestSessionCrawlsToConfiguredDepth(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.addPage("https://acme.dev", `<html><body>
		root@acme.dev
		<a href="/a">a</a>
	</body></html>`)
	fetcher.addPage("https://acme.dev/a", `<html><body>
		depth1@acme.dev
		<a href="/b">b</a>
	</body></html>`)
	fetcher.addPage("https://acme.dev/b", `<html><body>
		depth2@acme.dev
		<a href="/c">c</a>
	</body></html>`)
	fetcher.addPage("https://acme.dev/c", `<html><body>depth3@acme.dev</body></html>`)

	session := newTestSession(fetcher, testConfig())
	emails, err := session.Run(context.Background(), "acme.dev")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []string{"depth1@acme.dev", "depth2@acme.dev", "root@acme.dev"}
	if !reflect.DeepEqual(emails, want) {
		t.Fatalf("emails = %v, want %v", emails, want)
	}
	if fetcher.fetched("https://acme.dev/c") {
		t.Fatal("depth 3 page should not be fetched with max depth 2")
	}
}

func TestSessionDomainBudget(t *testing.T) {
	fetcher := newFakeFetcher()
	var links string
	for i := 1; i <= 30; i++ {
		links += fmt.Sprintf(`<a href="/p%d">p%d</a>`, i, i)
		fetcher.addPage(fmt.Sprintf("https://acme.dev/p%d", i),
			fmt.Sprintf(`<html><body>page%d@acme.dev</body></html>`, i))
	}
	fetcher.addPage("https://acme.dev", `<html><body>root@acme.dev`+links+`</body></html>`)

	session := newTestSession(fetcher, testConfig())
	emails, err := session.Run(context.Background(), "https://acme.dev")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := fetcher.fetchCount(); got != 15 {
		t.Fatalf("fetched %d pages, want 15 (domain budget)", got)
	}
	if len(emails) != 15 {
		t.Fatalf("got %d emails, want 15", len(emails))
	}
	if fetcher.fetched("https://acme.dev/p15") {
		t.Fatal("page beyond the domain budget should not be fetched")
	}
}

func TestSessionDeduplicatesPagesAndEmails(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.addPage("https://acme.dev", `<html><body>
		<a href="/a">a</a><a href="/b">b</a>
	</body></html>`)
	fetcher.addPage("https://acme.dev/a", `<html><body>
		shared@acme.dev
		<a href="/shared">s</a>
	</body></html>`)
	fetcher.addPage("https://acme.dev/b", `<html><body>
		shared@acme.dev
		<a href="/shared">s</a>
	</body></html>`)
	fetcher.addPage("https://acme.dev/shared", `<html><body>deep@acme.dev</body></html>`)

	session := newTestSession(fetcher, testConfig())
	emails, err := session.Run(context.Background(), "acme.dev")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []string{"deep@acme.dev", "shared@acme.dev"}
	if !reflect.DeepEqual(emails, want) {
		t.Fatalf("emails = %v, want %v", emails, want)
	}
	if got := fetcher.fetchCount(); got != 4 {
		t.Fatalf("fetched %d pages, want 4 (shared page fetched once)", got)
	}
}

func TestSessionSkipsFailedPages(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.addPage("https://acme.dev", `<html><body>
		<a href="/bad">bad</a><a href="/good">good</a>
	</body></html>`)
	fetcher.addError("https://acme.dev/bad", &FetchError{
		Kind: FailureNetwork, URL: "https://acme.dev/bad", Err: errors.New("connection reset"),
	})
	fetcher.addPage("https://acme.dev/good", `<html><body>ok@acme.dev</body></html>`)

	session := newTestSession(fetcher, testConfig())
	emails, err := session.Run(context.Background(), "acme.dev")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !reflect.DeepEqual(emails, []string{"ok@acme.dev"}) {
		t.Fatalf("emails = %v, want [ok@acme.dev]", emails)
	}
}

func TestSessionIgnoresOffsiteLinks(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.addPage("https://acme.dev", `<html><body>
		<a href="https://other.dev/page">elsewhere</a>
	</body></html>`)
	fetcher.addPage("https://other.dev/page", `<html><body>leak@other.dev</body></html>`)

	session := newTestSession(fetcher, testConfig())
	emails, err := session.Run(context.Background(), "acme.dev")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(emails) != 0 {
		t.Fatalf("emails = %v, want none", emails)
	}
	if fetcher.fetched("https://other.dev/page") {
		t.Fatal("offsite link should not be fetched")
	}
}

func TestSessionRejectsUnusableRoot(t *testing.T) {
	session := newTestSession(newFakeFetcher(), testConfig())
	if _, err := session.Run(context.Background(), "   "); err == nil {
		t.Fatal("expected error for blank root URL")
	}
}

func TestSessionStopsOnCancelledContext(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.addPage("https://acme.dev", `<html><body>root@acme.dev</body></html>`)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	session := newTestSession(fetcher, testConfig())
	_, err := session.Run(ctx, "acme.dev")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
