package crawler

import (
	"net/url"
	"testing"
)

func TestNormalizeURL(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"HTTP://Example.COM:80/path#frag", "http://example.com/path"},
		{"https://example.com:443/", "https://example.com/"},
		{"https://example.com/a?b=2&a=1", "https://example.com/a?a=1&b=2"},
		{"https://example.com/a", "https://example.com/a"},
	}
	for _, tc := range cases {
		got, err := NormalizeURL(tc.in)
		if err != nil {
			t.Fatalf("NormalizeURL(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("NormalizeURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestCanonicalTarget(t *testing.T) {
	got, parsed, err := CanonicalTarget("  acme.example/contact ")
	if err != nil {
		t.Fatalf("CanonicalTarget: %v", err)
	}
	if got != "https://acme.example/contact" {
		t.Fatalf("canonical = %q", got)
	}
	if parsed.Hostname() != "acme.example" {
		t.Fatalf("hostname = %q", parsed.Hostname())
	}

	if _, _, err := CanonicalTarget("   "); err == nil {
		t.Fatal("expected error for blank input")
	}
	if _, _, err := CanonicalTarget("https://"); err == nil {
		t.Fatal("expected error for URL without host")
	}
}

func TestHostKey(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"WWW.Example.COM", "example.com"},
		{"example.com:8080", "example.com"},
		{"m.example.com", "m.example.com"},
		{" www.example.com ", "example.com"},
	}
	for _, tc := range cases {
		if got := HostKey(tc.in); got != tc.want {
			t.Fatalf("HostKey(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSkippableExtension(t *testing.T) {
	skip := []string{".jpg", ".pdf"}
	u, _ := url.Parse("https://example.com/brochure.PDF")
	if !skippableExtension(u, skip) {
		t.Fatal("expected uppercase extension to match")
	}
	u, _ = url.Parse("https://example.com/contact")
	if skippableExtension(u, skip) {
		t.Fatal("extensionless path should not match")
	}
}
