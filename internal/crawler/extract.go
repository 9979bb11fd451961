package crawler

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// emailPattern matches email-shaped strings in raw page text. Extraction
// is deliberately not DOM-aware; addresses inside scripts or attributes
// count, and the noise filters below weed out the false positives that
// approach produces.
var emailPattern = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)

// EmailExtractor scans page bodies for contact addresses, rejecting noise
// matches (asset filenames, tracking SDKs, placeholder domains) and known
// non-contact mailbox patterns.
type EmailExtractor struct {
	noise   []string
	invalid []string
}

// NewEmailExtractor builds an extractor from the configured noise
// substrings and invalid local-part patterns. Both lists are matched as
// substrings of the lowercased address.
func NewEmailExtractor(noise, invalidLocalParts []string) *EmailExtractor {
	return &EmailExtractor{
		noise:   lowerAll(noise),
		invalid: lowerAll(invalidLocalParts),
	}
}

// Extract returns the addresses found in body, in document order, with
// exact duplicates collapsed.
func (e *EmailExtractor) Extract(body []byte) []string {
	matches := emailPattern.FindAll(body, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	var out []string
	for _, m := range matches {
		addr := string(m)
		if e.rejected(strings.ToLower(addr)) {
			continue
		}
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	return out
}

func (e *EmailExtractor) rejected(lowered string) bool {
	for _, pattern := range e.noise {
		if strings.Contains(lowered, pattern) {
			return true
		}
	}
	for _, pattern := range e.invalid {
		if strings.Contains(lowered, pattern) {
			return true
		}
	}
	return false
}

func lowerAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(strings.ToLower(v))
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// ExtractLinks returns the anchor targets discovered in body that belong
// to site, resolved against base and normalized. Scoping against the
// session's site rather than base keeps a cross-site redirect from
// widening the crawl. Non-http(s) schemes, fragments, off-site hosts, and
// paths ending in a skippable extension are dropped.
func ExtractLinks(body []byte, base *url.URL, site string, skipExtensions []string) []string {
	if base == nil || site == "" {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}
	seen := make(map[string]struct{})
	var out []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		resolved := base.ResolveReference(ref)
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return
		}
		if SiteKey(resolved) != site {
			return
		}
		if skippableExtension(resolved, skipExtensions) {
			return
		}
		resolved.Fragment = ""
		normalized, err := NormalizeURL(resolved.String())
		if err != nil {
			return
		}
		if _, dup := seen[normalized]; dup {
			return
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	})
	return out
}
