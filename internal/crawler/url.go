package crawler

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"path"
	"strings"
)

// NormalizeURL standardizes a URL so the visited set treats equivalent
// spellings as one entry. It lowercases the scheme and host, removes
// default ports and fragments, and sorts query parameters.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""

	q := u.Query()
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// CanonicalTarget prepares a website cell for crawling: trims whitespace
// and prefixes https:// when the scheme is missing. Returns the canonical
// string form and the parsed URL.
func CanonicalTarget(raw string) (string, *url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", nil, errors.New("empty url")
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "https://" + trimmed
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", nil, fmt.Errorf("parse url: %w", err)
	}
	if parsed.Hostname() == "" {
		return "", nil, fmt.Errorf("url %q has no host", raw)
	}
	return parsed.String(), parsed, nil
}

// HostKey reduces a host to the comparison form used by the blocklist and
// the same-site rule: lowercased, port and leading www. removed.
func HostKey(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.TrimPrefix(host, "www.")
}

// SiteKey returns the HostKey of a parsed URL's hostname.
func SiteKey(u *url.URL) string {
	if u == nil {
		return ""
	}
	return HostKey(u.Hostname())
}

// skippableExtension reports whether the URL path ends in one of the
// configured binary or media extensions the crawler never downloads.
func skippableExtension(u *url.URL, skip []string) bool {
	ext := strings.ToLower(path.Ext(u.Path))
	if ext == "" {
		return false
	}
	for _, s := range skip {
		if ext == s {
			return true
		}
	}
	return false
}
