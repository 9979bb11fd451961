package crawler

import "strings"

// Blocklist excludes hosts before any network access. Matching is
// substring-tolerant on the normalized host, so an entry of
// "estatesales.net" also blocks "m.estatesales.net".
type Blocklist struct {
	entries []string
}

// NewBlocklist builds a Blocklist from configured patterns. Entries are
// lowercased, trimmed, and deduplicated; empty input yields a matcher
// that blocks nothing.
func NewBlocklist(patterns []string) *Blocklist {
	matcher := &Blocklist{}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		if value == "" {
			continue
		}
		matcher.add(value)
	}
	return matcher
}

func (b *Blocklist) add(entry string) {
	for _, existing := range b.entries {
		if existing == entry {
			return
		}
	}
	b.entries = append(b.entries, entry)
}

// IsBlocked reports whether the host matches any entry. The host is
// normalized with HostKey before comparison.
func (b *Blocklist) IsBlocked(host string) bool {
	if b == nil || len(b.entries) == 0 {
		return false
	}
	key := HostKey(host)
	if key == "" {
		return false
	}
	for _, entry := range b.entries {
		if strings.Contains(key, entry) {
			return true
		}
	}
	return false
}
