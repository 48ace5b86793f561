package snapingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/function61/snapshotd/pkg/snapfetch"
)

// metasnapBaseURL is the well-known endpoint original_source/lib/timestamps.py
// queries for an archive's full timestamp history.
const metasnapBaseURL = "https://metasnap.debian.net/cgi-bin/api?timestamps="

// metasnapTimestampLister fetches the authoritative timestamp list from
// metasnap.debian.net, grounded on original_source/lib/timestamps.py's
// get_timestamps_from_metasnap.
type metasnapTimestampLister struct {
	fetcher *snapfetch.Fetcher
}

func NewMetasnapTimestampLister(fetcher *snapfetch.Fetcher) *metasnapTimestampLister {
	return &metasnapTimestampLister{fetcher: fetcher}
}

func (m *metasnapTimestampLister) ListTimestamps(ctx context.Context, archive string) ([]string, error) {
	result, err := m.fetcher.Fetch(ctx, metasnapBaseURL+archive, snapfetch.Options{})
	if err != nil {
		return nil, fmt.Errorf("snapingest: metasnap lookup for %s: %w", archive, err)
	}

	return ParseTimestampListBody(string(result.Body)), nil
}

// localFileTimestampLister reads a cached "by-timestamp/{archive}.txt" file
// from an already-populated snapshot root, grounded on
// original_source/lib/timestamps.py's get_timestamps_from_file.
type localFileTimestampLister struct {
	root string
}

func NewLocalFileTimestampLister(root string) *localFileTimestampLister {
	return &localFileTimestampLister{root: root}
}

func (l *localFileTimestampLister) ListTimestamps(ctx context.Context, archive string) ([]string, error) {
	body, err := os.ReadFile(filepath.Join(l.root, "by-timestamp", archive+".txt"))
	if err != nil {
		return nil, err
	}

	return ParseTimestampListBody(string(body)), nil
}

// fallbackTimestampLister tries primary first, falling back to secondary
// when primary fails (e.g. metasnap is down, or the archive isn't one it
// tracks), mirroring the two top-level helpers original_source/lib/timestamps.py
// exposes without favoring either unconditionally.
type fallbackTimestampLister struct {
	primary, secondary TimestampLister
}

func NewFallbackTimestampLister(primary, secondary TimestampLister) *fallbackTimestampLister {
	return &fallbackTimestampLister{primary: primary, secondary: secondary}
}

func (f *fallbackTimestampLister) ListTimestamps(ctx context.Context, archive string) ([]string, error) {
	timestamps, err := f.primary.ListTimestamps(ctx, archive)
	if err == nil && len(timestamps) > 0 {
		return timestamps, nil
	}

	return f.secondary.ListTimestamps(ctx, archive)
}

// TimestampLister discovers every timestamp upstream knows for an archive.
// Grounded on original_source/lib/timestamps.py's
// get_timestamps_from_metasnap, which hits a well-known text endpoint
// returning one timestamp per line.
type TimestampLister interface {
	ListTimestamps(ctx context.Context, archive string) ([]string, error)
}

// cachedTimestampLister fetches the full list once per run and caches it,
// per spec §4.5 step 1 ("The full list is fetched once per run and cached").
type cachedTimestampLister struct {
	inner TimestampLister

	mu    sync.Mutex
	cache map[string][]string
}

func NewCachedTimestampLister(inner TimestampLister) *cachedTimestampLister {
	return &cachedTimestampLister{inner: inner, cache: map[string][]string{}}
}

func (c *cachedTimestampLister) ListTimestamps(ctx context.Context, archive string) ([]string, error) {
	c.mu.Lock()
	if cached, ok := c.cache[archive]; ok {
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	timestamps, err := c.inner.ListTimestamps(ctx, archive)
	if err != nil {
		return nil, err
	}

	sorted := append([]string(nil), timestamps...)
	sort.Strings(sorted)

	c.mu.Lock()
	c.cache[archive] = sorted
	c.mu.Unlock()

	return sorted, nil
}

// ParseTimestampListBody splits a metasnap-style response body (one
// timestamp per line, possibly with a trailing blank line) into a
// deduplicated slice.
func ParseTimestampListBody(body string) []string {
	lines := strings.Split(strings.TrimRight(body, "\n"), "\n")

	seen := map[string]bool{}
	out := make([]string, 0, len(lines))

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || seen[line] {
			continue
		}
		seen[line] = true
		out = append(out, line)
	}

	sort.Strings(out)

	return out
}

// FilterByRange returns the subset of timestamps within sel's range (or all
// of them, if sel is nil), per spec §4.5 step 1.
func FilterByRange(timestamps []string, sel *TimestampRangeSelector) []string {
	out := make([]string, 0, len(timestamps))

	for _, t := range timestamps {
		if sel.includes(t) {
			out = append(out, t)
		}
	}

	return out
}
