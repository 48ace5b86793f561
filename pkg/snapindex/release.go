package snapindex

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

// ChecksumEntry is one (sha256, size, relative-path) triple referenced by a
// Release file's SHA256 block, or a Sources paragraph's Checksums-Sha256
// block.
type ChecksumEntry struct {
	Sha256 string
	Size   uint64
	Path   string
}

// Release is the typed view of a Release file's single paragraph (spec §4.3).
type Release struct {
	Suite        string
	Codename     string
	Components   []string
	Architectures []string
	Sha256       []ChecksumEntry
}

// ParseRelease reads exactly one paragraph from r (a Release file has only
// one) and extracts the fields this spec cares about. A missing required
// field is fatal, per spec §4.3 ("failures of the top-level Release are
// fatal for that (archive, timestamp)").
func ParseRelease(r io.Reader) (*Release, error) {
	scanner := NewScanner(r)

	para, err := scanner.Next()
	if err != nil {
		return nil, fmt.Errorf("snapindex: reading Release paragraph: %w", err)
	}

	suite, err := para.MustGet("Suite")
	if err != nil {
		return nil, err
	}

	codename, _ := para.Get("Codename")

	componentsRaw, err := para.MustGet("Components")
	if err != nil {
		return nil, err
	}

	archsRaw, err := para.MustGet("Architectures")
	if err != nil {
		return nil, err
	}

	sha256Raw, _ := para.Get("SHA256")

	entries, err := parseChecksumBlock(sha256Raw)
	if err != nil {
		return nil, err
	}

	return &Release{
		Suite:         suite,
		Codename:      codename,
		Components:    splitFields(componentsRaw),
		Architectures: splitFields(archsRaw),
		Sha256:        entries,
	}, nil
}

func splitFields(s string) []string {
	return lo.Filter(strings.Fields(s), func(f string, _ int) bool { return f != "" })
}

// parseChecksumBlock parses a multi-line "sha256 size path" checksum block,
// the format shared by Release's SHA256 field and Sources'
// Checksums-Sha256 field.
func parseChecksumBlock(raw string) ([]ChecksumEntry, error) {
	lines := lo.Filter(strings.Split(raw, "\n"), func(l string, _ int) bool {
		return strings.TrimSpace(l) != ""
	})

	entries := make([]ChecksumEntry, 0, len(lines))

	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) != 3 {
			return nil, &ParseError{Field: "SHA256", Reason: fmt.Sprintf("malformed checksum line %q", line)}
		}

		size, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return nil, &ParseError{Field: "SHA256", Reason: fmt.Sprintf("bad size in %q: %v", line, err)}
		}

		entries = append(entries, ChecksumEntry{Sha256: fields[0], Size: size, Path: fields[2]})
	}

	return entries, nil
}
