package snapingest

import (
	"bytes"
	"context"
	"fmt"

	"github.com/function61/snapshotd/pkg/snapfetch"
	"github.com/function61/snapshotd/pkg/snapindex"
	"github.com/function61/snapshotd/pkg/snaplayout"
	"github.com/function61/snapshotd/pkg/snapstore"
)

// releasePlan is what spec §4.5 step 2 produces: the suite's Release file,
// parsed, narrowed down to the suites/components/architectures the
// Selection actually asked for.
type releasePlan struct {
	Release       *snapindex.Release
	Suite         string
	Components    []string
	Architectures []string
}

// fetchRelease retrieves and parses a suite's Release file, then narrows
// its advertised components/architectures against sel (spec §4.5 step 2:
// "the Release file is the source of truth for what components and
// architectures exist"; an explicitly selected value absent from Release
// is an error, not a silent skip).
func fetchRelease(ctx context.Context, fetcher *snapfetch.Fetcher, upstreamRoot, archive, timestamp, suite string, sel Selection) (*releasePlan, error) {
	effectiveTimestamp := snaplayout.EffectiveTimestamp(archive, timestamp)
	repoPath := snaplayout.ReleasePath(suite)
	url := snaplayout.UpstreamURL(upstreamRoot, archive, effectiveTimestamp, repoPath)

	result, err := fetcher.Fetch(ctx, url, snapfetch.Options{Cacheable: true})
	if err != nil {
		return nil, fmt.Errorf("snapingest: fetching Release for %s/%s@%s: %w", archive, suite, timestamp, err)
	}

	release, err := snapindex.ParseRelease(bytes.NewReader(result.Body))
	if err != nil {
		return nil, fmt.Errorf("snapingest: parsing Release for %s/%s@%s: %w", archive, suite, timestamp, err)
	}

	components, err := narrow("component", release.Components, sel.Components)
	if err != nil {
		return nil, err
	}

	// "source" is not a Release-advertised architecture (it names a
	// separate axis, the suite's Sources files); it is stripped here and
	// handled by the caller via collectJobs' own wantSource check.
	binaryArchesWanted := make([]string, 0, len(sel.Architectures))
	for _, a := range sel.Architectures {
		if a != snapstore.ArchSource {
			binaryArchesWanted = append(binaryArchesWanted, a)
		}
	}

	architectures, err := narrow("architecture", release.Architectures, binaryArchesWanted)
	if err != nil {
		return nil, err
	}

	return &releasePlan{
		Release:       release,
		Suite:         suite,
		Components:    components,
		Architectures: architectures,
	}, nil
}

// narrow returns available filtered down to wanted, erroring if wanted
// names something available doesn't advertise. An empty wanted means
// "everything available".
func narrow(kind string, available, wanted []string) ([]string, error) {
	if len(wanted) == 0 {
		return available, nil
	}

	have := map[string]bool{}
	for _, a := range available {
		have[a] = true
	}

	out := make([]string, 0, len(wanted))
	for _, w := range wanted {
		if !have[w] {
			return nil, fmt.Errorf("snapingest: requested %s %q not advertised by Release", kind, w)
		}
		out = append(out, w)
	}

	return out, nil
}
