package snapingest

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/function61/snapshotd/pkg/snapfetch"
	"github.com/function61/snapshotd/pkg/snaplayout"
	"github.com/function61/snapshotd/pkg/snapstore"
)

// installerJobsForComponentArch fetches a component+architecture's
// installer-{arch}/current/images/SHA256SUMS manifest and turns every
// referenced file into an ingestJob (spec §4.5 step 3, gated by
// --skip-installer-files). Sizes are unknown ahead of download --
// SHA256SUMS carries no size column -- so job.size is left 0 and resolved
// from the actual download, mirroring original_source/snapshot.py's
// installer handling, which likewise records size=-1 until the byte count
// is known. A missing manifest (not every architecture ships installer
// images) is not an error, mirroring the original's url_exists() guard.
func installerJobsForComponentArch(ctx context.Context, fetcher *snapfetch.Fetcher, upstreamRoot, archive, timestamp string, plan *releasePlan, component, arch string) ([]*ingestJob, error) {
	if arch == snapstore.ArchSource || arch == snapstore.ArchAll {
		return nil, nil
	}

	dir := path.Join(component, fmt.Sprintf("installer-%s", arch), "current", "images")
	relPath := path.Join(dir, "SHA256SUMS")

	effectiveTimestamp := snaplayout.EffectiveTimestamp(archive, timestamp)
	url := snaplayout.UpstreamURL(upstreamRoot, archive, effectiveTimestamp, path.Join("dists", plan.Suite, relPath))

	result, err := fetcher.Fetch(ctx, url, snapfetch.Options{})
	if err != nil {
		if statusErr, ok := err.(*snapfetch.StatusError); ok && statusErr.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("snapingest: fetching installer manifest %s: %w", relPath, err)
	}

	jobs := []*ingestJob{}

	scanner := bufio.NewScanner(bytes.NewReader(result.Body))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 2 {
			continue
		}

		name := strings.TrimPrefix(fields[1], "./")

		jobs = append(jobs, &ingestJob{
			kind:           snapstore.PackageKindInstaller,
			packageName:    fmt.Sprintf("installer-%s", arch),
			packageVersion: plan.Suite,
			archIfBinary:   arch,
			suite:          plan.Suite,
			component:      component,
			repoPath:       path.Join(dir, name),
			sha256Hex:      fields[0],
		})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("snapingest: reading installer manifest %s: %w", relPath, err)
	}

	return jobs, nil
}
