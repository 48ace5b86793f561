package snapingest

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/function61/snapshotd/pkg/snapfetch"
	"github.com/function61/snapshotd/pkg/snaphash"
	"github.com/function61/snapshotd/pkg/snapindex"
	"github.com/function61/snapshotd/pkg/snaplayout"
	"github.com/function61/snapshotd/pkg/snapstore"
)

// indexFilePreference lists the compressed variants of an index file in
// the order we prefer to fetch them: smallest transfer first.
var indexFilePreference = []string{".xz", ".gz", ""}

// selectBestChecksum finds the preferred available compressed variant of
// baseName (e.g. "Packages") among release's checksum entries under
// dir (suite-relative, e.g. "main/binary-amd64").
func selectBestChecksum(entries []snapindex.ChecksumEntry, dir, baseName string) (*snapindex.ChecksumEntry, string, bool) {
	for _, suffix := range indexFilePreference {
		want := path.Join(dir, baseName+suffix)
		for i := range entries {
			if entries[i].Path == want {
				return &entries[i], want, true
			}
		}
	}
	return nil, "", false
}

// fetchIndex retrieves and decompresses one dists/ index file. relPath is
// suite-relative, e.g. "main/binary-amd64/Packages.xz". checksum is the
// Release-advertised sha256/size for relPath (spec §4.5 step 3: "fetch and
// verify the compressed Packages or Sources index against the sha256
// advertised by Release"); the fetcher aborts with a MismatchError if the
// downloaded bytes don't agree.
func fetchIndex(ctx context.Context, fetcher *snapfetch.Fetcher, upstreamRoot, archive, timestamp, suite, relPath string, checksum *snapindex.ChecksumEntry) ([]byte, error) {
	effectiveTimestamp := snaplayout.EffectiveTimestamp(archive, timestamp)
	url := snaplayout.UpstreamURL(upstreamRoot, archive, effectiveTimestamp, path.Join("dists", suite, relPath))

	expectedSum, err := snaphash.ParseHex(checksum.Sha256)
	if err != nil {
		return nil, fmt.Errorf("snapingest: index %s: %w", relPath, err)
	}
	expectedSize := checksum.Size

	result, err := fetcher.Fetch(ctx, url, snapfetch.Options{
		Cacheable:      true,
		ExpectedSha256: &expectedSum,
		ExpectedSize:   &expectedSize,
	})
	if err != nil {
		return nil, fmt.Errorf("snapingest: fetching index %s: %w", relPath, err)
	}

	decompressed, err := snapindex.Decompress(relPath, bytes.NewReader(result.Body))
	if err != nil {
		return nil, fmt.Errorf("snapingest: decompressing index %s: %w", relPath, err)
	}

	buf := &bytes.Buffer{}
	if _, err := buf.ReadFrom(decompressed); err != nil {
		return nil, fmt.Errorf("snapingest: decompressing index %s: %w", relPath, err)
	}

	return buf.Bytes(), nil
}

// jobsForComponentArch fetches and parses one component+architecture's
// Packages index and turns every record into an ingestJob (spec §4.5 steps
// 3-4). Parse-level errors on individual paragraphs are reported via
// onError and otherwise skipped, not fatal to the whole run.
func jobsForComponentArch(ctx context.Context, fetcher *snapfetch.Fetcher, upstreamRoot, archive, timestamp string, plan *releasePlan, component, arch string, onError func(error)) ([]*ingestJob, error) {
	dir := path.Join(component, "binary-"+arch)

	checksum, relPath, ok := selectBestChecksum(plan.Release.Sha256, dir, "Packages")
	if !ok {
		return nil, fmt.Errorf("snapingest: no Packages index for %s/%s/binary-%s", plan.Suite, component, arch)
	}

	body, err := fetchIndex(ctx, fetcher, upstreamRoot, archive, timestamp, plan.Suite, relPath, checksum)
	if err != nil {
		return nil, err
	}

	next := snapindex.PackagesView(bytes.NewReader(body), onError)

	jobs := []*ingestJob{}

	for {
		record, ok := next()
		if !ok {
			break
		}

		jobs = append(jobs, &ingestJob{
			kind:           snapstore.PackageKindBinary,
			packageName:    record.Package,
			packageVersion: record.Version,
			archIfBinary:   arch,
			suite:          plan.Suite,
			component:      component,
			repoPath:       record.Filename,
			sha256Hex:      record.Sha256,
			size:           record.Size,
		})
	}

	return jobs, nil
}

// jobsForComponentSources is jobsForComponentArch's Sources-file
// counterpart: a Sources paragraph lists several files (the .dsc, the
// orig/debian tarballs), each becoming its own ingestJob.
func jobsForComponentSources(ctx context.Context, fetcher *snapfetch.Fetcher, upstreamRoot, archive, timestamp string, plan *releasePlan, component string, onError func(error)) ([]*ingestJob, error) {
	dir := path.Join(component, "source")

	checksum, relPath, ok := selectBestChecksum(plan.Release.Sha256, dir, "Sources")
	if !ok {
		return nil, fmt.Errorf("snapingest: no Sources index for %s/%s", plan.Suite, component)
	}

	body, err := fetchIndex(ctx, fetcher, upstreamRoot, archive, timestamp, plan.Suite, relPath, checksum)
	if err != nil {
		return nil, err
	}

	next := snapindex.SourcesView(bytes.NewReader(body), onError)

	jobs := []*ingestJob{}

	for {
		record, ok := next()
		if !ok {
			break
		}

		for _, checksum := range record.Checksums {
			jobs = append(jobs, &ingestJob{
				kind:           snapstore.PackageKindSource,
				packageName:    record.Package,
				packageVersion: record.Version,
				suite:          plan.Suite,
				component:      component,
				repoPath:       path.Join(record.Directory, path.Base(checksum.Path)),
				sha256Hex:      checksum.Sha256,
				size:           checksum.Size,
			})
		}
	}

	return jobs, nil
}
