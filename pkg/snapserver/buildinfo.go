package snapserver

import (
	"fmt"
	"io"

	"go.etcd.io/bbolt"

	"github.com/function61/snapshotd/pkg/snapindex"
	"github.com/function61/snapshotd/pkg/snapserver/snapsolve"
	"github.com/function61/snapshotd/pkg/snapstore"
)

// locationKey renders the composite location identity snapsolve groups
// results by, the Go analogue of original_source's
// f"{archive_name}:{suite_name}:{component_name}:{arch}".
func locationKey(loc snapstore.Location, arch string) string {
	return fmt.Sprintf("%s:%s:%s:%s", loc.Archive, loc.Suite, loc.Component, arch)
}

// requiredPackagesFromBuildinfo extracts the (name, version, architecture)
// triples a buildinfo's Installed-Build-Depends names, defaulting an
// unqualified entry's architecture to the buildinfo's own host architecture
// and mapping ":all" to "all" (spec §4.8).
func requiredPackagesFromBuildinfo(bi *snapindex.Buildinfo) []snapsolve.RequiredPackage {
	out := make([]snapsolve.RequiredPackage, 0, len(bi.InstalledBuildDepends))

	for _, dep := range bi.InstalledBuildDepends {
		arch := dep.ArchQualifier
		if arch == "" {
			arch = bi.Architecture
		}

		out = append(out, snapsolve.RequiredPackage{Name: dep.Name, Version: dep.Version, Arch: arch})
	}

	return out
}

// solveBuildinfo implements spec §4.8 end to end: resolve every required
// package's candidate locations, expand their TimestampRanges into discrete
// archive timestamps, and run the greedy cover.
//
// Candidate locations for a required package are discovered from every
// PackageFile known under (binary, name, version), regardless of
// architecture -- mirroring original_source/api/snapshot_api.py's
// upload_buildinfo, which joins FilesLocations by (name, version) first and
// only checks architecture afterward. This is why a location can appear in
// the result with a required package listed under Missing: the location
// was discovered via the package's existence there under some other
// architecture (commonly "all"), but no observation at the exact requested
// architecture was found.
func solveBuildinfo(tx *bbolt.Tx, suiteFilter string, required []snapsolve.RequiredPackage) ([]snapsolve.LocationResult, error) {
	q := snapstore.Read(tx)

	byLocation := map[string][]snapsolve.Observation{}
	timestampsByArchive := map[string][]string{}

	for _, req := range required {
		files, err := q.FilesForPackage(snapstore.PackageKindBinary, req.Name, req.Version)
		if err != nil {
			return nil, err
		}

		for _, pf := range files {
			if pf.ArchitectureIfBinary != req.Arch {
				// still a candidate location (see doc comment above); it
				// just contributes no Observations for this package.
				locs, err := q.LocationsForFile(pf.FileSha256Hex)
				if err != nil {
					return nil, err
				}
				for _, li := range locs {
					if li.ArchIfBinary != pf.ArchitectureIfBinary {
						continue
					}
					if suiteFilter != "" && li.Location.Suite != suiteFilter {
						continue
					}
					key := locationKey(li.Location, req.Arch)
					if _, exists := byLocation[key]; !exists {
						byLocation[key] = []snapsolve.Observation{}
					}
				}
				continue
			}

			locs, err := q.LocationsForFile(pf.FileSha256Hex)
			if err != nil {
				return nil, err
			}

			for _, li := range locs {
				if li.ArchIfBinary != req.Arch {
					continue
				}
				if suiteFilter != "" && li.Location.Suite != suiteFilter {
					continue
				}

				archiveTimestamps, ok := timestampsByArchive[li.Location.Archive]
				if !ok {
					all, err := q.TimestampsForArchive(li.Location.Archive)
					if err != nil {
						return nil, err
					}
					archiveTimestamps = make([]string, len(all))
					for i, ts := range all {
						archiveTimestamps[i] = ts.Value
					}
					timestampsByArchive[li.Location.Archive] = archiveTimestamps
				}

				key := locationKey(li.Location, req.Arch)

				for _, r := range li.TimestampRanges {
					for _, ts := range snapstore.ExpandTimestampRange(archiveTimestamps, r) {
						byLocation[key] = append(byLocation[key], snapsolve.Observation{Package: req, Timestamp: ts})
					}
				}
			}
		}
	}

	return snapsolve.Solve(required, byLocation), nil
}

// parseBuildinfoFromMultipart reads the "buildinfo" form field of a
// multipart upload (spec §4.8: "Input: a buildinfo file (multipart upload,
// field name buildinfo)").
func parseBuildinfoFromMultipart(r io.Reader) (*snapindex.Buildinfo, error) {
	return snapindex.ParseBuildinfo(r)
}
