// Package snaplayout computes the deterministic bijection between logical
// (archive, timestamp, repo-relative path) coordinates and upstream URLs /
// on-disk paths, per spec §4.4. Every function here is pure.
package snaplayout

import (
	"fmt"
	"path"
)

// QubesOSArchive is the one archive known to use a flat, sentinel-timestamp
// layout instead of the normal dists/{suite} hierarchy.
const QubesOSArchive = "qubes-mirror"

// QubesOSSentinelTimestamp is the fixed timestamp QubesOS snapshots are
// filed under, since upstream does not publish a dated history for it.
const QubesOSSentinelTimestamp = "99990101T000000Z"

// IsQubesOS reports whether archive uses the flat sentinel-timestamp layout.
func IsQubesOS(archive string) bool {
	return archive == QubesOSArchive
}

// UpstreamURL returns the upstream URL for repoPath (an archive-relative
// path like "dists/bullseye/main/binary-amd64/Packages.xz" or
// "pool/main/h/hello/hello_2.10-3_amd64.deb") inside archive at timestamp.
func UpstreamURL(upstreamRoot, archive, timestamp, repoPath string) string {
	return fmt.Sprintf("%s/archive/%s/%s/%s", upstreamRoot, archive, timestamp, repoPath)
}

// MetadataPath returns the on-disk path for a metadata file (Release,
// Packages, Sources, and their compressed variants): this one is never
// shared across timestamps, since metadata addresses are, by definition,
// not content-addressed.
func MetadataPath(root, archive, timestamp, repoPath string) string {
	return path.Join(root, "archive", archive, timestamp, repoPath)
}

// LogicalPoolPath returns the timestamped on-disk path a pool file appears
// at (what a client requesting this snapshot sees): a hardlink into
// PhysicalPoolPath.
func LogicalPoolPath(root, archive, timestamp, repoPath string) string {
	return path.Join(root, "archive", archive, timestamp, repoPath)
}

// PhysicalPoolPath returns the single by-hash location a pool file's bytes
// are actually stored at, shared by every (archive, timestamp) that
// observed the same sha256, per spec §4.4.
func PhysicalPoolPath(root, sha256Hex string) (string, error) {
	if len(sha256Hex) < 2 {
		return "", fmt.Errorf("snaplayout: sha256 too short: %q", sha256Hex)
	}

	return path.Join(root, "by-hash", sha256Hex[0:2], sha256Hex), nil
}

// DistsPath builds the archive-relative repo path of a per-suite,
// per-component, per-architecture index file under dists/, e.g.
// "dists/bullseye/main/binary-amd64/Packages.xz". Non-Qubes archives only.
func DistsPath(suite, component, arch, filename string) string {
	return path.Join("dists", suite, component, "binary-"+arch, filename)
}

// DistsSourcesPath builds the archive-relative repo path of a component's
// Sources index.
func DistsSourcesPath(suite, component, filename string) string {
	return path.Join("dists", suite, component, "source", filename)
}

// ReleasePath builds the archive-relative repo path of a suite's Release
// file.
func ReleasePath(suite string) string {
	return path.Join("dists", suite, "Release")
}

// PoolPath builds the archive-relative repo path of a binary or source pool
// file, e.g. "pool/main/h/hello/hello_2.10-3_amd64.deb". prefix is the
// first letter of sourceName, except for "lib*" packages which use the
// first 4 characters (Debian's own pool convention).
func PoolPath(component, sourceName, filename string) string {
	return path.Join("pool", component, PoolPrefix(sourceName), sourceName, filename)
}

// PoolPrefix implements Debian's pool directory prefix convention: "libc6"
// groups under "libc", everything else groups under its first letter.
func PoolPrefix(sourceName string) string {
	if len(sourceName) >= 4 && sourceName[0:3] == "lib" {
		return sourceName[0:4]
	}
	if len(sourceName) == 0 {
		return "_"
	}
	return sourceName[0:1]
}

// EffectiveTimestamp returns the timestamp to use on disk for archive: the
// QubesOS sentinel for that one archive, otherwise the requested timestamp
// unchanged.
func EffectiveTimestamp(archive, requestedTimestamp string) string {
	if IsQubesOS(archive) {
		return QubesOSSentinelTimestamp
	}
	return requestedTimestamp
}
