// Package snapstore is the provenance store (spec §4.6): a normalized
// record model persisted in an embedded bbolt database via pkg/blorm, plus
// the timestamp-range coalescer that is the one non-trivial operation on
// top of it.
package snapstore

// Archive is an administrative namespace such as "debian" or
// "qubes-r4.1-vm", created on first ingestion.
type Archive struct {
	Name string
}

// Timestamp is one UTC instant (YYYYMMDDThhmmssZ) successfully ingested for
// an archive. The sentinel "99990101T000000Z" denotes a non-temporal
// "multi-version" archive (spec §3).
type Timestamp struct {
	Archive string
	Value   string
}

// SentinelTimestamp is the fixed non-temporal timestamp value used by
// multi-version archives such as QubesOS (spec §3, §9). An archive's
// Timestamp rows are either all this sentinel or all real instants, never
// a mix.
const SentinelTimestamp = "99990101T000000Z"

// Suite is e.g. "unstable" or "bullseye", unique per archive.
type Suite struct {
	Archive string
	Name    string
}

// Component is e.g. "main" or "contrib", unique per (archive, suite).
type Component struct {
	Archive string
	Suite   string
	Name    string
}

// Architecture is a pseudo- or real Debian architecture name. "source"
// means source packages, "all" means arch-independent binaries.
type Architecture struct {
	Name string
}

const (
	ArchSource = "source"
	ArchAll    = "all"
)

// PackageKind distinguishes source from binary packages. PackageKindInstaller
// covers debian-installer images, which have no (name, version) of their
// own in the usual sense: Name is "installer-{arch}" and Version is the
// suite they were fetched under.
type PackageKind string

const (
	PackageKindSource    PackageKind = "source"
	PackageKindBinary    PackageKind = "binary"
	PackageKindInstaller PackageKind = "installer"
)

// Package identity is the (kind, name, version) triple.
type Package struct {
	Kind    PackageKind
	Name    string
	Version string
}

// File is identified by its sha256; size must be consistent across every
// observation of the same sha256 (spec §3 invariant 1).
type File struct {
	Sha256Hex string
	Size      uint64
}

// Location is the logical position at which a File can be observed: (path,
// name) reconstructs the repo-relative URL.
type Location struct {
	Archive   string
	Suite     string
	Component string
	Path      string // pool-relative directory
	Name      string // filename
}

// Observation records that a file was present at a location at a timestamp,
// append-only (spec §3). ArchitectureIfBinary is empty for source files.
type Observation struct {
	FileSha256Hex        string
	LocationID           string
	ArchitectureIfBinary string
	Timestamp            string
}

// TimestampRange is a coalesced, closed interval [Begin, End] of the
// archive's own ingested-timestamp sequence during which a (file, location,
// arch) tuple was continuously observed (spec §3, §4.6).
type TimestampRange struct {
	FileSha256Hex        string
	LocationID           string
	ArchitectureIfBinary string
	Begin                string
	End                  string
}

// PackageFile is the Package<->File derived projection (spec §3).
type PackageFile struct {
	PackageKind          PackageKind
	PackageName          string
	PackageVersion       string
	FileSha256Hex        string
	ArchitectureIfBinary string
}

// Provisioned marks an (archive, timestamp, suite, component, arch) tuple as
// fully ingested, per spec §4.5 step 7. The ingestion pipeline writes these
// rows but never reads them; its skip check and --ignore-provisioned work
// on Observation rows instead.
type Provisioned struct {
	Archive      string
	Timestamp    string
	Suite        string
	Component    string
	Architecture string
}

// Config is a single opaque key/value row, mirroring the teacher's own
// Config record. No code in this module reads or writes Config rows; the
// schema version is kept separately in the _meta bucket (schemaversion.go).
type Config struct {
	Key   string
	Value string
}

// LocationID derives the Location's primary key, shared by writers and
// Observation/TimestampRange rows that reference a Location by id.
func LocationID(l Location) string {
	return joinKey(l.Archive, l.Suite, l.Component, l.Path, l.Name)
}
