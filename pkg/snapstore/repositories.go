package snapstore

import (
	"bytes"
	"strings"

	"github.com/function61/snapshotd/pkg/blorm"
)

// StartFromFirst and StopIteration are re-exported so snapstore-importing
// packages never need to import blorm directly, mirroring stodb's own
// re-export in the teacher.
var (
	StartFromFirst = blorm.StartFromFirst
	StopIteration  = blorm.ErrStopIteration
)

var ArchiveRepository = register("Archive", blorm.NewSimpleRepo(
	"archives",
	func() any { return &Archive{} },
	func(record any) []byte { return archiveKey(record.(*Archive).Name) }))

var TimestampRepository = register("Timestamp", blorm.NewSimpleRepo(
	"timestamps",
	func() any { return &Timestamp{} },
	func(record any) []byte { return timestampKey(*record.(*Timestamp)) }))

// TimestampsByArchiveIndex orders every ingested timestamp of an archive
// chronologically (since the YYYYMMDDThhmmssZ form sorts lexicographically
// the same as chronologically), so one prefix scan lists an archive's
// timestamps in order. The coalescer's AdjacentTimestamps walks that whole
// list, so its cost is linear in the archive's timestamp count; it does not
// seek straight to the neighbours. Modeled directly on the teacher's
// CollectionsGlobalVersionIndex, generalized with an (archive, value)
// composite sort key instead of a bare global version number.
var TimestampsByArchiveIndex = blorm.NewRangeIndex("by_archive", TimestampRepository, func(record any, index func(sortKey []byte)) {
	ts := record.(*Timestamp)
	index(timestampKey(*ts))
})

var SuiteRepository = register("Suite", blorm.NewSimpleRepo(
	"suites",
	func() any { return &Suite{} },
	func(record any) []byte { return suiteKey(record.(*Suite).Archive, record.(*Suite).Name) }))

var ComponentRepository = register("Component", blorm.NewSimpleRepo(
	"components",
	func() any { return &Component{} },
	func(record any) []byte {
		c := record.(*Component)
		return componentKey(c.Archive, c.Suite, c.Name)
	}))

var ArchitectureRepository = register("Architecture", blorm.NewSimpleRepo(
	"architectures",
	func() any { return &Architecture{} },
	func(record any) []byte { return []byte(record.(*Architecture).Name) }))

var PackageRepository = register("Package", blorm.NewSimpleRepo(
	"packages",
	func() any { return &Package{} },
	func(record any) []byte {
		p := record.(*Package)
		return packageKey(p.Kind, p.Name, p.Version)
	}))

var FileRepository = register("File", blorm.NewSimpleRepo(
	"files",
	func() any { return &File{} },
	func(record any) []byte { return fileKey(record.(*File).Sha256Hex) }))

var LocationRepository = register("Location", blorm.NewSimpleRepo(
	"locations",
	func() any { return &Location{} },
	func(record any) []byte { return []byte(LocationID(*record.(*Location))) }))

// LocationsByArchiveIndex lets the query layer enumerate every location
// known under an archive (LocationsForArchive), mirroring the
// teacher's CollectionsByDirectoryIndex partitioning pattern.
var LocationsByArchiveIndex = blorm.NewValueIndex("by_archive", LocationRepository, func(record any, index func(partition []byte)) {
	loc := record.(*Location)
	index([]byte(loc.Archive))
})

var ObservationRepository = register("Observation", blorm.NewSimpleRepo(
	"observations",
	func() any { return &Observation{} },
	func(record any) []byte { return observationKey(*record.(*Observation)) }))

// ObservationsByFileIndex lets the query layer (C7) enumerate every
// (location, architecture) pair a file has ever been observed under,
// mirroring original_source/api/snapshot_api.py's file_desc() join against
// FilesLocations by file_sha256.
var ObservationsByFileIndex = blorm.NewValueIndex("by_file", ObservationRepository, func(record any, index func(partition []byte)) {
	o := record.(*Observation)
	index([]byte(o.FileSha256Hex))
})

var TimestampRangeRepository = register("TimestampRange", blorm.NewSimpleRepo(
	"timestampranges",
	func() any { return &TimestampRange{} },
	func(record any) []byte { return timestampRangeKey(*record.(*TimestampRange)) }))

// TimestampRangesByPartitionIndex orders a (file, location, arch)'s ranges
// by Begin, the order the coalescer needs to find the range immediately
// adjacent to a new observation. Same pattern as TimestampsByArchiveIndex.
var TimestampRangesByPartitionIndex = blorm.NewRangeIndex("by_partition", TimestampRangeRepository, func(record any, index func(sortKey []byte)) {
	r := record.(*TimestampRange)
	index([]byte(joinKey(timestampRangePartitionKey(r.FileSha256Hex, r.LocationID, r.ArchitectureIfBinary), r.Begin)))
})

var PackageFileRepository = register("PackageFile", blorm.NewSimpleRepo(
	"packagefiles",
	func() any { return &PackageFile{} },
	func(record any) []byte { return packageFileKey(*record.(*PackageFile)) }))

// PackageFilesByPackageIndex finds every File observed under a given
// package identity, used by the buildinfo solver (C8) to resolve
// (name, version, arch) -> candidate files.
var PackageFilesByPackageIndex = blorm.NewValueIndex("by_package", PackageFileRepository, func(record any, index func(partition []byte)) {
	pf := record.(*PackageFile)
	index([]byte(joinKey(string(pf.PackageKind), pf.PackageName, pf.PackageVersion)))
})

var ProvisionedRepository = register("Provisioned", blorm.NewSimpleRepo(
	"provisioned",
	func() any { return &Provisioned{} },
	func(record any) []byte { return provisionedKey(*record.(*Provisioned)) }))

var configRepository = register("Config", blorm.NewSimpleRepo(
	"config",
	func() any { return &Config{} },
	func(record any) []byte { return []byte(record.(*Config).Key) }))

// hasPrefix reports whether a bbolt key belongs to the given partition
// prefix, the boundary check every prefix-scoped range query needs since
// blorm's RangeIndex has no partitioning of its own (unlike ByValueIndex).
func hasPrefix(key []byte, prefix string) bool {
	return bytes.HasPrefix(key, []byte(prefix+keySep)) || string(key) == prefix
}

func trimPrefix(key []byte, prefix string) string {
	return strings.TrimPrefix(string(key), prefix+keySep)
}

// keyed by record type name; BootstrapRepos creates a bucket for each entry
var RepoByRecordType = map[string]blorm.Repository{}

func register(exportKey string, repo *blorm.SimpleRepository) *blorm.SimpleRepository {
	RepoByRecordType[exportKey] = repo
	return repo
}
