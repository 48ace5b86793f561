package snapstore

import (
	"github.com/function61/snapshotd/pkg/blorm"
	"go.etcd.io/bbolt"
)

// dbQueries is the read-side accessor, mirroring the teacher's stodb.Read(tx)
// pattern: every query takes the already-open transaction it runs inside.
type dbQueries struct {
	tx *bbolt.Tx
}

func Read(tx *bbolt.Tx) *dbQueries {
	return &dbQueries{tx}
}

func (d *dbQueries) Archive(name string) (*Archive, error) {
	record := &Archive{}
	if err := ArchiveRepository.OpenByPrimaryKey(archiveKey(name), record, d.tx); err != nil {
		return nil, err
	}
	return record, nil
}

func (d *dbQueries) Timestamp(archive, value string) (*Timestamp, error) {
	record := &Timestamp{}
	if err := TimestampRepository.OpenByPrimaryKey(timestampKey(Timestamp{Archive: archive, Value: value}), record, d.tx); err != nil {
		return nil, err
	}
	return record, nil
}

// TimestampsForArchive returns every ingested timestamp of archive, in
// chronological order.
func (d *dbQueries) TimestampsForArchive(archive string) ([]Timestamp, error) {
	out := []Timestamp{}

	err := TimestampsByArchiveIndex.Query(archiveKey(archive), func(sortKey []byte, id []byte) error {
		if !hasPrefix(sortKey, archive) {
			return StopIteration
		}

		ts, err := d.Timestamp(archive, trimPrefix(sortKey, archive))
		if err != nil {
			return err
		}

		out = append(out, *ts)
		return nil
	}, d.tx)

	return out, err
}

// AdjacentTimestamps returns the archive's own ingested timestamp
// immediately before (prev) and immediately after (next) value, per spec
// §4.6 ("T_prev and T_next ... among all ingested-for-A timestamps").
// Either may be the empty string if there is no such neighbor.
func (d *dbQueries) AdjacentTimestamps(archive, value string) (prev, next string, err error) {
	all, err := d.TimestampsForArchive(archive)
	if err != nil {
		return "", "", err
	}

	for i, ts := range all {
		if ts.Value == value {
			if i > 0 {
				prev = all[i-1].Value
			}
			if i+1 < len(all) {
				next = all[i+1].Value
			}
			return prev, next, nil
		}
	}

	// value itself not yet ingested: the ingestion pipeline records
	// observations before markProvisioned writes the Timestamp row, so a
	// first ingestion of a timestamp always takes this path
	for _, ts := range all {
		if ts.Value < value {
			prev = ts.Value
		} else if ts.Value > value && next == "" {
			next = ts.Value
		}
	}

	return prev, next, nil
}

func (d *dbQueries) Suite(archive, name string) (*Suite, error) {
	record := &Suite{}
	if err := SuiteRepository.OpenByPrimaryKey(suiteKey(archive, name), record, d.tx); err != nil {
		return nil, err
	}
	return record, nil
}

func (d *dbQueries) Component(archive, suite, name string) (*Component, error) {
	record := &Component{}
	if err := ComponentRepository.OpenByPrimaryKey(componentKey(archive, suite, name), record, d.tx); err != nil {
		return nil, err
	}
	return record, nil
}

func (d *dbQueries) File(sha256Hex string) (*File, error) {
	record := &File{}
	if err := FileRepository.OpenByPrimaryKey(fileKey(sha256Hex), record, d.tx); err != nil {
		return nil, err
	}
	return record, nil
}

func (d *dbQueries) Location(id string) (*Location, error) {
	record := &Location{}
	if err := LocationRepository.OpenByPrimaryKey([]byte(id), record, d.tx); err != nil {
		return nil, err
	}
	return record, nil
}

func (d *dbQueries) LocationsForArchive(archive string) ([]Location, error) {
	out := []Location{}

	err := LocationsByArchiveIndex.Query([]byte(archive), StartFromFirst, func(id []byte) error {
		loc, err := d.Location(string(id))
		if err != nil {
			return err
		}
		out = append(out, *loc)
		return nil
	}, d.tx)

	return out, err
}

func (d *dbQueries) Package(kind PackageKind, name, version string) (*Package, error) {
	record := &Package{}
	if err := PackageRepository.OpenByPrimaryKey(packageKey(kind, name, version), record, d.tx); err != nil {
		return nil, err
	}
	return record, nil
}

// FilesForPackage returns every File observed under the given package
// identity, used by the buildinfo solver (C8).
func (d *dbQueries) FilesForPackage(kind PackageKind, name, version string) ([]PackageFile, error) {
	out := []PackageFile{}

	partition := []byte(joinKey(string(kind), name, version))

	err := PackageFilesByPackageIndex.Query(partition, StartFromFirst, func(id []byte) error {
		record := &PackageFile{}
		if err := PackageFileRepository.OpenByPrimaryKey(id, record, d.tx); err != nil {
			return err
		}
		out = append(out, *record)
		return nil
	}, d.tx)

	return out, err
}

// TimestampRangesFor returns every coalesced range for a (file, location,
// arch) tuple, ordered by Begin.
func (d *dbQueries) TimestampRangesFor(fileSha256Hex, locationID, archIfBinary string) ([]TimestampRange, error) {
	partition := timestampRangePartitionKey(fileSha256Hex, locationID, archIfBinary)

	out := []TimestampRange{}

	err := TimestampRangesByPartitionIndex.Query([]byte(partition), func(sortKey []byte, id []byte) error {
		if !hasPrefix(sortKey, partition) {
			return StopIteration
		}

		record := &TimestampRange{}
		if err := TimestampRangeRepository.OpenByPrimaryKey(id, record, d.tx); err != nil {
			return err
		}

		out = append(out, *record)
		return nil
	}, d.tx)

	return out, err
}

// rangeEndingAt returns the range in partition whose End equals value, if
// any (R_left in spec §4.6's coalescer).
func (d *dbQueries) rangeEndingAt(fileSha256Hex, locationID, archIfBinary, value string) (*TimestampRange, error) {
	ranges, err := d.TimestampRangesFor(fileSha256Hex, locationID, archIfBinary)
	if err != nil {
		return nil, err
	}

	for i := range ranges {
		if ranges[i].End == value {
			return &ranges[i], nil
		}
	}

	return nil, nil
}

// rangeBeginningAt returns the range in partition whose Begin equals value,
// if any (R_right in spec §4.6's coalescer).
func (d *dbQueries) rangeBeginningAt(fileSha256Hex, locationID, archIfBinary, value string) (*TimestampRange, error) {
	ranges, err := d.TimestampRangesFor(fileSha256Hex, locationID, archIfBinary)
	if err != nil {
		return nil, err
	}

	for i := range ranges {
		if ranges[i].Begin == value {
			return &ranges[i], nil
		}
	}

	return nil, nil
}

// PackageNames returns every distinct name of packages of the given kind,
// sorted (the Package bucket's primary key already orders by (kind, name,
// version), so a linear scan yields names in order for free).
func (d *dbQueries) PackageNames(kind PackageKind) ([]string, error) {
	out := []string{}
	var last string

	err := PackageRepository.Each(func(record any) error {
		p := record.(*Package)
		if p.Kind != kind {
			return nil
		}
		if p.Name != last || len(out) == 0 {
			out = append(out, p.Name)
			last = p.Name
		}
		return nil
	}, d.tx)

	return out, err
}

// PackageVersions returns every known version of (kind, name), sorted.
func (d *dbQueries) PackageVersions(kind PackageKind, name string) ([]string, error) {
	out := []string{}

	err := PackageRepository.EachFrom(packageKey(kind, name, ""), func(record any) error {
		p := record.(*Package)
		if p.Kind != kind || p.Name != name {
			return StopIteration
		}
		out = append(out, p.Version)
		return nil
	}, d.tx)

	return out, err
}

// AllFileSha256 returns every known file's sha256, sorted.
func (d *dbQueries) AllFileSha256() ([]string, error) {
	out := []string{}

	err := FileRepository.Each(func(record any) error {
		out = append(out, record.(*File).Sha256Hex)
		return nil
	}, d.tx)

	return out, err
}

// FileLocationInfo is one (location, architecture)'s coalesced range
// history for a file, the shape original_source/api/snapshot_api.py's
// file_desc() returns per FilesLocations row.
type FileLocationInfo struct {
	Location        Location
	ArchIfBinary    string
	TimestampRanges []TimestampRange
}

// LocationsForFile returns every distinct (location, architecture) pair
// fileSha256Hex has ever been observed under, each with its full coalesced
// range history, used by the file-info query endpoint (spec §4.7).
func (d *dbQueries) LocationsForFile(fileSha256Hex string) ([]FileLocationInfo, error) {
	type pair struct{ locationID, arch string }

	seen := map[pair]bool{}
	var pairs []pair

	err := ObservationsByFileIndex.Query([]byte(fileSha256Hex), StartFromFirst, func(id []byte) error {
		record := &Observation{}
		if err := ObservationRepository.OpenByPrimaryKey(id, record, d.tx); err != nil {
			return err
		}

		p := pair{record.LocationID, record.ArchitectureIfBinary}
		if !seen[p] {
			seen[p] = true
			pairs = append(pairs, p)
		}

		return nil
	}, d.tx)
	if err != nil {
		return nil, err
	}

	out := make([]FileLocationInfo, 0, len(pairs))

	for _, p := range pairs {
		location, err := d.Location(p.locationID)
		if err != nil {
			return nil, err
		}

		ranges, err := d.TimestampRangesFor(fileSha256Hex, p.locationID, p.arch)
		if err != nil {
			return nil, err
		}

		out = append(out, FileLocationInfo{Location: *location, ArchIfBinary: p.arch, TimestampRanges: ranges})
	}

	return out, nil
}

// ExpandTimestampRange lists every archive timestamp within [r.Begin,
// r.End] inclusive, per archiveTimestamps' chronological order. Used by the
// buildinfo solver (C8, spec §4.8 step 1: "the union of its TimestampRanges
// expanded against the archive's timestamp list").
func ExpandTimestampRange(archiveTimestamps []string, r TimestampRange) []string {
	out := []string{}

	for _, ts := range archiveTimestamps {
		if ts >= r.Begin && ts <= r.End {
			out = append(out, ts)
		}
	}

	return out
}

// ObservationExists reports whether this exact (file, location, arch,
// timestamp) tuple has already been recorded, the skip check spec §4.5
// step 5 uses to avoid redundant downloads on a rerun.
func (d *dbQueries) ObservationExists(fileSha256Hex, locationID, archIfBinary, timestamp string) (bool, error) {
	record := &Observation{}
	err := ObservationRepository.OpenByPrimaryKey(observationKey(Observation{
		FileSha256Hex:        fileSha256Hex,
		LocationID:           locationID,
		ArchitectureIfBinary: archIfBinary,
		Timestamp:            timestamp,
	}), record, d.tx)
	if err != nil {
		if err == blorm.ErrNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (d *dbQueries) Provisioned(p Provisioned) (bool, error) {
	record := &Provisioned{}
	err := ProvisionedRepository.OpenByPrimaryKey(provisionedKey(p), record, d.tx)
	if err != nil {
		if err == blorm.ErrNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
