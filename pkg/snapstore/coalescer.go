package snapstore

import (
	"go.etcd.io/bbolt"

	"github.com/function61/snapshotd/pkg/blorm"
)

// EnsureTimestamp upserts an archive's Timestamp row, enforcing spec §9's
// rule that SentinelTimestamp never mixes with real timestamps in the same
// archive: once an archive has any Timestamp row, every later one must
// agree with the first on whether it's the sentinel.
func EnsureTimestamp(archive, value string, tx *bbolt.Tx) error {
	existing, err := Read(tx).TimestampsForArchive(archive)
	if err != nil {
		return err
	}

	if len(existing) > 0 && (existing[0].Value == SentinelTimestamp) != (value == SentinelTimestamp) {
		return &StorageError{Reason: "archive " + archive + " mixes sentinel and real timestamps"}
	}

	return TimestampRepository.Update(&Timestamp{Archive: archive, Value: value}, tx)
}

// UpsertFile records a file's size under its sha256, enforcing spec §3
// invariant 1: a sha256 already stored under a different size means either
// a hash collision or upstream corruption, and aborts the tuple as a
// StorageError rather than silently overwriting the stored size (spec §8.1,
// §9).
func UpsertFile(sha256Hex string, size uint64, tx *bbolt.Tx) error {
	existing, err := Read(tx).File(sha256Hex)
	if err != nil && err != blorm.ErrNotFound {
		return err
	}

	if err == nil && existing.Size != size {
		return &StorageError{Sha256Hex: sha256Hex, StoredSize: existing.Size, ObservedSize: size}
	}

	return FileRepository.Update(&File{Sha256Hex: sha256Hex, Size: size}, tx)
}

// RecordObservation idempotently records that file was observed at
// location (with the given architecture, empty for source files) at
// timestamp, and runs the range coalescer (spec §4.6) to fold the
// observation into the (file, location, arch) tuple's TimestampRange set.
//
// Calling this twice with identical arguments leaves the store unchanged
// (spec §3 invariant 2's idempotence requirement): the Observation row's
// primary key already encodes every field, so the second Update() is a
// byte-identical overwrite, and the coalescer's merge rules are themselves
// idempotent (re-merging a range that already spans T is a no-op).
func RecordObservation(archive string, obs Observation, tx *bbolt.Tx) error {
	if err := ObservationRepository.Update(&obs, tx); err != nil {
		return err
	}

	return coalesce(archive, obs.FileSha256Hex, obs.LocationID, obs.ArchitectureIfBinary, obs.Timestamp, tx)
}

// coalesce implements spec §4.6's merge rules for a single new observation
// at timestamp T.
func coalesce(archive, fileSha256Hex, locationID, archIfBinary, t string, tx *bbolt.Tx) error {
	q := Read(tx)

	prev, next, err := q.AdjacentTimestamps(archive, t)
	if err != nil {
		return err
	}

	var left, right *TimestampRange

	if prev != "" {
		left, err = q.rangeEndingAt(fileSha256Hex, locationID, archIfBinary, prev)
		if err != nil {
			return err
		}
	}

	if next != "" {
		right, err = q.rangeBeginningAt(fileSha256Hex, locationID, archIfBinary, next)
		if err != nil {
			return err
		}
	}

	// idempotence: if T already falls inside an existing range, there's
	// nothing to do (re-observing an already-covered timestamp)
	if covered, err := q.timestampCoveredByAnyRange(fileSha256Hex, locationID, archIfBinary, t); err != nil {
		return err
	} else if covered {
		return nil
	}

	switch {
	case left != nil && right != nil:
		// merge: extend left to right's end, drop right entirely
		merged := *left
		merged.End = right.End

		if err := TimestampRangeRepository.Delete(right, tx); err != nil {
			return err
		}

		return TimestampRangeRepository.Update(&merged, tx)

	case left != nil:
		extended := *left
		extended.End = t
		return TimestampRangeRepository.Update(&extended, tx)

	case right != nil:
		// Begin changes, so the primary key changes: delete and reinsert.
		if err := TimestampRangeRepository.Delete(right, tx); err != nil {
			return err
		}

		widened := *right
		widened.Begin = t
		return TimestampRangeRepository.Update(&widened, tx)

	default:
		return TimestampRangeRepository.Update(&TimestampRange{
			FileSha256Hex:        fileSha256Hex,
			LocationID:           locationID,
			ArchitectureIfBinary: archIfBinary,
			Begin:                t,
			End:                  t,
		}, tx)
	}
}

func (d *dbQueries) timestampCoveredByAnyRange(fileSha256Hex, locationID, archIfBinary, t string) (bool, error) {
	ranges, err := d.TimestampRangesFor(fileSha256Hex, locationID, archIfBinary)
	if err != nil {
		return false, err
	}

	for _, r := range ranges {
		if r.Begin <= t && t <= r.End {
			return true, nil
		}
	}

	return false, nil
}
