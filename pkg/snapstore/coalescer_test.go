package snapstore

import (
	"path/filepath"
	"testing"

	"go.etcd.io/bbolt"

	"github.com/function61/gokit/assert"
)

func openTestDB(t *testing.T) *bbolt.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")

	db, err := Open(path)
	assert.Ok(t, err)
	t.Cleanup(func() { db.Close() })

	assert.Ok(t, Bootstrap(db))

	return db
}

func seedTimestamps(t *testing.T, db *bbolt.DB, archive string, values ...string) {
	t.Helper()

	err := db.Update(func(tx *bbolt.Tx) error {
		for _, v := range values {
			if err := TimestampRepository.Update(&Timestamp{Archive: archive, Value: v}, tx); err != nil {
				return err
			}
		}
		return nil
	})
	assert.Ok(t, err)
}

func recordObs(t *testing.T, db *bbolt.DB, archive string, obs Observation) {
	t.Helper()

	err := db.Update(func(tx *bbolt.Tx) error {
		return RecordObservation(archive, obs, tx)
	})
	assert.Ok(t, err)
}

func ranges(t *testing.T, db *bbolt.DB, fileSha, locID, arch string) []TimestampRange {
	t.Helper()

	var out []TimestampRange

	err := db.View(func(tx *bbolt.Tx) error {
		r, err := Read(tx).TimestampRangesFor(fileSha, locID, arch)
		out = r
		return err
	})
	assert.Ok(t, err)

	return out
}

func TestCoalescerSingleton(t *testing.T) {
	db := openTestDB(t)

	archive := "debian"
	seedTimestamps(t, db, archive, "20240101T000000Z", "20240102T000000Z", "20240103T000000Z")

	recordObs(t, db, archive, Observation{
		FileSha256Hex: "aaaa", LocationID: "loc1", Timestamp: "20240102T000000Z",
	})

	got := ranges(t, db, "aaaa", "loc1", "")
	assert.Assert(t, len(got) == 1)
	assert.EqualString(t, got[0].Begin, "20240102T000000Z")
	assert.EqualString(t, got[0].End, "20240102T000000Z")
}

func TestCoalescerExtendsLeft(t *testing.T) {
	db := openTestDB(t)

	archive := "debian"
	seedTimestamps(t, db, archive, "20240101T000000Z", "20240102T000000Z", "20240103T000000Z")

	recordObs(t, db, archive, Observation{FileSha256Hex: "aaaa", LocationID: "loc1", Timestamp: "20240101T000000Z"})
	recordObs(t, db, archive, Observation{FileSha256Hex: "aaaa", LocationID: "loc1", Timestamp: "20240102T000000Z"})

	got := ranges(t, db, "aaaa", "loc1", "")
	assert.Assert(t, len(got) == 1)
	assert.EqualString(t, got[0].Begin, "20240101T000000Z")
	assert.EqualString(t, got[0].End, "20240102T000000Z")
}

func TestCoalescerMergesTwoRanges(t *testing.T) {
	db := openTestDB(t)

	archive := "debian"
	seedTimestamps(t, db, archive,
		"20240101T000000Z", "20240102T000000Z", "20240103T000000Z", "20240104T000000Z")

	recordObs(t, db, archive, Observation{FileSha256Hex: "aaaa", LocationID: "loc1", Timestamp: "20240101T000000Z"})
	recordObs(t, db, archive, Observation{FileSha256Hex: "aaaa", LocationID: "loc1", Timestamp: "20240104T000000Z"})

	// not yet merged: two singleton ranges
	got := ranges(t, db, "aaaa", "loc1", "")
	assert.Assert(t, len(got) == 2)

	recordObs(t, db, archive, Observation{FileSha256Hex: "aaaa", LocationID: "loc1", Timestamp: "20240102T000000Z"})
	recordObs(t, db, archive, Observation{FileSha256Hex: "aaaa", LocationID: "loc1", Timestamp: "20240103T000000Z"})

	got = ranges(t, db, "aaaa", "loc1", "")
	assert.Assert(t, len(got) == 1)
	assert.EqualString(t, got[0].Begin, "20240101T000000Z")
	assert.EqualString(t, got[0].End, "20240104T000000Z")
}

func TestCoalescerIdempotent(t *testing.T) {
	db := openTestDB(t)

	archive := "debian"
	seedTimestamps(t, db, archive, "20240101T000000Z", "20240102T000000Z")

	obs := Observation{FileSha256Hex: "aaaa", LocationID: "loc1", Timestamp: "20240101T000000Z"}

	recordObs(t, db, archive, obs)
	recordObs(t, db, archive, obs)

	got := ranges(t, db, "aaaa", "loc1", "")
	assert.Assert(t, len(got) == 1)
}

func TestCoalescerDoesNotMergeAcrossGap(t *testing.T) {
	db := openTestDB(t)

	archive := "debian"
	seedTimestamps(t, db, archive, "20240101T000000Z", "20240102T000000Z", "20240103T000000Z")

	// file is observed at the first and last timestamp but NOT the middle one:
	// the middle timestamp was ingested for the archive but this file was
	// genuinely absent there, so the two ranges must stay separate.
	recordObs(t, db, archive, Observation{FileSha256Hex: "aaaa", LocationID: "loc1", Timestamp: "20240101T000000Z"})
	recordObs(t, db, archive, Observation{FileSha256Hex: "aaaa", LocationID: "loc1", Timestamp: "20240103T000000Z"})

	got := ranges(t, db, "aaaa", "loc1", "")
	assert.Assert(t, len(got) == 2)
}

func TestUpsertFileAcceptsRepeatOfSameSize(t *testing.T) {
	db := openTestDB(t)

	err := db.Update(func(tx *bbolt.Tx) error {
		if err := UpsertFile("aaaa", 100, tx); err != nil {
			return err
		}
		return UpsertFile("aaaa", 100, tx)
	})
	assert.Ok(t, err)
}

func TestUpsertFileRejectsSizeDrift(t *testing.T) {
	db := openTestDB(t)

	err := db.Update(func(tx *bbolt.Tx) error {
		return UpsertFile("aaaa", 100, tx)
	})
	assert.Ok(t, err)

	err = db.Update(func(tx *bbolt.Tx) error {
		return UpsertFile("aaaa", 200, tx)
	})

	storageErr, ok := err.(*StorageError)
	assert.Assert(t, ok)
	assert.EqualString(t, storageErr.Sha256Hex, "aaaa")
	assert.Assert(t, storageErr.StoredSize == 100)
	assert.Assert(t, storageErr.ObservedSize == 200)
}

func TestEnsureTimestampAcceptsRepeatedSentinel(t *testing.T) {
	db := openTestDB(t)

	archive := "qubes-r4.1-vm"

	err := db.Update(func(tx *bbolt.Tx) error {
		if err := EnsureTimestamp(archive, SentinelTimestamp, tx); err != nil {
			return err
		}
		return EnsureTimestamp(archive, SentinelTimestamp, tx)
	})
	assert.Ok(t, err)
}

func TestEnsureTimestampRejectsMixingSentinelWithReal(t *testing.T) {
	db := openTestDB(t)

	archive := "qubes-r4.1-vm"

	err := db.Update(func(tx *bbolt.Tx) error {
		return EnsureTimestamp(archive, SentinelTimestamp, tx)
	})
	assert.Ok(t, err)

	err = db.Update(func(tx *bbolt.Tx) error {
		return EnsureTimestamp(archive, "20240101T000000Z", tx)
	})

	_, ok := err.(*StorageError)
	assert.Assert(t, ok)
}
