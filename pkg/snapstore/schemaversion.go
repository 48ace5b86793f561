package snapstore

import (
	"encoding/binary"

	"github.com/function61/snapshotd/pkg/blorm"
	"go.etcd.io/bbolt"
)

const CurrentSchemaVersion = 1

var (
	metaBucketKey    = []byte("_meta")
	schemaVersionKey = []byte("schemaVersion")
)

// ReadSchemaVersion returns blorm.ErrBucketNotFound if the DB predates
// schema versioning (i.e. was never bootstrapped).
func ReadSchemaVersion(tx *bbolt.Tx) (uint32, error) {
	metaBucket := tx.Bucket(metaBucketKey)
	if metaBucket == nil {
		return 0, blorm.ErrBucketNotFound
	}

	return binary.LittleEndian.Uint32(metaBucket.Get(schemaVersionKey)), nil
}

func WriteSchemaVersion(version uint32, tx *bbolt.Tx) error {
	metaBucket, err := tx.CreateBucketIfNotExists(metaBucketKey)
	if err != nil {
		return err
	}

	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, version)

	return metaBucket.Put(schemaVersionKey, buf)
}
