package snapstore

import (
	"errors"
	"fmt"

	"github.com/function61/snapshotd/pkg/blorm"
	"go.etcd.io/bbolt"
)

// Open opens (creating if absent) the bbolt database backing the
// provenance store.
func Open(dbLocation string) (*bbolt.DB, error) {
	return bbolt.Open(dbLocation, 0700, nil)
}

// Bootstrap initializes a brand-new, empty database with every repository's
// bucket and the current schema version. Calling it on a non-empty database
// is an error.
func Bootstrap(db *bbolt.DB) error {
	tx, err := db.Begin(true)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	nonEmpty := false
	if err := tx.ForEach(func(name []byte, _ *bbolt.Bucket) error {
		nonEmpty = true
		return nil
	}); err != nil {
		return err
	}
	if nonEmpty {
		return fmt.Errorf("snapstore: database is not empty, refusing to bootstrap")
	}

	if err := BootstrapRepos(tx); err != nil {
		return err
	}

	if err := WriteSchemaVersion(CurrentSchemaVersion, tx); err != nil {
		return err
	}

	return tx.Commit()
}

func BootstrapRepos(tx *bbolt.Tx) error {
	for _, repo := range RepoByRecordType {
		if err := repo.Bootstrap(tx); err != nil {
			return err
		}
	}

	return nil
}

// EnsureBootstrapped bootstraps db if it is empty, otherwise verifies the
// schema version matches what this binary expects.
func EnsureBootstrapped(db *bbolt.DB) error {
	version, err := readSchemaVersionOrZero(db)
	if err != nil {
		return err
	}

	if version == 0 {
		return Bootstrap(db)
	}

	if version != CurrentSchemaVersion {
		return fmt.Errorf("snapstore: schema version %d does not match expected %d", version, CurrentSchemaVersion)
	}

	return nil
}

func readSchemaVersionOrZero(db *bbolt.DB) (uint32, error) {
	var version uint32

	err := db.View(func(tx *bbolt.Tx) error {
		v, err := ReadSchemaVersion(tx)
		if err != nil {
			if errors.Is(err, blorm.ErrBucketNotFound) {
				return nil
			}
			return err
		}
		version = v
		return nil
	})

	return version, err
}
