package snapstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// ArchiveLock is the advisory, filesystem-level lock enforcing spec §3
// invariant 5: at most one ingestion worker active for a given
// (archive, timestamp, suite, component, arch) at a time. One lock file per
// archive is sufficient since the ingestion driver already serializes
// selections within a single run (spec §5); the lock exists to protect
// against two separate `snapshotctl ingest` processes racing.
type ArchiveLock struct {
	flock *flock.Flock
}

func NewArchiveLock(root, archive string) *ArchiveLock {
	path := filepath.Join(root, ".locks", archive+".lock")
	return &ArchiveLock{flock: flock.New(path)}
}

// Lock blocks until the archive's lock is acquired or ctx is done.
func (l *ArchiveLock) Lock(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(l.flock.Path()), 0755); err != nil {
		return err
	}

	ok, err := l.flock.TryLockContext(ctx, 200*time.Millisecond)
	if err != nil {
		return fmt.Errorf("snapstore: acquiring archive lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("snapstore: archive lock not acquired")
	}
	return nil
}

func (l *ArchiveLock) Unlock() error {
	return l.flock.Unlock()
}
