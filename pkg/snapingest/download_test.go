package snapingest

import (
	"crypto/sha256"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/function61/gokit/assert"

	"github.com/function61/snapshotd/pkg/snaplayout"
	"github.com/function61/snapshotd/pkg/snapstore"
)

// sha256 of the empty string, used as a stand-in content-addressed name in
// these tests.
const emptyFileSha256 = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

func newTestDownloader(t *testing.T, root string, flags Flags) *downloader {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := snapstore.Open(dbPath)
	assert.Ok(t, err)
	t.Cleanup(func() { db.Close() })
	assert.Ok(t, snapstore.Bootstrap(db))

	logger := log.New(io.Discard, "", 0)

	return newDownloader(db, nil, root, "", "debian", "20240101T000000Z", flags, 1, logger)
}

func TestCheckDriftReportsMissingFile(t *testing.T) {
	root := t.TempDir()
	d := newTestDownloader(t, root, Flags{CheckOnly: true})

	job := &ingestJob{repoPath: "pool/a/aaaa_1.0_amd64.deb", sha256Hex: emptyFileSha256, size: 4}

	physicalPath, err := snaplayout.PhysicalPoolPath(root, job.sha256Hex)
	assert.Ok(t, err)

	assert.Ok(t, d.checkDrift(job, physicalPath))
	assert.Assert(t, d.stats.Drifted() == 1)
	assert.Assert(t, len(d.drifts) == 1)
	assert.EqualString(t, d.drifts[0].Reason, "missing on disk")
}

func TestCheckDriftDetectsContentMismatch(t *testing.T) {
	root := t.TempDir()
	d := newTestDownloader(t, root, Flags{CheckOnly: true})

	job := &ingestJob{repoPath: "pool/a/aaaa_1.0_amd64.deb", sha256Hex: emptyFileSha256, size: 0}

	physicalPath, err := snaplayout.PhysicalPoolPath(root, job.sha256Hex)
	assert.Ok(t, err)
	assert.Ok(t, os.MkdirAll(filepath.Dir(physicalPath), 0755))
	assert.Ok(t, os.WriteFile(physicalPath, []byte("not empty"), 0644))

	assert.Ok(t, d.checkDrift(job, physicalPath))
	assert.Assert(t, d.stats.Drifted() == 1)
}

func TestCheckDriftSkipsSizeCompareWhenUnknown(t *testing.T) {
	// installer jobs carry size == 0 (unknown until downloaded); checkDrift
	// must not treat the on-disk file's real (non-zero) size as a drift just
	// because job.size hasn't been resolved yet.
	root := t.TempDir()
	d := newTestDownloader(t, root, Flags{CheckOnly: true})

	content := []byte("installer image bytes")
	sum := fmt.Sprintf("%x", sha256.Sum256(content))

	job := &ingestJob{repoPath: "installer-amd64/current/images/foo", sha256Hex: sum, size: 0}

	physicalPath, err := snaplayout.PhysicalPoolPath(root, job.sha256Hex)
	assert.Ok(t, err)
	assert.Ok(t, os.MkdirAll(filepath.Dir(physicalPath), 0755))
	assert.Ok(t, os.WriteFile(physicalPath, content, 0644))

	assert.Ok(t, d.checkDrift(job, physicalPath))
	assert.Assert(t, d.stats.Drifted() == 0)
	assert.Assert(t, d.stats.Skipped() == 1)
}
