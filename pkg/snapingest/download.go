package snapingest

import (
	"context"
	"fmt"
	"log"
	"os"
	"path"
	"sync"
	"sync/atomic"

	"github.com/function61/gokit/logex"
	"go.etcd.io/bbolt"

	"github.com/function61/snapshotd/pkg/mutexmap"
	"github.com/function61/snapshotd/pkg/snapfetch"
	"github.com/function61/snapshotd/pkg/snaphash"
	"github.com/function61/snapshotd/pkg/snaplayout"
	"github.com/function61/snapshotd/pkg/snapstore"
)

// ingestJob is one pool file to realize on disk and in the store, derived
// from a single Packages/Sources paragraph (spec §4.5 step 4).
type ingestJob struct {
	kind           snapstore.PackageKind
	packageName    string
	packageVersion string
	archIfBinary   string // empty for source files
	suite          string
	component      string
	repoPath       string // archive-relative pool path
	sha256Hex      string
	size           uint64
}

// Stats tallies one ingestion run's outcome for the summary report (spec
// §4.5 step 7).
type Stats struct {
	downloaded int64
	skipped    int64
	failed     int64
	drifted    int64
	bytesMoved int64
}

func (s *Stats) Downloaded() int64 { return atomic.LoadInt64(&s.downloaded) }
func (s *Stats) Skipped() int64    { return atomic.LoadInt64(&s.skipped) }
func (s *Stats) Failed() int64     { return atomic.LoadInt64(&s.failed) }
func (s *Stats) Drifted() int64    { return atomic.LoadInt64(&s.drifted) }
func (s *Stats) BytesMoved() int64 { return atomic.LoadInt64(&s.bytesMoved) }

// JobFailure records one record-level failure; a failed job does not abort
// the run (spec §4.5: a single corrupt or missing pool file must not block
// ingestion of the rest of the selection).
type JobFailure struct {
	RepoPath string
	Err      error
}

// DriftReport records one --check-only finding: a by-hash file whose
// on-disk content no longer agrees with the index-advertised sha256/size,
// or that has gone missing entirely (spec §4.5 step 3, SPEC_FULL
// supplemental drift report).
type DriftReport struct {
	RepoPath  string
	Sha256Hex string
	Reason    string
}

// downloader drives the bounded-concurrency fan-out over a batch of
// ingestJobs, modeled on storeplication.Controller's job-channel/runner-pool
// pattern: a fixed number of goroutines drain a shared channel while the
// caller feeds it, and each job failure is logged and counted rather than
// aborting the batch.
type downloader struct {
	db        *bbolt.DB
	fetcher   *snapfetch.Fetcher
	root      string
	upstream  string
	archive   string
	timestamp string
	flags     Flags
	logl      *logex.Leveled

	concurrency int

	stats    Stats
	failures []JobFailure
	drifts   []DriftReport
	failMu   sync.Mutex

	// physicalWrites serializes concurrent workers that happen to land on
	// the same by-hash destination (two PackageFiles at different
	// locations naming the same sha256), so only one of them downloads it.
	physicalWrites *mutexmap.M
}

func newDownloader(db *bbolt.DB, fetcher *snapfetch.Fetcher, root, upstream, archive, timestamp string, flags Flags, concurrency int, logger *log.Logger) *downloader {
	if concurrency <= 0 {
		concurrency = 4
	}

	return &downloader{
		db:             db,
		fetcher:        fetcher,
		root:           root,
		upstream:       upstream,
		archive:        archive,
		timestamp:      timestamp,
		flags:          flags,
		logl:           logex.Levels(logger),
		concurrency:    concurrency,
		physicalWrites: mutexmap.New(),
	}
}

// run realizes every job, fanning out across d.concurrency workers, and
// returns once all jobs have been attempted.
func (d *downloader) run(ctx context.Context, jobs []*ingestJob) error {
	jobQueue := make(chan *ingestJob, d.concurrency)

	runnersDone := sync.WaitGroup{}

	runner := func() {
		defer runnersDone.Done()

		for job := range jobQueue {
			if err := d.runOne(ctx, job); err != nil {
				d.logl.Error.Printf("ingesting %s: %v", job.repoPath, err)
				d.recordFailure(job, err)
			}
		}
	}

	for i := 0; i < d.concurrency; i++ {
		runnersDone.Add(1)
		go runner()
	}

	for _, job := range jobs {
		select {
		case <-ctx.Done():
			close(jobQueue)
			runnersDone.Wait()
			return ctx.Err()
		case jobQueue <- job:
		}
	}

	close(jobQueue)
	runnersDone.Wait()

	return nil
}

func (d *downloader) recordFailure(job *ingestJob, err error) {
	atomic.AddInt64(&d.stats.failed, 1)

	d.failMu.Lock()
	d.failures = append(d.failures, JobFailure{RepoPath: job.repoPath, Err: err})
	d.failMu.Unlock()
}

// runOne realizes a single job: spec §4.5 step 5's skip check, the
// by-hash/hardlink write, and the provenance records, in that order. Under
// --check-only it only re-hashes the by-hash copy (checkDrift), whether or
// not the record was already observed.
func (d *downloader) runOne(ctx context.Context, job *ingestJob) error {
	effectiveTimestamp := snaplayout.EffectiveTimestamp(d.archive, d.timestamp)

	location := snapstore.Location{
		Archive:   d.archive,
		Suite:     job.suite,
		Component: job.component,
		Path:      path.Dir(job.repoPath),
		Name:      lastPathElement(job.repoPath),
	}
	locationID := snapstore.LocationID(location)

	physicalPath, err := snaplayout.PhysicalPoolPath(d.root, job.sha256Hex)
	if err != nil {
		return err
	}

	if d.flags.CheckOnly {
		return d.checkDrift(job, physicalPath)
	}

	if !d.flags.IgnoreProvisioned {
		alreadyObserved, err := d.alreadyObserved(job.sha256Hex, locationID, job.archIfBinary)
		if err != nil {
			return err
		}
		if alreadyObserved {
			atomic.AddInt64(&d.stats.skipped, 1)
			return nil
		}
	}

	if !d.flags.ProvisionDBOnly {
		resolvedSize, err := d.ensurePhysical(ctx, job, physicalPath)
		if err != nil {
			return err
		}
		job.size = resolvedSize

		logicalPath := snaplayout.LogicalPoolPath(d.root, d.archive, effectiveTimestamp, job.repoPath)
		if err := snaphash.Hardlink(physicalPath, logicalPath); err != nil {
			return fmt.Errorf("hardlinking %s: %w", job.repoPath, err)
		}
	} else if job.size == 0 && pathExists(physicalPath) {
		// --provision-db-only skips the fetch, but an unknown-size job (an
		// installer file) still needs its size resolved from the by-hash
		// copy left by an earlier run, or UpsertFile has nothing to record.
		info, err := os.Stat(physicalPath)
		if err != nil {
			return err
		}
		job.size = uint64(info.Size())
	}

	if err := d.recordProvenance(job, location, locationID); err != nil {
		return err
	}

	atomic.AddInt64(&d.stats.downloaded, 1)
	atomic.AddInt64(&d.stats.bytesMoved, int64(job.size))

	return nil
}

// alreadyObserved implements spec §4.5 step 5: a record is fully realized
// already if its by-hash physical copy exists on disk AND the store
// already has an Observation for this exact (file, location, arch,
// timestamp) tuple.
func (d *downloader) alreadyObserved(sha256Hex, locationID, archIfBinary string) (bool, error) {
	physicalPath, err := snaplayout.PhysicalPoolPath(d.root, sha256Hex)
	if err != nil {
		return false, err
	}

	if !pathExists(physicalPath) {
		return false, nil
	}

	var observed bool

	err = d.db.View(func(tx *bbolt.Tx) error {
		var queryErr error
		observed, queryErr = snapstore.Read(tx).ObservationExists(sha256Hex, locationID, archIfBinary, d.timestamp)
		return queryErr
	})

	return observed, err
}

// ensurePhysical fetches the file straight into its by-hash path, verifying
// sha256 and size as it streams (spec §4.2, §4.4). If the by-hash path
// already holds the right bytes this is a no-op. Locked per sha256 so two
// workers that both need the same content don't race on the same
// destination file.
func (d *downloader) ensurePhysical(ctx context.Context, job *ingestJob, physicalPath string) (uint64, error) {
	unlock := d.physicalWrites.Lock(job.sha256Hex)
	defer unlock()

	if pathExists(physicalPath) {
		if job.size > 0 {
			return job.size, nil
		}

		info, err := os.Stat(physicalPath)
		if err != nil {
			return 0, err
		}
		return uint64(info.Size()), nil
	}

	expectedSum, err := snaphash.ParseHex(job.sha256Hex)
	if err != nil {
		return 0, err
	}

	opts := snapfetch.Options{
		ExpectedSha256:    &expectedSum,
		Destination:       physicalPath,
		RetainPartOnError: d.flags.NoCleanPartFile,
	}
	if job.size > 0 {
		expectedSize := job.size
		opts.ExpectedSize = &expectedSize
	}

	url := snaplayout.UpstreamURL(d.upstream, d.archive, d.timestamp, job.repoPath)

	result, err := d.fetcher.Fetch(ctx, url, opts)
	if err != nil {
		return 0, err
	}

	return result.Size, nil
}

// checkDrift implements --check-only (spec §4.5 step 3): rather than
// writing anything, it re-hashes the by-hash physical file already on disk
// and compares it against the index-advertised sha256/size, reporting a
// DriftReport instead of touching the store or the filesystem.
func (d *downloader) checkDrift(job *ingestJob, physicalPath string) error {
	if !pathExists(physicalPath) {
		atomic.AddInt64(&d.stats.drifted, 1)
		d.recordDrift(job, "missing on disk")
		return nil
	}

	result, err := snaphash.HashExistingFile(physicalPath)
	if err != nil {
		return err
	}

	if result.Sum.Hex() != job.sha256Hex || (job.size != 0 && result.Size != job.size) {
		atomic.AddInt64(&d.stats.drifted, 1)
		d.recordDrift(job, fmt.Sprintf("on-disk content no longer matches: got sha256=%s size=%d", result.Sum.Hex(), result.Size))
		return nil
	}

	atomic.AddInt64(&d.stats.skipped, 1)
	return nil
}

func (d *downloader) recordDrift(job *ingestJob, reason string) {
	d.failMu.Lock()
	d.drifts = append(d.drifts, DriftReport{RepoPath: job.repoPath, Sha256Hex: job.sha256Hex, Reason: reason})
	d.failMu.Unlock()
}

func (d *downloader) recordProvenance(job *ingestJob, location snapstore.Location, locationID string) error {
	return d.db.Update(func(tx *bbolt.Tx) error {
		if err := snapstore.UpsertFile(job.sha256Hex, job.size, tx); err != nil {
			return err
		}

		if err := snapstore.LocationRepository.Update(&location, tx); err != nil {
			return err
		}

		pkg := &snapstore.Package{Kind: job.kind, Name: job.packageName, Version: job.packageVersion}
		if err := snapstore.PackageRepository.Update(pkg, tx); err != nil {
			return err
		}

		packageFile := &snapstore.PackageFile{
			PackageKind:          job.kind,
			PackageName:          job.packageName,
			PackageVersion:       job.packageVersion,
			FileSha256Hex:        job.sha256Hex,
			ArchitectureIfBinary: job.archIfBinary,
		}
		if err := snapstore.PackageFileRepository.Update(packageFile, tx); err != nil {
			return err
		}

		obs := snapstore.Observation{
			FileSha256Hex:        job.sha256Hex,
			LocationID:           locationID,
			ArchitectureIfBinary: job.archIfBinary,
			Timestamp:            d.timestamp,
		}

		return snapstore.RecordObservation(d.archive, obs, tx)
	})
}

func pathExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

func lastPathElement(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[i+1:]
		}
	}
	return p
}
