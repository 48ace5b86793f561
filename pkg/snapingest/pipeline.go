package snapingest

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/function61/gokit/logex"
	"go.etcd.io/bbolt"

	"github.com/function61/snapshotd/pkg/sliceutil"
	"github.com/function61/snapshotd/pkg/snapfetch"
	"github.com/function61/snapshotd/pkg/snapstore"
)

// Pipeline drives a full ingestion run (spec §4.5): for every selected
// (archive, timestamp, suite, component, architecture) it realizes the
// pool files named by that Release's indices and records their
// provenance.
type Pipeline struct {
	db       *bbolt.DB
	fetcher  *snapfetch.Fetcher
	lister   TimestampLister
	root     string
	upstream string

	concurrency int
	logger      *log.Logger
	logl        *logex.Leveled
}

func NewPipeline(db *bbolt.DB, fetcher *snapfetch.Fetcher, lister TimestampLister, root, upstream string, concurrency int, logger *log.Logger) *Pipeline {
	return &Pipeline{
		db:          db,
		fetcher:     fetcher,
		lister:      lister,
		root:        root,
		upstream:    upstream,
		concurrency: concurrency,
		logger:      logger,
		logl:        logex.Levels(logger),
	}
}

// TimestampReport is one (archive, timestamp)'s outcome.
type TimestampReport struct {
	Archive   string
	Timestamp string
	Stats     Stats
	Failures  []JobFailure
	Drifts    []DriftReport
	Elapsed   time.Duration
}

// RunReport aggregates every (archive, timestamp) processed in one Run
// call, the input to the summary report (spec §4.5 step 7).
type RunReport struct {
	Timestamps []TimestampReport
	Elapsed    time.Duration
}

// Run executes sel against flags end to end.
func (p *Pipeline) Run(ctx context.Context, sel Selection, flags Flags) (*RunReport, error) {
	start := time.Now()

	report := &RunReport{}

	for _, archive := range sel.Archives {
		archiveReport, err := p.runArchive(ctx, archive, sel, flags)
		if err != nil {
			return report, fmt.Errorf("snapingest: archive %s: %w", archive, err)
		}

		report.Timestamps = append(report.Timestamps, archiveReport...)
	}

	report.Elapsed = time.Since(start)

	return report, nil
}

func (p *Pipeline) runArchive(ctx context.Context, archive string, sel Selection, flags Flags) ([]TimestampReport, error) {
	lock := snapstore.NewArchiveLock(p.root, archive)
	if err := lock.Lock(ctx); err != nil {
		return nil, err
	}
	defer func() { _ = lock.Unlock() }()

	timestamps, err := p.resolveTimestamps(ctx, archive, sel)
	if err != nil {
		return nil, err
	}

	reports := make([]TimestampReport, 0, len(timestamps))

	for _, timestamp := range timestamps {
		select {
		case <-ctx.Done():
			return reports, ctx.Err()
		default:
		}

		tr, err := p.runTimestamp(ctx, archive, timestamp, sel, flags)
		if err != nil {
			return reports, fmt.Errorf("timestamp %s: %w", timestamp, err)
		}

		reports = append(reports, *tr)
	}

	return reports, nil
}

// resolveTimestamps implements spec §4.5 step 1: explicit Timestamps win,
// otherwise the full upstream list (cached per run by the caller's
// TimestampLister) is filtered by TimestampRange.
func (p *Pipeline) resolveTimestamps(ctx context.Context, archive string, sel Selection) ([]string, error) {
	if len(sel.Timestamps) > 0 {
		return sel.Timestamps, nil
	}

	all, err := p.lister.ListTimestamps(ctx, archive)
	if err != nil {
		return nil, err
	}

	return FilterByRange(all, sel.TimestampRange), nil
}

// runTimestamp implements spec §4.5 steps 2-7 for one (archive, timestamp).
// Suites must be explicit: which suites exist under an archive can only be
// learned by listing its dists/ directory, which is outside the URL space
// this pipeline otherwise touches (Release files, Packages/Sources
// indices, pool files).
func (p *Pipeline) runTimestamp(ctx context.Context, archive, timestamp string, sel Selection, flags Flags) (*TimestampReport, error) {
	start := time.Now()

	tr := &TimestampReport{Archive: archive, Timestamp: timestamp}

	if len(sel.Suites) == 0 {
		return nil, fmt.Errorf("snapingest: at least one suite must be selected")
	}

	downloadFailures := []JobFailure{}
	var drifts []DriftReport
	var combinedStats Stats

	for _, suite := range sel.Suites {
		plan, err := fetchRelease(ctx, p.fetcher, p.upstream, archive, timestamp, suite, sel)
		if err != nil {
			return nil, err
		}

		jobs, parseFailures, err := p.collectJobs(ctx, archive, timestamp, plan, sel, flags)
		if err != nil {
			return nil, err
		}

		d := newDownloader(p.db, p.fetcher, p.root, p.upstream, archive, timestamp, flags, p.concurrency, p.logger)
		if err := d.run(ctx, jobs); err != nil {
			return nil, err
		}

		combinedStats.downloaded += d.stats.Downloaded()
		combinedStats.skipped += d.stats.Skipped()
		combinedStats.failed += d.stats.Failed() + int64(len(parseFailures))
		combinedStats.drifted += d.stats.Drifted()
		combinedStats.bytesMoved += d.stats.BytesMoved()

		downloadFailures = append(downloadFailures, d.failures...)
		downloadFailures = append(downloadFailures, parseFailures...)
		drifts = append(drifts, d.drifts...)

		if !flags.CheckOnly {
			if err := p.markProvisioned(archive, timestamp, suite, plan); err != nil {
				return nil, err
			}
		}
	}

	tr.Stats = combinedStats
	tr.Failures = downloadFailures
	tr.Drifts = drifts
	tr.Elapsed = time.Since(start)

	return tr, nil
}

// collectJobs gathers every ingestJob named by plan's components and
// architectures (spec §4.5 step 4). Source packages are a separate axis
// from Release's "Architectures" field (which only ever lists real binary
// architectures), so whether to include them is driven by the Selection's
// own Architectures list, not plan.Architectures.
func (p *Pipeline) collectJobs(ctx context.Context, archive, timestamp string, plan *releasePlan, sel Selection, flags Flags) ([]*ingestJob, []JobFailure, error) {
	var jobs []*ingestJob
	var parseFailures []JobFailure

	onError := func(relPath string) func(error) {
		return func(err error) {
			parseFailures = append(parseFailures, JobFailure{RepoPath: relPath, Err: err})
		}
	}

	wantSource := len(sel.Architectures) == 0 || sliceutil.ContainsString(sel.Architectures, snapstore.ArchSource)

	for _, component := range plan.Components {
		if wantSource {
			sourceJobs, err := jobsForComponentSources(ctx, p.fetcher, p.upstream, archive, timestamp, plan, component, onError(fmt.Sprintf("%s/%s/source", plan.Suite, component)))
			if err != nil {
				return nil, nil, err
			}
			jobs = append(jobs, sourceJobs...)
		}

		for _, arch := range plan.Architectures {
			archJobs, err := jobsForComponentArch(ctx, p.fetcher, p.upstream, archive, timestamp, plan, component, arch, onError(fmt.Sprintf("%s/%s/binary-%s", plan.Suite, component, arch)))
			if err != nil {
				return nil, nil, err
			}
			jobs = append(jobs, archJobs...)

			if flags.SkipInstallerFiles {
				continue
			}

			installerJobs, err := installerJobsForComponentArch(ctx, p.fetcher, p.upstream, archive, timestamp, plan, component, arch)
			if err != nil {
				onError(fmt.Sprintf("%s/%s/installer-%s", plan.Suite, component, arch))(err)
				continue
			}
			jobs = append(jobs, installerJobs...)
		}
	}

	return jobs, parseFailures, nil
}

// markProvisioned writes the Archive/Timestamp/Suite/Component/Architecture
// rows and the Provisioned sentinel for every component+architecture this
// plan covered (spec §4.5 step 7). Nothing reads the Provisioned rows back:
// the rerun skip check and --ignore-provisioned go by Observation rows
// (downloader.alreadyObserved).
func (p *Pipeline) markProvisioned(archive, timestamp, suite string, plan *releasePlan) error {
	return p.db.Update(func(tx *bbolt.Tx) error {
		if err := snapstore.ArchiveRepository.Update(&snapstore.Archive{Name: archive}, tx); err != nil {
			return err
		}

		if err := snapstore.EnsureTimestamp(archive, timestamp, tx); err != nil {
			return err
		}

		if err := snapstore.SuiteRepository.Update(&snapstore.Suite{Archive: archive, Name: suite}, tx); err != nil {
			return err
		}

		for _, component := range plan.Components {
			if err := snapstore.ComponentRepository.Update(&snapstore.Component{Archive: archive, Suite: suite, Name: component}, tx); err != nil {
				return err
			}

			architectures := plan.Architectures
			if len(architectures) == 0 {
				architectures = []string{""}
			}

			for _, arch := range architectures {
				if arch != "" {
					if err := snapstore.ArchitectureRepository.Update(&snapstore.Architecture{Name: arch}, tx); err != nil {
						return err
					}
				}

				if err := snapstore.ProvisionedRepository.Update(&snapstore.Provisioned{
					Archive:      archive,
					Timestamp:    timestamp,
					Suite:        suite,
					Component:    component,
					Architecture: arch,
				}, tx); err != nil {
					return err
				}
			}
		}

		return nil
	})
}
