package snapingest

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/function61/gokit/logex"
	"github.com/function61/gokit/ossignal"
	"github.com/function61/gokit/stopper"
	"github.com/spf13/cobra"

	"github.com/function61/snapshotd/pkg/snapfetch"
	"github.com/function61/snapshotd/pkg/snapstore"
)

// Entrypoint builds the "ingest" subcommand implementing the CLI surface of
// spec §6: positional local_directory, repeatable --archive/--suite/
// --component/--arch/--timestamp, and the mode switches of Flags.
func Entrypoint() *cobra.Command {
	var (
		archives      []string
		suites        []string
		components    []string
		architectures []string
		timestamps    []string
		flags         Flags
		verbose       bool
		debug         bool
		concurrency   int
	)

	cmd := &cobra.Command{
		Use:   "ingest local_directory",
		Short: "Ingests Debian archive snapshots into the local replica and provenance store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := args[0]

			sel, err := buildSelection(archives, suites, components, architectures, timestamps)
			if err != nil {
				return err
			}

			upstream := os.Getenv("SNAPSHOT_UPSTREAM")
			if upstream == "" {
				return fmt.Errorf("SNAPSHOT_UPSTREAM must be set")
			}

			dbPath := os.Getenv("SNAPSHOT_DB_URL")
			if dbPath == "" {
				return fmt.Errorf("SNAPSHOT_DB_URL must be set")
			}

			logger := log.New(os.Stderr, "", log.LstdFlags)
			logl := logex.Levels(logger)

			db, err := snapstore.Open(dbPath)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			if err := snapstore.EnsureBootstrapped(db); err != nil {
				return err
			}

			fetcher := snapfetch.New(snapfetch.DefaultConfig(), nil)

			lister := NewCachedTimestampLister(NewFallbackTimestampLister(
				NewMetasnapTimestampLister(fetcher),
				NewLocalFileTimestampLister(root)))

			pipeline := NewPipeline(db, fetcher, lister, root, upstream, concurrency, logger)

			workers := stopper.NewManager()
			go func() {
				logl.Info.Printf("got %s; stopping", <-ossignal.InterruptOrTerminate())
				workers.StopAllWorkersAndWait()
			}()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			go func() {
				<-workers.Stopper().Signal
				cancel()
			}()

			report, err := pipeline.Run(ctx, sel, flags)
			if report != nil {
				WriteSummaryToStdoutIfTerminal(report)
			}
			if err != nil {
				return err
			}

			for _, tr := range report.Timestamps {
				if tr.Stats.Failed() > 0 {
					return fmt.Errorf("ingestion completed with %d failed records", tr.Stats.Failed())
				}
			}

			return nil
		},
	}

	cmd.Flags().StringArrayVar(&archives, "archive", []string{"debian"}, "archive to ingest (repeatable)")
	cmd.Flags().StringArrayVar(&suites, "suite", []string{"unstable"}, "suite to ingest (repeatable)")
	cmd.Flags().StringArrayVar(&components, "component", []string{"main"}, "component to ingest (repeatable)")
	cmd.Flags().StringArrayVar(&architectures, "arch", nil, "architecture to ingest, or \"source\" for source packages (repeatable; default: every advertised architecture)")
	cmd.Flags().StringArrayVar(&timestamps, "timestamp", nil, "literal timestamp or lo:hi range (either side optional; repeatable)")
	cmd.Flags().BoolVar(&flags.CheckOnly, "check-only", false, "re-hash on-disk files against the store; do not download or write")
	cmd.Flags().BoolVar(&flags.ProvisionDB, "provision-db", false, "download and write provenance records")
	cmd.Flags().BoolVar(&flags.ProvisionDBOnly, "provision-db-only", false, "skip downloads; (re)write provenance records from indices already on disk")
	cmd.Flags().BoolVar(&flags.IgnoreProvisioned, "ignore-provisioned", false, "re-process tuples already marked provisioned")
	cmd.Flags().BoolVar(&flags.NoCleanPartFile, "no-clean-part-file", false, "keep .part files of aborted downloads instead of deleting them")
	cmd.Flags().BoolVar(&flags.SkipInstallerFiles, "skip-installer-files", false, "skip debian-installer pool entries")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "accepted; does not change log output (all levels are always logged)")
	cmd.Flags().BoolVar(&debug, "debug", false, "accepted; does not change log output (all levels are always logged)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 8, "number of concurrent file downloads")

	return cmd
}

// buildSelection translates the CLI's repeatable --timestamp values (each
// either a literal or a "lo:hi" range) into a Selection. Only one range
// selector is supported per run; a second range flag is a usage error
// (spec §6 allows repeatable --timestamp for literals, but the Selection
// model carries a single TimestampRange).
func buildSelection(archives, suites, components, architectures, timestamps []string) (Selection, error) {
	sel := Selection{Archives: archives, Suites: suites, Components: components, Architectures: architectures}

	for _, t := range timestamps {
		if strings.Contains(t, ":") {
			if sel.TimestampRange != nil {
				return sel, fmt.Errorf("snapingest: only one lo:hi --timestamp range is supported per run")
			}
			parts := strings.SplitN(t, ":", 2)
			sel.TimestampRange = &TimestampRangeSelector{Lo: parts[0], Hi: parts[1]}
		} else {
			sel.Timestamps = append(sel.Timestamps, t)
		}
	}

	return sel, nil
}
