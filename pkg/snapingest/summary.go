package snapingest

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/olekukonko/tablewriter"

	"github.com/function61/snapshotd/pkg/byteshuman"
	"github.com/function61/snapshotd/pkg/duration"
)

// WriteSummary renders report as a table to w (spec §4.5 step 7's
// end-of-run report), one row per (archive, timestamp) processed plus a
// totals row, followed by any per-record failures.
func WriteSummary(w io.Writer, report *RunReport) {
	tbl := tablewriter.NewWriter(w)
	tbl.SetAutoFormatHeaders(false)
	tbl.SetHeader([]string{"Archive", "Timestamp", "Downloaded", "Skipped", "Failed", "Drifted", "Bytes moved", "Elapsed"})

	var totalDownloaded, totalSkipped, totalFailed, totalDrifted, totalBytes int64

	for _, tr := range report.Timestamps {
		tbl.Append([]string{
			tr.Archive,
			tr.Timestamp,
			fmt.Sprintf("%d", tr.Stats.Downloaded()),
			fmt.Sprintf("%d", tr.Stats.Skipped()),
			fmt.Sprintf("%d", tr.Stats.Failed()),
			fmt.Sprintf("%d", tr.Stats.Drifted()),
			byteshuman.Humanize(uint64(tr.Stats.BytesMoved())),
			duration.Humanize(tr.Elapsed),
		})

		totalDownloaded += tr.Stats.Downloaded()
		totalSkipped += tr.Stats.Skipped()
		totalFailed += tr.Stats.Failed()
		totalDrifted += tr.Stats.Drifted()
		totalBytes += tr.Stats.BytesMoved()
	}

	tbl.SetFooter([]string{
		"TOTAL", "",
		fmt.Sprintf("%d", totalDownloaded),
		fmt.Sprintf("%d", totalSkipped),
		fmt.Sprintf("%d", totalFailed),
		fmt.Sprintf("%d", totalDrifted),
		byteshuman.Humanize(uint64(totalBytes)),
		duration.Humanize(report.Elapsed),
	})

	tbl.Render()

	for _, tr := range report.Timestamps {
		for _, failure := range tr.Failures {
			fmt.Fprintf(w, "FAILED %s @ %s: %s: %v\n", tr.Archive, tr.Timestamp, failure.RepoPath, failure.Err)
		}
		for _, drift := range tr.Drifts {
			fmt.Fprintf(w, "DRIFT %s @ %s: %s (%s): %s\n", tr.Archive, tr.Timestamp, drift.RepoPath, drift.Sha256Hex, drift.Reason)
		}
	}
}

// WriteSummaryToStdoutIfTerminal is the CLI entrypoint's convenience
// wrapper: the full table only makes sense on an interactive terminal,
// same rationale as stoclient's upload progress UI choosing between a
// termbox table and a null listener based on isatty.
func WriteSummaryToStdoutIfTerminal(report *RunReport) {
	if isatty.IsTerminal(os.Stdout.Fd()) {
		WriteSummary(os.Stdout, report)
		return
	}

	for _, tr := range report.Timestamps {
		fmt.Fprintf(os.Stdout, "%s @ %s: downloaded=%d skipped=%d failed=%d drifted=%d bytes=%s elapsed=%s\n",
			tr.Archive, tr.Timestamp,
			tr.Stats.Downloaded(), tr.Stats.Skipped(), tr.Stats.Failed(), tr.Stats.Drifted(),
			byteshuman.Humanize(uint64(tr.Stats.BytesMoved())), duration.Humanize(tr.Elapsed))

		for _, failure := range tr.Failures {
			fmt.Fprintf(os.Stdout, "FAILED %s: %v\n", failure.RepoPath, failure.Err)
		}
		for _, drift := range tr.Drifts {
			fmt.Fprintf(os.Stdout, "DRIFT %s (%s): %s\n", drift.RepoPath, drift.Sha256Hex, drift.Reason)
		}
	}
}
