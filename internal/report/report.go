// Package report prints the end-of-run summary and maps a run to an exit code.
package report

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"

	"github.com/aliskhannn/filigrane/internal/model"
)

// Exit codes of the command.
const (
	ExitOK      = 0 // every document was written, skips allowed
	ExitFailure = 1 // at least one document failed
	ExitUsage   = 2 // bad command line or configuration
)

// ExitCode returns the process exit code for a finished run.
func ExitCode(r model.BatchResult) int {
	if r.HasFailures() {
		return ExitFailure
	}
	return ExitOK
}

// Print writes the summary of r: succeeded, failed and skipped files,
// followed by the totals.
func Print(w io.Writer, r model.BatchResult) {
	succeeded := r.Succeeded()
	failed := r.Failed()

	if len(r.Outcomes) == 0 && len(r.Skipped) == 0 {
		fmt.Fprintln(w, "No documents found.")
		return
	}

	if len(succeeded) > 0 {
		var total int64
		fmt.Fprintf(w, "Succeeded (%d):\n", len(succeeded))
		for _, o := range succeeded {
			total += o.Bytes
			fmt.Fprintf(w, "  %s -> %s (%s)\n", o.Document.RelPath, o.OutputPath, humanize.Bytes(uint64(o.Bytes)))
		}
		if r.Mode == model.ModeAggregated {
			total = succeeded[0].Bytes
		}
		fmt.Fprintf(w, "  written: %s\n", humanize.Bytes(uint64(total)))
	}

	if len(failed) > 0 {
		fmt.Fprintf(w, "Failed (%d):\n", len(failed))
		for _, o := range failed {
			fmt.Fprintf(w, "  %s: %s\n", o.Document.RelPath, o.Reason())
		}
	}

	if len(r.Skipped) > 0 {
		fmt.Fprintf(w, "Skipped (%d):\n", len(r.Skipped))
		for _, s := range r.Skipped {
			reason := "skipped"
			if s.Reason != nil {
				reason = s.Reason.Error()
			}
			fmt.Fprintf(w, "  %s: %s\n", s.RelPath, reason)
		}
	}

	fmt.Fprintf(w, "\n%d succeeded, %d failed, %d skipped\n", len(succeeded), len(failed), len(r.Skipped))
}
