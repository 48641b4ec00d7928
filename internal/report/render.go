package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// MaxInlineFailures is the number of failures printed in the summary; the
// rest are only in the failure artifact.
const MaxInlineFailures = 10

// Render writes the human-readable batch report.
func Render(w io.Writer, r *Report) error {
	var b strings.Builder
	line := func(format string, args ...any) {
		fmt.Fprintf(&b, format+"\n", args...)
	}

	line("=== batch update report ===")
	line("dataset:     %s", r.Dataset)
	line("column:      %s", r.Column)
	line("change:      %s", r.Change)
	line("mode:        %s", r.Mode)
	line("run id:      %s", r.RunID)
	if r.PruneOutcome != "" {
		line("partitions:  %s listed, %s candidates (%s)",
			humanize.Comma(int64(r.Partitions)), humanize.Comma(int64(r.Candidates)), r.PruneOutcome)
	} else {
		line("partitions:  %s", humanize.Comma(int64(r.Partitions)))
	}
	if r.NewColumn {
		line("new column:  every filtered row is a candidate")
	} else {
		line("matched:     %s rows in counting pass", humanize.Comma(int64(r.Counted)))
	}
	if len(r.KeyCounts) > 1 {
		for _, k := range r.SortedKeys() {
			line("  %-40s %s", k, humanize.Comma(int64(r.KeyCounts[k])))
		}
	}

	switch {
	case r.Uncounted > 0 && r.Updated == 0:
		line("files:       %d total, %d succeeded, %d failed", r.Total(), r.Succeeded, r.Failed)
		line("warning:     %d partitions could not be counted; they may hold matches and were not updated", r.Uncounted)
	case r.NoMatches:
		line("no matching records; nothing to do")
	case r.Declined:
		line("cancelled at confirmation; no changes made")
	default:
		line("files:       %d total, %d succeeded, %d failed", r.Total(), r.Succeeded, r.Failed)
		line("rows:        %s matched, %s updated", humanize.Comma(int64(r.Matched)), humanize.Comma(int64(r.Updated)))
		if r.Deduplicated > 0 {
			line("dedup:       %s superseded rows dropped", humanize.Comma(int64(r.Deduplicated)))
		}
		if r.TimeFallbacks > 0 {
			line("warning:     %s rows fell back to the current time", humanize.Comma(int64(r.TimeFallbacks)))
		}
	}
	if r.Interrupted {
		line("interrupted: remaining partitions were not submitted")
	}
	line("elapsed:     %s", r.Elapsed().Round(time.Millisecond))

	if len(r.Backups) > 0 {
		var size int64
		for _, bk := range r.Backups {
			size += bk.Size
		}
		line("backups:     %d (%s, %s)", len(r.Backups), humanize.IBytes(uint64(size)), r.Backups[0].Mode)
	}

	if v := r.Validation; v != nil {
		switch {
		case v.Error != "":
			line("validation:  skipped, query service error: %s", v.Error)
		case v.Mismatch:
			line("validation:  WARNING %q now counts %s, expected %s; %q counts %s",
				v.NewValue, humanize.Comma(v.NewCount), humanize.Comma(int64(v.Expected)),
				v.OldValue, humanize.Comma(v.OldCount))
		default:
			line("validation:  %q counts %s, %q counts %s",
				v.OldValue, humanize.Comma(v.OldCount), v.NewValue, humanize.Comma(v.NewCount))
		}
	}
	if c := r.Cleanup; c != nil {
		line("cleanup:     %d backups deleted, %d failed", c.Deleted, len(c.Failed))
	}

	if len(r.Failures) > 0 {
		line("failures:")
		for i, f := range r.Failures {
			if i == MaxInlineFailures {
				line("  ... and %d more (see failure report)", len(r.Failures)-MaxInlineFailures)
				break
			}
			line("  [%s/%s] %s: %s", f.Pass, f.Class, f.Path, f.Message)
		}
	}

	if e := r.Estimate; e != nil {
		line("estimate (advisory only): a real run would take about %s", e.Duration)
		line("  %d files, %s rows, %d workers, x%.1f overhead", e.Files, humanize.Comma(int64(e.Rows)), e.Workers, e.Multiplier)
		for _, t := range Tiers {
			if n := e.Tiers[t.Name]; n > 0 {
				line("  %-8s %d files", t.Name, n)
			}
		}
	}
	if r.Mode == ModeDryRun {
		line("DRY RUN: no changes were made")
	}

	_, err := io.WriteString(w, b.String())
	return err
}
