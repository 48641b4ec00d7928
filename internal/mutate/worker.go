// Package mutate processes one partition end to end: read, deduplicate,
// select, compute new values and, outside dry runs, back up then overwrite.
package mutate

import (
	"context"
	"errors"
	"time"

	"github.com/vexsearch/offstore/internal/backup"
	"github.com/vexsearch/offstore/internal/dedup"
	"github.com/vexsearch/offstore/internal/eventtime"
	"github.com/vexsearch/offstore/internal/logging"
	"github.com/vexsearch/offstore/internal/match"
	"github.com/vexsearch/offstore/internal/metrics"
	"github.com/vexsearch/offstore/internal/partition"
	"github.com/vexsearch/offstore/internal/value"
)

// Status is the outcome of processing one partition.
type Status string

const (
	StatusNoUpdates Status = "no_updates"
	StatusUpdated   Status = "updated"
	StatusDryRun    Status = "dry_run"
	StatusError     Status = "error"
)

// Pass labels the pass a worker runs in.
type Pass string

const (
	PassCount  Pass = "count"
	PassMutate Pass = "mutate"
)

// Options control one invocation of Process.
type Options struct {
	Filters []match.Filter
	// CountOnly stops after selection.
	CountOnly bool
	DryRun    bool

	Deduplicate    bool
	IdentityColumn string
	// EventTimeColumn is detected from the schema when empty.
	EventTimeColumn string
	// EventTimeBump is added to the event time of changed rows. 0 disables.
	EventTimeBump time.Duration

	Now func() time.Time
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// Result is the per-file outcome.
type Result struct {
	Path         string         `json:"path"`
	Status       Status         `json:"status"`
	Size         int64          `json:"size"`
	OriginalRows int            `json:"original_rows"`
	Deduplicated int            `json:"deduplicated"`
	Matched      int            `json:"matched"`
	Updated      int            `json:"updated"`
	KeyCounts    map[string]int `json:"key_counts,omitempty"`
	// NewColumn is set when the target column did not exist in the partition.
	NewColumn       bool           `json:"new_column,omitempty"`
	TimeFallbacks   int            `json:"time_fallbacks,omitempty"`
	EventTimeBumped int            `json:"event_time_bumped,omitempty"`
	Backup          *backup.Record `json:"backup,omitempty"`
	ErrorClass      Class          `json:"error_class,omitempty"`
	Error           string         `json:"error,omitempty"`
	Duration        time.Duration  `json:"duration"`
}

// Failed reports whether the file errored.
func (r Result) Failed() bool {
	return r.Status == StatusError
}

// Worker is the File Mutation Worker.
type Worker struct {
	source  *partition.Source
	backups backup.Store
	logger  *logging.Logger
}

// NewWorker returns a worker. backups may be nil for count-only and
// dry-run use; a mutating run without a backup store fails per file.
func NewWorker(source *partition.Source, backups backup.Store, logger *logging.Logger) *Worker {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Worker{source: source, backups: backups, logger: logger}
}

// ErrNoBackupStore is returned when a mutation is attempted without backups.
var ErrNoBackupStore = errors.New("no backup store configured")

// Process runs the worker on one partition. Errors are reported in the
// result, never returned.
func (w *Worker) Process(ctx context.Context, path string, spec match.Spec, opts Options) Result {
	start := time.Now()
	pass := PassMutate
	if opts.CountOnly {
		pass = PassCount
	}
	res := w.process(ctx, path, spec, opts)
	res.Duration = time.Since(start)
	metrics.ObserveFile(string(pass), string(res.Status), res.Duration.Seconds(), res.Matched)
	if res.Status == StatusUpdated {
		metrics.AddRowsUpdated(res.Updated)
	}

	log := w.logger.WithContext(logging.ContextWithPartition(ctx, path))
	if res.Failed() {
		log.Warn("partition failed", "pass", pass, "error_class", res.ErrorClass, "error", res.Error)
	} else {
		log.Debug("partition processed", "pass", pass, "status", res.Status,
			"rows", res.OriginalRows, "matched", res.Matched, "updated", res.Updated)
	}
	return res
}

func (w *Worker) fail(res Result, err error) Result {
	res.Status = StatusError
	res.ErrorClass = Classify(err)
	res.Error = err.Error()
	return res
}

func (w *Worker) process(ctx context.Context, path string, spec match.Spec, opts Options) Result {
	res := Result{Path: path}
	if err := ctx.Err(); err != nil {
		return w.fail(res, err)
	}

	snap, err := w.source.Read(ctx, path)
	if err != nil {
		return w.fail(res, err)
	}
	res.Size = int64(len(snap.Raw))
	p := snap.Partition
	res.OriginalRows = p.NumRows()

	eventCol := opts.EventTimeColumn
	if eventCol == "" {
		eventCol = eventtime.Detect(p.Columns)
	}
	if opts.Deduplicate {
		deduped, d := dedup.Deduplicate(p, opts.IdentityColumn, eventCol)
		p = deduped
		res.Deduplicated = d.Dropped
	}

	sel := match.Select(spec, p, opts.Filters)
	res.Matched = sel.Count()
	res.KeyCounts = sel.Keys
	res.NewColumn = !p.HasColumn(spec.Target())

	if opts.CountOnly {
		res.Status = countStatus(res.Matched)
		return res
	}
	if res.Matched == 0 {
		res.Status = StatusNoUpdates
		return res
	}

	out := p.Clone()
	target := spec.Target()
	out.AddColumn(target)
	var changed []int
	it := sel.Rows.Iterator()
	for it.HasNext() {
		i := int(it.Next())
		old := p.Get(i, target)
		nv, fellBack := match.Assign(spec, p, i)
		if fellBack {
			res.TimeFallbacks++
		}
		if res.NewColumn || !value.Equal(old, nv) {
			out.Set(i, target, nv)
			changed = append(changed, i)
		}
	}
	res.Updated = len(changed)
	if res.TimeFallbacks > 0 {
		w.logger.Warn("time extraction fell back to the current time",
			"partition", path, "rows", res.TimeFallbacks)
	}

	if res.Updated == 0 {
		res.Status = StatusNoUpdates
		return res
	}
	if opts.DryRun {
		res.Status = StatusDryRun
		return res
	}

	if opts.EventTimeBump > 0 && eventCol != "" && eventCol != target && out.HasColumn(eventCol) {
		for _, i := range changed {
			if bumped, ok := eventtime.Bump(out.Get(i, eventCol), opts.EventTimeBump); ok {
				out.Set(i, eventCol, bumped)
				res.EventTimeBumped++
			}
		}
	}

	if w.backups == nil {
		return w.fail(res, &partition.WriteError{Path: path, Stage: partition.StageBackup, Err: ErrNoBackupStore})
	}
	rec, err := w.backups.Create(ctx, snap, opts.now())
	metrics.ObserveBackup(w.backups.Mode(), err)
	if err != nil {
		return w.fail(res, &partition.WriteError{Path: path, Stage: partition.StageBackup, Err: err})
	}
	res.Backup = &rec

	// The backup exists; the overwrite is not interrupted by cancellation.
	if _, err := w.source.Write(context.WithoutCancel(ctx), path, out, snap.ETag); err != nil {
		return w.fail(res, err)
	}
	if opts.Deduplicate {
		metrics.AddRowsDeduplicated(res.Deduplicated)
	}
	res.Status = StatusUpdated
	return res
}

func countStatus(matched int) Status {
	if matched == 0 {
		return StatusNoUpdates
	}
	return StatusDryRun
}
