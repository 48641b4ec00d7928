// Package report aggregates per-partition results into the batch report,
// renders it for operators and persists the run and failure artifacts.
package report

import (
	"sort"
	"time"

	"github.com/vexsearch/offstore/internal/backup"
	"github.com/vexsearch/offstore/internal/mutate"
)

// Mode names how a run touched the dataset.
type Mode string

const (
	ModeDryRun Mode = "dry_run"
	ModeMutate Mode = "mutate"
)

// Failure is one failed partition.
type Failure struct {
	Path    string       `json:"path"`
	Pass    mutate.Pass  `json:"pass"`
	Class   mutate.Class `json:"error_type"`
	Message string       `json:"message"`
	Time    time.Time    `json:"timestamp"`
}

// Validation is the independent recount of an exact change.
type Validation struct {
	OldValue string `json:"old_value"`
	NewValue string `json:"new_value"`
	OldCount int64  `json:"old_count"`
	NewCount int64  `json:"new_count"`
	Expected int    `json:"expected"`
	Mismatch bool   `json:"mismatch"`
	Error    string `json:"error,omitempty"`
}

// Cleanup summarizes deleted backups.
type Cleanup struct {
	Deleted int      `json:"deleted"`
	Failed  []string `json:"failed,omitempty"`
}

// Report is the Batch Report of one invocation.
type Report struct {
	FormatVersion int       `json:"format_version"`
	RunID         string    `json:"run_id"`
	Dataset       string    `json:"dataset"`
	Location      string    `json:"location"`
	Column        string    `json:"column"`
	Change        string    `json:"change"`
	Mode          Mode      `json:"mode"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	Stage         string    `json:"stage"`

	Partitions   int    `json:"partitions"`
	Candidates   int    `json:"candidates"`
	PruneOutcome string `json:"prune_outcome,omitempty"`
	NewColumn    bool   `json:"new_column,omitempty"`

	// Counted is the number of rows selected by the counting pass.
	Counted   int            `json:"counted"`
	KeyCounts map[string]int `json:"key_counts,omitempty"`

	Succeeded     int `json:"succeeded"`
	Failed        int `json:"failed"`
	Matched       int `json:"matched"`
	Updated       int `json:"updated"`
	Deduplicated  int `json:"deduplicated"`
	TimeFallbacks int `json:"time_fallbacks,omitempty"`

	// Uncounted is the number of partitions the counting pass could not read
	// in a run that stopped before mutating.
	Uncounted int `json:"uncounted,omitempty"`

	NoMatches   bool `json:"no_matches,omitempty"`
	Declined    bool `json:"declined,omitempty"`
	Interrupted bool `json:"interrupted,omitempty"`

	Failures   []Failure       `json:"failures,omitempty"`
	Backups    []backup.Record `json:"backups,omitempty"`
	Estimate   *Estimate       `json:"estimate,omitempty"`
	Validation *Validation     `json:"validation,omitempty"`
	Cleanup    *Cleanup        `json:"cleanup,omitempty"`
}

// Elapsed returns the wall time of the run.
func (r *Report) Elapsed() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Add folds one mutating-pass result into the totals.
func (r *Report) Add(res mutate.Result, at time.Time) {
	if res.Failed() {
		r.Failed++
		r.Failures = append(r.Failures, Failure{
			Path: res.Path, Pass: mutate.PassMutate, Class: res.ErrorClass, Message: res.Error, Time: at,
		})
		return
	}
	r.Succeeded++
	r.Matched += res.Matched
	r.Updated += res.Updated
	r.Deduplicated += res.Deduplicated
	r.TimeFallbacks += res.TimeFallbacks
	if res.Backup != nil {
		r.Backups = append(r.Backups, *res.Backup)
	}
}

// AddCountFailure records a partition that failed the counting pass in a
// run that stops before mutating.
func (r *Report) AddCountFailure(res mutate.Result, at time.Time) {
	r.Failed++
	r.Uncounted++
	r.Failures = append(r.Failures, Failure{
		Path: res.Path, Pass: mutate.PassCount, Class: res.ErrorClass, Message: res.Error, Time: at,
	})
}

// Total is the number of partitions with a final result.
func (r *Report) Total() int {
	return r.Succeeded + r.Failed
}

// SortedKeys returns the match keys by descending count, then by key.
func (r *Report) SortedKeys() []string {
	keys := make([]string, 0, len(r.KeyCounts))
	for k := range r.KeyCounts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ci, cj := r.KeyCounts[keys[i]], r.KeyCounts[keys[j]]
		if ci != cj {
			return ci > cj
		}
		return keys[i] < keys[j]
	})
	return keys
}
