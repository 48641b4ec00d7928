// Package prune narrows the partition set of a run whose match only selects
// rows with a null target, using the indexed query service's per-file null
// counts. Any query failure falls back to the full file list.
package prune

import (
	"context"
	"fmt"
	"strings"

	"github.com/vexsearch/offstore/internal/logging"
	"github.com/vexsearch/offstore/internal/match"
	"github.com/vexsearch/offstore/internal/metrics"
	"github.com/vexsearch/offstore/internal/query"
	"github.com/vexsearch/offstore/internal/value"
	"github.com/vexsearch/offstore/pkg/objectstore"
)

// Outcome labels what the pruner did.
type Outcome string

const (
	OutcomePruned   Outcome = "pruned"
	OutcomeFallback Outcome = "fallback"
	OutcomeSkipped  Outcome = "skipped"
)

// Candidate is a partition kept by the pruner. NullRows is -1 when the file
// was kept without a count.
type Candidate struct {
	Key      string
	Size     int64
	NullRows int64
}

// Result is the narrowed file set.
type Result struct {
	Files   []Candidate
	Outcome Outcome
	// Reason explains a fallback or skip.
	Reason string
	// Unlisted counts catalog paths that matched no listed partition.
	Unlisted int
}

// Keys returns the candidate keys in order.
func (r Result) Keys() []string {
	keys := make([]string, len(r.Files))
	for i, f := range r.Files {
		keys[i] = f.Key
	}
	return keys
}

// Pruner is the File Set Pruner.
type Pruner struct {
	poller     *query.Poller
	table      string
	pathColumn string
	logger     *logging.Logger
}

// New returns a pruner querying table. A nil poller makes every call fall
// back to the full list.
func New(poller *query.Poller, table, pathColumn string, logger *logging.Logger) *Pruner {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Pruner{poller: poller, table: table, pathColumn: pathColumn, logger: logger}
}

// NullsByPath builds the aggregate counting null target rows per file.
func NullsByPath(table, pathColumn, column string, filters []match.Filter) (string, []any) {
	var b strings.Builder
	var args []any
	path := query.QuoteIdent(pathColumn)
	fmt.Fprintf(&b, "SELECT %s AS path, COUNT(*) AS %s FROM %s WHERE %s IS NULL",
		path, query.CountColumn, query.QuoteIdent(table), query.QuoteIdent(column))
	for _, f := range filters {
		if value.IsNull(f.Value) {
			fmt.Fprintf(&b, " AND %s IS NULL", query.QuoteIdent(f.Column))
			continue
		}
		s, _ := value.String(f.Value)
		fmt.Fprintf(&b, " AND CAST(%s AS VARCHAR) = ?", query.QuoteIdent(f.Column))
		args = append(args, s)
	}
	fmt.Fprintf(&b, " GROUP BY %s ORDER BY %s", path, path)
	return b.String(), args
}

// Prune returns the listed partitions holding at least one row with a null
// column. When spec does not select only null targets, or the query fails,
// returns no rows or names no listed partition, every listed partition is
// returned.
func (p *Pruner) Prune(ctx context.Context, spec match.Spec, filters []match.Filter, listed []objectstore.ObjectInfo) Result {
	if !match.TargetsAbsent(spec) {
		return p.all(listed, OutcomeSkipped, "match does not target null values")
	}
	if p.poller == nil {
		return p.all(listed, OutcomeFallback, "no query service configured")
	}

	sql, args := NullsByPath(p.table, p.pathColumn, spec.Target(), filters)
	rows, err := p.poller.Run(ctx, "prune", sql, args...)
	if err != nil {
		p.logger.Warn("pruning query failed, scanning every partition", "error", err)
		return p.all(listed, OutcomeFallback, err.Error())
	}
	if len(rows) == 0 {
		p.logger.Warn("pruning query returned no rows, scanning every partition")
		return p.all(listed, OutcomeFallback, "query returned no rows")
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		path, ok := value.String(row["path"])
		if !ok {
			continue
		}
		n, err := query.ToInt64(row[query.CountColumn])
		if err != nil || n <= 0 {
			continue
		}
		counts[path] += n
	}

	res := Result{Outcome: OutcomePruned}
	seen := make(map[string]bool, len(counts))
	for _, obj := range listed {
		for path, n := range counts {
			if pathMatches(path, obj.Key) {
				res.Files = append(res.Files, Candidate{Key: obj.Key, Size: obj.Size, NullRows: n})
				seen[path] = true
				break
			}
		}
	}
	res.Unlisted = len(counts) - len(seen)
	if len(res.Files) == 0 {
		// A catalog laid out differently from the store matches nothing.
		p.logger.Warn("no catalog path matches a listed partition, scanning every partition",
			"catalog_paths", len(counts))
		fb := p.all(listed, OutcomeFallback,
			fmt.Sprintf("none of %d catalog paths match a listed partition", len(counts)))
		fb.Unlisted = res.Unlisted
		return fb
	}
	metrics.IncPruneOutcome(string(res.Outcome))
	p.logger.Info("pruned partition set",
		"listed", len(listed), "kept", len(res.Files), "unlisted_paths", res.Unlisted)
	return res
}

func (p *Pruner) all(listed []objectstore.ObjectInfo, outcome Outcome, reason string) Result {
	res := Result{Outcome: outcome, Reason: reason, Files: make([]Candidate, len(listed))}
	for i, obj := range listed {
		res.Files[i] = Candidate{Key: obj.Key, Size: obj.Size, NullRows: -1}
	}
	metrics.IncPruneOutcome(string(outcome))
	return res
}

// pathMatches compares a catalog path, which may be a full URI such as
// s3://bucket/key, with an object key.
func pathMatches(path, key string) bool {
	if path == key {
		return true
	}
	return strings.HasSuffix(path, "/"+key)
}
