package batch

import (
	"context"
	"fmt"

	"github.com/vexsearch/offstore/internal/match"
	"github.com/vexsearch/offstore/internal/query"
	"github.com/vexsearch/offstore/internal/report"
	"github.com/vexsearch/offstore/internal/value"
)

// validate recounts the old and new values of an exact change through the
// query service. Failures and mismatches are warnings.
func (o *Orchestrator) validate(ctx context.Context, dataset string, spec *match.Exact, updated int) *report.Validation {
	log := o.logger.WithContext(ctx)
	v := &report.Validation{
		OldValue: value.Format(spec.Old),
		NewValue: value.Format(spec.New),
		Expected: updated,
	}
	table := o.cfg.Query.TableFor(dataset)

	count := func(val any) (int64, error) {
		sql, args := query.CountEqual(table, spec.Column, val)
		return o.validator.Count(ctx, "validation", query.CountColumn, sql, args...)
	}
	var err error
	if v.OldCount, err = count(spec.Old); err != nil {
		v.Error = fmt.Sprintf("count %s: %v", v.OldValue, err)
		log.Warn("validation query failed", "error", err)
		return v
	}
	if v.NewCount, err = count(spec.New); err != nil {
		v.Error = fmt.Sprintf("count %s: %v", v.NewValue, err)
		log.Warn("validation query failed", "error", err)
		return v
	}
	v.Mismatch = v.NewCount != int64(updated)
	if v.Mismatch {
		log.Warn("validation mismatch", "new_value", v.NewValue, "expected", updated, "actual", v.NewCount)
	} else {
		log.Info("validation passed", "old_count", v.OldCount, "new_count", v.NewCount)
	}
	return v
}
