package batch

import (
	"context"
	"fmt"

	"github.com/vexsearch/offstore/internal/report"
)

// cleanupBackups deletes the backups of this run after a second
// confirmation.
func (o *Orchestrator) cleanupBackups(ctx context.Context, rep *report.Report) {
	log := o.logger.WithContext(ctx)
	if o.collector == nil {
		log.Warn("backup cleanup requested but no collector configured")
		return
	}
	ok, err := o.confirm(ctx, fmt.Sprintf("delete the %d backups created by this run?", len(rep.Backups)))
	if err != nil || !ok {
		log.Info("backup cleanup skipped", "error", err)
		return
	}
	res, err := o.collector.DeleteRecords(ctx, rep.Backups)
	if err != nil {
		log.Warn("backup cleanup failed", "error", err)
		return
	}
	rep.Cleanup = &report.Cleanup{Deleted: len(res.Deleted)}
	for _, e := range res.Errors {
		rep.Cleanup.Failed = append(rep.Cleanup.Failed, e.Error())
	}
}
