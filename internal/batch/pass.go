package batch

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vexsearch/offstore/internal/logging"
	"github.com/vexsearch/offstore/internal/match"
	"github.com/vexsearch/offstore/internal/mutate"
)

// progressPercent is how often, in percent of files, a pass logs progress.
var progressPercent = map[mutate.Pass]int{
	mutate.PassCount:  10,
	mutate.PassMutate: 5,
}

// passResult holds the results of the files a pass completed, in
// submission order.
type passResult struct {
	Results     []mutate.Result
	Interrupted bool
	Elapsed     time.Duration
}

// runPass processes keys on at most workers goroutines. Cancelling ctx
// stops submission; files already running finish.
func (o *Orchestrator) runPass(ctx context.Context, pass mutate.Pass, keys []string, workers int, spec match.Spec, opts mutate.Options) passResult {
	start := time.Now()
	log := o.logger.WithContext(ctx)
	total := len(keys)
	step := max(1, total*progressPercent[pass]/100)

	results := make([]mutate.Result, total)
	finished := make([]bool, total)
	var completed atomic.Int64

	var g errgroup.Group
	g.SetLimit(max(1, workers))
	submitted := 0
	for i, key := range keys {
		if ctx.Err() != nil {
			break
		}
		submitted++
		g.Go(func() error {
			fileCtx := logging.ContextWithPartition(ctx, key)
			results[i] = o.worker.Process(fileCtx, key, spec, opts)
			finished[i] = true
			if n := int(completed.Add(1)); n%step == 0 || n == total {
				log.Info("progress", "pass", pass, "done", n, "total", total,
					"percent", n*100/total, "elapsed", time.Since(start).Round(time.Millisecond).String())
			}
			return nil
		})
	}
	_ = g.Wait()

	out := passResult{Interrupted: submitted < total, Elapsed: time.Since(start)}
	for i := range results {
		if finished[i] {
			out.Results = append(out.Results, results[i])
		}
	}
	if out.Interrupted {
		log.Warn("pass interrupted", "pass", pass, "completed", len(out.Results), "total", total,
			"elapsed", out.Elapsed.Round(time.Millisecond).String())
	}
	return out
}
