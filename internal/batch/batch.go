// Package batch runs a batch update of one dataset: it samples the schema,
// counts matching rows, asks for confirmation, mutates partitions under a
// bounded worker pool and reports.
package batch

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vexsearch/offstore/internal/backup"
	"github.com/vexsearch/offstore/internal/config"
	"github.com/vexsearch/offstore/internal/gc"
	"github.com/vexsearch/offstore/internal/logging"
	"github.com/vexsearch/offstore/internal/match"
	"github.com/vexsearch/offstore/internal/metrics"
	"github.com/vexsearch/offstore/internal/mutate"
	"github.com/vexsearch/offstore/internal/partition"
	"github.com/vexsearch/offstore/internal/prune"
	"github.com/vexsearch/offstore/internal/query"
	"github.com/vexsearch/offstore/internal/report"
	"github.com/vexsearch/offstore/pkg/objectstore"
)

var (
	ErrNoPartitions  = errors.New("no partitions found")
	ErrSchemaSample  = errors.New("no partition could be sampled")
	ErrNoConfirmer   = errors.New("confirmation required but no confirmer configured")
	ErrNilSpec       = errors.New("match specification is required")
	ErrRunInProgress = errors.New("orchestrator is already running")
)

// sampleAttempts is how many partitions the schema stage tries to read.
const sampleAttempts = 3

// Request is one batch update invocation.
type Request struct {
	Dataset string
	Spec    match.Spec
	Filters []match.Filter

	DryRun         bool
	Deduplicate    bool
	SkipValidation bool
	CleanupBackups bool

	// Workers overrides both pool sizes when > 0.
	Workers int
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Config  *config.Config
	Source  *partition.Source
	Backups backup.Store
	// Pruner may be nil, in which case every partition is a candidate.
	Pruner *prune.Pruner
	// Validator recounts values after a mutation; nil skips validation.
	Validator *query.Poller
	// Collector deletes this run's backups when cleanup is requested.
	Collector *gc.Collector
	Confirmer Confirmer
	Logger    *logging.Logger
	Now       func() time.Time
}

// Orchestrator drives the batch update state machine.
type Orchestrator struct {
	cfg       *config.Config
	source    *partition.Source
	worker    *mutate.Worker
	pruner    *prune.Pruner
	validator *query.Poller
	collector *gc.Collector
	confirmer Confirmer
	logger    *logging.Logger
	now       func() time.Time

	stage   atomic.Int32
	running atomic.Bool
}

// New returns an orchestrator.
func New(d Deps) *Orchestrator {
	cfg := d.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := d.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	now := d.Now
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		cfg:       cfg,
		source:    d.Source,
		worker:    mutate.NewWorker(d.Source, d.Backups, logger),
		pruner:    d.Pruner,
		validator: d.Validator,
		collector: d.Collector,
		confirmer: d.Confirmer,
		logger:    logger,
		now:       now,
	}
}

// Stage returns the current stage.
func (o *Orchestrator) Stage() Stage {
	return Stage(o.stage.Load())
}

func (o *Orchestrator) setStage(ctx context.Context, s Stage) {
	o.stage.Store(int32(s))
	metrics.SetStage(int(s))
	o.logger.WithContext(ctx).Debug("stage", "stage", s.String())
}

// Run executes one batch update. The returned report is never nil; an
// error means the run ended in StageFailed before any partition was
// mutated. Per-partition failures are reported, not returned.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*report.Report, error) {
	rep := &report.Report{
		RunID:     uuid.NewString(),
		Dataset:   req.Dataset,
		Mode:      report.ModeMutate,
		StartedAt: o.now(),
	}
	if req.DryRun {
		rep.Mode = report.ModeDryRun
	}
	if !o.running.CompareAndSwap(false, true) {
		return rep, ErrRunInProgress
	}
	defer o.running.Store(false)

	ctx = logging.ContextWithRunID(ctx, rep.RunID)
	ctx = logging.ContextWithDataset(ctx, req.Dataset)
	log := o.logger.WithContext(ctx)
	o.setStage(ctx, StageIdle)

	fail := func(err error) (*report.Report, error) {
		o.setStage(ctx, StageFailed)
		rep.Stage = StageFailed.String()
		rep.FinishedAt = o.now()
		log.Error("batch update failed", "error", err)
		return rep, err
	}
	if req.Spec == nil {
		return fail(ErrNilSpec)
	}
	spec := req.Spec
	rep.Column = spec.Target()
	rep.Change = match.Describe(spec)
	_, isTransform := spec.(*match.Transform)

	location, err := o.cfg.Dataset.ResolveLocation(req.Dataset)
	if err != nil {
		return fail(err)
	}
	rep.Location = location
	listed, err := o.source.List(ctx, location)
	if err != nil {
		return fail(fmt.Errorf("list %s: %w", location, err))
	}
	if len(listed) == 0 {
		return fail(fmt.Errorf("%w under %s", ErrNoPartitions, location))
	}
	rep.Partitions = len(listed)

	o.setStage(ctx, StageSampleSchema)
	columns, err := o.sampleSchema(ctx, listed)
	if err != nil {
		return fail(err)
	}
	rep.NewColumn = !slices.Contains(columns, spec.Target())
	log.Info("sampled schema", "columns", columns, "target", spec.Target(), "new_column", rep.NewColumn)
	if rep.NewColumn && !isTransform {
		rep.NoMatches = true
		return o.finish(ctx, rep, req)
	}

	candidates := o.candidates(ctx, spec, req.Filters, listed, rep)
	countWorkers, mutateWorkers := o.cfg.Batch.GetCountWorkers(), o.cfg.Batch.GetMutateWorkers()
	if req.Workers > 0 {
		countWorkers, mutateWorkers = req.Workers, req.Workers
	}
	opts := mutate.Options{
		Filters:         req.Filters,
		DryRun:          req.DryRun,
		Deduplicate:     req.Deduplicate,
		IdentityColumn:  o.cfg.Dataset.IdentityColumn,
		EventTimeColumn: o.cfg.Dataset.EventTimeColumn,
		EventTimeBump:   o.cfg.Batch.EventTimeBump,
		Now:             o.now,
	}

	toMutate := candidates
	if !rep.NewColumn {
		o.setStage(ctx, StageCounting)
		countOpts := opts
		countOpts.CountOnly = true
		counted := o.runPass(ctx, mutate.PassCount, candidates, countWorkers, spec, countOpts)

		rep.KeyCounts = make(map[string]int)
		var countFailures []mutate.Result
		toMutate = nil
		for _, res := range counted.Results {
			if res.Failed() {
				countFailures = append(countFailures, res)
				toMutate = append(toMutate, res.Path)
				continue
			}
			rep.Counted += res.Matched
			for k, n := range res.KeyCounts {
				rep.KeyCounts[k] += n
			}
			if res.Matched > 0 {
				toMutate = append(toMutate, res.Path)
			} else {
				rep.Add(res, o.now())
			}
		}
		log.Info("counting pass finished", "matched", rep.Counted, "files", len(counted.Results),
			"failed", len(countFailures), "keys", len(rep.KeyCounts))

		halt := counted.Interrupted || (rep.Counted == 0 && !isTransform)
		if halt {
			rep.Interrupted = counted.Interrupted
			rep.NoMatches = !counted.Interrupted && len(countFailures) == 0
			for _, res := range countFailures {
				rep.AddCountFailure(res, o.now())
			}
			return o.finish(ctx, rep, req)
		}
	}

	if !req.DryRun {
		o.setStage(ctx, StageConfirming)
		ok, err := o.confirm(ctx, confirmPrompt(rep, len(toMutate)))
		if err != nil {
			return fail(err)
		}
		if !ok {
			rep.Declined = true
			log.Info("batch update declined at confirmation")
			return o.finish(ctx, rep, req)
		}
	}

	o.setStage(ctx, StageMutating)
	mutated := o.runPass(ctx, mutate.PassMutate, toMutate, mutateWorkers, spec, opts)
	rowsByFile := make([]int, 0, len(mutated.Results))
	for _, res := range mutated.Results {
		rep.Add(res, o.now())
		if res.Updated > 0 {
			rowsByFile = append(rowsByFile, res.OriginalRows)
		}
	}
	rep.Interrupted = mutated.Interrupted
	if req.DryRun {
		rep.Estimate = report.EstimateRun(rowsByFile, mutateWorkers)
	}

	if !req.DryRun && !req.SkipValidation && !rep.Interrupted {
		if exact, ok := spec.(*match.Exact); ok && o.validator != nil {
			rep.Validation = o.validate(ctx, req.Dataset, exact, rep.Updated)
		}
	}
	if req.CleanupBackups && !req.DryRun && len(rep.Backups) > 0 && rep.Failed == 0 {
		o.cleanupBackups(ctx, rep)
	}
	return o.finish(ctx, rep, req)
}

func (o *Orchestrator) finish(ctx context.Context, rep *report.Report, req Request) (*report.Report, error) {
	o.setStage(ctx, StageReporting)
	rep.FinishedAt = o.now()
	o.logger.WithContext(ctx).Info("batch update finished",
		"mode", rep.Mode, "files", rep.Total(), "succeeded", rep.Succeeded, "failed", rep.Failed,
		"updated", rep.Updated, "backups", len(rep.Backups), "interrupted", rep.Interrupted,
		"elapsed", rep.Elapsed().Round(time.Millisecond).String())
	o.setStage(ctx, StageDone)
	rep.Stage = StageDone.String()
	return rep, nil
}

func (o *Orchestrator) confirm(ctx context.Context, prompt string) (bool, error) {
	if o.confirmer == nil {
		return false, ErrNoConfirmer
	}
	return o.confirmer.Confirm(ctx, prompt)
}

func confirmPrompt(rep *report.Report, files int) string {
	if rep.NewColumn {
		return fmt.Sprintf("column %q does not exist in %s; every filtered row of %d partitions will receive a value (%s). Continue?",
			rep.Column, rep.Dataset, files, rep.Change)
	}
	return fmt.Sprintf("%d rows in %d partitions of %s will be changed (%s). Continue?",
		rep.Counted, files, rep.Dataset, rep.Change)
}

// sampleSchema returns the columns of the first readable partition.
func (o *Orchestrator) sampleSchema(ctx context.Context, listed []objectstore.ObjectInfo) ([]string, error) {
	var errs []error
	for _, obj := range listed[:min(len(listed), sampleAttempts)] {
		snap, err := o.source.Read(ctx, obj.Key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		return snap.Partition.Columns, nil
	}
	return nil, fmt.Errorf("%w: %w", ErrSchemaSample, errors.Join(errs...))
}

func (o *Orchestrator) candidates(ctx context.Context, spec match.Spec, filters []match.Filter, listed []objectstore.ObjectInfo, rep *report.Report) []string {
	if o.pruner == nil {
		keys := make([]string, len(listed))
		for i, obj := range listed {
			keys[i] = obj.Key
		}
		rep.Candidates = len(keys)
		return keys
	}
	res := o.pruner.Prune(ctx, spec, filters, listed)
	rep.PruneOutcome = string(res.Outcome)
	rep.Candidates = len(res.Files)
	return res.Keys()
}
