package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/vexsearch/offstore/internal/batch"
	"github.com/vexsearch/offstore/internal/config"
	"github.com/vexsearch/offstore/internal/match"
	"github.com/vexsearch/offstore/internal/report"
	"github.com/vexsearch/offstore/internal/transform"
	"github.com/vexsearch/offstore/internal/value"
)

type batchUpdateOptions struct {
	dataset string
	column  string

	singleUpdate    []string
	oldValue        string
	newValue        string
	mappingFile     string
	conditional     string
	conditionColumn string

	transformFn      string
	regexPattern     string
	regexReplacement string
	prefix           string
	suffix           string
	sourceColumn     string
	prefixPattern    string
	timeFormat       string
	toISO            bool
	onlyMissing      bool

	filterColumn string
	filterValue  string

	dryRun         bool
	execute        bool
	noDeduplicate  bool
	workers        int
	skipValidation bool
	cleanupBackups bool
	autoConfirm    bool

	metricsAddr string
	reportDir   string
}

func newBatchUpdateCmd(root *rootOptions) *cobra.Command {
	o := &batchUpdateOptions{}
	cmd := &cobra.Command{
		Use:   "batch-update",
		Short: "Change the values of one column across a dataset",
		Long: `batch-update selects rows with exactly one of --single-update, --mapping-file,
--conditional-mapping or --transform-function and rewrites the target column
in every partition that changes. The run is a dry run unless --execute is
given.`,
		Example: `  offstore batch-update --dataset orders --column status --single-update ABNORMAL,NORMAL
  offstore batch-update --dataset orders --column status --mapping-file map.csv --execute
  offstore batch-update --dataset orders --column day --transform-function extract_time_prefix --execute --yes`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd, root)
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.dataset, "dataset", "", "dataset id (required)")
	f.StringVar(&o.column, "column", "", "column to update (required)")

	f.StringArrayVar(&o.singleUpdate, "single-update", nil,
		"replace one value: OLD,NEW, split at the first comma (use --old-value/--new-value when OLD contains a comma)")
	f.StringVar(&o.oldValue, "old-value", "", "value to replace (use with --new-value)")
	f.StringVar(&o.newValue, "new-value", "", "replacement value (use with --old-value)")
	f.StringVar(&o.mappingFile, "mapping-file", "", "JSON object or CSV (old_value,new_value) of replacements")
	f.StringVar(&o.conditional, "conditional-mapping", "", "JSON rules, or @file, keyed by condition value")
	f.StringVar(&o.conditionColumn, "condition-column", "", "column the conditional mapping is keyed by")

	f.StringVar(&o.transformFn, "transform-function", "", "transform: "+strings.Join(transform.Names(), ", "))
	f.StringVar(&o.regexPattern, "regex-pattern", "", "regex_replace pattern")
	f.StringVar(&o.regexReplacement, "regex-replacement", "", "regex_replace replacement")
	f.StringVar(&o.prefix, "prefix", "", "prefix_suffix prefix")
	f.StringVar(&o.suffix, "suffix", "", "prefix_suffix suffix")
	f.StringVar(&o.sourceColumn, "source-column", "", "column read by copy_from_column and extract_time_prefix")
	f.StringVar(&o.prefixPattern, "prefix-pattern", "", "extract_time_prefix capture pattern")
	f.StringVar(&o.timeFormat, "time-format", transform.TimeFormatAuto, "extract_time_prefix strftime format or auto")
	f.BoolVar(&o.toISO, "to-iso", true, "extract_time_prefix writes ISO-8601 timestamps")
	f.BoolVar(&o.onlyMissing, "only-missing", false, "transform only rows where the column is null")

	f.StringVar(&o.filterColumn, "filter-column", "", "restrict the update to rows where this column equals --filter-value")
	f.StringVar(&o.filterValue, "filter-value", "", "value matched against --filter-column")

	f.BoolVar(&o.dryRun, "dry-run", true, "report what would change without writing")
	f.BoolVar(&o.execute, "execute", false, "write changes (disables --dry-run)")
	f.BoolVar(&o.noDeduplicate, "no-deduplicate", false, "keep rows sharing an identity key")
	f.IntVar(&o.workers, "batch-size", 0, "parallel partitions per pass (default from config)")
	f.BoolVar(&o.skipValidation, "skip-validation", false, "skip the recount after mutation")
	f.BoolVar(&o.cleanupBackups, "cleanup-backups", false, "delete this run's backups after a clean run")
	f.BoolVarP(&o.autoConfirm, "yes", "y", false, "do not ask for confirmation")
	f.BoolVar(&o.autoConfirm, "auto-confirm", false, "alias for --yes")

	f.StringVar(&o.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	f.StringVar(&o.reportDir, "report-dir", "", "directory for report artifacts (default from config)")

	_ = cmd.MarkFlagRequired("dataset")
	_ = cmd.MarkFlagRequired("column")
	cmd.MarkFlagsMutuallyExclusive("single-update", "old-value", "mapping-file", "conditional-mapping", "transform-function")
	cmd.MarkFlagsRequiredTogether("old-value", "new-value")
	cmd.MarkFlagsRequiredTogether("filter-column", "filter-value")
	return cmd
}

// params turns the flags into match parameters.
func (o *batchUpdateOptions) params(cmd *cobra.Command, cfg *config.Config) (match.Params, error) {
	p := match.Params{
		Column:          o.column,
		MappingFile:     o.mappingFile,
		ConditionColumn: o.conditionColumn,
		OnlyMissing:     o.onlyMissing,
	}
	flags := cmd.Flags()
	switch {
	case flags.Changed("single-update"):
		if len(o.singleUpdate) != 1 {
			return p, usagef("--single-update given %d times, want once", len(o.singleUpdate))
		}
		old, repl, ok := strings.Cut(o.singleUpdate[0], ",")
		if !ok {
			return p, usagef("--single-update takes OLD,NEW, got %q", o.singleUpdate[0])
		}
		p.Exact = &match.Pair{Old: value.FromLiteral(old), New: value.FromLiteral(repl)}
	case flags.Changed("old-value"):
		p.Exact = &match.Pair{Old: value.FromLiteral(o.oldValue), New: value.FromLiteral(o.newValue)}
	}

	if o.conditional != "" {
		p.Conditional = o.conditional
		if path, ok := strings.CutPrefix(o.conditional, "@"); ok {
			data, err := os.ReadFile(path)
			if err != nil {
				return p, usagef("conditional mapping: %w", err)
			}
			p.Conditional = string(data)
		}
	} else if o.conditionColumn != "" {
		return p, usagef("--condition-column requires --conditional-mapping")
	}

	if o.transformFn != "" {
		p.Transform = &transform.Config{
			Type:           o.transformFn,
			Pattern:        o.regexPattern,
			Replacement:    o.regexReplacement,
			Prefix:         o.prefix,
			Suffix:         o.suffix,
			SourceColumn:   o.sourceColumn,
			PrefixPattern:  o.prefixPattern,
			TimeFormat:     o.timeFormat,
			ToISO:          o.toISO,
			IdentityColumn: cfg.Dataset.IdentityColumn,
		}
	}
	return p, nil
}

func (o *batchUpdateOptions) filters() []match.Filter {
	if o.filterColumn == "" {
		return nil
	}
	return []match.Filter{{Column: o.filterColumn, Value: value.FromLiteral(o.filterValue)}}
}

func (o *batchUpdateOptions) run(cmd *cobra.Command, root *rootOptions) error {
	if o.execute && cmd.Flags().Changed("dry-run") && o.dryRun {
		return usagef("--execute and --dry-run are mutually exclusive")
	}
	dryRun := o.dryRun && !o.execute
	if o.workers < 0 {
		return usagef("--batch-size must not be negative")
	}

	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	if o.metricsAddr != "" {
		cfg.MetricsAddr = o.metricsAddr
	}
	if o.reportDir != "" {
		cfg.Batch.ReportDir = o.reportDir
	}
	if _, err := cfg.Dataset.ResolveLocation(o.dataset); err != nil {
		return err
	}

	// The match specification is checked before any object is touched.
	params, err := o.params(cmd, cfg)
	if err != nil {
		return err
	}
	spec, err := match.Build(params)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	rt, err := newRuntime(ctx, cfg, root)
	if err != nil {
		return err
	}
	defer rt.Close()

	var confirmer batch.Confirmer = batch.NewPrompter(root.stdin, root.stdout)
	if o.autoConfirm {
		confirmer = batch.AutoConfirm
	}
	orch := batch.New(batch.Deps{
		Config:    cfg,
		Source:    rt.source,
		Backups:   rt.backups,
		Pruner:    rt.pruner(o.dataset),
		Validator: rt.poller,
		Collector: rt.collector(0),
		Confirmer: confirmer,
		Logger:    rt.logger,
	})
	rep, runErr := orch.Run(ctx, batch.Request{
		Dataset:        o.dataset,
		Spec:           spec,
		Filters:        o.filters(),
		DryRun:         dryRun,
		Deduplicate:    !o.noDeduplicate,
		SkipValidation: o.skipValidation,
		CleanupBackups: o.cleanupBackups,
		Workers:        o.workers,
	})
	if runErr != nil {
		return runErr
	}

	if err := report.Render(root.stdout, rep); err != nil {
		return err
	}
	arts, err := report.Write(cfg.Batch.ReportDir, rep)
	if err != nil {
		// The run already happened; the printed report stands.
		rt.logger.Error("write report artifacts", "dir", cfg.Batch.ReportDir, "error", err)
		return nil
	}
	fmt.Fprintf(root.stdout, "run report: %s\n", arts.Run)
	if arts.FailureJSON != "" {
		fmt.Fprintf(root.stdout, "failure report: %s (%s failures)\n", arts.FailureJSON, humanize.Comma(int64(len(rep.Failures))))
	}
	return nil
}
