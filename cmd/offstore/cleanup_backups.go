package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/vexsearch/offstore/internal/batch"
	"github.com/vexsearch/offstore/internal/gc"
	"github.com/vexsearch/offstore/internal/report"
)

type cleanupOptions struct {
	reportPath  string
	dataset     string
	olderThan   time.Duration
	autoConfirm bool
}

func newCleanupBackupsCmd(root *rootOptions) *cobra.Command {
	o := &cleanupOptions{}
	cmd := &cobra.Command{
		Use:   "cleanup-backups",
		Short: "Delete partition backups",
		Long: `cleanup-backups deletes the backups listed in a run report (--report), or
every backup of a dataset older than --older-than.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd, root)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.reportPath, "report", "", "run report (*_run.json) whose backups are deleted")
	f.StringVar(&o.dataset, "dataset", "", "dataset whose old backups are swept")
	f.DurationVar(&o.olderThan, "older-than", gc.DefaultConfig().MinBackupAge, "minimum backup age for a sweep")
	f.BoolVarP(&o.autoConfirm, "yes", "y", false, "do not ask for confirmation")
	cmd.MarkFlagsMutuallyExclusive("report", "dataset")
	cmd.MarkFlagsOneRequired("report", "dataset")
	return cmd
}

func (o *cleanupOptions) run(cmd *cobra.Command, root *rootOptions) error {
	if o.olderThan <= 0 {
		return usagef("--older-than must be positive")
	}
	var rep *report.Report
	if o.reportPath != "" {
		var err error
		if rep, err = report.Load(o.reportPath); err != nil {
			return &usageError{err: err}
		}
		if len(rep.Backups) == 0 {
			fmt.Fprintln(root.stdout, "the report lists no backups")
			return nil
		}
	}

	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	var location string
	if rep == nil {
		if location, err = cfg.Dataset.ResolveLocation(o.dataset); err != nil {
			return err
		}
	}

	ctx := cmd.Context()
	rt, err := newRuntime(ctx, cfg, root)
	if err != nil {
		return err
	}
	defer rt.Close()

	prompt := fmt.Sprintf("delete backups under %s older than %s?", location, o.olderThan)
	if rep != nil {
		prompt = fmt.Sprintf("delete the %d backups of run %s?", len(rep.Backups), rep.RunID)
	}
	if !o.autoConfirm {
		ok, err := batch.NewPrompter(root.stdin, root.stdout).Confirm(ctx, prompt)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(root.stdout, "cancelled")
			return nil
		}
	}

	collector := rt.collector(o.olderThan)
	var res *gc.Result
	if rep != nil {
		res, err = collector.DeleteRecords(ctx, rep.Backups)
	} else {
		res, err = collector.Sweep(ctx, location, time.Now())
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(root.stdout, "deleted %s backups, retained %s, %d errors in %s\n",
		humanize.Comma(int64(len(res.Deleted))), humanize.Comma(int64(res.Retained)), len(res.Errors),
		res.Duration.Round(time.Millisecond))
	return errors.Join(res.Errors...)
}
