package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vexsearch/offstore/internal/config"
	"github.com/vexsearch/offstore/internal/match"
	"github.com/vexsearch/offstore/internal/transform"
	"github.com/vexsearch/offstore/internal/version"
)

const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// usageError marks a failure caused by the invocation rather than the
// environment.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func usagef(format string, args ...any) error {
	return &usageError{err: fmt.Errorf(format, args...)}
}

// rootOptions are the persistent flags and the process streams.
type rootOptions struct {
	configFile string
	logLevel   string
	logFormat  string

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func newRootCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "offstore",
		Short: "Bulk column updates for offline datasets in object storage",
		Long: `offstore rewrites one column across every partition of an offline dataset.
Each changed partition is backed up before it is overwritten. Runs are dry
by default; pass --execute to write.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetIn(opts.stdin)
	cmd.SetOut(opts.stdout)
	cmd.SetErr(opts.stderr)
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (default: $OFFSTORE_CONFIG)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "log format: json or text")

	cmd.AddCommand(newBatchUpdateCmd(opts))
	cmd.AddCommand(newCleanupBackupsCmd(opts))
	cmd.AddCommand(newVersionCmd(opts))
	return cmd
}

// execute runs the CLI and maps the outcome to an exit code.
func execute(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	opts := &rootOptions{stdin: stdin, stdout: stdout, stderr: stderr}
	cmd := newRootCmd(opts)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return exitSuccess
	}
	fmt.Fprintln(stderr, "offstore:", err)
	if isUsageError(err) {
		return exitUserError
	}
	return exitSysError
}

func isUsageError(err error) bool {
	var ue *usageError
	switch {
	case errors.As(err, &ue),
		errors.Is(err, match.ErrInvalidSpecification),
		errors.Is(err, transform.ErrUnsupportedTransform),
		errors.Is(err, transform.ErrInvalidParameters),
		errors.Is(err, config.ErrUnresolvedDataset):
		return true
	}
	// cobra does not type its argument and flag group errors.
	msg := err.Error()
	for _, prefix := range cobraUsagePrefixes {
		if strings.HasPrefix(msg, prefix) {
			return true
		}
	}
	return false
}

var cobraUsagePrefixes = []string{
	"unknown command",
	"accepts ",
	"required flag",
	"if any flags in the group",
	"at least one of the flags in the group",
}

// loadConfig reads the config file and applies the persistent flags.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configFile)
	if err != nil {
		return nil, &usageError{err: err}
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if o.logFormat != "" {
		cfg.LogFormat = o.logFormat
	}
	return cfg, nil
}
