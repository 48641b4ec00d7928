package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vexsearch/offstore/internal/version"
)

func newVersionCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprint(opts.stdout, version.String())
		},
	}
}
