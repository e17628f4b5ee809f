package cmd

import (
	"github.com/spf13/cobra"
	"github.com/tsylvester/paynless-framework-sub003/cmd/job"
	"github.com/tsylvester/paynless-framework-sub003/cmd/start"
	"github.com/tsylvester/paynless-framework-sub003/pkg/log"
)

// Version is stamped at build time with -ldflags "-X ...cmd.Version=...".
var Version = "dev"

// Root returns the dialectic command tree.
func Root() *cobra.Command {
	var logLevel string

	root := &cobra.Command{
		Use:          "dialectic",
		Short:        "Dialectic job orchestration engine",
		Version:      Version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if logLevel == "" {
				return nil
			}
			return log.SetLevel(logLevel)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Usage()
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override DIALECTIC_LOG_LEVEL for this invocation")

	root.AddCommand(start.Cmd, job.Cmd)
	return root
}

// Execute runs the command tree against os.Args.
func Execute() error {
	return Root().Execute()
}
