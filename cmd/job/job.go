package job

import "github.com/spf13/cobra"

var server string

// Cmd is the parent command for job operations.
var Cmd = &cobra.Command{
	Use:   "job",
	Short: "Submit and inspect generation jobs",
}

func init() {
	Cmd.PersistentFlags().StringVar(&server, "server", "http://localhost:8080", "Dialectic server base URL")
	Cmd.AddCommand(submitCmd, getCmd, blockerCmd)
}
