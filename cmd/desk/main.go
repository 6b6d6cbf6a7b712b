package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

const defaultConfigPath = "listingdesk.yaml"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "desk",
		Short:        "Listingdesk: real-estate CRM messaging core",
		Long:         "Listingdesk receives provider webhooks, keeps one conversation history per contact and runs agent workflows.",
		SilenceUsage: true,
	}

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newDBCmd())
	cmd.AddCommand(newSweepCmd())
	cmd.AddCommand(newSendCmd())
	cmd.AddCommand(newDispatchCmd())
	cmd.AddCommand(newWorkflowCmd())
	cmd.AddCommand(newIntegrationCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "desk %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
