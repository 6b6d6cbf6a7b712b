package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newSweepCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one workflow scheduler sweep",
		Long:  "Evaluates time-driven workflows once and resumes parked runs whose wait has elapsed. Suitable for an external cron.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Listingdesk config file")
	return cmd
}

func runSweep(cmd *cobra.Command, configPath string) error {
	svc, err := servicesFromConfig(configPath)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	rep, err := svc.scheduler.Sweep(context.Background())
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Started %d run(s), resumed %d run(s)\n", len(rep.Started), len(rep.Resumed))
	for _, o := range append(rep.Started, rep.Resumed...) {
		fmt.Fprintf(out, "  %s  %s  %s\n", o.RunID, o.WorkflowName, o.Status)
	}
	for _, e := range rep.Errors {
		fmt.Fprintf(out, "  error: %s\n", e)
	}
	return nil
}
