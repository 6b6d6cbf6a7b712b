package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newWorkflowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Workflow management commands",
	}

	cmd.AddCommand(newWorkflowImportCmd())
	cmd.AddCommand(newWorkflowListCmd())
	cmd.AddCommand(newWorkflowRunsCmd())
	cmd.AddCommand(newWorkflowActiveCmd("enable", true))
	cmd.AddCommand(newWorkflowActiveCmd("disable", false))
	cmd.AddCommand(newWorkflowCancelCmd())
	return cmd
}

func newWorkflowImportCmd() *cobra.Command {
	var configPath, user string

	cmd := &cobra.Command{
		Use:   "import <file.json>",
		Short: "Validate and store a workflow definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read workflow: %w", err)
			}
			svc, err := servicesFromConfig(configPath)
			if err != nil {
				return err
			}
			wf, err := svc.workflows.Create(context.Background(), user, data)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created workflow %s (%s)\n", wf.ID, wf.Name)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Listingdesk config file")
	cmd.Flags().StringVar(&user, "user", "", "owning user id (required)")
	cmd.MarkFlagRequired("user")
	return cmd
}

func newWorkflowListCmd() *cobra.Command {
	var configPath, user string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a user's workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := servicesFromConfig(configPath)
			if err != nil {
				return err
			}
			wfs, err := svc.workflows.List(context.Background(), user)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(wfs) == 0 {
				fmt.Fprintln(out, "No workflows found.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tACTIVE\tLAST RUN")
			for _, wf := range wfs {
				last := "-"
				if wf.LastRunAt != nil {
					last = wf.LastRunAt.Format("2006-01-02 15:04")
				}
				fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", wf.ID, wf.Name, wf.IsActive, last)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Listingdesk config file")
	cmd.Flags().StringVar(&user, "user", "", "owning user id (required)")
	cmd.MarkFlagRequired("user")
	return cmd
}

func newWorkflowRunsCmd() *cobra.Command {
	var (
		configPath string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "runs <workflow-id>",
		Short: "Show recent runs of a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := servicesFromConfig(configPath)
			if err != nil {
				return err
			}
			ctx := context.Background()
			if _, err := svc.workflows.Get(ctx, args[0]); err != nil {
				return err
			}
			runs, err := svc.workflows.Runs(ctx, args[0], limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "RUN\tEVENT\tSTATUS\tSTEP\tSTARTED\tERROR")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
					r.ID, r.EventType, r.Status, r.CurrentActionIndex, r.StartedAt.Format("2006-01-02 15:04:05"), r.Error)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Listingdesk config file")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to show")
	return cmd
}

func newWorkflowActiveCmd(use string, active bool) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   use + " <workflow-id>",
		Short: fmt.Sprintf("Set a workflow's active flag to %t", active),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := servicesFromConfig(configPath)
			if err != nil {
				return err
			}
			if err := svc.workflows.SetActive(context.Background(), args[0], active); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Workflow %s active=%t\n", args[0], active)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Listingdesk config file")
	return cmd
}

func newWorkflowCancelCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "cancel <run-id>",
		Short: "Cancel a pending or waiting workflow run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := servicesFromConfig(configPath)
			if err != nil {
				return err
			}
			run, err := svc.engine.Cancel(context.Background(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Run %s is now %s\n", run.ID, run.Status)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Listingdesk config file")
	return cmd
}
