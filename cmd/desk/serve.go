package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/listingdesk/internal/webhook"
	"github.com/zulandar/listingdesk/internal/workflow"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
		noSweep    bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook and API server",
		Long:  "Serves provider webhooks and the messaging/workflow API, and runs the workflow scheduler in the same process.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port, noSweep)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Listingdesk config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides server.port)")
	cmd.Flags().BoolVar(&noSweep, "no-sweep", false, "do not run the workflow scheduler")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int, noSweep bool) error {
	svc, err := servicesFromConfig(configPath)
	if err != nil {
		return err
	}
	if port <= 0 {
		port = svc.cfg.Server.Port
	}
	out := cmd.OutOrStdout()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(out, "\nReceived %s, shutting down...\n", sig)
		cancel()
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return webhook.Start(gctx, webhook.StartOpts{
			Deps: webhook.Deps{
				DB:        svc.db,
				Inbound:   svc.inbound,
				Outbound:  svc.outbound,
				Messages:  svc.messages,
				Engine:    svc.engine,
				Workflows: svc.workflows,
				Webhooks:  svc.cfg.Webhooks,
			},
			Port: port,
			Out:  out,
		})
	})
	if !noSweep {
		g.Go(func() error {
			return workflow.RunScheduler(gctx, svc.scheduler, svc.cfg.Workflows.SweepInterval, out)
		})
	}
	return g.Wait()
}
