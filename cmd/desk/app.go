package main

import (
	"fmt"

	"github.com/zulandar/listingdesk/internal/config"
	"github.com/zulandar/listingdesk/internal/conversation"
	"github.com/zulandar/listingdesk/internal/db"
	"github.com/zulandar/listingdesk/internal/identity"
	"github.com/zulandar/listingdesk/internal/integration"
	"github.com/zulandar/listingdesk/internal/notify"
	"github.com/zulandar/listingdesk/internal/pipeline"
	"github.com/zulandar/listingdesk/internal/workflow"
	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"gorm.io/gorm"
)

// services is the wired application graph shared by the commands.
type services struct {
	cfg       *config.Config
	db        *gorm.DB
	messages  *conversation.Store
	inbound   *pipeline.Inbound
	outbound  *pipeline.Outbound
	engine    *workflow.Engine
	workflows *workflow.Store
	scheduler *workflow.Scheduler
}

func connectFromConfig(configPath string) (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	return cfg, gormDB, nil
}

// integrationOptions maps provider settings from cfg.
func integrationOptions(cfg *config.Config) integration.Options {
	opts := integration.Options{SendTimeout: cfg.Outbound.SendTimeout}
	if g := cfg.OAuth.Google; g.ClientID != "" {
		opts.GoogleOAuth = &oauth2.Config{
			ClientID:     g.ClientID,
			ClientSecret: g.ClientSecret,
			Endpoint:     integration.GoogleEndpoint,
			Scopes:       []string{gmail.GmailModifyScope},
		}
	}
	return opts
}

func buildServices(cfg *config.Config, gdb *gorm.DB) (*services, error) {
	s := &services{cfg: cfg, db: gdb}
	var err error

	s.messages, err = conversation.NewStore(conversation.StoreOpts{DB: gdb, UnassignedAgentID: cfg.Identity.UnassignedAgentID})
	if err != nil {
		return nil, err
	}
	integ := integrationOptions(cfg)
	s.outbound, err = pipeline.NewOutbound(pipeline.OutboundOpts{DB: gdb, Store: s.messages, Integrations: integ})
	if err != nil {
		return nil, err
	}

	notifier, err := notify.FromConfig(cfg.Notify)
	if err != nil {
		return nil, err
	}
	exec, err := workflow.NewExecutor(workflow.ExecutorOpts{
		DB:       gdb,
		Sender:   s.outbound.WorkflowSender(),
		Notifier: notifier,
	})
	if err != nil {
		return nil, err
	}
	s.engine, err = workflow.NewEngine(workflow.EngineOpts{DB: gdb, Runner: exec, ActionTimeout: cfg.Workflows.ActionTimeout})
	if err != nil {
		return nil, err
	}
	s.workflows, err = workflow.NewStore(gdb)
	if err != nil {
		return nil, err
	}
	s.scheduler, err = workflow.NewScheduler(workflow.SchedulerOpts{DB: gdb, Engine: s.engine, Concurrency: cfg.Workflows.SweepConcurrency})
	if err != nil {
		return nil, err
	}

	resolver := identity.NewResolver(gdb, identity.Options{
		DefaultCountryCode: cfg.Identity.DefaultCountryCode,
		UnassignedAgentID:  cfg.Identity.UnassignedAgentID,
		Agents:             cfg.Identity.Agents,
	})
	s.inbound, err = pipeline.NewInbound(pipeline.InboundOpts{
		DB:           gdb,
		Resolver:     resolver,
		Store:        s.messages,
		Dispatcher:   s.engine,
		Integrations: integ,
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func servicesFromConfig(configPath string) (*services, error) {
	cfg, gdb, err := connectFromConfig(configPath)
	if err != nil {
		return nil, err
	}
	return buildServices(cfg, gdb)
}
