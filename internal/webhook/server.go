// Package webhook serves provider callbacks and the messaging and
// workflow API over HTTP.
package webhook

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/listingdesk/internal/config"
	"github.com/zulandar/listingdesk/internal/conversation"
	"github.com/zulandar/listingdesk/internal/inbound"
	"github.com/zulandar/listingdesk/internal/pipeline"
	"github.com/zulandar/listingdesk/internal/workflow"
	"gorm.io/gorm"
)

// UserHeader carries the authenticated agent id set by the fronting gateway.
const UserHeader = "X-User-ID"

// maxBody caps webhook payloads.
const maxBody = 1 << 20

// Deps are the services the HTTP surface calls into.
type Deps struct {
	DB        *gorm.DB
	Inbound   *pipeline.Inbound
	Outbound  *pipeline.Outbound
	Messages  *conversation.Store
	Engine    *workflow.Engine
	Workflows *workflow.Store
	Webhooks  config.WebhookConfig
}

func (d Deps) validate() error {
	switch {
	case d.DB == nil:
		return fmt.Errorf("webhook: db is required")
	case d.Inbound == nil:
		return fmt.Errorf("webhook: inbound pipeline is required")
	case d.Outbound == nil:
		return fmt.Errorf("webhook: outbound pipeline is required")
	case d.Messages == nil:
		return fmt.Errorf("webhook: message store is required")
	case d.Engine == nil:
		return fmt.Errorf("webhook: workflow engine is required")
	case d.Workflows == nil:
		return fmt.Errorf("webhook: workflow store is required")
	}
	return nil
}

// StartOpts holds configuration for the HTTP server.
type StartOpts struct {
	Deps
	Port int
	Out  io.Writer
}

// NewRouter builds the gin router with every route registered.
func NewRouter(d Deps) (*gin.Engine, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}
	useJSONFieldNames()
	router := gin.New()
	router.Use(gin.Recovery())
	if err := registerRoutes(router, d); err != nil {
		return nil, err
	}
	return router, nil
}

// Start launches the HTTP server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Port <= 0 {
		opts.Port = 8080
	}
	gin.SetMode(gin.ReleaseMode)
	router, err := NewRouter(opts.Deps)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Listening on http://localhost:%d\n", opts.Port)
	}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("webhook: %w", err)
	}
	return nil
}

func registerRoutes(router *gin.Engine, d Deps) error {
	norm := make(map[string]inbound.Normalizer)
	for _, name := range []string{inbound.ProviderTwilioSMS, inbound.ProviderTwilioVoice, inbound.ProviderMeta, inbound.ProviderWhatsApp} {
		n, err := inbound.ForProvider(name)
		if err != nil {
			return fmt.Errorf("webhook: %w", err)
		}
		norm[name] = n
	}

	router.GET("/healthz", handleHealth(d.DB))

	hooks := router.Group("/webhooks")
	twilio := hooks.Group("/twilio", twilioSignature(d.Webhooks.TwilioAuthToken, d.Webhooks.PublicURL))
	twilio.POST("/sms", handleTwilioForm(d.Inbound, norm[inbound.ProviderTwilioSMS]))
	twilio.POST("/sms/status", handleTwilioSMSStatus(d.Inbound))
	twilio.POST("/voice/status", handleTwilioForm(d.Inbound, norm[inbound.ProviderTwilioVoice]))
	hooks.GET("/meta", handleVerify(d.Webhooks.MetaVerifyToken))
	hooks.POST("/meta", handleMeta(d.Inbound, norm[inbound.ProviderMeta], d.Webhooks.MetaAppSecret))
	hooks.GET("/whatsapp", handleVerify(d.Webhooks.WhatsAppVerifyToken))
	hooks.POST("/whatsapp", handleWhatsApp(d.Inbound, norm[inbound.ProviderWhatsApp], d.Webhooks.WhatsAppAppSecret))
	hooks.POST("/gmail", handleGmailPush(d.Inbound))
	hooks.POST("/email", handleEmail(d.Inbound))

	api := router.Group("/api", requireUser())
	api.POST("/messages", handleSendMessage(d.Outbound))
	api.PATCH("/messages/:id/read", handleMarkRead(d.Messages))
	api.DELETE("/messages/:id", handleDeleteMessage(d.Messages))
	api.POST("/events", handleEvent(d.Engine))
	api.POST("/workflows", handleCreateWorkflow(d.Workflows))
	api.GET("/workflows", handleListWorkflows(d.Workflows))
	api.PATCH("/workflows/:id", handleSetWorkflowActive(d.Workflows))
	api.GET("/workflows/:id/runs", handleWorkflowRuns(d.Workflows))
	api.POST("/runs/:id/cancel", handleCancelRun(d.Workflows, d.Engine))
	api.GET("/contacts/:id/messages", handleContactMessages(d.DB, d.Messages))
	return nil
}

func handleHealth(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader(UserHeader) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": UserHeader + " header is required"})
			return
		}
		c.Next()
	}
}

func userID(c *gin.Context) string {
	return c.GetHeader(UserHeader)
}
