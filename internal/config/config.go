// Package config provides YAML-based configuration loading for Listingdesk.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level Listingdesk configuration, loaded from listingdesk.yaml.
type Config struct {
	Database  DatabaseConfig `yaml:"database"`
	Server    ServerConfig   `yaml:"server"`
	Webhooks  WebhookConfig  `yaml:"webhooks"`
	Identity  IdentityConfig `yaml:"identity"`
	Workflows WorkflowConfig `yaml:"workflows"`
	OAuth     OAuthConfig    `yaml:"oauth"`
	Notify    NotifyConfig   `yaml:"notify"`
	Outbound  OutboundConfig `yaml:"outbound"`
}

// DatabaseConfig holds connection settings for the CRM datastore.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // mysql, postgres, sqlite
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Path     string `yaml:"path"` // sqlite file
	SSLMode  string `yaml:"sslmode"`
}

// ServerConfig configures the webhook/API HTTP server.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// WebhookConfig holds provider handshake and signature secrets.
type WebhookConfig struct {
	MetaVerifyToken     string `yaml:"meta_verify_token"`
	MetaAppSecret       string `yaml:"meta_app_secret"`
	WhatsAppVerifyToken string `yaml:"whatsapp_verify_token"`
	WhatsAppAppSecret   string `yaml:"whatsapp_app_secret"`
	TwilioAuthToken     string `yaml:"twilio_auth_token"` // X-Twilio-Signature key
	PublicURL           string `yaml:"public_url"`        // base URL Twilio posts to, when behind a proxy
}

// IdentityConfig controls contact matching and assignment.
type IdentityConfig struct {
	DefaultCountryCode string   `yaml:"default_country_code"`
	UnassignedAgentID  string   `yaml:"unassigned_agent_id"`
	Agents             []string `yaml:"agents"` // round-robin pool for new contacts
}

// WorkflowConfig controls action execution and the scheduler sweep.
type WorkflowConfig struct {
	ActionTimeout    time.Duration `yaml:"action_timeout"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
	SweepConcurrency int           `yaml:"sweep_concurrency"`
}

// OAuthConfig holds client credentials for token-based integrations.
type OAuthConfig struct {
	Google OAuthClient `yaml:"google"`
}

// OAuthClient is a single OAuth application registration.
type OAuthClient struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

// NotifyConfig configures the agent notification backends.
type NotifyConfig struct {
	Slack    SlackConfig    `yaml:"slack"`
	Discord  DiscordConfig  `yaml:"discord"`
	Telegram TelegramConfig `yaml:"telegram"`
}

// SlackConfig holds Slack bot settings.
type SlackConfig struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

// DiscordConfig holds Discord bot settings.
type DiscordConfig struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

// TelegramConfig holds Telegram bot settings.
type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	ChatID   int64  `yaml:"chat_id"`
}

// OutboundConfig controls provider calls.
type OutboundConfig struct {
	SendTimeout time.Duration `yaml:"send_timeout"`
}

// Enabled reports whether the Slack backend has enough settings to run.
func (s SlackConfig) Enabled() bool { return s.BotToken != "" && s.ChannelID != "" }

// Enabled reports whether the Discord backend has enough settings to run.
func (d DiscordConfig) Enabled() bool { return d.BotToken != "" && d.ChannelID != "" }

// Enabled reports whether the Telegram backend has enough settings to run.
func (t TelegramConfig) Enabled() bool { return t.BotToken != "" && t.ChatID != 0 }

// Load reads a YAML config file from path and returns a validated Config.
// A .env file next to the working directory is loaded first (if present)
// so ${VAR} references in the YAML can pick up secrets.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse expands environment references and unmarshals YAML bytes into a
// validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "mysql"
	}
	switch c.Database.Driver {
	case "mysql":
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
		if c.Database.User == "" {
			c.Database.User = "root"
		}
	case "postgres":
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 5432
		}
		if c.Database.User == "" {
			c.Database.User = "postgres"
		}
		if c.Database.SSLMode == "" {
			c.Database.SSLMode = "disable"
		}
	case "sqlite":
		if c.Database.Path == "" {
			c.Database.Path = "listingdesk.db"
		}
	}
	if c.Database.Name == "" {
		c.Database.Name = "listingdesk"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Identity.DefaultCountryCode == "" {
		c.Identity.DefaultCountryCode = "61"
	}
	c.Identity.DefaultCountryCode = strings.TrimPrefix(c.Identity.DefaultCountryCode, "+")
	if c.Identity.UnassignedAgentID == "" {
		c.Identity.UnassignedAgentID = "unassigned"
	}
	if c.Workflows.ActionTimeout == 0 {
		c.Workflows.ActionTimeout = 30 * time.Second
	}
	if c.Workflows.SweepInterval == 0 {
		c.Workflows.SweepInterval = time.Minute
	}
	if c.Workflows.SweepConcurrency == 0 {
		c.Workflows.SweepConcurrency = 4
	}
	if c.Outbound.SendTimeout == 0 {
		c.Outbound.SendTimeout = 20 * time.Second
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Database.Driver {
	case "mysql", "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not one of mysql, postgres, sqlite", c.Database.Driver))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port %d is out of range", c.Server.Port))
	}
	for _, r := range c.Identity.DefaultCountryCode {
		if r < '0' || r > '9' {
			errs = append(errs, "identity.default_country_code must be digits")
			break
		}
	}
	if c.Workflows.ActionTimeout < 0 {
		errs = append(errs, "workflows.action_timeout must not be negative")
	}
	if c.Workflows.SweepConcurrency < 0 {
		errs = append(errs, "workflows.sweep_concurrency must not be negative")
	}
	for i, a := range c.Identity.Agents {
		if strings.TrimSpace(a) == "" {
			errs = append(errs, fmt.Sprintf("identity.agents[%d] is empty", i))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
