package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zulandar/listingdesk/internal/integration"
	"github.com/zulandar/listingdesk/internal/models"
	"golang.org/x/oauth2"
	"golang.org/x/term"
)

func newIntegrationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "integration",
		Short: "Manage a user's provider integrations",
	}

	cmd.AddCommand(newIntegrationConnectCmd())
	return cmd
}

func newIntegrationConnectCmd() *cobra.Command {
	var (
		configPath  string
		user        string
		account     string
		redirectURL string
	)

	cmd := &cobra.Command{
		Use:   "connect <twilio|whatsapp|gmail|meta>",
		Short: "Store credentials for a provider",
		Long: `Stores provider credentials for a user. Secrets are prompted for and never
taken from flags.

  twilio    account SID, auth token and sending number
  whatsapp  phone number id and Cloud API access token
  gmail     OAuth authorization code exchanged for a refresh token (--account is the mailbox)
  meta      page access token (--account is the page id)`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{models.ProviderTwilio, models.ProviderWhatsApp, models.ProviderGmail, models.ProviderMeta},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIntegrationConnect(cmd, configPath, user, args[0], account, redirectURL)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Listingdesk config file")
	cmd.Flags().StringVar(&user, "user", "", "user id (required)")
	cmd.Flags().StringVar(&account, "account", "", "gmail mailbox address or meta page id")
	cmd.Flags().StringVar(&redirectURL, "redirect-url", "http://localhost", "OAuth redirect URL registered with Google")
	cmd.MarkFlagRequired("user")
	return cmd
}

func runIntegrationConnect(cmd *cobra.Command, configPath, user, provider, account, redirectURL string) error {
	cfg, gdb, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	ctx := context.Background()
	out := cmd.OutOrStdout()
	p := newPrompter(cmd.InOrStdin(), out)

	switch provider {
	case models.ProviderTwilio:
		settings := map[string]any{
			"account_sid": p.line("Account SID"),
			"auth_token":  p.secret("Auth token"),
			"from_number": p.line("From number"),
		}
		if _, err := integration.SaveConfig(ctx, gdb, user, provider, settings); err != nil {
			return err
		}
	case models.ProviderWhatsApp:
		settings := map[string]any{
			"phone_number_id": p.line("Phone number ID"),
			"access_token":    p.secret("Access token"),
		}
		if _, err := integration.SaveConfig(ctx, gdb, user, provider, settings); err != nil {
			return err
		}
	case models.ProviderGmail:
		if account == "" {
			return fmt.Errorf("--account is required for gmail")
		}
		oc := integrationOptions(cfg).GoogleOAuth
		if oc == nil {
			return fmt.Errorf("oauth.google is not configured")
		}
		oc.RedirectURL = redirectURL
		fmt.Fprintf(out, "Open this URL and approve access:\n\n  %s\n\n",
			oc.AuthCodeURL(user, oauth2.AccessTypeOffline, oauth2.ApprovalForce))
		tok, err := oc.Exchange(ctx, p.line("Authorization code"))
		if err != nil {
			return fmt.Errorf("exchange code: %w", err)
		}
		if _, err := integration.SaveToken(ctx, gdb, user, provider, tok, account, ""); err != nil {
			return err
		}
	case models.ProviderMeta:
		if account == "" {
			return fmt.Errorf("--account (page id) is required for meta")
		}
		tok := &oauth2.Token{AccessToken: p.secret("Page access token"), TokenType: "Bearer"}
		if _, err := integration.SaveToken(ctx, gdb, user, provider, tok, "", account); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown provider %q", provider)
	}

	fmt.Fprintf(out, "Connected %s for %s\n", provider, user)
	return nil
}

// prompter reads answers from in. Secrets are read without echo when in
// is a terminal.
type prompter struct {
	in  io.Reader
	out io.Writer
	r   *bufio.Reader
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	return &prompter{in: in, out: out, r: bufio.NewReader(in)}
}

func (p *prompter) line(label string) string {
	fmt.Fprintf(p.out, "%s: ", label)
	s, _ := p.r.ReadString('\n')
	return strings.TrimSpace(s)
}

func (p *prompter) secret(label string) string {
	f, ok := p.in.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return p.line(label)
	}
	fmt.Fprintf(p.out, "%s: ", label)
	b, err := term.ReadPassword(int(f.Fd()))
	fmt.Fprintln(p.out)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}
