package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/listingdesk/internal/pipeline"
)

func newSendCmd() *cobra.Command {
	var (
		configPath string
		in         pipeline.SendInput
		user       string
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a message to a contact",
		Long:  "Sends a message through the user's connected integration and records it in the contact's conversation.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(cmd, configPath, user, in)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Listingdesk config file")
	cmd.Flags().StringVar(&user, "user", "", "sending user id (required)")
	cmd.Flags().StringVar(&in.ContactID, "contact", "", "contact id (required)")
	cmd.Flags().StringVar(&in.Channel, "channel", "", "channel: sms, whatsapp, email, facebook, instagram (required)")
	cmd.Flags().StringVar(&in.Subject, "subject", "", "email subject")
	cmd.Flags().StringVar(&in.Body, "body", "", "message body")
	cmd.Flags().StringVar(&in.HTML, "html", "", "email HTML body")
	cmd.Flags().StringVar(&in.ThreadID, "thread", "", "provider thread id to reply in")
	cmd.MarkFlagRequired("user")
	cmd.MarkFlagRequired("contact")
	cmd.MarkFlagRequired("channel")
	return cmd
}

func runSend(cmd *cobra.Command, configPath, user string, in pipeline.SendInput) error {
	svc, err := servicesFromConfig(configPath)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	res, err := svc.outbound.Send(context.Background(), user, in)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Message %s: %s\n", res.Message.ID, res.Message.Status)
	if res.Result != nil && !res.Result.Success {
		return fmt.Errorf("send failed: %s", res.Result.Error)
	}
	return nil
}
