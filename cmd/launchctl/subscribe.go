package main

import (
	"fmt"
	"net/mail"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/arfve/launchsite/internal/mailerlite"
)

func subscribeCmd() *cobra.Command {
	var (
		name  string
		group string
	)

	cmd := &cobra.Command{
		Use:   "subscribe EMAIL",
		Short: "Add an email address to the launch list",
		Long: `Add an email address to the MailerLite launch list as an active
subscriber.

Examples:
  # Subscribe to the default group
  launchctl subscribe fan@example.com --name Ada

  # Subscribe to the survey group
  launchctl subscribe fan@example.com --group 123456`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			email := args[0]
			if _, err := mail.ParseAddress(email); err != nil {
				return fmt.Errorf("invalid email address %q: %w", email, err)
			}

			client := mailerlite.NewClient(cfg.MailerLite, logger)
			sub, err := client.Subscribe(cmd.Context(), mailerlite.SubscribeParams{
				Email:   email,
				Name:    name,
				GroupID: group,
			})
			if err != nil {
				logger.Error("subscribe failed", zap.String("email", email), zap.Error(err))
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "subscribed %s (id %s)\n", sub.Email, sub.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "subscriber name")
	cmd.Flags().StringVar(&group, "group", "", "group id (default: configured group)")

	return cmd
}
