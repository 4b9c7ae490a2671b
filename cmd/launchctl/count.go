package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/arfve/launchsite/internal/mailerlite"
	"github.com/arfve/launchsite/internal/subscribers"
)

func countCmd() *cobra.Command {
	var refresh bool

	cmd := &cobra.Command{
		Use:   "count",
		Short: "Print the active subscriber count",
		Long: `Count active MailerLite subscribers using the same pagination as the
server (exact strategy, then fallback).

Examples:
  # Print the count
  launchctl count

  # Force a recount even if a cached value exists
  launchctl count --refresh`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := mailerlite.NewClient(cfg.MailerLite, logger)
			counter := subscribers.NewCounter(client, cfg.MailerLite.CacheTTL, logger)

			get := counter.GetCount
			if refresh {
				get = counter.RefreshCount
			}

			count, err := get(cmd.Context())
			if err != nil {
				logger.Error("count failed", zap.Error(err))
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%d / %d\n", count, cfg.LiveCount.Total)
			return nil
		},
	}

	cmd.Flags().BoolVar(&refresh, "refresh", false, "force a fresh recount")

	return cmd
}
