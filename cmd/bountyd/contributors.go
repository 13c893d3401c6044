package main

import (
	"context"
	"fmt"

	"github.com/goliatone/go-bounties/core"
	"github.com/spf13/cobra"
)

func newContributorsCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contributors",
		Short: "Manage contributor payout accounts",
	}
	cmd.AddCommand(newContributorsLinkCommand(opts))
	return cmd
}

func newContributorsLinkCommand(opts *rootOptions) *cobra.Command {
	var disabled bool
	cmd := &cobra.Command{
		Use:   "link <login> <connected-account-id>",
		Short: "Attach an onboarded connected account to a contributor",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				contributor, err := a.stores.Store().UpsertContributor(ctx, core.Contributor{
					Login:           args[0],
					StripeAccountID: args[1],
					PayoutsEnabled:  !disabled,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s linked to %s (payouts enabled: %t)\n",
					contributor.Login, contributor.StripeAccountID, contributor.PayoutsEnabled)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&disabled, "disabled", false, "link the account with payouts switched off")
	return cmd
}
