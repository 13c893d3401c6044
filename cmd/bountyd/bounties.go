package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/goliatone/go-bounties/adapters/gocommand"
	"github.com/goliatone/go-bounties/core"
	"github.com/goliatone/go-bounties/orchestrator"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newBountiesCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bounties",
		Short: "Inspect and administer bounties",
	}
	cmd.AddCommand(
		newBountiesListCommand(opts),
		newBountiesPayoutsCommand(opts),
		newBountiesOperatorCommand(opts, "fund <bounty-id>", "Confirm that a bounty's amount is held and open it"),
		newBountiesOperatorCommand(opts, "cancel <bounty-id>", "Withdraw a bounty that has not paid out"),
	)
	return cmd
}

func newBountiesListCommand(opts *rootOptions) *cobra.Command {
	var repo, status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List bounties, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter := core.BountyFilter{Status: core.BountyStatus(strings.TrimSpace(status)), Limit: limit}
			if strings.TrimSpace(repo) != "" {
				ref, err := core.ParseRepoRef(repo)
				if err != nil {
					return err
				}
				filter.Repo = ref
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				bounties, err := a.stores.Store().ListBounties(ctx, filter)
				if err != nil {
					return err
				}
				renderBounties(cmd.OutOrStdout(), bounties)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&repo, "repo", "", "owner/name filter")
	cmd.Flags().StringVar(&status, "status", "", "status filter (draft, open, in_progress, completed, cancelled)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum rows")
	return cmd
}

func newBountiesPayoutsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "payouts [bounty-id]",
		Short: "List recorded payouts",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bountyID := ""
			if len(args) == 1 {
				bountyID = args[0]
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				payouts, err := a.stores.Store().ListPayouts(ctx, bountyID)
				if err != nil {
					return err
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(cmd.OutOrStdout())
				tw.AppendHeader(table.Row{"ID", "Bounty", "Contributor", "Amount", "Transfer", "Paid"})
				for _, payout := range payouts {
					tw.AppendRow(table.Row{
						payout.ID,
						payout.BountyID,
						payout.ContributorID,
						payout.Amount.String(),
						payout.TransferID,
						payout.CreatedAt.Format("2006-01-02 15:04"),
					})
				}
				tw.Render()
				return nil
			})
		},
	}
}

// newBountiesOperatorCommand sends a fund or cancel message through the
// command bus, then flushes the comment updates it queued.
func newBountiesOperatorCommand(opts *rootOptions, use string, short string) *cobra.Command {
	var reference string
	action, _, _ := strings.Cut(use, " ")
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				forgeClient, err := a.newForge()
				if err != nil {
					return err
				}
				gateway, err := a.newGateway()
				if err != nil {
					return err
				}
				rt, err := a.buildRuntime(forgeClient, gateway)
				if err != nil {
					return err
				}
				defer rt.Close()
				return runOperatorAction(ctx, cmd.OutOrStdout(), a, rt, action, args[0], reference)
			})
		},
	}
	if action == "fund" {
		cmd.Flags().StringVar(&reference, "reference", "", "payment reference, for the log")
	}
	return cmd
}

func runOperatorAction(ctx context.Context, out io.Writer, a *app, rt *runtime, action string, bountyID string, reference string) error {
	var err error
	switch action {
	case "fund":
		err = gocommand.Send(ctx, orchestrator.FundMessage{BountyID: bountyID, Reference: reference})
	case "cancel":
		err = gocommand.Send(ctx, orchestrator.CancelMessage{BountyID: bountyID})
	default:
		return fmt.Errorf("unknown operator action %q", action)
	}
	if err != nil {
		return err
	}
	if err := rt.flush(ctx); err != nil {
		return err
	}
	bounty, err := a.stores.Store().GetBounty(ctx, bountyID)
	if err != nil {
		return err
	}
	renderBounties(out, []core.Bounty{bounty})
	return nil
}

func renderBounties(out io.Writer, bounties []core.Bounty) {
	tw := table.NewWriter()
	tw.SetOutputMirror(out)
	tw.AppendHeader(table.Row{"ID", "Repo", "Issue", "Amount", "Status", "Payment", "Assignee", "Created"})
	for _, bounty := range bounties {
		issue := "orphaned"
		if !bounty.IsOrphaned() {
			issue = fmt.Sprintf("#%d", bounty.Issue())
		}
		assignee := ""
		if bounty.AssignedToID != nil {
			assignee = *bounty.AssignedToID
		}
		tw.AppendRow(table.Row{
			bounty.ID,
			bounty.Repo.FullName(),
			issue,
			bounty.Amount.String(),
			bounty.Status,
			bounty.PaymentStatus,
			assignee,
			bounty.CreatedAt.Format("2006-01-02 15:04"),
		})
	}
	tw.Render()
}

func withApp(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(ctx, opts)
	if err != nil {
		return err
	}
	a, err := openApp(ctx, cfg, opts.logger(cmd))
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()
	return fn(ctx, a)
}
