package orchestrator

import (
	"context"
	"fmt"

	"github.com/goliatone/go-bounties/command"
	"github.com/goliatone/go-bounties/core"
	"github.com/goliatone/go-bounties/lifecycle"
	"github.com/goliatone/go-bounties/payment"
)

// Submit claims a bounty with a pull request. On an issue the argument names
// the pull request; on a pull request it names the bounty issue, which
// otherwise comes from the pull request description.
func (o *Orchestrator) Submit(ctx context.Context, msg command.Message) error {
	prNumber, issueNumber := msg.Command.PR(), msg.IssueNumber
	if msg.IsPullRequest {
		prNumber, issueNumber = msg.IssueNumber, 0
		if explicit := msg.Command.PR(); explicit > 0 && explicit != msg.IssueNumber {
			issueNumber = explicit
		}
	}
	if prNumber <= 0 {
		return core.NewValidationError("pull request number is required, e.g. /submit 47", "pr_number")
	}
	pr, err := o.forge.GetPullRequest(ctx, msg.Repo, prNumber)
	if err != nil {
		return err
	}
	if issueNumber <= 0 {
		issueNumber = o.claimedIssue(pr.Body)
	}
	if issueNumber <= 0 {
		return core.NewValidationError(
			fmt.Sprintf("PR #%d does not say which issue it claims, use /submit #<issue>", pr.Number),
			"issue_number",
		)
	}
	bounty, err := o.requireBounty(ctx, msg.Repo, issueNumber)
	if err != nil {
		return err
	}
	submission, err := o.submitPullRequest(ctx, bounty, pr, msg.Command.Description)
	if err != nil {
		return err
	}
	o.reply(ctx, msg.Repo, msg.IssueNumber, submittedReply(submission, issueNumber))
	return nil
}

func (o *Orchestrator) submitPullRequest(
	ctx context.Context,
	bounty core.Bounty,
	pr core.PullRequest,
	description string,
) (core.Submission, error) {
	contributor, err := o.store.UpsertContributor(ctx, core.Contributor{
		Login:       pr.AuthorLogin,
		ForgeUserID: pr.AuthorID,
	})
	if err != nil {
		return core.Submission{}, err
	}
	existing, err := o.store.ListSubmissions(ctx, bounty.ID)
	if err != nil {
		return core.Submission{}, err
	}
	submission, err := lifecycle.Submit(bounty, existing, lifecycle.SubmissionInput{
		ID:               o.newID(),
		ContributorID:    contributor.ID,
		ContributorLogin: contributor.Login,
		PRNumber:         pr.Number,
		HeadSHA:          pr.HeadSHA,
		Description:      description,
	}, o.config.MaxPendingPerContributor, o.timestamp())
	if err != nil {
		return core.Submission{}, err
	}
	return o.store.CreateSubmission(ctx, submission)
}

func (o *Orchestrator) Unsubmit(ctx context.Context, msg command.Message) error {
	_, submission, err := o.resolveSubmission(ctx, msg)
	if err != nil {
		return err
	}
	maintainer := o.permissions.HasMaintainerAccess(ctx, msg.Repo, msg.Actor.Login)
	if err := lifecycle.CheckUnsubmit(submission, msg.Actor.Login, maintainer); err != nil {
		return err
	}
	if err := o.store.DeleteSubmission(ctx, submission.ID); err != nil {
		return err
	}
	o.reply(ctx, msg.Repo, msg.IssueNumber, unsubmittedReply(submission))
	return nil
}

func (o *Orchestrator) Approve(ctx context.Context, msg command.Message, reapprove bool) error {
	bounty, submission, err := o.resolveSubmission(ctx, msg)
	if err != nil {
		return err
	}
	contributor, err := o.contributorFor(ctx, submission)
	if err != nil {
		return err
	}
	all, err := o.store.ListSubmissions(ctx, bounty.ID)
	if err != nil {
		return err
	}
	approval, err := lifecycle.Approve(bounty, submission, all, contributor, reapprove, o.timestamp())
	if err != nil {
		return err
	}
	changed := append(append([]core.Submission(nil), approval.Demoted...), approval.Submission)
	updated, err := o.store.UpdateBountyState(ctx, approval.Bounty, changed)
	if err != nil {
		return err
	}
	o.refreshBountyComment(ctx, updated)
	o.reply(ctx, msg.Repo, msg.IssueNumber, approvedReply(updated, approval.Submission, approval.Demoted))
	return nil
}

func (o *Orchestrator) Unapprove(ctx context.Context, msg command.Message) error {
	bounty, submission, err := o.resolveSubmission(ctx, msg)
	if err != nil {
		return err
	}
	nextBounty, nextSubmission, err := lifecycle.Unapprove(bounty, submission, o.timestamp())
	if err != nil {
		return err
	}
	updated, err := o.store.UpdateBountyState(ctx, nextBounty, []core.Submission{nextSubmission})
	if err != nil {
		return err
	}
	o.refreshBountyComment(ctx, updated)
	o.reply(ctx, msg.Repo, msg.IssueNumber, unapprovedReply(nextSubmission))
	return nil
}

// Merge confirms a merged, approved submission and releases the payout. It is
// the only path that moves money.
func (o *Orchestrator) Merge(ctx context.Context, msg command.Message) error {
	bounty, submission, err := o.resolveSubmission(ctx, msg)
	if err != nil {
		return err
	}
	if bounty.IsReleased() {
		o.reply(ctx, msg.Repo, msg.IssueNumber, alreadyPaidReply(bounty))
		return nil
	}
	pr, err := o.forge.GetPullRequest(ctx, msg.Repo, submission.PRNumber)
	if err != nil {
		return err
	}
	if err := lifecycle.CheckPayable(bounty, submission, pr); err != nil {
		return err
	}
	contributor, err := o.contributorFor(ctx, submission)
	if err != nil {
		return err
	}
	result, err := o.payments.ReleasePayout(ctx, payment.PayoutRequest{
		BountyID:     bounty.ID,
		SubmissionID: submission.ID,
		Destination:  contributor.StripeAccountID,
	})
	if err != nil {
		return err
	}
	if result.AlreadyPaid {
		o.reply(ctx, msg.Repo, msg.IssueNumber, alreadyPaidReply(result.Bounty))
		return nil
	}
	o.refreshBountyComment(ctx, result.Bounty)
	o.reply(ctx, msg.Repo, msg.IssueNumber, paidReply(result.Bounty, submission, result.TransferID))
	return nil
}

// resolveSubmission finds the bounty a command targets and the submission of
// the pull request it names. On an issue the bounty is the issue's; on a
// pull request it is the issue the pull request claims.
func (o *Orchestrator) resolveSubmission(ctx context.Context, msg command.Message) (core.Bounty, core.Submission, error) {
	prNumber := msg.Command.PR()
	if prNumber <= 0 {
		return core.Bounty{}, core.Submission{}, core.NewValidationError("pull request number is required", "pr_number")
	}
	issueNumber := msg.IssueNumber
	if msg.IsPullRequest {
		pr, err := o.forge.GetPullRequest(ctx, msg.Repo, msg.IssueNumber)
		if err != nil {
			return core.Bounty{}, core.Submission{}, err
		}
		issueNumber = o.claimedIssue(pr.Body)
		if issueNumber <= 0 {
			return core.Bounty{}, core.Submission{}, core.NewNotFoundError(
				"bounty",
				fmt.Sprintf("PR #%d does not reference a bounty issue", pr.Number),
			)
		}
	}
	bounty, err := o.requireBounty(ctx, msg.Repo, issueNumber)
	if err != nil {
		return core.Bounty{}, core.Submission{}, err
	}
	submission, err := o.store.FindSubmissionByPR(ctx, bounty.ID, prNumber)
	if err != nil {
		if core.IsNotFound(err) {
			return core.Bounty{}, core.Submission{}, core.NewNotFoundError(
				"submission",
				fmt.Sprintf("PR #%d has no submission for the bounty on #%d", prNumber, issueNumber),
			)
		}
		return core.Bounty{}, core.Submission{}, err
	}
	return bounty, submission, nil
}

// contributorFor loads the submitter. An unknown contributor has no payout
// account, which the state machine reports.
func (o *Orchestrator) contributorFor(ctx context.Context, submission core.Submission) (core.Contributor, error) {
	contributor, err := o.store.GetContributorByLogin(ctx, submission.ContributorLogin)
	if err != nil {
		if core.IsNotFound(err) {
			return core.Contributor{ID: submission.ContributorID, Login: submission.ContributorLogin}, nil
		}
		return core.Contributor{}, err
	}
	return contributor, nil
}

// claimedIssue reads the bounty issue out of a pull request description.
func (o *Orchestrator) claimedIssue(body string) int {
	if issue, _, ok := o.parser.SubmitMarker(body); ok {
		return issue
	}
	if issue, ok := command.ReferencedIssue(body); ok {
		return issue
	}
	return 0
}
