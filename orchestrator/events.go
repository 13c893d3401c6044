package orchestrator

import (
	"context"
	"strings"

	"github.com/goliatone/go-bounties/core"
	"github.com/goliatone/go-bounties/lifecycle"
	"github.com/goliatone/go-bounties/webhooks"
)

// handlePullRequestOpened files a submission for a pull request whose
// description carries a submit marker. Redeliveries and reopened pull
// requests that were already submitted stay quiet.
func (o *Orchestrator) handlePullRequestOpened(ctx context.Context, event webhooks.Event) error {
	if event.PullRequest == nil {
		return nil
	}
	issue, description, ok := o.parser.SubmitMarker(event.PullRequest.Body)
	if !ok {
		return nil
	}
	pr := pullRequestFromEvent(event.PullRequest)
	submission, err := o.submitFromPullRequest(ctx, event.Repo, issue, pr, description)
	if err != nil {
		if core.ErrorReason(err) == core.ReasonAlreadySubmitted {
			return nil
		}
		if reply, ok := userFacing(err); ok {
			o.reply(ctx, event.Repo, pr.Number, rejectedReply("submit", reply))
			return nil
		}
		return err
	}
	o.reply(ctx, event.Repo, pr.Number, submittedReply(submission, issue))
	return nil
}

func (o *Orchestrator) submitFromPullRequest(
	ctx context.Context,
	repo core.RepoRef,
	issue int,
	pr core.PullRequest,
	description string,
) (core.Submission, error) {
	bounty, err := o.requireBounty(ctx, repo, issue)
	if err != nil {
		return core.Submission{}, err
	}
	return o.submitPullRequest(ctx, bounty, pr, description)
}

// handlePullRequestMerged never pays. A maintainer confirms with /merge.
func (o *Orchestrator) handlePullRequestMerged(ctx context.Context, event webhooks.Event) error {
	if event.PullRequest == nil {
		return nil
	}
	issue := o.claimedIssue(event.PullRequest.Body)
	if issue <= 0 {
		return nil
	}
	bounty, err := o.findBounty(ctx, event.Repo, issue)
	if err != nil || bounty == nil {
		return err
	}
	submission, err := o.store.FindSubmissionByPR(ctx, bounty.ID, event.PullRequest.Number)
	if err != nil {
		if core.IsNotFound(err) {
			return nil
		}
		return err
	}
	core.LogWithLevel(ctx, o.logger, "info", "bounty pull request merged, awaiting confirmation", map[string]any{
		"bounty_id":     bounty.ID,
		"submission_id": submission.ID,
		"pr_number":     submission.PRNumber,
		"status":        string(submission.Status),
	})
	if bounty.IsReleased() {
		return nil
	}
	approved := submission.Status == core.SubmissionStatusApproved
	o.reply(ctx, event.Repo, event.PullRequest.Number, mergedAwaitingReply(submission.PRNumber, approved))
	return nil
}

func (o *Orchestrator) handleIssueEdited(ctx context.Context, event webhooks.Event) error {
	if event.Issue == nil || event.Issue.IsPullRequest {
		return nil
	}
	bounty, err := o.findBounty(ctx, event.Repo, event.Issue.Number)
	if err != nil || bounty == nil {
		return err
	}
	refreshed := lifecycle.RefreshFromIssue(*bounty, issueFromEvent(event.Issue), o.timestamp())
	_, err = o.store.UpdateBounty(ctx, refreshed)
	return err
}

// handleIssueDeleted deletes an unfunded bounty and orphans a funded one.
func (o *Orchestrator) handleIssueDeleted(ctx context.Context, event webhooks.Event) error {
	if event.Issue == nil {
		return nil
	}
	bounty, err := o.findBounty(ctx, event.Repo, event.Issue.Number)
	if err != nil || bounty == nil {
		return err
	}
	next, remove := lifecycle.IssueDeleted(*bounty, o.timestamp())
	if remove {
		submissions, err := o.store.ListSubmissions(ctx, bounty.ID)
		if err != nil {
			return err
		}
		for _, submission := range submissions {
			if err := o.store.DeleteSubmission(ctx, submission.ID); err != nil && !core.IsNotFound(err) {
				return err
			}
		}
		if err := o.store.DeleteBounty(ctx, bounty.ID); err != nil && !core.IsNotFound(err) {
			return err
		}
		core.LogWithLevel(ctx, o.logger, "info", "bounty deleted with its issue", map[string]any{
			"bounty_id": bounty.ID,
		})
		return nil
	}
	if _, err := o.store.UpdateBounty(ctx, next); err != nil {
		return err
	}
	core.LogWithLevel(ctx, o.logger, "warn", "funded bounty orphaned by issue deletion", map[string]any{
		"bounty_id":      bounty.ID,
		"payment_status": string(bounty.PaymentStatus),
	})
	return nil
}

func (o *Orchestrator) handleInstallation(ctx context.Context, event webhooks.Event, status core.InstallationStatus) error {
	if event.Installation == nil {
		return nil
	}
	repos := event.Installation.Repositories
	if status == core.InstallationStatusActive && len(repos) == 0 {
		listed, err := o.forge.ListInstallationRepositories(ctx, event.Installation.ID)
		if err != nil {
			core.LogWithLevel(ctx, o.logger, "warn", "installation repositories not listed", map[string]any{
				"installation_id": event.Installation.ID,
				"error":           err.Error(),
			})
		}
		repos = listed
	}
	names := make([]string, 0, len(repos))
	for _, repo := range repos {
		names = append(names, repo.FullName())
	}
	installation := core.Installation{
		InstallationID: event.Installation.ID,
		AccountLogin:   strings.TrimSpace(event.Installation.AccountLogin),
		Repositories:   names,
		Status:         status,
	}
	if status == core.InstallationStatusDeleted && len(names) == 0 {
		if existing, err := o.store.GetInstallation(ctx, event.Installation.ID); err == nil {
			installation.Repositories = existing.Repositories
		}
	}
	_, err := o.store.UpsertInstallation(ctx, installation)
	return err
}

func pullRequestFromEvent(payload *webhooks.PullRequestPayload) core.PullRequest {
	return core.PullRequest{
		Number:      payload.Number,
		Title:       payload.Title,
		Body:        payload.Body,
		AuthorLogin: payload.Author.Login,
		AuthorID:    payload.Author.ID,
		HeadSHA:     payload.HeadSHA,
		State:       payload.State,
		Merged:      payload.Merged,
	}
}

func issueFromEvent(payload *webhooks.IssuePayload) core.Issue {
	return core.Issue{
		Number:        payload.Number,
		Title:         payload.Title,
		Body:          payload.Body,
		AuthorLogin:   payload.Author.Login,
		IsPullRequest: payload.IsPullRequest,
		State:         payload.State,
	}
}
