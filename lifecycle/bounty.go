// Package lifecycle holds the bounty and submission state machines. Every
// transition is a pure function over the current records: it either returns
// the next records or a conflict/validation error and never mutates input.
package lifecycle

import (
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-bounties/core"
)

type CreateInput struct {
	ID      string
	Repo    core.RepoRef
	Issue   core.Issue
	Amount  core.Money
	Creator string
}

// Create opens a draft bounty for an issue. existing is the live bounty
// already linked to the issue, if any.
func Create(input CreateInput, existing *core.Bounty, limits core.MoneyLimits, now time.Time) (core.Bounty, error) {
	if existing != nil && !existing.IsOrphaned() {
		return core.Bounty{}, core.NewConflictError(
			core.ReasonAlreadyExists,
			fmt.Sprintf("issue #%d already has a bounty of %s", existing.Issue(), existing.Amount),
		)
	}
	if err := input.Repo.Validate(); err != nil {
		return core.Bounty{}, core.NewValidationError(err.Error(), "repo")
	}
	if input.Issue.Number <= 0 {
		return core.Bounty{}, core.NewValidationError("issue number is required", "issue_number")
	}
	if input.Issue.IsPullRequest {
		return core.Bounty{}, core.NewConflictError(core.ReasonTargetIsPR, "bounties can only be attached to issues, not pull requests")
	}
	if err := limits.Validate(input.Amount); err != nil {
		return core.Bounty{}, err
	}
	return core.Bounty{
		ID:            input.ID,
		Repo:          input.Repo,
		IssueNumber:   core.IntPtr(input.Issue.Number),
		IssueTitle:    input.Issue.Title,
		IssueBody:     input.Issue.Body,
		Amount:        input.Amount,
		Status:        core.BountyStatusDraft,
		PaymentStatus: core.PaymentStatusPending,
		CreatorLogin:  strings.TrimSpace(input.Creator),
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// Fund records that the bounty amount is held by the payment provider.
func Fund(b core.Bounty, now time.Time) (core.Bounty, error) {
	switch b.PaymentStatus {
	case core.PaymentStatusHeld:
		return b, core.NewConflictError(core.ReasonAlreadyFunded, "this bounty is already funded")
	case core.PaymentStatusReleased:
		return b, core.NewConflictError(core.ReasonAlreadyReleased, "this bounty has already been paid out")
	}
	if b.Status != core.BountyStatusDraft && b.Status != core.BountyStatusOpen {
		return b, invalidTransition(b, "funded")
	}
	next := b
	next.PaymentStatus = core.PaymentStatusHeld
	next.Status = core.BountyStatusOpen
	next.UpdatedAt = now
	return next, nil
}

// CheckReleasable verifies the bounty can pay out the approved submission.
func CheckReleasable(b core.Bounty, submission core.Submission) error {
	if b.IsReleased() || b.TransferID != nil {
		return core.NewConflictError(core.ReasonAlreadyReleased, "this bounty has already been paid out")
	}
	if !b.IsFunded() {
		return core.NewConflictError(core.ReasonNotFunded, "this bounty has not been funded yet")
	}
	if b.Status != core.BountyStatusInProgress {
		return invalidTransition(b, "paid out")
	}
	if submission.BountyID != "" && b.ID != "" && submission.BountyID != b.ID {
		return core.NewValidationError("submission belongs to another bounty", "submission_id")
	}
	if submission.Status != core.SubmissionStatusApproved {
		return core.NewConflictError(
			core.ReasonNotApproved,
			fmt.Sprintf("the submission for PR #%d has not been approved", submission.PRNumber),
		)
	}
	return nil
}

// CheckPayable extends CheckReleasable with the merged pull request check
// required before a merge command may pay.
func CheckPayable(b core.Bounty, submission core.Submission, pr core.PullRequest) error {
	if err := CheckReleasable(b, submission); err != nil {
		return err
	}
	if !pr.Merged {
		return core.NewConflictError(core.ReasonNotMerged, fmt.Sprintf("PR #%d has not been merged yet", pr.Number))
	}
	return nil
}

// Complete applies a successful transfer to the bounty and its submission.
func Complete(b core.Bounty, submission core.Submission, transferID string, now time.Time) (core.Bounty, core.Submission, error) {
	if strings.TrimSpace(transferID) == "" {
		return b, submission, core.NewValidationError("transfer id is required", "transfer_id")
	}
	if err := CheckReleasable(b, submission); err != nil {
		return b, submission, err
	}
	nextBounty := b
	nextBounty.Status = core.BountyStatusCompleted
	nextBounty.PaymentStatus = core.PaymentStatusReleased
	nextBounty.TransferID = core.StringPtr(transferID)
	nextBounty.AssignedToID = core.StringPtr(submission.ContributorID)
	nextBounty.UpdatedAt = now

	nextSubmission := submission
	paidAt := now
	nextSubmission.PaidAt = &paidAt
	nextSubmission.UpdatedAt = now
	return nextBounty, nextSubmission, nil
}

// RefreshFromIssue copies the issue title and body onto the bounty.
func RefreshFromIssue(b core.Bounty, issue core.Issue, now time.Time) core.Bounty {
	next := b
	next.IssueTitle = issue.Title
	next.IssueBody = issue.Body
	next.UpdatedAt = now
	return next
}

// IssueDeleted decides what happens to a bounty whose issue was deleted.
// Held and released bounties are orphaned; payout rows reference paid ones.
// Bounties without money attached are deleted; funded or paid ones keep
// their record with the forge linkage cleared.
func IssueDeleted(b core.Bounty, now time.Time) (core.Bounty, bool) {
	if b.PaymentStatus != core.PaymentStatusHeld && b.PaymentStatus != core.PaymentStatusReleased {
		return b, true
	}
	next := b
	next.IssueNumber = nil
	next.CommentID = nil
	next.UpdatedAt = now
	return next, false
}

// Move repoints a bounty at another issue of the same repository. The
// caller removes the old bot comment and posts a new one.
func Move(b core.Bounty, target core.Issue, targetBounty *core.Bounty, now time.Time) (core.Bounty, error) {
	if target.IsPullRequest {
		return b, core.NewConflictError(core.ReasonTargetIsPR, fmt.Sprintf("#%d is a pull request, bounties can only move to issues", target.Number))
	}
	if target.Number == b.Issue() {
		return b, core.NewConflictError(core.ReasonSameIssue, fmt.Sprintf("this bounty is already on #%d", target.Number))
	}
	if targetBounty != nil && !targetBounty.IsOrphaned() && targetBounty.ID != b.ID {
		return b, core.NewConflictError(core.ReasonAlreadyExists, fmt.Sprintf("issue #%d already has a bounty", target.Number))
	}
	if b.IsTerminal() {
		return b, invalidTransition(b, "moved")
	}
	next := b
	next.IssueNumber = core.IntPtr(target.Number)
	next.IssueTitle = target.Title
	next.IssueBody = target.Body
	next.CommentID = nil
	next.UpdatedAt = now
	return next, nil
}

func Cancel(b core.Bounty, now time.Time) (core.Bounty, error) {
	if b.Status == core.BountyStatusCancelled {
		return b, core.NewConflictError(core.ReasonAlreadyCancelled, "this bounty is already cancelled")
	}
	if b.IsTerminal() || b.IsReleased() {
		return b, invalidTransition(b, "cancelled")
	}
	next := b
	next.Status = core.BountyStatusCancelled
	next.AssignedToID = nil
	next.UpdatedAt = now
	return next, nil
}

func invalidTransition(b core.Bounty, verb string) error {
	return core.NewConflictError(
		core.ReasonInvalidTransition,
		fmt.Sprintf("a %s bounty cannot be %s", strings.ReplaceAll(string(b.Status), "_", " "), verb),
	)
}
