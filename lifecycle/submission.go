package lifecycle

import (
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-bounties/core"
)

// DefaultMaxPendingPerContributor caps concurrently pending submissions of
// one contributor against one bounty.
const DefaultMaxPendingPerContributor = 2

type SubmissionInput struct {
	ID               string
	ContributorID    string
	ContributorLogin string
	PRNumber         int
	HeadSHA          string
	Description      string
}

// Submit creates a pending submission. existing holds every submission of
// the bounty.
func Submit(
	b core.Bounty,
	existing []core.Submission,
	input SubmissionInput,
	maxPending int,
	now time.Time,
) (core.Submission, error) {
	if input.PRNumber <= 0 {
		return core.Submission{}, core.NewValidationError("pull request number is required", "pr_number")
	}
	if !b.AcceptsSubmissions() {
		return core.Submission{}, core.NewConflictError(
			core.ReasonNotAccepting,
			fmt.Sprintf("this bounty is %s and no longer accepts submissions", strings.ReplaceAll(string(b.Status), "_", " ")),
		)
	}
	if maxPending <= 0 {
		maxPending = DefaultMaxPendingPerContributor
	}
	pending := 0
	for _, submission := range existing {
		if submission.PRNumber == input.PRNumber {
			return core.Submission{}, core.NewConflictError(
				core.ReasonAlreadySubmitted,
				fmt.Sprintf("PR #%d is already submitted for this bounty", input.PRNumber),
			)
		}
		if submission.Status == core.SubmissionStatusPending && sameContributor(submission, input) {
			pending++
		}
	}
	if pending >= maxPending {
		return core.Submission{}, core.NewConflictError(
			core.ReasonTooManyPending,
			fmt.Sprintf("@%s already has %d pending submissions for this bounty", input.ContributorLogin, pending),
		)
	}
	return core.Submission{
		ID:               input.ID,
		BountyID:         b.ID,
		ContributorID:    input.ContributorID,
		ContributorLogin: strings.TrimSpace(input.ContributorLogin),
		PRNumber:         input.PRNumber,
		HeadSHA:          input.HeadSHA,
		Description:      strings.TrimSpace(input.Description),
		Status:           core.SubmissionStatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// CheckUnsubmit allows withdrawing a pending submission by its author or a
// maintainer.
func CheckUnsubmit(submission core.Submission, actor string, maintainer bool) error {
	if submission.Status != core.SubmissionStatusPending {
		return core.NewConflictError(
			core.ReasonNotPending,
			fmt.Sprintf("the submission for PR #%d is %s and cannot be withdrawn", submission.PRNumber, submission.Status),
		)
	}
	if !maintainer && !strings.EqualFold(strings.TrimSpace(actor), submission.ContributorLogin) {
		return core.NewAuthorizationError(actor, fmt.Sprintf("withdraw the submission for PR #%d", submission.PRNumber))
	}
	return nil
}

// Approval is the outcome of approving a submission. Demoted holds the
// previously approved submission moved back to pending on reapproval.
type Approval struct {
	Bounty     core.Bounty
	Submission core.Submission
	Demoted    []core.Submission
}

// Approve assigns the bounty to the contributor behind target. With
// reapprove set, another approved submission is demoted to pending;
// otherwise its presence is a conflict.
func Approve(
	b core.Bounty,
	target core.Submission,
	all []core.Submission,
	contributor core.Contributor,
	reapprove bool,
	now time.Time,
) (Approval, error) {
	if b.IsReleased() {
		return Approval{}, core.NewConflictError(core.ReasonAlreadyReleased, "this bounty has already been paid out")
	}
	if !b.IsFunded() {
		return Approval{}, core.NewConflictError(core.ReasonNotFunded, "this bounty has not been funded yet")
	}
	if b.IsTerminal() {
		return Approval{}, invalidTransition(b, "approved")
	}
	if target.Status == core.SubmissionStatusApproved {
		return Approval{}, core.NewConflictError(
			core.ReasonAlreadyApproved,
			fmt.Sprintf("PR #%d is already approved", target.PRNumber),
		)
	}
	if target.Status != core.SubmissionStatusPending {
		return Approval{}, core.NewConflictError(core.ReasonNotPending, fmt.Sprintf("PR #%d has no pending submission", target.PRNumber))
	}
	if !contributor.PayoutCapable() {
		return Approval{}, core.NewConflictError(
			core.ReasonPayoutIncapable,
			fmt.Sprintf("@%s needs to connect a payout account before this submission can be approved", target.ContributorLogin),
		)
	}

	result := Approval{}
	for _, other := range all {
		if other.ID == target.ID || other.Status != core.SubmissionStatusApproved {
			continue
		}
		if !reapprove {
			return Approval{}, core.NewConflictError(
				core.ReasonAlreadyApproved,
				fmt.Sprintf("PR #%d is already approved, use reapprove to switch", other.PRNumber),
			)
		}
		demoted := other
		demoted.Status = core.SubmissionStatusPending
		demoted.ReviewedAt = nil
		demoted.UpdatedAt = now
		result.Demoted = append(result.Demoted, demoted)
	}

	result.Bounty = b
	result.Bounty.Status = core.BountyStatusInProgress
	result.Bounty.AssignedToID = core.StringPtr(contributor.ID)
	result.Bounty.UpdatedAt = now

	result.Submission = target
	result.Submission.Status = core.SubmissionStatusApproved
	reviewedAt := now
	result.Submission.ReviewedAt = &reviewedAt
	result.Submission.UpdatedAt = now
	return result, nil
}

// Unapprove reverts an approved submission and reopens the bounty.
func Unapprove(b core.Bounty, target core.Submission, now time.Time) (core.Bounty, core.Submission, error) {
	if b.IsReleased() || b.TransferID != nil {
		return b, target, core.NewConflictError(core.ReasonAlreadyReleased, "this bounty has already been paid out")
	}
	if b.Status == core.BountyStatusCompleted || b.Status == core.BountyStatusCancelled {
		return b, target, invalidTransition(b, "unapproved")
	}
	if target.Status != core.SubmissionStatusApproved {
		return b, target, core.NewConflictError(
			core.ReasonNotApproved,
			fmt.Sprintf("PR #%d is not approved", target.PRNumber),
		)
	}
	nextBounty := b
	nextBounty.Status = core.BountyStatusOpen
	nextBounty.AssignedToID = nil
	nextBounty.UpdatedAt = now

	nextSubmission := target
	nextSubmission.Status = core.SubmissionStatusPending
	nextSubmission.ReviewedAt = nil
	nextSubmission.UpdatedAt = now
	return nextBounty, nextSubmission, nil
}

func sameContributor(submission core.Submission, input SubmissionInput) bool {
	if input.ContributorID != "" && submission.ContributorID != "" {
		return submission.ContributorID == input.ContributorID
	}
	return strings.EqualFold(submission.ContributorLogin, input.ContributorLogin)
}
