package orchestrator

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-bounties/command"
	"github.com/goliatone/go-bounties/core"
	"github.com/goliatone/go-bounties/ratelimit"
)

// bountyCommentMarker tags the status comment the bot keeps on a bounty issue.
const bountyCommentMarker = "<!-- go-bounties:status -->"

func bountyCommentBody(b core.Bounty) string {
	var sb strings.Builder
	sb.WriteString(bountyCommentMarker + "\n")
	fmt.Fprintf(&sb, "### Bounty: %s\n\n", b.Amount)
	fmt.Fprintf(&sb, "| Status | Payment |\n|---|---|\n| %s | %s |\n\n", humanize(string(b.Status)), humanize(string(b.PaymentStatus)))
	switch {
	case b.Status == core.BountyStatusDraft:
		sb.WriteString("This bounty is waiting to be funded. Submissions are accepted in the meantime.\n")
	case b.AcceptsSubmissions():
		fmt.Fprintf(&sb, "To claim it, open a pull request that resolves this issue and put `/submit #%d` in its description.\n", b.Issue())
	case b.Status == core.BountyStatusInProgress:
		sb.WriteString("A submission has been approved. The payout is released once a maintainer confirms the merge.\n")
	case b.Status == core.BountyStatusCompleted:
		sb.WriteString("This bounty has been paid out.\n")
	case b.Status == core.BountyStatusCancelled:
		sb.WriteString("This bounty was cancelled.\n")
	}
	return sb.String()
}

func createdReply(b core.Bounty) string {
	return fmt.Sprintf("Created a bounty of **%s** for #%d. It opens for payment once funded.", b.Amount, b.Issue())
}

func submittedReply(sub core.Submission, issue int) string {
	return fmt.Sprintf(
		"@%s PR #%d is submitted for the bounty on #%d and is waiting for maintainer review.",
		sub.ContributorLogin, sub.PRNumber, issue,
	)
}

func unsubmittedReply(sub core.Submission) string {
	return fmt.Sprintf("Withdrew the submission for PR #%d.", sub.PRNumber)
}

func approvedReply(b core.Bounty, sub core.Submission, demoted []core.Submission) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Approved PR #%d by @%s for the **%s** bounty.", sub.PRNumber, sub.ContributorLogin, b.Amount)
	for _, previous := range demoted {
		fmt.Fprintf(&sb, " PR #%d is back to pending.", previous.PRNumber)
	}
	fmt.Fprintf(&sb, " Once the pull request is merged, run `/merge %d` to release the payout.", sub.PRNumber)
	return sb.String()
}

func unapprovedReply(sub core.Submission) string {
	return fmt.Sprintf("PR #%d is no longer approved and the bounty is open again.", sub.PRNumber)
}

func paidReply(b core.Bounty, sub core.Submission, transferID string) string {
	return fmt.Sprintf(
		"Paid **%s** to @%s for PR #%d (transfer `%s`).",
		b.Amount, sub.ContributorLogin, sub.PRNumber, transferID,
	)
}

func alreadyPaidReply(b core.Bounty) string {
	return fmt.Sprintf("The **%s** bounty has already been paid out; no new transfer was made.", b.Amount)
}

func movedReply(from int, to int) string {
	return fmt.Sprintf("Moved this bounty from #%d to #%d.", from, to)
}

func mergedAwaitingReply(pr int, approved bool) string {
	if approved {
		return fmt.Sprintf("PR #%d was merged. A maintainer needs to run `/merge %d` to confirm and release the payout.", pr, pr)
	}
	return fmt.Sprintf("PR #%d was merged, but its submission is not approved. Approve it and run `/merge %d` to release the payout.", pr, pr)
}

func throttledReply(err ratelimit.ThrottledError) string {
	seconds := int(err.RetryAfter.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	return fmt.Sprintf("too many commands, try again in %d seconds", seconds)
}

func rejectedReply(action command.Action, reason string) string {
	reason = strings.TrimSpace(reason)
	reason = strings.TrimSuffix(reason, ".")
	return fmt.Sprintf("`/%s` was not applied: %s.", action, reason)
}

func humanize(value string) string {
	value = strings.ReplaceAll(strings.TrimSpace(value), "_", " ")
	if value == "" {
		return value
	}
	return strings.ToUpper(value[:1]) + value[1:]
}
