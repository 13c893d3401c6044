package memory

import (
	"context"
	"testing"

	"github.com/goliatone/go-bounties/core"
	"github.com/shopspring/decimal"
)

func seedBounty(t *testing.T, store *Store, issue int) core.Bounty {
	t.Helper()
	bounty, err := store.CreateBounty(context.Background(), core.Bounty{
		Repo:          core.RepoRef{Owner: "acme", Name: "widgets"},
		IssueNumber:   core.IntPtr(issue),
		Amount:        core.NewMoney(decimal.NewFromInt(500), "USD"),
		Status:        core.BountyStatusDraft,
		PaymentStatus: core.PaymentStatusPending,
	})
	if err != nil {
		t.Fatalf("create bounty: %v", err)
	}
	return bounty
}

func TestStore_BountyUniquePerIssue(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	first := seedBounty(t, store, 42)

	_, err := store.CreateBounty(ctx, core.Bounty{
		Repo:        core.RepoRef{Owner: "ACME", Name: "widgets"},
		IssueNumber: core.IntPtr(42),
		Status:      core.BountyStatusDraft,
	})
	if core.ErrorReason(err) != core.ReasonAlreadyExists {
		t.Fatalf("expected already_exists conflict, got %v", err)
	}

	found, err := store.FindBountyByIssue(ctx, core.RepoRef{Owner: "acme", Name: "widgets"}, 42)
	if err != nil || found.ID != first.ID {
		t.Fatalf("expected to find bounty by issue, got %v %v", found.ID, err)
	}

	first.IssueNumber = nil
	first.PaymentStatus = core.PaymentStatusHeld
	if _, err := store.UpdateBounty(ctx, first); err != nil {
		t.Fatalf("orphan bounty: %v", err)
	}
	if _, err := store.FindBountyByIssue(ctx, first.Repo, 42); !core.IsNotFound(err) {
		t.Fatalf("expected orphaned bounty to be unlinked, got %v", err)
	}
	seedBounty(t, store, 42)
}

func TestStore_SubmissionUniquePerPR(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	bounty := seedBounty(t, store, 42)

	if _, err := store.CreateSubmission(ctx, core.Submission{BountyID: bounty.ID, PRNumber: 47, Status: core.SubmissionStatusPending}); err != nil {
		t.Fatalf("create submission: %v", err)
	}
	_, err := store.CreateSubmission(ctx, core.Submission{BountyID: bounty.ID, PRNumber: 47})
	if core.ErrorReason(err) != core.ReasonAlreadySubmitted {
		t.Fatalf("expected already_submitted, got %v", err)
	}

	if err := store.DeleteBounty(ctx, bounty.ID); err != nil {
		t.Fatalf("delete bounty: %v", err)
	}
	submissions, _ := store.ListSubmissions(ctx, bounty.ID)
	if len(submissions) != 0 {
		t.Fatalf("expected submissions to be removed with bounty")
	}
}

func TestStore_CompletePayoutOnce(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	bounty := seedBounty(t, store, 42)
	submission, _ := store.CreateSubmission(ctx, core.Submission{BountyID: bounty.ID, PRNumber: 47, Status: core.SubmissionStatusApproved})

	bounty.Status = core.BountyStatusCompleted
	bounty.PaymentStatus = core.PaymentStatusReleased
	bounty.TransferID = core.StringPtr("tr_1")
	completion := core.PayoutCompletion{
		Bounty:      bounty,
		Submission:  submission,
		Payout:      core.Payout{BountyID: bounty.ID, SubmissionID: submission.ID, TransferID: "tr_1", Status: core.PayoutStatusPaid},
		Transaction: core.Transaction{BountyID: bounty.ID, Kind: core.TransactionKindPayout, Reference: "tr_1"},
	}
	if _, err := store.CompletePayout(ctx, completion); err != nil {
		t.Fatalf("complete payout: %v", err)
	}
	if _, err := store.CompletePayout(ctx, completion); core.ErrorReason(err) != core.ReasonAlreadyReleased {
		t.Fatalf("expected second completion to conflict, got %v", err)
	}
	payouts, _ := store.ListPayouts(ctx, bounty.ID)
	transactions, _ := store.ListTransactions(ctx, bounty.ID)
	if len(payouts) != 1 || len(transactions) != 1 {
		t.Fatalf("expected one payout and one transaction, got %d/%d", len(payouts), len(transactions))
	}

	broken := completion
	broken.Bounty.TransferID = nil
	if _, err := store.CompletePayout(ctx, broken); err == nil {
		t.Fatalf("expected invariant violation to be rejected")
	}
}

func TestStore_UpdateBountyRejectsStaleWrites(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	read := seedBounty(t, store, 42)
	if read.Version != 1 {
		t.Fatalf("expected first version, got %d", read.Version)
	}

	edited := read
	edited.IssueTitle = "Crash on empty input"
	edited, err := store.UpdateBounty(ctx, edited)
	if err != nil {
		t.Fatalf("update bounty: %v", err)
	}
	if edited.Version != 2 {
		t.Fatalf("expected version bump, got %d", edited.Version)
	}

	stale := read
	stale.Status = core.BountyStatusCancelled
	if _, err := store.UpdateBounty(ctx, stale); !core.IsStaleState(err) {
		t.Fatalf("expected stale state conflict, got %v", err)
	}
	current, _ := store.GetBounty(ctx, read.ID)
	if current.Status != core.BountyStatusDraft || current.IssueTitle != "Crash on empty input" {
		t.Fatalf("stale write must not apply, got %s %q", current.Status, current.IssueTitle)
	}
}

func TestStore_ReleasedBountyKeepsPayment(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	read := seedBounty(t, store, 42)
	submission, _ := store.CreateSubmission(ctx, core.Submission{BountyID: read.ID, PRNumber: 47, Status: core.SubmissionStatusApproved})

	// an edit lands between the payout read and its completion
	edited := read
	edited.IssueTitle = "Crash on blank input"
	if _, err := store.UpdateBounty(ctx, edited); err != nil {
		t.Fatalf("edit bounty: %v", err)
	}

	released := read
	released.Status = core.BountyStatusCompleted
	released.PaymentStatus = core.PaymentStatusReleased
	released.TransferID = core.StringPtr("tr_1")
	if _, err := store.CompletePayout(ctx, core.PayoutCompletion{
		Bounty:     released,
		Submission: submission,
		Payout:     core.Payout{BountyID: read.ID, SubmissionID: submission.ID, TransferID: "tr_1", Status: core.PayoutStatusPaid},
	}); err != nil {
		t.Fatalf("complete payout: %v", err)
	}
	current, _ := store.GetBounty(ctx, read.ID)
	if !current.IsReleased() || current.IssueTitle != "Crash on blank input" {
		t.Fatalf("expected release on top of the edit, got %s %q", current.PaymentStatus, current.IssueTitle)
	}

	reverted := current
	reverted.Status = core.BountyStatusInProgress
	reverted.PaymentStatus = core.PaymentStatusHeld
	reverted.TransferID = nil
	if _, err := store.UpdateBounty(ctx, reverted); core.ErrorReason(err) != core.ReasonAlreadyReleased {
		t.Fatalf("expected released payment to be immutable, got %v", err)
	}

	retitled := current
	retitled.IssueTitle = "Crash on any blank input"
	if _, err := store.UpdateBounty(ctx, retitled); err != nil {
		t.Fatalf("expected non payment edit on released bounty, got %v", err)
	}
}

func TestStore_UpdateBountyStateIsAtomic(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	bounty := seedBounty(t, store, 42)
	pending, _ := store.CreateSubmission(ctx, core.Submission{BountyID: bounty.ID, PRNumber: 47, Status: core.SubmissionStatusPending})

	approved := pending
	approved.Status = core.SubmissionStatusApproved
	next := bounty
	next.Status = core.BountyStatusOpen
	_, err := store.UpdateBountyState(ctx, next, []core.Submission{approved, {ID: "missing", BountyID: bounty.ID}})
	if !core.IsNotFound(err) {
		t.Fatalf("expected missing submission to fail, got %v", err)
	}
	current, _ := store.GetBounty(ctx, bounty.ID)
	stored, _ := store.GetSubmission(ctx, pending.ID)
	if current.Version != bounty.Version || current.Status != core.BountyStatusDraft || stored.Status != core.SubmissionStatusPending {
		t.Fatalf("expected no partial write, got bounty v%d %s submission %s", current.Version, current.Status, stored.Status)
	}

	updated, err := store.UpdateBountyState(ctx, next, []core.Submission{approved})
	if err != nil {
		t.Fatalf("update state: %v", err)
	}
	stored, _ = store.GetSubmission(ctx, pending.ID)
	if updated.Status != core.BountyStatusOpen || stored.Status != core.SubmissionStatusApproved {
		t.Fatalf("expected bounty and submission written together, got %s %s", updated.Status, stored.Status)
	}
}

func TestStore_UpsertContributorKeepsPayoutAccount(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	first, err := store.UpsertContributor(ctx, core.Contributor{Login: "Dev", StripeAccountID: "acct_1", PayoutsEnabled: true})
	if err != nil {
		t.Fatalf("upsert contributor: %v", err)
	}
	second, err := store.UpsertContributor(ctx, core.Contributor{Login: "dev", ForgeUserID: 77})
	if err != nil {
		t.Fatalf("upsert contributor again: %v", err)
	}
	if second.ID != first.ID || !second.PayoutCapable() || second.ForgeUserID != 77 {
		t.Fatalf("unexpected merged contributor %#v", second)
	}
}
