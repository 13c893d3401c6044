package core

import "testing"

func TestParseRepoRef(t *testing.T) {
	ref, err := ParseRepoRef(" acme/widgets ")
	if err != nil {
		t.Fatalf("parse repo: %v", err)
	}
	if ref.Owner != "acme" || ref.Name != "widgets" || ref.FullName() != "acme/widgets" {
		t.Fatalf("unexpected repo ref %#v", ref)
	}
	if _, err := ParseRepoRef("widgets"); err == nil {
		t.Fatalf("expected error for repo without owner")
	}
	if _, err := ParseRepoRef("acme/"); err == nil {
		t.Fatalf("expected error for repo without name")
	}
}

func TestCheckBountyInvariants(t *testing.T) {
	released := Bounty{
		ID:            "b1",
		Status:        BountyStatusCompleted,
		PaymentStatus: PaymentStatusReleased,
		TransferID:    StringPtr("tr_1"),
		AssignedToID:  StringPtr("c1"),
	}
	if err := CheckBountyInvariants(released); err != nil {
		t.Fatalf("expected valid released bounty, got %v", err)
	}

	missingTransfer := released
	missingTransfer.TransferID = nil
	if err := CheckBountyInvariants(missingTransfer); err == nil {
		t.Fatalf("expected released bounty without transfer id to fail")
	}

	wrongStatus := released
	wrongStatus.Status = BountyStatusInProgress
	if err := CheckBountyInvariants(wrongStatus); err == nil {
		t.Fatalf("expected released bounty outside completed to fail")
	}

	assignedOpen := Bounty{ID: "b2", Status: BountyStatusOpen, AssignedToID: StringPtr("c1")}
	if err := CheckBountyInvariants(assignedOpen); err == nil {
		t.Fatalf("expected assignment on open bounty to fail")
	}
}

func TestBountyAcceptsSubmissions(t *testing.T) {
	for status, want := range map[BountyStatus]bool{
		BountyStatusDraft:      true,
		BountyStatusOpen:       true,
		BountyStatusInProgress: false,
		BountyStatusCompleted:  false,
		BountyStatusCancelled:  false,
	} {
		if got := (Bounty{Status: status}).AcceptsSubmissions(); got != want {
			t.Fatalf("status %s: expected %v, got %v", status, want, got)
		}
	}
}

func TestContributorPayoutCapable(t *testing.T) {
	if (Contributor{StripeAccountID: "acct_1"}).PayoutCapable() {
		t.Fatalf("expected payouts disabled contributor to be incapable")
	}
	if !(Contributor{StripeAccountID: "acct_1", PayoutsEnabled: true}).PayoutCapable() {
		t.Fatalf("expected onboarded contributor to be payout capable")
	}
}
