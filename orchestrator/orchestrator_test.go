package orchestrator_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-bounties/command"
	"github.com/goliatone/go-bounties/coordination"
	"github.com/goliatone/go-bounties/core"
	"github.com/goliatone/go-bounties/forge/forgetest"
	"github.com/goliatone/go-bounties/orchestrator"
	"github.com/goliatone/go-bounties/payment"
	"github.com/goliatone/go-bounties/ratelimit"
	"github.com/goliatone/go-bounties/store/memory"
	"github.com/goliatone/go-bounties/webhooks"
)

var testRepo = core.RepoRef{Owner: "acme", Name: "widgets"}

const prBody = "Handle empty input without crashing.\n\nCloses #42\n\n/submit"

type stubGateway struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (g *stubGateway) CreateTransfer(_ context.Context, req core.TransferRequest) (core.Transfer, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return core.Transfer{}, g.err
	}
	return core.Transfer{ID: "tr_" + req.ReferenceID}, nil
}

func (g *stubGateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type harness struct {
	t       *testing.T
	orch    *orchestrator.Orchestrator
	store   core.Store
	forge   *forgetest.Forge
	gateway *stubGateway

	nextCommentID int64
}

type harnessOption func(*orchestrator.Dependencies)

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	store := memory.NewStore()
	fake := forgetest.New()
	fake.Permissions["maintainer"] = core.PermissionWrite
	fake.Issues[42] = core.Issue{Number: 42, Title: "Crash on empty input", AuthorLogin: "reporter", State: "open"}
	fake.Issues[43] = core.Issue{Number: 43, Title: "Crash on huge input", AuthorLogin: "reporter", State: "open"}
	fake.PullRequests[47] = core.PullRequest{
		Number:      47,
		Title:       "Fix empty input",
		Body:        prBody,
		AuthorLogin: "alice",
		AuthorID:    99,
		HeadSHA:     "abc123",
		State:       "open",
	}

	gateway := &stubGateway{}
	coordinator, err := payment.NewCoordinator(coordination.NewMemoryStore(), payment.WithGateway(gateway, store))
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	deps := orchestrator.Dependencies{
		Store:    store,
		Forge:    fake,
		Payments: coordinator,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	orch, err := orchestrator.New(deps, orchestrator.Config{BotUsername: "bountybot"})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	return &harness{
		t:             t,
		orch:          orch,
		store:         deps.Store,
		forge:         fake,
		gateway:       gateway,
		nextCommentID: 5000,
	}
}

func (h *harness) comment(issue int, isPR bool, login string, body string) (webhooks.Event, int64) {
	h.nextCommentID++
	author := webhooks.User{Login: login, ID: int64(len(login))}
	return webhooks.Event{
		Kind:   webhooks.KindIssueCommentCreated,
		Name:   "issue_comment",
		Action: "created",
		Repo:   testRepo,
		Sender: author,
		Issue: &webhooks.IssuePayload{
			Number:        issue,
			State:         "open",
			IsPullRequest: isPR,
		},
		Comment: &webhooks.CommentPayload{ID: h.nextCommentID, Body: body, Author: author},
	}, h.nextCommentID
}

func (h *harness) handle(event webhooks.Event) {
	h.t.Helper()
	if err := h.orch.Handle(context.Background(), event); err != nil {
		h.t.Fatalf("handle %s: %v", event.Kind, err)
	}
}

func (h *harness) say(issue int, isPR bool, login string, body string) int64 {
	h.t.Helper()
	event, id := h.comment(issue, isPR, login, body)
	h.handle(event)
	return id
}

func (h *harness) bounty(issue int) core.Bounty {
	h.t.Helper()
	bounty, err := h.store.FindBountyByIssue(context.Background(), testRepo, issue)
	if err != nil {
		h.t.Fatalf("find bounty on #%d: %v", issue, err)
	}
	return bounty
}

func (h *harness) fundedBounty() core.Bounty {
	h.t.Helper()
	h.say(42, false, "maintainer", "/create 500 USD")
	funded, err := h.orch.FundBounty(context.Background(), h.bounty(42).ID, "pi_test")
	if err != nil {
		h.t.Fatalf("fund: %v", err)
	}
	return funded
}

func (h *harness) payoutReady(login string, account string) {
	h.t.Helper()
	if _, err := h.store.UpsertContributor(context.Background(), core.Contributor{
		Login:           login,
		StripeAccountID: account,
		PayoutsEnabled:  true,
	}); err != nil {
		h.t.Fatalf("upsert contributor: %v", err)
	}
}

func pullRequestOpened(pr core.PullRequest) webhooks.Event {
	return webhooks.Event{
		Kind:   webhooks.KindPullRequestOpened,
		Name:   "pull_request",
		Action: "opened",
		Repo:   testRepo,
		PullRequest: &webhooks.PullRequestPayload{
			Number:  pr.Number,
			Title:   pr.Title,
			Body:    pr.Body,
			Author:  webhooks.User{Login: pr.AuthorLogin, ID: pr.AuthorID},
			HeadSHA: pr.HeadSHA,
			State:   "open",
		},
	}
}

func TestBountyLifecycle_EndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	createID := h.say(42, false, "maintainer", "/create 500 USD")
	created := h.bounty(42)
	if created.Status != core.BountyStatusDraft || created.PaymentStatus != core.PaymentStatusPending {
		t.Fatalf("unexpected created bounty %s/%s", created.Status, created.PaymentStatus)
	}
	if created.Amount.String() != "500.00 USD" {
		t.Fatalf("unexpected amount %s", created.Amount)
	}
	if created.CommentID == nil {
		t.Fatalf("expected bounty status comment id to be stored")
	}
	if got := h.forge.ReactionsOn(createID); len(got) != 1 || got[0] != "+1" {
		t.Fatalf("expected +1 reaction on create command, got %v", got)
	}

	funded, err := h.orch.FundBounty(ctx, created.ID, "pi_123")
	if err != nil {
		t.Fatalf("fund: %v", err)
	}
	if funded.Status != core.BountyStatusOpen || funded.PaymentStatus != core.PaymentStatusHeld {
		t.Fatalf("unexpected funded bounty %s/%s", funded.Status, funded.PaymentStatus)
	}

	h.payoutReady("alice", "acct_alice")
	h.handle(pullRequestOpened(h.forge.PullRequests[47]))
	submission, err := h.store.FindSubmissionByPR(ctx, created.ID, 47)
	if err != nil {
		t.Fatalf("expected submission for PR #47: %v", err)
	}
	if submission.Status != core.SubmissionStatusPending || submission.ContributorLogin != "alice" {
		t.Fatalf("unexpected submission %+v", submission)
	}

	h.say(42, false, "maintainer", "/approve 47")
	submission, _ = h.store.FindSubmissionByPR(ctx, created.ID, 47)
	if submission.Status != core.SubmissionStatusApproved {
		t.Fatalf("expected approved submission, got %s", submission.Status)
	}
	approved := h.bounty(42)
	if approved.Status != core.BountyStatusInProgress {
		t.Fatalf("expected in_progress bounty, got %s", approved.Status)
	}
	if approved.AssignedToID == nil || *approved.AssignedToID != submission.ContributorID {
		t.Fatalf("expected bounty assigned to %s", submission.ContributorID)
	}

	pr := h.forge.PullRequests[47]
	pr.Merged = true
	pr.State = "closed"
	h.forge.PullRequests[47] = pr
	merged := pullRequestOpened(pr)
	merged.Kind = webhooks.KindPullRequestMerged
	merged.Action = "closed"
	merged.PullRequest.Merged = true
	h.handle(merged)
	if h.gateway.Calls() != 0 {
		t.Fatalf("merge event must not transfer funds")
	}
	if got := h.forge.LastComment(47); !strings.Contains(got, "/merge 47") {
		t.Fatalf("expected awaiting confirmation comment, got %q", got)
	}
	if h.bounty(42).PaymentStatus != core.PaymentStatusHeld {
		t.Fatalf("merge event must not release payment")
	}

	h.say(47, true, "maintainer", "/merge")
	if h.gateway.Calls() != 1 {
		t.Fatalf("expected exactly one transfer, got %d", h.gateway.Calls())
	}
	paid := h.bounty(42)
	if paid.Status != core.BountyStatusCompleted || paid.PaymentStatus != core.PaymentStatusReleased {
		t.Fatalf("unexpected paid bounty %s/%s", paid.Status, paid.PaymentStatus)
	}
	if paid.TransferID == nil || *paid.TransferID != "tr_"+paid.ID {
		t.Fatalf("expected transfer id on bounty, got %v", paid.TransferID)
	}
	payouts, _ := h.store.ListPayouts(ctx, paid.ID)
	transactions, _ := h.store.ListTransactions(ctx, paid.ID)
	if len(payouts) != 1 || len(transactions) != 1 {
		t.Fatalf("expected one payout and one transaction, got %d and %d", len(payouts), len(transactions))
	}

	h.say(47, true, "maintainer", "/merge 47")
	if h.gateway.Calls() != 1 {
		t.Fatalf("repeated merge must not transfer again, got %d calls", h.gateway.Calls())
	}
	if got := h.forge.LastComment(47); !strings.Contains(got, "already been paid out") {
		t.Fatalf("expected already paid reply, got %q", got)
	}
}

func TestConcurrentMergeCommandsTransferOnce(t *testing.T) {
	h := newHarness(t)
	bounty := h.fundedBounty()
	h.payoutReady("alice", "acct_alice")
	h.handle(pullRequestOpened(h.forge.PullRequests[47]))
	h.say(42, false, "maintainer", "/approve 47")
	pr := h.forge.PullRequests[47]
	pr.Merged = true
	h.forge.PullRequests[47] = pr

	events := make([]webhooks.Event, 6)
	for i := range events {
		events[i], _ = h.comment(42, false, "maintainer", "/merge 47")
	}
	var wg sync.WaitGroup
	errs := make(chan error, len(events))
	for _, event := range events {
		wg.Add(1)
		go func(event webhooks.Event) {
			defer wg.Done()
			errs <- h.orch.Handle(context.Background(), event)
		}(event)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("handle: %v", err)
		}
	}
	if h.gateway.Calls() != 1 {
		t.Fatalf("expected one transfer, got %d", h.gateway.Calls())
	}
	payouts, _ := h.store.ListPayouts(context.Background(), bounty.ID)
	if len(payouts) != 1 {
		t.Fatalf("expected one payout row, got %d", len(payouts))
	}
}

func TestMaintainerOnlyCommandsRequirePermission(t *testing.T) {
	h := newHarness(t)
	id := h.say(42, false, "mallory", "/create 100 USD")

	if _, err := h.store.FindBountyByIssue(context.Background(), testRepo, 42); !core.IsNotFound(err) {
		t.Fatalf("expected no bounty, got %v", err)
	}
	if got := h.forge.ReactionsOn(id); len(got) != 1 || got[0] != "-1" {
		t.Fatalf("expected -1 reaction, got %v", got)
	}
	if got := h.forge.LastComment(42); !strings.Contains(got, "does not have maintainer access") {
		t.Fatalf("expected authorization reply, got %q", got)
	}
}

func TestCreateRejectsAmountAboveLimit(t *testing.T) {
	h := newHarness(t)
	h.say(42, false, "maintainer", "/create 2000000 USD")

	if _, err := h.store.FindBountyByIssue(context.Background(), testRepo, 42); !core.IsNotFound(err) {
		t.Fatalf("expected no bounty, got %v", err)
	}
	if got := h.forge.LastComment(42); !strings.HasPrefix(got, "`/create` was not applied") || !strings.Contains(got, "must not exceed") {
		t.Fatalf("expected amount rejection, got %q", got)
	}
}

func TestCreateTwiceConflicts(t *testing.T) {
	h := newHarness(t)
	h.say(42, false, "maintainer", "/create 500 USD")
	h.say(42, false, "maintainer", "/create 600 USD")

	if got := h.bounty(42).Amount.String(); got != "500.00 USD" {
		t.Fatalf("expected first bounty to stand, got %s", got)
	}
	if got := h.forge.LastComment(42); !strings.Contains(got, "already has a bounty") {
		t.Fatalf("expected conflict reply, got %q", got)
	}
}

func TestDuplicateSubmitIsRejected(t *testing.T) {
	h := newHarness(t)
	bounty := h.fundedBounty()

	h.say(42, false, "alice", "/submit 47")
	h.say(42, false, "alice", "/submit 47")

	submissions, _ := h.store.ListSubmissions(context.Background(), bounty.ID)
	if len(submissions) != 1 {
		t.Fatalf("expected one submission, got %d", len(submissions))
	}
	if got := h.forge.LastComment(42); !strings.Contains(got, "already submitted") {
		t.Fatalf("expected already submitted reply, got %q", got)
	}
}

func TestPullRequestReopenedStaysQuiet(t *testing.T) {
	h := newHarness(t)
	h.fundedBounty()
	h.handle(pullRequestOpened(h.forge.PullRequests[47]))
	before := len(h.forge.CommentsOn(47))

	reopened := pullRequestOpened(h.forge.PullRequests[47])
	reopened.Action = "reopened"
	h.handle(reopened)

	if after := len(h.forge.CommentsOn(47)); after != before {
		t.Fatalf("expected no new comments on reopen, got %d -> %d", before, after)
	}
}

func TestUnsubmitRequiresAuthorOrMaintainer(t *testing.T) {
	h := newHarness(t)
	bounty := h.fundedBounty()
	h.handle(pullRequestOpened(h.forge.PullRequests[47]))

	h.say(47, true, "mallory", "/unsubmit")
	if _, err := h.store.FindSubmissionByPR(context.Background(), bounty.ID, 47); err != nil {
		t.Fatalf("expected submission to survive a stranger's unsubmit: %v", err)
	}

	h.say(47, true, "alice", "/unsubmit")
	if _, err := h.store.FindSubmissionByPR(context.Background(), bounty.ID, 47); !core.IsNotFound(err) {
		t.Fatalf("expected submission withdrawn by its author, got %v", err)
	}
}

func TestApproveRequiresPayoutAccount(t *testing.T) {
	h := newHarness(t)
	bounty := h.fundedBounty()
	h.handle(pullRequestOpened(h.forge.PullRequests[47]))

	h.say(42, false, "maintainer", "/approve 47")

	submission, _ := h.store.FindSubmissionByPR(context.Background(), bounty.ID, 47)
	if submission.Status != core.SubmissionStatusPending {
		t.Fatalf("expected submission to stay pending, got %s", submission.Status)
	}
	if got := h.forge.LastComment(42); !strings.Contains(got, "payout account") {
		t.Fatalf("expected payout account reply, got %q", got)
	}
}

func TestReapproveDemotesPreviousApproval(t *testing.T) {
	h := newHarness(t)
	bounty := h.fundedBounty()
	h.payoutReady("alice", "acct_alice")
	h.payoutReady("bob", "acct_bob")
	h.forge.PullRequests[48] = core.PullRequest{Number: 48, Body: "Fixes #42\n/submit", AuthorLogin: "bob", AuthorID: 7}
	h.handle(pullRequestOpened(h.forge.PullRequests[47]))
	h.handle(pullRequestOpened(h.forge.PullRequests[48]))

	h.say(42, false, "maintainer", "/approve 47")
	h.say(42, false, "maintainer", "/approve 48")
	if got := h.forge.LastComment(42); !strings.Contains(got, "reapprove") {
		t.Fatalf("expected plain approve to conflict, got %q", got)
	}

	h.say(42, false, "maintainer", "/reapprove 48")
	first, _ := h.store.FindSubmissionByPR(context.Background(), bounty.ID, 47)
	second, _ := h.store.FindSubmissionByPR(context.Background(), bounty.ID, 48)
	if first.Status != core.SubmissionStatusPending || second.Status != core.SubmissionStatusApproved {
		t.Fatalf("unexpected statuses #47=%s #48=%s", first.Status, second.Status)
	}
	if assigned := h.bounty(42).AssignedToID; assigned == nil || *assigned != second.ContributorID {
		t.Fatalf("expected bounty reassigned to bob")
	}
}

func TestUnapproveReopensBounty(t *testing.T) {
	h := newHarness(t)
	h.fundedBounty()
	h.payoutReady("alice", "acct_alice")
	h.handle(pullRequestOpened(h.forge.PullRequests[47]))
	h.say(42, false, "maintainer", "/approve 47")

	h.say(42, false, "maintainer", "/unapprove 47")

	bounty := h.bounty(42)
	if bounty.Status != core.BountyStatusOpen || bounty.AssignedToID != nil {
		t.Fatalf("expected open unassigned bounty, got %s assigned=%v", bounty.Status, bounty.AssignedToID)
	}
}

func TestMergeRequiresMergedPullRequest(t *testing.T) {
	h := newHarness(t)
	h.fundedBounty()
	h.payoutReady("alice", "acct_alice")
	h.handle(pullRequestOpened(h.forge.PullRequests[47]))
	h.say(42, false, "maintainer", "/approve 47")

	h.say(42, false, "maintainer", "/merge 47")

	if h.gateway.Calls() != 0 {
		t.Fatalf("expected no transfer for an unmerged pull request")
	}
	if got := h.forge.LastComment(42); !strings.Contains(got, "has not been merged") {
		t.Fatalf("expected not merged reply, got %q", got)
	}
}

func TestMergeGatewayFailureIsReportedAndRetryable(t *testing.T) {
	h := newHarness(t)
	h.fundedBounty()
	h.payoutReady("alice", "acct_alice")
	h.handle(pullRequestOpened(h.forge.PullRequests[47]))
	h.say(42, false, "maintainer", "/approve 47")
	pr := h.forge.PullRequests[47]
	pr.Merged = true
	h.forge.PullRequests[47] = pr

	h.gateway.err = errors.New("insufficient platform balance")
	h.say(42, false, "maintainer", "/merge 47")
	if got := h.forge.LastComment(42); !strings.Contains(got, "transfer could not be created") {
		t.Fatalf("expected transfer failure reply, got %q", got)
	}
	if h.bounty(42).IsReleased() {
		t.Fatalf("failed transfer must not release the bounty")
	}

	h.gateway.err = nil
	h.say(42, false, "maintainer", "/merge 47")
	if !h.bounty(42).IsReleased() {
		t.Fatalf("expected retry to release the bounty")
	}
	if h.gateway.Calls() != 2 {
		t.Fatalf("expected two transfer attempts, got %d", h.gateway.Calls())
	}
}

func TestMoveRepointsBounty(t *testing.T) {
	h := newHarness(t)
	h.say(42, false, "maintainer", "/create 500 USD")
	oldComment := *h.bounty(42).CommentID

	h.say(42, false, "maintainer", "/move 43")

	moved := h.bounty(43)
	if moved.IssueTitle != "Crash on huge input" {
		t.Fatalf("expected issue details refreshed, got %q", moved.IssueTitle)
	}
	if moved.CommentID == nil || *moved.CommentID == oldComment {
		t.Fatalf("expected a new status comment on #43")
	}
	if len(h.forge.Deleted) != 1 || h.forge.Deleted[0] != oldComment {
		t.Fatalf("expected old status comment deleted, got %v", h.forge.Deleted)
	}
	if _, err := h.store.FindBountyByIssue(context.Background(), testRepo, 42); !core.IsNotFound(err) {
		t.Fatalf("expected #42 to be free, got %v", err)
	}
}

func TestIssueDeletedRemovesOrOrphans(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.say(43, false, "maintainer", "/create 50 USD")
	unfunded := h.bounty(43)
	funded := h.fundedBounty()

	for _, number := range []int{42, 43} {
		h.handle(webhooks.Event{
			Kind:   webhooks.KindIssueDeleted,
			Name:   "issues",
			Action: "deleted",
			Repo:   testRepo,
			Issue:  &webhooks.IssuePayload{Number: number},
		})
	}

	if _, err := h.store.GetBounty(ctx, unfunded.ID); !core.IsNotFound(err) {
		t.Fatalf("expected unfunded bounty deleted, got %v", err)
	}
	orphan, err := h.store.GetBounty(ctx, funded.ID)
	if err != nil {
		t.Fatalf("expected funded bounty retained: %v", err)
	}
	if !orphan.IsOrphaned() || orphan.PaymentStatus != core.PaymentStatusHeld {
		t.Fatalf("expected orphaned held bounty, got issue=%v payment=%s", orphan.IssueNumber, orphan.PaymentStatus)
	}
}

func TestIssueEditedRefreshesBounty(t *testing.T) {
	h := newHarness(t)
	h.say(42, false, "maintainer", "/create 500 USD")

	h.handle(webhooks.Event{
		Kind:   webhooks.KindIssueEdited,
		Name:   "issues",
		Action: "edited",
		Repo:   testRepo,
		Issue:  &webhooks.IssuePayload{Number: 42, Title: "Crash on empty or blank input", Body: "steps"},
	})

	bounty := h.bounty(42)
	if bounty.IssueTitle != "Crash on empty or blank input" || bounty.IssueBody != "steps" {
		t.Fatalf("expected refreshed issue details, got %q/%q", bounty.IssueTitle, bounty.IssueBody)
	}
}

func TestThrottledCommandsAreAnswered(t *testing.T) {
	limiter, err := ratelimit.NewLimiter(coordination.NewMemoryStore(), ratelimit.Policy{
		Operation: ratelimit.OperationCommand,
		Requests:  2,
		Window:    time.Minute,
	})
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	h := newHarness(t, func(deps *orchestrator.Dependencies) {
		deps.Limiter = limiter
	})

	h.say(42, false, "mallory", "/approve 47")
	h.say(42, false, "mallory", "/approve 47")
	h.say(42, false, "mallory", "/approve 47")

	if got := h.forge.LastComment(42); !strings.Contains(got, "too many commands") {
		t.Fatalf("expected throttled reply, got %q", got)
	}
	h.say(42, false, "maintainer", "/create 500 USD")
	if _, err := h.store.FindBountyByIssue(context.Background(), testRepo, 42); err != nil {
		t.Fatalf("other actors must not be throttled: %v", err)
	}
}

func TestBotAndPlainCommentsAreIgnored(t *testing.T) {
	h := newHarness(t)
	h.say(42, false, "bountybot", "/create 500 USD")
	h.say(42, false, "maintainer", "looks good to me")

	if len(h.forge.Comments) != 0 || len(h.forge.Reactions) != 0 {
		t.Fatalf("expected no forge writes, got %d comments %d reactions", len(h.forge.Comments), len(h.forge.Reactions))
	}
}

type failingStore struct {
	*memory.Store
}

func (s failingStore) CreateBounty(context.Context, core.Bounty) (core.Bounty, error) {
	return core.Bounty{}, errors.New("database is unavailable")
}

func TestInfrastructureFailuresAreReturned(t *testing.T) {
	h := newHarness(t, func(deps *orchestrator.Dependencies) {
		deps.Store = failingStore{Store: memory.NewStore()}
	})
	event, _ := h.comment(42, false, "maintainer", "/create 500 USD")

	if err := h.orch.Handle(context.Background(), event); err == nil {
		t.Fatalf("expected store failure to be returned for redelivery")
	}
	if len(h.forge.Comments) != 0 {
		t.Fatalf("expected no reply for infrastructure failures")
	}
}

func TestForgeOutagesAskForRetry(t *testing.T) {
	h := newHarness(t)
	h.forge.FailReads = core.NewUpstreamError(errors.New("502 bad gateway"), "github", "github GET issue failed")

	h.say(42, false, "maintainer", "/create 500 USD")

	if got := h.forge.LastComment(42); !strings.Contains(got, "try again shortly") {
		t.Fatalf("expected retry reply, got %q", got)
	}
	if _, err := h.store.FindBountyByIssue(context.Background(), testRepo, 42); !core.IsNotFound(err) {
		t.Fatalf("expected no bounty while the forge is down, got %v", err)
	}

	h.forge.FailReads = nil
	h.say(42, false, "maintainer", "/create 500 USD")
	if _, err := h.store.FindBountyByIssue(context.Background(), testRepo, 42); err != nil {
		t.Fatalf("expected create to succeed once the forge is back, got %v", err)
	}
}

// interleavingStore runs interleave once, right after the next bounty lookup
// by issue, before the caller gets to write.
type interleavingStore struct {
	*memory.Store
	interleave func()
}

func (s *interleavingStore) FindBountyByIssue(ctx context.Context, repo core.RepoRef, issue int) (core.Bounty, error) {
	bounty, err := s.Store.FindBountyByIssue(ctx, repo, issue)
	if hook := s.interleave; hook != nil {
		s.interleave = nil
		hook()
	}
	return bounty, err
}

func TestIssueEditRacingPayoutKeepsRelease(t *testing.T) {
	store := &interleavingStore{Store: memory.NewStore()}
	gateway := &stubGateway{}
	h := newHarness(t, func(deps *orchestrator.Dependencies) {
		deps.Store = store
		coordinator, err := payment.NewCoordinator(coordination.NewMemoryStore(), payment.WithGateway(gateway, store))
		if err != nil {
			t.Fatalf("new coordinator: %v", err)
		}
		deps.Payments = coordinator
	})
	h.gateway = gateway
	h.fundedBounty()
	h.payoutReady("alice", "acct_alice")
	h.handle(pullRequestOpened(h.forge.PullRequests[47]))
	h.say(42, false, "maintainer", "/approve 47")
	pr := h.forge.PullRequests[47]
	pr.Merged = true
	h.forge.PullRequests[47] = pr

	store.interleave = func() { h.say(42, false, "maintainer", "/merge 47") }
	h.handle(webhooks.Event{
		Kind:   webhooks.KindIssueEdited,
		Name:   "issues",
		Action: "edited",
		Repo:   testRepo,
		Issue:  &webhooks.IssuePayload{Number: 42, Title: "Crash on empty or blank input", Body: "steps"},
	})

	bounty := h.bounty(42)
	if h.gateway.Calls() != 1 {
		t.Fatalf("expected one transfer, got %d", h.gateway.Calls())
	}
	if !bounty.IsReleased() || bounty.Status != core.BountyStatusCompleted || bounty.TransferID == nil {
		t.Fatalf("expected released bounty to survive the edit, got %s/%s transfer=%v", bounty.Status, bounty.PaymentStatus, bounty.TransferID)
	}
	if bounty.IssueTitle != "Crash on empty or blank input" {
		t.Fatalf("expected edit applied after re-read, got %q", bounty.IssueTitle)
	}

	h.say(42, false, "maintainer", "/unapprove 47")
	if !h.bounty(42).IsReleased() {
		t.Fatalf("expected paid bounty to reject unapprove")
	}
}

func TestInstallationEventsAreRecorded(t *testing.T) {
	h := newHarness(t)
	h.forge.Repositories[77] = []core.RepoRef{testRepo}

	h.handle(webhooks.Event{
		Kind:         webhooks.KindInstallationCreated,
		Name:         "installation",
		Action:       "created",
		Installation: &webhooks.InstallationPayload{ID: 77, AccountLogin: "acme"},
	})
	installation, err := h.store.GetInstallation(context.Background(), 77)
	if err != nil {
		t.Fatalf("get installation: %v", err)
	}
	if installation.Status != core.InstallationStatusActive || len(installation.Repositories) != 1 || installation.Repositories[0] != "acme/widgets" {
		t.Fatalf("unexpected installation %+v", installation)
	}

	h.handle(webhooks.Event{
		Kind:         webhooks.KindInstallationDeleted,
		Name:         "installation",
		Action:       "deleted",
		Installation: &webhooks.InstallationPayload{ID: 77, AccountLogin: "acme"},
	})
	installation, _ = h.store.GetInstallation(context.Background(), 77)
	if installation.Status != core.InstallationStatusDeleted {
		t.Fatalf("expected deleted installation, got %s", installation.Status)
	}
}

func TestFundCommand(t *testing.T) {
	h := newHarness(t)
	h.say(42, false, "maintainer", "/create 500 USD")
	cmd := orchestrator.NewFundCommand(h.orch)

	if err := cmd.Execute(context.Background(), orchestrator.FundMessage{}); !core.IsTextCode(err, core.ErrorValidationFailed) {
		t.Fatalf("expected %s for a missing bounty id, got %v", core.ErrorValidationFailed, err)
	}
	if err := cmd.Execute(context.Background(), orchestrator.FundMessage{BountyID: h.bounty(42).ID, Reference: "pi_1"}); err != nil {
		t.Fatalf("fund: %v", err)
	}
	if !h.bounty(42).IsFunded() {
		t.Fatalf("expected bounty funded")
	}
	err := cmd.Execute(context.Background(), orchestrator.FundMessage{BountyID: h.bounty(42).ID})
	if core.ErrorReason(err) != core.ReasonAlreadyFunded {
		t.Fatalf("expected already funded conflict, got %v", err)
	}
}

func TestCancelCommand(t *testing.T) {
	h := newHarness(t)
	funded := h.fundedBounty()
	cmd := orchestrator.NewCancelCommand(h.orch)

	if err := cmd.Execute(context.Background(), orchestrator.CancelMessage{}); err == nil {
		t.Fatalf("expected missing bounty id to fail")
	}
	if err := cmd.Execute(context.Background(), orchestrator.CancelMessage{BountyID: funded.ID}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if h.bounty(42).Status != core.BountyStatusCancelled {
		t.Fatalf("expected cancelled bounty, got %s", h.bounty(42).Status)
	}
	err := cmd.Execute(context.Background(), orchestrator.CancelMessage{BountyID: funded.ID})
	if core.ErrorReason(err) != core.ReasonAlreadyCancelled {
		t.Fatalf("expected already cancelled conflict, got %v", err)
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := orchestrator.New(orchestrator.Dependencies{}, orchestrator.Config{}); err == nil {
		t.Fatalf("expected missing dependencies to fail")
	}
}

func TestCommandersRequireService(t *testing.T) {
	var cmd *orchestrator.MergeCommand
	if err := cmd.Execute(context.Background(), command.Message{}); !core.IsTextCode(err, core.ErrorInternal) {
		t.Fatalf("expected internal dependency error, got %v", err)
	}
}
