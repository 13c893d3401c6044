package payment

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goliatone/go-bounties/coordination"
	"github.com/goliatone/go-bounties/core"
	"github.com/goliatone/go-bounties/store/memory"
	"github.com/shopspring/decimal"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func noSleep(context.Context, time.Duration) error { return nil }

func newTestCoordinator(t *testing.T, opts ...Option) (*Coordinator, *coordination.MemoryStore, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	store := coordination.NewMemoryStore()
	store.Now = clock.Now
	coordinator, err := NewCoordinator(store, append([]Option{WithSleeper(noSleep), WithClock(clock.Now)}, opts...)...)
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	return coordinator, store, clock
}

func TestAcquireLock_SecondCallReturnsNil(t *testing.T) {
	var sleeps int
	coordinator, _, _ := newTestCoordinator(t, WithSleeper(func(context.Context, time.Duration) error {
		sleeps++
		return nil
	}))
	ctx := context.Background()

	release, err := coordinator.AcquireLock(ctx, "b1", LockOptions{})
	if err != nil || release == nil {
		t.Fatalf("expected first acquire to succeed, got release=%v err=%v", release != nil, err)
	}
	second, err := coordinator.AcquireLock(ctx, "b1", LockOptions{})
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if second != nil {
		t.Fatalf("expected second acquire to return nil")
	}
	if sleeps != 2 {
		t.Fatalf("expected two retry waits for three attempts, got %d", sleeps)
	}

	if err := release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	third, err := coordinator.AcquireLock(ctx, "b1", LockOptions{})
	if err != nil || third == nil {
		t.Fatalf("expected acquire after release to succeed")
	}
}

func TestAcquireLock_ExpiresAfterTTL(t *testing.T) {
	coordinator, _, clock := newTestCoordinator(t)
	ctx := context.Background()

	release, err := coordinator.AcquireLock(ctx, "b1", LockOptions{TTL: time.Second})
	if err != nil || release == nil {
		t.Fatalf("acquire: %v", err)
	}
	if locked, _ := coordinator.IsLocked(ctx, "b1"); !locked {
		t.Fatalf("expected b1 to be locked")
	}
	clock.Advance(1100 * time.Millisecond)
	if locked, _ := coordinator.IsLocked(ctx, "b1"); locked {
		t.Fatalf("expected b1 lock to expire after ttl")
	}
}

func TestAcquireLock_ReleaseKeepsForeignLock(t *testing.T) {
	tokens := []string{"holder-a", "holder-b"}
	var next atomic.Int32
	coordinator, store, clock := newTestCoordinator(t, WithTokenGenerator(func() string {
		return tokens[next.Add(1)-1]
	}))
	ctx := context.Background()

	stale, _ := coordinator.AcquireLock(ctx, "b1", LockOptions{TTL: time.Second})
	clock.Advance(2 * time.Second)
	current, _ := coordinator.AcquireLock(ctx, "b1", LockOptions{TTL: time.Minute})
	if current == nil {
		t.Fatalf("expected re-acquire after expiry")
	}
	if err := stale(ctx); err != nil {
		t.Fatalf("stale release: %v", err)
	}
	value, ok, _ := store.Get(ctx, "lock:payout:b1")
	if !ok || value != "holder-b" {
		t.Fatalf("expected current holder to keep the lock, got %q ok=%v", value, ok)
	}
}

func TestWithLock(t *testing.T) {
	coordinator, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := coordinator.WithLock(ctx, "b1", LockOptions{}, func(context.Context) error {
		if locked, _ := coordinator.IsLocked(ctx, "b1"); !locked {
			t.Fatalf("expected lock to be held inside operation")
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected operation error, got %v", err)
	}
	if locked, _ := coordinator.IsLocked(ctx, "b1"); locked {
		t.Fatalf("expected lock released after failure")
	}

	release, _ := coordinator.AcquireLock(ctx, "b1", LockOptions{})
	defer release(ctx)
	err = coordinator.WithLock(ctx, "b1", LockOptions{}, func(context.Context) error {
		t.Fatalf("operation must not run without the lock")
		return nil
	})
	if !core.IsTextCode(err, core.ErrorLockUnavailable) {
		t.Fatalf("expected lock unavailable, got %v", err)
	}
}

func TestLedger_MarkAndCheck(t *testing.T) {
	coordinator, _, clock := newTestCoordinator(t)
	ctx := context.Background()
	b1 := OperationKey{Name: OperationMergePayout, BountyID: "b1"}

	if err := coordinator.MarkPerformed(ctx, b1, "success", 0); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if done, _ := coordinator.WasPerformed(ctx, b1); !done {
		t.Fatalf("expected b1 to be marked")
	}
	if done, _ := coordinator.WasPerformed(ctx, OperationKey{Name: OperationMergePayout, BountyID: "b2"}); done {
		t.Fatalf("expected b2 to be unaffected")
	}
	if done, _ := coordinator.WasPerformed(ctx, OperationKey{Name: OperationMergePayout, BountyID: "b1", Context: "pr-47"}); done {
		t.Fatalf("expected context-scoped key to be distinct")
	}

	clock.Advance(25 * time.Hour)
	if done, _ := coordinator.WasPerformed(ctx, b1); done {
		t.Fatalf("expected marker to expire after the ledger ttl")
	}

	if err := coordinator.MarkPerformed(ctx, b1, "success", NoExpiry); err != nil {
		t.Fatalf("mark permanent: %v", err)
	}
	clock.Advance(365 * 24 * time.Hour)
	if done, _ := coordinator.WasPerformed(ctx, b1); !done {
		t.Fatalf("expected permanent marker to survive")
	}

	if _, err := coordinator.WasPerformed(ctx, OperationKey{BountyID: "b1"}); err == nil {
		t.Fatalf("expected missing operation name to fail")
	}
}

func TestRetryPolicy_NextDelay(t *testing.T) {
	fixed := RetryPolicy{MaxAttempts: 3, Delay: 100 * time.Millisecond}
	if got := fixed.NextDelay(1); got != 100*time.Millisecond {
		t.Fatalf("expected fixed delay, got %s", got)
	}
	jittered := RetryPolicy{MaxAttempts: 3, Delay: 100 * time.Millisecond, Jitter: 0.5}
	for i := 0; i < 100; i++ {
		got := jittered.NextDelay(1)
		if got < 50*time.Millisecond || got > 150*time.Millisecond {
			t.Fatalf("jittered delay out of range: %s", got)
		}
	}
	if (RetryPolicy{}).attempts() != 1 {
		t.Fatalf("expected zero policy to try once")
	}
}

type stubGateway struct {
	mu      sync.Mutex
	calls   int
	delay   time.Duration
	err     error
	lastReq core.TransferRequest
}

func (g *stubGateway) CreateTransfer(_ context.Context, req core.TransferRequest) (core.Transfer, error) {
	g.mu.Lock()
	g.calls++
	g.lastReq = req
	err := g.err
	g.mu.Unlock()
	if g.delay > 0 {
		time.Sleep(g.delay)
	}
	if err != nil {
		return core.Transfer{}, err
	}
	return core.Transfer{ID: "tr_1"}, nil
}

func (g *stubGateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func seedApproved(t *testing.T, store *memory.Store) (core.Bounty, core.Submission) {
	t.Helper()
	ctx := context.Background()
	bounty, err := store.CreateBounty(ctx, core.Bounty{
		ID:            "b1",
		Repo:          core.RepoRef{Owner: "acme", Name: "widgets"},
		IssueNumber:   core.IntPtr(42),
		Amount:        core.NewMoney(decimal.NewFromInt(500), "USD"),
		Status:        core.BountyStatusInProgress,
		PaymentStatus: core.PaymentStatusHeld,
		AssignedToID:  core.StringPtr("c1"),
	})
	if err != nil {
		t.Fatalf("seed bounty: %v", err)
	}
	submission, err := store.CreateSubmission(ctx, core.Submission{
		BountyID:         bounty.ID,
		ContributorID:    "c1",
		ContributorLogin: "dev",
		PRNumber:         47,
		Status:           core.SubmissionStatusApproved,
	})
	if err != nil {
		t.Fatalf("seed submission: %v", err)
	}
	return bounty, submission
}

func TestReleasePayout_ConcurrentMergesTransferOnce(t *testing.T) {
	store := memory.NewStore()
	bounty, submission := seedApproved(t, store)
	gateway := &stubGateway{delay: 20 * time.Millisecond}
	coordinator, err := NewCoordinator(coordination.NewMemoryStore(),
		WithGateway(gateway, store),
		WithLockOptions(LockOptions{TTL: 30 * time.Second, Retry: RetryPolicy{MaxAttempts: 200, Delay: 5 * time.Millisecond}}),
	)
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}

	const workers = 8
	var wg sync.WaitGroup
	results := make([]PayoutResult, workers)
	errs := make([]error, workers)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = coordinator.ReleasePayout(context.Background(), PayoutRequest{
				BountyID:     bounty.ID,
				SubmissionID: submission.ID,
				Destination:  "acct_1",
			})
		}(i)
	}
	close(start)
	wg.Wait()

	paid := 0
	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		if !results[i].AlreadyPaid {
			paid++
		}
	}
	if paid != 1 {
		t.Fatalf("expected exactly one payout, got %d", paid)
	}
	if gateway.Calls() != 1 {
		t.Fatalf("expected exactly one transfer call, got %d", gateway.Calls())
	}
	if gateway.lastReq.IdempotencyKey != "merge-payout-b1" || gateway.lastReq.Amount.MinorUnits() != 50000 {
		t.Fatalf("unexpected transfer request %#v", gateway.lastReq)
	}
	payouts, _ := store.ListPayouts(context.Background(), bounty.ID)
	transactions, _ := store.ListTransactions(context.Background(), bounty.ID)
	if len(payouts) != 1 || len(transactions) != 1 {
		t.Fatalf("expected one payout and one transaction row, got %d/%d", len(payouts), len(transactions))
	}
	stored, _ := store.GetBounty(context.Background(), bounty.ID)
	if stored.Status != core.BountyStatusCompleted || !stored.IsReleased() || stored.TransferID == nil {
		t.Fatalf("unexpected stored bounty %#v", stored)
	}
}

func TestReleasePayout_TransferFailureLeavesNoMarker(t *testing.T) {
	store := memory.NewStore()
	bounty, submission := seedApproved(t, store)
	gateway := &stubGateway{err: errors.New("card declined")}
	coordinator, _, _ := newTestCoordinator(t, WithGateway(gateway, store))
	ctx := context.Background()
	req := PayoutRequest{BountyID: bounty.ID, SubmissionID: submission.ID, Destination: "acct_1"}

	_, err := coordinator.ReleasePayout(ctx, req)
	if !core.IsTextCode(err, core.ErrorUpstreamFailed) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if done, _ := coordinator.WasPerformed(ctx, OperationKey{Name: OperationMergePayout, BountyID: bounty.ID}); done {
		t.Fatalf("expected no ledger marker after failed transfer")
	}
	if locked, _ := coordinator.IsLocked(ctx, bounty.ID); locked {
		t.Fatalf("expected lock released after failed transfer")
	}

	gateway.mu.Lock()
	gateway.err = nil
	gateway.mu.Unlock()
	result, err := coordinator.ReleasePayout(ctx, req)
	if err != nil || result.AlreadyPaid || result.TransferID != "tr_1" {
		t.Fatalf("expected retry to pay, got %#v err=%v", result, err)
	}
	if done, _ := coordinator.WasPerformed(ctx, OperationKey{Name: OperationMergePayout, BountyID: bounty.ID}); !done {
		t.Fatalf("expected ledger marker after payout")
	}
}

func TestReleasePayout_StoredReleaseBlocksAfterLedgerExpiry(t *testing.T) {
	store := memory.NewStore()
	bounty, submission := seedApproved(t, store)
	gateway := &stubGateway{}
	coordinator, _, clock := newTestCoordinator(t, WithGateway(gateway, store), WithPermanentLedger(false))
	ctx := context.Background()
	req := PayoutRequest{BountyID: bounty.ID, SubmissionID: submission.ID, Destination: "acct_1"}

	if _, err := coordinator.ReleasePayout(ctx, req); err != nil {
		t.Fatalf("first payout: %v", err)
	}
	clock.Advance(48 * time.Hour)
	if done, _ := coordinator.WasPerformed(ctx, OperationKey{Name: OperationMergePayout, BountyID: bounty.ID}); done {
		t.Fatalf("expected ttl'd marker to have expired")
	}
	result, err := coordinator.ReleasePayout(ctx, req)
	if err != nil {
		t.Fatalf("second payout: %v", err)
	}
	if !result.AlreadyPaid || gateway.Calls() != 1 {
		t.Fatalf("expected stored release to block a second transfer, calls=%d", gateway.Calls())
	}
}

func TestReleasePayout_RequiresApprovedSubmission(t *testing.T) {
	store := memory.NewStore()
	bounty, submission := seedApproved(t, store)
	submission.Status = core.SubmissionStatusPending
	if _, err := store.UpdateSubmission(context.Background(), submission); err != nil {
		t.Fatalf("update submission: %v", err)
	}
	gateway := &stubGateway{}
	coordinator, _, _ := newTestCoordinator(t, WithGateway(gateway, store))
	_, err := coordinator.ReleasePayout(context.Background(), PayoutRequest{BountyID: bounty.ID, SubmissionID: submission.ID, Destination: "acct_1"})
	if core.ErrorReason(err) != core.ReasonNotApproved {
		t.Fatalf("expected not_approved conflict, got %v", err)
	}
	if gateway.Calls() != 0 {
		t.Fatalf("expected no transfer")
	}
}
