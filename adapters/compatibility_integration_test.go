package adapters_test

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/goliatone/go-bounties/adapters/gocommand"
	"github.com/goliatone/go-bounties/adapters/gojob"
	"github.com/goliatone/go-bounties/adapters/gologger"
	bountycommand "github.com/goliatone/go-bounties/command"
	"github.com/goliatone/go-bounties/coordination"
	"github.com/goliatone/go-bounties/core"
	"github.com/goliatone/go-bounties/forge/forgetest"
	"github.com/goliatone/go-bounties/notify"
	"github.com/goliatone/go-bounties/orchestrator"
	"github.com/goliatone/go-bounties/payment"
	"github.com/goliatone/go-bounties/store/memory"
	"github.com/goliatone/go-command"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
)

var repo = core.RepoRef{Owner: "acme", Name: "widgets"}

type noopGateway struct {
	mu    sync.Mutex
	calls int
}

func (g *noopGateway) CreateTransfer(_ context.Context, req core.TransferRequest) (core.Transfer, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return core.Transfer{ID: "tr_" + req.ReferenceID}, nil
}

type pipeline struct {
	orch   *orchestrator.Orchestrator
	store  *memory.Store
	forge  *forgetest.Forge
	queue  *gojob.MemoryQueue
	worker *notify.Worker
	logs   *bytes.Buffer
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	logs := &bytes.Buffer{}
	root := gologger.NewJSONLogger(logs, "debug")
	loggers := gologger.ResolveForJob("bounties", gologger.NewSlogProvider(root), nil)
	if loggers.Provider == nil || loggers.Logger == nil || loggers.JobProvider == nil || loggers.JobLogger == nil {
		t.Fatalf("expected logger bridges")
	}

	store := memory.NewStore()
	fake := forgetest.New()
	fake.Permissions["maintainer"] = core.PermissionWrite
	fake.Issues[42] = core.Issue{Number: 42, Title: "Crash on empty input", State: "open"}

	coordinator, err := payment.NewCoordinator(
		coordination.NewMemoryStore(),
		payment.WithGateway(&noopGateway{}, store),
		payment.WithLogger(loggers.Logger),
	)
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}

	q := gojob.NewMemoryQueue(gojob.WithQueueLogger(loggers.NamedJob("queue")))
	orch, err := orchestrator.New(orchestrator.Dependencies{
		Store:    store,
		Forge:    fake,
		Payments: coordinator,
		Notifier: notify.NewQueuedNotifier(gojob.NewEnqueuerAdapter(q)),
	}, orchestrator.Config{BotUsername: "bountybot"}, orchestrator.WithLogger(loggers.Named("orchestrator")))
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	worker := notify.NewWorker(
		gojob.NewDequeuerAdapter(q, gojob.RetryPolicy{MaxAttempts: 3, DeadLetterOnMax: true}),
		fake,
		notify.WithWorkerLogger(loggers.Named("notify")),
	)
	return &pipeline{orch: orch, store: store, forge: fake, queue: q, worker: worker, logs: logs}
}

func (p *pipeline) create(t *testing.T) core.Bounty {
	t.Helper()
	cmd := bountycommand.NewParser("bountybot").Parse("/create 250 USD")
	if cmd == nil {
		t.Fatalf("expected /create to parse")
	}
	if err := p.orch.Dispatch(context.Background(), bountycommand.Message{
		Command:     *cmd,
		Repo:        repo,
		IssueNumber: 42,
		CommentID:   9001,
		Actor:       bountycommand.Actor{Login: "maintainer", ID: 1},
	}); err != nil {
		t.Fatalf("dispatch create: %v", err)
	}
	bounty, err := p.store.FindBountyByIssue(context.Background(), repo, 42)
	if err != nil {
		t.Fatalf("find bounty: %v", err)
	}
	return bounty
}

func (p *pipeline) drain(t *testing.T) {
	t.Helper()
	for p.queue.Len() > 0 {
		if err := p.worker.RunOnce(context.Background()); err != nil {
			t.Fatalf("drain notifications: %v", err)
		}
	}
}

func TestOperatorCommandsFlowThroughBusQueueAndLogger(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)
	bounty := p.create(t)

	if p.queue.Len() == 0 {
		t.Fatalf("expected create reply to be queued rather than posted")
	}
	p.drain(t)
	if len(p.forge.CommentsOn(42)) < 2 {
		t.Fatalf("expected status comment plus queued reply, got %v", p.forge.CommentsOn(42))
	}

	bus := gocommand.NewBus(command.NewRegistry())
	defer bus.Close()
	queueRegistry := jobqueuecommand.NewRegistry()
	if err := bus.MirrorToQueue("queue", queueRegistry); err != nil {
		t.Fatalf("mirror to queue: %v", err)
	}
	if err := gocommand.Register(bus, orchestrator.NewFundCommand(p.orch)); err != nil {
		t.Fatalf("register fund: %v", err)
	}
	if err := gocommand.Register(bus, orchestrator.NewCancelCommand(p.orch)); err != nil {
		t.Fatalf("register cancel: %v", err)
	}
	if err := bus.Initialize(); err != nil {
		t.Fatalf("initialize bus: %v", err)
	}
	if _, ok := queueRegistry.Get(orchestrator.FundMessageType); !ok {
		t.Fatalf("expected fund command mirrored into the job registry")
	}

	if err := gocommand.Send(ctx, orchestrator.FundMessage{BountyID: bounty.ID, Reference: "pi_1"}); err != nil {
		t.Fatalf("send fund: %v", err)
	}
	funded, err := p.store.GetBounty(ctx, bounty.ID)
	if err != nil {
		t.Fatalf("get bounty: %v", err)
	}
	if !funded.IsFunded() || funded.Status != core.BountyStatusOpen {
		t.Fatalf("expected funded open bounty, got %+v", funded)
	}

	if err := gocommand.Send(ctx, orchestrator.CancelMessage{BountyID: bounty.ID}); err != nil {
		t.Fatalf("send cancel: %v", err)
	}
	cancelled, err := p.store.GetBounty(ctx, bounty.ID)
	if err != nil {
		t.Fatalf("get bounty: %v", err)
	}
	if cancelled.Status != core.BountyStatusCancelled {
		t.Fatalf("expected cancelled bounty, got %s", cancelled.Status)
	}

	if err := gocommand.Send(ctx, orchestrator.FundMessage{}); err == nil {
		t.Fatalf("expected invalid fund message to be rejected")
	}

	logged := p.logs.String()
	if !strings.Contains(logged, "bounty funded") || !strings.Contains(logged, `"logger":"orchestrator"`) {
		t.Fatalf("expected structured orchestrator log lines, got %s", logged)
	}
}
