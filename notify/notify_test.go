package notify_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-bounties/adapters/gojob"
	"github.com/goliatone/go-bounties/core"
	"github.com/goliatone/go-bounties/forge/forgetest"
	"github.com/goliatone/go-bounties/notify"
)

var repo = core.RepoRef{Owner: "acme", Name: "widgets"}

func newQueuedPipeline(forge core.Forge, policy gojob.RetryPolicy, opts ...notify.WorkerOption) (*gojob.MemoryQueue, *notify.QueuedNotifier, *notify.Worker) {
	q := gojob.NewMemoryQueue()
	notifier := notify.NewQueuedNotifier(gojob.NewEnqueuerAdapter(q))
	worker := notify.NewWorker(gojob.NewDequeuerAdapter(q, policy), forge, opts...)
	return q, notifier, worker
}

func TestDirectNotifier_PostsImmediately(t *testing.T) {
	forge := forgetest.New()
	notifier := notify.NewDirectNotifier(forge)
	if err := notifier.Comment(context.Background(), repo, 42, "hello"); err != nil {
		t.Fatalf("comment: %v", err)
	}
	if err := notifier.React(context.Background(), repo, 7, notify.ReactionAck); err != nil {
		t.Fatalf("react: %v", err)
	}
	if forge.LastComment(42) != "hello" {
		t.Fatalf("expected comment on #42, got %q", forge.LastComment(42))
	}
	if got := forge.ReactionsOn(7); len(got) != 1 || got[0] != "+1" {
		t.Fatalf("expected +1 reaction, got %v", got)
	}
}

func TestQueuedNotifier_WorkerPostsQueuedReplies(t *testing.T) {
	ctx := context.Background()
	forge := forgetest.New()
	q, notifier, worker := newQueuedPipeline(forge, gojob.RetryPolicy{})

	if err := notifier.Comment(ctx, repo, 42, "Bounty created"); err != nil {
		t.Fatalf("enqueue comment: %v", err)
	}
	if err := notifier.Comment(ctx, repo, 42, "Bounty created"); err != nil {
		t.Fatalf("enqueue duplicate comment: %v", err)
	}
	if err := notifier.React(ctx, repo, 9001, notify.ReactionAck); err != nil {
		t.Fatalf("enqueue reaction: %v", err)
	}
	if q.Len() != 2 {
		t.Fatalf("expected identical comment to be deduplicated, got %d jobs", q.Len())
	}

	for i := 0; i < 2; i++ {
		if err := worker.RunOnce(ctx); err != nil {
			t.Fatalf("run once: %v", err)
		}
	}
	if got := forge.CommentsOn(42); len(got) != 1 || got[0] != "Bounty created" {
		t.Fatalf("expected one posted comment, got %v", got)
	}
	if got := forge.ReactionsOn(9001); len(got) != 1 {
		t.Fatalf("expected reaction to be posted, got %v", got)
	}
}

func TestWorker_RetriesTransientFailuresThenDeadLetters(t *testing.T) {
	ctx := context.Background()
	forge := forgetest.New()
	forge.FailComments = core.NewUpstreamError(errors.New("502"), "github", "forge unavailable")
	hook := &countingHook{}
	q, notifier, worker := newQueuedPipeline(
		forge,
		gojob.RetryPolicy{MaxAttempts: 2, DeadLetterOnMax: true},
		notify.WithWorkerHook(hook),
		notify.WithBackoff(time.Nanosecond, time.Nanosecond),
	)

	if err := notifier.Comment(ctx, repo, 1, "retry me"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := worker.RunOnce(ctx); err != nil {
		t.Fatalf("first attempt: %v", err)
	}
	if hook.retries != 1 {
		t.Fatalf("expected a retry after the first failure, got %d", hook.retries)
	}

	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := worker.RunOnce(waitCtx); err != nil {
		t.Fatalf("second attempt: %v", err)
	}
	if len(q.DeadLetters()) != 1 {
		t.Fatalf("expected job to be dead-lettered at max attempts")
	}
	if hook.starts != 2 {
		t.Fatalf("expected two starts, got %d", hook.starts)
	}
}

func TestWorker_InvalidJobIsDeadLettered(t *testing.T) {
	ctx := context.Background()
	forge := forgetest.New()
	q := gojob.NewMemoryQueue()
	enqueuer := gojob.NewEnqueuerAdapter(q)
	worker := notify.NewWorker(gojob.NewDequeuerAdapter(q, gojob.RetryPolicy{}), forge)

	if err := enqueuer.Enqueue(ctx, &core.JobExecutionMessage{
		JobID:      notify.JobIDComment,
		Parameters: map[string]any{"repo": "acme/widgets", "number": float64(0)},
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := worker.RunOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if len(q.DeadLetters()) != 1 || q.Len() != 0 {
		t.Fatalf("expected invalid job dead-lettered without retry")
	}
}

func TestCommentJob_KeysOnContent(t *testing.T) {
	a := notify.CommentJob(repo, 1, "x")
	b := notify.CommentJob(repo, 1, "x")
	c := notify.CommentJob(repo, 2, "x")
	if a.IdempotencyKey != b.IdempotencyKey {
		t.Fatalf("expected identical jobs to share a key")
	}
	if a.IdempotencyKey == c.IdempotencyKey {
		t.Fatalf("expected different targets to use different keys")
	}
}

type countingHook struct {
	starts, successes, failures, retries int
}

func (h *countingHook) OnStart(context.Context, core.JobWorkerEvent)   { h.starts++ }
func (h *countingHook) OnSuccess(context.Context, core.JobWorkerEvent) { h.successes++ }
func (h *countingHook) OnFailure(context.Context, core.JobWorkerEvent) { h.failures++ }
func (h *countingHook) OnRetry(context.Context, core.JobWorkerEvent)   { h.retries++ }
