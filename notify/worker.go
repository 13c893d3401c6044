package notify

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-bounties/core"
)

type WorkerOption func(*Worker)

func WithWorkerLogger(logger core.Logger) WorkerOption {
	return func(w *Worker) {
		w.logger = logger
	}
}

func WithWorkerHook(hook core.JobWorkerHook) WorkerOption {
	return func(w *Worker) {
		w.hook = hook
	}
}

func WithBackoff(initial time.Duration, maximum time.Duration) WorkerOption {
	return func(w *Worker) {
		if initial > 0 {
			w.initialDelay = initial
		}
		if maximum > 0 {
			w.maxDelay = maximum
		}
	}
}

// Worker drains notification jobs and posts them to the forge.
type Worker struct {
	dequeuer     core.JobDequeuer
	forge        core.Forge
	logger       core.Logger
	hook         core.JobWorkerHook
	initialDelay time.Duration
	maxDelay     time.Duration

	mu       sync.Mutex
	attempts map[string]int
}

func NewWorker(dequeuer core.JobDequeuer, forge core.Forge, opts ...WorkerOption) *Worker {
	w := &Worker{
		dequeuer:     dequeuer,
		forge:        forge,
		initialDelay: time.Second,
		maxDelay:     time.Minute,
		attempts:     map[string]int{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

// Run processes jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if err := w.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			core.LogWithLevel(ctx, w.logger, "error", "notification worker dequeue failed", map[string]any{
				"error": err.Error(),
			})
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(w.initialDelay):
			}
		}
	}
}

// RunOnce dequeues and executes a single job. Execution failures are settled
// on the delivery; only dequeue and settlement errors are returned.
func (w *Worker) RunOnce(ctx context.Context) error {
	if w == nil || w.dequeuer == nil {
		return fmt.Errorf("notify: dequeuer is not configured")
	}
	delivery, err := w.dequeuer.Dequeue(ctx)
	if err != nil {
		return err
	}
	msg := delivery.Message()
	if msg == nil {
		return delivery.Nack(ctx, core.JobNackOptions{DeadLetter: true, Reason: "empty message"})
	}

	attempt := w.nextAttempt(msg)
	startedAt := time.Now()
	event := core.JobWorkerEvent{Message: msg, Attempt: attempt, StartedAt: startedAt}
	w.emit(ctx, "start", event)

	execErr := w.execute(ctx, msg)
	event.Duration = time.Since(startedAt)
	if execErr == nil {
		w.forget(msg)
		w.emit(ctx, "success", event)
		return delivery.Ack(ctx)
	}

	event.Err = execErr
	opts := core.JobNackOptions{
		Delay:   w.backoff(attempt),
		Requeue: true,
		Reason:  execErr.Error(),
	}
	if isPermanent(execErr) {
		opts.Requeue = false
		opts.DeadLetter = true
	}
	event.Delay = opts.Delay

	core.LogWithLevel(ctx, w.logger, "warn", "notification job failed", map[string]any{
		"job_id":    msg.JobID,
		"attempt":   attempt,
		"permanent": opts.DeadLetter,
		"error":     execErr.Error(),
	})

	if nacker, ok := delivery.(core.JobAttemptNacker); ok {
		err = nacker.NackForAttempt(ctx, opts, attempt)
	} else {
		err = delivery.Nack(ctx, opts)
	}
	if opts.Requeue {
		w.emit(ctx, "retry", event)
	} else {
		w.forget(msg)
		w.emit(ctx, "failure", event)
	}
	return err
}

func (w *Worker) execute(ctx context.Context, msg *core.JobExecutionMessage) error {
	if w.forge == nil {
		return fmt.Errorf("notify: forge is not configured")
	}
	repo, err := core.ParseRepoRef(stringParam(msg.Parameters, "repo"))
	if err != nil {
		return core.NewValidationError(err.Error(), "repo")
	}
	switch strings.TrimSpace(msg.JobID) {
	case JobIDComment:
		number := int(intParam(msg.Parameters, "number"))
		if number <= 0 {
			return core.NewValidationError("comment job requires an issue number", "number")
		}
		_, err := w.forge.CreateComment(ctx, repo, number, stringParam(msg.Parameters, "body"))
		return err
	case JobIDReaction:
		commentID := intParam(msg.Parameters, "comment_id")
		if commentID <= 0 {
			return core.NewValidationError("reaction job requires a comment id", "comment_id")
		}
		return w.forge.CreateReaction(ctx, repo, commentID, stringParam(msg.Parameters, "reaction"))
	default:
		return core.NewValidationError(fmt.Sprintf("unknown notification job %q", msg.JobID), "job_id")
	}
}

func (w *Worker) emit(ctx context.Context, phase string, event core.JobWorkerEvent) {
	if w.hook == nil {
		return
	}
	switch phase {
	case "start":
		w.hook.OnStart(ctx, event)
	case "success":
		w.hook.OnSuccess(ctx, event)
	case "retry":
		w.hook.OnRetry(ctx, event)
	default:
		w.hook.OnFailure(ctx, event)
	}
}

func (w *Worker) nextAttempt(msg *core.JobExecutionMessage) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	key := attemptKey(msg)
	w.attempts[key]++
	return w.attempts[key]
}

func (w *Worker) forget(msg *core.JobExecutionMessage) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.attempts, attemptKey(msg))
}

func (w *Worker) backoff(attempt int) time.Duration {
	delay := w.initialDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= w.maxDelay {
			return w.maxDelay
		}
	}
	return delay
}

func attemptKey(msg *core.JobExecutionMessage) string {
	if key := strings.TrimSpace(msg.IdempotencyKey); key != "" {
		return key
	}
	return fmt.Sprintf("%s:%v", msg.JobID, msg.Parameters)
}

func isPermanent(err error) bool {
	return core.IsTextCode(err, core.ErrorValidationFailed) || core.IsNotFound(err)
}

func stringParam(params map[string]any, key string) string {
	value, ok := params[key]
	if !ok || value == nil {
		return ""
	}
	if s, ok := value.(string); ok {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(fmt.Sprint(value))
}

// intParam accepts the numeric shapes a parameter can take after a round
// trip through a serialising queue.
func intParam(params map[string]any, key string) int64 {
	switch value := params[key].(type) {
	case int:
		return int64(value)
	case int64:
		return value
	case int32:
		return int64(value)
	case float64:
		return int64(value)
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			return 0
		}
		return parsed
	default:
		return 0
	}
}
