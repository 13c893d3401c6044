package notify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/goliatone/go-bounties/core"
)

const (
	JobIDComment  = "bounties.notify.comment"
	JobIDReaction = "bounties.notify.reaction"

	ReactionAck      = "+1"
	ReactionRejected = "-1"
	ReactionConfused = "confused"
)

// Notifier delivers best-effort replies. Callers log failures and carry on;
// a reply never decides the outcome of the operation it reports on.
type Notifier interface {
	Comment(ctx context.Context, repo core.RepoRef, number int, body string) error
	React(ctx context.Context, repo core.RepoRef, commentID int64, reaction string) error
}

type DirectNotifier struct {
	forge core.Forge
}

func NewDirectNotifier(forge core.Forge) *DirectNotifier {
	return &DirectNotifier{forge: forge}
}

func (n *DirectNotifier) Comment(ctx context.Context, repo core.RepoRef, number int, body string) error {
	if n == nil || n.forge == nil {
		return fmt.Errorf("notify: forge is not configured")
	}
	_, err := n.forge.CreateComment(ctx, repo, number, body)
	return err
}

func (n *DirectNotifier) React(ctx context.Context, repo core.RepoRef, commentID int64, reaction string) error {
	if n == nil || n.forge == nil {
		return fmt.Errorf("notify: forge is not configured")
	}
	if commentID <= 0 {
		return nil
	}
	return n.forge.CreateReaction(ctx, repo, commentID, reaction)
}

// QueuedNotifier turns replies into jobs. Identical replies share an
// idempotency key so a redelivered webhook does not post twice while the
// first copy is still queued.
type QueuedNotifier struct {
	enqueuer core.JobEnqueuer
}

func NewQueuedNotifier(enqueuer core.JobEnqueuer) *QueuedNotifier {
	return &QueuedNotifier{enqueuer: enqueuer}
}

func (n *QueuedNotifier) Comment(ctx context.Context, repo core.RepoRef, number int, body string) error {
	if n == nil || n.enqueuer == nil {
		return fmt.Errorf("notify: enqueuer is not configured")
	}
	return n.enqueuer.Enqueue(ctx, CommentJob(repo, number, body))
}

func (n *QueuedNotifier) React(ctx context.Context, repo core.RepoRef, commentID int64, reaction string) error {
	if n == nil || n.enqueuer == nil {
		return fmt.Errorf("notify: enqueuer is not configured")
	}
	if commentID <= 0 {
		return nil
	}
	return n.enqueuer.Enqueue(ctx, ReactionJob(repo, commentID, reaction))
}

func CommentJob(repo core.RepoRef, number int, body string) *core.JobExecutionMessage {
	return &core.JobExecutionMessage{
		JobID:      JobIDComment,
		Parameters: map[string]any{
			"repo":   repo.FullName(),
			"number": number,
			"body":   body,
		},
		IdempotencyKey: contentKey(JobIDComment, repo.FullName(), strconv.Itoa(number), body),
		DedupPolicy:    "drop",
	}
}

func ReactionJob(repo core.RepoRef, commentID int64, reaction string) *core.JobExecutionMessage {
	return &core.JobExecutionMessage{
		JobID:      JobIDReaction,
		Parameters: map[string]any{
			"repo":       repo.FullName(),
			"comment_id": commentID,
			"reaction":   reaction,
		},
		IdempotencyKey: contentKey(JobIDReaction, repo.FullName(), strconv.FormatInt(commentID, 10), reaction),
		DedupPolicy:    "drop",
	}
}

func contentKey(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(sum[:16])
}

var (
	_ Notifier = (*DirectNotifier)(nil)
	_ Notifier = (*QueuedNotifier)(nil)
)
