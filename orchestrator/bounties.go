package orchestrator

import (
	"context"
	"fmt"

	"github.com/goliatone/go-bounties/command"
	"github.com/goliatone/go-bounties/core"
	"github.com/goliatone/go-bounties/lifecycle"
)

func (o *Orchestrator) CreateBounty(ctx context.Context, msg command.Message) error {
	issue, err := o.forge.GetIssue(ctx, msg.Repo, msg.IssueNumber)
	if err != nil {
		return err
	}
	existing, err := o.findBounty(ctx, msg.Repo, msg.IssueNumber)
	if err != nil {
		return err
	}
	bounty, err := lifecycle.Create(lifecycle.CreateInput{
		ID:      o.newID(),
		Repo:    msg.Repo,
		Issue:   issue,
		Amount:  msg.Money(),
		Creator: msg.Actor.Login,
	}, existing, msg.Limits, o.timestamp())
	if err != nil {
		return err
	}
	created, err := o.store.CreateBounty(ctx, bounty)
	if err != nil {
		return err
	}
	created = o.publishBountyComment(ctx, created)
	o.reply(ctx, msg.Repo, msg.IssueNumber, createdReply(created))
	return nil
}

// Move repoints the bounty on the commented issue at the target issue. The
// old status comment is removed and a fresh one posted on the target.
func (o *Orchestrator) Move(ctx context.Context, msg command.Message) error {
	if msg.Command.TargetIssue == nil {
		return core.NewValidationError("target issue number is required", "target_issue")
	}
	bounty, err := o.requireBounty(ctx, msg.Repo, msg.IssueNumber)
	if err != nil {
		return err
	}
	target, err := o.forge.GetIssue(ctx, msg.Repo, *msg.Command.TargetIssue)
	if err != nil {
		return err
	}
	targetBounty, err := o.findBounty(ctx, msg.Repo, target.Number)
	if err != nil {
		return err
	}
	moved, err := lifecycle.Move(bounty, target, targetBounty, o.timestamp())
	if err != nil {
		return err
	}
	moved, err = o.store.UpdateBounty(ctx, moved)
	if err != nil {
		return err
	}
	if bounty.CommentID != nil {
		if err := o.forge.DeleteComment(ctx, msg.Repo, *bounty.CommentID); err != nil {
			core.LogWithLevel(ctx, o.logger, "warn", "old bounty comment not removed", map[string]any{
				"bounty_id":  bounty.ID,
				"comment_id": *bounty.CommentID,
				"error":      err.Error(),
			})
		}
	}
	o.publishBountyComment(ctx, moved)
	o.reply(ctx, msg.Repo, msg.IssueNumber, movedReply(msg.IssueNumber, target.Number))
	return nil
}

// findBounty returns the live bounty on an issue, or nil when there is none.
func (o *Orchestrator) findBounty(ctx context.Context, repo core.RepoRef, issue int) (*core.Bounty, error) {
	bounty, err := o.store.FindBountyByIssue(ctx, repo, issue)
	if err != nil {
		if core.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &bounty, nil
}

func (o *Orchestrator) requireBounty(ctx context.Context, repo core.RepoRef, issue int) (core.Bounty, error) {
	bounty, err := o.findBounty(ctx, repo, issue)
	if err != nil {
		return core.Bounty{}, err
	}
	if bounty == nil {
		return core.Bounty{}, core.NewNotFoundError("bounty", fmt.Sprintf("#%d has no bounty", issue))
	}
	return *bounty, nil
}

// publishBountyComment posts the status comment on the bounty issue and
// remembers its id. Failures are logged; the bounty is returned unchanged.
func (o *Orchestrator) publishBountyComment(ctx context.Context, bounty core.Bounty) core.Bounty {
	if bounty.IsOrphaned() {
		return bounty
	}
	comment, err := o.forge.CreateComment(ctx, bounty.Repo, bounty.Issue(), bountyCommentBody(bounty))
	if err != nil {
		core.LogWithLevel(ctx, o.logger, "warn", "bounty comment not posted", map[string]any{
			"bounty_id": bounty.ID,
			"error":     err.Error(),
		})
		return bounty
	}
	var updated core.Bounty
	err = retryStale(func() error {
		current, err := o.store.GetBounty(ctx, bounty.ID)
		if err != nil {
			return err
		}
		current.CommentID = core.Int64Ptr(comment.ID)
		updated, err = o.store.UpdateBounty(ctx, current)
		return err
	})
	if err != nil {
		core.LogWithLevel(ctx, o.logger, "warn", "bounty comment id not stored", map[string]any{
			"bounty_id":  bounty.ID,
			"comment_id": comment.ID,
			"error":      err.Error(),
		})
		return bounty
	}
	return updated
}

// refreshBountyComment rewrites the status comment after a state change,
// posting a new one when none is known.
func (o *Orchestrator) refreshBountyComment(ctx context.Context, bounty core.Bounty) {
	if bounty.IsOrphaned() {
		return
	}
	if bounty.CommentID == nil {
		o.publishBountyComment(ctx, bounty)
		return
	}
	if err := o.forge.EditComment(ctx, bounty.Repo, *bounty.CommentID, bountyCommentBody(bounty)); err != nil {
		core.LogWithLevel(ctx, o.logger, "warn", "bounty comment not updated", map[string]any{
			"bounty_id":  bounty.ID,
			"comment_id": *bounty.CommentID,
			"error":      err.Error(),
		})
	}
}
