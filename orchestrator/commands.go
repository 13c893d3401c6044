package orchestrator

import (
	"context"

	"github.com/goliatone/go-bounties/command"
)

// CommandService is the set of command operations a commander delegates to.
type CommandService interface {
	CreateBounty(ctx context.Context, msg command.Message) error
	Submit(ctx context.Context, msg command.Message) error
	Unsubmit(ctx context.Context, msg command.Message) error
	Approve(ctx context.Context, msg command.Message, reapprove bool) error
	Unapprove(ctx context.Context, msg command.Message) error
	Merge(ctx context.Context, msg command.Message) error
	Move(ctx context.Context, msg command.Message) error
}

type CreateCommand struct {
	service CommandService
}

func NewCreateCommand(service CommandService) *CreateCommand {
	return &CreateCommand{service: service}
}

func (c *CreateCommand) Execute(ctx context.Context, msg command.Message) error {
	if c == nil || c.service == nil {
		return dependencyError("orchestrator: create service is required")
	}
	return c.service.CreateBounty(ctx, msg)
}

type SubmitCommand struct {
	service CommandService
}

func NewSubmitCommand(service CommandService) *SubmitCommand {
	return &SubmitCommand{service: service}
}

func (c *SubmitCommand) Execute(ctx context.Context, msg command.Message) error {
	if c == nil || c.service == nil {
		return dependencyError("orchestrator: submit service is required")
	}
	return c.service.Submit(ctx, msg)
}

type UnsubmitCommand struct {
	service CommandService
}

func NewUnsubmitCommand(service CommandService) *UnsubmitCommand {
	return &UnsubmitCommand{service: service}
}

func (c *UnsubmitCommand) Execute(ctx context.Context, msg command.Message) error {
	if c == nil || c.service == nil {
		return dependencyError("orchestrator: unsubmit service is required")
	}
	return c.service.Unsubmit(ctx, msg)
}

type ApproveCommand struct {
	service CommandService
}

func NewApproveCommand(service CommandService) *ApproveCommand {
	return &ApproveCommand{service: service}
}

func (c *ApproveCommand) Execute(ctx context.Context, msg command.Message) error {
	if c == nil || c.service == nil {
		return dependencyError("orchestrator: approve service is required")
	}
	return c.service.Approve(ctx, msg, false)
}

type ReapproveCommand struct {
	service CommandService
}

func NewReapproveCommand(service CommandService) *ReapproveCommand {
	return &ReapproveCommand{service: service}
}

func (c *ReapproveCommand) Execute(ctx context.Context, msg command.Message) error {
	if c == nil || c.service == nil {
		return dependencyError("orchestrator: reapprove service is required")
	}
	return c.service.Approve(ctx, msg, true)
}

type UnapproveCommand struct {
	service CommandService
}

func NewUnapproveCommand(service CommandService) *UnapproveCommand {
	return &UnapproveCommand{service: service}
}

func (c *UnapproveCommand) Execute(ctx context.Context, msg command.Message) error {
	if c == nil || c.service == nil {
		return dependencyError("orchestrator: unapprove service is required")
	}
	return c.service.Unapprove(ctx, msg)
}

type MergeCommand struct {
	service CommandService
}

func NewMergeCommand(service CommandService) *MergeCommand {
	return &MergeCommand{service: service}
}

func (c *MergeCommand) Execute(ctx context.Context, msg command.Message) error {
	if c == nil || c.service == nil {
		return dependencyError("orchestrator: merge service is required")
	}
	return c.service.Merge(ctx, msg)
}

type MoveCommand struct {
	service CommandService
}

func NewMoveCommand(service CommandService) *MoveCommand {
	return &MoveCommand{service: service}
}

func (c *MoveCommand) Execute(ctx context.Context, msg command.Message) error {
	if c == nil || c.service == nil {
		return dependencyError("orchestrator: move service is required")
	}
	return c.service.Move(ctx, msg)
}
