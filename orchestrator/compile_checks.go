package orchestrator

import (
	"github.com/goliatone/go-bounties/command"
	"github.com/goliatone/go-bounties/webhooks"
	gocmd "github.com/goliatone/go-command"
)

var (
	_ gocmd.Commander[command.Message] = (*CreateCommand)(nil)
	_ gocmd.Commander[command.Message] = (*SubmitCommand)(nil)
	_ gocmd.Commander[command.Message] = (*UnsubmitCommand)(nil)
	_ gocmd.Commander[command.Message] = (*ApproveCommand)(nil)
	_ gocmd.Commander[command.Message] = (*ReapproveCommand)(nil)
	_ gocmd.Commander[command.Message] = (*UnapproveCommand)(nil)
	_ gocmd.Commander[command.Message] = (*MergeCommand)(nil)
	_ gocmd.Commander[command.Message] = (*MoveCommand)(nil)
	_ gocmd.Commander[FundMessage]     = (*FundCommand)(nil)
	_ CommandService                   = (*Orchestrator)(nil)
	_ webhooks.Handler                 = (*Orchestrator)(nil)
)
