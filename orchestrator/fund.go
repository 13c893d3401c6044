package orchestrator

import (
	"context"
	"strings"

	"github.com/goliatone/go-bounties/core"
	"github.com/goliatone/go-bounties/lifecycle"
	"github.com/goliatone/go-bounties/ratelimit"
	gocmd "github.com/goliatone/go-command"
)

const (
	FundMessageType   = "bounties.fund"
	CancelMessageType = "bounties.cancel"
)

// FundMessage reports that the payment provider holds a bounty's amount.
type FundMessage struct {
	BountyID string
	// Reference identifies the funding payment, for the log only.
	Reference string
}

func (m FundMessage) Type() string {
	return FundMessageType
}

func (m FundMessage) Validate() error {
	if strings.TrimSpace(m.BountyID) == "" {
		return core.NewValidationError("bounty id is required", "bounty_id")
	}
	return nil
}

type FundService interface {
	FundBounty(ctx context.Context, bountyID string, reference string) (core.Bounty, error)
}

type FundCommand struct {
	service FundService
}

func NewFundCommand(service FundService) *FundCommand {
	return &FundCommand{service: service}
}

func (c *FundCommand) Execute(ctx context.Context, msg FundMessage) error {
	if c == nil || c.service == nil {
		return dependencyError("orchestrator: fund service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	_, err := c.service.FundBounty(ctx, msg.BountyID, msg.Reference)
	return err
}

// CancelMessage withdraws a bounty on an operator's behalf.
type CancelMessage struct {
	BountyID string
}

func (m CancelMessage) Type() string {
	return CancelMessageType
}

func (m CancelMessage) Validate() error {
	if strings.TrimSpace(m.BountyID) == "" {
		return core.NewValidationError("bounty id is required", "bounty_id")
	}
	return nil
}

type CancelService interface {
	CancelBounty(ctx context.Context, bountyID string) (core.Bounty, error)
}

type CancelCommand struct {
	service CancelService
}

func NewCancelCommand(service CancelService) *CancelCommand {
	return &CancelCommand{service: service}
}

func (c *CancelCommand) Execute(ctx context.Context, msg CancelMessage) error {
	if c == nil || c.service == nil {
		return dependencyError("orchestrator: cancel service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	_, err := c.service.CancelBounty(ctx, msg.BountyID)
	return err
}

// FundBounty applies an external funding confirmation: the payment is held
// and a draft bounty opens for submissions.
func (o *Orchestrator) FundBounty(ctx context.Context, bountyID string, reference string) (core.Bounty, error) {
	bountyID = strings.TrimSpace(bountyID)
	if bountyID == "" {
		return core.Bounty{}, core.NewValidationError("bounty id is required", "bounty_id")
	}
	if o.limiter != nil {
		if _, err := o.limiter.Enforce(ctx, "bounty:"+bountyID, ratelimit.OperationPaymentVerify); err != nil && isThrottled(err) {
			return core.Bounty{}, err
		}
	}
	var funded core.Bounty
	err := retryStale(func() error {
		bounty, err := o.store.GetBounty(ctx, bountyID)
		if err != nil {
			return err
		}
		next, err := lifecycle.Fund(bounty, o.timestamp())
		if err != nil {
			return err
		}
		funded, err = o.store.UpdateBounty(ctx, next)
		return err
	})
	if err != nil {
		return core.Bounty{}, err
	}
	core.LogWithLevel(ctx, o.logger, "info", "bounty funded", map[string]any{
		"bounty_id": funded.ID,
		"amount":    funded.Amount.String(),
		"reference": strings.TrimSpace(reference),
	})
	o.refreshBountyComment(ctx, funded)
	return funded, nil
}

// CancelBounty withdraws a bounty that has not paid out.
func (o *Orchestrator) CancelBounty(ctx context.Context, bountyID string) (core.Bounty, error) {
	var cancelled core.Bounty
	err := retryStale(func() error {
		bounty, err := o.store.GetBounty(ctx, strings.TrimSpace(bountyID))
		if err != nil {
			return err
		}
		next, err := lifecycle.Cancel(bounty, o.timestamp())
		if err != nil {
			return err
		}
		cancelled, err = o.store.UpdateBounty(ctx, next)
		return err
	})
	if err != nil {
		return core.Bounty{}, err
	}
	o.refreshBountyComment(ctx, cancelled)
	return cancelled, nil
}

var (
	_ gocmd.Message                  = FundMessage{}
	_ gocmd.Message                  = CancelMessage{}
	_ gocmd.Commander[FundMessage]   = (*FundCommand)(nil)
	_ gocmd.Commander[CancelMessage] = (*CancelCommand)(nil)
)
