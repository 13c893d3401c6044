package payment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-bounties/core"
	"github.com/goliatone/go-bounties/lifecycle"
	"github.com/google/uuid"
)

type PayoutRequest struct {
	BountyID     string
	SubmissionID string
	// Destination is the contributor's connected payout account.
	Destination string
}

type PayoutResult struct {
	// AlreadyPaid is set when the ledger or the stored bounty shows the
	// payout ran before; no transfer was attempted.
	AlreadyPaid bool
	Bounty      core.Bounty
	Submission  core.Submission
	Payout      core.Payout
	TransferID  string
}

// IdempotencyKey is the gateway idempotency key for a bounty payout.
func IdempotencyKey(bountyID string) string {
	return OperationMergePayout + "-" + strings.TrimSpace(bountyID)
}

// ReleasePayout transfers the bounty amount at most once. Inside the
// per-bounty lock it checks the ledger and the stored bounty, calls the
// gateway once, persists the completion and marks the ledger. A transfer
// failure leaves no marker so the payout can be retried.
func (c *Coordinator) ReleasePayout(ctx context.Context, req PayoutRequest) (result PayoutResult, err error) {
	startedAt := time.Now()
	defer func() {
		c.observer.Observe(ctx, startedAt, "payout", err, map[string]any{
			"bounty_id":    req.BountyID,
			"already_paid": result.AlreadyPaid,
			"transfer_id":  result.TransferID,
		})
	}()

	if c.gateway == nil || c.records == nil {
		return PayoutResult{}, fmt.Errorf("payment: gateway and records are required")
	}
	if strings.TrimSpace(req.BountyID) == "" {
		return PayoutResult{}, core.NewValidationError("bounty id is required", "bounty_id")
	}
	if strings.TrimSpace(req.SubmissionID) == "" {
		return PayoutResult{}, core.NewValidationError("submission id is required", "submission_id")
	}
	if strings.TrimSpace(req.Destination) == "" {
		return PayoutResult{}, core.NewConflictError(core.ReasonPayoutIncapable, "the contributor has no payout account")
	}

	ledgerKey := OperationKey{Name: OperationMergePayout, BountyID: req.BountyID}
	err = c.WithLock(ctx, req.BountyID, c.lockOptions, func(ctx context.Context) error {
		done, err := c.WasPerformed(ctx, ledgerKey)
		if err != nil {
			return err
		}
		bounty, err := c.records.GetBounty(ctx, req.BountyID)
		if err != nil {
			return err
		}
		if done || bounty.IsReleased() {
			if !done {
				// the marker expired or was lost after a completed payout
				if markErr := c.MarkPerformed(ctx, ledgerKey, "success", c.mergePayoutTTL()); markErr != nil {
					c.logMarkFailure(ctx, req.BountyID, markErr)
				}
			}
			result = PayoutResult{AlreadyPaid: true, Bounty: bounty}
			if bounty.TransferID != nil {
				result.TransferID = *bounty.TransferID
			}
			return nil
		}

		submission, err := c.records.GetSubmission(ctx, req.SubmissionID)
		if err != nil {
			return err
		}
		if err := lifecycle.CheckReleasable(bounty, submission); err != nil {
			return err
		}

		transfer, err := c.gateway.CreateTransfer(ctx, core.TransferRequest{
			Amount:         bounty.Amount,
			Destination:    req.Destination,
			ReferenceID:    bounty.ID,
			IdempotencyKey: IdempotencyKey(bounty.ID),
		})
		if err != nil {
			return core.NewUpstreamError(err, "payment_gateway", "the transfer could not be created")
		}

		now := c.now().UTC()
		nextBounty, nextSubmission, err := lifecycle.Complete(bounty, submission, transfer.ID, now)
		if err != nil {
			return err
		}
		payout, err := c.records.CompletePayout(ctx, core.PayoutCompletion{
			Bounty:     nextBounty,
			Submission: nextSubmission,
			Payout: core.Payout{
				ID:            uuid.NewString(),
				BountyID:      bounty.ID,
				SubmissionID:  submission.ID,
				ContributorID: submission.ContributorID,
				Amount:        bounty.Amount,
				TransferID:    transfer.ID,
				Status:        core.PayoutStatusPaid,
				CreatedAt:     now,
			},
			Transaction: core.Transaction{
				ID:        uuid.NewString(),
				BountyID:  bounty.ID,
				Kind:      core.TransactionKindPayout,
				Amount:    bounty.Amount,
				Reference: transfer.ID,
				CreatedAt: now,
			},
		})
		if err != nil {
			// the money moved; never allow another transfer for this bounty
			if markErr := c.MarkPerformed(ctx, ledgerKey, "transfer:"+transfer.ID+":unrecorded", NoExpiry); markErr != nil {
				c.logMarkFailure(ctx, req.BountyID, markErr)
			}
			core.LogWithLevel(ctx, c.logger, "error", "payout transferred but not recorded", map[string]any{
				"bounty_id":   bounty.ID,
				"transfer_id": transfer.ID,
				"error":       err.Error(),
			})
			return err
		}
		if markErr := c.MarkPerformed(ctx, ledgerKey, "success", c.mergePayoutTTL()); markErr != nil {
			c.logMarkFailure(ctx, req.BountyID, markErr)
		}
		result = PayoutResult{
			Bounty:     nextBounty,
			Submission: nextSubmission,
			Payout:     payout,
			TransferID: transfer.ID,
		}
		return nil
	})
	if err != nil {
		return PayoutResult{}, err
	}
	return result, nil
}

func (c *Coordinator) logMarkFailure(ctx context.Context, bountyID string, err error) {
	core.LogWithLevel(ctx, c.logger, "error", "payout ledger mark failed", map[string]any{
		"bounty_id": bountyID,
		"error":     err.Error(),
	})
}
