package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-bounties/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// PayoutStore writes completed transfers. The bounty, submission, payout and
// transaction rows of one completion commit in a single transaction.
type PayoutStore struct {
	db              *bun.DB
	repo            repository.Repository[*payoutRecord]
	transactionRepo repository.Repository[*transactionRecord]
	now             func() time.Time
}

func NewPayoutStore(db *bun.DB) (*PayoutStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*payoutRecord](db, payoutHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid payout repository wiring: %w", err)
		}
	}
	transactionRepo := repository.NewRepository[*transactionRecord](db, transactionHandlers())
	if validator, ok := transactionRepo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid transaction repository wiring: %w", err)
		}
	}
	return &PayoutStore{
		db:              db,
		repo:            repo,
		transactionRepo: transactionRepo,
		now:             utcNow,
	}, nil
}

func (s *PayoutStore) CompletePayout(ctx context.Context, completion core.PayoutCompletion) (core.Payout, error) {
	if s == nil || s.db == nil {
		return core.Payout{}, fmt.Errorf("sqlstore: payout store is not configured")
	}
	if err := core.CheckBountyInvariants(completion.Bounty); err != nil {
		return core.Payout{}, core.NewValidationError(err.Error(), "bounty")
	}
	now := s.now()
	payout := completion.Payout
	if strings.TrimSpace(payout.ID) == "" {
		payout.ID = uuid.NewString()
	}
	if payout.CreatedAt.IsZero() {
		payout.CreatedAt = now
	}
	transaction := completion.Transaction
	if strings.TrimSpace(transaction.ID) == "" {
		transaction.ID = uuid.NewString()
	}
	if transaction.CreatedAt.IsZero() {
		transaction.CreatedAt = now
	}

	// the transfer already happened: a concurrent bounty edit re-reads the
	// row instead of failing the completion
	var err error
	for attempt := 0; attempt < completionAttempts; attempt++ {
		err = s.completePayoutTx(ctx, completion, payout, transaction, now)
		if !core.IsStaleState(err) {
			break
		}
	}
	if err != nil {
		return core.Payout{}, err
	}
	return payout, nil
}

const completionAttempts = 3

func (s *PayoutStore) completePayoutTx(
	ctx context.Context,
	completion core.PayoutCompletion,
	payout core.Payout,
	transaction core.Transaction,
	now time.Time,
) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		current, err := getBountyTx(ctx, tx, completion.Bounty.ID)
		if err != nil {
			return err
		}
		if core.PaymentStatus(current.PaymentStatus) == core.PaymentStatusReleased {
			return core.NewConflictError(core.ReasonAlreadyReleased, "this bounty has already been paid out")
		}
		currentSubmission, err := getSubmissionTx(ctx, tx, completion.Submission.ID)
		if err != nil {
			return err
		}

		bounty := core.ApplyRelease(current.toDomain(), completion.Bounty)
		bounty.UpdatedAt = now
		bounty.Version = current.Version + 1
		result, err := tx.NewUpdate().
			Model(newBountyRecord(bounty)).
			WherePK().
			Where("version = ?", current.Version).
			Exec(ctx)
		if err != nil {
			return err
		}
		if affected, _ := result.RowsAffected(); affected == 0 {
			return core.NewStaleStateError(bounty.ID)
		}
		submission := currentSubmission.toDomain()
		submission.PaidAt = completion.Submission.PaidAt
		submission.UpdatedAt = now
		if _, err := tx.NewUpdate().Model(newSubmissionRecord(submission)).WherePK().Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewInsert().Model(&payoutRecord{
			ID:            payout.ID,
			BountyID:      payout.BountyID,
			SubmissionID:  payout.SubmissionID,
			ContributorID: payout.ContributorID,
			AmountMinor:   payout.Amount.MinorUnits(),
			Currency:      payout.Amount.Currency,
			TransferID:    payout.TransferID,
			Status:        string(payout.Status),
			CreatedAt:     payout.CreatedAt,
		}).Exec(ctx); err != nil {
			if isUniqueViolation(err) {
				return core.NewConflictError(core.ReasonAlreadyReleased, "a payout already exists for this bounty")
			}
			return err
		}
		_, err = tx.NewInsert().Model(&transactionRecord{
			ID:          transaction.ID,
			BountyID:    transaction.BountyID,
			Kind:        string(transaction.Kind),
			AmountMinor: transaction.Amount.MinorUnits(),
			Currency:    transaction.Amount.Currency,
			Reference:   transaction.Reference,
			CreatedAt:   transaction.CreatedAt,
		}).Exec(ctx)
		return err
	})
}

// ListPayouts returns payouts oldest first; an empty bountyID lists all.
func (s *PayoutStore) ListPayouts(ctx context.Context, bountyID string) ([]core.Payout, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: payout store is not configured")
	}
	selectors := []repository.SelectCriteria{repository.OrderBy("created_at ASC")}
	if id := strings.TrimSpace(bountyID); id != "" {
		selectors = append(selectors, repository.SelectBy("bounty_id", "=", id))
	}
	records, _, err := s.repo.List(ctx, selectors...)
	if err != nil {
		return nil, err
	}
	out := make([]core.Payout, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *PayoutStore) ListTransactions(ctx context.Context, bountyID string) ([]core.Transaction, error) {
	if s == nil || s.transactionRepo == nil {
		return nil, fmt.Errorf("sqlstore: payout store is not configured")
	}
	selectors := []repository.SelectCriteria{repository.OrderBy("created_at ASC")}
	if id := strings.TrimSpace(bountyID); id != "" {
		selectors = append(selectors, repository.SelectBy("bounty_id", "=", id))
	}
	records, _, err := s.transactionRepo.List(ctx, selectors...)
	if err != nil {
		return nil, err
	}
	out := make([]core.Transaction, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}
