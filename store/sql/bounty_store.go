package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-bounties/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// BountyStore persists bounties and their submissions.
type BountyStore struct {
	db             *bun.DB
	repo           repository.Repository[*bountyRecord]
	submissionRepo repository.Repository[*submissionRecord]
	now            func() time.Time
}

func NewBountyStore(db *bun.DB) (*BountyStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*bountyRecord](db, bountyHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid bounty repository wiring: %w", err)
		}
	}
	submissionRepo := repository.NewRepository[*submissionRecord](db, submissionHandlers())
	if validator, ok := submissionRepo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid submission repository wiring: %w", err)
		}
	}
	return &BountyStore{
		db:             db,
		repo:           repo,
		submissionRepo: submissionRepo,
		now:            utcNow,
	}, nil
}

func (s *BountyStore) CreateBounty(ctx context.Context, bounty core.Bounty) (core.Bounty, error) {
	if s == nil || s.repo == nil {
		return core.Bounty{}, fmt.Errorf("sqlstore: bounty store is not configured")
	}
	if err := bounty.Repo.Validate(); err != nil {
		return core.Bounty{}, core.NewValidationError(err.Error(), "repo")
	}
	if err := core.CheckBountyInvariants(bounty); err != nil {
		return core.Bounty{}, core.NewValidationError(err.Error(), "bounty")
	}
	if strings.TrimSpace(bounty.ID) == "" {
		bounty.ID = uuid.NewString()
	}
	now := s.now()
	if bounty.CreatedAt.IsZero() {
		bounty.CreatedAt = now
	}
	bounty.UpdatedAt = now
	bounty.Version = 1

	created, err := s.repo.Create(ctx, newBountyRecord(bounty))
	if err != nil {
		if isUniqueViolation(err) {
			return core.Bounty{}, core.NewConflictError(
				core.ReasonAlreadyExists,
				fmt.Sprintf("issue #%d already has a bounty", bounty.Issue()),
			)
		}
		return core.Bounty{}, err
	}
	return created.toDomain(), nil
}

func (s *BountyStore) GetBounty(ctx context.Context, id string) (core.Bounty, error) {
	if s == nil || s.db == nil {
		return core.Bounty{}, fmt.Errorf("sqlstore: bounty store is not configured")
	}
	record, err := getBountyTx(ctx, s.db, strings.TrimSpace(id))
	if err != nil {
		return core.Bounty{}, err
	}
	return record.toDomain(), nil
}

func (s *BountyStore) FindBountyByIssue(ctx context.Context, repo core.RepoRef, issueNumber int) (core.Bounty, error) {
	if s == nil || s.db == nil {
		return core.Bounty{}, fmt.Errorf("sqlstore: bounty store is not configured")
	}
	record := &bountyRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.repo_key = ?", repoKey(repo)).
		Where("?TableAlias.issue_number = ?", issueNumber).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Bounty{}, core.NewNotFoundError("bounty", fmt.Sprintf("no bounty for %s#%d", repo.FullName(), issueNumber))
		}
		return core.Bounty{}, err
	}
	return record.toDomain(), nil
}

func (s *BountyStore) UpdateBounty(ctx context.Context, bounty core.Bounty) (core.Bounty, error) {
	return s.UpdateBountyState(ctx, bounty, nil)
}

func (s *BountyStore) UpdateBountyState(ctx context.Context, bounty core.Bounty, submissions []core.Submission) (core.Bounty, error) {
	if s == nil || s.db == nil {
		return core.Bounty{}, fmt.Errorf("sqlstore: bounty store is not configured")
	}
	if err := core.CheckBountyInvariants(bounty); err != nil {
		return core.Bounty{}, core.NewValidationError(err.Error(), "bounty")
	}
	var out core.Bounty
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		current, err := getBountyTx(ctx, tx, strings.TrimSpace(bounty.ID))
		if err != nil {
			return err
		}
		if err := core.CheckBountyWrite(current.toDomain(), bounty); err != nil {
			return err
		}
		now := s.now()
		bounty.CreatedAt = current.CreatedAt
		bounty.UpdatedAt = now
		bounty.Version = current.Version + 1
		record := newBountyRecord(bounty)
		result, err := tx.NewUpdate().
			Model(record).
			WherePK().
			Where("version = ?", current.Version).
			Exec(ctx)
		if err != nil {
			if isUniqueViolation(err) {
				return core.NewConflictError(
					core.ReasonAlreadyExists,
					fmt.Sprintf("issue #%d already has a bounty", bounty.Issue()),
				)
			}
			return err
		}
		if affected, _ := result.RowsAffected(); affected == 0 {
			return core.NewStaleStateError(bounty.ID)
		}
		for _, submission := range submissions {
			currentSubmission, err := getSubmissionTx(ctx, tx, strings.TrimSpace(submission.ID))
			if err != nil {
				return err
			}
			if currentSubmission.BountyID != bounty.ID {
				return core.NewNotFoundError("submission", fmt.Sprintf("submission %q not found", submission.ID))
			}
			submission.CreatedAt = currentSubmission.CreatedAt
			submission.UpdatedAt = now
			if _, err := tx.NewUpdate().Model(newSubmissionRecord(submission)).WherePK().Exec(ctx); err != nil {
				return err
			}
		}
		out = record.toDomain()
		return nil
	})
	if err != nil {
		return core.Bounty{}, err
	}
	return out, nil
}

// DeleteBounty removes a bounty along with its submissions.
func (s *BountyStore) DeleteBounty(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: bounty store is not configured")
	}
	id = strings.TrimSpace(id)
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().
			Model((*submissionRecord)(nil)).
			Where("bounty_id = ?", id).
			Exec(ctx); err != nil {
			return err
		}
		result, err := tx.NewDelete().
			Model((*bountyRecord)(nil)).
			Where("id = ?", id).
			Exec(ctx)
		if err != nil {
			return err
		}
		if affected, _ := result.RowsAffected(); affected == 0 {
			return core.NewNotFoundError("bounty", fmt.Sprintf("bounty %q not found", id))
		}
		return nil
	})
}

func (s *BountyStore) ListBounties(ctx context.Context, filter core.BountyFilter) ([]core.Bounty, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: bounty store is not configured")
	}
	selectors := []repository.SelectCriteria{
		repository.OrderBy("created_at DESC"),
		repository.OrderBy("id ASC"),
	}
	if !filter.Repo.IsZero() {
		selectors = append(selectors, repository.SelectBy("repo_key", "=", repoKey(filter.Repo)))
	}
	if filter.Status != "" {
		selectors = append(selectors, repository.SelectBy("status", "=", string(filter.Status)))
	}
	if filter.Limit > 0 {
		selectors = append(selectors, repository.SelectPaginate(filter.Limit, 0))
	}
	records, _, err := s.repo.List(ctx, selectors...)
	if err != nil {
		return nil, err
	}
	out := make([]core.Bounty, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *BountyStore) CreateSubmission(ctx context.Context, submission core.Submission) (core.Submission, error) {
	if s == nil || s.db == nil {
		return core.Submission{}, fmt.Errorf("sqlstore: bounty store is not configured")
	}
	if strings.TrimSpace(submission.ID) == "" {
		submission.ID = uuid.NewString()
	}
	now := s.now()
	if submission.CreatedAt.IsZero() {
		submission.CreatedAt = now
	}
	submission.UpdatedAt = now
	record := newSubmissionRecord(submission)

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := getBountyTx(ctx, tx, record.BountyID); err != nil {
			return err
		}
		if _, err := tx.NewInsert().Model(record).Exec(ctx); err != nil {
			if isUniqueViolation(err) {
				return core.NewConflictError(
					core.ReasonAlreadySubmitted,
					fmt.Sprintf("PR #%d is already submitted for this bounty", submission.PRNumber),
				)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return core.Submission{}, err
	}
	return record.toDomain(), nil
}

func (s *BountyStore) GetSubmission(ctx context.Context, id string) (core.Submission, error) {
	if s == nil || s.db == nil {
		return core.Submission{}, fmt.Errorf("sqlstore: bounty store is not configured")
	}
	record, err := getSubmissionTx(ctx, s.db, strings.TrimSpace(id))
	if err != nil {
		return core.Submission{}, err
	}
	return record.toDomain(), nil
}

func (s *BountyStore) FindSubmissionByPR(ctx context.Context, bountyID string, prNumber int) (core.Submission, error) {
	if s == nil || s.db == nil {
		return core.Submission{}, fmt.Errorf("sqlstore: bounty store is not configured")
	}
	record := &submissionRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.bounty_id = ?", strings.TrimSpace(bountyID)).
		Where("?TableAlias.pr_number = ?", prNumber).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Submission{}, core.NewNotFoundError("submission", fmt.Sprintf("no submission for PR #%d", prNumber))
		}
		return core.Submission{}, err
	}
	return record.toDomain(), nil
}

func (s *BountyStore) ListSubmissions(ctx context.Context, bountyID string) ([]core.Submission, error) {
	if s == nil || s.submissionRepo == nil {
		return nil, fmt.Errorf("sqlstore: bounty store is not configured")
	}
	records, _, err := s.submissionRepo.List(ctx,
		repository.SelectBy("bounty_id", "=", strings.TrimSpace(bountyID)),
		repository.OrderBy("pr_number ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.Submission, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *BountyStore) UpdateSubmission(ctx context.Context, submission core.Submission) (core.Submission, error) {
	if s == nil || s.db == nil {
		return core.Submission{}, fmt.Errorf("sqlstore: bounty store is not configured")
	}
	var out core.Submission
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		current, err := getSubmissionTx(ctx, tx, strings.TrimSpace(submission.ID))
		if err != nil {
			return err
		}
		submission.CreatedAt = current.CreatedAt
		submission.UpdatedAt = s.now()
		record := newSubmissionRecord(submission)
		if _, err := tx.NewUpdate().Model(record).WherePK().Exec(ctx); err != nil {
			return err
		}
		out = record.toDomain()
		return nil
	})
	if err != nil {
		return core.Submission{}, err
	}
	return out, nil
}

func (s *BountyStore) DeleteSubmission(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: bounty store is not configured")
	}
	result, err := s.db.NewDelete().
		Model((*submissionRecord)(nil)).
		Where("id = ?", strings.TrimSpace(id)).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return core.NewNotFoundError("submission", fmt.Sprintf("submission %q not found", id))
	}
	return nil
}

func getBountyTx(ctx context.Context, db bun.IDB, id string) (*bountyRecord, error) {
	record := &bountyRecord{}
	err := db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.NewNotFoundError("bounty", fmt.Sprintf("bounty %q not found", id))
		}
		return nil, err
	}
	return record, nil
}

func getSubmissionTx(ctx context.Context, db bun.IDB, id string) (*submissionRecord, error) {
	record := &submissionRecord{}
	err := db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.NewNotFoundError("submission", fmt.Sprintf("submission %q not found", id))
		}
		return nil, err
	}
	return record, nil
}

func utcNow() time.Time {
	return time.Now().UTC()
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}
