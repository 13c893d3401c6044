package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-bounties/core"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type ContributorStore struct {
	db  *bun.DB
	now func() time.Time
}

func NewContributorStore(db *bun.DB) (*ContributorStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &ContributorStore{db: db, now: utcNow}, nil
}

func (s *ContributorStore) GetContributorByLogin(ctx context.Context, login string) (core.Contributor, error) {
	if s == nil || s.db == nil {
		return core.Contributor{}, fmt.Errorf("sqlstore: contributor store is not configured")
	}
	record, err := findContributorTx(ctx, s.db, loginKey(login))
	if err != nil {
		return core.Contributor{}, err
	}
	if record == nil {
		return core.Contributor{}, core.NewNotFoundError("contributor", fmt.Sprintf("contributor %q not found", login))
	}
	return record.toDomain(), nil
}

// UpsertContributor keys contributors by login. Payout account fields are
// only overwritten when the incoming record carries them.
func (s *ContributorStore) UpsertContributor(ctx context.Context, contributor core.Contributor) (core.Contributor, error) {
	if s == nil || s.db == nil {
		return core.Contributor{}, fmt.Errorf("sqlstore: contributor store is not configured")
	}
	key := loginKey(contributor.Login)
	if key == "" {
		return core.Contributor{}, core.NewValidationError("contributor login is required", "login")
	}
	now := s.now()
	var out core.Contributor
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, err := findContributorTx(ctx, tx, key)
		if err != nil {
			return err
		}
		if record == nil {
			id := strings.TrimSpace(contributor.ID)
			if id == "" {
				id = uuid.NewString()
			}
			record = &contributorRecord{
				ID:              id,
				Login:           strings.TrimSpace(contributor.Login),
				LoginKey:        key,
				ForgeUserID:     contributor.ForgeUserID,
				StripeAccountID: strings.TrimSpace(contributor.StripeAccountID),
				PayoutsEnabled:  contributor.PayoutsEnabled,
				CreatedAt:       now,
				UpdatedAt:       now,
			}
			if _, err := tx.NewInsert().Model(record).Exec(ctx); err != nil {
				return err
			}
			out = record.toDomain()
			return nil
		}

		record.Login = strings.TrimSpace(contributor.Login)
		if contributor.ForgeUserID != 0 {
			record.ForgeUserID = contributor.ForgeUserID
		}
		if account := strings.TrimSpace(contributor.StripeAccountID); account != "" {
			record.StripeAccountID = account
			record.PayoutsEnabled = contributor.PayoutsEnabled
		}
		record.UpdatedAt = now
		if _, err := tx.NewUpdate().Model(record).WherePK().Exec(ctx); err != nil {
			return err
		}
		out = record.toDomain()
		return nil
	})
	if err != nil {
		return core.Contributor{}, err
	}
	return out, nil
}

func findContributorTx(ctx context.Context, db bun.IDB, key string) (*contributorRecord, error) {
	record := &contributorRecord{}
	err := db.NewSelect().
		Model(record).
		Where("?TableAlias.login_key = ?", key).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}
