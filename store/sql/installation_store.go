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

type InstallationStore struct {
	db  *bun.DB
	now func() time.Time
}

func NewInstallationStore(db *bun.DB) (*InstallationStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &InstallationStore{db: db, now: utcNow}, nil
}

func (s *InstallationStore) UpsertInstallation(ctx context.Context, in core.Installation) (core.Installation, error) {
	if s == nil || s.db == nil {
		return core.Installation{}, fmt.Errorf("sqlstore: installation store is not configured")
	}
	if in.InstallationID <= 0 {
		return core.Installation{}, core.NewValidationError("installation id is required", "installation_id")
	}
	status := in.Status
	if status == "" {
		status = core.InstallationStatusActive
	}
	repos := append([]string{}, in.Repositories...)

	now := s.now()
	var out core.Installation
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, err := findInstallationTx(ctx, tx, in.InstallationID)
		if err != nil {
			return err
		}
		if record == nil {
			record = &installationRecord{
				ID:             uuid.NewString(),
				InstallationID: in.InstallationID,
				AccountLogin:   strings.TrimSpace(in.AccountLogin),
				Repositories:   repos,
				Status:         string(status),
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if _, insertErr := tx.NewInsert().Model(record).Exec(ctx); insertErr != nil {
				return insertErr
			}
			out = record.toDomain()
			return nil
		}

		if login := strings.TrimSpace(in.AccountLogin); login != "" {
			record.AccountLogin = login
		}
		record.Repositories = repos
		record.Status = string(status)
		record.UpdatedAt = now
		if _, updateErr := tx.NewUpdate().
			Model(record).
			Where("id = ?", record.ID).
			Exec(ctx); updateErr != nil {
			return updateErr
		}
		out = record.toDomain()
		return nil
	})
	if err != nil {
		return core.Installation{}, err
	}
	return out, nil
}

func (s *InstallationStore) GetInstallation(ctx context.Context, installationID int64) (core.Installation, error) {
	if s == nil || s.db == nil {
		return core.Installation{}, fmt.Errorf("sqlstore: installation store is not configured")
	}
	record, err := findInstallationTx(ctx, s.db, installationID)
	if err != nil {
		return core.Installation{}, err
	}
	if record == nil {
		return core.Installation{}, core.NewNotFoundError("installation", fmt.Sprintf("installation %d not found", installationID))
	}
	return record.toDomain(), nil
}

func findInstallationTx(ctx context.Context, db bun.IDB, installationID int64) (*installationRecord, error) {
	record := &installationRecord{}
	err := db.NewSelect().
		Model(record).
		Where("?TableAlias.installation_id = ?", installationID).
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
