package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-bounties/core"
	"github.com/uptrace/bun"
)

// CoordinationStore keeps payout locks, ledger markers and rate limit
// counters in the coordination_keys table so several processes share them.
// Expired rows are treated as absent and reclaimed on write.
type CoordinationStore struct {
	db  *bun.DB
	now func() time.Time
}

func NewCoordinationStore(db *bun.DB) (*CoordinationStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &CoordinationStore{db: db, now: utcNow}, nil
}

func (s *CoordinationStore) SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error) {
	key, err := s.key(key)
	if err != nil {
		return false, err
	}
	now := s.now()
	expiresAt := expiry(now, ttl)

	reclaimed, err := s.db.NewUpdate().
		Model((*coordinationKeyRecord)(nil)).
		Set("value = ?", value).
		Set("expires_at = ?", expiresAt).
		Set("updated_at = ?", now).
		Where("key_name = ?", key).
		Where("expires_at IS NOT NULL").
		Where("expires_at <= ?", now).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	if affected, _ := reclaimed.RowsAffected(); affected > 0 {
		return true, nil
	}

	inserted, err := s.db.NewInsert().
		Model(&coordinationKeyRecord{KeyName: key, Value: value, ExpiresAt: expiresAt, UpdatedAt: now}).
		On("CONFLICT (key_name) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return false, err
	}
	affected, _ := inserted.RowsAffected()
	return affected > 0, nil
}

func (s *CoordinationStore) Get(ctx context.Context, key string) (string, bool, error) {
	record, err := s.live(ctx, s.db, key)
	if err != nil || record == nil {
		return "", false, err
	}
	return record.Value, true, nil
}

func (s *CoordinationStore) Delete(ctx context.Context, key string) error {
	key, err := s.key(key)
	if err != nil {
		return err
	}
	_, err = s.db.NewDelete().
		Model((*coordinationKeyRecord)(nil)).
		Where("key_name = ?", key).
		Exec(ctx)
	return err
}

func (s *CoordinationStore) DeleteIfEquals(ctx context.Context, key string, value string) (bool, error) {
	key, err := s.key(key)
	if err != nil {
		return false, err
	}
	result, err := s.db.NewDelete().
		Model((*coordinationKeyRecord)(nil)).
		Where("key_name = ?", key).
		Where("value = ?", value).
		WhereGroup(" AND ", func(q *bun.DeleteQuery) *bun.DeleteQuery {
			return q.Where("expires_at IS NULL").WhereOr("expires_at > ?", s.now())
		}).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	affected, _ := result.RowsAffected()
	return affected > 0, nil
}

func (s *CoordinationStore) TTL(ctx context.Context, key string) (time.Duration, bool, error) {
	record, err := s.live(ctx, s.db, key)
	if err != nil || record == nil {
		return 0, false, err
	}
	if record.ExpiresAt == nil {
		return 0, true, nil
	}
	return record.ExpiresAt.Sub(s.now()), true, nil
}

// Incr bumps a counter inside one transaction. An expired counter restarts
// from zero with a fresh ttl.
func (s *CoordinationStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	key, err := s.key(key)
	if err != nil {
		return 0, err
	}
	now := s.now()
	expiresAt := expiry(now, ttl)

	var count int64
	err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewUpdate().
			Model((*coordinationKeyRecord)(nil)).
			Set("value = ?", "0").
			Set("expires_at = ?", expiresAt).
			Set("updated_at = ?", now).
			Where("key_name = ?", key).
			Where("expires_at IS NOT NULL").
			Where("expires_at <= ?", now).
			Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewInsert().
			Model(&coordinationKeyRecord{KeyName: key, Value: "0", ExpiresAt: expiresAt, UpdatedAt: now}).
			On("CONFLICT (key_name) DO NOTHING").
			Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewUpdate().
			Model((*coordinationKeyRecord)(nil)).
			Set("value = CAST(CAST(value AS BIGINT) + 1 AS TEXT)").
			Set("updated_at = ?", now).
			Where("key_name = ?", key).
			Exec(ctx); err != nil {
			return err
		}
		record := &coordinationKeyRecord{}
		if err := tx.NewSelect().Model(record).Where("?TableAlias.key_name = ?", key).Scan(ctx); err != nil {
			return err
		}
		parsed, err := strconv.ParseInt(strings.TrimSpace(record.Value), 10, 64)
		if err != nil {
			return fmt.Errorf("sqlstore: coordination key %q is not a counter: %w", key, err)
		}
		count = parsed
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// PurgeExpired deletes expired rows and reports how many were removed.
func (s *CoordinationStore) PurgeExpired(ctx context.Context) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: coordination store is not configured")
	}
	result, err := s.db.NewDelete().
		Model((*coordinationKeyRecord)(nil)).
		Where("expires_at IS NOT NULL").
		Where("expires_at <= ?", s.now()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	affected, _ := result.RowsAffected()
	return int(affected), nil
}

func (s *CoordinationStore) live(ctx context.Context, db bun.IDB, key string) (*coordinationKeyRecord, error) {
	key, err := s.key(key)
	if err != nil {
		return nil, err
	}
	record := &coordinationKeyRecord{}
	err = db.NewSelect().
		Model(record).
		Where("?TableAlias.key_name = ?", key).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if record.ExpiresAt != nil && !s.now().Before(*record.ExpiresAt) {
		return nil, nil
	}
	return record, nil
}

func (s *CoordinationStore) key(key string) (string, error) {
	if s == nil || s.db == nil {
		return "", fmt.Errorf("sqlstore: coordination store is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", core.NewValidationError("coordination key is required", "key")
	}
	return key, nil
}

func expiry(now time.Time, ttl time.Duration) *time.Time {
	if ttl <= 0 {
		return nil
	}
	value := now.Add(ttl)
	return &value
}

var _ core.CoordinationStore = (*CoordinationStore)(nil)
