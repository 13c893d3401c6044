package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-bounties/core"
	"github.com/goliatone/go-bounties/webhooks"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// WebhookDeliveryStore is the durable webhooks.DeliveryLedger. Claims are
// conditional updates, so concurrent receivers of one delivery agree on a
// single winner.
type WebhookDeliveryStore struct {
	db  *bun.DB
	now func() time.Time
}

func NewWebhookDeliveryStore(db *bun.DB) (*WebhookDeliveryStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &WebhookDeliveryStore{db: db, now: utcNow}, nil
}

func (s *WebhookDeliveryStore) Claim(
	ctx context.Context,
	providerID string,
	deliveryID string,
	eventName string,
	lease time.Duration,
) (webhooks.DeliveryRecord, bool, error) {
	if s == nil || s.db == nil {
		return webhooks.DeliveryRecord{}, false, fmt.Errorf("sqlstore: webhook delivery store is not configured")
	}
	providerID = strings.TrimSpace(providerID)
	deliveryID = strings.TrimSpace(deliveryID)
	if providerID == "" || deliveryID == "" {
		return webhooks.DeliveryRecord{}, false, core.NewValidationError("provider id and delivery id are required", "delivery_id")
	}

	now := s.now()
	leaseUntil := now.Add(lease)
	claimID := uuid.NewString()
	record := &webhookDeliveryRecord{
		ID:         uuid.NewString(),
		ClaimID:    claimID,
		ProviderID: providerID,
		DeliveryID: deliveryID,
		EventName:  strings.TrimSpace(eventName),
		Status:     webhooks.DeliveryStatusProcessing,
		Attempts:   1,
		LeaseUntil: &leaseUntil,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	inserted, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (provider_id, delivery_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return webhooks.DeliveryRecord{}, false, err
	}
	if affected, _ := inserted.RowsAffected(); affected > 0 {
		return webhookDeliveryToDomain(record), true, nil
	}

	reclaimed, err := s.db.NewUpdate().
		Model((*webhookDeliveryRecord)(nil)).
		Set("claim_id = ?", claimID).
		Set("status = ?", webhooks.DeliveryStatusProcessing).
		Set("attempts = attempts + 1").
		Set("lease_until = ?", leaseUntil).
		Set("next_attempt_at = NULL").
		Set("updated_at = ?", now).
		Where("provider_id = ?", providerID).
		Where("delivery_id = ?", deliveryID).
		Where("status NOT IN (?, ?)", webhooks.DeliveryStatusProcessed, webhooks.DeliveryStatusDead).
		WhereGroup(" AND ", func(q *bun.UpdateQuery) *bun.UpdateQuery {
			return q.Where("status <> ?", webhooks.DeliveryStatusProcessing).
				WhereOr("lease_until IS NOT NULL AND lease_until <= ?", now)
		}).
		Exec(ctx)
	if err != nil {
		return webhooks.DeliveryRecord{}, false, err
	}
	current, err := s.Get(ctx, providerID, deliveryID)
	if err != nil {
		return webhooks.DeliveryRecord{}, false, err
	}
	affected, _ := reclaimed.RowsAffected()
	return current, affected > 0 && current.ClaimID == claimID, nil
}

func (s *WebhookDeliveryStore) Get(
	ctx context.Context,
	providerID string,
	deliveryID string,
) (webhooks.DeliveryRecord, error) {
	if s == nil || s.db == nil {
		return webhooks.DeliveryRecord{}, fmt.Errorf("sqlstore: webhook delivery store is not configured")
	}
	record := &webhookDeliveryRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.provider_id = ?", strings.TrimSpace(providerID)).
		Where("?TableAlias.delivery_id = ?", strings.TrimSpace(deliveryID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return webhooks.DeliveryRecord{}, core.NewNotFoundError(
				"webhook_delivery",
				fmt.Sprintf("webhook delivery %q not found for provider %q", deliveryID, providerID),
			)
		}
		return webhooks.DeliveryRecord{}, err
	}
	return webhookDeliveryToDomain(record), nil
}

func (s *WebhookDeliveryStore) Complete(ctx context.Context, claimID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: webhook delivery store is not configured")
	}
	result, err := s.db.NewUpdate().
		Model((*webhookDeliveryRecord)(nil)).
		Set("status = ?", webhooks.DeliveryStatusProcessed).
		Set("last_error = ?", "").
		Set("lease_until = NULL").
		Set("next_attempt_at = NULL").
		Set("updated_at = ?", s.now()).
		Where("claim_id = ?", strings.TrimSpace(claimID)).
		Where("status = ?", webhooks.DeliveryStatusProcessing).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireClaim(result)
}

func (s *WebhookDeliveryStore) Fail(
	ctx context.Context,
	claimID string,
	cause error,
	nextAttemptAt time.Time,
	maxAttempts int,
) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: webhook delivery store is not configured")
	}
	claimID = strings.TrimSpace(claimID)
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record := &webhookDeliveryRecord{}
		err := tx.NewSelect().
			Model(record).
			Where("?TableAlias.claim_id = ?", claimID).
			Where("?TableAlias.status = ?", webhooks.DeliveryStatusProcessing).
			Limit(1).
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return staleClaim()
			}
			return err
		}
		status := webhooks.FailStatus(record.Attempts, maxAttempts)
		lastError := ""
		if cause != nil {
			lastError = cause.Error()
		}
		query := tx.NewUpdate().
			Model((*webhookDeliveryRecord)(nil)).
			Set("status = ?", status).
			Set("last_error = ?", lastError).
			Set("lease_until = NULL").
			Set("updated_at = ?", s.now())
		if status == webhooks.DeliveryStatusRetryReady {
			query = query.Set("next_attempt_at = ?", nextAttemptAt.UTC())
		} else {
			query = query.Set("next_attempt_at = NULL")
		}
		result, err := query.
			Where("claim_id = ?", claimID).
			Where("status = ?", webhooks.DeliveryStatusProcessing).
			Exec(ctx)
		if err != nil {
			return err
		}
		return requireClaim(result)
	})
}

func requireClaim(result sql.Result) error {
	if affected, _ := result.RowsAffected(); affected == 0 {
		return staleClaim()
	}
	return nil
}

func staleClaim() error {
	return core.NewConflictError("stale_claim", "webhook delivery claim is no longer held")
}

func webhookDeliveryToDomain(record *webhookDeliveryRecord) webhooks.DeliveryRecord {
	if record == nil {
		return webhooks.DeliveryRecord{}
	}
	return webhooks.DeliveryRecord{
		ID:            record.ID,
		ClaimID:       record.ClaimID,
		ProviderID:    record.ProviderID,
		DeliveryID:    record.DeliveryID,
		EventName:     record.EventName,
		Status:        record.Status,
		Attempts:      record.Attempts,
		LastError:     record.LastError,
		LeaseUntil:    copyTime(record.LeaseUntil),
		NextAttemptAt: copyTime(record.NextAttemptAt),
		CreatedAt:     record.CreatedAt.UTC(),
		UpdatedAt:     record.UpdatedAt.UTC(),
	}
}

var _ webhooks.DeliveryLedger = (*WebhookDeliveryStore)(nil)
