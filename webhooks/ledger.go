package webhooks

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-bounties/core"
	"github.com/google/uuid"
)

const (
	DeliveryStatusProcessing = "processing"
	DeliveryStatusProcessed  = "processed"
	DeliveryStatusRetryReady = "retry_ready"
	DeliveryStatusDead       = "dead"
)

type DeliveryRecord struct {
	ID            string
	ClaimID       string
	ProviderID    string
	DeliveryID    string
	EventName     string
	Status        string
	Attempts      int
	LastError     string
	LeaseUntil    *time.Time
	NextAttemptAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// DeliveryLedger records which deliveries were handled. Claim returns
// claimed=false for deliveries that are processed, dead, or held by a live
// lease; those must be acknowledged without running the handler.
type DeliveryLedger interface {
	Claim(
		ctx context.Context,
		providerID string,
		deliveryID string,
		eventName string,
		lease time.Duration,
	) (DeliveryRecord, bool, error)
	Get(ctx context.Context, providerID string, deliveryID string) (DeliveryRecord, error)
	Complete(ctx context.Context, claimID string) error
	Fail(ctx context.Context, claimID string, cause error, nextAttemptAt time.Time, maxAttempts int) error
}

// ClaimDecision applies the claim rules to an existing record. It is shared
// by ledger implementations so they agree on redelivery behaviour.
func ClaimDecision(record DeliveryRecord, now time.Time) bool {
	switch record.Status {
	case DeliveryStatusProcessed, DeliveryStatusDead:
		return false
	case DeliveryStatusProcessing:
		return record.LeaseUntil != nil && !now.Before(*record.LeaseUntil)
	default:
		return true
	}
}

// FailStatus is the status a failed attempt moves to.
func FailStatus(attempts int, maxAttempts int) string {
	if maxAttempts > 0 && attempts >= maxAttempts {
		return DeliveryStatusDead
	}
	return DeliveryStatusRetryReady
}

type MemoryDeliveryLedger struct {
	Now func() time.Time

	mu      sync.Mutex
	records map[string]DeliveryRecord
	claims  map[string]string
}

func NewMemoryDeliveryLedger() *MemoryDeliveryLedger {
	return &MemoryDeliveryLedger{
		records: map[string]DeliveryRecord{},
		claims:  map[string]string{},
	}
}

func (l *MemoryDeliveryLedger) Claim(
	_ context.Context,
	providerID string,
	deliveryID string,
	eventName string,
	lease time.Duration,
) (DeliveryRecord, bool, error) {
	providerID = strings.TrimSpace(providerID)
	deliveryID = strings.TrimSpace(deliveryID)
	if providerID == "" || deliveryID == "" {
		return DeliveryRecord{}, false, core.NewValidationError("provider id and delivery id are required", "delivery_id")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.init()

	now := l.now()
	leaseUntil := now.Add(lease)
	key := providerID + ":" + deliveryID
	record, ok := l.records[key]
	if ok && !ClaimDecision(record, now) {
		return record, false, nil
	}
	if !ok {
		record = DeliveryRecord{
			ID:         uuid.NewString(),
			ProviderID: providerID,
			DeliveryID: deliveryID,
			EventName:  eventName,
			CreatedAt:  now,
		}
	}
	if record.ClaimID != "" {
		delete(l.claims, record.ClaimID)
	}
	record.ClaimID = uuid.NewString()
	record.Status = DeliveryStatusProcessing
	record.Attempts++
	record.LeaseUntil = &leaseUntil
	record.NextAttemptAt = nil
	record.UpdatedAt = now
	l.records[key] = record
	l.claims[record.ClaimID] = key
	return record, true, nil
}

func (l *MemoryDeliveryLedger) Get(_ context.Context, providerID string, deliveryID string) (DeliveryRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.init()
	record, ok := l.records[strings.TrimSpace(providerID)+":"+strings.TrimSpace(deliveryID)]
	if !ok {
		return DeliveryRecord{}, core.NewNotFoundError("webhook_delivery", "webhook delivery not found")
	}
	return record, nil
}

func (l *MemoryDeliveryLedger) Complete(_ context.Context, claimID string) error {
	return l.update(claimID, func(record *DeliveryRecord) {
		record.Status = DeliveryStatusProcessed
		record.LastError = ""
	})
}

func (l *MemoryDeliveryLedger) Fail(
	_ context.Context,
	claimID string,
	cause error,
	nextAttemptAt time.Time,
	maxAttempts int,
) error {
	return l.update(claimID, func(record *DeliveryRecord) {
		record.Status = FailStatus(record.Attempts, maxAttempts)
		if cause != nil {
			record.LastError = cause.Error()
		}
		if record.Status == DeliveryStatusRetryReady {
			next := nextAttemptAt.UTC()
			record.NextAttemptAt = &next
		}
	})
}

func (l *MemoryDeliveryLedger) update(claimID string, apply func(record *DeliveryRecord)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.init()
	key, ok := l.claims[strings.TrimSpace(claimID)]
	if !ok {
		return core.NewConflictError("stale_claim", "webhook delivery claim is no longer held")
	}
	record := l.records[key]
	apply(&record)
	record.LeaseUntil = nil
	record.UpdatedAt = l.now()
	l.records[key] = record
	delete(l.claims, claimID)
	return nil
}

func (l *MemoryDeliveryLedger) init() {
	if l.records == nil {
		l.records = map[string]DeliveryRecord{}
	}
	if l.claims == nil {
		l.claims = map[string]string{}
	}
}

func (l *MemoryDeliveryLedger) now() time.Time {
	if l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

var _ DeliveryLedger = (*MemoryDeliveryLedger)(nil)
