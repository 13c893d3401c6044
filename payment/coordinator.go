// Package payment serializes and deduplicates the payout transfer: a
// per-bounty lock in the coordination store plus an idempotency ledger that
// remembers which operations already ran.
package payment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-bounties/core"
	"github.com/google/uuid"
)

const (
	OperationMergePayout = "merge-payout"

	lockKeyPrefix   = "lock:payout:"
	ledgerKeyPrefix = "idem:"
)

// NoExpiry stores a ledger entry permanently.
const NoExpiry time.Duration = -1

type LockOptions struct {
	TTL   time.Duration
	Retry RetryPolicy
}

func DefaultLockOptions() LockOptions {
	return LockOptions{TTL: 30 * time.Second, Retry: DefaultRetryPolicy()}
}

func (o LockOptions) normalized() LockOptions {
	defaults := DefaultLockOptions()
	if o.TTL <= 0 {
		o.TTL = defaults.TTL
	}
	if o.Retry.MaxAttempts <= 0 && o.Retry.Delay <= 0 {
		o.Retry = defaults.Retry
	}
	return o
}

// ReleaseFunc gives up a held lock. It only deletes the key while it still
// holds this holder's token.
type ReleaseFunc func(ctx context.Context) error

// OperationKey names one side-effecting operation in the ledger.
type OperationKey struct {
	Name     string
	BountyID string
	Context  string
}

func (k OperationKey) validate() error {
	if strings.TrimSpace(k.Name) == "" {
		return fmt.Errorf("payment: operation name is required")
	}
	if strings.TrimSpace(k.BountyID) == "" {
		return fmt.Errorf("payment: bounty id is required")
	}
	return nil
}

func (k OperationKey) storageKey() string {
	key := ledgerKeyPrefix + strings.TrimSpace(k.Name) + ":" + strings.TrimSpace(k.BountyID)
	if extra := strings.TrimSpace(k.Context); extra != "" {
		key += ":" + extra
	}
	return key
}

type Coordinator struct {
	store           core.CoordinationStore
	gateway         core.PaymentGateway
	records         Records
	lockOptions     LockOptions
	ledgerTTL       time.Duration
	permanentLedger bool
	sleep           Sleeper
	newToken        func() string
	now             func() time.Time
	logger          core.Logger
	observer        core.Observer
}

// Records is the persistence the payout sequence re-reads and writes.
type Records interface {
	GetBounty(ctx context.Context, id string) (core.Bounty, error)
	GetSubmission(ctx context.Context, id string) (core.Submission, error)
	CompletePayout(ctx context.Context, completion core.PayoutCompletion) (core.Payout, error)
}

type Option func(*Coordinator)

// WithGateway wires the transfer gateway and the records the payout
// sequence persists to.
func WithGateway(gateway core.PaymentGateway, records Records) Option {
	return func(c *Coordinator) {
		c.gateway = gateway
		c.records = records
	}
}

func WithLockOptions(opts LockOptions) Option {
	return func(c *Coordinator) {
		c.lockOptions = opts.normalized()
	}
}

func WithLedgerTTL(ttl time.Duration) Option {
	return func(c *Coordinator) {
		if ttl != 0 {
			c.ledgerTTL = ttl
		}
	}
}

// WithPermanentLedger keeps merge-payout markers forever instead of for
// the ledger TTL.
func WithPermanentLedger(enabled bool) Option {
	return func(c *Coordinator) {
		c.permanentLedger = enabled
	}
}

func WithSleeper(sleep Sleeper) Option {
	return func(c *Coordinator) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

func WithTokenGenerator(fn func() string) Option {
	return func(c *Coordinator) {
		if fn != nil {
			c.newToken = fn
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

func WithLogger(logger core.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
		c.observer.Logger = logger
	}
}

func WithMetrics(metrics core.MetricsRecorder) Option {
	return func(c *Coordinator) {
		c.observer.Metrics = metrics
	}
}

func NewCoordinator(store core.CoordinationStore, opts ...Option) (*Coordinator, error) {
	if store == nil {
		return nil, fmt.Errorf("payment: coordination store is required")
	}
	c := &Coordinator{
		store:       store,
		lockOptions: DefaultLockOptions(),
		ledgerTTL:   24 * time.Hour,
		sleep:       contextSleep,
		newToken:    uuid.NewString,
		now:         time.Now,
		observer:    core.Observer{Metrics: core.NopMetricsRecorder{}},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// AcquireLock takes the payout lock for bountyID. A nil release with a nil
// error means another holder kept the lock for the whole retry budget.
func (c *Coordinator) AcquireLock(ctx context.Context, bountyID string, opts LockOptions) (ReleaseFunc, error) {
	bountyID = strings.TrimSpace(bountyID)
	if bountyID == "" {
		return nil, core.NewValidationError("bounty id is required", "bounty_id")
	}
	if opts == (LockOptions{}) {
		opts = c.lockOptions
	}
	opts = opts.normalized()

	key := lockKeyPrefix + bountyID
	token := c.newToken()
	attempts := opts.Retry.attempts()
	for attempt := 1; attempt <= attempts; attempt++ {
		acquired, err := c.store.SetNX(ctx, key, token, opts.TTL)
		if err != nil {
			return nil, err
		}
		if acquired {
			return c.releaser(key, token), nil
		}
		if attempt == attempts {
			break
		}
		if err := c.sleep(ctx, opts.Retry.NextDelay(attempt)); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func (c *Coordinator) releaser(key string, token string) ReleaseFunc {
	return func(ctx context.Context) error {
		released, err := c.store.DeleteIfEquals(ctx, key, token)
		if err != nil {
			return err
		}
		if !released {
			core.LogWithLevel(ctx, c.logger, "warn", "payout lock expired before release", map[string]any{
				"lock_key": key,
			})
		}
		return nil
	}
}

func (c *Coordinator) IsLocked(ctx context.Context, bountyID string) (bool, error) {
	_, ok, err := c.store.Get(ctx, lockKeyPrefix+strings.TrimSpace(bountyID))
	return ok, err
}

// WithLock runs fn while holding the payout lock for bountyID. It returns a
// BOUNTY_LOCK_UNAVAILABLE error when the lock cannot be acquired.
func (c *Coordinator) WithLock(ctx context.Context, bountyID string, opts LockOptions, fn func(ctx context.Context) error) error {
	release, err := c.AcquireLock(ctx, bountyID, opts)
	if err != nil {
		return err
	}
	if release == nil {
		return core.NewLockUnavailableError(bountyID)
	}
	defer func() {
		// release even when ctx is already cancelled
		if releaseErr := release(context.WithoutCancel(ctx)); releaseErr != nil {
			core.LogWithLevel(ctx, c.logger, "error", "payout lock release failed", map[string]any{
				"bounty_id": bountyID,
				"error":     releaseErr.Error(),
			})
		}
	}()
	return fn(ctx)
}

func (c *Coordinator) WasPerformed(ctx context.Context, key OperationKey) (bool, error) {
	if err := key.validate(); err != nil {
		return false, err
	}
	_, ok, err := c.store.Get(ctx, key.storageKey())
	return ok, err
}

// MarkPerformed records that the operation ran. A zero ttl uses the ledger
// TTL; NoExpiry keeps the marker forever. An existing marker is kept.
func (c *Coordinator) MarkPerformed(ctx context.Context, key OperationKey, result string, ttl time.Duration) error {
	if err := key.validate(); err != nil {
		return err
	}
	if ttl == 0 {
		ttl = c.ledgerTTL
	}
	if ttl < 0 {
		ttl = 0
	}
	_, err := c.store.SetNX(ctx, key.storageKey(), strings.TrimSpace(result), ttl)
	return err
}

func (c *Coordinator) mergePayoutTTL() time.Duration {
	if c.permanentLedger {
		return NoExpiry
	}
	return c.ledgerTTL
}
