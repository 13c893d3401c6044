package ratelimit

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-bounties/core"
)

// Limiter admits requests per (operation, identifier) using a sliding window
// counter kept in a shared CoordinationStore so that every orchestrator
// instance sees the same counts.
type Limiter struct {
	store     core.CoordinationStore
	policies  map[string]Policy
	fallback  Policy
	windows   sync.Map
	KeyPrefix string
	Now       func() time.Time
}

func NewLimiter(store core.CoordinationStore, policies ...Policy) (*Limiter, error) {
	if store == nil {
		return nil, fmt.Errorf("ratelimit: coordination store is required")
	}
	if len(policies) == 0 {
		policies = DefaultPolicies()
	}
	limiter := &Limiter{
		store:     store,
		policies:  make(map[string]Policy, len(policies)),
		KeyPrefix: "ratelimit",
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, policy := range policies {
		policy.Operation = normalizeOperation(policy.Operation)
		if err := policy.Validate(); err != nil {
			return nil, err
		}
		limiter.policies[policy.Operation] = policy
	}
	fallback, ok := limiter.policies[OperationGlobal]
	if !ok {
		fallback = Policy{Operation: OperationGlobal, Requests: 60, Window: time.Minute}
	}
	limiter.fallback = fallback
	return limiter, nil
}

// Check records one request and reports whether it is admitted. Unknown
// operations fall back to the global policy.
func (l *Limiter) Check(ctx context.Context, identifier string, operation string) (Decision, error) {
	if l == nil || l.store == nil {
		return Decision{}, fmt.Errorf("ratelimit: limiter is not configured")
	}
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		identifier = UnknownIdentifier
	}
	return l.windowFor(operation).admit(ctx, identifier, l.now())
}

// Enforce is Check returning a ThrottledError when the request is rejected.
func (l *Limiter) Enforce(ctx context.Context, identifier string, operation string) (Decision, error) {
	decision, err := l.Check(ctx, identifier, operation)
	if err != nil {
		return decision, err
	}
	if !decision.Allowed {
		retryAfter := time.Duration(decision.RetryAfterSeconds()) * time.Second
		return decision, ThrottledError{Operation: operation, Identifier: identifier, RetryAfter: retryAfter}
	}
	return decision, nil
}

func (l *Limiter) Policy(operation string) Policy {
	if policy, ok := l.policies[normalizeOperation(operation)]; ok {
		return policy
	}
	return l.fallback
}

// windowFor caches one window per operation; entries are created once and
// never mutated afterwards.
func (l *Limiter) windowFor(operation string) *slidingWindow {
	operation = normalizeOperation(operation)
	if cached, ok := l.windows.Load(operation); ok {
		return cached.(*slidingWindow)
	}
	policy := l.Policy(operation)
	created := &slidingWindow{
		store:  l.store,
		policy: policy,
		prefix: strings.TrimSpace(l.KeyPrefix) + ":" + policy.Operation,
	}
	actual, _ := l.windows.LoadOrStore(operation, created)
	return actual.(*slidingWindow)
}

func (l *Limiter) now() time.Time {
	if l != nil && l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

type slidingWindow struct {
	store  core.CoordinationStore
	policy Policy
	prefix string
}

func (w *slidingWindow) admit(ctx context.Context, identifier string, now time.Time) (Decision, error) {
	window := w.policy.Window
	windowIndex := now.UnixNano() / int64(window)
	windowStart := time.Unix(0, windowIndex*int64(window)).UTC()
	resetAt := windowStart.Add(window)

	current, err := w.store.Incr(ctx, w.key(identifier, windowIndex), 2*window)
	if err != nil {
		return Decision{}, err
	}
	previous, err := w.count(ctx, w.key(identifier, windowIndex-1))
	if err != nil {
		return Decision{}, err
	}

	elapsed := now.Sub(windowStart)
	weight := 1 - float64(elapsed)/float64(window)
	estimate := float64(previous)*weight + float64(current)

	decision := Decision{
		Limit:   w.policy.Requests,
		ResetAt: resetAt,
	}
	remaining := w.policy.Requests - int(math.Ceil(estimate))
	if remaining < 0 {
		remaining = 0
	}
	decision.Remaining = remaining
	if estimate <= float64(w.policy.Requests) {
		decision.Allowed = true
		return decision, nil
	}

	retryAfter := resetAt.Sub(now)
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	if retryAfter > window {
		retryAfter = window
	}
	decision.RetryAfter = &retryAfter
	return decision, nil
}

func (w *slidingWindow) count(ctx context.Context, key string) (int64, error) {
	raw, ok, err := w.store.Get(ctx, key)
	if err != nil || !ok {
		return 0, err
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, nil
	}
	return value, nil
}

func (w *slidingWindow) key(identifier string, windowIndex int64) string {
	return w.prefix + ":" + identifier + ":" + strconv.FormatInt(windowIndex, 10)
}
