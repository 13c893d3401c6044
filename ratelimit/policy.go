package ratelimit

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/goliatone/go-bounties/core"
	goerrors "github.com/goliatone/go-errors"
)

const (
	OperationBountyCreate  = "bounty:create"
	OperationPaymentVerify = "payment:verify"
	OperationCommand       = "command"
	OperationGlobal        = "global"

	UnknownIdentifier = "unknown"
)

type Policy struct {
	Operation string
	Requests  int
	Window    time.Duration
}

func (p Policy) Validate() error {
	if strings.TrimSpace(p.Operation) == "" {
		return fmt.Errorf("ratelimit: policy operation is required")
	}
	if p.Requests <= 0 {
		return fmt.Errorf("ratelimit: policy %q requests must be positive", p.Operation)
	}
	if p.Window <= 0 {
		return fmt.Errorf("ratelimit: policy %q window must be positive", p.Operation)
	}
	return nil
}

func DefaultPolicies() []Policy {
	return []Policy{
		{Operation: OperationBountyCreate, Requests: 5, Window: time.Minute},
		{Operation: OperationPaymentVerify, Requests: 10, Window: time.Minute},
		{Operation: OperationCommand, Requests: 30, Window: time.Minute},
		{Operation: OperationGlobal, Requests: 60, Window: time.Minute},
	}
}

// PoliciesFromConfig merges configured policies over the defaults.
func PoliciesFromConfig(cfg core.RateLimitConfig) []Policy {
	merged := map[string]Policy{}
	for _, policy := range DefaultPolicies() {
		merged[policy.Operation] = policy
	}
	for op, raw := range cfg.Policies {
		op = normalizeOperation(op)
		if op == "" || raw.Requests <= 0 {
			continue
		}
		merged[op] = Policy{
			Operation: op,
			Requests:  raw.Requests,
			Window:    core.ParsePolicyWindow(raw.Window),
		}
	}
	out := make([]Policy, 0, len(merged))
	for _, policy := range merged {
		out = append(out, policy)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Operation < out[j].Operation })
	return out
}

type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter *time.Duration
}

// RetryAfterSeconds returns the rejection hint rounded up to whole seconds.
func (d Decision) RetryAfterSeconds() int {
	if d.RetryAfter == nil {
		return 0
	}
	seconds := int((*d.RetryAfter + time.Second - 1) / time.Second)
	if seconds < 1 {
		return 1
	}
	return seconds
}

type ThrottledError struct {
	Operation  string
	Identifier string
	RetryAfter time.Duration
}

func (e ThrottledError) Error() string {
	return fmt.Sprintf(
		"ratelimit: %q for %q throttled for %s",
		strings.TrimSpace(e.Operation),
		strings.TrimSpace(e.Identifier),
		e.RetryAfter,
	)
}

func (e ThrottledError) ToServiceError() *goerrors.Error {
	metadata := map[string]any{
		"operation":  strings.TrimSpace(e.Operation),
		"identifier": strings.TrimSpace(e.Identifier),
	}
	if e.RetryAfter > 0 {
		metadata["retry_after_ms"] = e.RetryAfter.Milliseconds()
	}
	return goerrors.New(e.Error(), goerrors.CategoryRateLimit).
		WithCode(http.StatusTooManyRequests).
		WithTextCode(core.ErrorRateLimited).
		WithMetadata(metadata)
}

// ResolveIdentifier picks the rate limit subject: the authenticated user,
// then the client address, then the literal "unknown".
func ResolveIdentifier(userID string, clientIP string) string {
	if value := strings.TrimSpace(userID); value != "" {
		return "user:" + value
	}
	if value := strings.TrimSpace(clientIP); value != "" {
		return "ip:" + value
	}
	return UnknownIdentifier
}

func normalizeOperation(op string) string {
	return strings.TrimSpace(strings.ToLower(op))
}
