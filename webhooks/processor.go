package webhooks

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/goliatone/go-bounties/core"
)

type Handler interface {
	Handle(ctx context.Context, event Event) error
}

type HandlerFunc func(ctx context.Context, event Event) error

func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

type RetryPolicy interface {
	NextDelay(attempt int) time.Duration
}

type ExponentialRetryPolicy struct {
	Initial time.Duration
	Max     time.Duration
}

func (p ExponentialRetryPolicy) NextDelay(attempt int) time.Duration {
	initial := p.Initial
	if initial <= 0 {
		initial = time.Second
	}
	maximum := p.Max
	if maximum <= 0 {
		maximum = 30 * time.Second
	}
	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maximum {
			return maximum
		}
	}
	if delay > maximum {
		return maximum
	}
	return delay
}

// Processor runs one delivery through verification, classification, dedupe
// and the handler. Verification always runs before anything is decoded or
// recorded.
type Processor struct {
	ProviderID  string
	Verifier    Verifier
	Ledger      DeliveryLedger
	Handler     Handler
	ExtractID   DeliveryIDExtractor
	RetryPolicy RetryPolicy
	ClaimLease  time.Duration
	MaxAttempts int
	Logger      core.Logger
	Metrics     core.MetricsRecorder
	Now         func() time.Time
}

func NewProcessor(template ProviderWebhookTemplate, ledger DeliveryLedger, handler Handler) *Processor {
	return &Processor{
		ProviderID:  template.ProviderID,
		Verifier:    template.Verifier,
		Ledger:      ledger,
		Handler:     handler,
		ExtractID:   template.Extractor,
		RetryPolicy: ExponentialRetryPolicy{},
		ClaimLease:  30 * time.Second,
		MaxAttempts: 8,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (p *Processor) Process(ctx context.Context, req Request) (result Result, err error) {
	if p == nil || p.Handler == nil {
		return Result{StatusCode: http.StatusInternalServerError}, fmt.Errorf("webhooks: processor requires a handler")
	}
	if p.Verifier == nil {
		return Result{StatusCode: http.StatusInternalServerError}, fmt.Errorf("webhooks: processor requires a verifier")
	}

	startedAt := time.Now()
	fields := map[string]any{
		"provider_id": p.providerID(),
		"event_name":  req.EventName(),
	}
	defer func() {
		fields["status_code"] = result.StatusCode
		p.observer().Observe(ctx, startedAt, "webhook", err, fields)
	}()

	if err := p.Verifier.Verify(ctx, req); err != nil {
		status := http.StatusUnauthorized
		if core.IsTextCode(err, core.ErrorValidationFailed) {
			status = http.StatusBadRequest
		}
		return Result{
			StatusCode: status,
			Metadata: map[string]any{
				"provider_id": p.providerID(),
				"rejected":    true,
			},
		}, err
	}

	deliveryID := ""
	if p.ExtractID != nil {
		deliveryID = p.ExtractID(req)
	}
	fields["delivery_id"] = deliveryID

	event, classifyErr := Classify(req.EventName(), req.Body)
	event.DeliveryID = deliveryID
	for key, value := range event.Fields() {
		fields[key] = value
	}
	if classifyErr != nil {
		// Redelivering the same bytes cannot succeed, so the delivery is
		// acknowledged and dropped.
		core.LogWithLevel(ctx, p.Logger, "warn", "webhook payload rejected", map[string]any{
			"delivery_id": deliveryID,
			"event_name":  req.EventName(),
			"error":       classifyErr.Error(),
		})
		return acknowledged(map[string]any{"malformed": true}), nil
	}
	if event.Ignored() {
		return acknowledged(map[string]any{"ignored": true}), nil
	}

	if p.Ledger == nil || deliveryID == "" {
		if err := p.Handler.Handle(ctx, event); err != nil {
			return Result{StatusCode: http.StatusInternalServerError}, err
		}
		return acknowledged(nil), nil
	}

	delivery, claimed, err := p.Ledger.Claim(ctx, p.providerID(), deliveryID, event.Name, p.claimLease())
	if err != nil {
		return Result{StatusCode: http.StatusInternalServerError}, err
	}
	if !claimed {
		return acknowledged(map[string]any{
			"deduped": true,
			"status":  delivery.Status,
		}), nil
	}

	if err := p.Handler.Handle(ctx, event); err != nil {
		nextAttemptAt := p.now().Add(p.retryPolicy().NextDelay(delivery.Attempts))
		if failErr := p.Ledger.Fail(ctx, delivery.ClaimID, err, nextAttemptAt, p.maxAttempts()); failErr != nil {
			core.LogWithLevel(ctx, p.Logger, "error", "webhook delivery failure not recorded", map[string]any{
				"delivery_id": deliveryID,
				"error":       failErr.Error(),
			})
		}
		return Result{StatusCode: http.StatusInternalServerError}, err
	}

	if err := p.Ledger.Complete(ctx, delivery.ClaimID); err != nil {
		return Result{StatusCode: http.StatusInternalServerError}, err
	}
	return acknowledged(map[string]any{"delivery_id": deliveryID}), nil
}

func acknowledged(metadata map[string]any) Result {
	return Result{
		Accepted:   true,
		StatusCode: http.StatusOK,
		Metadata:   ensureMetadata(metadata),
	}
}

func (p *Processor) observer() core.Observer {
	return core.Observer{Logger: p.Logger, Metrics: p.Metrics}
}

func (p *Processor) providerID() string {
	if p != nil && p.ProviderID != "" {
		return p.ProviderID
	}
	return "github"
}

func (p *Processor) now() time.Time {
	if p != nil && p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

func (p *Processor) retryPolicy() RetryPolicy {
	if p != nil && p.RetryPolicy != nil {
		return p.RetryPolicy
	}
	return ExponentialRetryPolicy{}
}

func (p *Processor) claimLease() time.Duration {
	if p != nil && p.ClaimLease > 0 {
		return p.ClaimLease
	}
	return 30 * time.Second
}

func (p *Processor) maxAttempts() int {
	if p != nil && p.MaxAttempts > 0 {
		return p.MaxAttempts
	}
	return 8
}
