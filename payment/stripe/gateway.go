// Package stripe implements the payout gateway with Stripe Connect transfers.
package stripe

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-bounties/core"
	stripeapi "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// TransferCreator is the Stripe transfers endpoint.
type TransferCreator interface {
	New(params *stripeapi.TransferParams) (*stripeapi.Transfer, error)
}

type Gateway struct {
	transfers TransferCreator
	logger    core.Logger
}

type Option func(*Gateway)

func WithLogger(logger core.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithTransferCreator replaces the Stripe transfers client.
func WithTransferCreator(transfers TransferCreator) Option {
	return func(g *Gateway) {
		if transfers != nil {
			g.transfers = transfers
		}
	}
}

func NewGateway(secretKey string, opts ...Option) (*Gateway, error) {
	gateway := &Gateway{}
	for _, opt := range opts {
		if opt != nil {
			opt(gateway)
		}
	}
	if gateway.transfers == nil {
		secretKey = strings.TrimSpace(secretKey)
		if secretKey == "" {
			return nil, fmt.Errorf("stripe: secret key is required")
		}
		api := &client.API{}
		api.Init(secretKey, nil)
		gateway.transfers = api.Transfers
	}
	return gateway, nil
}

// CreateTransfer moves the amount to the connected account. The request's
// idempotency key is forwarded so Stripe collapses retried calls.
func (g *Gateway) CreateTransfer(ctx context.Context, req core.TransferRequest) (core.Transfer, error) {
	if g == nil || g.transfers == nil {
		return core.Transfer{}, fmt.Errorf("stripe: gateway is not configured")
	}
	destination := strings.TrimSpace(req.Destination)
	if destination == "" {
		return core.Transfer{}, core.NewValidationError("destination account is required", "destination")
	}
	amount := req.Amount.MinorUnits()
	if amount <= 0 {
		return core.Transfer{}, core.NewValidationError("transfer amount must be positive", "amount")
	}

	params := &stripeapi.TransferParams{
		Amount:        stripeapi.Int64(amount),
		Currency:      stripeapi.String(strings.ToLower(req.Amount.Currency)),
		Destination:   stripeapi.String(destination),
		TransferGroup: stripeapi.String("bounty_" + strings.TrimSpace(req.ReferenceID)),
	}
	params.Context = ctx
	params.AddMetadata("bounty_id", strings.TrimSpace(req.ReferenceID))
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}

	transfer, err := g.transfers.New(params)
	if err != nil {
		core.LogWithLevel(ctx, g.logger, "error", "stripe transfer failed", map[string]any{
			"bounty_id":   req.ReferenceID,
			"destination": destination,
			"error":       err.Error(),
		})
		return core.Transfer{}, err
	}
	if transfer == nil || strings.TrimSpace(transfer.ID) == "" {
		return core.Transfer{}, fmt.Errorf("stripe: transfer response has no id")
	}
	core.LogWithLevel(ctx, g.logger, "info", "stripe transfer created", map[string]any{
		"bounty_id":   req.ReferenceID,
		"transfer_id": transfer.ID,
		"amount":      req.Amount.String(),
	})
	return core.Transfer{ID: transfer.ID}, nil
}

var _ core.PaymentGateway = (*Gateway)(nil)
