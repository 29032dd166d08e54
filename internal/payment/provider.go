// Package payment holds the boundary with the payment provider and the
// confirmation handler that folds provider callbacks into order state.
package payment

import (
	"context"
	"fmt"
	"strings"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

type Result struct {
	Success     bool
	ProviderRef string
	RedirectURL string
}

// Provider is the external collaborator that turns an amount into something
// the buyer can pay. CheckStatus backs the polling fallback for providers
// that never push callbacks.
type Provider interface {
	ProcessPayment(ctx context.Context, amount int64, metadata map[string]string) (Result, error)
	CheckStatus(ctx context.Context, providerRef string) (Status, error)
}

// LinkProvider issues hosted payment links derived from the order's payment
// token. It never learns the outcome itself; confirmation arrives through
// the callback webhook.
type LinkProvider struct {
	BaseURL string
}

func (p LinkProvider) ProcessPayment(_ context.Context, _ int64, metadata map[string]string) (Result, error) {
	token := metadata["payment_token"]
	if token == "" {
		return Result{}, fmt.Errorf("payment: metadata is missing the payment token")
	}
	return Result{
		Success:     true,
		ProviderRef: "link_" + token,
		RedirectURL: strings.TrimRight(p.BaseURL, "/") + "/" + token,
	}, nil
}

func (p LinkProvider) CheckStatus(context.Context, string) (Status, error) {
	return StatusPending, nil
}
