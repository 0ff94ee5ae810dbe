package main

import (
	"context"

	"github.com/cryptofolio/tracker/internal/domain"
	"github.com/cryptofolio/tracker/internal/reconcile"
)

// missingEngine answers reconcile requests when no wallet is configured.
type missingEngine struct{}

func (missingEngine) Run(context.Context) (reconcile.Summary, error) {
	return reconcile.Summary{}, domain.NewValidationError("wallet", "WALLET_ADDRESS is not configured")
}
