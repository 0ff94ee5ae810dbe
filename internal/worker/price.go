package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/cryptofolio/tracker/internal/market"
)

// PriceRefresher refreshes registry prices from the market data provider.
type PriceRefresher interface {
	RefreshPrices(ctx context.Context) (market.RefreshSummary, error)
}

// PriceWorker periodically refreshes coin prices.
type PriceWorker struct {
	refresher PriceRefresher
	interval  time.Duration
}

// NewPriceWorker creates a new PriceWorker.
func NewPriceWorker(refresher PriceRefresher, interval time.Duration) *PriceWorker {
	return &PriceWorker{
		refresher: refresher,
		interval:  interval,
	}
}

func (w *PriceWorker) refresh(ctx context.Context, phase string) {
	summary, err := w.refresher.RefreshPrices(ctx)
	if err != nil {
		slog.Error("PriceWorker: "+phase+" refresh failed", "error", err)
		return
	}
	slog.Info("PriceWorker: "+phase+" refresh completed",
		"bulkUpdated", summary.BulkUpdated,
		"bulkInserted", summary.BulkInserted,
		"singleUpdated", summary.SingleUpdated,
		"failed", len(summary.Failed))
}

// Run starts the price worker loop. It blocks until the context is cancelled.
func (w *PriceWorker) Run(ctx context.Context) {
	slog.Info("PriceWorker: starting", "interval", w.interval)

	w.refresh(ctx, "initial")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("PriceWorker: shutting down")
			return
		case <-ticker.C:
			w.refresh(ctx, "scheduled")
		}
	}
}
