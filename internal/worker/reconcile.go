package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cryptofolio/tracker/internal/domain"
	"github.com/cryptofolio/tracker/internal/reconcile"
)

// PassRunner runs one reconciliation pass.
type PassRunner interface {
	Run(ctx context.Context) (reconcile.Summary, error)
}

// AfterPassHook is called after each successful reconciliation pass.
type AfterPassHook interface {
	AfterPass(ctx context.Context, summary reconcile.Summary) error
}

// ReconcileWorker periodically reconciles the wallet against the balance provider.
type ReconcileWorker struct {
	runner   PassRunner
	interval time.Duration
	hooks    []AfterPassHook
}

// NewReconcileWorker creates a new ReconcileWorker. Hooks run in order after
// every successful pass.
func NewReconcileWorker(runner PassRunner, interval time.Duration, hooks ...AfterPassHook) *ReconcileWorker {
	return &ReconcileWorker{
		runner:   runner,
		interval: interval,
		hooks:    hooks,
	}
}

// runHooks calls every post-pass hook; a failing hook does not stop the rest.
func (w *ReconcileWorker) runHooks(ctx context.Context, summary reconcile.Summary) {
	for i, hook := range w.hooks {
		if err := hook.AfterPass(ctx, summary); err != nil {
			slog.Error("ReconcileWorker: post-pass hook failed", "hook", i, "error", err)
		}
	}
}

func (w *ReconcileWorker) pass(ctx context.Context, phase string) {
	summary, err := w.runner.Run(ctx)
	switch {
	case errors.Is(err, domain.ErrPassInProgress):
		slog.Warn("ReconcileWorker: " + phase + " pass skipped, another pass is running")
		return
	case err != nil:
		slog.Error("ReconcileWorker: "+phase+" pass failed", "error", err)
		return
	}
	slog.Info("ReconcileWorker: "+phase+" pass completed",
		"updated", summary.Updated,
		"discoveries", len(summary.Discoveries),
		"failures", summary.FailureCount(),
		"totalValue", summary.TotalValue.StringFixed(2))
	w.runHooks(ctx, summary)
}

// Run starts the reconcile worker loop. It blocks until the context is cancelled.
func (w *ReconcileWorker) Run(ctx context.Context) {
	slog.Info("ReconcileWorker: starting", "interval", w.interval)

	// Reconcile immediately on startup
	w.pass(ctx, "initial")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("ReconcileWorker: shutting down")
			return
		case <-ticker.C:
			w.pass(ctx, "scheduled")
		}
	}
}
