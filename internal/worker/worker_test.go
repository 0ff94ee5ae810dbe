package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cryptofolio/tracker/internal/domain"
	"github.com/cryptofolio/tracker/internal/market"
	"github.com/cryptofolio/tracker/internal/reconcile"
)

type mockRefresher struct {
	callCount atomic.Int32
	err       error
}

func (m *mockRefresher) RefreshPrices(_ context.Context) (market.RefreshSummary, error) {
	m.callCount.Add(1)
	return market.RefreshSummary{}, m.err
}

type mockRunner struct {
	callCount atomic.Int32
	err       error
}

func (m *mockRunner) Run(_ context.Context) (reconcile.Summary, error) {
	m.callCount.Add(1)
	return reconcile.Summary{}, m.err
}

type mockHook struct {
	callCount atomic.Int32
	err       error
}

func (m *mockHook) AfterPass(_ context.Context, _ reconcile.Summary) error {
	m.callCount.Add(1)
	return m.err
}

func TestPriceWorkerRunsAndShutdown(t *testing.T) {
	mock := &mockRefresher{}
	w := NewPriceWorker(mock, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	w.Run(ctx)

	// Should have run at least the initial refresh + some ticks
	if got := mock.callCount.Load(); got < 2 {
		t.Errorf("call count = %d, want >= 2", got)
	}
}

func TestPriceWorkerSurvivesErrors(t *testing.T) {
	mock := &mockRefresher{err: errors.New("provider down")}
	w := NewPriceWorker(mock, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	w.Run(ctx)

	if got := mock.callCount.Load(); got < 2 {
		t.Errorf("call count = %d, want >= 2", got)
	}
}

func TestReconcileWorkerRunsHook(t *testing.T) {
	runner := &mockRunner{}
	hook := &mockHook{}
	failing := &mockHook{err: errors.New("sheets quota")}
	w := NewReconcileWorker(runner, 50*time.Millisecond, failing, hook)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	w.Run(ctx)

	if got := runner.callCount.Load(); got < 1 {
		t.Errorf("run count = %d, want >= 1", got)
	}
	if hook.callCount.Load() != runner.callCount.Load() {
		t.Errorf("hook count = %d, run count = %d", hook.callCount.Load(), runner.callCount.Load())
	}
	if failing.callCount.Load() != runner.callCount.Load() {
		t.Errorf("failing hook count = %d, run count = %d", failing.callCount.Load(), runner.callCount.Load())
	}
}

func TestReconcileWorkerSkipsHookOnFailure(t *testing.T) {
	for _, runErr := range []error{errors.New("registry unavailable"), domain.ErrPassInProgress} {
		runner := &mockRunner{err: runErr}
		hook := &mockHook{}
		w := NewReconcileWorker(runner, time.Hour, hook)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		w.Run(ctx)
		cancel()

		if runner.callCount.Load() != 1 {
			t.Errorf("run count = %d, want 1", runner.callCount.Load())
		}
		if hook.callCount.Load() != 0 {
			t.Errorf("hook called after failed pass (%v)", runErr)
		}
	}
}

func TestReconcileWorkerWithoutHook(t *testing.T) {
	runner := &mockRunner{}
	w := NewReconcileWorker(runner, time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	w.Run(ctx)

	if runner.callCount.Load() != 1 {
		t.Errorf("run count = %d, want 1", runner.callCount.Load())
	}
}
