package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cryptofolio/tracker/internal/reconcile"
	"github.com/cryptofolio/tracker/internal/valuation"
)

// Writer writes a report to a spreadsheet destination.
type Writer interface {
	Name() string
	Write(ctx context.Context, r Report) error
}

// SnapshotSource builds the current portfolio snapshot.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (valuation.Snapshot, error)
}

// Service builds a report and hands it to every configured writer.
type Service struct {
	snapshots SnapshotSource
	writers   []Writer
}

// NewService creates a new export Service.
func NewService(snapshots SnapshotSource, writers ...Writer) *Service {
	return &Service{
		snapshots: snapshots,
		writers:   writers,
	}
}

// Enabled reports whether any writer is configured.
func (s *Service) Enabled() bool {
	return len(s.writers) > 0
}

// AfterPass exports the portfolio together with the pass's discoveries.
// Implements worker.AfterPassHook.
func (s *Service) AfterPass(ctx context.Context, summary reconcile.Summary) error {
	return s.Export(ctx, summary.Discoveries)
}

// Export writes the current portfolio to all writers. A failing writer does
// not stop the others; all failures are returned joined.
func (s *Service) Export(ctx context.Context, discoveries []reconcile.Discovery) error {
	if !s.Enabled() {
		return nil
	}

	snap, err := s.snapshots.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("building snapshot: %w", err)
	}
	report := Report{Snapshot: snap, Discoveries: discoveries}

	var errs []error
	for _, w := range s.writers {
		if err := w.Write(ctx, report); err != nil {
			slog.Error("export: writer failed", "writer", w.Name(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", w.Name(), err))
			continue
		}
		slog.Info("export: written", "writer", w.Name(),
			"wallet", len(snap.Wallet), "staking", len(snap.Staking))
	}
	return errors.Join(errs...)
}
