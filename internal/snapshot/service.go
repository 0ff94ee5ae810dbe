package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cryptofolio/tracker/internal/reconcile"
	"github.com/cryptofolio/tracker/internal/valuation"
)

// PortfolioSource builds the current portfolio view.
type PortfolioSource interface {
	Snapshot(ctx context.Context) (valuation.Snapshot, error)
}

// Service records and retrieves daily portfolio snapshots.
type Service struct {
	portfolio PortfolioSource
	repo      Repository
	now       func() time.Time
}

// NewService creates a new snapshot Service.
func NewService(portfolio PortfolioSource, repo Repository) *Service {
	return &Service{portfolio: portfolio, repo: repo, now: time.Now}
}

// utcDate returns t normalized to midnight UTC.
func utcDate(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Generate stores today's snapshot, replacing an earlier one from the same day.
func (s *Service) Generate(ctx context.Context) (valuation.Snapshot, error) {
	snap, err := s.portfolio.Snapshot(ctx)
	if err != nil {
		return valuation.Snapshot{}, fmt.Errorf("building portfolio snapshot: %w", err)
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return valuation.Snapshot{}, fmt.Errorf("marshaling snapshot: %w", err)
	}

	if err := s.repo.Save(ctx, utcDate(s.now()), snap.Totals.Total, data); err != nil {
		return valuation.Snapshot{}, err
	}
	return snap, nil
}

// AfterPass stores a snapshot after each reconciliation pass.
// Implements worker.AfterPassHook.
func (s *Service) AfterPass(ctx context.Context, _ reconcile.Summary) error {
	_, err := s.Generate(ctx)
	return err
}

// GetLatest retrieves the most recent snapshot.
func (s *Service) GetLatest(ctx context.Context) (*Snapshot, error) {
	return s.repo.GetLatest(ctx)
}

// GetByDate retrieves the snapshot for a specific day.
func (s *Service) GetByDate(ctx context.Context, date time.Time) (*Snapshot, error) {
	return s.repo.GetByDate(ctx, utcDate(date))
}

// List retrieves recent snapshots, newest first.
func (s *Service) List(ctx context.Context, limit int) ([]Snapshot, error) {
	snapshots, err := s.repo.List(ctx, limit)
	if err != nil {
		return nil, err
	}
	if snapshots == nil {
		snapshots = []Snapshot{}
	}
	return snapshots, nil
}
