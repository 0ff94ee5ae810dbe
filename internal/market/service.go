package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"

	"github.com/cryptofolio/tracker/internal/domain"
	"github.com/cryptofolio/tracker/internal/identity"
	"github.com/cryptofolio/tracker/internal/metrics"
	"github.com/cryptofolio/tracker/internal/store"
)

// Client fetches market data.
type Client interface {
	FetchBulkPrices(ctx context.Context, total int) ([]domain.MarketQuote, error)
	FetchSingleCoin(ctx context.Context, externalID string) (domain.MarketQuote, error)
}

// CoinRepository is the registry storage used by the service.
type CoinRepository interface {
	identity.NameStore
	AllCoins(ctx context.Context) ([]domain.CoinRecord, error)
	ListCoins(ctx context.Context, sort store.Sort) ([]domain.CoinRecord, error)
	GetCoin(ctx context.Context, name string) (domain.CoinRecord, error)
	UpsertCoin(ctx context.Context, c domain.CoinRecord) error
	UpdateCoinPrice(ctx context.Context, name string, price decimal.Decimal) error
	UpdateCoinNames(ctx context.Context, name, displayName string, alternateNames []string) error
}

// StakingPriceSyncer copies registry prices onto staked positions.
type StakingPriceSyncer interface {
	SyncStakingPrices(ctx context.Context) (int64, error)
}

// TxRunner runs fn inside a transaction.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// CoinFailure is a coin the refresh could not update.
type CoinFailure struct {
	Name       string `json:"name"`
	ExternalID string `json:"externalId"`
	Reason     string `json:"reason"`
}

// RefreshSummary reports the outcome of RefreshPrices.
type RefreshSummary struct {
	BulkUpdated   int           `json:"bulkUpdated"`
	BulkInserted  int           `json:"bulkInserted"`
	SingleUpdated int           `json:"singleUpdated"`
	StakingSynced int64         `json:"stakingSynced"`
	Failed        []CoinFailure `json:"failed"`
}

// Service maintains the coin registry from market data.
type Service struct {
	client   Client
	repo     CoinRepository
	staking  StakingPriceSyncer
	tx       TxRunner
	topCoins int
	quotes   *cache.Cache
	metrics  *metrics.Metrics
}

// NewService creates a market Service. Single-coin quotes are cached for cacheTTL.
func NewService(client Client, repo CoinRepository, staking StakingPriceSyncer, tx TxRunner,
	topCoins int, cacheTTL time.Duration, m *metrics.Metrics) *Service {
	return &Service{
		client:   client,
		repo:     repo,
		staking:  staking,
		tx:       tx,
		topCoins: topCoins,
		quotes:   cache.New(cacheTTL, 2*cacheTTL),
		metrics:  m,
	}
}

// RefreshPrices updates the registry from the bulk market listing, then
// fetches individually every stored coin with an external id that the bulk
// listing did not cover. Stored identity fields always win over fetched ones.
func (s *Service) RefreshPrices(ctx context.Context) (RefreshSummary, error) {
	summary := RefreshSummary{Failed: []CoinFailure{}}

	stored, err := s.repo.AllCoins(ctx)
	if err != nil {
		return summary, fmt.Errorf("loading registry: %w", err)
	}
	byExternalID := make(map[string]domain.CoinRecord, len(stored))
	byName := make(map[string]domain.CoinRecord, len(stored))
	for _, c := range stored {
		if c.ExternalID != "" {
			byExternalID[c.ExternalID] = c
		}
		byName[strings.ToLower(c.Name)] = c
	}

	covered := make(map[string]bool)
	quotes, err := s.client.FetchBulkPrices(ctx, s.topCoins)
	if err != nil {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		slog.Warn("market: bulk price fetch failed, falling back to single fetches", "error", err)
	}

	for _, q := range quotes {
		if q.ExternalID == "" || q.Name == "" {
			continue
		}
		fresh := q.ToCoinRecord()
		existing, ok := byExternalID[q.ExternalID]
		if !ok {
			existing, ok = byName[strings.ToLower(q.Name)]
		}
		rec := fresh
		if ok {
			rec = identity.MergeRegistry(existing, fresh)
		}
		if err := s.repo.UpsertCoin(ctx, rec); err != nil {
			slog.Error("market: failed to store coin", "coin", rec.Name, "error", err)
			summary.Failed = append(summary.Failed, CoinFailure{Name: rec.Name, ExternalID: q.ExternalID, Reason: err.Error()})
			continue
		}
		covered[q.ExternalID] = true
		if ok {
			summary.BulkUpdated++
		} else {
			summary.BulkInserted++
		}
	}

	for _, c := range stored {
		if c.ExternalID == "" || covered[c.ExternalID] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		q, err := s.fetchSingle(ctx, c.ExternalID)
		if err != nil {
			slog.Warn("market: single coin fetch failed", "coin", c.Name, "external_id", c.ExternalID, "error", err)
			summary.Failed = append(summary.Failed, CoinFailure{Name: c.Name, ExternalID: c.ExternalID, Reason: failureReason(err)})
			continue
		}
		if err := s.repo.UpsertCoin(ctx, identity.MergeRegistry(c, q.ToCoinRecord())); err != nil {
			summary.Failed = append(summary.Failed, CoinFailure{Name: c.Name, ExternalID: c.ExternalID, Reason: err.Error()})
			continue
		}
		summary.SingleUpdated++
	}

	if s.staking != nil {
		n, err := s.staking.SyncStakingPrices(ctx)
		if err != nil {
			slog.Warn("market: staking price sync failed", "error", err)
		}
		summary.StakingSynced = n
	}

	s.metrics.AddPriceRefresh("bulk", summary.BulkUpdated+summary.BulkInserted)
	s.metrics.AddPriceRefresh("single", summary.SingleUpdated)
	s.metrics.AddPriceRefresh("failed", len(summary.Failed))
	slog.Info("market: prices refreshed",
		"bulk_updated", summary.BulkUpdated,
		"bulk_inserted", summary.BulkInserted,
		"single_updated", summary.SingleUpdated,
		"failed", len(summary.Failed))
	return summary, nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrRateLimited):
		return "rate_limited"
	}
	return err.Error()
}

func (s *Service) fetchSingle(ctx context.Context, externalID string) (domain.MarketQuote, error) {
	if cached, ok := s.quotes.Get(externalID); ok {
		return cached.(domain.MarketQuote), nil
	}
	q, err := s.client.FetchSingleCoin(ctx, externalID)
	if err != nil {
		return domain.MarketQuote{}, err
	}
	s.quotes.SetDefault(externalID, q)
	return q, nil
}

// AddCoin registers a coin by its market data id. An existing record with the
// same canonical name keeps its identity fields.
func (s *Service) AddCoin(ctx context.Context, externalID, displayName string) (domain.CoinRecord, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return domain.CoinRecord{}, domain.NewValidationError("externalId", "must not be empty")
	}

	q, err := s.fetchSingle(ctx, externalID)
	if err != nil {
		return domain.CoinRecord{}, fmt.Errorf("adding coin %s: %w", externalID, err)
	}
	if q.Name == "" {
		return domain.CoinRecord{}, fmt.Errorf("adding coin %s: %w: provider returned no name", externalID, domain.ErrProvider)
	}

	rec := q.ToCoinRecord()
	if name := identity.CleanName(displayName); name != "" {
		rec.DisplayName = name
		rec.AlternateNames = identity.WithIdentityNames(rec.AlternateNames, rec.Name, rec.DisplayName)
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		existing, err := s.repo.GetCoin(ctx, rec.Name)
		switch {
		case err == nil:
			rec = identity.MergeRegistry(existing, rec)
		case !errors.Is(err, domain.ErrNotFound):
			return err
		}
		return s.repo.UpsertCoin(ctx, rec)
	})
	if err != nil {
		return domain.CoinRecord{}, fmt.Errorf("adding coin %s: %w", externalID, err)
	}
	slog.Info("market: coin added", "coin", rec.Name, "external_id", externalID)
	return rec, nil
}

// SetManualPrice overrides the current price of a registry record.
func (s *Service) SetManualPrice(ctx context.Context, name string, price decimal.Decimal) error {
	if price.IsNegative() {
		return domain.NewValidationError("price", "must not be negative")
	}
	if err := s.repo.UpdateCoinPrice(ctx, name, price); err != nil {
		return fmt.Errorf("setting price of %s: %w", name, err)
	}
	return nil
}

// UpdateCoinNames replaces the display name and alternate names of a record.
// An empty displayName keeps the current one. The canonical name never changes.
func (s *Service) UpdateCoinNames(ctx context.Context, name, displayName string, alternateNames []string) (domain.CoinRecord, error) {
	var rec domain.CoinRecord
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		rec, err = s.repo.GetCoin(ctx, name)
		if err != nil {
			return err
		}
		if cleaned := identity.CleanName(displayName); cleaned != "" {
			rec.DisplayName = cleaned
		}
		rec.AlternateNames = identity.WithIdentityNames(identity.NormalizeAlternateNames(alternateNames), rec.Name, rec.DisplayName)
		return s.repo.UpdateCoinNames(ctx, rec.Name, rec.DisplayName, rec.AlternateNames)
	})
	if err != nil {
		return domain.CoinRecord{}, fmt.Errorf("updating names of %s: %w", name, err)
	}
	return rec, nil
}

// ListCoins returns the registry in the given order.
func (s *Service) ListCoins(ctx context.Context, sort store.Sort) ([]domain.CoinRecord, error) {
	coins, err := s.repo.ListCoins(ctx, sort)
	if err != nil {
		return nil, err
	}
	if coins == nil {
		coins = []domain.CoinRecord{}
	}
	return coins, nil
}

// RepairNames rewrites damaged stored alternate names into canonical form.
func (s *Service) RepairNames(ctx context.Context) (identity.RepairSummary, error) {
	return identity.RepairStoredAlternateNames(ctx, s.repo)
}
