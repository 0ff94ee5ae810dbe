package valuation

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/cryptofolio/tracker/internal/domain"
	"github.com/cryptofolio/tracker/internal/metrics"
	"github.com/cryptofolio/tracker/internal/store"
)

// WalletSource reads aggregated wallet positions.
type WalletSource interface {
	ListWallet(ctx context.Context, sort store.Sort) ([]domain.WalletPosition, error)
	WalletTotal(ctx context.Context) (decimal.Decimal, error)
}

// StakingSource reads staked positions.
type StakingSource interface {
	ListStaked(ctx context.Context, sort store.Sort) ([]domain.StakedPosition, error)
	StakingTotal(ctx context.Context) (decimal.Decimal, error)
}

// CoinSource supplies registry records for display names.
type CoinSource interface {
	AllCoins(ctx context.Context) ([]domain.CoinRecord, error)
}

// PortfolioTotals is the value held in each bucket and overall.
type PortfolioTotals struct {
	Wallet  decimal.Decimal `json:"wallet"`
	Staking decimal.Decimal `json:"staking"`
	Total   decimal.Decimal `json:"total"`
}

// WalletRow is a wallet position prepared for display.
type WalletRow struct {
	Token          string          `json:"token"`
	DisplayName    string          `json:"displayName"`
	Price          decimal.Decimal `json:"price"`
	Holdings       decimal.Decimal `json:"holdings"`
	Value          decimal.Decimal `json:"value"`
	PercentOfTotal decimal.Decimal `json:"percentOfTotal"`
	Chains         []string        `json:"chains"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// StakingRow is a staked position prepared for display.
type StakingRow struct {
	domain.StakedPosition
	PercentOfTotal decimal.Decimal `json:"percentOfTotal"`
}

// Snapshot is a full point-in-time view of the portfolio.
type Snapshot struct {
	GeneratedAt time.Time       `json:"generatedAt"`
	Totals      PortfolioTotals `json:"totals"`
	Wallet      []WalletRow     `json:"wallet"`
	Staking     []StakingRow    `json:"staking"`
}

// Service builds read-only portfolio views.
type Service struct {
	wallet  WalletSource
	staking StakingSource
	coins   CoinSource
	metrics *metrics.Metrics
}

// NewService creates a valuation Service. m may be nil.
func NewService(wallet WalletSource, staking StakingSource, coins CoinSource, m *metrics.Metrics) *Service {
	return &Service{wallet: wallet, staking: staking, coins: coins, metrics: m}
}

// Totals returns the wallet, staking and combined portfolio value.
func (s *Service) Totals(ctx context.Context) (PortfolioTotals, error) {
	var totals PortfolioTotals
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := s.wallet.WalletTotal(gctx)
		if err != nil {
			return fmt.Errorf("wallet total: %w", err)
		}
		totals.Wallet = v
		return nil
	})
	g.Go(func() error {
		v, err := s.staking.StakingTotal(gctx)
		if err != nil {
			return fmt.Errorf("staking total: %w", err)
		}
		totals.Staking = v
		return nil
	})
	if err := g.Wait(); err != nil {
		return PortfolioTotals{}, err
	}
	totals.Total = totals.Wallet.Add(totals.Staking)

	s.metrics.SetPortfolioValue("wallet", totals.Wallet)
	s.metrics.SetPortfolioValue("staking", totals.Staking)
	s.metrics.SetPortfolioValue("total", totals.Total)
	return totals, nil
}

// WalletView returns wallet rows with their share of the whole portfolio.
func (s *Service) WalletView(ctx context.Context, sort store.Sort) ([]WalletRow, PortfolioTotals, error) {
	totals, err := s.Totals(ctx)
	if err != nil {
		return nil, PortfolioTotals{}, err
	}
	positions, err := s.wallet.ListWallet(ctx, sort)
	if err != nil {
		return nil, PortfolioTotals{}, err
	}
	coins, err := s.coins.AllCoins(ctx)
	if err != nil {
		return nil, PortfolioTotals{}, fmt.Errorf("loading coin registry: %w", err)
	}
	return walletRows(positions, coins, totals.Total), totals, nil
}

// StakingView returns staked rows with their share of the whole portfolio.
func (s *Service) StakingView(ctx context.Context, sort store.Sort) ([]StakingRow, PortfolioTotals, error) {
	totals, err := s.Totals(ctx)
	if err != nil {
		return nil, PortfolioTotals{}, err
	}
	positions, err := s.staking.ListStaked(ctx, sort)
	if err != nil {
		return nil, PortfolioTotals{}, err
	}
	return stakingRows(positions, totals.Total), totals, nil
}

// Snapshot assembles both views in their default order.
func (s *Service) Snapshot(ctx context.Context) (Snapshot, error) {
	wallet, totals, err := s.WalletView(ctx, store.DefaultWalletSort)
	if err != nil {
		return Snapshot{}, err
	}
	staked, err := s.staking.ListStaked(ctx, store.DefaultStakingSort)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		GeneratedAt: time.Now().UTC(),
		Totals:      totals,
		Wallet:      wallet,
		Staking:     stakingRows(staked, totals.Total),
	}, nil
}

func walletRows(positions []domain.WalletPosition, coins []domain.CoinRecord, total decimal.Decimal) []WalletRow {
	byName := lo.KeyBy(coins, func(c domain.CoinRecord) string { return c.Name })
	return lo.Map(positions, func(p domain.WalletPosition, _ int) WalletRow {
		display := p.Token
		if c, ok := byName[p.Token]; ok && c.DisplayName != "" {
			display = c.DisplayName
		}
		return WalletRow{
			Token:          p.Token,
			DisplayName:    display,
			Price:          p.Price,
			Holdings:       p.Holdings,
			Value:          p.Value,
			PercentOfTotal: domain.PercentOfTotal(p.Value, total),
			Chains:         p.Chains,
			UpdatedAt:      p.UpdatedAt,
		}
	})
}

func stakingRows(positions []domain.StakedPosition, total decimal.Decimal) []StakingRow {
	return lo.Map(positions, func(p domain.StakedPosition, _ int) StakingRow {
		return StakingRow{StakedPosition: p, PercentOfTotal: domain.PercentOfTotal(p.Value, total)}
	})
}

// SumWallet totals the value of wallet rows.
func SumWallet(rows []WalletRow) decimal.Decimal {
	return lo.Reduce(rows, func(acc decimal.Decimal, r WalletRow, _ int) decimal.Decimal {
		return acc.Add(r.Value)
	}, decimal.Zero)
}

// SumStaking totals the value of staking rows.
func SumStaking(rows []StakingRow) decimal.Decimal {
	return lo.Reduce(rows, func(acc decimal.Decimal, r StakingRow, _ int) decimal.Decimal {
		return acc.Add(r.Value)
	}, decimal.Zero)
}
