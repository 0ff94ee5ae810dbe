package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/cryptofolio/tracker/internal/domain"
	"github.com/cryptofolio/tracker/internal/identity"
	"github.com/cryptofolio/tracker/internal/metrics"
)

// BalanceProvider reports per-chain token balances for an address.
type BalanceProvider interface {
	FetchChainBalances(ctx context.Context, address, chain string) ([]domain.ChainBalance, error)
}

// CoinStore is the registry surface the engine reads and updates.
type CoinStore interface {
	AllCoins(ctx context.Context) ([]domain.CoinRecord, error)
	UpdateCoinPrice(ctx context.Context, name string, price decimal.Decimal) error
	SetAlternateNames(ctx context.Context, name string, names []string) error
}

// WalletStore persists aggregated wallet rows.
type WalletStore interface {
	UpsertWalletPosition(ctx context.Context, pos domain.WalletPosition) error
}

// TxRunner runs fn inside a transaction.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Options configures an Engine.
type Options struct {
	Address      string
	Chains       []string
	DeniedTokens []string
	Concurrency  int
	Metrics      *metrics.Metrics
}

// Engine reconciles provider balances into wallet positions. Only one pass
// runs at a time per Engine.
type Engine struct {
	provider    BalanceProvider
	coins       CoinStore
	wallet      WalletStore
	tx          TxRunner
	address     string
	chains      []string
	denied      map[string]struct{}
	concurrency int
	metrics     *metrics.Metrics
	mu          sync.Mutex
}

// NewEngine creates a reconciliation engine.
func NewEngine(provider BalanceProvider, coins CoinStore, wallet WalletStore, tx TxRunner, opts Options) *Engine {
	denied := make(map[string]struct{}, len(opts.DeniedTokens))
	for _, name := range opts.DeniedTokens {
		denied[strings.ToLower(strings.TrimSpace(name))] = struct{}{}
	}
	return &Engine{
		provider:    provider,
		coins:       coins,
		wallet:      wallet,
		tx:          tx,
		address:     opts.Address,
		chains:      opts.Chains,
		denied:      denied,
		concurrency: max(opts.Concurrency, 1),
		metrics:     opts.Metrics,
	}
}

type chainResult struct {
	chain    string
	balances []domain.ChainBalance
	err      error
}

// bucket accumulates every provider record that maps to one wallet row.
type bucket struct {
	key          string
	known        bool
	record       domain.CoinRecord
	namesChanged bool
	holdings     decimal.Decimal
	price        decimal.Decimal
	chains       []string
}

// Run executes one full pass: fetch every configured chain, aggregate per
// token, and persist each token independently. Per-record and per-chain
// problems are reported in the Summary; only a registry read failure or
// context cancellation aborts the pass.
func (e *Engine) Run(ctx context.Context) (Summary, error) {
	if !e.mu.TryLock() {
		e.metrics.ObservePass("busy", 0)
		return Summary{}, domain.ErrPassInProgress
	}
	defer e.mu.Unlock()

	start := time.Now()
	summary := newSummary(start)
	summary.Chains = len(e.chains)
	slog.Info("reconcile: pass started", "chains", len(e.chains))

	coins, err := e.coins.AllCoins(ctx)
	if err != nil {
		e.metrics.ObservePass("error", time.Since(start))
		return summary, fmt.Errorf("loading registry: %w", err)
	}
	index := identity.NewIndex(coins)

	results := e.fetchAll(ctx)
	if err := ctx.Err(); err != nil {
		e.metrics.ObservePass("error", time.Since(start))
		return summary, err
	}

	order, buckets := e.aggregate(results, index, &summary)

	for _, key := range order {
		if err := ctx.Err(); err != nil {
			e.metrics.ObservePass("error", time.Since(start))
			return summary, err
		}
		b := buckets[key]
		pos, err := e.persist(ctx, b)
		if err != nil {
			slog.Error("reconcile: token update failed", "token", key, "error", err)
			summary.fail(CategoryUpdate, strings.Join(b.chains, ","), key, err)
			continue
		}
		summary.Updated++
		summary.TotalValue = summary.TotalValue.Add(pos.Value)
		summary.Positions = append(summary.Positions, pos)
	}

	summary.Duration = time.Since(start)
	e.record(summary)
	slog.Info("reconcile: pass finished",
		"updated", summary.Updated,
		"discoveries", len(summary.Discoveries),
		"zero_price", len(summary.ZeroPrice),
		"failures", summary.FailureCount(),
		"total_value", summary.TotalValue.StringFixed(2),
		"duration", summary.Duration)
	return summary, nil
}

// fetchAll queries every chain with bounded concurrency. Results are stored by
// chain index so the merge order never depends on completion order.
func (e *Engine) fetchAll(ctx context.Context) []chainResult {
	results := make([]chainResult, len(e.chains))

	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i, chain := range e.chains {
		g.Go(func() error {
			balances, err := e.provider.FetchChainBalances(ctx, e.address, chain)
			results[i] = chainResult{chain: chain, balances: balances, err: err}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (e *Engine) aggregate(results []chainResult, index *identity.Index, summary *Summary) ([]string, map[string]*bucket) {
	var order []string
	buckets := make(map[string]*bucket)

	for _, res := range results {
		if res.err != nil {
			slog.Warn("reconcile: chain skipped", "chain", res.chain, "error", res.err)
			summary.ChainsFailed++
			summary.fail(CategoryProvider, res.chain, "", res.err)
			continue
		}

		for _, bal := range res.balances {
			summary.Records++
			name := strings.TrimSpace(bal.Name)
			if name == "" {
				name = strings.TrimSpace(bal.Symbol)
			}
			if name == "" {
				summary.fail(CategoryParse, res.chain, bal.TokenAddress, fmt.Errorf("%w: token has no name", domain.ErrParse))
				continue
			}
			if _, ok := e.denied[strings.ToLower(name)]; ok {
				slog.Debug("reconcile: skipping denied token", "chain", res.chain, "token", name)
				summary.Denied++
				continue
			}

			holdings, err := domain.ParseAmount(bal.Balance)
			if err != nil {
				summary.fail(CategoryParse, res.chain, name, fmt.Errorf("balance: %w", err))
				continue
			}
			price, err := domain.ParseAmount(bal.USDPrice)
			if err != nil {
				summary.fail(CategoryParse, res.chain, name, fmt.Errorf("price: %w", err))
				continue
			}

			key := name
			rec, err := index.Resolve(name)
			known := err == nil
			if err != nil && !errors.Is(err, domain.ErrNotFound) {
				summary.fail(CategoryParse, res.chain, name, err)
				continue
			}
			if known {
				key = rec.Name
			} else {
				summary.Discoveries = append(summary.Discoveries, Discovery{
					Chain: res.chain, Token: name, Symbol: bal.Symbol, Price: price,
				})
			}

			if price.IsZero() {
				summary.ZeroPrice = append(summary.ZeroPrice, Issue{
					Category: CategoryZeroPrice, Chain: res.chain, Token: name, Detail: "provider reported no price",
				})
			}

			b, ok := buckets[key]
			if !ok {
				b = &bucket{key: key, known: known, record: rec}
				buckets[key] = b
				order = append(order, key)
			}
			if known {
				if merged, changed := identity.WithAlias(b.record, name); changed {
					b.record = merged
					b.namesChanged = true
					index.Put(merged)
				}
			}
			b.holdings = b.holdings.Add(holdings)
			b.price = decimal.Max(b.price, price)
			if !lo.Contains(b.chains, res.chain) {
				b.chains = append(b.chains, res.chain)
			}
		}
	}

	return order, buckets
}

// persist writes one bucket's wallet row and registry updates in a single
// transaction. The wallet row always carries the highest price observed in
// this pass. A zero observed price is not written to the registry.
func (e *Engine) persist(ctx context.Context, b *bucket) (domain.WalletPosition, error) {
	pos := domain.WalletPosition{
		Token:     b.key,
		Price:     b.price,
		Holdings:  b.holdings,
		Value:     domain.PositionValue(b.price, b.holdings),
		Chains:    b.chains,
		UpdatedAt: time.Now(),
	}

	err := e.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := e.wallet.UpsertWalletPosition(ctx, pos); err != nil {
			return err
		}
		if !b.known {
			return nil
		}
		if !b.price.IsZero() {
			if err := e.coins.UpdateCoinPrice(ctx, b.record.Name, b.price); err != nil {
				return err
			}
		}
		if b.namesChanged {
			if err := e.coins.SetAlternateNames(ctx, b.record.Name, b.record.AlternateNames); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.WalletPosition{}, fmt.Errorf("%w: %v", domain.ErrUpdate, err)
	}
	return pos, nil
}

func (e *Engine) record(s Summary) {
	e.metrics.ObservePass("ok", s.Duration)
	e.metrics.AddTokens("updated", s.Updated)
	e.metrics.AddTokens("denied", s.Denied)
	e.metrics.AddTokens("new", len(s.Discoveries))
	e.metrics.AddTokens(string(CategoryZeroPrice), len(s.ZeroPrice))
	for cat, issues := range s.Failures {
		e.metrics.AddTokens(string(cat), len(issues))
	}
	e.metrics.SetPortfolioValue("wallet", s.TotalValue)
}
