package main

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cryptofolio/tracker/internal/config"
	"github.com/cryptofolio/tracker/internal/database"
	"github.com/cryptofolio/tracker/internal/export"
	"github.com/cryptofolio/tracker/internal/external"
	"github.com/cryptofolio/tracker/internal/market"
	"github.com/cryptofolio/tracker/internal/metadata"
	"github.com/cryptofolio/tracker/internal/metrics"
	"github.com/cryptofolio/tracker/internal/moralis"
	"github.com/cryptofolio/tracker/internal/reconcile"
	"github.com/cryptofolio/tracker/internal/snapshot"
	"github.com/cryptofolio/tracker/internal/staking"
	"github.com/cryptofolio/tracker/internal/store"
	"github.com/cryptofolio/tracker/internal/valuation"
	"github.com/cryptofolio/tracker/internal/worker"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// app holds the wired services shared by all commands.
type app struct {
	cfg     config.Config
	pool    *pgxpool.Pool
	tm      *database.TxManager
	metrics *metrics.Metrics

	market    *market.Service
	engine    *reconcile.Engine
	metadata  *metadata.Service
	staking   *staking.Service
	valuation *valuation.Service
	export    *export.Service
	snapshots *snapshot.Service
}

// openDB connects to Postgres and applies pending migrations.
func openDB(ctx context.Context, cfg config.Config) (*pgxpool.Pool, *database.TxManager, error) {
	if cfg.DatabaseURL == "" {
		return nil, nil, fmt.Errorf("DATABASE_URL is required")
	}

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to database: %w", err)
	}
	tm := database.NewTxManager(pool)

	migrationsSub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("creating migrations sub-fs: %w", err)
	}
	applied, err := database.RunMigrations(ctx, tm, migrationsSub)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}
	if applied > 0 {
		slog.Info("migrations applied", "count", applied)
	}
	return pool, tm, nil
}

// newApp wires every service from cfg.
func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	pool, tm, err := openDB(ctx, cfg)
	if err != nil {
		return nil, err
	}

	m := metrics.New()

	coinRepo := store.NewPgCoinRepository(tm)
	walletRepo := store.NewPgWalletRepository(tm)
	stakingRepo := store.NewPgStakingRepository(tm)
	metadataRepo := store.NewPgMetadataRepository(tm)

	coingecko := external.NewCoinGeckoClient(external.CoinGeckoOptions{
		BaseURL:        cfg.CoinGeckoURL,
		APIKey:         cfg.CoinGeckoAPIKey,
		RetryBaseDelay: cfg.CoinGeckoRetryBaseDelay,
		MaxRetries:     cfg.CoinGeckoRetryMax,
		PerPage:        cfg.CoinGeckoPerPage,
		RatePerMinute:  cfg.CoinGeckoRatePerMinute,
		Metrics:        m,
	})
	marketSvc := market.NewService(coingecko, coinRepo, stakingRepo, tm, cfg.CoinGeckoTopCoins, cfg.CoinCacheTTL, m)

	a := &app{
		cfg:     cfg,
		pool:    pool,
		tm:      tm,
		metrics: m,
		market:  marketSvc,
	}

	a.metadata = metadata.NewService(metadataRepo, tm)
	a.staking = staking.NewService(stakingRepo, coinRepo, a.metadata, tm)
	a.valuation = valuation.NewService(walletRepo, stakingRepo, coinRepo, m)

	var writers []export.Writer
	if cfg.ExportXLSXPath != "" {
		writers = append(writers, export.NewXLSXWriter(cfg.ExportXLSXPath))
	}
	if cfg.SheetsSpreadsheetID != "" && cfg.GoogleCredentialsJSON != "" {
		sw, err := export.NewSheetsWriter(ctx, cfg.SheetsSpreadsheetID, cfg.GoogleCredentialsJSON)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("creating sheets writer: %w", err)
		}
		writers = append(writers, sw)
	}
	a.export = export.NewService(a.valuation, writers...)
	a.snapshots = snapshot.NewService(a.valuation, snapshot.NewPgRepository(tm))

	if cfg.WalletAddress != "" {
		address, err := cfg.ValidateWallet()
		if err != nil {
			pool.Close()
			return nil, err
		}
		a.engine = reconcile.NewEngine(
			moralis.NewClient(cfg.MoralisURL, cfg.MoralisAPIKey, m),
			coinRepo, walletRepo, tm,
			reconcile.Options{
				Address:      address,
				Chains:       cfg.Chains,
				DeniedTokens: cfg.DeniedTokens(),
				Concurrency:  cfg.ChainFetchConcurrency,
				Metrics:      m,
			},
		)
	}

	return a, nil
}

// requireEngine returns the reconciliation engine or an error when no wallet
// address is configured.
func (a *app) requireEngine() (*reconcile.Engine, error) {
	if a.engine == nil {
		return nil, fmt.Errorf("WALLET_ADDRESS is required for reconciliation")
	}
	return a.engine, nil
}

// afterPassHooks returns the hooks run after every successful pass.
func (a *app) afterPassHooks() []worker.AfterPassHook {
	hooks := []worker.AfterPassHook{a.snapshots}
	if a.export.Enabled() {
		hooks = append(hooks, a.export)
	}
	return hooks
}

func (a *app) Close() {
	a.pool.Close()
}
