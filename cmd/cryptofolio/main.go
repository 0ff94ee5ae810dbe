package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"

	"github.com/cryptofolio/tracker/internal/api"
	"github.com/cryptofolio/tracker/internal/config"
	"github.com/cryptofolio/tracker/internal/logging"
	"github.com/cryptofolio/tracker/internal/report"
	"github.com/cryptofolio/tracker/internal/staking"
	"github.com/cryptofolio/tracker/internal/store"
	"github.com/cryptofolio/tracker/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	styleFlag := &cli.StringFlag{
		Name:  "style",
		Usage: "glamour style for terminal output (auto, dark, light, notty, plain)",
	}

	app := &cli.App{
		Name:  "cryptofolio",
		Usage: "track a multi-chain crypto portfolio",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP API and background workers",
				Action: withApp(serve),
			},
			{
				Name:  "migrate",
				Usage: "apply database migrations and exit",
				Action: withConfig(func(c *cli.Context, cfg config.Config) error {
					pool, _, err := openDB(c.Context, cfg)
					if err != nil {
						return err
					}
					pool.Close()
					return nil
				}),
			},
			{
				Name:   "reconcile",
				Usage:  "run one reconciliation pass against the balance provider",
				Flags:  []cli.Flag{styleFlag},
				Action: withApp(runReconcile),
			},
			{
				Name:  "refresh-prices",
				Usage: "refresh coin prices from market data",
				Action: withApp(func(c *cli.Context, a *app) error {
					summary, err := a.market.RefreshPrices(c.Context)
					if err != nil {
						return err
					}
					fmt.Printf("bulk updated: %d, inserted: %d, single updated: %d, staking synced: %d, failed: %d\n",
						summary.BulkUpdated, summary.BulkInserted, summary.SingleUpdated, summary.StakingSynced, len(summary.Failed))
					return nil
				}),
			},
			{
				Name:  "repair-names",
				Usage: "normalize stored alternate names",
				Action: withApp(func(c *cli.Context, a *app) error {
					summary, err := a.market.RepairNames(c.Context)
					if err != nil {
						return err
					}
					fmt.Printf("scanned: %d, updated: %d, skipped: %d, failed: %d\n",
						summary.Scanned, summary.Updated, summary.Skipped, len(summary.Failed))
					return nil
				}),
			},
			{
				Name:  "wallet",
				Usage: "print wallet positions and portfolio totals",
				Flags: []cli.Flag{
					styleFlag,
					&cli.StringFlag{Name: "sort", Usage: "column to sort by"},
					&cli.StringFlag{Name: "dir", Usage: "asc or desc"},
				},
				Action: withApp(func(c *cli.Context, a *app) error {
					sort, err := store.ParseWalletSort(c.String("sort"), c.String("dir"))
					if err != nil {
						slog.Warn("invalid sort, using default", "error", err)
					}
					rows, totals, err := a.valuation.WalletView(c.Context, sort)
					if err != nil {
						return err
					}
					return printMarkdown(report.Wallet(rows, totals), c.String("style"))
				}),
			},
			{
				Name:  "export",
				Usage: "write the portfolio to the configured spreadsheets",
				Action: withApp(func(c *cli.Context, a *app) error {
					if !a.export.Enabled() {
						return errors.New("no export destination configured (EXPORT_XLSX_PATH or SHEETS_SPREADSHEET_ID)")
					}
					return a.export.Export(c.Context, nil)
				}),
			},
			{
				Name:  "coin",
				Usage: "manage the coin registry",
				Subcommands: []*cli.Command{
					{
						Name:      "add",
						Usage:     "add a coin by market data id",
						ArgsUsage: "<external-id> [display-name]",
						Action: withApp(func(c *cli.Context, a *app) error {
							rec, err := a.market.AddCoin(c.Context, c.Args().Get(0), c.Args().Get(1))
							if err != nil {
								return err
							}
							fmt.Printf("added %s (%s) at %s\n", rec.Name, rec.DisplayName, report.FormatUSD(rec.CurrentPrice))
							return nil
						}),
					},
					{
						Name:      "set-price",
						Usage:     "set a coin price manually",
						ArgsUsage: "<name> <price>",
						Action: withApp(func(c *cli.Context, a *app) error {
							price, err := decimal.NewFromString(c.Args().Get(1))
							if err != nil {
								return fmt.Errorf("invalid price %q: %w", c.Args().Get(1), err)
							}
							return a.market.SetManualPrice(c.Context, c.Args().Get(0), price)
						}),
					},
					{
						Name:      "rename",
						Usage:     "set a coin's display name and alternate names",
						ArgsUsage: "<name> <display-name>",
						Flags: []cli.Flag{
							&cli.StringSliceFlag{Name: "alias", Usage: "alternate name (repeatable)"},
						},
						Action: withApp(func(c *cli.Context, a *app) error {
							rec, err := a.market.UpdateCoinNames(c.Context, c.Args().Get(0), c.Args().Get(1), c.StringSlice("alias"))
							if err != nil {
								return err
							}
							fmt.Printf("%s: %s %v\n", rec.Name, rec.DisplayName, rec.AlternateNames)
							return nil
						}),
					},
				},
			},
			{
				Name:  "stake",
				Usage: "manage staked positions",
				Subcommands: []*cli.Command{
					{
						Name:  "add",
						Usage: "record a staked position",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "pool", Required: true},
							&cli.StringFlag{Name: "token", Required: true},
							&cli.StringFlag{Name: "holdings", Required: true},
							&cli.StringFlag{Name: "deposited", Value: "0"},
							&cli.StringFlag{Name: "project"},
							&cli.StringFlag{Name: "chain"},
						},
						Action: withApp(func(c *cli.Context, a *app) error {
							holdings, err := decimal.NewFromString(c.String("holdings"))
							if err != nil {
								return fmt.Errorf("invalid holdings: %w", err)
							}
							deposited, err := decimal.NewFromString(c.String("deposited"))
							if err != nil {
								return fmt.Errorf("invalid deposited amount: %w", err)
							}
							pos, err := a.staking.AddPosition(c.Context, staking.AddRequest{
								Pool:      c.String("pool"),
								Token:     c.String("token"),
								Holdings:  holdings,
								Deposited: deposited,
								Project:   c.String("project"),
								Chain:     c.String("chain"),
							})
							if err != nil {
								return err
							}
							fmt.Printf("added %s: %s %s = %s\n", pos.Pool, pos.Holdings, pos.Token, report.FormatUSD(pos.Value))
							return nil
						}),
					},
					{
						Name:  "update",
						Usage: "change holdings, deposit or pool name of a staked position",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "pool", Required: true},
							&cli.StringFlag{Name: "new-pool"},
							&cli.StringFlag{Name: "holdings", Required: true},
							&cli.StringFlag{Name: "deposited"},
						},
						Action: withApp(func(c *cli.Context, a *app) error {
							holdings, err := decimal.NewFromString(c.String("holdings"))
							if err != nil {
								return fmt.Errorf("invalid holdings: %w", err)
							}
							req := staking.UpdateRequest{
								CurrentPool: c.String("pool"),
								NewPool:     c.String("new-pool"),
								Holdings:    holdings,
							}
							if c.IsSet("deposited") {
								d, err := decimal.NewFromString(c.String("deposited"))
								if err != nil {
									return fmt.Errorf("invalid deposited amount: %w", err)
								}
								req.Deposited = &d
							}
							pos, err := a.staking.UpdatePosition(c.Context, req)
							if err != nil {
								return err
							}
							fmt.Printf("updated %s: %s %s = %s\n", pos.Pool, pos.Holdings, pos.Token, report.FormatUSD(pos.Value))
							return nil
						}),
					},
				},
			},
		},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

// withConfig loads configuration and logging before running action.
func withConfig(action func(c *cli.Context, cfg config.Config) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logger, err := logging.Setup(cfg.LogLevel, cfg.LogFormat)
		if err != nil {
			return err
		}
		defer logger.Sync()

		return action(c, cfg)
	}
}

// withApp wires all services before running action.
func withApp(action func(c *cli.Context, a *app) error) cli.ActionFunc {
	return withConfig(func(c *cli.Context, cfg config.Config) error {
		a, err := newApp(c.Context, cfg)
		if err != nil {
			return err
		}
		defer a.Close()
		return action(c, a)
	})
}

func printMarkdown(md, style string) error {
	out, err := report.Render(md, style)
	if err != nil {
		return err
	}
	fmt.Print(out)
	return nil
}

func runReconcile(c *cli.Context, a *app) error {
	engine, err := a.requireEngine()
	if err != nil {
		return err
	}
	summary, err := engine.Run(c.Context)
	if err != nil {
		return err
	}
	for _, hook := range a.afterPassHooks() {
		if err := hook.AfterPass(c.Context, summary); err != nil {
			slog.Error("post-pass hook failed", "error", err)
		}
	}
	return printMarkdown(report.Pass(summary), c.String("style"))
}

func serve(c *cli.Context, a *app) error {
	ctx, stop := context.WithCancel(c.Context)
	defer stop()

	if a.cfg.WorkersEnabled {
		go worker.NewPriceWorker(a.market, a.cfg.PriceWorkerInterval).Run(ctx)
		if a.engine != nil {
			go worker.NewReconcileWorker(a.engine, a.cfg.ReconcileWorkerInterval, a.afterPassHooks()...).Run(ctx)
		} else {
			slog.Warn("WALLET_ADDRESS not set, reconcile worker disabled")
		}
	}

	if a.cfg.AdminAPIKey == "" {
		slog.Warn("ADMIN_API_KEY not set, mutating endpoints are unprotected")
	}

	svc := api.Services{
		Coins:        a.market,
		Valuation:    a.valuation,
		Staking:      a.staking,
		Distribution: a.metadata,
		Snapshots:    a.snapshots,
	}
	if a.engine != nil {
		svc.Reconciler = a.engine
	} else {
		svc.Reconciler = missingEngine{}
	}
	srv := api.NewServer(a.cfg.HTTPPort, svc, a.metrics.Handler(), a.cfg.AdminAPIKey)

	go func() {
		slog.Info("HTTP server listening", "port", a.cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}
