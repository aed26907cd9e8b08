// Command marketd maintains incremental candle datasets and serves the
// market intelligence API.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/helios-quant/candle-sync/internal/advisor"
	"github.com/helios-quant/candle-sync/internal/config"
	"github.com/helios-quant/candle-sync/internal/exchange"
	"github.com/helios-quant/candle-sync/internal/logger"
	"github.com/helios-quant/candle-sync/internal/normalize"
	"github.com/helios-quant/candle-sync/internal/regime"
	"github.com/helios-quant/candle-sync/internal/risk"
	"github.com/helios-quant/candle-sync/internal/scheduler"
	"github.com/helios-quant/candle-sync/internal/server"
	"github.com/helios-quant/candle-sync/internal/store"
	"github.com/helios-quant/candle-sync/internal/syncer"
	"github.com/helios-quant/candle-sync/internal/types"
)

// deps bundles the wired service components.
type deps struct {
	config   config.Config
	logger   *logger.Logger
	store    *store.Store
	exchange *exchange.Client
	syncer   *syncer.Syncer
}

func buildDeps(configPath string) (*deps, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	log, err := logger.New(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}

	st, err := store.NewStore(cfg.Storage.DataDir, log.Named("store"))
	if err != nil {
		return nil, err
	}

	ex := exchange.NewClient(exchange.Config{
		BaseURL:   cfg.Exchange.BaseURL,
		Timeout:   cfg.ExchangeTimeout(),
		PageLimit: cfg.Exchange.PageLimit,
	}, log.Named("exchange"))

	sync := syncer.New(ex, st, log.Named("sync"), syncer.Config{Lookback: cfg.Lookback()})

	return &deps{
		config:   cfg,
		logger:   log,
		store:    st,
		exchange: ex,
		syncer:   sync,
	}, nil
}

func syncAction(ctx context.Context, cmd *cli.Command) error {
	d, err := buildDeps(cmd.String("config"))
	if err != nil {
		return err
	}
	defer d.logger.Sync()

	pairs := d.config.ServerPairs()

	if symbol := cmd.String("symbol"); symbol != "" {
		interval, err := types.ParseInterval(cmd.String("interval"))
		if err != nil {
			return err
		}

		pairs = []server.Pair{{Symbol: symbol, Interval: interval}}
	}

	failed := 0

	for _, pair := range pairs {
		report := d.syncer.Sync(ctx, pair.Symbol, pair.Interval)

		switch report.Status {
		case types.SyncStatusFailed:
			failed++
			fmt.Printf("%-10s %-4s failed: %s\n", report.Symbol, report.Interval, report.Error)
		case types.SyncStatusUpToDate:
			fmt.Printf("%-10s %-4s up to date (%d rows)\n", report.Symbol, report.Interval, report.FinalRows)
		default:
			fmt.Printf("%-10s %-4s updated: +%d rows (%d total)\n",
				report.Symbol, report.Interval, report.RowsAdded, report.FinalRows)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d syncs failed", failed, len(pairs))
	}

	return nil
}

// backfillAction downloads a historical window in day chunks, showing
// progress, and merges it into the stored dataset.
func backfillAction(ctx context.Context, cmd *cli.Command) error {
	d, err := buildDeps(cmd.String("config"))
	if err != nil {
		return err
	}
	defer d.logger.Sync()

	symbol := cmd.String("symbol")

	interval, err := types.ParseInterval(cmd.String("interval"))
	if err != nil {
		return err
	}

	start := cmd.Timestamp("start").UTC()

	end := cmd.Timestamp("end").UTC()
	if end.IsZero() {
		end = time.Now().UTC()
	}

	if !end.After(start) {
		return fmt.Errorf("end %s must be after start %s", end.Format("2006-01-02"), start.Format("2006-01-02"))
	}

	const chunk = 24 * time.Hour

	totalChunks := int(end.Sub(start)/chunk) + 1
	bar := progressbar.NewOptions(totalChunks,
		progressbar.OptionSetDescription(fmt.Sprintf("Backfilling %s %s", symbol, interval)),
		progressbar.OptionShowCount())

	var fetched []types.Candle

	for chunkStart := start; chunkStart.Before(end); chunkStart = chunkStart.Add(chunk) {
		chunkEnd := chunkStart.Add(chunk)
		if chunkEnd.After(end) {
			chunkEnd = end
		}

		klines, err := d.exchange.FetchRange(ctx, symbol, interval, chunkStart, chunkEnd)
		if err != nil {
			return err
		}

		candles, err := normalize.Batch(klines, symbol, interval)
		if err != nil {
			return err
		}

		fetched = append(fetched, candles...)

		if err := bar.Add(1); err != nil {
			d.logger.Debug("progress bar update failed", zap.Error(err))
		}
	}

	fmt.Println()

	if len(fetched) == 0 {
		fmt.Println("no candles in the requested window")
		return nil
	}

	existing, err := d.store.Read(symbol, interval)
	if err != nil {
		return err
	}

	merged := syncer.Merge(existing, fetched)

	if err := d.store.Write(symbol, interval, merged); err != nil {
		return err
	}

	fmt.Printf("backfilled %s %s: %d fetched, %d total rows\n", symbol, interval, len(fetched), len(merged))

	return nil
}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	d, err := buildDeps(cmd.String("config"))
	if err != nil {
		return err
	}
	defer d.logger.Sync()

	pairs := d.config.ServerPairs()

	riskCalc := risk.NewCalculator(risk.DefaultRiskFreeRate)
	ticker := server.NewTickerCache(binance.NewClient("", ""), d.config.TickerTTL())

	srv := server.NewServer(
		server.Config{
			Host:        d.config.Server.Host,
			Port:        d.config.Server.Port,
			Pairs:       pairs,
			TickerTTL:   d.config.TickerTTL(),
			CORSOrigins: d.config.Server.CORSOrigins,
		},
		d.store,
		d.syncer,
		ticker,
		riskCalc,
		advisor.NewAdvisor(riskCalc),
		regime.NewClassifier(regime.DefaultRegimeCount, regime.DefaultSeed),
		d.logger.Named("server"),
	)

	sched := scheduler.New(ctx, d.syncer, pairs, d.logger.Named("scheduler"))
	if err := sched.Register(d.config.Sync.Cron); err != nil {
		return err
	}

	// Bring datasets current before serving, the same way a fresh deploy
	// would.
	if !cmd.Bool("skip-initial-sync") {
		sched.RunNow()
	}

	sched.Start()
	defer sched.Stop()

	errCh := make(chan error, 1)

	go func() {
		errCh <- srv.Start()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-stop:
		d.logger.Info("shutting down")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

func main() {
	cmd := &cli.Command{
		Name:  "marketd",
		Usage: "Incremental candle sync and market intelligence API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML configuration file",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "sync",
				Usage: "Sync configured datasets once and exit",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "symbol",
						Usage: "Sync only this symbol",
					},
					&cli.StringFlag{
						Name:  "interval",
						Usage: "Interval for --symbol",
						Value: "1h",
					},
				},
				Action: syncAction,
			},
			{
				Name:  "backfill",
				Usage: "Download a historical window into the dataset",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "symbol",
						Aliases:  []string{"s"},
						Usage:    "Trading symbol, e.g. BTCUSDT",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "interval",
						Usage: "Candle interval",
						Value: "1h",
					},
					&cli.TimestampFlag{
						Name:     "start",
						Usage:    "Window start in `YYYY-MM-DD` format",
						Required: true,
						Config: cli.TimestampConfig{
							Layouts: []string{"2006-01-02"},
						},
					},
					&cli.TimestampFlag{
						Name:  "end",
						Usage: "Window end in `YYYY-MM-DD` format. Defaults to now.",
						Config: cli.TimestampConfig{
							Layouts: []string{"2006-01-02"},
						},
					},
				},
				Action: backfillAction,
			},
			{
				Name:  "serve",
				Usage: "Run the API server with scheduled syncs",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "skip-initial-sync",
						Usage: "Do not sync datasets before serving",
					},
				},
				Action: serveAction,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
