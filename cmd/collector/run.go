package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/sawpanic/mdcollector/internal/backfill"
	"github.com/sawpanic/mdcollector/internal/config"
	"github.com/sawpanic/mdcollector/internal/cron"
	"github.com/sawpanic/mdcollector/internal/httpserver"
)

// signalScanInterval matches main.py's signal_scan job, which the
// source scheduler runs every 5 minutes.
const signalScanInterval = 5 * time.Minute

// backfillInterval matches main.py's backfill job cadence.
const backfillInterval = 5 * time.Minute

// misfireGrace bounds how far back a cron-scheduled source's job will
// recover a bucket it missed because the daemon was down or a tick was
// delayed, rather than silently waiting for the next cadence.
const misfireGrace = 10 * time.Minute

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the collector daemon: scheduled collection, signal scanning and the health/metrics HTTP server",
		RunE:  runDaemon,
	}
	cmd.Flags().String("host", "0.0.0.0", "HTTP server host")
	cmd.Flags().Int("port", 8080, "HTTP server port")
	return cmd
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	host, _ := cmd.Flags().GetString("host")
	port, _ := cmd.Flags().GetInt("port")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := buildApp(ctx, cfgPath, log.Logger)
	if err != nil {
		return fmt.Errorf("build app: %w", err)
	}
	defer a.Close()

	sched := cron.NewScheduler(a.log, a.metrics)
	for name, src := range a.cfg.EnabledSources() {
		name, src := name, src
		sched.AddJob(cron.Job{
			ID:           name,
			Cron:         src.Cadence.Cron,
			Interval:     time.Duration(src.Cadence.IntervalSecs) * time.Second,
			TZ:           src.Cadence.TZ,
			MisfireGrace: misfireGrace,
			Run: func(ctx context.Context) error {
				return a.orch.RunCollectionCycle(ctx, name, src)
			},
		})
	}
	sched.AddJob(cron.Job{
		ID:       "signal_scan",
		Interval: signalScanInterval,
		Run: func(ctx context.Context) error {
			markets, err := a.repo.Markets.List(ctx, "")
			if err != nil {
				return fmt.Errorf("list markets: %w", err)
			}
			_, err = a.signals.Scan(ctx, markets)
			return err
		},
	})
	sched.AddJob(cron.Job{
		ID:       "backfill",
		Interval: backfillInterval,
		Run: func(ctx context.Context) error {
			return runBackfillPass(ctx, a)
		},
	})

	go sched.Run(ctx, time.Second)
	a.log.Info().Int("jobs", len(a.cfg.EnabledSources())+2).Msg("scheduler started")

	httpCfg := httpserver.DefaultConfig()
	httpCfg.Host = host
	httpCfg.Port = port
	srv, err := httpserver.New(httpCfg, a.healthManager(), a.metrics, a.log)
	if err != nil {
		return fmt.Errorf("build http server: %w", err)
	}

	serverErr := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", srv.Addr()).Msg("http server listening")
		if err := srv.Start(); err != nil {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		a.log.Info().Msg("shutdown signal received")
	case err := <-serverErr:
		cancel()
		return fmt.Errorf("http server error: %w", err)
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	a.log.Info().Msg("collector daemon stopped")
	return nil
}

// backfillTaskLimit caps how many pending tasks one pass drains.
const backfillTaskLimit = 20

// backfillScheduler builds the backfill.Scheduler for app a.
func backfillScheduler(a *app) *backfill.Scheduler {
	return backfill.NewScheduler(a.repo.OHLCV, a.repo.Backfill, a.log)
}

// runBackfillPass detects gaps for every enabled exchange_ohlcv source
// and drains whatever backfill tasks are already pending, grounded on
// backfill_scheduler.py's periodic check-then-run cadence.
func runBackfillPass(ctx context.Context, a *app) error {
	sched := backfillScheduler(a)

	for name, src := range a.cfg.EnabledSources() {
		if src.Kind != config.SourceExchangeOHLCV {
			continue
		}
		markets, err := a.repo.Markets.List(ctx, src.Venue)
		if err != nil {
			a.log.Error().Err(err).Str("source", name).Msg("backfill: list markets failed")
			continue
		}
		for _, mkt := range markets {
			for _, tf := range src.Timeframes {
				gaps, err := sched.CheckDataGaps(ctx, mkt.ID, tf, time.Now().Add(-src.Cadence.Lookback()), time.Now())
				if err != nil {
					a.log.Error().Err(err).Str("symbol", mkt.Symbol).Str("timeframe", tf).Msg("backfill: check gaps failed")
					continue
				}
				if len(gaps) == 0 {
					continue
				}
				if _, err := sched.CreateTasksForGaps(ctx, "ohlcv", gaps); err != nil {
					a.log.Error().Err(err).Str("symbol", mkt.Symbol).Msg("backfill: create tasks failed")
				}
			}
		}
	}

	completed, failed, err := sched.RunPending(ctx, "ohlcv", backfillTaskLimit, a.backfillFetcher(ctx), a.repo.OHLCV.InsertBatch)
	if err != nil {
		return fmt.Errorf("run pending backfill: %w", err)
	}
	a.log.Info().Int("completed", completed).Int("failed", failed).Msg("backfill pass complete")
	return nil
}
