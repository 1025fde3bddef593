package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const (
	appName = "mdcollector"
	version = "v0.1.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Multi-source crypto market data collector",
		Version: version,
		Long: `mdcollector ingests OHLCV candles, funding rates, open interest,
on-chain whale transfers, ETF flows and macro calendar events from
configured sources, validates what it fetches, and persists it for
the signal monitor to scan.`,
	}

	rootCmd.PersistentFlags().String("config", "config/collector.yaml", "Path to the collector source config")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(backfillCmd())
	rootCmd.AddCommand(scanSignalsCmd())
	rootCmd.AddCommand(scheduleCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
