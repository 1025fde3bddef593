package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func scanSignalsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan-signals",
		Short: "Run one signal-monitor pass over every registered market and print what fired",
		RunE:  runScanSignals,
	}
}

func runScanSignals(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")

	ctx := context.Background()
	a, err := buildApp(ctx, cfgPath, log.Logger)
	if err != nil {
		return fmt.Errorf("build app: %w", err)
	}
	defer a.Close()

	markets, err := a.repo.Markets.List(ctx, "")
	if err != nil {
		return fmt.Errorf("list markets: %w", err)
	}

	found, err := a.signals.Scan(ctx, markets)
	if err != nil {
		return fmt.Errorf("scan signals: %w", err)
	}

	if len(found) == 0 {
		fmt.Println("no signals fired")
		return nil
	}
	for _, s := range found {
		tf := ""
		if s.Timeframe != nil {
			tf = *s.Timeframe
		}
		val := ""
		if s.Value != nil {
			val = s.Value.String()
		}
		fmt.Printf("%-24s market=%d timeframe=%-4s severity=%-9s value=%s\n", s.SignalType, s.MarketID, tf, s.Severity, val)
	}
	return nil
}
