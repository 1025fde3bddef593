package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func backfillCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Detect candle gaps and run one pass of pending backfill tasks",
		RunE:  runBackfillOnce,
	}
	cmd.Flags().Int("retry-failed", 0, "also reset up to N failed tasks back to pending before running")
	return cmd
}

func runBackfillOnce(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	retryFailed, _ := cmd.Flags().GetInt("retry-failed")

	ctx := context.Background()
	a, err := buildApp(ctx, cfgPath, log.Logger)
	if err != nil {
		return fmt.Errorf("build app: %w", err)
	}
	defer a.Close()

	if retryFailed > 0 {
		sched := backfillScheduler(a)
		n, err := sched.RetryFailed(ctx, retryFailed)
		if err != nil {
			return fmt.Errorf("retry failed tasks: %w", err)
		}
		a.log.Info().Int("requeued", n).Msg("requeued failed backfill tasks")
	}

	return runBackfillPass(ctx, a)
}
