package main

import (
	"fmt"
	"sort"

	"github.com/sawpanic/mdcollector/internal/config"
	"github.com/spf13/cobra"
)

func scheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Inspect the sources this config would schedule, without running them",
	}
	cmd.AddCommand(scheduleListCmd())
	cmd.AddCommand(scheduleStatusCmd())
	return cmd
}

func scheduleListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every enabled source and its cadence",
		RunE:  runScheduleList,
	}
}

func scheduleStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Summarize enabled vs. disabled sources by kind",
		RunE:  runScheduleStatus,
	}
}

func runScheduleList(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadCollectorConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("load collector config: %w", err)
	}

	names := make([]string, 0, len(cfg.Sources))
	for name := range cfg.Sources {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Printf("Sources (%d)\n", len(names))
	fmt.Printf("%-24s %-18s %-10s %-10s %-8s\n", "NAME", "KIND", "VENUE", "CADENCE", "STATUS")
	for _, name := range names {
		src := cfg.Sources[name]
		status := "enabled"
		if !src.Enabled {
			status = "disabled"
		}
		cadence := src.Cadence.Cron
		if cadence == "" {
			cadence = fmt.Sprintf("every %ds", src.Cadence.IntervalSecs)
		}
		fmt.Printf("%-24s %-18s %-10s %-10s %-8s\n", name, src.Kind, src.Venue, cadence, status)
	}
	return nil
}

func runScheduleStatus(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadCollectorConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("load collector config: %w", err)
	}

	byKind := map[config.SourceKind]struct{ enabled, disabled int }{}
	for _, src := range cfg.Sources {
		counts := byKind[src.Kind]
		if src.Enabled {
			counts.enabled++
		} else {
			counts.disabled++
		}
		byKind[src.Kind] = counts
	}

	kinds := make([]string, 0, len(byKind))
	for k := range byKind {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)

	fmt.Println("Source status by kind")
	fmt.Printf("%-18s %-10s %-10s\n", "KIND", "ENABLED", "DISABLED")
	for _, k := range kinds {
		counts := byKind[config.SourceKind(k)]
		fmt.Printf("%-18s %-10d %-10d\n", k, counts.enabled, counts.disabled)
	}
	return nil
}
