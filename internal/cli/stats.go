package cli

import (
	"context"
	"fmt"
	"slices"

	"github.com/spf13/cobra"
	"github.com/vmud/AI-image-gen-battle/internal/metrics"
	"github.com/vmud/AI-image-gen-battle/internal/server"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show runtime statistics",
	Long: `Show in-memory runtime statistics of the appliance: generation timings
per backend, job counters and event delivery counters.`,
	Args: cobra.NoArgs,
	RunE: runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	stats, err := apiClient.Stats(context.Background())
	if err != nil {
		return fmt.Errorf("get server stats: %w", err)
	}
	printServerStats(stats)
	return nil
}

// printServerStats displays server runtime statistics.
func printServerStats(stats *server.StatsResponse) {
	rt := stats.Runtime
	fmt.Printf("Server Statistics (in-memory, since restart)\n")
	fmt.Printf("═══════════════════════════════════════════════\n")
	fmt.Printf("Uptime: %.1f seconds\n", rt.UptimeSeconds)

	if rt.GenerationReal != nil {
		fmt.Printf("\nReal Generation:\n")
		printOpStats(rt.GenerationReal)
	}

	if rt.GenerationFallback != nil {
		fmt.Printf("\nEmergency Generation:\n")
		printOpStats(rt.GenerationFallback)
	}

	if rt.HealthCheck != nil {
		fmt.Printf("\nHealth Checks:\n")
		printOpStats(rt.HealthCheck)
	}

	if len(rt.Counters) > 0 {
		fmt.Printf("\nCounters:\n")
		names := make([]string, 0, len(rt.Counters))
		for name := range rt.Counters {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			fmt.Printf("  %-20s %d\n", name, rt.Counters[name])
		}
	}

	ev := stats.Events
	fmt.Printf("\nEvents:\n")
	fmt.Printf("  Published: %d, Sent: %d, Dropped: %d, Viewers: %d\n",
		ev.Published, ev.Sent, ev.Dropped, len(ev.Subscribers))
}

// printOpStats displays timing statistics for an operation.
func printOpStats(op *metrics.OperationSnapshot) {
	fmt.Printf("  Calls: %d, Total: %dms\n", op.Count, op.TotalTimeMs)
	fmt.Printf("  Time: avg %.1fms, min %dms, max %dms, last %dms\n",
		op.AvgTimeMs, op.MinTimeMs, op.MaxTimeMs, op.LastTimeMs)
	if op.Steps > 0 {
		fmt.Printf("  Throughput: %d steps, %.2f steps/s\n", op.Steps, op.StepsPerSecond)
	}
}
