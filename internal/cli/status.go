package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/vmud/AI-image-gen-battle/internal/models"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the active generation",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := apiClient.Stop(context.Background())
		if err != nil {
			return fmt.Errorf("stop generation: %w", err)
		}
		if resp.JobID != "" {
			fmt.Printf("Stopped job %s\n", resp.JobID)
			return nil
		}
		fmt.Println(resp.Message)
		return nil
	},
}

var resetBackendCmd = &cobra.Command{
	Use:   "reset-backend",
	Short: "Return a degraded real backend to rotation",
	Long: `After an inference stack failure the appliance routes every job to the
emergency generator. Once the worker is fixed, reset-backend lets new jobs use
the real backend again.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := apiClient.ResetBackend(context.Background())
		if err != nil {
			return fmt.Errorf("reset backend: %w", err)
		}
		fmt.Println(resp.Message)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status [job-id]",
	Short: "Show appliance and job status",
	Long: `Show the appliance status and the current or most recent job, or a
specific job by ID.

Examples:
  battle status
  battle status 3f2c9a8e-...`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show health check results",
	Args:  cobra.NoArgs,
	RunE:  runHealth,
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show platform information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		info, err := apiClient.Info(context.Background())
		if err != nil {
			return fmt.Errorf("get info: %w", err)
		}
		fmt.Printf("Platform:     %s (%s)\n", info.DisplayName, info.Class)
		fmt.Printf("Processor:    %s\n", info.ProcessorModel)
		fmt.Printf("Architecture: %s\n", info.Architecture)
		fmt.Printf("Acceleration: %s (available: %t)\n", info.AccelerationKind, info.AccelerationAvailable)
		fmt.Printf("Default steps: %d\n", info.DefaultSteps)
		return nil
	},
}

func runStatus(cmd *cobra.Command, args []string) error {
	var jobID string
	if len(args) == 1 {
		jobID = args[0]
	}

	view, err := apiClient.Status(context.Background(), jobID)
	if err != nil {
		return fmt.Errorf("get status: %w", err)
	}

	fmt.Printf("Appliance: %s (%s)\n", view.Platform, view.Status)
	if view.ForceFallback {
		if view.EmergencyReason != "" {
			fmt.Printf("  Emergency mode: on (%s)\n", view.EmergencyReason)
		} else {
			fmt.Println("  Emergency mode: on")
		}
	}
	fmt.Printf("  Real backend: %t\n", view.RealBackend)
	printTelemetry(view.Telemetry)
	if !view.Health.Healthy {
		fmt.Printf("  Health: unhealthy (%s)\n", strings.Join(view.Health.Issues, ", "))
	}

	if view.Job == nil {
		fmt.Println("\nNo jobs yet")
		return nil
	}
	fmt.Println()
	printJob(*view.Job)
	return nil
}

func printJob(job models.JobView) {
	fmt.Printf("Job: %s\n", job.ID)
	fmt.Printf("  Prompt: %s\n", job.Prompt)
	fmt.Printf("  Status: %s\n", job.Status)
	if job.Backend != "" {
		fmt.Printf("  Backend: %s\n", job.Backend)
	}
	fmt.Printf("  Progress: %d/%d (%.0f%%)\n", job.CurrentStep, job.TotalSteps, job.ProgressPercent)
	fmt.Printf("  Started: %s\n", job.StartedAt.Format(time.RFC3339))
	fmt.Printf("  Elapsed: %.1fs\n", job.ElapsedTime)
	if job.ResultRef != "" {
		fmt.Printf("  Result: %s\n", job.ResultRef)
	}
	if job.ErrorDetail != "" {
		fmt.Printf("  Error: %s\n", job.ErrorDetail)
	}
}

func printTelemetry(t models.Telemetry) {
	fmt.Println("  " + telemetryLine(t))
}

func runHealth(cmd *cobra.Command, args []string) error {
	sum, err := apiClient.Health(context.Background())
	if err != nil {
		return fmt.Errorf("get health: %w", err)
	}

	state := "healthy"
	if !sum.Healthy {
		state = "UNHEALTHY"
	} else if sum.Warnings {
		state = "healthy (with warnings)"
	}
	fmt.Printf("Health: %s\n", state)
	if !sum.LastCheck.IsZero() {
		fmt.Printf("  Last check: %s\n", sum.LastCheck.Format(time.RFC3339))
	}
	fmt.Printf("  Memory: %s  Disk: %s  Models: %s\n", okString(sum.MemoryOK), okString(sum.DiskOK), okString(sum.ModelsOK))

	if len(sum.Issues) > 0 {
		fmt.Printf("\nIssues (%d):\n", len(sum.Issues))
		for _, i := range sum.Issues {
			fmt.Printf("  • %s\n", i)
		}
	}
	if len(sum.Degraded) > 0 {
		fmt.Printf("\nRecovered or degraded (%d):\n", len(sum.Degraded))
		for _, d := range sum.Degraded {
			fmt.Printf("  • %s\n", d)
		}
	}
	if len(sum.Guidance) > 0 {
		fmt.Println("\nSuggestions:")
		for _, g := range sum.Guidance {
			fmt.Printf("  - %s\n", g)
		}
	}
	return nil
}

func okString(ok bool) string {
	if ok {
		return "ok"
	}
	return "problem"
}
