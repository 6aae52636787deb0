package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/vmud/AI-image-gen-battle/internal/client"
	"github.com/vmud/AI-image-gen-battle/internal/events"
	"github.com/vmud/AI-image-gen-battle/internal/models"
)

var watchJSON bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream live events",
	Long: `Stream job, progress, telemetry and status events from the appliance
until interrupted.

Examples:
  battle watch
  battle watch --json | jq .`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().BoolVar(&watchJSON, "json", false, "print raw events as JSON lines")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	err := apiClient.Watch(ctx, func(ev client.Event) error {
		if watchJSON {
			return json.NewEncoder(out).Encode(ev)
		}
		fmt.Fprintln(out, formatEvent(ev))
		return nil
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// followJob prints events as plain lines until jobID reaches a terminal
// state. It backs --watch when stdout is not a terminal.
func followJob(ctx context.Context, out io.Writer, c *client.Client, jobID string) error {
	m := newProgressModel(jobID, "", nil)
	err := c.Watch(ctx, func(ev client.Event) error {
		fmt.Fprintln(out, formatEvent(ev))
		if m = m.apply(ev); m.done {
			return client.ErrStopWatching
		}
		return nil
	})
	if err != nil {
		return err
	}
	if !m.done {
		return errors.New("event stream closed before the job finished")
	}
	return m.err
}

// formatEvent renders one event as a single human-readable line.
func formatEvent(ev client.Event) string {
	ts := ev.Time.Format("15:04:05.000")
	switch ev.Type {
	case events.TypeJobStarted:
		var p events.JobStarted
		if ev.Decode(&p) == nil {
			return fmt.Sprintf("%s started    %s  %q (%d steps, %s)", ts, short(p.JobID), p.Prompt, p.Steps, p.Mode)
		}
	case events.TypeProgress:
		var p events.Progress
		if ev.Decode(&p) == nil {
			return fmt.Sprintf("%s progress   %s  %d/%d (%.0f%%) %.1fs", ts, short(p.JobID), p.CurrentStep, p.TotalSteps, p.ProgressPercent, p.ElapsedTime)
		}
	case events.TypeCompleted:
		var p events.Completed
		if ev.Decode(&p) == nil {
			return fmt.Sprintf("%s completed  %s  %.1fs %s", ts, short(p.JobID), p.ElapsedTime, displayRef(p.ArtifactRef))
		}
	case events.TypeError:
		var p events.JobError
		if ev.Decode(&p) == nil {
			return fmt.Sprintf("%s error      %s  %s", ts, short(p.JobID), p.Error)
		}
	case events.TypeTelemetry:
		var t models.Telemetry
		if ev.Decode(&t) == nil {
			return fmt.Sprintf("%s telemetry  %s", ts, telemetryLine(t))
		}
	case events.TypeStatus:
		var s models.StatusView
		if ev.Decode(&s) == nil {
			line := fmt.Sprintf("%s status     %s %s", ts, s.Platform, s.Status)
			if s.Job != nil {
				line += fmt.Sprintf("  last job %s %s", short(s.Job.ID), s.Job.Status)
			}
			return line
		}
	}
	return fmt.Sprintf("%s %-10s %s", ts, ev.Type, string(ev.Data))
}

// short trims a job id for display.
func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
