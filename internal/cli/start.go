package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/vmud/AI-image-gen-battle/internal/client"
	"github.com/vmud/AI-image-gen-battle/internal/models"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"
)

// defaultSyncDelay gives every target time to receive the command before a
// multi-target start fires.
const defaultSyncDelay = 3 * time.Second

var (
	startSteps   int
	startMode    string
	startSyncIn  time.Duration
	startTargets []string
	startWatch   bool
)

var startCmd = &cobra.Command{
	Use:   "start <prompt>",
	Short: "Start a generation",
	Long: `Start an image generation on one or more appliances.

With several --target flags every appliance receives the same sync time so
the generations begin together.

Examples:
  battle start "a dragon over a castle"
  battle start "a mountain lake at dawn" --steps 8 --watch
  battle start "a robot chef" --target 10.0.0.11:5000 --target 10.0.0.12:5000`,
	Args: cobra.MinimumNArgs(1),
	RunE: runStart,
}

func init() {
	startCmd.Flags().IntVar(&startSteps, "steps", 0, "denoising steps (default: platform profile)")
	startCmd.Flags().StringVar(&startMode, "mode", "remote", "trigger mode recorded on the job (local or remote)")
	startCmd.Flags().DurationVar(&startSyncIn, "sync-in", 0, "delay before a synchronized start (default 3s with several targets)")
	startCmd.Flags().StringArrayVarP(&startTargets, "target", "t", nil, "appliance URL; repeat for a synchronized multi-machine start")
	startCmd.Flags().BoolVarP(&startWatch, "watch", "w", false, "show live progress until the job finishes")
}

// targetResult is the outcome of a start on one appliance.
type targetResult struct {
	target string
	jobID  string
	err    error
}

func runStart(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	prompt := strings.Join(args, " ")

	clients := []*client.Client{apiClient}
	if len(startTargets) > 0 {
		clients = clients[:0]
		for _, t := range startTargets {
			clients = append(clients, client.New(t))
		}
	}

	syncIn := startSyncIn
	if syncIn == 0 && len(clients) > 1 {
		syncIn = defaultSyncDelay
	}
	opts := client.StartOptions{
		Prompt: prompt,
		Steps:  startSteps,
		Mode:   models.ParseJobMode(startMode),
	}
	if syncIn > 0 {
		opts.SyncAt = time.Now().Add(syncIn)
	}

	results := startAll(ctx, clients, opts)

	if len(results) == 1 {
		r := results[0]
		if r.err != nil {
			return r.err
		}
		fmt.Printf("Started job %s\n", r.jobID)
		if startWatch {
			if !term.IsTerminal(int(os.Stdout.Fd())) {
				return followJob(ctx, cmd.OutOrStdout(), clients[0], r.jobID)
			}
			return RunJobProgress(clients[0], r.jobID, prompt)
		}
		return nil
	}

	if !opts.SyncAt.IsZero() {
		fmt.Printf("Synchronized start at %s\n", opts.SyncAt.Format("15:04:05.000"))
	}
	fmt.Printf("%-30s %-38s %s\n", "TARGET", "JOB", "RESULT")
	fmt.Println("--------------------------------------------------------------------------------")
	var errs []error
	for _, r := range results {
		if r.err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.target, r.err))
			fmt.Printf("%-30s %-38s %s\n", r.target, "-", r.err)
			continue
		}
		fmt.Printf("%-30s %-38s %s\n", r.target, r.jobID, "started")
	}
	return errors.Join(errs...)
}

// startAll sends the same start command to every client concurrently.
func startAll(ctx context.Context, clients []*client.Client, opts client.StartOptions) []targetResult {
	results := make([]targetResult, len(clients))
	var g errgroup.Group
	for i, c := range clients {
		g.Go(func() error {
			res := targetResult{target: c.Endpoint()}
			resp, err := c.Start(ctx, opts)
			if err != nil {
				res.err = err
			} else {
				res.jobID = resp.JobID
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results
}
