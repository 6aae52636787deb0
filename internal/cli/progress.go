package cli

import (
	"context"
	"errors"
	"fmt"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/vmud/AI-image-gen-battle/internal/client"
	"github.com/vmud/AI-image-gen-battle/internal/events"
	"github.com/vmud/AI-image-gen-battle/internal/models"
)

// streamBuffer bounds how many events wait for the UI.
const streamBuffer = 64

// Theme holds the color scheme for the progress display.
type Theme struct {
	Status  lipgloss.Color
	Success lipgloss.Color
	Error   lipgloss.Color
	Hint    lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:  lipgloss.Color("#5FAFD7"), // light blue
	Success: lipgloss.Color("#00D787"), // green
	Error:   lipgloss.Color("#FF005F"), // red
	Hint:    lipgloss.Color("#6C6C6C"), // dim gray
}

// Style functions for dynamic theming
func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// eventMsg carries one event from the stream
type eventMsg client.Event

// streamEndMsg reports that the event stream closed
type streamEndMsg struct {
	err error
}

// progressModel is the bubbletea model for a running generation.
type progressModel struct {
	jobID     string
	prompt    string
	stream    <-chan tea.Msg
	current   int
	total     int
	elapsed   float64
	telemetry *models.Telemetry
	artifact  string
	progress  progress.Model
	theme     Theme
	done      bool
	quitting  bool
	err       error
}

// newProgressModel creates a new progress model.
func newProgressModel(jobID, prompt string, stream <-chan tea.Msg) progressModel {
	// Create progress bar with color blend
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)

	return progressModel{
		jobID:    jobID,
		prompt:   prompt,
		stream:   stream,
		progress: prog,
		theme:    defaultTheme,
	}
}

// Init returns the initial command (wait for the first event).
func (m progressModel) Init() tea.Cmd {
	return tea.Batch(
		waitForEvent(m.stream),
		m.progress.Init(),
	)
}

// Update handles messages and returns the updated model.
func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case eventMsg:
		m = m.apply(client.Event(msg))
		if m.done {
			return m, tea.Quit
		}
		return m, waitForEvent(m.stream)

	case streamEndMsg:
		if !m.done {
			m.done = true
			m.err = errors.New("event stream closed before the job finished")
			if msg.err != nil {
				m.err = fmt.Errorf("event stream: %w", msg.err)
			}
		}
		return m, tea.Quit

	case progress.FrameMsg:
		// Update progress bar animation
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

// apply folds one event into the model. Events for other jobs are ignored.
func (m progressModel) apply(ev client.Event) progressModel {
	switch ev.Type {
	case events.TypeProgress:
		var p events.Progress
		if ev.Decode(&p) == nil && p.JobID == m.jobID {
			m.current = max(m.current, p.CurrentStep)
			m.total = p.TotalSteps
			m.elapsed = p.ElapsedTime
		}

	case events.TypeTelemetry:
		var t models.Telemetry
		if ev.Decode(&t) == nil {
			m.telemetry = &t
		}

	case events.TypeCompleted:
		var c events.Completed
		if ev.Decode(&c) == nil && c.JobID == m.jobID {
			m.done = true
			m.current = c.TotalSteps
			m.total = c.TotalSteps
			m.elapsed = c.ElapsedTime
			m.artifact = c.ArtifactRef
		}

	case events.TypeError:
		var e events.JobError
		if ev.Decode(&e) == nil && e.JobID == m.jobID {
			m.done = true
			m.err = errors.New(e.Error)
		}

	case events.TypeStatus:
		var s models.StatusView
		if ev.Decode(&s) != nil || s.Job == nil || s.Job.ID != m.jobID {
			return m
		}
		job := s.Job
		m.current = max(m.current, job.CurrentStep)
		m.total = job.TotalSteps
		m.elapsed = job.ElapsedTime
		if !job.Status.Terminal() {
			return m
		}
		m.done = true
		switch job.Status {
		case models.JobStatusCompleted:
			m.artifact = job.ResultRef
		case models.JobStatusStopped:
			m.err = errors.New("job was stopped")
		default:
			m.err = errors.New(job.ErrorDetail)
		}
	}
	return m
}

// View renders the progress display.
func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

// renderContent builds the display string.
func (m progressModel) renderContent() string {
	if m.done || m.quitting {
		return m.finalView()
	}

	var pct float64
	if m.total > 0 {
		pct = float64(m.current) / float64(m.total)
	}

	status := m.theme.statusStyle().Render("[generating]")
	progressBar := m.progress.ViewAs(pct)
	counts := fmt.Sprintf("%d/%d steps  %.1fs", m.current, m.total, m.elapsed)

	var out string
	if m.prompt != "" {
		out += fmt.Sprintf("%q\n", m.prompt)
	}
	out += fmt.Sprintf("%s %s %s\n", status, progressBar, counts)
	if m.telemetry != nil {
		out += telemetryLine(*m.telemetry) + "\n"
	}
	out += m.theme.hintStyle().Render("Press Ctrl+C to stop watching (the job keeps running)") + "\n"
	return out
}

// finalView renders the completion message.
func (m progressModel) finalView() string {
	if m.quitting {
		msg := fmt.Sprintf("\nJob %s continues on the appliance.\nUse 'battle status %s' to check it.\n",
			m.jobID, m.jobID)
		return m.theme.hintStyle().Render(msg)
	}

	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ Job failed: %s\n", m.err))
	}

	var output string
	output += m.theme.completedStyle().Render("✓ Completed") + "\n\n"
	output += fmt.Sprintf("  Steps:   %d\n", m.total)
	output += fmt.Sprintf("  Elapsed: %.1fs\n", m.elapsed)
	if m.artifact != "" {
		output += fmt.Sprintf("  Image:   %s\n", displayRef(m.artifact))
	}
	return output
}

func telemetryLine(t models.Telemetry) string {
	line := fmt.Sprintf("CPU %.1f%%  Memory %.1f GB  Power %.1f W", t.CPU, t.MemoryGB, t.PowerW)
	if t.Accel != nil {
		line += fmt.Sprintf("  NPU %.1f%%", *t.Accel)
	}
	return line
}

// displayRef shortens inline image data for terminal output.
func displayRef(ref string) string {
	if len(ref) > 5 && ref[:5] == "data:" {
		return "(inline image data)"
	}
	return ref
}

// waitForEvent blocks on the stream in a command so Update never blocks.
func waitForEvent(stream <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		return <-stream
	}
}

// RunJobProgress runs the interactive progress UI for a job.
// Returns nil on success or Ctrl+C, error on job failure.
func RunJobProgress(c *client.Client, jobID, prompt string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream := make(chan tea.Msg, streamBuffer)
	go func() {
		err := c.Watch(ctx, func(ev client.Event) error {
			select {
			case stream <- eventMsg(ev):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		select {
		case stream <- streamEndMsg{err: err}:
		case <-ctx.Done():
		}
	}()

	model := newProgressModel(jobID, prompt, stream)
	p := tea.NewProgram(model)

	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("progress UI error: %w", err)
	}

	// Check final state
	if m, ok := finalModel.(progressModel); ok {
		// Ctrl+C only detaches the viewer
		if m.quitting {
			return nil
		}
		if m.err != nil {
			return m.err
		}
	}

	return nil
}
