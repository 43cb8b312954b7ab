// Package progress renders run events on a terminal.
package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/felixgeelhaar/loom/internal/checkpoint"
	"github.com/felixgeelhaar/loom/internal/event"
	"github.com/felixgeelhaar/loom/internal/graph"
	"github.com/felixgeelhaar/loom/internal/schedule"
)

// Indicator is an event.Sink that tracks run progress and displays it.
// In line mode every node transition is printed; otherwise a spinner line
// is redrawn.
type Indicator struct {
	writer      io.Writer
	startTime   time.Time
	mu          sync.Mutex
	showSpinner bool
	spinnerIdx  int
	stopChan    chan struct{}
	stopOnce    sync.Once
	isCI        bool
	verbose     bool

	total     int
	completed int
	failed    int
	blocked   int
	skipped   int
	wave      int
	waves     int
	nodes     map[string]graph.Status
}

// Config holds configuration for progress indicator
type Config struct {
	Writer      io.Writer
	ShowSpinner bool
	IsCI        bool // Set to true in CI/CD environments to disable fancy output
	// Verbose also prints planning and wave events in line mode.
	Verbose bool
}

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// NewIndicator creates a new progress indicator
func NewIndicator(cfg Config) *Indicator {
	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}

	// Auto-detect CI environment
	if !cfg.IsCI {
		cfg.IsCI = os.Getenv("CI") == "true" || os.Getenv("GITHUB_ACTIONS") == "true"
	}

	return &Indicator{
		writer:      cfg.Writer,
		startTime:   time.Now(),
		showSpinner: cfg.ShowSpinner && !cfg.IsCI,
		stopChan:    make(chan struct{}),
		isCI:        cfg.IsCI,
		verbose:     cfg.Verbose,
		nodes:       make(map[string]graph.Status),
	}
}

// Start begins the progress indicator display
func (p *Indicator) Start() {
	if p.showSpinner {
		go p.spinnerLoop()
	}
}

// Stop stops the progress indicator
func (p *Indicator) Stop() {
	p.stopOnce.Do(func() {
		if p.showSpinner {
			close(p.stopChan)
			// Clear spinner line
			p.mu.Lock()
			fmt.Fprintf(p.writer, "\r%s\r", strings.Repeat(" ", 80))
			p.mu.Unlock()
		}
	})
}

// Emit implements event.Sink.
func (p *Indicator) Emit(e event.Envelope) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch ev := e.Event.(type) {
	case event.RunStarted:
		p.startTime = e.Time
		p.total = ev.ToExecute
		p.skipped = ev.ToSkip
		p.waves = ev.Waves
		p.line("● run %s: %d nodes, %d to execute, %d skipped, %d waves", short(e.RunID), ev.Nodes, ev.ToExecute, ev.ToSkip, ev.Waves)
	case event.CandidateScored:
		if p.verbose {
			p.line("  %s scored %.2f (depth %d, width %d, %d waves)", ev.CandidateID, ev.Score, ev.Depth, ev.Width, ev.EstimatedWaves)
		}
	case event.CandidateRejected:
		p.line("⊘ %s rejected: %s", ev.CandidateID, ev.Reason)
	case event.PlanSelected:
		p.line("★ selected %s: %s", ev.CandidateID, ev.Reason)
	case event.PlanRefined:
		if p.verbose {
			p.line("  plan refinement round %d: %.2f → %.2f", ev.Round, ev.OldScore, ev.NewScore)
		}
	case event.WaveStarted:
		p.wave = ev.Wave
		if p.verbose {
			p.line("▶ wave %d: %s", ev.Wave, strings.Join(ev.Nodes, ", "))
		}
	case event.WaveCompleted:
		if p.verbose {
			p.line("  wave %d done in %s (✓ %d ✗ %d ⊘ %d)", ev.Wave, formatDuration(ev.Duration), ev.Completed, ev.Failed, ev.Blocked)
		}
	case event.NodeStatus:
		p.nodeStatus(ev)
	case event.NodeSkipped:
		if p.verbose {
			p.line("⊘ %s [skipped: %s]", ev.NodeID, ev.Reason)
		}
	case event.NodeReviewed:
		if !ev.Approved {
			p.line("✗ %s not approved (%s risk): %s", ev.NodeID, ev.Level, ev.Reason)
		}
	case event.Checkpoint:
		if ev.Error != "" {
			p.line("⚠ checkpoint after wave %d failed: %s", ev.Wave, ev.Error)
		}
	case event.RefinementRound:
		p.line("↻ refinement round %d scored %.2f: %s", ev.Round, ev.Score, ev.State)
	case event.RunCompleted:
		p.line("● run %s %s in %s", short(e.RunID), ev.Status, formatDuration(ev.Duration))
	}
}

func (p *Indicator) nodeStatus(ev event.NodeStatus) {
	// a retried node moves out of its earlier final state
	if prev, ok := p.nodes[ev.NodeID]; ok {
		p.count(prev, -1)
	}
	p.nodes[ev.NodeID] = ev.Status
	p.count(ev.Status, 1)

	if ev.Status == graph.StatusRunning && !p.verbose {
		return
	}

	msg := fmt.Sprintf("%s %s [%s]", symbol(ev.Status), ev.NodeID, ev.Status)
	if ev.Duration > 0 {
		msg += " " + formatDuration(ev.Duration)
	}
	if ev.Error != "" {
		msg += " - " + ev.Error
	}
	p.line("%s", msg)
}

func (p *Indicator) count(s graph.Status, delta int) {
	switch s {
	case graph.StatusComplete:
		p.completed += delta
	case graph.StatusFailed:
		p.failed += delta
	case graph.StatusBlocked:
		p.blocked += delta
	}
}

// line prints a status line in line mode. Callers hold p.mu.
func (p *Indicator) line(format string, args ...any) {
	if p.showSpinner {
		return
	}
	fmt.Fprintf(p.writer, format+"\n", args...)
}

// spinnerLoop runs the spinner animation
func (p *Indicator) spinnerLoop() {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopChan:
			return
		case <-ticker.C:
			p.mu.Lock()
			p.renderProgress()
			p.spinnerIdx = (p.spinnerIdx + 1) % len(spinnerFrames)
			p.mu.Unlock()
		}
	}
}

// Counts returns the number of completed, failed, blocked and skipped nodes.
func (p *Indicator) Counts() (completed, failed, blocked, skipped int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.completed, p.failed, p.blocked, p.skipped
}

// Fraction returns the share of executable nodes that reached a final state.
func (p *Indicator) Fraction() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fraction()
}

func (p *Indicator) fraction() float64 {
	if p.total == 0 {
		return 0
	}
	done := float64(p.completed + p.failed + p.blocked)
	if done > float64(p.total) {
		return 1
	}
	return done / float64(p.total)
}

// renderProgress renders the current progress state
func (p *Indicator) renderProgress() {
	if p.total == 0 {
		return
	}

	progress := p.fraction()
	elapsed := time.Since(p.startTime)

	// Calculate ETA
	var eta string
	if progress > 0 && progress < 1.0 {
		totalEstimated := time.Duration(float64(elapsed) / progress)
		remaining := totalEstimated - elapsed
		eta = fmt.Sprintf(" | ETA: %s", formatDuration(remaining))
	}

	// Build progress bar
	barWidth := 30
	filled := int(float64(barWidth) * progress)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	fmt.Fprintf(p.writer, "\r%s [%s] %.1f%% | wave %d/%d | ✓ %d | ✗ %d | ⊘ %d | %s%s",
		spinnerFrames[p.spinnerIdx],
		bar,
		progress*100,
		p.wave,
		p.waves,
		p.completed,
		p.failed,
		p.blocked,
		formatDuration(elapsed),
		eta,
	)
}

// PrintSummary prints final execution summary
func (p *Indicator) PrintSummary(rep *schedule.Report) {
	PrintSummary(p.writer, rep)
}

// PrintSummary prints the summary of a run report to w.
func PrintSummary(w io.Writer, rep *schedule.Report) {
	if rep == nil {
		return
	}
	executed := len(rep.Completed) + len(rep.Failed) + len(rep.Blocked)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════")
	fmt.Fprintln(w, "Execution Summary")
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════")
	fmt.Fprintf(w, "Status:          %s\n", rep.Status)
	fmt.Fprintf(w, "Waves:           %d\n", len(rep.Waves))
	fmt.Fprintf(w, "Completed:       %d ✓\n", len(rep.Completed))
	fmt.Fprintf(w, "Failed:          %d ✗\n", len(rep.Failed))
	fmt.Fprintf(w, "Blocked:         %d ⊘\n", len(rep.Blocked))
	fmt.Fprintf(w, "Skipped:         %d\n", len(rep.Skipped))
	if executed > 0 {
		fmt.Fprintf(w, "Success Rate:    %.1f%%\n", float64(len(rep.Completed))/float64(executed)*100)
	}
	fmt.Fprintf(w, "Total Time:      %s\n", formatDuration(rep.Duration))
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════")

	if len(rep.Failed) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Failed Nodes:")
		for _, id := range rep.Failed {
			fmt.Fprintf(w, "  ✗ %s", id)
			if nr := rep.Nodes[id]; nr != nil && nr.Error != "" {
				fmt.Fprintf(w, " - %s", nr.Error)
			}
			fmt.Fprintln(w)
		}
	}
	if len(rep.Blocked) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Blocked Nodes:")
		for _, id := range rep.Blocked {
			fmt.Fprintf(w, "  ⊘ %s", id)
			if nr := rep.Nodes[id]; nr != nil && nr.BlockedBy != "" {
				fmt.Fprintf(w, " (by %s)", nr.BlockedBy)
			}
			fmt.Fprintln(w)
		}
	}
	for _, warn := range rep.Warnings {
		fmt.Fprintf(w, "⚠ %v\n", warn)
	}
}

// PrintResumeInfo prints information when resuming from checkpoint
func PrintResumeInfo(w io.Writer, state *checkpoint.RunState) {
	if state == nil {
		return
	}

	completed := len(state.NodesWithStatus(graph.StatusComplete))
	failed := state.NodesWithStatus(graph.StatusFailed)
	blocked := len(state.NodesWithStatus(graph.StatusBlocked))
	pending := len(state.NodesWithStatus(graph.StatusPending))

	fmt.Fprintln(w, "─────────────────────────────────────────────────────────")
	fmt.Fprintf(w, "Resuming: %s\n", state.RunID)
	fmt.Fprintln(w, "─────────────────────────────────────────────────────────")
	fmt.Fprintf(w, "  Completed:  %d nodes ✓\n", completed)
	fmt.Fprintf(w, "  Pending:    %d nodes ⟲\n", pending)
	fmt.Fprintf(w, "  Failed:     %d nodes ✗ %s\n", len(failed), strings.Join(failed, ", "))
	fmt.Fprintf(w, "  Blocked:    %d nodes ⊘\n", blocked)
	fmt.Fprintf(w, "  Progress:   %.1f%%\n", state.Progress()*100)
	fmt.Fprintln(w, "─────────────────────────────────────────────────────────")
	fmt.Fprintln(w)
}

func symbol(s graph.Status) string {
	switch s {
	case graph.StatusRunning:
		return "▶"
	case graph.StatusComplete:
		return "✓"
	case graph.StatusFailed:
		return "✗"
	case graph.StatusBlocked:
		return "⊘"
	}
	return "⟲"
}

func short(runID string) string {
	if len(runID) > 8 {
		return runID[:8]
	}
	return runID
}

// formatDuration formats a duration for display
func formatDuration(d time.Duration) string {
	if d < time.Second && d > 0 {
		return d.Round(time.Millisecond).String()
	}
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
