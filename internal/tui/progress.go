package tui

import (
	"fmt"
	"sort"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/AtomicBim/rag-service/internal/pipeline"
)

const maxRecentFailures = 5

// ProgressModel shows a running indexing pass
type ProgressModel struct {
	styles *Styles
	cancel func()

	total     int
	processed int
	unchanged int
	skipped   int
	failed    int
	chunks    int

	active   map[string]pipeline.Stage
	failures []string

	summary  *pipeline.Summary
	err      error
	done     bool
	quitting bool
	width    int
}

// EventMsg carries a pipeline event into the program
type EventMsg struct {
	Event pipeline.Event
}

// DoneMsg reports the end of the run
type DoneMsg struct {
	Summary *pipeline.Summary
	Err     error
}

// NewProgressModel creates the view; cancel is called when the user quits
// before the run finishes
func NewProgressModel(st *Styles, cancel func()) *ProgressModel {
	if st == nil {
		st = DefaultStyles()
	}
	if cancel == nil {
		cancel = func() {}
	}

	return &ProgressModel{
		styles: st,
		cancel: cancel,
		active: make(map[string]pipeline.Stage),
		width:  80,
	}
}

// Init initializes the progress view
func (m *ProgressModel) Init() tea.Cmd {
	return nil
}

// Update handles updates
func (m *ProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if m.done {
				return m, tea.Quit
			}
			// wait for DoneMsg so the partial summary is shown
			if !m.quitting {
				m.quitting = true
				m.cancel()
			}
		}
		return m, nil
	case EventMsg:
		m.apply(msg.Event)
		return m, nil
	case DoneMsg:
		m.summary = msg.Summary
		m.err = msg.Err
		m.done = true
		return m, tea.Quit
	}
	return m, nil
}

func (m *ProgressModel) apply(e pipeline.Event) {
	switch e.Stage {
	case pipeline.StageScanned:
		m.total = e.Total
		return
	case pipeline.StageRunFinished:
		return
	case pipeline.StageCommitted:
		m.processed++
		m.chunks += e.Chunks
	case pipeline.StageUnchanged:
		m.unchanged++
	case pipeline.StageSkipped:
		m.skipped++
	case pipeline.StageFailed:
		m.failed++
		reason := ""
		if e.Err != nil {
			reason = e.Err.Error()
		}
		m.failures = append(m.failures, fmt.Sprintf("%s: %s", e.DocumentID, reason))
		if len(m.failures) > maxRecentFailures {
			m.failures = m.failures[len(m.failures)-maxRecentFailures:]
		}
	default:
		m.active[e.DocumentID] = e.Stage
		return
	}
	delete(m.active, e.DocumentID)
}

// Completed returns the number of documents with a final outcome
func (m *ProgressModel) Completed() int {
	return m.processed + m.unchanged + m.skipped + m.failed
}

// Result returns the summary and error delivered by DoneMsg
func (m *ProgressModel) Result() (*pipeline.Summary, error) {
	return m.summary, m.err
}

// View renders the progress view
func (m *ProgressModel) View() string {
	st := m.styles

	if m.done {
		if m.summary == nil {
			if m.err != nil {
				return st.Error.Render("Error: "+m.err.Error()) + "\n"
			}
			return ""
		}
		return RenderSummary(m.summary, st) + "\n"
	}

	var lines []string
	lines = append(lines, st.Title.Render("Indexing documents"))
	lines = append(lines, "")

	barWidth := max(10, min(m.width-20, 60))
	lines = append(lines, fmt.Sprintf("%s %d/%d",
		progressBar(m.Completed(), m.total, barWidth, st), m.Completed(), m.total))
	lines = append(lines, fmt.Sprintf("%s %d  %s %d  %s %d  %s %d  %s %d",
		st.Label.Render("processed"), m.processed,
		st.Label.Render("unchanged"), m.unchanged,
		st.Label.Render("skipped"), m.skipped,
		st.Label.Render("failed"), m.failed,
		st.Label.Render("chunks"), m.chunks,
	))

	if len(m.active) > 0 {
		ids := make([]string, 0, len(m.active))
		for id := range m.active {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		lines = append(lines, "")
		for _, id := range ids {
			lines = append(lines, fmt.Sprintf("  %s %s", id, st.Muted.Render(string(m.active[id]))))
		}
	}

	if len(m.failures) > 0 {
		lines = append(lines, "")
		for _, f := range m.failures {
			lines = append(lines, st.Error.Render("  "+truncate(f, m.width-2)))
		}
	}

	lines = append(lines, "")
	help := "q: Stop after current documents"
	if m.quitting {
		help = "Stopping..."
	}
	lines = append(lines, st.Muted.Render(help))

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func truncate(s string, width int) string {
	runes := []rune(strings.ReplaceAll(s, "\n", " "))
	if width <= 1 || len(runes) <= width {
		return string(runes)
	}
	return string(runes[:width-1]) + "…"
}
