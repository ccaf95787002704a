package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/AtomicBim/rag-service/internal/pipeline"
)

// RenderSummary formats a finished run, listing every failure and skip
func RenderSummary(s *pipeline.Summary, st *Styles) string {
	if st == nil {
		st = DefaultStyles()
	}

	var lines []string
	lines = append(lines, st.Title.Render("Indexing summary"))
	lines = append(lines, "")
	lines = append(lines, fmt.Sprintf("%s %s   %s %d   %s %s   %s %s",
		st.Label.Render("processed"), st.Success.Render(fmt.Sprint(s.Processed)),
		st.Label.Render("unchanged"), s.Unchanged,
		st.Label.Render("skipped"), st.Warning.Render(fmt.Sprint(s.Skipped)),
		st.Label.Render("failed"), failedStyle(s.Failed, st).Render(fmt.Sprint(s.Failed)),
	))
	lines = append(lines, st.Muted.Render(fmt.Sprintf("%d chunks in %s", s.Chunks, s.Duration.Round(time.Millisecond))))

	var skipped, failed []string
	for _, r := range s.Results {
		switch r.Status {
		case pipeline.StatusSkipped:
			skipped = append(skipped, fmt.Sprintf("  %s %s", r.ID, st.Muted.Render(r.Reason)))
		case pipeline.StatusFailed:
			failed = append(failed, fmt.Sprintf("  %s %s %s",
				r.ID,
				st.Error.Render("["+string(r.Kind)+"]"),
				st.Muted.Render(r.Reason),
			))
		}
	}

	if len(skipped) > 0 {
		lines = append(lines, "", st.Warning.Render("Skipped:"))
		lines = append(lines, skipped...)
	}
	if len(failed) > 0 {
		lines = append(lines, "", st.Error.Render("Failed:"))
		lines = append(lines, failed...)
	}

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func failedStyle(n int, st *Styles) lipgloss.Style {
	if n > 0 {
		return st.Error
	}
	return st.Success
}

// progressBar renders a bar of width cells for done out of total
func progressBar(done, total, width int, st *Styles) string {
	if width < 1 {
		width = 1
	}
	filled := 0
	if total > 0 {
		filled = min(width, done*width/total)
	}
	return st.Bar.Render(strings.Repeat("█", filled)) + st.Track.Render(strings.Repeat("░", width-filled))
}
