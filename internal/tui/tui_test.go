package tui

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AtomicBim/rag-service/internal/pipeline"
)

func send(m *ProgressModel, events ...pipeline.Event) {
	for _, e := range events {
		m.Update(EventMsg{Event: e})
	}
}

func TestNewProgressModel_Defaults(t *testing.T) {
	m := NewProgressModel(nil, nil)

	require.NotNil(t, m.styles)
	assert.Nil(t, m.Init())
	assert.Equal(t, 0, m.Completed())
}

func TestProgressModel_CountsOutcomes(t *testing.T) {
	m := NewProgressModel(nil, nil)

	send(m,
		pipeline.Event{Stage: pipeline.StageScanned, Total: 4},
		pipeline.Event{DocumentID: "hr/policy.pdf", Stage: pipeline.StageSkipped},
		pipeline.Event{DocumentID: "hr/policy.docx", Stage: pipeline.StageDiscovered},
		pipeline.Event{DocumentID: "hr/policy.docx", Stage: pipeline.StageChunked, Chunks: 3},
	)

	assert.Equal(t, 4, m.total)
	assert.Equal(t, 1, m.Completed())
	assert.Equal(t, pipeline.StageChunked, m.active["hr/policy.docx"])
	assert.Contains(t, m.View(), "hr/policy.docx")

	send(m,
		pipeline.Event{DocumentID: "hr/policy.docx", Stage: pipeline.StageCommitted, Chunks: 3},
		pipeline.Event{DocumentID: "memo.pdf", Stage: pipeline.StageUnchanged},
		pipeline.Event{DocumentID: "broken.pdf", Stage: pipeline.StageFailed, Err: errors.New("bad xref")},
	)

	assert.Equal(t, 4, m.Completed())
	assert.Equal(t, 1, m.processed)
	assert.Equal(t, 3, m.chunks)
	assert.Empty(t, m.active)

	view := m.View()
	assert.Contains(t, view, "4/4")
	assert.Contains(t, view, "broken.pdf: bad xref")
}

func TestProgressModel_KeepsRecentFailures(t *testing.T) {
	m := NewProgressModel(nil, nil)

	for i := 0; i < maxRecentFailures+3; i++ {
		send(m, pipeline.Event{DocumentID: string(rune('a' + i)), Stage: pipeline.StageFailed})
	}

	assert.Len(t, m.failures, maxRecentFailures)
	assert.Equal(t, maxRecentFailures+3, m.failed)
}

func TestProgressModel_QuitCancelsRun(t *testing.T) {
	cancelled := 0
	m := NewProgressModel(nil, func() { cancelled++ })

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	assert.Nil(t, cmd)
	assert.Equal(t, 1, cancelled)
	assert.Contains(t, m.View(), "Stopping...")

	m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	assert.Equal(t, 1, cancelled)

	summary := &pipeline.Summary{Processed: 1}
	_, cmd = m.Update(DoneMsg{Summary: summary, Err: context.Canceled})
	require.NotNil(t, cmd)

	got, err := m.Result()
	assert.Same(t, summary, got)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, m.View(), "Indexing summary")
}

func TestProgressModel_WindowSize(t *testing.T) {
	m := NewProgressModel(nil, nil)
	m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	assert.Equal(t, 120, m.width)
}

func TestRenderSummary(t *testing.T) {
	s := &pipeline.Summary{
		Processed: 2,
		Skipped:   1,
		Failed:    1,
		Chunks:    4,
		Duration:  1500 * time.Millisecond,
		Results: []pipeline.DocumentResult{
			{ID: "hr/memo.pdf", Status: pipeline.StatusProcessed, Chunks: 1},
			{ID: "hr/policy.pdf", Status: pipeline.StatusSkipped, Reason: "superseded by hr/policy.docx"},
			{ID: "scan.doc", Status: pipeline.StatusFailed, Kind: pipeline.KindUnsupported, Reason: "no converter"},
		},
	}

	out := RenderSummary(s, nil)
	assert.Contains(t, out, "Indexing summary")
	assert.Contains(t, out, "4 chunks in 1.5s")
	assert.Contains(t, out, "superseded by hr/policy.docx")
	assert.Contains(t, out, "unsupported_platform")
	assert.Contains(t, out, "no converter")
	assert.NotContains(t, out, "hr/memo.pdf")
}

func TestProgressBar(t *testing.T) {
	st := DefaultStyles()
	assert.Equal(t, st.Bar.Render("")+st.Track.Render("░░░░"), progressBar(0, 0, 4, st))
	assert.Equal(t, st.Bar.Render("██")+st.Track.Render("░░"), progressBar(1, 2, 4, st))
	assert.Equal(t, st.Bar.Render("████")+st.Track.Render(""), progressBar(3, 2, 4, st))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 10))
	assert.Equal(t, "ab…", truncate("abcdef", 3))
	assert.Equal(t, "a b", truncate("a\nb", 10))
}

func TestApp_Run(t *testing.T) {
	app := NewApp(nil,
		tea.WithInput(nil),
		tea.WithOutput(&bytes.Buffer{}),
		tea.WithoutSignalHandler(),
		tea.WithoutRenderer(),
	)

	want := &pipeline.Summary{Processed: 1}
	got, err := app.Run(context.Background(), func(ctx context.Context, obs pipeline.Observer) (*pipeline.Summary, error) {
		obs.OnEvent(pipeline.Event{Stage: pipeline.StageScanned, Total: 1})
		obs.OnEvent(pipeline.Event{DocumentID: "a.pdf", Stage: pipeline.StageCommitted, Chunks: 1})
		return want, nil
	})

	require.NoError(t, err)
	assert.Same(t, want, got)
}
