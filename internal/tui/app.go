package tui

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/AtomicBim/rag-service/internal/pipeline"
)

// RunFunc performs one indexing pass reporting to obs
type RunFunc func(ctx context.Context, obs pipeline.Observer) (*pipeline.Summary, error)

// Observer forwards pipeline events to a running program
type Observer struct {
	program *tea.Program
}

// NewObserver creates an observer sending to program
func NewObserver(program *tea.Program) *Observer {
	return &Observer{program: program}
}

func (o *Observer) OnEvent(e pipeline.Event) {
	o.program.Send(EventMsg{Event: e})
}

// App runs an indexing pass behind the progress view
type App struct {
	styles *Styles
	opts   []tea.ProgramOption
}

// NewApp creates the application; opts are passed to the bubbletea program
func NewApp(st *Styles, opts ...tea.ProgramOption) *App {
	if st == nil {
		st = DefaultStyles()
	}
	return &App{styles: st, opts: opts}
}

// Run starts run in the background and shows its progress until it
// finishes. Quitting the view cancels run and waits for its partial summary.
func (a *App) Run(ctx context.Context, run RunFunc) (*pipeline.Summary, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	model := NewProgressModel(a.styles, cancel)
	program := tea.NewProgram(model, append([]tea.ProgramOption{tea.WithContext(ctx)}, a.opts...)...)

	done := make(chan DoneMsg, 1)
	go func() {
		summary, err := run(runCtx, NewObserver(program))
		msg := DoneMsg{Summary: summary, Err: err}
		done <- msg
		program.Send(msg)
	}()

	if _, err := program.Run(); err != nil {
		// the program is killed when ctx ends; the run still owes a result
		cancel()
		msg := <-done
		if msg.Err == nil {
			msg.Err = fmt.Errorf("failed to run progress view: %w", err)
		}
		return msg.Summary, msg.Err
	}

	msg := <-done
	return msg.Summary, msg.Err
}
