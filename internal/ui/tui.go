package ui

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// colorLime is the teacher palette's primary accent, carried over for the
// one progress bar this renderer draws.
const colorLime = "154"

type updateMsg Event
type doneMsg Event

// backlogModel is the bubbletea model for one backlog run.
type backlogModel struct {
	bar      progress.Model
	event    Event
	quitting bool
	complete bool
}

func newBacklogModel() *backlogModel {
	return &backlogModel{
		bar: progress.New(
			progress.WithSolidFill(colorLime),
			progress.WithWidth(50),
		),
	}
}

func (m *backlogModel) Init() tea.Cmd { return nil }

func (m *backlogModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			m.quitting = true
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.bar.Width = msg.Width - 20
		if m.bar.Width < 20 {
			m.bar.Width = 20
		}
	case updateMsg:
		m.event = Event(msg)
	case doneMsg:
		m.event = Event(msg)
		m.complete = true
		return m, tea.Quit
	}
	return m, nil
}

func (m *backlogModel) View() string {
	if m.quitting {
		return "Cancelled.\n"
	}

	header := lipgloss.NewStyle().Bold(true).Render("Embedding backlog")
	var pct float64
	if m.event.Total > 0 {
		pct = float64(m.event.Embedded) / float64(m.event.Total)
	}

	status := fmt.Sprintf("%d/%d embedded", m.event.Embedded, m.event.Total)
	if m.event.Errors > 0 {
		status += fmt.Sprintf(", %d errors", m.event.Errors)
	}
	if m.complete {
		status = "done: " + status
	}

	return fmt.Sprintf("%s\n\n%s\n%s\n", header, m.bar.ViewAs(pct), status)
}

// TUIRenderer is a bubbletea-backed Renderer for interactive terminals.
type TUIRenderer struct {
	mu      sync.Mutex
	program *tea.Program
	done    chan struct{}
}

// NewTUIRenderer requires cfg.Output to be a TTY.
func NewTUIRenderer(cfg Config) (*TUIRenderer, error) {
	if !IsTTY(cfg.Output) {
		return nil, fmt.Errorf("ui: output is not a TTY")
	}
	return &TUIRenderer{done: make(chan struct{})}, nil
}

func (r *TUIRenderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.program = tea.NewProgram(newBacklogModel(), tea.WithOutput(os.Stdout))

	go func() {
		defer close(r.done)
		_, _ = r.program.Run()
	}()
	return nil
}

func (r *TUIRenderer) Update(event Event) {
	r.mu.Lock()
	p := r.program
	r.mu.Unlock()
	if p != nil {
		p.Send(updateMsg(event))
	}
}

func (r *TUIRenderer) Done(event Event) {
	r.mu.Lock()
	p := r.program
	r.mu.Unlock()
	if p != nil {
		p.Send(doneMsg(event))
	}
}

func (r *TUIRenderer) Stop() error {
	r.mu.Lock()
	p := r.program
	r.mu.Unlock()
	if p != nil {
		p.Quit()
		<-r.done
	}
	return nil
}
