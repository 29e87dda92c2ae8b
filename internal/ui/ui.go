// Package ui renders backlog-worker progress (§4.11, C11) to a terminal:
// a plain line-oriented renderer for pipes/CI, and a bubbletea progress bar
// for interactive terminals.
package ui

import (
	"context"
	"io"
	"os"

	"github.com/mattn/go-isatty"
)

// Event is one backlog progress update (§4.11: batch-at-a-time embedding).
type Event struct {
	Embedded int
	Total    int
	Errors   int
	Message  string
}

// Renderer displays backlog progress.
type Renderer interface {
	Start(ctx context.Context) error
	Update(event Event)
	Done(event Event)
	Stop() error
}

// Config configures the renderer choice.
type Config struct {
	Output     io.Writer
	ForcePlain bool
	NoColor    bool
}

// NewRenderer picks a TUI renderer for interactive terminals and a plain
// renderer everywhere else (pipes, CI, --plain), matching the teacher's
// NewRenderer fallback chain.
func NewRenderer(cfg Config) Renderer {
	if cfg.ForcePlain || !IsTTY(cfg.Output) || DetectCI() {
		return NewPlainRenderer(cfg)
	}
	tui, err := NewTUIRenderer(cfg)
	if err != nil {
		return NewPlainRenderer(cfg)
	}
	return tui
}

// IsTTY reports whether w is a terminal.
func IsTTY(w io.Writer) bool {
	if w == nil {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// DetectNoColor reports whether NO_COLOR is set.
func DetectNoColor() bool {
	_, ok := os.LookupEnv("NO_COLOR")
	return ok
}

// DetectCI reports whether a common CI environment variable is set.
func DetectCI() bool {
	for _, v := range []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS"} {
		if _, ok := os.LookupEnv(v); ok {
			return true
		}
	}
	return false
}
