package ui

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// PlainRenderer prints one line per update, for pipes and CI.
type PlainRenderer struct {
	mu  sync.Mutex
	out io.Writer
}

// NewPlainRenderer builds a PlainRenderer writing to cfg.Output.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{out: cfg.Output}
}

func (r *PlainRenderer) Start(context.Context) error { return nil }

func (r *PlainRenderer) Update(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if event.Total > 0 {
		_, _ = fmt.Fprintf(r.out, "[EMBED] %d/%d (%d errors)\n", event.Embedded, event.Total, event.Errors)
	} else if event.Message != "" {
		_, _ = fmt.Fprintf(r.out, "[EMBED] %s\n", event.Message)
	}
}

func (r *PlainRenderer) Done(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, _ = fmt.Fprintf(r.out, "Done: %d embedded, %d errors\n", event.Embedded, event.Errors)
}

func (r *PlainRenderer) Stop() error { return nil }
