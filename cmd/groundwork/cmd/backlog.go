package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/groundwork-rag/groundwork/internal/backlog"
	"github.com/groundwork-rag/groundwork/internal/ui"
)

type backlogOptions struct {
	model     string
	batchSize int
	plain     bool
}

func newBacklogCmd() *cobra.Command {
	var opts backlogOptions

	cmd := &cobra.Command{
		Use:   "backlog",
		Short: "Drain the embedding backlog for a model",
		Long: `Embeds every chunk that is new or stale for the given model and upserts
the resulting vectors into the vector index, one batch at a time.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBacklog(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.model, "model", "", "Embedding model URI to drain the backlog for (defaults to the configured embed model)")
	cmd.Flags().IntVar(&opts.batchSize, "batch-size", 0, "Batch size (defaults to the configured backlog batch size)")
	cmd.Flags().BoolVar(&opts.plain, "plain", false, "Force the plain line-oriented progress renderer")

	return cmd
}

func runBacklog(ctx context.Context, cmd *cobra.Command, opts backlogOptions) error {
	cfg, err := loadAppConfig()
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	model := opts.model
	if model == "" {
		model = a.embedder.ModelURI()
	}
	batchSize := opts.batchSize
	if batchSize == 0 {
		batchSize = cfg.Backlog.BatchSize
	}

	total, err := a.store.CountBacklog(ctx, model)
	if err != nil {
		return fmt.Errorf("groundwork: count backlog: %w", err)
	}

	renderer := ui.NewRenderer(ui.Config{Output: cmd.OutOrStdout(), ForcePlain: opts.plain})
	if err := renderer.Start(ctx); err != nil {
		return fmt.Errorf("groundwork: start progress renderer: %w", err)
	}
	renderer.Update(ui.Event{Total: total, Message: fmt.Sprintf("found %d backlog items for %s", total, model)})

	lockDir := cfg.Backlog.LockDir
	if err := os.MkdirAll(lockDir, 0o755); err != nil {
		_ = renderer.Stop()
		return fmt.Errorf("groundwork: create lock dir: %w", err)
	}
	lock := backlog.NewLock(lockDir, model)
	report, err := lock.TryRun(ctx, a.store, a.embedder, a.index, model, batchSize)
	if err != nil {
		_ = renderer.Stop()
		return fmt.Errorf("groundwork: run backlog: %w", err)
	}

	renderer.Done(ui.Event{Embedded: report.Embedded, Total: total, Errors: report.Errors})
	return renderer.Stop()
}
