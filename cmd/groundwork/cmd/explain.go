package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/groundwork-rag/groundwork/internal/hybrid"
	"github.com/groundwork-rag/groundwork/internal/ui"
)

type explainOptions struct {
	limit      int
	collection string
	lang       string
	noColor    bool
}

func newExplainCmd() *cobra.Command {
	var opts explainOptions

	cmd := &cobra.Command{
		Use:   "explain <query>",
		Short: "Run a search and print its decision trace",
		Long: `Runs the same pipeline as 'search' with Options.Explain set, and prints
the per-stage trace (language detection, expansion, fusion, reranking) plus
a per-result score breakdown instead of the result list.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runExplain(cmd.Context(), cmd, query, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().StringVarP(&opts.collection, "collection", "c", "", "Filter by collection")
	cmd.Flags().StringVarP(&opts.lang, "lang", "l", "", "Filter by retrieval language")
	cmd.Flags().BoolVar(&opts.noColor, "no-color", false, "Disable ANSI coloring of the trace")

	return cmd
}

func runExplain(ctx context.Context, cmd *cobra.Command, query string, opts explainOptions) error {
	cfg, err := loadAppConfig()
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	hopts := hybrid.Options{
		Limit:      opts.limit,
		Collection: opts.collection,
		Lang:       opts.lang,
		Explain:    true,
	}

	results, err := hybrid.Search(ctx, a.hybridDeps(), query, hopts, hybrid.DefaultConfig())
	if err != nil {
		return fmt.Errorf("groundwork: search: %w", err)
	}

	color := !opts.noColor && !ui.DetectNoColor() && ui.IsTTY(cmd.OutOrStdout())
	printExplain(cmd.OutOrStdout(), results, color)
	return nil
}

func printExplain(out io.Writer, results *hybrid.Results, color bool) {
	heading := func(s string) string { return s }
	dim := func(s string) string { return s }
	if color {
		heading = func(s string) string { return "\033[1m" + s + "\033[0m" }
		dim = func(s string) string { return "\033[2m" + s + "\033[0m" }
	}

	fmt.Fprintln(out, heading(fmt.Sprintf("mode=%s expanded=%t reranked=%t vectors_used=%t total=%d",
		results.Meta.Mode, results.Meta.Expanded, results.Meta.Reranked, results.Meta.VectorsUsed, results.Meta.TotalResults)))
	for _, line := range results.Meta.Explain {
		fmt.Fprintln(out, dim("  "+line))
	}
	fmt.Fprintln(out)

	for _, er := range results.Meta.ExplainResults {
		fmt.Fprintf(out, "%d. %s score=%.4f", er.Rank, er.Docid, er.Score)
		if er.BM25Score != nil {
			fmt.Fprintf(out, " bm25=%.4f", *er.BM25Score)
		}
		if er.VecScore != nil {
			fmt.Fprintf(out, " vec=%.4f", *er.VecScore)
		}
		if er.RerankScore != nil {
			fmt.Fprintf(out, " rerank=%.4f", *er.RerankScore)
		}
		fmt.Fprintln(out)
	}
}
