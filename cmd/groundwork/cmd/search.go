package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/groundwork-rag/groundwork/internal/answer"
	"github.com/groundwork-rag/groundwork/internal/domain"
	"github.com/groundwork-rag/groundwork/internal/hybrid"
)

type searchOptions struct {
	limit      int
	collection string
	lang       string
	tagsAll    []string
	tagsAny    []string
	bm25Only   bool
	full       bool
	format     string // "text", "json"
	withAnswer bool
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Run a hybrid search over the reference store",
		Long: `Search combines BM25 (keyword) and semantic (embedding) retrieval with
Reciprocal Rank Fusion and optional reranking.

Examples:
  groundwork search "authentication middleware"
  groundwork search "setup instructions" --lang en --limit 5
  groundwork search "error handling" --answer`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runSearch(cmd.Context(), cmd, query, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().StringVarP(&opts.collection, "collection", "c", "", "Filter by collection")
	cmd.Flags().StringVarP(&opts.lang, "lang", "l", "", "Filter by retrieval language")
	cmd.Flags().StringSliceVar(&opts.tagsAll, "tags-all", nil, "Require all of these tags")
	cmd.Flags().StringSliceVar(&opts.tagsAny, "tags-any", nil, "Require at least one of these tags")
	cmd.Flags().BoolVar(&opts.bm25Only, "bm25-only", false, "Skip expansion and vector retrieval")
	cmd.Flags().BoolVar(&opts.full, "full", false, "Return full mirror content instead of snippets")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().BoolVar(&opts.withAnswer, "answer", false, "Generate a grounded answer from the top results")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
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
		Full:       opts.full,
		TagsAll:    opts.tagsAll,
		TagsAny:    opts.tagsAny,
		NoExpand:   opts.bm25Only,
	}

	results, err := hybrid.Search(ctx, a.hybridDeps(), query, hopts, hybrid.DefaultConfig())
	if err != nil {
		return fmt.Errorf("groundwork: search: %w", err)
	}

	var ans *answer.Answer
	if opts.withAnswer {
		ans, err = answer.Generate(ctx, query, results.Results, 512, answer.Deps{Gen: a.gen, Store: a.store})
		if err != nil {
			return fmt.Errorf("groundwork: generate answer: %w", err)
		}
	}

	return printSearch(cmd, results, ans, opts.format)
}

func printSearch(cmd *cobra.Command, results *hybrid.Results, ans *answer.Answer, format string) error {
	out := cmd.OutOrStdout()

	if format == "json" {
		payload := struct {
			Results []domain.SearchResult `json:"results"`
			Answer  *answer.Answer        `json:"answer,omitempty"`
		}{Results: results.Results, Answer: ans}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(payload)
	}

	for i, r := range results.Results {
		fmt.Fprintf(out, "%d. [%.3f] %s\n", i+1, r.Score, r.Title)
		fmt.Fprintf(out, "   %s\n", r.URI)
		if r.Snippet != "" {
			fmt.Fprintf(out, "   %s\n", strings.TrimSpace(r.Snippet))
		}
		fmt.Fprintln(out)
	}

	if ans != nil {
		fmt.Fprintln(out, "Answer:")
		fmt.Fprintln(out, ans.Text)
		for i, c := range ans.Citations {
			fmt.Fprintf(out, "  [%d] %s\n", i+1, c.URI)
		}
	}

	return nil
}
