// Package answer implements grounded answer generation (§4.10, C10): it
// assembles a bounded context window from search results, asks a
// port.GenerationPort to answer with inline [n] citations, and rewrites the
// answer so surviving citation numbers are contiguous and every other
// marker is dropped.
package answer

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/groundwork-rag/groundwork/internal/domain"
	"github.com/groundwork-rag/groundwork/internal/port"
)

// Limits from §4.10.
const (
	maxContextResults  = 3
	maxFullContentRune = 32000
	maxSnippetRune     = 1500
	truncationMarker   = "\n...[truncated]"
)

// AbstentionText is returned verbatim whenever no citation survives
// processing (§4.10 step 4).
const AbstentionText = "I don't have enough information in the available context to answer this."

// Store is the minimal read surface answer needs from port.StorePort, kept
// narrow and optional; generation works from snippets alone when store is
// nil (§4.10: "prefer full mirror content when store is available").
type Store interface {
	GetContent(ctx context.Context, mirrorHash string) (string, error)
}

// Deps bundles generate's external collaborators (§4.10).
type Deps struct {
	Gen   port.GenerationPort
	Store Store // optional
}

// Answer is the generation outcome (§3: Search result / Citation).
type Answer struct {
	Text      string
	Citations []domain.Citation
}

type contextBlock struct {
	result   domain.SearchResult
	content  string
	isFull   bool
	citation domain.Citation
}

// Generate runs the grounded-answer protocol (§4.10). It returns nil, not an
// error, when no blocks can be assembled. This mirrors expansion's
// graceful-degradation contract.
func Generate(ctx context.Context, query string, results []domain.SearchResult, maxTokens int, deps Deps) (*Answer, error) {
	if deps.Gen == nil {
		return nil, nil
	}

	blocks := assembleContext(ctx, results, deps.Store)
	if len(blocks) == 0 {
		return nil, nil
	}

	prompt := buildPrompt(query, blocks)
	raw, err := deps.Gen.Generate(ctx, prompt, port.GenerationOptions{Temperature: 0, MaxTokens: maxTokens})
	if err != nil {
		return nil, err
	}

	text, citations := postProcess(raw, blocks)
	return &Answer{Text: text, Citations: citations}, nil
}

// assembleContext builds at most maxContextResults blocks, in input order,
// skipping results with empty resolvable content (§4.10).
func assembleContext(ctx context.Context, results []domain.SearchResult, store Store) []contextBlock {
	var blocks []contextBlock
	for _, r := range results {
		if len(blocks) == maxContextResults {
			break
		}

		content, isFull := resolveContent(ctx, r, store)
		if content == "" {
			continue
		}

		citation := domain.Citation{Docid: r.Docid, URI: r.URI}
		if !isFull && r.SnippetRange != nil {
			citation.StartLine = r.SnippetRange.StartLine
			citation.EndLine = r.SnippetRange.EndLine
		}

		blocks = append(blocks, contextBlock{result: r, content: content, isFull: isFull, citation: citation})
	}
	return blocks
}

func resolveContent(ctx context.Context, r domain.SearchResult, store Store) (content string, isFull bool) {
	if store != nil && r.Conversion != nil && r.Conversion.MirrorHash != "" {
		full, err := store.GetContent(ctx, r.Conversion.MirrorHash)
		if err == nil && full != "" {
			return truncateRunes(full, maxFullContentRune, truncationMarker), true
		}
	}
	return truncateRunes(r.Snippet, maxSnippetRune, truncationMarker), false
}

func truncateRunes(s string, max int, marker string) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + marker
}

const promptTemplate = `Answer the question using ONLY the numbered context blocks below. Cite every
claim with the matching [n] marker. Do not use any knowledge beyond what is
in these blocks. If the blocks do not contain enough information to answer,
respond with exactly: %s

%s

Question: %s`

func buildPrompt(query string, blocks []contextBlock) string {
	var sb strings.Builder
	for i, b := range blocks {
		fmt.Fprintf(&sb, "[%d] %s\n\n", i+1, b.content)
	}
	return fmt.Sprintf(promptTemplate, AbstentionText, sb.String(), query)
}

var citationMarker = regexp.MustCompile(`\[(\d+)\]`)
var whitespaceRun = regexp.MustCompile(`\s+`)

// postProcess implements §4.10's citation post-processing: extract markers,
// keep only those within range, renumber by position in the surviving set,
// and fall back to the abstention string if nothing survives.
func postProcess(raw string, blocks []contextBlock) (string, []domain.Citation) {
	validUsed := usedMarkersInOrder(raw, len(blocks))
	if len(validUsed) == 0 {
		return AbstentionText, nil
	}

	newIndex := make(map[int]int, len(validUsed)) // old (1-based) -> new (1-based)
	for i, old := range validUsed {
		newIndex[old] = i + 1
	}

	rewritten := citationMarker.ReplaceAllStringFunc(raw, func(match string) string {
		old, _ := strconv.Atoi(citationMarker.FindStringSubmatch(match)[1])
		if n, ok := newIndex[old]; ok {
			return fmt.Sprintf("[%d]", n)
		}
		return ""
	})
	rewritten = strings.TrimSpace(whitespaceRun.ReplaceAllString(rewritten, " "))

	citations := make([]domain.Citation, len(validUsed))
	for i, old := range validUsed {
		citations[i] = blocks[old-1].citation
	}

	return rewritten, citations
}

// usedMarkersInOrder extracts every [n] marker with 1 <= n <= blockCount,
// deduplicated, in first-occurrence order, the order renumbering uses.
func usedMarkersInOrder(raw string, blockCount int) []int {
	var out []int
	seen := make(map[int]bool)
	for _, m := range citationMarker.FindAllStringSubmatch(raw, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 || n > blockCount || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
