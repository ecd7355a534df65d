package worker

import (
	"context"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/agentrouter/internal/helpers"
	"github.com/mohammad-safakhou/agentrouter/internal/taskgraph"
	"github.com/mohammad-safakhou/agentrouter/provider"
	"github.com/mohammad-safakhou/agentrouter/tools/web_search"
	"github.com/mohammad-safakhou/agentrouter/tools/web_search/models"
)

const defaultSearchResults = 5

const searchSummaryPrompt = `Using only the search results below, answer the request. Cite the URLs you rely on.

Request:
%s

Search results:
%s`

// Search answers requests from web search results.
type Search struct {
	searcher web_search.WebSearcher
	gen      provider.Generator
	limit    int
}

// NewSearch returns the search worker. gen is optional; without it the raw
// result list is returned.
func NewSearch(searcher web_search.WebSearcher, gen provider.Generator, limit int) *Search {
	if limit <= 0 {
		limit = defaultSearchResults
	}
	return &Search{searcher: searcher, gen: gen, limit: limit}
}

func (s *Search) Kind() taskgraph.WorkerKind { return taskgraph.Search }

func (s *Search) Description() string {
	return "Can search the web and return result summaries (cannot open pages, fill forms, or read local files)"
}

func (s *Search) Execute(ctx context.Context, instruction string) (string, error) {
	if s.searcher == nil {
		return "", Unavailable(taskgraph.Search, "no search provider configured")
	}
	query := searchQuery(instruction)
	results, err := s.searcher.Discover(ctx, query, s.limit)
	if err != nil {
		return "", Unavailable(taskgraph.Search, err.Error())
	}
	results = dedupeResults(results)
	if len(results) == 0 {
		return fmt.Sprintf("No search results found for %q", query), nil
	}
	listing := FormatResults(results)
	if s.gen == nil {
		return listing, nil
	}
	out, err := s.gen.Generate(ctx, fmt.Sprintf(searchSummaryPrompt, instruction, listing))
	if err != nil {
		return "", ExecutionFailed(taskgraph.Search, err)
	}
	return strings.TrimSpace(out), nil
}

// searchQuery drops the context preamble so only the task text is sent to
// the search engine.
func searchQuery(instruction string) string {
	_, task := SplitInstruction(instruction)
	return strings.TrimSpace(task)
}

func dedupeResults(in []models.Result) []models.Result {
	seen := make(map[string]struct{}, len(in))
	out := make([]models.Result, 0, len(in))
	for _, r := range in {
		key := r.URL
		if c, err := helpers.CanonicalURL(r.URL); err == nil {
			key = c
		}
		if key != "" {
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
		}
		r.Title = helpers.PlainText(r.Title)
		r.Snippet = helpers.PlainText(r.Snippet)
		out = append(out, r)
	}
	return out
}

// FormatResults renders a numbered result listing.
func FormatResults(results []models.Result) string {
	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%d. %s", i+1, r.Title)
		if r.URL != "" {
			fmt.Fprintf(&b, "\n   %s", r.URL)
		}
		if r.Snippet != "" && r.Snippet != r.Title {
			fmt.Fprintf(&b, "\n   %s", r.Snippet)
		}
	}
	return b.String()
}
