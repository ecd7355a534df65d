package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/agentrouter/internal/helpers"
	"github.com/mohammad-safakhou/agentrouter/internal/taskgraph"
	"github.com/mohammad-safakhou/agentrouter/provider"
	"github.com/mohammad-safakhou/agentrouter/tools/web_fetch"
	"github.com/mohammad-safakhou/agentrouter/tools/web_search"
	"github.com/mohammad-safakhou/agentrouter/utils"
)

const browserSummaryPrompt = `You visited %s (%s). Using the page text below, complete the request.

Request:
%s

Page text:
%s`

const browserExcerptChars = 2000

// ErrNoURL is returned when the browser has nothing to open.
var ErrNoURL = errors.New("no url in instruction")

// Browser opens a page and reads it. When the instruction carries no URL it
// searches first and opens the top hit.
type Browser struct {
	fetcher  web_fetch.WebFetcher
	searcher web_search.WebSearcher
	gen      provider.Generator
}

// NewBrowser returns the browser worker. searcher and gen may be nil.
func NewBrowser(fetcher web_fetch.WebFetcher, searcher web_search.WebSearcher, gen provider.Generator) *Browser {
	return &Browser{fetcher: fetcher, searcher: searcher, gen: gen}
}

func (b *Browser) Kind() taskgraph.WorkerKind { return taskgraph.Browser }

func (b *Browser) Description() string {
	return "Can navigate websites, read page content, and extract information from specific pages (cannot write code or access local files)"
}

func (b *Browser) Execute(ctx context.Context, instruction string) (string, error) {
	if b.fetcher == nil {
		return "", Unavailable(taskgraph.Browser, "no page fetcher configured")
	}
	target, err := b.resolve(ctx, instruction)
	if err != nil {
		return "", err
	}
	page, err := b.fetcher.Exec(ctx, target)
	if err != nil {
		return "", ExecutionFailed(taskgraph.Browser, err)
	}
	text := helpers.PlainText(page.Text)
	if text == "" {
		return "", ExecutionFailed(taskgraph.Browser, fmt.Errorf("no readable text at %s", target))
	}
	if b.gen == nil {
		return fmt.Sprintf("%s (%s)\n\n%s", page.Title, page.URL, utils.Truncate(text, browserExcerptChars)), nil
	}
	out, err := b.gen.Generate(ctx, fmt.Sprintf(browserSummaryPrompt, page.Title, page.URL, instruction, text))
	if err != nil {
		return "", ExecutionFailed(taskgraph.Browser, err)
	}
	return strings.TrimSpace(out), nil
}

func (b *Browser) resolve(ctx context.Context, instruction string) (string, error) {
	// a URL in the task text beats one quoted from an earlier result
	preamble, task := SplitInstruction(instruction)
	if u, ok := helpers.FirstURL(task); ok {
		return u, nil
	}
	if u, ok := helpers.FirstURL(preamble); ok {
		return u, nil
	}
	if b.searcher == nil {
		return "", ExecutionFailed(taskgraph.Browser, ErrNoURL)
	}
	hits, err := b.searcher.Discover(ctx, searchQuery(instruction), 1)
	if err != nil {
		return "", Unavailable(taskgraph.Browser, err.Error())
	}
	if len(hits) == 0 || hits[0].URL == "" {
		return "", ExecutionFailed(taskgraph.Browser, ErrNoURL)
	}
	return hits[0].URL, nil
}
