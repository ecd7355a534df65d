package app

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/mohammad-safakhou/agentrouter/config"
	"github.com/mohammad-safakhou/agentrouter/internal/taskgraph"
	"github.com/mohammad-safakhou/agentrouter/internal/worker"
	"github.com/mohammad-safakhou/agentrouter/provider"
	"github.com/mohammad-safakhou/agentrouter/tools/web_fetch"
	"github.com/mohammad-safakhou/agentrouter/tools/web_search"
)

// BuildRegistry provisions the workers cfg enables. Casual is always
// registered so the router has a substitute for missing workers.
func BuildRegistry(cfg config.WorkersConfig, gen provider.Generator, logger *zap.Logger) (*worker.Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	workers := []worker.Worker{worker.NewCasual(gen)}
	if cfg.Coder.Enabled {
		workers = append(workers, worker.NewCoder(gen))
	}
	if cfg.File.Enabled {
		workers = append(workers, worker.NewFile(cfg.File.Root, gen))
	}

	searcher, fetcher, err := WebTools(cfg)
	if err != nil {
		return nil, err
	}
	if searcher != nil {
		workers = append(workers, worker.NewSearch(searcher, summarizer(cfg.Search.Summarize, gen), cfg.Search.MaxResults))
	}
	if fetcher != nil {
		workers = append(workers, worker.NewBrowser(fetcher, searcher, summarizer(cfg.Browser.Summarize, gen)))
	}

	reg, err := worker.NewRegistry(workers, taskgraph.Casual)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(workers))
	for _, k := range reg.Kinds() {
		names = append(names, k.String())
	}
	logger.Info("workers provisioned", zap.Strings("workers", names))
	return reg, nil
}

func summarizer(enabled bool, gen provider.Generator) provider.Generator {
	if !enabled {
		return nil
	}
	return gen
}

// WebTools builds the search and fetch backends of the enabled web workers.
// Either result is nil when its worker is disabled.
func WebTools(cfg config.WorkersConfig) (web_search.WebSearcher, web_fetch.WebFetcher, error) {
	var (
		searcher web_search.WebSearcher
		fetcher  web_fetch.WebFetcher
		err      error
	)
	if cfg.Search.Enabled {
		searcher, err = web_search.NewWebSearcher(web_search.Provider(cfg.Search.Provider), cfg.Search.APIKey, &http.Client{Timeout: cfg.Search.Timeout})
		if err != nil {
			return nil, nil, fmt.Errorf("search worker: %w", err)
		}
	}
	if cfg.Browser.Enabled {
		fetcher, err = web_fetch.NewWebFetcher(web_fetch.FetcherType(cfg.Browser.Fetcher), cfg.Browser.Timeout, cfg.Browser.MaxChars, cfg.Browser.UserAgent)
		if err != nil {
			return nil, nil, fmt.Errorf("browser worker: %w", err)
		}
	}
	return searcher, fetcher, nil
}
