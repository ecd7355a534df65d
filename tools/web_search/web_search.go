package web_search

import (
	"context"
	"net/http"

	"github.com/mohammad-safakhou/agentrouter/tools/web_search/brave"
	"github.com/mohammad-safakhou/agentrouter/tools/web_search/duckduckgo"
	"github.com/mohammad-safakhou/agentrouter/tools/web_search/models"
	"github.com/mohammad-safakhou/agentrouter/tools/web_search/serper"
)

type WebSearcher interface {
	Discover(ctx context.Context, q string, k int) ([]models.Result, error)
}

type Provider string

const (
	SerperProvider     Provider = "serper"
	BraveProvider      Provider = "brave"
	DuckDuckGoProvider Provider = "duckduckgo"
)

type Error struct{ msg string }

func (e *Error) Error() string { return e.msg }

var (
	ErrUnsupportedProvider = &Error{"unsupported provider"}
	ErrMissingAPIKey       = &Error{"search provider requires an api key"}
)

// NewWebSearcher builds a searcher. client may be nil.
func NewWebSearcher(provider Provider, apiKey string, client *http.Client) (WebSearcher, error) {
	if client == nil {
		client = http.DefaultClient
	}
	switch provider {
	case SerperProvider:
		if apiKey == "" {
			return nil, ErrMissingAPIKey
		}
		return serper.Search{ApiKey: apiKey, Client: client}, nil
	case BraveProvider:
		if apiKey == "" {
			return nil, ErrMissingAPIKey
		}
		return brave.Search{ApiKey: apiKey, Client: client}, nil
	case DuckDuckGoProvider, "":
		return duckduckgo.Search{Client: client}, nil
	default:
		return nil, ErrUnsupportedProvider
	}
}
