package duckduckgo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mohammad-safakhou/agentrouter/tools/web_search/models"
	"github.com/mohammad-safakhou/agentrouter/utils"
)

const defaultEndpoint = "https://api.duckduckgo.com/"

// Search queries the DuckDuckGo instant answer API. It needs no key and
// returns the abstract followed by related topics.
type Search struct {
	Endpoint string
	Client   *http.Client
}

type topic struct {
	Text     string  `json:"Text"`
	FirstURL string  `json:"FirstURL"`
	Topics   []topic `json:"Topics"`
}

func (s Search) Discover(ctx context.Context, q string, k int) ([]models.Result, error) {
	endpoint := s.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s?q=%s&format=json&no_html=1&skip_disambig=1", endpoint, utils.UrlQuery(q)), nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("duckduckgo returned status %d", resp.StatusCode)
	}
	var raw struct {
		Heading       string  `json:"Heading"`
		AbstractText  string  `json:"AbstractText"`
		AbstractURL   string  `json:"AbstractURL"`
		Answer        string  `json:"Answer"`
		RelatedTopics []topic `json:"RelatedTopics"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}

	var out []models.Result
	if raw.Answer != "" {
		out = append(out, models.Result{Title: raw.Heading, Snippet: raw.Answer})
	}
	if raw.AbstractText != "" {
		out = append(out, models.Result{Title: raw.Heading, URL: raw.AbstractURL, Snippet: raw.AbstractText})
	}
	var walk func([]topic)
	walk = func(ts []topic) {
		for _, t := range ts {
			if len(out) >= k {
				return
			}
			if len(t.Topics) > 0 {
				walk(t.Topics)
				continue
			}
			if t.Text != "" {
				out = append(out, models.Result{Title: t.Text, URL: t.FirstURL, Snippet: t.Text})
			}
		}
	}
	walk(raw.RelatedTopics)
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}
