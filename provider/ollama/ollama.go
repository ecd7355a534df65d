package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mohammad-safakhou/agentrouter/provider"
)

const defaultEndpoint = "http://localhost:11434"

// Client talks to a local Ollama server.
type Client struct {
	endpoint       string
	model          string
	embeddingModel string
	temperature    float64
	client         *http.Client
}

// NewClient creates a client. Empty values fall back to local defaults.
func NewClient(endpoint, model, embeddingModel string, temperature float64, timeout time.Duration) *Client {
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	if model == "" {
		model = "llama3.1"
	}
	if embeddingModel == "" {
		embeddingModel = "nomic-embed-text"
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		endpoint:       strings.TrimRight(endpoint, "/"),
		model:          model,
		embeddingModel: embeddingModel,
		temperature:    temperature,
		client:         &http.Client{Timeout: timeout},
	}
}

func (c *Client) Name() string { return "ollama:" + c.embeddingModel }

type generateRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	Stream  bool                   `json:"stream"`
	Options map[string]interface{} `json:"options,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Generate runs a non-streaming completion.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	req := generateRequest{Model: c.model, Prompt: prompt, Stream: false}
	if c.temperature > 0 {
		req.Options = map[string]interface{}{"temperature": c.temperature}
	}
	var out generateResponse
	if err := c.post(ctx, "/api/generate", req, &out); err != nil {
		return "", fmt.Errorf("%w: %v", provider.ErrProviderUnavailable, err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("%w: %s", provider.ErrProviderUnavailable, out.Error)
	}
	return out.Response, nil
}

// Embed returns the embedding of text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	var out embedResponse
	if err := c.post(ctx, "/api/embeddings", embedRequest{Model: c.embeddingModel, Prompt: text}, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", provider.ErrEmbeddingUnavailable, err)
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("%w: empty embedding", provider.ErrEmbeddingUnavailable)
	}
	return out.Embedding, nil
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
