// Package classifier implements a few-shot nearest-neighbour text classifier
// over embedding vectors.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/mohammad-safakhou/agentrouter/provider"
)

// ErrEmbeddingUnavailable is returned when the query or an example cannot be embedded.
var ErrEmbeddingUnavailable = provider.ErrEmbeddingUnavailable

// ErrLengthMismatch is returned by AddExamples when texts and labels differ in length.
var ErrLengthMismatch = errors.New("texts and labels must have the same length")

// Example is an immutable labeled text with its embedding.
type Example struct {
	Text      string
	Label     string
	Embedding []float32
}

// Prediction is a label with a probability-like score.
type Prediction struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Config holds the classifier thresholds.
type Config struct {
	SimilarityThreshold float64
	MinConfidence       float64
	DefaultLabel        string
	TopK                int
	Model               string
}

// DefaultConfig mirrors the router defaults.
func DefaultConfig() Config {
	return Config{SimilarityThreshold: 0.7, MinConfidence: 0.1, DefaultLabel: "LOW", TopK: 5}
}

// Classifier stores labeled examples and answers nearest-neighbour queries.
type Classifier struct {
	embedder provider.Embedder
	cfg      Config

	mu       sync.RWMutex
	labelIDs map[string]int
	labels   []string
	examples []Example
}

// New builds an empty classifier.
func New(embedder provider.Embedder, cfg Config) *Classifier {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultConfig().TopK
	}
	return &Classifier{embedder: embedder, cfg: cfg, labelIDs: make(map[string]int)}
}

// Config returns the classifier configuration.
func (c *Classifier) Config() Config { return c.cfg }

// AddExamples embeds texts and appends them with their labels. Label ids are
// assigned on first sight and never change.
func (c *Classifier) AddExamples(ctx context.Context, texts, labels []string) error {
	if len(texts) != len(labels) {
		return ErrLengthMismatch
	}
	if len(texts) == 0 {
		return nil
	}
	vecs, err := provider.EmbedAll(ctx, c.embedder, texts)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}
	if len(vecs) != len(texts) {
		return fmt.Errorf("%w: expected %d embeddings, got %d", ErrEmbeddingUnavailable, len(texts), len(vecs))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for i, text := range texts {
		label := labels[i]
		if _, ok := c.labelIDs[label]; !ok {
			c.labelIDs[label] = len(c.labels)
			c.labels = append(c.labels, label)
		}
		c.examples = append(c.examples, Example{Text: text, Label: label, Embedding: vecs[i]})
	}
	return nil
}

// Labels returns known labels ordered by id.
func (c *Classifier) Labels() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.labels...)
}

// LabelID returns the stable id of label.
func (c *Classifier) LabelID(label string) (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.labelIDs[label]
	return id, ok
}

// Len returns the number of stored examples.
func (c *Classifier) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.examples)
}

func (c *Classifier) fallback() []Prediction {
	return []Prediction{{Label: c.cfg.DefaultLabel, Score: c.cfg.MinConfidence}}
}

// similarityEpsilon absorbs rounding so identical vectors clear a threshold of 1.0.
const similarityEpsilon = 1e-6

type neighbour struct {
	index int
	score float64
}

// Predict returns labels sorted by descending score. topK <= 0 uses the
// configured default.
func (c *Classifier) Predict(ctx context.Context, text string, topK int) ([]Prediction, error) {
	c.mu.RLock()
	empty := len(c.examples) == 0
	c.mu.RUnlock()
	if empty {
		return c.fallback(), nil
	}
	if topK <= 0 {
		topK = c.cfg.TopK
	}

	query, err := c.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}

	c.mu.RLock()
	neighbours := make([]neighbour, len(c.examples))
	for i, ex := range c.examples {
		neighbours[i] = neighbour{index: i, score: CosineSimilarity(query, ex.Embedding)}
	}
	sort.SliceStable(neighbours, func(i, j int) bool { return neighbours[i].score > neighbours[j].score })
	if len(neighbours) > topK {
		neighbours = neighbours[:topK]
	}

	totals := make(map[string]float64)
	var order []string
	var weight float64
	for _, n := range neighbours {
		if n.score < c.cfg.SimilarityThreshold-similarityEpsilon {
			continue
		}
		label := c.examples[n.index].Label
		if _, seen := totals[label]; !seen {
			order = append(order, label)
		}
		totals[label] += n.score
		weight += n.score
	}
	c.mu.RUnlock()

	if len(order) == 0 || weight <= 0 {
		return c.fallback(), nil
	}

	preds := make([]Prediction, len(order))
	for i, label := range order {
		preds[i] = Prediction{Label: label, Score: totals[label] / weight}
	}
	sort.SliceStable(preds, func(i, j int) bool { return preds[i].Score > preds[j].Score })
	if preds[0].Score < c.cfg.MinConfidence {
		preds[0].Score = c.cfg.MinConfidence
	}
	return preds, nil
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0 when
// either is a zero vector or their lengths differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
