package classifier

import (
	"context"
	"errors"
	"testing"

	"github.com/mohammad-safakhou/agentrouter/provider/hashembed"
	"github.com/stretchr/testify/require"
)

// tableEmbedder returns fixed vectors keyed by text.
type tableEmbedder struct {
	vectors map[string][]float32
	err     error
	calls   int
}

func (e *tableEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	if v, ok := e.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

func TestPredictEmptyStoreReturnsFallback(t *testing.T) {
	emb := &tableEmbedder{err: errors.New("should not be called")}
	c := New(emb, DefaultConfig())
	preds, err := c.Predict(context.Background(), "anything", 0)
	require.NoError(t, err)
	require.Equal(t, []Prediction{{Label: "LOW", Score: 0.1}}, preds)
	require.Zero(t, emb.calls)
}

func TestPredictAggregatesAndNormalises(t *testing.T) {
	emb := &tableEmbedder{vectors: map[string][]float32{
		"a1": {1, 0, 0},
		"a2": {0.9, 0.1, 0},
		"b1": {0.8, 0.2, 0},
		"c1": {0, 1, 0},
		"q":  {1, 0, 0},
	}}
	c := New(emb, Config{SimilarityThreshold: 0.5, MinConfidence: 0.1, DefaultLabel: "LOW", TopK: 3})
	require.NoError(t, c.AddExamples(context.Background(), []string{"a1", "a2", "b1", "c1"}, []string{"A", "A", "B", "C"}))

	preds, err := c.Predict(context.Background(), "q", 0)
	require.NoError(t, err)
	require.Len(t, preds, 2)
	require.Equal(t, "A", preds[0].Label)
	require.Equal(t, "B", preds[1].Label)
	require.InDelta(t, 1.0, preds[0].Score+preds[1].Score, 1e-9)
	require.Greater(t, preds[0].Score, preds[1].Score)
}

func TestPredictBelowThresholdFallsBack(t *testing.T) {
	emb := &tableEmbedder{vectors: map[string][]float32{
		"x": {1, 0, 0},
		"q": {0, 1, 0},
	}}
	c := New(emb, Config{SimilarityThreshold: 0.7, MinConfidence: 0.25, DefaultLabel: "casual", TopK: 5})
	require.NoError(t, c.AddExamples(context.Background(), []string{"x"}, []string{"search"}))
	preds, err := c.Predict(context.Background(), "q", 0)
	require.NoError(t, err)
	require.Equal(t, []Prediction{{Label: "casual", Score: 0.25}}, preds)
}

func TestPredictClampsTopScore(t *testing.T) {
	vectors := map[string][]float32{"q": {1, 0}}
	texts := []string{}
	labels := []string{}
	for i, label := range []string{"a", "b", "c", "d", "e"} {
		text := string(rune('p' + i))
		vectors[text] = []float32{1, 0}
		texts = append(texts, text)
		labels = append(labels, label)
	}
	emb := &tableEmbedder{vectors: vectors}
	c := New(emb, Config{SimilarityThreshold: 0.5, MinConfidence: 0.3, DefaultLabel: "LOW", TopK: 5})
	require.NoError(t, c.AddExamples(context.Background(), texts, labels))

	preds, err := c.Predict(context.Background(), "q", 0)
	require.NoError(t, err)
	require.Len(t, preds, 5)
	// equal similarity: first inserted example wins and the floor applies
	require.Equal(t, "a", preds[0].Label)
	require.InDelta(t, 0.3, preds[0].Score, 1e-9)
	require.InDelta(t, 0.2, preds[1].Score, 1e-9)
}

func TestPredictPropagatesEmbeddingFailure(t *testing.T) {
	emb := &tableEmbedder{vectors: map[string][]float32{"a": {1, 0, 0}}}
	c := New(emb, DefaultConfig())
	require.NoError(t, c.AddExamples(context.Background(), []string{"a"}, []string{"LOW"}))
	emb.err = errors.New("connection refused")
	_, err := c.Predict(context.Background(), "q", 0)
	require.ErrorIs(t, err, ErrEmbeddingUnavailable)
}

func TestAddExamplesAssignsStableIDs(t *testing.T) {
	c := New(hashembed.New(64), DefaultConfig())
	ctx := context.Background()
	require.NoError(t, c.AddExamples(ctx, []string{"one", "two"}, []string{"HIGH", "LOW"}))
	require.NoError(t, c.AddExamples(ctx, []string{"three"}, []string{"MID"}))
	require.NoError(t, c.AddExamples(ctx, []string{"four"}, []string{"HIGH"}))
	require.Equal(t, []string{"HIGH", "LOW", "MID"}, c.Labels())
	id, ok := c.LabelID("MID")
	require.True(t, ok)
	require.Equal(t, 2, id)
	require.Equal(t, 4, c.Len())
	require.ErrorIs(t, c.AddExamples(ctx, []string{"x"}, nil), ErrLengthMismatch)
}

func TestIdenticalTextReturnsItsLabel(t *testing.T) {
	seeds, err := LoadSeeds()
	require.NoError(t, err)
	ctx := context.Background()
	for _, set := range [][]LabeledText{seeds.Complexity, seeds.Tasks} {
		c := New(hashembed.New(hashembed.DefaultDimensions), Config{SimilarityThreshold: 1.0, MinConfidence: 0.1, DefaultLabel: "none", TopK: 5})
		texts, labels := Split(set)
		require.NoError(t, c.AddExamples(ctx, texts, labels))
		for _, ex := range set {
			preds, err := c.Predict(ctx, ex.Text, 0)
			require.NoError(t, err)
			require.Equal(t, ex.Label, preds[0].Label, "text %q", ex.Text)
		}
	}
}

func TestCosineSimilarity(t *testing.T) {
	require.InDelta(t, 1.0, CosineSimilarity([]float32{1, 2}, []float32{2, 4}), 1e-9)
	require.Zero(t, CosineSimilarity([]float32{1}, []float32{1, 2}))
	require.Zero(t, CosineSimilarity([]float32{0, 0}, []float32{1, 2}))
}

func TestParseSeedsRejectsIncompleteExamples(t *testing.T) {
	_, err := ParseSeeds([]byte("tasks:\n  - {text: \"\", label: casual}\n"))
	require.Error(t, err)
	seeds, err := LoadSeeds()
	require.NoError(t, err)
	require.Len(t, seeds.Complexity, 20)
	require.Len(t, seeds.Tasks, 25)
}
