package router

import (
	"context"
	"fmt"

	"github.com/mohammad-safakhou/agentrouter/internal/classifier"
	"github.com/mohammad-safakhou/agentrouter/provider"
)

// Classifiers bundles the two few-shot classifiers the router consults.
type Classifiers struct {
	Complexity *classifier.Classifier
	Tasks      *classifier.Classifier
}

// SeedClassifiers builds both classifiers from cfg and loads seeds into them.
// The complexity classifier falls back to LOW and the task classifier to casual.
func SeedClassifiers(ctx context.Context, embedder provider.Embedder, cfg classifier.Config, seeds classifier.Seeds) (Classifiers, error) {
	complexityCfg := cfg
	complexityCfg.DefaultLabel = ComplexityLow
	taskCfg := cfg
	taskCfg.DefaultLabel = "casual"

	out := Classifiers{
		Complexity: classifier.New(embedder, complexityCfg),
		Tasks:      classifier.New(embedder, taskCfg),
	}
	texts, labels := classifier.Split(seeds.Complexity)
	if err := out.Complexity.AddExamples(ctx, texts, labels); err != nil {
		return Classifiers{}, fmt.Errorf("seed complexity classifier: %w", err)
	}
	texts, labels = classifier.Split(seeds.Tasks)
	if err := out.Tasks.AddExamples(ctx, texts, labels); err != nil {
		return Classifiers{}, fmt.Errorf("seed task classifier: %w", err)
	}
	return out, nil
}
