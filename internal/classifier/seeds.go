package classifier

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed seeds.yaml
var defaultSeeds []byte

// LabeledText is a single few-shot example.
type LabeledText struct {
	Text  string `yaml:"text"`
	Label string `yaml:"label"`
}

// Seeds holds the few-shot sets for both router classifiers.
type Seeds struct {
	Complexity []LabeledText `yaml:"complexity"`
	Tasks      []LabeledText `yaml:"tasks"`
}

// Split returns parallel text and label slices.
func Split(examples []LabeledText) (texts, labels []string) {
	texts = make([]string, len(examples))
	labels = make([]string, len(examples))
	for i, ex := range examples {
		texts[i] = ex.Text
		labels[i] = ex.Label
	}
	return texts, labels
}

// LoadSeeds parses the built-in few-shot sets.
func LoadSeeds() (Seeds, error) {
	return ParseSeeds(defaultSeeds)
}

// LoadSeedsFile reads seeds from path; an empty path loads the built-in sets.
func LoadSeedsFile(path string) (Seeds, error) {
	if path == "" {
		return LoadSeeds()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Seeds{}, fmt.Errorf("read seeds: %w", err)
	}
	return ParseSeeds(data)
}

// ParseSeeds decodes a YAML seeds document.
func ParseSeeds(data []byte) (Seeds, error) {
	var s Seeds
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Seeds{}, fmt.Errorf("parse seeds: %w", err)
	}
	for _, set := range [][]LabeledText{s.Complexity, s.Tasks} {
		for i, ex := range set {
			if ex.Text == "" || ex.Label == "" {
				return Seeds{}, fmt.Errorf("parse seeds: example %d is missing text or label", i)
			}
		}
	}
	return s, nil
}
