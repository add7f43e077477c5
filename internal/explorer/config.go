package explorer

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultConfig []byte

// Weights are the node weights per category.
type Weights struct {
	Theme   int `yaml:"theme"`
	Person  int `yaml:"person"`
	Place   int `yaml:"place"`
	Concept int `yaml:"concept"`
}

func (w Weights) For(c Category) int {
	switch c {
	case CategoryTheme:
		return w.Theme
	case CategoryPerson:
		return w.Person
	case CategoryPlace:
		return w.Place
	case CategoryConcept:
		return w.Concept
	default:
		return 0
	}
}

// Caps bound edge weights per category pair.
type Caps struct {
	ThemePerson  int `yaml:"themePerson"`
	ThemePlace   int `yaml:"themePlace"`
	PersonPlace  int `yaml:"personPlace"`
	ConceptTheme int `yaml:"conceptTheme"`
}

// Concept is a higher-order node linked to themes by name.
type Concept struct {
	Name   string   `yaml:"name" json:"name"`
	Themes []string `yaml:"themes" json:"themes"`
}

type configFile struct {
	Weights     Weights             `yaml:"weights"`
	Caps        Caps                `yaml:"caps"`
	Concepts    []Concept           `yaml:"concepts"`
	Suggestions map[string][]string `yaml:"suggestions"`
	Fallback    Graph               `yaml:"fallback"`
}

// Config is the immutable static explorer data. Accessors return copies.
type Config struct {
	weights     Weights
	caps        Caps
	concepts    []Concept
	suggestions map[Category][]string
	fallback    Graph
}

// DefaultConfig parses the embedded defaults.
func DefaultConfig() (*Config, error) {
	return LoadConfig("")
}

// LoadConfig parses the embedded defaults and, when path is set, overlays
// the YAML file at path on top of them.
func LoadConfig(path string) (*Config, error) {
	var file configFile
	if err := yaml.Unmarshal(defaultConfig, &file); err != nil {
		return nil, fmt.Errorf("parse default explorer config: %w", err)
	}
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read explorer config: %w", err)
		}
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse explorer config %s: %w", path, err)
		}
	}
	return newConfig(file)
}

func newConfig(file configFile) (*Config, error) {
	if err := validateWeights(file.Weights); err != nil {
		return nil, err
	}
	if err := validateCaps(file.Caps); err != nil {
		return nil, err
	}
	for i, concept := range file.Concepts {
		if strings.TrimSpace(concept.Name) == "" {
			return nil, fmt.Errorf("concept %d: name is required", i)
		}
		if len(concept.Themes) == 0 {
			return nil, fmt.Errorf("concept %s: at least one theme is required", concept.Name)
		}
	}
	suggestions := make(map[Category][]string, len(file.Suggestions))
	for key, list := range file.Suggestions {
		category, err := ParseCategory(key)
		if err != nil {
			return nil, fmt.Errorf("suggestions: %w", err)
		}
		suggestions[category] = list
	}
	if len(file.Fallback.Nodes) == 0 {
		return nil, errors.New("fallback graph must not be empty")
	}
	if err := file.Fallback.Validate(); err != nil {
		return nil, fmt.Errorf("fallback graph: %w", err)
	}

	cfg := &Config{
		weights:     file.Weights,
		caps:        file.Caps,
		concepts:    cloneConcepts(file.Concepts),
		suggestions: cloneSuggestions(suggestions),
		fallback:    file.Fallback.Clone(),
	}
	return cfg, nil
}

func validateWeights(w Weights) error {
	if w.Place < 1 || w.Concept < 1 {
		return errors.New("node weights must be positive")
	}
	if !(w.Theme > w.Person && w.Person > w.Place) {
		return fmt.Errorf("node weights must rank theme > person > place, got %d/%d/%d", w.Theme, w.Person, w.Place)
	}
	return nil
}

func validateCaps(c Caps) error {
	if c.ThemePerson < 1 || c.ThemePlace < 1 || c.PersonPlace < 1 || c.ConceptTheme < 1 {
		return errors.New("edge caps must be positive")
	}
	return nil
}

func (c *Config) Weights() Weights { return c.weights }

func (c *Config) Caps() Caps { return c.caps }

func (c *Config) Concepts() []Concept { return cloneConcepts(c.concepts) }

// Suggestions returns the static tag suggestion lists keyed by category.
func (c *Config) Suggestions() map[Category][]string { return cloneSuggestions(c.suggestions) }

// Fallback returns a copy of the sample graph served when metadata is unavailable.
func (c *Config) Fallback() Graph { return c.fallback.Clone() }

func cloneConcepts(in []Concept) []Concept {
	out := make([]Concept, len(in))
	for i, concept := range in {
		out[i] = Concept{Name: concept.Name, Themes: append([]string(nil), concept.Themes...)}
	}
	return out
}

func cloneSuggestions(in map[Category][]string) map[Category][]string {
	out := make(map[Category][]string, len(in))
	for category, list := range in {
		out[category] = append([]string{}, list...)
	}
	return out
}
