package explorer

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"leavn/api/internal/tags"
)

const (
	LabelThemePerson  = "associated with"
	LabelThemePlace   = "occurred at"
	LabelPersonPlace  = "present at"
	LabelConceptTheme = "encompasses"
)

// Build derives the relationship graph from metadata. It is pure and
// deterministic: labels are processed in sorted order.
func Build(maps CategoryMaps, cfg *Config) Graph {
	weights := cfg.Weights()
	caps := cfg.Caps()

	g := Graph{Nodes: []Node{}, Links: []Edge{}}
	themes := collectNodes(CategoryTheme, maps.Themes, weights.Theme)
	people := collectNodes(CategoryPerson, maps.People, weights.Person)
	places := collectNodes(CategoryPlace, maps.Places, weights.Place)
	g.Nodes = append(g.Nodes, themes...)
	g.Nodes = append(g.Nodes, people...)
	g.Nodes = append(g.Nodes, places...)

	themeByID := make(map[string]Node, len(themes))
	for _, theme := range themes {
		themeByID[theme.ID] = theme
	}
	seenConcept := make(map[string]struct{})
	for _, concept := range cfg.Concepts() {
		id := NodeID(CategoryConcept, concept.Name)
		if _, dup := seenConcept[id]; dup {
			continue
		}
		seenConcept[id] = struct{}{}

		node := Node{ID: id, Name: concept.Name, Weight: weights.Concept, Category: CategoryConcept, References: []string{}}
		var links []Edge
		linked := make(map[string]struct{})
		for _, themeName := range concept.Themes {
			theme, ok := themeByID[NodeID(CategoryTheme, themeName)]
			if !ok {
				continue
			}
			if _, dup := linked[theme.ID]; dup {
				continue
			}
			linked[theme.ID] = struct{}{}
			node.References = mergeReferences(node.References, theme.References)
			links = append(links, Edge{
				Source: id,
				Target: theme.ID,
				Weight: max(1, min(len(theme.References), caps.ConceptTheme)),
				Label:  LabelConceptTheme,
			})
		}
		g.Nodes = append(g.Nodes, node)
		g.Links = append(g.Links, links...)
	}

	g.Links = append(g.Links, intersect(themes, people, caps.ThemePerson, LabelThemePerson)...)
	g.Links = append(g.Links, intersect(themes, places, caps.ThemePlace, LabelThemePlace)...)
	g.Links = append(g.Links, intersect(people, places, caps.PersonPlace, LabelPersonPlace)...)
	return g
}

// collectNodes emits one node per label. Labels that slug to the same id
// inside a category are merged.
func collectNodes(category Category, labels map[string][]string, weight int) []Node {
	names := make([]string, 0, len(labels))
	for name := range labels {
		names = append(names, name)
	}
	sort.Strings(names)

	nodes := make([]Node, 0, len(names))
	index := make(map[string]int, len(names))
	for _, name := range names {
		id := NodeID(category, name)
		if i, ok := index[id]; ok {
			nodes[i].References = mergeReferences(nodes[i].References, labels[name])
			continue
		}
		index[id] = len(nodes)
		nodes = append(nodes, Node{
			ID:         id,
			Name:       name,
			Weight:     weight,
			Category:   category,
			References: mergeReferences(nil, labels[name]),
		})
	}
	return nodes
}

func mergeReferences(dst, src []string) []string {
	if dst == nil {
		dst = []string{}
	}
	seen := make(map[string]struct{}, len(dst)+len(src))
	for _, ref := range dst {
		seen[ref] = struct{}{}
	}
	for _, ref := range src {
		if _, dup := seen[ref]; dup {
			continue
		}
		seen[ref] = struct{}{}
		dst = append(dst, ref)
	}
	return dst
}

// intersect links each (a, b) pair sharing at least one reference. Node
// references are already distinct, so the count is a set intersection.
func intersect(left, right []Node, limit int, label string) []Edge {
	edges := make([]Edge, 0)
	for _, a := range left {
		set := make(map[string]struct{}, len(a.References))
		for _, ref := range a.References {
			set[ref] = struct{}{}
		}
		for _, b := range right {
			shared := 0
			for _, ref := range b.References {
				if _, ok := set[ref]; ok {
					shared++
				}
			}
			if shared == 0 {
				continue
			}
			edges = append(edges, Edge{Source: a.ID, Target: b.ID, Weight: min(shared, limit), Label: label})
		}
	}
	return edges
}

// Graph sources reported in Result.
const (
	SourceMetadata = "metadata"
	SourceFallback = "fallback"
)

// Result is a built graph with the data it came from. Cause holds the
// recovered metadata failure when Source is SourceFallback.
type Result struct {
	Graph  Graph
	Source string
	Cause  error
}

// Recorder observes graph builds, typically for metrics.
type Recorder interface {
	GraphBuilt(source string)
}

// Builder loads metadata and builds a fresh graph on every call.
type Builder struct {
	source   Source
	cfg      *Config
	logger   *zap.Logger
	recorder Recorder
}

func NewBuilder(source Source, cfg *Config, logger *zap.Logger, recorder Recorder) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{source: source, cfg: cfg, logger: logger, recorder: recorder}
}

// Graph never fails: unreadable metadata is logged and replaced by the
// fallback graph.
func (b *Builder) Graph(ctx context.Context) Result {
	result := b.build(ctx)
	if b.recorder != nil {
		b.recorder.GraphBuilt(result.Source)
	}
	return result
}

func (b *Builder) build(ctx context.Context) Result {
	if b.source == nil {
		return Result{Graph: b.cfg.Fallback(), Source: SourceFallback}
	}

	maps, err := b.source.Load(ctx)
	if err != nil {
		cause := &tags.Error{Kind: tags.KindUpstreamData, Message: "graph metadata unreadable", Err: err}
		b.logger.Warn("explorer metadata unavailable, serving fallback graph",
			zap.String("source", b.source.String()),
			zap.Error(cause),
		)
		return Result{Graph: b.cfg.Fallback(), Source: SourceFallback, Cause: cause}
	}

	g := Build(maps, b.cfg)
	if err := g.Validate(); err != nil {
		cause := &tags.Error{Kind: tags.KindUpstreamData, Message: "graph metadata produced an invalid graph", Err: err}
		b.logger.Error("explorer graph failed validation, serving fallback graph",
			zap.String("source", b.source.String()),
			zap.Error(cause),
		)
		return Result{Graph: b.cfg.Fallback(), Source: SourceFallback, Cause: cause}
	}
	return Result{Graph: g, Source: SourceMetadata}
}

// Node returns one node and its neighborhood from a freshly built graph.
func (b *Builder) Node(ctx context.Context, id string) (Neighborhood, error) {
	result := b.Graph(ctx)
	hood, ok := result.Graph.Neighborhood(id)
	if !ok {
		return Neighborhood{}, &tags.Error{Kind: tags.KindNotFound, Message: "explorer node not found"}
	}
	return hood, nil
}
