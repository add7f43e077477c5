package explorer

import (
	"errors"
	"fmt"
)

type Node struct {
	ID         string   `json:"id" yaml:"id"`
	Name       string   `json:"name" yaml:"name"`
	Weight     int      `json:"weight" yaml:"weight"`
	Category   Category `json:"category" yaml:"category"`
	References []string `json:"references" yaml:"references"`
}

type Edge struct {
	Source string `json:"source" yaml:"source"`
	Target string `json:"target" yaml:"target"`
	Weight int    `json:"weight" yaml:"weight"`
	Label  string `json:"label" yaml:"label"`
}

type Graph struct {
	Nodes []Node `json:"nodes" yaml:"nodes"`
	Links []Edge `json:"links" yaml:"links"`
}

// Validate checks that node ids are unique, every edge joins two existing
// nodes, and no unordered pair is linked twice.
func (g Graph) Validate() error {
	ids := make(map[string]struct{}, len(g.Nodes))
	for _, node := range g.Nodes {
		if node.ID == "" {
			return errors.New("node with empty id")
		}
		if !node.Category.Valid() {
			return fmt.Errorf("node %s: invalid category %q", node.ID, node.Category)
		}
		if _, dup := ids[node.ID]; dup {
			return fmt.Errorf("duplicate node id %s", node.ID)
		}
		ids[node.ID] = struct{}{}
	}

	pairs := make(map[[2]string]struct{}, len(g.Links))
	for _, edge := range g.Links {
		if _, ok := ids[edge.Source]; !ok {
			return fmt.Errorf("edge %s->%s: unknown source", edge.Source, edge.Target)
		}
		if _, ok := ids[edge.Target]; !ok {
			return fmt.Errorf("edge %s->%s: unknown target", edge.Source, edge.Target)
		}
		if edge.Source == edge.Target {
			return fmt.Errorf("edge %s: self loop", edge.Source)
		}
		if edge.Weight < 1 {
			return fmt.Errorf("edge %s->%s: weight must be positive", edge.Source, edge.Target)
		}
		key := pairKey(edge.Source, edge.Target)
		if _, dup := pairs[key]; dup {
			return fmt.Errorf("duplicate edge between %s and %s", key[0], key[1])
		}
		pairs[key] = struct{}{}
	}
	return nil
}

func pairKey(a, b string) [2]string {
	if a > b {
		a, b = b, a
	}
	return [2]string{a, b}
}

// Clone returns a deep copy so callers cannot mutate shared graphs.
func (g Graph) Clone() Graph {
	out := Graph{
		Nodes: make([]Node, len(g.Nodes)),
		Links: make([]Edge, len(g.Links)),
	}
	for i, node := range g.Nodes {
		node.References = append([]string(nil), node.References...)
		if node.References == nil {
			node.References = []string{}
		}
		out.Nodes[i] = node
	}
	copy(out.Links, g.Links)
	return out
}

// Neighborhood is one node with its incident edges and the nodes at their
// other ends.
type Neighborhood struct {
	Node      Node   `json:"node"`
	Links     []Edge `json:"links"`
	Neighbors []Node `json:"neighbors"`
}

func (g Graph) Neighborhood(id string) (Neighborhood, bool) {
	byID := make(map[string]Node, len(g.Nodes))
	for _, node := range g.Nodes {
		byID[node.ID] = node
	}
	center, ok := byID[id]
	if !ok {
		return Neighborhood{}, false
	}

	hood := Neighborhood{Node: center, Links: []Edge{}, Neighbors: []Node{}}
	seen := make(map[string]struct{})
	for _, edge := range g.Links {
		var other string
		switch id {
		case edge.Source:
			other = edge.Target
		case edge.Target:
			other = edge.Source
		default:
			continue
		}
		hood.Links = append(hood.Links, edge)
		if _, dup := seen[other]; dup {
			continue
		}
		seen[other] = struct{}{}
		hood.Neighbors = append(hood.Neighbors, byID[other])
	}
	return hood, true
}
