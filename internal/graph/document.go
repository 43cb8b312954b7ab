package graph

import (
	"encoding/json"

	"gopkg.in/yaml.v3"
)

// Document is the serialized form of a graph. Data edges are implied by
// each node's DependsOn; Edges lists only annotated edges.
type Document struct {
	Nodes []Node `json:"nodes" yaml:"nodes"`
	Edges []Edge `json:"edges,omitempty" yaml:"edges,omitempty"`
}

// Document returns the serialized form of g.
func (g *Graph) Document() Document {
	doc := Document{Nodes: g.Nodes()}
	for _, e := range g.Edges() {
		if e.Type != EdgeData {
			doc.Edges = append(doc.Edges, e)
		}
	}
	return doc
}

// Graph builds and validates the graph described by d.
func (d Document) Graph() (*Graph, error) {
	return Build(d.Nodes, d.Edges)
}

// MarshalJSON implements json.Marshaler.
func (g *Graph) MarshalJSON() ([]byte, error) {
	return json.Marshal(g.Document())
}

// UnmarshalJSON implements json.Unmarshaler.
func (g *Graph) UnmarshalJSON(data []byte) error {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	built, err := doc.Graph()
	if err != nil {
		return err
	}
	*g = *built
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (g *Graph) MarshalYAML() (interface{}, error) {
	return g.Document(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (g *Graph) UnmarshalYAML(value *yaml.Node) error {
	var doc Document
	if err := value.Decode(&doc); err != nil {
		return err
	}
	built, err := doc.Graph()
	if err != nil {
		return err
	}
	*g = *built
	return nil
}
