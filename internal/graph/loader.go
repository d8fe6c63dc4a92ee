package graph

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// ErrNotLoaded reports that no graph snapshot exists at the configured
// path. Callers branch on it to suggest running the ingest step.
var ErrNotLoaded = errors.New("graph snapshot missing")

// Graph is the immutable node and edge set loaded from a snapshot file.
type Graph struct {
	nodes map[string]*Node
	order []string
	edges []*Edge
}

// Node returns the node with the given id, nil when absent.
func (g *Graph) Node(id string) *Node { return g.nodes[id] }

// Nodes returns all nodes in snapshot order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id])
	}
	return out
}

// Edges returns all edges in snapshot order.
func (g *Graph) Edges() []*Edge { return g.edges }

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int { return len(g.order) }

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int { return len(g.edges) }

// UnmarshalJSON decodes an attribute map, converting each JSON scalar
// into a tagged Value and dropping nested shapes.
func (a *Attributes) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Attributes, len(raw))
	for k, v := range raw {
		val := FromAny(v)
		if val.IsAbsent() {
			continue
		}
		out[k] = val
	}
	*a = out
	return nil
}

// MarshalJSON renders the attribute map back to plain JSON scalars.
func (a Attributes) MarshalJSON() ([]byte, error) {
	raw := make(map[string]any, len(a))
	for k, v := range a {
		switch v.Kind() {
		case KindString:
			raw[k] = v.str
		case KindNumber:
			raw[k] = v.num
		case KindBool:
			raw[k] = v.b
		}
	}
	return json.Marshal(raw)
}

type snapshot struct {
	Nodes []*Node `json:"nodes"`
	Edges []*Edge `json:"edges"`
}

// Load reads and validates a graph snapshot from r. Every edge endpoint
// must name an existing node and every node id must be unique; a
// malformed snapshot is rejected rather than partially loaded.
func Load(r io.Reader, logger *logrus.Logger) (*Graph, error) {
	if logger == nil {
		logger = logrus.New()
	}
	var snap snapshot
	dec := json.NewDecoder(r)
	if err := dec.Decode(&snap); err != nil {
		return nil, fmt.Errorf("decoding graph snapshot: %w", err)
	}

	g := &Graph{nodes: make(map[string]*Node, len(snap.Nodes))}
	for i, n := range snap.Nodes {
		if n.ID == "" {
			return nil, fmt.Errorf("node %d has an empty id", i)
		}
		if !n.Type.Valid() {
			return nil, fmt.Errorf("node %q has unknown type %q", n.ID, n.Type)
		}
		if _, dup := g.nodes[n.ID]; dup {
			return nil, fmt.Errorf("duplicate node id %q", n.ID)
		}
		if n.Attributes == nil {
			n.Attributes = Attributes{}
		}
		g.nodes[n.ID] = n
		g.order = append(g.order, n.ID)
	}

	for i, e := range snap.Edges {
		if e.Type != EdgeDescribes && e.Type != EdgeReportsOn {
			return nil, fmt.Errorf("edge %d has unknown type %q", i, e.Type)
		}
		if _, ok := g.nodes[e.Source]; !ok {
			return nil, fmt.Errorf("edge %d references missing source node %q", i, e.Source)
		}
		if _, ok := g.nodes[e.Target]; !ok {
			return nil, fmt.Errorf("edge %d references missing target node %q", i, e.Target)
		}
		g.edges = append(g.edges, e)
	}

	logger.WithFields(logrus.Fields{
		"nodes": len(g.order),
		"edges": len(g.edges),
	}).Info("Knowledge graph loaded")
	return g, nil
}

// LoadFile loads a graph snapshot from disk.
func LoadFile(path string, logger *logrus.Logger) (*Graph, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotLoaded, path)
		}
		return nil, fmt.Errorf("opening graph snapshot: %w", err)
	}
	defer f.Close()
	g, err := Load(f, logger)
	if err != nil {
		return nil, fmt.Errorf("loading graph snapshot %s: %w", path, err)
	}
	return g, nil
}

// Write serializes the graph back into snapshot JSON. Used by the
// ingest pipeline when rebuilding the snapshot from raw sources.
func (g *Graph) Write(w io.Writer) error {
	snap := snapshot{Nodes: g.Nodes(), Edges: g.edges}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(&snap); err != nil {
		return fmt.Errorf("encoding graph snapshot: %w", err)
	}
	return nil
}

// Build assembles a graph in memory, applying the same validation as
// Load. Node and edge order is preserved.
func Build(nodes []*Node, edges []*Edge) (*Graph, error) {
	g := &Graph{nodes: make(map[string]*Node, len(nodes))}
	for i, n := range nodes {
		if n.ID == "" {
			return nil, fmt.Errorf("node %d has an empty id", i)
		}
		if !n.Type.Valid() {
			return nil, fmt.Errorf("node %q has unknown type %q", n.ID, n.Type)
		}
		if _, dup := g.nodes[n.ID]; dup {
			return nil, fmt.Errorf("duplicate node id %q", n.ID)
		}
		if n.Attributes == nil {
			n.Attributes = Attributes{}
		}
		g.nodes[n.ID] = n
		g.order = append(g.order, n.ID)
	}
	for i, e := range edges {
		if e.Type != EdgeDescribes && e.Type != EdgeReportsOn {
			return nil, fmt.Errorf("edge %d has unknown type %q", i, e.Type)
		}
		if _, ok := g.nodes[e.Source]; !ok {
			return nil, fmt.Errorf("edge %d references missing source node %q", i, e.Source)
		}
		if _, ok := g.nodes[e.Target]; !ok {
			return nil, fmt.Errorf("edge %d references missing target node %q", i, e.Target)
		}
		g.edges = append(g.edges, e)
	}
	return g, nil
}
