package aggregates

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/Eashwar-S/knowledge-map/domain/core/entities"
	pkgerrors "github.com/Eashwar-S/knowledge-map/pkg/errors"
)

// Graph is the document for one named graph: its nodes and edges in
// insertion order. A Graph value is never modified after construction;
// every operation returns a new Graph and leaves the receiver untouched,
// so a committed document can be shared between readers freely.
//
// Invariants held by every Graph reachable through this package:
//   - node ids are unique
//   - every edge endpoint is a node of the same graph
type Graph struct {
	name  string
	nodes []entities.Node
	edges []entities.Edge
}

// NewGraph creates an empty graph
func NewGraph(name string) *Graph {
	return &Graph{
		name:  name,
		nodes: []entities.Node{},
		edges: []entities.Edge{},
	}
}

// Name returns the graph name
func (g *Graph) Name() string { return g.name }

// Nodes returns a copy of the nodes in insertion order
func (g *Graph) Nodes() []entities.Node {
	out := make([]entities.Node, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// Edges returns a copy of the edges in insertion order
func (g *Graph) Edges() []entities.Edge {
	out := make([]entities.Edge, len(g.edges))
	copy(out, g.edges)
	return out
}

// NodeCount returns the number of nodes
func (g *Graph) NodeCount() int { return len(g.nodes) }

// EdgeCount returns the number of edges
func (g *Graph) EdgeCount() int { return len(g.edges) }

// Node looks up a node by id
func (g *Graph) Node(id entities.NodeID) (entities.Node, bool) {
	if i := g.indexOf(id); i >= 0 {
		return g.nodes[i], true
	}
	return entities.Node{}, false
}

// HasNode reports whether id is a node of the graph
func (g *Graph) HasNode(id entities.NodeID) bool {
	return g.indexOf(id) >= 0
}

// Incident lists the edges that start or end at id, in insertion order
func (g *Graph) Incident(id entities.NodeID) []entities.Edge {
	var out []entities.Edge
	for _, e := range g.edges {
		if e.Touches(id) {
			out = append(out, e)
		}
	}
	return out
}

func (g *Graph) indexOf(id entities.NodeID) int {
	for i := range g.nodes {
		if g.nodes[i].ID == id {
			return i
		}
	}
	return -1
}

// with builds a sibling document sharing the name
func (g *Graph) with(nodes []entities.Node, edges []entities.Edge) *Graph {
	return &Graph{name: g.name, nodes: nodes, edges: edges}
}

// AddNode appends a node with empty content. Fails with DUPLICATE_ID when
// the id is already taken.
func (g *Graph) AddNode(id entities.NodeID, label string, nodeType entities.NodeType) (*Graph, entities.Node, error) {
	if g.HasNode(id) {
		return nil, entities.Node{}, pkgerrors.NewDuplicateIDError(g.name, id.String())
	}

	node := entities.NewNode(id, label, nodeType)
	nodes := make([]entities.Node, len(g.nodes), len(g.nodes)+1)
	copy(nodes, g.nodes)
	nodes = append(nodes, node)

	return g.with(nodes, g.Edges()), node, nil
}

// AddEdge appends a directed edge. Fails with UNKNOWN_NODE, naming the
// first missing endpoint, when either endpoint is absent.
func (g *Graph) AddEdge(from, to entities.NodeID, label string) (*Graph, entities.Edge, error) {
	for _, id := range []entities.NodeID{from, to} {
		if !g.HasNode(id) {
			return nil, entities.Edge{}, pkgerrors.NewUnknownNodeError(g.name, id.String())
		}
	}

	edge := entities.NewEdge(from, to, label)
	edges := make([]entities.Edge, len(g.edges), len(g.edges)+1)
	copy(edges, g.edges)
	edges = append(edges, edge)

	return g.with(g.Nodes(), edges), edge, nil
}

// SetNodeContent replaces the note of one node. No other field changes.
func (g *Graph) SetNodeContent(id entities.NodeID, content string) (*Graph, entities.Node, error) {
	i := g.indexOf(id)
	if i < 0 {
		return nil, entities.Node{}, pkgerrors.NewNodeNotFoundError(g.name, id.String())
	}

	nodes := g.Nodes()
	nodes[i] = nodes[i].WithContent(content)

	return g.with(nodes, g.Edges()), nodes[i], nil
}

// RemoveNode drops a node together with every edge touching it. Removing
// an absent id is a no-op that returns the receiver and removed == false.
func (g *Graph) RemoveNode(id entities.NodeID) (next *Graph, cascaded []entities.Edge, removed bool) {
	i := g.indexOf(id)
	if i < 0 {
		return g, nil, false
	}

	nodes := make([]entities.Node, 0, len(g.nodes)-1)
	nodes = append(nodes, g.nodes[:i]...)
	nodes = append(nodes, g.nodes[i+1:]...)

	edges := make([]entities.Edge, 0, len(g.edges))
	for _, e := range g.edges {
		if e.Touches(id) {
			cascaded = append(cascaded, e)
			continue
		}
		edges = append(edges, e)
	}

	return g.with(nodes, edges), cascaded, true
}

// RemoveEdge drops every edge from -> to regardless of label. When none
// match the receiver is returned unchanged.
func (g *Graph) RemoveEdge(from, to entities.NodeID) (*Graph, []entities.Edge) {
	var removed []entities.Edge
	edges := make([]entities.Edge, 0, len(g.edges))
	for _, e := range g.edges {
		if e.Connects(from, to) {
			removed = append(removed, e)
			continue
		}
		edges = append(edges, e)
	}
	if len(removed) == 0 {
		return g, nil
	}
	return g.with(g.Nodes(), edges), removed
}

// Validate checks node id uniqueness and referential integrity
func (g *Graph) Validate() error {
	seen := make(map[entities.NodeID]struct{}, len(g.nodes))
	for _, n := range g.nodes {
		if n.ID == "" {
			return fmt.Errorf("graph %q: node with empty id", g.name)
		}
		if _, dup := seen[n.ID]; dup {
			return pkgerrors.NewDuplicateIDError(g.name, n.ID.String())
		}
		seen[n.ID] = struct{}{}
	}
	for _, e := range g.edges {
		for _, id := range []entities.NodeID{e.From, e.To} {
			if _, ok := seen[id]; !ok {
				return pkgerrors.NewUnknownNodeError(g.name, id.String())
			}
		}
	}
	return nil
}

// Equal reports whether both documents have the same name, nodes and edges
// in the same order.
func (g *Graph) Equal(other *Graph) bool {
	if g == nil || other == nil {
		return g == other
	}
	if g.name != other.name || len(g.nodes) != len(other.nodes) || len(g.edges) != len(other.edges) {
		return false
	}
	for i := range g.nodes {
		if g.nodes[i] != other.nodes[i] {
			return false
		}
	}
	for i := range g.edges {
		if g.edges[i] != other.edges[i] {
			return false
		}
	}
	return true
}

type graphJSON struct {
	Name  string          `json:"name"`
	Nodes []entities.Node `json:"nodes"`
	Edges []entities.Edge `json:"edges"`
}

// MarshalJSON encodes the document. Empty collections encode as [].
func (g *Graph) MarshalJSON() ([]byte, error) {
	doc := graphJSON{Name: g.name, Nodes: g.nodes, Edges: g.edges}
	if doc.Nodes == nil {
		doc.Nodes = []entities.Node{}
	}
	if doc.Edges == nil {
		doc.Edges = []entities.Edge{}
	}
	return json.Marshal(doc)
}

// UnmarshalJSON decodes a document and rejects one that breaks the
// graph invariants.
func (g *Graph) UnmarshalJSON(data []byte) error {
	var doc graphJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	decoded := Graph{name: doc.Name, nodes: doc.Nodes, edges: doc.Edges}
	if decoded.nodes == nil {
		decoded.nodes = []entities.Node{}
	}
	if decoded.edges == nil {
		decoded.edges = []entities.Edge{}
	}
	if err := decoded.Validate(); err != nil {
		return fmt.Errorf("decode graph %q: %w", doc.Name, err)
	}
	*g = decoded
	return nil
}

// Checksum is the hex sha256 of the canonical JSON encoding
func (g *Graph) Checksum() string {
	data, err := g.MarshalJSON()
	if err != nil {
		// Nodes and edges are plain strings; encoding cannot fail.
		panic(fmt.Sprintf("encode graph %q: %v", g.name, err))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
