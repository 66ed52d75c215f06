package versioning

import (
	"fmt"

	"github.com/Eashwar-S/knowledge-map/domain/core/aggregates"
	"github.com/Eashwar-S/knowledge-map/domain/core/entities"
	pkgerrors "github.com/Eashwar-S/knowledge-map/pkg/errors"
)

// OperationKind names a graph mutation
type OperationKind string

const (
	OpCreateGraph    OperationKind = "create_graph"
	OpAddNode        OperationKind = "add_node"
	OpAddEdge        OperationKind = "add_edge"
	OpSetNodeContent OperationKind = "set_node_content"
	OpRemoveNode     OperationKind = "remove_node"
	OpRemoveEdge     OperationKind = "remove_edge"
)

// Operation is the structured form of one mutation request. It is stored
// in the history so the log can be replayed.
type Operation struct {
	Kind     OperationKind     `json:"kind"`
	NodeID   entities.NodeID   `json:"node_id,omitempty"`
	Label    string            `json:"label,omitempty"`
	NodeType entities.NodeType `json:"node_type,omitempty"`
	Content  string            `json:"content,omitempty"`
	From     entities.NodeID   `json:"from,omitempty"`
	To       entities.NodeID   `json:"to,omitempty"`
}

// Change describes what applying an operation did
type Change struct {
	Node         *entities.Node
	Edge         *entities.Edge
	RemovedEdges []entities.Edge
	Changed      bool
	Summary      string
}

// Apply runs op against g and returns the next document. Structural
// failures leave g untouched and return no document.
func Apply(g *aggregates.Graph, op Operation) (*aggregates.Graph, Change, error) {
	name := g.Name()

	switch op.Kind {
	case OpCreateGraph:
		return g, Change{Summary: fmt.Sprintf("Created new graph %s", name)}, nil

	case OpAddNode:
		next, node, err := g.AddNode(op.NodeID, op.Label, op.NodeType)
		if err != nil {
			return nil, Change{}, err
		}
		return next, Change{
			Node:    &node,
			Changed: true,
			Summary: fmt.Sprintf("Added node %s (%s) in graph %s", node.ID, node.Label, name),
		}, nil

	case OpAddEdge:
		next, edge, err := g.AddEdge(op.From, op.To, op.Label)
		if err != nil {
			return nil, Change{}, err
		}
		summary := fmt.Sprintf("Added edge from %s to %s in graph %s", edge.From, edge.To, name)
		if edge.Label != "" {
			summary = fmt.Sprintf("Added edge from %s to %s (%s) in graph %s", edge.From, edge.To, edge.Label, name)
		}
		return next, Change{Edge: &edge, Changed: true, Summary: summary}, nil

	case OpSetNodeContent:
		next, node, err := g.SetNodeContent(op.NodeID, op.Content)
		if err != nil {
			return nil, Change{}, err
		}
		return next, Change{
			Node:    &node,
			Changed: true,
			Summary: fmt.Sprintf("Updated note for node %s in graph %s", node.ID, name),
		}, nil

	case OpRemoveNode:
		next, cascaded, removed := g.RemoveNode(op.NodeID)
		summary := fmt.Sprintf("Deleted node %s from graph %s", op.NodeID, name)
		switch {
		case !removed:
			summary += " (no changes)"
		case len(cascaded) > 0:
			summary += fmt.Sprintf(" with %d incident edge(s)", len(cascaded))
		}
		return next, Change{RemovedEdges: cascaded, Changed: removed, Summary: summary}, nil

	case OpRemoveEdge:
		next, removed := g.RemoveEdge(op.From, op.To)
		summary := fmt.Sprintf("Deleted edge from %s to %s from graph %s", op.From, op.To, name)
		switch n := len(removed); {
		case n == 0:
			summary += " (no changes)"
		case n > 1:
			summary += fmt.Sprintf(" (%d edges)", n)
		}
		return next, Change{RemovedEdges: removed, Changed: len(removed) > 0, Summary: summary}, nil

	default:
		return nil, Change{}, pkgerrors.NewValidationError(fmt.Sprintf("unknown operation kind %q", op.Kind))
	}
}
