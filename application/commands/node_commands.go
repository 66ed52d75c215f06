package commands

import (
	"github.com/Eashwar-S/knowledge-map/domain/core/entities"
	"github.com/Eashwar-S/knowledge-map/domain/versioning"
)

// AddNodeCommand represents the command to add a node to a graph
type AddNodeCommand struct {
	Graph string `json:"graph" validate:"required,graphname"`
	ID    string `json:"id" validate:"required,min=1,max=256"`
	Label string `json:"label" validate:"required,max=1024"`
	Type  string `json:"type" validate:"required,oneof=topic block item"`
}

func (c AddNodeCommand) GraphName() string { return c.Graph }
func (c AddNodeCommand) Validate() error   { return validate(c) }

func (c AddNodeCommand) Operation() versioning.Operation {
	return versioning.Operation{
		Kind:     versioning.OpAddNode,
		NodeID:   entities.NodeID(c.ID),
		Label:    c.Label,
		NodeType: entities.NodeType(c.Type),
	}
}

// SetNodeContentCommand replaces the note of a node. Empty content clears it.
type SetNodeContentCommand struct {
	Graph   string `json:"graph" validate:"required,graphname"`
	NodeID  string `json:"node_id" validate:"required,min=1,max=256"`
	Content string `json:"content" validate:"max=1048576"`
}

func (c SetNodeContentCommand) GraphName() string { return c.Graph }
func (c SetNodeContentCommand) Validate() error   { return validate(c) }

func (c SetNodeContentCommand) Operation() versioning.Operation {
	return versioning.Operation{
		Kind:    versioning.OpSetNodeContent,
		NodeID:  entities.NodeID(c.NodeID),
		Content: c.Content,
	}
}

// RemoveNodeCommand removes a node and its incident edges
type RemoveNodeCommand struct {
	Graph  string `json:"graph" validate:"required,graphname"`
	NodeID string `json:"node_id" validate:"required,min=1,max=256"`
}

func (c RemoveNodeCommand) GraphName() string { return c.Graph }
func (c RemoveNodeCommand) Validate() error   { return validate(c) }

func (c RemoveNodeCommand) Operation() versioning.Operation {
	return versioning.Operation{Kind: versioning.OpRemoveNode, NodeID: entities.NodeID(c.NodeID)}
}
