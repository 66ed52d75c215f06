package commands

import (
	"github.com/Eashwar-S/knowledge-map/domain/core/entities"
	"github.com/Eashwar-S/knowledge-map/domain/versioning"
)

// AddEdgeCommand connects two existing nodes. Label defaults to "".
type AddEdgeCommand struct {
	Graph string `json:"graph" validate:"required,graphname"`
	From  string `json:"from" validate:"required,min=1,max=256"`
	To    string `json:"to" validate:"required,min=1,max=256"`
	Label string `json:"label" validate:"max=1024"`
}

func (c AddEdgeCommand) GraphName() string { return c.Graph }
func (c AddEdgeCommand) Validate() error   { return validate(c) }

func (c AddEdgeCommand) Operation() versioning.Operation {
	return versioning.Operation{
		Kind:  versioning.OpAddEdge,
		From:  entities.NodeID(c.From),
		To:    entities.NodeID(c.To),
		Label: c.Label,
	}
}

// RemoveEdgeCommand removes every edge from -> to, whatever its label
type RemoveEdgeCommand struct {
	Graph string `json:"graph" validate:"required,graphname"`
	From  string `json:"from" validate:"required,min=1,max=256"`
	To    string `json:"to" validate:"required,min=1,max=256"`
}

func (c RemoveEdgeCommand) GraphName() string { return c.Graph }
func (c RemoveEdgeCommand) Validate() error   { return validate(c) }

func (c RemoveEdgeCommand) Operation() versioning.Operation {
	return versioning.Operation{
		Kind: versioning.OpRemoveEdge,
		From: entities.NodeID(c.From),
		To:   entities.NodeID(c.To),
	}
}
