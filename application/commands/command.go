package commands

import (
	"github.com/Eashwar-S/knowledge-map/domain/versioning"
	pkgerrors "github.com/Eashwar-S/knowledge-map/pkg/errors"
	"github.com/Eashwar-S/knowledge-map/pkg/utils"
)

// Command is a mutation request against one graph
type Command interface {
	// GraphName is the graph the command mutates
	GraphName() string
	// Validate checks required fields. It never touches storage.
	Validate() error
	// Operation is the structured form recorded in the history
	Operation() versioning.Operation
}

func validate(cmd interface{}) error {
	if err := utils.ValidateStruct(cmd); err != nil {
		return pkgerrors.NewValidationError(err.Error())
	}
	return nil
}

// CreateGraphCommand creates a graph explicitly. Creating an existing
// graph succeeds and is still recorded.
type CreateGraphCommand struct {
	Graph string `json:"graph" validate:"required,graphname"`
}

func (c CreateGraphCommand) GraphName() string { return c.Graph }
func (c CreateGraphCommand) Validate() error   { return validate(c) }

func (c CreateGraphCommand) Operation() versioning.Operation {
	return versioning.Operation{Kind: versioning.OpCreateGraph}
}
