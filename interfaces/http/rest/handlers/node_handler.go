package handlers

import (
	"net/http"

	"github.com/Eashwar-S/knowledge-map/application/services"
	"github.com/Eashwar-S/knowledge-map/pkg/common"
	pkgerrors "github.com/Eashwar-S/knowledge-map/pkg/errors"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// NodeHandler handles node-related HTTP requests
type NodeHandler struct {
	base
}

// NewNodeHandler creates a new node handler
func NewNodeHandler(service *services.GraphService, errHandler *pkgerrors.ErrorHandler, logger *zap.Logger, maxBodyBytes int64) *NodeHandler {
	return &NodeHandler{base: newBase(service, errHandler, logger, maxBodyBytes)}
}

// AddNodeRequest represents the request body for adding a node
type AddNodeRequest struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Type  string `json:"type"`
}

// SetContentRequest represents the request body for replacing a node's
// content. Content is a pointer so an absent field can be told apart from
// an empty note.
type SetContentRequest struct {
	Content *string `json:"content"`
}

// AddNode handles POST /graphs/{graph}/nodes
func (h *NodeHandler) AddNode(w http.ResponseWriter, r *http.Request) {
	var req AddNodeRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	node, err := h.service.AddNode(r.Context(), graphParam(r), req.ID, req.Label, req.Type)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	common.RespondWithMeta(w, http.StatusCreated, node, meta(r, 0, 0))
}

// SetContent handles PUT /graphs/{graph}/nodes/{nodeID}/content
func (h *NodeHandler) SetContent(w http.ResponseWriter, r *http.Request) {
	var req SetContentRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.Content == nil {
		h.fail(w, r, pkgerrors.NewValidationError("content is required"))
		return
	}

	res, err := h.service.SetNodeContent(r.Context(), graphParam(r), chi.URLParam(r, "nodeID"), *req.Content)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	common.RespondWithMeta(w, http.StatusOK, ackOf(res), meta(r, res.Version, 0))
}

// RemoveNode handles DELETE /graphs/{graph}/nodes/{nodeID}
func (h *NodeHandler) RemoveNode(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.RemoveNode(r.Context(), graphParam(r), chi.URLParam(r, "nodeID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	common.RespondWithMeta(w, http.StatusOK, ackOf(res), meta(r, res.Version, 0))
}
