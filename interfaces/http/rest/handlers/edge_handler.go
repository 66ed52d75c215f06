package handlers

import (
	"net/http"

	"github.com/Eashwar-S/knowledge-map/application/services"
	"github.com/Eashwar-S/knowledge-map/pkg/common"
	pkgerrors "github.com/Eashwar-S/knowledge-map/pkg/errors"

	"go.uber.org/zap"
)

// EdgeHandler handles edge-related HTTP requests
type EdgeHandler struct {
	base
}

// NewEdgeHandler creates a new edge handler
func NewEdgeHandler(service *services.GraphService, errHandler *pkgerrors.ErrorHandler, logger *zap.Logger, maxBodyBytes int64) *EdgeHandler {
	return &EdgeHandler{base: newBase(service, errHandler, logger, maxBodyBytes)}
}

// AddEdgeRequest represents the request body for adding an edge
type AddEdgeRequest struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Label string `json:"label,omitempty"`
}

// AddEdge handles POST /graphs/{graph}/edges
func (h *EdgeHandler) AddEdge(w http.ResponseWriter, r *http.Request) {
	var req AddEdgeRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	edge, err := h.service.AddEdge(r.Context(), graphParam(r), req.From, req.To, req.Label)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	common.RespondWithMeta(w, http.StatusCreated, edge, meta(r, 0, 0))
}

// RemoveEdge handles DELETE /graphs/{graph}/edges?from=&to=. Every edge
// between the two nodes goes, whatever its label.
func (h *EdgeHandler) RemoveEdge(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, err := h.service.RemoveEdge(r.Context(), graphParam(r), q.Get("from"), q.Get("to"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	common.RespondWithMeta(w, http.StatusOK, ackOf(res), meta(r, res.Version, 0))
}
