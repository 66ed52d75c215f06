package handlers

import (
	"net/http"

	"github.com/Eashwar-S/knowledge-map/application/services"
	"github.com/Eashwar-S/knowledge-map/pkg/common"
	pkgerrors "github.com/Eashwar-S/knowledge-map/pkg/errors"

	"go.uber.org/zap"
)

// GraphHandler serves graph documents, their history and verification
type GraphHandler struct {
	base
}

// NewGraphHandler creates a new graph handler
func NewGraphHandler(service *services.GraphService, errHandler *pkgerrors.ErrorHandler, logger *zap.Logger, maxBodyBytes int64) *GraphHandler {
	return &GraphHandler{base: newBase(service, errHandler, logger, maxBodyBytes)}
}

// ListGraphs handles GET /graphs
func (h *GraphHandler) ListGraphs(w http.ResponseWriter, r *http.Request) {
	names, err := h.service.ListGraphs(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	common.RespondWithMeta(w, http.StatusOK, names, meta(r, 0, len(names)))
}

// GetGraph handles GET /graph?graph=name. No name reads the default graph.
func (h *GraphHandler) GetGraph(w http.ResponseWriter, r *http.Request) {
	h.readGraph(w, r, r.URL.Query().Get("graph"))
}

// GetNamedGraph handles GET /graphs/{graph}
func (h *GraphHandler) GetNamedGraph(w http.ResponseWriter, r *http.Request) {
	h.readGraph(w, r, graphParam(r))
}

func (h *GraphHandler) readGraph(w http.ResponseWriter, r *http.Request, name string) {
	snap, err := h.service.ReadGraph(r.Context(), name)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	common.RespondWithMeta(w, http.StatusOK, snap.Graph, meta(r, snap.Version, snap.Graph.NodeCount()))
}

// CreateGraph handles POST /graphs/{graph}
func (h *GraphHandler) CreateGraph(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.CreateGraph(r.Context(), graphParam(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	common.RespondWithMeta(w, http.StatusCreated, ackOf(res), meta(r, res.Version, 0))
}

// History handles GET /graphs/{graph}/history?page=&page_size=&order=
func (h *GraphHandler) History(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.History(r.Context(), graphParam(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var version uint64
	if n := len(records); n > 0 {
		version = records[n-1].Sequence
	}

	params := common.ExtractPaginationParams(r)
	page := common.Paginate(records, params)
	m := meta(r, version, len(page))
	m.Pagination = common.BuildPaginationMeta(params.Page, params.PageSize, len(records))
	common.RespondWithMeta(w, http.StatusOK, page, m)
}

// Verify handles GET /graphs/{graph}/verify
func (h *GraphHandler) Verify(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.Verify(r.Context(), graphParam(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !report.Match {
		h.logger.Warn("Graph history does not match snapshot",
			zap.String("graph", report.GraphName),
			zap.Uint64s("gaps", report.Gaps),
			zap.Uint64s("divergent", report.Divergent),
		)
	}
	common.RespondWithMeta(w, http.StatusOK, report, meta(r, report.SnapshotVersion, report.Records))
}
