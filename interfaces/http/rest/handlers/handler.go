// Package handlers holds the HTTP handlers of the graph API. Every response
// uses the envelope of pkg/common; failures go through the shared
// ErrorHandler so the envelope code is the AppError type.
package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/Eashwar-S/knowledge-map/application/services"
	"github.com/Eashwar-S/knowledge-map/pkg/common"
	pkgerrors "github.com/Eashwar-S/knowledge-map/pkg/errors"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// DefaultMaxBodyBytes caps request bodies when no limit is configured
const DefaultMaxBodyBytes int64 = 2 << 20

// base carries what every handler needs
type base struct {
	service      *services.GraphService
	errors       *pkgerrors.ErrorHandler
	logger       *zap.Logger
	maxBodyBytes int64
}

func newBase(service *services.GraphService, errHandler *pkgerrors.ErrorHandler, logger *zap.Logger, maxBodyBytes int64) base {
	if logger == nil {
		logger = zap.NewNop()
	}
	if errHandler == nil {
		errHandler = pkgerrors.NewErrorHandler(logger, false)
	}
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	return base{service: service, errors: errHandler, logger: logger, maxBodyBytes: maxBodyBytes}
}

// decode reads a JSON body. Malformed, oversized or unknown-field bodies
// are validation failures.
func (b base) decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	if err := common.ParseJSONBody(w, r, v, b.maxBodyBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return pkgerrors.NewValidationError(fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
		}
		return pkgerrors.NewValidationError("invalid request body: " + err.Error())
	}
	return nil
}

func (b base) fail(w http.ResponseWriter, r *http.Request, err error) {
	b.errors.Handle(w, r, err)
}

// graphParam is the {graph} path segment
func graphParam(r *http.Request) string {
	return chi.URLParam(r, "graph")
}

// MutationAck acknowledges a committed mutation
type MutationAck struct {
	Graph    string `json:"graph"`
	Version  uint64 `json:"version"`
	Sequence uint64 `json:"sequence"`
	Changed  bool   `json:"changed"`
	Summary  string `json:"summary"`
}

func ackOf(res *services.MutationResult) MutationAck {
	return MutationAck{
		Graph:    res.GraphName,
		Version:  res.Version,
		Sequence: res.Record.Sequence,
		Changed:  res.Changed,
		Summary:  res.Record.Summary,
	}
}

func meta(r *http.Request, version uint64, count int) *common.MetaInfo {
	return &common.MetaInfo{RequestID: common.ExtractRequestID(r), Version: version, Count: count}
}
