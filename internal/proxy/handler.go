// Package proxy serves the internal query routing API behind the gatekeeper.
package proxy

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/devrev/dbrouter/internal/apierrors"
	"github.com/devrev/dbrouter/internal/middleware"
	"github.com/devrev/dbrouter/internal/model"
	"go.uber.org/zap"
)

// QueryRouter routes a statement to a backend and runs it there.
type QueryRouter interface {
	Write(ctx context.Context, text string) (model.QueryResult, error)
	Read(ctx context.Context, text string, policy model.Policy) (model.QueryResult, error)
}

// Handlers contains the query handlers and their dependencies.
type Handlers struct {
	router       QueryRouter
	errorHandler *apierrors.Handler
	logger       *zap.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(router QueryRouter, errorHandler *apierrors.Handler, logger *zap.Logger) *Handlers {
	return &Handlers{
		router:       router,
		errorHandler: errorHandler,
		logger:       logger,
	}
}

// WriteQuery handles POST /write-query. The statement always runs on the primary.
func (h *Handlers) WriteQuery(w http.ResponseWriter, r *http.Request) {
	text, err := model.DecodeQueryRequest(r.Body)
	if err != nil {
		h.errorHandler.WriteValidationError(w, err.Error(), middleware.RequestIDFrom(r.Context()))
		return
	}

	result, err := h.router.Write(r.Context(), text)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.writeResult(w, r, result)
}

// ReadQuery handles POST /read-query?method_id=<0|1|2>.
func (h *Handlers) ReadQuery(w http.ResponseWriter, r *http.Request) {
	text, err := model.DecodeQueryRequest(r.Body)
	if err != nil {
		h.errorHandler.WriteValidationError(w, err.Error(), middleware.RequestIDFrom(r.Context()))
		return
	}

	policy := model.ParsePolicy(r.URL.Query().Get("method_id"))

	result, err := h.router.Read(r.Context(), text, policy)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.writeResult(w, r, result)
}

// writeResult sends the result with 200 even when the backend reported an error.
func (h *Handlers) writeResult(w http.ResponseWriter, r *http.Request, result model.QueryResult) {
	body, err := json.Marshal(result)
	if err != nil {
		h.logger.Error("failed to encode query result",
			zap.String("node", result.Node),
			zap.String("request_id", middleware.RequestIDFrom(r.Context())),
			zap.Error(err),
		)
		h.errorHandler.WriteInternalError(w, "failed to encode query result", middleware.RequestIDFrom(r.Context()))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}
