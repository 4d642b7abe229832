package gatekeeper

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"time"

	"github.com/devrev/dbrouter/internal/apierrors"
	"github.com/devrev/dbrouter/internal/middleware"
	"github.com/devrev/dbrouter/internal/model"
	"github.com/devrev/dbrouter/internal/store"
	"go.uber.org/zap"
)

const (
	// IdempotencyKeyHeader names the optional write replay key.
	IdempotencyKeyHeader = "Idempotency-Key"
	// ReplayedHeader is set on responses served from the idempotency store.
	ReplayedHeader = "Idempotent-Replayed"
)

// ProxyClient forwards validated queries to the proxy.
type ProxyClient interface {
	SubmitWrite(ctx context.Context, text string) (*ProxyResponse, error)
	SubmitRead(ctx context.Context, text, methodID string) (*ProxyResponse, error)
}

// Handlers contains the gatekeeper handlers and their dependencies.
type Handlers struct {
	client         ProxyClient
	idempotency    store.IdempotencyStore
	idempotencyTTL time.Duration
	errorHandler   *apierrors.Handler
	logger         *zap.Logger
}

// NewHandlers creates a new Handlers instance. A nil idempotency store disables replay.
func NewHandlers(client ProxyClient, idempotency store.IdempotencyStore, ttl time.Duration, errorHandler *apierrors.Handler, logger *zap.Logger) *Handlers {
	return &Handlers{
		client:         client,
		idempotency:    idempotency,
		idempotencyTTL: ttl,
		errorHandler:   errorHandler,
		logger:         logger,
	}
}

// WriteQuery handles POST /write-query.
func (h *Handlers) WriteQuery(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.RequestIDFrom(r.Context())

	text, err := model.DecodeQueryRequest(r.Body)
	if err != nil {
		h.errorHandler.WriteValidationError(w, err.Error(), requestID)
		return
	}

	key := r.Header.Get(IdempotencyKeyHeader)
	if h.idempotency != nil && key != "" {
		stored, err := h.lookup(r.Context(), key, text)
		if err != nil {
			h.errorHandler.HandleError(w, r, err)
			return
		}
		if stored != nil {
			h.logger.Info("replaying idempotent write",
				zap.String("idempotency_key", key),
				zap.String("request_id", requestID),
			)
			w.Header().Set(ReplayedHeader, "true")
			relay(w, &ProxyResponse{StatusCode: stored.StatusCode, ContentType: stored.ContentType, Body: stored.Body})
			return
		}
	}

	resp, err := h.client.SubmitWrite(r.Context(), text)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	if h.idempotency != nil && key != "" && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		h.remember(r.Context(), key, text, resp)
	}

	relay(w, resp)
}

// ReadQuery handles POST /read-query. method_id is forwarded as received.
func (h *Handlers) ReadQuery(w http.ResponseWriter, r *http.Request) {
	text, err := model.DecodeQueryRequest(r.Body)
	if err != nil {
		h.errorHandler.WriteValidationError(w, err.Error(), middleware.RequestIDFrom(r.Context()))
		return
	}

	resp, err := h.client.SubmitRead(r.Context(), text, r.URL.Query().Get("method_id"))
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	relay(w, resp)
}

// lookup returns the stored response for key, or nil when there is none.
// A store failure is logged and treated as a miss.
func (h *Handlers) lookup(ctx context.Context, key, text string) (*store.StoredResponse, error) {
	stored, err := h.idempotency.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		h.logger.Warn("idempotency lookup failed", zap.String("idempotency_key", key), zap.Error(err))
		return nil, nil
	}
	if stored.Fingerprint != fingerprint(text) {
		return nil, apierrors.ErrIdempotencyConflict
	}
	return stored, nil
}

func (h *Handlers) remember(ctx context.Context, key, text string, resp *ProxyResponse) {
	err := h.idempotency.Set(ctx, key, &store.StoredResponse{
		StatusCode:  resp.StatusCode,
		ContentType: resp.ContentType,
		Body:        resp.Body,
		Fingerprint: fingerprint(text),
	}, h.idempotencyTTL)
	if err != nil {
		h.logger.Warn("failed to store idempotent response", zap.String("idempotency_key", key), zap.Error(err))
	}
}

func fingerprint(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// relay writes the proxy response unchanged.
func relay(w http.ResponseWriter, resp *ProxyResponse) {
	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	w.WriteHeader(resp.StatusCode)
	w.Write(resp.Body)
}
