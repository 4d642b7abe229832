package apierrors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/devrev/dbrouter/internal/model"
	"github.com/devrev/dbrouter/internal/routing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   ErrorCode
	}{
		{"bad request", fmt.Errorf("%w: query is required", ErrBadRequest), http.StatusBadRequest, ErrorCodeInvalidRequest},
		{"invalid body", fmt.Errorf("%w: missing field 'query'", model.ErrInvalidRequest), http.StatusBadRequest, ErrorCodeInvalidRequest},
		{"idempotency conflict", ErrIdempotencyConflict, http.StatusUnprocessableEntity, ErrorCodeIdempotencyConflict},
		{"no replicas", routing.ErrNoReplicasAvailable, http.StatusServiceUnavailable, ErrorCodeNoReplicas},
		{"all unreachable", fmt.Errorf("read: %w", routing.ErrAllReplicasUnreachable), http.StatusServiceUnavailable, ErrorCodeAllReplicasDown},
		{"timeout", fmt.Errorf("forward: %w", context.DeadlineExceeded), http.StatusGatewayTimeout, ErrorCodeTimeout},
		{"proxy down", fmt.Errorf("%w: connection refused", ErrProxyUnavailable), http.StatusBadGateway, ErrorCodeProxyUnavailable},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, ErrorCodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code := Classify(tt.err)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantCode, code)
		})
	}
}

func TestHandleError(t *testing.T) {
	h := NewHandler(zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/read-query", nil)
	req.Header.Set("X-Request-ID", "req-123")
	w := httptest.NewRecorder()

	h.HandleError(w, req, routing.ErrAllReplicasUnreachable)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, ErrorCodeAllReplicasDown, resp.ErrorCode)
	assert.Equal(t, "req-123", resp.RequestID)
	assert.Contains(t, resp.Message, "all replicas unreachable")
}

func TestWriteValidationError(t *testing.T) {
	h := NewHandler(zap.NewNop())
	w := httptest.NewRecorder()

	h.WriteValidationError(w, "query is required", "")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_REQUEST")
	assert.NotContains(t, w.Body.String(), "request_id")
}
