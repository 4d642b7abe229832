// Package apierrors maps router failures onto HTTP error responses.
package apierrors

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/devrev/dbrouter/internal/model"
	"github.com/devrev/dbrouter/internal/routing"
	"go.uber.org/zap"
)

// ErrorCode represents application-specific error codes.
type ErrorCode string

const (
	// General errors
	ErrorCodeInvalidRequest ErrorCode = "INVALID_REQUEST"
	ErrorCodeInternalError  ErrorCode = "INTERNAL_ERROR"
	ErrorCodeTimeout        ErrorCode = "TIMEOUT"
	ErrorCodeRateLimited    ErrorCode = "RATE_LIMITED"

	// Routing errors
	ErrorCodeNoReplicas          ErrorCode = "NO_REPLICAS_AVAILABLE"
	ErrorCodeAllReplicasDown     ErrorCode = "ALL_REPLICAS_UNREACHABLE"
	ErrorCodeProxyUnavailable    ErrorCode = "PROXY_UNAVAILABLE"
	ErrorCodeIdempotencyConflict ErrorCode = "IDEMPOTENCY_KEY_CONFLICT"
)

var (
	// ErrBadRequest marks malformed client input.
	ErrBadRequest = errors.New("bad request")
	// ErrIdempotencyConflict marks a reused Idempotency-Key carrying a different query.
	ErrIdempotencyConflict = errors.New("idempotency key reused with a different request")
	// ErrProxyUnavailable marks a transport failure between gatekeeper and proxy.
	ErrProxyUnavailable = errors.New("proxy unavailable")
)

// ErrorResponse represents the standard error response format.
type ErrorResponse struct {
	Status    string    `json:"status"`
	ErrorCode ErrorCode `json:"error_code"`
	Message   string    `json:"message"`
	RequestID string    `json:"request_id,omitempty"`
}

// Handler provides error handling functionality.
type Handler struct {
	logger *zap.Logger
}

// NewHandler creates a new error handler.
func NewHandler(logger *zap.Logger) *Handler {
	return &Handler{
		logger: logger,
	}
}

// HandleError classifies err and writes the matching HTTP response.
func (h *Handler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	statusCode, errorCode := Classify(err)
	h.WriteErrorResponse(w, statusCode, errorCode, err.Error(), r.Header.Get("X-Request-ID"))
}

// Classify returns the HTTP status and error code for err.
func Classify(err error) (int, ErrorCode) {
	switch {
	case err == nil:
		return http.StatusOK, ""
	case errors.Is(err, ErrBadRequest), errors.Is(err, model.ErrInvalidRequest):
		return http.StatusBadRequest, ErrorCodeInvalidRequest
	case errors.Is(err, ErrIdempotencyConflict):
		return http.StatusUnprocessableEntity, ErrorCodeIdempotencyConflict
	case errors.Is(err, routing.ErrNoReplicasAvailable):
		return http.StatusServiceUnavailable, ErrorCodeNoReplicas
	case errors.Is(err, routing.ErrAllReplicasUnreachable):
		return http.StatusServiceUnavailable, ErrorCodeAllReplicasDown
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ErrorCodeTimeout
	case errors.Is(err, ErrProxyUnavailable):
		return http.StatusBadGateway, ErrorCodeProxyUnavailable
	default:
		return http.StatusInternalServerError, ErrorCodeInternalError
	}
}

// WriteErrorResponse writes a formatted error response to the HTTP response writer.
func (h *Handler) WriteErrorResponse(w http.ResponseWriter, statusCode int, errorCode ErrorCode, message string, requestID string) {
	h.logger.Warn("HTTP error response",
		zap.Int("status_code", statusCode),
		zap.String("error_code", string(errorCode)),
		zap.String("message", message),
		zap.String("request_id", requestID),
	)

	resp := ErrorResponse{
		Status:    "error",
		ErrorCode: errorCode,
		Message:   message,
		RequestID: requestID,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(resp)
}

// WriteValidationError writes a validation error response.
func (h *Handler) WriteValidationError(w http.ResponseWriter, message string, requestID string) {
	h.WriteErrorResponse(w, http.StatusBadRequest, ErrorCodeInvalidRequest, message, requestID)
}

// WriteInternalError writes an internal error response.
func (h *Handler) WriteInternalError(w http.ResponseWriter, message string, requestID string) {
	h.WriteErrorResponse(w, http.StatusInternalServerError, ErrorCodeInternalError, message, requestID)
}

// WriteRateLimitedError writes a rate limit exceeded response.
func (h *Handler) WriteRateLimitedError(w http.ResponseWriter, requestID string) {
	h.WriteErrorResponse(w, http.StatusTooManyRequests, ErrorCodeRateLimited, "rate limit exceeded", requestID)
}
