// Package gatekeeper is the public front door: it validates query requests and
// forwards them to the internal proxy.
package gatekeeper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/devrev/dbrouter/internal/apierrors"
	"github.com/devrev/dbrouter/internal/config"
	"github.com/devrev/dbrouter/internal/metrics"
	"github.com/devrev/dbrouter/internal/middleware"
	"github.com/devrev/dbrouter/internal/model"
	"go.uber.org/zap"
)

const (
	writeEndpoint = "/write-query"
	readEndpoint  = "/read-query"
)

// ProxyResponse is a proxy reply kept byte for byte so it can be relayed unchanged.
type ProxyResponse struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Client forwards queries to the proxy over HTTP. It never retries.
type Client struct {
	httpClient *http.Client
	baseURL    string
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewClient creates a new proxy client.
func NewClient(cfg config.ProxyClientConfig, m *metrics.Metrics, logger *zap.Logger) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.MaxIdleConns > 0 {
		transport.MaxIdleConns = cfg.MaxIdleConns
		transport.MaxIdleConnsPerHost = cfg.MaxIdleConns
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		baseURL: strings.TrimRight(cfg.BaseURL(), "/"),
		metrics: m,
		logger:  logger,
	}
}

// SubmitWrite forwards a write statement to the proxy.
func (c *Client) SubmitWrite(ctx context.Context, text string) (*ProxyResponse, error) {
	return c.submit(ctx, writeEndpoint, text, "")
}

// SubmitRead forwards a read statement. An empty methodID is left off the URL.
func (c *Client) SubmitRead(ctx context.Context, text, methodID string) (*ProxyResponse, error) {
	return c.submit(ctx, readEndpoint, text, methodID)
}

func (c *Client) submit(ctx context.Context, endpoint, text, methodID string) (*ProxyResponse, error) {
	payload, err := json.Marshal(model.QueryRequest{Query: text})
	if err != nil {
		return nil, fmt.Errorf("failed to encode query request: %w", err)
	}

	target := c.baseURL + endpoint
	if methodID != "" {
		target += "?" + url.Values{"method_id": []string{methodID}}.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build proxy request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if id := middleware.RequestIDFrom(ctx); id != "" {
		req.Header.Set(middleware.RequestIDHeader, id)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		err = classifyTransportError(err)
		_, code := apierrors.Classify(err)
		c.metrics.RecordUpstreamError(endpoint, string(code))
		c.logger.Warn("proxy request failed",
			zap.String("endpoint", endpoint),
			zap.String("request_id", middleware.RequestIDFrom(ctx)),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		err = classifyTransportError(err)
		_, code := apierrors.Classify(err)
		c.metrics.RecordUpstreamError(endpoint, string(code))
		return nil, err
	}

	c.metrics.RecordUpstreamRequest(endpoint, resp.StatusCode, time.Since(start))
	c.logger.Debug("proxy request completed",
		zap.String("endpoint", endpoint),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	return &ProxyResponse{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

// HealthCheck reports whether the proxy answers its liveness endpoint.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health check returned status %d", apierrors.ErrProxyUnavailable, resp.StatusCode)
	}
	return nil
}

// classifyTransportError maps timeouts onto context.DeadlineExceeded and every
// other transport failure onto apierrors.ErrProxyUnavailable.
func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("proxy request timed out: %w", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("proxy request timed out: %v: %w", err, context.DeadlineExceeded)
	}
	return fmt.Errorf("%w: %v", apierrors.ErrProxyUnavailable, err)
}
