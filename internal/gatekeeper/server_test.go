package gatekeeper

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/devrev/dbrouter/internal/apierrors"
	"github.com/devrev/dbrouter/internal/config"
	"github.com/devrev/dbrouter/internal/executor"
	"github.com/devrev/dbrouter/internal/health"
	"github.com/devrev/dbrouter/internal/model"
	"github.com/devrev/dbrouter/internal/prober"
	"github.com/devrev/dbrouter/internal/proxy"
	"github.com/devrev/dbrouter/internal/registry"
	"github.com/devrev/dbrouter/internal/routing"
	"github.com/devrev/dbrouter/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockProxyClient is a mock implementation of ProxyClient.
type MockProxyClient struct {
	mock.Mock
}

func (m *MockProxyClient) SubmitWrite(ctx context.Context, text string) (*ProxyResponse, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ProxyResponse), args.Error(1)
}

func (m *MockProxyClient) SubmitRead(ctx context.Context, text, methodID string) (*ProxyResponse, error) {
	args := m.Called(ctx, text, methodID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ProxyResponse), args.Error(1)
}

func testConfig() *config.GatekeeperConfig {
	return &config.GatekeeperConfig{
		Server:      config.ServerConfig{Port: 5000},
		Proxy:       config.ProxyClientConfig{Host: "proxy", Port: 5000, Timeout: time.Second},
		Idempotency: config.IdempotencyConfig{Enabled: true, Backend: "memory", TTL: time.Hour, MaxSize: 100},
	}
}

func newTestGatekeeper(t *testing.T, cfg *config.GatekeeperConfig, client ProxyClient, idem store.IdempotencyStore) http.Handler {
	t.Helper()
	hc := health.NewHealthCheck(map[string]health.Checker{
		"proxy": func(context.Context) error { return nil },
	}, nil, zap.NewNop())
	s := NewServer(cfg, client, idem, hc, nil, zap.NewNop())
	s.SetupRoutes()
	return s.GetHandler()
}

func send(h http.Handler, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp apierrors.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return string(resp.ErrorCode)
}

func TestGatekeeper_Root(t *testing.T) {
	h := newTestGatekeeper(t, testConfig(), &MockProxyClient{}, nil)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Healthy!", w.Body.String())
}

func TestGatekeeper_InvalidBodyNeverReachesProxy(t *testing.T) {
	client := &MockProxyClient{}
	h := newTestGatekeeper(t, testConfig(), client, nil)

	bodies := []string{``, `not json`, `{}`, `{"query": ""}`, `{"query": 1}`}
	for _, body := range bodies {
		for _, target := range []string{"/write-query", "/read-query?method_id=1"} {
			w := send(h, target, body, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code, "%s %q", target, body)
			assert.Equal(t, "INVALID_REQUEST", errorCode(t, w))
		}
	}
	client.AssertNotCalled(t, "SubmitWrite", mock.Anything, mock.Anything)
	client.AssertNotCalled(t, "SubmitRead", mock.Anything, mock.Anything, mock.Anything)
}

func TestGatekeeper_RelaysVerbatim(t *testing.T) {
	client := &MockProxyClient{}
	client.On("SubmitRead", mock.Anything, "SELECT 1", "2").Return(&ProxyResponse{
		StatusCode:  http.StatusServiceUnavailable,
		ContentType: "application/json",
		Body:        []byte(`{"status":"error","error_code":"ALL_REPLICAS_UNREACHABLE"}`),
	}, nil)
	h := newTestGatekeeper(t, testConfig(), client, nil)

	w := send(h, "/read-query?method_id=2", `{"query": "SELECT 1"}`, nil)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, `{"status":"error","error_code":"ALL_REPLICAS_UNREACHABLE"}`, w.Body.String())
	client.AssertExpectations(t)
}

func TestGatekeeper_MethodIDForwardedAsReceived(t *testing.T) {
	client := &MockProxyClient{}
	ok := &ProxyResponse{StatusCode: http.StatusOK, ContentType: "application/json", Body: []byte(`{}`)}
	client.On("SubmitRead", mock.Anything, "SELECT 1", "").Return(ok, nil).Once()
	client.On("SubmitRead", mock.Anything, "SELECT 1", "9").Return(ok, nil).Once()
	h := newTestGatekeeper(t, testConfig(), client, nil)

	assert.Equal(t, http.StatusOK, send(h, "/read-query", `{"query": "SELECT 1"}`, nil).Code)
	assert.Equal(t, http.StatusOK, send(h, "/read-query?method_id=9", `{"query": "SELECT 1"}`, nil).Code)
	client.AssertExpectations(t)
}

func TestGatekeeper_ProxyDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	cfg := testConfig()
	cfg.Proxy.Host = strings.TrimPrefix(srv.URL, "http://")
	srv.Close()

	h := newTestGatekeeper(t, cfg, NewClient(cfg.Proxy, nil, zap.NewNop()), nil)

	w := send(h, "/write-query", `{"query": "INSERT INTO t VALUES (1)"}`, nil)

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "PROXY_UNAVAILABLE", errorCode(t, w))
}

func TestGatekeeper_IdempotentReplay(t *testing.T) {
	var calls atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"node":"manager","result":[],"call":` + strconv.Itoa(int(n)) + `}`))
	}))
	defer upstream.Close()

	cfg := testConfig()
	cfg.Proxy.Host = strings.TrimPrefix(upstream.URL, "http://")
	idem := store.NewInMemoryStore(cfg.Idempotency.MaxSize, zap.NewNop())
	defer idem.Close()
	h := newTestGatekeeper(t, cfg, NewClient(cfg.Proxy, nil, zap.NewNop()), idem)

	headers := map[string]string{IdempotencyKeyHeader: "key-1"}
	first := send(h, "/write-query", `{"query": "INSERT INTO t VALUES (1)"}`, headers)
	second := send(h, "/write-query", `{"query": "INSERT INTO t VALUES (1)"}`, headers)

	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get(ReplayedHeader))
	assert.Empty(t, first.Header().Get(ReplayedHeader))
	assert.Equal(t, int32(1), calls.Load())

	// no key, no replay
	send(h, "/write-query", `{"query": "INSERT INTO t VALUES (1)"}`, nil)
	assert.Equal(t, int32(2), calls.Load())

	// same key, different statement
	w := send(h, "/write-query", `{"query": "INSERT INTO t VALUES (2)"}`, headers)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "IDEMPOTENCY_KEY_CONFLICT", errorCode(t, w))
	assert.Equal(t, int32(2), calls.Load())
}

func TestGatekeeper_FailedWritesAreNotStored(t *testing.T) {
	client := &MockProxyClient{}
	client.On("SubmitWrite", mock.Anything, "INSERT INTO t VALUES (1)").Return(&ProxyResponse{
		StatusCode: http.StatusServiceUnavailable,
		Body:       []byte(`{}`),
	}, nil).Twice()
	idem := store.NewInMemoryStore(10, zap.NewNop())
	defer idem.Close()
	h := newTestGatekeeper(t, testConfig(), client, idem)

	headers := map[string]string{IdempotencyKeyHeader: "key-1"}
	send(h, "/write-query", `{"query": "INSERT INTO t VALUES (1)"}`, headers)
	send(h, "/write-query", `{"query": "INSERT INTO t VALUES (1)"}`, headers)

	client.AssertExpectations(t)
	assert.Equal(t, 0, idem.Size())
}

func TestGatekeeper_RateLimited(t *testing.T) {
	client := &MockProxyClient{}
	client.On("SubmitRead", mock.Anything, "SELECT 1", "0").
		Return(&ProxyResponse{StatusCode: http.StatusOK, Body: []byte(`{}`)}, nil)

	cfg := testConfig()
	cfg.RateLimiter = config.RateLimiterConfig{Enabled: true, RequestsPerSecond: 0.001, BurstSize: 1}
	h := newTestGatekeeper(t, cfg, client, nil)

	assert.Equal(t, http.StatusOK, send(h, "/read-query?method_id=0", `{"query": "SELECT 1"}`, nil).Code)
	w := send(h, "/read-query?method_id=0", `{"query": "SELECT 1"}`, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "RATE_LIMITED", errorCode(t, w))
}

// clusterDriver answers every query with the name of the node that ran it.
type clusterDriver struct{}

type clusterConn struct{ node string }

func (clusterDriver) Open(node model.BackendNode) (executor.Conn, error) {
	return &clusterConn{node: node.Name}, nil
}

func (c *clusterConn) Query(ctx context.Context, text string) ([][]any, error) {
	return [][]any{{c.node}}, nil
}

func (c *clusterConn) Close() error { return nil }

type reachableProber struct{}

func (reachableProber) Ping(ctx context.Context, node model.BackendNode) prober.Measurement {
	return prober.Measurement{Latency: time.Millisecond, Reachable: true}
}

func TestGatekeeper_EndToEnd(t *testing.T) {
	reg, err := registry.New([]model.BackendNode{
		{Name: "m", Address: "10.0.0.1", Role: model.RolePrimary},
		{Name: "r1", Address: "10.0.0.2", Role: model.RoleReplica},
		{Name: "r2", Address: "10.0.0.3", Role: model.RoleReplica},
	})
	require.NoError(t, err)

	exec := executor.New(clusterDriver{}, time.Second, nil, zap.NewNop())
	router := routing.NewRouter(reg, reachableProber{}, exec, nil, zap.NewNop())
	proxyHealth := health.NewHealthCheck(nil, nil, zap.NewNop())
	proxyServer := proxy.NewServer(config.ServerConfig{Port: 5000}, router, proxyHealth, nil, zap.NewNop())
	proxyServer.SetupRoutes()
	upstream := httptest.NewServer(proxyServer.GetHandler())
	defer upstream.Close()

	cfg := testConfig()
	cfg.Proxy.Host = strings.TrimPrefix(upstream.URL, "http://")
	h := newTestGatekeeper(t, cfg, NewClient(cfg.Proxy, nil, zap.NewNop()), nil)

	node := func(w *httptest.ResponseRecorder) string {
		t.Helper()
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var resp struct {
			Node string `json:"node"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		return resp.Node
	}

	assert.Contains(t, []string{"r1", "r2"}, node(send(h, "/read-query?method_id=1", `{"query": "SELECT 1"}`, nil)))
	assert.Equal(t, "m", node(send(h, "/read-query?method_id=0", `{"query": "SELECT 1"}`, nil)))
	assert.Equal(t, "m", node(send(h, "/write-query", `{"query": "INSERT INTO t VALUES (1)"}`, nil)))
	assert.Equal(t, "r1", node(send(h, "/read-query?method_id=2", `{"query": "SELECT 1"}`, nil)))

	w := send(h, "/read-query", `{"query": "SELECT 1"}`, map[string]string{"X-Request-ID": "trace-42"})
	assert.Equal(t, "m", node(w))
	assert.Equal(t, "trace-42", w.Header().Get("X-Request-ID"))
}
