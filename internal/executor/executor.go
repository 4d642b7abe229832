// Package executor runs SQL statements against a single backend node.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/devrev/dbrouter/internal/metrics"
	"github.com/devrev/dbrouter/internal/model"
	"go.uber.org/zap"
)

// Conn is a connection owned by exactly one Execute call.
// Implementations may defer the network dial until the first Query.
type Conn interface {
	Query(ctx context.Context, text string) ([][]any, error)
	Close() error
}

// Driver opens connections to backend nodes.
type Driver interface {
	Open(node model.BackendNode) (Conn, error)
}

// Executor opens a fresh connection per call, fetches every row and always
// releases the connection before returning.
type Executor struct {
	driver       Driver
	queryTimeout time.Duration
	metrics      *metrics.Metrics
	logger       *zap.Logger
}

// New creates an executor. A zero queryTimeout leaves the caller's deadline alone.
func New(driver Driver, queryTimeout time.Duration, m *metrics.Metrics, logger *zap.Logger) *Executor {
	return &Executor{
		driver:       driver,
		queryTimeout: queryTimeout,
		metrics:      m,
		logger:       logger,
	}
}

// Execute runs text on node. Failures never escape as errors: they are
// reported in the Error field of the returned result with no rows.
func (e *Executor) Execute(ctx context.Context, node model.BackendNode, text string) model.QueryResult {
	start := time.Now()
	rows, err := e.run(ctx, node, text)
	duration := time.Since(start)

	e.metrics.RecordQuery(node.Name, err != nil, duration)

	if err != nil {
		e.logger.Warn("query failed",
			zap.String("node", node.Name),
			zap.Duration("duration", duration),
			zap.Error(err))
		return model.QueryResult{
			Node:  node.Name,
			Error: fmt.Sprintf("Failed executing query: %v", err),
		}
	}

	e.logger.Debug("query executed",
		zap.String("node", node.Name),
		zap.Int("rows", len(rows)),
		zap.Duration("duration", duration))

	if rows == nil {
		rows = [][]any{}
	}
	return model.QueryResult{Node: node.Name, Rows: rows}
}

func (e *Executor) run(ctx context.Context, node model.BackendNode, text string) ([][]any, error) {
	conn, err := e.driver.Open(node)
	if err != nil {
		return nil, fmt.Errorf("open connection to %s: %w", node.Name, err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			e.logger.Warn("failed to close backend connection",
				zap.String("node", node.Name),
				zap.Error(cerr))
		}
	}()

	if e.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.queryTimeout)
		defer cancel()
	}

	return conn.Query(ctx, text)
}
