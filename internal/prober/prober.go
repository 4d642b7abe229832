// Package prober measures round-trip latency to backend nodes.
package prober

import (
	"context"
	"fmt"
	"time"

	"github.com/devrev/dbrouter/internal/metrics"
	"github.com/devrev/dbrouter/internal/model"
	"go.uber.org/zap"
)

const (
	// DefaultTimeout bounds a whole probe.
	DefaultTimeout = time.Second
	// DefaultCount is the number of round trips averaged per probe.
	DefaultCount = 1
)

// Measurement is the outcome of one probe.
type Measurement struct {
	Latency   time.Duration
	Reachable bool
}

// Unreachable is the measurement of a node that did not answer in time.
var Unreachable = Measurement{}

// Millis returns the latency in fractional milliseconds.
func (m Measurement) Millis() float64 {
	return float64(m.Latency) / float64(time.Millisecond)
}

// Prober measures latency to a node. Ping never fails: a node that does not
// respond within the timeout is reported as Unreachable.
type Prober interface {
	Ping(ctx context.Context, node model.BackendNode) Measurement
}

// Config controls how probes are performed.
type Config struct {
	Mode        string
	Timeout     time.Duration
	Count       int
	DefaultPort int
	Privileged  bool
}

// New returns the prober selected by cfg.Mode ("tcp" or "icmp").
func New(cfg Config, m *metrics.Metrics, logger *zap.Logger) (Prober, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Count <= 0 {
		cfg.Count = DefaultCount
	}

	var p Prober
	switch cfg.Mode {
	case "", "tcp":
		p = NewTCPProber(cfg.Timeout, cfg.Count, cfg.DefaultPort)
	case "icmp":
		p = NewICMPProber(cfg.Timeout, cfg.Count, cfg.Privileged)
	default:
		return nil, fmt.Errorf("unknown probe mode %q", cfg.Mode)
	}

	return &instrumented{next: p, metrics: m, logger: logger}, nil
}

// instrumented records every probe in logs and metrics.
type instrumented struct {
	next    Prober
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func (p *instrumented) Ping(ctx context.Context, node model.BackendNode) Measurement {
	start := time.Now()
	m := p.next.Ping(ctx, node)
	p.metrics.RecordProbe(node.Name, m.Reachable, time.Since(start))

	p.logger.Debug("probed backend node",
		zap.String("node", node.Name),
		zap.String("address", node.Address),
		zap.Bool("reachable", m.Reachable),
		zap.Float64("latency_ms", m.Millis()))

	return m
}
