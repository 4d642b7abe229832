// Package routing decides which backend node serves a query.
package routing

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/devrev/dbrouter/internal/metrics"
	"github.com/devrev/dbrouter/internal/model"
	"github.com/devrev/dbrouter/internal/prober"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrNoReplicasAvailable is returned when a replica policy finds no candidate.
	ErrNoReplicasAvailable = errors.New("no replicas available")
	// ErrAllReplicasUnreachable is returned when every replica failed its probe.
	ErrAllReplicasUnreachable = errors.New("all replicas unreachable")
)

// Topology is the read-only view of the cluster the router needs.
type Topology interface {
	Primary() model.BackendNode
	Replicas() []model.BackendNode
}

// QueryExecutor runs a statement on one node.
type QueryExecutor interface {
	Execute(ctx context.Context, node model.BackendNode, text string) model.QueryResult
}

// Selection is the outcome of a routing decision.
type Selection struct {
	Node model.BackendNode
	// PingTimeMs is set by the custom policy only.
	PingTimeMs *float64
}

// Router applies the routing policies. Decisions are terminal: there is no
// retry and no fallback from one policy to another.
type Router struct {
	topology Topology
	prober   prober.Prober
	executor QueryExecutor
	metrics  *metrics.Metrics
	logger   *zap.Logger

	rngMu sync.Mutex
	rng   *rand.Rand
}

// Option customizes a Router.
type Option func(*Router)

// WithRand replaces the process-seeded random source.
func WithRand(rng *rand.Rand) Option {
	return func(r *Router) {
		r.rng = rng
	}
}

// NewRouter creates a router. The random source is seeded once per process.
func NewRouter(
	topology Topology,
	p prober.Prober,
	executor QueryExecutor,
	m *metrics.Metrics,
	logger *zap.Logger,
	opts ...Option,
) *Router {
	r := &Router{
		topology: topology,
		prober:   p,
		executor: executor,
		metrics:  m,
		logger:   logger,
		rng:      rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Write runs a write statement on the primary.
func (r *Router) Write(ctx context.Context, text string) (model.QueryResult, error) {
	return r.run(ctx, model.Query{Text: text, Kind: model.KindWrite, Policy: model.PolicyDirect})
}

// Read runs a read statement on the node chosen by policy.
func (r *Router) Read(ctx context.Context, text string, policy model.Policy) (model.QueryResult, error) {
	return r.run(ctx, model.Query{Text: text, Kind: model.KindRead, Policy: policy})
}

func (r *Router) run(ctx context.Context, q model.Query) (model.QueryResult, error) {
	sel, err := r.Select(ctx, q.Kind, q.Policy)
	if err != nil {
		return model.QueryResult{}, err
	}

	res := r.executor.Execute(ctx, sel.Node, q.Text)
	if sel.PingTimeMs != nil {
		res = res.WithPingTime(*sel.PingTimeMs)
	}
	return res, nil
}

// Select picks the backend for a query without executing it.
func (r *Router) Select(ctx context.Context, kind model.QueryKind, policy model.Policy) (Selection, error) {
	if kind == model.KindWrite {
		policy = model.PolicyDirect
	}

	var (
		sel Selection
		err error
	)
	switch policy {
	case model.PolicyRandom:
		sel, err = r.randomHit()
	case model.PolicyCustom:
		sel, err = r.customHit(ctx)
	default:
		sel = Selection{Node: r.topology.Primary()}
	}

	if err != nil {
		r.metrics.RecordRoutingFailure(policy.String(), reason(err))
		r.logger.Warn("no backend selected",
			zap.String("kind", kind.String()),
			zap.String("policy", policy.String()),
			zap.Error(err))
		return Selection{}, err
	}

	r.metrics.RecordRoutingDecision(kind.String(), policy.String(), sel.Node.Name)
	fields := []zap.Field{
		zap.String("kind", kind.String()),
		zap.String("policy", policy.String()),
		zap.String("node", sel.Node.Name),
	}
	if sel.PingTimeMs != nil {
		fields = append(fields, zap.Float64("ping_time_ms", *sel.PingTimeMs))
	}
	r.logger.Debug("backend selected", fields...)

	return sel, nil
}

func (r *Router) randomHit() (Selection, error) {
	replicas := r.topology.Replicas()
	if len(replicas) == 0 {
		return Selection{}, ErrNoReplicasAvailable
	}

	r.rngMu.Lock()
	i := r.rng.IntN(len(replicas))
	r.rngMu.Unlock()

	return Selection{Node: replicas[i]}, nil
}

// customHit probes every replica concurrently and keeps the fastest one.
// Ties go to the replica listed first, whatever order the probes finished in.
func (r *Router) customHit(ctx context.Context) (Selection, error) {
	replicas := r.topology.Replicas()
	if len(replicas) == 0 {
		return Selection{}, ErrNoReplicasAvailable
	}

	measurements := make([]prober.Measurement, len(replicas))
	var g errgroup.Group
	for i, node := range replicas {
		g.Go(func() error {
			measurements[i] = r.prober.Ping(ctx, node)
			return nil
		})
	}
	g.Wait()

	best := -1
	for i, m := range measurements {
		if !m.Reachable {
			continue
		}
		if best < 0 || m.Latency < measurements[best].Latency {
			best = i
		}
	}
	if best < 0 {
		return Selection{}, ErrAllReplicasUnreachable
	}

	ms := measurements[best].Millis()
	return Selection{Node: replicas[best], PingTimeMs: &ms}, nil
}

func reason(err error) string {
	switch {
	case errors.Is(err, ErrNoReplicasAvailable):
		return "no_replicas_available"
	case errors.Is(err, ErrAllReplicasUnreachable):
		return "all_replicas_unreachable"
	default:
		return "unknown"
	}
}
