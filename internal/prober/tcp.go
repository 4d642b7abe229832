package prober

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/devrev/dbrouter/internal/model"
)

// TCPProber measures TCP connect time to the node's database port.
type TCPProber struct {
	timeout     time.Duration
	count       int
	defaultPort int
	dialer      net.Dialer
}

// NewTCPProber creates a TCP prober. defaultPort is used for addresses without a port.
func NewTCPProber(timeout time.Duration, count, defaultPort int) *TCPProber {
	return &TCPProber{
		timeout:     timeout,
		count:       count,
		defaultPort: defaultPort,
	}
}

// Ping dials the node count times within the timeout and averages the connect time.
func (p *TCPProber) Ping(ctx context.Context, node model.BackendNode) Measurement {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	addr := hostPort(node.Address, p.defaultPort)

	var total time.Duration
	for i := 0; i < p.count; i++ {
		start := time.Now()
		conn, err := p.dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return Unreachable
		}
		total += time.Since(start)
		conn.Close()
	}

	return Measurement{Latency: total / time.Duration(p.count), Reachable: true}
}

// hostPort appends port to addr unless it already carries one.
func hostPort(addr string, port int) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(addr, strconv.Itoa(port))
}

// hostOnly strips a port from addr if present.
func hostOnly(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
