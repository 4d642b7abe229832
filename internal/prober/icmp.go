package prober

import (
	"context"
	"time"

	"github.com/devrev/dbrouter/internal/model"
	probing "github.com/prometheus-community/pro-bing"
)

// ICMPProber sends ICMP echo requests. Unprivileged mode uses UDP ping sockets,
// which need net.ipv4.ping_group_range on Linux.
type ICMPProber struct {
	timeout    time.Duration
	count      int
	privileged bool
}

// NewICMPProber creates an ICMP prober.
func NewICMPProber(timeout time.Duration, count int, privileged bool) *ICMPProber {
	return &ICMPProber{
		timeout:    timeout,
		count:      count,
		privileged: privileged,
	}
}

// Ping sends count echo requests and returns the average round trip.
func (p *ICMPProber) Ping(ctx context.Context, node model.BackendNode) Measurement {
	pinger, err := probing.NewPinger(hostOnly(node.Address))
	if err != nil {
		return Unreachable
	}
	pinger.Count = p.count
	pinger.Timeout = p.timeout
	pinger.SetPrivileged(p.privileged)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			pinger.Stop()
		case <-done:
		}
	}()

	if err := pinger.Run(); err != nil {
		return Unreachable
	}

	stats := pinger.Statistics()
	if stats.PacketsRecv == 0 {
		return Unreachable
	}
	return Measurement{Latency: stats.AvgRtt, Reachable: true}
}
