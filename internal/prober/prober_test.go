package prober

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/devrev/dbrouter/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func listen(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	t.Cleanup(func() { ln.Close() })
	return ln
}

func TestTCPProber_Reachable(t *testing.T) {
	ln := listen(t)
	p := NewTCPProber(time.Second, 3, 3306)

	m := p.Ping(context.Background(), model.BackendNode{Name: "r1", Address: ln.Addr().String()})

	assert.True(t, m.Reachable)
	assert.Greater(t, m.Latency, time.Duration(0))
	assert.Less(t, m.Latency, time.Second)
}

func TestTCPProber_DefaultPort(t *testing.T) {
	ln := listen(t)
	_, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)

	portNum, err := strconv.Atoi(port)
	require.NoError(t, err)

	p := NewTCPProber(time.Second, 1, portNum)
	m := p.Ping(context.Background(), model.BackendNode{Name: "r1", Address: "127.0.0.1"})

	assert.True(t, m.Reachable)
}

func TestTCPProber_Unreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	p := NewTCPProber(200*time.Millisecond, 1, 3306)
	m := p.Ping(context.Background(), model.BackendNode{Name: "r1", Address: addr})

	assert.Equal(t, Unreachable, m)
	assert.False(t, m.Reachable)
}

func TestTCPProber_HonoursTimeout(t *testing.T) {
	// 192.0.2.0/24 is reserved for documentation and never routed.
	p := NewTCPProber(100*time.Millisecond, 1, 3306)

	start := time.Now()
	m := p.Ping(context.Background(), model.BackendNode{Name: "r1", Address: "192.0.2.1"})

	assert.False(t, m.Reachable)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestNew(t *testing.T) {
	p, err := New(Config{Mode: "tcp"}, nil, zap.NewNop())
	require.NoError(t, err)
	assert.NotNil(t, p)

	p, err = New(Config{Mode: "icmp"}, nil, zap.NewNop())
	require.NoError(t, err)
	assert.NotNil(t, p)

	_, err = New(Config{Mode: "carrier-pigeon"}, nil, zap.NewNop())
	assert.Error(t, err)
}

func TestMeasurement_Millis(t *testing.T) {
	m := Measurement{Latency: 1500 * time.Microsecond, Reachable: true}
	assert.InDelta(t, 1.5, m.Millis(), 1e-9)
}

func TestHostPort(t *testing.T) {
	assert.Equal(t, "db:3306", hostPort("db", 3306))
	assert.Equal(t, "db:5432", hostPort("db:5432", 3306))
	assert.Equal(t, "db", hostOnly("db:5432"))
	assert.Equal(t, "db", hostOnly("db"))
}
