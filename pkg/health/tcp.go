package health

import (
	"context"
	"fmt"
	"net"
	"time"
)

// DefaultPortTimeout bounds a PortProbe dial when no timeout is given
const DefaultPortTimeout = time.Second

// PortProbe reports whether something accepts TCP connections on addr.
// The connection is closed straight away.
type PortProbe struct {
	addr    string
	timeout time.Duration
}

// NewPortProbe creates a probe of addr ("host:port"). A timeout <= 0 uses
// DefaultPortTimeout.
func NewPortProbe(addr string, timeout time.Duration) *PortProbe {
	if timeout <= 0 {
		timeout = DefaultPortTimeout
	}
	return &PortProbe{addr: addr, timeout: timeout}
}

func (p *PortProbe) Addr() string { return p.addr }

// Probe dials once, bounded by the probe timeout and ctx
func (p *PortProbe) Probe(ctx context.Context) Result {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", p.addr)
	if err != nil {
		return Observe(start, fmt.Errorf("%s not reachable: %w", p.addr, err), "")
	}
	conn.Close()
	return Observe(start, nil, p.addr+" listening")
}
