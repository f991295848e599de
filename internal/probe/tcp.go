package probe

import (
	"context"
	"net"
	"time"
)

// DefaultPortTimeout is the connect timeout used for port probes.
const DefaultPortTimeout = 1000 * time.Millisecond

// Dialer opens network connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Prober runs TCP connect probes.
type Prober struct {
	Dialer  Dialer
	Limiter *Limiter
}

// NewProber creates a prober using a plain net.Dialer.
func NewProber(limiter *Limiter) *Prober {
	return &Prober{
		Dialer:  &net.Dialer{},
		Limiter: limiter,
	}
}

// TCPConnect reports whether a TCP handshake with host:port completes
// within timeout. The connection is closed before returning.
func (p *Prober) TCPConnect(ctx context.Context, host string, port int, timeout time.Duration) Outcome {
	target := PortTarget(host, port)

	if err := p.Limiter.Acquire(ctx); err != nil {
		return Failed(target, err)
	}
	defer p.Limiter.Release()

	if timeout <= 0 {
		timeout = DefaultPortTimeout
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dialer := p.Dialer
	if dialer == nil {
		dialer = &net.Dialer{}
	}

	start := time.Now()
	conn, err := dialer.DialContext(dialCtx, "tcp", target.Address())
	elapsed := time.Since(start)
	if err != nil {
		if conn != nil {
			_ = conn.Close()
		}
		// The dial error only says "operation was canceled"; the parent
		// context tells whether the request or the timeout ended it.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Failed(target, ctxErr)
		}
		return Failed(target, err)
	}
	_ = conn.Close()

	return Succeeded(target, elapsed, "open")
}

// TCPFunc adapts the prober to a fan-out probe function.
func (p *Prober) TCPFunc(timeout time.Duration) Func {
	return func(ctx context.Context, target Target) Outcome {
		return p.TCPConnect(ctx, target.Host, target.Port, timeout)
	}
}
