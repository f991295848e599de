package probe

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"

	"github.com/anstrom/lanprobe/internal/errors"
)

const (
	// DefaultEchoTimeout is the per-attempt timeout for ping runs.
	DefaultEchoTimeout = 1 * time.Second

	protocolICMP = 1
	maxPacket    = 1500
)

var echoPayload = []byte("lanprobe-echo-0123456789abcdefgh")

// Pinger sends a single ICMP echo request.
type Pinger interface {
	Echo(ctx context.Context, host string, timeout time.Duration) Outcome
}

// ICMPPinger implements Pinger with golang.org/x/net/icmp. Each echo opens
// its own socket, so concurrent echoes never see each other's replies.
type ICMPPinger struct {
	// Privileged selects raw ip4:icmp sockets. Otherwise unprivileged
	// datagram ICMP sockets are used, which on Linux require the caller's
	// group to be inside net.ipv4.ping_group_range.
	Privileged bool
	Limiter    *Limiter
	Resolver   Resolver

	seq atomic.Uint32
}

// NewICMPPinger creates a pinger using the system resolver.
func NewICMPPinger(limiter *Limiter, privileged bool) *ICMPPinger {
	return &ICMPPinger{
		Privileged: privileged,
		Limiter:    limiter,
		Resolver:   NewSystemResolver(),
	}
}

// Echo sends one echo request to host and waits up to timeout for the
// matching reply. Destination unreachable and time exceeded replies are
// reported as UNREACHABLE failures.
func (p *ICMPPinger) Echo(ctx context.Context, host string, timeout time.Duration) Outcome {
	target := HostTarget(host)

	if err := p.Limiter.Acquire(ctx); err != nil {
		return Failed(target, err)
	}
	defer p.Limiter.Release()

	if timeout <= 0 {
		timeout = DefaultEchoTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dst, err := p.resolve(ctx, host)
	if err != nil {
		return Failed(target, err)
	}

	network, dstAddr := "udp4", net.Addr(&net.UDPAddr{IP: dst.AsSlice()})
	if p.Privileged {
		network, dstAddr = "ip4:icmp", &net.IPAddr{IP: dst.AsSlice()}
	}

	conn, err := icmp.ListenPacket(network, "0.0.0.0")
	if err != nil {
		if stderrors.Is(err, syscall.EPERM) || stderrors.Is(err, syscall.EACCES) {
			return FailedWithKind(target, errors.CodeConfiguration,
				fmt.Sprintf("icmp socket not permitted (%s): %v", network, err))
		}
		return Failed(target, err)
	}
	defer func() { _ = conn.Close() }()

	// Unblock the read as soon as the timeout fires or the request is canceled.
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	pc := conn.IPv4PacketConn()
	if pc != nil {
		_ = pc.SetControlMessage(ipv4.FlagTTL, true)
	}

	seq := int(p.seq.Add(1) & 0xffff)
	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Code: 0,
		Body: &icmp.Echo{
			ID:   os.Getpid() & 0xffff,
			Seq:  seq,
			Data: echoPayload,
		},
	}
	wb, err := msg.Marshal(nil)
	if err != nil {
		return Failed(target, err)
	}

	start := time.Now()
	if _, err := conn.WriteTo(wb, dstAddr); err != nil {
		return p.readFailure(ctx, target, err)
	}

	rb := make([]byte, maxPacket)
	for {
		n, ttl, peer, err := readPacket(conn, pc, rb)
		if err != nil {
			return p.readFailure(ctx, target, err)
		}
		elapsed := time.Since(start)

		reply, err := icmp.ParseMessage(protocolICMP, rb[:n])
		if err != nil {
			continue
		}

		switch reply.Type {
		case ipv4.ICMPTypeEchoReply:
			echo, ok := reply.Body.(*icmp.Echo)
			// Datagram sockets rewrite the echo ID, so only seq and peer are matched.
			if !ok || echo.Seq != seq || !samePeer(peer, dst) {
				continue
			}
			out := Succeeded(target, elapsed, "reply")
			if ttl > 0 {
				out.TTL = ttl
				out.Detail = fmt.Sprintf("reply ttl=%d", ttl)
			}
			return out

		case ipv4.ICMPTypeDestinationUnreachable, ipv4.ICMPTypeTimeExceeded:
			if !quotesEcho(reply.Body, seq) {
				continue
			}
			out := FailedWithKind(target, errors.CodeUnreachable,
				fmt.Sprintf("%v from %v", reply.Type, peer))
			out.Latency = elapsed
			out.HasLatency = true
			return out
		}
	}
}

// EchoFunc adapts the pinger to a fan-out probe function.
func EchoFunc(p Pinger, timeout time.Duration) Func {
	return func(ctx context.Context, target Target) Outcome {
		return p.Echo(ctx, target.Host, timeout)
	}
}

func (p *ICMPPinger) resolve(ctx context.Context, host string) (netip.Addr, error) {
	if addr, err := netip.ParseAddr(host); err == nil {
		if !addr.Unmap().Is4() {
			return netip.Addr{}, errors.NewProbeErrorWithTarget(errors.CodeValidation,
				"only IPv4 echo is supported", host)
		}
		return addr.Unmap(), nil
	}

	resolver := p.Resolver
	if resolver == nil {
		resolver = NewSystemResolver()
	}
	addrs, err := resolver.LookupNetIP(ctx, host)
	if err != nil {
		return netip.Addr{}, err
	}
	for _, addr := range addrs {
		if addr.Unmap().Is4() {
			return addr.Unmap(), nil
		}
	}
	return netip.Addr{}, &net.DNSError{Err: "no IPv4 address", Name: host, IsNotFound: true}
}

// readFailure prefers the context's verdict over the socket error, since a
// forced deadline looks the same whether it came from the timeout or from
// cancellation.
func (p *ICMPPinger) readFailure(ctx context.Context, target Target, err error) Outcome {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Failed(target, ctxErr)
	}
	return Failed(target, err)
}

func readPacket(conn *icmp.PacketConn, pc *ipv4.PacketConn, b []byte) (int, int, net.Addr, error) {
	if pc == nil {
		n, peer, err := conn.ReadFrom(b)
		return n, 0, peer, err
	}
	n, cm, peer, err := pc.ReadFrom(b)
	ttl := 0
	if cm != nil {
		ttl = cm.TTL
	}
	return n, ttl, peer, err
}

func samePeer(peer net.Addr, dst netip.Addr) bool {
	var ip net.IP
	switch a := peer.(type) {
	case *net.UDPAddr:
		ip = a.IP
	case *net.IPAddr:
		ip = a.IP
	default:
		return false
	}
	addr, ok := netip.AddrFromSlice(ip)
	return ok && addr.Unmap() == dst
}

// quotesEcho reports whether an ICMP error body quotes our echo request.
func quotesEcho(body icmp.MessageBody, seq int) bool {
	var data []byte
	switch b := body.(type) {
	case *icmp.DstUnreach:
		data = b.Data
	case *icmp.TimeExceeded:
		data = b.Data
	default:
		return false
	}

	hdr, err := ipv4.ParseHeader(data)
	if err != nil || hdr.Protocol != protocolICMP || len(data) < hdr.Len+8 {
		return false
	}
	quoted := data[hdr.Len : hdr.Len+8]
	if quoted[0] != byte(ipv4.ICMPTypeEcho) {
		return false
	}
	return int(quoted[6])<<8|int(quoted[7]) == seq
}
