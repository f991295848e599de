package probe

import (
	"context"
	stderrors "errors"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/anstrom/lanprobe/internal/errors"
)

const (
	// DefaultReverseDNSTimeout bounds a single PTR lookup.
	DefaultReverseDNSTimeout = 2 * time.Second

	// DefaultDNSTimeout bounds a single forward lookup.
	DefaultDNSTimeout = 5 * time.Second
)

// Resolver performs name lookups.
type Resolver interface {
	// LookupAddr returns the PTR names for an address.
	LookupAddr(ctx context.Context, addr string) ([]string, error)

	// LookupNetIP returns the A and AAAA records for a host. A name with no
	// records yields an empty slice and no error.
	LookupNetIP(ctx context.Context, host string) ([]netip.Addr, error)
}

// Address is a forward DNS result.
type Address struct {
	IP netip.Addr `json:"address"`
}

// Family returns "IPv4" or "IPv6".
func (a Address) Family() string {
	if a.IP.Unmap().Is4() {
		return "IPv4"
	}
	return "IPv6"
}

// String returns the textual address.
func (a Address) String() string {
	return a.IP.String()
}

// ReverseLookup returns the first PTR name for address with the trailing
// dot removed. An address without a PTR record is an error.
func ReverseLookup(ctx context.Context, r Resolver, address string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = DefaultReverseDNSTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	names, err := r.LookupAddr(ctx, address)
	if err != nil {
		return "", err
	}
	for _, name := range names {
		if trimmed := strings.TrimSuffix(name, "."); trimmed != "" {
			return trimmed, nil
		}
	}
	return "", &net.DNSError{Err: "no PTR record", Name: address, IsNotFound: true}
}

// ReverseDNS is ReverseLookup degraded to a display value: any failure
// yields UnknownHostname.
func ReverseDNS(ctx context.Context, r Resolver, address string, timeout time.Duration) string {
	name, err := ReverseLookup(ctx, r, address, timeout)
	if err != nil {
		return UnknownHostname
	}
	return name
}

// ForwardDNS resolves hostname to its addresses, deduplicated in resolver
// order. A name that does not exist resolves to an empty slice.
func ForwardDNS(ctx context.Context, r Resolver, hostname string) ([]Address, error) {
	hostname = strings.TrimSpace(hostname)
	if hostname == "" {
		return nil, errors.ErrValidation("hostname is required")
	}

	ips, err := r.LookupNetIP(ctx, hostname)
	if err != nil {
		var dnsErr *net.DNSError
		if stderrors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return []Address{}, nil
		}
		return nil, errors.WrapProbeError(errors.Classify(err), "lookup "+hostname+" failed", err)
	}

	seen := make(map[netip.Addr]bool, len(ips))
	addrs := make([]Address, 0, len(ips))
	for _, ip := range ips {
		ip = ip.Unmap()
		if seen[ip] {
			continue
		}
		seen[ip] = true
		addrs = append(addrs, Address{IP: ip})
	}
	return addrs, nil
}

// SystemResolver resolves through the operating system resolver.
type SystemResolver struct {
	R *net.Resolver
}

// NewSystemResolver returns a resolver backed by net.DefaultResolver.
func NewSystemResolver() *SystemResolver {
	return &SystemResolver{R: net.DefaultResolver}
}

// LookupAddr implements Resolver.
func (s *SystemResolver) LookupAddr(ctx context.Context, addr string) ([]string, error) {
	return s.resolver().LookupAddr(ctx, addr)
}

// LookupNetIP implements Resolver.
func (s *SystemResolver) LookupNetIP(ctx context.Context, host string) ([]netip.Addr, error) {
	ips, err := s.resolver().LookupNetIP(ctx, "ip", host)
	if err != nil {
		var dnsErr *net.DNSError
		if stderrors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return []netip.Addr{}, nil
		}
		return nil, err
	}
	return ips, nil
}

func (s *SystemResolver) resolver() *net.Resolver {
	if s.R == nil {
		return net.DefaultResolver
	}
	return s.R
}

// Exchanger sends a DNS message to a server. *dns.Client satisfies it.
type Exchanger interface {
	ExchangeContext(ctx context.Context, m *dns.Msg, address string) (*dns.Msg, time.Duration, error)
}

// DNSClientResolver queries one explicit DNS server with miekg/dns,
// bypassing the system resolver configuration.
type DNSClientResolver struct {
	Server  string
	Timeout time.Duration
	Client  Exchanger
}

// NewDNSClientResolver creates a resolver for server (host:port).
func NewDNSClientResolver(server string, timeout time.Duration) *DNSClientResolver {
	if timeout <= 0 {
		timeout = DefaultDNSTimeout
	}
	return &DNSClientResolver{
		Server:  server,
		Timeout: timeout,
		Client:  &dns.Client{Timeout: timeout},
	}
}

// LookupAddr implements Resolver with a PTR query.
func (d *DNSClientResolver) LookupAddr(ctx context.Context, addr string) ([]string, error) {
	reverse, err := dns.ReverseAddr(addr)
	if err != nil {
		return nil, &net.DNSError{Err: err.Error(), Name: addr, Server: d.Server}
	}

	resp, err := d.query(ctx, reverse, dns.TypePTR)
	if err != nil {
		return nil, err
	}
	if resp.Rcode == dns.RcodeNameError {
		return nil, &net.DNSError{Err: "no PTR record", Name: addr, Server: d.Server, IsNotFound: true}
	}

	var names []string
	for _, rr := range resp.Answer {
		if ptr, ok := rr.(*dns.PTR); ok {
			names = append(names, ptr.Ptr)
		}
	}
	return names, nil
}

// LookupNetIP implements Resolver with A and AAAA queries.
func (d *DNSClientResolver) LookupNetIP(ctx context.Context, host string) ([]netip.Addr, error) {
	fqdn := dns.Fqdn(host)
	addrs := []netip.Addr{}

	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		resp, err := d.query(ctx, fqdn, qtype)
		if err != nil {
			return nil, err
		}
		if resp.Rcode == dns.RcodeNameError {
			return []netip.Addr{}, nil
		}
		for _, rr := range resp.Answer {
			switch rec := rr.(type) {
			case *dns.A:
				if ip, ok := netip.AddrFromSlice(rec.A); ok {
					addrs = append(addrs, ip.Unmap())
				}
			case *dns.AAAA:
				if ip, ok := netip.AddrFromSlice(rec.AAAA); ok {
					addrs = append(addrs, ip)
				}
			}
		}
	}
	return addrs, nil
}

func (d *DNSClientResolver) query(ctx context.Context, name string, qtype uint16) (*dns.Msg, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(name, qtype)
	msg.RecursionDesired = true

	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	client := d.Client
	if client == nil {
		client = &dns.Client{Timeout: d.Timeout}
	}

	resp, _, err := client.ExchangeContext(ctx, msg, d.Server)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &net.DNSError{Err: err.Error(), Name: name, Server: d.Server, IsTimeout: isTimeout(err)}
	}
	if resp.Rcode != dns.RcodeSuccess && resp.Rcode != dns.RcodeNameError {
		return nil, &net.DNSError{Err: dns.RcodeToString[resp.Rcode], Name: name, Server: d.Server}
	}
	return resp, nil
}

func isTimeout(err error) bool {
	var netErr net.Error
	return stderrors.As(err, &netErr) && netErr.Timeout()
}

// NewResolver returns a DNSClientResolver when server is set and the system
// resolver otherwise.
func NewResolver(server string, timeout time.Duration) Resolver {
	if server == "" {
		return NewSystemResolver()
	}
	return NewDNSClientResolver(server, timeout)
}
