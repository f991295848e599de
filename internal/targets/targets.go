// Package targets turns raw user input into bounded, validated probe target
// sets: port specifications for scans and /24 host ranges for discovery.
package targets

import (
	"fmt"
	"net/netip"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/anstrom/lanprobe/internal/errors"
	"github.com/anstrom/lanprobe/internal/probe"
)

const (
	// DefaultMaxTargets caps how many ports one scan request may expand to.
	DefaultMaxTargets = 100

	// DefaultMaxConcurrency is the default fan-out width of a scan.
	DefaultMaxConcurrency = 64

	MinPort = 1
	MaxPort = 65535

	// FirstHost and LastHost bound the host octet swept in a /24.
	FirstHost = 1
	LastHost  = 254
)

// privatePrefixes is the textual private-range rule used to pick the local
// address for discovery. "172." deliberately matches all of 172.0.0.0/8.
var privatePrefixes = []string{"192.168.", "10.", "172."}

// ScanRequest is a validated port scan: one host and its deduplicated port
// targets, never more than MaxTargetCount of them.
type ScanRequest struct {
	Host            string         `json:"host"`
	Targets         []probe.Target `json:"targets"`
	PerProbeTimeout time.Duration  `json:"per_probe_timeout"`
	MaxConcurrency  int            `json:"max_concurrency"`
	MaxTargetCount  int            `json:"max_target_count"`
}

// Ports returns the request's ports in ascending order.
func (r *ScanRequest) Ports() []int {
	ports := make([]int, 0, len(r.Targets))
	for _, t := range r.Targets {
		ports = append(ports, t.Port)
	}
	return ports
}

// RequestOptions tunes NewScanRequest. Zero values select defaults.
type RequestOptions struct {
	PerProbeTimeout time.Duration
	MaxConcurrency  int
	MaxTargetCount  int
}

func (o RequestOptions) withDefaults() RequestOptions {
	if o.PerProbeTimeout <= 0 {
		o.PerProbeTimeout = probe.DefaultPortTimeout
	}
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = DefaultMaxConcurrency
	}
	if o.MaxTargetCount <= 0 {
		o.MaxTargetCount = DefaultMaxTargets
	}
	return o
}

// NewScanRequest validates host and expands portSpec into a scan request.
func NewScanRequest(host, portSpec string, opts RequestOptions) (*ScanRequest, error) {
	opts = opts.withDefaults()

	host = strings.TrimSpace(host)
	if host == "" {
		return nil, errors.ErrValidation("host is required")
	}
	if strings.ContainsAny(host, " \t/") {
		return nil, errors.NewProbeErrorWithTarget(errors.CodeValidation, "invalid host", host)
	}

	ports, err := ParsePorts(portSpec, opts.MaxTargetCount)
	if err != nil {
		return nil, err
	}

	targets := make([]probe.Target, 0, len(ports))
	for _, port := range ports {
		targets = append(targets, probe.PortTarget(host, port))
	}

	return &ScanRequest{
		Host:            host,
		Targets:         targets,
		PerProbeTimeout: opts.PerProbeTimeout,
		MaxConcurrency:  opts.MaxConcurrency,
		MaxTargetCount:  opts.MaxTargetCount,
	}, nil
}

// ParsePorts expands a comma separated list of ports ("80") and inclusive
// ranges ("8000-8010") into sorted, distinct ports. Malformed elements are
// skipped. An empty result and a result larger than max are validation
// errors; the list is never truncated.
func ParsePorts(spec string, max int) ([]int, error) {
	if max <= 0 {
		max = DefaultMaxTargets
	}

	var ranges []portRange
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if strings.Contains(part, "-") {
			if lo, hi, ok := parseRange(part); ok {
				ranges = append(ranges, portRange{lo, hi})
			}
			continue
		}

		if port, ok := parsePort(part); ok {
			ranges = append(ranges, portRange{port, port})
		}
	}

	if len(ranges) == 0 {
		return nil, errors.ErrNoValidTargets()
	}

	// Nothing is expanded until the merged total fits within max.
	merged := mergeRanges(ranges)
	count := 0
	for _, r := range merged {
		count += r.hi - r.lo + 1
	}
	if count > max {
		return nil, errors.ErrTooManyTargets(count, max)
	}

	ports := make([]int, 0, count)
	for _, r := range merged {
		for port := r.lo; port <= r.hi; port++ {
			ports = append(ports, port)
		}
	}
	return ports, nil
}

// portRange is an inclusive span of ports.
type portRange struct {
	lo, hi int
}

// mergeRanges sorts ranges and joins those that overlap or touch. The input
// slice is reused.
func mergeRanges(ranges []portRange) []portRange {
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].lo < ranges[j].lo })

	merged := ranges[:1]
	for _, r := range ranges[1:] {
		last := &merged[len(merged)-1]
		if r.lo <= last.hi+1 {
			if r.hi > last.hi {
				last.hi = r.hi
			}
			continue
		}
		merged = append(merged, r)
	}
	return merged
}

func parseRange(s string) (int, int, bool) {
	bounds := strings.Split(s, "-")
	if len(bounds) != 2 {
		return 0, 0, false
	}
	lo, ok := parsePort(strings.TrimSpace(bounds[0]))
	if !ok {
		return 0, 0, false
	}
	hi, ok := parsePort(strings.TrimSpace(bounds[1]))
	if !ok || lo > hi {
		return 0, 0, false
	}
	return lo, hi, true
}

func parsePort(s string) (int, bool) {
	port, err := strconv.Atoi(s)
	if err != nil || port < MinPort || port > MaxPort {
		return 0, false
	}
	return port, true
}

// SubnetBase returns the first three octets of an IPv4 address, e.g.
// "192.168.1" for "192.168.1.37".
func SubnetBase(ip string) (string, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return "", errors.NewProbeErrorWithTarget(errors.CodeValidation, "invalid IP address", ip)
	}
	addr = addr.Unmap()
	if !addr.Is4() {
		return "", errors.NewProbeErrorWithTarget(errors.CodeValidation, "not an IPv4 address", ip)
	}
	b := addr.As4()
	return fmt.Sprintf("%d.%d.%d", b[0], b[1], b[2]), nil
}

// NormalizeBase accepts a subnet base in any of the forms "192.168.1",
// "192.168.1.0", "192.168.1.77" or "192.168.1.0/24" and returns "192.168.1".
func NormalizeBase(s string) (string, error) {
	s = strings.TrimSpace(s)
	if prefix, err := netip.ParsePrefix(s); err == nil {
		if prefix.Bits() != 24 {
			return "", errors.NewProbeErrorWithTarget(errors.CodeValidation, "only /24 subnets are supported", s)
		}
		return SubnetBase(prefix.Addr().String())
	}
	if strings.Count(s, ".") == 2 {
		return SubnetBase(s + ".0")
	}
	return SubnetBase(s)
}

// SubnetHosts returns host targets for .1 through .254 of base.
func SubnetHosts(base string) ([]probe.Target, error) {
	normalized, err := NormalizeBase(base)
	if err != nil {
		return nil, err
	}

	hosts := make([]probe.Target, 0, LastHost-FirstHost+1)
	for i := FirstHost; i <= LastHost; i++ {
		hosts = append(hosts, probe.HostTarget(fmt.Sprintf("%s.%d", normalized, i)))
	}
	return hosts, nil
}

// IsPrivate reports whether ip starts with one of the private prefixes.
func IsPrivate(ip string) bool {
	for _, prefix := range privatePrefixes {
		if strings.HasPrefix(ip, prefix) {
			return true
		}
	}
	return false
}

// HostOctet returns the last octet of an IPv4 address, or -1.
func HostOctet(ip string) int {
	addr, err := netip.ParseAddr(ip)
	if err != nil || !addr.Unmap().Is4() {
		return -1
	}
	return int(addr.Unmap().As4()[3])
}
