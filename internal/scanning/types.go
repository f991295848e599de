package scanning

import (
	"sort"
	"time"

	"github.com/anstrom/lanprobe/internal/errors"
	"github.com/anstrom/lanprobe/internal/probe"
)

// Port states reported for scanned ports.
const (
	StateOpen     = "open"
	StateClosed   = "closed"
	StateFiltered = "filtered"
	StateError    = "error"
)

// Summary contains the results of one port scan.
type Summary struct {
	// Host is the scanned host as given in the request
	Host string `json:"host"`
	// Scanned is the number of ports that produced an outcome
	Scanned int `json:"scanned"`
	// Open lists open ports in ascending order
	Open []int `json:"open"`
	// Outcomes holds the probe outcome of every scanned port
	Outcomes map[int]probe.Outcome `json:"-"`
	// StartTime is when the scan started
	StartTime time.Time `json:"start_time"`
	// EndTime is when the scan completed
	EndTime time.Time `json:"end_time"`
	// Duration is how long the scan took
	Duration time.Duration `json:"duration"`
}

// NewSummary creates a summary for host with the current time as start time.
func NewSummary(host string) *Summary {
	return &Summary{
		Host:      host,
		Open:      make([]int, 0),
		Outcomes:  make(map[int]probe.Outcome),
		StartTime: time.Now(),
	}
}

// Complete marks the scan as complete and calculates duration.
func (s *Summary) Complete() {
	s.EndTime = time.Now()
	s.Duration = s.EndTime.Sub(s.StartTime)
}

// Port is the per-port view of a scan outcome.
type Port struct {
	Number    int              `json:"port"`
	State     string           `json:"state"`
	LatencyMs *uint            `json:"latency_ms,omitempty"`
	ErrorKind errors.ErrorCode `json:"error_kind,omitempty"`
}

// Ports returns every scanned port in ascending order.
func (s *Summary) Ports() []Port {
	numbers := make([]int, 0, len(s.Outcomes))
	for n := range s.Outcomes {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)

	ports := make([]Port, 0, len(numbers))
	for _, n := range numbers {
		out := s.Outcomes[n]
		port := Port{
			Number:    n,
			State:     PortState(out),
			ErrorKind: out.ErrorKind,
		}
		if latency, ok := out.LatencyMs(); ok && out.Success {
			port.LatencyMs = &latency
		}
		ports = append(ports, port)
	}
	return ports
}

// PortState maps a TCP connect outcome to a port state.
func PortState(out probe.Outcome) string {
	if out.Success {
		return StateOpen
	}
	switch out.ErrorKind {
	case errors.CodeRefused:
		return StateClosed
	case errors.CodeTimeout, errors.CodeUnreachable:
		return StateFiltered
	default:
		return StateError
	}
}
