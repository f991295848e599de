package probe

import (
	"context"
	"encoding/json"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/anstrom/lanprobe/internal/errors"
)

// UnknownHostname is reported by ReverseDNS when no name could be found.
const UnknownHostname = "unknown"

// Target identifies one unit of probe work. Host targets leave Port at zero.
type Target struct {
	Host string `json:"host"`
	Port int    `json:"port,omitempty"`
}

// HostTarget returns a target without a port.
func HostTarget(host string) Target {
	return Target{Host: host}
}

// PortTarget returns a target for a TCP port on host.
func PortTarget(host string, port int) Target {
	return Target{Host: host, Port: port}
}

// Address returns the dialable host:port form of the target.
func (t Target) Address() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// String renders host, or host:port for port targets.
func (t Target) String() string {
	if t.Port == 0 {
		return t.Host
	}
	return t.Address()
}

// Outcome is the result of a single probe. Either Success is true or
// ErrorKind names the failure.
type Outcome struct {
	Target     Target
	Success    bool
	Latency    time.Duration
	HasLatency bool
	Detail     string
	TTL        int
	ErrorKind  errors.ErrorCode
	Err        error
}

// Func runs one probe against a target.
type Func func(ctx context.Context, target Target) Outcome

// Succeeded builds a successful outcome with a measured latency.
func Succeeded(target Target, latency time.Duration, detail string) Outcome {
	return Outcome{
		Target:     target,
		Success:    true,
		Latency:    latency,
		HasLatency: true,
		Detail:     detail,
	}
}

// Failed builds a failed outcome, classifying err into an error kind.
func Failed(target Target, err error) Outcome {
	kind := errors.Classify(err)
	if kind == "" {
		kind = errors.CodeUnknown
	}
	out := Outcome{
		Target:    target,
		ErrorKind: kind,
		Err:       err,
	}
	if err != nil {
		out.Detail = err.Error()
	}
	return out
}

// FailedWithKind builds a failed outcome with an explicit error kind.
func FailedWithKind(target Target, kind errors.ErrorCode, detail string) Outcome {
	return Outcome{
		Target:    target,
		ErrorKind: kind,
		Detail:    detail,
		Err:       errors.NewProbeErrorWithTarget(kind, detail, target.String()),
	}
}

// LatencyMs returns the latency rounded to whole milliseconds and whether a
// latency was measured at all.
func (o Outcome) LatencyMs() (uint, bool) {
	if !o.HasLatency {
		return 0, false
	}
	if o.Latency <= 0 {
		return 0, true
	}
	return uint(o.Latency.Round(time.Millisecond) / time.Millisecond), true
}

// Status returns "success" or the lowercased error kind, for metric labels.
func (o Outcome) Status() string {
	if o.Success {
		return "success"
	}
	return strings.ToLower(string(o.ErrorKind))
}

type outcomeJSON struct {
	Target    Target           `json:"target"`
	Success   bool             `json:"success"`
	LatencyMs *float64         `json:"latency_ms,omitempty"`
	TTL       int              `json:"ttl,omitempty"`
	Detail    string           `json:"detail,omitempty"`
	ErrorKind errors.ErrorCode `json:"error_kind,omitempty"`
}

// MarshalJSON renders latency as fractional milliseconds and omits it when
// nothing was measured.
func (o Outcome) MarshalJSON() ([]byte, error) {
	out := outcomeJSON{
		Target:    o.Target,
		Success:   o.Success,
		TTL:       o.TTL,
		Detail:    o.Detail,
		ErrorKind: o.ErrorKind,
	}
	if o.HasLatency {
		ms := float64(o.Latency) / float64(time.Millisecond)
		out.LatencyMs = &ms
	}
	return json.Marshal(out)
}
