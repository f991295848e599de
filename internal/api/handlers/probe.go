// Package handlers provides HTTP request handlers for the lanprobe API.
// This file implements the probe endpoints: ping, port scan, discovery,
// forward DNS and the interface report.
package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/anstrom/lanprobe/internal/discovery"
	"github.com/anstrom/lanprobe/internal/errors"
	"github.com/anstrom/lanprobe/internal/logging"
	"github.com/anstrom/lanprobe/internal/netinfo"
	"github.com/anstrom/lanprobe/internal/ping"
	"github.com/anstrom/lanprobe/internal/probe"
	"github.com/anstrom/lanprobe/internal/profiles"
	"github.com/anstrom/lanprobe/internal/scanning"
	"github.com/anstrom/lanprobe/internal/targets"
)

// PortScanner is satisfied by *scanning.Scanner.
type PortScanner interface {
	Scan(ctx context.Context, req *targets.ScanRequest) (*scanning.Summary, error)
}

// Discoverer is satisfied by *discovery.Engine.
type Discoverer interface {
	Discover(ctx context.Context, config discovery.Config) (*discovery.Summary, error)
}

// ProbeConfig wires the probe engines into the handlers. Nil engines make
// their endpoints answer 503.
type ProbeConfig struct {
	Pinger    probe.Pinger
	Scanner   PortScanner
	Discovery Discoverer
	Resolver  probe.Resolver

	PingOptions ping.Options
	ScanOptions targets.RequestOptions

	// Profiles resolves named port sets. Nil uses the built-in profiles.
	Profiles *profiles.Manager

	// Interfaces lists local interfaces. Nil uses netinfo.List.
	Interfaces func() ([]netinfo.Interface, error)
	// LocalBase picks the subnet to sweep when a discovery request names
	// none. Nil uses netinfo.LocalBase.
	LocalBase func() (string, error)

	MaxRequestSize int64
	Logger         *logging.Logger
}

// ProbeHandler serves the probe endpoints.
type ProbeHandler struct {
	config ProbeConfig
	logger *logging.Logger
}

// NewProbeHandler creates a new probe handler.
func NewProbeHandler(config ProbeConfig) *ProbeHandler {
	if config.Interfaces == nil {
		config.Interfaces = netinfo.List
	}
	if config.LocalBase == nil {
		config.LocalBase = netinfo.LocalBase
	}
	if config.Resolver == nil {
		config.Resolver = probe.NewSystemResolver()
	}
	if config.Profiles == nil {
		// Built-in profiles always validate.
		config.Profiles, _ = profiles.NewManager(nil)
	}
	logger := config.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &ProbeHandler{
		config: config,
		logger: logger.WithFields("handler", "probe"),
	}
}

// PingRequest is the body of POST /ping.
type PingRequest struct {
	Host      string `json:"host" validate:"required,max=253"`
	Attempts  int    `json:"attempts" validate:"omitempty,min=1,max=100"`
	TimeoutMs int    `json:"timeout_ms" validate:"omitempty,min=1,max=60000"`
}

// PingResponse summarizes a ping run.
type PingResponse struct {
	Host          string          `json:"host"`
	State         string          `json:"state"`
	Sent          int             `json:"sent"`
	Received      int             `json:"received"`
	Loss          float64         `json:"loss"`
	MeanLatencyMs *float64        `json:"mean_latency_ms"`
	Attempts      []probe.Outcome `json:"attempts"`
	DurationMs    int64           `json:"duration_ms"`
}

// ScanRequest is the body of POST /scan.
type ScanRequest struct {
	Host        string `json:"host" validate:"required,max=253"`
	Ports       string `json:"ports" validate:"required_without=Profile"`
	Profile     string `json:"profile" validate:"omitempty,max=32"`
	TimeoutMs   int    `json:"timeout_ms" validate:"omitempty,min=1,max=60000"`
	Concurrency int    `json:"concurrency" validate:"omitempty,min=1,max=1024"`
}

// ScanResponse summarizes a port scan.
type ScanResponse struct {
	Host       string          `json:"host"`
	Scanned    int             `json:"scanned"`
	Open       []int           `json:"open"`
	Ports      []scanning.Port `json:"ports"`
	DurationMs int64           `json:"duration_ms"`
}

// DiscoverRequest is the body of POST /discover. Every field is optional.
type DiscoverRequest struct {
	Base      string `json:"base" validate:"omitempty,max=18"`
	TimeoutMs int    `json:"timeout_ms" validate:"omitempty,min=1,max=60000"`
}

// ResolveResponse lists the addresses of a name.
type ResolveResponse struct {
	Name      string        `json:"name"`
	Addresses []AddressView `json:"addresses"`
}

// AddressView is one forward DNS result.
type AddressView struct {
	Address string `json:"address"`
	Family  string `json:"family"`
}

// ProfilesResponse lists port profiles.
type ProfilesResponse struct {
	Profiles []*profiles.Profile `json:"profiles"`
}

// InterfacesResponse lists local interfaces.
type InterfacesResponse struct {
	Interfaces []netinfo.Interface `json:"interfaces"`
}

// Ping runs a sequential echo run against one host.
func (h *ProbeHandler) Ping(w http.ResponseWriter, r *http.Request) {
	if h.config.Pinger == nil {
		writeProbeError(w, r, errors.NewProbeError(errors.CodeConfiguration, "ping engine not configured"))
		return
	}

	var req PingRequest
	if err := parseJSON(r, &req, h.config.MaxRequestSize, false); err != nil {
		writeProbeError(w, r, err)
		return
	}

	opts := h.config.PingOptions
	if req.Attempts > 0 {
		opts.Attempts = req.Attempts
	}
	if req.TimeoutMs > 0 {
		opts.Timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}

	summary, err := ping.Run(r.Context(), h.config.Pinger, req.Host, opts, nil)
	if err != nil {
		h.fail(w, r, "ping", err)
		return
	}

	writeJSON(w, r, http.StatusOK, NewPingResponse(summary))
}

// NewPingResponse converts a ping summary to its API form.
func NewPingResponse(summary *ping.Summary) PingResponse {
	return PingResponse{
		Host:          summary.Host,
		State:         summary.State(),
		Sent:          summary.Sent(),
		Received:      summary.SuccessCount,
		Loss:          summary.Loss(),
		MeanLatencyMs: summary.MeanLatencyMs,
		Attempts:      summary.Attempts,
		DurationMs:    summary.Duration.Milliseconds(),
	}
}

// Scan connects to every requested port of one host.
func (h *ProbeHandler) Scan(w http.ResponseWriter, r *http.Request) {
	if h.config.Scanner == nil {
		writeProbeError(w, r, errors.NewProbeError(errors.CodeConfiguration, "scan engine not configured"))
		return
	}

	var body ScanRequest
	if err := parseJSON(r, &body, h.config.MaxRequestSize, false); err != nil {
		writeProbeError(w, r, err)
		return
	}

	opts := h.config.ScanOptions
	if body.TimeoutMs > 0 {
		opts.PerProbeTimeout = time.Duration(body.TimeoutMs) * time.Millisecond
	}
	if body.Concurrency > 0 {
		opts.MaxConcurrency = body.Concurrency
	}

	portSpec, err := h.config.Profiles.ResolvePorts(body.Ports, body.Profile)
	if err != nil {
		writeProbeError(w, r, err)
		return
	}

	req, err := targets.NewScanRequest(body.Host, portSpec, opts)
	if err != nil {
		writeProbeError(w, r, err)
		return
	}

	summary, err := h.config.Scanner.Scan(r.Context(), req)
	if err != nil {
		h.fail(w, r, "scan", err)
		return
	}

	writeJSON(w, r, http.StatusOK, ScanResponse{
		Host:       summary.Host,
		Scanned:    summary.Scanned,
		Open:       summary.Open,
		Ports:      summary.Ports(),
		DurationMs: summary.Duration.Milliseconds(),
	})
}

// Profiles lists the port profiles usable in scan requests.
func (h *ProbeHandler) Profiles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, ProfilesResponse{Profiles: h.config.Profiles.GetAll()})
}

// Discover sweeps a /24 for live hosts.
func (h *ProbeHandler) Discover(w http.ResponseWriter, r *http.Request) {
	if h.config.Discovery == nil {
		writeProbeError(w, r, errors.NewProbeError(errors.CodeConfiguration, "discovery engine not configured"))
		return
	}

	var req DiscoverRequest
	if err := parseJSON(r, &req, h.config.MaxRequestSize, true); err != nil {
		writeProbeError(w, r, err)
		return
	}

	base := strings.TrimSpace(req.Base)
	if base == "" {
		local, err := h.config.LocalBase()
		if err != nil {
			writeProbeError(w, r, errors.WrapProbeError(errors.CodeConfiguration,
				"no local private IPv4 address; set base explicitly", err))
			return
		}
		base = local
	}

	config := discovery.Config{Base: base}
	if req.TimeoutMs > 0 {
		config.Timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}

	summary, err := h.config.Discovery.Discover(r.Context(), config)
	if err != nil {
		h.fail(w, r, "discover", err)
		return
	}

	writeJSON(w, r, http.StatusOK, summary)
}

// Resolve performs a forward DNS lookup of the name query parameter. A name
// with no records is a normal, empty result.
func (h *ProbeHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.URL.Query().Get("name"))

	addrs, err := probe.ForwardDNS(r.Context(), h.config.Resolver, name)
	if err != nil {
		h.fail(w, r, "resolve", err)
		return
	}

	views := make([]AddressView, 0, len(addrs))
	for _, addr := range addrs {
		views = append(views, AddressView{Address: addr.String(), Family: addr.Family()})
	}
	writeJSON(w, r, http.StatusOK, ResolveResponse{Name: name, Addresses: views})
}

// Interfaces lists the local network interfaces.
func (h *ProbeHandler) Interfaces(w http.ResponseWriter, r *http.Request) {
	ifaces, err := h.config.Interfaces()
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	if ifaces == nil {
		ifaces = []netinfo.Interface{}
	}
	writeJSON(w, r, http.StatusOK, InterfacesResponse{Interfaces: ifaces})
}

// fail logs and writes an engine error. A canceled request whose client is
// gone gets no body, since nobody is left to read it.
func (h *ProbeHandler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	requestID := getRequestIDFromContext(r.Context())
	if errors.IsCode(err, errors.CodeCanceled) && r.Context().Err() != nil {
		h.logger.Info("Request canceled by client", "operation", op, "request_id", requestID)
		w.WriteHeader(StatusClientClosedRequest)
		return
	}
	if errors.IsCode(err, errors.CodeValidation) {
		h.logger.Debug("Rejected request", "operation", op, "request_id", requestID, "error", err)
	} else {
		h.logger.Warn("Probe request failed", "operation", op, "request_id", requestID, "error", err)
	}
	writeProbeError(w, r, err)
}
