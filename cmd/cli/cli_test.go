package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/lanprobe/internal/config"
	"github.com/anstrom/lanprobe/internal/discovery"
	"github.com/anstrom/lanprobe/internal/errors"
	"github.com/anstrom/lanprobe/internal/netinfo"
	"github.com/anstrom/lanprobe/internal/ping"
	"github.com/anstrom/lanprobe/internal/probe"
	"github.com/anstrom/lanprobe/internal/profiles"
	"github.com/anstrom/lanprobe/internal/scanning"
	"github.com/anstrom/lanprobe/internal/scheduler"
	"github.com/anstrom/lanprobe/internal/targets"
	"github.com/anstrom/lanprobe/internal/workers"
)

// scriptPinger answers from a fixed set of live hosts with a fixed latency.
type scriptPinger struct {
	alive   map[string]time.Duration
	replies []time.Duration
	calls   int
}

func (p *scriptPinger) Echo(_ context.Context, host string, _ time.Duration) probe.Outcome {
	target := probe.HostTarget(host)
	if p.replies != nil {
		latency := p.replies[p.calls%len(p.replies)]
		p.calls++
		if latency < 0 {
			return probe.FailedWithKind(target, errors.CodeTimeout, "no reply")
		}
		return probe.Succeeded(target, latency, "reply")
	}
	if latency, ok := p.alive[host]; ok {
		return probe.Succeeded(target, latency, "reply")
	}
	return probe.FailedWithKind(target, errors.CodeTimeout, "no reply")
}

type mapResolver struct {
	ptr map[string]string
	ips map[string][]netip.Addr
	err error
}

func (r *mapResolver) LookupAddr(_ context.Context, addr string) ([]string, error) {
	if name, ok := r.ptr[addr]; ok {
		return []string{name}, nil
	}
	return nil, &net.DNSError{Err: "no such host", Name: addr, IsNotFound: true}
}

func (r *mapResolver) LookupNetIP(_ context.Context, host string) ([]netip.Addr, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.ips[host], nil
}

type fixedScanner struct {
	summary *scanning.Summary
	err     error
}

func (s *fixedScanner) ScanObserved(_ context.Context, _ *targets.ScanRequest, observer workers.Observer) (*scanning.Summary, error) {
	if s.summary != nil && observer != nil {
		for _, out := range s.summary.Outcomes {
			observer(out)
		}
	}
	return s.summary, s.err
}

type stubPortScanner struct{}

func (stubPortScanner) Scan(context.Context, *targets.ScanRequest) (*scanning.Summary, error) {
	return sampleScan(), nil
}

func sampleScan() *scanning.Summary {
	s := scanning.NewSummary("10.0.0.5")
	s.Outcomes[22] = probe.Succeeded(probe.PortTarget("10.0.0.5", 22), 3*time.Millisecond, "open")
	s.Outcomes[80] = probe.FailedWithKind(probe.PortTarget("10.0.0.5", 80), errors.CodeRefused, "refused")
	s.Open = []int{22}
	s.Scanned = 2
	s.Complete()
	return s
}

func TestRunPingTable(t *testing.T) {
	pinger := &scriptPinger{replies: []time.Duration{10 * time.Millisecond, -1, 20 * time.Millisecond}}
	var buf bytes.Buffer

	err := runPing(context.Background(), &buf, pinger, "router.lan", ping.Options{Attempts: 3, Timeout: time.Second}, formatTable)
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "PING router.lan: 3 attempts")
	assert.Contains(t, output, "seq=1 reply from router.lan: time=10 ms")
	assert.Contains(t, output, "seq=2 router.lan: TIMEOUT (no reply)")
	assert.Contains(t, output, "seq=3 reply from router.lan: time=20 ms")
	assert.Contains(t, output, "3 sent, 2 received, 33% loss, mean 15.0 ms, state ok")
}

func TestRunPingJSON(t *testing.T) {
	pinger := &scriptPinger{replies: []time.Duration{-1}}
	var buf bytes.Buffer

	err := runPing(context.Background(), &buf, pinger, "10.0.0.9", ping.Options{Attempts: 2, Timeout: time.Second}, formatJSON)
	require.NoError(t, err)

	var report map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &report))
	assert.Equal(t, "10.0.0.9", report["host"])
	assert.Equal(t, "timeout", report["state"])
	assert.Equal(t, float64(2), report["sent"])
	assert.Equal(t, float64(0), report["received"])
	assert.Nil(t, report["mean_latency_ms"])
	assert.Len(t, report["attempts"], 2)
}

func TestRunPingRejectsZeroCount(t *testing.T) {
	var buf bytes.Buffer
	err := runPing(context.Background(), &buf, &scriptPinger{}, "h", ping.Options{Attempts: 0}, formatTable)
	assert.True(t, errors.IsCode(err, errors.CodeValidation))
	assert.Empty(t, buf.String())
}

func TestRunPingCanceledPrintsPartialSummary(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var buf bytes.Buffer

	err := runPing(ctx, &buf, &scriptPinger{replies: []time.Duration{time.Millisecond}}, "h",
		ping.Options{Attempts: 4, Timeout: time.Second}, formatTable)
	assert.True(t, errors.IsCode(err, errors.CodeCanceled))
	assert.Contains(t, buf.String(), "--- h: 0 sent")
}

func TestRunScanTable(t *testing.T) {
	var buf bytes.Buffer
	err := runScan(context.Background(), &buf, &fixedScanner{summary: sampleScan()}, nil, false, formatTable)
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "22")
	assert.Contains(t, output, "open")
	assert.NotContains(t, output, "closed")
	assert.Contains(t, output, "10.0.0.5: 1 of 2 ports open")
}

func TestRunScanShowAll(t *testing.T) {
	var buf bytes.Buffer
	err := runScan(context.Background(), &buf, &fixedScanner{summary: sampleScan()}, nil, true, formatTable)
	require.NoError(t, err)

	assert.Contains(t, buf.String(), "closed")
	assert.Contains(t, buf.String(), "REFUSED")
}

func TestRunScanJSON(t *testing.T) {
	var buf bytes.Buffer
	err := runScan(context.Background(), &buf, &fixedScanner{summary: sampleScan()}, nil, false, formatJSON)
	require.NoError(t, err)

	var report struct {
		Host    string `json:"host"`
		Scanned int    `json:"scanned"`
		Open    []int  `json:"open"`
		Ports   []struct {
			Port  int    `json:"port"`
			State string `json:"state"`
		} `json:"ports"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &report))
	assert.Equal(t, "10.0.0.5", report.Host)
	assert.Equal(t, 2, report.Scanned)
	assert.Equal(t, []int{22}, report.Open)
	require.Len(t, report.Ports, 2)
	assert.Equal(t, 22, report.Ports[0].Port)
	assert.Equal(t, "closed", report.Ports[1].State)
}

func TestRunScanErrors(t *testing.T) {
	t.Run("no summary", func(t *testing.T) {
		var buf bytes.Buffer
		err := runScan(context.Background(), &buf,
			&fixedScanner{err: errors.ErrNoValidTargets()}, nil, false, formatTable)
		assert.True(t, errors.IsCode(err, errors.CodeValidation))
		assert.Empty(t, buf.String())
	})

	t.Run("partial summary on cancel", func(t *testing.T) {
		var buf bytes.Buffer
		err := runScan(context.Background(), &buf,
			&fixedScanner{summary: sampleScan(), err: errors.ErrCanceled("scan", context.Canceled)}, nil, false, formatTable)
		assert.True(t, errors.IsCode(err, errors.CodeCanceled))
		assert.Contains(t, buf.String(), "1 of 2 ports open")
	})
}

func TestRunDiscover(t *testing.T) {
	pinger := &scriptPinger{alive: map[string]time.Duration{
		"192.168.1.5": 2 * time.Millisecond,
		"192.168.1.2": 4 * time.Millisecond,
	}}
	resolver := &mapResolver{ptr: map[string]string{"192.168.1.5": "nas.lan."}}
	engine := discovery.NewEngine(pinger, resolver)

	cfg := discovery.Config{Base: "192.168.1.0/24", Timeout: 100 * time.Millisecond, Concurrency: 16, ResolveConcurrency: 2}

	t.Run("table", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, runDiscover(context.Background(), &buf, engine, cfg, formatTable))

		output := buf.String()
		assert.Contains(t, output, "nas.lan")
		assert.Contains(t, output, probe.UnknownHostname)
		assert.Less(t, strings.Index(output, "192.168.1.2"), strings.Index(output, "192.168.1.5"))
		assert.Contains(t, output, "192.168.1.0/24: 2 devices found, 254 hosts probed")
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, runDiscover(context.Background(), &buf, engine, cfg, formatJSON))

		var summary struct {
			Base    string `json:"base"`
			Scanned int    `json:"scanned"`
			Devices []any  `json:"devices"`
		}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &summary))
		assert.Equal(t, "192.168.1", summary.Base)
		assert.Equal(t, 254, summary.Scanned)
		assert.Len(t, summary.Devices, 2)
	})

	t.Run("invalid base", func(t *testing.T) {
		var buf bytes.Buffer
		bad := cfg
		bad.Base = "not-a-subnet"
		err := runDiscover(context.Background(), &buf, engine, bad, formatTable)
		assert.True(t, errors.IsCode(err, errors.CodeValidation))
		assert.Empty(t, buf.String())
	})
}

func TestResolveBase(t *testing.T) {
	local := func() (string, error) { return "10.1.2", nil }
	none := func() (string, error) { return "", fmt.Errorf("no private address") }

	base, err := resolveBase("192.168.7", none)
	require.NoError(t, err)
	assert.Equal(t, "192.168.7", base)

	base, err = resolveBase("", local)
	require.NoError(t, err)
	assert.Equal(t, "10.1.2", base)

	_, err = resolveBase("", none)
	assert.True(t, errors.IsCode(err, errors.CodeConfiguration))
}

func TestRunResolve(t *testing.T) {
	resolver := &mapResolver{ips: map[string][]netip.Addr{
		"nas.lan": {
			netip.MustParseAddr("192.168.1.5"),
			netip.MustParseAddr("192.168.1.5"),
			netip.MustParseAddr("fd00::5"),
		},
	}}

	t.Run("table", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, runResolve(context.Background(), &buf, resolver, "nas.lan", formatTable))
		output := buf.String()
		assert.Equal(t, 1, strings.Count(output, "192.168.1.5"))
		assert.Contains(t, output, "fd00::5")
		assert.Contains(t, output, "IPv6")
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, runResolve(context.Background(), &buf, resolver, "nas.lan", formatJSON))
		var report resolveReport
		require.NoError(t, json.Unmarshal(buf.Bytes(), &report))
		assert.Equal(t, []addressReport{
			{Address: "192.168.1.5", Family: "IPv4"},
			{Address: "fd00::5", Family: "IPv6"},
		}, report.Addresses)
	})

	t.Run("no records", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, runResolve(context.Background(), &buf, resolver, "ghost.lan", formatTable))
		assert.Equal(t, "ghost.lan: no records\n", buf.String())
	})

	t.Run("lookup failure", func(t *testing.T) {
		var buf bytes.Buffer
		failing := &mapResolver{err: &net.DNSError{Err: "server misbehaving", Name: "x"}}
		err := runResolve(context.Background(), &buf, failing, "x", formatTable)
		assert.True(t, errors.IsCode(err, errors.CodeNameResolution))
		assert.Empty(t, buf.String())
	})
}

func TestRunInterfaces(t *testing.T) {
	list := func() ([]netinfo.Interface, error) {
		return []netinfo.Interface{
			{Name: "eth0", MAC: "aa:bb:cc:dd:ee:ff", IPv4: "192.168.1.20", Mask: "255.255.255.0",
				Gateway: "192.168.1.1", Up: true, Type: netinfo.TypeEthernet},
			{Name: "lo", IPv4: "127.0.0.1", Up: true, Type: netinfo.TypeLoopback},
		}, nil
	}
	wifi := func(context.Context) (*netinfo.Wireless, error) {
		return &netinfo.Wireless{SSID: "home", BSSID: "11:22:33:44:55:66", Signal: 71, Security: "WPA2"}, nil
	}
	noWifi := func(context.Context) (*netinfo.Wireless, error) {
		return nil, fmt.Errorf("nmcli not found")
	}

	t.Run("table without wireless", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, runInterfaces(context.Background(), &buf, list, nil, formatTable))
		output := buf.String()
		assert.Contains(t, output, "eth0")
		assert.Contains(t, output, "192.168.1.1")
		assert.NotContains(t, output, "SSID")
	})

	t.Run("table with wireless", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, runInterfaces(context.Background(), &buf, list, wifi, formatTable))
		assert.Contains(t, buf.String(), "home")
		assert.Contains(t, buf.String(), "71%")
	})

	t.Run("wireless unavailable", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, runInterfaces(context.Background(), &buf, list, noWifi, formatTable))
		assert.Contains(t, buf.String(), "No active wireless connection")
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, runInterfaces(context.Background(), &buf, list, wifi, formatJSON))
		var report interfacesReport
		require.NoError(t, json.Unmarshal(buf.Bytes(), &report))
		assert.Len(t, report.Interfaces, 2)
		require.NotNil(t, report.Wireless)
		assert.Equal(t, "home", report.Wireless.SSID)
	})

	t.Run("list failure", func(t *testing.T) {
		var buf bytes.Buffer
		failing := func() ([]netinfo.Interface, error) { return nil, fmt.Errorf("boom") }
		assert.Error(t, runInterfaces(context.Background(), &buf, failing, nil, formatTable))
	})
}

func TestOpenTarget(t *testing.T) {
	const speed = "https://test.ustc.edu.cn/"

	got, err := openTarget(nil, true, speed)
	require.NoError(t, err)
	assert.Equal(t, speed, got)

	got, err = openTarget([]string{"http://192.168.1.1"}, false, speed)
	require.NoError(t, err)
	assert.Equal(t, "http://192.168.1.1", got)

	_, err = openTarget([]string{"http://192.168.1.1"}, true, speed)
	assert.True(t, errors.IsCode(err, errors.CodeValidation))

	_, err = openTarget(nil, false, speed)
	assert.True(t, errors.IsCode(err, errors.CodeValidation))
}

func TestRunOpen(t *testing.T) {
	var opened string
	opener := func(_ context.Context, url string) error {
		opened = url
		return nil
	}

	var buf bytes.Buffer
	require.NoError(t, runOpen(context.Background(), &buf, opener, "http://192.168.1.1"))
	assert.Equal(t, "http://192.168.1.1", opened)
	assert.Equal(t, "Opened http://192.168.1.1\n", buf.String())

	buf.Reset()
	failing := func(context.Context, string) error { return errors.ErrValidation("unsupported scheme") }
	assert.Error(t, runOpen(context.Background(), &buf, failing, "ftp://x"))
	assert.Empty(t, buf.String())
}

func TestRunWatchRegistersJobs(t *testing.T) {
	pinger := &scriptPinger{replies: []time.Duration{time.Millisecond}}
	sched := scheduler.NewScheduler(scheduler.Deps{
		Pinger:    pinger,
		Scanner:   stubPortScanner{},
		Discovery: discovery.NewEngine(pinger, &mapResolver{}),
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf bytes.Buffer
	plan := watchPlan{Host: "10.0.0.1", Ports: "22,80", Base: "10.0.0", Schedule: "@every 1h"}
	require.NoError(t, runWatch(ctx, &buf, sched, plan))

	assert.Contains(t, buf.String(), `Watching 3 job(s) on "@every 1h"`)
	names := make([]string, 0, 3)
	for _, job := range sched.GetJobs() {
		names = append(names, job.Name)
	}
	assert.ElementsMatch(t, []string{"ping 10.0.0.1", "scan 10.0.0.1", "discover 10.0.0"}, names)
}

func TestRunWatchInvalidSchedule(t *testing.T) {
	sched := scheduler.NewScheduler(scheduler.Deps{Pinger: &scriptPinger{}})
	var buf bytes.Buffer
	err := runWatch(context.Background(), &buf, sched, watchPlan{Host: "h", Schedule: "every now and then"})
	assert.Error(t, err)
	assert.Empty(t, buf.String())
}

func TestWatchLine(t *testing.T) {
	started := time.Date(2026, 3, 1, 14, 5, 9, 0, time.UTC)
	mean := 4.0

	tests := []struct {
		name string
		job  scheduler.ScheduledJob
		want string
	}{
		{
			name: "no run",
			job:  scheduler.ScheduledJob{Name: "ping h"},
			want: "ping h: no run",
		},
		{
			name: "error",
			job: scheduler.ScheduledJob{Name: "ping h", LastRun: &scheduler.Run{
				StartedAt: started, Error: "[VALIDATION] host is required",
			}},
			want: "14:05:09 ping h: error: [VALIDATION] host is required",
		},
		{
			name: "ping",
			job: scheduler.ScheduledJob{Name: "ping h", LastRun: &scheduler.Run{
				StartedAt: started,
				Result: &ping.Summary{
					Host:          "h",
					Attempts:      []probe.Outcome{probe.Succeeded(probe.HostTarget("h"), 4*time.Millisecond, "")},
					SuccessCount:  1,
					MeanLatencyMs: &mean,
				},
			}},
			want: "14:05:09 ping h: --- h: 1 sent, 1 received, 0% loss, mean 4.0 ms, state ok",
		},
		{
			name: "scan",
			job: scheduler.ScheduledJob{Name: "scan 10.0.0.5", LastRun: &scheduler.Run{
				StartedAt: started, Result: sampleScan(),
			}},
			want: "14:05:09 scan 10.0.0.5: 1/2 open [22]",
		},
		{
			name: "discovery",
			job: scheduler.ScheduledJob{Name: "discover 10.0.0", LastRun: &scheduler.Run{
				StartedAt: started,
				Result:    &discovery.Summary{Base: "10.0.0", Scanned: 254, Devices: make([]discovery.Device, 3)},
			}},
			want: "14:05:09 discover 10.0.0: 3 device(s) of 254",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, watchLine(tt.job))
		})
	}
}

func TestOutputHelpers(t *testing.T) {
	assert.NoError(t, validateOutputFormat(formatTable))
	assert.NoError(t, validateOutputFormat(formatJSON))
	assert.Error(t, validateOutputFormat("xml"))

	var format string
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.SetOutput(io.Discard)
	flags.VarP(&formatValue{target: &format}, "output", "o", "")
	require.NoError(t, flags.Parse([]string{"-o", "JSON"}))
	assert.Equal(t, formatJSON, format)
	assert.Error(t, flags.Parse([]string{"--output", "xml"}))
	assert.Equal(t, formatJSON, format, "a rejected value leaves the flag unchanged")

	assert.Equal(t, "-", formatMs(0, false))
	assert.Equal(t, "12 ms", formatMs(12, true))

	assert.Equal(t, "-", orDash(""))
	assert.Equal(t, "eth0", orDash("eth0"))

	withTTL := probe.Succeeded(probe.HostTarget("h"), 7*time.Millisecond, "reply")
	withTTL.TTL = 64
	assert.Equal(t, "seq=2 reply from h: time=7 ms ttl=64", attemptLine(2, withTTL))

	unreachable := probe.FailedWithKind(probe.HostTarget("h"), errors.CodeUnreachable, "")
	assert.Equal(t, "seq=1 h: UNREACHABLE", attemptLine(1, unreachable))
}

func TestRunProfiles(t *testing.T) {
	manager, err := profiles.NewManager([]config.ProfileConfig{{ID: "cams", Name: "Cameras", Ports: "554"}})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, runProfiles(&buf, manager, formatTable))
	assert.Contains(t, buf.String(), "cams")
	assert.Contains(t, buf.String(), "custom")
	assert.Contains(t, buf.String(), "built-in")

	buf.Reset()
	require.NoError(t, runProfiles(&buf, manager, formatJSON))
	var all []profiles.Profile
	require.NoError(t, json.Unmarshal(buf.Bytes(), &all))
	assert.Len(t, all, len(manager.GetAll()))
}

func TestRenderTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderTable(&buf, []string{"Address", "Family"}, [][]string{{"10.0.0.1", "IPv4"}}))
	assert.Contains(t, buf.String(), "10.0.0.1")
	assert.Contains(t, strings.ToUpper(buf.String()), "FAMILY")
}

func TestApplyOverrides(t *testing.T) {
	t.Cleanup(viper.Reset)

	viper.Set("dns.server", "192.168.1.1:53")
	viper.Set("probing.privileged_icmp", true)
	viper.Set("api.port", 9191)

	cfg := config.Default()
	applyOverrides(cfg)

	assert.Equal(t, "192.168.1.1:53", cfg.DNS.Server)
	assert.True(t, cfg.Probing.PrivilegedICMP)
	assert.Equal(t, 9191, cfg.API.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
	require.NoError(t, cfg.Validate())
}

func TestServeConfigAppliesFlags(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, serveCmd.Flags().Set("port", "9292"))
	t.Cleanup(func() {
		f := serveCmd.Flags().Lookup("port")
		_ = f.Value.Set("0")
		f.Changed = false
	})

	cfg, err := serveConfig(serveCmd)
	require.NoError(t, err)
	assert.Equal(t, 9292, cfg.API.Port)
	assert.Equal(t, "127.0.0.1", cfg.API.Host, "unchanged flags keep the config value")
}

func TestCommandsRegistered(t *testing.T) {
	registered := make(map[string]bool)
	for _, cmd := range rootCmd.Commands() {
		registered[cmd.Name()] = true
	}
	for _, name := range []string{"ping", "scan", "discover", "resolve", "interfaces", "open", "serve", "watch", "profiles"} {
		assert.True(t, registered[name], "command %s not registered", name)
	}
}

func TestEnginesFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Probing.PingAttempts = 7
	cfg.Probing.MaxPorts = 12

	eng := newEngines(cfg, nil, nil)
	defer eng.close()

	assert.Equal(t, 7, eng.pingOptions.Attempts)
	assert.Equal(t, 12, eng.scanOptions.MaxTargetCount)
	assert.NotNil(t, eng.pinger.Resolver)
	assert.NotNil(t, eng.scanner)
	assert.NotNil(t, eng.discovery)

	dc := discoveryConfig(cfg, "10.0.0")
	assert.Equal(t, "10.0.0", dc.Base)
	assert.Equal(t, cfg.Probing.ResolveConcurrency, dc.ResolveConcurrency)
}
