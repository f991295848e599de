package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/pflag"

	"github.com/anstrom/lanprobe/internal/discovery"
	"github.com/anstrom/lanprobe/internal/netinfo"
	"github.com/anstrom/lanprobe/internal/ping"
	"github.com/anstrom/lanprobe/internal/probe"
	"github.com/anstrom/lanprobe/internal/scanning"
)

// Output formats.
const (
	formatTable = "table"
	formatJSON  = "json"
)

func validateOutputFormat(format string) error {
	switch format {
	case formatTable, formatJSON:
		return nil
	default:
		return fmt.Errorf("invalid output format %q (table, json)", format)
	}
}

// formatValue is the --output flag. Unknown formats are rejected while the
// command line is parsed.
type formatValue struct {
	target *string
}

var _ pflag.Value = (*formatValue)(nil)

func (f *formatValue) String() string {
	if f.target == nil {
		return ""
	}
	return *f.target
}

func (f *formatValue) Set(s string) error {
	s = strings.ToLower(strings.TrimSpace(s))
	if err := validateOutputFormat(s); err != nil {
		return err
	}
	*f.target = s
	return nil
}

func (f *formatValue) Type() string {
	return "format"
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderTable(w io.Writer, header []string, rows [][]string) error {
	table := tablewriter.NewWriter(w)
	headerCells := make([]any, len(header))
	for i, h := range header {
		headerCells[i] = h
	}
	table.Header(headerCells...)
	for _, row := range rows {
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}

func formatMs(ms uint, ok bool) string {
	if !ok {
		return "-"
	}
	return strconv.FormatUint(uint64(ms), 10) + " ms"
}

// pingReport is the machine-readable form of a ping run.
type pingReport struct {
	Host          string          `json:"host"`
	State         string          `json:"state"`
	Sent          int             `json:"sent"`
	Received      int             `json:"received"`
	Loss          float64         `json:"loss"`
	MeanLatencyMs *float64        `json:"mean_latency_ms"`
	Attempts      []probe.Outcome `json:"attempts"`
}

func newPingReport(s *ping.Summary) pingReport {
	return pingReport{
		Host:          s.Host,
		State:         s.State(),
		Sent:          s.Sent(),
		Received:      s.SuccessCount,
		Loss:          s.Loss(),
		MeanLatencyMs: s.MeanLatencyMs,
		Attempts:      s.Attempts,
	}
}

// attemptLine renders one echo attempt the way it is shown while a ping
// run is in progress.
func attemptLine(seq int, out probe.Outcome) string {
	if out.Success {
		ms, _ := out.LatencyMs()
		if out.TTL > 0 {
			return fmt.Sprintf("seq=%d reply from %s: time=%d ms ttl=%d", seq, out.Target.Host, ms, out.TTL)
		}
		return fmt.Sprintf("seq=%d reply from %s: time=%d ms", seq, out.Target.Host, ms)
	}
	return fmt.Sprintf("seq=%d %s: %s", seq, out.Target.Host, failureText(out))
}

func failureText(out probe.Outcome) string {
	if out.Detail != "" && out.ErrorKind != "" {
		return fmt.Sprintf("%s (%s)", out.ErrorKind, out.Detail)
	}
	if out.ErrorKind != "" {
		return string(out.ErrorKind)
	}
	return out.Detail
}

func pingSummaryLine(s *ping.Summary) string {
	mean := "n/a"
	if s.MeanLatencyMs != nil {
		mean = fmt.Sprintf("%.1f ms", *s.MeanLatencyMs)
	}
	return fmt.Sprintf("--- %s: %d sent, %d received, %.0f%% loss, mean %s, state %s",
		s.Host, s.Sent(), s.SuccessCount, s.Loss()*100, mean, s.State())
}

func renderScan(w io.Writer, s *scanning.Summary, all bool) error {
	rows := make([][]string, 0, len(s.Outcomes))
	for _, port := range s.Ports() {
		if !all && port.State != scanning.StateOpen {
			continue
		}
		latency := "-"
		if port.LatencyMs != nil {
			latency = formatMs(*port.LatencyMs, true)
		}
		rows = append(rows, []string{strconv.Itoa(port.Number), port.State, latency, string(port.ErrorKind)})
	}

	if err := renderTable(w, []string{"Port", "State", "Latency", "Error"}, rows); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%s: %d of %d ports open (%s)\n",
		s.Host, len(s.Open), s.Scanned, s.Duration.Round(time.Millisecond))
	return err
}

// scanReport is the machine-readable form of a port scan.
type scanReport struct {
	Host       string          `json:"host"`
	Scanned    int             `json:"scanned"`
	Open       []int           `json:"open"`
	Ports      []scanning.Port `json:"ports"`
	DurationMs int64           `json:"duration_ms"`
}

func newScanReport(s *scanning.Summary) scanReport {
	return scanReport{
		Host:       s.Host,
		Scanned:    s.Scanned,
		Open:       s.Open,
		Ports:      s.Ports(),
		DurationMs: s.Duration.Milliseconds(),
	}
}

func renderDevices(w io.Writer, s *discovery.Summary) error {
	rows := make([][]string, 0, len(s.Devices))
	for _, d := range s.Devices {
		latency := fmt.Sprintf("%.1f ms", float64(d.Latency)/float64(time.Millisecond))
		rows = append(rows, []string{d.Address, d.Hostname, latency})
	}

	if err := renderTable(w, []string{"Address", "Hostname", "Latency"}, rows); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%s.0/24: %d devices found, %d hosts probed (%s)\n",
		s.Base, len(s.Devices), s.Scanned, s.Duration.Round(time.Millisecond))
	return err
}

func renderInterfaces(w io.Writer, ifaces []netinfo.Interface) error {
	rows := make([][]string, 0, len(ifaces))
	for _, i := range ifaces {
		rows = append(rows, []string{i.Name, i.Type, i.Status(), orDash(i.MAC), orDash(i.IPv4), orDash(i.Mask), orDash(i.Gateway)})
	}
	return renderTable(w, []string{"Name", "Type", "Status", "MAC", "IPv4", "Mask", "Gateway"}, rows)
}

func renderWireless(w io.Writer, wl *netinfo.Wireless) error {
	if wl == nil {
		_, err := fmt.Fprintln(w, "No active wireless connection")
		return err
	}
	return renderTable(w, []string{"SSID", "BSSID", "Signal", "Security"},
		[][]string{{wl.SSID, wl.BSSID, strconv.Itoa(wl.Signal) + "%", wl.Security}})
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
