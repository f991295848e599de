package netinfo

import (
	"bufio"
	"context"
	"os/exec"
	"strconv"
	"strings"

	"github.com/anstrom/lanprobe/internal/errors"
)

// nmcliFields is the terse field list requested from nmcli.
const nmcliFields = "active,ssid,bssid,signal,security"

// Wireless describes the access point a wireless interface is associated
// with.
type Wireless struct {
	SSID     string `json:"ssid"`
	BSSID    string `json:"bssid"`
	Signal   int    `json:"signal"`
	Security string `json:"security"`
}

// CommandRunner runs an external command and returns its standard output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// ActiveWireless returns the associated access point as reported by
// NetworkManager. A host without an active wireless connection returns nil
// and no error.
func ActiveWireless(ctx context.Context) (*Wireless, error) {
	return activeWireless(ctx, execRunner)
}

func activeWireless(ctx context.Context, run CommandRunner) (*Wireless, error) {
	out, err := run(ctx, "nmcli", "-t", "-f", nmcliFields, "dev", "wifi")
	if err != nil {
		return nil, errors.WrapProbeError(errors.CodeConfiguration, "nmcli query failed", err)
	}
	return parseNmcli(string(out)), nil
}

// parseNmcli picks the active line out of terse nmcli output. Colons inside
// values are escaped as "\:".
func parseNmcli(output string) *Wireless {
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		fields := splitTerse(scanner.Text())
		if len(fields) < 5 || fields[0] != "yes" {
			continue
		}
		signal, _ := strconv.Atoi(fields[3])
		security := fields[4]
		if security == "" {
			security = "open"
		}
		return &Wireless{
			SSID:     fields[1],
			BSSID:    fields[2],
			Signal:   signal,
			Security: security,
		}
	}
	return nil
}

func splitTerse(line string) []string {
	var (
		fields []string
		cur    strings.Builder
	)
	for i := 0; i < len(line); i++ {
		switch {
		case line[i] == '\\' && i+1 < len(line):
			i++
			cur.WriteByte(line[i])
		case line[i] == ':':
			fields = append(fields, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(line[i])
		}
	}
	return append(fields, cur.String())
}
