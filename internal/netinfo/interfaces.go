// Package netinfo reports the host's network interface configuration and
// hands URLs to the platform opener. It is a thin layer over OS queries and
// holds no state.
package netinfo

import (
	"bufio"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/anstrom/lanprobe/internal/errors"
	"github.com/anstrom/lanprobe/internal/targets"
)

// Interface types.
const (
	TypeEthernet = "ethernet"
	TypeWireless = "wireless"
	TypeLoopback = "loopback"
	TypeOther    = "other"
)

const (
	routeFile    = "/proc/net/route"
	sysClassNet  = "/sys/class/net"
	routeFields  = 3
	defaultRoute = "00000000"
)

// Interface is one network interface with its primary IPv4 configuration.
// Addrs holds every IPv4 address assigned to it, primary first.
type Interface struct {
	Name    string   `json:"name"`
	MAC     string   `json:"mac"`
	IPv4    string   `json:"ipv4,omitempty"`
	Mask    string   `json:"mask,omitempty"`
	Addrs   []string `json:"addrs,omitempty"`
	Gateway string   `json:"gateway,omitempty"`
	Up      bool     `json:"up"`
	Type    string   `json:"type"`
}

// Status returns "up" or "down".
func (i Interface) Status() string {
	if i.Up {
		return "up"
	}
	return "down"
}

// List returns the host's interfaces ordered by name. Gateways come from the
// kernel routing table where one is available.
func List() ([]Interface, error) {
	result, err := systemInterfaces()
	if err != nil {
		return nil, err
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// systemInterfaces returns the interfaces in the order the OS reports them.
func systemInterfaces() ([]Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, errors.WrapProbeError(errors.CodeConfiguration, "failed to list interfaces", err)
	}

	gateways := map[string]string{}
	if f, err := os.Open(routeFile); err == nil {
		gateways = parseRoutes(f)
		_ = f.Close()
	}

	result := make([]Interface, 0, len(ifaces))
	for _, iface := range ifaces {
		addrs, _ := iface.Addrs()
		info := describe(iface.Name, iface.Flags, iface.HardwareAddr, addrs)
		info.Gateway = gateways[iface.Name]
		if info.Type == TypeEthernet && isWireless(iface.Name) {
			info.Type = TypeWireless
		}
		result = append(result, info)
	}
	return result, nil
}

// describe builds an Interface from the raw values net.Interface exposes.
// An interface is up only when it is both administratively up and running.
func describe(name string, flags net.Flags, mac net.HardwareAddr, addrs []net.Addr) Interface {
	info := Interface{
		Name: name,
		MAC:  strings.ToUpper(mac.String()),
		Up:   flags&(net.FlagUp|net.FlagRunning) == net.FlagUp|net.FlagRunning,
		Type: TypeOther,
	}

	switch {
	case flags&net.FlagLoopback != 0:
		info.Type = TypeLoopback
	case len(mac) == 6:
		info.Type = TypeEthernet
	}

	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		ip4 := ipnet.IP.To4()
		if ip4 == nil {
			continue
		}
		if info.IPv4 == "" {
			info.IPv4 = ip4.String()
			info.Mask = net.IP(ipnet.Mask).String()
		}
		info.Addrs = append(info.Addrs, ip4.String())
	}
	return info
}

func isWireless(name string) bool {
	_, err := os.Stat(filepath.Join(sysClassNet, name, "wireless"))
	return err == nil
}

// parseRoutes reads /proc/net/route and returns the default gateway of each
// interface. Addresses in that file are little-endian hex.
func parseRoutes(r io.Reader) map[string]string {
	gateways := make(map[string]string)
	scanner := bufio.NewScanner(r)
	first := true
	for scanner.Scan() {
		if first {
			first = false
			continue
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) < routeFields || fields[1] != defaultRoute {
			continue
		}
		if _, seen := gateways[fields[0]]; seen {
			continue
		}
		if gw, ok := hexToIPv4(fields[2]); ok {
			gateways[fields[0]] = gw
		}
	}
	return gateways
}

func hexToIPv4(s string) (string, bool) {
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != net.IPv4len {
		return "", false
	}
	ip := make(net.IP, net.IPv4len)
	binary.BigEndian.PutUint32(ip, binary.LittleEndian.Uint32(raw))
	if ip.IsUnspecified() {
		return "", false
	}
	return ip.String(), true
}

// LocalPrivateIPv4 returns the first private IPv4 address of the first
// running, non-loopback interface in OS order.
func LocalPrivateIPv4() (string, error) {
	ifaces, err := systemInterfaces()
	if err != nil {
		return "", err
	}
	return firstPrivate(ifaces)
}

func firstPrivate(ifaces []Interface) (string, error) {
	for _, iface := range ifaces {
		if !iface.Up || iface.Type == TypeLoopback {
			continue
		}
		addrs := iface.Addrs
		if len(addrs) == 0 && iface.IPv4 != "" {
			addrs = []string{iface.IPv4}
		}
		for _, addr := range addrs {
			if targets.IsPrivate(addr) {
				return addr, nil
			}
		}
	}
	return "", errors.NewProbeError(errors.CodeConfiguration,
		fmt.Sprintf("no private IPv4 address on %d interfaces", len(ifaces)))
}

// LocalBase returns the /24 base of the local private address, e.g.
// "192.168.1".
func LocalBase() (string, error) {
	ip, err := LocalPrivateIPv4()
	if err != nil {
		return "", err
	}
	return targets.SubnetBase(ip)
}
