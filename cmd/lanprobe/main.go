// Command lanprobe is a LAN diagnostics tool: ping, TCP port scan, /24
// discovery, name resolution and interface reporting, from the command line
// or over an HTTP API.
package main

import (
	"github.com/anstrom/lanprobe/cmd/cli"
)

// Build information, set by ldflags during build.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	cli.SetVersion(version, commit, buildTime)
	cli.Execute()
}
