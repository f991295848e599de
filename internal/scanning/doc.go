// Package scanning provides the TCP port scanner for lanprobe.
//
// A scan takes a validated targets.ScanRequest, fans TCP connect probes out
// over every requested port of one host and reduces the outcomes to a
// Summary listing the open ports in ascending order.
//
// # Usage
//
//	req, err := targets.NewScanRequest("192.168.1.10", "22,80,443,8000-8010", targets.RequestOptions{})
//	if err != nil {
//		return err
//	}
//
//	scanner := scanning.New(scanning.Config{Connector: probe.NewProber(limiter)})
//	summary, err := scanner.Scan(ctx, req)
//	if err != nil && summary == nil {
//		return err
//	}
//	fmt.Println(summary.Open)
//
// # Port states
//
// Every scanned port keeps its probe outcome. PortState maps an outcome onto
// the familiar open, closed and filtered labels: a completed handshake is
// open, a refused connection is closed, and a timeout or unreachable network
// is filtered.
//
// # Cancellation
//
// When the context is canceled mid-scan the scanner stops dispatching,
// waits for in-flight connects to close, and returns the partial Summary
// together with a CANCELED error.
package scanning
