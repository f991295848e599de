package netinfo

import (
	"context"
	"net/url"
	"os/exec"
	"runtime"

	"github.com/anstrom/lanprobe/internal/errors"
)

// OpenURL hands rawURL to the platform's default opener and returns once the
// opener has started. Only http and https URLs are accepted.
func OpenURL(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.NewProbeErrorWithTarget(errors.CodeValidation, "invalid URL", rawURL)
	}

	name, args := openerCommand(runtime.GOOS, u.String())
	cmd := exec.CommandContext(ctx, name, args...)
	if err := cmd.Start(); err != nil {
		return errors.WrapProbeError(errors.CodeConfiguration, "failed to start "+name, err)
	}
	go func() { _ = cmd.Wait() }()
	return nil
}

func openerCommand(goos, target string) (string, []string) {
	switch goos {
	case "windows":
		return "rundll32", []string{"url.dll,FileProtocolHandler", target}
	case "darwin":
		return "open", []string{target}
	default:
		return "xdg-open", []string{target}
	}
}
