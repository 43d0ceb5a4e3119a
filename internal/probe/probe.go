// Package probe runs the on-demand active OS-detection probe: a
// reachability pre-check via ICMP ping, then an nmap OS-detection scan
// parsed into a family/version/confidence triple. Both steps are
// best-effort; a probe never patches the store itself — its result is
// handed back to the caller (the Transport Contract's control surface) for
// the OS Fingerprinter to fold in as an Active Probe signal.
package probe

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	probing "github.com/prometheus-community/pro-bing"

	"go.meridian.dev/meridian/internal/logging"
	"go.meridian.dev/meridian/internal/procutil"
)

const (
	pingTimeout = 1 * time.Second
	nmapTimeout = 15 * time.Second

	maxVersionLen = 80
)

var log = logging.WithComponent("probe")

// Result is the outcome of one active OS probe, shaped for direct
// marshaling onto the `os.nmap_scan` response.
type Result struct {
	Success    bool
	IP         string
	OSFamily   string
	OSVersion  string
	Confidence float64
	Error      string
}

// CheckPingFunc performs a single unprivileged ICMP echo with a 1 s
// timeout. Overridable in tests.
var CheckPingFunc = func(ip string) error {
	pinger, err := probing.NewPinger(ip)
	if err != nil {
		return fmt.Errorf("create pinger: %w", err)
	}
	pinger.Count = 1
	pinger.Timeout = pingTimeout
	pinger.SetPrivileged(false)

	if err := pinger.Run(); err != nil {
		return err
	}
	if pinger.Statistics().PacketsRecv == 0 {
		return fmt.Errorf("packet loss")
	}
	return nil
}

var runNmap = func(ctx context.Context, ip string) (stdout []byte, err error) {
	out, _, err := procutil.Run(ctx, nmapTimeout, "nmap", "-O", "--osscan-guess", "-T4", "--max-os-tries", "1", "-n", ip)
	return out, err
}

// familyPatterns is evaluated in order; the first matching regex wins.
var familyPatterns = []struct {
	family string
	re     *regexp.Regexp
}{
	{"windows", regexp.MustCompile(`(?i)windows`)},
	{"macos", regexp.MustCompile(`(?i)mac\s*os|macos|os\s*x`)},
	{"ios", regexp.MustCompile(`(?i)ios|iphone|ipad`)},
	{"android", regexp.MustCompile(`(?i)android`)},
	{"freebsd", regexp.MustCompile(`(?i)freebsd`)},
	{"linux", regexp.MustCompile(`(?i)linux`)},
}

var (
	osDetailsRE   = regexp.MustCompile(`(?im)^OS details:\s*(.+)$`)
	runningGuessRE = regexp.MustCompile(`(?im)^Running(?:: JUST GUESSING)?:\s*(.+)$`)
	confidenceRE  = regexp.MustCompile(`\((\d+)%\)`)
)

// Scan runs the reachability pre-check, then (if reachable) the nmap OS
// probe, parsing its stdout for the first "OS details: …" or "Running…"
// line. Never returns an error: unreachability, a failed scan, or
// unparseable output all surface as {Success: false, Error: ...}.
func Scan(ctx context.Context, ip string) Result {
	if err := CheckPingFunc(ip); err != nil {
		return Result{Success: false, IP: ip, Error: fmt.Sprintf("unreachable: %s", err)}
	}

	out, err := runNmap(ctx, ip)
	if err != nil {
		log.Warn("nmap scan failed", "ip", ip, "error", err)
		return Result{Success: false, IP: ip, Error: err.Error()}
	}

	family, version, confidence, ok := parseNmapOutput(string(out))
	if !ok {
		return Result{Success: false, IP: ip, Error: "no OS match in nmap output"}
	}

	return Result{
		Success:    true,
		IP:         ip,
		OSFamily:   family,
		OSVersion:  version,
		Confidence: confidence,
	}
}

func parseNmapOutput(output string) (family, version string, confidence float64, ok bool) {
	line := firstMatch(output)
	if line == "" {
		return "", "", 0, false
	}

	for _, p := range familyPatterns {
		if p.re.MatchString(line) {
			family = p.family
			break
		}
	}
	if family == "" {
		return "", "", 0, false
	}

	confidence = 0.9
	if m := confidenceRE.FindStringSubmatch(line); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			confidence = float64(n) / 100
		}
	}

	version = firstVersionToken(line)

	return family, version, confidence, true
}

func firstMatch(output string) string {
	if m := osDetailsRE.FindStringSubmatch(output); m != nil {
		return m[1]
	}
	if m := runningGuessRE.FindStringSubmatch(output); m != nil {
		return m[1]
	}
	return ""
}

func firstVersionToken(line string) string {
	token := strings.SplitN(line, ",", 2)[0]
	token = confidenceRE.ReplaceAllString(token, "")
	token = strings.TrimSpace(token)
	if len(token) > maxVersionLen {
		token = token[:maxVersionLen]
	}
	return token
}
