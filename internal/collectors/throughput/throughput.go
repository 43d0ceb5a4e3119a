// Package throughput samples per-connection byte counters and derives
// rates against the previous sample; rates are published through a side
// accessor and never written to the store, since the Socket collector's
// next scan has no throughput signal and would clobber them.
package throughput

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.meridian.dev/meridian/internal/clock"
	"go.meridian.dev/meridian/internal/logging"
	"go.meridian.dev/meridian/internal/model"
	"go.meridian.dev/meridian/internal/procutil"
)

const (
	Name          = "throughput"
	sampleTimeout = 10 * time.Second
)

var log = logging.WithComponent("collectors.throughput")

var runNettop = func(ctx context.Context) ([]byte, error) {
	out, _, err := procutil.Run(ctx, sampleTimeout, "nettop", "-m", "tcp", "-L", "1", "-J", "bytes_in,bytes_out", "-n", "-x")
	return out, err
}

// Rate is a single connection's derived throughput as of the most recent
// scan with a prior sample to compare against.
type Rate struct {
	BytesPerSec    float64
	BytesInPerSec  float64
	BytesOutPerSec float64
}

type sample struct {
	in, out int64
	at      int64 // unix millis
}

// Collector owns the previous-sample table across scans.
type Collector struct {
	mu    sync.Mutex
	clock clock.Clock
	prev  map[string]sample
	rates map[string]Rate
}

// New constructs a throughput collector using the real clock.
func New() *Collector {
	return NewWithClock(&clock.RealClock{})
}

// NewWithClock constructs a throughput collector against an injected clock,
// for deterministic rate tests.
func NewWithClock(c clock.Clock) *Collector {
	return &Collector{
		clock: c,
		prev:  make(map[string]sample),
		rates: make(map[string]Rate),
	}
}

// Scan samples nettop once and recomputes rates; the collector result
// proper is always empty.
func (c *Collector) Scan(ctx context.Context) model.Result {
	out, err := runNettop(ctx)
	if err != nil && len(out) == 0 {
		log.Warn("throughput sample failed", "error", truncate(err.Error(), 200))
		return model.Result{}
	}

	now := c.clock.Now().UnixMilli()
	samples := parseNettopCSV(string(out))

	c.mu.Lock()
	defer c.mu.Unlock()

	rates := make(map[string]Rate)
	for key, cur := range samples {
		prev, ok := c.prev[key]
		if !ok {
			continue
		}
		elapsedSec := float64(now-prev.at) / 1000.0
		if elapsedSec <= 0 {
			continue
		}
		inDelta := cur.in - prev.in
		if inDelta < 0 {
			inDelta = 0
		}
		outDelta := cur.out - prev.out
		if outDelta < 0 {
			outDelta = 0
		}
		inRate := float64(inDelta) / elapsedSec
		outRate := float64(outDelta) / elapsedSec
		total := inRate + outRate
		if total <= 0 {
			continue
		}
		rates[key] = Rate{BytesPerSec: total, BytesInPerSec: inRate, BytesOutPerSec: outRate}
	}

	for key, cur := range samples {
		c.prev[key] = sample{in: cur.in, out: cur.out, at: now}
	}
	c.rates = rates

	return model.Result{}
}

// Rates returns the most recently computed per-connection rates, keyed the
// same way the Socket collector keys its entities.
func (c *Collector) Rates() map[string]Rate {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]Rate, len(c.rates))
	for k, v := range c.rates {
		out[k] = v
	}
	return out
}

// parseNettopCSV parses `nettop -J bytes_in,bytes_out -n -x` rows: process
// rows update the "current process" name (stripping a trailing ".pid"),
// connection rows yield a sample keyed by the Socket collector's id scheme.
func parseNettopCSV(output string) map[string]sample {
	samples := make(map[string]sample)
	currentProcess := ""

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		fields := strings.Split(line, ",")
		key := fields[0]

		if strings.Contains(key, "<->") || strings.Contains(key, "->") {
			remoteHost, remotePort, ok := extractRemote(key)
			if !ok || isLoopback(remoteHost) {
				continue
			}
			if len(fields) < 3 {
				continue
			}
			in, errIn := strconv.ParseInt(strings.TrimSpace(fields[1]), 10, 64)
			out, errOut := strconv.ParseInt(strings.TrimSpace(fields[2]), 10, 64)
			if errIn != nil || errOut != nil {
				continue
			}
			connKey := model.SocketEntityID("TCP", remoteHost, remotePort, currentProcess)
			samples[connKey] = sample{in: in, out: out}
			continue
		}

		if proc, ok := processRowName(key); ok {
			currentProcess = proc
		}
	}
	return samples
}

// processRowName recognizes a nettop process row of the shape "name.pid"
// and returns the name with the trailing ".digits" stripped.
func processRowName(key string) (string, bool) {
	idx := strings.LastIndex(key, ".")
	if idx < 0 {
		return "", false
	}
	suffix := key[idx+1:]
	if suffix == "" {
		return "", false
	}
	for _, r := range suffix {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	return key[:idx], true
}

func extractRemote(key string) (string, int, bool) {
	sep := "<->"
	idx := strings.Index(key, sep)
	if idx < 0 {
		sep = "->"
		idx = strings.Index(key, sep)
	}
	if idx < 0 {
		return "", 0, false
	}
	remotePart := strings.TrimSpace(key[idx+len(sep):])
	remotePart = lastToken(remotePart)

	if strings.HasPrefix(remotePart, "[") {
		end := strings.Index(remotePart, "]")
		if end < 0 {
			return "", 0, false
		}
		host := remotePart[1:end]
		rest := remotePart[end+1:]
		port := 0
		if strings.HasPrefix(rest, ":") {
			port, _ = strconv.Atoi(rest[1:])
		}
		return host, port, true
	}

	lastColon := strings.LastIndex(remotePart, ":")
	if lastColon < 0 {
		return remotePart, 0, true
	}
	host := remotePart[:lastColon]
	port, _ := strconv.Atoi(remotePart[lastColon+1:])
	return host, port, true
}

func lastToken(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return s
	}
	return fields[len(fields)-1]
}

func isLoopback(host string) bool {
	switch host {
	case "127.0.0.1", "::1", "localhost":
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
