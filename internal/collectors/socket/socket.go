// Package socket lists active TCP/UDP sockets via the OS socket-listing
// tool, resolves their owning process names, and asynchronously caches
// reverse-DNS lookups for remote endpoints.
package socket

import (
	"context"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.meridian.dev/meridian/internal/logging"
	"go.meridian.dev/meridian/internal/model"
	"go.meridian.dev/meridian/internal/procutil"
)

const (
	Name          = "socket"
	listTimeout   = 10 * time.Second
	resolveTimeout = 10 * time.Second
)

var log = logging.WithComponent("collectors.socket")

var wellKnownPorts = map[int]string{
	20: "ftp-data", 21: "ftp", 22: "ssh", 23: "telnet", 25: "smtp",
	53: "dns", 80: "http", 110: "pop3", 123: "ntp", 143: "imap",
	443: "https", 445: "smb", 465: "smtps", 587: "submission",
	993: "imaps", 995: "pop3s", 3306: "mysql", 3389: "rdp",
	5432: "postgres", 6379: "redis", 8080: "http-alt",
}

var runLsof = func(ctx context.Context) ([]byte, error) {
	out, _, err := procutil.Run(ctx, listTimeout, "lsof", "-i", "-P", "-n", "-F", "cnPTs")
	return out, err
}

var runPS = func(ctx context.Context, pids []string) ([]byte, error) {
	if len(pids) == 0 {
		return nil, nil
	}
	out, _, err := procutil.Run(ctx, 5*time.Second, "ps", "-p", strings.Join(pids, ","), "-o", "pid=,comm=")
	return out, err
}

var resolveHostname = func(host string) (string, bool) {
	names, err := net.LookupAddr(host)
	if err != nil || len(names) == 0 {
		return "", false
	}
	return strings.TrimSuffix(names[0], "."), true
}

// Collector owns the reverse-DNS cache, which must persist across scans.
type Collector struct {
	mu      sync.Mutex
	cache   map[string]*string // host -> resolved hostname, nil = failed
	pending map[string]bool
}

// New constructs an empty socket collector.
func New() *Collector {
	return &Collector{
		cache:   make(map[string]*string),
		pending: make(map[string]bool),
	}
}

// rawRecord is one parsed lsof `-F cnPTs` entry before PID resolution.
type rawRecord struct {
	pid     string
	command string
	proto   string
	state   string
	name    string
}

// Scan lists current sockets, resolves process names, kicks off background
// reverse-DNS lookups for new remote hosts, and returns one entity per
// distinct connection.
func (c *Collector) Scan(ctx context.Context) model.Result {
	out, err := runLsof(ctx)
	if err != nil && len(out) == 0 {
		log.Warn("socket list failed", "error", truncate(err.Error(), 200))
		return model.Result{}
	}

	records := parseLsofFields(string(out))
	pidSet := make(map[string]bool)
	for _, r := range records {
		if r.pid != "" {
			pidSet[r.pid] = true
		}
	}
	pids := make([]string, 0, len(pidSet))
	for p := range pidSet {
		pids = append(pids, p)
	}

	psOut, _ := runPS(ctx, pids)
	resolved := parsePSOutput(string(psOut))

	c.kickOffLookups(records)

	seen := make(map[string]bool)
	var result model.Result
	for _, r := range records {
		conn, ok := parseConnection(r.name)
		if !ok {
			continue
		}
		if isSkippableHost(conn.remoteHost) || conn.remotePort == 0 {
			continue
		}

		process := r.command
		if real, ok := resolved[r.pid]; ok && real != "" && real != process {
			process = real
		}

		id := model.SocketEntityID(r.proto, conn.remoteHost, conn.remotePort, process)
		if seen[id] {
			continue
		}
		seen[id] = true

		name := c.displayName(process, conn.remoteHost, conn.remotePort)

		entity := model.Entity{
			ID:   id,
			Type: model.SignalSocket,
			Name: name,
			IP:   conn.remoteHost,
			Socket: &model.SocketAttrs{
				Protocol:    r.proto,
				LocalPort:   conn.localPort,
				RemotePort:  conn.remotePort,
				RemoteHost:  conn.remoteHost,
				State:       r.state,
				ProcessName: process,
			},
		}
		if hostname := c.cachedHostname(conn.remoteHost); hostname != "" {
			entity.Socket.ResolvedHostname = hostname
		}
		if svc, ok := wellKnownPorts[conn.remotePort]; ok {
			entity.Socket.ServiceName = svc
		}
		result.Entities = append(result.Entities, entity)
		result.Relations = append(result.Relations, model.NewRelation(id, model.HostEntityID, model.RelationConnectedTo))
	}
	return result
}

func (c *Collector) displayName(process, remoteHost string, remotePort int) string {
	if hostname := c.cachedHostname(remoteHost); hostname != "" {
		short := registrableDomain(hostname)
		if svc, ok := wellKnownPorts[remotePort]; ok {
			return process + " → " + short + " (" + svc + ")"
		}
		return process + " → " + short + ":" + strconv.Itoa(remotePort)
	}
	return process + " → " + remoteHost + ":" + strconv.Itoa(remotePort)
}

func (c *Collector) cachedHostname(host string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.cache[host]; ok && v != nil {
		return *v
	}
	return ""
}

// kickOffLookups starts one asynchronous reverse-DNS lookup per remote
// host seen this scan that is neither cached nor already pending.
func (c *Collector) kickOffLookups(records []rawRecord) {
	hosts := make(map[string]bool)
	for _, r := range records {
		conn, ok := parseConnection(r.name)
		if !ok || isSkippableHost(conn.remoteHost) {
			continue
		}
		hosts[conn.remoteHost] = true
	}

	for host := range hosts {
		c.mu.Lock()
		_, cached := c.cache[host]
		pending := c.pending[host]
		if !cached && !pending {
			c.pending[host] = true
		}
		c.mu.Unlock()
		if cached || pending {
			continue
		}

		go func(h string) {
			name, ok := resolveHostname(h)
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.pending, h)
			if ok {
				c.cache[h] = &name
			} else {
				c.cache[h] = nil
			}
		}(host)
	}
}

// parseLsofFields parses lsof's `-F cnPTs` field-coded output.
func parseLsofFields(output string) []rawRecord {
	var records []rawRecord
	var current rawRecord
	haveCurrent := false

	flush := func() {
		if haveCurrent && current.name != "" {
			records = append(records, current)
		}
	}

	for _, line := range strings.Split(output, "\n") {
		if line == "" {
			continue
		}
		field, rest := line[0], line[1:]
		switch field {
		case 'p':
			flush()
			current = rawRecord{pid: rest}
			haveCurrent = true
		case 'c':
			current.command = rest
		case 'P':
			current.proto = strings.ToUpper(rest)
		case 'T':
			if strings.HasPrefix(rest, "ST=") {
				current.state = strings.TrimPrefix(rest, "ST=")
			}
		case 'n':
			current.name = rest
		}
	}
	flush()
	return records
}

// parsePSOutput parses `ps -p LIST -o pid=,comm=` rows into pid -> resolved
// executable basename.
func parsePSOutput(output string) map[string]string {
	out := make(map[string]string)
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		pid := fields[0]
		comm := strings.Join(fields[1:], " ")
		out[pid] = resolveExecutableName(comm)
	}
	return out
}

// resolveExecutableName implements the app-bundle vs. basename rule: a
// path containing "/X.app/" resolves to "X"; otherwise the path's basename.
func resolveExecutableName(path string) string {
	if idx := strings.Index(path, ".app/"); idx >= 0 {
		prefix := path[:idx]
		if slash := strings.LastIndex(prefix, "/"); slash >= 0 {
			return prefix[slash+1:]
		}
		return prefix
	}
	if slash := strings.LastIndex(path, "/"); slash >= 0 {
		return path[slash+1:]
	}
	return path
}

type connection struct {
	localHost  string
	localPort  int
	remoteHost string
	remotePort int
}

// parseConnection splits an lsof `n` field into local/remote host:port,
// supporting bracketed IPv6 literals.
func parseConnection(n string) (connection, bool) {
	if n == "" {
		return connection{}, false
	}
	var localPart, remotePart string
	if idx := strings.Index(n, "->"); idx >= 0 {
		localPart = n[:idx]
		remotePart = n[idx+2:]
	} else {
		remotePart = n
	}

	remoteHost, remotePort := splitHostPort(remotePart)
	if remoteHost == "" {
		return connection{}, false
	}
	localHost, localPort := splitHostPort(localPart)
	_ = localHost

	return connection{
		localPort:  localPort,
		remoteHost: remoteHost,
		remotePort: remotePort,
	}, true
}

func splitHostPort(s string) (string, int) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", 0
	}
	if strings.HasPrefix(s, "[") {
		end := strings.Index(s, "]")
		if end < 0 {
			return "", 0
		}
		host := s[1:end]
		rest := s[end+1:]
		port := 0
		if strings.HasPrefix(rest, ":") {
			port, _ = strconv.Atoi(rest[1:])
		}
		return host, port
	}
	idx := strings.LastIndex(s, ":")
	if idx < 0 {
		return s, 0
	}
	host := s[:idx]
	port, _ := strconv.Atoi(s[idx+1:])
	return host, port
}

func isSkippableHost(host string) bool {
	switch host {
	case "127.0.0.1", "::1", "localhost", "*", "":
		return true
	default:
		return false
	}
}

// registrableDomain shortens a hostname to its last two labels, or last
// three when the second-to-last label is a short (<=3 char) ccTLD-style
// label (e.g. "foo.co.uk" keeps all three).
func registrableDomain(hostname string) string {
	labels := strings.Split(hostname, ".")
	if len(labels) <= 2 {
		return hostname
	}
	secondToLast := labels[len(labels)-2]
	if len(secondToLast) <= 3 && len(labels) >= 3 {
		return strings.Join(labels[len(labels)-3:], ".")
	}
	return strings.Join(labels[len(labels)-2:], ".")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
