// Package packet drives the optional live packet feed: a tshark
// subprocess in line-buffered, numeric-address, field-extraction mode,
// correlated against the Entity Store's known IPs and aggregated into
// per-entity protocol/byte/packet counters. It is off by default and
// only one capture runs at a time.
package packet

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.meridian.dev/meridian/internal/logging"
	"go.meridian.dev/meridian/internal/model"
	"go.meridian.dev/meridian/internal/procutil"
)

const (
	Name = "packet"

	maxRingSize      = 10000
	drainInterval    = 100 * time.Millisecond
	drainBatch       = 10
	flushInterval    = 2 * time.Second
	infoTruncateLen  = 80
	routeLookupDeadline = 5 * time.Second
)

var log = logging.WithComponent("collectors.packet")

// State is one of the capture pipeline's lifecycle states.
type State string

const (
	StateIdle      State = "idle"
	StateStarting  State = "starting"
	StateCapturing State = "capturing"
	StateStopping  State = "stopping"
)

// Status reports tshark's availability on this host: whether the binary is
// on PATH. Permission is not part of this probe — it can only be observed
// live, from the pipeline's own stderr discipline, so it is not cacheable
// the way tool presence is.
type Status struct {
	Available bool
}

var toolOnPath = func(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// CheckStatus resolves whether tshark is installed and reachable on PATH.
func CheckStatus() Status {
	return Status{Available: toolOnPath("tshark")}
}

// PacketEvent is one parsed capture line.
type PacketEvent struct {
	ID        string
	Timestamp int64 // epoch ms
	NodeID    string
	SrcIP     string
	DstIP     string
	Protocol  string
	Length    int
	Info      string
}

var runRouteGetDefault = func(ctx context.Context) ([]byte, error) {
	out, _, err := procutil.Run(ctx, routeLookupDeadline, "route", "get", "default")
	return out, err
}

var routeInterfaceRE = regexp.MustCompile(`interface:\s*(\S+)`)

// resolveDefaultInterface parses `route get default`'s "interface: enX" line.
func resolveDefaultInterface(output string) (string, bool) {
	m := routeInterfaceRE.FindStringSubmatch(output)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Pipeline owns the capture subprocess, the bounded event ring, and the
// per-IP aggregation tables. Only one capture runs at a time; Start on an
// already-capturing pipeline cleanly stops the previous one first.
type Pipeline struct {
	mu    sync.Mutex
	state State

	lastError             string
	permissionRemediation string
	hasPermission         bool
	iface                 string

	streaming *procutil.Streaming
	stopOnce  sync.Once
	done      chan struct{}

	seq int64

	capturedTotal int64
	droppedTotal  int64

	ring    []PacketEvent
	pending []PacketEvent

	protocolsByIP map[string]map[string]int64
	bytesByIP     map[string]int64
	packetsByIP   map[string]int64

	ipToEntity map[string]string
	hostIPs    map[string]struct{}

	ttlSample func(ip string, ttl int)

	onEvent    func(PacketEvent)
	enrichHook func()
}

// New constructs an idle pipeline.
func New() *Pipeline {
	return &Pipeline{
		state:         StateIdle,
		hasPermission: true,
		protocolsByIP: make(map[string]map[string]int64),
		bytesByIP:     make(map[string]int64),
		packetsByIP:   make(map[string]int64),
		ipToEntity:    make(map[string]string),
		hostIPs:       make(map[string]struct{}),
	}
}

// SetOnEvent registers the per-packet callback. Registering nil disables
// drain delivery without affecting aggregation.
func (p *Pipeline) SetOnEvent(cb func(PacketEvent)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onEvent = cb
}

// SetEnrichHook registers the orchestrator-supplied callback invoked every
// flush interval.
func (p *Pipeline) SetEnrichHook(cb func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enrichHook = cb
}

// SetTTLSample registers a callback fed one TTL observation per packet with
// a non-empty ip.ttl/ipv6.hlim field, for internal/fingerprint's TTLWindow.
func (p *Pipeline) SetTTLSample(cb func(ip string, ttl int)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ttlSample = cb
}

// State returns the pipeline's current lifecycle state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// LastError returns the most recent error message recorded on an
// error-to-idle transition, and the permission remediation message if the
// capture stopped itself for lack of permission.
func (p *Pipeline) LastError() (lastError, remediation string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastError, p.permissionRemediation
}

// HasPermission reports the pipeline's live-observed capture permission
// state: false once a "permission denied" stderr line has been seen, true
// again after the next successful Start.
func (p *Pipeline) HasPermission() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasPermission
}

// Interface returns the interface the pipeline is capturing on, or empty
// when idle.
func (p *Pipeline) Interface() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.iface
}

// RefreshCorrelation rebuilds the IP→entity correlation index. The
// Orchestrator calls this after every Link-Layer Neighbor scan and again on
// capture start. Host IPs always map to the sentinel Host entity.
func (p *Pipeline) RefreshCorrelation(entities []model.Entity, hostIPSet map[string]struct{}) {
	index := make(map[string]string, len(entities))
	for _, e := range entities {
		if e.IP != "" {
			index[e.IP] = e.ID
		}
	}
	for ip := range hostIPSet {
		index[ip] = model.HostEntityID
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.ipToEntity = index
	p.hostIPs = hostIPSet
}

// resolveInterface picks a capture interface: the caller's preference if it
// names a known non-loopback IPv4 interface, else the OS default route's
// interface, else the primary Wi-Fi interface.
func resolveInterface(ctx context.Context, preferred string, hostInterfaces []model.HostInterface, wifiFallback func(context.Context) (string, bool)) (string, error) {
	if preferred != "" {
		for _, hi := range hostInterfaces {
			if hi.Name == preferred {
				return preferred, nil
			}
		}
	}

	out, err := runRouteGetDefault(ctx)
	if err == nil {
		if iface, ok := resolveDefaultInterface(string(out)); ok {
			return iface, nil
		}
	}

	if wifiFallback != nil {
		if iface, ok := wifiFallback(ctx); ok {
			return iface, nil
		}
	}

	return "", fmt.Errorf("no capture interface could be resolved")
}

func tsharkArgs(iface string) []string {
	return []string{
		"-i", iface,
		"-l", "-n",
		"-T", "fields",
		"-E", "separator=|",
		"-E", "occurrence=f",
		"-e", "frame.number",
		"-e", "frame.time_epoch",
		"-e", "ip.src",
		"-e", "ip.dst",
		"-e", "ipv6.src",
		"-e", "ipv6.dst",
		"-e", "_ws.col.Protocol",
		"-e", "frame.len",
		"-e", "_ws.col.Info",
		"-e", "ip.ttl",
		"-e", "ipv6.hlim",
	}
}

var startStreaming = procutil.StartStreaming

// Start stops any running capture, resolves the interface, and spawns
// tshark. preferred may be empty to always use default-route resolution.
func (p *Pipeline) Start(ctx context.Context, preferred string, hostInterfaces []model.HostInterface, wifiFallback func(context.Context) (string, bool)) error {
	p.stopLocked("restarting capture")

	p.mu.Lock()
	p.state = StateStarting
	p.mu.Unlock()

	iface, err := resolveInterface(ctx, preferred, hostInterfaces, wifiFallback)
	if err != nil {
		p.mu.Lock()
		p.state = StateIdle
		p.lastError = err.Error()
		p.mu.Unlock()
		return err
	}

	streaming, err := startStreaming("tshark", tsharkArgs(iface)...)
	if err != nil {
		p.mu.Lock()
		p.state = StateIdle
		p.lastError = err.Error()
		p.mu.Unlock()
		return err
	}

	p.mu.Lock()
	p.streaming = streaming
	p.stopOnce = sync.Once{}
	p.done = make(chan struct{})
	p.state = StateCapturing
	p.lastError = ""
	p.permissionRemediation = ""
	p.hasPermission = true
	p.iface = iface
	p.mu.Unlock()

	go p.readStdout(streaming)
	go p.readStderr(streaming)
	go p.drainLoop()
	go p.flushLoop()

	return nil
}

// Stop escalates shutdown and returns the pipeline to idle. Safe to call
// when already idle.
func (p *Pipeline) Stop() {
	p.stopLocked("stopped")
}

func (p *Pipeline) stopLocked(reason string) {
	p.mu.Lock()
	streaming := p.streaming
	done := p.done
	if p.state == StateIdle || streaming == nil {
		p.mu.Unlock()
		return
	}
	p.state = StateStopping
	p.mu.Unlock()

	p.stopOnce.Do(func() {
		streaming.Stop()
		if done != nil {
			close(done)
		}
	})

	p.mu.Lock()
	p.streaming = nil
	p.state = StateIdle
	p.iface = ""
	p.mu.Unlock()
	_ = reason
}

func (p *Pipeline) readStdout(streaming *procutil.Streaming) {
	scanner := bufio.NewScanner(streaming.Stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		p.handleLine(scanner.Text())
	}
}

func (p *Pipeline) readStderr(streaming *procutil.Streaming) {
	scanner := bufio.NewScanner(streaming.Stderr)
	for scanner.Scan() {
		line := scanner.Text()
		p.handleStderrLine(line)
	}
}

func (p *Pipeline) handleStderrLine(line string) {
	lower := strings.ToLower(line)
	switch {
	case strings.Contains(lower, "permission denied"):
		p.mu.Lock()
		p.permissionRemediation = "tshark does not have permission to read the capture device; grant it access and restart the capture"
		p.hasPermission = false
		p.mu.Unlock()
		log.Warn("packet capture stopped: permission denied", "line", line)
		go p.Stop()
	case strings.Contains(lower, "capturing on"):
	case strings.Contains(line, "packets captured"):
	default:
		log.Warn("tshark stderr", "line", line)
	}
}

func (p *Pipeline) handleLine(line string) {
	fields := strings.Split(line, "|")
	if len(fields) < 7 {
		return
	}

	epochStr := fields[1]
	srcV4, dstV4 := fields[2], fields[3]
	var srcV6, dstV6, protocol, lenStr, info, ttlStr, hlimStr string
	if len(fields) > 4 {
		srcV6 = fields[4]
	}
	if len(fields) > 5 {
		dstV6 = fields[5]
	}
	if len(fields) > 6 {
		protocol = fields[6]
	}
	if len(fields) > 7 {
		lenStr = fields[7]
	}
	if len(fields) > 8 {
		info = fields[8]
	}
	if len(fields) > 9 {
		ttlStr = fields[9]
	}
	if len(fields) > 10 {
		hlimStr = fields[10]
	}

	srcIP := srcV4
	if srcIP == "" {
		srcIP = srcV6
	}
	dstIP := dstV4
	if dstIP == "" {
		dstIP = dstV6
	}
	if srcIP == "" || dstIP == "" {
		return
	}

	length, _ := strconv.Atoi(strings.TrimSpace(lenStr))
	epochSeconds, _ := strconv.ParseFloat(strings.TrimSpace(epochStr), 64)
	tsMillis := int64(epochSeconds * 1000)

	if len(info) > infoTruncateLen {
		info = info[:infoTruncateLen]
	}

	p.mu.Lock()
	p.seq++
	seq := p.seq

	nodeID := p.correlateLocked(srcIP, dstIP)

	if _, isHost := p.hostIPs[srcIP]; !isHost {
		p.aggregateLocked(srcIP, protocol, int64(length))
	}
	if _, isHost := p.hostIPs[dstIP]; !isHost {
		p.aggregateLocked(dstIP, protocol, int64(length))
	}

	event := PacketEvent{
		ID:        fmt.Sprintf("pkt-%d", seq),
		Timestamp: tsMillis,
		NodeID:    nodeID,
		SrcIP:     srcIP,
		DstIP:     dstIP,
		Protocol:  protocol,
		Length:    length,
		Info:      info,
	}
	p.capturedTotal++
	p.ring = append(p.ring, event)
	if len(p.ring) > maxRingSize {
		overflow := len(p.ring) - maxRingSize
		p.droppedTotal += int64(overflow)
		p.ring = p.ring[overflow:]
	}
	p.pending = append(p.pending, event)

	ttlCB := p.ttlSample
	p.mu.Unlock()

	if ttlCB != nil {
		if ttl, ok := parseTTL(ttlStr, hlimStr); ok {
			ttlCB(srcIP, ttl)
		}
	}
}

func parseTTL(ttlStr, hlimStr string) (int, bool) {
	s := strings.TrimSpace(ttlStr)
	if s == "" {
		s = strings.TrimSpace(hlimStr)
	}
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

// correlateLocked resolves the packet's node id, preferring the non-Host
// side; the caller must hold p.mu.
func (p *Pipeline) correlateLocked(srcIP, dstIP string) string {
	srcNode := p.ipToEntity[srcIP]
	dstNode := p.ipToEntity[dstIP]
	if srcNode != "" && srcNode != model.HostEntityID {
		return srcNode
	}
	if dstNode != "" && dstNode != model.HostEntityID {
		return dstNode
	}
	if srcNode != "" {
		return srcNode
	}
	return dstNode
}

func (p *Pipeline) aggregateLocked(ip, protocol string, length int64) {
	if _, ok := p.protocolsByIP[ip]; !ok {
		p.protocolsByIP[ip] = make(map[string]int64)
	}
	p.protocolsByIP[ip][protocol]++
	p.bytesByIP[ip] += length
	p.packetsByIP[ip]++
}

func (p *Pipeline) drainLoop() {
	ticker := time.NewTicker(drainInterval)
	defer ticker.Stop()
	done := p.currentDone()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			p.drainOnce()
		}
	}
}

func (p *Pipeline) drainOnce() {
	p.mu.Lock()
	if p.onEvent == nil || len(p.pending) == 0 {
		p.mu.Unlock()
		return
	}
	n := drainBatch
	if n > len(p.pending) {
		n = len(p.pending)
	}
	batch := p.pending[:n]
	p.pending = p.pending[n:]
	cb := p.onEvent
	p.mu.Unlock()

	for _, e := range batch {
		cb(e)
	}
}

func (p *Pipeline) flushLoop() {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()
	done := p.currentDone()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			p.mu.Lock()
			hook := p.enrichHook
			p.mu.Unlock()
			if hook != nil {
				hook()
			}
		}
	}
}

func (p *Pipeline) currentDone() chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Aggregation returns a snapshot of the per-IP protocol/byte/packet
// counters accumulated since the pipeline was constructed (Start does not
// reset them), for the Orchestrator's enrichment flush to patch onto
// entities.
func (p *Pipeline) Aggregation() (protocolsByIP map[string]map[string]int64, bytesByIP, packetsByIP map[string]int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	protocolsByIP = make(map[string]map[string]int64, len(p.protocolsByIP))
	for ip, counts := range p.protocolsByIP {
		inner := make(map[string]int64, len(counts))
		for proto, n := range counts {
			inner[proto] = n
		}
		protocolsByIP[ip] = inner
	}
	bytesByIP = make(map[string]int64, len(p.bytesByIP))
	for ip, n := range p.bytesByIP {
		bytesByIP[ip] = n
	}
	packetsByIP = make(map[string]int64, len(p.packetsByIP))
	for ip, n := range p.packetsByIP {
		packetsByIP[ip] = n
	}
	return
}

// Events returns a copy of the bounded event ring, most recent last.
func (p *Pipeline) Events() []PacketEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PacketEvent, len(p.ring))
	copy(out, p.ring)
	return out
}

// Stats reports cumulative capture/drop counters and the ring's current
// occupancy, for the metrics gauges.
func (p *Pipeline) Stats() (captured, dropped int64, ringOccupancy int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.capturedTotal, p.droppedTotal, len(p.ring)
}
