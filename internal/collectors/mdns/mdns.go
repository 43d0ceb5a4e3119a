// Package mdns is the event-driven mDNS/DNS-SD browser: it holds 20
// hardcoded common service types open for the life of the process, adds
// whatever extra types a one-shot dynamic-discovery probe turns up, and
// accumulates every instance ever announced until the process exits.
package mdns

import (
	"context"
	"net"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"

	"go.meridian.dev/meridian/internal/logging"
	"go.meridian.dev/meridian/internal/model"
	"go.meridian.dev/meridian/internal/procutil"
)

const (
	Name = "mdns"

	mdnsGroup           = "224.0.0.251:5353"
	dynamicProbeTimeout = 5 * time.Second
	queryInterval       = 30 * time.Second
)

var log = logging.WithComponent("collectors.mdns")

var mdnsIPv4Addr = net.IPv4(224, 0, 0, 251)

// hardcodedServiceTypes are the 20 common Bonjour/mDNS service types browsed
// unconditionally from process start.
var hardcodedServiceTypes = []string{
	"_airplay._tcp",
	"_raop._tcp",
	"_googlecast._tcp",
	"_spotify-connect._tcp",
	"_hap._tcp",
	"_homekit._tcp",
	"_ipp._tcp",
	"_printer._tcp",
	"_pdl-datastream._tcp",
	"_smb._tcp",
	"_afpovertcp._tcp",
	"_ssh._tcp",
	"_http._tcp",
	"_https._tcp",
	"_ftp._tcp",
	"_sftp-ssh._tcp",
	"_workstation._tcp",
	"_device-info._tcp",
	"_companion-link._tcp",
	"_amzn-wplay._tcp",
}

// Collector is the long-lived mDNS state machine: start/stop plus a
// synchronous scan() that returns the accumulated snapshot without driving
// new work.
type Collector struct {
	mu        sync.Mutex
	entities  map[string]model.Entity
	relations map[string]model.Relation

	conn     net.PacketConn
	pconn    *ipv4.PacketConn
	cancel   context.CancelFunc
	onUpdate func(model.Result)
}

// New constructs an empty, not-yet-started collector.
func New() *Collector {
	return &Collector{
		entities:  make(map[string]model.Entity),
		relations: make(map[string]model.Relation),
	}
}

// discoverDynamicTypes runs the bounded-time DNS-SD meta-browse.
var discoverDynamicTypes = func(ctx context.Context) []string {
	streaming, err := procutil.StartStreaming("dns-sd", "-B", "_services._dns-sd._udp", "local.")
	if err != nil {
		log.Warn("dynamic service-type discovery unavailable", "error", err)
		return nil
	}
	var out strings.Builder
	done := make(chan struct{})
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := streaming.Stdout.Read(buf)
			if n > 0 {
				out.Write(buf[:n])
			}
			if err != nil {
				close(done)
				return
			}
		}
	}()

	select {
	case <-time.After(dynamicProbeTimeout):
	case <-done:
	}
	streaming.Stop()
	return parseDiscoveredTypes(out.String())
}

// parseDiscoveredTypes extracts service-type tokens (ending "._tcp." or
// "._udp.") from `dns-sd -B` browse output. Partial output from a killed
// process is valid input.
func parseDiscoveredTypes(output string) []string {
	seen := make(map[string]bool)
	var types []string
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		for _, f := range fields {
			if !strings.HasSuffix(f, "._tcp.") && !strings.HasSuffix(f, "._udp.") {
				continue
			}
			t := strings.TrimSuffix(f, ".")
			if !seen[t] {
				seen[t] = true
				types = append(types, t)
			}
		}
	}
	return types
}

// Start joins the mDNS multicast group, queries every hardcoded plus
// dynamically-discovered service type, and re-queries periodically until
// Stop is called. onUpdate is invoked with the current accumulated union
// after every new observation.
func (c *Collector) Start(ctx context.Context, onUpdate func(model.Result)) error {
	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.onUpdate = onUpdate
	c.mu.Unlock()

	var lc net.ListenConfig
	lc.Control = func(_, _ string, rc syscall.RawConn) error {
		var opErr error
		if err := rc.Control(func(fd uintptr) {
			opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			if opErr != nil {
				return
			}
			opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
		}); err != nil {
			return err
		}
		return opErr
	}

	conn, err := lc.ListenPacket(runCtx, "udp4", ":5353")
	if err != nil {
		log.Warn("mdns multicast bind failed", "error", err)
		cancel()
		return err
	}

	pc := ipv4.NewPacketConn(conn)
	ifaces, _ := net.Interfaces()
	joined := 0
	for _, iface := range ifaces {
		if err := pc.JoinGroup(&iface, &net.UDPAddr{IP: mdnsIPv4Addr}); err != nil {
			continue
		}
		joined++
	}
	if err := pc.SetControlMessage(ipv4.FlagInterface, true); err != nil {
		log.Debug("mdns control message unavailable", "error", err)
	}
	if joined == 0 {
		log.Warn("mdns joined no multicast group on any interface")
	}

	c.mu.Lock()
	c.conn = conn
	c.pconn = pc
	c.mu.Unlock()

	types := append([]string{}, hardcodedServiceTypes...)
	for _, t := range discoverDynamicTypes(runCtx) {
		types = append(types, t)
	}

	go c.readLoop(runCtx, pc)
	go c.queryLoop(runCtx, conn, types)

	log.Info("mdns browsing started", "serviceTypes", len(types))
	return nil
}

// Stop tears down the multicast socket and query loop.
func (c *Collector) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// Scan returns the accumulated snapshot without driving new network work;
// event-driven sources must accumulate across scans.
func (c *Collector) Scan() model.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return snapshot(c.entities, c.relations)
}

func snapshot(entities map[string]model.Entity, relations map[string]model.Relation) model.Result {
	result := model.Result{
		Entities:  make([]model.Entity, 0, len(entities)),
		Relations: make([]model.Relation, 0, len(relations)),
	}
	for _, e := range entities {
		result.Entities = append(result.Entities, e)
	}
	for _, r := range relations {
		result.Relations = append(result.Relations, r)
	}
	return result
}

func (c *Collector) queryLoop(ctx context.Context, conn net.PacketConn, types []string) {
	addr, err := net.ResolveUDPAddr("udp4", mdnsGroup)
	if err != nil {
		return
	}
	send := func() {
		for _, t := range types {
			msg := new(dns.Msg)
			msg.SetQuestion(t+".local.", dns.TypePTR)
			packed, err := msg.Pack()
			if err != nil {
				continue
			}
			_, _ = conn.WriteTo(packed, addr)
		}
	}
	send()
	ticker := time.NewTicker(queryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			send()
		}
	}
}

func (c *Collector) readLoop(ctx context.Context, pc *ipv4.PacketConn) {
	buf := make([]byte, 65535)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_ = pc.SetReadDeadline(time.Now().Add(1 * time.Second))
		n, _, _, err := pc.ReadFrom(buf)
		if err != nil {
			continue
		}
		msg := new(dns.Msg)
		if err := msg.Unpack(buf[:n]); err != nil {
			continue
		}
		c.handleMessage(msg)
	}
}

func (c *Collector) handleMessage(msg *dns.Msg) {
	all := append(append([]dns.RR{}, msg.Answer...), msg.Extra...)

	for _, rr := range all {
		ptr, ok := rr.(*dns.PTR)
		if !ok {
			continue
		}
		serviceType := strings.TrimSuffix(ptr.Hdr.Name, ".local.")
		instanceFull := strings.TrimSuffix(ptr.Ptr, ".")
		entity, relation, ok := buildAnnouncement(serviceType, instanceFull, all)
		if !ok {
			continue
		}

		c.mu.Lock()
		c.entities[entity.ID] = entity
		c.relations[relation.ID] = relation
		snap := snapshot(c.entities, c.relations)
		onUpdate := c.onUpdate
		c.mu.Unlock()

		if onUpdate != nil {
			onUpdate(snap)
		}
	}
}

// buildAnnouncement correlates a PTR's instance name against SRV/A records
// in the same message to build the mDNS entity.
func buildAnnouncement(serviceType, instanceFull string, rrs []dns.RR) (model.Entity, model.Relation, bool) {
	instanceName := instanceFull
	if idx := strings.Index(instanceFull, "."+serviceType); idx >= 0 {
		instanceName = instanceFull[:idx]
	}
	instanceName = strings.ReplaceAll(instanceName, "\\.", ".")

	var host string
	var port int
	for _, rr := range rrs {
		if srv, ok := rr.(*dns.SRV); ok && strings.TrimSuffix(srv.Hdr.Name, ".") == instanceFull {
			host = strings.TrimSuffix(srv.Target, ".")
			port = int(srv.Port)
		}
	}
	var ip string
	for _, rr := range rrs {
		if a, ok := rr.(*dns.A); ok && host != "" && strings.TrimSuffix(a.Hdr.Name, ".") == host {
			ip = a.A.String()
		}
	}

	if instanceName == "" {
		return model.Entity{}, model.Relation{}, false
	}

	formattedType := serviceType
	if !strings.HasSuffix(formattedType, "._tcp") && !strings.HasSuffix(formattedType, "._udp") {
		formattedType += "._tcp"
	}

	id := model.MDNSEntityID(formattedType, strings.ReplaceAll(instanceName, " ", "-"), host)
	entity := model.Entity{
		ID:   id,
		Type: model.SignalMDNS,
		Name: instanceName,
		IP:   ip,
		MDNS: &model.MDNSAttrs{
			ServiceType: formattedType,
			Port:        port,
			Host:        host,
		},
	}
	relation := model.NewRelation(id, model.HostEntityID, model.RelationHostsService)
	return entity, relation, true
}
