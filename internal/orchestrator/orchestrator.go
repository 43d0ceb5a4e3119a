// Package orchestrator owns the single writer context: the entity store,
// every collector, the classifier and OS fingerprinter, the packet
// pipeline, and the outbound transport hub. It is the only goroutine group
// allowed to mutate the store (store.Store's own doc comment names this
// package explicitly). Scheduling is grounded on internal/scheduler;
// publish fan-out is grounded on internal/transport, itself grounded on
// the teacher's events.Hub.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"go.meridian.dev/meridian/internal/classifier"
	"go.meridian.dev/meridian/internal/clock"
	"go.meridian.dev/meridian/internal/collectors/bluetooth"
	"go.meridian.dev/meridian/internal/collectors/dhcpsnoop"
	"go.meridian.dev/meridian/internal/collectors/linklayer"
	"go.meridian.dev/meridian/internal/collectors/mdns"
	"go.meridian.dev/meridian/internal/collectors/ndp6"
	"go.meridian.dev/meridian/internal/collectors/packet"
	"go.meridian.dev/meridian/internal/collectors/socket"
	"go.meridian.dev/meridian/internal/collectors/throughput"
	"go.meridian.dev/meridian/internal/collectors/topology"
	"go.meridian.dev/meridian/internal/collectors/wifi"
	"go.meridian.dev/meridian/internal/config"
	"go.meridian.dev/meridian/internal/fingerprint"
	"go.meridian.dev/meridian/internal/logging"
	"go.meridian.dev/meridian/internal/metrics"
	"go.meridian.dev/meridian/internal/model"
	"go.meridian.dev/meridian/internal/network"
	"go.meridian.dev/meridian/internal/probe"
	"go.meridian.dev/meridian/internal/scheduler"
	"go.meridian.dev/meridian/internal/store"
	"go.meridian.dev/meridian/internal/subnet"
	"go.meridian.dev/meridian/internal/transport"
)

var log = logging.WithComponent("orchestrator")

const (
	taskLinkLayer  = "linklayer"
	taskWiFi       = "wifi"
	taskBluetooth  = "bluetooth"
	taskSocket     = "socket"
	taskTopology   = "topology"
	taskThroughput = "throughput"
	taskNDP6       = "ndp6"
	taskTick       = "tick"

	probeCacheTTL = 5 * time.Minute
)

// Orchestrator wires every collector, enricher, and the store together and
// drives them on the schedule named in the config. Exactly one instance
// runs per process; it is the store's sole writer.
type Orchestrator struct {
	cfg   *config.Config
	store *store.Store
	sched *scheduler.Scheduler
	hub   *transport.Hub
	clk   clock.Clock

	// writerMu serializes every store mutation plus the post-scan
	// enrichment/publish pipeline, so the classifier and fingerprinter never
	// observe a store half-updated by a concurrent scan.
	writerMu sync.Mutex

	socketCollector     *socket.Collector
	mdnsCollector       *mdns.Collector
	ndp6Collector       *ndp6.Collector
	dhcpCollector       *dhcpsnoop.Collector
	throughputCollector *throughput.Collector
	pipeline            *packet.Pipeline
	ttlWindow           *fingerprint.TTLWindow

	hostInterfaces []model.HostInterface
	hostIPSet      map[string]struct{}
	ifaceMonitor   *network.InterfaceMonitor
	subnets        []model.Subnet

	lastPacketsCaptured int64
	lastPacketsDropped  int64

	paused bool
	pauseMu sync.Mutex

	readyMu         sync.Mutex
	transportReady  bool
	initialScanDone bool
	readyFired      bool

	probeMu     sync.Mutex
	probeCache  map[string]probeCacheEntry

	rootCtx    context.Context
	rootCancel context.CancelFunc
}

type probeCacheEntry struct {
	family string
	at     time.Time
}

// New constructs an Orchestrator from config and a ready-to-use transport
// hub. Call Start to begin scanning.
func New(cfg *config.Config, hub *transport.Hub) *Orchestrator {
	o := &Orchestrator{
		cfg:                 cfg,
		store:               store.New(),
		sched:               scheduler.New(logging.Default()),
		hub:                 hub,
		clk:                 &clock.RealClock{},
		socketCollector:     socket.New(),
		mdnsCollector:       mdns.New(),
		ndp6Collector:       ndp6.New(),
		dhcpCollector:       dhcpsnoop.New(),
		throughputCollector: throughput.New(),
		pipeline:            packet.New(),
		ttlWindow:           fingerprint.NewTTLWindow(),
		probeCache:          make(map[string]probeCacheEntry),
		ifaceMonitor:        network.NewInterfaceMonitor(),
	}
	o.pipeline.SetTTLSample(o.ttlWindow.Add)
	o.pipeline.SetEnrichHook(o.flushPacketAggregation)
	hub.SetRequestHandler(o.handleRequest)
	return o
}

// Start seeds the Host entity, brings up the event-driven collectors,
// schedules the polled ones, runs an initial synchronous round, and only
// then allows the first snapshot to publish.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.rootCtx, o.rootCancel = context.WithCancel(ctx)

	if err := o.seedHost(); err != nil {
		log.Warn("failed to enumerate host interfaces", "error", err)
	}

	for _, iface := range o.hostInterfaces {
		o.ifaceMonitor.AddInterface(iface.Name)
	}
	o.ifaceMonitor.OnChange(o.onInterfaceChange)
	if err := o.ifaceMonitor.Start(); err != nil {
		log.Warn("interface monitor failed to start", "error", err)
	}

	if o.cfg.Collectors.MDNSEnabled {
		if err := o.mdnsCollector.Start(o.rootCtx, o.onMDNSUpdate); err != nil {
			log.Warn("mdns collector failed to start", "error", err)
		}
	}

	if o.cfg.Collectors.NDP6Enabled {
		ifaceNames := make([]string, 0, len(o.hostInterfaces))
		for _, i := range o.hostInterfaces {
			ifaceNames = append(ifaceNames, i.Name)
		}
		if err := o.ndp6Collector.Start(o.rootCtx, ifaceNames, o.onNDP6Update); err != nil {
			log.Debug("ndp6 collector failed to start", "error", err)
		}
	}

	if o.cfg.Collectors.DHCPSnoopEnabled {
		ifaces := o.dhcpInterfaces()
		if err := o.dhcpCollector.Start(o.rootCtx, ifaces); err != nil {
			log.Warn("dhcp snoop failed to start", "error", err)
		}
	}

	o.scheduleTasks()
	o.sched.Start()

	o.runInitialScan(o.rootCtx)

	o.readyMu.Lock()
	o.initialScanDone = true
	fire := o.maybeFireReadyLocked()
	o.readyMu.Unlock()
	if fire {
		o.publishFullState()
	}

	return nil
}

// Stop tears down every running collector and the scheduler.
func (o *Orchestrator) Stop() {
	if o.rootCancel != nil {
		o.rootCancel()
	}
	o.sched.Stop()
	o.ifaceMonitor.Stop()
	o.mdnsCollector.Stop()
	o.ndp6Collector.Stop()
	o.dhcpCollector.Stop()
	o.pipeline.Stop()
}

// SignalTransportReady marks the outbound transport (e.g. the websocket
// gateway) as ready to receive the first snapshot. Whichever of this call
// and the initial scan's completion happens second fires the first publish.
func (o *Orchestrator) SignalTransportReady() {
	o.readyMu.Lock()
	o.transportReady = true
	fire := o.maybeFireReadyLocked()
	o.readyMu.Unlock()
	if fire {
		o.publishFullState()
	}
}

// maybeFireReadyLocked must be called with readyMu held. It marks the
// ready gate fired (at most once) and reports whether this call is the one
// that should trigger the first publish.
func (o *Orchestrator) maybeFireReadyLocked() bool {
	if o.readyFired || !o.transportReady || !o.initialScanDone {
		return false
	}
	o.readyFired = true
	return true
}

func (o *Orchestrator) isReady() bool {
	o.readyMu.Lock()
	defer o.readyMu.Unlock()
	return o.readyFired
}

func (o *Orchestrator) seedHost() error {
	ifaces, err := network.EnumerateInterfaces()
	if err != nil {
		return err
	}
	o.hostInterfaces = ifaces
	o.hostIPSet = network.HostIPSet(ifaces)

	host := model.Entity{
		ID:     model.HostEntityID,
		Type:   model.SignalHost,
		Name:   "this-device",
		Status: model.StatusActive,
		Host: &model.HostAttrs{
			Interfaces: ifaces,
		},
	}
	if len(ifaces) > 0 {
		host.IP = ifaces[0].IPv4
		host.MAC = ifaces[0].MAC
	}

	o.writerMu.Lock()
	o.store.Upsert(host)
	o.writerMu.Unlock()
	return nil
}

// onInterfaceChange runs on the interface monitor's goroutine whenever a
// monitored interface gains or loses an address, so a roaming or
// re-plugged host is reflected without waiting for the next poll.
func (o *Orchestrator) onInterfaceChange(change network.InterfaceChange) {
	o.refreshHost()
}

func (o *Orchestrator) refreshHost() {
	ifaces, err := network.EnumerateInterfaces()
	if err != nil {
		log.Warn("failed to re-enumerate host interfaces", "error", err)
		return
	}

	o.writerMu.Lock()
	defer o.writerMu.Unlock()

	o.hostInterfaces = ifaces
	o.hostIPSet = network.HostIPSet(ifaces)
	o.store.Patch(model.HostEntityID, func(e *model.Entity) {
		if e.Host == nil {
			e.Host = &model.HostAttrs{}
		}
		e.Host.Interfaces = ifaces
		if len(ifaces) > 0 {
			e.IP = ifaces[0].IPv4
			e.MAC = ifaces[0].MAC
		}
	})
	o.publishUpdateLocked(nil)
}

func (o *Orchestrator) dhcpInterfaces() []string {
	if o.cfg.Collectors.DHCPSnoopIface != "" {
		return []string{o.cfg.Collectors.DHCPSnoopIface}
	}
	names := make([]string, 0, len(o.hostInterfaces))
	for _, i := range o.hostInterfaces {
		names = append(names, i.Name)
	}
	return names
}

// scheduleTasks wires the six polled collectors and the lifecycle tick onto
// the scheduler at the intervals config.Default (or the loaded config)
// names; each collector task is a thin closure around runScan or
// runTopologyScan (both skip the run while paused), and the tick task
// calls tick.
func (o *Orchestrator) scheduleTasks() {
	c := o.cfg.Collectors

	o.addIntervalTask(taskLinkLayer, c.LinkLayerEnabled, c.LinkLayerInterval, func(ctx context.Context) {
		o.runScan(ctx, taskLinkLayer, linklayer.Scan)
	})
	o.addIntervalTask(taskWiFi, c.WiFiEnabled, c.WiFiInterval, func(ctx context.Context) {
		o.runScan(ctx, taskWiFi, wifi.Scan)
	})
	o.addIntervalTask(taskBluetooth, c.BluetoothEnabled, c.BluetoothInterval, func(ctx context.Context) {
		o.runScan(ctx, taskBluetooth, bluetooth.Scan)
	})
	o.addIntervalTask(taskSocket, c.SocketEnabled, c.SocketInterval, func(ctx context.Context) {
		o.runScan(ctx, taskSocket, o.socketCollector.Scan)
	})
	o.addIntervalTask(taskTopology, c.TopologyEnabled, c.TopologyInterval, func(ctx context.Context) {
		o.runTopologyScan(ctx)
	})
	o.addIntervalTask(taskThroughput, c.ThroughputEnabled, c.ThroughputInterval, func(ctx context.Context) {
		o.runScan(ctx, taskThroughput, o.throughputCollector.Scan)
	})

	if err := o.sched.AddTask(&scheduler.Task{
		ID:       taskTick,
		Name:     "lifecycle tick",
		Schedule: scheduler.Every(time.Duration(c.TickInterval) * time.Second),
		Enabled:  true,
		Timeout:  10 * time.Second,
		Func: func(ctx context.Context) error {
			o.tick()
			return nil
		},
	}); err != nil {
		log.Warn("failed to schedule lifecycle tick", "error", err)
	}
}

func (o *Orchestrator) addIntervalTask(id string, enabled bool, intervalSeconds int, fn func(ctx context.Context)) {
	if err := o.sched.AddTask(&scheduler.Task{
		ID:       id,
		Name:     id,
		Schedule: scheduler.Every(time.Duration(intervalSeconds) * time.Second),
		Enabled:  enabled,
		Timeout:  20 * time.Second,
		Func: func(ctx context.Context) error {
			fn(ctx)
			return nil
		},
	}); err != nil {
		log.Warn("failed to schedule collector task", "id", id, "error", err)
	}
}

// runInitialScan runs every enabled polled collector once, in parallel, and
// waits for all of them before Start returns control to the caller.
func (o *Orchestrator) runInitialScan(ctx context.Context) {
	c := o.cfg.Collectors
	var wg sync.WaitGroup

	run := func(name string, enabled bool, fn func(context.Context)) {
		if !enabled {
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}

	run(taskLinkLayer, c.LinkLayerEnabled, func(ctx context.Context) { o.runScan(ctx, taskLinkLayer, linklayer.Scan) })
	run(taskWiFi, c.WiFiEnabled, func(ctx context.Context) { o.runScan(ctx, taskWiFi, wifi.Scan) })
	run(taskBluetooth, c.BluetoothEnabled, func(ctx context.Context) { o.runScan(ctx, taskBluetooth, bluetooth.Scan) })
	run(taskSocket, c.SocketEnabled, func(ctx context.Context) { o.runScan(ctx, taskSocket, o.socketCollector.Scan) })
	run(taskTopology, c.TopologyEnabled, o.runTopologyScan)
	run(taskThroughput, c.ThroughputEnabled, func(ctx context.Context) { o.runScan(ctx, taskThroughput, o.throughputCollector.Scan) })

	wg.Wait()
}

// isPaused reports whether polled collectors should skip this tick.
// Pause never affects mDNS, the packet pipeline, or an explicit scanNow.
func (o *Orchestrator) isPaused() bool {
	o.pauseMu.Lock()
	defer o.pauseMu.Unlock()
	return o.paused
}

func (o *Orchestrator) setPaused(p bool) {
	o.pauseMu.Lock()
	o.paused = p
	o.pauseMu.Unlock()
}

// runScan executes one stateless-or-stateful collector scan and feeds the
// result through the shared post-scan pipeline.
func (o *Orchestrator) runScan(ctx context.Context, name string, fn func(context.Context) model.Result) {
	if o.isPaused() {
		return
	}
	start := o.clk.Now()
	res := fn(ctx)
	o.postScan(name, res, start)
}

// runTopologyScan is runScan's Topology-specific sibling: Topology returns
// a side-channel subnet list in addition to the usual Result.
func (o *Orchestrator) runTopologyScan(ctx context.Context) {
	if o.isPaused() {
		return
	}
	start := o.clk.Now()
	res, subnets := topology.Scan(ctx, o.hostInterfaces)
	o.recordSubnets(subnets)
	o.postScan(taskTopology, res, start)
	if len(subnets) > 0 {
		o.hub.Publish(transport.ChannelTopology, subnets)
	}
}

// recordSubnets stores the latest subnet descriptors so postScan can tag
// LAN entities with accurate gateway/interface membership.
func (o *Orchestrator) recordSubnets(subnets []model.Subnet) {
	if len(subnets) == 0 {
		return
	}
	o.writerMu.Lock()
	o.subnets = subnets
	o.writerMu.Unlock()
}

// scanNow runs the named collector immediately, ignoring pause. An empty
// name runs every polled collector, matching the control.scan_now channel's
// "optional collector name" contract.
func (o *Orchestrator) scanNow(ctx context.Context, name string) {
	all := name == ""

	if all || name == taskLinkLayer {
		o.postScan(taskLinkLayer, linklayer.Scan(ctx), o.clk.Now())
	}
	if all || name == taskWiFi {
		o.postScan(taskWiFi, wifi.Scan(ctx), o.clk.Now())
	}
	if all || name == taskBluetooth {
		o.postScan(taskBluetooth, bluetooth.Scan(ctx), o.clk.Now())
	}
	if all || name == taskSocket {
		o.postScan(taskSocket, o.socketCollector.Scan(ctx), o.clk.Now())
	}
	if all || name == taskTopology {
		res, subnets := topology.Scan(ctx, o.hostInterfaces)
		o.recordSubnets(subnets)
		o.postScan(taskTopology, res, o.clk.Now())
		if len(subnets) > 0 {
			o.hub.Publish(transport.ChannelTopology, subnets)
		}
	}
	if all || name == taskThroughput {
		o.postScan(taskThroughput, o.throughputCollector.Scan(ctx), o.clk.Now())
	}
}

// onMDNSUpdate is the mDNS collector's event callback: mDNS announcements
// arrive asynchronously, outside the polled-collector schedule, so each one
// runs the same post-scan pipeline on its own.
func (o *Orchestrator) onMDNSUpdate(res model.Result) {
	o.postScan("mdns", res, o.clk.Now())
}

// onNDP6Update is the IPv6 neighbor listener's event callback: Router and
// Neighbor Advertisements arrive asynchronously, outside the polled-collector
// schedule, so each one runs the same post-scan pipeline on its own.
func (o *Orchestrator) onNDP6Update(res model.Result) {
	o.postScan(taskNDP6, res, o.clk.Now())
}

// postScan applies one collector's observations to the store and runs the
// rest of the per-scan pipeline: classify on Link-Layer/mDNS scans, refresh
// the packet pipeline's IP->entity correlation after Link-Layer, run the OS
// fingerprinter, then publish.
func (o *Orchestrator) postScan(name string, res model.Result, start time.Time) {
	o.writerMu.Lock()
	defer o.writerMu.Unlock()

	for _, e := range res.Entities {
		o.store.Upsert(e)
	}
	for _, r := range res.Relations {
		o.store.UpsertRelation(r)
	}

	if name == taskLinkLayer || name == "mdns" || name == taskNDP6 {
		classifier.Run(o.store)
	}

	if name == taskLinkLayer || name == taskNDP6 {
		o.applySubnetGateways()
	}

	if name == taskLinkLayer && o.pipeline.State() != packet.StateIdle {
		o.pipeline.RefreshCorrelation(o.store.Entities(), o.hostIPSet)
	}

	fingerprint.RunWithDHCP(o.store, o.ttlWindow, o.activeProbeLookup, o.dhcpLookup)

	metrics.Get().RecordScan(name, o.clk.Since(start).Seconds(), len(res.Entities) == 0 && len(res.Relations) == 0)

	o.publishUpdateLocked(nil)
}

// applySubnetGateways corrects each LAN entity's gateway/interface tag
// against the routing table's own subnet descriptors, replacing Link-Layer's
// ".1 on the primary interface" heuristic with the Topology collector's
// ground truth once a scan has populated it. Must be called with writerMu
// held.
func (o *Orchestrator) applySubnetGateways() {
	if len(o.subnets) == 0 {
		return
	}
	for _, e := range o.store.Entities() {
		if e.Type != model.SignalLAN || e.LAN == nil {
			continue
		}
		sn, ok := subnet.Match(e.IP, o.subnets)
		if !ok {
			continue
		}
		isGateway := sn.Gateway != "" && e.IP == sn.Gateway
		if isGateway == e.LAN.IsGateway && (sn.Interface == "" || sn.Interface == e.LAN.Interface) {
			continue
		}
		o.store.Patch(e.ID, func(p *model.Entity) {
			if p.LAN == nil {
				return
			}
			p.LAN.IsGateway = isGateway
			if sn.Interface != "" {
				p.LAN.Interface = sn.Interface
			}
		})
	}
}

// tick advances the lifecycle clock and publishes only if something
// actually changed (a status flip or a removal), per spec.md's tick
// contract: ticks that change nothing stay silent.
func (o *Orchestrator) tick() {
	o.writerMu.Lock()
	defer o.writerMu.Unlock()

	th := store.Thresholds{
		Stale:   o.cfg.StaleDuration(),
		Expired: o.cfg.ExpiredDuration(),
		Remove:  o.cfg.RemoveDuration(),
	}
	res := o.store.Tick(th)

	m := metrics.Get()
	m.SetPacketPipelineState(packetStateOrdinal(o.pipeline.State()))
	if len(res.Removed) > 0 {
		m.EntitiesRemoved.Add(float64(len(res.Removed)))
	}

	captured, dropped, ringOccupancy := o.pipeline.Stats()
	if d := captured - o.lastPacketsCaptured; d > 0 {
		m.PacketsCaptured.Add(float64(d))
	}
	if d := dropped - o.lastPacketsDropped; d > 0 {
		m.PacketDrainDropped.Add(float64(d))
	}
	o.lastPacketsCaptured = captured
	o.lastPacketsDropped = dropped
	m.PacketRingOccupancy.Set(float64(ringOccupancy))

	if err := clock.SaveAnchor(); err != nil {
		log.Debug("failed to save clock anchor", "error", err)
	}

	if len(res.Removed) == 0 && !res.StatusesChanged {
		o.reportStoreMetrics()
		return
	}
	o.publishUpdateLocked(res.Removed)
}

// flushPacketAggregation is the packet pipeline's 2s enrichment hook: it
// patches accumulated per-IP protocol/byte/packet counters onto the
// matching entities without touching lastSeen or status (store.Patch's
// contract), then publishes.
func (o *Orchestrator) flushPacketAggregation() {
	protocolsByIP, bytesByIP, packetsByIP := o.pipeline.Aggregation()
	if len(protocolsByIP) == 0 && len(bytesByIP) == 0 {
		return
	}

	o.writerMu.Lock()
	defer o.writerMu.Unlock()

	for _, e := range o.store.Entities() {
		if e.IP == "" {
			continue
		}
		protocols, hasProtocols := protocolsByIP[e.IP]
		bytes, hasBytes := bytesByIP[e.IP]
		packets, hasPackets := packetsByIP[e.IP]
		if !hasProtocols && !hasBytes && !hasPackets {
			continue
		}
		id := e.ID
		o.store.Patch(id, func(patched *model.Entity) {
			if hasProtocols {
				patched.Protocols = protocols
			}
			if hasBytes {
				patched.TotalBytes = bytes
			}
			if hasPackets {
				patched.TotalPackets = packets
			}
		})
	}

	o.publishUpdateLocked(nil)
}

// activeProbeLookup answers the fingerprinter's active-probe signal from a
// short-lived cache of recent probe.Scan results, keyed by IP, rather than
// running nmap synchronously inside the enrichment pass.
func (o *Orchestrator) activeProbeLookup(ip string) (string, bool) {
	o.probeMu.Lock()
	defer o.probeMu.Unlock()
	entry, ok := o.probeCache[ip]
	if !ok || o.clk.Now().Sub(entry.at) > probeCacheTTL {
		return "", false
	}
	return entry.family, true
}

// dhcpLookup adapts dhcpsnoop.Collector.Fingerprint's four-value return
// (it also carries the DHCP parameter request list, unused here) down to
// the fingerprinter's three-value DHCPLookup shape.
func (o *Orchestrator) dhcpLookup(mac string) (hostname, vendorClass string, ok bool) {
	h, v, _, found := o.dhcpCollector.Fingerprint(mac)
	return h, v, found
}

// packetStateOrdinal maps the packet pipeline's state string onto the
// small integer the Prometheus gauge expects.
func packetStateOrdinal(s packet.State) int {
	switch s {
	case packet.StateIdle:
		return 0
	case packet.StateStarting:
		return 1
	case packet.StateCapturing:
		return 2
	case packet.StateStopping:
		return 3
	default:
		return -1
	}
}

// runActiveProbe runs nmap against ip and caches the result for the
// fingerprinter's next enrichment pass; used by the os.nmap_scan control
// channel.
func (o *Orchestrator) runActiveProbe(ctx context.Context, ip string) probe.Result {
	res := probe.Scan(ctx, ip)
	metrics.Get().RecordActiveProbe(res.Success)
	if res.Success && res.OSFamily != "" {
		o.probeMu.Lock()
		o.probeCache[ip] = probeCacheEntry{family: res.OSFamily, at: o.clk.Now()}
		o.probeMu.Unlock()
	}
	return res
}

// publishUpdateLocked must be called with writerMu held. It builds a
// Boundary-enriched snapshot and publishes it on the full-state channel if
// this is the very first publish after the readiness gate opens, or the
// update channel otherwise. Before the readiness gate opens, nothing is
// published at all (the Initial-readiness gate holds the first publish).
func (o *Orchestrator) publishUpdateLocked(removed []string) {
	if !o.isReady() {
		return
	}
	start := o.clk.Now()
	entities, relations := o.snapshotLocked()
	o.hub.Publish(transport.ChannelUpdate, transport.Update{
		Type:      "node_update",
		Entities:  entities,
		Relations: relations,
		Removed:   removed,
		Timestamp: o.clk.Now().UnixMilli(),
	})
	o.reportStoreMetrics()
	metrics.Get().PublishLatency.WithLabelValues("update").Observe(o.clk.Since(start).Seconds())
}

// publishFullState sends the complete current snapshot on the full-state
// channel. Called once when the readiness gate opens, and in answer to an
// explicit control.get_full_state request.
func (o *Orchestrator) publishFullState() {
	o.writerMu.Lock()
	defer o.writerMu.Unlock()
	start := o.clk.Now()
	entities, relations := o.snapshotLocked()
	o.hub.Publish(transport.ChannelFullState, transport.FullState{
		Type:      "full_state",
		Entities:  entities,
		Relations: relations,
		Timestamp: o.clk.Now().UnixMilli(),
	})
	o.reportStoreMetrics()
	metrics.Get().PublishLatency.WithLabelValues("full_state").Observe(o.clk.Since(start).Seconds())
}

// reportStoreMetrics refreshes the entity/relation/subscriber gauges. Must
// be called with writerMu held.
func (o *Orchestrator) reportStoreMetrics() {
	entities := o.store.Entities()
	m := metrics.Get()

	byType := map[model.SignalType]int{}
	byStatus := map[model.Status]int{}
	for _, e := range entities {
		byType[e.Type]++
		byStatus[e.Status]++
	}
	for _, t := range []model.SignalType{
		model.SignalHost, model.SignalWiFi, model.SignalLAN,
		model.SignalBluetooth, model.SignalMDNS, model.SignalSocket,
	} {
		m.EntitiesByType.WithLabelValues(string(t)).Set(float64(byType[t]))
	}
	for _, s := range []model.Status{model.StatusActive, model.StatusStale, model.StatusExpired} {
		m.EntitiesByStatus.WithLabelValues(string(s)).Set(float64(byStatus[s]))
	}
	m.RelationsTotal.Set(float64(len(o.store.Relations())))
	m.SubscriberCount.Set(float64(o.hub.SubscriberCount()))
}

// snapshotLocked must be called with writerMu held. It builds outbound
// copies of every entity and relation with Boundary Enrichment applied:
// the store's own copies never carry throughput rates (see model.Entity's
// BytesPerSec doc comment), only the copies built here for publish.
func (o *Orchestrator) snapshotLocked() ([]model.Entity, []model.Relation) {
	entities := o.store.Entities()
	relations := o.store.Relations()
	rates := o.throughputCollector.Rates()

	for i := range entities {
		if rate, ok := rates[entities[i].ID]; ok {
			bps, in, out := rate.BytesPerSec, rate.BytesInPerSec, rate.BytesOutPerSec
			entities[i].BytesPerSec = &bps
			entities[i].BytesInPerSec = &in
			entities[i].BytesOutPerSec = &out
		}
	}
	for i := range relations {
		rate, ok := rates[relations[i].Source]
		if !ok {
			rate, ok = rates[relations[i].Target]
		}
		if ok {
			bps, in, out := rate.BytesPerSec, rate.BytesInPerSec, rate.BytesOutPerSec
			relations[i].BytesPerSec = &bps
			relations[i].BytesInPerSec = &in
			relations[i].BytesOutPerSec = &out
		}
	}
	return entities, relations
}
