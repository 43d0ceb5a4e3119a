// Package ndp6 is the event-driven IPv6 neighbor browser: it listens for
// Neighbor and Router Advertisements on every host interface and
// accumulates every link-local neighbor ever observed, the same way
// internal/collectors/mdns accumulates service announcements. Where the
// IPv4 link_layer collector reads a pre-warmed ARP cache, this package
// reads the on-wire NDP traffic itself, since there is no equivalent OS
// neighbor table guaranteed present on every platform.
package ndp6

import (
	"context"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/mdlayher/ndp"

	"go.meridian.dev/meridian/internal/logging"
	"go.meridian.dev/meridian/internal/model"
	"go.meridian.dev/meridian/internal/oui"
)

const (
	Name = "ndp6"

	solicitInterval = 60 * time.Second
	readDeadline    = 1 * time.Second
)

var log = logging.WithComponent("collectors.ndp6")

// allRouters is the ff02::2 all-routers multicast address; soliciting it
// provokes the unsolicited Router Advertisements a passive listener would
// otherwise have to wait up to 30s (per the RA side's own ticker) for.
var allRouters = netip.MustParseAddr("ff02::2")

type neighbor struct {
	ip     netip.Addr
	mac    string
	iface  string
	router bool
}

// Collector is the long-lived NDP listener: one *ndp.Conn per interface,
// feeding a shared accumulated snapshot the same shape as mdns.Collector's.
type Collector struct {
	mu        sync.Mutex
	entities  map[string]model.Entity
	relations map[string]model.Relation

	conns    []*ndp.Conn
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

// Start opens an NDP listener on every named interface and begins
// accumulating neighbors until Stop is called. A per-interface failure
// (no IPv6, no permission) is logged and skipped rather than aborting the
// whole collector, since most hosts only need one working interface.
func (c *Collector) Start(ctx context.Context, ifaceNames []string, onUpdate func(model.Result)) error {
	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.onUpdate = onUpdate
	c.mu.Unlock()

	started := 0
	for _, name := range ifaceNames {
		ifi, err := net.InterfaceByName(name)
		if err != nil {
			continue
		}
		conn, _, err := ndp.Listen(ifi, ndp.LinkLocal)
		if err != nil {
			log.Debug("ndp listen unavailable", "interface", name, "error", err)
			continue
		}

		c.mu.Lock()
		c.conns = append(c.conns, conn)
		c.mu.Unlock()

		go c.readLoop(runCtx, conn, name)
		go c.solicitLoop(runCtx, conn, name)
		started++
	}

	if started == 0 {
		cancel()
		return errNoInterfaces
	}
	log.Info("ndp6 listening started", "interfaces", started)
	return nil
}

var errNoInterfaces = errString("no interface accepted an NDP listener")

type errString string

func (e errString) Error() string { return string(e) }

// Stop tears down every open NDP listener.
func (c *Collector) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
	for _, conn := range c.conns {
		_ = conn.Close()
	}
	c.conns = nil
}

// Scan returns the accumulated snapshot without driving new network work.
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

// solicitLoop periodically solicits routers so an otherwise-quiet link
// still yields a Router Advertisement within one interval.
func (c *Collector) solicitLoop(ctx context.Context, conn *ndp.Conn, ifaceName string) {
	send := func() {
		rs := &ndp.RouterSolicitation{}
		if err := conn.WriteTo(rs, nil, allRouters); err != nil {
			log.Debug("router solicitation failed", "interface", ifaceName, "error", err)
		}
	}
	send()
	ticker := time.NewTicker(solicitInterval)
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

func (c *Collector) readLoop(ctx context.Context, conn *ndp.Conn, ifaceName string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
		msg, _, src, err := conn.ReadFrom()
		if err != nil {
			continue
		}
		n, ok := classify(msg, src, ifaceName)
		if !ok {
			continue
		}
		c.record(n)
	}
}

// classify extracts a neighbor from whichever NDP message type carries a
// useful source link-layer address: Router and Neighbor Advertisements.
// Solicitations are ignored, since they name a target, not the sender's
// own address in the body.
func classify(msg ndp.Message, src netip.Addr, ifaceName string) (neighbor, bool) {
	if src.IsUnspecified() {
		return neighbor{}, false
	}

	var options []ndp.Option
	isRouter := false
	switch m := msg.(type) {
	case *ndp.RouterAdvertisement:
		options = m.Options
		isRouter = true
	case *ndp.NeighborAdvertisement:
		options = m.Options
	default:
		return neighbor{}, false
	}

	n := neighbor{ip: src, iface: ifaceName, router: isRouter}
	for _, opt := range options {
		if lla, ok := opt.(*ndp.LinkLayerAddress); ok && lla.Direction == ndp.Source {
			n.mac = lla.Addr.String()
		}
	}
	return n, true
}

func (c *Collector) record(n neighbor) {
	if n.mac == "" {
		// No source link-layer option; the MAC-keyed entity id would
		// collide across distinct neighbors, so skip rather than guess.
		return
	}

	id := model.LANEntityID(n.mac)
	vendor := oui.LookupVendor(n.mac)
	name := n.ip.String()
	if vendor != "" {
		name = vendor + " (" + n.ip.String() + ")"
	}

	entity := model.Entity{
		ID:   id,
		Type: model.SignalLAN,
		Name: name,
		MAC:  n.mac,
		IP:   n.ip.String(),
		LAN: &model.LANAttrs{
			Interface: n.iface,
			IsGateway: n.router,
			Vendor:    vendor,
		},
	}
	kind := model.RelationConnectedTo
	if n.router {
		kind = model.RelationGateway
	}
	relation := model.NewRelation(id, model.HostEntityID, kind)

	c.mu.Lock()
	if existing, ok := c.entities[id]; ok && existing.IP != "" && !n.router {
		// Keep the address from this collector's earlier record for the
		// MAC; only a router advertisement replaces it. c.entities holds
		// only this collector's own sightings, so an IPv4 address that
		// link_layer recorded for the same MAC is not consulted here.
		entity.IP = existing.IP
	}
	c.entities[id] = entity
	c.relations[relation.ID] = relation
	snap := snapshot(c.entities, c.relations)
	onUpdate := c.onUpdate
	c.mu.Unlock()

	if onUpdate != nil {
		onUpdate(snap)
	}
}
