// Package dhcpsnoop passively observes DHCPDISCOVER/DHCPREQUEST broadcasts
// on configured interfaces and extracts per-MAC fingerprints (hostname,
// vendor class, parameter request list). Unlike a DHCP server it never
// replies; absence of permission to open the raw socket is a silent,
// logged no-op rather than a collector failure. It contributes no
// entities or relations directly — the OS Fingerprinter consults its
// accessor as an additional signal; the Device Classifier does not.
package dhcpsnoop

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/mdlayher/packet"

	"go.meridian.dev/meridian/internal/logging"
)

const Name = "dhcpsnoop"

const ethTypeIPv4 = 0x0800

var log = logging.WithComponent("collectors.dhcpsnoop")

// Fingerprint is one client's most recently observed DHCP signature.
type Fingerprint struct {
	Hostname      string // Option 12
	VendorClass   string // Option 60
	ParameterList string // Option 55, comma-joined option codes
	ClientID      string // Option 61, hex-encoded
	Interface     string
	ObservedAt    time.Time
}

// Collector passively snoops DHCP broadcasts on one or more interfaces.
type Collector struct {
	mu     sync.Mutex
	byMAC  map[string]Fingerprint
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs an empty DHCP snoop collector.
func New() *Collector {
	return &Collector{byMAC: make(map[string]Fingerprint)}
}

// Start begins listening on each named interface. A per-interface failure
// (interface missing, raw socket permission denied) is logged and skipped;
// it is never returned as an error, matching the fail-closed collector
// contract for a best-effort signal source.
func (c *Collector) Start(ctx context.Context, interfaces []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(interfaces) == 0 {
		return nil
	}

	ctx, c.cancel = context.WithCancel(ctx)

	for _, ifaceName := range interfaces {
		iface, err := net.InterfaceByName(ifaceName)
		if err != nil {
			log.Warn("interface not found", "iface", ifaceName, "error", err)
			continue
		}

		conn, err := packet.Listen(iface, packet.Raw, ethTypeIPv4, nil)
		if err != nil {
			log.Warn("raw socket unavailable, DHCP snoop disabled for interface", "iface", ifaceName, "error", err)
			continue
		}

		c.wg.Add(1)
		go c.run(ctx, conn, ifaceName)
	}
	return nil
}

// Stop halts every listener and waits for their goroutines to exit.
func (c *Collector) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
}

// Fingerprint returns the most recently observed DHCP signature for mac, if
// any has been seen since the collector started.
func (c *Collector) Fingerprint(mac string) (hostname, vendorClass, parameterList string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fp, found := c.byMAC[strings.ToLower(mac)]
	if !found {
		return "", "", "", false
	}
	return fp.Hostname, fp.VendorClass, fp.ParameterList, true
}

func (c *Collector) run(ctx context.Context, conn *packet.Conn, ifaceName string) {
	defer c.wg.Done()
	defer conn.Close()

	buf := make([]byte, 1500)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(1 * time.Second))
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}

		pkt, err := parseDHCPFromFrame(buf[:n])
		if err != nil {
			continue
		}
		if pkt.OpCode != dhcpv4.OpcodeBootRequest {
			continue
		}

		mac := pkt.ClientHWAddr.String()
		fp := extractFingerprint(pkt, ifaceName)

		c.mu.Lock()
		c.byMAC[strings.ToLower(mac)] = fp
		c.mu.Unlock()
	}
}

// parseDHCPFromFrame extracts a DHCPv4 message from a raw Ethernet/IPv4/UDP
// frame destined for the DHCP server port (67).
func parseDHCPFromFrame(frame []byte) (*dhcpv4.DHCPv4, error) {
	if len(frame) < 42 {
		return nil, errors.New("frame too short")
	}
	if binary.BigEndian.Uint16(frame[12:14]) != ethTypeIPv4 {
		return nil, errors.New("not ipv4")
	}

	ipOffset := 14
	ihl := int(frame[ipOffset] & 0x0F)
	ipHeaderLen := ihl * 4
	if ipHeaderLen < 20 || ipOffset+ipHeaderLen > len(frame) {
		return nil, errors.New("invalid ip header")
	}
	if frame[ipOffset+9] != 17 { // UDP
		return nil, errors.New("not udp")
	}

	udpOffset := ipOffset + ipHeaderLen
	if udpOffset+8 > len(frame) {
		return nil, errors.New("frame too short for udp")
	}
	if binary.BigEndian.Uint16(frame[udpOffset+2:udpOffset+4]) != 67 {
		return nil, errors.New("not bootps")
	}

	payloadOffset := udpOffset + 8
	if payloadOffset >= len(frame) {
		return nil, errors.New("no dhcp payload")
	}
	return dhcpv4.FromBytes(frame[payloadOffset:])
}

// extractFingerprint pulls options 12/55/60/61 out of a parsed DHCP message.
func extractFingerprint(pkt *dhcpv4.DHCPv4, ifaceName string) Fingerprint {
	fp := Fingerprint{Interface: ifaceName, ObservedAt: time.Now()}

	if opt := pkt.Options.Get(dhcpv4.OptionHostName); opt != nil {
		fp.Hostname = string(opt)
	}
	if opt := pkt.Options.Get(dhcpv4.OptionParameterRequestList); opt != nil {
		codes := make([]string, len(opt))
		for i, code := range opt {
			codes[i] = strconv.Itoa(int(code))
		}
		fp.ParameterList = strings.Join(codes, ",")
	}
	if opt := pkt.Options.Get(dhcpv4.OptionClassIdentifier); opt != nil {
		fp.VendorClass = string(opt)
	}
	if opt := pkt.Options.Get(dhcpv4.OptionClientIdentifier); opt != nil {
		fp.ClientID = hex.EncodeToString(opt)
	}
	return fp
}
