package ndp6

import (
	"net"
	"net/netip"
	"testing"

	"github.com/mdlayher/ndp"
	"github.com/stretchr/testify/require"

	"go.meridian.dev/meridian/internal/model"
)

func TestClassifyExtractsSourceMACFromRouterAdvertisement(t *testing.T) {
	ra := &ndp.RouterAdvertisement{
		Options: []ndp.Option{
			&ndp.LinkLayerAddress{
				Direction: ndp.Source,
				Addr:      mustParseMAC(t, "aa:bb:cc:dd:ee:ff"),
			},
		},
	}
	src := netip.MustParseAddr("fe80::1")
	n, ok := classify(ra, src, "en0")
	require.True(t, ok)
	require.True(t, n.router)
	require.Equal(t, "aa:bb:cc:dd:ee:ff", n.mac)
	require.Equal(t, "en0", n.iface)
}

func TestClassifyIgnoresRouterSolicitation(t *testing.T) {
	rs := &ndp.RouterSolicitation{}
	_, ok := classify(rs, netip.MustParseAddr("fe80::2"), "en0")
	require.False(t, ok)
}

func TestClassifyRejectsUnspecifiedSource(t *testing.T) {
	na := &ndp.NeighborAdvertisement{}
	_, ok := classify(na, netip.IPv6Unspecified(), "en0")
	require.False(t, ok)
}

func TestRecordSkipsNeighborsWithoutMAC(t *testing.T) {
	c := New()
	c.record(neighbor{ip: netip.MustParseAddr("fe80::3"), iface: "en0"})
	require.Empty(t, c.entities)
}

func TestRecordTagsRouterAsGatewayRelation(t *testing.T) {
	c := New()
	c.record(neighbor{
		ip:     netip.MustParseAddr("fe80::1"),
		mac:    "aa:bb:cc:dd:ee:ff",
		iface:  "en0",
		router: true,
	})

	result := c.Scan()
	require.Len(t, result.Entities, 1)
	require.True(t, result.Entities[0].LAN.IsGateway)
	require.Len(t, result.Relations, 1)
	require.Equal(t, model.RelationGateway, result.Relations[0].Kind)
}

func TestRecordPreservesExistingIPv4AddressUnlessGateway(t *testing.T) {
	c := New()
	id := model.LANEntityID("aa:bb:cc:dd:ee:ff")
	c.entities[id] = model.Entity{ID: id, Type: model.SignalLAN, IP: "192.168.1.50"}

	c.record(neighbor{ip: netip.MustParseAddr("fe80::1"), mac: "aa:bb:cc:dd:ee:ff", iface: "en0"})
	require.Equal(t, "192.168.1.50", c.entities[id].IP)

	c.record(neighbor{ip: netip.MustParseAddr("fe80::1"), mac: "aa:bb:cc:dd:ee:ff", iface: "en0", router: true})
	require.Equal(t, "fe80::1", c.entities[id].IP)
}

func mustParseMAC(t *testing.T, s string) net.HardwareAddr {
	t.Helper()
	mac, err := net.ParseMAC(s)
	require.NoError(t, err)
	return mac
}
