package mdns

import (
	"net"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"

	"go.meridian.dev/meridian/internal/model"
)

func TestParseDiscoveredTypesExtractsServiceTypeTokens(t *testing.T) {
	output := `Timestamp     A/R    Flags  if Domain               Service Type         Instance Name
15:23:01.123  Add        2  4 local.               _googlecast._tcp.    Living Room TV
15:23:02.456  Add        2  4 local.               _myo-suite._udp.     Custom Service
`
	types := parseDiscoveredTypes(output)
	require.Contains(t, types, "_googlecast._tcp")
	require.Contains(t, types, "_myo-suite._udp")
}

func TestParseDiscoveredTypesDedupesAndToleratesPartialLines(t *testing.T) {
	output := "_ipp._tcp.\n_ipp._tcp.\ntruncated mid-li"
	types := parseDiscoveredTypes(output)
	require.Equal(t, []string{"_ipp._tcp"}, types)
}

func TestBuildAnnouncementCorrelatesSRVAndA(t *testing.T) {
	rrs := []dns.RR{
		&dns.SRV{
			Hdr:    dns.RR_Header{Name: "Living Room TV._googlecast._tcp.local."},
			Target: "livingroomtv.local.",
			Port:   8009,
		},
		&dns.A{
			Hdr: dns.RR_Header{Name: "livingroomtv.local."},
			A:   net.ParseIP("192.168.1.55"),
		},
	}
	entity, relation, ok := buildAnnouncement("_googlecast._tcp", "Living Room TV._googlecast._tcp.local", rrs)
	require.True(t, ok)
	require.Equal(t, "Living Room TV", entity.Name)
	require.Equal(t, "192.168.1.55", entity.IP)
	require.Equal(t, 8009, entity.MDNS.Port)
	require.Equal(t, "_googlecast._tcp", entity.MDNS.ServiceType)
	require.Equal(t, model.HostEntityID, relation.Target)
	require.Equal(t, model.RelationHostsService, relation.Kind)
}

func TestBuildAnnouncementRejectsEmptyInstanceName(t *testing.T) {
	_, _, ok := buildAnnouncement("_ipp._tcp", "", nil)
	require.False(t, ok)
}

func TestCollectorScanAccumulatesAcrossCalls(t *testing.T) {
	c := New()
	e1 := model.Entity{ID: "bonjour-_ipp._tcp-printer", Type: model.SignalMDNS, Name: "printer"}
	e2 := model.Entity{ID: "bonjour-_airplay._tcp-tv", Type: model.SignalMDNS, Name: "tv"}
	c.entities[e1.ID] = e1
	result := c.Scan()
	require.Len(t, result.Entities, 1)

	c.entities[e2.ID] = e2
	result = c.Scan()
	require.Len(t, result.Entities, 2, "scan must return the accumulated union, not just the latest observation")
}
