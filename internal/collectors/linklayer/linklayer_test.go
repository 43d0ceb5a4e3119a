package linklayer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"go.meridian.dev/meridian/internal/model"
)

const sampleARPTable = `? (192.168.1.1) at aa:bb:cc:dd:ee:ff on en0 ifscope [ethernet]
? (192.168.1.42) at 0:1a:2b:c:4:5 on en0 ifscope [ethernet]
? (192.168.1.99) at (incomplete) on en0 ifscope [ethernet]
? (224.0.0.251) at ff:ff:ff:ff:ff:ff on en0 ifscope [ethernet]
`

func TestParseNeighborTableMarksGatewayByDotOneAndIfscope(t *testing.T) {
	result := parseNeighborTable(sampleARPTable)
	require.Len(t, result.Entities, 2, "incomplete and broadcast entries must be dropped")

	var gw, peer model.Entity
	for _, e := range result.Entities {
		if e.LAN.IsGateway {
			gw = e
		} else {
			peer = e
		}
	}
	require.Equal(t, "lan-aa:bb:cc:dd:ee:ff", gw.ID)
	require.True(t, gw.LAN.IsGateway)
	require.Equal(t, "lan-00:1a:2b:0c:04:05", peer.ID, "single-digit octets must be zero-padded")
	require.False(t, peer.LAN.IsGateway)
}

func TestParseNeighborTableRelationKinds(t *testing.T) {
	result := parseNeighborTable(sampleARPTable)
	foundGateway, foundConnected := false, false
	for _, r := range result.Relations {
		switch r.Kind {
		case model.RelationGateway:
			foundGateway = true
			require.Equal(t, model.HostEntityID, r.Target)
		case model.RelationConnectedTo:
			foundConnected = true
		}
	}
	require.True(t, foundGateway)
	require.True(t, foundConnected)
}

func TestParseNeighborTableNameFallsBackToIPWithoutVendor(t *testing.T) {
	result := parseNeighborTable("? (10.0.0.5) at 11:22:33:44:55:66 on en0\n")
	require.Len(t, result.Entities, 1)
	e := result.Entities[0]
	if e.LAN.Vendor == "" {
		require.Equal(t, "10.0.0.5", e.Name)
	}
}
