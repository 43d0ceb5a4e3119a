package packet

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.meridian.dev/meridian/internal/model"
	"go.meridian.dev/meridian/internal/procutil"
)

func TestResolveDefaultInterfaceParsesRouteOutput(t *testing.T) {
	out := "   route to: default\ndestination: default\n       mask: default\n  interface: en0\n"
	iface, ok := resolveDefaultInterface(out)
	require.True(t, ok)
	require.Equal(t, "en0", iface)
}

func TestResolveDefaultInterfaceMissingLine(t *testing.T) {
	_, ok := resolveDefaultInterface("no such field here")
	require.False(t, ok)
}

func TestResolveInterfacePrefersCallerPreferenceWhenKnown(t *testing.T) {
	hostIfaces := []model.HostInterface{{Name: "en0"}, {Name: "en1"}}
	iface, err := resolveInterface(context.Background(), "en1", hostIfaces, nil)
	require.NoError(t, err)
	require.Equal(t, "en1", iface)
}

func TestResolveInterfaceFallsBackToDefaultRouteWhenPreferenceUnknown(t *testing.T) {
	orig := runRouteGetDefault
	defer func() { runRouteGetDefault = orig }()
	runRouteGetDefault = func(ctx context.Context) ([]byte, error) {
		return []byte("interface: en3\n"), nil
	}

	iface, err := resolveInterface(context.Background(), "not-a-known-iface", nil, nil)
	require.NoError(t, err)
	require.Equal(t, "en3", iface)
}

func TestResolveInterfaceFallsBackToWifiWhenRouteLookupFails(t *testing.T) {
	orig := runRouteGetDefault
	defer func() { runRouteGetDefault = orig }()
	runRouteGetDefault = func(ctx context.Context) ([]byte, error) {
		return nil, errTest
	}

	iface, err := resolveInterface(context.Background(), "", nil, func(ctx context.Context) (string, bool) {
		return "en9", true
	})
	require.NoError(t, err)
	require.Equal(t, "en9", iface)
}

func TestResolveInterfaceErrorsWhenNothingResolves(t *testing.T) {
	orig := runRouteGetDefault
	defer func() { runRouteGetDefault = orig }()
	runRouteGetDefault = func(ctx context.Context) ([]byte, error) {
		return nil, errTest
	}

	_, err := resolveInterface(context.Background(), "", nil, nil)
	require.Error(t, err)
}

func TestParseTTLPrefersIPv4TTLOverHopLimit(t *testing.T) {
	n, ok := parseTTL("64", "128")
	require.True(t, ok)
	require.Equal(t, 64, n)
}

func TestParseTTLFallsBackToHopLimitWhenTTLEmpty(t *testing.T) {
	n, ok := parseTTL("", "128")
	require.True(t, ok)
	require.Equal(t, 128, n)
}

func TestParseTTLFalseWhenBothEmpty(t *testing.T) {
	_, ok := parseTTL("", "")
	require.False(t, ok)
}

func TestCorrelateLockedPrefersNonHostSide(t *testing.T) {
	p := New()
	p.ipToEntity = map[string]string{
		"10.0.0.1": model.HostEntityID,
		"10.0.0.5": "socket-tcp-10.0.0.5-443-chrome",
	}
	require.Equal(t, "socket-tcp-10.0.0.5-443-chrome", p.correlateLocked("10.0.0.1", "10.0.0.5"))
	require.Equal(t, "socket-tcp-10.0.0.5-443-chrome", p.correlateLocked("10.0.0.5", "10.0.0.1"))
}

func TestCorrelateLockedFallsBackToHostWhenOnlyHostResolved(t *testing.T) {
	p := New()
	p.ipToEntity = map[string]string{"10.0.0.1": model.HostEntityID}
	require.Equal(t, model.HostEntityID, p.correlateLocked("10.0.0.1", "8.8.8.8"))
}

func TestCorrelateLockedEmptyWhenNeitherResolved(t *testing.T) {
	p := New()
	require.Equal(t, "", p.correlateLocked("1.2.3.4", "5.6.7.8"))
}

func TestRefreshCorrelationMapsHostIPsToSentinelOverridingEntityMatch(t *testing.T) {
	p := New()
	entities := []model.Entity{{ID: "lan-1", IP: "192.168.1.5"}}
	hostIPs := map[string]struct{}{"192.168.1.5": {}}
	p.RefreshCorrelation(entities, hostIPs)

	require.Equal(t, model.HostEntityID, p.ipToEntity["192.168.1.5"])
}

func TestHandleLineDropsShortRecords(t *testing.T) {
	p := New()
	p.handleLine("1|123.0|10.0.0.1")
	require.Empty(t, p.Events())
}

func TestHandleLineDropsWhenNoResolvedIPOnEitherSide(t *testing.T) {
	p := New()
	// 11-field line but both v4 and v6 src columns empty
	p.handleLine("1|1690000000.0||10.0.0.5|||TCP|64|SYN|64|")
	require.Empty(t, p.Events())
}

func TestHandleLineParsesAndAggregatesByIP(t *testing.T) {
	p := New()
	p.handleLine("1|1690000000.5|10.0.0.5|10.0.0.1|||TCP|128|SYN, len 0|64|")

	events := p.Events()
	require.Len(t, events, 1)
	e := events[0]
	require.Equal(t, "pkt-1", e.ID)
	require.Equal(t, int64(1690000000500), e.Timestamp)
	require.Equal(t, "10.0.0.5", e.SrcIP)
	require.Equal(t, "10.0.0.1", e.DstIP)
	require.Equal(t, "TCP", e.Protocol)
	require.Equal(t, 128, e.Length)
	require.Equal(t, "SYN, len 0", e.Info)

	_, bytesByIP, packetsByIP := p.Aggregation()
	require.Equal(t, int64(128), bytesByIP["10.0.0.5"])
	require.Equal(t, int64(1), packetsByIP["10.0.0.5"])
	require.Equal(t, int64(128), bytesByIP["10.0.0.1"])
}

func TestHandleLinePrefersIPv4OverIPv6WhenBothPresent(t *testing.T) {
	p := New()
	p.handleLine("1|1690000000.5|10.0.0.5|10.0.0.1|fe80::1|fe80::2|TCP|128|info|64|")

	events := p.Events()
	require.Len(t, events, 1)
	require.Equal(t, "10.0.0.5", events[0].SrcIP)
	require.Equal(t, "10.0.0.1", events[0].DstIP)
}

func TestHandleLineFallsBackToIPv6WhenIPv4Empty(t *testing.T) {
	p := New()
	p.handleLine("1|1690000000.5|||fe80::1|fe80::2|ICMPv6|64|info|64|")

	events := p.Events()
	require.Len(t, events, 1)
	require.Equal(t, "fe80::1", events[0].SrcIP)
	require.Equal(t, "fe80::2", events[0].DstIP)
}

func TestHandleLineTruncatesLongInfoField(t *testing.T) {
	p := New()
	long := ""
	for i := 0; i < 200; i++ {
		long += "x"
	}
	p.handleLine("1|1690000000.5|10.0.0.5|10.0.0.1|||TCP|128|" + long + "|64|")

	events := p.Events()
	require.Len(t, events, 1)
	require.Len(t, events[0].Info, infoTruncateLen)
}

func TestHandleLineDoesNotAggregateHostIPs(t *testing.T) {
	p := New()
	p.hostIPs = map[string]struct{}{"10.0.0.5": {}}
	p.handleLine("1|1690000000.5|10.0.0.5|10.0.0.1|||TCP|128|info|64|")

	_, bytesByIP, _ := p.Aggregation()
	_, hostTracked := bytesByIP["10.0.0.5"]
	require.False(t, hostTracked)
	require.Equal(t, int64(128), bytesByIP["10.0.0.1"])
}

func TestRingIsBoundedToMaxSize(t *testing.T) {
	p := New()
	for i := 0; i < maxRingSize+50; i++ {
		p.handleLine("1|1690000000.5|10.0.0.5|10.0.0.1|||TCP|64|info|64|")
	}
	require.Len(t, p.Events(), maxRingSize)
}

func TestDrainOnceDeliversAtMostDrainBatchAndLeavesRestPending(t *testing.T) {
	p := New()
	var delivered []PacketEvent
	p.SetOnEvent(func(e PacketEvent) { delivered = append(delivered, e) })

	for i := 0; i < drainBatch+5; i++ {
		p.handleLine("1|1690000000.5|10.0.0.5|10.0.0.1|||TCP|64|info|64|")
	}

	p.drainOnce()
	require.Len(t, delivered, drainBatch)
	require.Len(t, p.pending, 5)

	p.drainOnce()
	require.Len(t, delivered, drainBatch+5)
	require.Empty(t, p.pending)
}

func TestDrainOnceIsNoOpWithoutRegisteredCallback(t *testing.T) {
	p := New()
	p.handleLine("1|1690000000.5|10.0.0.5|10.0.0.1|||TCP|64|info|64|")
	p.drainOnce()
	require.Len(t, p.pending, 1)
}

func TestHandleStderrLineMarksPermissionDeniedAndStopsCapture(t *testing.T) {
	p := New()
	p.mu.Lock()
	p.state = StateCapturing
	p.streaming = nil
	p.mu.Unlock()

	p.handleStderrLine("tshark: You don't have permission to capture: Permission denied")

	require.Eventually(t, func() bool {
		_, remediation := p.LastError()
		return remediation != ""
	}, time.Second, 10*time.Millisecond)
	require.False(t, p.HasPermission())
}

func TestStartResetsHasPermissionAfterAPriorDenial(t *testing.T) {
	p := New()
	p.handleStderrLine("permission denied")
	require.False(t, p.HasPermission())

	origStart := startStreaming
	defer func() { startStreaming = origStart }()
	startStreaming = func(name string, args ...string) (*procutil.Streaming, error) {
		return procutil.StartStreaming("sleep", "5")
	}

	require.NoError(t, p.Start(context.Background(), "en0", []model.HostInterface{{Name: "en0"}}, nil))
	require.True(t, p.HasPermission())
	require.Equal(t, "en0", p.Interface())

	p.Stop()
	require.Empty(t, p.Interface())
}

func TestHandleStderrLineIgnoresCapturingBanner(t *testing.T) {
	p := New()
	p.handleStderrLine("Capturing on 'en0'")
	_, remediation := p.LastError()
	require.Empty(t, remediation)
}

func TestAggregationReturnsIndependentCopies(t *testing.T) {
	p := New()
	p.handleLine("1|1690000000.5|10.0.0.5|10.0.0.1|||TCP|64|info|64|")

	protocolsByIP, _, _ := p.Aggregation()
	protocolsByIP["10.0.0.5"]["TCP"] = 999

	protocolsByIP2, _, _ := p.Aggregation()
	require.Equal(t, int64(1), protocolsByIP2["10.0.0.5"]["TCP"])
}

func TestTsharkArgsIncludeAllElevenFieldsInOrder(t *testing.T) {
	args := tsharkArgs("en0")
	wantFields := []string{
		"frame.number", "frame.time_epoch", "ip.src", "ip.dst",
		"ipv6.src", "ipv6.dst", "_ws.col.Protocol", "frame.len",
		"_ws.col.Info", "ip.ttl", "ipv6.hlim",
	}
	var got []string
	for i, a := range args {
		if a == "-e" {
			got = append(got, args[i+1])
		}
	}
	require.Equal(t, wantFields, got)
}

func TestCheckStatusReportsToolPresence(t *testing.T) {
	origTool := toolOnPath
	defer func() { toolOnPath = origTool }()

	toolOnPath = func(string) bool { return false }
	require.False(t, CheckStatus().Available)

	toolOnPath = func(string) bool { return true }
	require.True(t, CheckStatus().Available)
}

var errTest = &testError{"boom"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }
