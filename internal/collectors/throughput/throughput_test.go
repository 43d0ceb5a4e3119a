package throughput

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go.meridian.dev/meridian/internal/clock"
)

const sampleNettopCSVFirst = `time,,,,,,,,
firefox.1234,,,,,,,,
 tcp4 192.168.1.5:54321<->17.248.169.201:443,1000,2000,,,,,,
sshd.77,,,,,,,,
 tcp4 192.168.1.5:22<->10.0.0.9:51000,500,500,,,,,,
firefox.1234,,,,,,,,
 tcp4 192.168.1.5:54322<->127.0.0.1:8080,10,10,,,,,,
`

const sampleNettopCSVSecond = `time,,,,,,,,
firefox.1234,,,,,,,,
 tcp4 192.168.1.5:54321<->17.248.169.201:443,3000,2500,,,,,,
sshd.77,,,,,,,,
 tcp4 192.168.1.5:22<->10.0.0.9:51000,500,500,,,,,,
`

func TestProcessRowNameStripsTrailingPID(t *testing.T) {
	name, ok := processRowName("firefox.1234")
	require.True(t, ok)
	require.Equal(t, "firefox", name)
}

func TestProcessRowNameRejectsNonNumericSuffix(t *testing.T) {
	_, ok := processRowName("tcp4 192.168.1.5:54321<->17.248.169.201:443")
	require.False(t, ok)
}

func TestExtractRemoteHandlesArrowVariants(t *testing.T) {
	host, port, ok := extractRemote("tcp4 192.168.1.5:54321<->17.248.169.201:443")
	require.True(t, ok)
	require.Equal(t, "17.248.169.201", host)
	require.Equal(t, 443, port)
}

func TestExtractRemoteHandlesBracketedIPv6(t *testing.T) {
	host, port, ok := extractRemote("tcp6 [::1]:54321<->[2001:db8::1]:443")
	require.True(t, ok)
	require.Equal(t, "2001:db8::1", host)
	require.Equal(t, 443, port)
}

func TestParseNettopCSVAssociatesCurrentProcessWithConnectionKey(t *testing.T) {
	samples := parseNettopCSV(sampleNettopCSVFirst)
	key := "conn-TCP-17.248.169.201-443-firefox"
	require.Contains(t, samples, key)
	require.Equal(t, int64(1000), samples[key].in)
	require.Equal(t, int64(2000), samples[key].out)
}

func TestParseNettopCSVSkipsLoopbackConnections(t *testing.T) {
	samples := parseNettopCSV(sampleNettopCSVFirst)
	for key := range samples {
		require.NotContains(t, key, "127.0.0.1")
	}
}

func TestScanComputesPositiveRatesAcrossTwoSamples(t *testing.T) {
	fake := clock.NewMockClock(time.Unix(1000, 0))
	c := NewWithClock(fake)

	origRun := runNettop
	defer func() { runNettop = origRun }()

	runNettop = func(_ context.Context) ([]byte, error) {
		return []byte(sampleNettopCSVFirst), nil
	}
	c.Scan(context.Background())

	fake.Advance(2 * time.Second)
	runNettop = func(_ context.Context) ([]byte, error) {
		return []byte(sampleNettopCSVSecond), nil
	}
	c.Scan(context.Background())

	rates := c.Rates()
	key := "conn-TCP-17.248.169.201-443-firefox"
	require.Contains(t, rates, key)
	require.InDelta(t, 1000.0, rates[key].BytesInPerSec, 0.01)
	require.InDelta(t, 250.0, rates[key].BytesOutPerSec, 0.01)
	require.InDelta(t, 1250.0, rates[key].BytesPerSec, 0.01)
}

func TestScanOmitsKeysWithNoDeltaOrNoPriorSample(t *testing.T) {
	fake := clock.NewMockClock(time.Unix(1000, 0))
	c := NewWithClock(fake)

	origRun := runNettop
	defer func() { runNettop = origRun }()

	runNettop = func(_ context.Context) ([]byte, error) {
		return []byte(sampleNettopCSVFirst), nil
	}
	c.Scan(context.Background())
	require.Empty(t, c.Rates(), "the first sample has no prior sample to diff against")

	fake.Advance(2 * time.Second)
	runNettop = func(_ context.Context) ([]byte, error) {
		return []byte(sampleNettopCSVSecond), nil
	}
	c.Scan(context.Background())

	rates := c.Rates()
	require.NotContains(t, rates, "conn-TCP-10.0.0.9-51000-sshd", "unchanged byte counters must not publish a zero rate")
}
