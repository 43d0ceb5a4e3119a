package probe

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScanReturnsUnreachableWhenPingFails(t *testing.T) {
	origPing := CheckPingFunc
	defer func() { CheckPingFunc = origPing }()
	CheckPingFunc = func(ip string) error { return errors.New("timeout") }

	res := Scan(context.Background(), "10.0.0.99")
	require.False(t, res.Success)
	require.Contains(t, res.Error, "unreachable")
	require.Equal(t, "10.0.0.99", res.IP)
}

func TestScanReturnsNmapFailureVerbatim(t *testing.T) {
	origPing, origNmap := CheckPingFunc, runNmap
	defer func() { CheckPingFunc, runNmap = origPing, origNmap }()
	CheckPingFunc = func(ip string) error { return nil }
	runNmap = func(ctx context.Context, ip string) ([]byte, error) { return nil, errors.New("nmap: command not found") }

	res := Scan(context.Background(), "10.0.0.5")
	require.False(t, res.Success)
	require.Equal(t, "nmap: command not found", res.Error)
}

func TestScanParsesOSDetailsLine(t *testing.T) {
	origPing, origNmap := CheckPingFunc, runNmap
	defer func() { CheckPingFunc, runNmap = origPing, origNmap }()
	CheckPingFunc = func(ip string) error { return nil }
	runNmap = func(ctx context.Context, ip string) ([]byte, error) {
		return []byte("Nmap scan report for 10.0.0.5\nOS details: Apple macOS 13 (Ventura), Apple macOS 14\nNetwork Distance: 1 hop\n"), nil
	}

	res := Scan(context.Background(), "10.0.0.5")
	require.True(t, res.Success)
	require.Equal(t, "macos", res.OSFamily)
	require.Equal(t, "Apple macOS 13 (Ventura)", res.OSVersion)
	require.InDelta(t, 0.9, res.Confidence, 0.001)
}

func TestScanParsesRunningJustGuessingLineWithConfidencePercent(t *testing.T) {
	origPing, origNmap := CheckPingFunc, runNmap
	defer func() { CheckPingFunc, runNmap = origPing, origNmap }()
	CheckPingFunc = func(ip string) error { return nil }
	runNmap = func(ctx context.Context, ip string) ([]byte, error) {
		return []byte("Running: JUST GUESSING: Linux 5.X (92%), Linux 4.X (88%)\n"), nil
	}

	res := Scan(context.Background(), "10.0.0.7")
	require.True(t, res.Success)
	require.Equal(t, "linux", res.OSFamily)
	require.InDelta(t, 0.92, res.Confidence, 0.001)
	require.Equal(t, "Linux 5.X", res.OSVersion)
}

func TestScanFamilyPatternOrderPrefersIOSOverGenericApple(t *testing.T) {
	origPing, origNmap := CheckPingFunc, runNmap
	defer func() { CheckPingFunc, runNmap = origPing, origNmap }()
	CheckPingFunc = func(ip string) error { return nil }
	runNmap = func(ctx context.Context, ip string) ([]byte, error) {
		return []byte("OS details: Apple iOS 16.5 (iPhone)\n"), nil
	}

	res := Scan(context.Background(), "10.0.0.8")
	require.True(t, res.Success)
	require.Equal(t, "ios", res.OSFamily)
}

func TestScanNoMatchReturnsUnsuccessfulResult(t *testing.T) {
	origPing, origNmap := CheckPingFunc, runNmap
	defer func() { CheckPingFunc, runNmap = origPing, origNmap }()
	CheckPingFunc = func(ip string) error { return nil }
	runNmap = func(ctx context.Context, ip string) ([]byte, error) {
		return []byte("Nmap scan report for 10.0.0.9\nNo exact OS matches for host\n"), nil
	}

	res := Scan(context.Background(), "10.0.0.9")
	require.False(t, res.Success)
	require.Equal(t, "no OS match in nmap output", res.Error)
}

func TestParseNmapOutputTruncatesLongVersionStringTo80Chars(t *testing.T) {
	long := ""
	for i := 0; i < 120; i++ {
		long += "x"
	}
	family, version, _, ok := parseNmapOutput("OS details: Linux " + long + "\n")
	require.True(t, ok)
	require.Equal(t, "linux", family)
	require.Len(t, version, maxVersionLen)
}

func TestFirstVersionTokenStripsConfidenceSuffix(t *testing.T) {
	require.Equal(t, "Linux 5.X", firstVersionToken("Linux 5.X (92%)"))
}
