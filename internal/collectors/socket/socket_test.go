package socket

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleLsofOutput = "p1234\ncfirefox\nPTCP\nTST=ESTABLISHED\nn192.168.1.5:54321->17.248.169.201:443\n" +
	"p1234\ncfirefox\nPTCP\nTST=ESTABLISHED\nn127.0.0.1:54322->127.0.0.1:8080\n" +
	"p77\ncsshd\nPTCP\nTST=LISTEN\nn*:22\n"

func TestParseLsofFieldsResetsPerProcessBlock(t *testing.T) {
	records := parseLsofFields(sampleLsofOutput)
	require.Len(t, records, 3)
	require.Equal(t, "1234", records[0].pid)
	require.Equal(t, "firefox", records[0].command)
	require.Equal(t, "TCP", records[0].proto)
	require.Equal(t, "ESTABLISHED", records[0].state)
	require.Equal(t, "192.168.1.5:54321->17.248.169.201:443", records[0].name)
}

func TestParseConnectionSplitsLocalAndRemote(t *testing.T) {
	conn, ok := parseConnection("192.168.1.5:54321->17.248.169.201:443")
	require.True(t, ok)
	require.Equal(t, "17.248.169.201", conn.remoteHost)
	require.Equal(t, 443, conn.remotePort)
}

func TestParseConnectionSupportsBracketedIPv6(t *testing.T) {
	conn, ok := parseConnection("[::1]:54321->[2001:db8::1]:443")
	require.True(t, ok)
	require.Equal(t, "2001:db8::1", conn.remoteHost)
	require.Equal(t, 443, conn.remotePort)
}

func TestParseConnectionRejectsEmpty(t *testing.T) {
	_, ok := parseConnection("")
	require.False(t, ok)
}

func TestIsSkippableHost(t *testing.T) {
	require.True(t, isSkippableHost("127.0.0.1"))
	require.True(t, isSkippableHost("::1"))
	require.True(t, isSkippableHost("*"))
	require.False(t, isSkippableHost("17.248.169.201"))
}

func TestResolveExecutableNameAppBundle(t *testing.T) {
	require.Equal(t, "Firefox", resolveExecutableName("/Applications/Firefox.app/Contents/MacOS/firefox"))
}

func TestResolveExecutableNamePlainBasename(t *testing.T) {
	require.Equal(t, "sshd", resolveExecutableName("/usr/sbin/sshd"))
}

func TestParsePSOutputMapsPidToResolvedName(t *testing.T) {
	out := parsePSOutput(" 1234 /Applications/Firefox.app/Contents/MacOS/firefox\n  77 /usr/sbin/sshd\n")
	require.Equal(t, "Firefox", out["1234"])
	require.Equal(t, "sshd", out["77"])
}

func TestRegistrableDomainLastTwoLabels(t *testing.T) {
	require.Equal(t, "apple.com", registrableDomain("e6858.dsce9.akamaiedge.apple.com"))
}

func TestRegistrableDomainKeepsThreeForShortSecondToLastLabel(t *testing.T) {
	require.Equal(t, "example.co.uk", registrableDomain("www.example.co.uk"))
}

func TestScanBuildsIdSkipsLoopbackAndOverridesProcessFromPS(t *testing.T) {
	origLsof, origPS := runLsof, runPS
	defer func() { runLsof = origLsof; runPS = origPS }()

	runLsof = func(_ context.Context) ([]byte, error) {
		return []byte(sampleLsofOutput), nil
	}
	runPS = func(_ context.Context, pids []string) ([]byte, error) {
		require.Contains(t, pids, "1234")
		return []byte("1234 /Applications/Firefox.app/Contents/MacOS/firefox\n77 sshd\n"), nil
	}

	c := New()
	result := c.Scan(context.Background())

	require.Len(t, result.Entities, 1, "the loopback-destined connection and the listener with port-only n field must be dropped")
	e := result.Entities[0]
	require.Equal(t, "conn-TCP-17.248.169.201-443-Firefox", e.ID)
	require.Equal(t, "Firefox", e.Socket.ProcessName, "ps-resolved name must override lsof's reported comm")
}
