package wifi

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBandForChannel(t *testing.T) {
	require.Equal(t, "2.4", bandFor(6))
	require.Equal(t, "5", bandFor(36))
	require.Equal(t, "6", bandFor(181))
}

func TestParseRSSIPlainInt(t *testing.T) {
	v, ok := parseRSSI(float64(-55))
	require.True(t, ok)
	require.Equal(t, -55, v)
}

func TestParseRSSIStringSignalAndNoise(t *testing.T) {
	v, ok := parseRSSI("-50 dBm / -90 dBm")
	require.True(t, ok)
	require.Equal(t, -50, v, "first signed integer is the signal, not the noise floor")
}

func TestParseChannelFromDescriptiveString(t *testing.T) {
	require.Equal(t, 36, parseChannel("36 (5GHz, 80MHz)"))
	require.Equal(t, 0, parseChannel(nil))
}

func TestClampSignalBounds(t *testing.T) {
	require.Equal(t, 0, clampSignal(-90))
	require.Equal(t, 100, clampSignal(-30))
	require.InDelta(t, 66, clampSignal(-50), 1)
}

func TestExtractCurrentNetworkSkipsInterfaceWithoutChannel(t *testing.T) {
	raw := []byte(`{
		"SPAirPortDataType": [{
			"spairport_airport_interfaces": [
				{"_name": "en1"},
				{"_name": "en0", "spairport_current_network_information": {
					"_name": "HomeWiFi",
					"spairport_network_channel": "36 (5GHz, 80MHz)",
					"spairport_security_mode": "spairport_security_mode_wpa2_personal",
					"spairport_signal_noise": "-50 dBm / -90 dBm"
				}}
			]
		}]
	}`)
	iface, network, ok := extractCurrentNetwork(raw)
	require.True(t, ok)
	require.Equal(t, "en0", iface)
	require.Equal(t, "HomeWiFi", network["_name"])
}

func TestExtractCurrentNetworkNoInterfacesReturnsNotOK(t *testing.T) {
	_, _, ok := extractCurrentNetwork([]byte(`{"SPAirPortDataType": [{}]}`))
	require.False(t, ok)
}
