package bluetooth

import (
	"testing"

	"github.com/stretchr/testify/require"

	"go.meridian.dev/meridian/internal/model"
)

func TestParseProfilerOutputConnectedSection(t *testing.T) {
	raw := []byte(`{
		"SPBluetoothDataType": [{
			"device_connected": [
				{"AirPods Pro": {
					"device_address": "aa-bb-cc-dd-ee-ff",
					"device_minorClassOfDevice_string": "Audio/Video - Headphones",
					"device_rssi": "-40",
					"device_batteryLevelMain": "80%"
				}}
			],
			"device_not_connected": []
		}]
	}`)
	result := parseProfilerOutput(raw)
	require.Len(t, result.Entities, 1)
	e := result.Entities[0]
	require.Equal(t, "bt-aa:bb:cc:dd:ee:ff", e.ID)
	require.True(t, e.Bluetooth.IsConnected)
	require.Equal(t, 80, *e.Bluetooth.BatteryLevel)
	require.Equal(t, -40, *e.Bluetooth.RSSI)
}

func TestParseProfilerOutputIdFallsBackToNameWhenNoAddress(t *testing.T) {
	raw := []byte(`{
		"SPBluetoothDataType": [{
			"devices_not_connected": [
				{"Old Keyboard": {}}
			]
		}]
	}`)
	result := parseProfilerOutput(raw)
	require.Len(t, result.Entities, 1)
	require.Equal(t, "bt-Old-Keyboard", result.Entities[0].ID)
	require.False(t, result.Entities[0].Bluetooth.IsConnected)
}

func TestParseProfilerOutputUnionsBothNotConnectedVariants(t *testing.T) {
	raw := []byte(`{
		"SPBluetoothDataType": [{
			"device_not_connected": [{"Mouse": {"device_isconnected": "no"}}],
			"devices_not_connected": [{"Mouse": {"device_isconnected": "yes"}}]
		}]
	}`)
	result := parseProfilerOutput(raw)
	require.Len(t, result.Entities, 1, "the same device across both drift-variant sections must not duplicate")
	require.True(t, result.Entities[0].Bluetooth.IsConnected, "an affirmative indicator in either occurrence wins")
}

func TestEveryBluetoothEntityRelatesToHost(t *testing.T) {
	raw := []byte(`{"SPBluetoothDataType": [{"device_connected": [{"Phone": {"device_address": "11:22:33:44:55:66"}}]}]}`)
	result := parseProfilerOutput(raw)
	require.Len(t, result.Relations, 1)
	require.Equal(t, model.RelationConnectedTo, result.Relations[0].Kind)
	require.Equal(t, model.HostEntityID, result.Relations[0].Target)
}
