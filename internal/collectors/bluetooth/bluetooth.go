// Package bluetooth discovers paired and nearby Bluetooth peers via the OS
// system profiler, tolerant of the connected/not-connected section key
// names drifting across OS versions.
package bluetooth

import (
	"context"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.meridian.dev/meridian/internal/logging"
	"go.meridian.dev/meridian/internal/model"
	"go.meridian.dev/meridian/internal/procutil"
)

const (
	Name            = "bluetooth"
	profilerTimeout = 15 * time.Second
)

var log = logging.WithComponent("collectors.bluetooth")

var runProfiler = func(ctx context.Context) ([]byte, error) {
	out, _, err := procutil.Run(ctx, profilerTimeout, "system_profiler", "-json", "SPBluetoothDataType")
	return out, err
}

var firstSignedInt = regexp.MustCompile(`-?\d+`)

// Scan invokes the Bluetooth profiler and returns one entity per device
// discovered across every controller's device sections.
func Scan(ctx context.Context) model.Result {
	out, err := runProfiler(ctx)
	if err != nil {
		log.Warn("bluetooth profiler failed", "error", truncate(err.Error(), 200))
		return model.Result{}
	}
	return parseProfilerOutput(out)
}

func parseProfilerOutput(raw []byte) model.Result {
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return model.Result{}
	}
	controllers, _ := doc["SPBluetoothDataType"].([]interface{})

	// Union devices by name across every "*connected*" section seen, so a
	// device present in both *_not_connected variants isn't duplicated.
	type found struct {
		fields      map[string]interface{}
		isConnected bool
	}
	devices := make(map[string]*found)

	for _, c := range controllers {
		controller, _ := c.(map[string]interface{})
		for key, v := range controller {
			lower := strings.ToLower(key)
			if !strings.Contains(lower, "connected") {
				continue
			}
			sectionConnected := !strings.Contains(lower, "not")
			items, _ := v.([]interface{})
			for _, item := range items {
				entry, _ := item.(map[string]interface{})
				for name, fieldsRaw := range entry {
					fields, _ := fieldsRaw.(map[string]interface{})
					existing, ok := devices[name]
					if !ok {
						devices[name] = &found{fields: fields, isConnected: sectionConnected || indicatesConnected(fields)}
						continue
					}
					if sectionConnected || indicatesConnected(fields) {
						existing.isConnected = true
					}
				}
			}
		}
	}

	var result model.Result
	for name, d := range devices {
		address, _ := d.fields["device_address"].(string)
		mac := ""
		if address != "" {
			mac = model.NormalizeMAC(address)
		}
		id := model.BluetoothEntityID(mac, name)

		attrs := &model.BluetoothAttrs{
			IsConnected: d.isConnected,
			MinorType:   minorType(d.fields),
		}
		if rssi, ok := parseRSSI(d.fields["device_rssi"]); ok {
			attrs.RSSI = &rssi
		}
		if battery, ok := parseBattery(d.fields); ok {
			attrs.BatteryLevel = &battery
		}

		entity := model.Entity{
			ID:        id,
			Type:      model.SignalBluetooth,
			Name:      name,
			MAC:       mac,
			Bluetooth: attrs,
		}
		if attrs.RSSI != nil {
			signal := clampSignal(*attrs.RSSI)
			entity.Signal = &signal
		}
		result.Entities = append(result.Entities, entity)
		result.Relations = append(result.Relations, model.NewRelation(id, model.HostEntityID, model.RelationConnectedTo))
	}
	return result
}

func indicatesConnected(fields map[string]interface{}) bool {
	for _, key := range []string{"device_isconnected", "device_connected", "device_enhancedisconnected"} {
		if v, ok := fields[key]; ok {
			if affirmative(v) {
				return true
			}
		}
	}
	return false
}

func affirmative(v interface{}) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		s := strings.ToLower(val)
		return s == "yes" || s == "true" || s == "attrib_yes"
	default:
		return false
	}
}

func minorType(fields map[string]interface{}) string {
	for _, key := range []string{"device_minorClassOfDevice_string", "device_minorType", "device_minor_type"} {
		if v, ok := fields[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func parseRSSI(v interface{}) (int, bool) {
	switch val := v.(type) {
	case float64:
		return int(val), true
	case string:
		m := firstSignedInt.FindString(val)
		if m == "" {
			return 0, false
		}
		n, err := strconv.Atoi(m)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// parseBattery checks the primary battery key first, then the
// main-device-specific key, parsing a trailing "%" if present.
func parseBattery(fields map[string]interface{}) (int, bool) {
	for _, key := range []string{"device_batteryLevel", "device_batteryLevelMain"} {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		switch val := raw.(type) {
		case float64:
			return int(val), true
		case string:
			s := strings.TrimSuffix(strings.TrimSpace(val), "%")
			n, err := strconv.Atoi(s)
			if err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

func clampSignal(rssi int) int {
	v := (rssi + 90) * 100 / 60
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
