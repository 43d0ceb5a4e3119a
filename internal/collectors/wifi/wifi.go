// Package wifi discovers the currently associated Wi-Fi access point via
// the OS system profiler, falling back to the preferred-networks list when
// the SSID has been redacted for lack of location permission.
package wifi

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
	Name           = "wifi"
	profilerTimeout = 15 * time.Second
	redactedSSID    = "<redacted>"
	fallbackSSID    = "Connected Wi-Fi"
)

var log = logging.WithComponent("collectors.wifi")

var runProfiler = func(ctx context.Context) ([]byte, error) {
	out, _, err := procutil.Run(ctx, profilerTimeout, "system_profiler", "-json", "SPAirPortDataType")
	return out, err
}

var runPreferredNetworks = func(ctx context.Context, iface string) ([]byte, error) {
	out, _, err := procutil.Run(ctx, 5*time.Second, "networksetup", "-listpreferredwirelessnetworks", iface)
	return out, err
}

var firstSignedInt = regexp.MustCompile(`-?\d+`)

// Scan invokes the Wi-Fi profiler and returns at most one Wi-Fi entity for
// the currently-connected network.
func Scan(ctx context.Context) model.Result {
	out, err := runProfiler(ctx)
	if err != nil {
		log.Warn("wifi profiler failed", "error", truncate(err.Error(), 200))
		return model.Result{}
	}

	iface, network, ok := extractCurrentNetwork(out)
	if !ok {
		return model.Result{}
	}

	ssid, _ := network["_name"].(string)
	if ssid == redactedSSID {
		if fallback, ok := resolveFallbackSSID(ctx, iface); ok {
			ssid = fallback
		} else {
			ssid = fallbackSSID
		}
	}
	if ssid == "" {
		return model.Result{}
	}

	channel := parseChannel(network["spairport_network_channel"])
	band := bandFor(channel)
	security, _ := network["spairport_security_mode"].(string)
	rssi, hasRSSI := parseRSSI(network["spairport_signal_noise"])

	attrs := &model.WiFiAttrs{
		SSID:        ssid,
		Channel:     channel,
		Band:        band,
		Security:    security,
		IsConnected: true,
	}

	entity := model.Entity{
		ID:   model.WiFiEntityID(ssid),
		Type: model.SignalWiFi,
		Name: ssid,
		WiFi: attrs,
	}
	if hasRSSI {
		signal := clampSignal(rssi)
		entity.Signal = &signal
	}

	return model.Result{
		Entities:  []model.Entity{entity},
		Relations: []model.Relation{model.NewRelation(entity.ID, model.HostEntityID, model.RelationConnectedTo)},
	}
}

// PrimaryInterface returns the name of the Wi-Fi hardware interface
// reporting a current-network record, for callers (the Packet Pipeline's
// interface-selection fallback) that need an interface name rather than a
// Wi-Fi entity.
func PrimaryInterface(ctx context.Context) (string, bool) {
	out, err := runProfiler(ctx)
	if err != nil {
		return "", false
	}
	iface, _, ok := extractCurrentNetwork(out)
	return iface, ok && iface != ""
}

func resolveFallbackSSID(ctx context.Context, iface string) (string, bool) {
	if iface == "" {
		return "", false
	}
	out, err := runPreferredNetworks(ctx, iface)
	if err != nil {
		return "", false
	}
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "Preferred") {
			continue
		}
		return line, true
	}
	return "", false
}

// extractCurrentNetwork walks the tolerant JSON shape of
// `system_profiler -json SPAirPortDataType`, returning the first interface
// that reports a current-network record with a channel, plus that record.
func extractCurrentNetwork(raw []byte) (iface string, network map[string]interface{}, ok bool) {
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", nil, false
	}
	items, _ := doc["SPAirPortDataType"].([]interface{})
	for _, item := range items {
		m, _ := item.(map[string]interface{})
		ifaces, _ := m["spairport_airport_interfaces"].([]interface{})
		for _, ifaceRaw := range ifaces {
			ifaceMap, _ := ifaceRaw.(map[string]interface{})
			name, _ := ifaceMap["_name"].(string)
			current, _ := ifaceMap["spairport_current_network_information"].(map[string]interface{})
			if current == nil {
				continue
			}
			if _, hasChannel := current["spairport_network_channel"]; !hasChannel {
				continue
			}
			return name, current, true
		}
	}
	return "", nil, false
}

func parseChannel(v interface{}) int {
	s, ok := v.(string)
	if !ok {
		if f, ok := v.(float64); ok {
			return int(f)
		}
		return 0
	}
	m := regexp.MustCompile(`\d+`).FindString(s)
	n, _ := strconv.Atoi(m)
	return n
}

func bandFor(channel int) string {
	switch {
	case channel > 177:
		return "6"
	case channel > 14:
		return "5"
	default:
		return "2.4"
	}
}

// parseRSSI accepts either a plain JSON number or a string whose first
// signed integer is the signal (the second, if present, is the noise floor).
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
