// Package linklayer discovers LAN neighbors from the OS neighbor (ARP)
// cache, warming it with a best-effort multicast probe first.
package linklayer

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.meridian.dev/meridian/internal/logging"
	"go.meridian.dev/meridian/internal/model"
	"go.meridian.dev/meridian/internal/oui"
	"go.meridian.dev/meridian/internal/procutil"
)

const (
	Name          = "link_layer"
	primeTimeout  = 1 * time.Second
	readTimeout   = 5 * time.Second
)

var log = logging.WithComponent("collectors.linklayer")

// runCommand is a seam for tests; defaults to procutil.Run.
var runCommand = func(ctx context.Context, timeout time.Duration, name string, args ...string) ([]byte, []byte, error) {
	return procutil.Run(ctx, timeout, name, args...)
}

// neighborLine matches macOS/BSD `arp -a` output:
//
//	? (192.168.1.1) at aa:bb:cc:dd:ee:ff on en0 ifscope [ethernet]
//	? (192.168.1.42) at (incomplete) on en0
var neighborLine = regexp.MustCompile(`^\S+\s+\(([0-9.]+)\)\s+at\s+(\S+)\s+on\s+(\S+)(.*)$`)

// Scan warms the neighbor cache, reads it, and returns a LAN entity plus a
// gateway or connected_to relation for every complete, non-broadcast entry.
func Scan(ctx context.Context) model.Result {
	// Best-effort prime; failure (no route, no permission) is ignored.
	_, _, _ = runCommand(ctx, primeTimeout, "ping", "-c", "1", "-W", "1", "224.0.0.1")

	out, _, err := runCommand(ctx, readTimeout, "arp", "-an")
	if err != nil && len(out) == 0 {
		log.Warn("neighbor table read failed", "error", truncate(err.Error(), 200))
		return model.Result{}
	}

	return parseNeighborTable(string(out))
}

func parseNeighborTable(output string) model.Result {
	var result model.Result
	for _, line := range strings.Split(output, "\n") {
		m := neighborLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		ip, rawMAC, iface, tail := m[1], m[2], m[3], m[4]
		if rawMAC == "(incomplete)" {
			continue
		}
		mac := normalizeNeighborMAC(rawMAC)
		if mac == "" || mac == "ff:ff:ff:ff:ff:ff" {
			continue
		}

		isGateway := strings.Contains(tail, "ifscope") && strings.HasSuffix(ip, ".1")
		vendor := oui.LookupVendor(mac)

		name := ip
		if vendor != "" {
			name = vendor + " (" + ip + ")"
		}

		id := model.LANEntityID(mac)
		entity := model.Entity{
			ID:   id,
			Type: model.SignalLAN,
			Name: name,
			MAC:  mac,
			IP:   ip,
			LAN: &model.LANAttrs{
				Interface: iface,
				IsGateway: isGateway,
				Vendor:    vendor,
			},
		}
		result.Entities = append(result.Entities, entity)

		kind := model.RelationConnectedTo
		if isGateway {
			kind = model.RelationGateway
		}
		result.Relations = append(result.Relations, model.NewRelation(id, model.HostEntityID, kind))
	}
	return result
}

// normalizeNeighborMAC zero-pads each single-digit hex octet and lowercases
// the result; arp -a prints octets without leading zeros (e.g. "0:1a:2:3:4:5").
func normalizeNeighborMAC(mac string) string {
	mac = strings.ToLower(mac)
	parts := strings.Split(mac, ":")
	if len(parts) != 6 {
		return ""
	}
	for i, p := range parts {
		if _, err := strconv.ParseUint(p, 16, 8); err != nil {
			return ""
		}
		if len(p) == 1 {
			parts[i] = "0" + p
		}
	}
	return strings.Join(parts, ":")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
