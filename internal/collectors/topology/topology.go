// Package topology parses the OS routing table into a side-channel subnet
// list; it never contributes entities or relations to the store.
package topology

import (
	"context"
	"strconv"
	"strings"
	"time"

	"go.meridian.dev/meridian/internal/logging"
	"go.meridian.dev/meridian/internal/model"
	"go.meridian.dev/meridian/internal/procutil"
)

const (
	Name         = "topology"
	routeTimeout = 5 * time.Second
)

var log = logging.WithComponent("collectors.topology")

var runNetstat = func(ctx context.Context) ([]byte, error) {
	out, _, err := procutil.Run(ctx, routeTimeout, "netstat", "-rn")
	return out, err
}

// Scan reads the routing table and returns the derived subnet list as a
// side channel; the collector result proper is always empty.
func Scan(ctx context.Context, hostInterfaces []model.HostInterface) (model.Result, []model.Subnet) {
	out, err := runNetstat(ctx)
	if err != nil && len(out) == 0 {
		log.Warn("routing table read failed", "error", truncate(err.Error(), 200))
		return model.Result{}, nil
	}
	return model.Result{}, parseRoutingTable(string(out), hostInterfaces)
}

func parseRoutingTable(output string, hostInterfaces []model.HostInterface) []model.Subnet {
	localIPByInterface := make(map[string]string, len(hostInterfaces))
	for _, hi := range hostInterfaces {
		localIPByInterface[hi.Name] = hi.IPv4
	}

	var subnets []model.Subnet
	seen := make(map[string]bool)

	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		dest, gateway, iface := fields[0], fields[1], fields[len(fields)-1]
		if !looksLikeDataRow(fields) {
			continue
		}
		if dest == "default" {
			continue
		}
		if strings.Contains(dest, ":") || strings.Contains(gateway, ":") {
			continue // IPv6
		}
		if strings.HasPrefix(dest, "127") || iface == "lo0" {
			continue
		}
		if strings.HasPrefix(dest, "169.254") {
			continue
		}
		if strings.HasPrefix(dest, "224.") {
			continue
		}
		if strings.HasPrefix(dest, "255.") {
			continue
		}
		if strings.HasSuffix(dest, "/32") {
			continue
		}

		network, prefix, ok := normalizeDestination(dest)
		if !ok {
			continue
		}

		localIP, ok := localIPByInterface[iface]
		if !ok || localIP == "" {
			continue
		}

		gw := ""
		if !strings.HasPrefix(gateway, "link#") {
			gw = gateway
		}

		cidr := network + "/" + strconv.Itoa(prefix)
		if seen[cidr] {
			continue
		}
		seen[cidr] = true

		subnets = append(subnets, model.Subnet{
			CIDR:      cidr,
			Network:   network,
			Prefix:    prefix,
			Gateway:   gw,
			Interface: iface,
			HostIPv4:  localIP,
		})
	}
	return subnets
}

// looksLikeDataRow filters out netstat's section headers and the column
// header line itself.
func looksLikeDataRow(fields []string) bool {
	switch fields[0] {
	case "Destination", "Routing", "Internet:", "Internet6:":
		return false
	}
	return true
}

// normalizeDestination returns the full dotted network address and prefix
// length for a (possibly truncated, possibly explicit-CIDR) destination.
func normalizeDestination(dest string) (network string, prefix int, ok bool) {
	if idx := strings.Index(dest, "/"); idx >= 0 {
		base := dest[:idx]
		p, err := strconv.Atoi(dest[idx+1:])
		if err != nil {
			return "", 0, false
		}
		return padOctets(base, 4), p, true
	}

	octets := strings.Split(dest, ".")
	for _, o := range octets {
		if _, err := strconv.Atoi(o); err != nil {
			return "", 0, false
		}
	}
	switch len(octets) {
	case 3:
		return padOctets(dest, 4), 24, true
	case 2:
		return padOctets(dest, 4), 16, true
	case 1:
		return padOctets(dest, 4), 8, true
	case 4:
		return dest, 32, true
	default:
		return "", 0, false
	}
}

func padOctets(dest string, want int) string {
	octets := strings.Split(dest, ".")
	for len(octets) < want {
		octets = append(octets, "0")
	}
	return strings.Join(octets[:want], ".")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
