// Package subnet provides the pure CIDR-containment helper consumers use to
// cluster LAN entities under the subnet they belong to. It holds no state
// of its own; the Topology collector is the only producer of the Subnet
// descriptors this package matches against.
package subnet

import (
	"encoding/binary"
	"net"

	"go.meridian.dev/meridian/internal/model"
)

// Match returns the first subnet whose network (ip AND mask) equals the
// subnet's own (networkAddress AND mask), or false if ip is not a valid
// IPv4 address or no subnet contains it.
func Match(ip string, subnets []model.Subnet) (model.Subnet, bool) {
	ipNum, ok := ipv4ToUint32(ip)
	if !ok {
		return model.Subnet{}, false
	}

	for _, s := range subnets {
		netNum, ok := ipv4ToUint32(s.Network)
		if !ok {
			continue
		}
		mask := maskForPrefix(s.Prefix)
		if ipNum&mask == netNum&mask {
			return s, true
		}
	}
	return model.Subnet{}, false
}

func maskForPrefix(prefix int) uint32 {
	if prefix <= 0 {
		return 0
	}
	if prefix >= 32 {
		return 0xFFFFFFFF
	}
	return ^uint32(0) << uint(32-prefix)
}

func ipv4ToUint32(ip string) (uint32, bool) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return 0, false
	}
	v4 := parsed.To4()
	if v4 == nil {
		return 0, false
	}
	return binary.BigEndian.Uint32(v4), true
}
