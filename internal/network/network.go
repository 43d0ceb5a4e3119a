// Package network provides host interface enumeration and change
// monitoring used to seed the Host entity and to correlate observed IPs
// back to the host's own addresses.
package network

import (
	"net"

	"go.meridian.dev/meridian/internal/model"
)

// EnumerateInterfaces returns every non-internal interface carrying an IPv4
// address, in the order net.Interfaces() reports them. The Orchestrator
// uses the first entry's IP and MAC at the Host envelope level.
func EnumerateInterfaces() ([]model.HostInterface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var out []model.HostInterface
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipnet.IP.To4()
			if ip4 == nil {
				continue
			}
			out = append(out, model.HostInterface{
				Name: iface.Name,
				IPv4: ip4.String(),
				MAC:  iface.HardwareAddr.String(),
			})
			break // one IPv4 per interface is enough for the Host envelope
		}
	}
	return out, nil
}

// HostIPSet returns the set of IPv4 addresses assigned to the running
// machine, used by the packet pipeline to exclude the host from
// per-peer aggregation (the "Host IP set" of the glossary).
func HostIPSet(interfaces []model.HostInterface) map[string]struct{} {
	set := make(map[string]struct{}, len(interfaces))
	for _, i := range interfaces {
		if i.IPv4 != "" {
			set[i.IPv4] = struct{}{}
		}
	}
	return set
}
