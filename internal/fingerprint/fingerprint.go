// Package fingerprint implements the weighted multi-signal OS fingerprinter:
// static OS-family profiles scored against TTL, vendor, hostname, mDNS,
// Bluetooth-name, and active-probe signals.
package fingerprint

import (
	"regexp"
	"sort"
	"strings"
	"sync"

	"go.meridian.dev/meridian/internal/metrics"
	"go.meridian.dev/meridian/internal/model"
	"go.meridian.dev/meridian/internal/store"
)

// ProbeResult is an on-demand active probe's outcome, fed in by the caller
// (internal/probe) for the Active-probe signal.
type ProbeResult struct {
	OSFamily string
}

// Profile is one static OS-family entry in the fingerprinter's database.
type Profile struct {
	Family             string
	TTLMin, TTLMax     int
	VendorSubstrs      []string
	HostnameRegexes    []*regexp.Regexp
	MDNSServiceLabels  []string // core label, e.g. "airplay" (no leading _ or ._tcp)
	BluetoothRegexes   []*regexp.Regexp
	DHCPVendorSubstrs  []string // substrings of a DHCP option-60 vendor class identifier
}

func rx(p string) *regexp.Regexp { return regexp.MustCompile("(?i)" + p) }

var profiles = []Profile{
	{
		Family: "macos", TTLMin: 61, TTLMax: 64,
		VendorSubstrs:     []string{"apple"},
		HostnameRegexes:   []*regexp.Regexp{rx(`macbook|imac|mac-mini|mac-pro`)},
		MDNSServiceLabels: []string{"airplay", "companion-link", "device-info"},
	},
	{
		Family: "ios", TTLMin: 61, TTLMax: 64,
		VendorSubstrs:     []string{"apple"},
		HostnameRegexes:   []*regexp.Regexp{rx(`iphone|ipad`)},
		MDNSServiceLabels: []string{"homekit", "hap"},
	},
	{
		Family: "windows", TTLMin: 125, TTLMax: 128,
		VendorSubstrs:     []string{"microsoft", "dell", "lenovo", "hewlett packard", "asustek"},
		HostnameRegexes:   []*regexp.Regexp{rx(`^desktop-|^laptop-`)},
		DHCPVendorSubstrs: []string{"msft"},
	},
	{
		Family: "android", TTLMin: 63, TTLMax: 64,
		VendorSubstrs:     []string{"samsung", "google", "xiaomi", "oneplus", "huawei"},
		HostnameRegexes:   []*regexp.Regexp{rx(`android`)},
		MDNSServiceLabels: []string{"googlecast"},
		DHCPVendorSubstrs: []string{"android-dhcp"},
	},
	{
		Family: "linux", TTLMin: 61, TTLMax: 64,
		VendorSubstrs:     []string{"raspberry pi"},
		HostnameRegexes:   []*regexp.Regexp{rx(`ubuntu|debian|raspberrypi`)},
		DHCPVendorSubstrs: []string{"udhcp", "dhcpcd"},
	},
	{
		Family: "freebsd", TTLMin: 61, TTLMax: 64,
		HostnameRegexes: []*regexp.Regexp{rx(`freebsd|pfsense|opnsense`)},
	},
}

const (
	weightTTL          = 0.3
	weightVendor       = 0.4
	weightHostname     = 0.5
	weightMDNS         = 0.5
	weightBluetooth    = 0.5
	weightActiveProbe  = 0.9
	weightDHCPVendor   = 0.3
	minConfidence      = 0.45
	revisitConfidence  = 0.85
	ttlWindowSize      = 100
)

// TTLWindow holds, per IP, a rolling window of the most recent TTL samples
// observed by the packet pipeline. The median (lower median on ties) is
// the signal value consulted during inference.
type TTLWindow struct {
	mu      sync.Mutex
	samples map[string][]int
}

// NewTTLWindow constructs an empty per-IP TTL window.
func NewTTLWindow() *TTLWindow {
	return &TTLWindow{samples: make(map[string][]int)}
}

// Add records a TTL sample for ip, keeping at most the most recent 100.
func (w *TTLWindow) Add(ip string, ttl int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := append(w.samples[ip], ttl)
	if len(s) > ttlWindowSize {
		s = s[len(s)-ttlWindowSize:]
	}
	w.samples[ip] = s
}

// Median returns the representative TTL for ip, and whether any samples
// exist.
func (w *TTLWindow) Median(ip string) (int, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := w.samples[ip]
	if len(s) == 0 {
		return 0, false
	}
	sorted := append([]int(nil), s...)
	sort.Ints(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2], true
	}
	return sorted[n/2-1], true // lower median on ties
}

// mdnsLabelsAtIP maps IP to the set of mDNS service-type core labels observed
// there (leading underscore and ._tcp suffix stripped).
func mdnsLabelsAtIP(entities []model.Entity) map[string][]string {
	out := make(map[string][]string)
	for _, e := range entities {
		if e.Type != model.SignalMDNS || e.IP == "" || e.MDNS == nil {
			continue
		}
		label := strings.TrimSuffix(strings.TrimPrefix(e.MDNS.ServiceType, "_"), "._tcp")
		out[e.IP] = append(out[e.IP], label)
	}
	return out
}

// ActiveProbeLookup returns the most recent active-probe OS family for an
// IP, if one has been run, fed by internal/probe.
type ActiveProbeLookup func(ip string) (string, bool)

// DHCPLookup returns the most recently observed DHCP fingerprint for a MAC,
// fed by internal/collectors/dhcpsnoop. Absence of a sighting is not an
// error; the signal is additive only.
type DHCPLookup func(mac string) (hostname, vendorClass string, ok bool)

// Run scores every LAN or Bluetooth entity in s against the profile
// database and patches osFamily/deviceCategory/osFingerprintConfidence onto
// entities whose confidence reaches the minimum and who are not already at
// or above the revisit floor.
func Run(s *store.Store, ttl *TTLWindow, activeProbe ActiveProbeLookup) {
	RunWithDHCP(s, ttl, activeProbe, nil)
}

// RunWithDHCP is Run plus an optional DHCP Snoop vendor-class signal.
func RunWithDHCP(s *store.Store, ttl *TTLWindow, activeProbe ActiveProbeLookup, dhcp DHCPLookup) {
	entities := s.Entities()
	mdnsLabels := mdnsLabelsAtIP(entities)

	for _, e := range entities {
		if e.Type != model.SignalLAN && e.Type != model.SignalBluetooth {
			continue
		}
		if e.OSFingerprintConfidence != nil && *e.OSFingerprintConfidence >= revisitConfidence {
			continue
		}

		scores := make(map[string]float64, len(profiles))
		for _, p := range profiles {
			var score float64
			if median, ok := ttl.Median(e.IP); ok && p.TTLMin > 0 && median >= p.TTLMin && median <= p.TTLMax {
				score += weightTTL
			}
			vendor := ""
			if e.LAN != nil {
				vendor = e.LAN.Vendor
			}
			if vendor != "" {
				for _, v := range p.VendorSubstrs {
					if strings.Contains(strings.ToLower(vendor), strings.ToLower(v)) {
						score += weightVendor
						break
					}
				}
			}
			for _, re := range p.HostnameRegexes {
				if re.MatchString(e.Name) {
					score += weightHostname
					break
				}
			}
			for _, label := range mdnsLabels[e.IP] {
				for _, want := range p.MDNSServiceLabels {
					if strings.Contains(label, want) {
						score += weightMDNS
						break
					}
				}
			}
			if e.Type == model.SignalBluetooth {
				for _, re := range p.BluetoothRegexes {
					if re.MatchString(e.Name) {
						score += weightBluetooth
						break
					}
				}
			}
			if activeProbe != nil {
				if family, ok := activeProbe(e.IP); ok && strings.EqualFold(family, p.Family) {
					score += weightActiveProbe
				}
			}
			if dhcp != nil && e.MAC != "" {
				if _, vendorClass, ok := dhcp(e.MAC); ok && vendorClass != "" {
					for _, want := range p.DHCPVendorSubstrs {
						if strings.Contains(strings.ToLower(vendorClass), want) {
							score += weightDHCPVendor
							break
						}
					}
				}
			}
			scores[p.Family] = score
		}

		family, best := "", 0.0
		for _, p := range profiles { // iterate in declaration order for stable tie-break
			if scores[p.Family] > best {
				best = scores[p.Family]
				family = p.Family
			}
		}
		confidence := best
		if confidence > 1 {
			confidence = 1
		}
		if confidence < minConfidence {
			continue
		}

		category := deriveCategory(e, family)
		id := e.ID
		s.Patch(id, func(patched *model.Entity) {
			patched.OSFamily = family
			patched.DeviceCategory = category
			patched.OSFingerprintConfidence = &confidence
		})
		metrics.Get().RecordFingerprint(family, confidence)
	}
}

// deriveCategory implements the device-category precedence: Bluetooth
// minor type first, then the classifier's hint (internal-only vocabulary,
// never the published deviceCategory), then OS family.
func deriveCategory(e model.Entity, osFamily string) string {
	if e.Bluetooth != nil && e.Bluetooth.MinorType != "" {
		switch {
		case matchAny(e.Bluetooth.MinorType, "phone", "smartphone"):
			return "mobile"
		case matchAny(e.Bluetooth.MinorType, "laptop", "notebook"):
			return "laptop"
		case matchAny(e.Bluetooth.MinorType, "desktop", "computer"):
			return "desktop"
		case matchAny(e.Bluetooth.MinorType, "audio", "speaker", "headphone"):
			return "iot"
		}
	}

	switch e.ClassifierHint {
	case "computer":
		if osFamily == "ios" || osFamily == "android" {
			return "mobile"
		}
		return "desktop"
	case "server":
		return "server"
	case "smart-home", "speaker", "media-player", "camera":
		return "iot"
	case "nas":
		return "server"
	case "router":
		return "embedded"
	}

	switch osFamily {
	case "ios", "android":
		return "mobile"
	case "macos", "windows":
		return "desktop"
	case "linux", "freebsd":
		return "server"
	default:
		return "unknown"
	}
}

func matchAny(s string, substrs ...string) bool {
	low := strings.ToLower(s)
	for _, sub := range substrs {
		if strings.Contains(low, sub) {
			return true
		}
	}
	return false
}
