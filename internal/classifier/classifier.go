// Package classifier cross-references link-layer vendor data with mDNS
// service types and hostname patterns to assign a device category and
// product label to LAN neighbors.
package classifier

import (
	"regexp"
	"strings"

	"go.meridian.dev/meridian/internal/model"
	"go.meridian.dev/meridian/internal/store"
)

// Profile is one static entry in the classifier's device-profile database.
type Profile struct {
	Category       string
	DefaultProduct string
	IconKey        string
	VendorSubstrs  []string
	ServiceTypes   []string
	HostnameRegexes []*regexp.Regexp
}

func rx(pattern string) *regexp.Regexp {
	return regexp.MustCompile("(?i)" + pattern)
}

// profiles is the ~26-entry static database the algorithm scores against.
// Order matters only for tie-breaking (first-in-file wins).
var profiles = []Profile{
	{Category: "smart-home", DefaultProduct: "Philips Hue Bridge", IconKey: "lightbulb",
		VendorSubstrs: []string{"philips", "signify"}, ServiceTypes: []string{"_hue._tcp"}},
	{Category: "media-player", DefaultProduct: "Chromecast", IconKey: "cast",
		VendorSubstrs: []string{"google"}, ServiceTypes: []string{"_googlecast._tcp"}},
	{Category: "media-player", DefaultProduct: "Apple TV", IconKey: "tv",
		VendorSubstrs: []string{"apple"}, ServiceTypes: []string{"_airplay._tcp"}},
	{Category: "speaker", DefaultProduct: "AirPlay Speaker", IconKey: "speaker",
		ServiceTypes: []string{"_raop._tcp"}},
	{Category: "speaker", DefaultProduct: "Sonos Speaker", IconKey: "speaker",
		VendorSubstrs: []string{"sonos"}},
	{Category: "speaker", DefaultProduct: "Spotify Connect Device", IconKey: "speaker",
		ServiceTypes: []string{"_spotify-connect._tcp"}},
	{Category: "printer", DefaultProduct: "Network Printer", IconKey: "printer",
		VendorSubstrs: []string{"hewlett packard", "hp inc", "canon", "epson", "brother"},
		ServiceTypes:  []string{"_ipp._tcp", "_printer._tcp", "_pdl-datastream._tcp"}},
	{Category: "nas", DefaultProduct: "Network Attached Storage", IconKey: "storage",
		VendorSubstrs: []string{"synology", "qnap", "western digital"},
		ServiceTypes:  []string{"_smb._tcp", "_afpovertcp._tcp"}},
	{Category: "router", DefaultProduct: "Router / Gateway", IconKey: "router",
		VendorSubstrs: []string{"netgear", "tp-link", "asus", "ubiquiti", "mikrotik"}},
	{Category: "camera", DefaultProduct: "IP Camera", IconKey: "camera",
		VendorSubstrs: []string{"hikvision", "dahua", "axis", "ring", "nest"}},
	{Category: "computer", DefaultProduct: "Mac", IconKey: "desktop",
		VendorSubstrs: []string{"apple"}, ServiceTypes: []string{"_device-info._tcp"}},
	{Category: "computer", DefaultProduct: "Windows PC", IconKey: "desktop",
		HostnameRegexes: []*regexp.Regexp{rx(`^desktop-`)}},
	{Category: "mobile", DefaultProduct: "iPhone", IconKey: "phone",
		HostnameRegexes: []*regexp.Regexp{rx(`iphone`)}},
	{Category: "mobile", DefaultProduct: "Android Device", IconKey: "phone",
		HostnameRegexes: []*regexp.Regexp{rx(`android`)}},
	{Category: "smart-home", DefaultProduct: "Amazon Echo", IconKey: "speaker",
		VendorSubstrs: []string{"amazon"}, ServiceTypes: []string{"_amzn-wplay._tcp"}},
	{Category: "smart-home", DefaultProduct: "HomeKit Accessory", IconKey: "home",
		ServiceTypes: []string{"_hap._tcp", "_homekit._tcp"}},
	{Category: "gaming", DefaultProduct: "PlayStation", IconKey: "console",
		VendorSubstrs: []string{"sony interactive"}},
	{Category: "gaming", DefaultProduct: "Xbox", IconKey: "console",
		VendorSubstrs: []string{"microsoft"}},
	{Category: "iot", DefaultProduct: "Smart Plug", IconKey: "plug",
		VendorSubstrs: []string{"tuya", "tp-link"}},
	{Category: "server", DefaultProduct: "SSH Server", IconKey: "server",
		ServiceTypes: []string{"_ssh._tcp"}},
	{Category: "server", DefaultProduct: "Web Server", IconKey: "server",
		ServiceTypes: []string{"_http._tcp", "_https._tcp"}},
	{Category: "file-server", DefaultProduct: "File Server", IconKey: "folder",
		ServiceTypes: []string{"_smb._tcp"}},
	{Category: "iot", DefaultProduct: "Raspberry Pi", IconKey: "chip",
		VendorSubstrs: []string{"raspberry pi"}},
	{Category: "virtual", DefaultProduct: "Virtual Machine", IconKey: "vm",
		VendorSubstrs: []string{"vmware"}},
	{Category: "tv", DefaultProduct: "Smart TV", IconKey: "tv",
		VendorSubstrs: []string{"samsung", "lg electronics", "vizio", "roku"}},
	{Category: "companion", DefaultProduct: "Apple Companion Device", IconKey: "watch",
		ServiceTypes: []string{"_companion-link._tcp"}},
}

// Indices are rebuilt from the current mDNS set on every classification run.
type mdnsIndex struct {
	serviceTypesAtIP map[string][]string
	firstNameAtIP    map[string]string
}

func buildMDNSIndex(entities []model.Entity) mdnsIndex {
	idx := mdnsIndex{
		serviceTypesAtIP: make(map[string][]string),
		firstNameAtIP:    make(map[string]string),
	}
	for _, e := range entities {
		if e.Type != model.SignalMDNS || e.IP == "" || e.MDNS == nil {
			continue
		}
		idx.serviceTypesAtIP[e.IP] = append(idx.serviceTypesAtIP[e.IP], e.MDNS.ServiceType)
		if _, ok := idx.firstNameAtIP[e.IP]; !ok {
			idx.firstNameAtIP[e.IP] = stripParenSuffix(e.Name)
		}
	}
	return idx
}

func stripParenSuffix(name string) string {
	if i := strings.Index(name, " ("); i >= 0 {
		return name[:i]
	}
	return name
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// Run scores every LAN entity in s that does not yet carry a device
// category against the profile database, and patches the highest-scoring
// match (if its score is strictly positive) onto the entity via the
// lifecycle-safe patch path.
func Run(s *store.Store) {
	entities := s.Entities()
	idx := buildMDNSIndex(entities)

	for _, e := range entities {
		if e.Type != model.SignalLAN || e.LAN == nil {
			continue
		}
		if e.LAN.DeviceType != "" {
			continue
		}
		best, bestScore := -1, 0
		serviceTypes := idx.serviceTypesAtIP[e.IP]
		for i, p := range profiles {
			score := 0
			for _, v := range p.VendorSubstrs {
				if e.LAN.Vendor != "" && containsFold(e.LAN.Vendor, v) {
					score++
					break
				}
			}
			for _, st := range p.ServiceTypes {
				found := false
				for _, observed := range serviceTypes {
					if observed == st {
						found = true
						break
					}
				}
				if found {
					score++
					break
				}
			}
			for _, re := range p.HostnameRegexes {
				if re.MatchString(e.Name) {
					score++
					break
				}
			}
			if score > bestScore {
				bestScore = score
				best = i
			}
		}
		if bestScore <= 0 {
			continue
		}
		profile := profiles[best]
		product := profile.DefaultProduct
		if name, ok := idx.firstNameAtIP[e.IP]; ok && name != "" {
			product = name
		}
		id := e.ID
		s.Patch(id, func(patched *model.Entity) {
			if patched.LAN == nil {
				patched.LAN = &model.LANAttrs{}
			}
			patched.LAN.DeviceType = profile.Category
			patched.LAN.ProductName = product
			patched.LAN.IconKey = profile.IconKey
			patched.ClassifierHint = profile.Category
		})
	}
}
