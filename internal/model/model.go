// Package model defines the entity, relation, and subnet types shared by
// every collector, the store, and the enrichers.
package model

import (
	"fmt"
	"strings"
)

// SignalType tags which of the six entity variants an Entity carries.
type SignalType string

const (
	SignalHost      SignalType = "host"
	SignalWiFi      SignalType = "wifi"
	SignalLAN       SignalType = "lan"
	SignalBluetooth SignalType = "bluetooth"
	SignalMDNS      SignalType = "mdns"
	SignalSocket    SignalType = "socket"
)

// Status is the lifecycle state of an entity.
type Status string

const (
	StatusActive  Status = "active"
	StatusStale   Status = "stale"
	StatusExpired Status = "expired"
)

// HostEntityID is the sentinel id for the single Host entity.
const HostEntityID = "this-device"

// HostInterface describes one of the host's own network interfaces.
type HostInterface struct {
	Name string `json:"name"`
	IPv4 string `json:"ipv4"`
	MAC  string `json:"mac"`
}

// Entity is the common envelope shared by all six signal-type variants.
// Variant-specific data lives in the optional pointer fields below; exactly
// one of them is populated according to Type.
type Entity struct {
	ID          string     `json:"id"`
	Type        SignalType `json:"type"`
	Name        string     `json:"name"`
	Status      Status     `json:"status"`
	FirstSeen   int64      `json:"firstSeen"`
	LastSeen    int64      `json:"lastSeen"`
	MAC         string     `json:"mac,omitempty"`
	IP          string     `json:"ip,omitempty"`
	Signal      *int       `json:"signal,omitempty"` // normalized 0..100

	Protocols   map[string]int64 `json:"protocols,omitempty"`
	TotalBytes  int64            `json:"totalBytes,omitempty"`
	TotalPackets int64           `json:"totalPackets,omitempty"`

	OSFamily              string   `json:"osFamily,omitempty"`
	OSVersion             string   `json:"osVersion,omitempty"`
	DeviceCategory        string   `json:"deviceCategory,omitempty"`
	OSFingerprintConfidence *float64 `json:"osFingerprintConfidence,omitempty"`

	// ClassifierHint carries the Device Classifier's raw vocabulary
	// ("printer", "gaming", "router", ...) for the OS Fingerprinter's
	// deriveCategory precedence. It is never published: DeviceCategory is
	// the OS Fingerprinter's canonical {mobile, desktop, laptop, server,
	// iot, embedded, unknown} output, set only once fingerprinting clears
	// its confidence floor.
	ClassifierHint string `json:"-"`

	Host      *HostAttrs      `json:"host,omitempty"`
	WiFi      *WiFiAttrs      `json:"wifi,omitempty"`
	LAN       *LANAttrs       `json:"lan,omitempty"`
	Bluetooth *BluetoothAttrs `json:"bluetooth,omitempty"`
	MDNS      *MDNSAttrs      `json:"mdns,omitempty"`
	Socket    *SocketAttrs    `json:"socket,omitempty"`

	// Boundary-only enrichment fields. Never set on the store's copy; only
	// on outbound publish copies built by the orchestrator.
	BytesPerSec    *float64 `json:"bytesPerSec,omitempty"`
	BytesInPerSec  *float64 `json:"bytesInPerSec,omitempty"`
	BytesOutPerSec *float64 `json:"bytesOutPerSec,omitempty"`
}

// HostAttrs holds the Host variant's extra attributes.
type HostAttrs struct {
	Hostname   string          `json:"hostname"`
	Interfaces []HostInterface `json:"interfaces"`
}

// WiFiAttrs holds the Wi-Fi AP variant's extra attributes.
type WiFiAttrs struct {
	SSID        string `json:"ssid"`
	BSSID       string `json:"bssid,omitempty"`
	Channel     int    `json:"channel,omitempty"`
	Band        string `json:"band,omitempty"` // "2.4", "5", "6"
	Security    string `json:"security,omitempty"`
	IsConnected bool   `json:"isConnected"`
}

// LANAttrs holds the LAN neighbor variant's extra attributes.
type LANAttrs struct {
	Interface   string `json:"interface,omitempty"`
	IsGateway   bool   `json:"isGateway"`
	Vendor      string `json:"vendor,omitempty"`
	DeviceType  string `json:"deviceType,omitempty"`
	ProductName string `json:"productName,omitempty"`
	IconKey     string `json:"iconKey,omitempty"`
}

// BluetoothAttrs holds the Bluetooth peer variant's extra attributes.
type BluetoothAttrs struct {
	MinorType   string `json:"minorType,omitempty"`
	IsConnected bool   `json:"isConnected"`
	BatteryLevel *int  `json:"batteryLevel,omitempty"`
	RSSI        *int   `json:"rssi,omitempty"`
}

// MDNSAttrs holds the mDNS service variant's extra attributes.
type MDNSAttrs struct {
	ServiceType string `json:"serviceType"`
	Port        int    `json:"port,omitempty"`
	Host        string `json:"host,omitempty"`
}

// SocketAttrs holds the Socket endpoint variant's extra attributes.
type SocketAttrs struct {
	Protocol         string `json:"protocol"` // "TCP" or "UDP"
	LocalPort        int    `json:"localPort,omitempty"`
	RemotePort       int    `json:"remotePort"`
	RemoteHost       string `json:"remoteHost"`
	State            string `json:"state,omitempty"`
	ProcessName      string `json:"processName"`
	ResolvedHostname string `json:"resolvedHostname,omitempty"`
	ServiceName      string `json:"serviceName,omitempty"`
}

// RelationKind enumerates the closed set of relation kinds.
type RelationKind string

const (
	RelationConnectedTo  RelationKind = "connected_to"
	RelationHostsService RelationKind = "hosts_service"
	RelationGateway      RelationKind = "gateway"
	RelationSameDevice   RelationKind = "same_device"
)

// Relation is a directed edge between two entities.
type Relation struct {
	ID     string       `json:"id"`
	Source string       `json:"source"`
	Target string       `json:"target"`
	Kind   RelationKind `json:"kind"`

	BytesPerSec    *float64 `json:"bytesPerSec,omitempty"`
	BytesInPerSec  *float64 `json:"bytesInPerSec,omitempty"`
	BytesOutPerSec *float64 `json:"bytesOutPerSec,omitempty"`
}

// RelationID derives the deterministic relation id from (source, target, kind)
// so repeated observation of the same edge deduplicates.
func RelationID(source, target string, kind RelationKind) string {
	return fmt.Sprintf("%s->%s:%s", source, target, kind)
}

// NewRelation builds a Relation with its id already derived.
func NewRelation(source, target string, kind RelationKind) Relation {
	return Relation{
		ID:     RelationID(source, target, kind),
		Source: source,
		Target: target,
		Kind:   kind,
	}
}

// Subnet is a side-channel descriptor produced by the Topology collector.
type Subnet struct {
	CIDR      string `json:"cidr"`
	Network   string `json:"network"`
	Prefix    int    `json:"prefix"`
	Gateway   string `json:"gateway,omitempty"`
	Interface string `json:"interface"`
	HostIPv4  string `json:"hostIPv4"`
}

// Id pattern helpers, kept alongside the model so every collector derives
// ids the same way.

// NormalizeMAC lowercases and colon-separates a MAC address.
func NormalizeMAC(mac string) string {
	mac = strings.ToLower(mac)
	mac = strings.ReplaceAll(mac, "-", ":")
	return mac
}

func LANEntityID(mac string) string {
	return "lan-" + NormalizeMAC(mac)
}

func WiFiEntityID(ssid string) string {
	return "wifi-" + ssid
}

func BluetoothEntityID(mac, name string) string {
	if mac != "" {
		return "bt-" + NormalizeMAC(mac)
	}
	return "bt-" + strings.ReplaceAll(name, " ", "-")
}

func MDNSEntityID(serviceType, name, host string) string {
	key := name
	if key == "" {
		key = host
	}
	return "bonjour-" + serviceType + "-" + strings.ReplaceAll(key, " ", "-")
}

func SocketEntityID(proto, remoteHost string, remotePort int, process string) string {
	return fmt.Sprintf("conn-%s-%s-%d-%s", proto, remoteHost, remotePort, process)
}

// Result is what every collector's Scan returns: a fresh set of observations
// as of now. Either slice may be empty.
type Result struct {
	Entities  []Entity
	Relations []Relation
}
