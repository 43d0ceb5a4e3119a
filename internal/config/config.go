// Package config provides HCL-based configuration for the discovery engine,
// following the same hclsimple decode pattern the rest of the stack uses.
package config

import (
	"fmt"
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"
)

// Config is the top-level configuration the engine decodes from an HCL file.
type Config struct {
	Collectors *CollectorsConfig `hcl:"collectors,block"`
	Lifecycle  *LifecycleConfig  `hcl:"lifecycle,block"`
	Packet     *PacketConfig     `hcl:"packet,block"`
	Enrichment *EnrichmentConfig `hcl:"enrichment,block"`
	Transport  *TransportConfig  `hcl:"transport,block"`
}

// CollectorsConfig carries per-collector enable flags and interval overrides.
// Intervals are seconds to keep the HCL surface free of duration parsing.
type CollectorsConfig struct {
	LinkLayerEnabled  bool `hcl:"link_layer_enabled,optional"`
	LinkLayerInterval int  `hcl:"link_layer_interval_s,optional"`

	WiFiEnabled  bool `hcl:"wifi_enabled,optional"`
	WiFiInterval int  `hcl:"wifi_interval_s,optional"`

	BluetoothEnabled  bool `hcl:"bluetooth_enabled,optional"`
	BluetoothInterval int  `hcl:"bluetooth_interval_s,optional"`

	MDNSEnabled bool `hcl:"mdns_enabled,optional"`

	NDP6Enabled bool `hcl:"ndp6_enabled,optional"`

	SocketEnabled  bool `hcl:"socket_enabled,optional"`
	SocketInterval int  `hcl:"socket_interval_s,optional"`

	TopologyEnabled  bool `hcl:"topology_enabled,optional"`
	TopologyInterval int  `hcl:"topology_interval_s,optional"`

	ThroughputEnabled  bool `hcl:"throughput_enabled,optional"`
	ThroughputInterval int  `hcl:"throughput_interval_s,optional"`

	DHCPSnoopEnabled bool   `hcl:"dhcp_snoop_enabled,optional"`
	DHCPSnoopIface   string `hcl:"dhcp_snoop_interface,optional"`

	TickInterval int `hcl:"tick_interval_s,optional"`
}

// LifecycleConfig carries the stale/expired/remove age thresholds, in seconds.
type LifecycleConfig struct {
	StaleSeconds   int `hcl:"stale_seconds,optional"`
	ExpiredSeconds int `hcl:"expired_seconds,optional"`
	RemoveSeconds  int `hcl:"remove_seconds,optional"`
}

// PacketConfig carries the packet pipeline's defaults.
type PacketConfig struct {
	Interface        string `hcl:"interface,optional"`
	RingSize         int    `hcl:"ring_size,optional"`
	DrainIntervalMs  int    `hcl:"drain_interval_ms,optional"`
	FlushIntervalSec int    `hcl:"flush_interval_seconds,optional"`
}

// EnrichmentConfig carries the classifier/fingerprinter confidence floors.
type EnrichmentConfig struct {
	FingerprintMinConfidence float64 `hcl:"fingerprint_min_confidence,optional"`
	FingerprintRevisitFloor  float64 `hcl:"fingerprint_revisit_floor,optional"`
}

// TransportConfig carries the outbound transport's listen address.
type TransportConfig struct {
	ListenAddress string `hcl:"listen_address,optional"`
}

// Default returns the values the spec names inline, so the engine runs with
// zero configuration.
func Default() *Config {
	return &Config{
		Collectors: &CollectorsConfig{
			LinkLayerEnabled:  true,
			LinkLayerInterval: 5,
			WiFiEnabled:       true,
			WiFiInterval:      10,
			BluetoothEnabled:  true,
			BluetoothInterval: 8,
			MDNSEnabled:       true,
			NDP6Enabled:       true,
			SocketEnabled:     true,
			SocketInterval:    3,
			TopologyEnabled:   true,
			TopologyInterval:  30,
			ThroughputEnabled: true,
			ThroughputInterval: 3,
			DHCPSnoopEnabled:  false,
			TickInterval:      5,
		},
		Lifecycle: &LifecycleConfig{
			StaleSeconds:   30,
			ExpiredSeconds: 60,
			RemoveSeconds:  90,
		},
		Packet: &PacketConfig{
			RingSize:         10000,
			DrainIntervalMs:  100,
			FlushIntervalSec: 2,
		},
		Enrichment: &EnrichmentConfig{
			FingerprintMinConfidence: 0.45,
			FingerprintRevisitFloor:  0.85,
		},
		Transport: &TransportConfig{
			ListenAddress: ":7777",
		},
	}
}

// Load decodes an HCL file at path. Any block the file omits keeps its
// Default() value; hclsimple treats pointer-typed blocks as optional.
func Load(path string) (*Config, error) {
	cfg := Default()
	if err := hclsimple.DecodeFile(path, nil, cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	if cfg.Collectors == nil {
		cfg.Collectors = Default().Collectors
	}
	if cfg.Lifecycle == nil {
		cfg.Lifecycle = Default().Lifecycle
	}
	if cfg.Packet == nil {
		cfg.Packet = Default().Packet
	}
	if cfg.Enrichment == nil {
		cfg.Enrichment = Default().Enrichment
	}
	if cfg.Transport == nil {
		cfg.Transport = Default().Transport
	}
	return cfg, nil
}

// StaleDuration returns the lifecycle thresholds as time.Duration.
func (c *Config) StaleDuration() time.Duration {
	return time.Duration(c.Lifecycle.StaleSeconds) * time.Second
}

// ExpiredDuration returns the lifecycle thresholds as time.Duration.
func (c *Config) ExpiredDuration() time.Duration {
	return time.Duration(c.Lifecycle.ExpiredSeconds) * time.Second
}

// RemoveDuration returns the lifecycle thresholds as time.Duration.
func (c *Config) RemoveDuration() time.Duration {
	return time.Duration(c.Lifecycle.RemoveSeconds) * time.Second
}
