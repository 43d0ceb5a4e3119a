// Package transport implements the outward Transport Contract: an
// in-process pub/sub hub for the core→consumer broadcast channels
// (publish.full_state, publish.update, publish.topology, packet.event) and
// a request/response control surface for the consumer→core channels
// (control.*, packet.*, os.*), optionally gatewayed over a websocket
// connection.
package transport

import (
	"encoding/json"

	"go.meridian.dev/meridian/internal/model"
)

// Broadcast channel names (core → consumer).
const (
	ChannelFullState = "publish.full_state"
	ChannelUpdate    = "publish.update"
	ChannelTopology  = "publish.topology"
	ChannelPacket    = "packet.event"
)

// Control channel names (consumer → core).
const (
	ChannelPause        = "control.pause"
	ChannelResume       = "control.resume"
	ChannelScanNow      = "control.scan_now"
	ChannelGetFullState = "control.get_full_state"
	ChannelPacketStart  = "packet.start"
	ChannelPacketStop   = "packet.stop"
	ChannelPacketStatus = "packet.status"
	ChannelPacketEvents = "packet.get_events"
	ChannelOSScan       = "os.nmap_scan"
	ChannelOSStatus     = "os.nmap_status"
)

// FullState is the complete current entity/relation snapshot, sent on
// request and once on initial readiness.
type FullState struct {
	Type      string           `json:"type"`
	Entities  []model.Entity   `json:"entities"`
	Relations []model.Relation `json:"relations"`
	Timestamp int64            `json:"timestamp"`
}

// Update is sent after any scan or lifecycle change. It carries the
// complete current entity and relation set, not a delta; Removed is the
// only delta information, for consumers that cache.
type Update struct {
	Type      string           `json:"type"`
	Entities  []model.Entity   `json:"entities"`
	Relations []model.Relation `json:"relations"`
	Removed   []string         `json:"removed"`
	Timestamp int64            `json:"timestamp"`
}

// Message is one broadcast envelope sent to every connected consumer.
type Message struct {
	Channel string      `json:"channel"`
	Payload interface{} `json:"payload"`
}

// Request is one control-surface call from a consumer, correlated by ID so
// the response can be routed back to the same caller.
type Request struct {
	ID      string          `json:"id"`
	Channel string          `json:"channel"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response answers exactly one Request, identified by the same ID.
type Response struct {
	ID      string      `json:"id"`
	Channel string      `json:"channel"`
	Payload interface{} `json:"payload,omitempty"`
	Error   string      `json:"error,omitempty"`
}
