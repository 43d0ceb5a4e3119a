package orchestrator

import (
	"context"
	"encoding/json"
	"time"

	"go.meridian.dev/meridian/internal/collectors/packet"
	"go.meridian.dev/meridian/internal/collectors/wifi"
	"go.meridian.dev/meridian/internal/metrics"
	"go.meridian.dev/meridian/internal/transport"
)

// handleRequest is the Hub's registered RequestHandler: it dispatches every
// consumer->core control channel named in spec.md's Transport Contract
// table. Unknown channels and malformed payloads answer with an error
// Response rather than panicking the hub.
func (o *Orchestrator) handleRequest(req transport.Request) transport.Response {
	switch req.Channel {
	case transport.ChannelPause:
		o.setPaused(true)
		return ok(req)

	case transport.ChannelResume:
		o.setPaused(false)
		return ok(req)

	case transport.ChannelScanNow:
		var payload struct {
			Collector string `json:"collector"`
		}
		_ = json.Unmarshal(req.Payload, &payload)
		ctx, cancel := context.WithTimeout(o.rootCtx, 20*time.Second)
		defer cancel()
		o.scanNow(ctx, payload.Collector)
		return ok(req)

	case transport.ChannelGetFullState:
		o.publishFullState()
		return ok(req)

	case transport.ChannelPacketStart:
		var payload struct {
			Interface string `json:"interface"`
		}
		_ = json.Unmarshal(req.Payload, &payload)
		if err := o.pipeline.Start(o.rootCtx, payload.Interface, o.hostInterfaces, wifi.PrimaryInterface); err != nil {
			return errResp(req, err.Error())
		}
		o.writerMu.Lock()
		o.pipeline.RefreshCorrelation(o.store.Entities(), o.hostIPSet)
		o.writerMu.Unlock()
		metrics.Get().SetPacketPipelineState(packetStateOrdinal(o.pipeline.State()))
		return ok(req)

	case transport.ChannelPacketStop:
		o.pipeline.Stop()
		metrics.Get().SetPacketPipelineState(packetStateOrdinal(o.pipeline.State()))
		return ok(req)

	case transport.ChannelPacketStatus:
		toolStatus := packet.CheckStatus()
		lastError, remediation := o.pipeline.LastError()

		var iface interface{}
		if name := o.pipeline.Interface(); name != "" {
			iface = name
		}
		interfaces := make([]string, 0, len(o.hostInterfaces))
		for _, hi := range o.hostInterfaces {
			interfaces = append(interfaces, hi.Name)
		}

		payload := map[string]interface{}{
			"available":     toolStatus.Available,
			"hasPermission": o.pipeline.HasPermission(),
			"capturing":     o.pipeline.State() == packet.StateCapturing,
			"interface":     iface,
			"interfaces":    interfaces,
		}
		if remediation != "" {
			payload["error"] = remediation
		} else if lastError != "" {
			payload["error"] = lastError
		}
		return transport.Response{ID: req.ID, Channel: req.Channel, Payload: payload}

	case transport.ChannelPacketEvents:
		return transport.Response{
			ID:      req.ID,
			Channel: req.Channel,
			Payload: o.pipeline.Events(),
		}

	case transport.ChannelOSScan:
		var payload struct {
			IP string `json:"ip"`
		}
		if err := json.Unmarshal(req.Payload, &payload); err != nil || payload.IP == "" {
			return errResp(req, "missing ip")
		}
		ctx, cancel := context.WithTimeout(o.rootCtx, 20*time.Second)
		defer cancel()
		res := o.runActiveProbe(ctx, payload.IP)
		return transport.Response{ID: req.ID, Channel: req.Channel, Payload: res}

	case transport.ChannelOSStatus:
		o.probeMu.Lock()
		snapshot := make(map[string]string, len(o.probeCache))
		for ip, entry := range o.probeCache {
			snapshot[ip] = entry.family
		}
		o.probeMu.Unlock()
		return transport.Response{ID: req.ID, Channel: req.Channel, Payload: snapshot}

	default:
		return errResp(req, "unknown channel: "+req.Channel)
	}
}

func ok(req transport.Request) transport.Response {
	return transport.Response{ID: req.ID, Channel: req.Channel, Payload: map[string]bool{"ok": true}}
}

func errResp(req transport.Request, msg string) transport.Response {
	return transport.Response{ID: req.ID, Channel: req.Channel, Error: msg}
}
