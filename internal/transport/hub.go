package transport

import (
	"encoding/json"
	"sync"

	"go.meridian.dev/meridian/internal/logging"
)

var log = logging.WithComponent("transport")

const subscriberBufSize = 256

// RequestHandler answers one control-surface Request. The Orchestrator
// registers the handler that dispatches by Request.Channel to pause/resume,
// scanNow, the packet pipeline's control methods, and the active OS probe.
type RequestHandler func(req Request) Response

// Subscriber is a registered consumer of broadcast Messages. The zero value
// is not usable; obtain one via Hub.Register.
type Subscriber struct {
	send chan []byte
}

// Hub is the in-process pub/sub core of the Transport Contract:
// non-blocking fan-out of broadcast Messages to every registered
// Subscriber, plus a single request/response control surface. Grounded on
// the teacher's event Hub (non-blocking per-subscriber channel send,
// drop-on-full) and its WSManager (per-client registration, buffered send
// channel written by Publish and drained by a transport-specific writer).
type Hub struct {
	mu          sync.RWMutex
	subscribers map[*Subscriber]struct{}
	handler     RequestHandler

	published uint64
	dropped   uint64
}

// NewHub constructs an empty hub with no request handler registered; calls
// to HandleRequest before SetRequestHandler return a "not ready" error.
func NewHub() *Hub {
	return &Hub{subscribers: make(map[*Subscriber]struct{})}
}

// SetRequestHandler installs the control-surface dispatcher.
func (h *Hub) SetRequestHandler(fn RequestHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handler = fn
}

// Register adds a new subscriber and returns it. The caller is responsible
// for draining Subscriber.Send() and calling Unregister on disconnect.
func (h *Hub) Register() *Subscriber {
	s := &Subscriber{send: make(chan []byte, subscriberBufSize)}
	h.mu.Lock()
	h.subscribers[s] = struct{}{}
	h.mu.Unlock()
	return s
}

// Unregister removes a subscriber and closes its send channel.
func (h *Hub) Unregister(s *Subscriber) {
	h.mu.Lock()
	if _, ok := h.subscribers[s]; ok {
		delete(h.subscribers, s)
		close(s.send)
	}
	h.mu.Unlock()
}

// Send returns the subscriber's outbound frame channel.
func (s *Subscriber) Send() <-chan []byte {
	return s.send
}

// Publish marshals a Message onto every registered subscriber's send
// channel. A subscriber whose channel is full is skipped and counted as a
// drop; Publish itself never blocks.
func (h *Hub) Publish(channel string, payload interface{}) {
	frame, err := json.Marshal(Message{Channel: channel, Payload: payload})
	if err != nil {
		log.Warn("failed to marshal outbound message", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	h.published++
	for sub := range h.subscribers {
		select {
		case sub.send <- frame:
		default:
			h.dropped++
		}
	}
}

// HandleRequest dispatches one control-surface Request to the registered
// handler. If no handler is registered, or the handler panics, it returns
// an error Response rather than propagating the failure to the caller —
// a single malformed or unsupported request must never take the hub down.
func (h *Hub) HandleRequest(req Request) (resp Response) {
	h.mu.RLock()
	handler := h.handler
	h.mu.RUnlock()

	if handler == nil {
		return Response{ID: req.ID, Channel: req.Channel, Error: "transport not ready"}
	}

	defer func() {
		if r := recover(); r != nil {
			log.Warn("request handler panicked", "channel", req.Channel, "recovered", r)
			resp = Response{ID: req.ID, Channel: req.Channel, Error: "internal error"}
		}
	}()

	return handler(req)
}

// Stats returns publish/drop counters for metrics.
func (h *Hub) Stats() (published, dropped uint64) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.published, h.dropped
}

// SubscriberCount returns the current number of registered subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}
