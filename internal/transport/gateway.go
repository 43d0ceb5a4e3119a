package transport

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if strings.Contains(origin, "://localhost:") || strings.Contains(origin, "://127.0.0.1:") {
			return true
		}
		host := r.Host
		if strings.HasPrefix(origin, "http://") {
			return origin[len("http://"):] == host
		}
		if strings.HasPrefix(origin, "https://") {
			return origin[len("https://"):] == host
		}
		return false
	},
}

// Gateway fronts a Hub with a websocket endpoint: each connection becomes a
// Subscriber for broadcast Messages, and incoming client frames are decoded
// as Requests and answered through the Hub's control surface. Grounded on
// the teacher's WSManager/wsClient pair (register/unregister via the Hub,
// a buffered per-connection writer goroutine, a reader goroutine that
// only ever produces control traffic — no raw pass-through).
type Gateway struct {
	hub *Hub
}

// NewGateway wraps a Hub with a websocket upgrade handler.
func NewGateway(hub *Hub) *Gateway {
	return &Gateway{hub: hub}
}

// ServeHTTP upgrades the connection and starts its read/write pumps.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", "error", err)
		return
	}

	sub := g.hub.Register()
	go g.writePump(conn, sub)
	g.readPump(conn, sub)
}

func (g *Gateway) writePump(conn *websocket.Conn, sub *Subscriber) {
	defer conn.Close()
	for frame := range sub.Send() {
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			return
		}
	}
}

// readPump decodes each inbound frame as a Request, dispatches it through
// the Hub, and writes the Response back onto this connection's own send
// channel so it interleaves correctly with broadcast traffic.
func (g *Gateway) readPump(conn *websocket.Conn, sub *Subscriber) {
	defer g.hub.Unregister(sub)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var req Request
		if err := json.Unmarshal(raw, &req); err != nil {
			continue
		}
		if req.ID == "" {
			req.ID = uuid.NewString()
		}

		resp := g.hub.HandleRequest(req)
		frame, err := json.Marshal(resp)
		if err != nil {
			continue
		}

		select {
		case sub.send <- frame:
		default:
		}
	}
}
