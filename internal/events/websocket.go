package events

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/plexbridge/plexbridge/internal/observability"
)

const (
	// writeWait bounds a single frame write.
	writeWait = 10 * time.Second

	// pongWait is how long we tolerate silence from the client.
	pongWait = 60 * time.Second

	// pingPeriod must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxCommandSize bounds inbound control messages.
	maxCommandSize = 1024
)

// wsCommand is the control message clients send to manage room membership.
type wsCommand struct {
	Action string   `json:"action"`
	Rooms  []string `json:"rooms"`
}

// WSHandler upgrades HTTP requests to WebSocket subscriptions on the hub.
type WSHandler struct {
	hub      *Hub
	log      *slog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates the WebSocket endpoint handler. Connections start
// with no room membership; clients send {"action":"subscribe","rooms":[...]}
// to join rooms.
func NewWSHandler(hub *Hub, logger *slog.Logger) *WSHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSHandler{
		hub: hub,
		log: observability.WithComponent(logger, "events"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The dashboard is served from this same process; operator
			// tooling connects from arbitrary origins on the LAN.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	sub := h.hub.Subscribe()
	h.log.Debug("subscriber connected", slog.String("remote", conn.RemoteAddr().String()))

	go h.readPump(conn, sub)
	h.writePump(conn, sub)
}

// readPump consumes control messages until the connection drops, then tears
// the subscription down.
func (h *WSHandler) readPump(conn *websocket.Conn, sub *Subscription) {
	defer func() {
		sub.Close()
		conn.Close()
	}()

	conn.SetReadLimit(maxCommandSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var cmd wsCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("subscriber read error", slog.String("error", err.Error()))
			}
			return
		}
		switch cmd.Action {
		case "subscribe":
			sub.Join(cmd.Rooms...)
		case "unsubscribe":
			sub.Leave(cmd.Rooms...)
		}
	}
}

// writePump forwards events to the client and keeps the connection alive
// with pings.
func (h *WSHandler) writePump(conn *websocket.Conn, sub *Subscription) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case ev, ok := <-sub.Events():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
