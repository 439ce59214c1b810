// Package ws owns the websocket boundary: the upgrade endpoint, one session
// per connection, and the buffered write pump behind the hub's Transport
// interface. Frames are binary, one wire message each.
package ws

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"farfield/server"
)

// Handler upgrades HTTP requests and runs websocket sessions against the hub.
type Handler struct {
	hub      *server.Hub
	logger   *zap.SugaredLogger
	upgrader websocket.Upgrader
}

// NewHandler builds the upgrade handler. Origin checking is wide open; the
// server performs no authentication.
func NewHandler(hub *server.Hub, logger *zap.SugaredLogger) *Handler {
	return &Handler{
		hub:    hub,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP runs one session: upgrade, register with the hub (which assigns
// the entity id, never the client), then pump inbound frames
// until the connection dies.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnw("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	transport := newTransport(conn)
	go transport.writePump()

	id := h.hub.Connect(transport)
	defer h.hub.Disconnect(id)

	conn.SetReadLimit(maxFrameSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		if msgType != websocket.BinaryMessage {
			// The wire contract is binary-only; anything else is noise.
			continue
		}
		h.hub.HandleFrame(id, payload)
	}
}
