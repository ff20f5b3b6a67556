package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/lyzr/seed-improver/cmd/seed-improver/service"
	"github.com/lyzr/seed-improver/common/logger"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 30 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 25 * time.Second

	// Clients only send pongs and close frames
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// internal callers authenticate with the service header, not cookies
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StreamHandler pushes run-finished events over a websocket
type StreamHandler struct {
	hub *service.EventHub
	log *logger.Logger
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(hub *service.EventHub, log *logger.Logger) *StreamHandler {
	return &StreamHandler{hub: hub, log: log}
}

// Events upgrades the connection and streams every terminal run as one JSON text frame
// GET /internal/seed-improver/events
func (h *StreamHandler) Events(c echo.Context) error {
	// subscribe before the handshake completes so no event finished after it is missed
	sub := h.hub.Subscribe()

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.hub.Unsubscribe(sub)
		h.log.Warn("websocket upgrade failed", "error", err)
		return nil
	}

	h.log.Info("run event stream opened", "remote", c.RealIP(), "subscribers", h.hub.Count())
	go h.readPump(conn, sub)
	h.writePump(conn, sub)
	h.log.Info("run event stream closed", "remote", c.RealIP())
	return nil
}

// readPump discards client frames, keeps the read deadline alive on pongs and
// unsubscribes once the peer goes away
func (h *StreamHandler) readPump(conn *websocket.Conn, sub *service.Subscriber) {
	defer h.hub.Unsubscribe(sub)

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("run event stream read error", "error", err)
			}
			return
		}
	}
}

func (h *StreamHandler) writePump(conn *websocket.Conn, sub *service.Subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-sub.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// dropped or hub closed
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
