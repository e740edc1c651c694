package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/timmy/listingsync/internal/events"
	"github.com/timmy/listingsync/internal/logger"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 54 * time.Second

	// Dashboards never send payloads, only control frames
	maxMessageSize = 512

	subscriberBuffer = 256
)

// EventsHandler streams live events to dashboard clients over WebSocket.
type EventsHandler struct {
	hub      *events.Hub
	upgrader websocket.Upgrader
	// done stops every stream on server shutdown.
	done <-chan struct{}
}

// NewEventsHandler creates a new events handler. checkOrigin decides which
// browser origins may connect; done is closed on shutdown.
func NewEventsHandler(hub *events.Hub, checkOrigin func(origin string) bool, done <-chan struct{}) *EventsHandler {
	return &EventsHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || checkOrigin(origin)
			},
		},
		done: done,
	}
}

// Stream handles GET /api/v1/events.
func (h *EventsHandler) Stream(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		logger.FromContext(c.Request.Context()).WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	ctx := logger.SetComponent(context.WithoutCancel(c.Request.Context()), "events")
	sub := h.hub.Subscribe(subscriberBuffer)
	logger.CtxInfo(ctx, "Dashboard client connected")

	closed := make(chan struct{})
	go h.readPump(conn, closed)
	h.writePump(ctx, conn, sub, closed)

	h.hub.Unsubscribe(sub)
	logger.CtxInfo(ctx, "Dashboard client disconnected")
}

// readPump drains control frames so pongs are processed, and reports
// when the peer goes away.
func (h *EventsHandler) readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *EventsHandler) writePump(ctx context.Context, conn *websocket.Conn, sub *events.Subscription, closed <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case <-h.done:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		case <-closed:
			return
		case evt, ok := <-sub.C():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(evt); err != nil {
				logger.FromContext(ctx).WithError(err).Debug("Event write failed")
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
