package controller

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: In production, restrict to specific origins
		return true
	},
}

// ServerMessage represents messages sent to WebSocket clients.
type ServerMessage struct {
	Type    string `json:"type"`    // "sweep.event" or "ping"
	Payload any    `json:"payload"` // Event-specific data
}

// HandleWebSocket upgrades the connection and streams sweep events. The
// optional ?account= query narrows the stream to one account; omitting it
// subscribes to everything.
//
// Server sends:
// - {"type": "sweep.event", "payload": {"account": ..., "chain": ..., "text": ..., "at": ...}}
// - {"type": "ping", "payload": {"timestamp": 1234567890}}
func (c *Controller) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.App.Logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}
	defer func() {
		if err := conn.Close(); err != nil {
			c.App.Logger.Error("Failed to close WebSocket connection", zap.Error(err))
		}
	}()

	accountID := r.URL.Query().Get("account")
	c.App.Logger.Info("WebSocket client connected",
		zap.String("remote_addr", r.RemoteAddr),
		zap.String("account", accountID))

	sub := c.App.Hub.Subscribe(accountID)
	defer c.App.Hub.Unsubscribe(sub)

	// Reader goroutine: we ignore client messages but need the read loop to
	// notice disconnects.
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if rec := recover(); rec != nil {
				c.App.Logger.Error("Panic in WebSocket read loop",
					zap.Any("panic", rec),
					zap.String("stack", string(debug.Stack())))
			}
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			msg := ServerMessage{Type: "sweep.event", Payload: map[string]any{
				"account": ev.AccountID,
				"chain":   ev.Chain,
				"text":    ev.Text,
				"at":      ev.At,
			}}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ping.C:
			msg := ServerMessage{Type: "ping", Payload: map[string]any{"timestamp": time.Now().Unix()}}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}
