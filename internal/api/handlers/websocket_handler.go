package handlers

import (
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/mediscan/backend/internal/realtime"
	"github.com/mediscan/backend/pkg/logger"
)

type WebSocketHandler struct {
	hub *realtime.Hub
}

func NewWebSocketHandler(hub *realtime.Hub) *WebSocketHandler {
	return &WebSocketHandler{hub: hub}
}

// HandleConnection streams analysis lifecycle events to the client. An
// optional patient_id query parameter narrows the stream to one patient.
func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	patientID := c.Query("patient_id")
	sub := h.hub.Subscribe(patientID)

	logger.Info("WebSocket connection established", zap.String("patient_id", patientID))

	defer func() {
		h.hub.Unsubscribe(sub)
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	// Reader goroutine: the client sends nothing we act on, but the read
	// loop detects disconnects.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := c.WriteJSON(ev); err != nil {
				logger.Error("Failed to write WebSocket event", zap.Error(err))
				return
			}
		}
	}
}
