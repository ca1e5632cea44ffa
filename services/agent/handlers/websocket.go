// Copyright (C) 2025 Pollen Hive (dev@pollenhive.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/pollenhive/pollen/services/agent/observability"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 4 * 1024,
}

func sendJSON(ws *websocket.Conn, v interface{}) error {
	err := ws.WriteJSON(v)
	if err != nil {
		slog.Warn("Failed to write WebSocket JSON", "error", err)
	}
	return err
}

// HandleEventStream upgrades the connection and forwards agent events
// (validations, proofs, graduations, creations) until the client
// disconnects.
func HandleEventStream(bus *EventBus, metrics *observability.AgentMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("failed to upgrade the websocket", "error", err)
			return
		}
		defer ws.Close()

		if metrics != nil {
			metrics.ActiveWebsockets.Inc()
			defer metrics.ActiveWebsockets.Dec()
		}

		events, cancel := bus.Subscribe()
		defer cancel()

		slog.Info("Event stream client connected")

		if err := sendJSON(ws, map[string]interface{}{
			"type":      "connected",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		}); err != nil {
			return
		}

		// Drain the client side so close frames are processed.
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case event, ok := <-events:
				if !ok {
					return
				}
				if err := sendJSON(ws, event); err != nil {
					return
				}
			case <-closed:
				slog.Info("Event stream client disconnected")
				return
			case <-c.Request.Context().Done():
				return
			}
		}
	}
}
