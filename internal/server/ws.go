package server

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

// CoverageHandler pushes every frame result as JSON over a WebSocket.
type CoverageHandler struct {
	hub *Hub
}

// NewCoverageHandler creates a new CoverageHandler with the given hub.
func NewCoverageHandler(hub *Hub) *CoverageHandler {
	return &CoverageHandler{hub: hub}
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *CoverageHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	messages, unsubscribe := h.hub.Subscribe()
	defer unsubscribe()

	// Reading detects the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case msg := <-messages:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}
