package websocket

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/cipherchat/chat_backend/chat"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins
	},
}

// HandleConnection upgrades the request and starts the client pumps.
// Joining happens afterwards over the socket via the join event.
func HandleConnection(hub *Hub, coordinator *chat.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("error upgrading connection: %v", err)
			return
		}

		client := &Client{
			id:          uuid.NewString(),
			hub:         hub,
			conn:        conn,
			send:        make(chan []byte, 256),
			coordinator: coordinator,
		}

		client.hub.register <- client

		go client.writePump()
		go client.readPump()
	}
}
