package ws

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Token auth happens before the upgrade; origin policy is the edge
	// proxy's concern.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler upgrades an authenticated request to a socket and registers it with
// the hub. Mount behind the access-token middleware.
func Handler(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("user_id")
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing identity"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			hub.log.Warn("ws upgrade failed", "user_id", userID, "error", err)
			return
		}

		client := newClient(hub, userID, conn)
		hub.register(client)
		go client.writePump()
		go client.readPump()
	}
}
