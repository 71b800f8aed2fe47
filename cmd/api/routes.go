package main

import (
	"talkcart-calls/internal/gateway/ws"
	"talkcart-calls/internal/httpapi"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, hub *ws.Hub, authMW gin.HandlerFunc) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// AUTH routes (token issuance).
	// NOTE: This is a placeholder login route; real credential validation is not implemented.
	r.POST("/v1/auth/login", h.Login)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		// Event delivery channel (notifications + relayed signaling).
		v1.GET("/ws", ws.Handler(hub))

		calls := v1.Group("/calls")
		{
			calls.POST("", h.InitiateCall)
			calls.GET("/waiting", h.ListWaiting)
			calls.GET("/history", h.CallHistory)
			calls.GET("/summary", h.CallSummary)
			calls.POST("/missed/seen", h.MarkMissedSeen)

			calls.GET("/:call_id", h.GetCall)
			calls.POST("/:call_id/join", h.JoinCall)
			calls.POST("/:call_id/decline", h.DeclineCall)
			calls.POST("/:call_id/leave", h.LeaveCall)
			calls.POST("/:call_id/end", h.EndCall)

			calls.POST("/:call_id/hold", h.SetHold)
			calls.POST("/:call_id/mute", h.SetMute)

			calls.POST("/:call_id/transfer", h.RequestTransfer)
			calls.POST("/:call_id/transfer/accept", h.AcceptTransfer)
			calls.POST("/:call_id/transfer/decline", h.DeclineTransfer)

			calls.POST("/:call_id/recording/start", h.StartRecording)
			calls.POST("/:call_id/recording/stop", h.StopRecording)

			calls.POST("/:call_id/signal", h.RelaySignal)
			calls.POST("/:call_id/quality", h.ReportQuality)
		}
	}
}
