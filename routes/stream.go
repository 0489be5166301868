package routes

import (
	"github.com/gin-gonic/gin"

	"fieldservice-server/models"
	ws "fieldservice-server/websocket"
)

// RegisterStreamRoutes registers the WebSocket endpoints
func RegisterStreamRoutes(router *gin.RouterGroup, h *Handler) {
	router.GET("/bookings/:id", h.streamBooking)
	router.GET("/jobs/:id", h.streamJob)
	router.GET("/notifications", h.streamNotifications)
}

func (h *Handler) streamBooking(c *gin.Context) {
	actor := actorFrom(c)
	booking, err := h.Bookings.GetBooking(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	ws.ServeEntityStream(h.Hub, c.Writer, c.Request, models.KindBooking, booking.ID, actor.ID)
}

func (h *Handler) streamJob(c *gin.Context) {
	actor := actorFrom(c)
	job, err := h.Bookings.GetJob(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	ws.ServeEntityStream(h.Hub, c.Writer, c.Request, models.KindJob, job.ID, actor.ID)
}

func (h *Handler) streamNotifications(c *gin.Context) {
	actor := actorFrom(c)
	ws.ServeNotifications(h.Hub, c.Writer, c.Request, actor.ID, string(actor.Role))
}
