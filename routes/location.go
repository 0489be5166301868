package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"fieldservice-server/models"
)

// RegisterLocationRoutes registers the technician location feed
func RegisterLocationRoutes(router *gin.RouterGroup, h *Handler) {
	router.POST("/location", h.reportLocation)
}

// reportLocation accepts a GPS sample. Only malformed input is rejected;
// whether the sample is persisted is decided asynchronously.
func (h *Handler) reportLocation(c *gin.Context) {
	var req models.LocationReport
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if err := h.Location.ReportLocation(c.Request.Context(), actorFrom(c), req); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"accepted": true})
}
