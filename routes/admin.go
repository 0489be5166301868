package routes

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"fieldservice-server/models"
	"fieldservice-server/services"
)

// RegisterAdminRoutes registers technician management and the bookkeeping
// repair queue
func RegisterAdminRoutes(router *gin.RouterGroup, h *Handler) {
	router.POST("/technicians", h.createTechnician)
	router.GET("/repairs", h.listRepairs)
	router.POST("/repairs/:id/retry", h.retryRepair)
}

func (h *Handler) createTechnician(c *gin.Context) {
	var req models.TechnicianCreate
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	tech, err := h.Bookings.CreateTechnician(c.Request.Context(), actorFrom(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tech)
}

// listRepairs lists captures whose bookkeeping is still pending
func (h *Handler) listRepairs(c *gin.Context) {
	if !services.Allowed(services.ActionRepair, actorFrom(c), services.Subject{}) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Admin access required"})
		return
	}

	limit := 100
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = n
	}

	repairs, err := h.Repairs.ListOpenRepairs(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"repairs": repairs,
		"count":   len(repairs),
	})
}

func (h *Handler) retryRepair(c *gin.Context) {
	if err := h.Payments.RetryBookkeeping(c.Request.Context(), c.Param("id"), actorFrom(c)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"repair_id": c.Param("id"), "resolved": true})
}
