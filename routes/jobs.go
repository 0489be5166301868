package routes

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"fieldservice-server/models"
	"fieldservice-server/utils"
)

// RegisterJobRoutes registers assignment and job stage routes
func RegisterJobRoutes(router *gin.RouterGroup, h *Handler) {
	router.POST("/assign", h.assign)
	router.GET("/jobs/:id", h.getJob)
	router.POST("/jobs/:id/advance", h.advanceJob)
}

func (h *Handler) assign(c *gin.Context) {
	var req models.AssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	jobID, err := h.Assignment.Assign(c.Request.Context(), req.BookingID, req.TechnicianID, actorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job_id": jobID})
}

func (h *Handler) getJob(c *gin.Context) {
	job, err := h.Bookings.GetJob(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	var lastUpdate *time.Time
	if job.LastKnownLocation != nil {
		lastUpdate = &job.LastKnownLocation.UpdatedAt
	}
	c.JSON(http.StatusOK, gin.H{
		"job":           job,
		"location_live": job.CurrentStage.IsTracking() && utils.IsLocationRecent(lastUpdate, time.Now(), h.LocationFreshFor),
	})
}

func (h *Handler) advanceJob(c *gin.Context) {
	var req models.AdvanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if err := h.Jobs.Advance(c.Request.Context(), c.Param("id"), req.Stage, actorFrom(c)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job_id": c.Param("id"), "stage": req.Stage})
}
