package routes

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"fieldservice-server/models"
	"fieldservice-server/services"
)

// RegisterBookingRoutes registers booking routes
func RegisterBookingRoutes(router *gin.RouterGroup, h *Handler) {
	router.POST("/bookings", h.createBooking)
	router.GET("/bookings/:id", h.getBooking)
	router.PATCH("/bookings/:id/status", h.updateBookingStatus)
	router.POST("/bookings/:id/cancel", h.cancelBooking)
	router.POST("/bookings/:id/hold", h.retryHold)
	router.GET("/bookings/:id/service-record", h.getServiceRecord)
}

// createBooking opens a pending booking and its payment hold. A gateway
// failure still answers 201; the hold can be retried later.
func (h *Handler) createBooking(c *gin.Context) {
	var req models.BookingCreate
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	booking, err := h.Bookings.CreateBooking(c.Request.Context(), actorFrom(c), req)
	if booking == nil {
		respondError(c, err)
		return
	}
	if err != nil {
		log.Printf("⚠️ Booking %s created without a payment hold: %v", booking.ID, err)
		c.JSON(http.StatusCreated, gin.H{
			"booking":      booking,
			"hold_pending": true,
			"message":      "Payment authorization failed, retry the hold before assignment",
		})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"booking": booking, "hold_pending": false})
}

func (h *Handler) getBooking(c *gin.Context) {
	booking, err := h.Bookings.GetBooking(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, booking)
}

// updateBookingStatus drives the booking through the job lifecycle, payment
// capture or customer cancellation.
func (h *Handler) updateBookingStatus(c *gin.Context) {
	var req models.BookingStatusUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	status, capture, err := h.Status.UpdateStatus(c.Request.Context(), actorFrom(c), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	resp := gin.H{"status": status}
	if capture != nil {
		resp["amount_captured"] = capture.AmountCaptured
		resp["bookkeeping_pending"] = capture.BookkeepingPending
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) cancelBooking(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}

	booking, err := h.Bookings.CancelBooking(c.Request.Context(), actorFrom(c), c.Param("id"), req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, booking)
}

func (h *Handler) retryHold(c *gin.Context) {
	var req struct {
		PaymentMethodID string `json:"payment_method_id"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}

	booking, err := h.Bookings.RetryHold(c.Request.Context(), actorFrom(c), c.Param("id"), req.PaymentMethodID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, booking)
}

func (h *Handler) getServiceRecord(c *gin.Context) {
	rec, err := h.Bookings.GetServiceRecord(c.Request.Context(), actorFrom(c), c.Param("id"))
	if errors.Is(err, services.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Service record not found"})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}
