package routes

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"fieldservice-server/models"
	"fieldservice-server/services"
)

// maxWebhookBody caps the webhook payload read.
const maxWebhookBody = 64 * 1024

// RegisterPaymentRoutes registers payment capture
func RegisterPaymentRoutes(router *gin.RouterGroup, h *Handler) {
	router.POST("/capture-payment", h.capturePayment)
}

func (h *Handler) capturePayment(c *gin.Context) {
	var req models.CaptureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	res, err := h.Payments.Capture(c.Request.Context(), req.BookingID, req.JobID, actorFrom(c), services.CaptureDetails{
		Notes:   req.Notes,
		Mileage: req.Mileage,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"amount_captured":     res.AmountCaptured,
		"bookkeeping_pending": res.BookkeepingPending,
	})
}

// paymentWebhook verifies a gateway event and reconciles the booking. Once
// the signature verifies the gateway always gets a 200, so it does not
// retry events that failed for internal reasons; those are logged.
func (h *Handler) paymentWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read body"})
		return
	}

	ev, err := h.Verify(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		log.Printf("🚫 Rejected payment webhook: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid signature"})
		return
	}

	entry := log.WithFields(log.Fields{
		"event_id":   ev.ID,
		"event_type": ev.Type,
		"booking_id": ev.BookingID,
	})
	if !ev.Reconcilable() {
		entry.Debug("Ignoring payment webhook")
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	applied, err := h.Payments.Reconcile(c.Request.Context(), *ev)
	switch {
	case errors.Is(err, services.ErrNotFound):
		entry.Warnf("⚠️ Payment webhook for unknown booking: %v", err)
	case err != nil:
		entry.Errorf("❌ Payment webhook handling failed: %v", err)
	default:
		entry.WithField("applied", applied).Info("📨 Payment webhook handled")
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}
