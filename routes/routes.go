package routes

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"fieldservice-server/middleware"
	"fieldservice-server/notifications"
	"fieldservice-server/payments"
	"fieldservice-server/services"
	"fieldservice-server/store"
	ws "fieldservice-server/websocket"
)

// WebhookVerifier checks a gateway webhook signature and decodes the event.
type WebhookVerifier func(payload []byte, signatureHeader string) (*payments.WebhookEvent, error)

// Handler carries the services behind the HTTP API.
type Handler struct {
	Bookings   *services.BookingService
	Status     *services.StatusService
	Assignment *services.AssignmentCoordinator
	Jobs       *services.JobMachine
	Location   *services.LocationBroadcaster
	Payments   *services.PaymentOrchestrator
	Repairs    store.RepairLog
	Hub        *ws.Hub
	Verify     WebhookVerifier

	// Inbox is nil when notifications are not stored in-app.
	Inbox *notifications.Inbox

	// LocationFreshFor is how old a job's last fix may be and still be
	// reported as live.
	LocationFreshFor time.Duration
	JWTSecret        string
}

// Register mounts every route on router.
func (h *Handler) Register(router *gin.Engine) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "Field service server is running",
			"time":    time.Now().UTC(),
		})
	})

	// Gateway webhooks authenticate by signature, not by token
	router.POST("/webhooks/payments", h.paymentWebhook)

	api := router.Group("/api/v1")

	stream := api.Group("/ws")
	stream.Use(middleware.WebSocketAuthMiddleware(h.JWTSecret))
	RegisterStreamRoutes(stream, h)

	protected := api.Group("")
	protected.Use(middleware.AuthMiddleware(h.JWTSecret))
	{
		RegisterBookingRoutes(protected, h)
		RegisterJobRoutes(protected, h)
		RegisterLocationRoutes(protected, h)
		RegisterPaymentRoutes(protected, h)
		if h.Inbox != nil {
			RegisterNotificationRoutes(protected.Group("/notifications"), h)
		}
		RegisterAdminRoutes(protected.Group("/admin"), h)
	}
}

// actorFrom returns the authenticated caller set by the auth middleware.
func actorFrom(c *gin.Context) services.Actor {
	return services.Actor{
		ID:   c.GetString(middleware.ContextUserID),
		Role: services.Role(c.GetString(middleware.ContextRole)),
	}
}

// statusFor maps a service error kind to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrConflict), errors.Is(err, services.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, services.ErrGateway):
		return http.StatusBadGateway
	case errors.Is(err, services.ErrPartialFailure):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// kindOf names the error kind in responses.
func kindOf(err error) string {
	for _, kind := range []error{
		services.ErrInvalidInput,
		services.ErrForbidden,
		services.ErrNotFound,
		services.ErrConflict,
		services.ErrInvalidTransition,
		services.ErrGateway,
		services.ErrPartialFailure,
	} {
		if errors.Is(err, kind) {
			return kind.Error()
		}
	}
	return "internal error"
}

func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Printf("❌ %s %s failed: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{
		"error":   kindOf(err),
		"message": err.Error(),
	})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   services.ErrInvalidInput.Error(),
		"message": err.Error(),
	})
}
