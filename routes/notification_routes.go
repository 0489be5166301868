package routes

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"fieldservice-server/notifications"
)

// RegisterNotificationRoutes registers the in-app notification inbox
func RegisterNotificationRoutes(router *gin.RouterGroup, h *Handler) {
	router.GET("", h.getUserNotifications)
	router.GET("/unread-count", h.getUnreadCount)
	router.POST("/mark-read/:id", h.markNotificationAsRead)
	router.POST("/mark-all-read", h.markAllNotificationsAsRead)
}

// getUserNotifications gets the latest notifications for a user
func (h *Handler) getUserNotifications(c *gin.Context) {
	userID := actorFrom(c).ID

	list, err := h.Inbox.List(c.Request.Context(), userID, 50)
	if err != nil {
		log.Printf("❌ Error fetching notifications: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch notifications"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"notifications": list,
	})
}

// markNotificationAsRead marks a specific notification as read
func (h *Handler) markNotificationAsRead(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid notification ID"})
		return
	}

	err = h.Inbox.MarkRead(c.Request.Context(), actorFrom(c).ID, uint(id))
	if errors.Is(err, notifications.ErrNotificationNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Notification not found"})
		return
	}
	if err != nil {
		log.Printf("❌ Error updating notification: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update notification"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Notification marked as read",
	})
}

// markAllNotificationsAsRead marks all notifications as read for a user
func (h *Handler) markAllNotificationsAsRead(c *gin.Context) {
	if err := h.Inbox.MarkAllRead(c.Request.Context(), actorFrom(c).ID); err != nil {
		log.Printf("❌ Error marking all notifications as read: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to mark notifications as read"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "All notifications marked as read",
	})
}

// getUnreadCount returns the count of unread notifications for the user
func (h *Handler) getUnreadCount(c *gin.Context) {
	count, err := h.Inbox.UnreadCount(c.Request.Context(), actorFrom(c).ID)
	if err != nil {
		log.Printf("❌ Error getting unread count: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get unread count"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count": count,
	})
}
