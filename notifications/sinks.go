package notifications

import (
	"context"

	"gorm.io/gorm"

	"fieldservice-server/models"
	ws "fieldservice-server/websocket"
)

// DBSink stores an in-app copy of every event in the notifications table.
type DBSink struct {
	db *gorm.DB
}

// NewDBSink creates a DBSink.
func NewDBSink(db *gorm.DB) *DBSink {
	return &DBSink{db: db}
}

func (s *DBSink) Name() string { return "db" }

func (s *DBSink) Deliver(ctx context.Context, ev models.NotificationEvent) error {
	n := models.Notification{
		UserID:           ev.UserID,
		Title:            ev.Title,
		Body:             ev.Body,
		Type:             ev.Type,
		RelatedBookingID: ev.RelatedBookingID,
		RelatedJobID:     ev.RelatedJobID,
		CreatedAt:        ev.CreatedAt,
	}
	return s.db.WithContext(ctx).Create(&n).Error
}

// HubSink pushes events to the user's open notification sockets.
type HubSink struct {
	hub *ws.Hub
}

// NewHubSink creates a HubSink.
func NewHubSink(hub *ws.Hub) *HubSink {
	return &HubSink{hub: hub}
}

func (s *HubSink) Name() string { return "websocket" }

func (s *HubSink) Deliver(_ context.Context, ev models.NotificationEvent) error {
	s.hub.SendToUser(ev.UserID, &ws.Message{
		Type:      "notification",
		Data:      ev,
		Timestamp: ev.CreatedAt,
	})
	return nil
}
