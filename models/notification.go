package models

import (
	"time"
)

// Notification types emitted by the lifecycle engine.
const (
	NotificationBookingAccepted   = "booking_accepted"
	NotificationTechnicianEnRoute = "technician_en_route"
	NotificationTechnicianArrived = "technician_arrived"
	NotificationJobStarted        = "job_started"
	NotificationJobCompleted      = "job_completed"
	NotificationBookingCancelled  = "booking_cancelled"
	NotificationPaymentFailed     = "payment_failed"
)

// NotificationEvent is the outbound event handed to notification sinks.
type NotificationEvent struct {
	UserID           string    `json:"user_id"`
	Type             string    `json:"type"`
	Title            string    `json:"title"`
	Body             string    `json:"body"`
	RelatedBookingID string    `json:"related_booking_id,omitempty"`
	RelatedJobID     string    `json:"related_job_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// Notification is the in-app copy of a NotificationEvent.
type Notification struct {
	ID               uint      `json:"id" gorm:"primaryKey"`
	UserID           string    `json:"user_id" gorm:"type:varchar(64);not null;index"`
	Title            string    `json:"title" gorm:"not null"`
	Body             string    `json:"body" gorm:"not null"`
	Type             string    `json:"type" gorm:"not null"`
	RelatedBookingID string    `json:"related_booking_id" gorm:"type:varchar(64)"`
	RelatedJobID     string    `json:"related_job_id" gorm:"type:varchar(64)"`
	Read             bool      `json:"read" gorm:"default:false"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// TableName specifies the table name for the Notification model
func (Notification) TableName() string {
	return "notifications"
}
