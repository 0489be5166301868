package models

import (
	"time"
)

// ServiceRecord is the completed-service entry written when a job is captured.
type ServiceRecord struct {
	ID               string    `json:"id" gorm:"primaryKey;type:varchar(64)"`
	VehicleID        string    `json:"vehicle_id" gorm:"type:varchar(64);index"`
	BookingID        string    `json:"booking_id" gorm:"type:varchar(64);not null;uniqueIndex"`
	JobID            string    `json:"job_id" gorm:"type:varchar(64);not null"`
	TechnicianID     string    `json:"technician_id" gorm:"type:varchar(64);not null;index"`
	ServiceType      string    `json:"service_type" gorm:"type:varchar(200)"`
	MileageAtService *int      `json:"mileage_at_service"`
	CostCents        int64     `json:"cost_cents" gorm:"not null"`
	TechNotes        string    `json:"tech_notes" gorm:"type:text"`
	CompletedAt      time.Time `json:"completed_at"`
	CreatedAt        time.Time `json:"created_at"`
}

// TableName specifies the table name for the ServiceRecord model
func (ServiceRecord) TableName() string {
	return "service_records"
}

// BookkeepingRepair tracks a capture whose money moved but whose store
// transaction did not commit. Operators (or the repair job) replay it.
type BookkeepingRepair struct {
	ID             string     `json:"id" gorm:"primaryKey;type:varchar(64)"`
	BookingID      string     `json:"booking_id" gorm:"type:varchar(64);not null;index"`
	JobID          string     `json:"job_id" gorm:"type:varchar(64);not null"`
	ActorID        string     `json:"actor_id" gorm:"type:varchar(64)"`
	AmountCaptured int64      `json:"amount_captured"`
	Notes          string     `json:"notes" gorm:"type:text"`
	Mileage        *int       `json:"mileage"`
	Attempts       int        `json:"attempts" gorm:"default:0"`
	LastError      string     `json:"last_error" gorm:"type:text"`
	ResolvedAt     *time.Time `json:"resolved_at" gorm:"index"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// TableName specifies the table name for the BookkeepingRepair model
func (BookkeepingRepair) TableName() string {
	return "bookkeeping_repairs"
}

// ProcessedEvent remembers gateway webhook events already applied.
type ProcessedEvent struct {
	ID          string    `json:"id" gorm:"primaryKey;type:varchar(128)"`
	Type        string    `json:"type" gorm:"type:varchar(64)"`
	ProcessedAt time.Time `json:"processed_at"`
}

// TableName specifies the table name for the ProcessedEvent model
func (ProcessedEvent) TableName() string {
	return "processed_events"
}

// CaptureRequest is the body of POST /capture-payment.
type CaptureRequest struct {
	BookingID string `json:"booking_id" binding:"required"`
	JobID     string `json:"job_id" binding:"required"`
	Notes     string `json:"notes"`
	Mileage   *int   `json:"mileage"`
}

// AssignRequest is the body of POST /assign.
type AssignRequest struct {
	BookingID    string `json:"booking_id" binding:"required"`
	TechnicianID string `json:"technician_id" binding:"required"`
}
