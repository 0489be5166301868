package models

import (
	"time"
)

// Technician is a mobile worker's availability record.
//
// CurrentJobID is written only by assignment (set) and by job completion or
// reconciliation (cleared). IsAvailable is always its negation.
type Technician struct {
	ID           string    `json:"id" gorm:"primaryKey;type:varchar(64)"`
	Name         string    `json:"name" gorm:"type:varchar(200)"`
	PhoneNumber  string    `json:"phone_number" gorm:"type:varchar(20)"`
	IsAvailable  bool      `json:"is_available" gorm:"default:true"`
	CurrentJobID *string   `json:"current_job_id" gorm:"type:varchar(64)"`
	Version      int64     `json:"version" gorm:"not null;default:0"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName specifies the table name for the Technician model
func (Technician) TableName() string {
	return "technicians"
}

// Clone returns a deep copy.
func (t *Technician) Clone() *Technician {
	if t == nil {
		return nil
	}
	out := *t
	out.CurrentJobID = cloneString(t.CurrentJobID)
	return &out
}

// TechnicianCreate is the admin payload for registering a technician.
type TechnicianCreate struct {
	ID          string `json:"id"`
	Name        string `json:"name" binding:"required"`
	PhoneNumber string `json:"phone_number"`
}
