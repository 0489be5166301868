package models

import (
	"time"
)

// JobStage is one discrete step in a job's lifecycle.
type JobStage string

const (
	StageDispatched   JobStage = "dispatched"
	StageEnRoute      JobStage = "en_route"
	StageArrived      JobStage = "arrived"
	StageInProgress   JobStage = "in_progress"
	StageQualityCheck JobStage = "quality_check"
	StageComplete     JobStage = "complete"
)

// StageOrder is the fixed total order of job stages.
var StageOrder = []JobStage{
	StageDispatched,
	StageEnRoute,
	StageArrived,
	StageInProgress,
	StageQualityCheck,
	StageComplete,
}

// Rank returns the position of s in StageOrder, or -1 for unknown stages.
func (s JobStage) Rank() int {
	for i, st := range StageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// Next returns the stage immediately after s.
func (s JobStage) Next() (JobStage, bool) {
	r := s.Rank()
	if r < 0 || r >= len(StageOrder)-1 {
		return "", false
	}
	return StageOrder[r+1], true
}

// IsTracking reports whether live location is collected during s.
func (s JobStage) IsTracking() bool {
	return s == StageEnRoute || s == StageArrived
}

// StageEntry records when a job entered a stage.
type StageEntry struct {
	Stage     JobStage  `json:"stage"`
	EnteredAt time.Time `json:"entered_at"`
}

// Location is a single GPS fix.
type Location struct {
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Heading   float64   `json:"heading"`
	Speed     float64   `json:"speed"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Job is the operational record of one accepted booking.
type Job struct {
	ID                string       `json:"id" gorm:"primaryKey;type:varchar(64)"`
	BookingID         string       `json:"booking_id" gorm:"type:varchar(64);not null;uniqueIndex"`
	TechnicianID      string       `json:"technician_id" gorm:"type:varchar(64);not null;index"`
	CustomerID        string       `json:"customer_id" gorm:"type:varchar(64);not null"`
	CurrentStage      JobStage     `json:"current_stage" gorm:"type:varchar(20);not null"`
	StageHistory      []StageEntry `json:"stage_history" gorm:"type:jsonb;serializer:json"`
	LastKnownLocation *Location    `json:"last_known_location" gorm:"type:jsonb;serializer:json"`
	StartedAt         *time.Time   `json:"started_at"`
	CompletedAt       *time.Time   `json:"completed_at"`
	CancelledAt       *time.Time   `json:"cancelled_at"`
	Version           int64        `json:"version" gorm:"not null;default:0"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

// TableName specifies the table name for the Job model
func (Job) TableName() string {
	return "jobs"
}

// EnterStage moves the job to stage and appends the matching history entry.
func (j *Job) EnterStage(stage JobStage, at time.Time) {
	j.CurrentStage = stage
	j.StageHistory = append(j.StageHistory, StageEntry{Stage: stage, EnteredAt: at})
}

// Clone returns a deep copy.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	out := *j
	out.StageHistory = append([]StageEntry(nil), j.StageHistory...)
	if j.LastKnownLocation != nil {
		loc := *j.LastKnownLocation
		out.LastKnownLocation = &loc
	}
	out.StartedAt = cloneTime(j.StartedAt)
	out.CompletedAt = cloneTime(j.CompletedAt)
	out.CancelledAt = cloneTime(j.CancelledAt)
	return &out
}

// AdvanceRequest is the body of POST /jobs/:id/advance.
type AdvanceRequest struct {
	Stage JobStage `json:"stage" binding:"required"`
}

// LocationReport is the body of POST /location.
type LocationReport struct {
	JobID      string     `json:"job_id" binding:"required"`
	Lat        *float64   `json:"lat" binding:"required"`
	Lng        *float64   `json:"lng" binding:"required"`
	Heading    float64    `json:"heading"`
	Speed      float64    `json:"speed"`
	ObservedAt *time.Time `json:"observed_at"`
}
