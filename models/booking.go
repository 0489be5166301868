package models

import (
	"time"
)

type BookingStatus string

const (
	BookingStatusPending    BookingStatus = "pending"
	BookingStatusAccepted   BookingStatus = "accepted"
	BookingStatusEnRoute    BookingStatus = "en_route"
	BookingStatusInProgress BookingStatus = "in_progress"
	BookingStatusComplete   BookingStatus = "complete"
	BookingStatusCancelled  BookingStatus = "cancelled"
)

// IsTerminal reports whether no further transition is possible.
func (s BookingStatus) IsTerminal() bool {
	return s == BookingStatusComplete || s == BookingStatusCancelled
}

// IsValid reports whether s is one of the known booking statuses.
func (s BookingStatus) IsValid() bool {
	switch s {
	case BookingStatusPending, BookingStatusAccepted, BookingStatusEnRoute,
		BookingStatusInProgress, BookingStatusComplete, BookingStatusCancelled:
		return true
	}
	return false
}

// ServiceSnapshot is the catalog entry as it was when the booking was made.
type ServiceSnapshot struct {
	ServiceID       string `json:"service_id" gorm:"type:varchar(64)"`
	Name            string `json:"name" gorm:"type:varchar(200)"`
	Category        string `json:"category" gorm:"type:varchar(100)"`
	PriceCents      int64  `json:"price_cents"`
	DurationMinutes int    `json:"duration_minutes"`
}

// VehicleSnapshot is the customer's vehicle as it was when the booking was made.
type VehicleSnapshot struct {
	VehicleID string `json:"vehicle_id" gorm:"type:varchar(64)"`
	Year      int    `json:"year"`
	Make      string `json:"make" gorm:"type:varchar(100)"`
	Model     string `json:"model" gorm:"type:varchar(100)"`
	VIN       string `json:"vin" gorm:"type:varchar(32)"`
	Mileage   *int   `json:"mileage"`
}

// Booking is one customer service request.
//
// TechnicianID, JobID and Status move together: both ids are set exactly
// when the status is neither pending nor cancelled.
type Booking struct {
	ID                  string          `json:"id" gorm:"primaryKey;type:varchar(64)"`
	CustomerID          string          `json:"customer_id" gorm:"type:varchar(64);not null;index"`
	TechnicianID        *string         `json:"technician_id" gorm:"type:varchar(64);index"`
	JobID               *string         `json:"job_id" gorm:"type:varchar(64)"`
	Status              BookingStatus   `json:"status" gorm:"type:varchar(20);not null;default:'pending';index"`
	Service             ServiceSnapshot `json:"service_snapshot" gorm:"embedded;embeddedPrefix:service_"`
	Vehicle             VehicleSnapshot `json:"vehicle_snapshot" gorm:"embedded;embeddedPrefix:vehicle_"`
	ScheduledAt         time.Time       `json:"scheduled_at" gorm:"not null"`
	Address             *string         `json:"address" gorm:"type:text"`
	TotalPriceCents     int64           `json:"total_price_cents" gorm:"not null"`
	PaymentHoldID       *string         `json:"payment_hold_id" gorm:"type:varchar(128);index"`
	PaymentProvider     string          `json:"payment_provider" gorm:"type:varchar(32)"`
	CapturedAmountCents *int64          `json:"captured_amount_cents"`
	CapturedAt          *time.Time      `json:"captured_at"`
	CancelledAt         *time.Time      `json:"cancelled_at"`
	CancelReason        string          `json:"cancel_reason" gorm:"type:varchar(200)"`
	Version             int64           `json:"version" gorm:"not null;default:0"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// TableName specifies the table name for the Booking model
func (Booking) TableName() string {
	return "bookings"
}

// Clone returns a deep copy so callers can mutate without aliasing store state.
func (b *Booking) Clone() *Booking {
	if b == nil {
		return nil
	}
	out := *b
	out.TechnicianID = cloneString(b.TechnicianID)
	out.JobID = cloneString(b.JobID)
	out.Address = cloneString(b.Address)
	out.PaymentHoldID = cloneString(b.PaymentHoldID)
	if b.Vehicle.Mileage != nil {
		m := *b.Vehicle.Mileage
		out.Vehicle.Mileage = &m
	}
	if b.CapturedAmountCents != nil {
		v := *b.CapturedAmountCents
		out.CapturedAmountCents = &v
	}
	out.CapturedAt = cloneTime(b.CapturedAt)
	out.CancelledAt = cloneTime(b.CancelledAt)
	return &out
}

// BookingCreate is the payload a customer posts to open a booking.
type BookingCreate struct {
	Service         ServiceSnapshot `json:"service" binding:"required"`
	Vehicle         VehicleSnapshot `json:"vehicle" binding:"required"`
	ScheduledAt     time.Time       `json:"scheduled_at" binding:"required"`
	Address         *string         `json:"address"`
	TotalPriceCents int64           `json:"total_price_cents" binding:"required,gt=0"`
	PaymentMethodID string          `json:"payment_method_id"`
}

// BookingStatusUpdate is the body of PATCH /bookings/:id/status.
type BookingStatusUpdate struct {
	ActorID      string        `json:"actor_id"`
	TargetStatus BookingStatus `json:"target_status" binding:"required"`
	Notes        string        `json:"notes"`
	Mileage      *int          `json:"mileage"`
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
