// Package payments talks to the payment gateway: manual-capture holds,
// capture, void and webhook verification.
package payments

import (
	"context"
	"errors"
)

// Webhook event types consumed by reconciliation.
const (
	EventPaymentFailed   = "payment_intent.payment_failed"
	EventPaymentCanceled = "payment_intent.canceled"
)

var (
	// ErrAlreadyFinalized is returned when a hold was voided or failed and
	// can no longer be captured.
	ErrAlreadyFinalized = errors.New("payment hold already finalized")
	// ErrHoldNotFound is returned for an unknown hold id.
	ErrHoldNotFound = errors.New("payment hold not found")
	// ErrInvalidSignature is returned when a webhook signature does not verify.
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// HoldRequest describes a manual-capture authorization.
type HoldRequest struct {
	BookingID       string
	CustomerID      string
	AmountCents     int64
	Currency        string
	PaymentMethodID string
	IdempotencyKey  string
}

// Hold is an authorization created at the gateway.
type Hold struct {
	ID          string
	Status      string
	AmountCents int64
}

// CaptureResult is the outcome of a capture. AlreadyCaptured is set when the
// gateway reports the hold was captured by an earlier call.
type CaptureResult struct {
	AmountCaptured  int64
	AlreadyCaptured bool
}

// Gateway is the external payment provider.
type Gateway interface {
	Name() string
	CreateHold(ctx context.Context, req HoldRequest) (*Hold, error)
	Capture(ctx context.Context, holdID, idempotencyKey string) (*CaptureResult, error)
	Void(ctx context.Context, holdID string) error
}

// WebhookEvent is a verified gateway notification.
type WebhookEvent struct {
	ID        string
	Type      string
	HoldID    string
	BookingID string
}

// Reconcilable reports whether the event can cancel a booking.
func (e WebhookEvent) Reconcilable() bool {
	return e.Type == EventPaymentFailed || e.Type == EventPaymentCanceled
}
