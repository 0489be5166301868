package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

// BookingMetadataKey carries the booking id on every payment intent.
const BookingMetadataKey = "booking_id"

// StripeGateway creates manual-capture PaymentIntents.
type StripeGateway struct {
	sc       *client.API
	currency string
}

// NewStripeGateway creates a StripeGateway for the given secret key.
func NewStripeGateway(secretKey, currency string) *StripeGateway {
	if currency == "" {
		currency = string(stripe.CurrencyUSD)
	}
	return &StripeGateway{
		sc:       client.New(secretKey, nil),
		currency: strings.ToLower(currency),
	}
}

// Name returns the provider name stored on bookings.
func (g *StripeGateway) Name() string {
	return "stripe"
}

// CreateHold authorizes req.AmountCents without capturing it.
func (g *StripeGateway) CreateHold(ctx context.Context, req HoldRequest) (*Hold, error) {
	currency := req.Currency
	if currency == "" {
		currency = g.currency
	}
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.AmountCents),
		Currency:      stripe.String(strings.ToLower(currency)),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
	}
	if req.PaymentMethodID != "" {
		params.PaymentMethod = stripe.String(req.PaymentMethodID)
		params.Confirm = stripe.Bool(true)
		params.AutomaticPaymentMethods = &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled:        stripe.Bool(true),
			AllowRedirects: stripe.String("never"),
		}
	}
	params.AddMetadata(BookingMetadataKey, req.BookingID)
	if req.CustomerID != "" {
		params.AddMetadata("customer_id", req.CustomerID)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	params.Context = ctx

	pi, err := g.sc.PaymentIntents.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe create payment intent: %w", err)
	}
	log.Printf("💳 Payment hold %s opened for booking %s (%d)", pi.ID, req.BookingID, pi.Amount)
	return &Hold{ID: pi.ID, Status: string(pi.Status), AmountCents: pi.Amount}, nil
}

// Capture captures the full authorized amount.
func (g *StripeGateway) Capture(ctx context.Context, holdID, idempotencyKey string) (*CaptureResult, error) {
	params := &stripe.PaymentIntentCaptureParams{}
	if idempotencyKey != "" {
		params.SetIdempotencyKey(idempotencyKey)
	}
	params.Context = ctx

	pi, err := g.sc.PaymentIntents.Capture(holdID, params)
	if err == nil {
		return &CaptureResult{AmountCaptured: pi.AmountReceived}, nil
	}

	var se *stripe.Error
	if !errors.As(err, &se) {
		return nil, fmt.Errorf("stripe capture: %w", err)
	}
	if se.HTTPStatusCode == 404 {
		return nil, ErrHoldNotFound
	}
	if se.Code != stripe.ErrorCodePaymentIntentUnexpectedState {
		return nil, fmt.Errorf("stripe capture: %w", err)
	}

	// The intent is no longer capturable; find out whether an earlier call
	// already moved the money.
	getParams := &stripe.PaymentIntentParams{}
	getParams.Context = ctx
	current, gerr := g.sc.PaymentIntents.Get(holdID, getParams)
	if gerr != nil {
		return nil, fmt.Errorf("stripe capture: %w", err)
	}
	switch current.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return &CaptureResult{AmountCaptured: current.AmountReceived, AlreadyCaptured: true}, nil
	case stripe.PaymentIntentStatusCanceled:
		return nil, ErrAlreadyFinalized
	}
	return nil, fmt.Errorf("stripe capture: intent %s is %s: %w", holdID, current.Status, err)
}

// Void cancels an uncaptured hold.
func (g *StripeGateway) Void(ctx context.Context, holdID string) error {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	if _, err := g.sc.PaymentIntents.Cancel(holdID, params); err != nil {
		var se *stripe.Error
		if errors.As(err, &se) && se.Code == stripe.ErrorCodePaymentIntentUnexpectedState {
			return ErrAlreadyFinalized
		}
		return fmt.Errorf("stripe cancel: %w", err)
	}
	return nil
}

// ParseWebhook verifies a Stripe-signed webhook payload and extracts the
// payment intent it refers to.
func ParseWebhook(payload []byte, signatureHeader, secret string) (*WebhookEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := &WebhookEvent{ID: event.ID, Type: string(event.Type)}
	if !strings.HasPrefix(out.Type, "payment_intent.") || event.Data == nil {
		return out, nil
	}
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, fmt.Errorf("decode payment intent: %w", err)
	}
	out.HoldID = pi.ID
	out.BookingID = pi.Metadata[BookingMetadataKey]
	return out, nil
}
