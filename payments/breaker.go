package payments

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// BreakerGateway wraps a Gateway with a circuit breaker. Business outcomes
// (finalized or unknown holds) do not count as failures.
type BreakerGateway struct {
	next Gateway
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerGateway wraps next.
func NewBreakerGateway(next Gateway) *BreakerGateway {
	settings := gobreaker.Settings{
		Name:        "payment-gateway-" + next.Name(),
		MaxRequests: 100,
		Interval:    5 * time.Second,
		Timeout:     3 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrAlreadyFinalized) || errors.Is(err, ErrHoldNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("⚡ Circuit breaker %s: %s -> %s", name, from, to)
		},
	}
	return &BreakerGateway{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

// Name returns the wrapped provider name.
func (b *BreakerGateway) Name() string {
	return b.next.Name()
}

// CreateHold forwards to the wrapped gateway.
func (b *BreakerGateway) CreateHold(ctx context.Context, req HoldRequest) (*Hold, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.CreateHold(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return res.(*Hold), nil
}

// Capture forwards to the wrapped gateway.
func (b *BreakerGateway) Capture(ctx context.Context, holdID, idempotencyKey string) (*CaptureResult, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Capture(ctx, holdID, idempotencyKey)
	})
	if err != nil {
		return nil, err
	}
	return res.(*CaptureResult), nil
}

// Void forwards to the wrapped gateway.
func (b *BreakerGateway) Void(ctx context.Context, holdID string) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.Void(ctx, holdID)
	})
	return err
}

// State exposes the breaker state for health reporting.
func (b *BreakerGateway) State() string {
	return b.cb.State().String()
}
