package payments

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Sandbox hold statuses, named after the Stripe intent statuses.
const (
	SandboxStatusRequiresCapture = "requires_capture"
	SandboxStatusSucceeded       = "succeeded"
	SandboxStatusCanceled        = "canceled"
)

type sandboxHold struct {
	hold      Hold
	bookingID string
}

// SandboxGateway is an in-process gateway for local runs and tests. It
// honours idempotency keys the way the real provider does.
type SandboxGateway struct {
	mu        sync.Mutex
	holds     map[string]*sandboxHold
	holdKeys  map[string]string
	captures  map[string]*CaptureResult
	captureN  map[string]int
	failNextN int
	failErr   error
}

// NewSandboxGateway creates an empty SandboxGateway.
func NewSandboxGateway() *SandboxGateway {
	return &SandboxGateway{
		holds:    make(map[string]*sandboxHold),
		holdKeys: make(map[string]string),
		captures: make(map[string]*CaptureResult),
		captureN: make(map[string]int),
	}
}

// Name returns the provider name stored on bookings.
func (g *SandboxGateway) Name() string {
	return "sandbox"
}

// FailNext makes the next n calls fail with err.
func (g *SandboxGateway) FailNext(n int, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failNextN = n
	g.failErr = err
}

func (g *SandboxGateway) injectedLocked() error {
	if g.failNextN <= 0 {
		return nil
	}
	g.failNextN--
	if g.failErr != nil {
		return g.failErr
	}
	return errors.New("sandbox gateway unavailable")
}

// CreateHold authorizes req.AmountCents.
func (g *SandboxGateway) CreateHold(_ context.Context, req HoldRequest) (*Hold, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.injectedLocked(); err != nil {
		return nil, err
	}
	if req.AmountCents <= 0 {
		return nil, fmt.Errorf("sandbox: invalid amount %d", req.AmountCents)
	}
	if req.IdempotencyKey != "" {
		if id, ok := g.holdKeys[req.IdempotencyKey]; ok {
			h := g.holds[id].hold
			return &h, nil
		}
	}
	h := &sandboxHold{
		hold: Hold{
			ID:          "pi_sandbox_" + uuid.NewString(),
			Status:      SandboxStatusRequiresCapture,
			AmountCents: req.AmountCents,
		},
		bookingID: req.BookingID,
	}
	g.holds[h.hold.ID] = h
	if req.IdempotencyKey != "" {
		g.holdKeys[req.IdempotencyKey] = h.hold.ID
	}
	out := h.hold
	return &out, nil
}

// Capture captures a hold. A repeated key returns the first result; a
// capture of an already captured hold under a new key reports
// AlreadyCaptured.
func (g *SandboxGateway) Capture(_ context.Context, holdID, idempotencyKey string) (*CaptureResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.injectedLocked(); err != nil {
		return nil, err
	}
	if idempotencyKey != "" {
		if res, ok := g.captures[idempotencyKey]; ok {
			out := *res
			return &out, nil
		}
	}
	h, ok := g.holds[holdID]
	if !ok {
		return nil, ErrHoldNotFound
	}
	switch h.hold.Status {
	case SandboxStatusCanceled:
		return nil, ErrAlreadyFinalized
	case SandboxStatusSucceeded:
		return &CaptureResult{AmountCaptured: h.hold.AmountCents, AlreadyCaptured: true}, nil
	}
	h.hold.Status = SandboxStatusSucceeded
	g.captureN[holdID]++
	res := &CaptureResult{AmountCaptured: h.hold.AmountCents}
	if idempotencyKey != "" {
		g.captures[idempotencyKey] = res
	}
	out := *res
	return &out, nil
}

// Void cancels an uncaptured hold.
func (g *SandboxGateway) Void(_ context.Context, holdID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.injectedLocked(); err != nil {
		return err
	}
	h, ok := g.holds[holdID]
	if !ok {
		return ErrHoldNotFound
	}
	if h.hold.Status != SandboxStatusRequiresCapture {
		return ErrAlreadyFinalized
	}
	h.hold.Status = SandboxStatusCanceled
	return nil
}

// CaptureCount reports how many times money actually moved for holdID.
func (g *SandboxGateway) CaptureCount(holdID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.captureN[holdID]
}

// HoldStatus returns the current status of holdID.
func (g *SandboxGateway) HoldStatus(holdID string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	h, ok := g.holds[holdID]
	if !ok {
		return "", false
	}
	return h.hold.Status, true
}

// HoldCount reports how many distinct holds were opened.
func (g *SandboxGateway) HoldCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.holds)
}
