package payments

import (
	"context"
	"errors"
	"testing"

	"github.com/sony/gobreaker"
	"github.com/stripe/stripe-go/v76/webhook"
)

func TestSandboxHoldIdempotencyKey(t *testing.T) {
	g := NewSandboxGateway()
	req := HoldRequest{BookingID: "B1", AmountCents: 5000, IdempotencyKey: "hold-B1"}

	first, err := g.CreateHold(context.Background(), req)
	if err != nil {
		t.Fatalf("CreateHold() error = %v", err)
	}
	second, err := g.CreateHold(context.Background(), req)
	if err != nil {
		t.Fatalf("CreateHold() error = %v", err)
	}
	if first.ID != second.ID || g.HoldCount() != 1 {
		t.Errorf("holds %s and %s, count %d; want one hold", first.ID, second.ID, g.HoldCount())
	}
	if first.Status != SandboxStatusRequiresCapture {
		t.Errorf("status = %s, want requires_capture", first.Status)
	}

	if _, err := g.CreateHold(context.Background(), HoldRequest{AmountCents: 0}); err == nil {
		t.Error("CreateHold() with zero amount succeeded")
	}
}

func TestSandboxCaptureOnce(t *testing.T) {
	g := NewSandboxGateway()
	hold, _ := g.CreateHold(context.Background(), HoldRequest{BookingID: "B1", AmountCents: 5000})

	res, err := g.Capture(context.Background(), hold.ID, "capture-B1")
	if err != nil || res.AmountCaptured != 5000 || res.AlreadyCaptured {
		t.Fatalf("Capture() = %+v, %v", res, err)
	}
	again, err := g.Capture(context.Background(), hold.ID, "capture-B1")
	if err != nil || again.AmountCaptured != 5000 || again.AlreadyCaptured {
		t.Errorf("replayed Capture() = %+v, %v; want the first result", again, err)
	}
	other, err := g.Capture(context.Background(), hold.ID, "capture-other")
	if err != nil || !other.AlreadyCaptured {
		t.Errorf("Capture() under a new key = %+v, %v; want AlreadyCaptured", other, err)
	}
	if n := g.CaptureCount(hold.ID); n != 1 {
		t.Errorf("CaptureCount() = %d, want 1", n)
	}
	if err := g.Void(context.Background(), hold.ID); !errors.Is(err, ErrAlreadyFinalized) {
		t.Errorf("Void() after capture error = %v, want ErrAlreadyFinalized", err)
	}
}

func TestSandboxVoid(t *testing.T) {
	g := NewSandboxGateway()
	hold, _ := g.CreateHold(context.Background(), HoldRequest{BookingID: "B1", AmountCents: 5000})

	if err := g.Void(context.Background(), hold.ID); err != nil {
		t.Fatalf("Void() error = %v", err)
	}
	if status, _ := g.HoldStatus(hold.ID); status != SandboxStatusCanceled {
		t.Errorf("status = %s, want canceled", status)
	}
	if _, err := g.Capture(context.Background(), hold.ID, "capture-B1"); !errors.Is(err, ErrAlreadyFinalized) {
		t.Errorf("Capture() after void error = %v, want ErrAlreadyFinalized", err)
	}
	if _, err := g.Capture(context.Background(), "pi_missing", ""); !errors.Is(err, ErrHoldNotFound) {
		t.Errorf("Capture(missing) error = %v, want ErrHoldNotFound", err)
	}
}

func TestSandboxFailNext(t *testing.T) {
	g := NewSandboxGateway()
	down := errors.New("down")
	g.FailNext(2, down)

	for i := 0; i < 2; i++ {
		if _, err := g.CreateHold(context.Background(), HoldRequest{AmountCents: 100}); !errors.Is(err, down) {
			t.Errorf("call %d error = %v, want down", i, err)
		}
	}
	if _, err := g.CreateHold(context.Background(), HoldRequest{AmountCents: 100}); err != nil {
		t.Errorf("third call error = %v", err)
	}
}

func TestBreakerOpensOnGatewayFailures(t *testing.T) {
	sandbox := NewSandboxGateway()
	g := NewBreakerGateway(sandbox)
	sandbox.FailNext(3, errors.New("timeout"))

	for i := 0; i < 3; i++ {
		if _, err := g.CreateHold(context.Background(), HoldRequest{AmountCents: 100}); err == nil {
			t.Fatalf("call %d succeeded", i)
		}
	}
	if g.State() != gobreaker.StateOpen.String() {
		t.Fatalf("State() = %s, want open", g.State())
	}
	if _, err := g.CreateHold(context.Background(), HoldRequest{AmountCents: 100}); !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("CreateHold() with open breaker error = %v, want ErrOpenState", err)
	}
	if g.Name() != "sandbox" {
		t.Errorf("Name() = %q", g.Name())
	}
}

func TestBreakerIgnoresBusinessOutcomes(t *testing.T) {
	g := NewBreakerGateway(NewSandboxGateway())

	for i := 0; i < 5; i++ {
		if err := g.Void(context.Background(), "pi_missing"); !errors.Is(err, ErrHoldNotFound) {
			t.Fatalf("Void() error = %v, want ErrHoldNotFound", err)
		}
	}
	if g.State() != gobreaker.StateClosed.String() {
		t.Errorf("State() = %s, want closed", g.State())
	}

	hold, err := g.CreateHold(context.Background(), HoldRequest{AmountCents: 700})
	if err != nil {
		t.Fatalf("CreateHold() error = %v", err)
	}
	res, err := g.Capture(context.Background(), hold.ID, "k")
	if err != nil || res.AmountCaptured != 700 {
		t.Errorf("Capture() = %+v, %v", res, err)
	}
}

const testWebhookSecret = "whsec_test"

func signed(t *testing.T, payload string) (string, []byte) {
	t.Helper()
	sp := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload: []byte(payload),
		Secret:  testWebhookSecret,
	})
	return sp.Header, sp.Payload
}

func TestParseWebhook(t *testing.T) {
	header, body := signed(t, `{
		"id": "evt_123",
		"object": "event",
		"type": "payment_intent.canceled",
		"data": {"object": {"id": "pi_456", "object": "payment_intent", "metadata": {"booking_id": "B1"}}}
	}`)

	ev, err := ParseWebhook(body, header, testWebhookSecret)
	if err != nil {
		t.Fatalf("ParseWebhook() error = %v", err)
	}
	if ev.ID != "evt_123" || ev.Type != EventPaymentCanceled || ev.HoldID != "pi_456" || ev.BookingID != "B1" {
		t.Errorf("ParseWebhook() = %+v", ev)
	}
	if !ev.Reconcilable() {
		t.Error("canceled event not reconcilable")
	}
}

func TestParseWebhookOtherEvent(t *testing.T) {
	header, body := signed(t, `{"id": "evt_9", "object": "event", "type": "charge.refunded", "data": {"object": {"id": "ch_1", "object": "charge"}}}`)

	ev, err := ParseWebhook(body, header, testWebhookSecret)
	if err != nil {
		t.Fatalf("ParseWebhook() error = %v", err)
	}
	if ev.Reconcilable() || ev.HoldID != "" {
		t.Errorf("ParseWebhook() = %+v, want a non-reconcilable event without hold", ev)
	}
}

func TestParseWebhookRejectsBadSignature(t *testing.T) {
	header, body := signed(t, `{"id": "evt_1", "object": "event", "type": "payment_intent.payment_failed"}`)

	if _, err := ParseWebhook(body, header, "whsec_other"); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("ParseWebhook() with wrong secret error = %v, want ErrInvalidSignature", err)
	}
	if _, err := ParseWebhook(body, "", testWebhookSecret); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("ParseWebhook() without header error = %v, want ErrInvalidSignature", err)
	}
}
