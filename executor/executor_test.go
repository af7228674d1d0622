package executor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/quailyquaily/screenbridge/action"
)

// fakeDevice records every input event instead of producing one.
type fakeDevice struct {
	events []string

	pointerX, pointerY int
	pointerErr         error

	captured []byte
}

func (d *fakeDevice) MoveTo(ctx context.Context, x, y int) error {
	d.events = append(d.events, fmt.Sprintf("move %d,%d", x, y))
	d.pointerX, d.pointerY = x, y
	return nil
}

func (d *fakeDevice) Click(ctx context.Context, x, y int) error {
	d.events = append(d.events, fmt.Sprintf("click %d,%d", x, y))
	return nil
}

func (d *fakeDevice) TypeText(ctx context.Context, text string) error {
	d.events = append(d.events, "type "+text)
	return nil
}

func (d *fakeDevice) Scroll(ctx context.Context, delta int, x, y *int) error {
	d.events = append(d.events, fmt.Sprintf("scroll %d", delta))
	return nil
}

func (d *fakeDevice) PointerPosition(ctx context.Context) (int, int, error) {
	if d.pointerErr != nil {
		return 0, 0, d.pointerErr
	}
	return d.pointerX, d.pointerY, nil
}

func (d *fakeDevice) CaptureScreen(ctx context.Context) ([]byte, error) {
	d.events = append(d.events, "capture full")
	return d.captured, nil
}

func (d *fakeDevice) CaptureRegion(ctx context.Context, x, y, w, h int) ([]byte, error) {
	d.events = append(d.events, fmt.Sprintf("capture %d,%d %dx%d", x, y, w, h))
	return d.captured, nil
}

func newTestExecutor(t *testing.T, dev *fakeDevice) *Executor {
	t.Helper()
	artifacts, err := NewArtifacts(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	e := New(dev, artifacts, nil)
	e.Sleep = func(time.Duration) {}
	e.KeyDelay = func() time.Duration { return 0 }
	// Park the fake pointer away from the reserved corner.
	dev.pointerX, dev.pointerY = 500, 500
	return e
}

func intPtr(v int) *int { return &v }

func TestApplyClick(t *testing.T) {
	dev := &fakeDevice{}
	e := newTestExecutor(t, dev)

	res, err := e.Apply(context.Background(), action.Proposal{
		Action: action.KindClick, X: intPtr(120), Y: intPtr(340), Description: "open inbox",
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !res.Success || res.Action != action.KindClick || *res.X != 120 || *res.Y != 340 {
		t.Fatalf("result = %+v", res)
	}
	want := []string{"move 120,340", "click 120,340"}
	if len(dev.events) != 2 || dev.events[0] != want[0] || dev.events[1] != want[1] {
		t.Fatalf("events = %v, want %v", dev.events, want)
	}
}

func TestApplyValidatesBeforeTouchingDevice(t *testing.T) {
	dev := &fakeDevice{}
	e := newTestExecutor(t, dev)

	if _, err := e.Apply(context.Background(), action.Proposal{Action: action.KindClick}); err == nil {
		t.Fatal("Apply accepted a click without coordinates")
	}
	if len(dev.events) != 0 {
		t.Fatalf("invalid proposal produced device events: %v", dev.events)
	}
}

func TestApplyType(t *testing.T) {
	dev := &fakeDevice{}
	e := newTestExecutor(t, dev)

	res, err := e.Apply(context.Background(), action.Proposal{
		Action: action.KindType, Text: "hello", X: intPtr(10), Y: intPtr(20),
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.CharsTyped != 5 {
		t.Fatalf("CharsTyped = %d, want 5", res.CharsTyped)
	}
	// A focus click first, then one event per character.
	if dev.events[0] != "click 10,20" {
		t.Fatalf("first event = %q, want the focus click", dev.events[0])
	}
	typed := ""
	for _, ev := range dev.events[1:] {
		typed += ev[len("type "):]
	}
	if typed != "hello" {
		t.Fatalf("typed %q, want hello", typed)
	}
}

func TestApplyTypeWithoutPointSkipsFocusClick(t *testing.T) {
	dev := &fakeDevice{}
	e := newTestExecutor(t, dev)

	if _, err := e.Apply(context.Background(), action.Proposal{Action: action.KindType, Text: "ok"}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if dev.events[0] != "type o" {
		t.Fatalf("first event = %q, want a keystroke", dev.events[0])
	}
}

func TestApplyScrollDirections(t *testing.T) {
	dev := &fakeDevice{}
	e := newTestExecutor(t, dev)

	res, err := e.Apply(context.Background(), action.Proposal{
		Action: action.KindScroll, Direction: action.DirectionUp, Amount: 4,
	})
	if err != nil {
		t.Fatalf("Apply up: %v", err)
	}
	if res.Direction != action.DirectionUp || res.Amount != 4 {
		t.Fatalf("result = %+v", res)
	}

	if _, err := e.Apply(context.Background(), action.Proposal{
		Action: action.KindScroll, Direction: action.DirectionDown, Amount: 4,
	}); err != nil {
		t.Fatalf("Apply down: %v", err)
	}

	// Up and down are opposite signs of the same magnitude.
	if dev.events[0] != "scroll 4" || dev.events[1] != "scroll -4" {
		t.Fatalf("events = %v, want scroll 4 then scroll -4", dev.events)
	}
}

func TestApplyScrollDefaultAmount(t *testing.T) {
	dev := &fakeDevice{}
	e := newTestExecutor(t, dev)

	res, err := e.Apply(context.Background(), action.Proposal{
		Action: action.KindScroll, Direction: action.DirectionDown,
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.Amount != 3 || dev.events[0] != "scroll -3" {
		t.Fatalf("result %+v, events %v", res, dev.events)
	}
}

func TestApplyExtractSavesArtifact(t *testing.T) {
	dev := &fakeDevice{captured: []byte("not-a-real-png")}
	e := newTestExecutor(t, dev)

	res, err := e.Apply(context.Background(), action.Proposal{
		Action: action.KindExtract, Region: []int{0, 0, 800, 600},
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.ArtifactPath == "" {
		t.Fatal("no artifact path in result")
	}
	if dev.events[0] != "capture 0,0 800x600" {
		t.Fatalf("events = %v", dev.events)
	}

	if _, err := e.Apply(context.Background(), action.Proposal{Action: action.KindExtract}); err != nil {
		t.Fatalf("Apply full screen: %v", err)
	}
	if dev.events[1] != "capture full" {
		t.Fatalf("events = %v", dev.events)
	}
}

func TestApplyDoneAndAsk(t *testing.T) {
	e := New(nil, nil, nil) // terminal actions need no device at all

	res, err := e.Apply(context.Background(), action.Proposal{
		Action: action.KindDone, Description: "all steps finished",
	})
	if err != nil || !res.Success {
		t.Fatalf("done = %+v, %v", res, err)
	}

	res, err = e.Apply(context.Background(), action.Proposal{
		Action: action.KindAsk, Description: "which account should I use?",
	})
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if res.Question != "which account should I use?" {
		t.Fatalf("Question = %q", res.Question)
	}
}

func TestFailSafeAbortsBeforeInput(t *testing.T) {
	dev := &fakeDevice{}
	e := newTestExecutor(t, dev)
	dev.pointerX, dev.pointerY = 2, 3 // inside the reserved corner

	_, err := e.Apply(context.Background(), action.Proposal{
		Action: action.KindClick, X: intPtr(120), Y: intPtr(340),
	})
	if !errors.Is(err, ErrFailSafe) {
		t.Fatalf("err = %v, want ErrFailSafe", err)
	}
	if len(dev.events) != 0 {
		t.Fatalf("aborted action still produced events: %v", dev.events)
	}
}

func TestFailSafeMidTyping(t *testing.T) {
	dev := &fakeDevice{}
	e := newTestExecutor(t, dev)

	// Simulate the operator slamming the pointer into the corner after the
	// second keystroke.
	typedSoFar := 0
	e.KeyDelay = func() time.Duration {
		typedSoFar++
		if typedSoFar == 2 {
			dev.pointerX, dev.pointerY = 0, 0
		}
		return 0
	}

	_, err := e.Apply(context.Background(), action.Proposal{Action: action.KindType, Text: "secret"})
	if !errors.Is(err, ErrFailSafe) {
		t.Fatalf("err = %v, want ErrFailSafe", err)
	}
	if len(dev.events) != 2 {
		t.Fatalf("keystrokes after abort: %v", dev.events)
	}
}

func TestFailSafeSkippedForCornerTarget(t *testing.T) {
	dev := &fakeDevice{}
	e := newTestExecutor(t, dev)

	// Clicking the corner itself must not self-abort after the move puts
	// the pointer there.
	res, err := e.Apply(context.Background(), action.Proposal{
		Action: action.KindClick, X: intPtr(0), Y: intPtr(0),
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
}

func TestFailSafeToleratesPositionErrors(t *testing.T) {
	dev := &fakeDevice{pointerErr: errors.New("no pointer device")}
	e := newTestExecutor(t, dev)

	res, err := e.Apply(context.Background(), action.Proposal{
		Action: action.KindClick, X: intPtr(10), Y: intPtr(10),
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
}

func TestApplyCancelledContext(t *testing.T) {
	dev := &fakeDevice{}
	e := newTestExecutor(t, dev)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Apply(ctx, action.Proposal{Action: action.KindType, Text: "hello"})
	if err == nil {
		t.Fatal("Apply ignored a cancelled context")
	}
	if len(dev.events) != 0 {
		t.Fatalf("cancelled typing produced events: %v", dev.events)
	}
}
