package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/quailyquaily/screenbridge/action"
)

// ErrFailSafe is returned when the operator parks the pointer in the
// reserved screen corner while an action is in flight. Callers branch on it
// with errors.Is to tell an emergency stop apart from an ordinary failure.
var ErrFailSafe = errors.New("fail-safe triggered: pointer at reserved screen corner")

const (
	defaultFailSafeMargin = 5
	defaultMovePause      = 200 * time.Millisecond
)

// Result reports what one Apply call did. Fields are populated per action
// kind: coordinates for clicks, character counts for typing, the artifact
// path for captures.
type Result struct {
	Success     bool        `json:"success"`
	Action      action.Kind `json:"action"`
	Description string      `json:"description,omitempty"`

	X *int `json:"x,omitempty"`
	Y *int `json:"y,omitempty"`

	CharsTyped int    `json:"chars_typed,omitempty"`
	Direction  string `json:"direction,omitempty"`
	Amount     int    `json:"amount,omitempty"`

	ArtifactPath string `json:"artifact_path,omitempty"`
	Question     string `json:"question,omitempty"`
	Message      string `json:"message,omitempty"`
}

// Executor applies one approved proposal to the OS, exactly once. It holds
// no state across calls; everything it needs rides in on the proposal.
type Executor struct {
	Device    Device
	Artifacts *Artifacts
	Log       *slog.Logger

	// FailSafeMargin is the reserved corner size in pixels (default 5):
	// a pointer at (x <= margin, y <= margin) aborts the action.
	FailSafeMargin int

	// KeyDelay paces keystroke injection; the default is a randomized
	// 40–120ms per key, roughly human typing cadence. Uniform robotic
	// timing is what anti-automation heuristics key on.
	KeyDelay func() time.Duration
	// Sleep is injectable for tests.
	Sleep func(d time.Duration)
}

func New(dev Device, artifacts *Artifacts, log *slog.Logger) *Executor {
	return &Executor{
		Device:         dev,
		Artifacts:      artifacts,
		Log:            log,
		FailSafeMargin: defaultFailSafeMargin,
	}
}

// Apply executes one approved proposal. Validation failures are returned
// before any device call; they never produce an input event.
func (e *Executor) Apply(ctx context.Context, p action.Proposal) (Result, error) {
	if err := p.Validate(); err != nil {
		return Result{}, err
	}
	if e.Device == nil && p.Action != action.KindDone && p.Action != action.KindAsk {
		return Result{}, fmt.Errorf("no input device configured")
	}

	if e.Log != nil {
		e.Log.Info("executor_apply", "action", string(p.Action), "description", p.Description)
	}

	switch p.Action {
	case action.KindClick:
		return e.applyClick(ctx, p)
	case action.KindType:
		return e.applyType(ctx, p)
	case action.KindScroll:
		return e.applyScroll(ctx, p)
	case action.KindExtract:
		return e.applyExtract(ctx, p)
	case action.KindDone:
		return Result{
			Success:     true,
			Action:      action.KindDone,
			Description: p.Description,
			Message:     "task complete",
		}, nil
	case action.KindAsk:
		return Result{
			Success:     true,
			Action:      action.KindAsk,
			Description: p.Description,
			Question:    p.Description,
		}, nil
	}
	return Result{}, fmt.Errorf("unknown action type: %q", p.Action)
}

func (e *Executor) applyClick(ctx context.Context, p action.Proposal) (Result, error) {
	if err := e.checkFailSafe(ctx); err != nil {
		return Result{}, err
	}
	if err := e.Device.MoveTo(ctx, *p.X, *p.Y); err != nil {
		return Result{}, fmt.Errorf("move pointer: %w", err)
	}
	e.pause(defaultMovePause)
	if err := e.checkFailSafeAt(ctx, *p.X, *p.Y); err != nil {
		return Result{}, err
	}
	if err := e.Device.Click(ctx, *p.X, *p.Y); err != nil {
		return Result{}, fmt.Errorf("click: %w", err)
	}
	return Result{
		Success:     true,
		Action:      action.KindClick,
		Description: p.Description,
		X:           p.X,
		Y:           p.Y,
	}, nil
}

func (e *Executor) applyType(ctx context.Context, p action.Proposal) (Result, error) {
	if err := e.checkFailSafe(ctx); err != nil {
		return Result{}, err
	}
	// Focus the target field first when coordinates are given.
	if p.HasPoint() {
		if err := e.Device.Click(ctx, *p.X, *p.Y); err != nil {
			return Result{}, fmt.Errorf("focus click: %w", err)
		}
		e.pause(defaultMovePause)
	}

	typed := 0
	for _, r := range p.Text {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		if err := e.checkFailSafe(ctx); err != nil {
			return Result{}, err
		}
		if err := e.Device.TypeText(ctx, string(r)); err != nil {
			return Result{}, fmt.Errorf("type after %d chars: %w", typed, err)
		}
		typed++
		e.pause(e.keyDelay())
	}
	return Result{
		Success:     true,
		Action:      action.KindType,
		Description: p.Description,
		CharsTyped:  typed,
	}, nil
}

func (e *Executor) applyScroll(ctx context.Context, p action.Proposal) (Result, error) {
	if err := e.checkFailSafe(ctx); err != nil {
		return Result{}, err
	}
	amount := p.ScrollAmount()
	delta := amount
	if p.Direction == action.DirectionDown {
		delta = -amount
	}
	if err := e.Device.Scroll(ctx, delta, p.X, p.Y); err != nil {
		return Result{}, fmt.Errorf("scroll: %w", err)
	}
	return Result{
		Success:     true,
		Action:      action.KindScroll,
		Description: p.Description,
		Direction:   p.Direction,
		Amount:      amount,
	}, nil
}

func (e *Executor) applyExtract(ctx context.Context, p action.Proposal) (Result, error) {
	if err := e.checkFailSafe(ctx); err != nil {
		return Result{}, err
	}

	var (
		png []byte
		err error
	)
	if len(p.Region) == 4 {
		png, err = e.Device.CaptureRegion(ctx, p.Region[0], p.Region[1], p.Region[2], p.Region[3])
	} else {
		png, err = e.Device.CaptureScreen(ctx)
	}
	if err != nil {
		return Result{}, fmt.Errorf("capture: %w", err)
	}

	if e.Artifacts == nil {
		return Result{}, fmt.Errorf("no artifact store configured")
	}
	path, err := e.Artifacts.Save("extract", png)
	if err != nil {
		return Result{}, fmt.Errorf("save capture: %w", err)
	}
	return Result{
		Success:      true,
		Action:       action.KindExtract,
		Description:  p.Description,
		ArtifactPath: path,
	}, nil
}

// checkFailSafe aborts when the pointer sits in the reserved corner.
func (e *Executor) checkFailSafe(ctx context.Context) error {
	x, y, err := e.Device.PointerPosition(ctx)
	if err != nil {
		// A device that cannot report the pointer cannot honor the
		// fail-safe either; keep going rather than brick every action.
		return nil
	}
	margin := e.FailSafeMargin
	if margin <= 0 {
		margin = defaultFailSafeMargin
	}
	if x <= margin && y <= margin {
		if e.Log != nil {
			e.Log.Warn("executor_failsafe_abort", "x", x, "y", y)
		}
		return ErrFailSafe
	}
	return nil
}

// checkFailSafeAt skips the corner check when the action itself targets the
// corner; otherwise a legitimate click at the origin would self-abort.
func (e *Executor) checkFailSafeAt(ctx context.Context, targetX, targetY int) error {
	margin := e.FailSafeMargin
	if margin <= 0 {
		margin = defaultFailSafeMargin
	}
	if targetX <= margin && targetY <= margin {
		return nil
	}
	return e.checkFailSafe(ctx)
}

func (e *Executor) keyDelay() time.Duration {
	if e.KeyDelay != nil {
		return e.KeyDelay()
	}
	return 40*time.Millisecond + time.Duration(rand.Int64N(int64(80*time.Millisecond)))
}

func (e *Executor) pause(d time.Duration) {
	if d <= 0 {
		return
	}
	if e.Sleep != nil {
		e.Sleep(d)
		return
	}
	time.Sleep(d)
}
