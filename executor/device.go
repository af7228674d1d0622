package executor

import "context"

// Device abstracts the OS input surface the executor drives. The exec-based
// implementation shells out to platform tools; tests substitute a fake that
// records events.
type Device interface {
	// MoveTo moves the pointer to (x, y).
	MoveTo(ctx context.Context, x, y int) error
	// Click clicks the primary button at (x, y).
	Click(ctx context.Context, x, y int) error
	// TypeText injects keystrokes for text. The executor calls this one
	// character at a time so it can pace keystrokes itself.
	TypeText(ctx context.Context, text string) error
	// Scroll scrolls by delta wheel clicks (positive = up, negative =
	// down), optionally positioning the pointer at (x, y) first.
	Scroll(ctx context.Context, delta int, x, y *int) error
	// PointerPosition reports the current pointer location.
	PointerPosition(ctx context.Context) (int, int, error)
	// CaptureScreen returns a PNG of the full primary screen.
	CaptureScreen(ctx context.Context) ([]byte, error)
	// CaptureRegion returns a PNG of the given bounding box.
	CaptureRegion(ctx context.Context, x, y, width, height int) ([]byte, error)
}
