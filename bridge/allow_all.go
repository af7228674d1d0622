package bridge

import (
	"fmt"
	"sync"
	"time"
)

// AllowAllWindow is the time-boxed blanket-approval override. Activation
// state is never flipped by a timer: every read recomputes it against the
// current clock, so a stale true flag with a past expiry behaves as
// inactive even if nobody touched the window in between.
type AllowAllWindow struct {
	// Now overrides the clock; nil means time.Now. Set it before first use.
	Now func() time.Time

	mu        sync.Mutex
	active    bool
	expiresAt time.Time
}

func NewAllowAllWindow() *AllowAllWindow {
	return &AllowAllWindow{}
}

// Set activates the window for d from now. A non-positive duration revokes.
func (w *AllowAllWindow) Set(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if d <= 0 {
		w.active = false
		w.expiresAt = time.Time{}
		return
	}
	w.active = true
	w.expiresAt = w.clock()().Add(d)
}

// Revoke deactivates the window immediately.
func (w *AllowAllWindow) Revoke() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.active = false
	w.expiresAt = time.Time{}
}

// Active reports the effective state, applying lazy expiry: a window past
// its expiry is revoked on the spot and reported inactive.
func (w *AllowAllWindow) Active() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.activeLocked()
}

// Remaining returns the time left, zero when inactive.
func (w *AllowAllWindow) Remaining() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.activeLocked() {
		return 0
	}
	return w.expiresAt.Sub(w.clock()())
}

// ExpiresAt returns the expiry instant and whether the window is active.
func (w *AllowAllWindow) ExpiresAt() (time.Time, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.activeLocked() {
		return time.Time{}, false
	}
	return w.expiresAt, true
}

// RemainingString renders the time left as "3m 42s", or "inactive".
func (w *AllowAllWindow) RemainingString() string {
	rem := w.Remaining()
	if rem <= 0 {
		return "inactive"
	}
	secs := int(rem.Seconds())
	return fmt.Sprintf("%dm %ds", secs/60, secs%60)
}

func (w *AllowAllWindow) activeLocked() bool {
	if !w.active {
		return false
	}
	if w.clock()().Before(w.expiresAt) {
		return true
	}
	// Expired: revoke in place.
	w.active = false
	w.expiresAt = time.Time{}
	return false
}

func (w *AllowAllWindow) clock() func() time.Time {
	if w.Now == nil {
		return time.Now
	}
	return w.Now
}
