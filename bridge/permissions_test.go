package bridge

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func newTestQueue(t *testing.T) *PermissionQueue {
	t.Helper()
	q := NewPermissionQueue(nil)
	t.Cleanup(q.Close)
	return q
}

func TestPermissionLifecycle(t *testing.T) {
	q := newTestQueue(t)

	id, status, err := q.Register(PermissionRequest{ActionType: "click", Description: "open inbox"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if status != RegisterQueued {
		t.Fatalf("status = %q, want queued", status)
	}
	if id == "" {
		t.Fatal("Register returned empty task id")
	}

	pending := q.Pending()
	if len(pending) != 1 || pending[0].TaskID != id {
		t.Fatalf("Pending() = %+v, want the registered request", pending)
	}

	if res := q.Decision(id); res.Decision != DecisionPending {
		t.Fatalf("Decision before decide = %q, want pending", res.Decision)
	}

	if err := q.Decide(id, DecisionAllow, nil); err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if res := q.Decision(id); res.Decision != DecisionAllow {
		t.Fatalf("Decision after decide = %q, want allow", res.Decision)
	}
	if got := q.Pending(); len(got) != 0 {
		t.Fatalf("Pending() after decide = %+v, want empty", got)
	}
}

func TestPermissionDecideErrors(t *testing.T) {
	q := newTestQueue(t)

	if err := q.Decide("perm-missing", DecisionAllow, nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Decide unknown id = %v, want ErrNotFound", err)
	}

	id, _, err := q.Register(PermissionRequest{ActionType: "click"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := q.Decide(id, "shrug", nil); err == nil {
		t.Fatal("Decide accepted an invalid decision")
	}
	if err := q.Decide(id, DecisionPending, nil); err == nil {
		t.Fatal("Decide accepted pending as an operator decision")
	}

	if err := q.Decide(id, DecisionSkip, nil); err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if err := q.Decide(id, DecisionAllow, nil); !errors.Is(err, ErrAlreadyDecided) {
		t.Fatalf("second Decide = %v, want ErrAlreadyDecided", err)
	}
	// The first decision stays.
	if res := q.Decision(id); res.Decision != DecisionSkip {
		t.Fatalf("Decision = %q after rejected re-decide, want skip", res.Decision)
	}
}

func TestPermissionEditDataRoundTrip(t *testing.T) {
	q := newTestQueue(t)

	id, _, err := q.Register(PermissionRequest{ActionType: "type", Text: "helo"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	edit := json.RawMessage(`{"action":"type","text":"hello"}`)
	if err := q.Decide(id, DecisionEdit, edit); err != nil {
		t.Fatalf("Decide: %v", err)
	}
	res := q.Decision(id)
	if res.Decision != DecisionEdit {
		t.Fatalf("Decision = %q, want edit", res.Decision)
	}
	if string(res.EditData) != string(edit) {
		t.Fatalf("EditData = %s, want %s", res.EditData, edit)
	}
}

func TestPermissionUnknownIDIsNotFound(t *testing.T) {
	q := newTestQueue(t)
	if res := q.Decision("perm-nope"); res.Decision != DecisionNotFound {
		t.Fatalf("Decision = %q, want not_found", res.Decision)
	}
}

func TestPermissionIdempotentReRegistration(t *testing.T) {
	q := newTestQueue(t)

	id, _, err := q.Register(PermissionRequest{TaskID: "perm-fixed", ActionType: "click"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if id != "perm-fixed" {
		t.Fatalf("Register rewrote the task id to %q", id)
	}

	// Re-registering while pending keeps the entry and reports queued.
	id2, status, err := q.Register(PermissionRequest{TaskID: "perm-fixed", ActionType: "click"})
	if err != nil {
		t.Fatalf("re-Register: %v", err)
	}
	if id2 != id || status != RegisterQueued {
		t.Fatalf("re-Register = (%q, %q), want (%q, queued)", id2, status, id)
	}
	if pending := q.Pending(); len(pending) != 1 {
		t.Fatalf("re-registration duplicated the entry: %+v", pending)
	}

	// After an allow decision, re-registration reports auto_allowed so a
	// retrying proposer does not queue a second review.
	if err := q.Decide(id, DecisionAllow, nil); err != nil {
		t.Fatalf("Decide: %v", err)
	}
	_, status, err = q.Register(PermissionRequest{TaskID: "perm-fixed", ActionType: "click"})
	if err != nil {
		t.Fatalf("re-Register after decide: %v", err)
	}
	if status != RegisterAutoAllowed {
		t.Fatalf("status after allow = %q, want auto_allowed", status)
	}
}

func TestPermissionAutoAllowDuringWindow(t *testing.T) {
	q := newTestQueue(t)
	q.Window().Set(30 * time.Minute)

	id, status, err := q.Register(PermissionRequest{ActionType: "click"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if status != RegisterAutoAllowed {
		t.Fatalf("status = %q during window, want auto_allowed", status)
	}
	if res := q.Decision(id); res.Decision != DecisionAllow {
		t.Fatalf("Decision = %q, want allow", res.Decision)
	}
	if pending := q.Pending(); len(pending) != 0 {
		t.Fatalf("auto-allowed request surfaced in pending: %+v", pending)
	}
}

func TestPermissionRegisterRequiresActionType(t *testing.T) {
	q := newTestQueue(t)
	if _, _, err := q.Register(PermissionRequest{Description: "no type"}); err == nil {
		t.Fatal("Register accepted a request without action_type")
	}
}

func TestPermissionPendingOrderedOldestFirst(t *testing.T) {
	q := newTestQueue(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	now := base
	q.Now = func() time.Time { return now }

	now = base.Add(2 * time.Minute)
	if _, _, err := q.Register(PermissionRequest{TaskID: "perm-b", ActionType: "click"}); err != nil {
		t.Fatal(err)
	}
	now = base
	if _, _, err := q.Register(PermissionRequest{TaskID: "perm-a", ActionType: "scroll"}); err != nil {
		t.Fatal(err)
	}

	pending := q.Pending()
	if len(pending) != 2 || pending[0].TaskID != "perm-a" || pending[1].TaskID != "perm-b" {
		t.Fatalf("Pending() order = %+v, want perm-a then perm-b", pending)
	}
}

func TestPermissionEviction(t *testing.T) {
	q := newTestQueue(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	now := base
	q.Now = func() time.Time { return now }
	q.SetTTLs(30*time.Minute, 10*time.Minute)

	decidedID, _, err := q.Register(PermissionRequest{ActionType: "click"})
	if err != nil {
		t.Fatal(err)
	}
	if err := q.Decide(decidedID, DecisionAllow, nil); err != nil {
		t.Fatal(err)
	}
	orphanID, _, err := q.Register(PermissionRequest{ActionType: "type", Text: "x"})
	if err != nil {
		t.Fatal(err)
	}

	// Inside both horizons nothing is dropped.
	now = base.Add(9 * time.Minute)
	q.evictExpired()
	if p, d := q.Counts(); p != 1 || d != 1 {
		t.Fatalf("Counts() = (%d, %d) before horizons, want (1, 1)", p, d)
	}

	// Past the pending horizon the orphan goes, the decided entry stays.
	now = base.Add(11 * time.Minute)
	q.evictExpired()
	if res := q.Decision(orphanID); res.Decision != DecisionNotFound {
		t.Fatalf("orphan still present: %q", res.Decision)
	}
	if res := q.Decision(decidedID); res.Decision != DecisionAllow {
		t.Fatalf("decided entry dropped early: %q", res.Decision)
	}

	// Past the decided horizon everything is gone.
	now = base.Add(31 * time.Minute)
	q.evictExpired()
	if p, d := q.Counts(); p != 0 || d != 0 {
		t.Fatalf("Counts() = (%d, %d) after horizons, want (0, 0)", p, d)
	}
}
