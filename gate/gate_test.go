package gate

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/quailyquaily/screenbridge/action"
	"github.com/quailyquaily/screenbridge/bridge"
)

type fakeBroker struct {
	registerCalls int
	pollCalls     int

	registerStatus string
	registerErr    error

	// decisions is consumed one per poll; the last entry repeats.
	decisions []bridge.DecisionResult
	pollErr   error
}

func (f *fakeBroker) RegisterPermission(ctx context.Context, req bridge.PermissionRequest) (string, string, error) {
	f.registerCalls++
	if f.registerErr != nil {
		return "", "", f.registerErr
	}
	status := f.registerStatus
	if status == "" {
		status = bridge.RegisterQueued
	}
	return req.TaskID, status, nil
}

func (f *fakeBroker) PollDecision(ctx context.Context, taskID string) (bridge.DecisionResult, error) {
	f.pollCalls++
	if f.pollErr != nil {
		return bridge.DecisionResult{}, f.pollErr
	}
	if len(f.decisions) == 0 {
		return bridge.DecisionResult{Decision: bridge.DecisionPending}, nil
	}
	res := f.decisions[0]
	if len(f.decisions) > 1 {
		f.decisions = f.decisions[1:]
	}
	return res, nil
}

// newFastGate returns a gate wired to a fake clock that jumps one poll
// interval per Sleep, so poll loops run without real waiting.
func newFastGate(broker *fakeBroker) (*Gate, *time.Time) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	g := New(broker, nil)
	g.PollInterval = 500 * time.Millisecond
	g.PollTimeout = 10 * time.Second
	g.Now = func() time.Time { return now }
	g.Sleep = func(ctx context.Context, d time.Duration) { now = now.Add(d) }
	g.window.Now = g.Now
	return g, &now
}

func clickProposal() action.Proposal {
	x, y := 120, 340
	return action.Proposal{
		Action:      action.KindClick,
		X:           &x,
		Y:           &y,
		Description: "open inbox",
		Confidence:  0.9,
	}
}

func TestSkipTypeNeverReachesBroker(t *testing.T) {
	broker := &fakeBroker{}
	g, _ := newFastGate(broker)
	g.AddSkipType("scroll")

	res := g.Request(context.Background(), action.Proposal{Action: action.KindScroll, Direction: "down"}, "")
	if res.Decision != bridge.DecisionSkip {
		t.Fatalf("decision = %q, want skip", res.Decision)
	}
	if broker.registerCalls != 0 || broker.pollCalls != 0 {
		t.Fatalf("skip-listed action touched the broker: %d registers, %d polls",
			broker.registerCalls, broker.pollCalls)
	}

	g.RemoveSkipType("scroll")
	broker.decisions = []bridge.DecisionResult{{Decision: bridge.DecisionAllow}}
	res = g.Request(context.Background(), action.Proposal{Action: action.KindScroll, Direction: "down"}, "")
	if res.Decision != bridge.DecisionAllow || broker.registerCalls != 1 {
		t.Fatalf("after RemoveSkipType: decision %q, %d registers", res.Decision, broker.registerCalls)
	}
}

func TestPollUntilDecided(t *testing.T) {
	broker := &fakeBroker{decisions: []bridge.DecisionResult{
		{Decision: bridge.DecisionPending},
		{Decision: bridge.DecisionPending},
		{Decision: bridge.DecisionAllow},
	}}
	g, _ := newFastGate(broker)

	res := g.Request(context.Background(), clickProposal(), "perm-test1")
	if res.Decision != bridge.DecisionAllow {
		t.Fatalf("decision = %q, want allow", res.Decision)
	}
	if broker.pollCalls != 3 {
		t.Fatalf("pollCalls = %d, want 3", broker.pollCalls)
	}
}

func TestEditDecisionCarriesPayload(t *testing.T) {
	edit := json.RawMessage(`{"action":"click","x":5,"y":6}`)
	broker := &fakeBroker{decisions: []bridge.DecisionResult{
		{Decision: bridge.DecisionEdit, EditData: edit},
	}}
	g, _ := newFastGate(broker)

	res := g.Request(context.Background(), clickProposal(), "")
	if res.Decision != bridge.DecisionEdit {
		t.Fatalf("decision = %q, want edit", res.Decision)
	}
	if string(res.EditData) != string(edit) {
		t.Fatalf("EditData = %s, want %s", res.EditData, edit)
	}
}

func TestTimeoutFailsClosed(t *testing.T) {
	broker := &fakeBroker{} // polls pending forever
	g, _ := newFastGate(broker)
	g.PollTimeout = 3 * time.Second

	res := g.Request(context.Background(), clickProposal(), "")
	if res.Decision != bridge.DecisionStop {
		t.Fatalf("decision after timeout = %q, want stop", res.Decision)
	}
	if broker.pollCalls == 0 {
		t.Fatal("gate never polled before timing out")
	}
}

func TestUnreachableBrokerFailsClosed(t *testing.T) {
	broker := &fakeBroker{registerErr: errors.New("connection refused")}
	g, _ := newFastGate(broker)

	res := g.Request(context.Background(), clickProposal(), "")
	if res.Decision != bridge.DecisionStop {
		t.Fatalf("decision = %q, want stop", res.Decision)
	}
	if broker.pollCalls != 0 {
		t.Fatal("gate polled after a failed registration")
	}
}

func TestLostRequestFailsClosed(t *testing.T) {
	broker := &fakeBroker{decisions: []bridge.DecisionResult{
		{Decision: bridge.DecisionNotFound},
	}}
	g, _ := newFastGate(broker)

	res := g.Request(context.Background(), clickProposal(), "")
	if res.Decision != bridge.DecisionStop {
		t.Fatalf("decision = %q, want stop", res.Decision)
	}
	if broker.pollCalls != 1 {
		t.Fatalf("pollCalls = %d, want exactly 1 before giving up", broker.pollCalls)
	}
}

func TestCancelledContextStops(t *testing.T) {
	broker := &fakeBroker{}
	g, _ := newFastGate(broker)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := g.Request(ctx, clickProposal(), "")
	if res.Decision != bridge.DecisionStop {
		t.Fatalf("decision = %q, want stop", res.Decision)
	}
}

func TestAllowAllDecisionOpensLocalWindow(t *testing.T) {
	broker := &fakeBroker{decisions: []bridge.DecisionResult{
		{Decision: bridge.DecisionAllowAll},
	}}
	g, now := newFastGate(broker)
	g.AllowAllDuration = 30 * time.Minute

	res := g.Request(context.Background(), clickProposal(), "")
	if res.Decision != bridge.DecisionAllow {
		t.Fatalf("triggering request = %q, want allow", res.Decision)
	}
	if !g.IsAllowAllActive() {
		t.Fatal("window not active after allow_all")
	}

	// The next request resolves locally without touching the broker.
	registersBefore := broker.registerCalls
	res = g.Request(context.Background(), clickProposal(), "")
	if res.Decision != bridge.DecisionAllow {
		t.Fatalf("follow-up request = %q, want allow", res.Decision)
	}
	if broker.registerCalls != registersBefore {
		t.Fatal("follow-up request registered with the broker during the window")
	}

	// Past expiry the gate goes back to the broker.
	*now = now.Add(31 * time.Minute)
	if g.IsAllowAllActive() {
		t.Fatal("window still active past expiry")
	}
	broker.decisions = []bridge.DecisionResult{{Decision: bridge.DecisionAllow}}
	g.Request(context.Background(), clickProposal(), "")
	if broker.registerCalls != registersBefore+1 {
		t.Fatal("expired window did not fall back to broker round-trips")
	}
}

func TestBrokerAutoAllowShortCircuitsPolling(t *testing.T) {
	broker := &fakeBroker{registerStatus: bridge.RegisterAutoAllowed}
	g, _ := newFastGate(broker)

	res := g.Request(context.Background(), clickProposal(), "")
	if res.Decision != bridge.DecisionAllow {
		t.Fatalf("decision = %q, want allow", res.Decision)
	}
	if broker.pollCalls != 0 {
		t.Fatal("gate polled despite auto_allowed registration")
	}
}

func TestTransientPollErrorsAreRetried(t *testing.T) {
	broker := &fakeBroker{}
	g, _ := newFastGate(broker)
	g.PollTimeout = 5 * time.Second

	calls := 0
	failing := &flakyBroker{inner: broker, failFirst: 2, onCall: func() { calls++ }}
	g.Broker = failing
	broker.decisions = []bridge.DecisionResult{{Decision: bridge.DecisionAllow}}

	res := g.Request(context.Background(), clickProposal(), "")
	if res.Decision != bridge.DecisionAllow {
		t.Fatalf("decision = %q, want allow after retries", res.Decision)
	}
	if calls != 3 {
		t.Fatalf("poll attempts = %d, want 3 (2 failures then success)", calls)
	}
}

type flakyBroker struct {
	inner     *fakeBroker
	failFirst int
	onCall    func()
}

func (f *flakyBroker) RegisterPermission(ctx context.Context, req bridge.PermissionRequest) (string, string, error) {
	return f.inner.RegisterPermission(ctx, req)
}

func (f *flakyBroker) PollDecision(ctx context.Context, taskID string) (bridge.DecisionResult, error) {
	f.onCall()
	if f.failFirst > 0 {
		f.failFirst--
		return bridge.DecisionResult{}, errors.New("temporary network error")
	}
	return f.inner.PollDecision(ctx, taskID)
}

func TestSkipTypesSorted(t *testing.T) {
	g := New(&fakeBroker{}, nil)
	g.AddSkipType("scroll")
	g.AddSkipType("extract")
	g.AddSkipType("  ") // blank entries are ignored

	got := g.SkipTypes()
	if len(got) != 2 || got[0] != "extract" || got[1] != "scroll" {
		t.Fatalf("SkipTypes() = %v", got)
	}
}
