package gate

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quailyquaily/screenbridge/action"
	"github.com/quailyquaily/screenbridge/bridge"
)

const (
	defaultPollInterval     = 500 * time.Millisecond
	defaultPollTimeout      = 300 * time.Second
	defaultAllowAllDuration = 30 * time.Minute
)

// Broker is the slice of the bridge client the gate needs.
type Broker interface {
	RegisterPermission(ctx context.Context, req bridge.PermissionRequest) (string, string, error)
	PollDecision(ctx context.Context, taskID string) (bridge.DecisionResult, error)
}

// Result is what Request resolves to. EditData is only set for "edit"
// decisions that carried a modified payload.
type Result struct {
	Decision bridge.PermissionDecision
	EditData json.RawMessage
}

// Gate sits between proposed screen actions and their execution. Every
// proposal either short-circuits locally (skip list, blanket window) or
// rides a broker round-trip: register, then poll until the remote UI
// decides or the wait budget runs out. Request never returns an error:
// every failure path collapses to a decision, so the caller's pipeline
// cannot stall on an unreachable broker.
type Gate struct {
	Broker Broker
	Log    *slog.Logger

	// PollInterval is the decision poll cadence (default 500ms).
	PollInterval time.Duration
	// PollTimeout bounds the whole wait for one request (default 300s).
	PollTimeout time.Duration
	// AllowAllDuration is the window opened by an allow_all decision
	// (default 30m).
	AllowAllDuration time.Duration

	// Now and Sleep are injectable for tests; nil means real time.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration)

	mu        sync.Mutex
	skipTypes map[string]bool
	window    *bridge.AllowAllWindow
}

func New(broker Broker, log *slog.Logger) *Gate {
	return &Gate{
		Broker:           broker,
		Log:              log,
		PollInterval:     defaultPollInterval,
		PollTimeout:      defaultPollTimeout,
		AllowAllDuration: defaultAllowAllDuration,
		skipTypes:        make(map[string]bool),
		window:           bridge.NewAllowAllWindow(),
	}
}

// Request resolves one proposal to a decision.
//
// Steps 1 and 2 are pure local checks with zero latency; only step 3
// onward touches the network, and any transport failure there resolves
// fail-closed as "stop": an unreviewed action is never allowed through
// because the reviewer was unreachable.
func (g *Gate) Request(ctx context.Context, proposal action.Proposal, taskID string) Result {
	actionType := strings.TrimSpace(string(proposal.Action))

	// 1. Skip list: resolved locally, the broker never hears about it.
	if g.isSkipType(actionType) {
		if g.Log != nil {
			g.Log.Info("gate_skip_type", "action_type", actionType)
		}
		return Result{Decision: bridge.DecisionSkip}
	}

	// 2. Local blanket window, lazily re-checked against the clock.
	if g.window.Active() {
		if g.Log != nil {
			g.Log.Info("gate_auto_allow", "remaining", g.window.RemainingString(), "description", proposal.Description)
		}
		return Result{Decision: bridge.DecisionAllow}
	}

	// 3. Register with the broker.
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		taskID = "perm-" + uuid.NewString()[:8]
	}
	req := bridge.PermissionRequest{
		TaskID:      taskID,
		ActionType:  actionType,
		Description: proposal.Description,
		X:           proposal.X,
		Y:           proposal.Y,
		Text:        proposal.Text,
		Confidence:  proposal.Confidence,
	}
	if g.Broker == nil {
		return Result{Decision: bridge.DecisionStop}
	}
	id, status, err := g.Broker.RegisterPermission(ctx, req)
	if err != nil {
		if g.Log != nil {
			g.Log.Error("gate_bridge_unreachable", "error", err.Error())
		}
		return Result{Decision: bridge.DecisionStop}
	}
	if id != "" {
		taskID = id
	}
	if status == bridge.RegisterAutoAllowed {
		// The broker-side window was open; the decision is already stored.
		if g.Log != nil {
			g.Log.Info("gate_auto_allowed_by_bridge", "task_id", taskID)
		}
		return Result{Decision: bridge.DecisionAllow}
	}

	// 4. Poll until decided or the wait budget runs out.
	return g.pollForDecision(ctx, taskID)
}

func (g *Gate) pollForDecision(ctx context.Context, taskID string) Result {
	interval := g.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	timeout := g.PollTimeout
	if timeout <= 0 {
		timeout = defaultPollTimeout
	}
	deadline := g.clock()().Add(timeout)

	for {
		if ctx.Err() != nil {
			return Result{Decision: bridge.DecisionStop}
		}
		if !g.clock()().Before(deadline) {
			if g.Log != nil {
				g.Log.Warn("gate_poll_timeout", "task_id", taskID, "timeout", timeout.String())
			}
			return Result{Decision: bridge.DecisionStop}
		}

		res, err := g.Broker.PollDecision(ctx, taskID)
		if err != nil {
			// Transient poll failures are retried until the deadline.
			g.wait(ctx, interval)
			continue
		}

		switch res.Decision {
		case bridge.DecisionPending:
			g.wait(ctx, interval)
		case bridge.DecisionNotFound:
			// The broker lost the entry (restart, eviction); nobody will
			// ever decide it, so fail closed rather than spin.
			if g.Log != nil {
				g.Log.Warn("gate_request_lost", "task_id", taskID)
			}
			return Result{Decision: bridge.DecisionStop}
		case bridge.DecisionAllowAll:
			g.window.Set(g.allowAllDuration())
			if g.Log != nil {
				g.Log.Info("gate_allow_all_activated", "duration", g.allowAllDuration().String())
			}
			// The triggering request is honored even though the blanket
			// window only starts now.
			return Result{Decision: bridge.DecisionAllow}
		default:
			if g.Log != nil {
				g.Log.Info("gate_decision", "task_id", taskID, "decision", string(res.Decision))
			}
			return Result{Decision: res.Decision, EditData: res.EditData}
		}
	}
}

// SetAllowAll opens the local blanket window for the given number of
// minutes (<= 0 uses the default duration).
func (g *Gate) SetAllowAll(minutes int) {
	d := time.Duration(minutes) * time.Minute
	if d <= 0 {
		d = g.allowAllDuration()
	}
	g.window.Set(d)
	if g.Log != nil {
		g.Log.Info("gate_allow_all_set", "duration", d.String())
	}
}

// RevokeAllowAll closes the local blanket window immediately.
func (g *Gate) RevokeAllowAll() {
	g.window.Revoke()
	if g.Log != nil {
		g.Log.Info("gate_allow_all_revoked")
	}
}

// IsAllowAllActive reports the effective window state (lazy expiry).
func (g *Gate) IsAllowAllActive() bool { return g.window.Active() }

// TimeRemaining renders the window's remaining time, "inactive" when closed.
func (g *Gate) TimeRemaining() string { return g.window.RemainingString() }

// AddSkipType marks an action type as auto-skipped without a broker call.
func (g *Gate) AddSkipType(actionType string) {
	actionType = strings.TrimSpace(actionType)
	if actionType == "" {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.skipTypes[actionType] = true
}

// RemoveSkipType removes an action type from the skip list.
func (g *Gate) RemoveSkipType(actionType string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.skipTypes, strings.TrimSpace(actionType))
}

// SkipTypes returns the current skip list, sorted.
func (g *Gate) SkipTypes() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.skipTypes))
	for t := range g.skipTypes {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (g *Gate) isSkipType(actionType string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.skipTypes[actionType]
}

func (g *Gate) allowAllDuration() time.Duration {
	if g.AllowAllDuration > 0 {
		return g.AllowAllDuration
	}
	return defaultAllowAllDuration
}

func (g *Gate) clock() func() time.Time {
	if g.Now == nil {
		return time.Now
	}
	return g.Now
}

func (g *Gate) wait(ctx context.Context, d time.Duration) {
	if g.Sleep != nil {
		g.Sleep(ctx, d)
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
