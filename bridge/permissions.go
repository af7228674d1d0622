package bridge

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	defaultDecidedTTL = 30 * time.Minute
	defaultPendingTTL = 10 * time.Minute
)

type permissionRecord struct {
	req       PermissionRequest
	status    Status
	decision  PermissionDecision
	editData  json.RawMessage
	decidedAt time.Time
}

// PermissionQueue is the in-memory action-permission queue. All proposer
// processes and the remote UI rendezvous here, so every map access goes
// through one RWMutex; callers only ever see copies of the stored records.
type PermissionQueue struct {
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time

	mu     sync.RWMutex
	reqs   map[string]*permissionRecord
	window *AllowAllWindow
	log    *slog.Logger

	done      chan struct{}
	closeOnce sync.Once

	decidedTTL time.Duration
	pendingTTL time.Duration
}

func NewPermissionQueue(log *slog.Logger) *PermissionQueue {
	q := &PermissionQueue{
		reqs:       make(map[string]*permissionRecord),
		window:     NewAllowAllWindow(),
		log:        log,
		done:       make(chan struct{}),
		decidedTTL: defaultDecidedTTL,
		pendingTTL: defaultPendingTTL,
	}
	go q.evictLoop()
	return q
}

// SetTTLs overrides the eviction horizons. Zero keeps the default.
func (q *PermissionQueue) SetTTLs(decided, pending time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if decided > 0 {
		q.decidedTTL = decided
	}
	if pending > 0 {
		q.pendingTTL = pending
	}
}

// Window exposes the broker-side blanket-approval window.
func (q *PermissionQueue) Window() *AllowAllWindow { return q.window }

// Close stops the evict loop.
func (q *PermissionQueue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}

// Register stores a new pending request and returns its task id plus the
// registration status. When the blanket window is active at registration
// time the entry is stored already decided as "allow" and never surfaces in
// pending listings: proposers that have not yet learned the window is open
// get their approval without bothering the remote UI.
func (q *PermissionQueue) Register(req PermissionRequest) (string, string, error) {
	req.normalize()
	if req.ActionType == "" {
		return "", "", fmt.Errorf("missing action_type")
	}
	if req.TaskID == "" {
		req.TaskID = "perm-" + uuid.NewString()[:8]
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock()()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}

	if existing, ok := q.reqs[req.TaskID]; ok {
		// Idempotent re-registration: keep the stored entry, report its state.
		status := RegisterQueued
		if existing.status == StatusDecided && existing.decision == DecisionAllow {
			status = RegisterAutoAllowed
		}
		return req.TaskID, status, nil
	}

	rec := &permissionRecord{req: req, status: StatusPending, decision: DecisionPending}
	status := RegisterQueued
	if q.window.Active() {
		rec.status = StatusDecided
		rec.decision = DecisionAllow
		rec.decidedAt = now
		status = RegisterAutoAllowed
	}
	q.reqs[req.TaskID] = rec

	if q.log != nil {
		q.log.Info("permission_registered",
			"task_id", req.TaskID,
			"action_type", req.ActionType,
			"status", status,
		)
	}
	return req.TaskID, status, nil
}

// Pending returns undecided requests, oldest first: the ordering a human
// reviewing a backlog wants.
func (q *PermissionQueue) Pending() []PermissionRequest {
	q.mu.RLock()
	defer q.mu.RUnlock()

	out := make([]PermissionRequest, 0, len(q.reqs))
	for _, rec := range q.reqs {
		if rec.status != StatusPending {
			continue
		}
		out = append(out, rec.req)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].TaskID < out[j].TaskID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Decide records the remote UI's decision for a pending request. A request
// transitions pending → decided exactly once; later attempts fail with
// ErrAlreadyDecided and leave the first decision intact.
func (q *PermissionQueue) Decide(taskID string, decision PermissionDecision, edit json.RawMessage) error {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return fmt.Errorf("missing task_id")
	}
	if !decision.IsOperatorDecision() {
		return fmt.Errorf("invalid decision: %q", decision)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	rec, ok := q.reqs[taskID]
	if !ok {
		return ErrNotFound
	}
	if rec.status == StatusDecided {
		return ErrAlreadyDecided
	}
	rec.status = StatusDecided
	rec.decision = decision
	rec.editData = edit
	rec.decidedAt = q.clock()()

	if q.log != nil {
		q.log.Info("permission_decided", "task_id", taskID, "decision", string(decision))
	}
	return nil
}

// Decision reports the current state of a task id. Unknown ids yield an
// explicit not_found result rather than an error, so pollers can always
// branch on the decision value alone.
func (q *PermissionQueue) Decision(taskID string) DecisionResult {
	taskID = strings.TrimSpace(taskID)

	q.mu.RLock()
	defer q.mu.RUnlock()

	rec, ok := q.reqs[taskID]
	if !ok {
		return DecisionResult{Decision: DecisionNotFound}
	}
	if rec.status != StatusDecided {
		return DecisionResult{Decision: DecisionPending}
	}
	return DecisionResult{Decision: rec.decision, EditData: rec.editData}
}

// Get returns a copy of the stored request and its decision state.
func (q *PermissionQueue) Get(taskID string) (PermissionRequest, DecisionResult, bool) {
	taskID = strings.TrimSpace(taskID)

	q.mu.RLock()
	defer q.mu.RUnlock()

	rec, ok := q.reqs[taskID]
	if !ok {
		return PermissionRequest{}, DecisionResult{Decision: DecisionNotFound}, false
	}
	res := DecisionResult{Decision: DecisionPending}
	if rec.status == StatusDecided {
		res = DecisionResult{Decision: rec.decision, EditData: rec.editData}
	}
	return rec.req, res, true
}

// Counts returns (pending, decided) entry counts.
func (q *PermissionQueue) Counts() (int, int) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	var pending, decided int
	for _, rec := range q.reqs {
		if rec.status == StatusDecided {
			decided++
		} else {
			pending++
		}
	}
	return pending, decided
}

// evictLoop drops decided entries a while after their decision and orphaned
// pending entries left behind by proposers that stopped polling. Without it
// the map grows unbounded in a long-running broker.
func (q *PermissionQueue) evictLoop() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-q.done:
			return
		case <-ticker.C:
			q.evictExpired()
		}
	}
}

func (q *PermissionQueue) evictExpired() {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock()()
	for id, rec := range q.reqs {
		switch rec.status {
		case StatusDecided:
			if now.Sub(rec.decidedAt) > q.decidedTTL {
				delete(q.reqs, id)
			}
		default:
			if now.Sub(rec.req.CreatedAt) > q.pendingTTL {
				delete(q.reqs, id)
				if q.log != nil {
					q.log.Warn("permission_orphan_evicted", "task_id", id)
				}
			}
		}
	}
}

func (q *PermissionQueue) clock() func() time.Time {
	if q.Now == nil {
		return time.Now
	}
	return q.Now
}
